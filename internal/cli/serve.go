package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/neoclaw-ai/msgbridge/internal/bridge"
	"github.com/neoclaw-ai/msgbridge/internal/cache"
	"github.com/neoclaw-ai/msgbridge/internal/channel"
	"github.com/neoclaw-ai/msgbridge/internal/commands"
	"github.com/neoclaw-ai/msgbridge/internal/config"
	"github.com/neoclaw-ai/msgbridge/internal/gate"
	"github.com/neoclaw-ai/msgbridge/internal/logging"
	"github.com/neoclaw-ai/msgbridge/internal/loop"
	"github.com/neoclaw-ai/msgbridge/internal/messaging"
	"github.com/neoclaw-ai/msgbridge/internal/metrics"
	"github.com/neoclaw-ai/msgbridge/internal/sim"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(st *state) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge with the simulated SDK",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := st.cfg
			if listen != "" {
				cfg.Channel.Listen = listen
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			srv, err := newServer(cfg)
			if err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return srv.Run(runCtx)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (overrides channel.listen)")
	return cmd
}

// server is the composed bridge process.
type server struct {
	cfg      *config.Config
	loop     *loop.Loop
	cache    *cache.Cache
	metrics  *metrics.Metrics
	endpoint *channel.Endpoint
	bridge   *bridge.Bridge
	sdk      *sim.SDK
	handler  http.Handler

	ready chan struct{}
	addr  net.Addr
}

func newServer(cfg *config.Config) (*server, error) {
	s := &server{
		cfg:   cfg,
		loop:  loop.New(cfg.Channel.QueueSize),
		cache: cache.New(),
		ready: make(chan struct{}),
	}
	if cfg.Metrics.Enabled {
		s.metrics = metrics.New()
		s.metrics.RegisterCacheSize(s.cache.Len)
	}

	var (
		resolver messaging.Resolver = messaging.ResolverFunc(func(messaging.Presentable) (messaging.Message, bool) { return nil, false })
		sdk      messaging.SDK
	)
	if cfg.Simulator.Enabled {
		s.sdk = sim.New(sim.Options{
			MessagesPath:     cfg.MessagesPath(),
			ActivityPath:     cfg.ActivityPath(),
			ExtensionVersion: cfg.Simulator.ExtensionVersion,
		})
		resolver = s.sdk
		sdk = s.sdk
	}

	router := commands.NewRouter(s.cache, sdk, s.metrics)
	s.endpoint = channel.NewEndpoint(cfg.Channel.Name, s.loop, router, channel.WithWriteTimeout(cfg.Channel.WriteTimeout))
	b, err := bridge.New(bridge.Options{
		Loop:        s.loop,
		Channel:     s.endpoint,
		Gate:        gate.New(s.loop, s.endpoint, cfg.Gate.Timeout, s.metrics),
		Cache:       s.cache,
		Resolver:    resolver,
		SaveDefault: cfg.Gate.SaveDefault,
		ShowDefault: cfg.Gate.ShowDefault,
		Metrics:     s.metrics,
	})
	if err != nil {
		return nil, err
	}
	s.bridge = b
	if s.sdk != nil {
		s.sdk.SetDelegate(b)
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.Channel.Path, s.endpoint)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.metrics != nil {
		mux.Handle(cfg.Metrics.Path, s.metrics.Handler())
	}
	if s.sdk != nil {
		mux.HandleFunc("POST /simulator/trigger/{id}", s.handleTrigger)
	}
	s.handler = mux
	return s, nil
}

// Run serves until ctx is done, then shuts down the simulator, the runtime connection, and the listener.
func (s *server) Run(ctx context.Context) error {
	loopCtx, cancelLoop := context.WithCancel(context.Background())
	defer func() {
		cancelLoop()
		s.loop.Wait()
	}()
	if err := s.loop.Start(loopCtx); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", s.cfg.Channel.Listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Channel.Listen, err)
	}
	httpServer := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	if s.sdk != nil {
		if err := s.sdk.Start(ctx); err != nil {
			_ = httpServer.Close()
			return err
		}
	}
	s.addr = ln.Addr()
	close(s.ready)
	logging.Logger().Info(
		"bridge listening",
		"addr", ln.Addr().String(),
		"channel", s.cfg.Channel.Name,
		"path", s.cfg.Channel.Path,
		"gate_timeout", s.cfg.Gate.Timeout,
		"simulator", s.sdk != nil,
	)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
	}
	return errors.Join(runErr, s.shutdown(httpServer))
}

func (s *server) shutdown(httpServer *http.Server) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if s.sdk != nil {
		if err := s.sdk.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("stop simulator: %w", err))
		}
	}
	if err := s.endpoint.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close channel: %w", err))
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown http: %w", err))
	}
	if err := drainLoop(shutdownCtx, s.loop); err != nil {
		errs = append(errs, fmt.Errorf("drain channel loop: %w", err))
	}
	logging.Logger().Info("bridge stopped")
	return errors.Join(errs...)
}

// drainLoop lets queued channel work finish until ctx is done, then drops whatever is still queued.
func drainLoop(ctx context.Context, l *loop.Loop) error {
	err := l.WaitUntilIdle(ctx)
	if err != nil {
		l.Stop()
		logging.Logger().Warn("dropped queued channel work at shutdown", "err", err)
	}
	return err
}

type healthResponse struct {
	Status           string `json:"status"`
	RuntimeConnected bool   `json:"runtime_connected"`
	CachedMessages   int    `json:"cached_messages"`
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:           "ok",
		RuntimeConnected: s.endpoint.Connected(),
		CachedMessages:   s.cache.Len(),
	})
}

type triggerResponse struct {
	ID    string `json:"id"`
	Shown bool   `json:"shown"`
}

func (s *server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	shown, err := s.sdk.Trigger(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, triggerResponse{ID: id, Shown: shown})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Logger().Warn("write response failed", "err", err)
	}
}
