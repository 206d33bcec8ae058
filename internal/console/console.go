// Package console is an interactive stand-in for the embedded runtime. It dials the bridge,
// answers gating questions per policy, prints lifecycle notifications, and sends commands typed at a prompt.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/neoclaw-ai/msgbridge/internal/channel"
	"github.com/neoclaw-ai/msgbridge/internal/logging"
	"github.com/neoclaw-ai/msgbridge/internal/loop"
)

const (
	defaultCallTimeout  = 5 * time.Second
	defaultQueueSize    = 64
	initialReconnectGap = 200 * time.Millisecond
	defaultReconnectMax = 30 * time.Second
)

// Options configures a Console.
type Options struct {
	URL          string
	SavePolicy   string
	ShowPolicy   string
	ReconnectMax time.Duration
	QueueSize    int
	WriteTimeout time.Duration
	// CallTimeout bounds waiting for a connection plus the reply to one command.
	CallTimeout time.Duration
	// HistoryFile is used by the readline prompt when stdin is a terminal.
	HistoryFile string
}

// Console runs the runtime side of the channel.
type Console struct {
	opts      Options
	out       *printer
	responder *responder
	loop      *loop.Loop

	mu        sync.Mutex
	peer      *channel.Peer
	connected chan struct{}
}

// New creates a console writing to out.
func New(opts Options, out io.Writer) *Console {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = defaultCallTimeout
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.ReconnectMax <= 0 {
		opts.ReconnectMax = defaultReconnectMax
	}
	p := &printer{w: out}
	return &Console{
		opts:      opts,
		out:       p,
		responder: newResponder(p, opts.SavePolicy, opts.ShowPolicy),
		loop:      loop.New(opts.QueueSize),
		connected: make(chan struct{}),
	}
}

// Run connects in the background and reads commands from in until EOF, quit, or ctx is done.
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := c.loop.Start(ctx); err != nil {
		return err
	}
	maintained := make(chan struct{})
	go func() {
		defer close(maintained)
		c.maintain(ctx)
	}()
	defer func() {
		cancel()
		<-maintained
		c.loop.Wait()
	}()

	input := newPromptInput(in, c.out, c.opts.HistoryFile)
	defer input.Close()

	c.out.printf("msgbridge console. Bridge at %s. Type help for commands.\n", c.opts.URL)
	lines := make(chan inputEvent)
	go readInputLoop(ctx, input, lines)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-lines:
			if !ok {
				return nil
			}
			if event.err != nil {
				if errors.Is(event.err, io.EOF) || errors.Is(event.err, context.Canceled) {
					return nil
				}
				return event.err
			}
			line := strings.TrimSpace(event.line)
			if line == "" {
				continue
			}
			quit, err := c.execute(ctx, line)
			if err != nil {
				c.out.printf("error: %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

func (c *Console) execute(ctx context.Context, line string) (quit bool, err error) {
	cmd, err := parseLine(line)
	if err != nil {
		return false, err
	}
	switch cmd.kind {
	case kindHelp:
		c.out.printf("%s\n", helpText)
	case kindQuit:
		return true, nil
	case kindPolicy:
		c.responder.setPolicy(cmd.question, cmd.policy)
		c.out.printf("%s -> %s\n", cmd.question, cmd.policy)
	case kindStatus:
		state := "disconnected"
		if c.currentPeer() != nil {
			state = "connected"
		}
		c.out.printf("%s to %s; save=%s show=%s\n", state, c.opts.URL,
			c.responder.policy(channel.MethodShouldSaveMessage),
			c.responder.policy(channel.MethodShouldShowMessage))
	case kindRemote:
		reply, err := c.call(ctx, cmd.method, cmd.args)
		if err != nil {
			return false, err
		}
		c.out.printf("%s\n", formatReply(cmd.method, reply))
	}
	return false, nil
}

func (c *Console) call(ctx context.Context, method string, args map[string]any) (channel.Reply, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
	defer cancel()

	peer, err := c.awaitPeer(callCtx)
	if err != nil {
		return channel.Reply{}, fmt.Errorf("not connected to %s: %w", c.opts.URL, err)
	}
	var payload any
	if args != nil {
		payload = args
	}
	return peer.Call(callCtx, method, payload)
}

// maintain keeps one connection to the bridge open until ctx is done.
func (c *Console) maintain(ctx context.Context) {
	for {
		peer, err := c.connect(ctx)
		if err != nil {
			return
		}
		c.setPeer(peer)
		c.out.printf("connected to %s\n", c.opts.URL)

		select {
		case <-peer.Done():
			c.setPeer(nil)
			c.out.printf("disconnected: %v\n", peer.Err())
		case <-ctx.Done():
			_ = peer.Close()
			<-peer.Done()
			c.setPeer(nil)
			return
		}
	}
}

func (c *Console) connect(ctx context.Context) (*channel.Peer, error) {
	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(initialReconnectGap),
		backoff.WithMaxInterval(c.opts.ReconnectMax),
		backoff.WithMaxElapsedTime(0),
	)
	return backoff.RetryNotifyWithData(
		func() (*channel.Peer, error) {
			return channel.Dial(ctx, c.opts.URL, c.loop, c.responder, c.opts.WriteTimeout)
		},
		backoff.WithContext(b, ctx),
		func(err error, wait time.Duration) {
			logging.Logger().Debug("bridge unreachable; retrying", "url", c.opts.URL, "wait", wait, "err", err)
		},
	)
}

func (c *Console) setPeer(p *channel.Peer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.peer = p
	if p != nil {
		close(c.connected)
		return
	}
	c.connected = make(chan struct{})
}

func (c *Console) currentPeer() *channel.Peer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peer
}

func (c *Console) awaitPeer(ctx context.Context) (*channel.Peer, error) {
	for {
		c.mu.Lock()
		peer, connected := c.peer, c.connected
		c.mu.Unlock()
		if peer != nil {
			return peer, nil
		}
		select {
		case <-connected:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
