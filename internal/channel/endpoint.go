package channel

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/neoclaw-ai/msgbridge/internal/logging"
	"github.com/neoclaw-ai/msgbridge/internal/loop"
)

// Endpoint is the bridge side of the channel. It accepts one runtime peer at a
// time over WebSocket; a new peer replaces the current one.
type Endpoint struct {
	name         string
	loop         *loop.Loop
	handler      CallHandler
	upgrader     websocket.Upgrader
	writeTimeout time.Duration

	// active is owned by the loop.
	active    *conn
	connected atomic.Bool
}

// EndpointOption customizes an Endpoint.
type EndpointOption func(*Endpoint)

// WithWriteTimeout bounds each frame write.
func WithWriteTimeout(d time.Duration) EndpointOption {
	return func(e *Endpoint) {
		e.writeTimeout = d
	}
}

// WithCheckOrigin overrides the upgrader origin check.
func WithCheckOrigin(fn func(r *http.Request) bool) EndpointOption {
	return func(e *Endpoint) {
		e.upgrader.CheckOrigin = fn
	}
}

// NewEndpoint creates an endpoint named name whose inbound calls are answered by h on l.
func NewEndpoint(name string, l *loop.Loop, h CallHandler, opts ...EndpointOption) *Endpoint {
	e := &Endpoint{
		name:         name,
		loop:         l,
		handler:      h,
		writeTimeout: defaultWriteTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name returns the channel name.
func (e *Endpoint) Name() string {
	return e.name
}

// Connected reports whether a runtime peer is attached.
func (e *Endpoint) Connected() bool {
	return e.connected.Load()
}

// ServeHTTP upgrades the request and serves the peer until it disconnects.
func (e *Endpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := e.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Logger().Warn("channel upgrade failed", "channel", e.name, "remote", r.RemoteAddr, "err", err)
		return
	}
	c := newConn(ws, e.loop, e.handler, e.writeTimeout)
	if err := e.loop.Post(func(context.Context) { e.attach(c) }); err != nil {
		logging.Logger().Warn("channel attach failed", "channel", e.name, "err", err)
		_ = ws.Close()
		return
	}
	logging.Logger().Info("runtime connected", "channel", e.name, "remote", r.RemoteAddr)

	err = c.readPump()
	logging.Logger().Info("runtime disconnected", "channel", e.name, "remote", r.RemoteAddr, "err", err)

	if postErr := e.loop.Post(func(context.Context) { e.detach(c) }); postErr != nil {
		_ = ws.Close()
	}
}

// InvokeMethod sends a call to the attached peer. It must run on the loop.
// Without a peer the reply is "not implemented", as with an unregistered handler.
func (e *Endpoint) InvokeMethod(method string, args any, reply ReplyFunc) CancelFunc {
	if e.active == nil {
		if reply != nil {
			reply(Reply{NotImplemented: true})
		}
		return noopCancel
	}
	return e.active.invoke(method, args, reply)
}

// Close detaches the current peer and fails its outstanding calls.
func (e *Endpoint) Close() error {
	return e.loop.Post(func(context.Context) {
		if e.active != nil {
			e.detach(e.active)
		}
	})
}

func (e *Endpoint) attach(c *conn) {
	if e.active != nil {
		logging.Logger().Info("replacing runtime peer", "channel", e.name)
		e.active.close()
	}
	e.active = c
	e.connected.Store(true)
}

func (e *Endpoint) detach(c *conn) {
	c.close()
	if e.active == c {
		e.active = nil
		e.connected.Store(false)
	}
}
