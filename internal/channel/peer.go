package channel

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/neoclaw-ai/msgbridge/internal/loop"
)

// Peer is the runtime side of the channel, dialing a bridge Endpoint.
type Peer struct {
	conn *conn
	loop *loop.Loop
	done chan struct{}
	err  error
}

// Dial connects to the endpoint at url. Inbound calls are answered by h on l.
func Dial(ctx context.Context, url string, l *loop.Loop, h CallHandler, writeTimeout time.Duration) (*Peer, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	p := &Peer{
		conn: newConn(ws, l, h, writeTimeout),
		loop: l,
		done: make(chan struct{}),
	}
	go func() {
		defer close(p.done)
		p.err = p.conn.readPump()
		if postErr := l.Post(func(context.Context) { p.conn.close() }); postErr != nil {
			_ = ws.Close()
		}
	}()
	return p, nil
}

// InvokeMethod sends a call to the bridge. It must run on the loop.
func (p *Peer) InvokeMethod(method string, args any, reply ReplyFunc) CancelFunc {
	return p.conn.invoke(method, args, reply)
}

// Call invokes method from outside the loop and waits for its reply.
func (p *Peer) Call(ctx context.Context, method string, args any) (Reply, error) {
	if loop.OnLoop(ctx) {
		return Reply{}, fmt.Errorf("call %s: cannot wait on the channel loop", method)
	}
	replies := make(chan Reply, 1)
	var cancel CancelFunc
	post := func(context.Context) {
		cancel = p.conn.invoke(method, args, func(r Reply) {
			select {
			case replies <- r:
			default:
			}
		})
	}
	if err := p.loop.Post(post); err != nil {
		return Reply{}, fmt.Errorf("call %s: %w", method, err)
	}
	select {
	case r := <-replies:
		return r, nil
	case <-p.done:
		return Reply{}, fmt.Errorf("call %s: %w", method, ErrClosed)
	case <-ctx.Done():
		// post runs on the loop before this func, so cancel is set unless the loop stopped.
		_ = p.loop.Post(func(context.Context) {
			if cancel != nil {
				cancel()
			}
		})
		return Reply{}, ctx.Err()
	}
}

// Notify sends a fire-and-forget invocation from outside the loop.
func (p *Peer) Notify(method string, args any) error {
	return p.loop.Post(func(context.Context) { _ = p.conn.invoke(method, args, nil) })
}

// Done is closed once the connection is gone.
func (p *Peer) Done() <-chan struct{} {
	return p.done
}

// Err reports why the connection ended. Valid after Done is closed.
func (p *Peer) Err() error {
	return p.err
}

// Close closes the socket; Done is closed once the reader exits.
func (p *Peer) Close() error {
	return p.conn.ws.Close()
}
