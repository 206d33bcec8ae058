package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/neoclaw-ai/msgbridge/internal/logging"
	"github.com/neoclaw-ai/msgbridge/internal/loop"
)

const defaultWriteTimeout = 5 * time.Second

// conn is one WebSocket connection speaking the frame protocol.
// Every field except ws is owned by the loop goroutine.
type conn struct {
	ws           *websocket.Conn
	loop         *loop.Loop
	handler      CallHandler
	writeTimeout time.Duration
	pending      map[string]ReplyFunc
	closed       bool
}

func newConn(ws *websocket.Conn, l *loop.Loop, h CallHandler, writeTimeout time.Duration) *conn {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &conn{
		ws:           ws,
		loop:         l,
		handler:      h,
		writeTimeout: writeTimeout,
		pending:      make(map[string]ReplyFunc),
	}
}

// invoke writes a call frame. Runs on the loop.
func (c *conn) invoke(method string, args any, reply ReplyFunc) CancelFunc {
	if c.closed {
		if reply != nil {
			reply(closedReply(ErrClosed))
		}
		return noopCancel
	}
	raw, err := json.Marshal(args)
	if err != nil {
		logging.Logger().Error("encode call args failed", "method", method, "err", err)
		if reply != nil {
			reply(Reply{Err: &Error{Code: CodeBadArguments, Message: err.Error()}})
		}
		return noopCancel
	}

	f := frame{Kind: kindCall, Method: method, Args: raw}
	if reply != nil {
		f.ID = uuid.NewString()
		c.pending[f.ID] = reply
	}
	if err := c.write(f); err != nil {
		logging.Logger().Warn("channel write failed", "method", method, "err", err)
		if reply != nil {
			delete(c.pending, f.ID)
			reply(closedReply(err))
		}
		return noopCancel
	}
	if reply == nil {
		return noopCancel
	}
	id := f.ID
	return func() { delete(c.pending, id) }
}

// pendingCount reports outstanding calls. Runs on the loop.
func (c *conn) pendingCount() int {
	return len(c.pending)
}

// dispatch handles one inbound frame. Runs on the loop.
func (c *conn) dispatch(ctx context.Context, f frame) {
	if c.closed {
		return
	}
	switch f.Kind {
	case kindCall:
		c.handleCall(ctx, f)
	case kindResult, kindError, kindNotImplemented:
		reply, ok := c.pending[f.ID]
		if !ok {
			logging.Logger().Debug("dropping reply without pending call", "id", f.ID, "kind", f.Kind)
			return
		}
		delete(c.pending, f.ID)
		reply(f.reply())
	default:
		logging.Logger().Warn("dropping frame of unknown kind", "kind", f.Kind)
	}
}

func (c *conn) handleCall(ctx context.Context, f frame) {
	var (
		result any
		err    error
	)
	if c.handler == nil {
		err = ErrNotImplemented
	} else {
		result, err = c.handler.HandleCall(ctx, f.Method, f.Args)
	}
	if f.ID == "" || errors.Is(err, ErrNoReply) {
		if err != nil && !errors.Is(err, ErrNotImplemented) && !errors.Is(err, ErrNoReply) {
			logging.Logger().Warn("notification handler failed", "method", f.Method, "err", err)
		}
		return
	}
	if err := c.write(replyFrame(f.ID, result, err)); err != nil {
		logging.Logger().Warn("channel reply write failed", "method", f.Method, "err", err)
	}
}

func (c *conn) write(f frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// close fails every outstanding call and closes the socket. Runs on the loop.
func (c *conn) close() {
	if c.closed {
		return
	}
	c.closed = true
	pending := c.pending
	c.pending = make(map[string]ReplyFunc)
	for _, reply := range pending {
		reply(closedReply(ErrClosed))
	}
	_ = c.ws.Close()
}

// readPump reads frames until the socket fails and posts each one onto the loop.
// It must be the only reader of ws.
func (c *conn) readPump() error {
	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			return err
		}
		if msgType != websocket.TextMessage {
			continue
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			logging.Logger().Warn("dropping malformed frame", "err", err)
			continue
		}
		if err := c.loop.Post(func(ctx context.Context) { c.dispatch(ctx, f) }); err != nil {
			logging.Logger().Warn("dropping frame", "kind", f.Kind, "method", f.Method, "err", err)
			if errors.Is(err, loop.ErrStopped) || errors.Is(err, loop.ErrNotStarted) {
				return err
			}
		}
	}
}

func closedReply(err error) Reply {
	return Reply{Err: &Error{Code: CodeChannelClosed, Message: err.Error()}}
}
