// Package channel implements the asynchronous method channel between the bridge and the embedded runtime.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Methods sent by the bridge to the embedded runtime.
const (
	MethodShouldSaveMessage = "shouldSaveMessage"
	MethodShouldShowMessage = "shouldShowMessage"
	MethodOnShow            = "onShow"
	MethodOnHide            = "onHide"
	MethodOnDismiss         = "onDismiss"
	MethodOnContentLoaded   = "onContentLoaded"
	MethodURLLoaded         = "urlLoaded"
)

// Methods sent by the embedded runtime to the bridge.
const (
	MethodExtensionVersion     = "extensionVersion"
	MethodGetCachedMessages    = "getCachedMessages"
	MethodRefreshInAppMessages = "refreshInAppMessages"
	MethodClearMessage         = "clearMessage"
	MethodDismissMessage       = "dismissMessage"
	MethodSetAutoTrack         = "setAutoTrack"
	MethodShowMessage          = "showMessage"
	MethodTrackMessage         = "trackMessage"
)

// Error codes carried by structured errors.
const (
	CodeBadArguments  = "BAD_ARGUMENTS"
	CodeCacheMiss     = "CACHE_MISS"
	CodeChannelClosed = "CHANNEL_CLOSED"
	CodeInternal      = "INTERNAL"
)

var (
	// ErrNotImplemented is returned by a CallHandler for methods it does not know.
	// The caller on the other side receives a "not implemented" reply.
	ErrNotImplemented = errors.New("method not implemented")
	// ErrClosed is returned when calling over a closed connection.
	ErrClosed = errors.New("channel closed")
	// ErrNoReply is returned by a CallHandler that leaves a call unanswered.
	ErrNoReply = errors.New("no reply")
)

// Error is a structured error reply.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
	Details any    `json:"details,omitempty"`
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Reply is the outcome of one method invocation.
// Exactly one of Result, Err, or NotImplemented is meaningful.
type Reply struct {
	Result         json.RawMessage
	Err            *Error
	NotImplemented bool
}

// Bool decodes a boolean result. It reports false when the reply is an error,
// not implemented, or carries a non-boolean value.
func (r Reply) Bool() (value bool, ok bool) {
	if r.Err != nil || r.NotImplemented || len(r.Result) == 0 {
		return false, false
	}
	var decoded any
	if err := json.Unmarshal(r.Result, &decoded); err != nil {
		return false, false
	}
	value, ok = decoded.(bool)
	return value, ok
}

// ReplyFunc receives the reply to an invocation. It runs on the channel loop.
type ReplyFunc func(Reply)

// CancelFunc abandons an invocation: its reply func is forgotten and a late reply is dropped.
// It runs on the channel loop and may be called any number of times.
type CancelFunc func()

func noopCancel() {}

// Channel sends method invocations to the other side.
// InvokeMethod must be called on the channel loop. A nil reply marks a
// fire-and-forget invocation that the other side does not answer.
// Callers that stop waiting for a reply must call the returned CancelFunc.
type Channel interface {
	InvokeMethod(method string, args any, reply ReplyFunc) CancelFunc
}

// CallHandler answers invocations from the other side. It runs on the channel loop.
// A nil result with a nil error is a successful null reply.
type CallHandler interface {
	HandleCall(ctx context.Context, method string, args json.RawMessage) (any, error)
}

// CallHandlerFunc adapts a function to CallHandler.
type CallHandlerFunc func(ctx context.Context, method string, args json.RawMessage) (any, error)

// HandleCall calls f.
func (f CallHandlerFunc) HandleCall(ctx context.Context, method string, args json.RawMessage) (any, error) {
	return f(ctx, method, args)
}

type frameKind string

const (
	kindCall           frameKind = "call"
	kindResult         frameKind = "result"
	kindError          frameKind = "error"
	kindNotImplemented frameKind = "not_implemented"
)

// frame is one JSON WebSocket text message.
type frame struct {
	Kind   frameKind       `json:"kind"`
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Args   json.RawMessage `json:"args,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

func (f frame) reply() Reply {
	switch f.Kind {
	case kindError:
		if f.Error == nil {
			return Reply{Err: &Error{Code: CodeInternal}}
		}
		return Reply{Err: f.Error}
	case kindNotImplemented:
		return Reply{NotImplemented: true}
	default:
		result := f.Result
		if len(result) == 0 {
			result = json.RawMessage("null")
		}
		return Reply{Result: result}
	}
}

// replyFrame turns a handler outcome into the frame answering call id.
func replyFrame(id string, result any, err error) frame {
	if err != nil {
		if errors.Is(err, ErrNotImplemented) {
			return frame{Kind: kindNotImplemented, ID: id}
		}
		var chErr *Error
		if errors.As(err, &chErr) {
			return frame{Kind: kindError, ID: id, Error: chErr}
		}
		return frame{Kind: kindError, ID: id, Error: &Error{Code: CodeInternal, Message: err.Error()}}
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return frame{Kind: kindError, ID: id, Error: &Error{Code: CodeInternal, Message: fmt.Sprintf("encode result: %v", err)}}
	}
	return frame{Kind: kindResult, ID: id, Result: raw}
}
