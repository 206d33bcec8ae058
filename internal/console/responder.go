package console

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/neoclaw-ai/msgbridge/internal/channel"
	"github.com/neoclaw-ai/msgbridge/internal/config"
)

// responder answers the bridge's calls on behalf of the embedded runtime.
type responder struct {
	out *printer

	mu       sync.Mutex
	policies map[string]string
}

var _ channel.CallHandler = (*responder)(nil)

func newResponder(out *printer, savePolicy, showPolicy string) *responder {
	return &responder{
		out: out,
		policies: map[string]string{
			channel.MethodShouldSaveMessage: savePolicy,
			channel.MethodShouldShowMessage: showPolicy,
		},
	}
}

func (r *responder) setPolicy(question, policy string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies[question] = policy
}

func (r *responder) policy(question string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.policies[question]
}

func (r *responder) HandleCall(_ context.Context, method string, args json.RawMessage) (any, error) {
	switch method {
	case channel.MethodShouldSaveMessage, channel.MethodShouldShowMessage:
		policy := r.policy(method)
		r.out.printf("? %s %s -> %s\n", method, compact(args), policy)
		switch policy {
		case config.PolicyNo:
			return false, nil
		case config.PolicySilent:
			return nil, channel.ErrNoReply
		case config.PolicyUnimplemented:
			return nil, channel.ErrNotImplemented
		default:
			return true, nil
		}
	case channel.MethodOnShow, channel.MethodOnHide, channel.MethodOnDismiss,
		channel.MethodOnContentLoaded, channel.MethodURLLoaded:
		r.out.printf("< %s %s\n", method, compact(args))
		return nil, nil
	default:
		r.out.printf("< %s (not handled)\n", method)
		return nil, channel.ErrNotImplemented
	}
}

func compact(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "null"
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return string(raw)
	}
	return string(out)
}

// printer serializes console output from the REPL and the channel loop.
type printer struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintf(p.w, format, args...)
}

func formatReply(method string, r channel.Reply) string {
	switch {
	case r.NotImplemented:
		return fmt.Sprintf("%s: not implemented", method)
	case r.Err != nil:
		if r.Err.Details != nil {
			return fmt.Sprintf("%s: error %s (%v)", method, r.Err.Error(), r.Err.Details)
		}
		return fmt.Sprintf("%s: error %s", method, r.Err.Error())
	default:
		return fmt.Sprintf("%s: %s", method, compact(r.Result))
	}
}
