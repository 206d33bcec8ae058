// Package commands answers the commands the embedded runtime sends to the bridge.
package commands

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/neoclaw-ai/msgbridge/internal/cache"
	"github.com/neoclaw-ai/msgbridge/internal/channel"
	"github.com/neoclaw-ai/msgbridge/internal/logging"
	"github.com/neoclaw-ai/msgbridge/internal/messaging"
	"github.com/neoclaw-ai/msgbridge/internal/metrics"
)

const (
	codeNotImplemented = "NOT_IMPLEMENTED"
	methodUnknown      = "unknown"
)

// Router resolves message ids through the cache and applies runtime commands to the SDK.
type Router struct {
	cache   *cache.Cache
	sdk     messaging.SDK
	metrics *metrics.Metrics
}

var _ channel.CallHandler = (*Router)(nil)

// NewRouter creates a command router. sdk and m may be nil.
func NewRouter(c *cache.Cache, sdk messaging.SDK, m *metrics.Metrics) *Router {
	return &Router{cache: c, sdk: sdk, metrics: m}
}

// HandleCall executes one runtime command. Unknown methods return channel.ErrNotImplemented.
func (r *Router) HandleCall(ctx context.Context, method string, raw json.RawMessage) (any, error) {
	result, err := r.dispatch(method, raw)

	code := metrics.CodeOK
	var chErr *channel.Error
	switch {
	case err == nil:
	case errors.Is(err, channel.ErrNotImplemented):
		code = codeNotImplemented
		method = methodUnknown
	case errors.As(err, &chErr):
		code = chErr.Code
	default:
		code = channel.CodeInternal
	}
	r.metrics.ObserveCommand(method, code)
	if err != nil {
		logging.Logger().Debug("command failed", "method", method, "code", code, "err", err)
	}
	return result, err
}

func (r *Router) dispatch(method string, raw json.RawMessage) (any, error) {
	switch method {
	case channel.MethodExtensionVersion:
		if r.sdk == nil {
			return nil, channel.ErrNotImplemented
		}
		return r.sdk.ExtensionVersion(), nil
	case channel.MethodGetCachedMessages:
		return messaging.Snapshots(r.cache.Values()), nil
	case channel.MethodRefreshInAppMessages:
		if r.sdk == nil {
			return nil, channel.ErrNotImplemented
		}
		r.sdk.RefreshInAppMessages()
		return nil, nil
	case channel.MethodClearMessage:
		return nil, r.clearMessage(raw)
	case channel.MethodDismissMessage:
		return nil, r.dismissMessage(raw)
	case channel.MethodSetAutoTrack:
		return nil, r.setAutoTrack(raw)
	case channel.MethodShowMessage:
		return nil, r.showMessage(raw)
	case channel.MethodTrackMessage:
		return nil, r.trackMessage(raw)
	default:
		return nil, channel.ErrNotImplemented
	}
}

func (r *Router) clearMessage(raw json.RawMessage) error {
	a, err := decodeArgs(raw)
	if err != nil {
		return err
	}
	id, err := a.id()
	if err != nil {
		return err
	}
	if !r.cache.Remove(id) {
		return cacheMiss(id)
	}
	return nil
}

func (r *Router) dismissMessage(raw json.RawMessage) error {
	a, err := decodeArgs(raw)
	if err != nil {
		return err
	}
	id, err := a.id()
	if err != nil {
		return err
	}
	suppress, err := a.requireBool("suppressAutoTrack")
	if err != nil {
		return err
	}
	msg, err := r.lookup(id)
	if err != nil {
		return err
	}
	msg.Dismiss(suppress)
	return nil
}

func (r *Router) setAutoTrack(raw json.RawMessage) error {
	a, err := decodeArgs(raw)
	if err != nil {
		return err
	}
	id, err := a.id()
	if err != nil {
		return err
	}
	autoTrack, err := a.requireBool("autoTrack")
	if err != nil {
		return err
	}
	msg, err := r.lookup(id)
	if err != nil {
		return err
	}
	msg.SetAutoTrack(autoTrack)
	return nil
}

func (r *Router) showMessage(raw json.RawMessage) error {
	a, err := decodeArgs(raw)
	if err != nil {
		return err
	}
	id, err := a.id()
	if err != nil {
		return err
	}
	msg, err := r.lookup(id)
	if err != nil {
		return err
	}
	msg.Show()
	return nil
}

func (r *Router) trackMessage(raw json.RawMessage) error {
	a, err := decodeArgs(raw)
	if err != nil {
		return err
	}
	id, err := a.id()
	if err != nil {
		return err
	}
	interaction, err := a.requireString("interaction")
	if err != nil {
		return err
	}
	code, err := a.requireInt("eventType")
	if err != nil {
		return err
	}
	msg, err := r.lookup(id)
	if err != nil {
		return err
	}
	msg.Track(interaction, messaging.ParseEventType(code))
	return nil
}

func (r *Router) lookup(id string) (messaging.Message, error) {
	msg, ok := r.cache.Get(id)
	if !ok {
		return nil, cacheMiss(id)
	}
	return msg, nil
}
