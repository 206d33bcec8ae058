// Package bridge implements the SDK delegate that forwards gating questions and lifecycle events to the embedded runtime.
package bridge

import (
	"context"
	"errors"

	"github.com/neoclaw-ai/msgbridge/internal/cache"
	"github.com/neoclaw-ai/msgbridge/internal/channel"
	"github.com/neoclaw-ai/msgbridge/internal/gate"
	"github.com/neoclaw-ai/msgbridge/internal/logging"
	"github.com/neoclaw-ai/msgbridge/internal/loop"
	"github.com/neoclaw-ai/msgbridge/internal/messaging"
	"github.com/neoclaw-ai/msgbridge/internal/metrics"
)

// Options wires a Bridge to its collaborators.
type Options struct {
	Loop     *loop.Loop
	Channel  channel.Channel
	Gate     *gate.Gate
	Cache    *cache.Cache
	Resolver messaging.Resolver
	// SaveDefault and ShowDefault answer the gates when the runtime does not.
	SaveDefault bool
	ShowDefault bool
	Metrics     *metrics.Metrics
}

// Bridge is the messaging.Delegate registered with the host SDK.
type Bridge struct {
	loop        *loop.Loop
	channel     channel.Channel
	gate        *gate.Gate
	cache       *cache.Cache
	resolver    messaging.Resolver
	saveDefault bool
	showDefault bool
	metrics     *metrics.Metrics
}

var _ messaging.Delegate = (*Bridge)(nil)

// New validates opts and returns a Bridge.
func New(opts Options) (*Bridge, error) {
	switch {
	case opts.Loop == nil:
		return nil, errors.New("loop is required")
	case opts.Channel == nil:
		return nil, errors.New("channel is required")
	case opts.Gate == nil:
		return nil, errors.New("gate is required")
	case opts.Cache == nil:
		return nil, errors.New("cache is required")
	case opts.Resolver == nil:
		return nil, errors.New("resolver is required")
	}
	return &Bridge{
		loop:        opts.Loop,
		channel:     opts.Channel,
		gate:        opts.Gate,
		cache:       opts.Cache,
		resolver:    opts.Resolver,
		saveDefault: opts.SaveDefault,
		showDefault: opts.ShowDefault,
		metrics:     opts.Metrics,
	}, nil
}

// ShouldShow asks the runtime whether to cache the message behind p, then whether to show it.
// The two questions are independent; the save answer never affects the returned show answer.
// Presentables that are not in-app messages are always allowed.
func (b *Bridge) ShouldShow(ctx context.Context, p messaging.Presentable) bool {
	msg, ok := b.resolver.MessageFor(p)
	if !ok {
		return true
	}
	payload := messaging.Envelope{Message: messaging.NewSnapshot(msg)}

	if b.gate.Ask(ctx, channel.MethodShouldSaveMessage, payload, b.saveDefault) {
		b.cache.Put(msg.ID(), msg)
		logging.Logger().Debug("cached message", "id", msg.ID())
	}
	return b.gate.Ask(ctx, channel.MethodShouldShowMessage, payload, b.showDefault)
}

func (b *Bridge) OnShow(p messaging.Presentable) {
	b.notifyPresentable(channel.MethodOnShow, p)
}

func (b *Bridge) OnHide(p messaging.Presentable) {
	b.notifyPresentable(channel.MethodOnHide, p)
}

func (b *Bridge) OnDismiss(p messaging.Presentable) {
	b.notifyPresentable(channel.MethodOnDismiss, p)
}

// OnContentLoaded receives the message directly rather than a presentable.
func (b *Bridge) OnContentLoaded(m messaging.Message) {
	if m == nil {
		return
	}
	b.notify(channel.MethodOnContentLoaded, messaging.Envelope{Message: messaging.NewSnapshot(m)})
}

func (b *Bridge) URLLoaded(p messaging.Presentable, url string) {
	msg, ok := b.resolver.MessageFor(p)
	if !ok {
		return
	}
	b.notify(channel.MethodURLLoaded, messaging.URLEnvelope{URL: url, Message: messaging.NewSnapshot(msg)})
}

func (b *Bridge) notifyPresentable(method string, p messaging.Presentable) {
	msg, ok := b.resolver.MessageFor(p)
	if !ok {
		return
	}
	b.notify(method, messaging.Envelope{Message: messaging.NewSnapshot(msg)})
}

// notify posts a fire-and-forget invocation and returns without waiting.
// The snapshot is taken by the caller so it reflects the message at callback time.
func (b *Bridge) notify(method string, payload any) {
	err := b.loop.Post(func(context.Context) {
		_ = b.channel.InvokeMethod(method, payload, nil)
	})
	if err != nil {
		logging.Logger().Warn("dropping notification", "method", method, "err", err)
		return
	}
	b.metrics.ObserveNotification(method)
}
