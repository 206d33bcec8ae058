// Package gate turns an asynchronous channel invocation into a bounded synchronous boolean answer.
package gate

import (
	"context"
	"time"

	"github.com/neoclaw-ai/msgbridge/internal/channel"
	"github.com/neoclaw-ai/msgbridge/internal/logging"
	"github.com/neoclaw-ai/msgbridge/internal/loop"
	"github.com/neoclaw-ai/msgbridge/internal/metrics"
)

// DefaultTimeout bounds how long Ask blocks the calling goroutine.
const DefaultTimeout = 500 * time.Millisecond

// Gate asks the embedded runtime yes/no questions on behalf of blocking SDK callbacks.
type Gate struct {
	loop    *loop.Loop
	channel channel.Channel
	timeout time.Duration
	metrics *metrics.Metrics
}

// New creates a gate that invokes ch on l. A non-positive timeout uses DefaultTimeout.
// m may be nil.
func New(l *loop.Loop, ch channel.Channel, timeout time.Duration, m *metrics.Metrics) *Gate {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Gate{
		loop:    l,
		channel: ch,
		timeout: timeout,
		metrics: m,
	}
}

// Timeout returns the wait bound.
func (g *Gate) Timeout() time.Duration {
	return g.timeout
}

// Ask invokes method with payload and blocks until the runtime answers,
// the timeout elapses, or ctx is done. Only a boolean reply is an answer;
// every other outcome yields fallback. A reply arriving after Ask returned
// is discarded.
func (g *Gate) Ask(ctx context.Context, method string, payload any, fallback bool) bool {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	logger := logging.Logger()

	// Waiting here would deadlock: the reply can only be delivered by this goroutine.
	if loop.OnLoop(ctx) {
		logger.Warn("gate asked from the channel loop; using fallback", "method", method, "fallback", fallback)
		g.metrics.ObserveGate(method, metrics.OutcomeUnavailable, 0)
		return fallback
	}

	answers := make(chan channel.Reply, 1)
	// cancel is only touched on the loop; abandon is posted after invoke so it sees it set.
	var cancel channel.CancelFunc
	invoke := func(context.Context) {
		cancel = g.channel.InvokeMethod(method, payload, func(r channel.Reply) {
			select {
			case answers <- r:
			default:
			}
		})
	}
	abandon := func() {
		err := g.loop.Post(func(context.Context) {
			if cancel != nil {
				cancel()
			}
		})
		if err != nil {
			logger.Debug("could not abandon gate call", "method", method, "err", err)
		}
	}
	if err := g.loop.Post(invoke); err != nil {
		logger.Warn("gate could not reach the channel loop; using fallback", "method", method, "fallback", fallback, "err", err)
		g.metrics.ObserveGate(method, metrics.OutcomeUnavailable, time.Since(start))
		return fallback
	}

	timer := time.NewTimer(g.timeout)
	defer timer.Stop()

	select {
	case r := <-answers:
		value, outcome := classify(r)
		g.metrics.ObserveGate(method, outcome, time.Since(start))
		if outcome != metrics.OutcomeAnswered {
			logger.Debug("gate reply was not a boolean answer; using fallback", "method", method, "outcome", outcome, "fallback", fallback)
			return fallback
		}
		logger.Debug("gate answered", "method", method, "value", value, "waited", time.Since(start))
		return value
	case <-timer.C:
		logger.Debug("gate timed out; using fallback", "method", method, "timeout", g.timeout, "fallback", fallback)
		g.metrics.ObserveGate(method, metrics.OutcomeTimeout, time.Since(start))
		abandon()
		return fallback
	case <-ctx.Done():
		g.metrics.ObserveGate(method, metrics.OutcomeCanceled, time.Since(start))
		abandon()
		return fallback
	}
}

func classify(r channel.Reply) (bool, string) {
	switch {
	case r.NotImplemented:
		return false, metrics.OutcomeNotImplemented
	case r.Err != nil:
		return false, metrics.OutcomeError
	}
	value, ok := r.Bool()
	if !ok {
		return false, metrics.OutcomeNotBool
	}
	return value, metrics.OutcomeAnswered
}
