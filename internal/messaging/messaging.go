// Package messaging describes the host SDK surface the bridge consumes: message handles, presentables, and the delegate callbacks.
package messaging

import "context"

// Message is a handle on an SDK-owned in-app message.
// The bridge only holds shared references; the SDK controls the lifetime.
type Message interface {
	// ID is stable for the lifetime of the message and is its only cache key.
	ID() string
	AutoTrack() bool
	SetAutoTrack(enabled bool)
	Show()
	Dismiss(suppressAutoTrack bool)
	Track(interaction string, eventType EventType)
}

// URLer is implemented by messages that expose the URL of their content.
type URLer interface {
	URL() string
}

// Presentable is an opaque presentation handle handed out by the SDK.
// Only some presentables are in-app messages.
type Presentable any

// Resolver maps a presentable to its in-app message.
// It reports false for presentables of any other kind.
type Resolver interface {
	MessageFor(p Presentable) (Message, bool)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(p Presentable) (Message, bool)

// MessageFor calls f(p).
func (f ResolverFunc) MessageFor(p Presentable) (Message, bool) {
	return f(p)
}

// Delegate is the lifecycle and gating callback surface the SDK invokes.
// Callbacks may arrive concurrently from any goroutine.
type Delegate interface {
	// ShouldShow blocks while the embedded runtime is consulted and reports whether p may be presented.
	ShouldShow(ctx context.Context, p Presentable) bool
	OnShow(p Presentable)
	OnHide(p Presentable)
	OnDismiss(p Presentable)
	OnContentLoaded(m Message)
	URLLoaded(p Presentable, url string)
}

// SDK is the messaging extension surface exposed to the embedded runtime.
type SDK interface {
	ExtensionVersion() string
	RefreshInAppMessages()
}
