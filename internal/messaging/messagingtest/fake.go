// Package messagingtest provides recording fakes of the host SDK types for tests.
package messagingtest

import (
	"sync"

	"github.com/neoclaw-ai/msgbridge/internal/messaging"
)

// TrackCall is one recorded Track invocation.
type TrackCall struct {
	Interaction string
	EventType   messaging.EventType
}

// Message is an in-memory messaging.Message that records every operation.
type Message struct {
	id  string
	url string

	mu        sync.Mutex
	autoTrack bool
	shows     int
	dismisses []bool
	tracks    []TrackCall
}

// NewMessage returns a message with autoTrack enabled.
func NewMessage(id string) *Message {
	return &Message{id: id, autoTrack: true}
}

// WithURL sets the content URL and returns m.
func (m *Message) WithURL(url string) *Message {
	m.url = url
	return m
}

func (m *Message) ID() string { return m.id }
func (m *Message) URL() string { return m.url }

func (m *Message) AutoTrack() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.autoTrack
}

func (m *Message) SetAutoTrack(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.autoTrack = enabled
}

func (m *Message) Show() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shows++
}

func (m *Message) Dismiss(suppressAutoTrack bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dismisses = append(m.dismisses, suppressAutoTrack)
}

func (m *Message) Track(interaction string, eventType messaging.EventType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tracks = append(m.tracks, TrackCall{Interaction: interaction, EventType: eventType})
}

// Shows returns how many times Show was called.
func (m *Message) Shows() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shows
}

// Dismisses returns the suppressAutoTrack flag of every Dismiss call.
func (m *Message) Dismisses() []bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]bool(nil), m.dismisses...)
}

// Tracks returns every Track call.
func (m *Message) Tracks() []TrackCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]TrackCall(nil), m.tracks...)
}

// Presentable wraps a message the way the SDK hands out presentation handles.
type Presentable struct {
	Message *Message
}

// Resolver resolves *Presentable values and rejects everything else.
var Resolver = messaging.ResolverFunc(func(p messaging.Presentable) (messaging.Message, bool) {
	pres, ok := p.(*Presentable)
	if !ok || pres.Message == nil {
		return nil, false
	}
	return pres.Message, true
})

// SDK is a fixed-version messaging.SDK that counts refreshes.
type SDK struct {
	Version string

	mu        sync.Mutex
	refreshes int
}

func (s *SDK) ExtensionVersion() string { return s.Version }

func (s *SDK) RefreshInAppMessages() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshes++
}

// Refreshes returns how many times RefreshInAppMessages was called.
func (s *SDK) Refreshes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshes
}
