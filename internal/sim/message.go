package sim

import (
	"sync"

	"github.com/neoclaw-ai/msgbridge/internal/logging"
	"github.com/neoclaw-ai/msgbridge/internal/messaging"
)

// Presentation is the presentable handed to the delegate for every simulated display.
type Presentation struct {
	Kind string
	// ID names the definition; Message is nil for alerts.
	ID      string
	Message *Message
}

// Message is a simulated in-app message owned by the SDK.
type Message struct {
	sdk *SDK
	id  string
	url string

	mu           sync.Mutex
	autoTrack    bool
	presentation *Presentation
}

var (
	_ messaging.Message = (*Message)(nil)
	_ messaging.URLer   = (*Message)(nil)
)

func (m *Message) ID() string { return m.id }
func (m *Message) URL() string { return m.url }

func (m *Message) AutoTrack() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.autoTrack
}

func (m *Message) SetAutoTrack(enabled bool) {
	m.mu.Lock()
	m.autoTrack = enabled
	m.mu.Unlock()
	m.sdk.record(m.id, "set_auto_track", map[string]any{"autoTrack": enabled})
}

// Visible reports whether the message is currently displayed.
func (m *Message) Visible() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.presentation != nil
}

// Show re-presents the message. Presentation consults the delegate, so it runs on its own goroutine.
func (m *Message) Show() {
	if !m.sdk.goPresent(m) {
		logging.Logger().Debug("ignoring show while the simulator is stopped", "id", m.id)
		m.sdk.record(m.id, "show_ignored", nil)
	}
}

// Dismiss hides a visible message. Unless suppressed, auto tracking records a dismiss event.
func (m *Message) Dismiss(suppressAutoTrack bool) {
	m.mu.Lock()
	p := m.presentation
	m.presentation = nil
	autoTrack := m.autoTrack
	m.mu.Unlock()

	m.sdk.record(m.id, "dismiss", map[string]any{"suppressAutoTrack": suppressAutoTrack})
	if p == nil {
		return
	}
	if autoTrack && !suppressAutoTrack {
		m.sdk.record(m.id, "track", map[string]any{"interaction": "", "eventType": messaging.EventDismiss.String(), "auto": true})
	}
	if d := m.sdk.delegateOrNil(); d != nil {
		d.OnDismiss(p)
		d.OnHide(p)
	}
}

func (m *Message) Track(interaction string, eventType messaging.EventType) {
	m.sdk.record(m.id, "track", map[string]any{"interaction": interaction, "eventType": eventType.String()})
}

func (m *Message) setPresentation(p *Presentation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.presentation = p
}
