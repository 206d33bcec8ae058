// Package sim simulates the host messaging SDK: it owns in-app messages, schedules their
// presentation with cron, and drives the registered delegate the way the real SDK would.
package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/neoclaw-ai/msgbridge/internal/logging"
	"github.com/neoclaw-ai/msgbridge/internal/messaging"
	"github.com/neoclaw-ai/msgbridge/internal/store"
)

// Options configures an SDK.
type Options struct {
	MessagesPath     string
	ActivityPath     string
	ExtensionVersion string
	Location         *time.Location
}

// SDK is the simulated host SDK.
type SDK struct {
	opts Options
	cron *cron.Cron

	mu       sync.Mutex
	delegate messaging.Delegate
	defs     map[string]Definition
	messages map[string]*Message
	entries  []cron.EntryID
	ctx      context.Context
	started  bool

	wg sync.WaitGroup
}

var (
	_ messaging.SDK      = (*SDK)(nil)
	_ messaging.Resolver = (*SDK)(nil)
)

// New creates an SDK. Call SetDelegate and Start before presentations happen.
func New(opts Options) *SDK {
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	return &SDK{
		opts: opts,
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)),
		),
		defs:     make(map[string]Definition),
		messages: make(map[string]*Message),
		ctx:      context.Background(),
	}
}

// SetDelegate registers the delegate that gates and observes presentations.
func (s *SDK) SetDelegate(d messaging.Delegate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delegate = d
}

func (s *SDK) ExtensionVersion() string {
	return s.opts.ExtensionVersion
}

// RefreshInAppMessages reloads the definitions file and reschedules presentations.
// Reload errors are logged and the previous definitions stay active.
func (s *SDK) RefreshInAppMessages() {
	s.record("", "refresh", nil)
	if err := s.reload(); err != nil {
		logging.Logger().Warn("refresh in-app messages failed", "path", s.opts.MessagesPath, "err", err)
	}
}

// MessageFor resolves in-app presentations to their message.
func (s *SDK) MessageFor(p messaging.Presentable) (messaging.Message, bool) {
	pres, ok := p.(*Presentation)
	if !ok || pres.Kind != KindInApp || pres.Message == nil {
		return nil, false
	}
	return pres.Message, true
}

// Start loads definitions and starts the cron schedule. ctx bounds delegate calls.
func (s *SDK) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("simulator already started")
	}
	s.ctx = ctx
	s.mu.Unlock()

	if err := s.reload(); err != nil {
		return err
	}

	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	s.cron.Start()
	logging.Logger().Info("simulator started", "messages", len(s.Definitions()))
	return nil
}

// Stop halts the schedule and waits for in-flight presentations or ctx cancellation.
func (s *SDK) Stop(ctx context.Context) error {
	s.mu.Lock()
	started := s.started
	s.started = false
	s.mu.Unlock()
	if !started {
		return nil
	}

	cronDone := s.cron.Stop()
	presented := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.wg.Wait()
		close(presented)
	}()
	select {
	case <-presented:
		logging.Logger().Info("simulator stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Definitions returns the active definitions.
func (s *SDK) Definitions() []Definition {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Definition, 0, len(s.defs))
	for _, d := range s.defs {
		out = append(out, d)
	}
	return out
}

// Message returns the SDK-owned message for id, if it is an in-app definition.
func (s *SDK) Message(id string) (*Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	return m, ok
}

// Trigger presents the definition named id immediately and waits for the delegate round trip.
// It reports whether the presentation was shown.
func (s *SDK) Trigger(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	def, ok := s.defs[id]
	msg := s.messages[id]
	s.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("trigger %q: %w", id, errUnknownMessage)
	}
	if def.kind() == KindAlert {
		return s.presentAlert(ctx, def), nil
	}
	return s.present(ctx, msg), nil
}

func (s *SDK) reload() error {
	defs, err := LoadDefinitions(s.opts.MessagesPath)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.entries {
		s.cron.Remove(id)
	}
	s.entries = s.entries[:0]

	nextDefs := make(map[string]Definition, len(defs))
	nextMessages := make(map[string]*Message, len(defs))
	for _, def := range defs {
		nextDefs[def.ID] = def
		if def.kind() == KindInApp {
			// Existing handles survive a refresh so cached references stay live.
			m, ok := s.messages[def.ID]
			if !ok || m.url != def.URL {
				m = &Message{sdk: s, id: def.ID, url: def.URL, autoTrack: def.autoTrack()}
			}
			nextMessages[def.ID] = m
		}
		if def.Schedule == "" {
			continue
		}
		id := def.ID
		entry, err := s.cron.AddFunc(def.Schedule, func() { s.fire(id) })
		if err != nil {
			return fmt.Errorf("schedule %q: %w", def.ID, err)
		}
		s.entries = append(s.entries, entry)
	}
	s.defs = nextDefs
	s.messages = nextMessages
	return nil
}

func (s *SDK) fire(id string) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	shown, err := s.Trigger(ctx, id)
	if err != nil {
		logging.Logger().Warn("scheduled presentation failed", "id", id, "err", err)
		return
	}
	logging.Logger().Info("scheduled presentation", "id", id, "shown", shown)
}

// goPresent runs a presentation off the caller's goroutine, as the SDK does for Message.Show.
// It reports false without presenting when the SDK is not running.
func (s *SDK) goPresent(m *Message) bool {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return false
	}
	ctx := s.ctx
	// Added under mu so Stop, which clears started under mu before waiting, sees it.
	s.wg.Add(1)
	s.mu.Unlock()

	s.record(m.id, "show", nil)
	go func() {
		defer s.wg.Done()
		s.present(ctx, m)
	}()
	return true
}

func (s *SDK) present(ctx context.Context, m *Message) bool {
	d := s.delegateOrNil()
	p := &Presentation{Kind: KindInApp, ID: m.id, Message: m}
	if d != nil && !d.ShouldShow(ctx, p) {
		s.record(m.id, "suppressed", nil)
		return false
	}

	m.setPresentation(p)
	s.record(m.id, "displayed", nil)
	if d == nil {
		return true
	}
	d.OnShow(p)
	d.OnContentLoaded(m)
	if m.url != "" {
		d.URLLoaded(p, m.url)
	}
	return true
}

func (s *SDK) presentAlert(ctx context.Context, def Definition) bool {
	d := s.delegateOrNil()
	p := &Presentation{Kind: KindAlert, ID: def.ID}
	if d != nil && !d.ShouldShow(ctx, p) {
		s.record(def.ID, "suppressed", nil)
		return false
	}
	s.record(def.ID, "displayed", map[string]any{"kind": KindAlert})
	if d != nil {
		d.OnShow(p)
		d.OnDismiss(p)
	}
	return true
}

func (s *SDK) delegateOrNil() messaging.Delegate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delegate
}

// Activity is one journal line.
type Activity struct {
	Time   time.Time      `json:"time"`
	ID     string         `json:"id,omitempty"`
	Op     string         `json:"op"`
	Detail map[string]any `json:"detail,omitempty"`
}

func (s *SDK) record(id, op string, detail map[string]any) {
	logging.Logger().Debug("sdk activity", "id", id, "op", op)
	if s.opts.ActivityPath == "" {
		return
	}
	entry := Activity{Time: time.Now().UTC(), ID: id, Op: op, Detail: detail}
	if err := store.AppendJSONLine(s.opts.ActivityPath, entry); err != nil {
		logging.Logger().Warn("write activity failed", "path", s.opts.ActivityPath, "err", err)
	}
}
