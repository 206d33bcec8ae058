package sim

import (
	"errors"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/neoclaw-ai/msgbridge/internal/store"
)

// Presentation kinds.
const (
	KindInApp = "in_app"
	KindAlert = "alert"
)

// Definition is one simulated message from messages.json.
type Definition struct {
	ID string `json:"id"`
	// Kind is in_app (default) or alert. Alerts are presentables without an in-app message.
	Kind string `json:"kind,omitempty"`
	URL  string `json:"url,omitempty"`
	// Schedule is a standard cron spec or descriptor such as "@every 30s". Empty means manual only.
	Schedule  string `json:"schedule,omitempty"`
	AutoTrack *bool  `json:"auto_track,omitempty"`
}

func (d Definition) kind() string {
	if d.Kind == "" {
		return KindInApp
	}
	return d.Kind
}

func (d Definition) autoTrack() bool {
	return d.AutoTrack == nil || *d.AutoTrack
}

// DefaultDefinitions seeds a fresh messages.json.
func DefaultDefinitions() []Definition {
	return []Definition{
		{ID: "msg-1", URL: "https://example.com/offers/welcome", Schedule: "@every 1m"},
		{ID: "msg-2", Schedule: "@every 5m"},
		{ID: "alert-1", Kind: KindAlert, Schedule: "@every 10m"},
	}
}

// LoadDefinitions reads and validates the definitions file at path.
func LoadDefinitions(path string) ([]Definition, error) {
	var defs []Definition
	if err := store.ReadJSON(path, &defs); err != nil {
		return nil, fmt.Errorf("load message definitions: %w", err)
	}
	if err := validateDefinitions(defs); err != nil {
		return nil, fmt.Errorf("load message definitions %q: %w", path, err)
	}
	return defs, nil
}

func validateDefinitions(defs []Definition) error {
	seen := make(map[string]struct{}, len(defs))
	for i, d := range defs {
		id := strings.TrimSpace(d.ID)
		if id == "" {
			return fmt.Errorf("definition %d: id is required", i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("definition %q: duplicate id", id)
		}
		seen[id] = struct{}{}

		switch d.kind() {
		case KindInApp, KindAlert:
		default:
			return fmt.Errorf("definition %q: unknown kind %q", id, d.Kind)
		}
		if d.Schedule != "" {
			if _, err := cron.ParseStandard(d.Schedule); err != nil {
				return fmt.Errorf("definition %q: invalid schedule: %w", id, err)
			}
		}
	}
	return nil
}

var errUnknownMessage = errors.New("unknown message")
