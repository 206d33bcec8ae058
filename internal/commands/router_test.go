package commands

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/neoclaw-ai/msgbridge/internal/cache"
	"github.com/neoclaw-ai/msgbridge/internal/channel"
	"github.com/neoclaw-ai/msgbridge/internal/messaging"
	"github.com/neoclaw-ai/msgbridge/internal/messaging/messagingtest"
)

func newTestRouter(msgs ...*messagingtest.Message) (*Router, *cache.Cache, *messagingtest.SDK) {
	c := cache.New()
	for _, m := range msgs {
		c.Put(m.ID(), m)
	}
	sdk := &messagingtest.SDK{Version: "5.0.0"}
	return NewRouter(c, sdk, nil), c, sdk
}

func call(t *testing.T, r *Router, method, args string) (any, error) {
	t.Helper()
	var raw json.RawMessage
	if args != "" {
		raw = json.RawMessage(args)
	}
	return r.HandleCall(context.Background(), method, raw)
}

func requireCode(t *testing.T, err error, code string) *channel.Error {
	t.Helper()
	var chErr *channel.Error
	if !errors.As(err, &chErr) {
		t.Fatalf("expected *channel.Error with code %s, got %v", code, err)
	}
	if chErr.Code != code {
		t.Fatalf("expected code %s, got %s (%s)", code, chErr.Code, chErr.Message)
	}
	return chErr
}

func TestExtensionVersion(t *testing.T) {
	r, _, _ := newTestRouter()
	got, err := call(t, r, channel.MethodExtensionVersion, "")
	if err != nil {
		t.Fatalf("extensionVersion: %v", err)
	}
	if got != "5.0.0" {
		t.Fatalf("expected 5.0.0, got %#v", got)
	}
}

func TestGetCachedMessages(t *testing.T) {
	m1 := messagingtest.NewMessage("msg-1")
	m2 := messagingtest.NewMessage("msg-2")
	m2.SetAutoTrack(false)
	r, _, _ := newTestRouter(m1, m2)

	got, err := call(t, r, channel.MethodGetCachedMessages, "")
	if err != nil {
		t.Fatalf("getCachedMessages: %v", err)
	}
	snaps, ok := got.([]messaging.Snapshot)
	if !ok {
		t.Fatalf("expected []messaging.Snapshot, got %T", got)
	}
	byID := map[string]messaging.Snapshot{}
	for _, s := range snaps {
		byID[s.ID] = s
	}
	want := map[string]messaging.Snapshot{
		"msg-1": {ID: "msg-1", AutoTrack: true},
		"msg-2": {ID: "msg-2", AutoTrack: false},
	}
	if !reflect.DeepEqual(byID, want) {
		t.Fatalf("unexpected snapshots: %#v", byID)
	}
}

func TestGetCachedMessagesEmpty(t *testing.T) {
	r, _, _ := newTestRouter()
	got, err := call(t, r, channel.MethodGetCachedMessages, "")
	if err != nil {
		t.Fatalf("getCachedMessages: %v", err)
	}
	raw, err := json.Marshal(got)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(raw) != "[]" {
		t.Fatalf("expected empty JSON array, got %s", raw)
	}
}

func TestRefreshInAppMessages(t *testing.T) {
	r, _, sdk := newTestRouter()
	got, err := call(t, r, channel.MethodRefreshInAppMessages, "")
	if err != nil || got != nil {
		t.Fatalf("expected nil result, got %#v, %v", got, err)
	}
	if sdk.Refreshes() != 1 {
		t.Fatalf("expected one refresh, got %d", sdk.Refreshes())
	}
}

func TestClearThenShowIsCacheMiss(t *testing.T) {
	msg := messagingtest.NewMessage("msg-1")
	r, c, _ := newTestRouter(msg)

	if _, err := call(t, r, channel.MethodClearMessage, `{"id":"msg-1"}`); err != nil {
		t.Fatalf("clearMessage: %v", err)
	}
	if c.Len() != 0 {
		t.Fatalf("expected empty cache, got %d entries", c.Len())
	}

	_, err := call(t, r, channel.MethodShowMessage, `{"id":"msg-1"}`)
	chErr := requireCode(t, err, channel.CodeCacheMiss)
	if chErr.Message != "Message has not been cached" {
		t.Fatalf("unexpected message %q", chErr.Message)
	}
	if msg.Shows() != 0 {
		t.Fatalf("expected no show, got %d", msg.Shows())
	}

	_, err = call(t, r, channel.MethodClearMessage, `{"id":"msg-1"}`)
	requireCode(t, err, channel.CodeCacheMiss)
}

func TestDismissThenClearThenDismiss(t *testing.T) {
	msg := messagingtest.NewMessage("msg-1")
	r, _, _ := newTestRouter(msg)

	got, err := call(t, r, channel.MethodDismissMessage, `{"id":"msg-1","suppressAutoTrack":true}`)
	if err != nil || got != nil {
		t.Fatalf("expected nil result, got %#v, %v", got, err)
	}
	if !reflect.DeepEqual(msg.Dismisses(), []bool{true}) {
		t.Fatalf("unexpected dismisses: %#v", msg.Dismisses())
	}

	if _, err := call(t, r, channel.MethodClearMessage, `{"id":"msg-1"}`); err != nil {
		t.Fatalf("clearMessage: %v", err)
	}
	_, err = call(t, r, channel.MethodDismissMessage, `{"id":"msg-1","suppressAutoTrack":true}`)
	requireCode(t, err, channel.CodeCacheMiss)
	if len(msg.Dismisses()) != 1 {
		t.Fatalf("expected no further dismiss, got %#v", msg.Dismisses())
	}
}

func TestSetAutoTrackAndShow(t *testing.T) {
	msg := messagingtest.NewMessage("msg-1")
	r, _, _ := newTestRouter(msg)

	if _, err := call(t, r, channel.MethodSetAutoTrack, `{"id":"msg-1","autoTrack":false}`); err != nil {
		t.Fatalf("setAutoTrack: %v", err)
	}
	if msg.AutoTrack() {
		t.Fatalf("expected autoTrack disabled")
	}
	if _, err := call(t, r, channel.MethodShowMessage, `{"id":"msg-1"}`); err != nil {
		t.Fatalf("showMessage: %v", err)
	}
	if msg.Shows() != 1 {
		t.Fatalf("expected one show, got %d", msg.Shows())
	}
}

func TestTrackMessageEventTypes(t *testing.T) {
	msg := messagingtest.NewMessage("msg-1")
	r, _, _ := newTestRouter(msg)

	for _, args := range []string{
		`{"id":"msg-1","interaction":"clicked","eventType":1}`,
		`{"id":"msg-1","interaction":"seen","eventType":3}`,
		`{"id":"msg-1","interaction":"odd","eventType":42}`,
		`{"id":"msg-1","interaction":"neg","eventType":-7}`,
	} {
		if _, err := call(t, r, channel.MethodTrackMessage, args); err != nil {
			t.Fatalf("trackMessage %s: %v", args, err)
		}
	}
	want := []messagingtest.TrackCall{
		{Interaction: "clicked", EventType: messaging.EventInteract},
		{Interaction: "seen", EventType: messaging.EventDisplay},
		{Interaction: "odd", EventType: messaging.DefaultEventType},
		{Interaction: "neg", EventType: messaging.DefaultEventType},
	}
	if !reflect.DeepEqual(msg.Tracks(), want) {
		t.Fatalf("unexpected tracks: %#v", msg.Tracks())
	}
}

func TestBadArgumentsBeforeCacheLookup(t *testing.T) {
	tests := []struct {
		name    string
		method  string
		args    string
		message string
	}{
		{name: "clear without args", method: channel.MethodClearMessage, args: "", message: "No Message ID was supplied"},
		{name: "clear null", method: channel.MethodClearMessage, args: "null", message: "No Message ID was supplied"},
		{name: "clear not object", method: channel.MethodClearMessage, args: `"msg-1"`},
		{name: "clear without id", method: channel.MethodClearMessage, args: `{}`, message: "No Message ID was supplied"},
		{name: "clear numeric id", method: channel.MethodClearMessage, args: `{"id":7}`, message: "No Message ID was supplied"},
		{name: "show empty id", method: channel.MethodShowMessage, args: `{"id":""}`, message: "No Message ID was supplied"},
		{name: "dismiss without flag", method: channel.MethodDismissMessage, args: `{"id":"nope"}`},
		{name: "dismiss string flag", method: channel.MethodDismissMessage, args: `{"id":"nope","suppressAutoTrack":"true"}`},
		{name: "autoTrack null", method: channel.MethodSetAutoTrack, args: `{"id":"nope","autoTrack":null}`},
		{name: "track without interaction", method: channel.MethodTrackMessage, args: `{"id":"nope","eventType":1}`},
		{name: "track fractional eventType", method: channel.MethodTrackMessage, args: `{"id":"nope","interaction":"x","eventType":1.5}`},
		{name: "track string eventType", method: channel.MethodTrackMessage, args: `{"id":"nope","interaction":"x","eventType":"1"}`},
	}
	r, _, _ := newTestRouter()
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := call(t, r, tc.method, tc.args)
			chErr := requireCode(t, err, channel.CodeBadArguments)
			if tc.message != "" && chErr.Message != tc.message {
				t.Fatalf("expected message %q, got %q", tc.message, chErr.Message)
			}
		})
	}
}

func TestUnknownMethodIsNotImplemented(t *testing.T) {
	r, _, _ := newTestRouter()
	_, err := call(t, r, "launchRockets", `{}`)
	if !errors.Is(err, channel.ErrNotImplemented) {
		t.Fatalf("expected ErrNotImplemented, got %v", err)
	}
}

func TestWithoutSDK(t *testing.T) {
	r := NewRouter(cache.New(), nil, nil)
	if _, err := r.HandleCall(context.Background(), channel.MethodExtensionVersion, nil); !errors.Is(err, channel.ErrNotImplemented) {
		t.Fatalf("expected ErrNotImplemented, got %v", err)
	}
}
