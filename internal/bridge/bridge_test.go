package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neoclaw-ai/msgbridge/internal/cache"
	"github.com/neoclaw-ai/msgbridge/internal/channel"
	"github.com/neoclaw-ai/msgbridge/internal/gate"
	"github.com/neoclaw-ai/msgbridge/internal/loop"
	"github.com/neoclaw-ai/msgbridge/internal/messaging/messagingtest"
)

type step struct {
	// reply nil means the runtime never answers.
	reply *channel.Reply
	delay time.Duration
}

func answer(v bool) step {
	return step{reply: &channel.Reply{Result: json.RawMessage(fmt.Sprint(v))}}
}

func silent() step {
	return step{}
}

type recordedCall struct {
	method  string
	payload string
}

// scriptedChannel plays the embedded runtime. Methods missing from script reply "not implemented".
type scriptedChannel struct {
	loop   *loop.Loop
	script map[string]step

	mu    sync.Mutex
	calls []recordedCall
}

func (c *scriptedChannel) InvokeMethod(method string, args any, reply channel.ReplyFunc) channel.CancelFunc {
	raw, _ := json.Marshal(args)
	c.mu.Lock()
	c.calls = append(c.calls, recordedCall{method: method, payload: string(raw)})
	c.mu.Unlock()

	if reply == nil {
		return func() {}
	}
	st, ok := c.script[method]
	if !ok {
		reply(channel.Reply{NotImplemented: true})
		return func() {}
	}
	if st.reply == nil {
		return func() {}
	}
	r := *st.reply
	if st.delay == 0 {
		reply(r)
		return func() {}
	}
	time.AfterFunc(st.delay, func() {
		_ = c.loop.Post(func(context.Context) { reply(r) })
	})
	return func() {}
}

func (c *scriptedChannel) recorded() []recordedCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]recordedCall(nil), c.calls...)
}

type fixture struct {
	loop    *loop.Loop
	channel *scriptedChannel
	cache   *cache.Cache
	bridge  *Bridge
}

func newFixture(t *testing.T, timeout time.Duration, script map[string]step) *fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	l := loop.New(32)
	require.NoError(t, l.Start(ctx))
	t.Cleanup(func() {
		cancel()
		l.Wait()
	})

	ch := &scriptedChannel{loop: l, script: script}
	c := cache.New()
	b, err := New(Options{
		Loop:        l,
		Channel:     ch,
		Gate:        gate.New(l, ch, timeout, nil),
		Cache:       c,
		Resolver:    messagingtest.Resolver,
		SaveDefault: true,
		ShowDefault: true,
	})
	require.NoError(t, err)
	return &fixture{loop: l, channel: ch, cache: c, bridge: b}
}

func present(id string) *messagingtest.Presentable {
	return &messagingtest.Presentable{Message: messagingtest.NewMessage(id)}
}

func TestShouldShowFailsOpenWithoutAnswers(t *testing.T) {
	f := newFixture(t, 30*time.Millisecond, map[string]step{
		channel.MethodShouldSaveMessage: silent(),
	})

	p := present("msg-1")
	assert.True(t, f.bridge.ShouldShow(context.Background(), p))

	got, ok := f.cache.Get("msg-1")
	require.True(t, ok)
	assert.Same(t, p.Message, got)
}

func TestShouldShowSaveAndShowAreIndependent(t *testing.T) {
	tests := []struct {
		name       string
		save       step
		show       step
		wantShow   bool
		wantCached bool
	}{
		{name: "save no show yes", save: answer(false), show: answer(true), wantShow: true, wantCached: false},
		{name: "save no show no", save: answer(false), show: answer(false), wantShow: false, wantCached: false},
		{name: "save yes show no", save: answer(true), show: answer(false), wantShow: false, wantCached: true},
		{name: "save yes show yes", save: answer(true), show: answer(true), wantShow: true, wantCached: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, time.Second, map[string]step{
				channel.MethodShouldSaveMessage: tc.save,
				channel.MethodShouldShowMessage: tc.show,
			})
			assert.Equal(t, tc.wantShow, f.bridge.ShouldShow(context.Background(), present("msg-1")))
			_, cached := f.cache.Get("msg-1")
			assert.Equal(t, tc.wantCached, cached)
		})
	}
}

func TestShouldShowScenarioSilentSaveThenShowVeto(t *testing.T) {
	f := newFixture(t, gate.DefaultTimeout, map[string]step{
		channel.MethodShouldSaveMessage: silent(),
		channel.MethodShouldShowMessage: {reply: &channel.Reply{Result: json.RawMessage("false")}, delay: 50 * time.Millisecond},
	})

	start := time.Now()
	got := f.bridge.ShouldShow(context.Background(), present("msg-1"))
	elapsed := time.Since(start)

	assert.False(t, got)
	assert.GreaterOrEqual(t, elapsed, gate.DefaultTimeout)
	assert.Less(t, elapsed, gate.DefaultTimeout+time.Second)
	_, cached := f.cache.Get("msg-1")
	assert.True(t, cached)
}

func TestShouldShowUsesConfiguredDefaults(t *testing.T) {
	f := newFixture(t, time.Second, nil)
	f.bridge.saveDefault = false
	f.bridge.showDefault = false

	assert.False(t, f.bridge.ShouldShow(context.Background(), present("msg-1")))
	assert.Equal(t, 0, f.cache.Len())
}

func TestShouldShowAsksSaveBeforeShowWithSameSnapshot(t *testing.T) {
	f := newFixture(t, time.Second, map[string]step{
		channel.MethodShouldSaveMessage: answer(true),
		channel.MethodShouldShowMessage: answer(true),
	})
	msg := messagingtest.NewMessage("msg-1").WithURL("https://example.com/m1")

	require.True(t, f.bridge.ShouldShow(context.Background(), &messagingtest.Presentable{Message: msg}))

	calls := f.channel.recorded()
	require.Len(t, calls, 2)
	assert.Equal(t, channel.MethodShouldSaveMessage, calls[0].method)
	assert.Equal(t, channel.MethodShouldShowMessage, calls[1].method)
	assert.JSONEq(t, `{"message":{"id":"msg-1","autoTrack":true,"url":"https://example.com/m1"}}`, calls[0].payload)
	assert.Equal(t, calls[0].payload, calls[1].payload)
}

func TestShouldShowAllowsUnresolvedPresentable(t *testing.T) {
	f := newFixture(t, time.Second, map[string]step{
		channel.MethodShouldShowMessage: answer(false),
	})

	assert.True(t, f.bridge.ShouldShow(context.Background(), "an alert, not an in-app message"))
	assert.Empty(t, f.channel.recorded())
	assert.Equal(t, 0, f.cache.Len())
}

func TestShouldShowConcurrentCallers(t *testing.T) {
	f := newFixture(t, time.Second, map[string]step{
		channel.MethodShouldSaveMessage: answer(true),
		channel.MethodShouldShowMessage: answer(true),
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.True(t, f.bridge.ShouldShow(context.Background(), present(fmt.Sprintf("msg-%d", i))))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 20, f.cache.Len())
}

func TestLifecycleNotifications(t *testing.T) {
	f := newFixture(t, time.Second, nil)
	msg := messagingtest.NewMessage("msg-1")
	p := &messagingtest.Presentable{Message: msg}

	f.bridge.OnShow(p)
	f.bridge.OnHide(p)
	msg.SetAutoTrack(false)
	f.bridge.OnDismiss(p)
	f.bridge.OnContentLoaded(msg)
	f.bridge.URLLoaded(p, "https://example.com/click")
	require.NoError(t, f.loop.WaitUntilIdle(context.Background()))

	calls := f.channel.recorded()
	require.Len(t, calls, 5)
	assert.Equal(t, channel.MethodOnShow, calls[0].method)
	assert.JSONEq(t, `{"message":{"id":"msg-1","autoTrack":true}}`, calls[0].payload)
	assert.Equal(t, channel.MethodOnHide, calls[1].method)
	assert.Equal(t, channel.MethodOnDismiss, calls[2].method)
	assert.JSONEq(t, `{"message":{"id":"msg-1","autoTrack":false}}`, calls[2].payload)
	assert.Equal(t, channel.MethodOnContentLoaded, calls[3].method)
	assert.JSONEq(t, `{"message":{"id":"msg-1","autoTrack":false}}`, calls[3].payload)
	assert.Equal(t, channel.MethodURLLoaded, calls[4].method)
	assert.JSONEq(t, `{"url":"https://example.com/click","message":{"id":"msg-1","autoTrack":false}}`, calls[4].payload)
}

func TestLifecycleSkipsUnresolvedPresentable(t *testing.T) {
	f := newFixture(t, time.Second, nil)

	f.bridge.OnShow(42)
	f.bridge.OnHide(nil)
	f.bridge.OnDismiss(&messagingtest.Presentable{})
	f.bridge.URLLoaded("alert", "https://example.com")
	f.bridge.OnContentLoaded(nil)
	require.NoError(t, f.loop.WaitUntilIdle(context.Background()))

	assert.Empty(t, f.channel.recorded())
}

func TestNotificationsDoNotWaitForTheLoop(t *testing.T) {
	f := newFixture(t, time.Second, nil)
	release := make(chan struct{})
	require.NoError(t, f.loop.Post(func(context.Context) { <-release }))

	done := make(chan struct{})
	go func() {
		f.bridge.OnShow(present("msg-1"))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("OnShow blocked on a busy loop")
	}
	close(release)
	require.NoError(t, f.loop.WaitUntilIdle(context.Background()))
	assert.Len(t, f.channel.recorded(), 1)
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loop")
}
