package channel

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neoclaw-ai/msgbridge/internal/loop"
)

func startLoop(t *testing.T) *loop.Loop {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	l := loop.New(16)
	require.NoError(t, l.Start(ctx))
	t.Cleanup(func() {
		cancel()
		l.Wait()
	})
	return l
}

// invoke posts an InvokeMethod onto l and waits for the reply.
func invoke(t *testing.T, l *loop.Loop, ch Channel, method string, args any) Reply {
	t.Helper()
	replies := make(chan Reply, 1)
	require.NoError(t, l.Post(func(context.Context) {
		ch.InvokeMethod(method, args, func(r Reply) { replies <- r })
	}))
	select {
	case r := <-replies:
		return r
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s reply", method)
		return Reply{}
	}
}

type harness struct {
	bridgeLoop *loop.Loop
	peerLoop   *loop.Loop
	endpoint   *Endpoint
	peer       *Peer
}

func newHarness(t *testing.T, bridgeHandler, peerHandler CallHandler) *harness {
	t.Helper()
	h := &harness{
		bridgeLoop: startLoop(t),
		peerLoop:   startLoop(t),
	}
	h.endpoint = NewEndpoint("flutter_aepmessaging", h.bridgeLoop, bridgeHandler)
	srv := httptest.NewServer(h.endpoint)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	peer, err := Dial(context.Background(), url, h.peerLoop, peerHandler, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = peer.Close() })
	h.peer = peer

	require.Eventually(t, h.endpoint.Connected, 2*time.Second, 5*time.Millisecond)
	return h
}

func TestEndpointWithoutPeerRepliesNotImplemented(t *testing.T) {
	l := startLoop(t)
	ep := NewEndpoint("flutter_aepmessaging", l, nil)

	r := invoke(t, l, ep, MethodShouldShowMessage, map[string]any{"message": map[string]any{"id": "msg-1"}})
	assert.True(t, r.NotImplemented)
	_, ok := r.Bool()
	assert.False(t, ok)
}

func TestEndpointInvokesPeer(t *testing.T) {
	gotArgs := make(chan json.RawMessage, 2)
	peerHandler := CallHandlerFunc(func(ctx context.Context, method string, args json.RawMessage) (any, error) {
		assert.True(t, loop.OnLoop(ctx))
		gotArgs <- args
		return method == MethodShouldSaveMessage, nil
	})
	h := newHarness(t, nil, peerHandler)

	r := invoke(t, h.bridgeLoop, h.endpoint, MethodShouldSaveMessage, map[string]any{"message": map[string]any{"id": "msg-1", "autoTrack": true}})
	v, ok := r.Bool()
	require.True(t, ok)
	assert.True(t, v)
	assert.JSONEq(t, `{"message":{"id":"msg-1","autoTrack":true}}`, string(<-gotArgs))

	r = invoke(t, h.bridgeLoop, h.endpoint, MethodShouldShowMessage, nil)
	v, ok = r.Bool()
	require.True(t, ok)
	assert.False(t, v)
}

func TestPeerCallOutcomes(t *testing.T) {
	bridgeHandler := CallHandlerFunc(func(_ context.Context, method string, args json.RawMessage) (any, error) {
		switch method {
		case MethodExtensionVersion:
			return "5.0.0", nil
		case MethodClearMessage:
			return nil, &Error{Code: CodeCacheMiss, Message: "Message has not been cached", Details: "msg-9"}
		case MethodSetAutoTrack:
			return nil, nil
		default:
			return nil, ErrNotImplemented
		}
	})
	h := newHarness(t, bridgeHandler, nil)
	ctx := context.Background()

	r, err := h.peer.Call(ctx, MethodExtensionVersion, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `"5.0.0"`, string(r.Result))

	r, err = h.peer.Call(ctx, MethodClearMessage, "msg-9")
	require.NoError(t, err)
	require.NotNil(t, r.Err)
	assert.Equal(t, CodeCacheMiss, r.Err.Code)
	assert.Equal(t, "Message has not been cached", r.Err.Message)
	assert.Equal(t, "msg-9", r.Err.Details)

	r, err = h.peer.Call(ctx, MethodSetAutoTrack, map[string]any{"id": "msg-1", "autoTrack": false})
	require.NoError(t, err)
	assert.Nil(t, r.Err)
	assert.False(t, r.NotImplemented)
	assert.Equal(t, "null", string(r.Result))

	r, err = h.peer.Call(ctx, "doesNotExist", nil)
	require.NoError(t, err)
	assert.True(t, r.NotImplemented)
}

func TestNotificationsAreNotAnswered(t *testing.T) {
	var (
		mu      sync.Mutex
		methods []string
	)
	peerHandler := CallHandlerFunc(func(_ context.Context, method string, _ json.RawMessage) (any, error) {
		mu.Lock()
		defer mu.Unlock()
		methods = append(methods, method)
		return nil, ErrNotImplemented
	})
	h := newHarness(t, nil, peerHandler)

	require.NoError(t, h.bridgeLoop.Post(func(context.Context) {
		h.endpoint.InvokeMethod(MethodOnShow, map[string]any{"message": map[string]any{"id": "msg-1"}}, nil)
		h.endpoint.InvokeMethod(MethodOnHide, map[string]any{"message": map[string]any{"id": "msg-1"}}, nil)
	}))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(methods) == 2
	}, 2*time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{MethodOnShow, MethodOnHide}, methods)
	mu.Unlock()
}

func TestDisconnectFailsPendingCalls(t *testing.T) {
	received := make(chan struct{}, 1)
	peerHandler := CallHandlerFunc(func(context.Context, string, json.RawMessage) (any, error) {
		received <- struct{}{}
		return nil, ErrNoReply
	})
	h := newHarness(t, nil, peerHandler)

	replies := make(chan Reply, 1)
	require.NoError(t, h.bridgeLoop.Post(func(context.Context) {
		h.endpoint.InvokeMethod(MethodShouldSaveMessage, nil, func(r Reply) { replies <- r })
	}))
	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("peer never received the call")
	}
	require.NoError(t, h.peer.Close())

	select {
	case r := <-replies:
		require.NotNil(t, r.Err)
		assert.Equal(t, CodeChannelClosed, r.Err.Code)
	case <-time.After(2 * time.Second):
		t.Fatal("pending call was never failed")
	}
	assert.Eventually(t, func() bool { return !h.endpoint.Connected() }, 2*time.Second, 5*time.Millisecond)
}

// pendingOn reads the pending call count of c on l.
func pendingOn(t *testing.T, l *loop.Loop, c *conn) int {
	t.Helper()
	counts := make(chan int, 1)
	require.NoError(t, l.Post(func(context.Context) { counts <- c.pendingCount() }))
	return <-counts
}

func TestCanceledCallsLeaveNothingPending(t *testing.T) {
	received := make(chan struct{}, 100)
	peerHandler := CallHandlerFunc(func(context.Context, string, json.RawMessage) (any, error) {
		received <- struct{}{}
		return nil, ErrNoReply
	})
	h := newHarness(t, nil, peerHandler)

	cancels := make(chan CancelFunc, 100)
	for i := 0; i < 100; i++ {
		require.NoError(t, h.bridgeLoop.Post(func(context.Context) {
			cancels <- h.endpoint.InvokeMethod(MethodShouldShowMessage, nil, func(Reply) {
				t.Error("reply delivered for a silent peer")
			})
		}))
	}
	for i := 0; i < 100; i++ {
		select {
		case <-received:
		case <-time.After(2 * time.Second):
			t.Fatalf("peer received %d of 100 calls", i)
		}
	}
	require.NoError(t, h.bridgeLoop.WaitUntilIdle(context.Background()))

	active := make(chan *conn, 1)
	require.NoError(t, h.bridgeLoop.Post(func(context.Context) { active <- h.endpoint.active }))
	c := <-active
	require.Equal(t, 100, pendingOn(t, h.bridgeLoop, c))

	for i := 0; i < 100; i++ {
		cancel := <-cancels
		require.NoError(t, h.bridgeLoop.Post(func(context.Context) {
			cancel()
			cancel()
		}))
	}
	assert.Zero(t, pendingOn(t, h.bridgeLoop, c))
}

func TestPeerCallContextDoneForgetsCall(t *testing.T) {
	bridgeHandler := CallHandlerFunc(func(context.Context, string, json.RawMessage) (any, error) {
		return nil, ErrNoReply
	})
	h := newHarness(t, bridgeHandler, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := h.peer.Call(ctx, MethodExtensionVersion, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, h.peerLoop.WaitUntilIdle(context.Background()))
	assert.Zero(t, pendingOn(t, h.peerLoop, h.peer.conn))
}

func TestReplyBool(t *testing.T) {
	tests := []struct {
		name   string
		reply  Reply
		want   bool
		wantOK bool
	}{
		{name: "true", reply: Reply{Result: json.RawMessage("true")}, want: true, wantOK: true},
		{name: "false", reply: Reply{Result: json.RawMessage("false")}, want: false, wantOK: true},
		{name: "string", reply: Reply{Result: json.RawMessage(`"true"`)}},
		{name: "null", reply: Reply{Result: json.RawMessage("null")}},
		{name: "error", reply: Reply{Err: &Error{Code: CodeInternal}}},
		{name: "not implemented", reply: Reply{NotImplemented: true}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := tc.reply.Bool()
			assert.Equal(t, tc.wantOK, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestErrorString(t *testing.T) {
	assert.Equal(t, "CACHE_MISS", (&Error{Code: CodeCacheMiss}).Error())
	assert.Equal(t, "BAD_ARGUMENTS: No Message ID was supplied", (&Error{Code: CodeBadArguments, Message: "No Message ID was supplied"}).Error())
}
