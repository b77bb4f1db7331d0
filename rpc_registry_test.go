package eqws

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openRPCSocket(t *testing.T, cfg Config, opts ...Option) *testSocket {
	t.Helper()
	ts := openTestSocket(t, cfg, append([]Option{WithIDGenerator(sequentialIDs())}, opts...)...)
	ts.rec.last().open()
	ts.idle(t)
	return ts
}

func TestRPC_Ping(t *testing.T) {
	ts := openRPCSocket(t, testConfig())
	tr := ts.rec.last()

	call := ts.Go("system.ping", nil, nil)
	ts.idle(t)

	assert.Equal(t, []Packet{NewRPCPacket("id-1", "system.ping", nil)}, tr.writtenPackets(t, JSONCodec{}))
	assert.Equal(t, 1, ts.pendingCalls(t))

	tr.deliver([]byte(`[2,"id-1","system.ping",{"response":"pong"}]`))

	settled := waitCall(t, call)
	require.NoError(t, settled.Error)
	assert.Equal(t, "pong", settled.Reply)
	assert.Equal(t, "id-1", settled.ID)
	assert.Equal(t, 0, ts.pendingCalls(t))
	assert.Empty(t, ts.sched.activeWith(testConfig().RPCTimeout))
}

func TestRPC_CallBlocks(t *testing.T) {
	ts := openRPCSocket(t, testConfig())
	tr := ts.rec.last()

	type result struct {
		reply any
		err   error
	}
	results := make(chan result, 1)
	go func() {
		reply, err := ts.Call(context.Background(), "math.sum", []int{1, 2})
		results <- result{reply, err}
	}()

	require.Eventually(t, func() bool { return len(tr.written()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []Packet{NewRPCPacket("id-1", "math.sum", []any{float64(1), float64(2)})}, tr.writtenPackets(t, JSONCodec{}))

	tr.deliver([]byte(`[2,"id-1","math.sum",{"response":3}]`))

	select {
	case r := <-results:
		require.NoError(t, r.err)
		assert.Equal(t, float64(3), r.reply)
	case <-time.After(2 * time.Second):
		t.Fatal("Call did not return")
	}
}

func TestRPC_CallFuncRunsOnExecutor(t *testing.T) {
	ts := openRPCSocket(t, testConfig())

	var (
		mu    sync.Mutex
		reply any
		err   error
		calls int
	)
	ts.CallFunc("system.ping", nil, func(r any, e error) {
		mu.Lock()
		defer mu.Unlock()
		reply, err, calls = r, e, calls+1
	})
	ts.idle(t)

	ts.rec.last().deliver([]byte(`[2,"id-1","system.ping",{"response":"pong"}]`))
	ts.idle(t)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
	assert.NoError(t, err)
	assert.Equal(t, "pong", reply)
}

func TestRPC_Timeout(t *testing.T) {
	cfg := testConfig()
	ts := openRPCSocket(t, cfg)
	events := recordEvents(ts.Socket, EventError)

	var calls []*Call
	for i := 0; i < 5; i++ {
		calls = append(calls, ts.Go("slow.method", i, nil))
	}
	ts.idle(t)

	timers := ts.sched.activeWith(cfg.RPCTimeout)
	require.Len(t, timers, 5)
	assert.Equal(t, 5, ts.pendingCalls(t))

	for _, timer := range timers {
		timer.fire()
	}

	for _, call := range calls {
		settled := waitCall(t, call)
		assert.ErrorIs(t, settled.Error, ErrRPCTimeout)
		assert.Nil(t, settled.Reply)
	}
	assert.Equal(t, 0, ts.pendingCalls(t))

	// A late response is ignored.
	ts.rec.last().deliver([]byte(`[2,"id-1","slow.method",{"response":"late"}]`))
	ts.idle(t)
	assert.Empty(t, events.all())
}

func TestRPC_TimeoutWhileDisconnected(t *testing.T) {
	cfg := testConfig()
	ts := openTestSocket(t, cfg)

	call := ts.Go("system.ping", nil, nil)
	ts.idle(t)

	timers := ts.sched.activeWith(cfg.RPCTimeout)
	require.Len(t, timers, 1)
	timers[0].fire()

	assert.ErrorIs(t, waitCall(t, call).Error, ErrRPCTimeout)
}

func TestRPC_TimeoutBeforeOpen(t *testing.T) {
	cfg := testConfig()
	ts := newTestSocket(t, cfg, WithIDGenerator(sequentialIDs()))

	call := ts.Go("system.ping", nil, nil)

	timers := ts.sched.activeWith(cfg.RPCTimeout)
	require.Len(t, timers, 1)
	timers[0].fire()

	settled := waitCall(t, call)
	assert.ErrorIs(t, settled.Error, ErrRPCTimeout)
	assert.Nil(t, settled.Reply)

	// The settled call is never transmitted once the socket opens.
	require.NoError(t, ts.Open(context.Background()))
	ts.idle(t)
	tr := ts.rec.last()
	tr.open()
	ts.idle(t)

	assert.Empty(t, tr.written())
	assert.Equal(t, 0, ts.pendingCalls(t))
}

func TestRPC_CallTimesOutWithoutOpen(t *testing.T) {
	cfg := testConfig()
	cfg.RPCTimeout = 50 * time.Millisecond

	rec := &transportRecorder{}
	s, err := New(cfg, WithTransportFactory(rec.factory))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err = s.Call(ctx, "system.ping", nil)
	assert.ErrorIs(t, err, ErrRPCTimeout)
	assert.NoError(t, ctx.Err())
	assert.Equal(t, 0, rec.count())
}

func TestRPC_UnknownAndDuplicateResponsesAreIgnored(t *testing.T) {
	ts := openRPCSocket(t, testConfig())
	events := recordEvents(ts.Socket, EventError)
	tr := ts.rec.last()

	call := ts.Go("system.ping", nil, nil)
	ts.idle(t)

	tr.deliver([]byte(`[2,"unknown","system.ping",{"response":"pong"}]`))
	ts.idle(t)
	assert.Equal(t, 1, ts.pendingCalls(t))

	tr.deliver([]byte(`[2,"id-1","system.ping",{"response":"first"}]`))
	tr.deliver([]byte(`[2,"id-1","system.ping",{"response":"second"}]`))
	ts.idle(t)

	settled := waitCall(t, call)
	assert.Equal(t, "first", settled.Reply)
	assert.Empty(t, events.all())
}

func TestRPC_ApplicationError(t *testing.T) {
	ts := openRPCSocket(t, testConfig())
	events := recordEvents(ts.Socket, EventError)

	call := ts.Go("orders.get", map[string]any{"id": 1}, nil)
	ts.idle(t)

	ts.rec.last().deliver([]byte(`[2,"id-1","orders.get",{"code":404,"message":"not found"}]`))

	settled := waitCall(t, call)
	require.Error(t, settled.Error)
	assert.ErrorIs(t, settled.Error, ErrRPCApplication)

	var rpcErr *RPCError
	require.True(t, errors.As(settled.Error, &rpcErr))
	assert.Equal(t, float64(404), rpcErr.Code)
	assert.Equal(t, "not found", rpcErr.Message)

	ts.idle(t)
	errs := events.named(EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, settled.Error, errs[0].args[0])
}

func TestRPC_ContextCancel(t *testing.T) {
	ts := openRPCSocket(t, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		_, err := ts.Call(ctx, "slow.method", nil)
		errs <- err
	}()

	require.Eventually(t, func() bool { return len(ts.rec.last().written()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Call did not return")
	}

	require.Eventually(t, func() bool { return ts.pendingCalls(t) == 0 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, ts.sched.activeWith(testConfig().RPCTimeout))
}

func TestRPC_IDCollisionIsRedrawn(t *testing.T) {
	ids := []string{"dup", "dup", "other"}
	var mu sync.Mutex
	gen := func() string {
		mu.Lock()
		defer mu.Unlock()
		id := ids[0]
		ids = ids[1:]
		return id
	}

	ts := openTestSocket(t, testConfig(), WithIDGenerator(gen))
	tr := ts.rec.last()
	tr.open()
	ts.idle(t)

	first := ts.Go("a", nil, nil)
	second := ts.Go("b", nil, nil)
	ts.idle(t)

	assert.Equal(t, []Packet{
		NewRPCPacket("dup", "a", nil),
		NewRPCPacket("other", "b", nil),
	}, tr.writtenPackets(t, JSONCodec{}))

	tr.deliver([]byte(`[2,"other","b",{"response":2}]`))
	tr.deliver([]byte(`[2,"dup","a",{"response":1}]`))

	assert.Equal(t, float64(1), waitCall(t, first).Reply)
	assert.Equal(t, float64(2), waitCall(t, second).Reply)
}

func TestRPC_GoRequiresBufferedChannel(t *testing.T) {
	ts := newTestSocket(t, testConfig())

	assert.Panics(t, func() { ts.Go("system.ping", nil, make(chan *Call)) })
}

func TestParseRPCResult(t *testing.T) {
	tests := []struct {
		name    string
		body    any
		reply   any
		code    any
		message string
	}{
		{name: "response", body: map[string]any{"response": "pong"}, reply: "pong"},
		{name: "empty object", body: map[string]any{}, reply: nil},
		{name: "null code", body: map[string]any{"code": nil, "response": float64(1)}, reply: float64(1)},
		{name: "scalar body", body: "raw", reply: "raw"},
		{name: "no body", body: nil, reply: nil},
		{name: "error", body: map[string]any{"code": float64(500), "message": "boom"}, code: float64(500), message: "boom"},
		{name: "error without message", body: map[string]any{"code": "E_DENIED"}, code: "E_DENIED"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			reply, rpcErr := parseRPCResult(test.body)
			if test.code == nil {
				assert.Nil(t, rpcErr)
				assert.Equal(t, test.reply, reply)
				return
			}
			require.NotNil(t, rpcErr)
			assert.Equal(t, test.code, rpcErr.Code)
			assert.Equal(t, test.message, rpcErr.Message)
			assert.Nil(t, reply)
		})
	}
}
