package eqws

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// mockTransport is a Transport driven by the test: open, closeRemote,
// deliver and fail fire the handlers the socket bound at construction.
type mockTransport struct {
	mock.Mock

	mu       sync.Mutex
	address  string
	bound    TransportHandlers
	handlers TransportHandlers
	state    ReadyState
	binary   bool
	sent     [][]byte
}

func newMockTransport(address string, h TransportHandlers) *mockTransport {
	m := &mockTransport{address: address, bound: h, handlers: h, state: StateConnecting}
	m.On("Close").Return(nil).Maybe()
	return m
}

func (m *mockTransport) ReadyState() ReadyState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *mockTransport) SetBinary(binary bool) {
	m.mu.Lock()
	m.binary = binary
	m.mu.Unlock()
}

func (m *mockTransport) Send(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateOpen {
		return ErrTransportNotOpen
	}
	m.sent = append(m.sent, data)
	return nil
}

func (m *mockTransport) Close() error {
	args := m.Called()
	m.mu.Lock()
	m.state = StateClosed
	m.mu.Unlock()
	return args.Error(0)
}

func (m *mockTransport) SetHandlers(h TransportHandlers) {
	m.mu.Lock()
	m.handlers = h
	m.mu.Unlock()
}

func (m *mockTransport) current() TransportHandlers {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handlers
}

func (m *mockTransport) open() {
	m.mu.Lock()
	m.state = StateOpen
	m.mu.Unlock()
	m.current().open()
}

func (m *mockTransport) closeRemote(reason error) {
	m.mu.Lock()
	m.state = StateClosed
	m.mu.Unlock()
	m.current().close(reason)
}

func (m *mockTransport) deliver(data []byte) {
	m.current().message(data)
}

func (m *mockTransport) fail(err error) {
	m.current().error(err)
}

func (m *mockTransport) written() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.sent))
	copy(out, m.sent)
	return out
}

func (m *mockTransport) writtenPackets(t *testing.T, codec Codec) []Packet {
	t.Helper()
	var packets []Packet
	for _, data := range m.written() {
		p, err := codec.Decode(data)
		require.NoError(t, err)
		packets = append(packets, p)
	}
	return packets
}

type transportRecorder struct {
	mu         sync.Mutex
	transports []*mockTransport
	err        error
}

func (r *transportRecorder) factory(_ context.Context, address string, h TransportHandlers) (Transport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	t := newMockTransport(address, h)
	r.transports = append(r.transports, t)
	return t, nil
}

func (r *transportRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.transports)
}

func (r *transportRecorder) last() *mockTransport {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.transports) == 0 {
		return nil
	}
	return r.transports[len(r.transports)-1]
}

type manualTimer struct {
	mu      sync.Mutex
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

func (t *manualTimer) active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.stopped && !t.fired
}

func (t *manualTimer) fire() {
	t.mu.Lock()
	if t.stopped || t.fired {
		t.mu.Unlock()
		return
	}
	t.fired = true
	t.mu.Unlock()
	t.f()
}

// manualScheduler records timers instead of running them; tests fire them.
type manualScheduler struct {
	mu     sync.Mutex
	timers []*manualTimer
}

func (s *manualScheduler) AfterFunc(d time.Duration, f func()) timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &manualTimer{d: d, f: f}
	s.timers = append(s.timers, t)
	return t
}

// activeWith returns the timers of duration d that have neither fired nor been stopped.
func (s *manualScheduler) activeWith(d time.Duration) []*manualTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*manualTimer
	for _, t := range s.timers {
		if t.d == d && t.active() {
			out = append(out, t)
		}
	}
	return out
}

func (s *manualScheduler) last() *manualTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.timers) == 0 {
		return nil
	}
	return s.timers[len(s.timers)-1]
}

type recordedEvent struct {
	name string
	args []any
}

type eventRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func recordEvents(s *Socket, names ...string) *eventRecorder {
	r := &eventRecorder{}
	for _, name := range names {
		name := name
		s.On(name, func(args ...any) {
			r.mu.Lock()
			r.events = append(r.events, recordedEvent{name: name, args: args})
			r.mu.Unlock()
		})
	}
	return r
}

func (r *eventRecorder) named(name string) []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recordedEvent
	for _, e := range r.events {
		if e.name == name {
			out = append(out, e)
		}
	}
	return out
}

func (r *eventRecorder) all() []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]recordedEvent, len(r.events))
	copy(out, r.events)
	return out
}

type testSocket struct {
	*Socket
	rec   *transportRecorder
	sched *manualScheduler
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Address = "ws://eqws.test/socket"
	cfg.ReconnectBase = 100 * time.Millisecond
	cfg.ReconnectStep = time.Second
	return cfg
}

// newTestSocket builds a socket wired to mock transports and a manual scheduler.
// It is not opened.
func newTestSocket(t *testing.T, cfg Config, opts ...Option) *testSocket {
	t.Helper()

	rec := &transportRecorder{}
	sched := &manualScheduler{}

	opts = append([]Option{
		WithTransportFactory(rec.factory),
		withScheduler(sched),
	}, opts...)

	s, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return &testSocket{Socket: s, rec: rec, sched: sched}
}

// openTestSocket opens the socket and waits for its first transport.
func openTestSocket(t *testing.T, cfg Config, opts ...Option) *testSocket {
	t.Helper()
	ts := newTestSocket(t, cfg, opts...)
	require.NoError(t, ts.Open(context.Background()))
	ts.idle(t)
	require.Equal(t, 1, ts.rec.count())
	return ts
}

// idle waits until the executor has no queued work, including work posted by
// the tasks it ran meanwhile.
func (ts *testSocket) idle(t *testing.T) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		empty := make(chan bool, 1)
		require.True(t, ts.exec.post(func() { empty <- ts.exec.queued() == 0 }), "executor stopped")
		select {
		case ok := <-empty:
			if ok {
				return
			}
		case <-deadline:
			t.Fatal("executor did not become idle")
		}
	}
}

func (e *executor) queued() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.tasks)
}

// onExecutor runs fn on the executor and waits for it.
func (ts *testSocket) onExecutor(t *testing.T, fn func()) {
	t.Helper()
	require.True(t, ts.exec.post(fn), "executor stopped")
	ts.idle(t)
}

func (ts *testSocket) pendingCalls(t *testing.T) int {
	t.Helper()
	var n int
	ts.onExecutor(t, func() { n = ts.pending.len() })
	return n
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return "id-" + strconv.Itoa(n)
	}
}

func waitCall(t *testing.T, call *Call) *Call {
	t.Helper()
	select {
	case c := <-call.Done:
		return c
	case <-time.After(2 * time.Second):
		t.Fatalf("call %s did not settle", call.Method)
		return nil
	}
}
