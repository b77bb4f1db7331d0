package eqws

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// Call represents an active rpc. ID is assigned once the call is registered;
// read it after the call is done.
type Call struct {
	ID     string
	Method string
	Args   any
	Reply  any
	Error  error
	Done   chan *Call

	callback func(reply any, err error)
	timer    timer
	started  time.Time
	settled  atomic.Bool
}

func (c *Call) done() {
	select {
	case c.Done <- c:
	default:
		// Done is buffered by contract; a full channel means the caller reuses
		// it for several calls and is not draining it.
	}
	if c.callback != nil {
		c.callback(c.Reply, c.Error)
	}
}

// rpcRegistry holds the calls waiting for a response, keyed by correlation id.
type rpcRegistry struct {
	pending map[string]*Call
}

func newRPCRegistry() *rpcRegistry {
	return &rpcRegistry{pending: make(map[string]*Call)}
}

func (r *rpcRegistry) has(id string) bool {
	_, ok := r.pending[id]
	return ok
}

func (r *rpcRegistry) add(c *Call) {
	r.pending[c.ID] = c
}

// take removes and returns the call with id, or nil. Whoever takes a call
// owns its settlement.
func (r *rpcRegistry) take(id string) *Call {
	c, ok := r.pending[id]
	if !ok {
		return nil
	}
	delete(r.pending, id)
	return c
}

func (r *rpcRegistry) drain() []*Call {
	calls := make([]*Call, 0, len(r.pending))
	for id, c := range r.pending {
		delete(r.pending, id)
		calls = append(calls, c)
	}
	return calls
}

func (r *rpcRegistry) len() int {
	return len(r.pending)
}

// Go issues an rpc asynchronously. The call is sent on done once it settles;
// done must be buffered, or nil to allocate one.
func (s *Socket) Go(method string, args any, done chan *Call) *Call {
	if done == nil {
		done = make(chan *Call, 1)
	} else if cap(done) == 0 {
		panic("eqws: done channel is unbuffered")
	}

	call := &Call{Method: method, Args: args, Done: done}
	s.startCall(call)
	return call
}

// CallFunc issues an rpc and invokes fn with its outcome. fn runs on the
// socket's executor, like a listener, except for a call that times out
// before Open: fn then runs on the timer's goroutine.
func (s *Socket) CallFunc(method string, args any, fn func(reply any, err error)) *Call {
	call := &Call{Method: method, Args: args, Done: make(chan *Call, 1), callback: fn}
	s.startCall(call)
	return call
}

// Call issues an rpc and waits for it to settle. It fails with ErrRPCTimeout
// after the configured rpc timeout, with an *RPCError when the peer answers
// with an error code, or with ctx's error if ctx is done first.
func (s *Socket) Call(ctx context.Context, method string, args any) (any, error) {
	call := s.Go(method, args, make(chan *Call, 1))

	select {
	case <-call.Done:
		return call.Reply, call.Error
	case <-ctx.Done():
		s.exec.post(func() { s.abandon(call, ctx.Err()) })
		return nil, ctx.Err()
	}
}

// startCall arms the call's timeout on the caller's goroutine, so it runs
// whether or not the socket has been opened yet.
func (s *Socket) startCall(call *Call) {
	call.started = time.Now()
	call.timer = s.sched.AfterFunc(s.config.RPCTimeout, func() { s.timeout(call) })

	if !s.exec.post(func() { s.register(call) }) {
		s.settle(call, nil, errors.Wrap(ErrSocketClosed, call.Method), "closed")
	}
}

// timeout runs on the timer's goroutine. Without a running executor the call
// is settled right here; the queued expire still clears it from pending if
// the socket opens in between.
func (s *Socket) timeout(call *Call) {
	if s.exec.post(func() { s.expire(call) }) && s.exec.running() {
		return
	}
	s.finish(call, nil, s.timeoutError(call), "timeout")
}

func (s *Socket) timeoutError(call *Call) error {
	return errors.Wrapf(ErrRPCTimeout, "rpc %s after %s", call.Method, s.config.RPCTimeout)
}

func (s *Socket) register(call *Call) {
	if call.settled.Load() {
		return
	}
	if s.closed {
		s.settle(call, nil, errors.Wrap(ErrSocketClosed, call.Method), "closed")
		return
	}

	id := s.newID()
	for s.pending.has(id) {
		id = s.newID()
	}
	call.ID = id

	data, err := s.codec.Encode(NewRPCPacket(id, call.Method, call.Args))
	if err != nil {
		s.settle(call, nil, errors.Wrapf(err, "cannot encode rpc %s", call.Method), "encode_error")
		return
	}

	s.pending.add(call)

	s.write(outbound{
		kind: PacketRPC,
		data: data,
		onDrop: func(err error) {
			if c := s.pending.take(id); c != nil {
				s.settle(c, nil, errors.Wrapf(err, "rpc %s", c.Method), "dropped")
			}
		},
	})
}

func (s *Socket) expire(call *Call) {
	if c := s.pending.take(call.ID); c != nil && c != call {
		s.pending.add(c)
	}
	s.finish(call, nil, s.timeoutError(call), "timeout")
}

// abandon settles a call whose caller stopped waiting.
func (s *Socket) abandon(call *Call, err error) {
	if c := s.pending.take(call.ID); c == call {
		s.settle(call, nil, err, "cancelled")
	} else if c != nil {
		s.pending.add(c)
	}
}

// resolve settles the call a response packet answers. Responses for unknown
// or already settled ids are ignored.
func (s *Socket) resolve(p Packet) {
	id, method, result := p.rpcParts()

	call := s.pending.take(id)
	if call == nil {
		s.logger.Debugf("ignoring rpc response id=%s method=%s: no pending call", id, method)
		return
	}

	reply, rpcErr := parseRPCResult(result)
	if rpcErr != nil {
		s.settle(call, nil, rpcErr, "error")
		s.raise(EventError, rpcErr)
		return
	}

	s.settle(call, reply, nil, "ok")
}

// settle stops the call's timer and completes it. Only the first settlement
// of a call counts.
func (s *Socket) settle(call *Call, reply any, err error, outcome string) {
	if call.timer != nil {
		call.timer.Stop()
	}
	s.finish(call, reply, err, outcome)
}

// finish completes a call without touching its timer, which may still be
// being assigned when the timer fires early.
func (s *Socket) finish(call *Call, reply any, err error, outcome string) {
	if !call.settled.CompareAndSwap(false, true) {
		return
	}
	if outcome == "timeout" {
		s.logger.Warnf("%s", err)
	}
	call.Reply = reply
	call.Error = err
	s.metrics.rpcSettled(outcome, call.started)
	call.done()
}

// parseRPCResult reads a response body: {"response": ...} on success,
// {"code": ..., "message": ...} on failure. A body that is not an object is
// the reply itself.
func parseRPCResult(result any) (any, *RPCError) {
	m, ok := result.(map[string]any)
	if !ok {
		return result, nil
	}

	if code, ok := m["code"]; ok && code != nil {
		message, _ := m["message"].(string)
		return nil, NewRPCError(code, message)
	}

	return m["response"], nil
}
