package eqws

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Local events raised by a Socket.
const (
	EventConnected  = "connected"
	EventDisconnect = "disconnect"
	EventMessage    = "message"
	EventPacket     = "packet"
	EventError      = "error"
)

// reservedEvents are local-only: Emit never transmits them.
var reservedEvents = map[string]struct{}{
	EventConnected:  {},
	EventDisconnect: {},
	EventMessage:    {},
	EventPacket:     {},
	EventError:      {},
}

func IsReservedEvent(name string) bool {
	_, ok := reservedEvents[name]
	return ok
}

type liveTransport struct {
	t Transport
}

// Socket keeps one transport to the server alive, reconnecting with a linear
// backoff, and multiplexes messages, events and rpc calls over it.
//
// All connection, queue and rpc state is owned by a single executor
// goroutine: transport callbacks, timers and public methods post work to it
// and each piece of work runs to completion before the next. Listeners run on
// that goroutine too, so they must not block; in particular they must use Go
// or CallFunc instead of Call.
type Socket struct {
	config  Config
	address string

	logger  logger
	codec   Codec
	factory TransportFactory
	backoff backoffCalculator
	sched   scheduler
	newID   func() string
	metrics *Metrics

	emitter *EventEmitterCallback[string, []any]
	exec    *executor
	live    atomic.Pointer[liveTransport]

	// executor-confined state
	ctx            context.Context
	transport      Transport
	binding        *transportBinding
	attempts       int
	reconnectTimer timer
	outbound       *outboundQueue
	pending        *rpcRegistry
	keepAlive      *keepAlive
	closed         bool

	lifecycleMu sync.Mutex
	opened      bool
	closing     bool
	cancel      context.CancelFunc
	closeOnce   sync.Once
}

// New builds a Socket from cfg. Nothing is dialed until Open. With the
// default transport factory, an address that can never be dialed is
// rejected with ErrUnreachableAddress.
func New(cfg Config, opts ...Option) (*Socket, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Socket{
		config:   cfg,
		address:  cfg.ResolveAddress(),
		codec:    JSONCodec{},
		backoff:  LinearBackoff(cfg.ReconnectBase, cfg.ReconnectStep),
		sched:    clockScheduler{},
		newID:    uuid.NewString,
		emitter:  NewEventEmitter[string, []any](),
		exec:     newExecutor(),
		outbound: newOutboundQueue(cfg.OutboundQueueSize),
		pending:  newRPCRegistry(),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = nopLogger()
	}
	s.logger = s.logger.WithField("address", s.address)

	if s.factory == nil {
		if _, err := parseWebsocketURL(s.address); err != nil {
			return nil, err
		}
		s.factory = DefaultTransportFactory(s.logger)
	}

	return s, nil
}

// Open starts the executor and the first connection attempt. Cancelling ctx
// closes the socket.
func (s *Socket) Open(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.closing {
		return ErrSocketClosed
	}
	if s.opened {
		return errors.New("socket already open")
	}
	s.opened = true

	ctx, s.cancel = context.WithCancel(ctx)

	s.exec.post(func() { s.ctx = ctx })
	s.exec.post(s.reconnect)

	go s.exec.run()
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.exec.done:
		}
	}()

	return nil
}

// Close stops reconnecting, closes the transport and settles every pending
// call with ErrSocketClosed. It must not be called from a listener.
func (s *Socket) Close() error {
	s.closeOnce.Do(func() {
		s.lifecycleMu.Lock()
		s.closing = true
		opened := s.opened
		s.exec.post(s.shutdown)
		s.lifecycleMu.Unlock()

		if !opened {
			// Nobody runs the executor: flush it here so queued calls settle.
			s.exec.run()
			return
		}

		<-s.exec.done
		s.cancel()
	})
	return nil
}

func (s *Socket) shutdown() {
	s.closed = true

	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}

	s.dropTransport()
	s.outbound.reset()
	s.metrics.queueDepth(0)

	for _, call := range s.pending.drain() {
		s.settle(call, nil, errors.Wrap(ErrSocketClosed, call.Method), "closed")
	}

	s.exec.stop()
	s.emitter.Close()
	s.logger.Infoln("socket closed")
}

// State reports the ready state of the current transport.
func (s *Socket) State() ReadyState {
	if l := s.live.Load(); l != nil && l.t != nil {
		return l.t.ReadyState()
	}
	return StateClosed
}

// On subscribes fn to a local event.
func (s *Socket) On(event string, fn Listener) func() {
	return s.emitter.On(event, func(args []any) { fn(args...) })
}

// Once subscribes fn to the next occurrence of a local event.
func (s *Socket) Once(event string, fn Listener) func() {
	return s.emitter.Once(event, func(args []any) { fn(args...) })
}

// Off removes every listener of a local event.
func (s *Socket) Off(event string) {
	s.emitter.Off(event)
}

func (s *Socket) ListenerCount(event string) int {
	return s.emitter.ListenerCount(event)
}

// raise delivers a local event to the listeners. It never transmits anything.
func (s *Socket) raise(event string, args ...any) {
	s.emitter.Emit(event, args)
}
