package eqws

import (
	"sync/atomic"

	"github.com/pkg/errors"
)

// transportBinding ties one transport's callbacks to the socket. Once
// detached, nothing that transport reports reaches the socket, including
// callbacks already queued on the executor.
type transportBinding struct {
	s        *Socket
	id       uint64
	detached atomic.Bool
}

var bindingSeq atomic.Uint64

func newTransportBinding(s *Socket) *transportBinding {
	return &transportBinding{s: s, id: bindingSeq.Add(1)}
}

func (b *transportBinding) post(fn func()) {
	if b.detached.Load() {
		return
	}
	b.s.exec.post(func() {
		if b.detached.Load() {
			return
		}
		fn()
	})
}

func (b *transportBinding) detach() {
	b.detached.Store(true)
}

func (b *transportBinding) handlers() TransportHandlers {
	return TransportHandlers{
		OnOpen: func() {
			b.post(b.s.onOpen)
		},
		OnClose: func(reason error) {
			b.post(func() { b.s.onClose(reason) })
		},
		OnMessage: func(data []byte) {
			b.post(func() { b.s.onMessage(data) })
		},
		OnError: func(err error) {
			b.post(func() { b.s.onError(err) })
		},
	}
}

// Reconnect drops the current transport, if any, and dials a new one. It is
// a no-op before Open and after Close.
func (s *Socket) Reconnect() {
	s.lifecycleMu.Lock()
	opened := s.opened
	s.lifecycleMu.Unlock()

	if !opened {
		return
	}
	s.exec.post(s.reconnect)
}

func (s *Socket) reconnect() {
	if s.closed {
		return
	}
	s.dropTransport()
	s.initialize()
}

// dropTransport detaches the current transport before closing it, so its
// close callback cannot schedule a reconnection of its own.
func (s *Socket) dropTransport() {
	if s.transport == nil {
		return
	}

	wasOpen := s.transport.ReadyState() == StateOpen

	s.stopKeepAlive()
	s.binding.detach()
	s.transport.SetHandlers(TransportHandlers{})
	if err := s.transport.Close(); err != nil {
		s.logger.Warnf("cannot close transport #%d: %s", s.binding.id, err)
	}
	if wasOpen {
		s.metrics.closed()
	}

	s.transport = nil
	s.binding = nil
	s.live.Store(nil)
}

func (s *Socket) initialize() {
	if s.closed {
		return
	}

	b := newTransportBinding(s)
	t, err := s.factory(s.ctx, s.address, b.handlers())
	if err != nil {
		s.onError(errors.Wrap(err, "cannot create transport"))
		return
	}

	t.SetBinary(s.codec.Binary())

	s.transport = t
	s.binding = b
	s.live.Store(&liveTransport{t: t})

	s.logger.Debugf("transport #%d connecting", b.id)
}

func (s *Socket) onOpen() {
	s.attempts = 0
	s.metrics.opened()
	s.logger.Infof("transport #%d open", s.binding.id)

	s.flush()
	s.scheduleKeepAlive()
	s.raise(EventConnected)
}

// onClose schedules the next attempt. The timer is not tied to this
// transport: when it fires it replaces whatever transport is current.
func (s *Socket) onClose(reason error) {
	s.attempts++
	delay := s.backoff(s.attempts)

	s.logger.Infof("transport #%d closed (%v): reconnecting in %s", s.binding.id, reason, delay)
	s.stopKeepAlive()
	s.metrics.closed()
	s.metrics.reconnectScheduled()

	s.reconnectTimer = s.sched.AfterFunc(delay, func() {
		s.exec.post(s.reconnect)
	})

	s.raise(EventDisconnect, reason)
}

func (s *Socket) onError(err error) {
	s.logger.Errorf("transport error: %s", err)
	s.metrics.transportError()
	s.raise(EventError, err)
}
