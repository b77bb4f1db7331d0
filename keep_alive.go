package eqws

import (
	"time"

	"github.com/pkg/errors"
)

type keepAlive struct {
	interval time.Duration
	method   string
	timer    timer
}

// WithKeepAlive calls method every interval while the transport is open. A
// call that times out means the connection is dead even if the transport has
// not noticed yet, so the socket reconnects.
func WithKeepAlive(interval time.Duration, method string) Option {
	return func(s *Socket) {
		s.keepAlive = &keepAlive{interval: interval, method: method}
	}
}

// scheduleKeepAlive arms the next ping for the current transport.
func (s *Socket) scheduleKeepAlive() {
	ka := s.keepAlive
	if ka == nil || s.binding == nil {
		return
	}

	b := s.binding
	ka.timer = s.sched.AfterFunc(ka.interval, func() {
		b.post(func() { s.ping(b) })
	})
}

func (s *Socket) stopKeepAlive() {
	if s.keepAlive == nil || s.keepAlive.timer == nil {
		return
	}
	s.keepAlive.timer.Stop()
	s.keepAlive.timer = nil
}

func (s *Socket) ping(b *transportBinding) {
	if !s.transportOpen() {
		return
	}

	s.CallFunc(s.keepAlive.method, nil, func(_ any, err error) {
		if s.closed || s.binding != b {
			return
		}
		if errors.Is(err, ErrRPCTimeout) {
			s.logger.Warnf("keep-alive %s timed out on transport #%d: reconnecting", s.keepAlive.method, b.id)
			s.reconnect()
			return
		}
		s.scheduleKeepAlive()
	})
}
