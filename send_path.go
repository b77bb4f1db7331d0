package eqws

import (
	"github.com/pkg/errors"
)

// outbound is an encoded packet waiting to be written. onDrop, when set, is
// told why the packet never made it to an open transport.
type outbound struct {
	kind   PacketType
	data   []byte
	onDrop func(error)
}

// outboundQueue is a bounded FIFO of packets held while the transport is not open.
type outboundQueue struct {
	items []outbound
	limit int
}

func newOutboundQueue(limit int) *outboundQueue {
	return &outboundQueue{limit: limit}
}

func (q *outboundQueue) push(o outbound) bool {
	if len(q.items) >= q.limit {
		return false
	}
	q.items = append(q.items, o)
	return true
}

func (q *outboundQueue) pop() (outbound, bool) {
	if len(q.items) == 0 {
		return outbound{}, false
	}
	o := q.items[0]
	q.items[0] = outbound{}
	q.items = q.items[1:]
	return o, true
}

func (q *outboundQueue) len() int {
	return len(q.items)
}

func (q *outboundQueue) reset() []outbound {
	items := q.items
	q.items = nil
	return items
}

// Send transmits payload. A Packet is sent as-is; anything else is wrapped
// in a MESSAGE packet. While the transport is not open the packet waits in
// the outbound queue.
func (s *Socket) Send(payload any) error {
	var p Packet

	switch v := payload.(type) {
	case Packet:
		p = v
	case *Packet:
		if v == nil {
			return errors.Wrap(ErrInvalidPacket, "nil packet")
		}
		p = *v
	default:
		p = NewMessagePacket(payload)
	}

	return s.sendPacket(p, nil)
}

// Emit transmits an EVENT packet [event, args...]. Reserved local event names
// are never transmitted.
func (s *Socket) Emit(event string, args ...any) error {
	if IsReservedEvent(event) {
		s.logger.Debugf("emit reserved event=%s: not transmitted", event)
		return nil
	}

	return s.sendPacket(NewEventPacket(event, args...), nil)
}

func (s *Socket) sendPacket(p Packet, onDrop func(error)) error {
	data, err := s.codec.Encode(p)
	if err != nil {
		return err
	}

	if !s.exec.post(func() { s.write(outbound{kind: p.Type, data: data, onDrop: onDrop}) }) {
		return ErrSocketClosed
	}
	return nil
}

func (s *Socket) transportOpen() bool {
	return s.transport != nil && s.transport.ReadyState() == StateOpen
}

func (s *Socket) write(o outbound) {
	if s.closed {
		s.drop(o, errors.Wrapf(ErrSocketClosed, "dropping %s packet", o.kind))
		return
	}

	if s.transportOpen() && s.outbound.len() == 0 {
		s.transmit(o)
		return
	}

	if !s.outbound.push(o) {
		err := errors.Wrapf(ErrOutboundQueueFull, "dropping %s packet", o.kind)
		s.logger.Warnf("%s", err)
		s.metrics.dropped("queue_full")
		s.drop(o, err)
		s.raise(EventError, err)
		return
	}

	s.metrics.queueDepth(s.outbound.len())
}

func (s *Socket) drop(o outbound, err error) {
	if o.onDrop != nil {
		o.onDrop(err)
	}
}

func (s *Socket) transmit(o outbound) {
	if err := s.transport.Send(o.data); err != nil {
		s.drop(o, err)
		s.onError(errors.Wrapf(err, "cannot write %s packet", o.kind))
		return
	}
	s.metrics.sent(o.kind)
}

// flush writes the queued packets in order for as long as the transport stays open.
func (s *Socket) flush() {
	for s.transportOpen() {
		o, ok := s.outbound.pop()
		if !ok {
			break
		}
		s.transmit(o)
	}
	s.metrics.queueDepth(s.outbound.len())
}
