package eqws

// onMessage decodes and validates an inbound frame. Frames that are not
// valid packets are dropped: the peer's garbage is not the application's error.
func (s *Socket) onMessage(data []byte) {
	s.logger.Debugf("received message size=%d", len(data))

	p, err := s.codec.Decode(data)
	if err != nil {
		s.logger.Debugf("dropping undecodable packet: %s", err)
		s.metrics.dropped("malformed")
		return
	}

	if err := s.codec.Validate(p); err != nil {
		s.logger.Debugf("dropping invalid packet: %s", err)
		s.metrics.dropped("invalid")
		return
	}

	s.metrics.received(p.Type)
	s.dispatch(p)
}

// dispatch routes a valid packet by type, then raises EventPacket with it.
func (s *Socket) dispatch(p Packet) {
	switch p.Type {
	case PacketMessage:
		s.raise(EventMessage, p.Data...)
	case PacketEvent:
		name, _ := p.EventName()
		s.raise(name, p.Data[1:]...)
	case PacketRPC:
		s.resolve(p)
	}

	s.raise(EventPacket, p)
}
