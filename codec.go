package eqws

// Codec turns packets into wire bytes and back.
type Codec interface {
	// Encode serializes p. It does not validate it.
	Encode(p Packet) ([]byte, error)
	// Decode parses wire bytes. It fails with ErrMalformedPacket when the bytes
	// are not a packet at all; structurally odd packets decode fine and are
	// caught by Validate.
	Decode(data []byte) (Packet, error)
	// Validate reports ErrInvalidPacket when p does not have the shape its type requires.
	Validate(p Packet) error
	// Binary reports whether encoded packets must travel as binary frames.
	Binary() bool
}
