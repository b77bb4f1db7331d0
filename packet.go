package eqws

import (
	"fmt"

	"github.com/pkg/errors"
)

type PacketType uint8

const (
	PacketMessage PacketType = 0
	PacketEvent   PacketType = 1
	PacketRPC     PacketType = 2
)

func (t PacketType) Is(other PacketType) bool {
	return t == other
}

func (t PacketType) IsMessage() bool {
	return t.Is(PacketMessage)
}

func (t PacketType) IsEvent() bool {
	return t.Is(PacketEvent)
}

func (t PacketType) IsRPC() bool {
	return t.Is(PacketRPC)
}

func (t PacketType) Valid() bool {
	return t <= PacketRPC
}

func (t PacketType) String() string {
	switch t {
	case PacketMessage:
		return "MESSAGE"
	case PacketEvent:
		return "EVENT"
	case PacketRPC:
		return "RPC"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
	}
}

// Packet is the unit of transmission: a type tag plus an ordered payload.
//
//	MESSAGE  [payload...]
//	EVENT    [name, args...]
//	RPC      [id, method, args]     (request)
//	RPC      [id, method, result]   (response)
type Packet struct {
	Type PacketType
	Data []any
}

func NewPacket(t PacketType, data ...any) Packet {
	return Packet{Type: t, Data: data}
}

func NewMessagePacket(payload any) Packet {
	return NewPacket(PacketMessage, payload)
}

func NewEventPacket(event string, args ...any) Packet {
	return NewPacket(PacketEvent, append([]any{event}, args...)...)
}

func NewRPCPacket(id, method string, args any) Packet {
	return NewPacket(PacketRPC, id, method, args)
}

func (p Packet) String() string {
	return fmt.Sprintf("Packet{type=%s,data=%v}", p.Type, p.Data)
}

// EventName returns the first payload element of an EVENT packet.
func (p Packet) EventName() (string, bool) {
	if !p.Type.IsEvent() || len(p.Data) == 0 {
		return "", false
	}
	name, ok := p.Data[0].(string)
	return name, ok && name != ""
}

// rpcParts splits an RPC packet into id, method and the third element, which
// is the args of a request or the result of a response.
func (p Packet) rpcParts() (id, method string, body any) {
	id, _ = p.Data[0].(string)
	method, _ = p.Data[1].(string)
	if len(p.Data) > 2 {
		body = p.Data[2]
	}
	return
}

// validatePacket checks the structure every codec enforces after decoding.
func validatePacket(p Packet) error {
	if !p.Type.Valid() {
		return errors.Wrapf(ErrInvalidPacket, "unknown packet type %d", p.Type)
	}

	switch p.Type {
	case PacketEvent:
		if _, ok := p.EventName(); !ok {
			return errors.Wrap(ErrInvalidPacket, "event packet without a name")
		}
	case PacketRPC:
		if len(p.Data) < 2 || len(p.Data) > 3 {
			return errors.Wrapf(ErrInvalidPacket, "rpc packet with %d elements", len(p.Data))
		}
		if id, ok := p.Data[0].(string); !ok || id == "" {
			return errors.Wrap(ErrInvalidPacket, "rpc packet without an id")
		}
		if _, ok := p.Data[1].(string); !ok {
			return errors.Wrap(ErrInvalidPacket, "rpc packet without a method")
		}
	}

	return nil
}

// packetFromWire rebuilds a packet from its decoded [type, data...] array.
func packetFromWire(items []any) (Packet, error) {
	if len(items) == 0 {
		return Packet{}, errors.Wrap(ErrMalformedPacket, "empty packet")
	}

	raw, ok := items[0].(float64)
	if !ok || raw < 0 || raw > 255 || raw != float64(uint8(raw)) {
		return Packet{}, errors.Wrapf(ErrMalformedPacket, "bad packet type %v", items[0])
	}

	return Packet{Type: PacketType(uint8(raw)), Data: items[1:]}, nil
}
