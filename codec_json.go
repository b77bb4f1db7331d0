package eqws

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// JSONCodec encodes packets as a JSON array: [type, data...].
type JSONCodec struct{}

func (JSONCodec) Encode(p Packet) ([]byte, error) {
	items := make([]any, 0, len(p.Data)+1)
	items = append(items, uint8(p.Type))
	items = append(items, p.Data...)

	bts, err := json.Marshal(items)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot encode %s packet", p.Type)
	}
	return bts, nil
}

func (JSONCodec) Decode(data []byte) (Packet, error) {
	var items []any
	if err := json.Unmarshal(data, &items); err != nil {
		return Packet{}, errors.Wrap(ErrMalformedPacket, err.Error())
	}
	return packetFromWire(items)
}

func (JSONCodec) Validate(p Packet) error {
	return validatePacket(p)
}

func (JSONCodec) Binary() bool { return false }
