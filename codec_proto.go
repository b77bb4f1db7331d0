package eqws

import (
	"encoding/json"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// ProtoCodec encodes packets as a protobuf google.protobuf.ListValue holding
// [type, data...]. Payloads are normalized through their JSON form first so
// structs and typed maps are accepted, the same values JSONCodec accepts.
type ProtoCodec struct{}

func (ProtoCodec) Encode(p Packet) ([]byte, error) {
	items := make([]any, 0, len(p.Data)+1)
	items = append(items, float64(p.Type))

	for _, d := range p.Data {
		v, err := normalizeValue(d)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot encode %s packet", p.Type)
		}
		items = append(items, v)
	}

	list, err := structpb.NewList(items)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot encode %s packet", p.Type)
	}

	bts, err := proto.Marshal(list)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot encode %s packet", p.Type)
	}
	return bts, nil
}

func (ProtoCodec) Decode(data []byte) (Packet, error) {
	list := &structpb.ListValue{}
	if err := proto.Unmarshal(data, list); err != nil {
		return Packet{}, errors.Wrap(ErrMalformedPacket, err.Error())
	}
	return packetFromWire(list.AsSlice())
}

func (ProtoCodec) Validate(p Packet) error {
	return validatePacket(p)
}

func (ProtoCodec) Binary() bool { return true }

func normalizeValue(v any) (any, error) {
	switch v.(type) {
	case nil, bool, string, float64:
		return v, nil
	}

	bts, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(bts, &out); err != nil {
		return nil, err
	}
	return out, nil
}
