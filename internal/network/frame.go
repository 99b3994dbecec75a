package network

import (
	"errors"

	"google.golang.org/protobuf/encoding/protowire"
)

const (
	frameProtocol protowire.Number = 1
	frameSender   protowire.Number = 2
	framePayload  protowire.Number = 3
)

var errFrame = errors.New("malformed frame")

func encodeFrame(id ProtocolID, from string, payload []byte) []byte {
	b := make([]byte, 0, len(id)+len(from)+len(payload)+8)
	b = protowire.AppendTag(b, frameProtocol, protowire.BytesType)
	b = protowire.AppendString(b, string(id))
	b = protowire.AppendTag(b, frameSender, protowire.BytesType)
	b = protowire.AppendString(b, from)
	b = protowire.AppendTag(b, framePayload, protowire.BytesType)
	b = protowire.AppendBytes(b, payload)
	return b
}

func decodeFrame(b []byte) (ProtocolID, string, []byte, error) {
	var (
		id      ProtocolID
		from    string
		payload []byte
	)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return "", "", nil, errFrame
		}
		b = b[n:]
		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return "", "", nil, errFrame
			}
			b = b[n:]
			continue
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return "", "", nil, errFrame
		}
		b = b[n:]
		switch num {
		case frameProtocol:
			id = ProtocolID(v)
		case frameSender:
			from = string(v)
		case framePayload:
			// memberlist reuses its receive buffer.
			payload = append([]byte(nil), v...)
		}
	}
	if id == "" {
		return "", "", nil, errFrame
	}
	return id, from, payload, nil
}
