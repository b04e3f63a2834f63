package codec

import (
	"encoding/json"
	"fmt"

	"flights-pipeline/message"
)

// JSONCodec wraps the body in a {type, payload} envelope and marshals the
// concrete message.Internal struct as JSON. Pros: human-readable, easy to
// paste into a log line. Cons: larger
// and slower than BinaryCodec — not used on the hot path.
type JSONCodec struct{}

type jsonEnvelope struct {
	Type    message.InternalType `json:"type"`
	Payload json.RawMessage      `json:"payload"`
}

func (c *JSONCodec) Encode(m message.Internal) ([]byte, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return json.Marshal(jsonEnvelope{Type: m.Type(), Payload: payload})
}

func (c *JSONCodec) Decode(data []byte) (message.Internal, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}

	var out message.Internal
	switch env.Type {
	case message.InternalProtocol:
		out = &message.ProtocolMessage{}
	case message.InternalProtocolResult:
		out = &message.ProtocolResult{}
	case message.InternalEOF:
		out = &message.EOFMessage{}
	case message.InternalEOFDiscovery:
		out = &message.EOFDiscovery{}
	case message.InternalEOFAggregation:
		out = &message.EOFAggregation{}
	case message.InternalEOFFinish:
		out = &message.EOFFinish{}
	case message.InternalEOFResult:
		out = &message.EOFResult{}
	default:
		return nil, fmt.Errorf("codec: unknown internal type %d", env.Type)
	}

	if err := json.Unmarshal(env.Payload, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
