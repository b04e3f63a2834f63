package codec

import "flights-pipeline/message"

// BinaryCodec is the production codec: it delegates straight to
// message.EncodeInternal/DecodeInternal, the tagged u16-type + u64-
// client_id + type-specific-fields layout spec §6 defines for internal
// broker framing.
type BinaryCodec struct{}

func (c *BinaryCodec) Encode(m message.Internal) ([]byte, error) {
	return message.EncodeInternal(m), nil
}

func (c *BinaryCodec) Decode(data []byte) (message.Internal, error) {
	return message.DecodeInternal(data)
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}
