// Package codec provides the pluggable serialization layer for the
// internal (stage-to-stage) message body carried inside every
// broker.Delivery. It defines a Codec interface with two
// implementations:
//   - BinaryCodec: the production wire format, delegating to
//     message.EncodeInternal/DecodeInternal (spec §6 "Internal (broker)
//     framing").
//   - JSONCodec: a human-readable format used to dump broker traffic for
//     debugging (e.g. into a log line).
//
// The codec in use is a per-stage config choice, not negotiated on the
// wire — every replica of a stage and every stage it talks to must agree
// on one codec, since the broker carries opaque bytes.
package codec

import "flights-pipeline/message"

// CodecType identifies the serialization format.
type CodecType byte

const (
	CodecTypeBinary CodecType = 0
	CodecTypeJSON   CodecType = 1
)

// Codec serializes and deserializes message.Internal envelopes for the
// broker transport.
type Codec interface {
	Encode(m message.Internal) ([]byte, error)
	Decode(data []byte) (message.Internal, error)
	Type() CodecType
}

// GetCodec is a factory function that returns the appropriate codec by
// type. Unknown types fall back to BinaryCodec, the production default.
func GetCodec(codecType CodecType) Codec {
	if codecType == CodecTypeJSON {
		return &JSONCodec{}
	}
	return &BinaryCodec{}
}
