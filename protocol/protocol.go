// Package protocol implements the client<->server framed transport.
//
// It solves TCP's sticky-packet problem the same way mini-rpc's wire
// protocol does: a fixed-size length header followed by a variable-length
// body. The receiver reads the length first, then reads exactly that many
// bytes, so a frame can never be split or merged with its neighbor
// regardless of how the kernel chooses to deliver bytes.
//
// Frame format (spec §4.1):
//
//	0           4                  4+bodyLen
//	┌───────────┬──────────────────────────┐
//	│  bodyLen  │           body            │
//	│  uint32   │  message.EncodeClient(m)  │
//	└───────────┴──────────────────────────┘
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"

	"flights-pipeline/message"
)

// MaxFrameSize bounds how large a single frame body may be. A length
// header claiming more than this is treated as a protocol violation
// rather than an attempt to allocate an unbounded buffer.
const MaxFrameSize = 64 << 20 // 64 MiB

// Send writes one complete frame (length header + body) to w. It blocks
// until the full frame has been written or the underlying writer errors.
func Send(w io.Writer, m message.ClientFrame) error {
	body := message.EncodeClient(m)
	return sendBody(w, body)
}

func sendBody(w io.Writer, body []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("protocol: write length header: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("protocol: write body: %w", err)
	}
	return nil
}

// Recv reads one complete frame from r and decodes its body into a
// ClientFrame. It blocks until a full frame has been read.
//
// A short or oversized length header, or a body that fails to decode, is
// a protocol violation (spec §7): fatal to the connection, but the caller
// is responsible for deciding that — Recv only returns the error.
func Recv(r io.Reader) (message.ClientFrame, error) {
	body, err := recvBody(r)
	if err != nil {
		return nil, err
	}
	frame, err := message.DecodeClient(body)
	if err != nil {
		return nil, fmt.Errorf("protocol: decode body: %w", err)
	}
	return frame, nil
}

func recvBody(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	bodyLen := binary.BigEndian.Uint32(lenBuf[:])
	if bodyLen > MaxFrameSize {
		return nil, fmt.Errorf("protocol: frame body too large: %d bytes", bodyLen)
	}
	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("protocol: read body: %w", err)
	}
	return body, nil
}
