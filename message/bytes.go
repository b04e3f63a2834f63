// Package message defines the wire types exchanged on both the
// client<->server framed transport and the internal broker transport.
//
// Every message is built from the same primitives: fixed-width big-endian
// integers, UTF-8 strings that run to the end of the body, and
// count-prefixed (u32) lists of fixed-width elements. writer/reader below
// give every message type a single small vocabulary to encode/decode with,
// mirroring codec/binary_codec.go's length-prefixed buffer discipline.
package message

import (
	"encoding/binary"
	"fmt"
)

// writer accumulates a message body into a single contiguous buffer.
// Like binary_codec.go's Encode, callers write fields in wire order;
// there is no backtracking.
type writer struct {
	buf []byte
}

func newWriter() *writer {
	return &writer{buf: make([]byte, 0, 64)}
}

// putUint writes n as a big-endian unsigned integer occupying size bytes
// (1, 2, 4, or 8).
func (w *writer) putUint(v uint64, size int) {
	switch size {
	case 1:
		w.buf = append(w.buf, byte(v))
	case 2:
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], uint16(v))
		w.buf = append(w.buf, b[:]...)
	case 4:
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(v))
		w.buf = append(w.buf, b[:]...)
	case 8:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], v)
		w.buf = append(w.buf, b[:]...)
	default:
		panic(fmt.Sprintf("message: unsupported uint size %d", size))
	}
}

// putUints writes a u32 count prefix followed by each value in ids encoded
// as a big-endian unsigned integer of size bytes — the "count-prefixed
// variable section" shape used by dup_ids, replica_id_seen, and friends.
func (w *writer) putUints(ids []uint64, size int) {
	w.putUint(uint64(len(ids)), 4)
	for _, id := range ids {
		w.putUint(id, size)
	}
}

// putString writes raw UTF-8 bytes with no length prefix — used for the
// trailing payload/result fields that run to the end of the body.
func (w *writer) putString(s string) {
	w.buf = append(w.buf, []byte(s)...)
}

func (w *writer) putProcessedMessages(pms []ProcessedMessage) {
	w.putUint(uint64(len(pms)), 4)
	for _, pm := range pms {
		if pm.Sent {
			w.buf = append(w.buf, 1)
		} else {
			w.buf = append(w.buf, 0)
		}
		w.putUint(pm.MessageID, 8)
	}
}

func (w *writer) bytes() []byte {
	return w.buf
}

// reader consumes a message body in wire order. A short buffer turns any
// read into an error instead of a panic, so a truncated frame from a
// corrupt or adversarial peer is a protocol violation, not a crash.
type reader struct {
	buf []byte
	pos int
}

func newReader(buf []byte) *reader {
	return &reader{buf: buf}
}

func (r *reader) getUint(size int) (uint64, error) {
	if r.pos+size > len(r.buf) {
		return 0, fmt.Errorf("message: short read: need %d bytes at offset %d, have %d", size, r.pos, len(r.buf))
	}
	chunk := r.buf[r.pos : r.pos+size]
	r.pos += size
	switch size {
	case 1:
		return uint64(chunk[0]), nil
	case 2:
		return uint64(binary.BigEndian.Uint16(chunk)), nil
	case 4:
		return uint64(binary.BigEndian.Uint32(chunk)), nil
	case 8:
		return binary.BigEndian.Uint64(chunk), nil
	default:
		return 0, fmt.Errorf("message: unsupported uint size %d", size)
	}
}

func (r *reader) getUints(size int) ([]uint64, error) {
	count, err := r.getUint(4)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}
	ids := make([]uint64, 0, count)
	for i := uint64(0); i < count; i++ {
		id, err := r.getUint(size)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *reader) getProcessedMessages() ([]ProcessedMessage, error) {
	count, err := r.getUint(4)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}
	pms := make([]ProcessedMessage, 0, count)
	for i := uint64(0); i < count; i++ {
		sentByte, err := r.getUint(1)
		if err != nil {
			return nil, err
		}
		id, err := r.getUint(8)
		if err != nil {
			return nil, err
		}
		pms = append(pms, ProcessedMessage{MessageID: id, Sent: sentByte != 0})
	}
	return pms, nil
}

// getStringToEnd consumes every remaining byte in the body as a UTF-8
// string. It is always the last field of a message that uses it.
func (r *reader) getStringToEnd() string {
	s := string(r.buf[r.pos:])
	r.pos = len(r.buf)
	return s
}
