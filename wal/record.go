// Package wal implements the append-only, crash-recoverable log that backs
// every stage replica's Processor state. Every action the connection loop
// takes is logged before it is allowed to have an externally visible
// effect (spec §4.4), so replaying the log after a crash reconstructs
// exactly the set of decisions that were already durable.
package wal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
)

// Kind identifies what a LogRecord represents (spec §3 "LogRecord" entity).
type Kind byte

const (
	// Received marks that a replica accepted a ProtocolMessage for
	// processing, before the processor has run.
	Received Kind = 0
	// Sent marks that a replica published one output message downstream,
	// before the triggering PROCESSED record is written.
	Sent Kind = 1
	// Processed is the single commit point (spec §4.4 "Recovery"): once
	// this record exists for (client_id, message_id), the replica must
	// never reprocess that id.
	Processed Kind = 2
	// Connection marks that a replica started tracking a client_id —
	// informational, ignored by recovery.
	Connection Kind = 3
	// DupCatch marks that an incoming message was recognized as a
	// duplicate and skipped rather than reprocessed — informational,
	// does not affect recovery (dedup.Catcher is rebuilt from Processed
	// records alone).
	DupCatch Kind = 4
)

func (k Kind) String() string {
	switch k {
	case Received:
		return "RECEIVED"
	case Sent:
		return "SENT"
	case Processed:
		return "PROCESSED"
	case Connection:
		return "CONNECTION"
	case DupCatch:
		return "DUPCATCH"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", byte(k))
	}
}

// Record is one append-only log entry (spec §6 "Persisted state": u8 kind,
// u64 client_id, kind-specific payload). MessageID and Sent are only
// meaningful for the kinds that use them — see the per-kind doc on Kind.
type Record struct {
	Kind      Kind
	ClientID  uint64
	MessageID uint64
	Sent      bool
}

// recordLen returns the fixed wire size of a record of this kind,
// including the 1-byte kind tag — this is what makes "read back by
// fixed-size framing" (spec §6) possible without a length prefix.
func recordLen(k Kind) (int, error) {
	switch k {
	case Connection:
		return 1 + 8, nil
	case Received, Sent:
		return 1 + 8 + 8, nil
	case Processed, DupCatch:
		return 1 + 8 + 8 + 1, nil
	default:
		return 0, fmt.Errorf("wal: unknown record kind %d", k)
	}
}

// encode writes r in its fixed binary layout.
func (r Record) encode() ([]byte, error) {
	n, err := recordLen(r.Kind)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	buf[0] = byte(r.Kind)
	binary.BigEndian.PutUint64(buf[1:9], r.ClientID)
	switch r.Kind {
	case Connection:
		// no further fields
	case Received, Sent:
		binary.BigEndian.PutUint64(buf[9:17], r.MessageID)
	case Processed, DupCatch:
		binary.BigEndian.PutUint64(buf[9:17], r.MessageID)
		if r.Sent {
			buf[17] = 1
		}
	}
	return buf, nil
}

// decodeRecord reads one fixed-size record from r, given that its kind
// byte has already been consumed and is passed in as `kind`.
func decodeRecord(r io.Reader, kind Kind) (Record, error) {
	n, err := recordLen(kind)
	if err != nil {
		return Record{}, err
	}
	rest := make([]byte, n-1)
	if _, err := io.ReadFull(r, rest); err != nil {
		return Record{}, err
	}
	rec := Record{Kind: kind, ClientID: binary.BigEndian.Uint64(rest[0:8])}
	switch kind {
	case Connection:
	case Received, Sent:
		rec.MessageID = binary.BigEndian.Uint64(rest[8:16])
	case Processed, DupCatch:
		rec.MessageID = binary.BigEndian.Uint64(rest[8:16])
		rec.Sent = rest[16] != 0
	}
	return rec, nil
}

// Log is the append-only file for one stage replica. Writes are only ever
// made by that replica's connection loop (spec §5 "Shared-resource
// policy"); Replay may be called by anyone, read-only, typically once at
// startup.
type Log struct {
	mu   sync.Mutex
	file *os.File
	w    *bufio.Writer
}

// Open appends to (or creates) the log file at path. The suffix convention
// (one file per stage name) is the caller's responsibility — Open just
// takes a path.
func Open(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: open %s: %w", path, err)
	}
	return &Log{file: f, w: bufio.NewWriter(f)}, nil
}

// Append durably writes one record before returning. The caller (the
// stage connection loop) must not ack the triggering broker message, nor
// treat a PROCESSED record as committed, until Append has returned nil
// (spec §3 "writing is durable before the upstream ack").
func (l *Log) Append(rec Record) error {
	buf, err := rec.encode()
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.w.Write(buf); err != nil {
		return fmt.Errorf("wal: append: %w", err)
	}
	if err := l.w.Flush(); err != nil {
		return fmt.Errorf("wal: flush: %w", err)
	}
	return l.file.Sync()
}

// Replay reads every record from the start of the file, in order. It is
// meant to be called once, before any Append, to rebuild in-memory state
// (the duplicate catcher, output id counters) from durable history.
func (l *Log) Replay() ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.w.Flush(); err != nil {
		return nil, fmt.Errorf("wal: flush before replay: %w", err)
	}
	if _, err := l.file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("wal: seek: %w", err)
	}
	defer l.file.Seek(0, io.SeekEnd)

	br := bufio.NewReader(l.file)
	var records []Record
	for {
		kindByte, err := br.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("wal: read kind: %w", err)
		}
		rec, err := decodeRecord(br, Kind(kindByte))
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			// A torn write from a crash mid-Append: the last record is
			// incomplete. Treat it as if it never happened — the
			// upstream message that would have produced it will be
			// redelivered by the broker (spec §4.4 "Recovery").
			break
		}
		if err != nil {
			return nil, fmt.Errorf("wal: decode record: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// Close flushes and closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.w.Flush(); err != nil {
		return err
	}
	return l.file.Close()
}
