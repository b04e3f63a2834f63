package message

import "fmt"

// InternalType identifies the kind of message carried on the broker
// between stage replicas. Wire layout: u16 type, u64 client_id, then the
// type-specific fields below (spec §6, "Internal (broker) framing").
type InternalType uint16

const (
	InternalProtocol       InternalType = 0
	InternalProtocolResult InternalType = 1
	InternalEOF            InternalType = 2
	InternalEOFDiscovery   InternalType = 3
	InternalEOFAggregation InternalType = 4
	InternalEOFFinish      InternalType = 5
	InternalEOFResult      InternalType = 6
)

// ProtocolType distinguishes the two ingested datasets.
type ProtocolType byte

const (
	ProtocolFlight  ProtocolType = 0
	ProtocolAirport ProtocolType = 1
)

// ProcessedMessage records whether a replica processed a given message_id
// and whether that processing produced output — the unit
// EOFAggregation.possible_duplicates_processed_by is built from.
//
// Carried forward unchanged in meaning from
// original_source/commons/log_searcher.py's ProcessedMessage.
type ProcessedMessage struct {
	MessageID uint64
	Sent      bool
}

// Internal is implemented by every broker-internal message type. ClientID
// is pulled out of the common header so stage code can route without a
// type switch.
type Internal interface {
	Type() InternalType
	ClientID() uint64
	encodeBody(w *writer)
}

// EncodeInternal serializes any Internal message into the u16-type +
// u64-client_id + body wire format.
func EncodeInternal(m Internal) []byte {
	w := newWriter()
	w.putUint(uint64(m.Type()), 2)
	w.putUint(m.ClientID(), 8)
	m.encodeBody(w)
	return w.bytes()
}

// DecodeInternal parses a broker-internal message and returns the concrete
// type (one of *ProtocolMessage, *ProtocolResult, *EOFMessage,
// *EOFDiscovery, *EOFAggregation, *EOFFinish, *EOFResult).
func DecodeInternal(buf []byte) (Internal, error) {
	r := newReader(buf)
	typ, err := r.getUint(2)
	if err != nil {
		return nil, err
	}
	clientID, err := r.getUint(8)
	if err != nil {
		return nil, err
	}

	switch InternalType(typ) {
	case InternalProtocol:
		return decodeProtocolMessage(clientID, r)
	case InternalProtocolResult:
		return decodeProtocolResult(clientID, r)
	case InternalEOF:
		return decodeEOFMessage(clientID, r)
	case InternalEOFDiscovery:
		return decodeEOFDiscovery(clientID, r)
	case InternalEOFAggregation:
		return decodeEOFAggregation(clientID, r)
	case InternalEOFFinish:
		return decodeEOFFinish(clientID, r)
	case InternalEOFResult:
		return decodeEOFResult(clientID, r)
	default:
		return nil, fmt.Errorf("message: unknown internal type %d", typ)
	}
}

// ProtocolMessage carries one parsed record (a flight or airport row) from
// the server session to a stage, or between two stages.
type ProtocolMessage struct {
	ClientIDv uint64
	MessageID uint64
	Payload   string
}

func (m *ProtocolMessage) Type() InternalType { return InternalProtocol }
func (m *ProtocolMessage) ClientID() uint64   { return m.ClientIDv }
func (m *ProtocolMessage) encodeBody(w *writer) {
	w.putUint(m.MessageID, 8)
	w.putString(m.Payload)
}

func decodeProtocolMessage(clientID uint64, r *reader) (*ProtocolMessage, error) {
	messageID, err := r.getUint(8)
	if err != nil {
		return nil, err
	}
	return &ProtocolMessage{ClientIDv: clientID, MessageID: messageID, Payload: r.getStringToEnd()}, nil
}

// ProtocolResult carries one row of an analytical result, tagged with the
// query/tag it belongs to, from the terminal stage to the results listener.
type ProtocolResult struct {
	ClientIDv uint64
	TagID     byte
	MessageID uint64
	Payload   string
}

func (m *ProtocolResult) Type() InternalType { return InternalProtocolResult }
func (m *ProtocolResult) ClientID() uint64   { return m.ClientIDv }
func (m *ProtocolResult) encodeBody(w *writer) {
	w.putUint(uint64(m.TagID), 1)
	w.putUint(m.MessageID, 8)
	w.putString(m.Payload)
}

func decodeProtocolResult(clientID uint64, r *reader) (*ProtocolResult, error) {
	tagID, err := r.getUint(1)
	if err != nil {
		return nil, err
	}
	messageID, err := r.getUint(8)
	if err != nil {
		return nil, err
	}
	return &ProtocolResult{ClientIDv: clientID, TagID: byte(tagID), MessageID: messageID, Payload: r.getStringToEnd()}, nil
}

// EOFMessage announces that a sender (client or stage) believes it has
// emitted messages_sent distinct messages for this client and protocol
// type, with possible_duplicates listing ids it retried.
type EOFMessage struct {
	ClientIDv          uint64
	ProtocolType       ProtocolType
	MessagesSent       uint64
	PossibleDuplicates []uint64
}

func (m *EOFMessage) Type() InternalType { return InternalEOF }
func (m *EOFMessage) ClientID() uint64   { return m.ClientIDv }
func (m *EOFMessage) encodeBody(w *writer) {
	w.putUint(uint64(m.ProtocolType), 1)
	w.putUint(m.MessagesSent, 8)
	w.putUints(m.PossibleDuplicates, 8)
}

func decodeEOFMessage(clientID uint64, r *reader) (*EOFMessage, error) {
	pt, err := r.getUint(1)
	if err != nil {
		return nil, err
	}
	sent, err := r.getUint(8)
	if err != nil {
		return nil, err
	}
	dups, err := r.getUints(8)
	if err != nil {
		return nil, err
	}
	return &EOFMessage{ClientIDv: clientID, ProtocolType: ProtocolType(pt), MessagesSent: sent, PossibleDuplicates: dups}, nil
}

// EOFDiscovery circulates among a stage's replicas during ring Phase 1,
// accumulating receive/send counts and the union of possible_duplicates
// until ReplicaIDSeen covers the whole replica set (spec §4.6 Phase 1).
type EOFDiscovery struct {
	ClientIDv                  uint64
	OriginalMessagesSent       uint64
	OriginalPossibleDuplicates []uint64
	MessagesReceived           uint64
	MessagesSent               uint64
	PossibleDuplicates         []uint64
	ReplicaIDSeen              []uint64
}

func (m *EOFDiscovery) Type() InternalType { return InternalEOFDiscovery }
func (m *EOFDiscovery) ClientID() uint64   { return m.ClientIDv }
func (m *EOFDiscovery) encodeBody(w *writer) {
	w.putUint(m.OriginalMessagesSent, 8)
	w.putUints(m.OriginalPossibleDuplicates, 8)
	w.putUint(m.MessagesReceived, 8)
	w.putUint(m.MessagesSent, 8)
	w.putUints(m.PossibleDuplicates, 8)
	w.putUints(m.ReplicaIDSeen, 8)
}

func decodeEOFDiscovery(clientID uint64, r *reader) (*EOFDiscovery, error) {
	origSent, err := r.getUint(8)
	if err != nil {
		return nil, err
	}
	origDups, err := r.getUints(8)
	if err != nil {
		return nil, err
	}
	received, err := r.getUint(8)
	if err != nil {
		return nil, err
	}
	sent, err := r.getUint(8)
	if err != nil {
		return nil, err
	}
	dups, err := r.getUints(8)
	if err != nil {
		return nil, err
	}
	seen, err := r.getUints(8)
	if err != nil {
		return nil, err
	}
	return &EOFDiscovery{
		ClientIDv:                  clientID,
		OriginalMessagesSent:       origSent,
		OriginalPossibleDuplicates: origDups,
		MessagesReceived:           received,
		MessagesSent:               sent,
		PossibleDuplicates:         dups,
		ReplicaIDSeen:              seen,
	}, nil
}

// EOFAggregation is EOFDiscovery plus, once Phase 2 has visited a replica,
// that replica's contribution to possible_duplicates_processed_by (spec
// §4.6 Phase 2, §9 Open Question 3 — a single envelope shape with an
// optional processed-by field).
type EOFAggregation struct {
	ClientIDv                  uint64
	OriginalMessagesSent       uint64
	OriginalPossibleDuplicates []uint64
	MessagesReceived           uint64
	MessagesSent               uint64
	PossibleDuplicates         []uint64
	ReplicaIDSeen              []uint64
	PossibleDuplicatesProcessedBy []ProcessedMessage
}

func (m *EOFAggregation) Type() InternalType { return InternalEOFAggregation }
func (m *EOFAggregation) ClientID() uint64   { return m.ClientIDv }
func (m *EOFAggregation) encodeBody(w *writer) {
	w.putUint(m.OriginalMessagesSent, 8)
	w.putUints(m.OriginalPossibleDuplicates, 8)
	w.putUint(m.MessagesReceived, 8)
	w.putUint(m.MessagesSent, 8)
	w.putUints(m.PossibleDuplicates, 8)
	w.putUints(m.ReplicaIDSeen, 8)
	w.putProcessedMessages(m.PossibleDuplicatesProcessedBy)
}

func decodeEOFAggregation(clientID uint64, r *reader) (*EOFAggregation, error) {
	origSent, err := r.getUint(8)
	if err != nil {
		return nil, err
	}
	origDups, err := r.getUints(8)
	if err != nil {
		return nil, err
	}
	received, err := r.getUint(8)
	if err != nil {
		return nil, err
	}
	sent, err := r.getUint(8)
	if err != nil {
		return nil, err
	}
	dups, err := r.getUints(8)
	if err != nil {
		return nil, err
	}
	seen, err := r.getUints(8)
	if err != nil {
		return nil, err
	}
	processedBy, err := r.getProcessedMessages()
	if err != nil {
		return nil, err
	}
	return &EOFAggregation{
		ClientIDv:                     clientID,
		OriginalMessagesSent:          origSent,
		OriginalPossibleDuplicates:    origDups,
		MessagesReceived:              received,
		MessagesSent:                  sent,
		PossibleDuplicates:            dups,
		ReplicaIDSeen:                 seen,
		PossibleDuplicatesProcessedBy: processedBy,
	}, nil
}

// ToDiscovery strips the processed-by field, used when a stage must
// re-enter Phase 1 after a failed convergence check (spec §4.6 Phase 3).
func (m *EOFAggregation) ToDiscovery() *EOFDiscovery {
	return &EOFDiscovery{
		ClientIDv:                  m.ClientIDv,
		OriginalMessagesSent:       m.OriginalMessagesSent,
		OriginalPossibleDuplicates: m.OriginalPossibleDuplicates,
		MessagesReceived:           m.MessagesReceived,
		MessagesSent:               m.MessagesSent,
		PossibleDuplicates:         m.PossibleDuplicates,
		ReplicaIDSeen:              m.ReplicaIDSeen,
	}
}

// EOFFinish is emitted downstream once a stage has confirmed end-of-stream
// for a client; ReplicaIDSeen carries the replica set that contributed so
// the next stage can size its own ring without a config lookup.
type EOFFinish struct {
	ClientIDv     uint64
	MessagesSent  uint64
	ReplicaIDSeen []uint64
}

func (m *EOFFinish) Type() InternalType { return InternalEOFFinish }
func (m *EOFFinish) ClientID() uint64   { return m.ClientIDv }
func (m *EOFFinish) encodeBody(w *writer) {
	w.putUint(m.MessagesSent, 8)
	w.putUints(m.ReplicaIDSeen, 8)
}

func decodeEOFFinish(clientID uint64, r *reader) (*EOFFinish, error) {
	sent, err := r.getUint(8)
	if err != nil {
		return nil, err
	}
	seen, err := r.getUints(8)
	if err != nil {
		return nil, err
	}
	return &EOFFinish{ClientIDv: clientID, MessagesSent: sent, ReplicaIDSeen: seen}, nil
}

// EOFResult tells the results listener (and, from there, the client) how
// many distinct results to expect for one tag.
type EOFResult struct {
	ClientIDv    uint64
	TagID        byte
	MessagesSent uint64
}

func (m *EOFResult) Type() InternalType { return InternalEOFResult }
func (m *EOFResult) ClientID() uint64   { return m.ClientIDv }
func (m *EOFResult) encodeBody(w *writer) {
	w.putUint(uint64(m.TagID), 1)
	w.putUint(m.MessagesSent, 8)
}

func decodeEOFResult(clientID uint64, r *reader) (*EOFResult, error) {
	tagID, err := r.getUint(1)
	if err != nil {
		return nil, err
	}
	sent, err := r.getUint(8)
	if err != nil {
		return nil, err
	}
	return &EOFResult{ClientIDv: clientID, TagID: byte(tagID), MessagesSent: sent}, nil
}
