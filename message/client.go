package message

import "fmt"

// ClientType identifies a client<->server frame. Wire layout: u8 type,
// u64 client_id, then the type-specific fields below (spec §6,
// "Client<->server framing").
type ClientType byte

const (
	ClientAnnounce     ClientType = 0
	ClientProtocol     ClientType = 1
	ClientResult       ClientType = 2
	ClientEOF          ClientType = 3
	ClientHealthCheck  ClientType = 4
	ClientHealthOK     ClientType = 5
	ClientAck          ClientType = 6
	ClientAnnounceAck  ClientType = 7
	ClientResultAck    ClientType = 8
	ClientResultEOF    ClientType = 9
)

// ClientFrame is implemented by every client<->server message type.
type ClientFrame interface {
	ClientType() ClientType
	ClientID() uint64
	encodeClientBody(w *writer)
}

// EncodeClient serializes any ClientFrame into the u8-type + u64-client-id
// + body wire format that protocol.Send writes as the frame body.
func EncodeClient(m ClientFrame) []byte {
	w := newWriter()
	w.putUint(uint64(m.ClientType()), 1)
	w.putUint(m.ClientID(), 8)
	m.encodeClientBody(w)
	return w.bytes()
}

// DecodeClient parses a client<->server frame body and returns the
// concrete type.
func DecodeClient(buf []byte) (ClientFrame, error) {
	r := newReader(buf)
	typ, err := r.getUint(1)
	if err != nil {
		return nil, err
	}
	clientID, err := r.getUint(8)
	if err != nil {
		return nil, err
	}

	switch ClientType(typ) {
	case ClientAnnounce:
		return &Announce{ClientIDv: clientID}, nil
	case ClientProtocol:
		return decodeProtocol(clientID, r)
	case ClientResult:
		return decodeResult(clientID, r)
	case ClientEOF:
		return decodeEOF(clientID, r)
	case ClientHealthCheck:
		return &HealthCheck{ClientIDv: clientID}, nil
	case ClientHealthOK:
		return &HealthOK{ClientIDv: clientID}, nil
	case ClientAck:
		return decodeAck(clientID, r)
	case ClientAnnounceAck:
		return &AnnounceAck{ClientIDv: clientID}, nil
	case ClientResultAck:
		return &ResultAck{ClientIDv: clientID}, nil
	case ClientResultEOF:
		return decodeResultEOF(clientID, r)
	default:
		return nil, fmt.Errorf("message: unknown client frame type %d", typ)
	}
}

// Announce is sent by the client (repeatedly, until acked) to identify
// itself to the server (spec §4.2 "Announce handshake").
type Announce struct{ ClientIDv uint64 }

func (m *Announce) ClientType() ClientType        { return ClientAnnounce }
func (m *Announce) ClientID() uint64               { return m.ClientIDv }
func (m *Announce) encodeClientBody(w *writer)      {}

// AnnounceAck acknowledges an Announce.
type AnnounceAck struct{ ClientIDv uint64 }

func (m *AnnounceAck) ClientType() ClientType   { return ClientAnnounceAck }
func (m *AnnounceAck) ClientID() uint64          { return m.ClientIDv }
func (m *AnnounceAck) encodeClientBody(w *writer) {}

// Protocol carries one parsed record line from the client's current send
// slot (spec §4.2 "Send loop").
type Protocol struct {
	ClientIDv    uint64
	MessageID    uint64
	ProtocolType ProtocolType
	Payload      string
}

func (m *Protocol) ClientType() ClientType { return ClientProtocol }
func (m *Protocol) ClientID() uint64        { return m.ClientIDv }
func (m *Protocol) encodeClientBody(w *writer) {
	w.putUint(m.MessageID, 8)
	w.putUint(uint64(m.ProtocolType), 1)
	w.putString(m.Payload)
}

func decodeProtocol(clientID uint64, r *reader) (*Protocol, error) {
	messageID, err := r.getUint(8)
	if err != nil {
		return nil, err
	}
	pt, err := r.getUint(1)
	if err != nil {
		return nil, err
	}
	return &Protocol{ClientIDv: clientID, MessageID: messageID, ProtocolType: ProtocolType(pt), Payload: r.getStringToEnd()}, nil
}

// Ack acknowledges one Protocol frame by message_id and protocol_type.
type Ack struct {
	ClientIDv    uint64
	MessageID    uint64
	ProtocolType ProtocolType
}

func (m *Ack) ClientType() ClientType { return ClientAck }
func (m *Ack) ClientID() uint64        { return m.ClientIDv }
func (m *Ack) encodeClientBody(w *writer) {
	w.putUint(m.MessageID, 8)
	w.putUint(uint64(m.ProtocolType), 1)
}

func decodeAck(clientID uint64, r *reader) (*Ack, error) {
	messageID, err := r.getUint(8)
	if err != nil {
		return nil, err
	}
	pt, err := r.getUint(1)
	if err != nil {
		return nil, err
	}
	return &Ack{ClientIDv: clientID, MessageID: messageID, ProtocolType: ProtocolType(pt)}, nil
}

// EOF announces end-of-stream for one protocol_type (spec §4.2 "EOF of a
// stream"). PossibleDuplicates is the accumulated set of message_ids the
// client had to resend because of a reconnect.
type EOF struct {
	ClientIDv          uint64
	ProtocolType       ProtocolType
	MessagesSent       uint64
	PossibleDuplicates []uint64
}

func (m *EOF) ClientType() ClientType { return ClientEOF }
func (m *EOF) ClientID() uint64        { return m.ClientIDv }
func (m *EOF) encodeClientBody(w *writer) {
	w.putUint(uint64(m.ProtocolType), 1)
	w.putUint(m.MessagesSent, 8)
	w.putUints(m.PossibleDuplicates, 8)
}

func decodeEOF(clientID uint64, r *reader) (*EOF, error) {
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
	return &EOF{ClientIDv: clientID, ProtocolType: ProtocolType(pt), MessagesSent: sent, PossibleDuplicates: dups}, nil
}

// HealthCheck and HealthOK are a bodyless liveness probe pair, independent
// of any client_id (the server answers on whichever connection asked).
type HealthCheck struct{ ClientIDv uint64 }

func (m *HealthCheck) ClientType() ClientType   { return ClientHealthCheck }
func (m *HealthCheck) ClientID() uint64          { return m.ClientIDv }
func (m *HealthCheck) encodeClientBody(w *writer) {}

type HealthOK struct{ ClientIDv uint64 }

func (m *HealthOK) ClientType() ClientType   { return ClientHealthOK }
func (m *HealthOK) ClientID() uint64          { return m.ClientIDv }
func (m *HealthOK) encodeClientBody(w *writer) {}

// Result carries one result row for one tag (spec §4.2 "Result loop").
type Result struct {
	ClientIDv uint64
	TagID     byte
	MessageID uint64
	Result    string
}

func (m *Result) ClientType() ClientType { return ClientResult }
func (m *Result) ClientID() uint64        { return m.ClientIDv }
func (m *Result) encodeClientBody(w *writer) {
	w.putUint(uint64(m.TagID), 1)
	w.putUint(m.MessageID, 8)
	w.putString(m.Result)
}

func decodeResult(clientID uint64, r *reader) (*Result, error) {
	tagID, err := r.getUint(1)
	if err != nil {
		return nil, err
	}
	messageID, err := r.getUint(8)
	if err != nil {
		return nil, err
	}
	return &Result{ClientIDv: clientID, TagID: byte(tagID), MessageID: messageID, Result: r.getStringToEnd()}, nil
}

// ResultAck acknowledges one Result or ResultEOF frame.
type ResultAck struct{ ClientIDv uint64 }

func (m *ResultAck) ClientType() ClientType   { return ClientResultAck }
func (m *ResultAck) ClientID() uint64          { return m.ClientIDv }
func (m *ResultAck) encodeClientBody(w *writer) {}

// ResultEOF tells the client how many distinct results to expect for one
// tag, so the result loop knows when that tag is complete.
type ResultEOF struct {
	ClientIDv    uint64
	TagID        byte
	MessagesSent uint64
}

func (m *ResultEOF) ClientType() ClientType { return ClientResultEOF }
func (m *ResultEOF) ClientID() uint64        { return m.ClientIDv }
func (m *ResultEOF) encodeClientBody(w *writer) {
	w.putUint(uint64(m.TagID), 1)
	w.putUint(m.MessagesSent, 8)
}

func decodeResultEOF(clientID uint64, r *reader) (*ResultEOF, error) {
	tagID, err := r.getUint(1)
	if err != nil {
		return nil, err
	}
	sent, err := r.getUint(8)
	if err != nil {
		return nil, err
	}
	return &ResultEOF{ClientIDv: clientID, TagID: byte(tagID), MessagesSent: sent}, nil
}
