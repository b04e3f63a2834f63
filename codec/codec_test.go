package codec

import (
	"reflect"
	"testing"

	"flights-pipeline/message"
)

func testMessages() []message.Internal {
	return []message.Internal{
		&message.ProtocolMessage{ClientIDv: 7, MessageID: 3, Payload: "AA123,EZE,MIA"},
		&message.ProtocolResult{ClientIDv: 7, TagID: 2, MessageID: 9, Payload: "route,avg,max"},
		&message.EOFMessage{ClientIDv: 7, ProtocolType: message.ProtocolFlight, MessagesSent: 5, PossibleDuplicates: []uint64{3, 4}},
		&message.EOFDiscovery{
			ClientIDv:            7,
			OriginalMessagesSent: 5,
			MessagesReceived:     5,
			MessagesSent:         5,
			ReplicaIDSeen:        []uint64{1, 2},
		},
		&message.EOFAggregation{
			ClientIDv:                     7,
			OriginalMessagesSent:          5,
			MessagesReceived:              5,
			MessagesSent:                  5,
			ReplicaIDSeen:                 []uint64{1, 2},
			PossibleDuplicatesProcessedBy: []message.ProcessedMessage{{MessageID: 3, Sent: true}},
		},
		&message.EOFFinish{ClientIDv: 7, MessagesSent: 5, ReplicaIDSeen: []uint64{1, 2}},
		&message.EOFResult{ClientIDv: 7, TagID: 2, MessagesSent: 5},
	}
}

func TestJSONCodecRoundTrip(t *testing.T) {
	c := &JSONCodec{}
	for _, want := range testMessages() {
		data, err := c.Encode(want)
		if err != nil {
			t.Fatalf("Encode(%T): %v", want, err)
		}
		got, err := c.Decode(data)
		if err != nil {
			t.Fatalf("Decode(%T): %v", want, err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("round trip mismatch for %T: got %#v, want %#v", want, got, want)
		}
	}
}

func TestBinaryCodecRoundTrip(t *testing.T) {
	c := &BinaryCodec{}
	for _, want := range testMessages() {
		data, err := c.Encode(want)
		if err != nil {
			t.Fatalf("Encode(%T): %v", want, err)
		}
		got, err := c.Decode(data)
		if err != nil {
			t.Fatalf("Decode(%T): %v", want, err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("round trip mismatch for %T: got %#v, want %#v", want, got, want)
		}
	}
}

func TestGetCodec(t *testing.T) {
	if GetCodec(CodecTypeJSON).Type() != CodecTypeJSON {
		t.Error("GetCodec(CodecTypeJSON) returned the wrong type")
	}
	if GetCodec(CodecTypeBinary).Type() != CodecTypeBinary {
		t.Error("GetCodec(CodecTypeBinary) returned the wrong type")
	}
	if GetCodec(CodecType(99)).Type() != CodecTypeBinary {
		t.Error("GetCodec should default unknown types to BinaryCodec")
	}
}
