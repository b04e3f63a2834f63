package protocol

import (
	"bytes"
	"io"
	"testing"

	"flights-pipeline/message"
)

func TestSendRecvRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	want := &message.Protocol{
		ClientIDv:    7,
		MessageID:    1,
		ProtocolType: message.ProtocolFlight,
		Payload:      "AA123,EZE,MIA",
	}

	if err := Send(&buf, want); err != nil {
		t.Fatalf("Send: %v", err)
	}

	got, err := Recv(&buf)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	gotProtocol, ok := got.(*message.Protocol)
	if !ok {
		t.Fatalf("Recv returned %T, want *message.Protocol", got)
	}
	if *gotProtocol != *want {
		t.Errorf("round trip mismatch: got %#v, want %#v", gotProtocol, want)
	}
}

func TestRecvTruncatedHeaderIsFatal(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0x00, 0x00})
	if _, err := Recv(buf); err == nil {
		t.Fatal("expected an error reading a truncated length header")
	}
}

func TestRecvOversizedFrameIsRejected(t *testing.T) {
	var lenBuf [4]byte
	lenBuf[0] = 0xFF // bodyLen well above MaxFrameSize
	buf := bytes.NewBuffer(lenBuf[:])
	if _, err := Recv(buf); err == nil {
		t.Fatal("expected an error for an oversized frame body")
	}
}

func TestRecvEOFOnClosedConnection(t *testing.T) {
	buf := &bytes.Buffer{}
	if _, err := Recv(buf); err != io.EOF {
		t.Fatalf("expected io.EOF on an empty reader, got %v", err)
	}
}

func TestMultipleFramesOnOneStream(t *testing.T) {
	var buf bytes.Buffer
	frames := []message.ClientFrame{
		&message.Announce{ClientIDv: 1},
		&message.Protocol{ClientIDv: 1, MessageID: 1, ProtocolType: message.ProtocolFlight, Payload: "a"},
		&message.EOF{ClientIDv: 1, ProtocolType: message.ProtocolFlight, MessagesSent: 1},
	}
	for _, f := range frames {
		if err := Send(&buf, f); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	for _, want := range frames {
		got, err := Recv(&buf)
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		if got.ClientType() != want.ClientType() {
			t.Errorf("got type %v, want %v", got.ClientType(), want.ClientType())
		}
	}
}
