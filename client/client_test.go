package client

import (
	"context"
	"log"
	"net"
	"os"
	"testing"
	"time"

	"flights-pipeline/message"
	"flights-pipeline/protocol"
)

// fakeServer is a hand-rolled stand-in for the real server, enough to
// drive the client's state machine end to end without a broker or stage
// pipeline behind it.
type fakeServer struct {
	ln net.Listener
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return &fakeServer{ln: ln}
}

func (s *fakeServer) addr() string { return s.ln.Addr().String() }
func (s *fakeServer) close()       { s.ln.Close() }

// acceptOnce accepts a single connection and runs handle on it in its own
// goroutine, returning immediately.
func (s *fakeServer) acceptOnce(handle func(net.Conn)) {
	go func() {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		handle(conn)
	}()
}

func TestConnectAnnounceSendAndReceiveResults(t *testing.T) {
	fs := newFakeServer(t)
	defer fs.close()

	fs.acceptOnce(func(conn net.Conn) {
		defer conn.Close()

		// Announce handshake: discard nothing else is expected here.
		f, err := protocol.Recv(conn)
		if err != nil {
			t.Errorf("server recv announce: %v", err)
			return
		}
		ann, ok := f.(*message.Announce)
		if !ok || ann.ClientIDv != 4 {
			t.Errorf("expected Announce{4}, got %#v", f)
			return
		}
		protocol.Send(conn, &message.AnnounceAck{ClientIDv: 4})

		// One protocol record.
		f, err = protocol.Recv(conn)
		if err != nil {
			t.Errorf("server recv protocol: %v", err)
			return
		}
		p, ok := f.(*message.Protocol)
		if !ok || p.MessageID != 1 || p.Payload != "a,b" {
			t.Errorf("unexpected protocol frame: %#v", f)
			return
		}
		protocol.Send(conn, &message.Ack{ClientIDv: 4, MessageID: p.MessageID, ProtocolType: p.ProtocolType})

		// EOF for that protocol type.
		f, err = protocol.Recv(conn)
		if err != nil {
			t.Errorf("server recv eof: %v", err)
			return
		}
		eof, ok := f.(*message.EOF)
		if !ok || eof.MessagesSent != 1 || len(eof.PossibleDuplicates) != 0 {
			t.Errorf("unexpected eof frame: %#v", f)
			return
		}
		protocol.Send(conn, &message.Ack{ClientIDv: 4, ProtocolType: eof.ProtocolType})

		// One result, then its RESULT_EOF.
		protocol.Send(conn, &message.Result{ClientIDv: 4, TagID: 1, MessageID: 1, Result: "ok"})
		protocol.Recv(conn) // ResultAck
		protocol.Send(conn, &message.ResultEOF{ClientIDv: 4, TagID: 1, MessagesSent: 1})
		protocol.Recv(conn) // ResultAck
	})

	cfg := Config{Addr: fs.addr(), ClientID: 4, ExpectedTags: 1, DialTimeout: time.Second, ReannounceEvery: 200 * time.Millisecond}
	c := New(cfg, log.New(os.Stderr, "", 0))

	outbound := make(chan Outbound, 2)
	outbound <- Outbound{Kind: SendRecord, ProtocolType: message.ProtocolType(1), Payload: "a,b"}
	outbound <- Outbound{Kind: EOFRecord, ProtocolType: message.ProtocolType(1)}
	close(outbound)

	results := make(chan Result, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx, outbound, results) }()

	select {
	case r := <-results:
		if r.TagID != 1 || r.MessageID != 1 || r.Result != "ok" {
			t.Fatalf("unexpected result: %#v", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for result")
	}

	if err := <-errCh; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestSendProtocolReconnectsAndMarksPossibleDuplicate(t *testing.T) {
	fs := newFakeServer(t)
	defer fs.close()

	// First connection: announces fine, then the socket dies right after
	// the client sends its protocol frame, before any ack.
	fs.acceptOnce(func(conn net.Conn) {
		f, _ := protocol.Recv(conn)
		if ann, ok := f.(*message.Announce); ok {
			protocol.Send(conn, &message.AnnounceAck{ClientIDv: ann.ClientIDv})
		}
		protocol.Recv(conn) // the Protocol frame, dropped
		conn.Close()
	})

	cfg := Config{Addr: fs.addr(), ClientID: 9, ExpectedTags: 1, DialTimeout: time.Second, ReannounceEvery: 200 * time.Millisecond}
	c := New(cfg, log.New(os.Stderr, "", 0))

	if err := c.connectAndAnnounce(context.Background()); err != nil {
		t.Fatalf("initial connect: %v", err)
	}

	// Second connection: acks the resend and expects it flagged as a
	// possible duplicate once the client reports EOF.
	done := make(chan struct{})
	fs.acceptOnce(func(conn net.Conn) {
		defer close(done)
		defer conn.Close()

		f, _ := protocol.Recv(conn)
		ann, ok := f.(*message.Announce)
		if !ok {
			t.Errorf("expected re-Announce, got %#v", f)
			return
		}
		protocol.Send(conn, &message.AnnounceAck{ClientIDv: ann.ClientIDv})

		f, err := protocol.Recv(conn)
		if err != nil {
			t.Errorf("recv resent protocol: %v", err)
			return
		}
		p, ok := f.(*message.Protocol)
		if !ok || p.MessageID != 1 {
			t.Errorf("expected resent Protocol{id=1}, got %#v", f)
			return
		}
		protocol.Send(conn, &message.Ack{ClientIDv: ann.ClientIDv, MessageID: p.MessageID, ProtocolType: p.ProtocolType})

		f, err = protocol.Recv(conn)
		if err != nil {
			t.Errorf("recv eof: %v", err)
			return
		}
		eof, ok := f.(*message.EOF)
		if !ok {
			t.Errorf("expected EOF, got %#v", f)
			return
		}
		if len(eof.PossibleDuplicates) != 1 || eof.PossibleDuplicates[0] != 1 {
			t.Errorf("expected possible_duplicates=[1], got %v", eof.PossibleDuplicates)
		}
		protocol.Send(conn, &message.Ack{ClientIDv: ann.ClientIDv, ProtocolType: eof.ProtocolType})
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := c.sendProtocol(ctx, message.ProtocolType(1), "x,y"); err != nil {
		t.Fatalf("sendProtocol: %v", err)
	}
	if err := c.sendEOF(ctx, message.ProtocolType(1)); err != nil {
		t.Fatalf("sendEOF: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for second connection to finish")
	}
}

func TestResultLoopDeduplicatesByTagAndMessageID(t *testing.T) {
	fs := newFakeServer(t)
	defer fs.close()

	fs.acceptOnce(func(conn net.Conn) {
		defer conn.Close()
		// A duplicate delivery of the same (tag, message_id) must only
		// surface once to the caller.
		protocol.Send(conn, &message.Result{ClientIDv: 1, TagID: 2, MessageID: 5, Result: "first"})
		protocol.Recv(conn)
		protocol.Send(conn, &message.Result{ClientIDv: 1, TagID: 2, MessageID: 5, Result: "first"})
		protocol.Recv(conn)
		protocol.Send(conn, &message.ResultEOF{ClientIDv: 1, TagID: 2, MessagesSent: 1})
		protocol.Recv(conn)
	})

	conn, err := net.Dial("tcp", fs.addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	cfg := Config{Addr: fs.addr(), ClientID: 1, ExpectedTags: 1, DialTimeout: time.Second}
	c := New(cfg, log.New(os.Stderr, "", 0))
	c.conn = conn // this test drives resultLoop directly, skipping the handshake

	results := make(chan Result, 2)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := c.resultLoop(ctx, results); err != nil {
		t.Fatalf("resultLoop: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1 (duplicate must be suppressed)", len(results))
	}
}
