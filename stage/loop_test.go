package stage

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"flights-pipeline/broker"
	"flights-pipeline/dedup"
	"flights-pipeline/message"
	"flights-pipeline/wal"
)

// echoProcessor returns its input as a single output record, counting how
// many times Process was called — enough to assert the dedup check
// actually short-circuits reprocessing.
type echoProcessor struct {
	calls int
}

func (p *echoProcessor) Process(fields map[string]string) Response {
	p.calls++
	return One(fields)
}

func (p *echoProcessor) FinishProcessing() Response { return NoOutput() }

// bufferingProcessor accumulates every record it sees and only emits them
// once FinishProcessing is called, modeling processors.TwoFastest/Grouper.
type bufferingProcessor struct {
	buffered []map[string]string
}

func (p *bufferingProcessor) Process(fields map[string]string) Response {
	p.buffered = append(p.buffered, fields)
	return NoOutput()
}

func (p *bufferingProcessor) FinishProcessing() Response {
	return Many(p.buffered)
}

func newTestLoop(t *testing.T, cfg Config) (*Loop, *echoProcessor, *broker.MemoryBroker) {
	t.Helper()
	dir := t.TempDir()
	w, err := wal.Open(filepath.Join(dir, "stage.log"))
	if err != nil {
		t.Fatalf("wal.Open: %v", err)
	}
	t.Cleanup(func() { w.Close() })

	proc := &echoProcessor{}
	factory := func(uint64) Processor { return proc }

	b := broker.NewMemoryBroker()
	logger := log.New(os.Stderr, "", 0)
	l := New(cfg, factory, w, dedup.New(), b, logger)
	return l, proc, b
}

func baseConfig() Config {
	return Config{
		StageName:     "joiner",
		ReplicaID:     1,
		ReplicasCount: 1,
		InputQueue:    "joiner.in",
		OutputQueues:  []string{"grouper.in"},
		InputFields:   []string{"a", "b"},
		OutputFields:  []string{"a", "b"},
	}
}

func TestHandleProtocolProcessesAndPublishesOutput(t *testing.T) {
	l, proc, b := newTestLoop(t, baseConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out, err := b.ConsumeQueue(ctx, "grouper.in")
	if err != nil {
		t.Fatalf("ConsumeQueue: %v", err)
	}

	m := &message.ProtocolMessage{ClientIDv: 7, MessageID: 1, Payload: "x,y"}
	if err := l.handleProtocol(ctx, m); err != nil {
		t.Fatalf("handleProtocol: %v", err)
	}
	if proc.calls != 1 {
		t.Fatalf("processor called %d times, want 1", proc.calls)
	}
	if !l.catcher.SeenProcessed(7, 1) {
		t.Fatal("message should be marked processed after handleProtocol")
	}

	select {
	case d := <-out:
		if string(d.Body) == "" {
			t.Fatal("expected a published output body")
		}
		decoded, err := message.DecodeInternal(d.Body)
		if err != nil {
			t.Fatalf("decode published output: %v", err)
		}
		pm, ok := decoded.(*message.ProtocolMessage)
		if !ok {
			t.Fatalf("published message is %T, want *message.ProtocolMessage", decoded)
		}
		if pm.Payload != "x,y" {
			t.Errorf("got payload %q, want %q", pm.Payload, "x,y")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published output")
	}
}

func TestHandleProtocolDuplicateIsNotReprocessed(t *testing.T) {
	l, proc, _ := newTestLoop(t, baseConfig())
	ctx := context.Background()

	m := &message.ProtocolMessage{ClientIDv: 7, MessageID: 1, Payload: "x,y"}
	if err := l.handleProtocol(ctx, m); err != nil {
		t.Fatalf("first handleProtocol: %v", err)
	}
	if err := l.handleProtocol(ctx, m); err != nil {
		t.Fatalf("duplicate handleProtocol: %v", err)
	}
	if proc.calls != 1 {
		t.Fatalf("processor called %d times, want 1 (duplicate must be skipped)", proc.calls)
	}
}

func TestSingleReplicaEOFRingConverges(t *testing.T) {
	cfg := baseConfig() // ReplicasCount: 1
	l, _, b := newTestLoop(t, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	finishes, err := b.ConsumeQueue(ctx, "grouper.in")
	if err != nil {
		t.Fatalf("ConsumeQueue: %v", err)
	}

	m := &message.ProtocolMessage{ClientIDv: 9, MessageID: 1, Payload: "x,y"}
	if err := l.handleProtocol(ctx, m); err != nil {
		t.Fatalf("handleProtocol: %v", err)
	}

	// Client announces it sent exactly the one message this replica saw.
	if err := l.beginDiscovery(ctx, 9, 1, nil); err != nil {
		t.Fatalf("beginDiscovery: %v", err)
	}

	ring, err := b.ConsumeQueue(ctx, cfg.RingQueue(1))
	if err != nil {
		t.Fatalf("ConsumeQueue ring: %v", err)
	}

	select {
	case d := <-ring:
		if err := l.dispatch(ctx, d.Body); err != nil {
			t.Fatalf("dispatch self-addressed discovery envelope: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ring envelope to loop back")
	}

	select {
	case d := <-finishes:
		decoded, err := message.DecodeInternal(d.Body)
		if err != nil {
			t.Fatalf("decode finish: %v", err)
		}
		fin, ok := decoded.(*message.EOFFinish)
		if !ok {
			t.Fatalf("published downstream message is %T, want *message.EOFFinish", decoded)
		}
		if fin.ClientIDv != 9 {
			t.Errorf("got client_id %d, want 9", fin.ClientIDv)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for EOFFinish to be published downstream")
	}

	if l.catcher.Count(9) != 0 {
		t.Error("client state should be purged once the ring converges")
	}
}

// TestFinishFlushesBufferedProcessorOutput guards the EOF-convergence hook
// that calls Processor.FinishProcessing and publishes its buffered
// records before EOFFinish — the path processors.TwoFastest and
// processors.Grouper depend on entirely for their output.
func TestFinishFlushesBufferedProcessorOutput(t *testing.T) {
	cfg := baseConfig()
	dir := t.TempDir()
	w, err := wal.Open(filepath.Join(dir, "stage.log"))
	if err != nil {
		t.Fatalf("wal.Open: %v", err)
	}
	t.Cleanup(func() { w.Close() })

	proc := &bufferingProcessor{}
	b := broker.NewMemoryBroker()
	l := New(cfg, func(uint64) Processor { return proc }, w, dedup.New(), b, log.New(os.Stderr, "", 0))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out, err := b.ConsumeQueue(ctx, "grouper.in")
	if err != nil {
		t.Fatalf("ConsumeQueue: %v", err)
	}

	m := &message.ProtocolMessage{ClientIDv: 5, MessageID: 1, Payload: "x,y"}
	if err := l.handleProtocol(ctx, m); err != nil {
		t.Fatalf("handleProtocol: %v", err)
	}
	if len(proc.buffered) != 1 {
		t.Fatalf("expected Process to buffer the record, got %d buffered", len(proc.buffered))
	}

	if err := l.beginDiscovery(ctx, 5, 1, nil); err != nil {
		t.Fatalf("beginDiscovery: %v", err)
	}

	select {
	case d := <-out:
		decoded, err := message.DecodeInternal(d.Body)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		pm, ok := decoded.(*message.ProtocolMessage)
		if !ok {
			t.Fatalf("first downstream message is %T, want *message.ProtocolMessage (the buffered record)", decoded)
		}
		if pm.ClientIDv != 5 {
			t.Errorf("got client_id %d, want 5", pm.ClientIDv)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for buffered output to be flushed on finish")
	}

	select {
	case d := <-out:
		decoded, err := message.DecodeInternal(d.Body)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if _, ok := decoded.(*message.EOFFinish); !ok {
			t.Fatalf("second downstream message is %T, want *message.EOFFinish", decoded)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for EOFFinish after the buffered output")
	}
}

func TestRecoverRebuildsCatcherAndOutputCounter(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stage.log")
	w, err := wal.Open(path)
	if err != nil {
		t.Fatalf("wal.Open: %v", err)
	}
	for _, r := range []wal.Record{
		{Kind: wal.Received, ClientID: 3, MessageID: 1},
		{Kind: wal.Sent, ClientID: 3, MessageID: 101},
		{Kind: wal.Processed, ClientID: 3, MessageID: 1, Sent: true},
	} {
		if err := w.Append(r); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	w.Close()

	w2, err := wal.Open(path)
	if err != nil {
		t.Fatalf("re-open: %v", err)
	}
	defer w2.Close()

	factory := func(uint64) Processor { return &echoProcessor{} }
	l := New(baseConfig(), factory, w2, dedup.New(), broker.NewMemoryBroker(), log.New(os.Stderr, "", 0))
	if err := l.Recover(); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	if !l.catcher.SeenProcessed(3, 1) {
		t.Fatal("Recover should have marked message 1 as processed")
	}
	if got := l.client(3).nextOutputID; got != 101 {
		t.Fatalf("nextOutputID = %d, want 101", got)
	}
}
