package stage

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"flights-pipeline/broker"
	"flights-pipeline/codec"
	"flights-pipeline/dedup"
	"flights-pipeline/eofring"
	"flights-pipeline/message"
	"flights-pipeline/wal"
)

// convergenceBackoff is how long a stage waits before re-entering Phase 1
// after a failed convergence check (spec §4.6 Phase 3: "the envelope
// re-enters Phase 1 after a backoff").
const convergenceBackoff = 2 * time.Second

// Config parameterizes one stage replica's loop.
type Config struct {
	StageName     string
	ReplicaID     uint64
	ReplicasCount uint64

	InputQueue   string
	OutputQueues []string

	InputFields  []string
	OutputFields []string
}

// QueueName addresses one stage replica's input queue. The server session
// and upstream stages publish directly to a specific replica's queue
// (picked by loadbalance.Balancer) rather than to a shared, competing-
// consumers queue, so that every message for a given shard key lands on
// the same replica and per-(client_id, protocol_type) ordering holds.
func QueueName(stageName string, replicaID int) string {
	return fmt.Sprintf("%s.%d", stageName, replicaID)
}

// RingQueue is the private per-replica inbox the EOF ring circulates
// through — every stage replica listens on its own, addressed by
// (stage name, replica id) rather than a shared work queue, since the
// ring protocol depends on hop order (spec §4.6 Phase 1 step 2).
func (c Config) RingQueue(replicaID uint64) string {
	return fmt.Sprintf("%s.ring.%d", c.StageName, replicaID)
}

// clientState is the per-client_id bookkeeping a replica keeps in memory;
// it is rebuilt from the write-ahead log at startup (spec §4.4 "Recovery")
// and discarded once EOFFinish has been emitted for that client.
type clientState struct {
	processor Processor

	nextOutputID uint64

	messagesReceived uint64
	messagesSent     uint64

	// localPossibleDuplicates are message_ids this replica has seen more
	// than once on its input (detected via the duplicate catcher) — its
	// contribution to the ring's possible_duplicates set (spec §4.6
	// Phase 1 step 1 "its local possible_duplicates").
	localPossibleDuplicates []uint64

	ring *eofring.Envelope
}

// Loop is one stage replica's connection loop (spec §4.4).
type Loop struct {
	cfg     Config
	factory Factory
	wal     *wal.Log
	catcher *dedup.Catcher
	broker  broker.Broker
	codec   codec.Codec
	logger  *log.Logger

	mu      sync.Mutex
	clients map[uint64]*clientState
}

// New builds a Loop. Call Recover before Run to rebuild state from an
// existing write-ahead log (e.g. after a crash). The broker body codec
// defaults to codec.BinaryCodec (the production format); call SetCodec to
// switch to codec.JSONCodec for debugging a replica's traffic.
func New(cfg Config, factory Factory, w *wal.Log, catcher *dedup.Catcher, b broker.Broker, logger *log.Logger) *Loop {
	return &Loop{
		cfg:     cfg,
		factory: factory,
		wal:     w,
		catcher: catcher,
		broker:  b,
		codec:   codec.GetCodec(codec.CodecTypeBinary),
		logger:  logger,
		clients: make(map[uint64]*clientState),
	}
}

// SetCodec overrides the broker body codec (spec §6 internal framing is
// the default; codec.JSONCodec trades wire compactness for a
// human-readable body).
func (l *Loop) SetCodec(c codec.Codec) {
	l.codec = c
}

// Recover replays the write-ahead log to rebuild the duplicate catcher and
// per-client output id counters (spec §4.4 "Recovery"). It must run
// before Run. A RECEIVED with no matching PROCESSED, or a SENT with no
// matching PROCESSED, is left alone deliberately — the single commit
// point is PROCESSED, and the redelivery the broker performs for an
// un-acked message will be handled as first-time or as a dedup hit,
// whichever the log actually committed.
func (l *Loop) Recover() error {
	records, err := l.wal.Replay()
	if err != nil {
		return fmt.Errorf("stage: recover: %w", err)
	}
	for _, r := range records {
		switch r.Kind {
		case wal.Processed:
			l.catcher.Mark(r.ClientID, r.MessageID, r.Sent)
		case wal.Sent:
			cs := l.client(r.ClientID)
			if r.MessageID > cs.nextOutputID {
				cs.nextOutputID = r.MessageID
			}
		}
	}
	return nil
}

func (l *Loop) client(clientID uint64) *clientState {
	l.mu.Lock()
	defer l.mu.Unlock()
	cs, ok := l.clients[clientID]
	if !ok {
		cs = &clientState{processor: l.factory(clientID)}
		l.clients[clientID] = cs
	}
	return cs
}

func (l *Loop) removeClient(clientID uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.clients, clientID)
}

// Run consumes both this replica's input queue and its private ring
// inbox until ctx is cancelled. Each delivery is dispatched, acked on
// success, and nacked with requeue on failure so the broker redelivers it
// (spec §4.4's durability contract depends on this).
func (l *Loop) Run(ctx context.Context) error {
	input, err := l.broker.ConsumeQueue(ctx, l.cfg.InputQueue)
	if err != nil {
		return fmt.Errorf("stage: consume input queue: %w", err)
	}
	ring, err := l.broker.ConsumeQueue(ctx, l.cfg.RingQueue(l.cfg.ReplicaID))
	if err != nil {
		return fmt.Errorf("stage: consume ring queue: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-input:
			if !ok {
				return nil
			}
			l.handleDelivery(ctx, d)
		case d, ok := <-ring:
			if !ok {
				return nil
			}
			l.handleDelivery(ctx, d)
		}
	}
}

func (l *Loop) handleDelivery(ctx context.Context, d broker.Delivery) {
	if err := l.dispatch(ctx, d.Body); err != nil {
		l.logger.Printf("stage %s replica %d: dispatch error: %v", l.cfg.StageName, l.cfg.ReplicaID, err)
		if nackErr := d.Nack(true); nackErr != nil {
			l.logger.Printf("stage %s replica %d: nack error: %v", l.cfg.StageName, l.cfg.ReplicaID, nackErr)
		}
		return
	}
	if err := d.Ack(); err != nil {
		l.logger.Printf("stage %s replica %d: ack error: %v", l.cfg.StageName, l.cfg.ReplicaID, err)
	}
}

func (l *Loop) dispatch(ctx context.Context, body []byte) error {
	m, err := l.codec.Decode(body)
	if err != nil {
		return fmt.Errorf("stage: decode: %w", err)
	}
	switch v := m.(type) {
	case *message.ProtocolMessage:
		return l.handleProtocol(ctx, v)
	case *message.EOFMessage:
		return l.beginDiscovery(ctx, v.ClientIDv, v.MessagesSent, v.PossibleDuplicates)
	case *message.EOFDiscovery:
		return l.handleDiscovery(ctx, v)
	case *message.EOFAggregation:
		return l.handleAggregation(ctx, v)
	case *message.EOFFinish:
		// The previous stage's Finish both seeds this stage's original
		// values and is the "upstream EOF" that starts this stage's own
		// ring (spec §4.4 pseudocode "elif m is EOFFinish:
		// finalize_client(m.client_id)" — finalizing here means
		// finalizing THIS stage's view, not skipping straight to purge).
		return l.beginDiscovery(ctx, v.ClientIDv, v.MessagesSent, nil)
	default:
		return fmt.Errorf("stage: unexpected internal message type %T", v)
	}
}

func (l *Loop) handleProtocol(ctx context.Context, m *message.ProtocolMessage) error {
	cs := l.client(m.ClientIDv)

	if l.catcher.SeenProcessed(m.ClientIDv, m.MessageID) {
		if err := l.wal.Append(wal.Record{Kind: wal.DupCatch, ClientID: m.ClientIDv, MessageID: m.MessageID}); err != nil {
			return err
		}
		l.mu.Lock()
		cs.localPossibleDuplicates = appendUnique(cs.localPossibleDuplicates, m.MessageID)
		l.mu.Unlock()
		return nil
	}

	cs.messagesReceived++
	fields := ParseFields(m.Payload, l.cfg.InputFields)

	if err := l.wal.Append(wal.Record{Kind: wal.Received, ClientID: m.ClientIDv, MessageID: m.MessageID}); err != nil {
		return err
	}

	resp := cs.processor.Process(fields)
	sent, err := l.emit(ctx, m.ClientIDv, cs, resp)
	if err != nil {
		return err
	}

	if err := l.wal.Append(wal.Record{Kind: wal.Processed, ClientID: m.ClientIDv, MessageID: m.MessageID, Sent: sent}); err != nil {
		return err
	}
	l.catcher.Mark(m.ClientIDv, m.MessageID, sent)

	if resp.Kind == SendEOF {
		return l.beginDiscovery(ctx, m.ClientIDv, cs.messagesReceived, cs.localPossibleDuplicates)
	}
	return nil
}

// emit publishes every output record in resp to every downstream output
// queue, logging SENT before each publish (spec §4.4).
func (l *Loop) emit(ctx context.Context, clientID uint64, cs *clientState, resp Response) (sent bool, err error) {
	for _, fields := range resp.Fields {
		l.mu.Lock()
		cs.nextOutputID++
		id := cs.nextOutputID
		l.mu.Unlock()

		if err := l.wal.Append(wal.Record{Kind: wal.Sent, ClientID: clientID, MessageID: id}); err != nil {
			return false, err
		}
		payload := EncodeFields(fields, l.cfg.OutputFields)
		body, err := l.codec.Encode(&message.ProtocolMessage{ClientIDv: clientID, MessageID: id, Payload: payload})
		if err != nil {
			return false, fmt.Errorf("stage: encode output: %w", err)
		}
		queues := l.cfg.OutputQueues
		if router, ok := cs.processor.(Router); ok {
			if queue, ok := router.Route(fields); ok {
				queues = []string{queue}
			}
		}
		for _, q := range queues {
			if err := l.broker.PublishToQueue(ctx, q, body); err != nil {
				return false, fmt.Errorf("stage: publish to %s: %w", q, err)
			}
		}
		cs.messagesSent++
	}
	return len(resp.Fields) > 0, nil
}

func (l *Loop) beginDiscovery(ctx context.Context, clientID uint64, originalSent uint64, originalDups []uint64) error {
	cs := l.client(clientID)
	env := eofring.StartDiscovery(clientID, l.cfg.ReplicaID, originalSent, originalDups, cs.messagesReceived, cs.messagesSent, cs.localPossibleDuplicates)
	l.mu.Lock()
	cs.ring = env
	l.mu.Unlock()
	return l.forward(ctx, env)
}

func (l *Loop) handleDiscovery(ctx context.Context, d *message.EOFDiscovery) error {
	cs := l.client(d.ClientIDv)
	env := &eofring.Envelope{
		ClientID:                   d.ClientIDv,
		Phase:                      eofring.PhaseDiscovery,
		OriginalMessagesSent:       d.OriginalMessagesSent,
		OriginalPossibleDuplicates: d.OriginalPossibleDuplicates,
		MessagesReceived:           d.MessagesReceived,
		MessagesSent:               d.MessagesSent,
		PossibleDuplicates:         d.PossibleDuplicates,
		ReplicaIDSeen:              d.ReplicaIDSeen,
	}

	if env.Seen(l.cfg.ReplicaID) {
		if env.NeedsAggregation() {
			agg := env.StartAggregation(l.cfg.ReplicaID)
			l.mu.Lock()
			cs.ring = agg
			l.mu.Unlock()
			return l.forward(ctx, agg)
		}
		return l.checkConvergence(ctx, cs, env)
	}

	l.mu.Lock()
	localDups := append([]uint64{}, cs.localPossibleDuplicates...)
	l.mu.Unlock()
	next := env.AdvanceDiscovery(l.cfg.ReplicaID, cs.messagesReceived, cs.messagesSent, localDups)
	l.mu.Lock()
	cs.ring = next
	l.mu.Unlock()
	return l.forward(ctx, next)
}

func (l *Loop) handleAggregation(ctx context.Context, a *message.EOFAggregation) error {
	cs := l.client(a.ClientIDv)
	env := &eofring.Envelope{
		ClientID:                   a.ClientIDv,
		Phase:                      eofring.PhaseAggregation,
		OriginalMessagesSent:       a.OriginalMessagesSent,
		OriginalPossibleDuplicates: a.OriginalPossibleDuplicates,
		MessagesReceived:           a.MessagesReceived,
		MessagesSent:               a.MessagesSent,
		PossibleDuplicates:         a.PossibleDuplicates,
		ReplicaIDSeen:              a.ReplicaIDSeen,
		ProcessedBy:                toDedupProcessedBy(a.PossibleDuplicatesProcessedBy),
	}

	if env.Seen(l.cfg.ReplicaID) {
		return l.checkConvergence(ctx, cs, env)
	}

	local := l.catcher.PossibleDuplicatesSeen(a.ClientIDv, env.PossibleDuplicates)
	next := env.AdvanceAggregation(l.cfg.ReplicaID, local)
	l.mu.Lock()
	cs.ring = next
	l.mu.Unlock()
	return l.forward(ctx, next)
}

func (l *Loop) checkConvergence(ctx context.Context, cs *clientState, env *eofring.Envelope) error {
	if env.Converged() {
		return l.finish(ctx, env)
	}
	l.logger.Printf("stage %s replica %d: client %d did not converge (effective=%d want=%d), retrying after backoff",
		l.cfg.StageName, l.cfg.ReplicaID, env.ClientID, env.EffectiveReceived(), env.OriginalMessagesSent)
	time.AfterFunc(convergenceBackoff, func() {
		l.beginDiscovery(ctx, env.ClientID, env.OriginalMessagesSent, env.OriginalPossibleDuplicates)
	})
	return nil
}

// finish flushes any output the processor has been buffering for this
// client (spec §4.4 "FinishProcessing is called once... once the EOF
// ring has converged"), then publishes EOFFinish downstream to start the
// next stage's own ring.
func (l *Loop) finish(ctx context.Context, env *eofring.Envelope) error {
	cs := l.client(env.ClientID)

	resp := cs.processor.FinishProcessing()
	if _, err := l.emit(ctx, env.ClientID, cs, resp); err != nil {
		return err
	}

	body, err := l.codec.Encode(&message.EOFFinish{
		ClientIDv:     env.ClientID,
		MessagesSent:  cs.messagesSent,
		ReplicaIDSeen: env.ReplicaIDSeen,
	})
	if err != nil {
		return fmt.Errorf("stage: encode finish: %w", err)
	}
	for _, q := range l.cfg.OutputQueues {
		if err := l.broker.PublishToQueue(ctx, q, body); err != nil {
			return fmt.Errorf("stage: publish finish to %s: %w", q, err)
		}
	}
	l.catcher.Purge(env.ClientID)
	l.removeClient(env.ClientID)
	return nil
}

// forward sends a ring envelope to its next hop, addressed by replica
// queue (spec §4.6 Phase 1 step 2 / Phase 2).
func (l *Loop) forward(ctx context.Context, env *eofring.Envelope) error {
	target := eofring.NextHop(l.cfg.ReplicaID, l.cfg.ReplicasCount)
	var body []byte
	var err error
	if env.Phase == eofring.PhaseDiscovery {
		body, err = l.codec.Encode(&message.EOFDiscovery{
			ClientIDv:                  env.ClientID,
			OriginalMessagesSent:       env.OriginalMessagesSent,
			OriginalPossibleDuplicates: env.OriginalPossibleDuplicates,
			MessagesReceived:           env.MessagesReceived,
			MessagesSent:               env.MessagesSent,
			PossibleDuplicates:         env.PossibleDuplicates,
			ReplicaIDSeen:              env.ReplicaIDSeen,
		})
	} else {
		body, err = l.codec.Encode(&message.EOFAggregation{
			ClientIDv:                     env.ClientID,
			OriginalMessagesSent:          env.OriginalMessagesSent,
			OriginalPossibleDuplicates:    env.OriginalPossibleDuplicates,
			MessagesReceived:              env.MessagesReceived,
			MessagesSent:                  env.MessagesSent,
			PossibleDuplicates:            env.PossibleDuplicates,
			ReplicaIDSeen:                 env.ReplicaIDSeen,
			PossibleDuplicatesProcessedBy: toMessageProcessedBy(env.ProcessedBy),
		})
	}
	if err != nil {
		return fmt.Errorf("stage: encode ring envelope: %w", err)
	}
	return l.broker.PublishToQueue(ctx, l.cfg.RingQueue(target), body)
}

// toDedupProcessedBy and toMessageProcessedBy convert between
// message.ProcessedMessage (the named wire type) and
// dedup.ProcessedMessage (an alias to an anonymous struct, per
// dedup.Catcher's doc) — the two are assignable element-by-element but
// not as slices, since one is a named type and a []T of a named type is
// never identical to a []T of an unnamed type with the same fields.
func toDedupProcessedBy(in []message.ProcessedMessage) []dedup.ProcessedMessage {
	if in == nil {
		return nil
	}
	out := make([]dedup.ProcessedMessage, len(in))
	for i, pm := range in {
		out[i] = dedup.ProcessedMessage{MessageID: pm.MessageID, Sent: pm.Sent}
	}
	return out
}

func toMessageProcessedBy(in []dedup.ProcessedMessage) []message.ProcessedMessage {
	if in == nil {
		return nil
	}
	out := make([]message.ProcessedMessage, len(in))
	for i, pm := range in {
		out[i] = message.ProcessedMessage{MessageID: pm.MessageID, Sent: pm.Sent}
	}
	return out
}

func appendUnique(ids []uint64, id uint64) []uint64 {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}
