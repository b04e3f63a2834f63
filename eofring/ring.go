// Package eofring implements the distributed EOF-convergence protocol
// (spec §4.6): the three-phase ring that lets a replicated stage decide,
// without global coordination, that its input stream for a given client
// has truly ended despite at-least-once delivery and retries.
//
// This package holds only the pure envelope arithmetic — merging a hop's
// local counts into a circulating envelope, and the convergence decision.
// Sending the envelope to the next hop, waiting (with timeout) for it to
// come back around, and rebroadcasting from the origin on expiry are the
// stage connection loop's job (spec §5 "Suspension points").
package eofring

import (
	"sort"

	"flights-pipeline/dedup"
)

// Phase distinguishes the two ring passes an envelope can be circulating
// in (spec §4.6 Phase 1 vs Phase 2). A single Envelope type carries an
// optional ProcessedBy field used only during Aggregation — the
// unification spec.md §9's Open Question 3 says is acceptable.
type Phase byte

const (
	PhaseDiscovery   Phase = 0
	PhaseAggregation Phase = 1
)

// Envelope is the circulating EOF state for one client, one stage.
type Envelope struct {
	ClientID uint64
	Phase    Phase

	OriginalMessagesSent      uint64
	OriginalPossibleDuplicates []uint64

	MessagesReceived   uint64
	MessagesSent       uint64
	PossibleDuplicates []uint64
	ReplicaIDSeen      []uint64

	// ProcessedBy is populated incrementally during Phase 2 and is nil
	// throughout Phase 1.
	ProcessedBy []dedup.ProcessedMessage
}

// NextHop computes the next replica in the fixed ring
// 1 -> 2 -> ... -> N -> 1 (spec §4.6 Phase 1, step 2).
func NextHop(replicaID uint64, replicasCount uint64) uint64 {
	return (replicaID % replicasCount) + 1
}

// Seen reports whether replicaID has already contributed to this
// envelope. A replica that receives an envelope where Seen(self) is
// already true is the terminus of the current phase (spec §4.6 Phase 1,
// step 4).
func (e *Envelope) Seen(replicaID uint64) bool {
	for _, id := range e.ReplicaIDSeen {
		if id == replicaID {
			return true
		}
	}
	return false
}

// StartDiscovery builds the initial envelope a replica emits on first
// observing an upstream EOF for a client (spec §4.6 Phase 1, step 1).
func StartDiscovery(clientID uint64, replicaID uint64, originalSent uint64, originalDups []uint64, localReceived, localSent uint64, localDups []uint64) *Envelope {
	return &Envelope{
		ClientID:                   clientID,
		Phase:                      PhaseDiscovery,
		OriginalMessagesSent:       originalSent,
		OriginalPossibleDuplicates: sortedCopy(originalDups),
		MessagesReceived:           localReceived,
		MessagesSent:               localSent,
		PossibleDuplicates:         sortedCopy(localDups),
		ReplicaIDSeen:              []uint64{replicaID},
	}
}

// AdvanceDiscovery folds one replica's local contribution into a
// circulating Discovery envelope and marks that replica as seen (spec
// §4.6 Phase 1, step 3). The caller must check Seen(replicaID) BEFORE
// calling this — advancing past the terminus would violate invariant 4
// (monotone ring).
func (e *Envelope) AdvanceDiscovery(replicaID uint64, localReceived, localSent uint64, localDups []uint64) *Envelope {
	next := &Envelope{
		ClientID:                   e.ClientID,
		Phase:                      PhaseDiscovery,
		OriginalMessagesSent:       e.OriginalMessagesSent,
		OriginalPossibleDuplicates: e.OriginalPossibleDuplicates,
		MessagesReceived:           e.MessagesReceived + localReceived,
		MessagesSent:               e.MessagesSent + localSent,
		PossibleDuplicates:         unionSorted(e.PossibleDuplicates, localDups),
		ReplicaIDSeen:              append(append([]uint64{}, e.ReplicaIDSeen...), replicaID),
	}
	return next
}

// StartAggregation converts a terminated Discovery envelope into the
// start of the Phase 2 circulation (spec §4.6 Phase 2): a fresh
// ReplicaIDSeen beginning at the terminating replica, everything else
// carried forward.
func (e *Envelope) StartAggregation(terminatingReplicaID uint64) *Envelope {
	return &Envelope{
		ClientID:                   e.ClientID,
		Phase:                      PhaseAggregation,
		OriginalMessagesSent:       e.OriginalMessagesSent,
		OriginalPossibleDuplicates: e.OriginalPossibleDuplicates,
		MessagesReceived:           e.MessagesReceived,
		MessagesSent:               e.MessagesSent,
		PossibleDuplicates:         e.PossibleDuplicates,
		ReplicaIDSeen:              []uint64{terminatingReplicaID},
		ProcessedBy:                nil,
	}
}

// AdvanceAggregation folds one replica's processed-by contribution into a
// circulating Aggregation envelope (spec §4.6 Phase 2).
func (e *Envelope) AdvanceAggregation(replicaID uint64, localProcessedBy []dedup.ProcessedMessage) *Envelope {
	return &Envelope{
		ClientID:                   e.ClientID,
		Phase:                      PhaseAggregation,
		OriginalMessagesSent:       e.OriginalMessagesSent,
		OriginalPossibleDuplicates: e.OriginalPossibleDuplicates,
		MessagesReceived:           e.MessagesReceived,
		MessagesSent:               e.MessagesSent,
		PossibleDuplicates:         e.PossibleDuplicates,
		ReplicaIDSeen:              append(append([]uint64{}, e.ReplicaIDSeen...), replicaID),
		ProcessedBy:                mergeProcessedBy(e.ProcessedBy, localProcessedBy),
	}
}

// NeedsAggregation reports whether Phase 2 must run at all. Per spec
// §4.6 "Tie-breaks and edge cases": empty possible_duplicates skips
// straight to the convergence check.
func (e *Envelope) NeedsAggregation() bool {
	return len(e.PossibleDuplicates) > 0
}

// EffectiveReceived computes the pipeline-wide distinct message count for
// Phase 3 (spec §4.6 Phase 3): every id in possible_duplicates that some
// replica has a processed_by record for was counted twice in
// MessagesReceived (once by the replica that got the original, once by
// whichever replica — possibly the same one — got the resend), so it is
// subtracted once per distinct id.
func (e *Envelope) EffectiveReceived() uint64 {
	counted := make(map[uint64]bool)
	for _, pm := range e.ProcessedBy {
		counted[pm.MessageID] = true
	}
	return e.MessagesReceived - uint64(len(counted))
}

// Converged reports whether the stream is fully consumed (spec §4.6
// Phase 3). It is resolved here, per SPEC_FULL.md §4.6's Open Question
// answer, against the UNION PossibleDuplicates (accumulated from every
// replica's local view during Discovery) rather than
// OriginalPossibleDuplicates (only the originating sender's own view) —
// the union is the superset that can actually appear in ProcessedBy, so
// it is the set EffectiveReceived's correction is computed against.
func (e *Envelope) Converged() bool {
	return e.EffectiveReceived() == e.OriginalMessagesSent
}

// sortedCopy returns ids sorted ascending — spec §9 "Lists of
// possible_duplicates grown by append" -> "Model as a set; serialization
// fixes an order (sorted ascending) for determinism in tests."
func sortedCopy(ids []uint64) []uint64 {
	out := append([]uint64{}, ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func unionSorted(a, b []uint64) []uint64 {
	set := make(map[uint64]struct{}, len(a)+len(b))
	for _, id := range a {
		set[id] = struct{}{}
	}
	for _, id := range b {
		set[id] = struct{}{}
	}
	out := make([]uint64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func mergeProcessedBy(a, b []dedup.ProcessedMessage) []dedup.ProcessedMessage {
	byID := make(map[uint64]dedup.ProcessedMessage, len(a)+len(b))
	for _, pm := range a {
		byID[pm.MessageID] = pm
	}
	for _, pm := range b {
		// A later hop's record for the same id wins only if it marks the
		// message sent where an earlier hop's record did not — Sent is
		// informational only, the id's presence is what matters for
		// EffectiveReceived.
		if existing, ok := byID[pm.MessageID]; !ok || (!existing.Sent && pm.Sent) {
			byID[pm.MessageID] = pm
		}
	}
	out := make([]dedup.ProcessedMessage, 0, len(byID))
	for _, pm := range byID {
		out = append(out, pm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MessageID < out[j].MessageID })
	return out
}
