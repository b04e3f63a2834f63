// Package dedup implements the per-replica duplicate catcher (spec §4.5):
// the record of which upstream message_ids a replica has already
// committed as PROCESSED, used to collapse at-least-once redelivery into
// exactly-once effective processing.
package dedup

import "sync"

// ProcessedMessage records whether a given message_id produced output
// when it was processed — re-exported here so eofring and stage don't
// need to import message just for this value type.
type ProcessedMessage = struct {
	MessageID uint64
	Sent      bool
}

type entry struct {
	sent bool
}

// Catcher is a per-replica, per-client map of processed message_ids. It
// has no storage of its own (spec §4.5 "persistence is via the log");
// stage.Loop.Recover reconstructs it from wal.Record history at startup.
type Catcher struct {
	mu      sync.RWMutex
	clients map[uint64]map[uint64]entry
}

// New returns an empty catcher. Call Mark (directly, or via stage.Loop.Recover) to
// populate it before serving traffic.
func New() *Catcher {
	return &Catcher{clients: make(map[uint64]map[uint64]entry)}
}

// SeenProcessed reports whether a PROCESSED record exists for
// (clientID, messageID) — the stage loop's sole authority for skipping
// reprocessing (spec §4.4 "if duplicate_catcher.seen_processed(...)").
func (c *Catcher) SeenProcessed(clientID, messageID uint64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	byMsg, ok := c.clients[clientID]
	if !ok {
		return false
	}
	_, ok = byMsg[messageID]
	return ok
}

// Mark idempotently records that messageID has been committed as
// PROCESSED for clientID, and whether that processing produced output.
// The caller must have already durably appended the PROCESSED wal.Record
// before calling Mark (spec §3 "A replica ever acks a message upstream
// only after either (a) processing completed and was logged...").
func (c *Catcher) Mark(clientID, messageID uint64, sent bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	byMsg, ok := c.clients[clientID]
	if !ok {
		byMsg = make(map[uint64]entry)
		c.clients[clientID] = byMsg
	}
	byMsg[messageID] = entry{sent: sent}
}

// PossibleDuplicatesSeen returns, for every id in ids that this catcher
// holds a record for, a ProcessedMessage tagging whether it produced
// output — the contribution a replica makes to
// EOFAggregation.possible_duplicates_processed_by (spec §4.6 Phase 2).
func (c *Catcher) PossibleDuplicatesSeen(clientID uint64, ids []uint64) []ProcessedMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	byMsg, ok := c.clients[clientID]
	if !ok {
		return nil
	}
	var out []ProcessedMessage
	for _, id := range ids {
		if e, ok := byMsg[id]; ok {
			out = append(out, ProcessedMessage{MessageID: id, Sent: e.sent})
		}
	}
	return out
}

// Purge drops all state for a client. Called only once the final
// EOF_FINISH for that client has been observed and acknowledged
// downstream (spec §4.5 "Client lifecycle").
func (c *Catcher) Purge(clientID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.clients, clientID)
}

// Count returns the number of distinct message_ids recorded for a client
// — used by tests to check what a replica has committed.
func (c *Catcher) Count(clientID uint64) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.clients[clientID])
}
