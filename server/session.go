package server

import (
	"context"
	"net"
	"strconv"
	"sync"

	"flights-pipeline/loadbalance"
	"flights-pipeline/message"
)

// session is the server's per-client_id bookkeeping (spec §4.3): which
// replica of each ingress stage its records were sharded to (so an EOF lands
// on the same replica that saw the data), and which protocol_types have
// already had their EOF forward-then-acked.
//
// A new ANNOUNCE for a client_id already holding a session preempts it —
// the old socket is torn down by cancelling its context and closing its
// conn, which unblocks that connection's protocol.Recv with an error and
// lets handleConn return.
type session struct {
	clientID uint64
	conn     net.Conn
	cancel   context.CancelFunc

	mu       sync.Mutex
	replicas map[string]int // keyed by ingress stage name, since one protocol_type may fan out to several
	eofSeen  map[message.ProtocolType]bool
}

func newSession(clientID uint64, conn net.Conn, cancel context.CancelFunc) *session {
	return &session{
		clientID: clientID,
		conn:     conn,
		cancel:   cancel,
		replicas: make(map[string]int),
		eofSeen:  make(map[message.ProtocolType]bool),
	}
}

// replicaFor returns the replica index this client's stream is sharded to
// on the named ingress stage, picking (and caching) it on first use so
// every subsequent PROTOCOL and the eventual EOF for that stage land on
// the same replica.
func (s *session) replicaFor(stageName string, bal loadbalance.Balancer, replicasCount int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.replicas[stageName]; ok {
		return id, nil
	}
	id, err := bal.Pick(strconv.FormatUint(s.clientID, 10), replicasCount)
	if err != nil {
		return 0, err
	}
	s.replicas[stageName] = id
	return id, nil
}

// markEOF records that pt's EOF has been forward-then-acked and reports
// whether every protocol_type (spec.md §2's two datasets, flight and
// airport) has now reached that state — the signal to enter result-drain
// (spec §4.3 step 4).
func (s *session) markEOF(pt message.ProtocolType) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eofSeen[pt] = true
	return len(s.eofSeen) >= 2
}
