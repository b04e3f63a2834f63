// Package client implements the client-side session state machine (spec
// §4.2): announce handshake, a one-at-a-time send loop with reconnect and
// possible-duplicate tracking, and a result loop that tolerates
// reconnection without re-sending data.
//
// Call flow, mirroring the shape of a pooled RPC client's Call path but
// collapsed to one connection and one session per Client:
//
//	Run(ctx, outbound, results)
//	  → connectAndAnnounce   → dial, ANNOUNCE until ANNOUNCE_ACK
//	  → sendAll              → one outbound record at a time, ACK-gated
//	  → resultLoop           → drain RESULT/RESULT_EOF until every tag done
package client

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"flights-pipeline/message"
	"flights-pipeline/protocol"
)

// OutboundKind distinguishes a data record from the end-of-stream marker
// for its protocol type.
type OutboundKind int

const (
	SendRecord OutboundKind = iota
	EOFRecord
)

// Outbound is one entry in the caller's send queue (spec §4.2 "Send
// loop"): either a record to transmit, or a signal that the caller has
// exhausted its input for that protocol type.
type Outbound struct {
	Kind         OutboundKind
	ProtocolType message.ProtocolType
	Payload      string // only set when Kind == SendRecord
}

// Result is one analytical result row delivered to the caller, already
// deduplicated by (tag_id, message_id) (spec §4.2 "Result loop").
type Result struct {
	TagID     byte
	MessageID uint64
	Result    string
}

// Config parameterizes a Client.
type Config struct {
	Addr            string
	ClientID        uint64
	DialTimeout     time.Duration
	ReannounceEvery time.Duration
	// ExpectedTags is how many distinct tag_ids the result loop waits to
	// see a RESULT_EOF for before it considers the client DONE.
	ExpectedTags int
}

// Client runs one client_id's session against the server.
type Client struct {
	cfg    Config
	logger *log.Logger

	mu                 sync.Mutex
	conn               net.Conn
	nextMessageID      map[message.ProtocolType]uint64
	possibleDuplicates map[message.ProtocolType][]uint64
}

// New builds a Client; call Run to drive the state machine.
func New(cfg Config, logger *log.Logger) *Client {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.ReannounceEvery == 0 {
		cfg.ReannounceEvery = 2 * time.Second
	}
	return &Client{
		cfg:                cfg,
		logger:             logger,
		nextMessageID:      make(map[message.ProtocolType]uint64),
		possibleDuplicates: make(map[message.ProtocolType][]uint64),
	}
}

// Run drives CONNECTING -> ANNOUNCED -> SENDING -> WAITING_RESULTS -> DONE
// (spec §4.2 "States"). It returns once every expected tag's RESULT_EOF
// has been observed, or ctx is cancelled.
func (c *Client) Run(ctx context.Context, outbound <-chan Outbound, results chan<- Result) error {
	if err := c.connectAndAnnounce(ctx); err != nil {
		return fmt.Errorf("client: initial announce: %w", err)
	}
	if err := c.sendAll(ctx, outbound); err != nil {
		return fmt.Errorf("client: send loop: %w", err)
	}
	if err := c.resultLoop(ctx, results); err != nil {
		return fmt.Errorf("client: result loop: %w", err)
	}
	return nil
}

// connectAndAnnounce dials the server and repeats ANNOUNCE until
// ANNOUNCE_ACK arrives, discarding any other frame kind in between (spec
// §4.2 "Announce handshake").
func (c *Client) connectAndAnnounce(ctx context.Context) error {
	conn, err := net.DialTimeout("tcp", c.cfg.Addr, c.cfg.DialTimeout)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.cfg.Addr, err)
	}

	announce := &message.Announce{ClientIDv: c.cfg.ClientID}
	ackCh := make(chan error, 1)
	go func() {
		for {
			if err := protocol.Send(conn, announce); err != nil {
				ackCh <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(c.cfg.ReannounceEvery))
			f, err := protocol.Recv(conn)
			if err != nil {
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					continue // no ack yet, re-announce
				}
				ackCh <- err
				return
			}
			if _, ok := f.(*message.AnnounceAck); ok {
				conn.SetReadDeadline(time.Time{})
				ackCh <- nil
				return
			}
			// intervening frame of another kind — discarded.
		}
	}()

	select {
	case err := <-ackCh:
		if err != nil {
			conn.Close()
			return err
		}
	case <-ctx.Done():
		conn.Close()
		return ctx.Err()
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return nil
}

func (c *Client) reconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.mu.Unlock()
	return c.connectAndAnnounce(ctx)
}

// sendAll processes the outbound queue to exhaustion, one record at a
// time (spec §4.2 "The client holds exactly one current message").
func (c *Client) sendAll(ctx context.Context, outbound <-chan Outbound) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case o, ok := <-outbound:
			if !ok {
				return nil
			}
			var err error
			if o.Kind == SendRecord {
				err = c.sendProtocol(ctx, o.ProtocolType, o.Payload)
			} else {
				err = c.sendEOF(ctx, o.ProtocolType)
			}
			if err != nil {
				return err
			}
		}
	}
}

// sendProtocol assigns the next message_id for pt, then sends and
// ACK-waits, reconnecting and resending on failure. Every failed attempt
// marks id as a possible duplicate before the resend, since the server
// may have processed it despite the socket error (spec §4.2 "Send loop").
func (c *Client) sendProtocol(ctx context.Context, pt message.ProtocolType, payload string) error {
	c.mu.Lock()
	c.nextMessageID[pt]++
	id := c.nextMessageID[pt]
	c.mu.Unlock()

	frame := &message.Protocol{ClientIDv: c.cfg.ClientID, MessageID: id, ProtocolType: pt, Payload: payload}
	match := func(ack *message.Ack) bool { return ack.MessageID == id && ack.ProtocolType == pt }

	for {
		if err := c.sendAndWaitAck(ctx, frame, match); err == nil {
			return nil
		}
		c.mu.Lock()
		c.possibleDuplicates[pt] = append(c.possibleDuplicates[pt], id)
		c.mu.Unlock()
		if err := c.reconnect(ctx); err != nil {
			return err
		}
	}
}

// sendEOF announces end-of-stream for pt with this client's own
// bookkeeping (spec §4.2 "EOF of a stream"). MessagesSent and
// PossibleDuplicates are computed entirely from this client's own
// send/resend history, never supplied by the caller.
func (c *Client) sendEOF(ctx context.Context, pt message.ProtocolType) error {
	c.mu.Lock()
	sent := c.nextMessageID[pt]
	dups := append([]uint64{}, c.possibleDuplicates[pt]...)
	c.mu.Unlock()

	frame := &message.EOF{ClientIDv: c.cfg.ClientID, ProtocolType: pt, MessagesSent: sent, PossibleDuplicates: dups}
	match := func(ack *message.Ack) bool { return ack.ProtocolType == pt }

	for {
		if err := c.sendAndWaitAck(ctx, frame, match); err == nil {
			return nil
		}
		if err := c.reconnect(ctx); err != nil {
			return err
		}
	}
}

func (c *Client) sendAndWaitAck(ctx context.Context, frame message.ClientFrame, match func(*message.Ack) bool) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if err := protocol.Send(conn, frame); err != nil {
		return err
	}
	for {
		f, err := protocol.Recv(conn)
		if err != nil {
			return err
		}
		if ack, ok := f.(*message.Ack); ok && match(ack) {
			return nil
		}
		// any other frame kind (or a stale ack) is discarded — spec §4.2
		// treats the send loop the same as the announce handshake here.
	}
}

// resultLoop drains RESULT/RESULT_EOF frames, deduplicating by (tag_id,
// message_id), until every expected tag has been fully observed (spec
// §4.2 "Result loop"). A socket failure here reconnects and re-announces
// without resending any data — results already delivered to the caller
// are never replayed.
func (c *Client) resultLoop(ctx context.Context, results chan<- Result) error {
	seen := make(map[byte]map[uint64]bool)
	expectedCount := make(map[byte]uint64)
	haveCount := make(map[byte]bool)
	done := make(map[byte]bool)

	checkDone := func(tag byte) {
		if haveCount[tag] && uint64(len(seen[tag])) >= expectedCount[tag] {
			done[tag] = true
		}
	}

	for len(done) < c.cfg.ExpectedTags {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		f, err := protocol.Recv(conn)
		if err != nil {
			if err := c.reconnect(ctx); err != nil {
				return err
			}
			continue
		}

		switch v := f.(type) {
		case *message.Result:
			if seen[v.TagID] == nil {
				seen[v.TagID] = make(map[uint64]bool)
			}
			if !seen[v.TagID][v.MessageID] {
				seen[v.TagID][v.MessageID] = true
				results <- Result{TagID: v.TagID, MessageID: v.MessageID, Result: v.Result}
			}
			if err := c.ackResult(); err != nil {
				c.logger.Printf("client %d: result ack failed: %v", c.cfg.ClientID, err)
			}
			checkDone(v.TagID)
		case *message.ResultEOF:
			expectedCount[v.TagID] = v.MessagesSent
			haveCount[v.TagID] = true
			if err := c.ackResult(); err != nil {
				c.logger.Printf("client %d: result ack failed: %v", c.cfg.ClientID, err)
			}
			checkDone(v.TagID)
		default:
			// discarded — not a result-loop frame.
		}
	}
	return nil
}

func (c *Client) ackResult() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	return protocol.Send(conn, &message.ResultAck{ClientIDv: c.cfg.ClientID})
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
