// Package server implements the server session (spec.md §4.3): a bounded
// number of concurrent client sessions, each forward-then-acking PROTOCOL
// and EOF frames onto the sharded stage input, then draining results back
// to the client once both protocol types have reached EOF.
//
// Request processing pipeline, one goroutine per connection:
//
//	Accept conn (gated by a counting semaphore) → handleConn (single
//	reader, sequential frame dispatch)
//	  → PROTOCOL/EOF: middleware chain → businessHandler (broker publish)
//	    → ACK
//	  → both EOFs acked: resultDrain goroutine subscribes to this
//	    client_id's results exchange and forwards RESULT/RESULT_EOF
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"flights-pipeline/broker"
	"flights-pipeline/codec"
	"flights-pipeline/loadbalance"
	"flights-pipeline/message"
	"flights-pipeline/middleware"
	"flights-pipeline/protocol"
	"flights-pipeline/stage"
)

// StageTarget names one ingress stage (the first stage a protocol_type's
// records are forwarded to) and how many replicas it runs, so the server
// can compute stage.QueueName for the replica loadbalance.Balancer picks.
type StageTarget struct {
	Name          string
	ReplicasCount int
}

// Config parameterizes a Server.
type Config struct {
	MaxClients int

	// FlightStages/AirportStages name every ingress stage that protocol
	// type's records are forwarded to. Most deployments name exactly one
	// (the first hop of that dataset's pipeline); a protocol_type with
	// more than one independent first-hop consumer (e.g. flights feeding
	// both a join stage and a fastest-route stage directly) lists them
	// all — every target gets a forwarded copy, same as stage.Loop
	// broadcasting to every OutputQueues entry.
	FlightStages  []StageTarget
	AirportStages []StageTarget

	// ExpectedTags is how many distinct tag_ids the result-drain step
	// waits to forward a RESULT_EOF for before closing the session.
	ExpectedTags int

	ShutdownTimeout time.Duration
}

// ResultsExchange names the per-client_id fan-out exchange the results
// listener (spec.md §4.7) publishes to and this package's result-drain
// step binds a private queue to (spec §4.3 step 4).
func ResultsExchange(clientID uint64) string {
	return "results." + strconv.FormatUint(clientID, 10)
}

// Server accepts client sessions and forwards their traffic onto the
// stage pipeline.
type Server struct {
	cfg      Config
	broker   broker.Broker
	balancer loadbalance.Balancer
	codec    codec.Codec
	logger   *log.Logger

	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc

	listener net.Listener
	sem      chan struct{}
	wg       sync.WaitGroup
	shutdown atomic.Bool

	mu       sync.Mutex
	sessions map[uint64]*session
}

// NewServer builds a Server. Call Use to register middlewares before
// Serve; Serve builds the handler chain once at startup.
func NewServer(cfg Config, b broker.Broker, bal loadbalance.Balancer, logger *log.Logger) *Server {
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = 1
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	return &Server{
		cfg:      cfg,
		broker:   b,
		balancer: bal,
		codec:    codec.GetCodec(codec.CodecTypeBinary),
		logger:   logger,
		sem:      make(chan struct{}, cfg.MaxClients),
		sessions: make(map[uint64]*session),
	}
}

// SetCodec overrides the broker body codec (default codec.BinaryCodec).
func (svr *Server) SetCodec(c codec.Codec) {
	svr.codec = c
}

// Use registers a middleware; middlewares wrap businessHandler in the
// order they are added (spec.md §4.3 step 2's "forward-then-ack is
// mandatory" — middleware wraps only the forward, never the ack).
func (svr *Server) Use(mw middleware.Middleware) {
	svr.middlewares = append(svr.middlewares, mw)
}

// Serve listens on address and runs the accept loop until the listener is
// closed by Shutdown. Admission is gated by a bounded counting semaphore
// sized to cfg.MaxClients (spec §4.3 "accepts up to max_clients
// concurrent sessions, gated by a bounded counting semaphore") — a slot
// is acquired before Accept is even called, so excess connections queue
// in the OS backlog rather than spawning unbounded goroutines.
func (svr *Server) Serve(network, address string) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	svr.listener = listener
	svr.handler = middleware.Chain(svr.middlewares...)(svr.businessHandler)

	for {
		svr.sem <- struct{}{}

		conn, err := listener.Accept()
		if err != nil {
			<-svr.sem
			if svr.shutdown.Load() {
				return nil
			}
			return err
		}
		svr.wg.Add(1)
		go svr.handleConn(conn)
	}
}

func (svr *Server) handleConn(conn net.Conn) {
	defer func() {
		conn.Close()
		<-svr.sem
		svr.wg.Done()
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	writeMu := &sync.Mutex{}
	var sess *session

	for {
		f, err := protocol.Recv(conn)
		if err != nil {
			if sess != nil {
				svr.removeSession(sess)
			}
			return
		}

		switch frame := f.(type) {
		case *message.Announce:
			sess = svr.announce(frame.ClientIDv, conn, cancel)
			if err := sendLocked(conn, writeMu, &message.AnnounceAck{ClientIDv: frame.ClientIDv}); err != nil {
				return
			}

		case *message.Protocol:
			if sess == nil {
				continue
			}
			req := &middleware.Request{ClientID: frame.ClientIDv, MessageID: frame.MessageID, ProtocolType: frame.ProtocolType, Frame: frame}
			if err := svr.handler(ctx, req); err != nil {
				svr.logger.Printf("server: session %d: forward protocol: %v", frame.ClientIDv, err)
				continue // no ack: the client will resend or reconnect
			}
			if err := sendLocked(conn, writeMu, &message.Ack{ClientIDv: frame.ClientIDv, MessageID: frame.MessageID, ProtocolType: frame.ProtocolType}); err != nil {
				return
			}

		case *message.EOF:
			if sess == nil {
				continue
			}
			req := &middleware.Request{ClientID: frame.ClientIDv, ProtocolType: frame.ProtocolType, Frame: frame}
			if err := svr.handler(ctx, req); err != nil {
				svr.logger.Printf("server: session %d: forward eof: %v", frame.ClientIDv, err)
				continue
			}
			if err := sendLocked(conn, writeMu, &message.Ack{ClientIDv: frame.ClientIDv, ProtocolType: frame.ProtocolType}); err != nil {
				return
			}
			if sess.markEOF(frame.ProtocolType) {
				svr.wg.Add(1)
				go func() {
					defer svr.wg.Done()
					svr.resultDrain(ctx, sess, conn, writeMu)
				}()
			}

		case *message.HealthCheck:
			if err := sendLocked(conn, writeMu, &message.HealthOK{ClientIDv: frame.ClientIDv}); err != nil {
				return
			}

		case *message.ResultAck:
			// The result-drain loop does not block on this; it exists so
			// the client has somewhere to report receipt (spec §4.2
			// "Result loop"), matching the ack-every-frame discipline of
			// the forward-then-ack path without slowing it down.

		default:
			svr.logger.Printf("server: unexpected client frame type %T", f)
		}
	}
}

func sendLocked(conn net.Conn, mu *sync.Mutex, frame message.ClientFrame) error {
	mu.Lock()
	defer mu.Unlock()
	return protocol.Send(conn, frame)
}

// announce creates (or preempts) the session for clientID. Preemption
// cancels the old session's context and closes its conn, which unblocks
// that connection's blocking protocol.Recv with an error so its
// handleConn goroutine exits and releases its semaphore slot (spec §4.3
// step 1, "the new socket preempts the old one").
func (svr *Server) announce(clientID uint64, conn net.Conn, cancel context.CancelFunc) *session {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if old, ok := svr.sessions[clientID]; ok {
		old.cancel()
		old.conn.Close()
	}
	sess := newSession(clientID, conn, cancel)
	svr.sessions[clientID] = sess
	return sess
}

// removeSession deletes sess from the registry, but only if it is still
// the current session for its client_id — a session preempted by a newer
// ANNOUNCE must not delete the newer one's entry when its own
// handleConn goroutine unwinds.
func (svr *Server) removeSession(sess *session) {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if current, ok := svr.sessions[sess.clientID]; ok && current == sess {
		delete(svr.sessions, sess.clientID)
	}
}

func (svr *Server) sessionFor(clientID uint64) *session {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	return svr.sessions[clientID]
}

// stagesFor returns every ingress stage target for a protocol_type.
func (svr *Server) stagesFor(pt message.ProtocolType) []StageTarget {
	if pt == message.ProtocolAirport {
		return svr.cfg.AirportStages
	}
	return svr.cfg.FlightStages
}

// businessHandler is the core forward step (spec §4.3 steps 2-3): shard
// the frame's client_id onto a stage replica on every ingress target
// configured for its protocol_type, translate the client<->server frame
// into its broker-internal counterpart, and publish a copy to each.
// Middleware (logging, retry, rate limiting, timeout) wraps only this
// function.
func (svr *Server) businessHandler(ctx context.Context, req *middleware.Request) error {
	sess := svr.sessionFor(req.ClientID)
	if sess == nil {
		return fmt.Errorf("server: no session for client %d", req.ClientID)
	}
	targets := svr.stagesFor(req.ProtocolType)
	if len(targets) == 0 {
		return fmt.Errorf("server: no ingress stage configured for protocol_type %v", req.ProtocolType)
	}

	var body []byte
	var err error
	switch f := req.Frame.(type) {
	case *message.Protocol:
		body, err = svr.codec.Encode(&message.ProtocolMessage{ClientIDv: f.ClientIDv, MessageID: f.MessageID, Payload: f.Payload})
	case *message.EOF:
		body, err = svr.codec.Encode(&message.EOFMessage{ClientIDv: f.ClientIDv, ProtocolType: f.ProtocolType, MessagesSent: f.MessagesSent, PossibleDuplicates: f.PossibleDuplicates})
	default:
		return fmt.Errorf("server: unexpected frame type %T", f)
	}
	if err != nil {
		return fmt.Errorf("server: encode: %w", err)
	}

	for _, target := range targets {
		replicaID, err := sess.replicaFor(target.Name, svr.balancer, target.ReplicasCount)
		if err != nil {
			return fmt.Errorf("server: pick replica: %w", err)
		}
		queue := stage.QueueName(target.Name, replicaID)
		if err := svr.broker.PublishToQueue(ctx, queue, body); err != nil {
			return fmt.Errorf("server: publish to %s: %w", queue, err)
		}
	}
	return nil
}

// resultDrain subscribes to this client's results exchange and forwards
// every RESULT/RESULT_EOF to the client until ExpectedTags distinct tags
// have had their RESULT_EOF forwarded (spec §4.3 step 4).
func (svr *Server) resultDrain(ctx context.Context, sess *session, conn net.Conn, writeMu *sync.Mutex) {
	deliveries, err := svr.broker.BindExchangeQueue(ctx, ResultsExchange(sess.clientID))
	if err != nil {
		svr.logger.Printf("server: session %d: bind results exchange: %v", sess.clientID, err)
		return
	}

	seenTags := make(map[byte]bool)
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			if err := svr.forwardResult(conn, writeMu, d, sess.clientID, seenTags); err != nil {
				svr.logger.Printf("server: session %d: forward result: %v", sess.clientID, err)
				d.Nack(true)
				continue
			}
			if err := d.Ack(); err != nil {
				svr.logger.Printf("server: session %d: ack result delivery: %v", sess.clientID, err)
			}
			if len(seenTags) >= svr.cfg.ExpectedTags {
				svr.closeSession(sess)
				return
			}
		}
	}
}

func (svr *Server) forwardResult(conn net.Conn, writeMu *sync.Mutex, d broker.Delivery, clientID uint64, seenTags map[byte]bool) error {
	m, err := svr.codec.Decode(d.Body)
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}

	var frame message.ClientFrame
	switch v := m.(type) {
	case *message.ProtocolResult:
		frame = &message.Result{ClientIDv: clientID, TagID: v.TagID, MessageID: v.MessageID, Result: v.Payload}
	case *message.EOFResult:
		seenTags[v.TagID] = true
		frame = &message.ResultEOF{ClientIDv: clientID, TagID: v.TagID, MessagesSent: v.MessagesSent}
	default:
		return fmt.Errorf("unexpected result message %T", m)
	}
	return sendLocked(conn, writeMu, frame)
}

func (svr *Server) closeSession(sess *session) {
	sess.cancel()
	sess.conn.Close()
	svr.removeSession(sess)
}

// Shutdown stops accepting new connections, cancels every active session,
// and waits (with a timeout) for in-flight handleConn/resultDrain
// goroutines to finish (spec §5 "graceful shutdown").
func (svr *Server) Shutdown(timeout time.Duration) error {
	svr.shutdown.Store(true)
	if svr.listener != nil {
		svr.listener.Close()
	}

	svr.mu.Lock()
	for _, sess := range svr.sessions {
		sess.cancel()
		sess.conn.Close()
	}
	svr.mu.Unlock()

	done := make(chan struct{})
	go func() {
		svr.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("server: timeout waiting for sessions to close")
	}
}
