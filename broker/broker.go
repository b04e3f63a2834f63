// Package broker abstracts the internal messaging substrate that carries
// message.Internal envelopes between stage replicas (spec §4.2 "Processing
// stages are independent worker replicas connected through a message
// broker"). Production wiring is AMQPBroker; tests use MemoryBroker, a
// hand-rolled in-process fake — this package never imports a mocking
// framework, matching the rest of the module's test style.
package broker

import (
	"context"
	"errors"
)

// ErrClosed is returned by MemoryBroker's publish, consume and bind
// methods once Close has been called.
var ErrClosed = errors.New("broker: closed")

// Delivery is one inbound message along with the handle needed to
// acknowledge or reject it once the stage loop has durably logged its
// effect (spec §4.4 "a replica ever acks a message upstream only after
// either processing completed and was logged, or it was recognized as an
// already-seen duplicate").
type Delivery struct {
	Body []byte
	Ack  func() error
	Nack func(requeue bool) error
}

// Broker is the minimal interface the stage connection loop, the client
// protocol bridge, and the results listener need from the messaging
// substrate. A queue is a point-to-point work queue (consumed by exactly
// one of a replica set); an exchange fans a publish out to every bound
// queue (used for the results-listener fan-out to server sessions; the EOF
// ring travels over per-replica work queues).
type Broker interface {
	// PublishToQueue sends body to a named work queue, load-balanced
	// across its consumers.
	PublishToQueue(ctx context.Context, queue string, body []byte) error
	// PublishToExchange sends body to a named fanout exchange; every
	// queue currently bound to it receives a copy.
	PublishToExchange(ctx context.Context, exchange string, body []byte) error
	// ConsumeQueue returns a channel of deliveries for a work queue. The
	// channel closes when ctx is cancelled or Close is called.
	ConsumeQueue(ctx context.Context, queue string) (<-chan Delivery, error)
	// BindExchangeQueue declares a private queue bound to a fanout
	// exchange and returns its deliveries — used by the server session to
	// receive the results the results listener publishes for its client.
	BindExchangeQueue(ctx context.Context, exchange string) (<-chan Delivery, error)
	// Close releases the underlying connection.
	Close() error
}
