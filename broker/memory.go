package broker

import (
	"context"
	"sync"
)

// MemoryBroker is a hand-rolled in-process fake satisfying Broker, used by
// stage/client/server tests that need a broker without a running
// RabbitMQ. Queues are plain FIFO channels; exchanges fan out to every
// queue bound at publish time (late binders miss earlier publishes, same
// as real fanout exchanges with no durable subscription yet).
type MemoryBroker struct {
	mu        sync.Mutex
	queues    map[string]chan Delivery
	exchanges map[string][]chan Delivery
	closed    bool
}

// NewMemoryBroker returns an empty fake broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		queues:    make(map[string]chan Delivery),
		exchanges: make(map[string][]chan Delivery),
	}
}

func (b *MemoryBroker) queueChan(name string) chan Delivery {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.queues[name]
	if !ok {
		ch = make(chan Delivery, 256)
		b.queues[name] = ch
	}
	return ch
}

func (b *MemoryBroker) PublishToQueue(ctx context.Context, queue string, body []byte) error {
	if b.isClosed() {
		return ErrClosed
	}
	select {
	case b.queueChan(queue) <- noopDelivery(body):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *MemoryBroker) PublishToExchange(ctx context.Context, exchange string, body []byte) error {
	if b.isClosed() {
		return ErrClosed
	}
	b.mu.Lock()
	subs := append([]chan Delivery{}, b.exchanges[exchange]...)
	b.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- noopDelivery(body):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (b *MemoryBroker) ConsumeQueue(ctx context.Context, queue string) (<-chan Delivery, error) {
	if b.isClosed() {
		return nil, ErrClosed
	}
	return watchUntilDone(ctx, b.queueChan(queue)), nil
}

func (b *MemoryBroker) BindExchangeQueue(ctx context.Context, exchange string) (<-chan Delivery, error) {
	if b.isClosed() {
		return nil, ErrClosed
	}
	ch := make(chan Delivery, 256)
	b.mu.Lock()
	b.exchanges[exchange] = append(b.exchanges[exchange], ch)
	b.mu.Unlock()
	return watchUntilDone(ctx, ch), nil
}

func (b *MemoryBroker) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}

// watchUntilDone relays deliveries from src to a new channel until ctx is
// cancelled, so ConsumeQueue/BindExchangeQueue callers can select on
// ctx.Done() without holding a reference to the broker's internal queue.
func watchUntilDone(ctx context.Context, src chan Delivery) <-chan Delivery {
	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case d := <-src:
				select {
				case out <- d:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

func noopDelivery(body []byte) Delivery {
	return Delivery{
		Body: body,
		Ack:  func() error { return nil },
		Nack: func(bool) error { return nil },
	}
}
