package broker

import (
	"context"
	"testing"
	"time"
)

func TestMemoryBrokerQueuePublishConsume(t *testing.T) {
	b := NewMemoryBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deliveries, err := b.ConsumeQueue(ctx, "flights")
	if err != nil {
		t.Fatalf("ConsumeQueue: %v", err)
	}
	if err := b.PublishToQueue(ctx, "flights", []byte("hello")); err != nil {
		t.Fatalf("PublishToQueue: %v", err)
	}

	select {
	case d := <-deliveries:
		if string(d.Body) != "hello" {
			t.Errorf("got body %q, want %q", d.Body, "hello")
		}
		if err := d.Ack(); err != nil {
			t.Errorf("Ack: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestMemoryBrokerExchangeFansOutToAllBoundQueues(t *testing.T) {
	b := NewMemoryBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub1, err := b.BindExchangeQueue(ctx, "eof-ring")
	if err != nil {
		t.Fatalf("BindExchangeQueue 1: %v", err)
	}
	sub2, err := b.BindExchangeQueue(ctx, "eof-ring")
	if err != nil {
		t.Fatalf("BindExchangeQueue 2: %v", err)
	}

	if err := b.PublishToExchange(ctx, "eof-ring", []byte("envelope")); err != nil {
		t.Fatalf("PublishToExchange: %v", err)
	}

	for i, sub := range []<-chan Delivery{sub1, sub2} {
		select {
		case d := <-sub:
			if string(d.Body) != "envelope" {
				t.Errorf("subscriber %d: got %q, want %q", i, d.Body, "envelope")
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d: timed out waiting for fanout delivery", i)
		}
	}
}

func TestMemoryBrokerClosedRejectsPublish(t *testing.T) {
	b := NewMemoryBroker()
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := b.PublishToQueue(context.Background(), "flights", []byte("x")); err != ErrClosed {
		t.Fatalf("PublishToQueue after Close = %v, want ErrClosed", err)
	}
}
