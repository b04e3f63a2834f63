package middleware

import (
	"context"
	"testing"
	"time"

	"flights-pipeline/broker"
	"flights-pipeline/message"
)

func echoHandler(ctx context.Context, req *Request) error {
	return nil
}

func slowHandler(ctx context.Context, req *Request) error {
	time.Sleep(200 * time.Millisecond)
	return nil
}

func testRequest() *Request {
	return &Request{ClientID: 1, MessageID: 1, ProtocolType: message.ProtocolFlight, Frame: &message.Protocol{ClientIDv: 1, MessageID: 1}}
}

func TestLogging(t *testing.T) {
	handler := LoggingMiddleware()(echoHandler)
	if err := handler(context.Background(), testRequest()); err != nil {
		t.Fatalf("expect no error, got %v", err)
	}
}

func TestTimeoutPass(t *testing.T) {
	handler := TimeoutMiddleware(500 * time.Millisecond)(echoHandler)
	if err := handler(context.Background(), testRequest()); err != nil {
		t.Fatalf("expect no error, got %v", err)
	}
}

func TestTimeoutExceeded(t *testing.T) {
	handler := TimeoutMiddleware(50 * time.Millisecond)(slowHandler)
	if err := handler(context.Background(), testRequest()); err == nil {
		t.Fatal("expect timeout error")
	}
}

func TestRateLimit(t *testing.T) {
	// rate=1/s, burst=2 — first 2 calls pass immediately, the 3rd is rejected.
	handler := RateLimitMiddleware(1, 2)(echoHandler)
	req := testRequest()

	for i := 0; i < 2; i++ {
		if err := handler(context.Background(), req); err != nil {
			t.Fatalf("request %d should pass, got error: %v", i, err)
		}
	}
	if err := handler(context.Background(), req); err == nil {
		t.Fatal("request 3 should be rate limited")
	}
}

func TestRetryOnlyRetriesBrokerClosed(t *testing.T) {
	calls := 0
	flaky := func(ctx context.Context, req *Request) error {
		calls++
		if calls < 3 {
			return broker.ErrClosed
		}
		return nil
	}
	handler := RetryMiddleware(5, time.Millisecond)(flaky)
	if err := handler(context.Background(), testRequest()); err != nil {
		t.Fatalf("expect eventual success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestRetryDoesNotRetryOtherErrors(t *testing.T) {
	calls := 0
	permanent := func(ctx context.Context, req *Request) error {
		calls++
		return context.DeadlineExceeded
	}
	handler := RetryMiddleware(5, time.Millisecond)(permanent)
	if err := handler(context.Background(), testRequest()); err == nil {
		t.Fatal("expect error to propagate")
	}
	if calls != 1 {
		t.Fatalf("non-retryable error should not be retried, got %d calls", calls)
	}
}

func TestChain(t *testing.T) {
	chained := Chain(LoggingMiddleware(), TimeoutMiddleware(500*time.Millisecond))
	handler := chained(echoHandler)
	if err := handler(context.Background(), testRequest()); err != nil {
		t.Fatalf("expect no error, got %v", err)
	}
}
