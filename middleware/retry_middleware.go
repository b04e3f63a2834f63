package middleware

import (
	"context"
	"errors"
	"log"
	"time"

	"flights-pipeline/broker"
)

// RetryMiddleware retries a failed publish with exponential backoff, but
// only for broker.ErrClosed — any other error (e.g. a malformed frame) is
// not the kind that a retry can fix.
func RetryMiddleware(maxRetries int, baseDelay time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			err := next(ctx, req)
			for i := 0; i < maxRetries && errors.Is(err, broker.ErrClosed); i++ {
				log.Printf("retry attempt %d for client=%d protocol_type=%d after: %v", i+1, req.ClientID, req.ProtocolType, err)
				select {
				case <-time.After(baseDelay * time.Duration(1<<i)):
				case <-ctx.Done():
					return ctx.Err()
				}
				err = next(ctx, req)
			}
			return err
		}
	}
}
