package middleware

import (
	"context"
	"fmt"
	"time"
)

// TimeoutMiddleware enforces a maximum duration for a forward. The
// handler goroutine is not cancelled on timeout — it keeps running in
// the background; the timeout only controls how long the caller waits.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan error, 1)
			go func() { done <- next(ctx, req) }()

			select {
			case err := <-done:
				return err
			case <-ctx.Done():
				return fmt.Errorf("middleware: forward timed out for client %d", req.ClientID)
			}
		}
	}
}
