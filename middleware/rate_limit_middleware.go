package middleware

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimitMiddleware bounds how fast frames are forwarded to the broker
// using a token bucket. The limiter is created once, in the outer
// closure, and shared across every request — a fresh limiter per call
// would defeat the entire purpose.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if !limiter.Allow() {
				return fmt.Errorf("middleware: rate limit exceeded for client %d", req.ClientID)
			}
			return next(ctx, req)
		}
	}
}
