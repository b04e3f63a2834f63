package middleware

import (
	"context"
	"log"
	"time"
)

// LoggingMiddleware records the protocol type, client_id, duration, and
// any error for each forwarded frame.
func LoggingMiddleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			duration := time.Since(start)
			log.Printf("client=%d protocol_type=%d message_id=%d duration=%s", req.ClientID, req.ProtocolType, req.MessageID, duration)
			if err != nil {
				log.Printf("client=%d forward error: %v", req.ClientID, err)
			}
			return err
		}
	}
}
