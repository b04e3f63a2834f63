// Package middleware implements the onion-model middleware chain wrapping
// the server session's forward-then-ack step (spec §4.3 steps 2-3): every
// PROTOCOL or EOF frame is published onto the broker before the server
// acks it, and that publish is where cross-cutting concerns (logging,
// retry, rate limiting, timeout) belong.
//
// Onion model execution order:
//
//	Chain(A, B, C)(handler)  →  A(B(C(handler)))
//
//	Request:   A.before → B.before → C.before → handler
//	Response:  handler → C.after → B.after → A.after
package middleware

import (
	"context"

	"flights-pipeline/message"
)

// Request is what the business handler (the actual broker publish) acts
// on: one client<->server frame destined for a stage.
type Request struct {
	ClientID     uint64
	MessageID    uint64 // 0 for an EOF frame, which has no message_id
	ProtocolType message.ProtocolType
	Frame        message.ClientFrame
}

// HandlerFunc forwards a Request and reports whether the forward
// succeeded. Both the business handler (publish to broker) and every
// middleware-wrapped handler share this signature.
type HandlerFunc func(ctx context.Context, req *Request) error

// Middleware takes a handler and returns a new handler that wraps it.
type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes multiple middlewares into a single middleware, with the
// first middleware in the list as the outermost layer.
//
// Example:
//
//	chain := Chain(Logging, Timeout, RateLimit)
//	handler := chain(businessHandler)
//	// Execution: Logging → Timeout → RateLimit → businessHandler → RateLimit → Timeout → Logging
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
