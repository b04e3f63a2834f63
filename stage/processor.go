// Package stage implements the connection loop every internal processing
// stage replica runs (spec §4.4): dequeue, dedup-check, parse, process,
// publish outputs, commit, ack — with the EOF ring protocol (§4.6) woven
// in as the three extra message kinds the loop also has to route.
package stage

// Kind enumerates the shapes a Processor's Response can take (spec §4.4
// "Response types").
type Kind int

const (
	// None means the processor consumed the input and produced no
	// output yet (e.g. it is still accumulating state for a later
	// aggregate).
	None Kind = iota
	// Single means exactly one output record.
	Single
	// Multiple means zero or more output records, typically emitted in
	// FinishProcessing once a client's stream is fully observed.
	Multiple
	// SendEOF means: emit Fields as a final output AND propagate EOF
	// downstream immediately, without waiting for this stage's own EOF
	// ring to converge on the upstream side first.
	SendEOF
)

// Response is the sum type a Processor returns from Process or
// FinishProcessing.
type Response struct {
	Kind   Kind
	Fields []map[string]string
}

// NoOutput is the canonical empty response.
func NoOutput() Response { return Response{Kind: None} }

// One wraps a single output record.
func One(fields map[string]string) Response {
	return Response{Kind: Single, Fields: []map[string]string{fields}}
}

// Many wraps zero or more output records.
func Many(fields []map[string]string) Response {
	return Response{Kind: Multiple, Fields: fields}
}

// Finish wraps a single output record that also triggers early EOF
// propagation.
func Finish(fields map[string]string) Response {
	return Response{Kind: SendEOF, Fields: []map[string]string{fields}}
}

// Processor is the per-client stateful transform a stage replica hosts
// (spec §4.4). Implementations (processors.TwoFastest, processors.MaxAvg,
// ...) are expected to be deterministic on a given client stream modulo
// duplicate suppression (spec §4.4).
type Processor interface {
	// Process folds one input record into the processor's state and
	// returns whatever output, if any, that record produces.
	Process(fields map[string]string) Response
	// FinishProcessing is called once for a client when its input stream
	// has been fully consumed (the EOF ring has converged); it flushes
	// any buffered aggregate state.
	FinishProcessing() Response
}

// Factory constructs a fresh Processor for a newly observed client_id —
// stage state is always scoped per client, never shared across clients
// (spec §3 "LogRecord" and §4.5 "per client_id").
type Factory func(clientID uint64) Processor

// Router is an optional capability a Processor implements when it needs
// to steer a single output record to one specific downstream queue
// rather than the broadcast-to-every-OutputQueue default (e.g. the
// load-balancer stage hashing a route onto one grouper replica). Route
// returns ok=false to fall back to the broadcast behavior for a given
// record.
type Router interface {
	Route(fields map[string]string) (queue string, ok bool)
}
