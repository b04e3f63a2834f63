// Package registry provides liveness/topology registration for a stage's
// replica set, backed by etcd. It is consulted only as a fallback — to
// size a stage's ring when config omits replicas_count (spec §6 CLI
// surface) — never for per-message dispatch, which stays config-driven
// per spec §1's "dynamic topology discovery" Non-goal.
package registry

// ReplicaInstance represents one live replica of one stage.
type ReplicaInstance struct {
	StageName string // e.g. "joiner", "max_avg"
	ReplicaID uint64
	Addr      string // health/debug address, not used for message routing
}

// Registry is the interface for replica registration and discovery.
// Implementations include EtcdRegistry (production) and a hand-rolled
// in-memory fake for tests.
type Registry interface {
	// Register adds a replica instance to the registry with a TTL lease.
	// The instance is automatically removed if KeepAlive stops (e.g. the
	// replica's process crashes).
	Register(stageName string, instance ReplicaInstance, ttlSeconds int64) error

	// Deregister removes a replica instance from the registry. Called
	// during graceful shutdown before the stage loop stops.
	Deregister(stageName string, replicaID uint64) error

	// Discover returns all currently registered instances for a stage —
	// stage.RunReplica uses len(instances) to size the ring when config
	// omits replicas_count.
	Discover(stageName string) ([]ReplicaInstance, error)

	// Watch returns a channel that emits updated instance lists whenever
	// the stage's replica set changes.
	Watch(stageName string) <-chan []ReplicaInstance
}
