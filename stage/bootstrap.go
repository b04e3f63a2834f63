package stage

import (
	"context"
	"fmt"
	"log"

	"flights-pipeline/broker"
	"flights-pipeline/dedup"
	"flights-pipeline/registry"
	"flights-pipeline/wal"
)

// RunReplicaConfig bundles everything one stage replica binary needs to
// wire and run its connection loop, the stage-package equivalent of
// server.Serve's "construct, then block" shape — grounded on the
// teacher's Serve taking a fully-built listener/registry and running to
// completion rather than exposing each wiring step to main().
type RunReplicaConfig struct {
	Config
	WALPath string
	Broker  broker.Broker
	Factory Factory
	Logger  *log.Logger

	// Registry, Addr, and LeaseTTL are optional (spec §1's "no dynamic
	// topology discovery" Non-goal keeps replica identity/count
	// config-driven by default). When Registry is set, RunReplica
	// registers this replica's liveness lease for its run and, if
	// Config.ReplicasCount was left at 0, sizes the ring from
	// Registry.Discover(StageName) instead — never for per-message
	// dispatch, only this one-time ring-size fallback.
	Registry registry.Registry
	Addr     string // health/debug address recorded for this replica, not used for routing
	LeaseTTL int64  // seconds; defaults to 10 when Registry is set and this is 0
}

// RunReplica opens the write-ahead log, recovers any in-flight client
// state from it, and blocks running the connection loop until ctx is
// cancelled or the loop returns an error.
func RunReplica(ctx context.Context, rc RunReplicaConfig) error {
	cfg := rc.Config

	if rc.Registry != nil {
		if cfg.ReplicasCount == 0 {
			instances, err := rc.Registry.Discover(cfg.StageName)
			if err != nil {
				return fmt.Errorf("stage: discover %s replicas: %w", cfg.StageName, err)
			}
			if n := len(instances); n > 0 {
				cfg.ReplicasCount = uint64(n)
			}
		}

		ttl := rc.LeaseTTL
		if ttl == 0 {
			ttl = 10
		}
		inst := registry.ReplicaInstance{StageName: cfg.StageName, ReplicaID: cfg.ReplicaID, Addr: rc.Addr}
		if err := rc.Registry.Register(cfg.StageName, inst, ttl); err != nil {
			return fmt.Errorf("stage: register %s replica %d: %w", cfg.StageName, cfg.ReplicaID, err)
		}
		defer rc.Registry.Deregister(cfg.StageName, cfg.ReplicaID)
	}

	w, err := wal.Open(rc.WALPath)
	if err != nil {
		return err
	}
	defer w.Close()

	loop := New(cfg, rc.Factory, w, dedup.New(), rc.Broker, rc.Logger)
	if err := loop.Recover(); err != nil {
		return err
	}
	return loop.Run(ctx)
}
