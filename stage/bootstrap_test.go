package stage

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"flights-pipeline/broker"
	"flights-pipeline/registry"
)

// fakeRegistry is an in-memory registry.Registry good enough to exercise
// RunReplica's optional register/discover wiring without a live etcd.
type fakeRegistry struct {
	mu        sync.Mutex
	instances map[string][]registry.ReplicaInstance
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{instances: make(map[string][]registry.ReplicaInstance)}
}

func (r *fakeRegistry) Register(stageName string, inst registry.ReplicaInstance, ttlSeconds int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances[stageName] = append(r.instances[stageName], inst)
	return nil
}

func (r *fakeRegistry) Deregister(stageName string, replicaID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var kept []registry.ReplicaInstance
	for _, inst := range r.instances[stageName] {
		if inst.ReplicaID != replicaID {
			kept = append(kept, inst)
		}
	}
	r.instances[stageName] = kept
	return nil
}

func (r *fakeRegistry) Discover(stageName string) ([]registry.ReplicaInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]registry.ReplicaInstance(nil), r.instances[stageName]...), nil
}

func (r *fakeRegistry) Watch(stageName string) <-chan []registry.ReplicaInstance {
	ch := make(chan []registry.ReplicaInstance)
	return ch
}

func TestRunReplicaStopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	b := broker.NewMemoryBroker()
	cfg := Config{
		StageName:    "echo",
		ReplicaID:    1,
		InputQueue:   QueueName("echo", 1),
		InputFields:  []string{"a"},
		OutputFields: []string{"a"},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := RunReplica(ctx, RunReplicaConfig{
		Config:  cfg,
		WALPath: filepath.Join(dir, "echo.log"),
		Broker:  b,
		Factory: func(uint64) Processor { return &echoProcessor{} },
		Logger:  log.New(os.Stderr, "", 0),
	})
	if err != nil {
		t.Fatalf("RunReplica: %v", err)
	}
}

// TestRunReplicaSizesRingFromRegistryWhenReplicasCountOmitted guards the
// registry fallback: Config.ReplicasCount left at 0 should be sized from
// how many instances of StageName are already registered, and this
// replica itself should be registered for the run and deregistered once
// it stops (spec.md §6: replicas_count is config-driven by default;
// registry only fills in when it's omitted).
func TestRunReplicaSizesRingFromRegistryWhenReplicasCountOmitted(t *testing.T) {
	dir := t.TempDir()
	b := broker.NewMemoryBroker()
	reg := newFakeRegistry()
	reg.instances["echo"] = []registry.ReplicaInstance{
		{StageName: "echo", ReplicaID: 1},
		{StageName: "echo", ReplicaID: 2},
	}

	cfg := Config{
		StageName:    "echo",
		ReplicaID:    3,
		InputQueue:   QueueName("echo", 3),
		InputFields:  []string{"a"},
		OutputFields: []string{"a"},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := RunReplica(ctx, RunReplicaConfig{
		Config:   cfg,
		WALPath:  filepath.Join(dir, "echo.log"),
		Broker:   b,
		Factory:  func(uint64) Processor { return &echoProcessor{} },
		Logger:   log.New(os.Stderr, "", 0),
		Registry: reg,
		Addr:     "127.0.0.1:9999",
	})
	if err != nil {
		t.Fatalf("RunReplica: %v", err)
	}

	instances, _ := reg.Discover("echo")
	if len(instances) != 2 {
		t.Fatalf("expected this replica to be deregistered after RunReplica returns, got %d instances", len(instances))
	}
}
