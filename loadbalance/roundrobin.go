package loadbalance

import "sync/atomic"

// RoundRobinBalancer distributes records evenly across all replicas in
// order. Uses an atomic counter for lock-free, goroutine-safe operation.
//
// Best for: stateless stages where every replica has equal capacity and
// no record needs to land on a particular replica.
type RoundRobinBalancer struct {
	counter int64 // Atomic counter, incremented on each Pick()
}

// Pick ignores key and returns the next replica in round-robin order.
func (b *RoundRobinBalancer) Pick(key string, replicasCount int) (int, error) {
	if err := validateReplicas(replicasCount); err != nil {
		return 0, err
	}
	index := atomic.AddInt64(&b.counter, 1) % int64(replicasCount)
	return int(index) + 1, nil
}

func (b *RoundRobinBalancer) Name() string {
	return "RoundRobin"
}
