// Package loadbalance decides which replica of a stage a given record
// should be routed to (spec §4.3 step 2, "forwards ... onto the input
// exchange sharded by load-balancer rules").
//
// Three strategies are implemented, same names and shapes as a
// service-discovery load balancer but picking a REPLICA INDEX instead of
// a network address:
//   - RoundRobin:     stateless stages, any replica will do
//   - WeightedRandom: replicas given unequal capacity via static config
//   - ConsistentHash: stages that must see every record for a given key
//     (e.g. an airport code) on the same replica, for join/group correctness
package loadbalance

import "fmt"

// Balancer picks a 1-based replica id out of replicasCount for a given
// shard key. RoundRobin and WeightedRandom ignore the key; ConsistentHash
// is the only strategy where the key determines the outcome.
type Balancer interface {
	Pick(key string, replicasCount int) (int, error)
	Name() string
}

func validateReplicas(replicasCount int) error {
	if replicasCount <= 0 {
		return fmt.Errorf("loadbalance: replicasCount must be positive, got %d", replicasCount)
	}
	return nil
}
