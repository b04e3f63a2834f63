package loadbalance

import (
	"fmt"
	"math/rand"
)

// WeightedRandomBalancer selects a replica probabilistically based on a
// configured capacity weight per replica. A replica with weight 10 gets
// roughly 2x the traffic of one with weight 5. Replica indices absent
// from Weights (or when Weights is nil) default to weight 1.
//
// Best for: a stage whose replicas run on heterogeneous hardware, where
// the operator statically declares relative capacity up front.
//
// Algorithm:
//  1. Sum all weights → totalWeight
//  2. Generate random number r in [0, totalWeight)
//  3. Subtract each replica's weight from r until r < 0
//  4. The replica that makes r negative is selected
type WeightedRandomBalancer struct {
	// Weights[i] is the weight for replica i+1. A shorter slice (or nil)
	// pads missing entries with weight 1.
	Weights []int
}

func (b *WeightedRandomBalancer) weightOf(replicaID int) int {
	if replicaID-1 < len(b.Weights) {
		w := b.Weights[replicaID-1]
		if w > 0 {
			return w
		}
	}
	return 1
}

func (b *WeightedRandomBalancer) Pick(key string, replicasCount int) (int, error) {
	if err := validateReplicas(replicasCount); err != nil {
		return 0, err
	}

	total := 0
	for id := 1; id <= replicasCount; id++ {
		total += b.weightOf(id)
	}

	r := rand.Intn(total)
	for id := 1; id <= replicasCount; id++ {
		r -= b.weightOf(id)
		if r < 0 {
			return id, nil
		}
	}
	return 0, fmt.Errorf("loadbalance: unexpected error in weighted random selection")
}

func (b *WeightedRandomBalancer) Name() string {
	return "WeightedRandom"
}
