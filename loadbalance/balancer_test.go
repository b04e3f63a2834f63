package loadbalance

import (
	"fmt"
	"testing"
)

func TestRoundRobin(t *testing.T) {
	b := &RoundRobinBalancer{}

	results := make([]int, 3)
	for i := 0; i < 3; i++ {
		id, err := b.Pick("", 3)
		if err != nil {
			t.Fatal(err)
		}
		results[i] = id
	}

	// Pick again, should wrap around to the first replica.
	id, _ := b.Pick("", 3)
	if id != results[0] {
		t.Fatalf("expect wrap around to %d, got %d", results[0], id)
	}
}

func TestRoundRobinNoReplicas(t *testing.T) {
	b := &RoundRobinBalancer{}
	_, err := b.Pick("", 0)
	if err == nil {
		t.Fatal("expect error for zero replicas")
	}
}

func TestWeightedRandom(t *testing.T) {
	b := &WeightedRandomBalancer{Weights: []int{10, 5, 10}}

	counts := map[int]int{}
	n := 10000
	for i := 0; i < n; i++ {
		id, err := b.Pick("", 3)
		if err != nil {
			t.Fatal(err)
		}
		counts[id]++
	}

	// Weight ratio is 10:5:10, so replicas 1 and 3 should be ~2x replica 2.
	ratio := float64(counts[1]) / float64(counts[2])
	if ratio < 1.5 || ratio > 2.5 {
		t.Fatalf("weight ratio replica1/replica2 = %.2f, expect ~2.0", ratio)
	}
}

func TestWeightedRandomDefaultsMissingWeights(t *testing.T) {
	b := &WeightedRandomBalancer{}
	id, err := b.Pick("", 4)
	if err != nil {
		t.Fatal(err)
	}
	if id < 1 || id > 4 {
		t.Fatalf("Pick returned out-of-range replica %d", id)
	}
}

func TestConsistentHash(t *testing.T) {
	b := NewConsistentHashBalancer()

	id1, err := b.Pick("user-123", 3)
	if err != nil {
		t.Fatal(err)
	}
	id2, err := b.Pick("user-123", 3)
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Fatalf("same key mapped to different replicas: %d vs %d", id1, id2)
	}

	seen := map[int]bool{}
	for i := 0; i < 100; i++ {
		id, err := b.Pick(fmt.Sprintf("key-%d", i), 3)
		if err != nil {
			t.Fatal(err)
		}
		seen[id] = true
	}
	if len(seen) < 2 {
		t.Fatalf("expect at least 2 different replicas, got %d", len(seen))
	}
}

func TestConsistentHashCachesRingPerReplicaCount(t *testing.T) {
	b := NewConsistentHashBalancer()
	if _, err := b.Pick("k", 3); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Pick("k", 5); err != nil {
		t.Fatal(err)
	}
	if len(b.rings) != 2 {
		t.Fatalf("expected 2 cached rings, got %d", len(b.rings))
	}
}
