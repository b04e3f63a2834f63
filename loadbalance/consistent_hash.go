package loadbalance

import (
	"fmt"
	"hash/crc32"
	"sort"
	"sync"
)

// ConsistentHashBalancer maps a shard key to a replica using a hash ring,
// so the same key (e.g. an airport code) always lands on the same
// replica — required for stages whose Processor accumulates per-key state
// across records (joins, group-bys).
//
// Virtual nodes: each replica is mapped to N virtual nodes on the ring.
// Without virtual nodes, a handful of replicas can cluster together on
// the ring, causing uneven load distribution. 100 virtual nodes per
// replica gives statistical uniformity.
type ConsistentHashBalancer struct {
	virtualNodes int

	mu    sync.Mutex
	rings map[int]*hashRing // keyed by replicasCount, built lazily and cached
}

type hashRing struct {
	sorted []uint32
	nodes  map[uint32]int // ring position -> replica id
}

// NewConsistentHashBalancer creates a balancer with 100 virtual nodes per
// replica.
func NewConsistentHashBalancer() *ConsistentHashBalancer {
	return &ConsistentHashBalancer{virtualNodes: 100, rings: make(map[int]*hashRing)}
}

func (b *ConsistentHashBalancer) ringFor(replicasCount int) *hashRing {
	if r, ok := b.rings[replicasCount]; ok {
		return r
	}
	r := &hashRing{nodes: make(map[uint32]int)}
	for replicaID := 1; replicaID <= replicasCount; replicaID++ {
		for i := 0; i < b.virtualNodes; i++ {
			key := fmt.Sprintf("%d#%d", replicaID, i)
			hash := crc32.ChecksumIEEE([]byte(key))
			r.sorted = append(r.sorted, hash)
			r.nodes[hash] = replicaID
		}
	}
	sort.Slice(r.sorted, func(i, j int) bool { return r.sorted[i] < r.sorted[j] })
	b.rings[replicasCount] = r
	return r
}

// Pick hashes key and finds the first ring node at or after that hash,
// wrapping around to the first node if the hash exceeds every node.
func (b *ConsistentHashBalancer) Pick(key string, replicasCount int) (int, error) {
	if err := validateReplicas(replicasCount); err != nil {
		return 0, err
	}

	b.mu.Lock()
	r := b.ringFor(replicasCount)
	b.mu.Unlock()

	hash := crc32.ChecksumIEEE([]byte(key))
	idx := sort.Search(len(r.sorted), func(i int) bool { return r.sorted[i] >= hash })
	if idx == len(r.sorted) {
		idx = 0
	}
	return r.nodes[r.sorted[idx]], nil
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}
