package processors

import (
	"crypto/md5"
	"math/big"

	"flights-pipeline/stage"
)

// LoadBalancer hashes each record's route onto one of N grouper replicas
// and routes it there directly, instead of broadcasting to every
// OutputQueue, grounded on processors/load_balancer/load_balancer.py's
// md5(route) % grouper_replicas_count + 1 scheme. It implements
// stage.Router so stage.Loop sends the record to exactly that queue.
type LoadBalancer struct {
	targetStage   string
	replicasCount int
}

// NewLoadBalancerFactory builds a stage.Factory routing onto targetStage's
// replicasCount replicas.
func NewLoadBalancerFactory(targetStage string, replicasCount int) stage.Factory {
	return func(uint64) stage.Processor {
		return &LoadBalancer{targetStage: targetStage, replicasCount: replicasCount}
	}
}

func (p *LoadBalancer) Process(fields map[string]string) stage.Response {
	return stage.One(fields)
}

func (p *LoadBalancer) FinishProcessing() stage.Response { return stage.NoOutput() }

// Route implements stage.Router.
func (p *LoadBalancer) Route(fields map[string]string) (string, bool) {
	route := fields["startingAirport"] + "-" + fields["destinationAirport"]
	sum := md5.Sum([]byte(route))
	hash := new(big.Int).SetBytes(sum[:])
	replicaID := int(new(big.Int).Mod(hash, big.NewInt(int64(p.replicasCount))).Int64()) + 1
	return stage.QueueName(p.targetStage, replicaID), true
}
