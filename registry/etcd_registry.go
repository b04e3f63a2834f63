// etcd is a distributed key-value store providing strong consistency
// (Raft protocol). We use it as a "distributed phonebook" for replicas:
//
//	Key:   /flights-pipeline/{stageName}/{replicaID}
//	Value: JSON-encoded ReplicaInstance
//
// Registration uses TTL-based leases: if a replica crashes, its lease
// expires and the entry is automatically removed — preventing "ghost"
// replicas from inflating the ring size a survivor would compute.
package registry

import (
	"context"
	"encoding/json"
	"strconv"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdRegistry implements Registry using etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client
}

// NewEtcdRegistry creates a new registry connected to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints: endpoints,
	})
	if err != nil {
		return nil, err
	}
	return &EtcdRegistry{client: c}, nil
}

func key(stageName string, replicaID uint64) string {
	return "/flights-pipeline/" + stageName + "/" + strconv.FormatUint(replicaID, 10)
}

// Register adds a replica instance to etcd with a TTL lease.
//
// Flow:
//  1. Create a lease with the given TTL (e.g. 10 seconds).
//  2. Put the key-value pair with the lease attached.
//  3. Start KeepAlive to automatically renew the lease.
//
// leaseID is a local variable, never stored on the struct, so multiple
// replicas sharing one EtcdRegistry instance (e.g. in a test) never race
// on it.
func (r *EtcdRegistry) Register(stageName string, instance ReplicaInstance, ttlSeconds int64) error {
	ctx := context.TODO()

	lease, err := r.client.Grant(ctx, ttlSeconds)
	if err != nil {
		return err
	}

	val, err := json.Marshal(instance)
	if err != nil {
		return err
	}

	_, err = r.client.Put(ctx, key(stageName, instance.ReplicaID), string(val), clientv3.WithLease(lease.ID))
	if err != nil {
		return err
	}

	ch, err := r.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return err
	}

	go func() {
		for range ch {
		}
	}()
	return nil
}

// Deregister removes a replica instance from etcd. Called during graceful
// shutdown before the stage loop stops.
func (r *EtcdRegistry) Deregister(stageName string, replicaID uint64) error {
	_, err := r.client.Delete(context.TODO(), key(stageName, replicaID))
	return err
}

// Watch monitors a stage's replica prefix in etcd and emits updated
// instance lists whenever changes occur (new registrations, lease
// expirations). Uses etcd's Watch API (server-push) rather than polling.
func (r *EtcdRegistry) Watch(stageName string) <-chan []ReplicaInstance {
	ctx := context.TODO()
	ch := make(chan []ReplicaInstance, 1)
	prefix := "/flights-pipeline/" + stageName + "/"

	go func() {
		watchChan := r.client.Watch(ctx, prefix, clientv3.WithPrefix())
		for range watchChan {
			instances, _ := r.Discover(stageName)
			ch <- instances
		}
	}()

	return ch
}

// Discover returns all currently registered instances for a stage.
func (r *EtcdRegistry) Discover(stageName string) ([]ReplicaInstance, error) {
	prefix := "/flights-pipeline/" + stageName + "/"

	resp, err := r.client.Get(context.TODO(), prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	instances := make([]ReplicaInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance ReplicaInstance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			continue // skip a malformed entry rather than fail the whole query
		}
		instances = append(instances, instance)
	}

	return instances, nil
}
