package hostset

import (
	"context"
	"encoding/json"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdRegistry implements Registry on etcd v3, grounded on the teacher's
// registry.EtcdRegistry: instances are stored under
// /levelrpc/{db}/{addr} with a TTL lease so a crashed host's advertisement
// expires instead of lingering as a ghost entry.
type EtcdRegistry struct {
	client *clientv3.Client
}

// NewEtcdRegistry creates a registry connected to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{Endpoints: endpoints})
	if err != nil {
		return nil, err
	}
	return &EtcdRegistry{client: c}, nil
}

func keyPrefix(db string) string { return "/levelrpc/" + db + "/" }

// Register advertises instance under db with a TTL lease, auto-renewed in
// the background for as long as the process lives.
func (r *EtcdRegistry) Register(db string, instance HostInstance, ttl int64) error {
	ctx := context.TODO()

	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return err
	}

	val, err := json.Marshal(instance)
	if err != nil {
		return err
	}

	_, err = r.client.Put(ctx, keyPrefix(db)+instance.Addr, string(val), clientv3.WithLease(lease.ID))
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

// Deregister removes addr from db's advertised instances.
func (r *EtcdRegistry) Deregister(db string, addr string) error {
	_, err := r.client.Delete(context.TODO(), keyPrefix(db)+addr)
	return err
}

// Discover returns all instances currently advertised for db.
func (r *EtcdRegistry) Discover(db string) ([]HostInstance, error) {
	resp, err := r.client.Get(context.TODO(), keyPrefix(db), clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}
	instances := make([]HostInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance HostInstance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			continue
		}
		instances = append(instances, instance)
	}
	return instances, nil
}

// Watch re-fetches db's instance list on every change under its prefix.
func (r *EtcdRegistry) Watch(db string) <-chan []HostInstance {
	ch := make(chan []HostInstance, 1)
	go func() {
		watchChan := r.client.Watch(context.TODO(), keyPrefix(db), clientv3.WithPrefix())
		for range watchChan {
			instances, err := r.Discover(db)
			if err != nil {
				continue
			}
			ch <- instances
		}
	}()
	return ch
}
