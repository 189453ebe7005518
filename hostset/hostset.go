// Package hostset discovers and balances across the replicated addresses a
// guest may dial to reach a database's host, repurposing the teacher's
// service-discovery/load-balancing stack: where the teacher resolves
// "Service.Method" to a pool of RPC server instances, hostset resolves a
// database name to a pool of host addresses a guest can AttachRPC to, so a
// dropped connection can be replaced by dialing a different replica.
package hostset

// HostInstance is one replica serving a database.
type HostInstance struct {
	Addr    string // dial address, e.g. "10.0.0.4:4280"
	Weight  int    // relative traffic share for WeightedRandom
	Version string // host build/version, informational
}

// Registry discovers and advertises the host addresses serving a database.
type Registry interface {
	// Register advertises addr as serving db, refreshed for ttl seconds
	// until the caller's process stops renewing it (e.g. on crash).
	Register(db string, instance HostInstance, ttl int64) error
	// Deregister removes addr from db's advertised instances.
	Deregister(db string, addr string) error
	// Discover returns the currently advertised instances for db.
	Discover(db string) ([]HostInstance, error)
	// Watch emits the updated instance list whenever db's instances change.
	Watch(db string) <-chan []HostInstance
}

// Balancer picks one instance from a discovered set for a guest to dial.
type Balancer interface {
	Pick(instances []HostInstance) (*HostInstance, error)
	Name() string
}
