package guest

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"levelrpc/host"
	"levelrpc/hostset"
	"levelrpc/store"
)

// mockRegistry is a fixed, in-memory hostset.Registry, grounded on the
// teacher test suite's MockRegistry pattern (no etcd dependency needed to
// exercise the discovery/balancing contract).
type mockRegistry struct {
	mu        sync.Mutex
	instances map[string][]hostset.HostInstance
}

func newMockRegistry() *mockRegistry {
	return &mockRegistry{instances: make(map[string][]hostset.HostInstance)}
}

func (m *mockRegistry) Register(db string, inst hostset.HostInstance, ttl int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.instances[db] = append(m.instances[db], inst)
	return nil
}

func (m *mockRegistry) Deregister(db, addr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	insts := m.instances[db]
	for i, inst := range insts {
		if inst.Addr == addr {
			m.instances[db] = append(insts[:i], insts[i+1:]...)
			break
		}
	}
	return nil
}

func (m *mockRegistry) Discover(db string) ([]hostset.HostInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]hostset.HostInstance(nil), m.instances[db]...), nil
}

func (m *mockRegistry) Watch(db string) <-chan []hostset.HostInstance { return nil }

// TestRedialerReattachesThroughHostSetAfterDisconnect drives a real
// guest.DB + host.Host pair entirely through a Redialer backed by a
// mockRegistry and hostset.RoundRobinBalancer: the first AttachRPC and the
// post-disconnect reattach both go through Registry.Discover/Balancer.Pick,
// proving hostset is load-bearing in the guest's reconnect path rather than
// an unwired standalone package.
func TestRedialerReattachesThroughHostSetAfterDisconnect(t *testing.T) {
	db := store.NewMemDB()
	if err := db.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatal(err)
	}

	reg := newMockRegistry()
	if err := reg.Register("mydb", hostset.HostInstance{Addr: "host-1", Weight: 1}, 60); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	dialCount := 0
	var currentHostConn net.Conn

	dial := func(ctx context.Context, addr string) (io.ReadWriter, error) {
		mu.Lock()
		dialCount++
		mu.Unlock()
		if addr != "host-1" {
			return nil, fmt.Errorf("unexpected address %q", addr)
		}
		hostConn, guestConn := net.Pipe()
		h := host.New(db, host.Config{BatchSize: 8})
		go h.Serve(context.Background(), hostConn)
		mu.Lock()
		currentHostConn = hostConn
		mu.Unlock()
		return guestConn, nil
	}

	cli := New(Config{Retry: true})
	red := &Redialer{
		DB:       cli,
		Registry: reg,
		Balancer: &hostset.RoundRobinBalancer{},
		Database: "mydb",
		Dial:     dial,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- red.Run(ctx) }()

	// Wait for the first attach to land.
	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := dialCount
		mu.Unlock()
		if n >= 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("redialer never dialed")
		case <-time.After(5 * time.Millisecond):
		}
	}

	v, found, err := cli.Get(ctx, []byte("k"))
	if err != nil || !found || string(v) != "v" {
		t.Fatalf("get after first attach: v=%q found=%v err=%v", v, found, err)
	}

	mu.Lock()
	firstHostConn := currentHostConn
	mu.Unlock()
	firstHostConn.Close()

	deadline = time.After(2 * time.Second)
	for {
		mu.Lock()
		n := dialCount
		mu.Unlock()
		if n >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("redialer never redialed after disconnect")
		case <-time.After(5 * time.Millisecond):
		}
	}

	v, found, err = cli.Get(ctx, []byte("k"))
	if err != nil || !found || string(v) != "v" {
		t.Fatalf("get after redial: v=%q found=%v err=%v", v, found, err)
	}

	cancel()
	cli.Close()
	<-runErr
}
