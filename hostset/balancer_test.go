package hostset

import "testing"

var testInstances = []HostInstance{
	{Addr: ":8001", Weight: 10, Version: "1.0"},
	{Addr: ":8002", Weight: 5, Version: "1.0"},
	{Addr: ":8003", Weight: 10, Version: "1.0"},
}

func TestRoundRobinCyclesAndWraps(t *testing.T) {
	b := &RoundRobinBalancer{}
	results := make([]string, 3)
	for i := 0; i < 3; i++ {
		inst, err := b.Pick(testInstances)
		if err != nil {
			t.Fatal(err)
		}
		results[i] = inst.Addr
	}
	inst, _ := b.Pick(testInstances)
	if inst.Addr != results[0] {
		t.Fatalf("expected wrap around to %s, got %s", results[0], inst.Addr)
	}
}

func TestRoundRobinEmptyErrors(t *testing.T) {
	b := &RoundRobinBalancer{}
	if _, err := b.Pick(nil); err == nil {
		t.Fatal("expected error for empty instance set")
	}
}

func TestWeightedRandomFavorsHigherWeight(t *testing.T) {
	b := &WeightedRandomBalancer{}
	counts := map[string]int{}
	for i := 0; i < 10000; i++ {
		inst, err := b.Pick(testInstances)
		if err != nil {
			t.Fatal(err)
		}
		counts[inst.Addr]++
	}
	ratio := float64(counts[":8001"]) / float64(counts[":8002"])
	if ratio < 1.5 || ratio > 2.5 {
		t.Fatalf("weight ratio :8001/:8002 = %.2f, expected ~2.0", ratio)
	}
}

func TestConsistentHashStableForSameKey(t *testing.T) {
	b := NewConsistentHashBalancer()
	for i := range testInstances {
		b.Add(&testInstances[i])
	}
	inst1, err := b.PickKey("user-123")
	if err != nil {
		t.Fatal(err)
	}
	inst2, _ := b.PickKey("user-123")
	if inst1.Addr != inst2.Addr {
		t.Fatalf("same key mapped to different instances: %s vs %s", inst1.Addr, inst2.Addr)
	}
}

func TestConsistentHashSpreadsAcrossInstances(t *testing.T) {
	b := NewConsistentHashBalancer()
	for i := range testInstances {
		b.Add(&testInstances[i])
	}
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		inst, err := b.PickKey(string(rune('a' + i%26)))
		if err != nil {
			t.Fatal(err)
		}
		seen[inst.Addr] = true
	}
	if len(seen) < 2 {
		t.Fatalf("expected at least 2 distinct instances, got %d", len(seen))
	}
}
