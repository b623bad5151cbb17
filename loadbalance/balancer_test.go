package loadbalance

import (
	"fmt"
	"testing"

	"mini-bridge/discovery"
)

var testInstances = []discovery.ServiceInstance{
	{Addr: ":8001", Weight: 10, Version: "1.0"},
	{Addr: ":8002", Weight: 5, Version: "1.0"},
	{Addr: ":8003", Weight: 10, Version: "1.0"},
}

func TestRoundRobin(t *testing.T) {
	b := &RoundRobinBalancer{}

	// Pick 3 times, should cycle through all instances
	results := make([]string, 3)
	for i := 0; i < 3; i++ {
		inst, err := b.Pick("", testInstances)
		if err != nil {
			t.Fatal(err)
		}
		results[i] = inst.Addr
	}
	if results[0] != ":8001" || results[1] != ":8002" || results[2] != ":8003" {
		t.Fatalf("unexpected order %v", results)
	}

	// Pick again, should wrap around to first
	inst, _ := b.Pick("", testInstances)
	if inst.Addr != results[0] {
		t.Fatalf("expect wrap around to %s, got %s", results[0], inst.Addr)
	}
}

func TestEmptyInstances(t *testing.T) {
	for _, name := range []string{"round_robin", "weighted_random", "consistent_hash"} {
		b, err := New(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := b.Pick("k", nil); err == nil {
			t.Fatalf("%s: expect error for empty instances", b.Name())
		}
	}
}

func TestNewUnknown(t *testing.T) {
	if _, err := New("fastest"); err == nil {
		t.Fatal("expect error for unknown balancer")
	}
}

func TestWeightedRandom(t *testing.T) {
	b := &WeightedRandomBalancer{}

	counts := map[string]int{}
	n := 10000
	for i := 0; i < n; i++ {
		inst, err := b.Pick("", testInstances)
		if err != nil {
			t.Fatal(err)
		}
		counts[inst.Addr]++
	}

	// Weight ratio is 10:5:10, so :8001 and :8003 should be ~2x of :8002
	ratio := float64(counts[":8001"]) / float64(counts[":8002"])
	if ratio < 1.5 || ratio > 2.5 {
		t.Fatalf("weight ratio :8001/:8002 = %.2f, expect ~2.0", ratio)
	}
}

func TestWeightedRandomZeroWeights(t *testing.T) {
	b := &WeightedRandomBalancer{}
	inst, err := b.Pick("", []discovery.ServiceInstance{{Addr: ":9000"}})
	if err != nil || inst.Addr != ":9000" {
		t.Fatalf("expect :9000, got %v, %v", inst, err)
	}
}

func TestConsistentHash(t *testing.T) {
	b := NewConsistentHashBalancer()
	for _, inst := range testInstances {
		b.Add(inst)
	}

	// Same key should always map to the same instance
	inst1, _ := b.Pick("session-123", nil)
	inst2, _ := b.Pick("session-123", nil)
	if inst1.Addr != inst2.Addr {
		t.Fatalf("same key mapped to different instances: %s vs %s", inst1.Addr, inst2.Addr)
	}

	// With 100 different keys and 3 nodes, we should hit at least 2
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		inst, _ := b.Pick(fmt.Sprintf("key-%d", i), nil)
		seen[inst.Addr] = true
	}
	if len(seen) < 2 {
		t.Fatalf("expect at least 2 different instances, got %d", len(seen))
	}
}

func TestConsistentHashFollowsInstanceSet(t *testing.T) {
	b := NewConsistentHashBalancer()

	first, err := b.Pick("session-1", testInstances)
	if err != nil {
		t.Fatal(err)
	}

	// Dropping an instance that does not own the key leaves the mapping alone.
	var rest []discovery.ServiceInstance
	for _, inst := range testInstances {
		if inst.Addr == first.Addr {
			rest = append(rest, inst)
		}
	}
	for _, inst := range testInstances {
		if inst.Addr != first.Addr {
			rest = append(rest, inst)
			break
		}
	}
	again, err := b.Pick("session-1", rest)
	if err != nil {
		t.Fatal(err)
	}
	if again.Addr != first.Addr {
		t.Fatalf("expect %s to keep the key, got %s", first.Addr, again.Addr)
	}
}
