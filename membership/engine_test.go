package membership

import (
	"testing"

	"github.com/relaymesh/dataplane/pkg/addr"
	"github.com/relaymesh/dataplane/pkg/stats"
	"github.com/relaymesh/dataplane/upstream"
)

func mustAddr(t *testing.T, s string) addr.TCPAddress {
	t.Helper()
	a, err := addr.ParseTCPAddress(s)
	if err != nil {
		t.Fatalf("bad test address %q: %v", s, err)
	}
	return a
}

func newTestEngine(t *testing.T, cfg Config) (*Engine, *upstream.PrioritySet) {
	t.Helper()
	ps := upstream.NewPrioritySet()
	return NewEngine(cfg, ps, stats.NewHeapSink("test")), ps
}

func addrSet(t *testing.T, hosts []*upstream.Host) map[string]bool {
	t.Helper()
	out := make(map[string]bool, len(hosts))
	for _, h := range hosts {
		out[h.Address.String()] = true
	}
	return out
}

// Scenario 1 from spec.md §8: membership delta across two updates.
func TestMembershipDeltaScenario(t *testing.T) {
	e, ps := newTestEngine(t, Config{ClusterName: "c"})

	err := e.Apply(ClusterLoadAssignment{
		ClusterName: "c",
		Endpoints: []LocalityLbEndpoints{
			{
				Priority: 0,
				Endpoints: []Endpoint{
					{Address: mustAddr(t, "10.0.0.1:80"), Healthy: true},
					{Address: mustAddr(t, "10.0.0.2:80"), Healthy: true},
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	hs := ps.GetOrCreate(0)
	got := addrSet(t, hs.Hosts())
	want := map[string]bool{"10.0.0.1:80": true, "10.0.0.2:80": true}
	if len(got) != len(want) || got["10.0.0.1:80"] != true || got["10.0.0.2:80"] != true {
		t.Fatalf("unexpected host set after first update: %v", got)
	}

	preserved210 := findHost(hs.Hosts(), "10.0.0.2:80")
	if preserved210 == nil {
		t.Fatal("expected 10.0.0.2:80 present after first update")
	}

	err = e.Apply(ClusterLoadAssignment{
		ClusterName: "c",
		Endpoints: []LocalityLbEndpoints{
			{
				Priority: 0,
				Endpoints: []Endpoint{
					{Address: mustAddr(t, "10.0.0.2:80"), Healthy: true},
					{Address: mustAddr(t, "10.0.0.3:80"), Healthy: true},
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error on second update: %v", err)
	}

	hs2 := ps.GetOrCreate(0)
	got2 := addrSet(t, hs2.Hosts())
	if len(got2) != 2 || !got2["10.0.0.2:80"] || !got2["10.0.0.3:80"] {
		t.Fatalf("unexpected host set after second update: %v", got2)
	}

	after210 := findHost(hs2.Hosts(), "10.0.0.2:80")
	if after210 != preserved210 {
		t.Fatal("expected 10.0.0.2:80 to be the same Host object across updates (preserved, not recreated)")
	}
}

func findHost(hosts []*upstream.Host, address string) *upstream.Host {
	for _, h := range hosts {
		if h.Address.String() == address {
			return h
		}
	}
	return nil
}

func TestMembershipRejectsPriorityOnLocalCluster(t *testing.T) {
	e, _ := newTestEngine(t, Config{ClusterName: "local", IsLocal: true})

	err := e.Apply(ClusterLoadAssignment{
		ClusterName: "local",
		Endpoints: []LocalityLbEndpoints{
			{Priority: 1, Endpoints: []Endpoint{{Address: mustAddr(t, "10.0.0.1:80"), Healthy: true}}},
		},
	})
	if err == nil {
		t.Fatal("expected error rejecting priority > 0 on local cluster")
	}
}

func TestMembershipEmptyUpdateDoesNotClearHosts(t *testing.T) {
	e, ps := newTestEngine(t, Config{ClusterName: "c"})

	e.Apply(ClusterLoadAssignment{
		ClusterName: "c",
		Endpoints: []LocalityLbEndpoints{
			{Priority: 0, Endpoints: []Endpoint{{Address: mustAddr(t, "10.0.0.1:80"), Healthy: true}}},
		},
	})

	if err := e.Apply(ClusterLoadAssignment{ClusterName: "c"}); err != nil {
		t.Fatalf("unexpected error on empty update: %v", err)
	}

	if len(ps.GetOrCreate(0).Hosts()) != 1 {
		t.Fatal("expected empty update to leave existing hosts untouched")
	}
	if !e.Initialized() {
		t.Fatal("expected empty update to complete initialization")
	}
}

func TestMembershipAbsentPriorityIsEmptied(t *testing.T) {
	e, ps := newTestEngine(t, Config{ClusterName: "c"})

	e.Apply(ClusterLoadAssignment{
		ClusterName: "c",
		Endpoints: []LocalityLbEndpoints{
			{Priority: 0, Endpoints: []Endpoint{{Address: mustAddr(t, "10.0.0.1:80"), Healthy: true}}},
			{Priority: 1, Endpoints: []Endpoint{{Address: mustAddr(t, "10.0.0.2:80"), Healthy: true}}},
		},
	})

	// Second update only mentions priority 0; priority 1 should empty.
	if err := e.Apply(ClusterLoadAssignment{
		ClusterName: "c",
		Endpoints: []LocalityLbEndpoints{
			{Priority: 0, Endpoints: []Endpoint{{Address: mustAddr(t, "10.0.0.1:80"), Healthy: true}}},
		},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(ps.GetOrCreate(1).Hosts()) != 0 {
		t.Fatal("expected priority 1 to be emptied when absent from the update")
	}
}

func TestMembershipSubscriptionErrorLeavesMembershipUnchanged(t *testing.T) {
	e, ps := newTestEngine(t, Config{ClusterName: "c"})

	e.Apply(ClusterLoadAssignment{
		ClusterName: "c",
		Endpoints: []LocalityLbEndpoints{
			{Priority: 0, Endpoints: []Endpoint{{Address: mustAddr(t, "10.0.0.1:80"), Healthy: true}}},
		},
	})

	e.OnSubscriptionError(errExample)

	if len(ps.GetOrCreate(0).Hosts()) != 1 {
		t.Fatal("expected subscription error to leave membership unchanged")
	}
	if !e.Initialized() {
		t.Fatal("expected subscription error to complete initialization")
	}
}

var errExample = &testError{"boom"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }

func TestMembershipUnhealthyEndpointSetsFlag(t *testing.T) {
	e, ps := newTestEngine(t, Config{ClusterName: "c"})

	e.Apply(ClusterLoadAssignment{
		ClusterName: "c",
		Endpoints: []LocalityLbEndpoints{
			{Priority: 0, Endpoints: []Endpoint{{Address: mustAddr(t, "10.0.0.1:80"), Healthy: false}}},
		},
	})

	hosts := ps.GetOrCreate(0).Hosts()
	if len(hosts) != 1 || hosts[0].Healthy() {
		t.Fatal("expected unhealthy EDS endpoint to be reflected as an unhealthy host")
	}
	if len(ps.GetOrCreate(0).HealthyHosts()) != 0 {
		t.Fatal("expected healthy subset to exclude the unhealthy host")
	}
}
