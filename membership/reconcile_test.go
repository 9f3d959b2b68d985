package membership

import (
	"testing"

	"github.com/relaymesh/dataplane/upstream"
)

func newHostAt(t *testing.T, address string) *upstream.Host {
	t.Helper()
	return upstream.NewHost(mustAddr(t, address), "", upstream.Locality{}, nil, 1)
}

func TestReconcileHostsAddedOnEmptyCurrent(t *testing.T) {
	n1 := newHostAt(t, "10.0.0.1:80")
	n2 := newHostAt(t, "10.0.0.2:80")

	added, removed, merged := reconcileHosts([]*upstream.Host{n1, n2}, nil)

	if len(added) != 2 || len(removed) != 0 || len(merged) != 2 {
		t.Fatalf("unexpected result: added=%d removed=%d merged=%d", len(added), len(removed), len(merged))
	}
}

func TestReconcileHostsRemovedWhenAbsentFromNew(t *testing.T) {
	cur := newHostAt(t, "10.0.0.1:80")

	added, removed, merged := reconcileHosts(nil, []*upstream.Host{cur})

	if len(added) != 0 || len(removed) != 1 || len(merged) != 0 {
		t.Fatalf("unexpected result: added=%d removed=%d merged=%d", len(added), len(removed), len(merged))
	}
	if removed[0] != cur {
		t.Fatal("expected the exact current host object to be reported as removed")
	}
}

func TestReconcileHostsPreservesIdentityAndAppliesMutations(t *testing.T) {
	cur := newHostAt(t, "10.0.0.2:80")
	cur.SetWeight(1)

	updated := upstream.NewHost(mustAddr(t, "10.0.0.2:80"), "", upstream.Locality{Region: "us-east"}, map[string]string{"k": "v"}, 5)

	added, removed, merged := reconcileHosts([]*upstream.Host{updated}, []*upstream.Host{cur})

	if len(added) != 0 || len(removed) != 0 {
		t.Fatalf("expected no additions/removals for an address match, got added=%d removed=%d", len(added), len(removed))
	}
	if len(merged) != 1 || merged[0] != cur {
		t.Fatal("expected reconciliation to reuse the existing Host pointer")
	}
	if cur.Weight() != 5 {
		t.Fatalf("expected weight to be updated to 5, got %d", cur.Weight())
	}
	if cur.Locality().Region != "us-east" {
		t.Fatalf("expected locality to be updated, got %+v", cur.Locality())
	}
	if cur.Metadata()["k"] != "v" {
		t.Fatal("expected metadata to be updated")
	}
}

func TestReconcileHostsMixedAddRemovePreserve(t *testing.T) {
	preserved := newHostAt(t, "10.0.0.2:80")
	toRemove := newHostAt(t, "10.0.0.1:80")

	newList := []*upstream.Host{
		upstream.NewHost(mustAddr(t, "10.0.0.2:80"), "", upstream.Locality{}, nil, 1),
		upstream.NewHost(mustAddr(t, "10.0.0.3:80"), "", upstream.Locality{}, nil, 1),
	}

	added, removed, merged := reconcileHosts(newList, []*upstream.Host{toRemove, preserved})

	if len(added) != 1 || added[0].Address.String() != "10.0.0.3:80" {
		t.Fatalf("unexpected added set: %+v", added)
	}
	if len(removed) != 1 || removed[0] != toRemove {
		t.Fatalf("unexpected removed set: %+v", removed)
	}
	if len(merged) != 2 {
		t.Fatalf("expected merged list of length 2, got %d", len(merged))
	}
	if merged[0].Address.String() != "10.0.0.2:80" || merged[0] != preserved {
		t.Fatal("expected merged[0] to be the preserved pointer at 10.0.0.2:80, in newHosts order")
	}
	if merged[1].Address.String() != "10.0.0.3:80" {
		t.Fatal("expected merged[1] to be the newly-added host at 10.0.0.3:80")
	}
}
