package stats

import "testing"

func TestHeapSinkCounterAccumulates(t *testing.T) {
	sink := NewHeapSink("cluster:foo")
	c := sink.Counter("upstream_cx_total")
	c.Inc()
	c.Add(4)

	if got := c.Value(); got != 5 {
		t.Fatalf("expected 5, got %d", got)
	}

	// Re-fetching by name returns the same counter.
	if again := sink.Counter("upstream_cx_total"); again.Value() != 5 {
		t.Fatalf("expected counter identity to be preserved across lookups")
	}
}

func TestSanitizeReplacesColonOnly(t *testing.T) {
	sink := NewHeapSink("cluster:foo")
	hs := sink.(*heapSink)
	if hs.prefix != "cluster_foo" {
		t.Fatalf("expected colon replaced with underscore, got %q", hs.prefix)
	}
}

func TestHeapSinkGaugeRisesAndFalls(t *testing.T) {
	sink := NewHeapSink("cluster:foo")
	g := sink.Gauge("upstream_flush_active")
	g.Inc()
	g.Inc()
	g.Dec()
	if got := g.Value(); got != 1 {
		t.Fatalf("expected 1, got %d", got)
	}

	g.Set(5)
	if got := g.Value(); got != 5 {
		t.Fatalf("expected 5 after Set, got %d", got)
	}

	if again := sink.Gauge("upstream_flush_active"); again.Value() != 5 {
		t.Fatalf("expected gauge identity to be preserved across lookups")
	}
}

func TestPendingLatch(t *testing.T) {
	var latch PendingLatch
	latch.Add(3)
	latch.Add(4)

	if got := latch.LatchAndReset(); got != 7 {
		t.Fatalf("expected 7, got %d", got)
	}
	if got := latch.LatchAndReset(); got != 0 {
		t.Fatalf("expected latch to reset to 0, got %d", got)
	}
}
