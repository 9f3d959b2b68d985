package upstream

import (
	"testing"

	"github.com/relaymesh/dataplane/pkg/addr"
)

func mustAddr(t *testing.T, s string) addr.TCPAddress {
	t.Helper()
	a, err := addr.ParseTCPAddress(s)
	if err != nil {
		t.Fatalf("bad test address %q: %v", s, err)
	}
	return a
}

func TestWeightClamping(t *testing.T) {
	cases := []struct {
		in   uint32
		want uint32
	}{
		{0, 1},
		{1, 1},
		{64, 64},
		{128, 128},
		{200, 128},
	}
	for _, c := range cases {
		h := NewHost(mustAddr(t, "10.0.0.1:80"), "", Locality{}, nil, c.in)
		if got := h.Weight(); got != c.want {
			t.Errorf("weight(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestHostEqualByAddressOnly(t *testing.T) {
	a := NewHost(mustAddr(t, "10.0.0.1:80"), "a", Locality{Region: "us"}, nil, 1)
	b := NewHost(mustAddr(t, "10.0.0.1:80"), "b", Locality{Region: "eu"}, map[string]string{"x": "y"}, 50)
	c := NewHost(mustAddr(t, "10.0.0.2:80"), "a", Locality{Region: "us"}, nil, 1)

	if !a.Equal(b) {
		t.Error("expected hosts with the same address to be Equal regardless of other fields")
	}
	if a.Equal(c) {
		t.Error("expected hosts with different addresses to not be Equal")
	}
}

func TestHostHealthFlags(t *testing.T) {
	h := NewHost(mustAddr(t, "10.0.0.1:80"), "", Locality{}, nil, 1)
	if !h.Healthy() {
		t.Fatal("expected freshly created host to be healthy")
	}

	h.SetHealthFlag(FailedActiveHC)
	if h.Healthy() {
		t.Fatal("expected host with a health flag set to be unhealthy")
	}

	h.SetHealthFlag(FailedOutlierCheck)
	h.ClearHealthFlag(FailedActiveHC)
	if h.Healthy() {
		t.Fatal("expected host to remain unhealthy while any flag is set")
	}

	h.ClearHealthFlag(FailedOutlierCheck)
	if !h.Healthy() {
		t.Fatal("expected host to become healthy once all flags are cleared")
	}
}
