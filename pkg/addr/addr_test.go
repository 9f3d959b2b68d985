package addr

import (
	"net"
	"testing"
)

func TestTCPAddressString(t *testing.T) {
	cases := []struct {
		name     string
		addr     TCPAddress
		expected string
	}{
		{
			name:     "ipv4",
			addr:     TCPAddress{IP: net.ParseIP("192.168.0.1"), Port: 1234},
			expected: "192.168.0.1:1234",
		},
		{
			name:     "ipv6",
			addr:     TCPAddress{IP: net.ParseIP("::1"), Port: 80},
			expected: "[::1]:80",
		},
		{
			name:     "nil ip",
			addr:     TCPAddress{Port: 0},
			expected: "<nil>:0",
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.addr.String(); got != c.expected {
				t.Errorf("expected %q, got %q", c.expected, got)
			}
		})
	}
}

func TestParseTCPAddress(t *testing.T) {
	got, err := ParseTCPAddress("10.0.0.1:80")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(TCPAddress{IP: net.ParseIP("10.0.0.1"), Port: 80}) {
		t.Fatalf("unexpected parse result: %+v", got)
	}
}

func TestParseTCPAddressErrors(t *testing.T) {
	for _, in := range []string{"not-an-address", "bad-host:80", "10.0.0.1:notaport"} {
		if _, err := ParseTCPAddress(in); err == nil {
			t.Fatalf("expected error parsing %q", in)
		}
	}
}

func TestTCPAddressEqual(t *testing.T) {
	a := TCPAddress{IP: net.ParseIP("10.0.0.1"), Port: 80}
	b := TCPAddress{IP: net.ParseIP("10.0.0.1"), Port: 80}
	c := TCPAddress{IP: net.ParseIP("10.0.0.2"), Port: 80}

	if !a.Equal(b) {
		t.Fatal("expected equal addresses to compare equal")
	}
	if a.Equal(c) {
		t.Fatal("expected different addresses to compare unequal")
	}
}
