// Package addr formats and parses the TCP addresses used to identify
// upstream hosts. It mirrors the teacher's pkg/addr conversion helpers,
// but operates on plain net.IP values instead of a protobuf wire type,
// since endpoint-assignment transport is out of this module's scope.
package addr

import (
	"fmt"
	"net"
	"strconv"
)

// TCPAddress identifies an upstream host's socket address. Two
// TCPAddresses are Equal iff their IP and port match; this is the
// equality used to dedupe Hosts across membership updates.
type TCPAddress struct {
	IP   net.IP
	Port uint32
}

// String formats the address the way net.JoinHostPort would, bracketing
// IPv6 addresses.
func (a TCPAddress) String() string {
	if a.IP == nil {
		return fmt.Sprintf("<nil>:%d", a.Port)
	}
	return net.JoinHostPort(a.IP.String(), strconv.FormatUint(uint64(a.Port), 10))
}

// Equal reports whether a and other name the same socket address.
func (a TCPAddress) Equal(other TCPAddress) bool {
	return a.Port == other.Port && a.IP.Equal(other.IP)
}

// ParseTCPAddress parses a "host:port" string into a TCPAddress.
func ParseTCPAddress(hostport string) (TCPAddress, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return TCPAddress{}, fmt.Errorf("invalid address %q: %w", hostport, err)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return TCPAddress{}, fmt.Errorf("invalid IP in address %q", hostport)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return TCPAddress{}, fmt.Errorf("invalid port in address %q: %w", hostport, err)
	}
	return TCPAddress{IP: ip, Port: uint32(port)}, nil
}
