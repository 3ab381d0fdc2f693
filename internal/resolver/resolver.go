// Package resolver turns hostnames or dotted-quad strings from the command
// line or host file into the IPv4 addresses the host table stores.
package resolver

import (
	"fmt"
	"net"
)

// Resolve returns the first IPv4 address for name. If name parses directly
// as an IP literal, DNS is skipped. An address with no IPv4 representation
// (an IPv6-only name) is an error: the engine is IPv4-only.
func Resolve(name string) (net.IP, error) {
	if ip := net.ParseIP(name); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			return v4, nil
		}
		return nil, fmt.Errorf("resolver: %s has no IPv4 address", name)
	}

	addrs, err := net.LookupIP(name)
	if err != nil {
		return nil, fmt.Errorf("resolver: lookup %s: %w", name, err)
	}
	for _, a := range addrs {
		if v4 := a.To4(); v4 != nil {
			return v4, nil
		}
	}
	return nil, fmt.Errorf("resolver: %s has no IPv4 address", name)
}
