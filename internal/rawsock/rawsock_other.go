//go:build !linux && !darwin

package rawsock

import "fmt"

// New is unavailable outside of linux/darwin: raw IPv4 sockets with
// IP_HDRINCL need the unix socket options this platform doesn't expose the
// same way.
func New() (Conn, error) {
	return nil, fmt.Errorf("rawsock: raw IPv4 sockets are not supported on this platform")
}
