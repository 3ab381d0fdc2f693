// Package rawsock implements the blocking-with-timeout socket I/O the scan
// engine needs: sending a pre-built IPv4 datagram and waiting for the next
// reply or a timeout.
//
// The raw socket itself (SOCK_RAW with IP_HDRINCL, so the protocol adapter
// supplies the full IP header) is out of scope for the engine proper: this
// package is the one place that opens it.
package rawsock

import (
	"context"
	"errors"
	"net"
	"time"
)

// ErrTimeout indicates recvfrom_wto's wait expired with no datagram
// available. A connection-refused indication (ICMP port-unreachable
// surfacing on the socket) is folded into the same error, because the
// engine has no way to attribute it to a specific host.
var ErrTimeout = errors.New("rawsock: timeout")

// Conn is a raw IPv4 socket as used by the scan engine.
type Conn interface {
	// Send transmits b, a complete IPv4 datagram built by the protocol
	// adapter, addressed to dest.
	Send(b []byte, dest net.IP) error

	// RecvFrom waits at most timeout for the next datagram. It returns
	// ErrTimeout on expiry or on a connection-refused indication. Any other
	// error is fatal and the caller should abort the process.
	RecvFrom(ctx context.Context, buf []byte, timeout time.Duration) (n int, peer net.IP, err error)

	// Close releases the socket.
	Close() error
}
