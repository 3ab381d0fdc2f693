//go:build linux || darwin

package rawsock

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"
)

// rawConn is a raw IPv4 socket opened with IP_HDRINCL: the caller (the
// protocol adapter) supplies the complete IP header on every send.
type rawConn struct {
	fd   int
	file *os.File
	pc   net.PacketConn
}

// New opens a raw IPv4 socket (AF_INET, SOCK_RAW, IPPROTO_RAW) with
// IP_HDRINCL set.
func New() (Conn, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_RAW, unix.IPPROTO_RAW)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_HDRINCL, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("setsockopt(IP_HDRINCL): %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("setnonblock: %w", err)
	}

	f := os.NewFile(uintptr(fd), "rawip")
	pc, err := net.FilePacketConn(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("FilePacketConn: %w", err)
	}

	return &rawConn{fd: fd, file: f, pc: pc}, nil
}

func (c *rawConn) Send(b []byte, dest net.IP) error {
	_, err := c.pc.WriteTo(b, &net.IPAddr{IP: dest})
	return err
}

func (c *rawConn) RecvFrom(ctx context.Context, buf []byte, timeout time.Duration) (int, net.IP, error) {
	if dl, ok := ctx.Deadline(); ok && timeout > time.Until(dl) {
		timeout = time.Until(dl)
	}
	if err := c.pc.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, nil, fmt.Errorf("setreaddeadline: %w", err)
	}

	n, peer, err := c.pc.ReadFrom(buf)
	if err != nil {
		if isTimeoutOrRefused(err) {
			return 0, nil, ErrTimeout
		}
		return 0, nil, fmt.Errorf("recvfrom: %w", err)
	}

	peerIP := addrIP(peer)
	h, err := ipv4.ParseHeader(buf[:n])
	if err == nil && h.Src != nil {
		peerIP = h.Src
	}
	return n, peerIP, nil
}

func (c *rawConn) Close() error {
	// FilePacketConn holds its own duplicate of the descriptor, so both the
	// packet conn and the original file have to be closed.
	pcErr := c.pc.Close()
	if err := c.file.Close(); err != nil {
		return err
	}
	return pcErr
}

func isTimeoutOrRefused(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, unix.ECONNREFUSED)
}

func addrIP(a net.Addr) net.IP {
	switch a := a.(type) {
	case *net.IPAddr:
		return a.IP
	case *net.UDPAddr:
		return a.IP
	default:
		return nil
	}
}
