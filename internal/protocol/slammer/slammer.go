// Package slammer is a demonstration protocol adapter: it probes UDP/1434,
// the MS-SQL Server Resolution Service port SQL Slammer exploited, using the
// legitimate CLNT_UCAST_INST request (opcode 0x04 followed by an instance
// name) rather than the worm's overflow payload.
package slammer

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/rand"
	"net"
	"time"

	"golang.org/x/net/ipv4"

	"github.com/pcekm/rawipscan/internal/hosttable"
	"github.com/pcekm/rawipscan/internal/protocol"
	"github.com/pcekm/rawipscan/internal/rawsock"
)

// clntUcastInst is the SQL Server Resolution Protocol opcode for a
// single-instance status request.
const clntUcastInst = 0x04

// defaultInstance is sent unless overridden by Config.LocalData (-D/--data).
const defaultInstance = "MSSQLSERVER"

// resolutionPort is the SQL Server Resolution Service port.
const resolutionPort = 1434

// Ephemeral range used when no source port is configured.
const (
	ephemeralMin = 1024
	ephemeralMax = 65535
)

// checksum is an internet checksum accumulator.
type checksum uint32

func (c *checksum) addBytes(b []byte) {
	for i := 0; i+1 < len(b); i += 2 {
		*c += checksum(uint16(b[i])<<8) + checksum(b[i+1])
	}
	if len(b)%2 != 0 {
		*c += checksum(uint16(b[len(b)-1]) << 8)
	}
}

func (c *checksum) addUint16(v uint16) { *c += checksum(v) }

func (c checksum) sum() uint16 {
	v := c&0xffff + c>>16
	v = v&0xffff + v>>16
	return ^uint16(v)
}

// Adapter implements protocol.Protocol for SQL Slammer-style UDP probing.
type Adapter struct {
	cfg      protocol.Config
	instance string
	srcPort  int
}

// New returns an uninitialized Adapter. Call Initialise before use.
func New() *Adapter {
	return &Adapter{}
}

// Initialise records the engine config, resolves the instance-name payload
// to send, and picks the UDP source port: the configured one, or a random
// ephemeral port when none was given.
func (a *Adapter) Initialise(cfg protocol.Config) error {
	a.cfg = cfg
	a.instance = defaultInstance
	if cfg.LocalData != "" {
		a.instance = cfg.LocalData
	}
	if len(a.instance) > 255 {
		return fmt.Errorf("slammer: instance name %q too long", a.instance)
	}
	a.srcPort = cfg.SourcePort
	if a.srcPort == 0 {
		a.srcPort = ephemeralMin + rand.Intn(ephemeralMax-ephemeralMin+1)
	}
	return nil
}

// LocalAddHost never overrides the engine's default single-name host
// resolution: this adapter has no CIDR-expansion or instance-list syntax of
// its own.
func (a *Adapter) LocalAddHost(tbl *hosttable.HostTable, name string, timeout time.Duration) (bool, error) {
	return false, nil
}

// SendPacket assembles a complete raw IPv4 datagram (IP header + UDP header
// + CLNT_UCAST_INST payload) and hands it to conn.
func (a *Adapter) SendPacket(ctx context.Context, conn rawsock.Conn, entry *hosttable.HostEntry, cfg protocol.Config) error {
	payload := a.buildPayload()

	srcPort := a.srcPort
	dstPort := cfg.DestPort
	if dstPort == 0 {
		dstPort = resolutionPort
	}

	udpLen := 8 + len(payload)
	ipHdr := &ipv4.Header{
		Version:  4,
		Len:      ipv4.HeaderLen,
		TOS:      0,
		TotalLen: ipv4.HeaderLen + udpLen,
		TTL:      64,
		Protocol: 17, // UDP
		Dst:      entry.Addr,
		Src:      net.IPv4zero, // filled in by the kernel when Src is unspecified
	}

	udpHdr := make([]byte, 8)
	binary.BigEndian.PutUint16(udpHdr[0:2], uint16(srcPort))
	binary.BigEndian.PutUint16(udpHdr[2:4], uint16(dstPort))
	binary.BigEndian.PutUint16(udpHdr[4:6], uint16(udpLen))
	binary.BigEndian.PutUint16(udpHdr[6:8], udpChecksum(ipHdr, udpHdr, payload, uint16(udpLen)))

	ipBytes, err := ipHdr.Marshal()
	if err != nil {
		return fmt.Errorf("slammer: marshal ip header: %w", err)
	}

	pkt := make([]byte, 0, len(ipBytes)+len(udpHdr)+len(payload))
	pkt = append(pkt, ipBytes...)
	pkt = append(pkt, udpHdr...)
	pkt = append(pkt, payload...)

	return conn.Send(pkt, entry.Addr)
}

// udpChecksum computes the UDP checksum over the IPv4 pseudo-header, the UDP
// header (with its checksum field still zero) and the payload. Since the
// source address isn't known until the kernel fills it in on send, this
// checksums against ipHdr.Src as given (0.0.0.0 unless the caller set it);
// most stacks don't validate a raw UDP datagram's checksum on the way in, so
// this is best-effort rather than load-bearing.
func udpChecksum(ipHdr *ipv4.Header, udpHdr []byte, payload []byte, udpLen uint16) uint16 {
	var c checksum
	src := ipHdr.Src
	if src == nil {
		src = net.IPv4zero
	}
	c.addBytes(src.To4())
	c.addBytes(ipHdr.Dst.To4())
	c.addUint16(uint16(ipHdr.Protocol))
	c.addUint16(udpLen)
	c.addBytes(udpHdr[:6]) // src port, dst port, length; checksum field excluded
	c.addBytes(payload)
	return c.sum()
}

func (a *Adapter) buildPayload() []byte {
	instance := a.instance
	if instance == "" {
		instance = defaultInstance
	}
	b := make([]byte, 1+len(instance)+1)
	b[0] = clntUcastInst
	copy(b[1:], instance)
	// NUL-terminated, matching the resolution protocol's instance-name
	// framing.
	return b
}

// DisplayPacket renders a raw reply. The Resolution Protocol response is a
// semicolon-delimited ASCII string (ServerName;InstanceName;IsClustered;...)
// once the leading 3-byte header (opcode + uint16 length) is stripped.
func (a *Adapter) DisplayPacket(n int, buf []byte, entry *hosttable.HostEntry, peer net.IP) {
	body := buf[:n]
	if len(body) > 3 {
		body = body[3:]
	}
	fmt.Printf("%s\tResponse from %s: %s\n", entry.Addr, peer, body)
}

// CleanUp releases no resources: this adapter holds none.
func (a *Adapter) CleanUp() {}

// LocalHelp documents the -D override.
func (a *Adapter) LocalHelp() string {
	return "slammer: -D/--data overrides the SQL Server instance name queried (default \"" + defaultInstance + "\")"
}

// LocalVersion identifies the adapter in -V output.
func (a *Adapter) LocalVersion() string {
	return "slammer protocol adapter 1.0"
}
