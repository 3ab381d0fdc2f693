// Package protocol defines the adapter boundary between the scan engine and
// protocol-specific probe logic (for example, a SQL Slammer prober). The
// adapter is a plain interface passed to the engine at construction time;
// the Local* methods are optional hooks a concrete protocol may leave as
// no-ops.
package protocol

import (
	"context"
	"net"
	"time"

	"github.com/pcekm/rawipscan/internal/hosttable"
	"github.com/pcekm/rawipscan/internal/rawsock"
)

// Config holds the engine settings a protocol adapter may need while
// building probes.
type Config struct {
	// SourcePort is the UDP source port to use, or 0 for random/unspecified.
	SourcePort int

	// DestPort is the UDP destination port probes are sent to.
	DestPort int

	// LocalData is the opaque --data/-D payload override, if any.
	LocalData string
}

// Protocol builds probe packets and renders received bytes to text. It is
// the sole collaborator the scan engine depends on for anything
// protocol-specific.
type Protocol interface {
	// Initialise performs one-shot setup. It is called after flag defaults
	// are established but before the host table is populated.
	Initialise(cfg Config) error

	// LocalAddHost gives the protocol a chance to pre-empt the engine's
	// default single-name host-add logic (for example, to expand a CIDR
	// block into multiple entries). It returns handled=true if it added
	// (or rejected) the host itself; the engine then skips its own
	// resolution logic for name.
	LocalAddHost(tbl *hosttable.HostTable, name string, initialTimeout time.Duration) (handled bool, err error)

	// SendPacket builds one probe addressed to entry and transmits it over
	// conn. The engine updates entry's send bookkeeping itself after this
	// returns successfully.
	SendPacket(ctx context.Context, conn rawsock.Conn, entry *hosttable.HostEntry, cfg Config) error

	// DisplayPacket renders a received datagram matched to entry.
	DisplayPacket(n int, buf []byte, entry *hosttable.HostEntry, peer net.IP)

	// CleanUp releases any protocol-specific resources at the end of a run.
	CleanUp()

	// LocalHelp returns extra usage text appended after the engine's own,
	// or "" for none.
	LocalHelp() string

	// LocalVersion returns extra version text appended after the engine's
	// own, or "" for none.
	LocalVersion() string
}
