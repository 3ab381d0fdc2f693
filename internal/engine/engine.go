// Package engine implements the scan engine: a single-threaded, cooperative
// main loop that paces outbound probes across a global rate limit, retries
// each host with multiplicative backoff, and matches inbound replies back to
// the round-robin host table.
//
// This is the non-trivial part of the system; everything else (DNS
// resolution, CLI parsing, the payload builder, the response printer) is
// mechanically simple glue around it.
package engine

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/pcekm/rawipscan/internal/hosttable"
	"github.com/pcekm/rawipscan/internal/protocol"
	"github.com/pcekm/rawipscan/internal/rawsock"
	"github.com/pcekm/rawipscan/internal/reporting"
	"github.com/pcekm/rawipscan/internal/xtime"
)

// maxTimeout caps a host's backed-off per-host timeout. Left unbounded, a
// handful of retries with a large backoff factor grow into meaninglessly
// large wait times that keep a single dead host "live" for absurd lengths of
// time, so growth saturates at one hour.
const maxTimeout = time.Hour

// maxDatagram is the largest UDP+IP datagram the engine will read.
const maxDatagram = 65535

// Config holds the engine's immutable scan parameters.
type Config struct {
	// Retry is the maximum number of probes sent to a single host.
	Retry int

	// InitialTimeout is the per-host timeout applied to the first probe.
	InitialTimeout time.Duration

	// MinInterval is the minimum spacing between any two probes, averaged
	// over the run.
	MinInterval time.Duration

	// BackoffFactor multiplies a host's timeout after every probe beyond
	// the first.
	BackoffFactor float64

	// SourcePort is the UDP source port, or 0 for random.
	SourcePort int

	// DestPort is the UDP destination port probed on every host.
	DestPort int

	// LocalData is an opaque payload override passed through to the
	// protocol adapter.
	LocalData string
}

func (c Config) protocolConfig() protocol.Config {
	return protocol.Config{SourcePort: c.SourcePort, DestPort: c.DestPort, LocalData: c.LocalData}
}

// Stats summarizes a completed scan.
type Stats struct {
	NumHosts   int
	Responders int
	Elapsed    time.Duration
}

// Engine owns the scan loop's state: the host table, the I/O connections,
// and the pacing/backoff bookkeeping.
type Engine struct {
	Config   Config
	Table    *hosttable.HostTable
	Conn     rawsock.Conn
	Proto    protocol.Protocol
	Clock    xtime.Clock
	Reporter *reporting.Reporter

	responders int
}

// New creates an Engine ready to Run. The host table's debug-trace hook is
// pointed at the reporter so table-level transitions show up in --debug
// output alongside the loop's own.
func New(cfg Config, tbl *hosttable.HostTable, conn rawsock.Conn, proto protocol.Protocol, clock xtime.Clock, reporter *reporting.Reporter) *Engine {
	tbl.Trace = reporter.Tracef
	return &Engine{Config: cfg, Table: tbl, Conn: conn, Proto: proto, Clock: clock, Reporter: reporter}
}

// Run drives the scan to completion: it returns once every host has either
// responded or exhausted its retries.
func (e *Engine) Run(ctx context.Context) (Stats, error) {
	start := e.Clock.Now()

	var (
		lastPacketTime time.Time // zero value: no packet sent yet.
		reqInterval    = e.Config.MinInterval
		cumErr         time.Duration
		resetCumErr    = true
		passNo         int
		firstTimeout   = true
	)

	buf := make([]byte, maxDatagram)

	e.Reporter.Tracef("main: Start")
	for e.Table.LiveCount() > 0 {
		e.Reporter.Tracef("main: Top of loop.")
		now := e.Clock.Now()

		var selectTimeout time.Duration
		loopDt := now.Sub(lastPacketTime)

		if loopDt >= reqInterval {
			e.Reporter.Tracef("main: Can send packet now. loop_dt=%s", loopDt)
			cursor := e.Table.Cursor()
			hostDt := now.Sub(cursor.LastSendTime)

			if hostDt >= cursor.Timeout {
				e.Reporter.Tracef("main: Can send packet to host %d now. host_dt=%s, timeout=%s, req_interval=%s, cum_err=%s",
					cursor.N, hostDt, cursor.Timeout, reqInterval, cumErr)
				if resetCumErr {
					e.Reporter.Tracef("main: Reset cum_err")
					cumErr = 0
					reqInterval = e.Config.MinInterval
					resetCumErr = false
				} else {
					cumErr += loopDt - e.Config.MinInterval
					if reqInterval >= cumErr {
						reqInterval -= cumErr
					} else {
						reqInterval = 0
					}
				}
				selectTimeout = reqInterval

				if e.Reporter.Verbose > 0 && cursor.NumSent > passNo {
					e.Reporter.Warnf(1, "Pass %d complete", passNo+1)
					passNo = cursor.NumSent
				}

				if cursor.NumSent >= e.Config.Retry {
					e.Reporter.Tracef("main: Timing out host %d.", cursor.N)
					e.Reporter.Warnf(1, "Removing host entry %d (%s) - Timeout", cursor.N, cursor.Addr)
					e.Table.RemoveHost(cursor)
					if firstTimeout {
						e.catchUp(now)
						firstTimeout = false
					}
					lastPacketTime = now // accounting only: no packet was emitted.
				} else {
					if cursor.NumSent > 0 {
						cursor.Timeout = backOff(cursor.Timeout, e.Config.BackoffFactor)
					}
					if err := e.sendTo(ctx, cursor, now); err != nil {
						return e.stats(start), err
					}
					lastPacketTime = now
					e.Table.AdvanceCursor()
				}
			} else {
				// If host n isn't ready, host n+1 won't be either: no point
				// advancing the cursor here.
				e.Reporter.Tracef("main: Can't send packet to host %d yet. host_dt=%s", cursor.N, hostDt)
				selectTimeout = cursor.Timeout - hostDt
				resetCumErr = true
			}
		} else {
			e.Reporter.Tracef("main: Can't send packet yet. loop_dt=%s", loopDt)
			selectTimeout = reqInterval - loopDt
		}

		n, peer, err := e.Conn.RecvFrom(ctx, buf, selectTimeout)
		if err != nil {
			if err == rawsock.ErrTimeout {
				continue
			}
			return e.stats(start), fmt.Errorf("recvfrom: %w", err)
		}
		e.handleReply(buf[:n], peer)
	}
	e.Reporter.Tracef("main: End")

	return e.stats(start), nil
}

// sendTo builds and transmits one probe via the protocol adapter, then
// records the send in the host table.
func (e *Engine) sendTo(ctx context.Context, entry *hosttable.HostEntry, now time.Time) error {
	if err := e.Proto.SendPacket(ctx, e.Conn, entry, e.Config.protocolConfig()); err != nil {
		return fmt.Errorf("send to host %d (%s): %w", entry.N, entry.Addr, err)
	}
	e.Table.RecordSend(entry, now)
	e.Reporter.Warnf(2, "Sent packet #%d to %s", entry.NumSent, entry.Addr)
	return nil
}

// catchUp drains any other hosts that have also gone past due while the
// engine was unable to send, so pacing resumes cleanly in one pass rather
// than timing out hosts one at a time on successive loop iterations.
func (e *Engine) catchUp(now time.Time) {
	for e.Table.LiveCount() > 0 {
		cursor := e.Table.Cursor()
		if now.Sub(cursor.LastSendTime) < cursor.Timeout {
			return
		}
		if cursor.Live {
			e.Reporter.Warnf(1, "Removing host %d (%s) - Catch-Up Timeout", cursor.N, cursor.Addr)
			e.Table.RemoveHost(cursor)
		} else {
			e.Table.AdvanceCursor()
		}
	}
}

// handleReply matches an inbound datagram back to a host and either reports
// a response or warns about an unmatched sender.
func (e *Engine) handleReply(pkt []byte, peer net.IP) {
	cursor := e.Table.Cursor()
	start := e.Table.Prev(cursor)
	entry, ok := e.Table.FindHostByIP(start, peer)
	if !ok {
		e.Reporter.Warn("Ignoring %d bytes from unknown host %s", len(pkt), peer)
		return
	}

	entry.NumRecv++
	e.Reporter.Warnf(2, "Received packet #%d from %s", entry.NumRecv, peer)
	e.Proto.DisplayPacket(len(pkt), pkt, entry, peer)
	e.responders++
	e.Reporter.Warnf(1, "Removing host entry %d (%s) - Received %d bytes", entry.N, peer, len(pkt))
	e.Table.RemoveHost(entry)
}

func (e *Engine) stats(start time.Time) Stats {
	return Stats{
		NumHosts:   e.Table.NumHosts(),
		Responders: e.responders,
		Elapsed:    e.Clock.Now().Sub(start),
	}
}

// backOff multiplies timeout by factor, saturating at maxTimeout.
func backOff(timeout time.Duration, factor float64) time.Duration {
	grown := time.Duration(float64(timeout) * factor)
	if grown > maxTimeout || grown < 0 {
		return maxTimeout
	}
	return grown
}
