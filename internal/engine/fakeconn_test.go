package engine

import (
	"context"
	"net"
	"sort"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"

	"github.com/pcekm/rawipscan/internal/hosttable"
	"github.com/pcekm/rawipscan/internal/protocol"
	"github.com/pcekm/rawipscan/internal/rawsock"
)

// scheduledReply is a reply the fake connection will deliver some time after
// a probe is sent to peer.
type scheduledReply struct {
	afterSend time.Duration
	peer      net.IP
	payload   []byte
}

type pendingReply struct {
	deliverAt time.Time
	peer      net.IP
	payload   []byte
}

type sentRecord struct {
	at   time.Time
	dest net.IP
}

// fakeConn is a deterministic, single-threaded stand-in for a raw socket.
// Instead of actually blocking, RecvFrom advances the fake clock by however
// much simulated time elapses before the next scheduled reply or the
// caller's timeout, whichever comes first.
type fakeConn struct {
	clock *fakeclock.FakeClock

	repliesByPeer map[string][]scheduledReply
	pending       []pendingReply
	sent          []sentRecord
}

func newFakeConn(clock *fakeclock.FakeClock) *fakeConn {
	return &fakeConn{clock: clock, repliesByPeer: make(map[string][]scheduledReply)}
}

// ScheduleReply arranges for a reply from peer, afterSend after the next
// probe sent to peer.
func (c *fakeConn) ScheduleReply(peer net.IP, afterSend time.Duration, payload []byte) {
	c.repliesByPeer[peer.String()] = append(c.repliesByPeer[peer.String()], scheduledReply{afterSend: afterSend, peer: peer, payload: payload})
}

// ScheduleUnknown arranges for a reply from an address not necessarily in
// the host table, afterStart after the fake clock's time when
// ScheduleUnknown is called.
func (c *fakeConn) ScheduleUnknown(afterStart time.Duration, peer net.IP, payload []byte) {
	c.pending = append(c.pending, pendingReply{deliverAt: c.clock.Now().Add(afterStart), peer: peer, payload: payload})
}

func (c *fakeConn) Send(b []byte, dest net.IP) error {
	now := c.clock.Now()
	c.sent = append(c.sent, sentRecord{at: now, dest: dest})
	queue := c.repliesByPeer[dest.String()]
	if len(queue) > 0 {
		r := queue[0]
		c.repliesByPeer[dest.String()] = queue[1:]
		c.pending = append(c.pending, pendingReply{deliverAt: now.Add(r.afterSend), peer: r.peer, payload: r.payload})
	}
	return nil
}

func (c *fakeConn) RecvFrom(ctx context.Context, buf []byte, timeout time.Duration) (int, net.IP, error) {
	now := c.clock.Now()
	deadline := now.Add(timeout)

	sort.Slice(c.pending, func(i, j int) bool { return c.pending[i].deliverAt.Before(c.pending[j].deliverAt) })

	if len(c.pending) == 0 || c.pending[0].deliverAt.After(deadline) {
		c.clock.Increment(timeout)
		return 0, nil, rawsock.ErrTimeout
	}

	p := c.pending[0]
	c.pending = c.pending[1:]
	if p.deliverAt.After(now) {
		c.clock.Increment(p.deliverAt.Sub(now))
	}
	n := copy(buf, p.payload)
	return n, p.peer, nil
}

func (c *fakeConn) Close() error { return nil }

// fakeProto is a minimal protocol adapter: it sends a fixed payload and
// records every displayed response for assertions.
type fakeProto struct {
	displayed []displayedPacket
}

type displayedPacket struct {
	n      int
	buf    []byte
	entryN int
	peer   net.IP
}

func (p *fakeProto) Initialise(cfg protocol.Config) error { return nil }

func (p *fakeProto) LocalAddHost(tbl *hosttable.HostTable, name string, timeout time.Duration) (bool, error) {
	return false, nil
}

func (p *fakeProto) SendPacket(ctx context.Context, conn rawsock.Conn, entry *hosttable.HostEntry, cfg protocol.Config) error {
	return conn.Send([]byte("probe"), entry.Addr)
}

func (p *fakeProto) DisplayPacket(n int, buf []byte, entry *hosttable.HostEntry, peer net.IP) {
	cp := make([]byte, n)
	copy(cp, buf)
	p.displayed = append(p.displayed, displayedPacket{n: n, buf: cp, entryN: entry.N, peer: peer})
}

func (p *fakeProto) CleanUp() {}

func (p *fakeProto) LocalHelp() string { return "" }

func (p *fakeProto) LocalVersion() string { return "" }
