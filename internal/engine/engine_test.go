package engine

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pcekm/rawipscan/internal/hosttable"
	"github.com/pcekm/rawipscan/internal/reporting"
)

func newTestEngine(t *testing.T, cfg Config, clock *fakeclock.FakeClock, conn *fakeConn, proto *fakeProto) (*Engine, *hosttable.HostTable) {
	t.Helper()
	tbl := hosttable.New()
	reporter := reporting.New(&bytes.Buffer{}, &bytes.Buffer{}, clock, 0, 0)
	e := New(cfg, tbl, conn, proto, clock, reporter)
	return e, tbl
}

// A single host that replies almost immediately gets exactly one probe and
// is removed as a responder.
func TestSingleHostImmediateReply(t *testing.T) {
	clock := fakeclock.NewFakeClock(time.Now())
	conn := newFakeConn(clock)
	proto := &fakeProto{}

	cfg := Config{Retry: 3, InitialTimeout: 500 * time.Millisecond, MinInterval: 10 * time.Millisecond, BackoffFactor: 2}
	e, tbl := newTestEngine(t, cfg, clock, conn, proto)

	host := net.ParseIP("10.0.0.1").To4()
	entry := tbl.AddHost(host, cfg.InitialTimeout)
	conn.ScheduleReply(host, 5*time.Millisecond, []byte("pong"))

	stats, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.NumHosts)
	assert.Equal(t, 1, stats.Responders)
	assert.Equal(t, 0, tbl.LiveCount())
	assert.Equal(t, 1, entry.NumSent)
	require.Len(t, proto.displayed, 1)
	assert.Equal(t, "pong", string(proto.displayed[0].buf))
	assert.True(t, proto.displayed[0].peer.Equal(host))
}

// A single host that never replies is probed Retry times with
// growing, backed-off timeouts, then removed without being counted as a
// responder.
func TestSingleHostNoReplyRetriesThenGivesUp(t *testing.T) {
	clock := fakeclock.NewFakeClock(time.Now())
	conn := newFakeConn(clock)
	proto := &fakeProto{}

	cfg := Config{Retry: 3, InitialTimeout: 100 * time.Millisecond, MinInterval: 10 * time.Millisecond, BackoffFactor: 2}
	e, tbl := newTestEngine(t, cfg, clock, conn, proto)

	host := net.ParseIP("10.0.0.2").To4()
	tbl.AddHost(host, cfg.InitialTimeout)

	stats, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, stats.Responders)
	assert.Equal(t, 0, tbl.LiveCount())
	assert.Equal(t, 3, len(conn.sent))

	// Timeouts should grow: gap2-gap1 should reflect the backoff factor
	// roughly doubling the wait between probes two and three versus one and
	// two.
	d1 := conn.sent[1].at.Sub(conn.sent[0].at)
	d2 := conn.sent[2].at.Sub(conn.sent[1].at)
	assert.Greater(t, d2, d1)
}

// Three hosts are paced and removed in round-robin order as
// their retries exhaust, with no two probes closer together than
// MinInterval.
func TestThreeHostsPacingAndOrder(t *testing.T) {
	clock := fakeclock.NewFakeClock(time.Now())
	conn := newFakeConn(clock)
	proto := &fakeProto{}

	cfg := Config{Retry: 1, InitialTimeout: 50 * time.Millisecond, MinInterval: 20 * time.Millisecond, BackoffFactor: 2}
	e, tbl := newTestEngine(t, cfg, clock, conn, proto)

	hostA := net.ParseIP("10.0.0.10").To4()
	hostB := net.ParseIP("10.0.0.11").To4()
	hostC := net.ParseIP("10.0.0.12").To4()
	tbl.AddHost(hostA, cfg.InitialTimeout)
	tbl.AddHost(hostB, cfg.InitialTimeout)
	tbl.AddHost(hostC, cfg.InitialTimeout)

	stats, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, stats.NumHosts)
	assert.Equal(t, 0, stats.Responders)
	assert.Equal(t, 0, tbl.LiveCount())
	require.Len(t, conn.sent, 3)

	assert.True(t, conn.sent[0].dest.Equal(hostA))
	assert.True(t, conn.sent[1].dest.Equal(hostB))
	assert.True(t, conn.sent[2].dest.Equal(hostC))

	for i := 1; i < len(conn.sent); i++ {
		gap := conn.sent[i].at.Sub(conn.sent[i-1].at)
		assert.GreaterOrEqual(t, gap, cfg.MinInterval)
	}
}

// A reply from an address not in the host table is warned about and does not
// affect the live host's outcome.
func TestReplyFromUnknownHostIsIgnored(t *testing.T) {
	clock := fakeclock.NewFakeClock(time.Now())
	conn := newFakeConn(clock)
	proto := &fakeProto{}

	cfg := Config{Retry: 2, InitialTimeout: 50 * time.Millisecond, MinInterval: 10 * time.Millisecond, BackoffFactor: 2}
	e, tbl := newTestEngine(t, cfg, clock, conn, proto)

	host := net.ParseIP("10.0.0.20").To4()
	tbl.AddHost(host, cfg.InitialTimeout)

	stranger := net.ParseIP("192.168.1.1").To4()
	conn.ScheduleUnknown(2*time.Millisecond, stranger, []byte("surprise"))

	var errOut bytes.Buffer
	e.Reporter.Err = &errOut

	stats, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, stats.Responders)
	assert.Contains(t, errOut.String(), "unknown host 192.168.1.1")
	assert.Empty(t, proto.displayed)
}

// A reply matching a host that has already timed out and been marked
// non-live (but is still in the ring; entries are never physically deleted)
// is still displayed and counted as a responder.
func TestLateReplyAgainstRemovedHostStillCounts(t *testing.T) {
	clock := fakeclock.NewFakeClock(time.Now())
	conn := newFakeConn(clock)
	proto := &fakeProto{}

	cfg := Config{Retry: 1, MinInterval: 5 * time.Millisecond, BackoffFactor: 2}
	e, tbl := newTestEngine(t, cfg, clock, conn, proto)

	// host times out and is removed quickly; other keeps the loop alive long
	// enough for host's late, unprompted reply to arrive.
	host := net.ParseIP("10.0.0.30").To4()
	other := net.ParseIP("10.0.0.31").To4()
	tbl.AddHost(host, 10*time.Millisecond)
	tbl.AddHost(other, 2*time.Second)

	conn.ScheduleUnknown(50*time.Millisecond, host, []byte("late"))

	stats, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Responders)
	require.Len(t, proto.displayed, 1)
	assert.True(t, proto.displayed[0].peer.Equal(host))
}

func TestBackOffSaturatesAtMaxTimeout(t *testing.T) {
	got := backOff(maxTimeout, 10)
	assert.Equal(t, maxTimeout, got)

	got = backOff(time.Second, 2)
	assert.Equal(t, 2*time.Second, got)
}
