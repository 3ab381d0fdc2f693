// Package xtime contains the engine's injectable clock.
//
// The scan engine samples wall-clock time at well-defined points (top of
// loop, after sends, at start/end for statistics) and never relies on
// kernel timers. [Clock] is the seam that lets tests substitute a fake
// clock and drive those sampling points deterministically.
package xtime

import "time"

// Clock is the interface the engine uses to sample time. It is satisfied by
// code.cloudfoundry.org/clock.Clock, so production code uses the real clock
// and tests use code.cloudfoundry.org/clock/fakeclock.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}
