// Package reporting renders the engine's fixed-text stdout output, its
// --verbose/--debug progress messages, and the optional syslog start/end
// lines.
//
// The startup banner, per-response lines, and closing summary are
// tool-parseable and must stay byte-exact; everything gated behind
// --verbose or --debug is free-form and may use lipgloss styling.
package reporting

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/pcekm/rawipscan/internal/hosttable"
	"github.com/pcekm/rawipscan/internal/xtime"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	dimStyle    = lipgloss.NewStyle().Faint(true)
)

// Reporter renders all of the engine's textual output.
type Reporter struct {
	// Verbose is the number of times --verbose was given (0 = off).
	Verbose int

	// Debug is the number of times --debug was given (0 = off).
	Debug int

	Out io.Writer
	Err io.Writer

	clock xtime.Clock

	traceStarted bool
	traceFirst   time.Time
	traceLast    time.Time
}

// New creates a Reporter.
func New(out, errOut io.Writer, clock xtime.Clock, verbose, debug int) *Reporter {
	return &Reporter{Verbose: verbose, Debug: debug, Out: out, Err: errOut, clock: clock}
}

// Banner prints the opening stdout line.
func (r *Reporter) Banner(scannerName, version, pkg string, numHosts int) {
	fmt.Fprintf(r.Out, "Starting %s %s (%s) with %d hosts\n", scannerName, version, pkg, numHosts)
}

// Closing prints the blank-line-then-summary closing stdout lines.
func (r *Reporter) Closing(scannerName, version, pkg string, numHosts, responders int, elapsed time.Duration) {
	fmt.Fprintln(r.Out)
	fmt.Fprintf(r.Out, "Ending %s %s (%s): %d hosts scanned in %.3f seconds.  %d responded\n",
		scannerName, version, pkg, numHosts, elapsed.Seconds(), responders)
}

// Warn unconditionally prints a non-fatal anomaly to stderr, prefixed with
// "---\t". This is used for conditions that are always worth surfacing, such
// as an unmatched reply, regardless of the configured verbosity.
func (r *Reporter) Warn(format string, args ...any) {
	fmt.Fprintf(r.Err, "---\t"+format+"\n", args...)
}

// Warnf prints like Warn, but only if Verbose is at least minVerbose.
func (r *Reporter) Warnf(minVerbose int, format string, args ...any) {
	if r.Verbose < minVerbose {
		return
	}
	r.Warn(format, args...)
}

// Tracef prints a debug timing trace line: an absolute timestamp, the delta
// since the previous trace, and the delta since the first. It is a no-op
// unless Debug > 0.
func (r *Reporter) Tracef(format string, args ...any) {
	if r.Debug <= 0 {
		return
	}
	now := r.clock.Now()
	if !r.traceStarted {
		r.traceStarted = true
		r.traceFirst = now
		fmt.Fprintf(r.Err, "%s (0.000000) [0.000000]\t", now.Format("15:04:05.000000"))
	} else {
		sincePrev := now.Sub(r.traceLast)
		sinceFirst := now.Sub(r.traceFirst)
		fmt.Fprintf(r.Err, "%s (%.6f) [%.6f]\t", now.Format("15:04:05.000000"), sincePrev.Seconds(), sinceFirst.Seconds())
	}
	r.traceLast = now
	fmt.Fprintf(r.Err, format+"\n", args...)
}

// DumpHostList prints the pre-scan host list when --verbose is given three
// or more times.
func (r *Reporter) DumpHostList(tbl *hosttable.HostTable) {
	if r.Verbose < 3 {
		return
	}
	fmt.Fprintln(r.Err, headerStyle.Render("Host List:"))
	fmt.Fprintln(r.Err)
	fmt.Fprintln(r.Err, dimStyle.Render("Entry\tIP Address"))
	tbl.All(func(e *hosttable.HostEntry) bool {
		fmt.Fprintf(r.Err, "%d\t%s\n", e.N, e.Addr)
		return true
	})
	fmt.Fprintf(r.Err, "\nTotal of %d host entries.\n\n", tbl.NumHosts())
}
