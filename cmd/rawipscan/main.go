// Command rawipscan is a rate-controlled, retry-driven UDP scanner. It sends
// SQL Server Resolution Service probes to each target (up to --retry per
// target) and reports which targets answer.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	realclock "code.cloudfoundry.org/clock"
	"github.com/spf13/pflag"

	"github.com/pcekm/rawipscan/internal/engine"
	"github.com/pcekm/rawipscan/internal/hosttable"
	"github.com/pcekm/rawipscan/internal/protocol"
	"github.com/pcekm/rawipscan/internal/protocol/slammer"
	"github.com/pcekm/rawipscan/internal/rawsock"
	"github.com/pcekm/rawipscan/internal/reporting"
	"github.com/pcekm/rawipscan/internal/resolver"
)

const (
	scannerName = "rawipscan"
	pkgName     = "rawipscan"
)

// Version is set via -ldflags.
var Version = "(unknown)"

// proto is the protocol adapter this scanner is linked with. Package-level so
// printUsage can append its LocalHelp text.
var proto = slammer.New()

var (
	file       = pflag.StringP("file", "f", "", "Read targets one per line (- for stdin) instead of from the command line.")
	sourcePort = pflag.IntP("sport", "s", 0, "UDP source port (0 = random).")
	destPort   = pflag.IntP("dport", "p", 1434, "UDP destination port.")
	retry      = pflag.IntP("retry", "r", 3, "Maximum number of probes per host.")
	timeoutMs  = pflag.IntP("timeout", "t", 500, "Initial per-host timeout, in milliseconds.")
	intervalMs = pflag.IntP("interval", "i", 10, "Minimum inter-packet spacing, in milliseconds.")
	backoff    = pflag.Float64P("backoff", "b", 1.5, "Per-host timeout multiplier applied after each retry.")
	verbose    = pflag.CountP("verbose", "v", "Increase verbosity (repeatable; 1=removals, 2=every send/receive, 3=host list dump).")
	debug      = pflag.CountP("debug", "d", "Increase timing-trace verbosity (repeatable).")
	localData  = pflag.StringP("data", "D", "", "Opaque payload override passed to the protocol adapter.")
	version    = pflag.BoolP("version", "V", false, "Print version information and exit.")
)

func main() {
	pflag.Parse()

	if *version {
		fmt.Println(versionString())
		if extra := proto.LocalVersion(); extra != "" {
			fmt.Println(extra)
		}
		os.Exit(0)
	}

	targets, err := loadTargets()
	if err != nil {
		log.Fatalf("reading targets: %v", err)
	}
	if len(targets) == 0 {
		pflag.Usage()
		os.Exit(1)
	}

	cfg := engine.Config{
		Retry:          *retry,
		InitialTimeout: msToDuration(*timeoutMs),
		MinInterval:    msToDuration(*intervalMs),
		BackoffFactor:  *backoff,
		SourcePort:     *sourcePort,
		DestPort:       *destPort,
		LocalData:      *localData,
	}

	if err := proto.Initialise(protocol.Config{SourcePort: cfg.SourcePort, DestPort: cfg.DestPort, LocalData: cfg.LocalData}); err != nil {
		log.Fatalf("initializing protocol adapter: %v", err)
	}

	tbl := hosttable.New()
	for _, name := range targets {
		handled, err := proto.LocalAddHost(tbl, name, cfg.InitialTimeout)
		if err != nil {
			log.Fatalf("adding host %q: %v", name, err)
		}
		if handled {
			continue
		}
		ip, err := resolver.Resolve(name)
		if err != nil {
			log.Fatalf("%v", err)
		}
		tbl.AddHost(ip, cfg.InitialTimeout)
	}

	conn, err := rawsock.New()
	if err != nil {
		log.Fatalf("opening raw socket: %v", err)
	}
	defer conn.Close()

	clock := realclock.NewClock()
	reporter := reporting.New(os.Stdout, os.Stderr, clock, *verbose, *debug)

	syslogger, slErr := newSyslogger()
	if slErr == nil {
		defer syslogger.Close()
		syslogger.Starting(strings.Join(os.Args, " "))
	}

	reporter.Banner(scannerName, Version, pkgName, tbl.NumHosts())
	reporter.DumpHostList(tbl)

	e := engine.New(cfg, tbl, conn, proto, clock, reporter)
	stats, runErr := e.Run(context.Background())
	proto.CleanUp()
	if runErr != nil {
		log.Fatalf("scan: %v", runErr)
	}

	reporter.Closing(scannerName, Version, pkgName, stats.NumHosts, stats.Responders, stats.Elapsed)
	if slErr == nil {
		syslogger.Ending(stats.NumHosts, stats.Elapsed.Seconds(), stats.Responders)
	}
}

func versionString() string {
	return fmt.Sprintf("%s %s (%s)", scannerName, Version, pkgName)
}

func msToDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func loadTargets() ([]string, error) {
	if *file == "" {
		return pflag.Args(), nil
	}
	return readHostFile(*file)
}
