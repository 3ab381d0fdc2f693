package main

import "github.com/pcekm/rawipscan/internal/reporting"

// newSyslogger opens the optional syslog channel. A non-nil error here just
// means syslog support wasn't compiled in (no `syslog` build tag) or isn't
// available on this platform; the scan proceeds without it either way.
func newSyslogger() (*reporting.Syslogger, error) {
	return reporting.NewSyslogger(scannerName)
}
