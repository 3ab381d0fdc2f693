// Syslog support is optional and gated behind the syslog build tag.
//
//go:build (linux || darwin) && syslog

package reporting

import (
	"fmt"
	"log/syslog"
)

// Syslogger emits a LOG_INFO line at scan start and another at scan end.
type Syslogger struct {
	w *syslog.Writer
}

// NewSyslogger opens a syslog channel tagged with scannerName.
func NewSyslogger(scannerName string) (*Syslogger, error) {
	w, err := syslog.New(syslog.LOG_INFO, scannerName)
	if err != nil {
		return nil, fmt.Errorf("openlog: %w", err)
	}
	return &Syslogger{w: w}, nil
}

// Starting logs the "Starting: <argv>" line.
func (s *Syslogger) Starting(argv string) {
	s.w.Info(fmt.Sprintf("Starting: %s", argv))
}

// Ending logs the "Ending: N scanned in T seconds. R responded" line.
func (s *Syslogger) Ending(numHosts int, elapsedSeconds float64, responders int) {
	s.w.Info(fmt.Sprintf("Ending: %d scanned in %.3f seconds. %d responded", numHosts, elapsedSeconds, responders))
}

// Close closes the syslog channel.
func (s *Syslogger) Close() error {
	return s.w.Close()
}
