package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/pflag"
)

var usageHeaderStyle = lipgloss.NewStyle().Bold(true)

func init() {
	pflag.Usage = printUsage
}

// printUsage renders the usage block to stderr. Styling is confined to this
// stderr-only path; it never touches the tool-parseable stdout banner,
// response, or closing lines.
func printUsage() {
	fmt.Fprintln(os.Stderr, usageHeaderStyle.Render(fmt.Sprintf("Usage: %s [options] target [target...]", scannerName)))
	fmt.Fprintln(os.Stderr, "  or:", scannerName, "[options] --file=<path|->")
	fmt.Fprintln(os.Stderr)
	pflag.PrintDefaults()
	if extra := proto.LocalHelp(); extra != "" {
		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, extra)
	}
}
