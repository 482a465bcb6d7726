// Command kvwatch-log views and analyzes kvwatch protocol trace files.
//
// Trace files are written by kvwatch (and any program using
// watch.WithProtocolLogger with a log.FileLogger) when started with
// --protocol-log.
//
// Usage:
//
//	kvwatch-log <command> [flags] <file.wlog>
//
// Commands:
//
//	view     Print events in human-readable form
//	export   Export events as JSON lines or CSV
//	filter   Copy matching events to a new trace file
//	stats    Summarize the trace per session
//
// Examples:
//
//	# Everything the client sent
//	kvwatch-log view --direction out client.wlog
//
//	# The life of one subscription across reconnects
//	kvwatch-log view --handle 3 client.wlog
//
//	# One session as CSV
//	kvwatch-log export --format csv --conn-id 1f6c2a9e client.wlog
package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/kvwatch/kvwatch-go/cmd/kvwatch-log/commands"
	"github.com/kvwatch/kvwatch-go/pkg/log"
)

const usage = `kvwatch-log - kvwatch protocol trace analyzer

Usage:
  kvwatch-log <command> [flags] <file.wlog>

Commands:
  view     Print events in human-readable form
  export   Export events as JSON lines or CSV
  filter   Copy matching events to a new trace file
  stats    Summarize the trace per session

Use "kvwatch-log <command> --help" for more information about a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "view":
		err = runView(args)
	case "export":
		err = runExport(args)
	case "filter":
		err = runFilter(args)
	case "stats":
		err = runStats(args)
	case "-h", "--help", "help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newFlagSet(name, summary string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "kvwatch-log %s - %s\n\nUsage:\n  kvwatch-log %s [flags] <file.wlog>\n\nFlags:\n", name, summary, name)
		fs.PrintDefaults()
	}
	return fs
}

func addFilterFlags(fs *flag.FlagSet, f *commands.FilterFlags) {
	fs.StringVar(&f.ConnID, "conn-id", "", "Filter by session/connection ID")
	fs.Uint64Var(&f.Handle, "handle", 0, "Filter by subscription handle")
	fs.Int64Var(&f.WatchID, "watch-id", -1, "Filter by peer-assigned watch ID")
	fs.StringVar(&f.TimeStart, "time-start", "", "Only events at or after this time (RFC3339)")
	fs.StringVar(&f.TimeEnd, "time-end", "", "Only events before this time (RFC3339)")
	fs.StringVar(&f.Layer, "layer", "", "Filter by layer (transport, wire, watch)")
	fs.StringVar(&f.Direction, "direction", "", "Filter by direction (in, out)")
	fs.StringVar(&f.Category, "category", "", "Filter by category (message, state, error)")
}

// parse parses args and returns the trace path and the filter.
func parse(fs *flag.FlagSet, ff *commands.FilterFlags, args []string) (string, log.Filter, error) {
	if err := fs.Parse(args); err != nil {
		return "", log.Filter{}, err
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return "", log.Filter{}, fmt.Errorf("trace file path required")
	}
	if ff == nil {
		return fs.Arg(0), log.Filter{}, nil
	}
	filter, err := ff.Build()
	return fs.Arg(0), filter, err
}

func runView(args []string) error {
	fs := newFlagSet("view", "print events in human-readable form")
	var ff commands.FilterFlags
	addFilterFlags(fs, &ff)

	path, filter, err := parse(fs, &ff, args)
	if err != nil {
		return err
	}
	return commands.RunView(path, filter, os.Stdout)
}

func runExport(args []string) error {
	fs := newFlagSet("export", "export events as JSON lines or CSV")
	var ff commands.FilterFlags
	addFilterFlags(fs, &ff)
	format := fs.String("format", commands.FormatJSONL, "Output format (jsonl, csv)")
	output := fs.StringP("output", "o", "", "Output file (default: stdout)")

	path, filter, err := parse(fs, &ff, args)
	if err != nil {
		return err
	}

	w := os.Stdout
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		w = f
	}
	return commands.RunExport(path, *format, filter, w)
}

func runFilter(args []string) error {
	fs := newFlagSet("filter", "copy matching events to a new trace file")
	var ff commands.FilterFlags
	addFilterFlags(fs, &ff)
	output := fs.StringP("output", "o", "", "Output trace file (required)")

	path, filter, err := parse(fs, &ff, args)
	if err != nil {
		return err
	}
	if *output == "" {
		fs.Usage()
		return fmt.Errorf("output file (-o) required")
	}

	kept, scanned, err := commands.RunFilter(path, *output, filter)
	if err != nil {
		return err
	}
	fmt.Printf("Filtered %d of %d events to %s\n", kept, scanned, *output)
	return nil
}

func runStats(args []string) error {
	fs := newFlagSet("stats", "summarize the trace per session")
	path, _, err := parse(fs, nil, args)
	if err != nil {
		return err
	}
	return commands.RunStats(path, os.Stdout)
}
