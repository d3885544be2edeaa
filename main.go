package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/mbfilter/pkg/devlock"
	"github.com/mbfilter/pkg/dma"
	"github.com/mbfilter/pkg/filter"
	"github.com/mbfilter/pkg/hw"
)

// sizeFlag custom type to handle units like KB, MB, GB
type sizeFlag int64

func (s *sizeFlag) String() string {
	return fmt.Sprintf("%d", *s)
}

func (s *sizeFlag) Set(value string) error {
	value = strings.TrimSpace(strings.ToUpper(value))
	multiplier := int64(1)

	if strings.HasSuffix(value, "GB") {
		multiplier = 1024 * 1024 * 1024
		value = strings.TrimSuffix(value, "GB")
	} else if strings.HasSuffix(value, "MB") {
		multiplier = 1024 * 1024
		value = strings.TrimSuffix(value, "MB")
	} else if strings.HasSuffix(value, "KB") {
		multiplier = 1024
		value = strings.TrimSuffix(value, "KB")
	} else if strings.HasSuffix(value, "B") {
		value = strings.TrimSuffix(value, "B")
	}

	val, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || val < 0 {
		return fmt.Errorf("invalid size format: %s", value)
	}

	*s = sizeFlag(val * multiplier)
	return nil
}

// deviceOptions are the flags shared by every subcommand.
type deviceOptions struct {
	commandDevice string
	dataDevice    string
	lockPath      string
	sim           bool
	verbose       bool
}

func (o *deviceOptions) register(fs *flag.FlagSet) {
	fs.StringVar(&o.commandDevice, "u", hw.DefaultCommandDevice, "Register (user BAR) device path")
	fs.StringVar(&o.dataDevice, "d", dma.DefaultDevice, "DMA data device path")
	fs.StringVar(&o.lockPath, "lock", devlock.DefaultPath, "Lock file shared by all processes using the device (empty disables)")
	fs.BoolVar(&o.sim, "sim", false, "Simulate the filter gateware")
	fs.BoolVar(&o.verbose, "v", false, "Verbose (debug) logging")
}

// Exit codes
const (
	exitOK      = 0
	exitFailure = 1
	exitBusy    = 2
	exitUsage   = 64
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
	fmt.Fprintln(os.Stderr, "  configure [options] k l m pthresh dtime   Load filter parameters")
	fmt.Fprintln(os.Stderr, "  configure [options] -c filter.yaml")
	fmt.Fprintln(os.Stderr, "  start     [options] -s SIZE -o FILE      Capture peak records")
	fmt.Fprintln(os.Stderr, "  status    [options]                      Show device state")
	fmt.Fprintln(os.Stderr, "  stop      [options]                      Halt a running filter")
	fmt.Fprintln(os.Stderr, "  server    [options] -listen ADDR         Remote configuration endpoint")
	fmt.Fprintln(os.Stderr, "\nRun '<command> -h' for the options of a command.")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(exitUsage)
	}

	var run func(args []string) int
	switch os.Args[1] {
	case "configure":
		run = runConfigure
	case "start":
		run = runStart
	case "status":
		run = runStatus
	case "stop":
		run = runStop
	case "server":
		run = runServer
	case "-h", "-help", "--help", "help":
		usage()
		os.Exit(exitOK)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(exitUsage)
	}
	os.Exit(run(os.Args[2:]))
}

// setupLogging sends component logs to the same writer as the standard
// logger so that both streams interleave on stderr.
func setupLogging(verbose bool) {
	if verbose {
		filter.SetLogLevel(slog.LevelDebug)
	} else {
		filter.SetLogLevel(slog.LevelInfo)
	}
	filter.SetLogger(filter.NewLogger(log.Writer()))
}
