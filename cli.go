package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/mbfilter/pkg/devlock"
	"github.com/mbfilter/pkg/filter"
	"github.com/mbfilter/pkg/hw"
)

// configFromArgs builds a configuration from a file or from the five
// positional values k l m pthresh dtime.
func configFromArgs(configFile string, args []string) (filter.Config, error) {
	switch {
	case configFile != "" && len(args) == 0:
		return loadFilterConfig(configFile)
	case configFile == "" && len(args) == 5:
		return filter.NewConfig(args[0], args[1], args[2], args[3], args[4])
	default:
		return filter.Config{}, fmt.Errorf("%w: expected k l m pthresh dtime or -c FILE", filter.ErrInvalidParameters)
	}
}

func exitCode(reason filter.Reason) int {
	switch reason {
	case filter.ReasonNone:
		return exitOK
	case filter.ReasonDeviceBusy:
		return exitBusy
	case filter.ReasonInvalidParameters:
		return exitUsage
	default:
		return exitFailure
	}
}

// runConfigure loads filter parameters, halting a running filter first.
func runConfigure(args []string) int {
	fs := flag.NewFlagSet("configure", flag.ContinueOnError)
	var o deviceOptions
	o.register(fs)
	configFile := fs.String("c", "", "Filter configuration file (YAML or JSON)")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	setupLogging(o.verbose)

	cfg, err := configFromArgs(*configFile, fs.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		return exitUsage
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dev, cleanup, err := openDevice(ctx, o)
	if err != nil {
		log.Printf("Failed to open device: %v", err)
		return exitFailure
	}
	defer cleanup()

	out := filter.ApplyConfig(dev, "cli:configure", cfg)
	if !out.Accepted() {
		fmt.Fprintf(os.Stderr, "Configuration rejected (%s): %s\n", out.Reason, out.Message)
		return exitCode(out.Reason)
	}
	fmt.Printf("Configuration applied: %s\n", cfg)
	return exitOK
}

// runStart executes one capture session and saves it to the sink.
func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	var o deviceOptions
	o.register(fs)

	var size sizeFlag = 100 * 1024 * 1024 // Default 100MB
	fs.Var(&size, "s", "Capture size (e.g., 100MB, 1GB, 4096B)")
	var shmSize sizeFlag = 64 * 1024 * 1024
	fs.Var(&shmSize, "shm-size", "Shared memory ring size")

	sinkOpts := SinkOptions{}
	fs.StringVar(&sinkOpts.Output, "o", "capture.bin", "Output filename (- for stdout)")
	fs.StringVar(&sinkOpts.Format, "format", "raw", "Output format: raw or parquet")
	fs.StringVar(&sinkOpts.Compress, "compress", "none", "Output compression: none, zstd, lz4 or brotli")
	fs.StringVar(&sinkOpts.Shm, "shm", "", "Write into a shared memory ring instead of a file")
	configFile := fs.String("c", "", "Load this filter configuration before capturing")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	setupLogging(o.verbose)
	sinkOpts.ShmSize = int(shmSize)

	var cfg *filter.Config
	if *configFile != "" {
		c, err := loadFilterConfig(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
			return exitUsage
		}
		cfg = &c
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dev, cleanup, err := openDevice(ctx, o)
	if err != nil {
		log.Printf("Failed to open device: %v", err)
		return exitFailure
	}
	defer cleanup()

	res, err := startCapture(ctx, dev, "cli:start", int64(size), sinkOpts, cfg, reportWriter(sinkOpts), nil)
	if err != nil && res == nil {
		fmt.Fprintf(os.Stderr, "Capture failed: %v\n", err)
		return exitCode(filter.ReasonOf(err))
	}
	return exitCode(res.Reason)
}

func reportWriter(o SinkOptions) io.Writer {
	if o.Output == "-" && o.Shm == "" {
		return os.Stderr
	}
	return os.Stdout
}

// startCapture acquires the device, optionally loads cfg, opens the sink and
// runs the capture. The result is printed to w. A nil result means the
// device was never started. progress, if set, receives the running total.
func startCapture(ctx context.Context, dev *filter.Device, holder string, target int64, sinkOpts SinkOptions, cfg *filter.Config, w io.Writer, progress func(int64)) (*filter.CaptureResult, error) {
	if target <= 0 {
		return nil, fmt.Errorf("%w: capture target %d must be positive", filter.ErrInvalidParameters, target)
	}
	fmt.Fprintln(w, "--- Capture Session Start ---")

	var res *filter.CaptureResult
	err := dev.Do(holder, func(tok *filter.Token) error {
		if cfg != nil {
			fmt.Fprintf(w, ">>> Applying filter configuration %s\n", cfg)
			if err := filter.Reconfigure(tok, *cfg); err != nil {
				return err
			}
		} else if loaded, err := tok.Configuration(); err == nil {
			cfg = &loaded
		}
		sinkOpts.Config = cfg

		sink, err := openSink(sinkOpts)
		if err != nil {
			return fmt.Errorf("%w: %w", filter.ErrIOFault, err)
		}

		fmt.Fprintf(w, "Target: %d bytes\n", target)
		fmt.Fprintln(w, ">>> CAPTURING...")

		var lastReport time.Time
		res, err = filter.Capture(ctx, tok, target, sink, &filter.CaptureOptions{
			Progress: func(total int64) {
				if progress != nil {
					progress(total)
				}
				if time.Since(lastReport) >= time.Second {
					lastReport = time.Now()
					log.Printf("[CAPTURE] %d / %d bytes", total, target)
				}
			},
		})
		if closeErr := sink.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("%w: close sink: %w", filter.ErrIOFault, closeErr)
			res.Reason = filter.ReasonOf(err)
		}
		return err
	})
	if res == nil {
		return nil, err
	}

	fmt.Fprintln(w, "--- Results ---")
	fmt.Fprintf(w, "Total Written:  %d bytes (%d records)\n", res.Bytes, res.Bytes/hw.RecordSize)
	fmt.Fprintf(w, "Reads:          %d\n", res.Reads)
	fmt.Fprintf(w, "Throughput:     %.2f MB/s\n", res.Throughput)
	fmt.Fprintf(w, "Duration:       %v\n", res.Duration)
	if err != nil {
		fmt.Fprintf(w, "Stopped early:  %s (%v)\n", res.Reason, err)
	}
	return res, err
}

// runStatus prints the advisory device state without taking the token.
func runStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	var o deviceOptions
	o.register(fs)
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	setupLogging(o.verbose)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dev, cleanup, err := openDevice(ctx, o)
	if err != nil {
		log.Printf("Failed to open device: %v", err)
		return exitFailure
	}
	defer cleanup()

	st, err := dev.Status()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
		return exitFailure
	}
	var owner int
	if o.lockPath != "" {
		owner, _ = devlock.New(o.lockPath).Owner()
	}
	printStatus(os.Stdout, st, owner)
	return exitOK
}

// printStatus renders st as a table. owner is the pid holding the device
// lock file, 0 if none.
func printStatus(w io.Writer, st filter.Status, owner int) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Field", "Value"})
	table.SetAutoWrapText(false)
	table.Append([]string{"state", st.State.String()})
	for _, f := range []struct {
		key string
		val uint32
	}{
		{filter.KeyFlankRise, st.Config.FlankRise},
		{filter.KeyPlateau, st.Config.Plateau},
		{filter.KeyDecayMultiplier, st.Config.DecayMultiplier},
		{filter.KeyPeakThreshold, st.Config.PeakThreshold},
		{filter.KeyDeadTime, st.Config.DeadTime},
	} {
		table.Append([]string{f.key, strconv.FormatUint(uint64(f.val), 10)})
	}
	held := "no"
	if st.Held {
		held = "yes (" + st.Holder + ")"
	}
	table.Append([]string{"in use", held})
	if owner != 0 {
		table.Append([]string{"lock owner", "pid " + strconv.Itoa(owner)})
	}
	table.Render()
}

// runStop halts a running filter.
func runStop(args []string) int {
	fs := flag.NewFlagSet("stop", flag.ContinueOnError)
	var o deviceOptions
	o.register(fs)
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	setupLogging(o.verbose)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dev, cleanup, err := openDevice(ctx, o)
	if err != nil {
		log.Printf("Failed to open device: %v", err)
		return exitFailure
	}
	defer cleanup()

	err = dev.Do("cli:stop", filter.Halt)
	switch {
	case errors.Is(err, filter.ErrDeviceBusy):
		fmt.Fprintf(os.Stderr, "Stop rejected (%s): %v\n", filter.ReasonOf(err), err)
		return exitBusy
	case errors.Is(err, filter.ErrWrongState):
		fmt.Println("Filter is not running, nothing to stop")
		return exitOK
	case err != nil:
		fmt.Fprintf(os.Stderr, "Stop failed: %v\n", err)
		return exitFailure
	}
	fmt.Println("Filter stopped")
	return exitOK
}
