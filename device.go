package main

import (
	"context"
	"io"
	"log"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mbfilter/pkg/devlock"
	"github.com/mbfilter/pkg/dma"
	"github.com/mbfilter/pkg/filter"
	"github.com/mbfilter/pkg/hw"
	"github.com/mbfilter/pkg/sim"
)

const simPipePath = "/tmp/mbfilter_c2h0"

// openDevice opens the filter (or its simulation) and wraps it in the
// exclusive access guard. The returned function releases the hardware.
func openDevice(ctx context.Context, o deviceOptions) (*filter.Device, func(), error) {
	var (
		drv    filter.Driver
		closer io.Closer
	)
	if o.sim {
		drv, closer = openSimulator(ctx)
	} else {
		ctrl, c, err := hw.Open(o.commandDevice, o.dataDevice)
		if err != nil {
			return nil, nil, err
		}
		drv, closer = ctrl, c
	}

	var opts []filter.DeviceOption
	if o.lockPath != "" {
		opts = append(opts, filter.WithLocker(devlock.New(o.lockPath)))
	}
	cleanup := func() {
		if closer != nil {
			closer.Close()
		}
	}
	return filter.NewDevice(drv, opts...), cleanup, nil
}

// openSimulator feeds the simulated stream through a named pipe where
// possible so the real DMA reader is exercised.
func openSimulator(ctx context.Context) (filter.Driver, io.Closer) {
	fpga := sim.New()
	if err := fpga.ServePipe(ctx, simPipePath); err != nil {
		log.Printf("[SIM] Pipe unavailable (%v), reading the simulator directly", err)
		return hw.NewController(fpga, fpga), nil
	}
	stream, err := dma.Open(simPipePath)
	if err != nil {
		log.Printf("[SIM] Open %s failed (%v), reading the simulator directly", simPipePath, err)
		return hw.NewController(fpga, fpga), nil
	}
	log.Printf("[SIM] Simulated filter streaming to: %s", simPipePath)
	return hw.NewController(fpga, stream), stream
}

// loadFilterConfig reads filter parameters from a YAML (or JSON) file.
func loadFilterConfig(path string) (filter.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return filter.Config{}, err
	}
	var fields map[string]string
	if err := yaml.Unmarshal(data, &fields); err != nil {
		return filter.Config{}, err
	}
	return filter.ParseConfig(fields)
}
