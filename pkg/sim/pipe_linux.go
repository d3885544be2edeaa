//go:build linux

package sim

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/mbfilter/pkg/dma"
	"github.com/mbfilter/pkg/filter"
)

// ServePipe publishes the simulated data stream on a named pipe at path so
// that it can be read through pkg/dma like the real C2H channel. The pipe is
// created before ServePipe returns. Data is pumped until ctx is done, then
// the pipe is removed.
func (f *FPGA) ServePipe(ctx context.Context, path string) error {
	_ = os.Remove(path)
	if err := unix.Mkfifo(path, 0666); err != nil {
		return fmt.Errorf("mkfifo %s: %w", path, err)
	}

	// O_RDWR keeps the open from blocking until a reader shows up
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("open %s: %w", path, err)
	}
	_, _ = unix.FcntlInt(uintptr(fd), unix.F_SETPIPE_SZ, dma.MaxPipeSize)

	log := filter.Logger(filter.ComponentSim)
	log.Info("streaming simulated peaks", "path", path)

	go func() {
		defer os.Remove(path)
		defer unix.Close(fd)
		if err := f.pump(ctx, fd); err != nil {
			log.Error("simulated stream stopped", "error", err)
		}
	}()
	return nil
}

func (f *FPGA) pump(ctx context.Context, fd int) error {
	buf := make([]byte, filter.BufferSize)
	write := func(p []byte) (int, error) { return unix.Write(fd, p) }
	for {
		if ctx.Err() != nil {
			return nil
		}
		n, run := f.readRun(buf)
		if n == 0 {
			time.Sleep(time.Millisecond)
			continue
		}
		chunk := buf[:n]
		for len(chunk) > 0 {
			if ctx.Err() != nil {
				return nil
			}
			// the write happens under the FPGA lock so a Stop cannot
			// slip in between the check and the write
			w, live, err := f.emit(run, chunk, write)
			if !live {
				break
			}
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				time.Sleep(time.Millisecond)
				continue
			}
			if err != nil {
				return err
			}
			chunk = chunk[w:]
		}
	}
}
