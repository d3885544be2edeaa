package filter

import (
	"context"
	"fmt"
	"io"
	"time"
)

// BufferSize is the default read size: 2048 peak records of 12 bytes.
const BufferSize = 12 * 2048

// DefaultIdleWait is the pause after an empty read or a stalled sink write.
const DefaultIdleWait = time.Millisecond

// CaptureOptions tunes a capture session. The zero value is usable.
type CaptureOptions struct {
	BufferSize int
	IdleWait   time.Duration

	// Progress, if set, is called with the running total after each chunk
	// has been flushed to the sink.
	Progress func(total int64)
}

// CaptureResult reports a capture session. It is returned on every path,
// including failures, and Bytes is always the number of bytes that reached
// the sink.
type CaptureResult struct {
	Bytes      int64
	Reads      int
	Duration   time.Duration
	Throughput float64 // MB/s
	Reason     Reason
}

// Capture runs one capture session with an already acquired token: it starts
// the filter, moves data from the device into sink until at least target
// bytes have been written, and stops the filter. Stop is issued on every
// exit path once start has been attempted. The last chunk is written in
// full, so a session may overshoot target but never undershoots it unless
// it fails or ctx is cancelled.
//
// Sink writes that return fewer bytes than requested are retried with the
// remainder. A write of zero bytes with a nil error is treated as
// backpressure and retried after IdleWait.
func Capture(ctx context.Context, tok *Token, target int64, sink io.Writer, opts *CaptureOptions) (*CaptureResult, error) {
	res := &CaptureResult{}
	if opts == nil {
		opts = &CaptureOptions{}
	}
	if target <= 0 {
		err := fmt.Errorf("%w: capture target %d must be positive", ErrInvalidParameters, target)
		res.Reason = ReasonOf(err)
		return res, err
	}
	if err := tok.check(); err != nil {
		res.Reason = ReasonOf(err)
		return res, err
	}

	s, err := tok.State()
	if err == nil {
		err = checkLegal(OpStart, s)
	}
	if err != nil {
		res.Reason = ReasonOf(err)
		return res, err
	}

	c := &capture{
		ctx:    ctx,
		tok:    tok,
		sink:   sink,
		res:    res,
		idle:   opts.IdleWait,
		report: opts.Progress,
	}
	if c.idle <= 0 {
		c.idle = DefaultIdleWait
	}
	size := opts.BufferSize
	if size <= 0 {
		size = BufferSize
	}

	log := Logger(ComponentCapture).With("token", tok.ID())
	log.Info("capture started", "target", target, "holder", tok.Holder())

	start := time.Now()
	err = c.run(target, make([]byte, size))

	if stopErr := tok.stop(); stopErr != nil {
		log.Warn("stop after capture failed", "error", stopErr)
	}

	res.Duration = time.Since(start)
	if secs := res.Duration.Seconds(); secs > 0 {
		res.Throughput = float64(res.Bytes) / (1024 * 1024) / secs
	}
	res.Reason = ReasonOf(err)
	if err != nil {
		log.Warn("capture ended early", "bytes", res.Bytes, "target", target, "reason", res.Reason, "error", err)
		return res, err
	}
	log.Info("capture finished", "bytes", res.Bytes, "reads", res.Reads, "duration", res.Duration)
	return res, nil
}

type capture struct {
	ctx    context.Context
	tok    *Token
	sink   io.Writer
	res    *CaptureResult
	idle   time.Duration
	report func(int64)
}

func (c *capture) run(target int64, buf []byte) error {
	if err := c.tok.start(); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	for c.res.Bytes < target {
		if err := c.ctx.Err(); err != nil {
			return err
		}
		n, err := c.tok.read(buf)
		c.res.Reads++
		if n > 0 {
			Logger(ComponentCapture).Debug("chunk read", "bytes", n)
			// bytes already pulled from the FIFO are flushed even if the read failed
			if werr := c.flush(buf[:n]); werr != nil {
				return werr
			}
			if c.report != nil {
				c.report(c.res.Bytes)
			}
		}
		if err != nil {
			return fmt.Errorf("read after %d bytes: %w", c.res.Bytes, err)
		}
		if n == 0 {
			if err := c.wait(); err != nil {
				return err
			}
		}
	}
	return nil
}

// flush writes all of p to the sink, tracking a cursor across partial writes.
func (c *capture) flush(p []byte) error {
	for pos := 0; pos < len(p); {
		n, err := c.sink.Write(p[pos:])
		if n < 0 || n > len(p)-pos {
			return fmt.Errorf("%w: sink reported %d bytes for a %d byte write", ErrIOFault, n, len(p)-pos)
		}
		pos += n
		c.res.Bytes += int64(n)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrIOFault, err)
		}
		if n == 0 {
			if err := c.wait(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *capture) wait() error {
	t := time.NewTimer(c.idle)
	defer t.Stop()
	select {
	case <-c.ctx.Done():
		return c.ctx.Err()
	case <-t.C:
		return nil
	}
}
