// Package dma reads the filter's output stream from the card-to-host DMA
// character device (for example /dev/xdma0_c2h_0) or any named pipe that
// behaves like one.
package dma

import "time"

// DefaultDevice is the card-to-host DMA channel carrying peak records.
const DefaultDevice = "/dev/xdma0_c2h_0"

// MaxPipeSize is the pipe buffer requested when the stream is a FIFO.
const MaxPipeSize = 1024 * 1024

// DefaultPollTimeout bounds how long Read waits for data before returning
// zero bytes.
const DefaultPollTimeout = 100 * time.Millisecond

// Option configures a Stream.
type Option func(*Stream)

// WithPollTimeout sets how long Read waits for data. Zero or negative
// disables polling and Read blocks in the kernel.
func WithPollTimeout(d time.Duration) Option {
	return func(s *Stream) {
		s.timeout = d
	}
}

// Stream is an open DMA channel. It is not safe for concurrent reads.
type Stream struct {
	fd      int
	path    string
	timeout time.Duration
}

// Path returns the device path the stream was opened from.
func (s *Stream) Path() string { return s.path }
