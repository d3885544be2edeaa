//go:build !linux

package dma

import "errors"

var errUnsupported = errors.New("DMA streaming requires linux")

// Open is only supported on Linux.
func Open(path string, opts ...Option) (*Stream, error) {
	return nil, errUnsupported
}

func (s *Stream) Read(p []byte) (int, error) { return 0, errUnsupported }

func (s *Stream) Drain() (int64, error) { return 0, errUnsupported }

func (s *Stream) Close() error { return nil }
