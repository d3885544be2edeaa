//go:build !linux

package main

import (
	"errors"
	"io"
)

func openShmSink(name string, size int) (io.WriteCloser, error) {
	return nil, errors.New("shared memory sink requires linux")
}
