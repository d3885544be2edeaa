//go:build linux

package main

import (
	"io"
	"log"

	"github.com/mbfilter/pkg/hw"
	"github.com/mbfilter/pkg/shm_ring"
)

func openShmSink(name string, size int) (io.WriteCloser, error) {
	if size <= 0 {
		size = 64 * 1024 * 1024
	}
	ring, err := shm_ring.Create(name, uint64(size), hw.RecordSize)
	if err != nil {
		return nil, err
	}
	log.Printf("[CAPTURE] Writing to shared memory ring %s (%d bytes)", name, ring.Size())
	return ring, nil
}
