//go:build linux

// Command shm_reader drains a shared memory capture ring into a file.
package main

import (
	"bufio"
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mbfilter/pkg/hw"
	"github.com/mbfilter/pkg/shm_ring"
)

func main() {
	shmName := flag.String("shm", "/mbfilter_ring", "Shared memory name")
	output := flag.String("o", "", "Write drained records to this file (default: only report)")
	peek := flag.Bool("peek", false, "Log the first record of every batch")
	flag.Parse()

	log.Printf("Connecting to SHM: %s", *shmName)

	ring, err := shm_ring.Open(*shmName)
	if err != nil {
		log.Fatalf("Failed to open SHM ring: %v", err)
	}
	defer ring.Close()

	var w *bufio.Writer
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			log.Fatalf("Failed to create %s: %v", *output, err)
		}
		defer f.Close()
		w = bufio.NewWriterSize(f, 1024*1024)
		defer w.Flush()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("Reading from SHM (%d bytes, record size %d). Press Ctrl+C to stop.", ring.Size(), ring.RecordSize())

	buf := make([]byte, 12*4096)
	var total int64
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Printf("Drained %d bytes", total)
			return
		case <-ticker.C:
			head, tail := ring.GetPointers()
			log.Printf("Head: %12d | Tail: %12d | Total: %12d bytes", head, tail, total)
		default:
		}

		n, err := ring.Read(buf)
		if err != nil {
			log.Printf("Read: %v", err)
			return
		}
		if n == 0 {
			time.Sleep(time.Millisecond)
			continue
		}
		if *peek && total%hw.RecordSize == 0 && n >= hw.RecordSize {
			rec := hw.DecodeRecord(buf)
			log.Printf("ts=%d ch=%d height=%d", rec.Timestamp, rec.Channel, rec.Height)
		}
		total += int64(n)
		if w != nil {
			if _, err := w.Write(buf[:n]); err != nil {
				log.Printf("Write: %v", err)
				return
			}
		}
	}
}
