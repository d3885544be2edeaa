//go:build linux

// Package shm_ring is a single-producer single-consumer byte ring in POSIX
// shared memory. A capture writes peak records into it and another process
// (see cmd/shm_reader) consumes them.
package shm_ring

import (
	"errors"
	"fmt"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// RingHeader sits at the very beginning of the shared memory
type RingHeader struct {
	Magic      uint64 // For validation
	Size       uint64 // Total data size (excluding header)
	Head       uint64 // Writer position (byte offset)
	Tail       uint64 // Reader position (byte offset)
	Version    uint32
	RecordSize uint32 // Size of one record, 0 for a plain byte stream
}

const (
	HeaderSize = uint64(unsafe.Sizeof(RingHeader{}))
	MagicValue = 0x5245544C4946424D // "MBFILTER"
	Version    = 2
)

// ErrClosed is returned by operations on a closed ring.
var ErrClosed = errors.New("shm ring closed")

type ShmRing struct {
	fd     int
	data   []byte
	header *RingHeader
	total  uint64
}

func shmPath(name string) string {
	if len(name) > 0 && name[0] == '/' {
		return "/dev/shm" + name
	}
	return "/dev/shm/" + name
}

// Create creates a new shared memory ring buffer with size bytes of data.
// An existing ring of the same name is reused.
func Create(name string, size uint64, recordSize uint32) (*ShmRing, error) {
	if size < 2 {
		return nil, fmt.Errorf("ring size %d too small", size)
	}
	path := shmPath(name)

	f, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT|unix.O_EXCL|unix.O_CLOEXEC, 0666)
	if err != nil {
		if errors.Is(err, unix.EEXIST) {
			return Open(name)
		}
		return nil, fmt.Errorf("open shm: %w", err)
	}

	totalSize := HeaderSize + size
	if err := unix.Ftruncate(f, int64(totalSize)); err != nil {
		unix.Close(f)
		return nil, fmt.Errorf("ftruncate: %w", err)
	}

	data, err := unix.Mmap(f, 0, int(totalSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(f)
		return nil, fmt.Errorf("mmap: %w", err)
	}

	ring := &ShmRing{
		fd:    f,
		data:  data,
		total: size,
	}

	ring.header = (*RingHeader)(unsafe.Pointer(&data[0]))
	ring.header.Size = size
	ring.header.Version = Version
	ring.header.RecordSize = recordSize
	atomic.StoreUint64(&ring.header.Head, 0)
	atomic.StoreUint64(&ring.header.Tail, 0)
	// magic last so readers never see a half-initialized header
	atomic.StoreUint64(&ring.header.Magic, MagicValue)

	return ring, nil
}

// Open opens an existing shared memory ring buffer
func Open(name string) (*ShmRing, error) {
	f, err := unix.Open(shmPath(name), unix.O_RDWR|unix.O_CLOEXEC, 0666)
	if err != nil {
		return nil, fmt.Errorf("open shm: %w", err)
	}

	var stat unix.Stat_t
	if err := unix.Fstat(f, &stat); err != nil {
		unix.Close(f)
		return nil, fmt.Errorf("fstat: %w", err)
	}
	if uint64(stat.Size) <= HeaderSize {
		unix.Close(f)
		return nil, fmt.Errorf("shm segment too small: %d bytes", stat.Size)
	}

	data, err := unix.Mmap(f, 0, int(stat.Size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(f)
		return nil, fmt.Errorf("mmap: %w", err)
	}

	ring := &ShmRing{
		fd:    f,
		data:  data,
		total: uint64(stat.Size) - HeaderSize,
	}

	ring.header = (*RingHeader)(unsafe.Pointer(&data[0]))
	if atomic.LoadUint64(&ring.header.Magic) != MagicValue {
		ring.Close()
		return nil, fmt.Errorf("invalid magic value in shm")
	}

	return ring, nil
}

// Size is the data capacity in bytes. One byte is always kept free, so at
// most Size()-1 bytes are buffered.
func (r *ShmRing) Size() uint64 { return r.total }

// RecordSize is the record size announced by the producer.
func (r *ShmRing) RecordSize() uint32 { return r.header.RecordSize }

// Buffered returns the number of bytes written and not yet consumed.
func (r *ShmRing) Buffered() uint64 {
	head, tail := r.GetPointers()
	return (head + r.total - tail) % r.total
}

// Write copies as much of p as fits in the free space and advances Head. It
// returns 0 when the consumer has not freed any space, which callers treat
// as backpressure.
func (r *ShmRing) Write(p []byte) (n int, err error) {
	if r.data == nil {
		return 0, ErrClosed
	}
	head, tail := r.GetPointers()
	free := (tail + r.total - head - 1) % r.total
	if uint64(len(p)) < free {
		free = uint64(len(p))
	}
	if free == 0 {
		return 0, nil
	}

	dest := r.data[HeaderSize:]
	first := r.total - head
	if free <= first {
		copy(dest[head:], p[:free])
	} else {
		copy(dest[head:], p[:first])
		copy(dest[0:], p[first:free])
	}

	atomic.StoreUint64(&r.header.Head, (head+free)%r.total)
	return int(free), nil
}

// Read copies buffered bytes into p and advances Tail. It returns 0 when
// the ring is empty.
func (r *ShmRing) Read(p []byte) (n int, err error) {
	if r.data == nil {
		return 0, ErrClosed
	}
	head, tail := r.GetPointers()
	avail := (head + r.total - tail) % r.total
	if uint64(len(p)) < avail {
		avail = uint64(len(p))
	}
	if avail == 0 {
		return 0, nil
	}

	src := r.data[HeaderSize:]
	first := r.total - tail
	if avail <= first {
		copy(p, src[tail:tail+avail])
	} else {
		copy(p, src[tail:])
		copy(p[first:], src[:avail-first])
	}

	r.SetTail(tail + avail)
	return int(avail), nil
}

func (r *ShmRing) GetPointers() (uint64, uint64) {
	return atomic.LoadUint64(&r.header.Head), atomic.LoadUint64(&r.header.Tail)
}

func (r *ShmRing) SetTail(tail uint64) {
	atomic.StoreUint64(&r.header.Tail, tail%r.total)
}

func (r *ShmRing) Data() []byte {
	return r.data[HeaderSize:]
}

func (r *ShmRing) Close() error {
	var err error
	if r.data != nil {
		err = unix.Munmap(r.data)
		r.data = nil
	}
	if r.fd != 0 {
		unix.Close(r.fd)
		r.fd = 0
	}
	return err
}

func Remove(name string) error {
	err := unix.Unlink(shmPath(name))
	if err != nil && !errors.Is(err, unix.ENOENT) {
		return err
	}
	return nil
}
