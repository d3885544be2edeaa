// Package sim simulates the filter gateware so the program and its tests can
// run without the card. An FPGA serves as the register file of an
// hw.Controller and as its data channel.
package sim

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/mbfilter/pkg/filter"
	"github.com/mbfilter/pkg/hw"
)

const (
	clockPeriod = 8 * time.Nanosecond

	// maxRecordsPerRead caps the records produced by one Read so that a
	// simulated read behaves like a DMA burst.
	maxRecordsPerRead = 2048
)

// lines are the simulated peak heights the spectrum clusters around.
var lines = []float64{1420, 1220, 6400, 7050}

// FPGA is a simulated filter core. It is safe for concurrent use.
type FPGA struct {
	mu   sync.Mutex
	regs [hw.NUM_REGS]uint32

	rng       *rand.Rand
	timestamp uint64
	generated uint64
	// run counts RUN rising edges; data tagged with an older run is stale
	run uint64
}

// New returns an unconfigured FPGA.
func New() *FPGA {
	f := &FPGA{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
	f.regs[hw.REG_MAGIC] = hw.MAGIC_VALUE
	f.regs[hw.REG_STATUS] = hw.STATE_UNCONFIGURED
	return f
}

// NewSeeded returns an FPGA with a deterministic peak sequence.
func NewSeeded(seed int64) *FPGA {
	f := New()
	f.rng = rand.New(rand.NewSource(seed))
	return f
}

// ReadAt implements register reads. Only aligned 4-byte accesses are valid.
func (f *FPGA) ReadAt(p []byte, off int64) (int, error) {
	r, err := regIndex(len(p), off)
	if err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	binary.LittleEndian.PutUint32(p, f.regs[r])
	return 4, nil
}

// WriteAt implements register writes and the gateware's reaction to them.
// STATUS and MAGIC are read-only.
func (f *FPGA) WriteAt(p []byte, off int64) (int, error) {
	r, err := regIndex(len(p), off)
	if err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(p)

	f.mu.Lock()
	defer f.mu.Unlock()
	switch r {
	case hw.REG_MAGIC, hw.REG_STATUS:
	case hw.REG_CONTROL:
		f.control(v)
	default:
		f.regs[r] = v
	}
	return 4, nil
}

func regIndex(n int, off int64) (hw.Reg, error) {
	if n != 4 || off%4 != 0 || off < 0 || off/4 >= hw.NUM_REGS {
		return 0, fmt.Errorf("invalid register access: %d bytes at offset %d", n, off)
	}
	return hw.Reg(off / 4), nil
}

// control applies a CONTROL write. Called with f.mu held.
func (f *FPGA) control(v uint32) {
	prev := f.regs[hw.REG_CONTROL]
	f.regs[hw.REG_CONTROL] = v
	status := f.regs[hw.REG_STATUS]
	state := status & hw.STATUS_STATE_MASK

	rose := func(bit uint32) bool { return v&bit != 0 && prev&bit == 0 }
	fell := func(bit uint32) bool { return v&bit == 0 && prev&bit != 0 }

	if rose(hw.CTRL_LOAD) {
		status |= hw.STATUS_LOAD_ACK
		if f.paramsValid() {
			status &^= hw.STATUS_PARAMS_INVALID
			state = hw.STATE_READY
		} else {
			status |= hw.STATUS_PARAMS_INVALID
			state = hw.STATE_INVALID
		}
	}
	if fell(hw.CTRL_LOAD) {
		status &^= hw.STATUS_LOAD_ACK
	}
	if rose(hw.CTRL_RUN) && state == hw.STATE_READY {
		state = hw.STATE_RUNNING
		f.run++
		filter.Logger(filter.ComponentSim).Debug("simulated filter running")
	}
	if fell(hw.CTRL_RUN) && state == hw.STATE_RUNNING {
		state = hw.STATE_READY
		filter.Logger(filter.ComponentSim).Debug("simulated filter halted", "records", f.generated)
	}
	f.regs[hw.REG_STATUS] = status&^hw.STATUS_STATE_MASK | state
}

func (f *FPGA) paramsValid() bool {
	cfg := filter.Config{
		FlankRise:       f.regs[hw.REG_K],
		Plateau:         f.regs[hw.REG_L],
		DecayMultiplier: f.regs[hw.REG_M],
		PeakThreshold:   f.regs[hw.REG_PTHRESH],
		DeadTime:        f.regs[hw.REG_DTIME],
	}
	return cfg.Validate() == nil
}

// Running reports whether the simulated filter is running.
func (f *FPGA) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runningLocked()
}

func (f *FPGA) runningLocked() bool {
	return f.regs[hw.REG_STATUS]&hw.STATUS_STATE_MASK == hw.STATE_RUNNING
}

// emit passes p to write only while run is still the active run. A halted
// filter never delivers records generated before the halt.
func (f *FPGA) emit(run uint64, p []byte, write func([]byte) (int, error)) (n int, live bool, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.runningLocked() || f.run != run {
		return 0, false, nil
	}
	n, err = write(p)
	return n, true, err
}

// Read produces peak records while the filter runs. It returns whole
// records only and 0 bytes when the filter is halted or p is shorter than
// one record.
func (f *FPGA) Read(p []byte) (int, error) {
	n, _ := f.readRun(p)
	return n, nil
}

// readRun is Read that also returns the run the records belong to.
func (f *FPGA) readRun(p []byte) (int, uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.runningLocked() {
		return 0, f.run
	}

	count := len(p) / hw.RecordSize
	if count > maxRecordsPerRead {
		count = maxRecordsPerRead
	}
	threshold := float64(f.regs[hw.REG_PTHRESH])
	dead := uint64(f.regs[hw.REG_DTIME])
	for i := 0; i < count; i++ {
		rec := f.nextPeak(threshold, dead)
		rec.Put(p[i*hw.RecordSize:])
	}
	f.generated += uint64(count)
	return count * hw.RecordSize, f.run
}

// nextPeak draws the next peak above threshold. Called with f.mu held.
func (f *FPGA) nextPeak(threshold float64, dead uint64) hw.Record {
	// exponential inter-arrival times, mean 10 µs, never inside the dead time
	gap := uint64(f.rng.ExpFloat64() * float64(10*time.Microsecond/clockPeriod))
	if gap < dead {
		gap = dead
	}
	f.timestamp = (f.timestamp + gap + 1) & (1<<48 - 1)

	h := threshold
	for attempt := 0; attempt < 16; attempt++ {
		line := lines[f.rng.Intn(len(lines))]
		// gaussian line with triangular dither
		v := line + f.rng.NormFloat64()*line*0.02 + f.rng.Float64() - f.rng.Float64()
		if v >= threshold {
			h = v
			break
		}
	}
	return hw.Record{
		Timestamp: f.timestamp,
		Channel:   0,
		Height:    uint32(math.Min(h, math.MaxUint32)),
	}
}

var _ io.ReaderAt = (*FPGA)(nil)
var _ io.WriterAt = (*FPGA)(nil)
