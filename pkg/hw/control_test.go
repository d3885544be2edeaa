package hw_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbfilter/pkg/filter"
	"github.com/mbfilter/pkg/hw"
	"github.com/mbfilter/pkg/sim"
)

var cfg = filter.Config{FlankRise: 10, Plateau: 4, DecayMultiplier: 1000, PeakThreshold: 200, DeadTime: 500}

func newController(t *testing.T) (*hw.Controller, *sim.FPGA) {
	t.Helper()
	f := sim.NewSeeded(3)
	c := hw.NewController(f, f)
	require.NoError(t, c.Probe())
	return c, f
}

func TestControllerConfigure(t *testing.T) {
	c, _ := newController(t)

	s, err := c.State()
	require.NoError(t, err)
	assert.Equal(t, filter.StateUnconfigured, s)

	require.NoError(t, c.Configure(cfg))
	s, err = c.State()
	require.NoError(t, err)
	assert.Equal(t, filter.StateReady, s)

	got, err := c.Configuration()
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestControllerConfigureRejected(t *testing.T) {
	c, _ := newController(t)

	bad := cfg
	bad.FlankRise = 0
	err := c.Configure(bad)
	require.Error(t, err)

	s, err := c.State()
	require.NoError(t, err)
	assert.Equal(t, filter.StateInvalidParameters, s)

	require.NoError(t, c.Configure(cfg), "a valid load recovers")
}

func TestControllerStartStop(t *testing.T) {
	c, f := newController(t)
	require.NoError(t, c.Configure(cfg))

	require.NoError(t, c.Start())
	assert.True(t, f.Running())
	s, _ := c.State()
	assert.Equal(t, filter.StateRunning, s)

	buf := make([]byte, filter.BufferSize)
	n, err := c.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, filter.BufferSize, n)

	require.NoError(t, c.Stop())
	assert.False(t, f.Running())
	s, _ = c.State()
	assert.Equal(t, filter.StateReady, s)

	n, err = c.Read(buf)
	require.NoError(t, err)
	assert.Zero(t, n)
}

// stuckRegs never acknowledges a load.
type stuckRegs struct{ regs [hw.NUM_REGS]uint32 }

func (s *stuckRegs) ReadAt(p []byte, off int64) (int, error) {
	binary.LittleEndian.PutUint32(p, s.regs[off/4])
	return 4, nil
}

func (s *stuckRegs) WriteAt(p []byte, off int64) (int, error) {
	s.regs[off/4] = binary.LittleEndian.Uint32(p)
	return 4, nil
}

func TestControllerAckTimeout(t *testing.T) {
	regs := &stuckRegs{}
	regs.regs[hw.REG_MAGIC] = hw.MAGIC_VALUE
	c := hw.NewController(regs, bytes.NewReader(nil), hw.WithAckTimeout(10*time.Millisecond))

	err := c.Configure(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load ACK")
	assert.Zero(t, regs.regs[hw.REG_CONTROL]&hw.CTRL_LOAD, "load request is withdrawn")
}

func TestProbeBadMagic(t *testing.T) {
	c := hw.NewController(&stuckRegs{}, bytes.NewReader(nil))
	err := c.Probe()
	assert.True(t, errors.Is(err, hw.ErrBadMagic))
}

type drainReader struct {
	bytes.Reader
	drained bool
}

func (d *drainReader) Drain() (int64, error) {
	d.drained = true
	return int64(d.Len()), nil
}

func TestStopDrainsDataChannel(t *testing.T) {
	f := sim.New()
	data := &drainReader{}
	c := hw.NewController(f, data)
	require.NoError(t, c.Configure(cfg))
	require.NoError(t, c.Start())
	require.NoError(t, c.Stop())
	assert.True(t, data.drained)
}

func TestControllerThroughDevice(t *testing.T) {
	c, _ := newController(t)
	dev := filter.NewDevice(c)

	out := filter.ApplyConfig(dev, "test", cfg)
	require.True(t, out.Accepted(), out.Message)

	var sink bytes.Buffer
	var res *filter.CaptureResult
	err := dev.Do("test", func(tok *filter.Token) error {
		var err error
		res, err = filter.Capture(context.Background(), tok, 10*hw.RecordSize, &sink, nil)
		return err
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, res.Bytes, int64(10*hw.RecordSize))
	assert.Zero(t, sink.Len()%hw.RecordSize)

	st, err := dev.Status()
	require.NoError(t, err)
	assert.Equal(t, filter.StateReady, st.State)
	assert.False(t, st.Held)
}

func TestRecordRoundTrip(t *testing.T) {
	rec := hw.Record{Timestamp: 0xABCDEF012345, Channel: 3, Height: 4242}
	b := make([]byte, hw.RecordSize)
	rec.Put(b)
	assert.Equal(t, rec, hw.DecodeRecord(b))

	rec.Timestamp = 1<<50 | 7
	rec.Put(b)
	assert.Equal(t, uint64(7), hw.DecodeRecord(b).Timestamp, "timestamp is 48 bits")
}
