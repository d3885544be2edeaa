// Package hw drives the filter gateware through its register file and data
// channel. Controller implements filter.Driver.
package hw

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/mbfilter/pkg/dma"
	"github.com/mbfilter/pkg/filter"
)

// RegisterFile gives word access to the filter registers. *os.File opened on
// the command device satisfies it.
type RegisterFile interface {
	io.ReaderAt
	io.WriterAt
}

// ErrBadMagic is returned by Probe when the register file does not belong to
// the filter gateware.
var ErrBadMagic = errors.New("filter gateware not found")

// Controller manages the filter through its registers.
type Controller struct {
	regs RegisterFile
	data io.Reader

	mu           sync.Mutex // serializes read-modify-write on CONTROL
	ackTimeout   time.Duration
	pollInterval time.Duration
}

// Option configures a Controller.
type Option func(*Controller)

// WithAckTimeout sets how long Configure waits for the gateware handshake.
func WithAckTimeout(d time.Duration) Option {
	return func(c *Controller) {
		c.ackTimeout = d
	}
}

// NewController creates a controller over regs, reading captured data from data.
func NewController(regs RegisterFile, data io.Reader, opts ...Option) *Controller {
	c := &Controller{
		regs:         regs,
		data:         data,
		ackTimeout:   1 * time.Second,
		pollInterval: 1 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Open opens the command device and the DMA data channel and verifies the
// gateware. The returned closer releases both.
func Open(commandDevice, dataDevice string) (*Controller, io.Closer, error) {
	f, err := os.OpenFile(commandDevice, os.O_RDWR, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open command device: %w", err)
	}
	stream, err := dma.Open(dataDevice)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	c := NewController(f, stream)
	if err := c.Probe(); err != nil {
		stream.Close()
		f.Close()
		return nil, nil, err
	}
	return c, multiCloser{stream, f}, nil
}

type multiCloser []io.Closer

func (m multiCloser) Close() error {
	var errs []error
	for _, c := range m {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// Probe checks the magic register.
func (c *Controller) Probe() error {
	v, err := c.readReg(REG_MAGIC)
	if err != nil {
		return err
	}
	if v != MAGIC_VALUE {
		return fmt.Errorf("%w: magic 0x%08x", ErrBadMagic, v)
	}
	return nil
}

// Configure writes the parameters and performs the load handshake.
func (c *Controller) Configure(cfg filter.Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	params := []struct {
		reg Reg
		val uint32
	}{
		{REG_K, cfg.FlankRise},
		{REG_L, cfg.Plateau},
		{REG_M, cfg.DecayMultiplier},
		{REG_PTHRESH, cfg.PeakThreshold},
		{REG_DTIME, cfg.DeadTime},
	}
	for _, p := range params {
		if err := c.writeReg(p.reg, p.val); err != nil {
			return err
		}
	}

	if err := c.setControl(CTRL_LOAD, true); err != nil {
		return err
	}
	if err := c.waitStatus(STATUS_LOAD_ACK, true); err != nil {
		// leave the load request cleared so the next attempt starts clean
		_ = c.setControl(CTRL_LOAD, false)
		return fmt.Errorf("timeout waiting for load ACK: %w", err)
	}
	if err := c.setControl(CTRL_LOAD, false); err != nil {
		return err
	}
	if err := c.waitStatus(STATUS_LOAD_ACK, false); err != nil {
		return fmt.Errorf("timeout waiting for load done: %w", err)
	}

	status, err := c.readReg(REG_STATUS)
	if err != nil {
		return err
	}
	if status&STATUS_PARAMS_INVALID != 0 {
		return fmt.Errorf("gateware rejected parameters %s", cfg)
	}
	filter.Logger(filter.ComponentHW).Debug("parameters loaded", "config", cfg.String())
	return nil
}

// Start sets the run bit.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setControl(CTRL_RUN, true)
}

// Stop clears the run bit, resets the output FIFO and discards data still
// buffered on the data channel.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.setControl(CTRL_RUN, false); err != nil {
		return err
	}
	if err := c.setControl(CTRL_FIFO_RESET, true); err != nil {
		return err
	}
	if err := c.setControl(CTRL_FIFO_RESET, false); err != nil {
		return err
	}
	if d, ok := c.data.(interface{ Drain() (int64, error) }); ok {
		n, err := d.Drain()
		if err != nil {
			return fmt.Errorf("drain data channel: %w", err)
		}
		if n > 0 {
			filter.Logger(filter.ComponentHW).Debug("drained data channel", "bytes", n)
		}
	}
	return nil
}

// Read reads captured data from the data channel.
func (c *Controller) Read(p []byte) (int, error) {
	return c.data.Read(p)
}

// State decodes the state field of the status register.
func (c *Controller) State() (filter.State, error) {
	status, err := c.readReg(REG_STATUS)
	if err != nil {
		return 0, err
	}
	switch status & STATUS_STATE_MASK {
	case STATE_UNCONFIGURED:
		return filter.StateUnconfigured, nil
	case STATE_INVALID:
		return filter.StateInvalidParameters, nil
	case STATE_READY:
		return filter.StateReady, nil
	default:
		return filter.StateRunning, nil
	}
}

// Configuration reads back the parameter registers.
func (c *Controller) Configuration() (filter.Config, error) {
	var cfg filter.Config
	for _, p := range []struct {
		reg Reg
		dst *uint32
	}{
		{REG_K, &cfg.FlankRise},
		{REG_L, &cfg.Plateau},
		{REG_M, &cfg.DecayMultiplier},
		{REG_PTHRESH, &cfg.PeakThreshold},
		{REG_DTIME, &cfg.DeadTime},
	} {
		v, err := c.readReg(p.reg)
		if err != nil {
			return filter.Config{}, err
		}
		*p.dst = v
	}
	return cfg, nil
}

func (c *Controller) setControl(bits uint32, on bool) error {
	ctrl, err := c.readReg(REG_CONTROL)
	if err != nil {
		return err
	}
	if on {
		ctrl |= bits
	} else {
		ctrl &^= bits
	}
	return c.writeReg(REG_CONTROL, ctrl)
}

// waitStatus polls STATUS until bit reaches the wanted value.
func (c *Controller) waitStatus(bit uint32, set bool) error {
	deadline := time.Now().Add(c.ackTimeout)
	for {
		status, err := c.readReg(REG_STATUS)
		if err != nil {
			return err
		}
		if (status&bit != 0) == set {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("status 0x%08x after %v", status, c.ackTimeout)
		}
		time.Sleep(c.pollInterval)
	}
}

// writeReg writes a 32-bit value to the register.
func (c *Controller) writeReg(r Reg, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	if _, err := c.regs.WriteAt(buf[:], int64(r)*4); err != nil {
		return fmt.Errorf("write register 0x%02x: %w", int(r), err)
	}
	return nil
}

// readReg reads a 32-bit value from the register.
func (c *Controller) readReg(r Reg) (uint32, error) {
	var buf [4]byte
	if _, err := c.regs.ReadAt(buf[:], int64(r)*4); err != nil {
		return 0, fmt.Errorf("read register 0x%02x: %w", int(r), err)
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}
