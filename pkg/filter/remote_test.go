package filter

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestApplyStopsRunningDeviceFirst(t *testing.T) {
	drv := &mockDriver{}
	drv.On("State").Return(StateRunning, nil).Once()
	drv.On("Stop").Return(nil).Once()
	drv.On("State").Return(StateReady, nil).Once()
	drv.On("Configure", validConfig).Return(nil).Once()
	dev := NewDevice(drv)

	out := Apply(dev, "remote", validConfig.Fields())

	require.True(t, out.Accepted(), "outcome %+v", out)
	assert.Equal(t, validConfig, *out.Config)
	assert.Equal(t, []string{"State", "Stop", "State", "Configure"}, drv.methods())
	drv.AssertExpectations(t)
	assert.False(t, dev.Held())
}

func TestApplyConfiguresDirectly(t *testing.T) {
	for _, s := range []State{StateReady, StateUnconfigured, StateInvalidParameters} {
		t.Run(s.String(), func(t *testing.T) {
			drv := &mockDriver{}
			drv.On("State").Return(s, nil).Once()
			drv.On("Configure", validConfig).Return(nil).Once()
			dev := NewDevice(drv)

			out := Apply(dev, "remote", validConfig.Fields())

			assert.True(t, out.Accepted())
			assert.Equal(t, []string{"State", "Configure"}, drv.methods())
			drv.AssertNotCalled(t, "Stop")
			assert.False(t, dev.Held())
		})
	}
}

func TestApplyInvalidRequestSkipsGuard(t *testing.T) {
	drv := &mockDriver{}
	dev := NewDevice(drv)

	// a held device would answer device_busy if the guard were consulted
	tok, err := dev.TryAcquire("capture")
	require.NoError(t, err)
	defer tok.Release()

	fields := validConfig.Fields()
	fields[KeyFlankRise] = "0"
	out := Apply(dev, "remote", fields)

	assert.False(t, out.Accepted())
	assert.Equal(t, ReasonInvalidParameters, out.Reason)
	assert.Nil(t, out.Config)
	assert.Empty(t, drv.Calls)
}

func TestApplyDriverFault(t *testing.T) {
	drv := &mockDriver{}
	drv.On("State").Return(StateReady, nil)
	drv.On("Configure", mock.Anything).Return(errors.New("ack timeout"))
	dev := NewDevice(drv)

	out := Apply(dev, "remote", validConfig.Fields())

	assert.False(t, out.Accepted())
	assert.Equal(t, ReasonDriverFault, out.Reason)
	assert.Contains(t, out.Message, "ack timeout")
	assert.False(t, dev.Held())
}

func TestApplyStopFailureSkipsConfigure(t *testing.T) {
	drv := &mockDriver{}
	drv.On("State").Return(StateRunning, nil)
	drv.On("Stop").Return(errors.New("fifo stuck"))
	dev := NewDevice(drv)

	out := Apply(dev, "remote", validConfig.Fields())

	assert.Equal(t, ReasonDriverFault, out.Reason)
	drv.AssertNotCalled(t, "Configure", mock.Anything)
}

func TestApplyWhileCaptureRunning(t *testing.T) {
	drv := newFakeDriver(StateReady, 4096)
	drv.cfg = validConfig
	drv.block = make(chan struct{})
	dev := NewDevice(drv)

	done := make(chan error, 1)
	go func() {
		done <- dev.Do("cli", func(tok *Token) error {
			_, err := Capture(context.Background(), tok, 4096, &bytes.Buffer{}, nil)
			return err
		})
	}()
	require.Eventually(t, func() bool { return drv.count("read") == 1 }, time.Second, time.Millisecond)

	other := Config{FlankRise: 20, Plateau: 8, DecayMultiplier: 5, PeakThreshold: 50, DeadTime: 10}
	var (
		wg       sync.WaitGroup
		outcomes [2]Outcome
	)
	for i := range outcomes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i] = Apply(dev, "remote", other.Fields())
		}(i)
	}
	wg.Wait()

	for _, out := range outcomes {
		assert.False(t, out.Accepted())
		assert.Equal(t, ReasonDeviceBusy, out.Reason)
	}

	close(drv.block)
	require.NoError(t, <-done)

	cfg, _ := drv.Configuration()
	assert.Equal(t, validConfig, cfg)
	assert.Zero(t, drv.count("configure"))
}

func TestReconfigureOrder(t *testing.T) {
	drv := newFakeDriver(StateRunning, 0)
	_, tok := acquire(t, drv)

	require.NoError(t, Reconfigure(tok, validConfig))
	assert.Equal(t, []string{"stop", "configure"}, drv.Calls())
}

func TestHalt(t *testing.T) {
	drv := newFakeDriver(StateRunning, 0)
	_, tok := acquire(t, drv)

	require.NoError(t, Halt(tok))
	assert.ErrorIs(t, Halt(tok), ErrWrongState)
	assert.Equal(t, []string{"stop"}, drv.Calls())
}
