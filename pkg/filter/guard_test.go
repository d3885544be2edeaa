package filter

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryAcquireExactlyOneWinner(t *testing.T) {
	dev := NewDevice(newFakeDriver(StateReady, 0))

	const callers = 64
	var (
		wg      sync.WaitGroup
		start   = make(chan struct{})
		winners atomic.Int32
		busy    atomic.Int32
		tokens  = make(chan *Token, callers)
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			tok, err := dev.TryAcquire("caller")
			if err != nil {
				if errors.Is(err, ErrDeviceBusy) {
					busy.Add(1)
				}
				return
			}
			winners.Add(1)
			tokens <- tok
		}()
	}
	close(start)
	wg.Wait()
	close(tokens)

	assert.Equal(t, int32(1), winners.Load())
	assert.Equal(t, int32(callers-1), busy.Load())
	for tok := range tokens {
		tok.Release()
	}
	assert.False(t, dev.Held())
}

func TestTokenRelease(t *testing.T) {
	dev := NewDevice(newFakeDriver(StateReady, 0))

	tok, err := dev.TryAcquire("first")
	require.NoError(t, err)
	assert.True(t, dev.Held())
	assert.Equal(t, "first", dev.Holder())
	assert.NotEmpty(t, tok.ID())

	_, err = dev.TryAcquire("second")
	assert.ErrorIs(t, err, ErrDeviceBusy)

	tok.Release()
	tok.Release() // second release is a no-op
	assert.False(t, dev.Held())
	assert.Empty(t, dev.Holder())

	_, err = tok.State()
	assert.ErrorIs(t, err, ErrTokenReleased)
	assert.ErrorIs(t, tok.start(), ErrTokenReleased)

	next, err := dev.TryAcquire("second")
	require.NoError(t, err)
	assert.NotEqual(t, tok.ID(), next.ID())
	next.Release()
}

type fakeLocker struct {
	free     bool
	err      error
	locked   int
	unlocked int
}

func (l *fakeLocker) TryLock() (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	if !l.free {
		return false, nil
	}
	l.free = false
	l.locked++
	return true, nil
}

func (l *fakeLocker) Unlock() error {
	l.free = true
	l.unlocked++
	return nil
}

func TestTryAcquireWithLocker(t *testing.T) {
	lock := &fakeLocker{free: true}
	dev := NewDevice(newFakeDriver(StateReady, 0), WithLocker(lock))

	tok, err := dev.TryAcquire("local")
	require.NoError(t, err)
	assert.Equal(t, 1, lock.locked)
	tok.Release()
	assert.Equal(t, 1, lock.unlocked)

	// another process holds the lock
	lock.free = false
	_, err = dev.TryAcquire("local")
	assert.ErrorIs(t, err, ErrDeviceBusy)
	assert.False(t, dev.Held(), "in-process guard must be cleared after a lock miss")

	lock.err = errors.New("bad lock file")
	_, err = dev.TryAcquire("local")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLockFault)
	assert.Equal(t, ReasonLockFault, ReasonOf(err))
	assert.False(t, dev.Held())
}

func TestDeviceStatusWithoutToken(t *testing.T) {
	drv := newFakeDriver(StateReady, 0)
	drv.cfg = validConfig
	dev := NewDevice(drv)

	tok, err := dev.TryAcquire("capture")
	require.NoError(t, err)
	defer tok.Release()

	st, err := dev.Status()
	require.NoError(t, err)
	assert.Equal(t, StateReady, st.State)
	assert.Equal(t, validConfig, st.Config)
	assert.True(t, st.Held)
	assert.Equal(t, "capture", st.Holder)
}
