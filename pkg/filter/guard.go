package filter

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Locker is an optional non-blocking lock shared with other processes.
type Locker interface {
	TryLock() (bool, error)
	Unlock() error
}

// Device is the single shared handle to the filter. Driver operations are
// only reachable through a Token obtained from TryAcquire, and at most one
// Token is live at a time.
type Device struct {
	drv  Driver
	lock Locker

	held atomic.Bool

	mu     sync.Mutex // guards holder for status reporting
	holder string
}

// DeviceOption configures a Device.
type DeviceOption func(*Device)

// WithLocker additionally holds l while a token is live so that other
// processes controlling the same hardware are excluded too.
func WithLocker(l Locker) DeviceOption {
	return func(d *Device) {
		d.lock = l
	}
}

// NewDevice wraps drv in an exclusive access guard.
func NewDevice(drv Driver, opts ...DeviceOption) *Device {
	d := &Device{drv: drv}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// TryAcquire returns a token granting exclusive use of the device, or
// ErrDeviceBusy if another holder owns it. It never waits.
func (d *Device) TryAcquire(holder string) (*Token, error) {
	if !d.held.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("%w: held by %s", ErrDeviceBusy, d.Holder())
	}
	if d.lock != nil {
		ok, err := d.lock.TryLock()
		if err != nil {
			d.held.Store(false)
			return nil, fmt.Errorf("%w: acquire device lock: %w", ErrLockFault, err)
		}
		if !ok {
			d.held.Store(false)
			return nil, fmt.Errorf("%w: locked by another process", ErrDeviceBusy)
		}
	}

	t := &Token{dev: d, id: uuid.NewString(), holder: holder}
	d.mu.Lock()
	d.holder = holder
	d.mu.Unlock()

	Logger(ComponentGuard).Debug("token acquired", "token", t.id, "holder", holder)
	return t, nil
}

// Do acquires the device, runs fn with the token and releases the token
// before returning. ErrDeviceBusy is returned without calling fn.
func (d *Device) Do(holder string, fn func(tok *Token) error) error {
	tok, err := d.TryAcquire(holder)
	if err != nil {
		return err
	}
	defer tok.Release()
	return fn(tok)
}

// Held reports whether a token is currently live. Advisory only.
func (d *Device) Held() bool {
	return d.held.Load()
}

// Holder returns the name of the current holder, or "" if none.
func (d *Device) Holder() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.holder
}

// Status is an advisory snapshot of the device.
type Status struct {
	State  State  `json:"state"`
	Config Config `json:"config"`
	Held   bool   `json:"held"`
	Holder string `json:"holder,omitempty"`
}

// Status queries the driver without taking the token. The result may be
// stale by the time it is used and must not drive control decisions.
func (d *Device) Status() (Status, error) {
	st := Status{Held: d.Held(), Holder: d.Holder()}
	s, err := d.drv.State()
	if err != nil {
		return st, driverFault(err)
	}
	st.State = s
	cfg, err := d.drv.Configuration()
	if err != nil {
		return st, driverFault(err)
	}
	st.Config = cfg
	return st, nil
}

// Token is the credential proving exclusive ownership of a Device.
type Token struct {
	dev      *Device
	id       string
	holder   string
	released atomic.Bool
}

// ID returns the unique token identifier used in logs.
func (t *Token) ID() string { return t.id }

// Holder returns the name passed to TryAcquire.
func (t *Token) Holder() string { return t.holder }

// Release returns the device to the guard. It is safe to call more than once.
func (t *Token) Release() {
	if !t.released.CompareAndSwap(false, true) {
		return
	}
	d := t.dev
	d.mu.Lock()
	d.holder = ""
	d.mu.Unlock()
	if d.lock != nil {
		if err := d.lock.Unlock(); err != nil {
			Logger(ComponentGuard).Warn("release device lock", "token", t.id, "error", err)
		}
	}
	d.held.Store(false)
	Logger(ComponentGuard).Debug("token released", "token", t.id, "holder", t.holder)
}

func (t *Token) check() error {
	if t == nil || t.released.Load() {
		return ErrTokenReleased
	}
	return nil
}

// State queries the current device state through the driver.
func (t *Token) State() (State, error) {
	if err := t.check(); err != nil {
		return 0, err
	}
	s, err := t.dev.drv.State()
	return s, driverFault(err)
}

// Configuration returns the configuration currently loaded in the device.
func (t *Token) Configuration() (Config, error) {
	if err := t.check(); err != nil {
		return Config{}, err
	}
	cfg, err := t.dev.drv.Configuration()
	return cfg, driverFault(err)
}

func (t *Token) configure(cfg Config) error {
	if err := t.check(); err != nil {
		return err
	}
	return driverFault(t.dev.drv.Configure(cfg))
}

func (t *Token) start() error {
	if err := t.check(); err != nil {
		return err
	}
	return driverFault(t.dev.drv.Start())
}

func (t *Token) stop() error {
	if err := t.check(); err != nil {
		return err
	}
	return driverFault(t.dev.drv.Stop())
}

func (t *Token) read(p []byte) (int, error) {
	if err := t.check(); err != nil {
		return 0, err
	}
	n, err := t.dev.drv.Read(p)
	return n, driverFault(err)
}
