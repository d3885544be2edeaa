package filter

import (
	"errors"
	"sync"

	"github.com/stretchr/testify/mock"
)

// fakeDriver is a scripted driver that follows the gateware state machine
// and records every call.
type fakeDriver struct {
	mu    sync.Mutex
	state State
	cfg   Config
	calls []string

	chunk        int   // bytes returned per read
	readErr      error // returned by the read numbered readErrAfter+1
	readErrAfter int
	reads        int
	block        chan struct{} // if set, Read waits for it to close

	startErr     error
	stopErr      error
	configureErr error
}

func newFakeDriver(state State, chunk int) *fakeDriver {
	return &fakeDriver{state: state, chunk: chunk}
}

func (f *fakeDriver) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeDriver) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeDriver) count(call string) int {
	n := 0
	for _, c := range f.Calls() {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeDriver) Configure(cfg Config) error {
	f.record("configure")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.configureErr != nil {
		return f.configureErr
	}
	f.cfg = cfg
	f.state = StateReady
	return nil
}

func (f *fakeDriver) Start() error {
	f.record("start")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.state = StateRunning
	return nil
}

func (f *fakeDriver) Stop() error {
	f.record("stop")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == StateRunning {
		f.state = StateReady
	}
	return f.stopErr
}

func (f *fakeDriver) Read(p []byte) (int, error) {
	f.record("read")
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateRunning {
		return 0, errors.New("read while not running")
	}
	f.reads++
	if f.readErr != nil && f.reads > f.readErrAfter {
		return 0, f.readErr
	}
	n := f.chunk
	if n > len(p) {
		n = len(p)
	}
	for i := 0; i < n; i++ {
		p[i] = byte(i)
	}
	return n, nil
}

func (f *fakeDriver) State() (State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, nil
}

func (f *fakeDriver) Configuration() (Config, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfg, nil
}

// mockDriver is a testify mock of Driver.
type mockDriver struct {
	mock.Mock
}

func (m *mockDriver) Configure(cfg Config) error {
	return m.Called(cfg).Error(0)
}

func (m *mockDriver) Start() error {
	return m.Called().Error(0)
}

func (m *mockDriver) Stop() error {
	return m.Called().Error(0)
}

func (m *mockDriver) Read(p []byte) (int, error) {
	args := m.Called(p)
	return args.Int(0), args.Error(1)
}

func (m *mockDriver) State() (State, error) {
	args := m.Called()
	return args.Get(0).(State), args.Error(1)
}

func (m *mockDriver) Configuration() (Config, error) {
	args := m.Called()
	return args.Get(0).(Config), args.Error(1)
}

func (m *mockDriver) methods() []string {
	var out []string
	for _, c := range m.Calls {
		out = append(out, c.Method)
	}
	return out
}

// shortWriter accepts at most max bytes per call.
type shortWriter struct {
	max    int
	data   []byte
	writes []int
}

func (w *shortWriter) Write(p []byte) (int, error) {
	n := len(p)
	if n > w.max {
		n = w.max
	}
	w.data = append(w.data, p[:n]...)
	w.writes = append(w.writes, n)
	return n, nil
}

func (w *shortWriter) total() int {
	t := 0
	for _, n := range w.writes {
		t += n
	}
	return t
}

// failingWriter accepts ok bytes and then fails.
type failingWriter struct {
	ok      int
	written int
	err     error
}

func (w *failingWriter) Write(p []byte) (int, error) {
	room := w.ok - w.written
	if room <= 0 {
		return 0, w.err
	}
	if len(p) <= room {
		w.written += len(p)
		return len(p), nil
	}
	w.written += room
	return room, w.err
}

var validConfig = Config{FlankRise: 10, Plateau: 4, DecayMultiplier: 1000, PeakThreshold: 200, DeadTime: 500}
