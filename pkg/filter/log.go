package filter

import (
	"io"
	"log/slog"
	"os"
	"sync"
)

// Component identifies a subsystem for log filtering.
type Component string

// Controller component identifiers.
const (
	ComponentGuard   Component = "guard"
	ComponentCapture Component = "capture"
	ComponentRemote  Component = "remote"
	ComponentHW      Component = "hw"
	ComponentSim     Component = "sim"
)

var (
	defaultLogger *slog.Logger
	logLevel      = new(slog.LevelVar)
	logMutex      sync.RWMutex
)

func init() {
	logLevel.Set(slog.LevelWarn)
	defaultLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
}

// SetLogLevel sets the minimum level of the default logger.
func SetLogLevel(level slog.Level) {
	logLevel.Set(level)
}

// SetLogger replaces the logger used by the controller and its drivers.
func SetLogger(l *slog.Logger) {
	logMutex.Lock()
	defer logMutex.Unlock()
	defaultLogger = l
}

// NewLogger creates a text logger writing to w at the shared log level.
func NewLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel}))
}

// Logger returns a logger tagged with the given component.
func Logger(c Component) *slog.Logger {
	logMutex.RLock()
	l := defaultLogger
	logMutex.RUnlock()
	return l.With("component", string(c))
}
