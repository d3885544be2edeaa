package filter

import (
	"bytes"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetLogger(t *testing.T) {
	t.Cleanup(func() {
		SetLogger(NewLogger(os.Stderr))
		SetLogLevel(slog.LevelWarn)
	})

	var buf bytes.Buffer
	SetLogger(NewLogger(&buf))
	SetLogLevel(slog.LevelWarn)

	Logger(ComponentGuard).Info("hidden")
	Logger(ComponentGuard).Warn("lock contended", "holder", "cli")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "component=guard")
	assert.Contains(t, buf.String(), "holder=cli")

	// the level is shared with loggers created earlier
	SetLogLevel(slog.LevelDebug)
	Logger(ComponentHW).Debug("register write")
	assert.Contains(t, buf.String(), "component=hw")
}
