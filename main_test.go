package main

import (
	"bytes"
	"log"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mbfilter/pkg/filter"
)

func TestSetupLoggingUsesLogWriter(t *testing.T) {
	prev := log.Writer()
	t.Cleanup(func() {
		log.SetOutput(prev)
		filter.SetLogger(filter.NewLogger(os.Stderr))
		filter.SetLogLevel(slog.LevelWarn)
	})

	var buf bytes.Buffer
	log.SetOutput(&buf)

	setupLogging(false)
	filter.Logger(filter.ComponentCapture).Debug("not shown")
	filter.Logger(filter.ComponentCapture).Info("session started")
	assert.Contains(t, buf.String(), "component=capture")
	assert.NotContains(t, buf.String(), "not shown")

	buf.Reset()
	setupLogging(true)
	filter.Logger(filter.ComponentHW).Debug("parameters loaded")
	assert.Contains(t, buf.String(), "component=hw")
}
