package filter

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig(t *testing.T) {
	cfg, err := NewConfig("10", "4", "1000", "200", "500")
	require.NoError(t, err)
	assert.Equal(t, validConfig, cfg)

	again, err := ParseConfig(cfg.Fields())
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestParseConfigRejects(t *testing.T) {
	base := func() map[string]string { return validConfig.Fields() }

	tests := []struct {
		name   string
		mutate func(map[string]string)
	}{
		{"MissingK", func(f map[string]string) { delete(f, KeyFlankRise) }},
		{"MissingDeadTime", func(f map[string]string) { delete(f, KeyDeadTime) }},
		{"NotANumber", func(f map[string]string) { f[KeyPlateau] = "four" }},
		{"Negative", func(f map[string]string) { f[KeyDecayMultiplier] = "-1" }},
		{"Overflow", func(f map[string]string) { f[KeyDeadTime] = "4294967296" }},
		{"ZeroFlank", func(f map[string]string) { f[KeyFlankRise] = "0" }},
		{"FlankTooLong", func(f map[string]string) { f[KeyFlankRise] = "128" }},
		{"PlateauTooLong", func(f map[string]string) { f[KeyPlateau] = "200" }},
		{"ThresholdTooHigh", func(f map[string]string) { f[KeyPeakThreshold] = "16777216" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := base()
			tt.mutate(fields)
			cfg, err := ParseConfig(fields)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidParameters), "error %v does not wrap ErrInvalidParameters", err)
			assert.Equal(t, Config{}, cfg)
		})
	}
}

func TestParseConfigTrimsAndIgnoresUnknownKeys(t *testing.T) {
	fields := validConfig.Fields()
	fields[KeyFlankRise] = " 10 "
	fields["session"] = "abc"

	cfg, err := ParseConfig(fields)
	require.NoError(t, err)
	assert.Equal(t, validConfig, cfg)
}

func TestConfigValidateBounds(t *testing.T) {
	max := Config{
		FlankRise:       MaxFlankRise,
		Plateau:         MaxPlateau,
		DecayMultiplier: MaxDecayMultiplier,
		PeakThreshold:   MaxPeakThreshold,
		DeadTime:        MaxDeadTime,
	}
	assert.NoError(t, max.Validate())

	min := Config{FlankRise: MinFlankRise}
	assert.NoError(t, min.Validate())
}

func TestReasonOf(t *testing.T) {
	assert.Equal(t, ReasonNone, ReasonOf(nil))
	assert.Equal(t, ReasonWrongState, ReasonOf(checkLegal(OpStart, StateUnconfigured)))
	assert.Equal(t, ReasonDeviceBusy, ReasonOf(ErrDeviceBusy))
	assert.Equal(t, ReasonInvalidParameters, ReasonOf(Config{}.Validate()))
	assert.Equal(t, ReasonIOFault, ReasonOf(errors.Join(ErrIOFault, errors.New("disk full"))))
	assert.Equal(t, ReasonDriverFault, ReasonOf(driverFault(errors.New("pcie timeout"))))
	assert.Equal(t, ReasonDriverFault, ReasonOf(errors.New("opaque")))
	assert.Equal(t, ReasonWrongState, ReasonOf(ErrTokenReleased))
	assert.Equal(t, ReasonWrongState, ReasonOf(driverFault(ErrTokenReleased)))
	assert.Equal(t, ReasonLockFault, ReasonOf(fmt.Errorf("%w: flock: %w", ErrLockFault, errors.New("EIO"))))
}
