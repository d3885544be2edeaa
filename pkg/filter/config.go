package filter

import (
	"fmt"
	"strconv"
	"strings"
)

// Parameter limits enforced by the gateware. Values outside these ranges put
// the filter into StateInvalidParameters, so they are rejected up front.
const (
	MinFlankRise = 1
	MaxFlankRise = 127

	MaxPlateau         = 127
	MaxDecayMultiplier = 1<<24 - 1
	MaxPeakThreshold   = 1<<24 - 1
	MaxDeadTime        = 1<<32 - 1
)

// Request keys carrying configuration fields.
const (
	KeyFlankRise       = "k"
	KeyPlateau         = "l"
	KeyDecayMultiplier = "m"
	KeyPeakThreshold   = "pthresh"
	KeyDeadTime        = "dtime"
)

// Config is a validated trapezoidal filter configuration. Lengths are in
// filter clock cycles (8 ns).
type Config struct {
	FlankRise       uint32 `json:"k" yaml:"k" cbor:"k"`
	Plateau         uint32 `json:"l" yaml:"l" cbor:"l"`
	DecayMultiplier uint32 `json:"m" yaml:"m" cbor:"m"`
	PeakThreshold   uint32 `json:"pthresh" yaml:"pthresh" cbor:"pthresh"`
	DeadTime        uint32 `json:"dtime" yaml:"dtime" cbor:"dtime"`
}

// Validate checks every field against the device ranges.
func (c Config) Validate() error {
	var bad []string
	if c.FlankRise < MinFlankRise || c.FlankRise > MaxFlankRise {
		bad = append(bad, fmt.Sprintf("k=%d not in [%d,%d]", c.FlankRise, MinFlankRise, MaxFlankRise))
	}
	if c.Plateau > MaxPlateau {
		bad = append(bad, fmt.Sprintf("l=%d exceeds %d", c.Plateau, MaxPlateau))
	}
	if c.DecayMultiplier > MaxDecayMultiplier {
		bad = append(bad, fmt.Sprintf("m=%d exceeds %d", c.DecayMultiplier, MaxDecayMultiplier))
	}
	if c.PeakThreshold > MaxPeakThreshold {
		bad = append(bad, fmt.Sprintf("pthresh=%d exceeds %d", c.PeakThreshold, MaxPeakThreshold))
	}
	if len(bad) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidParameters, strings.Join(bad, ", "))
	}
	return nil
}

func (c Config) String() string {
	return fmt.Sprintf("k=%d l=%d m=%d pthresh=%d dtime=%d",
		c.FlankRise, c.Plateau, c.DecayMultiplier, c.PeakThreshold, c.DeadTime)
}

// Fields returns the configuration as request key/value pairs.
func (c Config) Fields() map[string]string {
	return map[string]string{
		KeyFlankRise:       strconv.FormatUint(uint64(c.FlankRise), 10),
		KeyPlateau:         strconv.FormatUint(uint64(c.Plateau), 10),
		KeyDecayMultiplier: strconv.FormatUint(uint64(c.DecayMultiplier), 10),
		KeyPeakThreshold:   strconv.FormatUint(uint64(c.PeakThreshold), 10),
		KeyDeadTime:        strconv.FormatUint(uint64(c.DeadTime), 10),
	}
}

// NewConfig parses the five fields in command-line order (k, l, m, pthresh,
// dtime) and validates the result.
func NewConfig(k, l, m, pthresh, dtime string) (Config, error) {
	return ParseConfig(map[string]string{
		KeyFlankRise:       k,
		KeyPlateau:         l,
		KeyDecayMultiplier: m,
		KeyPeakThreshold:   pthresh,
		KeyDeadTime:        dtime,
	})
}

// ParseConfig builds a Config from request fields. All five keys are
// required; unknown keys are ignored. The returned error wraps
// ErrInvalidParameters.
func ParseConfig(fields map[string]string) (Config, error) {
	var (
		cfg  Config
		errs []string
	)
	parse := func(key string, dst *uint32) {
		raw, ok := fields[key]
		if !ok {
			errs = append(errs, key+" missing")
			return
		}
		v, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 32)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s=%q is not a 32-bit unsigned integer", key, raw))
			return
		}
		*dst = uint32(v)
	}
	parse(KeyFlankRise, &cfg.FlankRise)
	parse(KeyPlateau, &cfg.Plateau)
	parse(KeyDecayMultiplier, &cfg.DecayMultiplier)
	parse(KeyPeakThreshold, &cfg.PeakThreshold)
	parse(KeyDeadTime, &cfg.DeadTime)
	if len(errs) > 0 {
		return Config{}, fmt.Errorf("%w: %s", ErrInvalidParameters, strings.Join(errs, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
