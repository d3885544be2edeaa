package filter

import "errors"

// Outcome status values.
const (
	StatusAccepted = "accepted"
	StatusRejected = "rejected"
)

// Outcome is the reply to a remote configuration request.
type Outcome struct {
	Status  string  `json:"status" cbor:"status"`
	Reason  Reason  `json:"reason,omitempty" cbor:"reason,omitempty"`
	Message string  `json:"message,omitempty" cbor:"message,omitempty"`
	Config  *Config `json:"config,omitempty" cbor:"config,omitempty"`
}

// Accepted reports whether the configuration was applied.
func (o Outcome) Accepted() bool {
	return o.Status == StatusAccepted
}

func accepted(cfg Config) Outcome {
	return Outcome{Status: StatusAccepted, Config: &cfg}
}

// Rejected builds the rejection outcome for err.
func Rejected(err error) Outcome {
	return Outcome{Status: StatusRejected, Reason: ReasonOf(err), Message: err.Error()}
}

// Apply validates a remote configuration request and loads it into the
// device. It never blocks on the guard: a held device yields a
// ReasonDeviceBusy rejection. Invalid requests are rejected before the guard
// is consulted. A remote request never starts a capture.
func Apply(dev *Device, holder string, fields map[string]string) Outcome {
	cfg, err := ParseConfig(fields)
	if err != nil {
		Logger(ComponentRemote).Info("configuration rejected", "holder", holder, "error", err)
		return Rejected(err)
	}
	return ApplyConfig(dev, holder, cfg)
}

// ApplyConfig is Apply for an already decoded configuration.
func ApplyConfig(dev *Device, holder string, cfg Config) Outcome {
	log := Logger(ComponentRemote).With("holder", holder)
	if err := cfg.Validate(); err != nil {
		log.Info("configuration rejected", "error", err)
		return Rejected(err)
	}

	err := dev.Do(holder, func(tok *Token) error {
		if err := Reconfigure(tok, cfg); err != nil {
			log.Warn("configuration failed", "token", tok.ID(), "error", err)
			return err
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrDeviceBusy) {
			log.Info("configuration rejected", "error", err)
		}
		return Rejected(err)
	}
	return accepted(cfg)
}
