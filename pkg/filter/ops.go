package filter

import "fmt"

// Reconfigure loads cfg into the device. A running capture is halted first,
// since loading parameters into a running filter is undefined in hardware.
func Reconfigure(tok *Token, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s, err := tok.State()
	if err != nil {
		return err
	}
	if s == StateRunning {
		Logger(ComponentGuard).Info("halting running filter before configure", "token", tok.ID())
		if err := tok.stop(); err != nil {
			return fmt.Errorf("stop before configure: %w", err)
		}
		// the driver is authoritative, never assume the stop landed
		if s, err = tok.State(); err != nil {
			return err
		}
	}
	if err := checkLegal(OpConfigure, s); err != nil {
		return err
	}
	if err := tok.configure(cfg); err != nil {
		return fmt.Errorf("configure: %w", err)
	}
	Logger(ComponentGuard).Info("filter configured", "token", tok.ID(), "config", cfg.String())
	return nil
}

// Halt stops a running filter. It returns ErrWrongState if the filter is not
// running.
func Halt(tok *Token) error {
	s, err := tok.State()
	if err != nil {
		return err
	}
	if err := checkLegal(OpStop, s); err != nil {
		return err
	}
	if err := tok.stop(); err != nil {
		return fmt.Errorf("stop: %w", err)
	}
	return nil
}
