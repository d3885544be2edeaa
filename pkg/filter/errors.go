package filter

import (
	"context"
	"errors"
	"fmt"
)

// Controller errors. Callers match them with errors.Is.
var (
	// ErrWrongState indicates an operation outside its legal device states.
	ErrWrongState = errors.New("wrong device state")

	// ErrInvalidParameters indicates a configuration that failed validation.
	ErrInvalidParameters = errors.New("invalid filter parameters")

	// ErrDeviceBusy indicates another holder owns the device.
	ErrDeviceBusy = errors.New("device busy")

	// ErrDriverFault wraps errors reported by the hardware driver.
	ErrDriverFault = errors.New("driver fault")

	// ErrIOFault wraps sink write failures during capture.
	ErrIOFault = errors.New("sink i/o fault")

	// ErrTokenReleased is returned when a released token is used.
	ErrTokenReleased = errors.New("access token released")

	// ErrLockFault wraps failures of the cross-process device lock.
	ErrLockFault = errors.New("device lock fault")
)

// Reason is the machine-readable outcome reason reported to callers.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonWrongState        Reason = "wrong_state"
	ReasonInvalidParameters Reason = "invalid_parameters"
	ReasonDeviceBusy        Reason = "device_busy"
	ReasonDriverFault       Reason = "driver_fault"
	ReasonIOFault           Reason = "io_fault"
	ReasonCancelled         Reason = "cancelled"
	ReasonLockFault         Reason = "lock_fault"
)

// ReasonOf maps an error to its Reason. Unclassified errors are driver faults,
// since the driver is the only collaborator whose errors are opaque.
func ReasonOf(err error) Reason {
	switch {
	case err == nil:
		return ReasonNone
	case errors.Is(err, ErrInvalidParameters):
		return ReasonInvalidParameters
	case errors.Is(err, ErrDeviceBusy):
		return ReasonDeviceBusy
	case errors.Is(err, ErrWrongState), errors.Is(err, ErrTokenReleased):
		return ReasonWrongState
	case errors.Is(err, ErrLockFault):
		return ReasonLockFault
	case errors.Is(err, ErrIOFault):
		return ReasonIOFault
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ReasonCancelled
	default:
		return ReasonDriverFault
	}
}

// driverFault tags err as a driver fault unless it already carries a taxonomy error.
func driverFault(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrDriverFault) || errors.Is(err, ErrWrongState) || errors.Is(err, ErrInvalidParameters) || errors.Is(err, ErrTokenReleased) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrDriverFault, err)
}
