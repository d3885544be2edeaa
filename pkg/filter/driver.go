package filter

// Driver is the hardware driver consumed by the controller. Implementations
// encode the configuration for the FPGA, access its registers and move data.
// Errors are treated opaquely and reported as ErrDriverFault.
//
// State and Configuration may be called concurrently with the other methods
// for advisory status display; all other calls are serialized by the Device
// guard.
type Driver interface {
	Configure(cfg Config) error
	Start() error
	Stop() error

	// Read fills p with captured data and returns the number of bytes
	// stored. It may block until data is available and may return 0 with a
	// nil error when the device FIFO stayed empty for the driver's poll
	// interval.
	Read(p []byte) (int, error)

	State() (State, error)
	Configuration() (Config, error)
}
