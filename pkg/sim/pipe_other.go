//go:build !linux

package sim

import (
	"context"
	"errors"
)

// ServePipe is only available on Linux.
func (f *FPGA) ServePipe(ctx context.Context, path string) error {
	return errors.New("simulated pipe requires linux")
}
