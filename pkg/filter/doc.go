// Package filter controls a single hardware pulse-shaping filter shared by
// several concurrent callers.
//
// # Exclusive access
//
// A Device wraps the hardware Driver. Callers obtain a Token with
// TryAcquire, which fails immediately with ErrDeviceBusy instead of waiting
// when another holder owns the device. Driver operations are only reachable
// through a live Token, and every path that acquires one releases it before
// returning. With WithLocker the guard also holds a lock shared with other
// processes.
//
// # Device states
//
// The driver reports one of four states. Legal gives the operations each
// state permits:
//
//	state              configure start stop read
//	Unconfigured       yes       no    no   no
//	InvalidParameters  yes       no    no   no
//	Ready              yes       yes   no   no
//	Running            no        no    yes  yes
//
// The state is re-queried before every decision. Reconfigure issues a stop
// first when it finds the filter running.
//
// # Capture
//
// Capture starts the filter from Ready, copies data into a sink until the
// requested byte count is reached, and always stops the filter afterwards,
// also on errors and cancellation. Partial sink writes are retried until the
// chunk is flushed.
//
// # Remote configuration
//
// Apply turns a key/value request into an Outcome. Invalid requests are
// rejected before the guard is touched; busy devices are rejected without
// waiting. Remote callers can configure the filter but never start it.
package filter
