package ethercat

import "sync/atomic"

// Diagnostics summarizes bus health counters shared by a PduRx and every
// submitter using the same Storage. Unlike the teacher's
// busDiagnosticManager, which serializes every update through a single actor
// goroutine reading a channel of closures, these counters are plain atomics:
// Received/Malformed/Stale are only ever written by RxLoop's single
// goroutine, while WorkingCounterMismatch is written by whichever submitter
// goroutine calls Responses.ExpectWorkingCounter, so it alone needs the
// atomic add to be safe under concurrent writers.
type Diagnostics struct {
	received       atomic.Uint64
	malformed      atomic.Uint64
	stale          atomic.Uint64
	workingCounter atomic.Uint64
}

// DiagnosticsSnapshot is a point-in-time copy of a Diagnostics's counters.
type DiagnosticsSnapshot struct {
	// Received counts frames successfully matched to a Sent slot.
	Received uint64
	// Malformed counts received byte sequences that failed Ethernet/EtherCAT
	// header validation and were discarded.
	Malformed uint64
	// Stale counts received frames whose slot was not in the Sent state
	// (e.g. a duplicate, or a reply that arrived after the submitter timed
	// out and released the slot).
	Stale uint64
	// WorkingCounterMismatch counts calls to Responses.ExpectWorkingCounter
	// whose observed working counter did not match what the submitter
	// expected (e.g. a SubDevice that should have processed a PDU did not).
	WorkingCounterMismatch uint64
}

// Snapshot returns the current values of every counter.
func (d *Diagnostics) Snapshot() DiagnosticsSnapshot {
	return DiagnosticsSnapshot{
		Received:               d.received.Load(),
		Malformed:              d.malformed.Load(),
		Stale:                  d.stale.Load(),
		WorkingCounterMismatch: d.workingCounter.Load(),
	}
}
