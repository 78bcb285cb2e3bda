package detection

import "sync/atomic"

// Metrics counts signatures as they move through filtering and detection.
type Metrics struct {
	received   atomic.Uint64
	filtered   atomic.Uint64
	passed     atomic.Uint64
	detected   atomic.Uint64
	failures   atomic.Uint64
	duplicates atomic.Uint64
}

// MetricsSnapshot is a point-in-time copy of Metrics.
type MetricsSnapshot struct {
	Received   uint64 `json:"received"`
	Filtered   uint64 `json:"filtered"`
	Passed     uint64 `json:"passed"`
	Detected   uint64 `json:"detected"`
	Failures   uint64 `json:"failures"`
	Duplicates uint64 `json:"duplicates"`
}

// Snapshot returns current counter values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Received:   m.received.Load(),
		Filtered:   m.filtered.Load(),
		Passed:     m.passed.Load(),
		Detected:   m.detected.Load(),
		Failures:   m.failures.Load(),
		Duplicates: m.duplicates.Load(),
	}
}

// IncDuplicate counts a signature dropped by cross-endpoint dedup.
func (m *Metrics) IncDuplicate() { m.duplicates.Add(1) }

func (m *Metrics) incDetected() { m.detected.Add(1) }
func (m *Metrics) incFailure()  { m.failures.Add(1) }
