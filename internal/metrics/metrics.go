// Package metrics holds the in-memory atomic counters exported by both the
// dispatcher and the egress proxy on their respective /metrics diagnostic
// endpoints. It is deliberately not a Prometheus client: neither binary in
// this repository imports one, and a copy-on-write map read under no lock
// is enough for a handful of label combinations polled occasionally by an
// operator.
package metrics

import (
	"sync/atomic"
	"time"
)

// syncMap is a tiny generic wrapper using atomic.Value for copy-on-write maps.
type syncMap[K comparable, V any] struct{ m atomic.Value } // stores map[K]V

func (s *syncMap[K, V]) load() map[K]V {
	if v := s.m.Load(); v != nil {
		return v.(map[K]V)
	}
	return map[K]V{}
}
func (s *syncMap[K, V]) swap(m map[K]V) { s.m.Store(m) }

var (
	dispatchCounts syncMap[string, uint64]
	proxyCounts    syncMap[string, uint64]
)

// IncCategory increments the dispatcher's per-command-category counter.
// Called once per handled /git request, keyed by the classifier's verdict
// (e.g. "local", "remote_write", "denied").
func IncCategory(category string) {
	cur := dispatchCounts.load()
	next := make(map[string]uint64, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	next[category] = next[category] + 1
	dispatchCounts.swap(next)
}

// IncDecision increments the egress proxy's per-reason counter. Use "allow"
// for passed-through requests, or the policy reason string for blocks
// (e.g. "github_api_blocked", "blocked_domain", "secrets_detected").
func IncDecision(reason string) {
	cur := proxyCounts.load()
	next := make(map[string]uint64, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	next[reason] = next[reason] + 1
	proxyCounts.swap(next)
}

// Snapshot is the JSON shape returned by /metrics on both binaries.
type Snapshot struct {
	Timestamp time.Time         `json:"ts"`
	Counts    map[string]uint64 `json:"counts"`
}

// ExportDispatch returns a snapshot of the dispatcher's category counters.
func ExportDispatch() Snapshot {
	cur := dispatchCounts.load()
	flat := make(map[string]uint64, len(cur))
	for k, v := range cur {
		flat[k] = v
	}
	return Snapshot{Timestamp: time.Now().UTC(), Counts: flat}
}

// ExportProxy returns a snapshot of the egress proxy's decision counters.
func ExportProxy() Snapshot {
	cur := proxyCounts.load()
	flat := make(map[string]uint64, len(cur))
	for k, v := range cur {
		flat[k] = v
	}
	return Snapshot{Timestamp: time.Now().UTC(), Counts: flat}
}
