// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Runtime counters for the event loop and the protocol session.

package control

import (
	"sort"
	"time"
)

// MetricsRegistry holds named counters. It lives on the event loop
// goroutine like everything it counts and takes no locks. A nil registry
// ignores updates.
type MetricsRegistry struct {
	counters map[string]int64
	updated  time.Time
}

// NewMetricsRegistry creates an empty registry.
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{
		counters: make(map[string]int64),
	}
}

// Add increments key by delta.
func (mr *MetricsRegistry) Add(key string, delta int64) {
	if mr == nil {
		return
	}
	mr.counters[key] += delta
	mr.updated = time.Now()
}

// Set overwrites key.
func (mr *MetricsRegistry) Set(key string, value int64) {
	if mr == nil {
		return
	}
	mr.counters[key] = value
	mr.updated = time.Now()
}

// Get returns the current value of key.
func (mr *MetricsRegistry) Get(key string) int64 {
	if mr == nil {
		return 0
	}
	return mr.counters[key]
}

// Updated returns the time of the last change.
func (mr *MetricsRegistry) Updated() time.Time {
	if mr == nil {
		return time.Time{}
	}
	return mr.updated
}

// GetSnapshot returns a copy of all counters.
func (mr *MetricsRegistry) GetSnapshot() map[string]int64 {
	out := make(map[string]int64)
	if mr == nil {
		return out
	}
	for k, v := range mr.counters {
		out[k] = v
	}
	return out
}

// Keys returns the counter names in sorted order.
func (mr *MetricsRegistry) Keys() []string {
	if mr == nil {
		return nil
	}
	keys := make([]string, 0, len(mr.counters))
	for k := range mr.counters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
