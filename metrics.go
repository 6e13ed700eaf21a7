package luckperms

import (
	"fmt"
	"sync/atomic"
)

// MetricID identifies one engine counter.
type MetricID uint16

const (
	// MetricResolveCacheHit counts resolutions served from a subject cache.
	MetricResolveCacheHit MetricID = iota
	// MetricResolveCacheMiss counts resolutions that walked the graph.
	MetricResolveCacheMiss
	// MetricCycleDetected counts branches terminated by cycle detection.
	MetricCycleDetected
	// MetricCacheInvalidation counts per-subject cache purges.
	MetricCacheInvalidation
	// MetricSubjectLoad counts subjects brought into residence.
	MetricSubjectLoad
	// MetricSubjectAutoCreate counts lookups that created an empty subject.
	MetricSubjectAutoCreate
	// MetricSaveQueued counts persistence writes accepted by the dispatcher.
	MetricSaveQueued
	// MetricSaveFailed counts persistence writes that errored.
	MetricSaveFailed
	// MetricSaveDropped counts persistence writes dropped on a full queue.
	MetricSaveDropped

	metricCount
)

var metricNames = [metricCount]string{
	MetricResolveCacheHit:   "resolve_cache_hit",
	MetricResolveCacheMiss:  "resolve_cache_miss",
	MetricCycleDetected:     "cycle_detected",
	MetricCacheInvalidation: "cache_invalidation",
	MetricSubjectLoad:       "subject_load",
	MetricSubjectAutoCreate: "subject_auto_create",
	MetricSaveQueued:        "save_queued",
	MetricSaveFailed:        "save_failed",
	MetricSaveDropped:       "save_dropped",
}

// String returns the counter's stable snake_case name.
func (id MetricID) String() string {
	if id < metricCount {
		return metricNames[id]
	}
	return fmt.Sprintf("metric(%d)", uint16(id))
}

// Metrics is a fixed set of atomic counters. A nil or disabled Metrics is
// safe to use and records nothing.
type Metrics struct {
	enabled  bool
	counters [metricCount]atomic.Uint64
}

func newMetrics(enabled bool) *Metrics {
	return &Metrics{enabled: enabled}
}

// Inc increments a counter.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricCount {
		return
	}
	m.counters[id].Add(1)
}

// MetricsSnapshot is a point-in-time copy of every counter.
type MetricsSnapshot struct {
	Counters map[MetricID]uint64
}

// Snapshot copies the current counter values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{Counters: map[MetricID]uint64{}}
	if m == nil || !m.enabled {
		return snap
	}
	for id := MetricID(0); id < metricCount; id++ {
		snap.Counters[id] = m.counters[id].Load()
	}
	return snap
}
