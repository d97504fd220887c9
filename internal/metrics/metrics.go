// Package metrics is the process-wide metrics facade used by the lake
// commands. Components record through the package functions; the command
// wires a concrete Backend (or leaves the default no-op one) at startup.
package metrics

import (
	"sync"
	"time"
)

// Metric names recorded by this repository.
const (
	StepTotal           = "lake_step_total"            // labels: step, status
	StepDurationSeconds = "lake_step_duration_seconds" // labels: step, status
	RowsTotal           = "lake_rows_total"            // labels: kind
	BytesTotal          = "lake_bytes_total"           // labels: kind
	DatasetsTotal       = "lake_datasets_total"        // labels: status
)

// Labels are metric dimensions.
type Labels map[string]string

// Backend receives metric observations.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b. A nil b restores the no-op backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		b = nopBackend{}
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// IncCounter adds delta to a counter.
func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

// ObserveHistogram records one sample.
func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

// Flush pushes buffered observations, if the backend buffers.
func Flush() error {
	return current().Flush()
}

// RecordStep counts a finished step and its duration since start.
func RecordStep(step, status string, start time.Time) {
	l := Labels{"step": step, "status": status}
	IncCounter(StepTotal, 1, l)
	ObserveHistogram(StepDurationSeconds, time.Since(start).Seconds(), l)
}

// AddRows counts data rows processed for kind (profiled, projected,
// partitioned).
func AddRows(kind string, n int64) {
	if n > 0 {
		IncCounter(RowsTotal, float64(n), Labels{"kind": kind})
	}
}

// AddBytes counts bytes written for kind (partitioned, projected, published).
func AddBytes(kind string, n int64) {
	if n > 0 {
		IncCounter(BytesTotal, float64(n), Labels{"kind": kind})
	}
}

// Dataset counts a dataset outcome (ok, skipped, failed).
func Dataset(status string) {
	IncCounter(DatasetsTotal, 1, Labels{"status": status})
}
