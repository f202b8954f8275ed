// Package metrics records operational metrics for loads, rewrites and
// exports behind a small backend-agnostic interface.
//
//   - Backend covers counters and timing observations.
//   - The global backend defaults to a no-op, so instrumentation is always
//     safe to call.
//   - Concrete systems (Pushgateway, DogStatsD) live in subpackages and are
//     installed once by the CLI with SetBackend.
package metrics

import (
	"sync"
	"time"
)

// Metric names shared by all backends.
const (
	StepTotal         = "xer_step_total"
	StepDuration      = "xer_step_duration_seconds"
	RecordsTotal      = "xer_records_total"
	BatchesTotal      = "xer_batches_total"
	TableRowsTotal    = "xer_table_rows_total"
	TableErrorsTotal  = "xer_table_errors_total"
	TableDurationSecs = "xer_table_duration_seconds"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a value in a latency/duration style metric.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes or flushes metrics, if the backend needs it.
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(name string, delta float64, labels Labels)       {}
func (nopBackend) ObserveHistogram(name string, value float64, labels Labels) {}
func (nopBackend) Flush() error                                               { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs a concrete backend. Passing nil keeps the existing one.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	mu.Lock()
	backend = b
	mu.Unlock()
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush delegates to the current backend.
func Flush() error {
	return current().Flush()
}

// RecordStep measures latency and outcome of one stage
// ("load", "write", "export", ...).
func RecordStep(job, step string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	lbls := Labels{"job": job, "step": step, "status": status}
	b := current()
	b.IncCounter(StepTotal, 1, lbls)
	b.ObserveHistogram(StepDuration, d.Seconds(), lbls)
}

// RecordRow increments a record-level counter. Typical kinds are
// "records", "rows", "row_errors", "dropped", "exported".
func RecordRow(job, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	current().IncCounter(RecordsTotal, float64(delta), Labels{"job": job, "kind": kind})
}

// RecordBatches increments the export batch counter.
func RecordBatches(job string, delta int64) {
	if delta <= 0 {
		return
	}
	current().IncCounter(BatchesTotal, float64(delta), Labels{"job": job})
}

// RecordTable reports one table section after its pipeline finished.
func RecordTable(job, table string, rows, errors int, d time.Duration) {
	lbls := Labels{"job": job, "table": table}
	b := current()
	if rows > 0 {
		b.IncCounter(TableRowsTotal, float64(rows), lbls)
	}
	if errors > 0 {
		b.IncCounter(TableErrorsTotal, float64(errors), lbls)
	}
	b.ObserveHistogram(TableDurationSecs, d.Seconds(), lbls)
}
