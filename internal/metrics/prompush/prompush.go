// Package prompush implements a Prometheus Pushgateway backend for the
// metrics package.
//
// Collectors live in a private registry that is pushed to the gateway on
// Flush, because a load is a short-lived batch run with nothing to scrape.
// The "job" label is the Pushgateway grouping key, so it is not repeated as
// a metric label.
package prompush

import (
	"fmt"

	"xer/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Backend is a Prometheus Pushgateway metrics backend.
type Backend struct {
	gatewayURL string // e.g. http://pushgateway:9091
	jobName    string // Pushgateway "job" group
	reg        *prometheus.Registry

	stepCounter  *prometheus.CounterVec // xer_step_total
	stepDuration *prometheus.SummaryVec // xer_step_duration_seconds

	recordCounter *prometheus.CounterVec // xer_records_total
	batchCounter  prometheus.Counter     // xer_batches_total

	tableRows     *prometheus.CounterVec // xer_table_rows_total
	tableErrors   *prometheus.CounterVec // xer_table_errors_total
	tableDuration *prometheus.SummaryVec // xer_table_duration_seconds
}

// NewBackend constructs a Prometheus Pushgateway backend.
// jobName: the Pushgateway "job" name (usually the config job).
// gatewayURL: base URL of the Pushgateway server.
func NewBackend(jobName, gatewayURL string) (*Backend, error) {
	if gatewayURL == "" {
		return nil, fmt.Errorf("prompush: gateway URL is required")
	}
	if jobName == "" {
		jobName = "xer"
	}

	objectives := map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001}
	b := &Backend{
		gatewayURL: gatewayURL,
		jobName:    jobName,
		reg:        prometheus.NewRegistry(),
		stepCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.StepTotal,
			Help: "Stage executions (load, write, export), partitioned by step and status.",
		}, []string{"step", "status"}),
		stepDuration: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Name:       metrics.StepDuration,
			Help:       "Stage duration in seconds, partitioned by step and status.",
			Objectives: objectives,
		}, []string{"step", "status"}),
		recordCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.RecordsTotal,
			Help: "Record-level counts per kind (records, rows, row_errors, dropped, exported).",
		}, []string{"kind"}),
		batchCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metrics.BatchesTotal,
			Help: "Export batches flushed for this job.",
		}),
		tableRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.TableRowsTotal,
			Help: "Rows appended per table section.",
		}, []string{"table"}),
		tableErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.TableErrorsTotal,
			Help: "Error log entries per table section.",
		}, []string{"table"}),
		tableDuration: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Name:       metrics.TableDurationSecs,
			Help:       "Conversion time per table section in seconds.",
			Objectives: objectives,
		}, []string{"table"}),
	}

	for name, c := range map[string]prometheus.Collector{
		"step counter":   b.stepCounter,
		"step summary":   b.stepDuration,
		"record counter": b.recordCounter,
		"batch counter":  b.batchCounter,
		"table rows":     b.tableRows,
		"table errors":   b.tableErrors,
		"table summary":  b.tableDuration,
	} {
		if err := b.reg.Register(c); err != nil {
			return nil, fmt.Errorf("prompush: register %s: %w", name, err)
		}
	}
	return b, nil
}

func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	switch name {
	case metrics.StepTotal:
		if b.stepCounter != nil {
			b.stepCounter.WithLabelValues(labels["step"], labels["status"]).Add(delta)
		}
	case metrics.RecordsTotal:
		if b.recordCounter != nil {
			b.recordCounter.WithLabelValues(labels["kind"]).Add(delta)
		}
	case metrics.BatchesTotal:
		if b.batchCounter != nil {
			b.batchCounter.Add(delta)
		}
	case metrics.TableRowsTotal:
		if b.tableRows != nil {
			b.tableRows.WithLabelValues(labels["table"]).Add(delta)
		}
	case metrics.TableErrorsTotal:
		if b.tableErrors != nil {
			b.tableErrors.WithLabelValues(labels["table"]).Add(delta)
		}
	}
}

func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	switch name {
	case metrics.StepDuration:
		if b.stepDuration != nil {
			b.stepDuration.WithLabelValues(labels["step"], labels["status"]).Observe(value)
		}
	case metrics.TableDurationSecs:
		if b.tableDuration != nil {
			b.tableDuration.WithLabelValues(labels["table"]).Observe(value)
		}
	}
}

// Flush pushes the current registry to the Pushgateway.
func (b *Backend) Flush() error {
	return push.New(b.gatewayURL, b.jobName).
		Gatherer(b.reg).
		Push()
}
