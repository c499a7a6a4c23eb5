// Package metrics exposes per-run Prometheus metrics and pushes them to a
// Pushgateway once the job finishes.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/telhawk-systems/gradersync/internal/model"
)

// Metrics holds the collectors of one job run on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	// Source metrics
	RecordsFetched prometheus.Counter

	// Normalization metrics
	RecordsNormalized prometheus.Counter
	RecordsRejected   *prometheus.CounterVec

	// Storage metrics
	RowsInserted     prometheus.Counter
	RowsInsertFailed *prometheus.CounterVec

	// Stage metrics
	StageDuration *prometheus.HistogramVec
	StageErrors   *prometheus.CounterVec

	// Summary gauges mirror the reported row
	SummaryAttempts   *prometheus.GaugeVec
	SummaryUniqueUser prometheus.Gauge

	LastRunTimestamp prometheus.Gauge
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		RecordsFetched: factory.NewCounter(prometheus.CounterOpts{
			Name: "gradersync_records_fetched_total",
			Help: "Total number of raw attempts received from the statistics source",
		}),

		RecordsNormalized: factory.NewCounter(prometheus.CounterOpts{
			Name: "gradersync_records_normalized_total",
			Help: "Total number of attempts that passed normalization",
		}),

		RecordsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gradersync_records_rejected_total",
			Help: "Total number of attempts rejected by normalization",
		}, []string{"reason"}),

		RowsInserted: factory.NewCounter(prometheus.CounterOpts{
			Name: "gradersync_rows_inserted_total",
			Help: "Total number of attempts inserted into PostgreSQL",
		}),

		RowsInsertFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gradersync_rows_insert_failed_total",
			Help: "Total number of attempts that failed to insert",
		}, []string{"class"}),

		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gradersync_stage_duration_seconds",
			Help:    "Duration of each job stage in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),

		StageErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gradersync_stage_errors_total",
			Help: "Total number of stage-level failures",
		}, []string{"stage"}),

		SummaryAttempts: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gradersync_summary_attempts",
			Help: "Attempt counts of the last reported daily summary",
		}, []string{"kind"}),

		SummaryUniqueUser: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gradersync_summary_unique_users",
			Help: "Unique users of the last reported daily summary",
		}),

		LastRunTimestamp: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gradersync_last_run_timestamp_seconds",
			Help: "Unix time the last run finished",
		}),
	}
}

// Registry returns the registry holding the run collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveStage records how long a stage took and whether it failed.
func (m *Metrics) ObserveStage(stage string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
	if err != nil {
		m.StageErrors.WithLabelValues(stage).Inc()
	}
}

// ObserveRejections adds per-reason rejection counts.
func (m *Metrics) ObserveRejections(byReason map[string]int) {
	if m == nil {
		return
	}
	for reason, n := range byReason {
		m.RecordsRejected.WithLabelValues(reason).Add(float64(n))
	}
}

// ObserveInsertFailures adds per-class insert failure counts.
func (m *Metrics) ObserveInsertFailures(byClass map[string]int) {
	if m == nil {
		return
	}
	for class, n := range byClass {
		m.RowsInsertFailed.WithLabelValues(class).Add(float64(n))
	}
}

// ObserveSummary sets the summary gauges.
func (m *Metrics) ObserveSummary(s model.DailySummary) {
	if m == nil {
		return
	}
	m.SummaryAttempts.WithLabelValues("total").Set(float64(s.TotalAttempts))
	m.SummaryAttempts.WithLabelValues("successful").Set(float64(s.SuccessfulAttempts))
	m.SummaryAttempts.WithLabelValues("run").Set(float64(s.RunAttempts))
	m.SummaryAttempts.WithLabelValues("submit").Set(float64(s.SubmitAttempts))
	m.SummaryUniqueUser.Set(float64(s.UniqueUsers))
}

// Push sends the registry to a Pushgateway under the given job name,
// replacing metrics previously pushed for that job.
func (m *Metrics) Push(ctx context.Context, url, job string) error {
	if m == nil {
		return nil
	}
	if err := push.New(url, job).Gatherer(m.Registry()).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
