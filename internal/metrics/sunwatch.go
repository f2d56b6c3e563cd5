// Package metrics provides Prometheus-compatible metrics for sunwatch.
package metrics

import (
	"sync"
	"time"
)

// PipelineMetrics holds all sunwatch pipeline metrics.
type PipelineMetrics struct {
	registry *Registry

	// Counters
	MeasurementsTotal    *Counter
	InvalidPayloadsTotal *Counter
	OutOfOrderTotal      *Counter
	EvaluationsTotal     *Counter
	DetectionsTotal      *Counter
	OnsetsTotal          *Counter
	InfluxWritesTotal    *Counter
	InfluxErrorsTotal    *Counter
	AlertsTotal          *Counter
	ErrorsTotal          *Counter

	// Gauges
	BufferedMeasurements *Gauge
	BaselineTemperature  *Gauge
	BaselineHumidity     *Gauge
	LastConfidence       *Gauge
	LastMeasurementTs    *Gauge
	ActiveDevices        *Gauge
	UptimeSeconds        *Gauge

	// Histograms
	EvaluationDuration  *Histogram
	InfluxWriteDuration *Histogram
	StoreQueryDuration  *Histogram
	MeasurementInterval *Histogram

	mu              sync.Mutex
	windowsRejected map[string]*Counter
}

// startTime records when metrics were initialized.
var startTime = time.Now()

// NewPipelineMetrics creates and registers all sunwatch metrics.
func NewPipelineMetrics(registry *Registry) *PipelineMetrics {
	if registry == nil {
		registry = Default()
	}

	m := &PipelineMetrics{
		registry:        registry,
		windowsRejected: make(map[string]*Counter),

		// Counters
		MeasurementsTotal: registry.RegisterCounter(
			"measurements_total",
			"Total number of measurements ingested",
			nil,
		),
		InvalidPayloadsTotal: registry.RegisterCounter(
			"invalid_payloads_total",
			"Total number of payloads rejected by validation",
			nil,
		),
		OutOfOrderTotal: registry.RegisterCounter(
			"out_of_order_total",
			"Total number of measurements rejected for breaking chronology",
			nil,
		),
		EvaluationsTotal: registry.RegisterCounter(
			"evaluations_total",
			"Total number of detection evaluations performed",
			nil,
		),
		DetectionsTotal: registry.RegisterCounter(
			"detections_total",
			"Total number of confirmed sunlight detections",
			nil,
		),
		OnsetsTotal: registry.RegisterCounter(
			"onsets_total",
			"Total number of candidate spike onsets",
			nil,
		),
		InfluxWritesTotal: registry.RegisterCounter(
			"influx_writes_total",
			"Total number of InfluxDB write requests",
			nil,
		),
		InfluxErrorsTotal: registry.RegisterCounter(
			"influx_errors_total",
			"Total number of failed InfluxDB requests",
			nil,
		),
		AlertsTotal: registry.RegisterCounter(
			"alerts_total",
			"Total number of alerts dispatched",
			nil,
		),
		ErrorsTotal: registry.RegisterCounter(
			"errors_total",
			"Total number of errors",
			nil,
		),

		// Gauges
		BufferedMeasurements: registry.RegisterGauge(
			"buffered_measurements",
			"Number of measurements currently retained in the buffer",
			nil,
		),
		BaselineTemperature: registry.RegisterGauge(
			"baseline_temperature_celsius",
			"Current slow temperature baseline",
			nil,
		),
		BaselineHumidity: registry.RegisterGauge(
			"baseline_humidity_percent",
			"Current slow humidity baseline",
			nil,
		),
		LastConfidence: registry.RegisterGauge(
			"last_confidence",
			"Confidence of the most recent flagged evaluation",
			nil,
		),
		LastMeasurementTs: registry.RegisterGauge(
			"last_measurement_timestamp",
			"Unix timestamp of the most recent measurement",
			nil,
		),
		ActiveDevices: registry.RegisterGauge(
			"active_devices",
			"Number of devices with a running detector",
			nil,
		),
		UptimeSeconds: registry.RegisterGauge(
			"uptime_seconds",
			"Number of seconds the daemon has been running",
			nil,
		),

		// Histograms
		EvaluationDuration: registry.RegisterHistogram(
			"evaluation_duration_seconds",
			"Duration of detection evaluations in seconds",
			nil,
			DurationBuckets,
		),
		InfluxWriteDuration: registry.RegisterHistogram(
			"influx_write_duration_seconds",
			"Duration of InfluxDB write requests in seconds",
			nil,
			DurationBuckets,
		),
		StoreQueryDuration: registry.RegisterHistogram(
			"store_query_duration_seconds",
			"Duration of local archive queries in seconds",
			nil,
			DurationBuckets,
		),
		MeasurementInterval: registry.RegisterHistogram(
			"measurement_interval_seconds",
			"Time between consecutive measurements in seconds",
			nil,
			IntervalBuckets,
		),
	}

	return m
}

// RecordMeasurement records an ingested measurement.
func (m *PipelineMetrics) RecordMeasurement(at time.Time) {
	m.MeasurementsTotal.Inc()
	m.LastMeasurementTs.SetInt(at.Unix())
}

// RecordMeasurementInterval records the gap to the previous measurement.
func (m *PipelineMetrics) RecordMeasurementInterval(d time.Duration) {
	m.MeasurementInterval.ObserveDuration(d)
}

// RecordInvalidPayload records a payload rejected by validation.
func (m *PipelineMetrics) RecordInvalidPayload() {
	m.InvalidPayloadsTotal.Inc()
}

// RecordOutOfOrder records a measurement rejected for breaking chronology.
func (m *PipelineMetrics) RecordOutOfOrder() {
	m.OutOfOrderTotal.Inc()
}

// RecordEvaluation records one detector evaluation.
func (m *PipelineMetrics) RecordEvaluation(duration time.Duration) {
	m.EvaluationsTotal.Inc()
	m.EvaluationDuration.ObserveDuration(duration)
}

// StartEvaluationTimer returns a timer for detector evaluations.
func (m *PipelineMetrics) StartEvaluationTimer() *HistogramTimer {
	return m.EvaluationDuration.Timer()
}

// RecordWindowRejected records a window that could not be evaluated,
// labelled with the rejection reason.
func (m *PipelineMetrics) RecordWindowRejected(reason string) {
	m.mu.Lock()
	c, ok := m.windowsRejected[reason]
	if !ok {
		c = m.registry.RegisterCounter(
			"windows_rejected_total",
			"Total number of windows rejected before evaluation",
			Labels{"reason": reason},
		)
		m.windowsRejected[reason] = c
	}
	m.mu.Unlock()
	c.Inc()
}

// RecordOnset records a candidate spike onset.
func (m *PipelineMetrics) RecordOnset(confidence float64) {
	m.OnsetsTotal.Inc()
	m.LastConfidence.Set(confidence)
}

// RecordDetection records a confirmed detection.
func (m *PipelineMetrics) RecordDetection(confidence float64) {
	m.DetectionsTotal.Inc()
	m.LastConfidence.Set(confidence)
}

// SetBaseline publishes the current baseline values.
func (m *PipelineMetrics) SetBaseline(temp, humidity float64) {
	m.BaselineTemperature.Set(temp)
	m.BaselineHumidity.Set(humidity)
}

// SetBufferedMeasurements publishes the buffer occupancy.
func (m *PipelineMetrics) SetBufferedMeasurements(n int) {
	m.BufferedMeasurements.SetInt(int64(n))
}

// SetActiveDevices publishes the device count.
func (m *PipelineMetrics) SetActiveDevices(n int) {
	m.ActiveDevices.SetInt(int64(n))
}

// RecordInfluxWrite records an InfluxDB write request.
func (m *PipelineMetrics) RecordInfluxWrite(duration time.Duration, err error) {
	m.InfluxWritesTotal.Inc()
	m.InfluxWriteDuration.ObserveDuration(duration)
	if err != nil {
		m.InfluxErrorsTotal.Inc()
	}
}

// StartStoreQueryTimer returns a timer for local archive queries.
func (m *PipelineMetrics) StartStoreQueryTimer() *HistogramTimer {
	return m.StoreQueryDuration.Timer()
}

// RecordAlert records a dispatched alert.
func (m *PipelineMetrics) RecordAlert() {
	m.AlertsTotal.Inc()
}

// RecordError records an error.
func (m *PipelineMetrics) RecordError() {
	m.ErrorsTotal.Inc()
}

// UpdateUptime updates the uptime metric.
func (m *PipelineMetrics) UpdateUptime() {
	m.UptimeSeconds.SetInt(int64(time.Since(startTime).Seconds()))
}

// Snapshot returns a snapshot of key metrics.
func (m *PipelineMetrics) Snapshot() map[string]interface{} {
	m.UpdateUptime()
	return map[string]interface{}{
		"measurements_total":    m.MeasurementsTotal.Value(),
		"invalid_payloads":      m.InvalidPayloadsTotal.Value(),
		"out_of_order":          m.OutOfOrderTotal.Value(),
		"evaluations_total":     m.EvaluationsTotal.Value(),
		"detections_total":      m.DetectionsTotal.Value(),
		"onsets_total":          m.OnsetsTotal.Value(),
		"influx_writes_total":   m.InfluxWritesTotal.Value(),
		"influx_errors_total":   m.InfluxErrorsTotal.Value(),
		"errors_total":          m.ErrorsTotal.Value(),
		"buffered_measurements": m.BufferedMeasurements.Value(),
		"active_devices":        m.ActiveDevices.Value(),
		"last_confidence":       m.LastConfidence.Value(),
		"uptime_seconds":        m.UptimeSeconds.Value(),
		"evaluation_avg":        m.EvaluationDuration.Mean(),
	}
}

// Global pipeline metrics instance.
var defaultPipelineMetrics *PipelineMetrics

// GetMetrics returns the global pipeline metrics instance.
func GetMetrics() *PipelineMetrics {
	if defaultPipelineMetrics == nil {
		defaultPipelineMetrics = NewPipelineMetrics(Default())
	}
	return defaultPipelineMetrics
}

// InitMetrics initializes the global pipeline metrics with a custom registry.
func InitMetrics(registry *Registry) *PipelineMetrics {
	defaultPipelineMetrics = NewPipelineMetrics(registry)
	return defaultPipelineMetrics
}
