// Package alert delivers confirmed detections to interested sinks.
package alert

import (
	"context"
	"fmt"
	"time"

	"sunwatch/internal/logging"
)

// Alert describes one confirmed sunlight exposure event.
type Alert struct {
	// Device identifies the reporting sensor.
	Device string

	// StartedAt is when the candidate spike first appeared.
	StartedAt time.Time

	// ConfirmedAt is when persistence confirmed the spike.
	ConfirmedAt time.Time

	// Confidence is the detection confidence in [0, 1].
	Confidence float64

	// TempDeviation and HumidityDeviation are the window deviations from
	// baseline at confirmation time.
	TempDeviation     float64
	HumidityDeviation float64

	// Correlation is the temperature/humidity correlation in the window.
	Correlation float64
}

// Summary renders a short human-readable description.
func (a Alert) Summary() string {
	return fmt.Sprintf("possible direct sunlight on %s (confidence %.0f%%)",
		a.Device, a.Confidence*100)
}

// Body renders the detail lines for notification bodies.
func (a Alert) Body() string {
	return fmt.Sprintf(
		"temperature %+.1f°C and humidity %+.1f%% against baseline, correlation %.2f, ongoing since %s",
		a.TempDeviation, a.HumidityDeviation, a.Correlation,
		a.StartedAt.Local().Format("15:04"),
	)
}

// Sink receives alerts.
type Sink interface {
	Notify(ctx context.Context, a Alert) error
}

// Fanout dispatches each alert to every sink. One failing sink never blocks
// the others.
type Fanout struct {
	sinks []Sink
	log   *logging.Logger
}

// NewFanout creates a fanout over the given sinks.
func NewFanout(log *logging.Logger, sinks ...Sink) *Fanout {
	if log == nil {
		log = logging.Default()
	}
	return &Fanout{sinks: sinks, log: log.With("component", "alert")}
}

// Add appends a sink.
func (f *Fanout) Add(s Sink) {
	f.sinks = append(f.sinks, s)
}

// Notify delivers the alert to all sinks, logging failures.
func (f *Fanout) Notify(ctx context.Context, a Alert) error {
	var firstErr error
	for _, s := range f.sinks {
		if err := s.Notify(ctx, a); err != nil {
			f.log.Error("alert sink failed", "error", err, "device", a.Device)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// LogSink writes alerts to the structured log.
type LogSink struct {
	log *logging.Logger
}

// NewLogSink creates a sink that logs alerts at warn level.
func NewLogSink(log *logging.Logger) *LogSink {
	if log == nil {
		log = logging.Default()
	}
	return &LogSink{log: log}
}

// Notify logs the alert.
func (s *LogSink) Notify(ctx context.Context, a Alert) error {
	s.log.Warn("sunlight exposure detected",
		"device", a.Device,
		"confidence", a.Confidence,
		"temp_deviation", a.TempDeviation,
		"humidity_deviation", a.HumidityDeviation,
		"correlation", a.Correlation,
		"started_at", a.StartedAt,
		"confirmed_at", a.ConfirmedAt,
	)
	return nil
}
