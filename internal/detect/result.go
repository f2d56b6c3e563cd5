package detect

import (
	"errors"
	"time"
)

// ErrOutOfOrder is returned when a measurement's time precedes the last
// buffered one. The producer contract guarantees chronological order, so this
// always indicates an upstream bug, not a property of the physical world.
var ErrOutOfOrder = errors.New("measurement out of chronological order")

// Reason explains the outcome of one detection cycle. "No detection" and
// "can't evaluate yet" are expected steady-state outcomes, not faults, so
// they are modeled as reason codes rather than errors.
type Reason string

const (
	// ReasonInsufficientData: too few points in the window, or the baseline
	// has not warmed up yet.
	ReasonInsufficientData Reason = "insufficient_data"

	// ReasonGapTooLarge: the window straddles a data outage; the detector
	// must not guess across it.
	ReasonGapTooLarge Reason = "gap_too_large"

	// ReasonOutsideDaylightWindow: the hour-of-day gate failed; a sunlight
	// spike is not physically plausible, all other signals are skipped.
	ReasonOutsideDaylightWindow Reason = "outside_daylight_window"

	// ReasonCorrelationUndefined: one of the series has zero variance, so
	// Pearson correlation does not exist. Treated as a failed condition.
	ReasonCorrelationUndefined Reason = "correlation_undefined"

	// ReasonConditionsNotMet: the window was analyzable but at least one
	// classifier condition failed.
	ReasonConditionsNotMet Reason = "conditions_not_met"

	// ReasonOnset: the classifier is flagging but the spike has not yet
	// persisted for the minimum duration.
	ReasonOnset Reason = "onset"

	// ReasonSpikeConfirmed: a sustained sunlight spike.
	ReasonSpikeConfirmed Reason = "spike_confirmed"
)

// Result is the outcome of one detection cycle. A plain value: the detector
// never retains it.
type Result struct {
	// Detected is true only while a confirmed spike is ongoing.
	Detected bool `json:"detected"`

	// Confidence in [0, 1]. Zero unless the classifier is flagging.
	Confidence float64 `json:"confidence"`

	// TempDeviation is window mean temperature minus baseline.
	TempDeviation float64 `json:"temp_deviation"`

	// HumidityDeviation is window mean humidity minus baseline.
	HumidityDeviation float64 `json:"humidity_deviation"`

	// Correlation is the Pearson correlation between the window's temperature
	// and humidity series. Zero when undefined.
	Correlation float64 `json:"correlation"`

	// Reason codes the outcome.
	Reason Reason `json:"reason"`

	// MeasurementsInWindow is how many points the analysis window held.
	MeasurementsInWindow int `json:"measurements_in_window"`

	// LargestGap is the widest gap between consecutive points in the window.
	LargestGap time.Duration `json:"largest_gap"`

	// State is the confirmer state after this cycle.
	State State `json:"state"`
}
