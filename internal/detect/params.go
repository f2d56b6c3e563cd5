// Package detect implements gap-aware detection of sustained sunlight
// exposure events in a stream of irregularly-sampled sensor measurements.
//
// Direct sunlight on an enclosed sensor produces a characteristic signature:
// temperature climbs well above its long-horizon baseline while relative
// humidity falls below its own, the two strongly anti-correlated, during
// daylight hours, sustained for more than an hour. The detector buffers
// recent measurements, extracts a validity-checked time window, computes
// rate-of-change and correlation signals over real elapsed time (never over
// sample index, which is meaningless under gappy sampling), classifies
// candidate spikes against a condition set, and confirms them only after
// they persist long enough.
//
// The package is a pure, synchronous library: no I/O, no logging, no shared
// state. One Detector per logical sensor.
package detect

import (
	"fmt"
	"time"
)

// Params controls every threshold and horizon in the detection pipeline.
// All values are externally settable; DefaultParams gives the tuned defaults.
type Params struct {
	// WindowDuration is how far back an analysis window reaches.
	WindowDuration time.Duration

	// MaxGap is the largest tolerable gap between consecutive measurements
	// inside a window. A larger gap means the window straddles a data outage
	// and is not analyzable.
	MaxGap time.Duration

	// MinPoints is the minimum number of measurements a window must contain.
	MinPoints int

	// TempDeviation is how far (degrees C) the window's mean temperature must
	// sit above the baseline.
	TempDeviation float64

	// HumidityDeviation is how far the window's mean humidity must sit below
	// the baseline. Negative: -5.0 means "at least five points below".
	HumidityDeviation float64

	// SlopeThreshold is the minimum temperature slope, in degrees C per hour.
	// The humidity slope must be below its negation.
	SlopeThreshold float64

	// CorrelationThreshold is the Pearson correlation between temperature and
	// humidity below which the two are considered anti-correlated.
	CorrelationThreshold float64

	// MinSpikeDuration is how long the classifier must keep flagging before a
	// spike is confirmed.
	MinSpikeDuration time.Duration

	// DaylightStart and DaylightEnd bound the hours of day (half-open
	// [start, end)) during which a sunlight spike is physically plausible.
	DaylightStart int
	DaylightEnd   int

	// BaselineHorizon is the averaging horizon of the long-term baseline.
	BaselineHorizon time.Duration

	// SampleInterval is the nominal time between sensor readings, used to
	// derive the baseline smoothing factor.
	SampleInterval time.Duration
}

// DefaultParams returns the tuned defaults.
func DefaultParams() Params {
	return Params{
		WindowDuration:       2 * time.Hour,
		MaxGap:               15 * time.Minute,
		MinPoints:            8,
		TempDeviation:        3.0,
		HumidityDeviation:    -5.0,
		SlopeThreshold:       0.3,
		CorrelationThreshold: -0.6,
		MinSpikeDuration:     90 * time.Minute,
		DaylightStart:        7,
		DaylightEnd:          20,
		BaselineHorizon:      24 * time.Hour,
		SampleInterval:       5 * time.Minute,
	}
}

// Validate checks parameter sanity.
func (p Params) Validate() error {
	if p.WindowDuration <= 0 {
		return fmt.Errorf("window duration must be positive, got %v", p.WindowDuration)
	}
	if p.MaxGap <= 0 {
		return fmt.Errorf("max gap must be positive, got %v", p.MaxGap)
	}
	if p.MinPoints < 2 {
		return fmt.Errorf("min points must be at least 2, got %d", p.MinPoints)
	}
	if p.TempDeviation <= 0 {
		return fmt.Errorf("temperature deviation threshold must be positive, got %v", p.TempDeviation)
	}
	if p.HumidityDeviation >= 0 {
		return fmt.Errorf("humidity deviation threshold must be negative, got %v", p.HumidityDeviation)
	}
	if p.SlopeThreshold <= 0 {
		return fmt.Errorf("slope threshold must be positive, got %v", p.SlopeThreshold)
	}
	if p.CorrelationThreshold <= -1 || p.CorrelationThreshold >= 0 {
		return fmt.Errorf("correlation threshold must be in (-1, 0), got %v", p.CorrelationThreshold)
	}
	if p.MinSpikeDuration < 0 {
		return fmt.Errorf("min spike duration must not be negative, got %v", p.MinSpikeDuration)
	}
	if p.DaylightStart < 0 || p.DaylightStart > 23 {
		return fmt.Errorf("daylight start hour out of range: %d", p.DaylightStart)
	}
	if p.DaylightEnd < 1 || p.DaylightEnd > 24 {
		return fmt.Errorf("daylight end hour out of range: %d", p.DaylightEnd)
	}
	if p.DaylightEnd <= p.DaylightStart {
		return fmt.Errorf("daylight window is empty: [%d, %d)", p.DaylightStart, p.DaylightEnd)
	}
	if p.BaselineHorizon < p.WindowDuration {
		return fmt.Errorf("baseline horizon %v shorter than window duration %v", p.BaselineHorizon, p.WindowDuration)
	}
	if p.SampleInterval <= 0 || p.SampleInterval >= p.BaselineHorizon {
		return fmt.Errorf("sample interval %v must be positive and below the baseline horizon", p.SampleInterval)
	}
	return nil
}

// retention is how long the buffer must keep measurements: the longest
// lookback any stage needs.
func (p Params) retention() time.Duration {
	if p.BaselineHorizon > p.WindowDuration {
		return p.BaselineHorizon
	}
	return p.WindowDuration
}
