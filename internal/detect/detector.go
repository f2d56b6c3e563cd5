package detect

import (
	"time"

	"sunwatch/internal/measurement"
)

// Detector runs the full detection pipeline for one logical sensor. It owns
// the sensor's buffer, baseline, and confirmation state; nothing is shared
// between detectors, so multiple sensors (or test fixtures) run
// independently. All methods are synchronous and must be called from a
// single goroutine, or under external mutual exclusion.
type Detector struct {
	params    Params
	buffer    *Buffer
	baseline  *Baseline
	confirmer *Confirmer
}

// New creates a detector with the given parameters.
func New(p Params) (*Detector, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Detector{
		params:    p,
		buffer:    NewBuffer(p.retention()),
		baseline:  NewBaseline(p.SampleInterval, p.BaselineHorizon),
		confirmer: NewConfirmer(p.MinSpikeDuration),
	}, nil
}

// SeedBaseline primes the baseline averages, for historical replay where the
// normal reference is already known.
func (d *Detector) SeedBaseline(tempAvg, humidityAvg float64) {
	d.baseline.Seed(tempAvg, humidityAvg)
}

// Params returns the detector's parameters.
func (d *Detector) Params() Params {
	return d.params
}

// SpikeStartedAt returns when the current candidate spike began. Zero when
// no spike is being tracked.
func (d *Detector) SpikeStartedAt() time.Time {
	return d.confirmer.StartedAt()
}

// PeakConfidence returns the highest confidence seen during the current
// spike.
func (d *Detector) PeakConfidence() float64 {
	return d.confirmer.PeakConfidence()
}

// BufferLen returns the number of buffered measurements.
func (d *Detector) BufferLen() int {
	return d.buffer.Len()
}

// Baseline returns the current baseline averages. ok is false until the
// first measurement has been folded in.
func (d *Detector) Baseline() (temp, humidity float64, ok bool) {
	return d.baseline.Current()
}

// Process ingests one measurement and runs a full detection cycle:
// buffer → window extraction → baseline/signal analysis → classification →
// duration confirmation. The only error is ErrOutOfOrder, which indicates a
// producer bug; every other outcome is a Result with a reason code.
//
// The window is classified against the baseline as it stood before this
// measurement, then the measurement is folded in, so a spike in progress
// does not drag its own reference upward within the cycle.
func (d *Detector) Process(m measurement.Measurement) (Result, error) {
	if err := d.buffer.Ingest(m); err != nil {
		// Reason codes describe evaluated cycles; a rejected measurement
		// never reached one, so the result carries only the standing state.
		return Result{State: d.confirmer.State()}, err
	}

	result := d.evaluate(m)

	d.baseline.Update(m)
	return result, nil
}

func (d *Detector) evaluate(m measurement.Measurement) Result {
	w, failure := extractWindow(d.buffer, m.Time, d.params)
	if failure != "" {
		return d.conclude(Result{
			Reason:               failure,
			MeasurementsInWindow: len(w.Measurements),
			LargestGap:           w.LargestGap,
		}, false, 0, m)
	}

	baseTemp, baseHumidity, ok := d.baseline.Current()
	if !ok {
		return d.conclude(Result{
			Reason:               ReasonInsufficientData,
			MeasurementsInWindow: len(w.Measurements),
			LargestGap:           w.LargestGap,
		}, false, 0, m)
	}

	// Cheap short-circuit: outside daylight hours a sunlight spike is not
	// physically plausible, so the signal analysis is skipped entirely.
	if !inDaylight(w.End.Hour(), d.params) {
		return d.conclude(Result{
			Reason:               ReasonOutsideDaylightWindow,
			MeasurementsInWindow: len(w.Measurements),
			LargestGap:           w.LargestGap,
		}, false, 0, m)
	}

	sig := analyzeWindow(w)
	cs := classify(sig, baseTemp, baseHumidity, d.params)

	result := Result{
		TempDeviation:        sig.TempMean - baseTemp,
		HumidityDeviation:    sig.HumidityMean - baseHumidity,
		Correlation:          sig.Correlation,
		MeasurementsInWindow: len(w.Measurements),
		LargestGap:           w.LargestGap,
	}

	if !cs.All() {
		if !sig.CorrelationDefined {
			result.Reason = ReasonCorrelationUndefined
		} else {
			result.Reason = ReasonConditionsNotMet
		}
		return d.conclude(result, false, 0, m)
	}

	return d.conclude(result, true, cs.Confidence(), m)
}

// conclude advances the confirmer with this cycle's verdict and finalizes
// the result. The confirmer observes every cycle, flagged or not: an
// unanalyzable window is an unflagged cycle and breaks a streak like any
// other.
func (d *Detector) conclude(r Result, flagged bool, confidence float64, m measurement.Measurement) Result {
	state, detected := d.confirmer.Observe(flagged, confidence, m.Time)
	r.State = state
	r.Detected = detected
	if flagged {
		r.Confidence = confidence
		if detected {
			r.Reason = ReasonSpikeConfirmed
		} else {
			r.Reason = ReasonOnset
		}
	}
	return r
}
