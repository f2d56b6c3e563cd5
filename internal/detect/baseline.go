package detect

import (
	"time"

	"sunwatch/internal/measurement"
)

// Baseline maintains the long-horizon expected temperature and humidity used
// as the "normal" reference for deviation checks. It is an exponential moving
// average: a fixed-count moving average would be biased by irregular gaps,
// since a fixed window of samples covers a varying span of real time.
type Baseline struct {
	alpha       float64
	tempAvg     float64
	humidityAvg float64
	lastUpdate  time.Time
	warmedUp    bool
}

// NewBaseline derives the smoothing factor from the nominal sampling interval
// and the averaging horizon: with N = horizon / interval samples per horizon,
// alpha = 2 / (N + 1), the standard EMA span mapping.
func NewBaseline(sampleInterval, horizon time.Duration) *Baseline {
	n := float64(horizon) / float64(sampleInterval)
	if n < 1 {
		n = 1
	}
	return &Baseline{alpha: 2 / (n + 1)}
}

// Update folds a new reading into the running averages. The first reading
// initializes them.
func (b *Baseline) Update(m measurement.Measurement) {
	if !b.warmedUp {
		b.tempAvg = m.Temperature
		b.humidityAvg = m.Humidity
		b.warmedUp = true
	} else {
		b.tempAvg += b.alpha * (m.Temperature - b.tempAvg)
		b.humidityAvg += b.alpha * (m.Humidity - b.humidityAvg)
	}
	b.lastUpdate = m.Time
}

// Seed initializes the averages directly, for replaying historical data with
// a known-good starting point.
func (b *Baseline) Seed(tempAvg, humidityAvg float64) {
	b.tempAvg = tempAvg
	b.humidityAvg = humidityAvg
	b.warmedUp = true
}

// Current returns the averages. ok is false until at least one reading has
// been folded in; callers must treat that as "no baseline yet", never as a
// zero baseline.
func (b *Baseline) Current() (tempAvg, humidityAvg float64, ok bool) {
	if !b.warmedUp {
		return 0, 0, false
	}
	return b.tempAvg, b.humidityAvg, true
}
