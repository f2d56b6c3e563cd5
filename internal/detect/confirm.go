package detect

import "time"

// State is the duration confirmer's position in its cycle.
type State string

const (
	// StateIdle: no recent classifier flag.
	StateIdle State = "idle"

	// StateOnset: flagged, but not yet for the minimum duration.
	StateOnset State = "onset"

	// StateConfirmed: a sustained spike is being reported.
	StateConfirmed State = "confirmed"

	// StateCooldown: one grace cycle tolerating a single missed flag (sensor
	// noise) before reverting to idle.
	StateCooldown State = "cooldown"
)

// Confirmer is the small state machine that turns per-window classifier
// flags into confirmed detections. A spike is reported only once flags have
// persisted for the minimum duration; a broken streak restarts from zero,
// because the duration check is a persistence requirement, not a cumulative
// count. It is the only persistent, time-dependent object in the core: one
// per monitored sensor, never shared.
type Confirmer struct {
	minDuration time.Duration

	state          State
	startedAt      time.Time
	peakConfidence float64
}

// NewConfirmer creates a confirmer requiring flags to persist for
// minDuration before reporting.
func NewConfirmer(minDuration time.Duration) *Confirmer {
	return &Confirmer{minDuration: minDuration, state: StateIdle}
}

// Observe advances the state machine by one cycle. at is the end of the
// analyzed window; flagged is the classifier verdict for that window.
// It returns the new state and whether a confirmed spike should be reported
// this cycle.
func (c *Confirmer) Observe(flagged bool, confidence float64, at time.Time) (State, bool) {
	switch c.state {
	case StateIdle:
		if flagged {
			c.state = StateOnset
			c.startedAt = at
			c.peakConfidence = confidence
			c.maybeConfirm(at)
		}

	case StateOnset:
		if !flagged {
			// No partial credit: a broken streak must restart.
			c.reset()
			break
		}
		if confidence > c.peakConfidence {
			c.peakConfidence = confidence
		}
		c.maybeConfirm(at)

	case StateConfirmed:
		if !flagged {
			c.state = StateCooldown
			break
		}
		if confidence > c.peakConfidence {
			c.peakConfidence = confidence
		}

	case StateCooldown:
		if flagged {
			c.state = StateConfirmed
			if confidence > c.peakConfidence {
				c.peakConfidence = confidence
			}
		} else {
			c.reset()
		}
	}

	return c.state, c.state == StateConfirmed && flagged
}

// maybeConfirm promotes Onset to Confirmed once the flagged streak has
// lasted the minimum duration.
func (c *Confirmer) maybeConfirm(at time.Time) {
	if at.Sub(c.startedAt) >= c.minDuration {
		c.state = StateConfirmed
	}
}

func (c *Confirmer) reset() {
	c.state = StateIdle
	c.startedAt = time.Time{}
	c.peakConfidence = 0
}

// State returns the current state.
func (c *Confirmer) State() State {
	return c.state
}

// StartedAt returns when the current flagged streak began; zero in Idle.
func (c *Confirmer) StartedAt() time.Time {
	return c.startedAt
}

// PeakConfidence returns the highest confidence seen in the current streak.
func (c *Confirmer) PeakConfidence() float64 {
	return c.peakConfidence
}
