package detect

// Condition is one classifier check with its boolean result and normalized
// margin, so every threshold crossing is independently inspectable and the
// confidence score is reproducible from the same data as the decision.
type Condition struct {
	// Name identifies the check.
	Name string `json:"name"`

	// Satisfied reports whether the check passed.
	Satisfied bool `json:"satisfied"`

	// Margin is how far past the threshold the signal sits, normalized so
	// that 0 means barely at the threshold and 1 means a strong, unambiguous
	// crossing. Negative when the check failed.
	Margin float64 `json:"margin"`
}

// ConditionSet holds the full conjunctive condition set for one window.
type ConditionSet struct {
	Daylight          Condition `json:"daylight"`
	TempElevated      Condition `json:"temp_elevated"`
	HumidityDepressed Condition `json:"humidity_depressed"`
	TempRising        Condition `json:"temp_rising"`
	HumidityFalling   Condition `json:"humidity_falling"`
	AntiCorrelated    Condition `json:"anti_correlated"`
}

// All reports whether every condition is satisfied.
func (cs ConditionSet) All() bool {
	for _, c := range cs.list() {
		if !c.Satisfied {
			return false
		}
	}
	return true
}

func (cs ConditionSet) list() []Condition {
	return []Condition{
		cs.Daylight,
		cs.TempElevated,
		cs.HumidityDepressed,
		cs.TempRising,
		cs.HumidityFalling,
		cs.AntiCorrelated,
	}
}

// Confidence is the minimum of the five signal margins (the daylight gate is
// boolean and carries no margin), clamped to [0, 1]. Taking the minimum
// rewards strong, unambiguous spikes over barely-qualifying ones: the score
// is monotonic in each margin and zero whenever any condition fails.
func (cs ConditionSet) Confidence() float64 {
	if !cs.All() {
		return 0
	}
	min := 1.0
	for _, c := range cs.list()[1:] {
		if c.Margin < min {
			min = c.Margin
		}
	}
	if min < 0 {
		return 0
	}
	return min
}

// classify evaluates the condition set for a window against the baseline.
// The daylight gate is checked by the caller before signals are computed;
// here it is recorded as already satisfied.
func classify(sig Signals, baseTemp, baseHumidity float64, p Params) ConditionSet {
	tempDev := sig.TempMean - baseTemp
	humidityDev := sig.HumidityMean - baseHumidity

	cs := ConditionSet{
		Daylight: Condition{Name: "daylight_hour", Satisfied: true},
		TempElevated: Condition{
			Name:      "temp_elevated",
			Satisfied: tempDev > p.TempDeviation,
			Margin:    (tempDev - p.TempDeviation) / p.TempDeviation,
		},
		HumidityDepressed: Condition{
			Name:      "humidity_depressed",
			Satisfied: humidityDev < p.HumidityDeviation,
			Margin:    (p.HumidityDeviation - humidityDev) / -p.HumidityDeviation,
		},
		TempRising: Condition{
			Name:      "temp_rising",
			Satisfied: sig.TempSlope > p.SlopeThreshold,
			Margin:    (sig.TempSlope - p.SlopeThreshold) / p.SlopeThreshold,
		},
		HumidityFalling: Condition{
			Name:      "humidity_falling",
			Satisfied: sig.HumiditySlope < -p.SlopeThreshold,
			Margin:    (-p.SlopeThreshold - sig.HumiditySlope) / p.SlopeThreshold,
		},
	}

	// An undefined correlation (zero-variance series) is a failed condition,
	// not an error: a flat series cannot exhibit the sunlight signature.
	if sig.CorrelationDefined {
		// Normalize over the span between the threshold and perfect
		// anti-correlation, so -1.0 scores a full margin of 1.
		span := 1 + p.CorrelationThreshold
		cs.AntiCorrelated = Condition{
			Name:      "anti_correlated",
			Satisfied: sig.Correlation < p.CorrelationThreshold,
			Margin:    (p.CorrelationThreshold - sig.Correlation) / span,
		}
	} else {
		cs.AntiCorrelated = Condition{Name: "anti_correlated", Satisfied: false, Margin: -1}
	}

	return cs
}

// inDaylight reports whether hour falls inside the half-open daylight window.
func inDaylight(hour int, p Params) bool {
	return hour >= p.DaylightStart && hour < p.DaylightEnd
}
