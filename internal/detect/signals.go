package detect

import "math"

// Signals are the per-window statistics the classifier consumes.
type Signals struct {
	// TempSlope and HumiditySlope are least-squares regression slopes of each
	// metric against elapsed time, in metric-units per hour. Regressing
	// against sample index would be wrong under irregular spacing.
	TempSlope     float64
	HumiditySlope float64

	// Correlation is the Pearson correlation between the temperature and
	// humidity series, paired by index (both series come from the same
	// measurement sequence).
	Correlation float64

	// CorrelationDefined is false when either series has zero variance.
	CorrelationDefined bool

	// TempMean and HumidityMean are the window means.
	TempMean     float64
	HumidityMean float64
}

// analyzeWindow computes slopes and correlation for a validated window.
func analyzeWindow(w Window) Signals {
	n := len(w.Measurements)

	// Elapsed hours from window start; an offset-free time axis keeps the
	// arithmetic well-conditioned without changing the slope.
	hours := make([]float64, n)
	temps := make([]float64, n)
	hums := make([]float64, n)
	for i, m := range w.Measurements {
		hours[i] = m.Time.Sub(w.Start).Hours()
		temps[i] = m.Temperature
		hums[i] = m.Humidity
	}

	s := Signals{
		TempSlope:     olsSlope(hours, temps),
		HumiditySlope: olsSlope(hours, hums),
	}
	s.TempMean = mean(temps)
	s.HumidityMean = mean(hums)
	s.Correlation, s.CorrelationDefined = pearson(temps, hums)
	return s
}

func mean(xs []float64) float64 {
	var total float64
	for _, v := range xs {
		total += v
	}
	return total / float64(len(xs))
}

// olsSlope returns the ordinary least-squares slope of y against x. Zero when
// x has no spread (all points at the same instant).
func olsSlope(x, y []float64) float64 {
	mx := mean(x)
	my := mean(y)

	var sxx, sxy float64
	for i := range x {
		dx := x[i] - mx
		sxx += dx * dx
		sxy += dx * (y[i] - my)
	}
	if sxx == 0 {
		return 0
	}
	return sxy / sxx
}

// pearson returns the Pearson correlation coefficient of the two series.
// Defined only when both have non-zero variance.
func pearson(x, y []float64) (r float64, defined bool) {
	mx := mean(x)
	my := mean(y)

	var sxx, syy, sxy float64
	for i := range x {
		dx := x[i] - mx
		dy := y[i] - my
		sxx += dx * dx
		syy += dy * dy
		sxy += dx * dy
	}
	if sxx == 0 || syy == 0 {
		return 0, false
	}

	r = sxy / math.Sqrt(sxx*syy)
	// Guard against floating-point drift outside [-1, 1].
	if r > 1 {
		r = 1
	} else if r < -1 {
		r = -1
	}
	return r, true
}
