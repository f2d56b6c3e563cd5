package detect

import (
	"time"

	"sunwatch/internal/measurement"
)

// Window is a contiguous, gap-validated slice of recent measurements used for
// one detection cycle. It borrows its backing array from the buffer and is
// never persisted; a new window is extracted per cycle.
type Window struct {
	Measurements []measurement.Measurement
	Start        time.Time
	End          time.Time

	// LargestGap is the widest gap between consecutive points, recorded for
	// observability even when the window passes validation.
	LargestGap time.Duration
}

// Mean returns the arithmetic means of the window's temperature and humidity
// series.
func (w Window) Mean() (temp, humidity float64) {
	for _, m := range w.Measurements {
		temp += m.Temperature
		humidity += m.Humidity
	}
	n := float64(len(w.Measurements))
	return temp / n, humidity / n
}

// extractWindow selects the buffered measurements covering the trailing
// window before now and validates them. A window fails with
// ReasonGapTooLarge when any internal gap exceeds maxGap: the offending
// points are not silently dropped, because a large gap means the window
// straddles a data outage rather than one noisy reading. It fails with
// ReasonInsufficientData when fewer than minPoints remain.
func extractWindow(b *Buffer, now time.Time, p Params) (Window, Reason) {
	entries := b.Since(now.Add(-p.WindowDuration))
	if len(entries) < p.MinPoints {
		return Window{}, ReasonInsufficientData
	}

	var largest time.Duration
	for i := 1; i < len(entries); i++ {
		gap := entries[i].Time.Sub(entries[i-1].Time)
		if gap > largest {
			largest = gap
		}
	}
	if largest > p.MaxGap {
		return Window{LargestGap: largest, Measurements: entries}, ReasonGapTooLarge
	}

	return Window{
		Measurements: entries,
		Start:        entries[0].Time,
		End:          entries[len(entries)-1].Time,
		LargestGap:   largest,
	}, ""
}
