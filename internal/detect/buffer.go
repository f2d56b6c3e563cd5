package detect

import (
	"fmt"
	"time"

	"sunwatch/internal/measurement"
)

// Buffer holds recent measurements for one sensor in chronological order and
// tracks the elapsed gap between adjacent readings. It is owned exclusively
// by a Detector and mutated only through Ingest.
type Buffer struct {
	retention time.Duration
	entries   []measurement.Measurement
}

// NewBuffer creates a buffer that retains measurements for the given horizon.
func NewBuffer(retention time.Duration) *Buffer {
	return &Buffer{retention: retention}
}

// Ingest appends a measurement. The producer guarantees chronological order;
// the buffer defends against violations with ErrOutOfOrder. Entries older
// than the retention horizon relative to the newest measurement are evicted.
func (b *Buffer) Ingest(m measurement.Measurement) error {
	if n := len(b.entries); n > 0 {
		if m.Time.Before(b.entries[n-1].Time) {
			return fmt.Errorf("%w: %v precedes %v",
				ErrOutOfOrder, m.Time, b.entries[n-1].Time)
		}
	}
	b.entries = append(b.entries, m)
	b.evict(m.Time)
	return nil
}

// evict drops entries older than the retention horizon before now.
func (b *Buffer) evict(now time.Time) {
	cutoff := now.Add(-b.retention)
	i := 0
	for i < len(b.entries) && b.entries[i].Time.Before(cutoff) {
		i++
	}
	if i > 0 {
		b.entries = append(b.entries[:0], b.entries[i:]...)
	}
}

// Since returns the measurements with Time >= t, oldest first. The returned
// slice is shared with the buffer; callers must not modify it.
func (b *Buffer) Since(t time.Time) []measurement.Measurement {
	i := 0
	for i < len(b.entries) && b.entries[i].Time.Before(t) {
		i++
	}
	return b.entries[i:]
}

// Len reports the number of buffered measurements.
func (b *Buffer) Len() int {
	return len(b.entries)
}

// Last returns the newest measurement, if any.
func (b *Buffer) Last() (measurement.Measurement, bool) {
	if len(b.entries) == 0 {
		return measurement.Measurement{}, false
	}
	return b.entries[len(b.entries)-1], true
}
