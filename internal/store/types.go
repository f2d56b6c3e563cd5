// Package store provides the local SQLite archive of confirmed detections.
package store

import "time"

// Detection is one confirmed sunlight exposure event as archived locally.
type Detection struct {
	// ID is the database row ID.
	ID int64

	// Device identifies the reporting sensor.
	Device string

	// StartedAt is when the candidate spike first appeared.
	StartedAt time.Time

	// ConfirmedAt is when persistence pushed the spike over the line.
	ConfirmedAt time.Time

	// Confidence is the detection confidence at confirmation time, in [0, 1].
	Confidence float64

	// TempDeviation is the window temperature deviation from baseline.
	TempDeviation float64

	// HumidityDeviation is the window humidity deviation from baseline.
	HumidityDeviation float64

	// Correlation is the temperature/humidity correlation in the window.
	Correlation float64

	// WindowPoints is the number of measurements in the confirming window.
	WindowPoints int

	// LargestGap is the widest sampling gap inside the confirming window.
	LargestGap time.Duration
}
