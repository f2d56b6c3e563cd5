// Package measurement defines the sensor reading types shared by the
// detector core and the ingestion collaborators.
//
// A Measurement is one reading from an SCD40-class sensor: temperature,
// relative humidity, CO2 concentration, and the time it was taken. Readings
// arrive roughly every few minutes but with unpredictable gaps (device
// resets, battery swaps), so nothing in this package assumes a fixed cadence.
package measurement

import (
	"time"
)

// Measurement is a single sensor reading. Immutable once created; producers
// guarantee chronological (non-decreasing time) order within one device.
type Measurement struct {
	// Time the reading was taken.
	Time time.Time `json:"time"`

	// Temperature in degrees Celsius.
	Temperature float64 `json:"temperature_c"`

	// Humidity as relative humidity percent.
	Humidity float64 `json:"humidity_percent"`

	// CO2 concentration in ppm.
	CO2 int `json:"co2_ppm"`
}

// Row is a measurement tagged with the device that produced it, as stored in
// the time-series database.
type Row struct {
	Device string `json:"device"`
	Measurement
}
