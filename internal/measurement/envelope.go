package measurement

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status discriminates the payload variants a device publishes on its sensor
// topic. The wire format is a flat JSON object with a "status" tag, matching
// the firmware's message envelope.
type Status string

// Device message statuses.
const (
	StatusSuccess           Status = "success"
	StatusError             Status = "error"
	StatusFrcStart          Status = "frc_start"
	StatusFrcWarmupComplete Status = "frc_warmup_complete"
	StatusFrcCalibrating    Status = "frc_calibrating"
	StatusFrcSuccess        Status = "frc_success"
	StatusFrcError          Status = "frc_error"
	StatusSetOffsetSuccess  Status = "set_offset_success"
	StatusSetOffsetError    Status = "set_offset_error"
	StatusGetOffsetSuccess  Status = "get_offset_success"
	StatusGetOffsetError    Status = "get_offset_error"
	StatusAlive             Status = "alive"
)

// DeviceMessage is the envelope a sensor device publishes. Only messages with
// StatusSuccess carry a measurement; the rest are operational events that are
// logged but never enter the detection pipeline.
type DeviceMessage struct {
	Device string `json:"device"`
	Status Status `json:"status"`

	// Measurement fields, present when Status == StatusSuccess.
	CO2         *int     `json:"co2,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	Humidity    *float64 `json:"humidity,omitempty"`

	// Event fields used by the operational statuses.
	Detail        string   `json:"detail,omitempty"`
	TargetPPM     *int     `json:"target_ppm,omitempty"`
	Correction    *int     `json:"correction,omitempty"`
	Offset        *float64 `json:"offset,omitempty"`
	UptimeSeconds *uint64  `json:"uptime_seconds,omitempty"`
}

// DecodeDeviceMessage parses a device message envelope from its JSON wire
// form. It checks only structural validity; schema validation is a separate,
// stricter step (see Validator).
func DecodeDeviceMessage(data []byte) (*DeviceMessage, error) {
	var msg DeviceMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode device message: %w", err)
	}
	if msg.Device == "" {
		return nil, fmt.Errorf("decode device message: missing device")
	}
	if msg.Status == "" {
		return nil, fmt.Errorf("decode device message: missing status")
	}
	return &msg, nil
}

// AsMeasurement extracts the sensor reading from a success message, stamped
// with the given arrival time. Returns false for non-measurement statuses or
// success messages with missing fields.
func (m *DeviceMessage) AsMeasurement(at time.Time) (Measurement, bool) {
	if m.Status != StatusSuccess {
		return Measurement{}, false
	}
	if m.CO2 == nil || m.Temperature == nil || m.Humidity == nil {
		return Measurement{}, false
	}
	return Measurement{
		Time:        at,
		Temperature: *m.Temperature,
		Humidity:    *m.Humidity,
		CO2:         *m.CO2,
	}, true
}
