package measurement

import (
	"encoding/json"
	"fmt"
)

// DefaultFRCTargetPPM is the outdoor-air CO2 reference used when no target
// is given for forced recalibration.
const DefaultFRCTargetPPM = 422

// DeviceCommand is a command published to a sensor device. The wire format
// is a JSON object tagged by the "cmd" field.
type DeviceCommand struct {
	Cmd       string   `json:"cmd"`
	TargetPPM *int     `json:"target_ppm,omitempty"`
	Offset    *float64 `json:"offset,omitempty"`
}

// NoOpCommand builds a no-op command, useful for connectivity checks.
func NoOpCommand() DeviceCommand {
	return DeviceCommand{Cmd: "noop"}
}

// StartFRCCommand builds a forced recalibration command. A zero or negative
// target falls back to the outdoor-air default.
func StartFRCCommand(targetPPM int) DeviceCommand {
	if targetPPM <= 0 {
		targetPPM = DefaultFRCTargetPPM
	}
	return DeviceCommand{Cmd: "start_frc", TargetPPM: &targetPPM}
}

// SetTempOffsetCommand builds a temperature offset update command.
func SetTempOffsetCommand(offset float64) DeviceCommand {
	return DeviceCommand{Cmd: "set_temp_offset", Offset: &offset}
}

// GetTempOffsetCommand builds a temperature offset query command.
func GetTempOffsetCommand() DeviceCommand {
	return DeviceCommand{Cmd: "get_temp_offset"}
}

// Encode serializes the command for publishing.
func (c DeviceCommand) Encode() ([]byte, error) {
	if c.Cmd == "" {
		return nil, fmt.Errorf("encode command: cmd must not be empty")
	}
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode command: %w", err)
	}
	return data, nil
}
