package measurement

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// deviceMessageSchema is the JSON Schema every inbound sensor-topic payload
// must satisfy before it is decoded. It rejects malformed or truncated
// payloads early so the pipeline only ever sees well-formed envelopes.
const deviceMessageSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "sunwatch/device-message-v1.schema.json",
  "type": "object",
  "required": ["device", "status"],
  "properties": {
    "device": {"type": "string", "minLength": 1},
    "status": {
      "type": "string",
      "enum": [
        "success", "error",
        "frc_start", "frc_warmup_complete", "frc_calibrating",
        "frc_success", "frc_error",
        "set_offset_success", "set_offset_error",
        "get_offset_success", "get_offset_error",
        "alive"
      ]
    },
    "co2": {"type": "integer", "minimum": 0, "maximum": 65535},
    "temperature": {"type": "number", "minimum": -60, "maximum": 120},
    "humidity": {"type": "number", "minimum": 0, "maximum": 100},
    "detail": {"type": "string"},
    "target_ppm": {"type": "integer", "minimum": 0},
    "correction": {"type": "integer"},
    "offset": {"type": "number"},
    "uptime_seconds": {"type": "integer", "minimum": 0}
  },
  "if": {"properties": {"status": {"const": "success"}}},
  "then": {"required": ["co2", "temperature", "humidity"]}
}`

// Validator checks raw device payloads against the message schema.
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles the device message schema.
func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("device-message-v1.schema.json",
		strings.NewReader(deviceMessageSchema)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile("device-message-v1.schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// Validate reports whether raw is a well-formed device message payload.
func (v *Validator) Validate(raw []byte) error {
	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return fmt.Errorf("payload is not valid JSON: %w", err)
	}
	if err := v.schema.Validate(instance); err != nil {
		return fmt.Errorf("payload failed schema validation: %w", err)
	}
	return nil
}
