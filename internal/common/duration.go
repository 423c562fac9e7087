package common

import (
	"fmt"
	"time"

	"github.com/invopop/jsonschema"
)

// Duration is a time.Duration read from and written as text such as "1m" or "30s".
type Duration struct {
	time.Duration
}

// NewDuration wraps duration.
func NewDuration(duration time.Duration) Duration {
	return Duration{duration}
}

// UnmarshalText unmarshalls time duration from text.
func (d *Duration) UnmarshalText(data []byte) error {
	duration, err := time.ParseDuration(string(data))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(data), err)
	}
	d.Duration = duration
	return nil
}

// MarshalText marshals time duration to text.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// JSONSchema returns a custom schema to be used for the JSON Schema generation of this type
func (Duration) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "string",
		Title:       "Duration",
		Description: "Duration expressed in units: [ns, us, ms, s, m, h]",
		Examples:    []any{"1m", "30s", "500ms"},
	}
}
