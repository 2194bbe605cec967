package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// HexUint32 is a 32-bit address that may be written as a plain integer or as
// a "0x" prefixed hex string.
type HexUint32 uint32

// UnmarshalYAML implements yaml.Unmarshaler.
func (h *HexUint32) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: address must be a scalar", value.Line)
	}
	v, err := ParseHexUint32(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*h = v
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (h HexUint32) MarshalYAML() (interface{}, error) {
	return h.String(), nil
}

func (h HexUint32) String() string {
	return fmt.Sprintf("0x%08x", uint32(h))
}

// ParseHexUint32 parses "0x10028", "0X10028" or "65576".
func ParseHexUint32(s string) (HexUint32, error) {
	s = strings.TrimSpace(s)
	base := 10
	digits := s
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		base, digits = 16, s[2:]
	}
	v, err := strconv.ParseUint(strings.ReplaceAll(digits, "_", ""), base, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q", s)
	}
	return HexUint32(v), nil
}

// Duration is a time.Duration written as a Go duration string ("500ms").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler. Bare integers are taken as
// milliseconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", value.Line)
	}
	if ms, err := strconv.ParseInt(value.Value, 10, 64); err == nil {
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}
	v, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q", value.Line, value.Value)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}
