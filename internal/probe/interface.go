package probe

import (
	"fmt"
	"strconv"
	"strings"
)

// Interface is the wire protocol between probe and target.
type Interface string

const (
	InterfaceSWD  Interface = "swd"
	InterfaceJTAG Interface = "jtag"
)

// ParseInterface parses "swd" or "jtag", case-insensitively.
func ParseInterface(s string) (Interface, error) {
	switch Interface(strings.ToLower(strings.TrimSpace(s))) {
	case InterfaceSWD:
		return InterfaceSWD, nil
	case InterfaceJTAG:
		return InterfaceJTAG, nil
	}
	return "", fmt.Errorf("unknown debug interface %q (expected swd or jtag)", s)
}

// SpeedMode selects how the adapter clock is chosen.
type SpeedMode int

const (
	// SpeedAuto lets the backend pick its default clock
	SpeedAuto SpeedMode = iota
	// SpeedAdaptive uses adaptive clocking (RTCK) where supported
	SpeedAdaptive
	// SpeedFixed uses a fixed clock in kHz
	SpeedFixed
)

// AutoSpeedKHz is the clock used when SpeedAuto is selected and the backend
// must choose a concrete value.
const AutoSpeedKHz = 4000

// Speed is the adapter clock configuration.
type Speed struct {
	Mode SpeedMode
	KHz  uint16
}

// KHz returns a fixed-clock Speed.
func KHz(khz uint16) Speed {
	return Speed{Mode: SpeedFixed, KHz: khz}
}

// ParseSpeed parses "auto", "adaptive" or a clock in kHz such as "4000".
func ParseSpeed(s string) (Speed, error) {
	switch v := strings.ToLower(strings.TrimSpace(s)); v {
	case "", "auto":
		return Speed{Mode: SpeedAuto}, nil
	case "adaptive", "rtck":
		return Speed{Mode: SpeedAdaptive}, nil
	default:
		v = strings.TrimSuffix(v, "khz")
		khz, err := strconv.ParseUint(strings.TrimSpace(v), 10, 16)
		if err != nil || khz == 0 {
			return Speed{}, fmt.Errorf("invalid adapter speed %q (expected auto, adaptive or a kHz value)", s)
		}
		return KHz(uint16(khz)), nil
	}
}

// EffectiveKHz returns the concrete clock to program, or 0 for adaptive
// clocking.
func (s Speed) EffectiveKHz() uint16 {
	switch s.Mode {
	case SpeedFixed:
		return s.KHz
	case SpeedAdaptive:
		return 0
	default:
		return AutoSpeedKHz
	}
}

func (s Speed) String() string {
	switch s.Mode {
	case SpeedFixed:
		return fmt.Sprintf("%d kHz", s.KHz)
	case SpeedAdaptive:
		return "adaptive"
	default:
		return "auto"
	}
}
