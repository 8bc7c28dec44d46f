package protocol

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Capability bits reported by AT+CAPA?.
const (
	CapaBitPD   = 0 // USB Power Delivery
	CapaBitFET2 = 1 // second FET (dual-channel)
	CapaBitAuto = 2 // auto mode
)

// Capabilities is the decoded CAPA bitmask. Unknown bits are kept in Raw
// and otherwise ignored.
type Capabilities struct {
	Raw  uint64
	PD   bool
	FET2 bool
	Auto bool
}

// Telemetry is one STAT reading.
type Telemetry struct {
	Volts     float64
	Amps      float64
	SampledAt time.Time
}

// Watts is Volts × Amps rounded to two decimals.
func (t Telemetry) Watts() float64 {
	return math.Round(t.Volts*t.Amps*100) / 100
}

func expectKey(r Response, key string) error {
	if r.Key != key {
		return unexpectedKey(r.Raw, key, r.Key)
	}
	return nil
}

// ParseTelemetry decodes a STAT payload of the form <volts>/<amps>.
func ParseTelemetry(r Response) (Telemetry, error) {
	if err := expectKey(r, "STAT"); err != nil {
		return Telemetry{}, err
	}

	voltsStr, ampsStr, ok := strings.Cut(r.Value, "/")
	if !ok {
		return Telemetry{}, malformed(r.Raw, "bad STAT payload %q", r.Value)
	}
	volts, err := strconv.ParseFloat(strings.TrimSpace(voltsStr), 64)
	if err != nil {
		return Telemetry{}, malformed(r.Raw, "bad STAT volts %q", voltsStr)
	}
	amps, err := strconv.ParseFloat(strings.TrimSpace(ampsStr), 64)
	if err != nil {
		return Telemetry{}, malformed(r.Raw, "bad STAT amps %q", ampsStr)
	}
	if math.IsNaN(volts) || math.IsNaN(amps) || math.IsInf(volts, 0) || math.IsInf(amps, 0) {
		return Telemetry{}, malformed(r.Raw, "non-finite STAT payload %q", r.Value)
	}

	return Telemetry{Volts: volts, Amps: amps}, nil
}

// ParseCapabilities decodes the decimal CAPA bitmask.
func ParseCapabilities(r Response) (Capabilities, error) {
	if err := expectKey(r, "CAPA"); err != nil {
		return Capabilities{}, err
	}

	mask, err := strconv.ParseUint(strings.TrimSpace(r.Value), 10, 64)
	if err != nil {
		return Capabilities{}, malformed(r.Raw, "bad CAPA payload %q", r.Value)
	}

	return Capabilities{
		Raw:  mask,
		PD:   mask&(1<<CapaBitPD) != 0,
		FET2: mask&(1<<CapaBitFET2) != 0,
		Auto: mask&(1<<CapaBitAuto) != 0,
	}, nil
}

// ParseFirmware returns the FWVR value.
func ParseFirmware(r Response) (string, error) {
	if err := expectKey(r, "FWVR"); err != nil {
		return "", err
	}
	return r.Value, nil
}

// ParseHardware returns the HWVR value.
func ParseHardware(r Response) (string, error) {
	if err := expectKey(r, "HWVR"); err != nil {
		return "", err
	}
	return r.Value, nil
}

// ParsePDStatus returns the ISPD value as reported.
func ParsePDStatus(r Response) (string, error) {
	if err := expectKey(r, "ISPD"); err != nil {
		return "", err
	}
	return r.Value, nil
}

// ParsePowerState decodes a PIO2 response: true when power flows.
func ParsePowerState(r Response) (bool, error) {
	if err := expectKey(r, "PIO2"); err != nil {
		return false, err
	}
	switch r.Value {
	case "1":
		return true, nil
	case "0":
		return false, nil
	default:
		return false, malformed(r.Raw, "bad PIO2 payload %q", r.Value)
	}
}
