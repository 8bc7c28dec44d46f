// Package battery reads the host battery percentage and charging status.
package battery

import (
	"errors"
	"strings"
)

// ErrUnknown is returned when the percentage cannot be determined.
var ErrUnknown = errors.New("battery percentage unknown")

// Status is the OS-observed charging state.
type Status int

const (
	StatusUnknown Status = iota
	StatusCharging
	StatusDischarging
)

func (s Status) String() string {
	switch s {
	case StatusCharging:
		return "charging"
	case StatusDischarging:
		return "discharging"
	default:
		return "unknown"
	}
}

// Reader is the read-only battery sensor.
type Reader interface {
	// ReadPercent returns the charge level in 0..100, or ErrUnknown.
	ReadPercent() (int, error)
	// ReadStatus never fails; unreadable states are StatusUnknown.
	ReadStatus() Status
}

// parseStatus maps a status word as written by the kernel or reported by
// the platform. "Not charging" means plugged but held, which for a cut
// relay is the same as discharging.
func parseStatus(s string) Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "charging":
		return StatusCharging
	case "discharging", "not charging", "not_charging":
		return StatusDischarging
	default:
		return StatusUnknown
	}
}

// New returns the reader for source, "sysfs" or "system".
func New(source string) (Reader, error) {
	switch source {
	case "", "sysfs":
		return NewSysfs(SysfsRoot), nil
	case "system":
		return NewSystem(0), nil
	default:
		return nil, errors.New("unknown battery source " + source)
	}
}
