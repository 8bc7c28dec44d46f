package config

import (
	"errors"
	"fmt"
)

// ErrInvalidRange is matched by every ConfigError.
var ErrInvalidRange = errors.New("value out of range")

// ConfigError reports a rejected configuration value.
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidRange
}

func invalid(field, format string, a ...any) error {
	return &ConfigError{Field: field, Msg: fmt.Sprintf(format, a...)}
}

const (
	MinChargeLimit      = 20
	MaxChargeLimit      = 100
	MinPollSeconds      = 1
	MaxPollSeconds      = 60
	MinTelemetrySeconds = 5
	MaxTelemetrySeconds = 300
)

// ValidateLimits checks a charge window: both ends in 20..100 and min < max.
func ValidateLimits(min, max int) error {
	if max < MinChargeLimit || max > MaxChargeLimit {
		return invalid("chargeMax", "%d is not between %d and %d", max, MinChargeLimit, MaxChargeLimit)
	}
	if min < MinChargeLimit || min > MaxChargeLimit {
		return invalid("chargeMin", "%d is not between %d and %d", min, MinChargeLimit, MaxChargeLimit)
	}
	if min >= max {
		return invalid("chargeMin", "%d must be below chargeMax %d", min, max)
	}
	return nil
}

// ValidatePDMode accepts 1 (half) and 2 (full).
func ValidatePDMode(mode int) error {
	if mode != 1 && mode != 2 {
		return invalid("pdMode", "%d is not 1 or 2", mode)
	}
	return nil
}

// ValidateTelemetrySeconds checks the slow loop period.
func ValidateTelemetrySeconds(s int) error {
	if s < MinTelemetrySeconds || s > MaxTelemetrySeconds {
		return invalid("telemetryInterval", "%d is not between %d and %d", s, MinTelemetrySeconds, MaxTelemetrySeconds)
	}
	return nil
}
