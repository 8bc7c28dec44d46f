package config

import "time"

// Reconnect is the backoff policy applied after an unexpected link loss.
// MaxAttempts 0 means unlimited.
type Reconnect struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	MaxAttempts  int
}

type Config interface {
	ChargeMax() int
	ChargeMin() int
	PDMode() int
	PollInterval() time.Duration
	TelemetryInterval() time.Duration
	AutoReconnect() bool
	Reconnect() Reconnect
	DeviceAddress() string
	NamePrefix() string
	Adapter() string
	BatterySource() string
	VerifyChargingState() bool
	RestorePowerOnStop() bool
	AutoStart() bool
	Listen() string
	AllowNonRootAccess() bool

	// SetChargeLimits sets both ends of the window at once so that the
	// min < max check sees the final pair.
	SetChargeLimits(min, max int) error
	SetPDMode(int) error
	SetTelemetryInterval(seconds int) error
	SetAutoReconnect(bool)
	SetDeviceAddress(string)
	SetAllowNonRootAccess(bool)

	// Load reads the configuration from the source.
	Load() error
	// Save saves the configuration to the source.
	Save() error
}
