package types

// Status is the engine snapshot published on every observable change.
type Status struct {
	Phase    string `json:"phase"`
	Override string `json:"override"`
	// Charging is the last power state confirmed by the accessory.
	Charging bool `json:"charging"`
	// BatteryPercent is nil while the OS reading is unknown.
	BatteryPercent *int   `json:"battery_percent"`
	BatteryStatus  string `json:"battery_status"`
	ChargeMin      int    `json:"charge_min"`
	ChargeMax      int    `json:"charge_max"`

	Telemetry *Telemetry  `json:"telemetry"`
	Device    *DeviceInfo `json:"device"`
	PDMode    int         `json:"pd_mode"`

	ReconnectAttempt int `json:"reconnect_attempt"`
	// ReconnectDelay is the wait before the next attempt, in seconds.
	ReconnectDelay    float64 `json:"reconnect_delay"`
	TelemetryInterval int     `json:"telemetry_interval"`
}

// PhaseChange is published when the engine changes phase.
type PhaseChange struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason,omitempty"`
	Ts     int64  `json:"ts"`
}
