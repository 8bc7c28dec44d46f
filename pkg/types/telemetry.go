package types

import "time"

// Telemetry is one accessory power sample.
// This struct is shared between the daemon and client packages.
type Telemetry struct {
	Volts     float64   `json:"volts"`
	Amps      float64   `json:"amps"`
	Watts     float64   `json:"watts"`
	SampledAt time.Time `json:"sampled_at"`
}
