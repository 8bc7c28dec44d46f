package types

// Capabilities are the feature bits reported by the accessory.
type Capabilities struct {
	Raw  uint64 `json:"raw"`
	PD   bool   `json:"pd"`
	FET2 bool   `json:"fet2"`
	Auto bool   `json:"auto"`
}

// DeviceInfo describes the connected accessory.
type DeviceInfo struct {
	Address      string       `json:"address"`
	Name         string       `json:"name,omitempty"`
	Firmware     string       `json:"firmware,omitempty"`
	Hardware     string       `json:"hardware,omitempty"`
	Capabilities Capabilities `json:"capabilities"`
	PDStatus     string       `json:"pd_status,omitempty"`
}
