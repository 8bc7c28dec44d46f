package config

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/freegie/freegie/pkg/utils/ptr"
)

// DefaultPath is where the daemon keeps its configuration.
const DefaultPath = "/etc/freegie.json"

var (
	defaultFileConfig = &RawFileConfig{
		ChargeMax:             ptr.To(80),
		ChargeMin:             ptr.To(75),
		PDMode:                ptr.To(2),
		PollInterval:          ptr.To(3),
		TelemetryInterval:     ptr.To(30),
		AutoReconnect:         ptr.To(true),
		ReconnectInitialDelay: &Duration{2 * time.Second},
		ReconnectMultiplier:   ptr.To(2.0),
		ReconnectMaxDelay:     &Duration{60 * time.Second},
		ReconnectMaxAttempts:  ptr.To(0),
		DeviceAddress:         ptr.To(""),
		NamePrefix:            ptr.To("Chargie"),
		Adapter:               ptr.To("hci0"),
		BatterySource:         ptr.To("sysfs"),
		// Some laptops report "Full" or keep "Charging" while the relay is
		// cut near 100%. Users with such firmware can turn the check off.
		VerifyChargingState: ptr.To(true),
		RestorePowerOnStop:  ptr.To(true),
		AutoStart:           ptr.To(true),
		Listen:              ptr.To(""),
		AllowNonRootAccess:  ptr.To(false),
	}
)

var _ Config = &File{}

type File struct {
	c        *RawFileConfig
	mu       *sync.RWMutex
	filepath string
}

// NewFile loads configPath. A missing or empty file yields the defaults.
func NewFile(configPath string) (*File, error) {
	f := &File{
		filepath: configPath,
		mu:       &sync.RWMutex{},
	}
	err := f.Load()
	if err != nil {
		return nil, err
	}

	return f, nil
}

// NewFileFromConfig wraps c without reading anything. An empty configPath
// keeps the config in memory only.
func NewFileFromConfig(c *RawFileConfig, configPath string) *File {
	if c == nil {
		c = &RawFileConfig{}
	}

	return &File{
		c:        c,
		mu:       &sync.RWMutex{},
		filepath: configPath,
	}
}

type RawFileConfig struct {
	ChargeMax             *int      `json:"chargeMax,omitempty"`
	ChargeMin             *int      `json:"chargeMin,omitempty"`
	PDMode                *int      `json:"pdMode,omitempty"`
	PollInterval          *int      `json:"pollInterval,omitempty"`
	TelemetryInterval     *int      `json:"telemetryInterval,omitempty"`
	AutoReconnect         *bool     `json:"autoReconnect,omitempty"`
	ReconnectInitialDelay *Duration `json:"reconnectInitialDelay,omitempty"`
	ReconnectMultiplier   *float64  `json:"reconnectMultiplier,omitempty"`
	ReconnectMaxDelay     *Duration `json:"reconnectMaxDelay,omitempty"`
	ReconnectMaxAttempts  *int      `json:"reconnectMaxAttempts,omitempty"`
	DeviceAddress         *string   `json:"deviceAddress,omitempty"`
	NamePrefix            *string   `json:"namePrefix,omitempty"`
	Adapter               *string   `json:"adapter,omitempty"`
	BatterySource         *string   `json:"batterySource,omitempty"`
	VerifyChargingState   *bool     `json:"verifyChargingState,omitempty"`
	RestorePowerOnStop    *bool     `json:"restorePowerOnStop,omitempty"`
	AutoStart             *bool     `json:"autoStart,omitempty"`
	Listen                *string   `json:"listen,omitempty"`
	AllowNonRootAccess    *bool     `json:"allowNonRootAccess,omitempty"`
}

// NewRawFileConfigFromConfig resolves every value of c, defaults included.
func NewRawFileConfigFromConfig(c Config) (*RawFileConfig, error) {
	if c == nil {
		return nil, pkgerrors.New("config is nil")
	}

	r := c.Reconnect()
	return &RawFileConfig{
		ChargeMax:             ptr.To(c.ChargeMax()),
		ChargeMin:             ptr.To(c.ChargeMin()),
		PDMode:                ptr.To(c.PDMode()),
		PollInterval:          ptr.To(int(c.PollInterval() / time.Second)),
		TelemetryInterval:     ptr.To(int(c.TelemetryInterval() / time.Second)),
		AutoReconnect:         ptr.To(c.AutoReconnect()),
		ReconnectInitialDelay: &Duration{r.InitialDelay},
		ReconnectMultiplier:   ptr.To(r.Multiplier),
		ReconnectMaxDelay:     &Duration{r.MaxDelay},
		ReconnectMaxAttempts:  ptr.To(r.MaxAttempts),
		DeviceAddress:         ptr.To(c.DeviceAddress()),
		NamePrefix:            ptr.To(c.NamePrefix()),
		Adapter:               ptr.To(c.Adapter()),
		BatterySource:         ptr.To(c.BatterySource()),
		VerifyChargingState:   ptr.To(c.VerifyChargingState()),
		RestorePowerOnStop:    ptr.To(c.RestorePowerOnStop()),
		AutoStart:             ptr.To(c.AutoStart()),
		Listen:                ptr.To(c.Listen()),
		AllowNonRootAccess:    ptr.To(c.AllowNonRootAccess()),
	}, nil
}

// value returns the field chosen by pick, or its default when unset.
func value[T any](f *File, pick func(*RawFileConfig) *T) T {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.c == nil {
		panic("config is nil")
	}
	if v := pick(f.c); v != nil {
		return *v
	}
	return *pick(defaultFileConfig)
}

func (f *File) ChargeMax() int {
	return value(f, func(c *RawFileConfig) *int { return c.ChargeMax })
}

func (f *File) ChargeMin() int {
	return value(f, func(c *RawFileConfig) *int { return c.ChargeMin })
}

func (f *File) PDMode() int {
	return value(f, func(c *RawFileConfig) *int { return c.PDMode })
}

func (f *File) PollInterval() time.Duration {
	s := value(f, func(c *RawFileConfig) *int { return c.PollInterval })
	return time.Duration(s) * time.Second
}

func (f *File) TelemetryInterval() time.Duration {
	s := value(f, func(c *RawFileConfig) *int { return c.TelemetryInterval })
	return time.Duration(s) * time.Second
}

func (f *File) AutoReconnect() bool {
	return value(f, func(c *RawFileConfig) *bool { return c.AutoReconnect })
}

func (f *File) Reconnect() Reconnect {
	return Reconnect{
		InitialDelay: value(f, func(c *RawFileConfig) *Duration { return c.ReconnectInitialDelay }).Duration,
		Multiplier:   value(f, func(c *RawFileConfig) *float64 { return c.ReconnectMultiplier }),
		MaxDelay:     value(f, func(c *RawFileConfig) *Duration { return c.ReconnectMaxDelay }).Duration,
		MaxAttempts:  value(f, func(c *RawFileConfig) *int { return c.ReconnectMaxAttempts }),
	}
}

func (f *File) DeviceAddress() string {
	return value(f, func(c *RawFileConfig) *string { return c.DeviceAddress })
}

func (f *File) NamePrefix() string {
	return value(f, func(c *RawFileConfig) *string { return c.NamePrefix })
}

func (f *File) Adapter() string {
	return value(f, func(c *RawFileConfig) *string { return c.Adapter })
}

func (f *File) BatterySource() string {
	return value(f, func(c *RawFileConfig) *string { return c.BatterySource })
}

func (f *File) VerifyChargingState() bool {
	return value(f, func(c *RawFileConfig) *bool { return c.VerifyChargingState })
}

func (f *File) RestorePowerOnStop() bool {
	return value(f, func(c *RawFileConfig) *bool { return c.RestorePowerOnStop })
}

func (f *File) AutoStart() bool {
	return value(f, func(c *RawFileConfig) *bool { return c.AutoStart })
}

func (f *File) Listen() string {
	return value(f, func(c *RawFileConfig) *string { return c.Listen })
}

func (f *File) AllowNonRootAccess() bool {
	return value(f, func(c *RawFileConfig) *bool { return c.AllowNonRootAccess })
}

func (f *File) SetChargeLimits(min, max int) error {
	if err := ValidateLimits(min, max); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.ChargeMin = &min
	f.c.ChargeMax = &max
	return nil
}

func (f *File) SetPDMode(mode int) error {
	if err := ValidatePDMode(mode); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.PDMode = &mode
	return nil
}

func (f *File) SetTelemetryInterval(seconds int) error {
	if err := ValidateTelemetrySeconds(seconds); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.TelemetryInterval = &seconds
	return nil
}

func (f *File) SetAutoReconnect(b bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.AutoReconnect = &b
}

func (f *File) SetDeviceAddress(addr string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.DeviceAddress = &addr
}

func (f *File) SetAllowNonRootAccess(b bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.AllowNonRootAccess = &b
}

// Validate checks every set field of c against its range.
func (c *RawFileConfig) Validate() error {
	merged := *defaultFileConfig
	if c.ChargeMax != nil {
		merged.ChargeMax = c.ChargeMax
	}
	if c.ChargeMin != nil {
		merged.ChargeMin = c.ChargeMin
	}
	if err := ValidateLimits(*merged.ChargeMin, *merged.ChargeMax); err != nil {
		return err
	}
	if c.PDMode != nil {
		if err := ValidatePDMode(*c.PDMode); err != nil {
			return err
		}
	}
	if c.PollInterval != nil && (*c.PollInterval < MinPollSeconds || *c.PollInterval > MaxPollSeconds) {
		return invalid("pollInterval", "%d is not between %d and %d", *c.PollInterval, MinPollSeconds, MaxPollSeconds)
	}
	if c.TelemetryInterval != nil {
		if err := ValidateTelemetrySeconds(*c.TelemetryInterval); err != nil {
			return err
		}
	}

	initial := defaultFileConfig.ReconnectInitialDelay.Duration
	if c.ReconnectInitialDelay != nil {
		initial = c.ReconnectInitialDelay.Duration
		if initial <= 0 {
			return invalid("reconnectInitialDelay", "%s must be positive", initial)
		}
	}
	if c.ReconnectMultiplier != nil && *c.ReconnectMultiplier < 1 {
		return invalid("reconnectMultiplier", "%g must be at least 1", *c.ReconnectMultiplier)
	}
	if c.ReconnectMaxDelay != nil && c.ReconnectMaxDelay.Duration < initial {
		return invalid("reconnectMaxDelay", "%s is below the initial delay %s", c.ReconnectMaxDelay.Duration, initial)
	}
	if c.ReconnectMaxAttempts != nil && *c.ReconnectMaxAttempts < 0 {
		return invalid("reconnectMaxAttempts", "%d is negative", *c.ReconnectMaxAttempts)
	}
	if c.BatterySource != nil && *c.BatterySource != "sysfs" && *c.BatterySource != "system" {
		return invalid("batterySource", "%q is not sysfs or system", *c.BatterySource)
	}
	return nil
}

func (f *File) Load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.filepath == "" {
		if f.c == nil {
			f.c = &RawFileConfig{}
		}
		return nil
	}

	fp, err := os.Open(f.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			// If the file does not exist, return the empty config.
			// Do not make f.c a nil.
			f.c = &RawFileConfig{}
			return nil
		}
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	// Since we want to tell if the file is empty, using json.Decoder will
	// not work.
	b, err := io.ReadAll(fp)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to read file %s", f.filepath)
	}

	if strings.TrimSpace(string(b)) == "" {
		f.c = &RawFileConfig{}
		return nil
	}

	conf := RawFileConfig{}
	err = json.Unmarshal(b, &conf)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to unmarshal config from file %s", f.filepath)
	}
	if err := conf.Validate(); err != nil {
		return pkgerrors.Wrapf(err, "config file %s", f.filepath)
	}
	f.c = &conf

	return nil
}

// Save writes the config. It is a no-op for an in-memory config.
func (f *File) Save() error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.c == nil {
		return pkgerrors.New("config is nil")
	}
	if f.filepath == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(f.filepath), 0755); err != nil {
		return pkgerrors.Wrapf(err, "failed to create directory for %s", f.filepath)
	}
	fp, err := os.OpenFile(f.filepath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	enc := json.NewEncoder(fp)
	enc.SetIndent("", "  ")
	err = enc.Encode(f.c)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to encode config to file %s", f.filepath)
	}

	return nil
}

func (f *File) LogrusFields() logrus.Fields {
	r := f.Reconnect()
	return logrus.Fields{
		"chargeMax":           f.ChargeMax(),
		"chargeMin":           f.ChargeMin(),
		"pdMode":              f.PDMode(),
		"pollInterval":        f.PollInterval(),
		"telemetryInterval":   f.TelemetryInterval(),
		"autoReconnect":       f.AutoReconnect(),
		"reconnectInitial":    r.InitialDelay,
		"reconnectMax":        r.MaxDelay,
		"reconnectAttempts":   r.MaxAttempts,
		"deviceAddress":       f.DeviceAddress(),
		"adapter":             f.Adapter(),
		"batterySource":       f.BatterySource(),
		"verifyChargingState": f.VerifyChargingState(),
		"allowNonRootAccess":  f.AllowNonRootAccess(),
	}
}
