package link

import (
	"context"
	"strings"
)

// Advertisement is one discovery result reported by the platform.
type Advertisement struct {
	Address      string
	Name         string
	ServiceUUIDs []string
	RSSI         int16
}

// Target identifies the accessory to connect to.
type Target struct {
	Address string
	Name    string
}

// Transport is the platform wireless capability: it can discover devices
// and open a connection to one of them.
type Transport interface {
	// Scan reports advertisements until ctx is done, then closes the channel.
	Scan(ctx context.Context) (<-chan Advertisement, error)
	// Connect opens the link and subscribes to notifications. It must
	// honour ctx cancellation and deadline.
	Connect(ctx context.Context, address string) (Conn, error)
}

// Conn is one established link.
type Conn interface {
	// Write sends one frame to the device.
	Write(ctx context.Context, frame []byte) error
	// Notifications delivers every frame pushed by the device.
	Notifications() <-chan []byte
	// Done is closed when the platform reports the link gone.
	Done() <-chan struct{}
	// Close releases the link. It is safe to call more than once.
	Close() error
}

// ScanFilter selects which advertisements are accepted by Channel.Scan.
type ScanFilter struct {
	// ServiceUUIDs are matched during the primary pass.
	ServiceUUIDs []string
	// NamePrefix is matched after the primary window has elapsed.
	NamePrefix string
	// Address, when set, is accepted in either pass regardless of the rest.
	Address string
}

func (f ScanFilter) matchesService(adv Advertisement) bool {
	for _, want := range f.ServiceUUIDs {
		for _, got := range adv.ServiceUUIDs {
			if strings.EqualFold(want, got) {
				return true
			}
		}
	}
	return false
}

func (f ScanFilter) matchesName(adv Advertisement) bool {
	return f.NamePrefix != "" && adv.Name != "" && strings.HasPrefix(adv.Name, f.NamePrefix)
}

func (f ScanFilter) matchesAddress(adv Advertisement) bool {
	return f.Address != "" && strings.EqualFold(f.Address, adv.Address)
}

// match reports whether adv is accepted. fallback enables the name pass.
func (f ScanFilter) match(adv Advertisement, fallback bool) bool {
	if f.Address != "" {
		return f.matchesAddress(adv)
	}
	if f.matchesService(adv) {
		return true
	}
	return fallback && f.matchesName(adv)
}
