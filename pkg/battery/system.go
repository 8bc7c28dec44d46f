package battery

import (
	"math"

	"github.com/distatus/battery"
	pkgerrors "github.com/pkg/errors"
)

// System reads a battery through the platform-neutral distatus/battery
// package.
type System struct {
	index int
	get   func(int) (*battery.Battery, error)
}

func NewSystem(index int) *System {
	return &System{index: index, get: battery.Get}
}

func (s *System) ReadPercent() (int, error) {
	b, err := s.get(s.index)
	if err != nil {
		return 0, pkgerrors.Wrapf(ErrUnknown, "get battery %d: %v", s.index, err)
	}
	if b.Full <= 0 {
		return 0, pkgerrors.Wrapf(ErrUnknown, "battery %d reports no full capacity", s.index)
	}
	p := int(math.Round(b.Current / b.Full * 100))
	if p > 100 {
		p = 100
	}
	if p < 0 {
		p = 0
	}
	return p, nil
}

func (s *System) ReadStatus() Status {
	b, err := s.get(s.index)
	if err != nil {
		return StatusUnknown
	}
	switch b.State {
	case battery.Charging:
		return StatusCharging
	case battery.Discharging:
		return StatusDischarging
	default:
		return StatusUnknown
	}
}
