package engine

import (
	"strings"

	pkgerrors "github.com/pkg/errors"
)

// Phase is the position of the engine in its control state machine.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseScanning
	PhaseConnecting
	PhaseVerifying
	PhaseCharging
	PhasePaused
	PhaseDisconnected
	PhaseReconnecting
)

var phaseNames = map[Phase]string{
	PhaseIdle:         "idle",
	PhaseScanning:     "scanning",
	PhaseConnecting:   "connecting",
	PhaseVerifying:    "verifying",
	PhaseCharging:     "charging",
	PhasePaused:       "paused",
	PhaseDisconnected: "disconnected",
	PhaseReconnecting: "reconnecting",
}

// AllPhases lists every phase in declaration order.
var AllPhases = []Phase{
	PhaseIdle, PhaseScanning, PhaseConnecting, PhaseVerifying,
	PhaseCharging, PhasePaused, PhaseDisconnected, PhaseReconnecting,
}

func (p Phase) String() string {
	if s, ok := phaseNames[p]; ok {
		return s
	}
	return "unknown"
}

// ParsePhase accepts the names returned by String. "controlling" is an
// older name for charging.
func ParsePhase(s string) (Phase, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "controlling" {
		return PhaseCharging, nil
	}
	for p, name := range phaseNames {
		if name == s {
			return p, nil
		}
	}
	return PhaseIdle, pkgerrors.Errorf("unknown phase %q", s)
}

// controlling reports whether the charge loops run in p.
func (p Phase) controlling() bool {
	return p == PhaseCharging || p == PhasePaused
}

// transitions lists the allowed successors of each phase. Any phase may
// also return to idle on stop.
var transitions = map[Phase][]Phase{
	PhaseIdle:         {PhaseScanning},
	PhaseScanning:     {PhaseConnecting},
	PhaseConnecting:   {PhaseVerifying},
	PhaseVerifying:    {PhaseCharging},
	PhaseCharging:     {PhasePaused, PhaseDisconnected},
	PhasePaused:       {PhaseCharging, PhaseDisconnected},
	PhaseDisconnected: {PhaseReconnecting},
	PhaseReconnecting: {PhaseCharging},
}

func canTransition(from, to Phase) bool {
	if to == PhaseIdle || from == to {
		return true
	}
	for _, p := range transitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

// Override forces the relay regardless of the charge window.
type Override int

const (
	OverrideAuto Override = iota
	OverrideForceOn
	OverrideForceOff
)

func (o Override) String() string {
	switch o {
	case OverrideForceOn:
		return "on"
	case OverrideForceOff:
		return "off"
	default:
		return "auto"
	}
}

// ParseOverride accepts "auto", "on"/"force_on" and "off"/"force_off".
func ParseOverride(s string) (Override, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "auto":
		return OverrideAuto, nil
	case "on", "force_on", "forceon":
		return OverrideForceOn, nil
	case "off", "force_off", "forceoff":
		return OverrideForceOff, nil
	}
	return OverrideAuto, pkgerrors.Wrapf(ErrInvalidOverride, "%q", s)
}
