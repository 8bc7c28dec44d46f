package engine

import (
	"reflect"

	"github.com/freegie/freegie/pkg/events"
	"github.com/freegie/freegie/pkg/types"
)

// Status returns the current snapshot.
func (e *Engine) Status() types.Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.statusLocked()
}

func (e *Engine) statusLocked() types.Status {
	st := types.Status{
		Phase:             e.phase.String(),
		Override:          e.override.String(),
		Charging:          e.powerOn,
		BatteryStatus:     e.batteryStatus.String(),
		ChargeMin:         e.conf.ChargeMin(),
		ChargeMax:         e.conf.ChargeMax(),
		PDMode:            e.conf.PDMode(),
		ReconnectAttempt:  e.reconnectAttempt,
		ReconnectDelay:    e.reconnectDelay.Seconds(),
		TelemetryInterval: int(e.telemetryInterval().Seconds()),
	}
	if e.percentKnown {
		p := e.percent
		st.BatteryPercent = &p
	}
	if e.telemetry != nil {
		st.Telemetry = &types.Telemetry{
			Volts:     e.telemetry.Volts,
			Amps:      e.telemetry.Amps,
			Watts:     e.telemetry.Watts(),
			SampledAt: e.telemetry.SampledAt,
		}
	}
	if e.device != nil {
		d := *e.device
		st.Device = &d
	}
	return st
}

// publish sends pending phase changes, then the snapshot if it differs from
// the last one sent.
func (e *Engine) publish() {
	e.pubMu.Lock()
	defer e.pubMu.Unlock()

	e.mu.Lock()
	changes := e.pendingPhase
	e.pendingPhase = nil
	st := e.statusLocked()
	e.mu.Unlock()

	if e.notifier == nil {
		return
	}
	for _, c := range changes {
		e.notifier.Publish(events.PhaseChange, c)
	}
	if e.lastStatus != nil && reflect.DeepEqual(*e.lastStatus, st) {
		return
	}
	e.lastStatus = &st
	e.notifier.Publish(events.StatusUpdate, st)
}
