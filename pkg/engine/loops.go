package engine

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/freegie/freegie/pkg/config"
	"github.com/freegie/freegie/pkg/protocol"
)

func (e *Engine) pollInterval() time.Duration {
	if e.timings.PollInterval > 0 {
		return e.timings.PollInterval
	}
	return e.conf.PollInterval()
}

func (e *Engine) telemetryInterval() time.Duration {
	if e.timings.TelemetryInterval > 0 {
		return e.timings.TelemetryInterval
	}
	return e.conf.TelemetryInterval()
}

// fastLoop reads the battery and enforces the charge window. It talks to
// the accessory only when a threshold is crossed.
func (e *Engine) fastLoop(ctx context.Context, sess *session) {
	interval := e.pollInterval()
	logrus.WithField("interval", interval).Debug("fast loop started")
	defer logrus.Debug("fast loop stopped")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if percent, ok := e.readBattery(); ok {
			e.enforceLimit(ctx, sess, percent)
		}
		e.fastTicks.Add(1)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// readBattery refreshes the battery fields of the snapshot.
func (e *Engine) readBattery() (int, bool) {
	percent, err := e.battery.ReadPercent()
	status := e.battery.ReadStatus()

	e.mu.Lock()
	e.batteryStatus = status
	e.percentKnown = err == nil
	if err == nil {
		e.percent = percent
	}
	e.mu.Unlock()
	e.publish()

	if err != nil {
		logrus.WithError(err).Debug("battery percentage unavailable")
		return 0, false
	}
	e.metrics.SetBatteryPercent(percent)
	return percent, true
}

func (e *Engine) enforceLimit(ctx context.Context, sess *session, percent int) {
	e.ctlMu.Lock()
	defer e.ctlMu.Unlock()
	e.enforceLocked(ctx, sess, percent)
}

// enforceLocked applies the charge window to percent. The caller holds
// ctlMu.
func (e *Engine) enforceLocked(ctx context.Context, sess *session, percent int) {
	if ctx.Err() != nil {
		return
	}
	e.mu.RLock()
	current := e.sess == sess
	phase, override, powered := e.phase, e.override, e.powerOn
	e.mu.RUnlock()
	if !current || override != OverrideAuto || !phase.controlling() {
		return
	}

	// Limits can change while the loops run.
	min, max := e.conf.ChargeMin(), e.conf.ChargeMax()
	if err := config.ValidateLimits(min, max); err != nil {
		logrus.WithError(err).Error("charge limits invalid, not enforcing")
		return
	}

	fields := logrus.Fields{"percent": percent, "min": min, "max": max}
	switch {
	case phase == PhaseCharging && percent >= max:
		logrus.WithFields(fields).Info("charge limit reached, cutting power")
		_ = e.controlPower(ctx, sess, powerChange{on: false, to: PhasePaused, reason: "limit reached"})
	case phase == PhasePaused && percent <= min:
		logrus.WithFields(fields).Info("battery at lower limit, restoring power")
		_ = e.controlPower(ctx, sess, powerChange{on: true, to: PhaseCharging, reason: "lower limit reached"})
	case phase == PhaseCharging && !powered:
		logrus.WithFields(fields).Warn("charging with power off, restoring power")
		_ = e.controlPower(ctx, sess, powerChange{on: true, to: PhaseCharging, reason: "power restored"})
	}
}

// slowLoop polls telemetry. Failures are logged and never change the
// phase. A kick restarts the wait with the current interval.
func (e *Engine) slowLoop(ctx context.Context, sess *session) {
	logrus.Debug("slow loop started")
	defer logrus.Debug("slow loop stopped")

	for {
		if _, err := e.pollTelemetry(ctx); err != nil && ctx.Err() == nil {
			logrus.WithError(err).Warn("telemetry poll failed")
		}
		if !e.waitTelemetry(ctx, sess) {
			return
		}
	}
}

func (e *Engine) waitTelemetry(ctx context.Context, sess *session) bool {
	for {
		timer := time.NewTimer(e.telemetryInterval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-sess.kick:
			timer.Stop()
		case <-timer.C:
			return true
		}
	}
}

func (e *Engine) pollTelemetry(ctx context.Context) (protocol.Telemetry, error) {
	resp, err := e.link.Send(ctx, protocol.Stat, e.timings.CommandTimeout)
	if err != nil {
		return protocol.Telemetry{}, err
	}
	t, err := protocol.ParseTelemetry(resp)
	if err != nil {
		return protocol.Telemetry{}, err
	}
	t.SampledAt = time.Now()

	e.mu.Lock()
	e.telemetry = &t
	e.mu.Unlock()
	e.history.Add(t)
	e.metrics.SetTelemetry(t.Volts, t.Amps, t.Watts())
	e.publish()

	logrus.WithFields(logrus.Fields{
		"volts": t.Volts,
		"amps":  t.Amps,
		"watts": t.Watts(),
	}).Debug("telemetry")
	return t, nil
}

// PollTelemetry reads telemetry once, outside the slow loop schedule.
func (e *Engine) PollTelemetry() (protocol.Telemetry, error) {
	e.mu.RLock()
	sess, phase := e.sess, e.phase
	e.mu.RUnlock()
	if sess == nil || !phase.controlling() {
		return protocol.Telemetry{}, ErrNotControlling
	}
	return e.pollTelemetry(sess.ctx)
}
