package engine

import (
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/freegie/freegie/pkg/protocol"
)

// SetOverride forces the relay on or off, or returns to the charge window.
// Forcing is only possible during charge control; Auto is always accepted
// and re-applies the window at once.
func (e *Engine) SetOverride(o Override) error {
	if o != OverrideAuto && o != OverrideForceOn && o != OverrideForceOff {
		return ErrInvalidOverride
	}

	e.ctlMu.Lock()
	defer e.ctlMu.Unlock()

	e.mu.Lock()
	sess, phase, prev := e.sess, e.phase, e.override
	if o == OverrideAuto {
		e.override = OverrideAuto
	}
	e.mu.Unlock()

	if o == OverrideAuto {
		e.publish()
		if prev != OverrideAuto {
			logrus.Info("override cleared")
		}
		if sess != nil && phase.controlling() {
			if percent, ok := e.readBattery(); ok {
				e.enforceLocked(sess.ctx, sess, percent)
			}
		}
		return nil
	}

	if sess == nil || !phase.controlling() {
		return pkgerrors.Wrapf(ErrNotControlling, "cannot force power while %s", phase)
	}
	if o == prev {
		return nil
	}

	on := o == OverrideForceOn
	to := PhasePaused
	if on {
		to = PhaseCharging
	}
	if err := e.controlPower(sess.ctx, sess, powerChange{on: on, to: to, override: o, reason: "override " + o.String()}); err != nil {
		return pkgerrors.Wrap(err, "apply override")
	}
	logrus.WithField("override", o).Info("override set")
	return nil
}

// SetLimits stores a new charge window and applies it at once.
func (e *Engine) SetLimits(min, max int) error {
	e.ctlMu.Lock()
	defer e.ctlMu.Unlock()

	if err := e.conf.SetChargeLimits(min, max); err != nil {
		return err
	}
	if err := e.conf.Save(); err != nil {
		logrus.WithError(err).Warn("failed to save config")
	}
	logrus.WithFields(logrus.Fields{"min": min, "max": max}).Info("charge limits set")
	e.publish()

	e.mu.RLock()
	sess, phase := e.sess, e.phase
	e.mu.RUnlock()
	if sess != nil && phase.controlling() {
		if percent, ok := e.readBattery(); ok {
			e.enforceLocked(sess.ctx, sess, percent)
		}
	}
	return nil
}

// SetPDMode stores the PD mode and sends it when connected. Power is
// restored afterwards while charging, as the firmware renegotiates.
func (e *Engine) SetPDMode(mode int) error {
	e.ctlMu.Lock()
	defer e.ctlMu.Unlock()

	if err := e.conf.SetPDMode(mode); err != nil {
		return err
	}
	if err := e.conf.Save(); err != nil {
		logrus.WithError(err).Warn("failed to save config")
	}
	e.publish()

	e.mu.RLock()
	sess, phase, override := e.sess, e.phase, e.override
	e.mu.RUnlock()
	if sess == nil || !phase.controlling() {
		return nil
	}
	if err := e.controlCommand(sess.ctx, sess, protocol.PDMode(mode)); err != nil {
		return pkgerrors.Wrap(err, "send PD mode")
	}
	logrus.WithField("mode", mode).Info("PD mode set")
	if phase == PhaseCharging {
		ch := powerChange{on: true, to: PhaseCharging, override: override, reason: "pd mode changed"}
		if err := e.controlPower(sess.ctx, sess, ch); err != nil {
			return pkgerrors.Wrap(err, "restore power after PD mode change")
		}
	}
	return nil
}

// SetTelemetryInterval stores the slow loop period in seconds (5 to 300).
// A running loop picks it up immediately.
func (e *Engine) SetTelemetryInterval(seconds int) error {
	if err := e.conf.SetTelemetryInterval(seconds); err != nil {
		return err
	}
	if err := e.conf.Save(); err != nil {
		logrus.WithError(err).Warn("failed to save config")
	}
	logrus.WithField("seconds", seconds).Info("telemetry interval set")

	e.mu.RLock()
	sess := e.sess
	e.mu.RUnlock()
	if sess != nil {
		sess.kickTelemetry()
	}
	e.publish()
	return nil
}
