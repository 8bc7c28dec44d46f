package engine

import (
	"context"
	"errors"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/freegie/freegie/pkg/battery"
	"github.com/freegie/freegie/pkg/link"
	"github.com/freegie/freegie/pkg/protocol"
)

// sendPower sends one power command and checks that the accessory reports
// the requested state. It does not touch the power flag.
func (e *Engine) sendPower(ctx context.Context, on bool) error {
	cmd := protocol.PowerOff
	if on {
		cmd = protocol.PowerOn
	}
	resp, err := e.link.Send(ctx, cmd, e.timings.CommandTimeout)
	if err != nil {
		return err
	}
	got, err := protocol.ParsePowerState(resp)
	if err != nil {
		return pkgerrors.Wrapf(ErrLinkInconsistency, "%s answered %q: %v", cmd, resp.Raw, err)
	}
	if got != on {
		return pkgerrors.Wrapf(ErrLinkInconsistency, "%s answered power %v", cmd, got)
	}
	return nil
}

// powerChange is a power command during charge control and the state it
// leads to once the accessory confirms it.
type powerChange struct {
	on       bool
	to       Phase
	override Override
	reason   string
}

// controlPower is sendPower for the steady state: a timeout is retried
// once, and anything but cancellation then escalates to a forced
// disconnect. The confirmed power state, phase and override are committed
// in one step. On success a background check watches the OS follow.
func (e *Engine) controlPower(ctx context.Context, sess *session, ch powerChange) error {
	err := e.sendPower(ctx, ch.on)
	if errors.Is(err, link.ErrCommandTimeout) {
		logrus.WithField("on", ch.on).Warn("power command timed out, retrying")
		err = e.sendPower(ctx, ch.on)
	}
	if err == nil {
		e.commitPower(sess, ch)
		e.confirm(sess, ch.on)
		return nil
	}
	if ctx.Err() != nil {
		return err
	}
	e.escalate(sess, err)
	return err
}

// commitPower applies ch if sess is still controlling. A session that lost
// the link meanwhile keeps the state linkDown left.
func (e *Engine) commitPower(sess *session, ch powerChange) {
	e.mu.Lock()
	if e.sess == sess && e.phase.controlling() && canTransition(e.phase, ch.to) {
		e.powerOn = ch.on
		e.override = ch.override
		e.setPhaseLocked(ch.to, ch.reason)
	}
	e.mu.Unlock()
	e.publish()
}

// recordPower notes a confirmed power state outside charge control, where
// the phase does not depend on it.
func (e *Engine) recordPower(sess *session, on bool) {
	e.mu.Lock()
	if e.sess == sess && !e.phase.controlling() {
		e.powerOn = on
	}
	e.mu.Unlock()
	e.publish()
}

// controlCommand sends a non-power command with the same retry rule.
func (e *Engine) controlCommand(ctx context.Context, sess *session, cmd protocol.Command) error {
	_, err := e.link.Send(ctx, cmd, e.timings.CommandTimeout)
	if errors.Is(err, link.ErrCommandTimeout) {
		logrus.WithField("command", cmd.String()).Warn("command timed out, retrying")
		_, err = e.link.Send(ctx, cmd, e.timings.CommandTimeout)
	}
	if err == nil || ctx.Err() != nil {
		return err
	}
	e.escalate(sess, err)
	return err
}

// escalate drops a link that can no longer be trusted.
func (e *Engine) escalate(sess *session, cause error) {
	e.mu.RLock()
	live := e.sess == sess && e.phase.controlling()
	e.mu.RUnlock()
	if !live {
		return
	}
	logrus.WithError(cause).Error("forcing disconnect")
	e.metrics.ObserveEscalation()
	if err := e.link.Disconnect(); err != nil {
		logrus.WithError(err).Warn("failed to release link")
	}
	e.linkDown(sess, cause.Error())
}

// confirm watches the OS charging status for ConfirmTimeout after a power
// change. It only logs.
func (e *Engine) confirm(sess *session, on bool) {
	want := battery.StatusDischarging
	if on {
		want = battery.StatusCharging
	}
	sess.goTracked(func() {
		ctx, cancel := context.WithTimeout(sess.ctx, e.timings.ConfirmTimeout)
		defer cancel()
		tick := time.NewTicker(e.timings.StatusPollInterval)
		defer tick.Stop()
		for {
			got := e.battery.ReadStatus()
			if got == want {
				logrus.WithField("status", got).Debug("OS confirmed power change")
				return
			}
			select {
			case <-ctx.Done():
				if sess.ctx.Err() == nil {
					logrus.WithFields(logrus.Fields{
						"want": want,
						"got":  got,
					}).Warn("OS did not confirm power change")
				}
				return
			case <-tick.C:
			}
		}
	})
}
