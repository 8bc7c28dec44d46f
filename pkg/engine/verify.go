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
	"github.com/freegie/freegie/pkg/types"
)

// verify toggles the relay off and on and checks that the OS sees the
// battery follow each toggle. A link that answers but is not wired to this
// machine fails here.
func (e *Engine) verify(sess *session) error {
	ctx := sess.ctx
	steps := []struct {
		on   bool
		want battery.Status
	}{
		{on: false, want: battery.StatusDischarging},
		{on: true, want: battery.StatusCharging},
	}
	for _, step := range steps {
		if err := e.sendPower(ctx, step.on); err != nil {
			return pkgerrors.Wrap(err, "verification toggle")
		}
		e.recordPower(sess, step.on)
		if !e.conf.VerifyChargingState() {
			continue
		}
		if err := e.awaitStatus(ctx, step.want, e.timings.VerifyTimeout); err != nil {
			return err
		}
	}
	logrus.Info("device verification passed")
	return nil
}

// awaitStatus polls the OS charging status until it equals want.
func (e *Engine) awaitStatus(ctx context.Context, want battery.Status, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(e.timings.StatusPollInterval)
	defer tick.Stop()

	var got battery.Status
	for {
		got = e.battery.ReadStatus()
		e.mu.Lock()
		e.batteryStatus = got
		e.mu.Unlock()
		if got == want {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return pkgerrors.Wrapf(ErrVerificationFailed, "battery stayed %s, want %s after %s", got, want, timeout)
		case <-tick.C:
		}
	}
}

// initialize reads the accessory identity, applies the PD mode and leaves
// the relay on. Only a dead link or an inconsistent answer is fatal.
func (e *Engine) initialize(sess *session, target link.Target) error {
	ctx := sess.ctx
	info, err := e.queryDeviceInfo(ctx, target)
	if err != nil {
		return err
	}
	e.mu.Lock()
	if e.sess == sess {
		e.device = info
	}
	e.mu.Unlock()
	e.publish()

	if err := e.applyPDMode(ctx); err != nil {
		return err
	}
	if err := e.sendPower(ctx, true); err != nil {
		if fatal(err) {
			return err
		}
		// The fast loop powers on again while the flag is off.
		logrus.WithError(err).Warn("failed to restore power after initialisation")
		e.recordPower(sess, false)
		return nil
	}
	e.recordPower(sess, true)
	return nil
}

// fatal reports whether err during setup should abandon the link.
func fatal(err error) bool {
	return link.IsLinkDown(err) ||
		errors.Is(err, ErrLinkInconsistency) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// queryDeviceInfo asks capability, firmware, hardware and PD status in that
// order. Soft failures leave the field empty.
func (e *Engine) queryDeviceInfo(ctx context.Context, target link.Target) (*types.DeviceInfo, error) {
	info := &types.DeviceInfo{Address: target.Address, Name: target.Name}

	queries := []struct {
		cmd   protocol.Command
		apply func(protocol.Response) error
	}{
		{protocol.Capa, func(r protocol.Response) error {
			c, err := protocol.ParseCapabilities(r)
			info.Capabilities = types.Capabilities{Raw: c.Raw, PD: c.PD, FET2: c.FET2, Auto: c.Auto}
			return err
		}},
		{protocol.Firmware, func(r protocol.Response) (err error) {
			info.Firmware, err = protocol.ParseFirmware(r)
			return err
		}},
		{protocol.Hardware, func(r protocol.Response) (err error) {
			info.Hardware, err = protocol.ParseHardware(r)
			return err
		}},
		{protocol.PDStatus, func(r protocol.Response) (err error) {
			info.PDStatus, err = protocol.ParsePDStatus(r)
			return err
		}},
	}
	for _, q := range queries {
		resp, err := e.link.Send(ctx, q.cmd, e.timings.CommandTimeout)
		if err == nil {
			err = q.apply(resp)
		}
		if err != nil {
			if fatal(err) {
				return nil, pkgerrors.Wrapf(err, "query %s", q.cmd)
			}
			logrus.WithError(err).WithField("command", q.cmd.String()).Warn("device query failed")
		}
	}

	logrus.WithFields(logrus.Fields{
		"address":  info.Address,
		"firmware": info.Firmware,
		"hardware": info.Hardware,
		"pd":       info.Capabilities.PD,
		"fet2":     info.Capabilities.FET2,
		"auto":     info.Capabilities.Auto,
	}).Info("device identified")
	return info, nil
}

// applyPDMode sends the configured PD mode. The firmware does not answer.
func (e *Engine) applyPDMode(ctx context.Context) error {
	mode := e.conf.PDMode()
	if _, err := e.link.Send(ctx, protocol.PDMode(mode), e.timings.CommandTimeout); err != nil {
		if fatal(err) {
			return err
		}
		logrus.WithError(err).Warn("failed to set PD mode")
		return nil
	}
	logrus.WithField("mode", mode).Info("PD mode set")
	return nil
}
