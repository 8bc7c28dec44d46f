package engine

import (
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/freegie/freegie/pkg/link"
)

// linkDown handles the loss of a controlled link: loops stop, the override
// and device identity are dropped, and reconnection starts if enabled.
func (e *Engine) linkDown(sess *session, reason string) {
	e.mu.Lock()
	if e.sess != sess || !e.phase.controlling() {
		e.mu.Unlock()
		return
	}
	sess.haltLoops()
	e.override = OverrideAuto
	e.device = nil
	e.powerOn = false
	e.setPhaseLocked(PhaseDisconnected, reason)
	target := e.target
	auto := e.conf.AutoReconnect()
	e.mu.Unlock()
	e.publish()

	if !auto {
		logrus.Info("auto reconnect disabled")
		e.endSession(sess, "auto reconnect disabled")
		return
	}

	b := e.newBackOff()
	delay := b.NextBackOff()
	e.mu.Lock()
	ok := e.sess == sess && e.setPhaseLocked(PhaseReconnecting, reason)
	if ok {
		e.reconnectAttempt = 1
		e.reconnectDelay = delay
	}
	e.mu.Unlock()
	e.publish()
	if !ok {
		return
	}
	sess.goTracked(func() { e.reconnect(sess, target, b, delay) })
}

func (e *Engine) newBackOff() *backoff.ExponentialBackOff {
	policy := e.conf.Reconnect()
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.InitialDelay
	b.Multiplier = policy.Multiplier
	b.MaxInterval = policy.MaxDelay
	b.RandomizationFactor = 0.2
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// reconnect waits delay before each attempt and returns to charging on the
// first success. The OS verification toggle is skipped since the address
// is the one already verified.
func (e *Engine) reconnect(sess *session, target link.Target, b backoff.BackOff, delay time.Duration) {
	maxAttempts := e.conf.Reconnect().MaxAttempts
	for attempt := 1; ; attempt++ {
		if attempt > 1 {
			delay = b.NextBackOff()
			e.mu.Lock()
			if e.sess != sess {
				e.mu.Unlock()
				return
			}
			e.reconnectAttempt = attempt
			e.reconnectDelay = delay
			e.mu.Unlock()
			e.publish()
		}

		logrus.WithFields(logrus.Fields{
			"attempt": attempt,
			"delay":   delay,
			"address": target.Address,
		}).Info("reconnecting")

		timer := time.NewTimer(delay)
		select {
		case <-sess.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		e.metrics.ObserveReconnectAttempt()
		err := e.link.Connect(sess.ctx, target, e.timings.ConnectTimeout)
		if err == nil {
			err = e.initialize(sess, target)
		}
		if err == nil {
			logrus.WithField("attempt", attempt).Info("reconnected")
			e.enterControl(sess, "reconnected")
			return
		}
		if sess.ctx.Err() != nil {
			return
		}
		logrus.WithError(err).WithField("attempt", attempt).Warn("reconnect attempt failed")
		if derr := e.link.Disconnect(); derr != nil {
			logrus.WithError(derr).Debug("failed to release link")
		}
		if maxAttempts > 0 && attempt >= maxAttempts {
			logrus.WithField("attempts", attempt).Error("giving up reconnecting")
			e.endSession(sess, "reconnect attempts exhausted")
			return
		}
	}
}
