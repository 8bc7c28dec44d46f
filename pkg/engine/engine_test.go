package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freegie/freegie/pkg/battery"
	"github.com/freegie/freegie/pkg/config"
	"github.com/freegie/freegie/pkg/link"
	"github.com/freegie/freegie/pkg/link/linktest"
	"github.com/freegie/freegie/pkg/types"
	"github.com/freegie/freegie/pkg/utils/ptr"
)

const (
	powerOffFrame = "AT+PIO20"
	powerOnFrame  = "AT+PIO21"
	waitFor       = 3 * time.Second
	pollEvery     = 5 * time.Millisecond
)

type fakeBattery struct {
	mu      sync.Mutex
	percent int
	unknown bool
	status  battery.Status
}

func (b *fakeBattery) ReadPercent() (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.unknown {
		return 0, battery.ErrUnknown
	}
	return b.percent, nil
}

func (b *fakeBattery) ReadStatus() battery.Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

func (b *fakeBattery) set(p int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.percent = p
}

// follow makes the OS status track the relay.
func (b *fakeBattery) follow(on bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if on {
		b.status = battery.StatusCharging
	} else {
		b.status = battery.StatusDischarging
	}
}

type recorder struct {
	mu       sync.Mutex
	statuses []types.Status
	phases   []types.PhaseChange
}

func (r *recorder) Publish(name string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch v := payload.(type) {
	case types.Status:
		r.statuses = append(r.statuses, v)
	case types.PhaseChange:
		r.phases = append(r.phases, v)
	}
}

func (r *recorder) sawStatus(match func(types.Status) bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.statuses {
		if match(s) {
			return true
		}
	}
	return false
}

// mismatches lists published snapshots whose power flag disagrees with a
// controlling phase.
func (r *recorder) mismatches() []types.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []types.Status
	for _, s := range r.statuses {
		if (s.Phase == "charging" && !s.Charging) || (s.Phase == "paused" && s.Charging) {
			out = append(out, s)
		}
	}
	return out
}

func (r *recorder) phaseChanges() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, p := range r.phases {
		out = append(out, p.From+">"+p.To)
	}
	return out
}

type harness struct {
	e    *Engine
	dev  *linktest.Device
	bat  *fakeBattery
	conf *config.File
	rec  *recorder
}

func testTimings() *Timings {
	return &Timings{
		ScanTimeout:        500 * time.Millisecond,
		ConnectTimeout:     500 * time.Millisecond,
		CommandTimeout:     100 * time.Millisecond,
		VerifyTimeout:      300 * time.Millisecond,
		ConfirmTimeout:     200 * time.Millisecond,
		StatusPollInterval: 5 * time.Millisecond,
		// Ticks are driven by the tests.
		PollInterval:      time.Hour,
		TelemetryInterval: time.Hour,
	}
}

func newHarness(t *testing.T, raw *config.RawFileConfig) *harness {
	t.Helper()
	if raw == nil {
		raw = &config.RawFileConfig{}
	}
	if raw.ReconnectInitialDelay == nil {
		raw.ReconnectInitialDelay = &config.Duration{Duration: 150 * time.Millisecond}
	}
	if raw.ReconnectMaxDelay == nil {
		raw.ReconnectMaxDelay = &config.Duration{Duration: 300 * time.Millisecond}
	}

	dev := linktest.NewDevice()
	bat := &fakeBattery{percent: 50, status: battery.StatusCharging}
	dev.OnPower(bat.follow)
	rec := &recorder{}
	conf := config.NewFileFromConfig(raw, "")
	e := New(Options{
		Link:     link.New(dev, link.WithMinGap(time.Millisecond)),
		Battery:  bat,
		Config:   conf,
		Notifier: rec,
		Timings:  testTimings(),
	})
	t.Cleanup(func() { _ = e.Stop() })
	return &harness{e: e, dev: dev, bat: bat, conf: conf, rec: rec}
}

func (h *harness) waitPhase(t *testing.T, p Phase) {
	t.Helper()
	require.Eventually(t, func() bool { return h.e.Phase() == p }, waitFor, pollEvery,
		"phase is %s, want %s", h.e.Phase(), p)
}

// waitChange waits for a published phase change such as "scanning>idle".
func (h *harness) waitChange(t *testing.T, change string) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, c := range h.rec.phaseChanges() {
			if c == change {
				return true
			}
		}
		return false
	}, waitFor, pollEvery, "no %s in %v", change, h.rec.phaseChanges())
}

// start takes the engine to charge control and waits for the first fast
// loop iteration to finish, so later ticks never race it.
func (h *harness) start(t *testing.T) {
	t.Helper()
	ticks := h.e.fastTicks.Load()
	require.NoError(t, h.e.Start())
	h.waitChange(t, "verifying>charging")
	require.Eventually(t, func() bool { return h.e.fastTicks.Load() > ticks }, waitFor, pollEvery)
}

// tick runs one fast loop iteration.
func (h *harness) tick(t *testing.T, percent int) {
	t.Helper()
	h.bat.set(percent)
	h.e.mu.RLock()
	sess := h.e.sess
	h.e.mu.RUnlock()
	require.NotNil(t, sess)
	if p, ok := h.e.readBattery(); ok {
		h.e.enforceLimit(sess.ctx, sess, p)
	}
}

func (h *harness) powerFrames() (off, on int) {
	return h.dev.Count(powerOffFrame), h.dev.Count(powerOnFrame)
}

// commandFrames returns the written frames without telemetry polls.
func (h *harness) commandFrames() []string {
	var out []string
	for _, f := range h.dev.Frames() {
		if f != "AT+STAT?" {
			out = append(out, f)
		}
	}
	return out
}

func TestStartSequence(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)

	frames := h.dev.Frames()
	require.GreaterOrEqual(t, len(frames), 8)
	assert.Equal(t, []string{
		"AT+PIO20", "AT+PIO21",
		"AT+CAPA?", "AT+FWVR?", "AT+HWVR?", "AT+ISPD?",
		"AT+PDMO2", "AT+PIO21",
	}, frames[:8])

	st := h.e.Status()
	assert.Equal(t, "charging", st.Phase)
	assert.Equal(t, "auto", st.Override)
	assert.True(t, st.Charging)
	require.NotNil(t, st.Device)
	assert.Equal(t, linktest.DefaultAddress, st.Device.Address)
	assert.Equal(t, "10", st.Device.Firmware)
	assert.Equal(t, "3", st.Device.Hardware)
	assert.True(t, st.Device.Capabilities.PD)
	h.waitChange(t, "verifying>charging")
	assert.Equal(t, []string{
		"idle>scanning", "scanning>connecting", "connecting>verifying", "verifying>charging",
	}, h.rec.phaseChanges())
}

func TestStartTwice(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)
	assert.ErrorIs(t, h.e.Start(), ErrAlreadyRunning)
	assert.ErrorIs(t, h.e.Scan(), ErrAlreadyRunning)
}

func TestStartNotFound(t *testing.T) {
	h := newHarness(t, nil)
	h.dev.Hide(true)
	require.NoError(t, h.e.Start())
	h.waitChange(t, "scanning>idle")
	assert.Equal(t, PhaseIdle, h.e.Phase())
	assert.Equal(t, []string{"idle>scanning", "scanning>idle"}, h.rec.phaseChanges())

	// Retriable once idle.
	h.dev.Hide(false)
	h.start(t)
}

func TestStartConnectFails(t *testing.T) {
	h := newHarness(t, nil)
	h.dev.FailConnect(errors.New("refused"))
	require.NoError(t, h.e.Start())
	require.Eventually(t, func() bool {
		changes := h.rec.phaseChanges()
		return len(changes) == 3 && changes[2] == "connecting>idle"
	}, waitFor, pollEvery)
}

func TestVerificationFailsWhenBatteryIgnoresRelay(t *testing.T) {
	h := newHarness(t, nil)
	h.dev.OnPower(nil)
	require.NoError(t, h.e.Start())
	h.waitChange(t, "verifying>idle")
	assert.Equal(t, PhaseIdle, h.e.Phase())
	assert.False(t, h.dev.Connected())
	assert.Nil(t, h.e.Status().Device)
}

func TestRestartAfterFailureHandlesLinkLoss(t *testing.T) {
	h := newHarness(t, nil)
	h.dev.OnPower(nil)
	require.NoError(t, h.e.Start())
	h.waitChange(t, "verifying>idle")

	// Restart at once; the failed session must not take the new link events.
	h.dev.OnPower(h.bat.follow)
	h.bat.follow(true)
	h.start(t)
	h.dev.Drop()
	h.waitChange(t, "charging>disconnected")
	h.waitPhase(t, PhaseCharging)
	assert.GreaterOrEqual(t, h.dev.Connects(), 3)
}

func TestVerificationCheckCanBeDisabled(t *testing.T) {
	h := newHarness(t, &config.RawFileConfig{VerifyChargingState: ptr.To(false)})
	h.dev.OnPower(nil)
	h.start(t)
}

func TestVerificationRejectsInconsistentRelay(t *testing.T) {
	h := newHarness(t, nil)
	h.dev.ForcePowerReply("1")
	require.NoError(t, h.e.Start())
	h.waitChange(t, "verifying>idle")
	assert.Equal(t, 1, h.dev.Count(powerOffFrame))
	assert.Equal(t, 0, h.dev.Count(powerOnFrame))
}

func TestThresholdScenario(t *testing.T) {
	h := newHarness(t, &config.RawFileConfig{ChargeMax: ptr.To(83), ChargeMin: ptr.To(75)})
	h.bat.set(80)
	h.start(t)
	off0, on0 := h.powerFrames()

	h.tick(t, 83)
	assert.Equal(t, PhasePaused, h.e.Phase())
	off, on := h.powerFrames()
	assert.Equal(t, off0+1, off)
	assert.Equal(t, on0, on)
	assert.False(t, h.e.Status().Charging)

	for _, p := range []int{80, 78, 76} {
		h.tick(t, p)
		assert.Equal(t, PhasePaused, h.e.Phase(), "at %d%%", p)
		off, on = h.powerFrames()
		assert.Equal(t, off0+1, off, "at %d%%", p)
		assert.Equal(t, on0, on, "at %d%%", p)
	}

	h.tick(t, 75)
	assert.Equal(t, PhaseCharging, h.e.Phase())
	off, on = h.powerFrames()
	assert.Equal(t, off0+1, off)
	assert.Equal(t, on0+1, on)
	assert.True(t, h.e.Status().Charging)
}

func TestPowerFlagMatchesPhase(t *testing.T) {
	h := newHarness(t, &config.RawFileConfig{ChargeMax: ptr.To(80), ChargeMin: ptr.To(60)})
	h.start(t)

	readings := []int{50, 79, 80, 95, 81, 61, 60, 59, 70, 100, 20, 80, 79, 60, 61}
	prev := h.e.Phase()
	for _, p := range readings {
		h.tick(t, p)
		st := h.e.Status()
		switch h.e.Phase() {
		case PhaseCharging:
			assert.True(t, st.Charging, "at %d%%", p)
		case PhasePaused:
			assert.False(t, st.Charging, "at %d%%", p)
		default:
			t.Fatalf("left charge control at %d%%: %s", p, h.e.Phase())
		}
		if h.e.Phase() != prev {
			if prev == PhaseCharging {
				assert.GreaterOrEqual(t, p, 80)
			} else {
				assert.LessOrEqual(t, p, 60)
			}
		}
		prev = h.e.Phase()
	}
}

func TestPublishedSnapshotsPairPowerWithPhase(t *testing.T) {
	h := newHarness(t, &config.RawFileConfig{ChargeMax: ptr.To(83), ChargeMin: ptr.To(75)})
	h.start(t)

	h.tick(t, 83)
	require.Equal(t, PhasePaused, h.e.Phase())
	h.tick(t, 75)
	require.Equal(t, PhaseCharging, h.e.Phase())
	require.NoError(t, h.e.SetOverride(OverrideForceOff))
	require.NoError(t, h.e.SetOverride(OverrideForceOn))
	require.NoError(t, h.e.SetOverride(OverrideAuto))
	h.tick(t, 90)
	require.Equal(t, PhasePaused, h.e.Phase())
	require.NoError(t, h.e.Stop())

	assert.True(t, h.rec.sawStatus(func(s types.Status) bool { return s.Phase == "paused" }))
	assert.Empty(t, h.rec.mismatches())
}

func TestSafetyNetRestoresPower(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)
	h.e.mu.Lock()
	h.e.powerOn = false
	h.e.mu.Unlock()
	_, on0 := h.powerFrames()

	h.tick(t, 50)
	_, on := h.powerFrames()
	assert.Equal(t, on0+1, on)
	assert.True(t, h.e.Status().Charging)
	assert.Equal(t, PhaseCharging, h.e.Phase())
}

func TestUnknownPercentSkipsEnforcement(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)
	off0, _ := h.powerFrames()

	h.bat.mu.Lock()
	h.bat.unknown = true
	h.bat.mu.Unlock()
	h.tick(t, 99)
	off, _ := h.powerFrames()
	assert.Equal(t, off0, off)
	assert.Nil(t, h.e.Status().BatteryPercent)
}

func TestForceOnWhilePaused(t *testing.T) {
	h := newHarness(t, &config.RawFileConfig{ChargeMax: ptr.To(83), ChargeMin: ptr.To(75)})
	h.bat.set(85)
	h.start(t)
	h.waitPhase(t, PhasePaused)
	off0, on0 := h.powerFrames()

	require.NoError(t, h.e.SetOverride(OverrideForceOn))
	assert.Equal(t, PhaseCharging, h.e.Phase())
	assert.Equal(t, OverrideForceOn, h.e.Override())
	_, on := h.powerFrames()
	assert.Equal(t, on0+1, on)

	for _, p := range []int{90, 100, 60, 20, 83} {
		h.tick(t, p)
	}
	off, on := h.powerFrames()
	assert.Equal(t, off0, off)
	assert.Equal(t, on0+1, on)
	assert.Equal(t, PhaseCharging, h.e.Phase())

	// Returning to auto applies the window at once.
	h.bat.set(90)
	require.NoError(t, h.e.SetOverride(OverrideAuto))
	assert.Equal(t, PhasePaused, h.e.Phase())
	off, _ = h.powerFrames()
	assert.Equal(t, off0+1, off)
}

func TestAutoWhilePausedBelowMinChargesImmediately(t *testing.T) {
	h := newHarness(t, &config.RawFileConfig{ChargeMax: ptr.To(83), ChargeMin: ptr.To(75)})
	h.start(t)
	h.tick(t, 85)
	require.Equal(t, PhasePaused, h.e.Phase())

	require.NoError(t, h.e.SetOverride(OverrideForceOff))
	assert.Equal(t, PhasePaused, h.e.Phase())
	h.tick(t, 70)
	assert.Equal(t, PhasePaused, h.e.Phase())

	require.NoError(t, h.e.SetOverride(OverrideAuto))
	assert.Equal(t, PhaseCharging, h.e.Phase())
	assert.True(t, h.e.Status().Charging)
}

func TestEnforceIsNoopUnderOverride(t *testing.T) {
	for _, o := range []Override{OverrideForceOn, OverrideForceOff} {
		t.Run(o.String(), func(t *testing.T) {
			h := newHarness(t, &config.RawFileConfig{ChargeMax: ptr.To(80), ChargeMin: ptr.To(70)})
			h.start(t)
			require.NoError(t, h.e.SetOverride(o))
			phase := h.e.Phase()
			off0, on0 := h.powerFrames()

			for p := 0; p <= 100; p += 5 {
				h.tick(t, p)
			}
			off, on := h.powerFrames()
			assert.Equal(t, off0, off)
			assert.Equal(t, on0, on)
			assert.Equal(t, phase, h.e.Phase())
		})
	}
}

func TestOverrideRequiresChargeControl(t *testing.T) {
	h := newHarness(t, nil)
	assert.ErrorIs(t, h.e.SetOverride(OverrideForceOn), ErrNotControlling)
	assert.ErrorIs(t, h.e.SetOverride(OverrideForceOff), ErrNotControlling)
	assert.NoError(t, h.e.SetOverride(OverrideAuto))
	assert.ErrorIs(t, h.e.SetOverride(Override(42)), ErrInvalidOverride)
}

func TestLinkLostReconnects(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)
	require.NoError(t, h.e.SetOverride(OverrideForceOn))

	h.dev.Drop()
	h.waitPhase(t, PhaseReconnecting)
	st := h.e.Status()
	assert.Equal(t, 1, st.ReconnectAttempt)
	assert.Greater(t, st.ReconnectDelay, 0.0)
	assert.Equal(t, "auto", st.Override)
	assert.Nil(t, st.Device)

	h.waitPhase(t, PhaseCharging)
	st = h.e.Status()
	assert.Equal(t, 0, st.ReconnectAttempt)
	assert.Equal(t, 0.0, st.ReconnectDelay)
	assert.NotNil(t, st.Device)
	assert.Equal(t, 2, h.dev.Connects())

	h.waitChange(t, "reconnecting>charging")
	changes := h.rec.phaseChanges()
	assert.Contains(t, changes, "charging>disconnected")
	assert.Contains(t, changes, "disconnected>reconnecting")
	assert.True(t, h.rec.sawStatus(func(s types.Status) bool {
		return s.Phase == "reconnecting" && s.ReconnectAttempt == 1
	}))
}

func TestReconnectRetriesWithBackoff(t *testing.T) {
	h := newHarness(t, &config.RawFileConfig{
		ReconnectInitialDelay: &config.Duration{Duration: 20 * time.Millisecond},
		ReconnectMaxDelay:     &config.Duration{Duration: 40 * time.Millisecond},
	})
	h.start(t)
	h.dev.FailConnect(errors.New("out of range"))
	h.dev.Drop()

	require.Eventually(t, func() bool { return h.e.Status().ReconnectAttempt >= 3 }, waitFor, pollEvery)
	assert.Equal(t, PhaseReconnecting, h.e.Phase())

	h.dev.FailConnect(nil)
	h.waitPhase(t, PhaseCharging)
	assert.Equal(t, 0, h.e.Status().ReconnectAttempt)
}

func TestReconnectGivesUp(t *testing.T) {
	h := newHarness(t, &config.RawFileConfig{
		ReconnectInitialDelay: &config.Duration{Duration: 10 * time.Millisecond},
		ReconnectMaxDelay:     &config.Duration{Duration: 20 * time.Millisecond},
		ReconnectMaxAttempts:  ptr.To(2),
	})
	h.start(t)
	h.dev.FailConnect(errors.New("out of range"))
	h.dev.Drop()

	h.waitChange(t, "reconnecting>idle")
	assert.Equal(t, PhaseIdle, h.e.Phase())
}

func TestLinkLostWithoutAutoReconnect(t *testing.T) {
	h := newHarness(t, &config.RawFileConfig{AutoReconnect: ptr.To(false)})
	h.start(t)

	h.dev.Drop()
	h.waitChange(t, "disconnected>idle")
	assert.Equal(t, PhaseIdle, h.e.Phase())
	assert.Equal(t, []string{"charging>disconnected", "disconnected>idle"}, h.rec.phaseChanges()[4:])
}

func TestStopCancelsReconnect(t *testing.T) {
	h := newHarness(t, &config.RawFileConfig{
		ReconnectInitialDelay: &config.Duration{Duration: time.Hour},
		ReconnectMaxDelay:     &config.Duration{Duration: time.Hour},
	})
	h.start(t)
	h.dev.Drop()
	h.waitPhase(t, PhaseReconnecting)

	done := make(chan struct{})
	go func() {
		_ = h.e.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not cancel the reconnect wait")
	}
	assert.Equal(t, PhaseIdle, h.e.Phase())
	assert.Equal(t, 0, h.e.Status().ReconnectAttempt)
}

func TestInconsistentRelayEscalates(t *testing.T) {
	h := newHarness(t, &config.RawFileConfig{AutoReconnect: ptr.To(false)})
	h.start(t)
	h.dev.ForcePowerReply("1")

	h.tick(t, 95)
	assert.Equal(t, PhaseIdle, h.e.Phase())
	assert.False(t, h.dev.Connected())
	assert.Contains(t, h.rec.phaseChanges(), "charging>disconnected")
}

func TestCommandTimeoutRetriedThenEscalates(t *testing.T) {
	h := newHarness(t, &config.RawFileConfig{AutoReconnect: ptr.To(false)})
	h.start(t)
	off0, _ := h.powerFrames()
	h.dev.Silence("PIO2", true)

	h.tick(t, 95)
	off, _ := h.powerFrames()
	assert.Equal(t, off0+2, off)
	assert.Equal(t, PhaseIdle, h.e.Phase())
}

func TestStopRestoresPower(t *testing.T) {
	h := newHarness(t, &config.RawFileConfig{ChargeMax: ptr.To(80), ChargeMin: ptr.To(70)})
	h.start(t)
	h.tick(t, 90)
	require.Equal(t, PhasePaused, h.e.Phase())
	require.False(t, h.dev.Power())

	require.NoError(t, h.e.Stop())
	assert.Equal(t, PhaseIdle, h.e.Phase())
	assert.True(t, h.dev.Power())
	assert.False(t, h.dev.Connected())
	assert.Equal(t, OverrideAuto, h.e.Override())
	assert.NoError(t, h.e.Stop())
}

func TestStopFailsPendingCommand(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)
	h.dev.Silence("STAT", true)

	errc := make(chan error, 1)
	go func() {
		_, err := h.e.PollTelemetry()
		errc <- err
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, h.e.Disconnect())
	err := <-errc
	assert.True(t, errors.Is(err, context.Canceled) || errors.Is(err, link.ErrClosed) || errors.Is(err, ErrNotControlling),
		"err = %v", err)
}

func TestSetLimits(t *testing.T) {
	h := newHarness(t, &config.RawFileConfig{ChargeMax: ptr.To(85), ChargeMin: ptr.To(75)})
	h.bat.set(80)
	h.start(t)

	assert.ErrorIs(t, h.e.SetLimits(80, 80), config.ErrInvalidRange)
	assert.ErrorIs(t, h.e.SetLimits(10, 80), config.ErrInvalidRange)
	assert.Equal(t, 85, h.conf.ChargeMax())

	require.NoError(t, h.e.SetLimits(70, 79))
	assert.Equal(t, PhasePaused, h.e.Phase())
	st := h.e.Status()
	assert.Equal(t, 70, st.ChargeMin)
	assert.Equal(t, 79, st.ChargeMax)
}

func TestSetPDMode(t *testing.T) {
	h := newHarness(t, nil)
	assert.ErrorIs(t, h.e.SetPDMode(3), config.ErrInvalidRange)
	require.NoError(t, h.e.SetPDMode(1))
	assert.Equal(t, 1, h.e.Status().PDMode)

	h.start(t)
	assert.Equal(t, 1, h.dev.PDMode())
	require.NoError(t, h.e.SetPDMode(2))
	assert.Equal(t, 2, h.dev.PDMode())
	frames := h.commandFrames()
	assert.Equal(t, []string{"AT+PDMO2", "AT+PIO21"}, frames[len(frames)-2:])
}

func TestTelemetry(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.e.PollTelemetry()
	assert.ErrorIs(t, err, ErrNotControlling)

	h.start(t)
	h.dev.SetTelemetry("20.00/2.50")
	tel, err := h.e.PollTelemetry()
	require.NoError(t, err)
	assert.Equal(t, 50.0, tel.Watts())

	st := h.e.Status()
	require.NotNil(t, st.Telemetry)
	assert.Equal(t, 20.0, st.Telemetry.Volts)
	records := h.e.History().Records()
	require.NotEmpty(t, records)
	assert.Equal(t, 50.0, records[len(records)-1].Watts)

	// A failed poll keeps the last reading.
	h.dev.SetTelemetry("garbage")
	_, err = h.e.PollTelemetry()
	assert.Error(t, err)
	assert.Equal(t, 20.0, h.e.Status().Telemetry.Volts)
	assert.Equal(t, PhaseCharging, h.e.Phase())
}

func TestSetTelemetryInterval(t *testing.T) {
	h := newHarness(t, nil)
	assert.ErrorIs(t, h.e.SetTelemetryInterval(4), config.ErrInvalidRange)
	require.NoError(t, h.e.SetTelemetryInterval(60))
	assert.Equal(t, time.Minute, h.conf.TelemetryInterval())
}

func TestSlowLoopPollsTelemetry(t *testing.T) {
	h := newHarness(t, nil)
	h.e.timings.TelemetryInterval = 20 * time.Millisecond
	h.start(t)
	require.Eventually(t, func() bool { return h.dev.Count("AT+STAT?") >= 3 }, waitFor, pollEvery)
	assert.Equal(t, PhaseCharging, h.e.Phase())
}
