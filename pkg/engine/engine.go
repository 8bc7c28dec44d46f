// Package engine drives the accessory through discovery, verification and
// charge control, and keeps the battery inside the configured window.
package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/freegie/freegie/pkg/battery"
	"github.com/freegie/freegie/pkg/config"
	"github.com/freegie/freegie/pkg/link"
	"github.com/freegie/freegie/pkg/metrics"
	"github.com/freegie/freegie/pkg/protocol"
	"github.com/freegie/freegie/pkg/types"
)

// Link is the command channel as used by the engine. *link.Channel
// implements it.
type Link interface {
	Scan(ctx context.Context, filter link.ScanFilter, timeout time.Duration) (link.Target, error)
	Connect(ctx context.Context, target link.Target, timeout time.Duration) error
	Send(ctx context.Context, cmd protocol.Command, timeout time.Duration) (protocol.Response, error)
	Disconnect() error
	Events() <-chan link.Event
}

// Notifier receives status snapshots and phase changes. *events.EventHub
// implements it.
type Notifier interface {
	Publish(name string, payload any)
}

// Timings are the independent timeouts of the engine. Zero PollInterval and
// TelemetryInterval mean "use the configuration".
type Timings struct {
	ScanTimeout        time.Duration
	ConnectTimeout     time.Duration
	CommandTimeout     time.Duration
	VerifyTimeout      time.Duration
	ConfirmTimeout     time.Duration
	StatusPollInterval time.Duration
	PollInterval       time.Duration
	TelemetryInterval  time.Duration
}

// DefaultTimings match the accessory firmware.
func DefaultTimings() Timings {
	return Timings{
		ScanTimeout:        20 * time.Second,
		ConnectTimeout:     15 * time.Second,
		CommandTimeout:     5 * time.Second,
		VerifyTimeout:      10 * time.Second,
		ConfirmTimeout:     10 * time.Second,
		StatusPollInterval: 500 * time.Millisecond,
	}
}

type Options struct {
	Link     Link
	Battery  battery.Reader
	Config   config.Config
	Notifier Notifier
	Metrics  *metrics.Metrics
	Timings  *Timings
	// HistorySize is the number of telemetry samples kept. Defaults to 60.
	HistorySize int
}

// session is one run of the engine, from Start to Stop or to a failure that
// returns it to idle. Every goroutine of the run is tracked by wg.
type session struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	closed    bool
	stopLoops context.CancelFunc
	kick      chan struct{}
}

func newSession() *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{ctx: ctx, cancel: cancel, kick: make(chan struct{}, 1)}
}

// goTracked runs fn in a goroutine joined by Stop. It refuses once the
// session is closed.
func (s *session) goTracked(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
	return true
}

func (s *session) close() {
	s.mu.Lock()
	s.closed = true
	if s.stopLoops != nil {
		s.stopLoops()
	}
	s.mu.Unlock()
	s.cancel()
}

// loops returns a context for a new pair of charge loops, cancelling the
// previous pair.
func (s *session) loops() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopLoops != nil {
		s.stopLoops()
	}
	ctx, cancel := context.WithCancel(s.ctx)
	s.stopLoops = cancel
	return ctx
}

func (s *session) haltLoops() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopLoops != nil {
		s.stopLoops()
		s.stopLoops = nil
	}
}

func (s *session) kickTelemetry() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Engine is the charge engine. Construct it with New.
type Engine struct {
	link     Link
	battery  battery.Reader
	conf     config.Config
	notifier Notifier
	metrics  *metrics.Metrics
	timings  Timings
	history  *History

	// opMu serializes Start and Stop.
	opMu sync.Mutex
	// ctlMu serializes power decisions: enforcement, overrides and limit
	// changes. Lock order is opMu, ctlMu, mu.
	ctlMu sync.Mutex

	mu               sync.RWMutex
	sess             *session
	phase            Phase
	override         Override
	powerOn          bool
	percent          int
	percentKnown     bool
	batteryStatus    battery.Status
	telemetry        *protocol.Telemetry
	device           *types.DeviceInfo
	target           link.Target
	reconnectAttempt int
	reconnectDelay   time.Duration
	pendingPhase     []types.PhaseChange

	// retired is a session that ended itself and may still be unwinding.
	retired *session

	pubMu      sync.Mutex
	lastStatus *types.Status

	// fastTicks counts completed fast loop iterations.
	fastTicks atomic.Uint64
}

func New(opts Options) *Engine {
	t := DefaultTimings()
	if opts.Timings != nil {
		t = *opts.Timings
	}
	size := opts.HistorySize
	if size <= 0 {
		size = 60
	}
	e := &Engine{
		link:     opts.Link,
		battery:  opts.Battery,
		conf:     opts.Config,
		notifier: opts.Notifier,
		metrics:  opts.Metrics,
		timings:  t,
		history:  NewHistory(size),
	}
	e.metrics.SetPhase(PhaseIdle.String(), phaseStrings())
	return e
}

func phaseStrings() []string {
	s := make([]string, 0, len(AllPhases))
	for _, p := range AllPhases {
		s = append(s, p.String())
	}
	return s
}

// Phase returns the current phase.
func (e *Engine) Phase() Phase {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.phase
}

// Override returns the current override.
func (e *Engine) Override() Override {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.override
}

// History returns the telemetry history.
func (e *Engine) History() *History {
	return e.history
}

// setPhaseLocked moves to phase p. The caller holds mu and must call
// publish after releasing it.
func (e *Engine) setPhaseLocked(p Phase, reason string) bool {
	from := e.phase
	if from == p {
		return true
	}
	if !canTransition(from, p) {
		logrus.WithFields(logrus.Fields{
			"from": from,
			"to":   p,
		}).Error("refusing invalid phase transition")
		return false
	}
	e.phase = p
	e.pendingPhase = append(e.pendingPhase, types.PhaseChange{
		From:   from.String(),
		To:     p.String(),
		Reason: reason,
		Ts:     time.Now().Unix(),
	})
	e.metrics.SetPhase(p.String(), phaseStrings())
	logrus.WithFields(logrus.Fields{
		"from":   from,
		"to":     p,
		"reason": reason,
	}).Info("engine phase changed")
	return true
}

// setPhase moves to p if sess is still current.
func (e *Engine) setPhase(sess *session, p Phase, reason string) bool {
	e.mu.Lock()
	ok := e.sess == sess && e.setPhaseLocked(p, reason)
	e.mu.Unlock()
	e.publish()
	return ok
}

// Start begins scanning for the accessory. It returns immediately; progress
// is visible through the phase.
func (e *Engine) Start() error {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	// The goroutines of a session that failed on its own must be gone
	// before a new session takes link events.
	e.mu.Lock()
	retired := e.retired
	e.retired = nil
	e.mu.Unlock()
	if retired != nil {
		retired.wg.Wait()
	}

	e.mu.Lock()
	if e.sess != nil || e.phase != PhaseIdle {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}
	sess := newSession()
	e.sess = sess
	e.mu.Unlock()

	e.drainLinkEvents()
	sess.goTracked(func() { e.watchLink(sess) })
	sess.goTracked(func() { e.run(sess) })
	return nil
}

// Scan starts the engine if it is idle.
func (e *Engine) Scan() error {
	return e.Start()
}

// Disconnect releases the accessory and returns to idle.
func (e *Engine) Disconnect() error {
	return e.Stop()
}

// Stop cancels everything the engine is doing, restores power if the
// configuration asks for it, releases the link and returns to idle. Pending
// commands fail with a cancellation error.
func (e *Engine) Stop() error {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.mu.Lock()
	sess, retired := e.sess, e.retired
	e.sess, e.retired = nil, nil
	wasControlling := e.phase.controlling()
	e.mu.Unlock()
	if retired != nil {
		retired.wg.Wait()
	}
	if sess == nil {
		return nil
	}

	sess.close()
	sess.wg.Wait()

	e.ctlMu.Lock()
	defer e.ctlMu.Unlock()

	e.mu.RLock()
	powered := e.powerOn
	e.mu.RUnlock()
	if wasControlling && !powered && e.conf.RestorePowerOnStop() {
		ctx, cancel := context.WithTimeout(context.Background(), e.timings.CommandTimeout)
		if err := e.sendPower(ctx, true); err != nil {
			logrus.WithError(err).Warn("failed to restore power before releasing the link")
		}
		cancel()
	}
	if err := e.link.Disconnect(); err != nil {
		logrus.WithError(err).Warn("failed to release link")
	}

	e.mu.Lock()
	e.override = OverrideAuto
	e.device = nil
	e.powerOn = false
	e.reconnectAttempt = 0
	e.reconnectDelay = 0
	e.setPhaseLocked(PhaseIdle, "stopped")
	e.mu.Unlock()
	e.publish()
	logrus.Info("engine stopped")
	return nil
}

// endSession returns to idle after a failure within sess. It does not wait
// for the session goroutines since it may run on one of them; the next
// Start does.
func (e *Engine) endSession(sess *session, reason string) {
	e.mu.Lock()
	if e.sess != sess {
		e.mu.Unlock()
		return
	}
	e.sess = nil
	e.retired = sess
	e.override = OverrideAuto
	e.device = nil
	e.powerOn = false
	e.reconnectAttempt = 0
	e.reconnectDelay = 0
	e.setPhaseLocked(PhaseIdle, reason)
	e.mu.Unlock()

	sess.close()
	if err := e.link.Disconnect(); err != nil {
		logrus.WithError(err).Warn("failed to release link")
	}
	e.publish()
}

func (e *Engine) drainLinkEvents() {
	for {
		select {
		case <-e.link.Events():
		default:
			return
		}
	}
}

// watchLink turns platform link loss into reconnection.
func (e *Engine) watchLink(sess *session) {
	for {
		select {
		case <-sess.ctx.Done():
			return
		case ev := <-e.link.Events():
			if ev.Lost {
				e.linkDown(sess, "link lost")
			}
		}
	}
}

// run takes a new session from scanning to charge control.
func (e *Engine) run(sess *session) {
	target, err := e.discover(sess)
	if err == nil {
		err = e.verify(sess)
	}
	if err == nil {
		err = e.initialize(sess, target)
	}
	if err != nil {
		if sess.ctx.Err() != nil {
			return
		}
		logrus.WithError(err).Warn("failed to take control of the accessory")
		e.endSession(sess, err.Error())
		return
	}
	e.enterControl(sess, "verified")
}

func (e *Engine) discover(sess *session) (link.Target, error) {
	if !e.setPhase(sess, PhaseScanning, "start") {
		return link.Target{}, context.Canceled
	}
	filter := link.ScanFilter{
		ServiceUUIDs: protocol.ScanServiceUUIDs,
		NamePrefix:   e.conf.NamePrefix(),
		Address:      e.conf.DeviceAddress(),
	}
	target, err := e.link.Scan(sess.ctx, filter, e.timings.ScanTimeout)
	if err != nil {
		return link.Target{}, err
	}

	e.mu.Lock()
	e.target = target
	e.mu.Unlock()
	if !e.setPhase(sess, PhaseConnecting, "found "+target.Address) {
		return link.Target{}, context.Canceled
	}
	if err := e.link.Connect(sess.ctx, target, e.timings.ConnectTimeout); err != nil {
		return link.Target{}, err
	}
	if !e.setPhase(sess, PhaseVerifying, "connected") {
		return link.Target{}, context.Canceled
	}
	return target, nil
}

// enterControl switches to charging and starts both loops.
func (e *Engine) enterControl(sess *session, reason string) {
	e.mu.Lock()
	if e.sess != sess || !e.setPhaseLocked(PhaseCharging, reason) {
		e.mu.Unlock()
		return
	}
	e.reconnectAttempt = 0
	e.reconnectDelay = 0
	e.mu.Unlock()
	e.publish()

	ctx := sess.loops()
	sess.goTracked(func() { e.fastLoop(ctx, sess) })
	sess.goTracked(func() { e.slowLoop(ctx, sess) })
}
