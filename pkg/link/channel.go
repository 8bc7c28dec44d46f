package link

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/freegie/freegie/pkg/metrics"
	"github.com/freegie/freegie/pkg/protocol"
)

// DefaultMinGap is the minimum spacing between two writes to the accessory.
const DefaultMinGap = 100 * time.Millisecond

const (
	mailboxSize = 32
	eventsSize  = 16
)

// State is the link state as seen by the channel.
type State int

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

// Event reports a link state change. Lost is set only when the platform
// dropped the link; an intentional Disconnect never sets it.
type Event struct {
	State  State
	Lost   bool
	Target Target
}

// Option configures a Channel.
type Option func(*Channel)

// WithMinGap overrides DefaultMinGap.
func WithMinGap(d time.Duration) Option {
	return func(c *Channel) {
		if d <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// WithMetrics records command results and link drops.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Channel) { c.metrics = m }
}

// session is one established connection. done is closed exactly once, after
// err is set.
type session struct {
	conn   Conn
	target Target
	done   chan struct{}
	err    error
	once   sync.Once
}

func newSession(conn Conn, target Target) *session {
	return &session{conn: conn, target: target, done: make(chan struct{})}
}

func (s *session) end(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.done)
	})
}

// Channel is the request/response layer over a Transport. At most one
// command is in flight; callers queue in arrival order.
type Channel struct {
	transport Transport
	limiter   *rate.Limiter
	metrics   *metrics.Metrics

	// section holds a token while a command is in flight.
	section chan struct{}
	box     *mailbox
	events  chan Event

	mu    sync.Mutex
	state State
	sess  *session
}

// New returns a closed channel over t.
func New(t Transport, opts ...Option) *Channel {
	c := &Channel{
		transport: t,
		limiter:   rate.NewLimiter(rate.Every(DefaultMinGap), 1),
		section:   make(chan struct{}, 1),
		box:       newMailbox(mailboxSize),
		events:    make(chan Event, eventsSize),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Events delivers link state changes. Events are dropped if nobody reads.
func (c *Channel) Events() <-chan Event {
	return c.events
}

// State returns the current link state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Target returns the connected device, or the zero Target.
func (c *Channel) Target() Target {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return Target{}
	}
	return c.sess.target
}

func (c *Channel) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		logrus.WithField("state", ev.State).Warn("link event dropped, no reader")
	}
}

// Scan looks for the accessory. Only service matches are accepted during
// the first half of timeout; after that name prefix matches are accepted
// too. Devices seen during the first half are reconsidered at the switch.
func (c *Channel) Scan(ctx context.Context, filter ScanFilter, timeout time.Duration) (Target, error) {
	scanCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	adverts, err := c.transport.Scan(scanCtx)
	if err != nil {
		return Target{}, pkgerrors.Wrapf(ErrLinkError, "start scan: %v", err)
	}

	logrus.WithFields(logrus.Fields{
		"timeout": timeout,
		"address": filter.Address,
		"prefix":  filter.NamePrefix,
	}).Info("scanning for accessory")

	fallbackTimer := time.NewTimer(timeout / 2)
	defer fallbackTimer.Stop()
	fallback := false
	seen := make(map[string]Advertisement)

	found := func(adv Advertisement) (Target, error) {
		logrus.WithFields(logrus.Fields{
			"address": adv.Address,
			"name":    adv.Name,
			"rssi":    adv.RSSI,
		}).Info("found accessory")
		return Target{Address: adv.Address, Name: adv.Name}, nil
	}

	for {
		select {
		case <-scanCtx.Done():
			if ctx.Err() != nil {
				return Target{}, ctx.Err()
			}
			return Target{}, pkgerrors.Wrapf(ErrNotFound, "scan for %s", timeout)
		case <-fallbackTimer.C:
			fallback = true
			logrus.Debug("no service match yet, accepting name prefix matches")
			for _, adv := range seen {
				if filter.match(adv, true) {
					return found(adv)
				}
			}
		case adv, ok := <-adverts:
			if !ok {
				adverts = nil
				continue
			}
			if prev, ok := seen[adv.Address]; ok {
				adv = mergeAdvertisement(prev, adv)
			}
			seen[adv.Address] = adv
			if filter.match(adv, fallback) {
				return found(adv)
			}
		}
	}
}

// mergeAdvertisement keeps fields a later, sparser advertisement lacks.
func mergeAdvertisement(prev, next Advertisement) Advertisement {
	if next.Name == "" {
		next.Name = prev.Name
	}
	if len(next.ServiceUUIDs) == 0 {
		next.ServiceUUIDs = prev.ServiceUUIDs
	}
	return next
}

// Connect opens the link to target and subscribes to notifications.
func (c *Channel) Connect(ctx context.Context, target Target, timeout time.Duration) error {
	c.mu.Lock()
	if c.state != StateClosed {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.state = StateConnecting
	c.mu.Unlock()

	connCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logrus.WithField("address", target.Address).Info("connecting")
	conn, err := c.transport.Connect(connCtx, target.Address)
	if err != nil {
		c.mu.Lock()
		c.state = StateClosed
		c.mu.Unlock()
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, context.DeadlineExceeded) || errors.Is(connCtx.Err(), context.DeadlineExceeded):
			return pkgerrors.Wrapf(ErrConnectTimeout, "connect %s after %s", target.Address, timeout)
		default:
			return pkgerrors.Wrapf(ErrLinkError, "connect %s: %v", target.Address, err)
		}
	}

	if n := c.box.drain(); n > 0 {
		c.metrics.ObserveUnsolicited(n)
	}

	s := newSession(conn, target)
	c.mu.Lock()
	if c.state != StateConnecting {
		// Disconnect raced with us.
		c.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	c.sess = s
	c.state = StateOpen
	c.mu.Unlock()

	go c.pump(s)
	logrus.WithFields(logrus.Fields{
		"address": target.Address,
		"name":    target.Name,
	}).Info("connected")
	c.emit(Event{State: StateOpen, Target: target})
	return nil
}

// pump moves notifications into the mailbox and watches for link loss.
func (c *Channel) pump(s *session) {
	notes := s.conn.Notifications()
	for {
		select {
		case frame, ok := <-notes:
			if !ok {
				c.lost(s)
				return
			}
			text := strings.TrimSpace(string(frame))
			if text == "" {
				continue
			}
			logrus.WithField("frame", text).Debug("rx")
			c.box.push(text)
		case <-s.conn.Done():
			c.lost(s)
			return
		case <-s.done:
			return
		}
	}
}

func (c *Channel) lost(s *session) {
	c.mu.Lock()
	if c.sess != s {
		c.mu.Unlock()
		return
	}
	c.sess = nil
	c.state = StateClosed
	c.mu.Unlock()

	s.end(ErrLinkLost)
	_ = s.conn.Close()
	c.metrics.ObserveLinkLost()
	logrus.WithField("address", s.target.Address).Warn("link lost")
	c.emit(Event{State: StateClosed, Lost: true, Target: s.target})
}

// Disconnect releases the link. Pending waiters get ErrClosed. It is a
// no-op when already closed.
func (c *Channel) Disconnect() error {
	c.mu.Lock()
	s := c.sess
	if s == nil {
		if c.state == StateConnecting {
			c.state = StateClosed
		}
		c.mu.Unlock()
		return nil
	}
	c.sess = nil
	c.state = StateClosed
	c.mu.Unlock()

	s.end(ErrClosed)
	err := s.conn.Close()
	logrus.WithField("address", s.target.Address).Info("disconnected")
	c.emit(Event{State: StateClosed, Target: s.target})
	if err != nil {
		return pkgerrors.Wrapf(err, "close link to %s", s.target.Address)
	}
	return nil
}

// Send writes cmd and, unless it is fire-and-forget, waits up to timeout for
// the matching response. Notifications with other keys are discarded.
func (c *Channel) Send(ctx context.Context, cmd protocol.Command, timeout time.Duration) (protocol.Response, error) {
	select {
	case c.section <- struct{}{}:
	case <-ctx.Done():
		return protocol.Response{}, ctx.Err()
	}
	defer func() { <-c.section }()

	resp, err := c.exchange(ctx, cmd, timeout)
	c.metrics.ObserveCommand(cmd.String(), resultLabel(err))
	return resp, err
}

func (c *Channel) exchange(ctx context.Context, cmd protocol.Command, timeout time.Duration) (protocol.Response, error) {
	c.mu.Lock()
	s := c.sess
	c.mu.Unlock()
	if s == nil {
		return protocol.Response{}, pkgerrors.Wrapf(ErrNotConnected, "send %s", cmd)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return protocol.Response{}, ctx.Err()
		}
		return protocol.Response{}, pkgerrors.Wrapf(err, "pace %s", cmd)
	}

	if n := c.box.drain(); n > 0 {
		c.metrics.ObserveUnsolicited(n)
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logrus.WithField("frame", cmd.String()).Debug("tx")
	if err := s.conn.Write(waitCtx, protocol.Encode(cmd)); err != nil {
		select {
		case <-s.done:
			return protocol.Response{}, pkgerrors.Wrapf(s.err, "write %s", cmd)
		default:
		}
		switch {
		case ctx.Err() != nil:
			return protocol.Response{}, ctx.Err()
		case waitCtx.Err() != nil:
			return protocol.Response{}, pkgerrors.Wrapf(ErrCommandTimeout, "write %s", cmd)
		default:
			return protocol.Response{}, pkgerrors.Wrapf(ErrLinkError, "write %s: %v", cmd, err)
		}
	}

	key, ok := protocol.ExpectedKey(cmd)
	if !ok {
		return protocol.Response{}, nil
	}

	for {
		frame, err := c.box.receive(waitCtx, s.done)
		if err != nil {
			switch {
			case errors.Is(err, errSessionEnded):
				return protocol.Response{}, pkgerrors.Wrapf(s.err, "await %s", key)
			case ctx.Err() != nil:
				return protocol.Response{}, ctx.Err()
			default:
				return protocol.Response{}, pkgerrors.Wrapf(ErrCommandTimeout, "await %s after %s", key, timeout)
			}
		}
		resp, err := protocol.Decode(frame)
		if err != nil {
			logrus.WithField("frame", frame).Debug("discarding malformed notification")
			c.metrics.ObserveUnsolicited(1)
			continue
		}
		if resp.Key != key {
			logrus.WithFields(logrus.Fields{
				"frame": frame,
				"want":  key,
			}).Debug("discarding unsolicited notification")
			c.metrics.ObserveUnsolicited(1)
			continue
		}
		logrus.WithField("frame", resp.Raw).Debug("matched response")
		return resp, nil
	}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrCommandTimeout):
		return "timeout"
	case IsLinkDown(err):
		return "link_down"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}
