// Package linktest provides an in-memory accessory that speaks the firmware
// protocol, for tests of the link and everything above it.
package linktest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/freegie/freegie/pkg/link"
	"github.com/freegie/freegie/pkg/protocol"
)

const (
	DefaultAddress = "AA:BB:CC:DD:EE:01"
	DefaultName    = "Chargie-Test"
)

var errClosed = errors.New("linktest: connection closed")

type advert struct {
	adv   link.Advertisement
	after time.Duration
}

// Device is a fake accessory and the transport that reaches it. The zero
// value is not usable; call NewDevice.
type Device struct {
	mu sync.Mutex

	address string
	name    string
	hidden  bool
	adverts []advert

	power     bool
	pdMode    int
	telemetry string
	capa      string
	firmware  string
	hardware  string
	pdStatus  string

	silent      map[string]bool
	powerReply  string
	unsolicited []string
	onPower     func(on bool)

	connectErr   error
	blockConnect bool
	conn         *conn
	connects     int
	frames       []string
}

// NewDevice returns a powered-on accessory advertising the primary service.
func NewDevice() *Device {
	return &Device{
		address:   DefaultAddress,
		name:      DefaultName,
		power:     true,
		pdMode:    2,
		telemetry: "5.00/3.00",
		capa:      "7",
		firmware:  "10",
		hardware:  "3",
		pdStatus:  "1",
		silent:    make(map[string]bool),
	}
}

// Address returns the advertised address.
func (d *Device) Address() string { return d.address }

// Target returns the link target for this device.
func (d *Device) Target() link.Target {
	return link.Target{Address: d.address, Name: d.name}
}

// Hide stops the device itself from advertising. Queued adverts still play.
func (d *Device) Hide(hidden bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hidden = hidden
}

// QueueAdvert adds an advertisement reported after the given delay on
// every scan.
func (d *Device) QueueAdvert(adv link.Advertisement, after time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.adverts = append(d.adverts, advert{adv: adv, after: after})
}

// OnPower registers fn to be called whenever a power command is applied.
func (d *Device) OnPower(fn func(on bool)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onPower = fn
}

// SetTelemetry sets the STAT payload, e.g. "5.00/3.00".
func (d *Device) SetTelemetry(payload string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.telemetry = payload
}

// Silence makes the device ignore the named command (e.g. "PIO2").
func (d *Device) Silence(name string, silent bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.silent[name] = silent
}

// ForcePowerReply makes every PIO2 command answer with value regardless of
// what was asked. An empty value restores normal behaviour.
func (d *Device) ForcePowerReply(value string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.powerReply = value
}

// QueueUnsolicited sends frame right before the next reply.
func (d *Device) QueueUnsolicited(frame string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.unsolicited = append(d.unsolicited, frame)
}

// FailConnect makes every Connect return err. nil clears it.
func (d *Device) FailConnect(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connectErr = err
}

// BlockConnect makes Connect wait for its context.
func (d *Device) BlockConnect(block bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.blockConnect = block
}

// Power reports the USB-C power state.
func (d *Device) Power() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.power
}

// PDMode reports the last selected PD mode.
func (d *Device) PDMode() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pdMode
}

// Connects reports how many connections were accepted.
func (d *Device) Connects() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connects
}

// Connected reports whether a connection is open.
func (d *Device) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conn != nil && !d.conn.isClosed()
}

// Frames returns every frame written since the last ResetFrames.
func (d *Device) Frames() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.frames...)
}

// Count reports how often frame was written.
func (d *Device) Count(frame string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, f := range d.frames {
		if f == frame {
			n++
		}
	}
	return n
}

// ResetFrames clears the write log.
func (d *Device) ResetFrames() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.frames = nil
}

// Drop simulates the platform losing the link.
func (d *Device) Drop() {
	d.mu.Lock()
	c := d.conn
	d.conn = nil
	d.mu.Unlock()
	if c != nil {
		c.drop()
	}
}

// Notify pushes frame on the open connection, if any.
func (d *Device) Notify(frame string) {
	d.mu.Lock()
	c := d.conn
	d.mu.Unlock()
	if c != nil {
		c.deliver(frame)
	}
}

// Scan implements link.Transport.
func (d *Device) Scan(ctx context.Context) (<-chan link.Advertisement, error) {
	d.mu.Lock()
	plan := append([]advert(nil), d.adverts...)
	if !d.hidden {
		own := link.Advertisement{
			Address:      d.address,
			Name:         d.name,
			ServiceUUIDs: []string{protocol.ServiceUUIDPrimary},
			RSSI:         -50,
		}
		plan = append([]advert{{adv: own}}, plan...)
	}
	d.mu.Unlock()

	out := make(chan link.Advertisement)
	go func() {
		defer close(out)
		start := time.Now()
		for _, a := range plan {
			if wait := a.after - time.Since(start); wait > 0 {
				select {
				case <-time.After(wait):
				case <-ctx.Done():
					return
				}
			}
			select {
			case out <- a.adv:
			case <-ctx.Done():
				return
			}
		}
		<-ctx.Done()
	}()
	return out, nil
}

// Connect implements link.Transport.
func (d *Device) Connect(ctx context.Context, address string) (link.Conn, error) {
	d.mu.Lock()
	err := d.connectErr
	block := d.blockConnect
	d.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(address, d.address) {
		return nil, errors.New("linktest: no device at " + address)
	}

	c := &conn{dev: d, notes: make(chan []byte, 64), done: make(chan struct{})}
	d.mu.Lock()
	d.conn = c
	d.connects++
	d.mu.Unlock()
	return c, nil
}

// handle applies frame and returns the frames to push back.
func (d *Device) handle(frame string) []string {
	d.mu.Lock()
	d.frames = append(d.frames, frame)

	cmd := strings.TrimPrefix(frame, "AT+")
	name, arg := cmd, ""
	if len(cmd) > 4 {
		name, arg = cmd[:4], cmd[4:]
	}

	var reply string
	var powerChanged bool
	switch name {
	case "STAT":
		reply = "OK+STAT:" + d.telemetry
	case "CAPA":
		reply = "OK+CAPA:" + d.capa
	case "FWVR":
		reply = "OK+FWVR:" + d.firmware
	case "HWVR":
		reply = "OK+HWVR:" + d.hardware
	case "ISPD":
		reply = "OK+ISPD:" + d.pdStatus
	case "PIO2":
		d.power = arg == "1"
		powerChanged = true
		value := arg
		if d.powerReply != "" {
			value = d.powerReply
		}
		reply = "OK+PIO2:" + value
	case "PDMO":
		if arg == "1" {
			d.pdMode = 1
		} else {
			d.pdMode = 2
		}
	}

	if d.silent[name] {
		reply = ""
	}
	var out []string
	if reply != "" {
		out = append(out, d.unsolicited...)
		d.unsolicited = nil
		out = append(out, reply)
	}
	power, hook := d.power, d.onPower
	d.mu.Unlock()

	if powerChanged && hook != nil {
		hook(power)
	}
	return out
}

type conn struct {
	dev   *Device
	notes chan []byte
	done  chan struct{}

	mu     sync.Mutex
	closed bool
}

func (c *conn) Write(ctx context.Context, frame []byte) error {
	if c.isClosed() {
		return errClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, reply := range c.dev.handle(string(frame)) {
		c.deliver(reply)
	}
	return nil
}

func (c *conn) deliver(frame string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.notes <- []byte(frame):
	default:
	}
}

func (c *conn) Notifications() <-chan []byte { return c.notes }

func (c *conn) Done() <-chan struct{} { return c.done }

func (c *conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *conn) drop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
}

func (c *conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
