package bluez

import (
	"context"
	"sync"

	"github.com/godbus/dbus/v5"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type conn struct {
	bus      *dbus.Conn
	dev      dbus.BusObject
	char     dbus.BusObject
	devPath  dbus.ObjectPath
	charPath dbus.ObjectPath

	notes chan []byte
	done  chan struct{}

	lostOnce  sync.Once
	closeOnce sync.Once
}

func (c *conn) Write(ctx context.Context, frame []byte) error {
	opts := map[string]dbus.Variant{"type": dbus.MakeVariant("command")}
	if err := c.char.CallWithContext(ctx, gattCharIface+".WriteValue", 0, frame, opts).Err; err != nil {
		return pkgerrors.Wrap(err, "write characteristic")
	}
	return nil
}

func (c *conn) Notifications() <-chan []byte { return c.notes }

func (c *conn) Done() <-chan struct{} { return c.done }

func (c *conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		if e := c.char.CallWithContext(ctx, gattCharIface+".StopNotify", 0).Err; e != nil {
			logrus.WithError(e).Debug("failed to stop notify")
		}
		if e := c.dev.CallWithContext(ctx, deviceIface+".Disconnect", 0).Err; e != nil {
			err = pkgerrors.Wrap(e, "disconnect device")
		}
		if e := c.bus.Close(); e != nil && err == nil {
			err = pkgerrors.Wrap(e, "close bus")
		}
	})
	return err
}

func (c *conn) markLost() {
	c.lostOnce.Do(func() { close(c.done) })
}

// watch routes characteristic value changes to notes and reports the
// device disconnecting. It returns when the bus is closed.
func (c *conn) watch(sigs <-chan *dbus.Signal) {
	defer c.markLost()
	for sig := range sigs {
		iface, changed, ok := propertiesChanged(sig)
		if !ok {
			continue
		}
		switch {
		case sig.Path == c.charPath && iface == gattCharIface:
			if value, ok := notificationValue(changed); ok {
				select {
				case c.notes <- value:
				default:
					logrus.Warn("notification dropped, reader too slow")
				}
			}
		case sig.Path == c.devPath && iface == deviceIface:
			if v, ok := changed["Connected"]; ok {
				if b, _ := v.Value().(bool); !b {
					c.markLost()
				}
			}
		}
	}
}

func notificationValue(changed map[string]dbus.Variant) ([]byte, bool) {
	v, ok := changed["Value"]
	if !ok {
		return nil, false
	}
	b, ok := v.Value().([]byte)
	if !ok || len(b) == 0 {
		return nil, false
	}
	return append([]byte(nil), b...), true
}
