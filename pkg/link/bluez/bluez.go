// Package bluez implements link.Transport on top of the BlueZ D-Bus API.
package bluez

import (
	"context"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/freegie/freegie/pkg/link"
	"github.com/freegie/freegie/pkg/protocol"
)

const (
	busName            = "org.bluez"
	adapterIface       = "org.bluez.Adapter1"
	deviceIface        = "org.bluez.Device1"
	gattCharIface      = "org.bluez.GattCharacteristic1"
	propsIface         = "org.freedesktop.DBus.Properties"
	propsSignal        = propsIface + ".PropertiesChanged"
	objectManagerIface = "org.freedesktop.DBus.ObjectManager"
	interfacesAdded    = objectManagerIface + ".InterfacesAdded"

	releaseTimeout = 3 * time.Second
)

type managedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// Transport reaches the accessory through one BlueZ adapter.
type Transport struct {
	adapter string
}

// New returns a transport for adapter, e.g. "hci0".
func New(adapter string) *Transport {
	if adapter == "" {
		adapter = "hci0"
	}
	return &Transport{adapter: adapter}
}

func adapterPath(adapter string) dbus.ObjectPath {
	return dbus.ObjectPath("/org/bluez/" + adapter)
}

// deviceObjectPath converts a MAC address like "AA:BB:CC:DD:EE:FF" to
// "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF".
func deviceObjectPath(adapter, addr string) dbus.ObjectPath {
	escaped := strings.ReplaceAll(strings.ToUpper(addr), ":", "_")
	return dbus.ObjectPath(string(adapterPath(adapter)) + "/dev_" + escaped)
}

// macFromPath extracts a MAC address from a BlueZ device object path.
// Paths below the device (services, characteristics) yield "".
func macFromPath(adapter string, path dbus.ObjectPath) string {
	prefix := string(adapterPath(adapter)) + "/dev_"
	s := string(path)
	if !strings.HasPrefix(s, prefix) {
		return ""
	}
	rest := s[len(prefix):]
	if strings.Contains(rest, "/") {
		return ""
	}
	return strings.ReplaceAll(rest, "_", ":")
}

func openBus() (*dbus.Conn, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, pkgerrors.Wrap(err, "connect to system bus")
	}
	var names []string
	if err := conn.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		conn.Close()
		return nil, pkgerrors.Wrap(err, "list bus names")
	}
	for _, n := range names {
		if n == busName {
			return conn, nil
		}
	}
	conn.Close()
	return nil, pkgerrors.New("org.bluez not found on system bus, is bluetooth.service running?")
}

func addMatch(conn *dbus.Conn, rule string) error {
	return conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, rule).Err
}

func getManagedObjects(ctx context.Context, conn *dbus.Conn) (managedObjects, error) {
	var objs managedObjects
	err := conn.Object(busName, "/").CallWithContext(ctx, objectManagerIface+".GetManagedObjects", 0).Store(&objs)
	return objs, err
}

// advertFromProps builds an advertisement from Device1 properties. ok is
// false when the path is not a device of adapter.
func advertFromProps(adapter string, path dbus.ObjectPath, props map[string]dbus.Variant) (link.Advertisement, bool) {
	adv := link.Advertisement{Address: macFromPath(adapter, path)}
	if v, ok := props["Address"]; ok {
		if s, ok := v.Value().(string); ok {
			adv.Address = s
		}
	}
	if adv.Address == "" {
		return adv, false
	}
	if v, ok := props["Name"]; ok {
		adv.Name, _ = v.Value().(string)
	}
	if v, ok := props["UUIDs"]; ok {
		adv.ServiceUUIDs, _ = v.Value().([]string)
	}
	if v, ok := props["RSSI"]; ok {
		adv.RSSI, _ = v.Value().(int16)
	}
	return adv, true
}

// advertFromSignal extracts an advertisement from InterfacesAdded or a
// Device1 PropertiesChanged signal.
func advertFromSignal(adapter string, sig *dbus.Signal) (link.Advertisement, bool) {
	switch sig.Name {
	case interfacesAdded:
		if len(sig.Body) < 2 {
			return link.Advertisement{}, false
		}
		path, ok := sig.Body[0].(dbus.ObjectPath)
		if !ok {
			return link.Advertisement{}, false
		}
		ifaces, ok := sig.Body[1].(map[string]map[string]dbus.Variant)
		if !ok {
			return link.Advertisement{}, false
		}
		props, ok := ifaces[deviceIface]
		if !ok {
			return link.Advertisement{}, false
		}
		return advertFromProps(adapter, path, props)
	case propsSignal:
		iface, changed, ok := propertiesChanged(sig)
		if !ok || iface != deviceIface {
			return link.Advertisement{}, false
		}
		return advertFromProps(adapter, sig.Path, changed)
	}
	return link.Advertisement{}, false
}

// propertiesChanged unpacks the body [interface, changed, invalidated].
func propertiesChanged(sig *dbus.Signal) (string, map[string]dbus.Variant, bool) {
	if sig.Name != propsSignal || len(sig.Body) < 2 {
		return "", nil, false
	}
	iface, ok := sig.Body[0].(string)
	if !ok {
		return "", nil, false
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return "", nil, false
	}
	return iface, changed, true
}

// Scan implements link.Transport.
func (t *Transport) Scan(ctx context.Context) (<-chan link.Advertisement, error) {
	conn, err := openBus()
	if err != nil {
		return nil, err
	}

	rules := []string{
		"type='signal',interface='" + objectManagerIface + "',member='InterfacesAdded'",
		"type='signal',interface='" + propsIface + "',member='PropertiesChanged',path_namespace='" + string(adapterPath(t.adapter)) + "'",
	}
	for _, rule := range rules {
		if err := addMatch(conn, rule); err != nil {
			conn.Close()
			return nil, pkgerrors.Wrap(err, "add match rule")
		}
	}
	sigs := make(chan *dbus.Signal, 64)
	conn.Signal(sigs)

	adapter := conn.Object(busName, adapterPath(t.adapter))
	filter := map[string]dbus.Variant{"Transport": dbus.MakeVariant("le")}
	if err := adapter.CallWithContext(ctx, adapterIface+".SetDiscoveryFilter", 0, filter).Err; err != nil {
		logrus.WithError(err).Warn("failed to set LE discovery filter")
	}
	if err := adapter.CallWithContext(ctx, adapterIface+".StartDiscovery", 0).Err; err != nil {
		conn.Close()
		return nil, pkgerrors.Wrapf(err, "start discovery on %s", t.adapter)
	}

	objs, err := getManagedObjects(ctx, conn)
	if err != nil {
		logrus.WithError(err).Warn("failed to list known devices")
	}

	out := make(chan link.Advertisement, 16)
	go func() {
		defer close(out)
		defer conn.Close()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			if err := adapter.CallWithContext(stopCtx, adapterIface+".StopDiscovery", 0).Err; err != nil {
				logrus.WithError(err).Debug("failed to stop discovery")
			}
		}()

		send := func(adv link.Advertisement) bool {
			select {
			case out <- adv:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for path, ifaces := range objs {
			props, ok := ifaces[deviceIface]
			if !ok {
				continue
			}
			if adv, ok := advertFromProps(t.adapter, path, props); ok && !send(adv) {
				return
			}
		}
		for {
			select {
			case <-ctx.Done():
				return
			case sig, ok := <-sigs:
				if !ok {
					return
				}
				if adv, ok := advertFromSignal(t.adapter, sig); ok && !send(adv) {
					return
				}
			}
		}
	}()
	return out, nil
}

// findCharacteristic returns the object path of the characteristic with
// uuid under device.
func findCharacteristic(objs managedObjects, device dbus.ObjectPath, uuid string) (dbus.ObjectPath, bool) {
	prefix := string(device) + "/"
	for path, ifaces := range objs {
		if !strings.HasPrefix(string(path), prefix) {
			continue
		}
		props, ok := ifaces[gattCharIface]
		if !ok {
			continue
		}
		v, ok := props["UUID"]
		if !ok {
			continue
		}
		if s, ok := v.Value().(string); ok && strings.EqualFold(s, uuid) {
			return path, true
		}
	}
	return "", false
}

func getBool(ctx context.Context, obj dbus.BusObject, iface, prop string) (bool, error) {
	var v dbus.Variant
	if err := obj.CallWithContext(ctx, propsIface+".Get", 0, iface, prop).Store(&v); err != nil {
		return false, err
	}
	b, ok := v.Value().(bool)
	if !ok {
		return false, pkgerrors.Errorf("property %s is not bool", prop)
	}
	return b, nil
}

// Connect implements link.Transport.
func (t *Transport) Connect(ctx context.Context, address string) (link.Conn, error) {
	bus, err := openBus()
	if err != nil {
		return nil, err
	}
	devPath := deviceObjectPath(t.adapter, address)
	rule := "type='signal',interface='" + propsIface + "',member='PropertiesChanged',path_namespace='" + string(devPath) + "'"
	if err := addMatch(bus, rule); err != nil {
		bus.Close()
		return nil, pkgerrors.Wrap(err, "add match rule")
	}
	sigs := make(chan *dbus.Signal, 64)
	bus.Signal(sigs)

	dev := bus.Object(busName, devPath)
	fail := func(err error) (link.Conn, error) {
		releaseCtx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		_ = dev.CallWithContext(releaseCtx, deviceIface+".Disconnect", 0).Err
		bus.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	if err := dev.CallWithContext(ctx, deviceIface+".Connect", 0).Err; err != nil {
		return fail(pkgerrors.Wrapf(err, "connect %s", address))
	}
	if err := waitServicesResolved(ctx, dev, devPath, sigs); err != nil {
		return fail(err)
	}

	objs, err := getManagedObjects(ctx, bus)
	if err != nil {
		return fail(pkgerrors.Wrap(err, "list gatt objects"))
	}
	charPath, ok := findCharacteristic(objs, devPath, protocol.CharacteristicUUID)
	if !ok {
		return fail(pkgerrors.Errorf("characteristic %s not found on %s", protocol.CharacteristicUUID, address))
	}
	char := bus.Object(busName, charPath)
	if err := char.CallWithContext(ctx, gattCharIface+".StartNotify", 0).Err; err != nil {
		return fail(pkgerrors.Wrap(err, "start notify"))
	}

	c := &conn{
		bus:      bus,
		dev:      dev,
		char:     char,
		devPath:  devPath,
		charPath: charPath,
		notes:    make(chan []byte, 32),
		done:     make(chan struct{}),
	}
	go c.watch(sigs)
	return c, nil
}

// waitServicesResolved blocks until BlueZ reports the GATT database of the
// device as resolved.
func waitServicesResolved(ctx context.Context, dev dbus.BusObject, devPath dbus.ObjectPath, sigs <-chan *dbus.Signal) error {
	if resolved, err := getBool(ctx, dev, deviceIface, "ServicesResolved"); err == nil && resolved {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig, ok := <-sigs:
			if !ok {
				return pkgerrors.New("bus closed while resolving services")
			}
			if sig.Path != devPath {
				continue
			}
			iface, changed, ok := propertiesChanged(sig)
			if !ok || iface != deviceIface {
				continue
			}
			if v, ok := changed["ServicesResolved"]; ok {
				if b, _ := v.Value().(bool); b {
					return nil
				}
			}
			if v, ok := changed["Connected"]; ok {
				if b, _ := v.Value().(bool); !b {
					return pkgerrors.New("device disconnected while resolving services")
				}
			}
		}
	}
}
