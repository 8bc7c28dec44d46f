package bluez

import (
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"

	"github.com/freegie/freegie/pkg/protocol"
)

func TestDeviceObjectPath(t *testing.T) {
	assert.Equal(t, dbus.ObjectPath("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF"), deviceObjectPath("hci0", "aa:bb:cc:dd:ee:ff"))
	assert.Equal(t, dbus.ObjectPath("/org/bluez/hci1/dev_01_02_03_04_05_06"), deviceObjectPath("hci1", "01:02:03:04:05:06"))
}

func TestMacFromPath(t *testing.T) {
	tests := []struct {
		path dbus.ObjectPath
		want string
	}{
		{"/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF", "AA:BB:CC:DD:EE:FF"},
		{"/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF/service0010/char0011", ""},
		{"/org/bluez/hci1/dev_AA_BB_CC_DD_EE_FF", ""},
		{"/org/bluez/hci0", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, macFromPath("hci0", tt.path), string(tt.path))
	}
}

func TestAdvertFromSignal(t *testing.T) {
	added := &dbus.Signal{
		Name: interfacesAdded,
		Body: []interface{}{
			dbus.ObjectPath("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF"),
			map[string]map[string]dbus.Variant{
				deviceIface: {
					"Address": dbus.MakeVariant("AA:BB:CC:DD:EE:FF"),
					"Name":    dbus.MakeVariant("Chargie-1"),
					"UUIDs":   dbus.MakeVariant([]string{protocol.ServiceUUIDPrimary}),
					"RSSI":    dbus.MakeVariant(int16(-61)),
				},
			},
		},
	}
	adv, ok := advertFromSignal("hci0", added)
	assert.True(t, ok)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", adv.Address)
	assert.Equal(t, "Chargie-1", adv.Name)
	assert.Equal(t, []string{protocol.ServiceUUIDPrimary}, adv.ServiceUUIDs)
	assert.Equal(t, int16(-61), adv.RSSI)

	rssi := &dbus.Signal{
		Name: propsSignal,
		Path: "/org/bluez/hci0/dev_11_22_33_44_55_66",
		Body: []interface{}{deviceIface, map[string]dbus.Variant{"RSSI": dbus.MakeVariant(int16(-70))}, []string{}},
	}
	adv, ok = advertFromSignal("hci0", rssi)
	assert.True(t, ok)
	assert.Equal(t, "11:22:33:44:55:66", adv.Address)
	assert.Empty(t, adv.Name)

	other := &dbus.Signal{
		Name: propsSignal,
		Path: "/org/bluez/hci0",
		Body: []interface{}{adapterIface, map[string]dbus.Variant{"Discovering": dbus.MakeVariant(true)}, []string{}},
	}
	_, ok = advertFromSignal("hci0", other)
	assert.False(t, ok)
}

func TestFindCharacteristic(t *testing.T) {
	dev := dbus.ObjectPath("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF")
	objs := managedObjects{
		dev: {deviceIface: {}},
		dev + "/service000c/char000d": {
			gattCharIface: {"UUID": dbus.MakeVariant("00002a05-0000-1000-8000-00805f9b34fb")},
		},
		dev + "/service0010/char0011": {
			gattCharIface: {"UUID": dbus.MakeVariant("0000FFE1-0000-1000-8000-00805F9B34FB")},
		},
		"/org/bluez/hci0/dev_11_22_33_44_55_66/service0010/char0011": {
			gattCharIface: {"UUID": dbus.MakeVariant(protocol.CharacteristicUUID)},
		},
	}
	path, ok := findCharacteristic(objs, dev, protocol.CharacteristicUUID)
	assert.True(t, ok)
	assert.Equal(t, dev+"/service0010/char0011", path)

	_, ok = findCharacteristic(objs, "/org/bluez/hci0/dev_00_00_00_00_00_00", protocol.CharacteristicUUID)
	assert.False(t, ok)
}

func TestNotificationValue(t *testing.T) {
	v, ok := notificationValue(map[string]dbus.Variant{"Value": dbus.MakeVariant([]byte("OK+PIO2:1"))})
	assert.True(t, ok)
	assert.Equal(t, "OK+PIO2:1", string(v))

	_, ok = notificationValue(map[string]dbus.Variant{"Notifying": dbus.MakeVariant(true)})
	assert.False(t, ok)
	_, ok = notificationValue(map[string]dbus.Variant{"Value": dbus.MakeVariant([]byte{})})
	assert.False(t, ok)
}
