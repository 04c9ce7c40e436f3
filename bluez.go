package main

import (
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
)

const (
	busName          = "org.bluez"
	adapterIface     = "org.bluez.Adapter1"
	deviceIface      = "org.bluez.Device1"
	gattManagerIface = "org.bluez.GattManager1"
	advManagerIface  = "org.bluez.LEAdvertisingManager1"
	propsIface       = "org.freedesktop.DBus.Properties"
	propsSignal      = "org.freedesktop.DBus.Properties.PropertiesChanged"
)

// macFromPath extracts a MAC address from a BlueZ device object path like
// "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF".
func macFromPath(path dbus.ObjectPath) string {
	s := string(path)
	i := strings.LastIndex(s, "/dev_")
	if i < 0 {
		return ""
	}
	return strings.ReplaceAll(s[i+len("/dev_"):], "_", ":")
}

// bluez wraps a system D-Bus connection for BlueZ operations against one
// adapter.
type bluez struct {
	conn        *dbus.Conn
	adapterPath dbus.ObjectPath
}

func newBluez(adapter string) (*bluez, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect to system bus: %w", err)
	}
	// Quick check that BlueZ is on the bus.
	var names []string
	if err := conn.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		conn.Close()
		return nil, fmt.Errorf("list bus names: %w", err)
	}
	found := false
	for _, n := range names {
		if n == busName {
			found = true
			break
		}
	}
	if !found {
		conn.Close()
		return nil, fmt.Errorf("org.bluez not found on system bus (is bluetooth.service running?)")
	}
	return &bluez{
		conn:        conn,
		adapterPath: dbus.ObjectPath("/org/bluez/" + adapter),
	}, nil
}

func (b *bluez) close() {
	b.conn.Close()
}

// --- property helpers ---

func (b *bluez) setProp(path dbus.ObjectPath, iface, prop string, val interface{}) error {
	obj := b.conn.Object(busName, path)
	return obj.Call(propsIface+".Set", 0, iface, prop, dbus.MakeVariant(val)).Err
}

// --- adapter ---

func (b *bluez) setAdapterPowered(on bool) error {
	return b.setProp(b.adapterPath, adapterIface, "Powered", on)
}

// --- GATT application ---

// registerApplication hands the exported attribute table to BlueZ. The stack
// reads it back over ObjectManager before replying, so a nil error means the
// whole table was accepted.
func (b *bluez) registerApplication(app dbus.ObjectPath) error {
	obj := b.conn.Object(busName, b.adapterPath)
	return obj.Call(gattManagerIface+".RegisterApplication", 0, app, map[string]dbus.Variant{}).Err
}

func (b *bluez) unregisterApplication(app dbus.ObjectPath) error {
	obj := b.conn.Object(busName, b.adapterPath)
	return obj.Call(gattManagerIface+".UnregisterApplication", 0, app).Err
}

// --- advertising ---

func (b *bluez) registerAdvertisement(ad dbus.ObjectPath) error {
	obj := b.conn.Object(busName, b.adapterPath)
	return obj.Call(advManagerIface+".RegisterAdvertisement", 0, ad, map[string]dbus.Variant{}).Err
}

func (b *bluez) unregisterAdvertisement(ad dbus.ObjectPath) error {
	obj := b.conn.Object(busName, b.adapterPath)
	return obj.Call(advManagerIface+".UnregisterAdvertisement", 0, ad).Err
}

// --- signal subscription ---

// subscribeConnectionChanges delivers Device1 PropertiesChanged signals for
// everything under /org/bluez, which is where connect and disconnect edges
// show up on the peripheral side.
func (b *bluez) subscribeConnectionChanges() chan *dbus.Signal {
	b.conn.BusObject().Call(
		"org.freedesktop.DBus.AddMatch", 0,
		"type='signal',interface='"+propsIface+"',member='PropertiesChanged',path_namespace='/org/bluez'",
	)
	ch := make(chan *dbus.Signal, 16)
	b.conn.Signal(ch)
	return ch
}
