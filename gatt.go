package main

import (
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	gattServiceIface   = "org.bluez.GattService1"
	gattCharIface      = "org.bluez.GattCharacteristic1"
	gattDescIface      = "org.bluez.GattDescriptor1"
	objectManagerIface = "org.freedesktop.DBus.ObjectManager"

	appPath     = dbus.ObjectPath("/io/pentawake")
	servicePath = appPath + "/service0"
	charPath    = servicePath + "/char0"
	descPath    = charPath + "/desc0"

	// Characteristic User Description.
	userDescUUID = "00002901-0000-1000-8000-00805f9b34fb"
)

// gattObjectCount is the number of attribute objects the application exports
// (service, characteristic, descriptor). BlueZ reads them back through
// ObjectManager during registration; exporting a different number means a
// half-built table and is treated as a fatal boot error.
const gattObjectCount = 3

var errUnknownInterface = dbus.NewError("org.freedesktop.DBus.Error.UnknownInterface", nil)

// gattApp is the wake service's attribute table, exported on the system bus
// and handed to BlueZ via GattManager1.RegisterApplication.
type gattApp struct {
	disp        *dispatcher
	serviceUUID string
	charUUID    string
	userDesc    string
}

// GetManagedObjects implements org.freedesktop.DBus.ObjectManager; BlueZ
// calls it once during application registration.
func (a *gattApp) GetManagedObjects() (map[dbus.ObjectPath]map[string]map[string]dbus.Variant, *dbus.Error) {
	return a.managedObjects(), nil
}

func (a *gattApp) managedObjects() map[dbus.ObjectPath]map[string]map[string]dbus.Variant {
	return map[dbus.ObjectPath]map[string]map[string]dbus.Variant{
		servicePath: {gattServiceIface: a.serviceProps()},
		charPath:    {gattCharIface: a.charProps()},
		descPath:    {gattDescIface: a.descProps()},
	}
}

func (a *gattApp) serviceProps() map[string]dbus.Variant {
	return map[string]dbus.Variant{
		"UUID":    dbus.MakeVariant(a.serviceUUID),
		"Primary": dbus.MakeVariant(true),
	}
}

func (a *gattApp) charProps() map[string]dbus.Variant {
	return map[string]dbus.Variant{
		"UUID":    dbus.MakeVariant(a.charUUID),
		"Service": dbus.MakeVariant(servicePath),
		"Flags":   dbus.MakeVariant([]string{"read", "write", "write-without-response"}),
	}
}

func (a *gattApp) descProps() map[string]dbus.Variant {
	return map[string]dbus.Variant{
		"UUID":           dbus.MakeVariant(userDescUUID),
		"Characteristic": dbus.MakeVariant(charPath),
		"Flags":          dbus.MakeVariant([]string{"read"}),
	}
}

// export publishes the application tree on the bus and verifies the table
// holds exactly the expected number of attribute objects.
func (a *gattApp) export(conn *dbus.Conn) error {
	svc := &wakeService{app: a}
	chr := &wakeChar{app: a}
	dsc := &wakeDesc{app: a}

	exports := []struct {
		obj   interface{}
		path  dbus.ObjectPath
		iface string
	}{
		{a, appPath, objectManagerIface},
		{svc, servicePath, propsIface},
		{chr, charPath, gattCharIface},
		{chr, charPath, propsIface},
		{dsc, descPath, gattDescIface},
		{dsc, descPath, propsIface},
	}
	for _, e := range exports {
		if err := conn.Export(e.obj, e.path, e.iface); err != nil {
			return fmt.Errorf("export %s at %s: %w", e.iface, e.path, err)
		}
	}

	if n := len(a.managedObjects()); n != gattObjectCount {
		return fmt.Errorf("gatt table holds %d objects, expected %d", n, gattObjectCount)
	}
	return nil
}

// wakeService only exists so BlueZ can read the service properties.
type wakeService struct {
	app *gattApp
}

func (s *wakeService) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	if iface != gattServiceIface {
		return nil, errUnknownInterface
	}
	return s.app.serviceProps(), nil
}

// wakeChar is the write-capable wake characteristic.
type wakeChar struct {
	app *gattApp
}

func (c *wakeChar) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	if iface != gattCharIface {
		return nil, errUnknownInterface
	}
	return c.app.charProps(), nil
}

// WriteValue is the trigger entry point: BlueZ invokes it for every write a
// peer issues against the wake characteristic.
func (c *wakeChar) WriteValue(value []byte, options map[string]dbus.Variant) *dbus.Error {
	var from string
	if v, ok := options["device"]; ok {
		if p, ok := v.Value().(dbus.ObjectPath); ok {
			from = macFromPath(p)
		}
	}
	c.app.disp.handleWrite(value, from)
	return nil
}

// ReadValue always reports a fixed zero. The characteristic is write-only in
// spirit; reads never reflect state.
func (c *wakeChar) ReadValue(options map[string]dbus.Variant) ([]byte, *dbus.Error) {
	return []byte{0x00}, nil
}

// wakeDesc is the human-readable description attached to the characteristic.
type wakeDesc struct {
	app *gattApp
}

func (d *wakeDesc) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	if iface != gattDescIface {
		return nil, errUnknownInterface
	}
	return d.app.descProps(), nil
}

func (d *wakeDesc) ReadValue(options map[string]dbus.Variant) ([]byte, *dbus.Error) {
	return []byte(d.app.userDesc), nil
}
