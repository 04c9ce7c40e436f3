package main

import (
	"fmt"
	"log/slog"

	"github.com/godbus/dbus/v5"
)

const (
	advIface = "org.bluez.LEAdvertisement1"
	advPath  = dbus.ObjectPath("/io/pentawake/advertisement0")
)

// advertisement is the LEAdvertisement1 object BlueZ reads back after
// RegisterAdvertisement. Its payload is fixed at boot.
type advertisement struct {
	localName    string
	serviceUUIDs []string
	minInterval  uint32 // ms
	maxInterval  uint32 // ms
	events       chan<- bleEvent
}

func (ad *advertisement) export(conn *dbus.Conn) error {
	if err := conn.Export(ad, advPath, advIface); err != nil {
		return fmt.Errorf("export advertisement: %w", err)
	}
	if err := conn.Export(ad, advPath, propsIface); err != nil {
		return fmt.Errorf("export advertisement properties: %w", err)
	}
	return nil
}

func (ad *advertisement) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	if iface != advIface {
		return nil, errUnknownInterface
	}
	return map[string]dbus.Variant{
		"Type":         dbus.MakeVariant("peripheral"),
		"LocalName":    dbus.MakeVariant(ad.localName),
		"ServiceUUIDs": dbus.MakeVariant(ad.serviceUUIDs),
		"Includes":     dbus.MakeVariant([]string{"tx-power"}),
		"Discoverable": dbus.MakeVariant(true),
		"MinInterval":  dbus.MakeVariant(ad.minInterval),
		"MaxInterval":  dbus.MakeVariant(ad.maxInterval),
	}, nil
}

// Release is invoked by BlueZ when it drops the advertisement on its own
// (adapter reset, advertising timeout). Re-arming happens on the
// coordinator's loop, not here.
func (ad *advertisement) Release() *dbus.Error {
	ad.events <- advReleased{}
	return nil
}

// registrar abstracts the blocking advertising registration call so the
// controller can be driven without a radio in tests.
type registrar interface {
	registerAdvertisement(path dbus.ObjectPath) error
	unregisterAdvertisement(path dbus.ObjectPath) error
}

type advState int

const (
	advStopped advState = iota
	advStarting
	advActive
)

func (s advState) String() string {
	switch s {
	case advStarting:
		return "starting"
	case advActive:
		return "active"
	default:
		return "stopped"
	}
}

// advertiser owns the discoverability state. All methods run on the
// coordinator's event loop, so the state needs no lock.
type advertiser struct {
	log    *slog.Logger
	reg    registrar
	events chan<- bleEvent

	state   advState
	pending bool // a start arrived while a registration was in flight
}

// start arms advertising. It is safe to call on every lifecycle transition:
// an already-active advertiser is a no-op, and a call racing an in-flight
// registration is deferred until that registration resolves rather than
// stacking a second radio command.
func (a *advertiser) start() {
	switch a.state {
	case advActive:
		return
	case advStarting:
		a.pending = true
		return
	}
	a.state = advStarting
	go func() {
		err := a.reg.registerAdvertisement(advPath)
		a.events <- advStartResult{Err: err}
	}()
}

func (a *advertiser) handleStartResult(err error) {
	if err != nil {
		// Recoverable: the next disconnect or release re-arms.
		a.state = advStopped
		a.log.Error("advertising start failed", "err", err)
	} else {
		a.state = advActive
		a.log.Info("advertising active")
	}
	if a.pending {
		a.pending = false
		a.start()
	}
}

func (a *advertiser) handleReleased() {
	if a.state == advStarting {
		a.pending = true
		return
	}
	a.log.Warn("advertisement released by stack, re-arming")
	a.state = advStopped
	a.start()
}

// stop unregisters on shutdown. Best effort; the daemon is exiting anyway.
func (a *advertiser) stop() {
	if a.state == advStopped {
		return
	}
	if err := a.reg.unregisterAdvertisement(advPath); err != nil {
		a.log.Warn("unregister advertisement failed", "err", err)
	}
	a.state = advStopped
}
