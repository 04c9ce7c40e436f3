package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/godbus/dbus/v5"
)

type lifecycleState int

const (
	stateBooting lifecycleState = iota
	stateRadioInit
	stateIdle
	stateConnected
)

func (s lifecycleState) String() string {
	switch s {
	case stateRadioInit:
		return "radio-init"
	case stateIdle:
		return "idle"
	case stateConnected:
		return "connected"
	default:
		return "booting"
	}
}

type linkState int

const (
	linkNone linkState = iota
	linkConnecting
	linkConnected
)

// peripheralSession tracks the single active link. The trigger path never
// consults it; it exists for the idle/connected transition and for logging.
type peripheralSession struct {
	path  dbus.ObjectPath
	addr  string
	state linkState
}

// coordinator is the top-level state machine tying boot, radio bring-up,
// advertising and connections together. Its event loop is the only place
// lifecycle or advertising state is touched.
type coordinator struct {
	log    *slog.Logger
	bz     *bluez
	adv    *advertiser
	events chan bleEvent

	state   lifecycleState
	session *peripheralSession
}

// runDaemon is the whole boot sequence. Everything up to the event loop is a
// fatal boot error if it fails; the device must not come up half-initialized.
func runDaemon(cfg Config, log *slog.Logger) error {
	g := newGadget(cfg.Gadget, log)
	if err := g.setup(); err != nil {
		return fmt.Errorf("usb gadget setup: %w", err)
	}
	defer func() {
		if err := g.teardown(); err != nil {
			log.Warn("gadget teardown failed", "err", err)
		}
	}()

	kb, err := openKeyboard(cfg.Gadget.HIDDevice, g.udcStatePath(), log)
	if err != nil {
		return err
	}
	defer kb.close()
	go kb.drainOutputReports()

	applyPowerPolicy(cfg.Power, log)

	bz, err := newBluez(cfg.Adapter)
	if err != nil {
		return err
	}
	defer bz.close()

	emit := newEmitter(kb, cfg.Wake, log)
	go emit.run()
	defer emit.close()

	events := make(chan bleEvent, 16)
	c := &coordinator{
		log:    log,
		bz:     bz,
		adv:    &advertiser{log: log, reg: bz, events: events},
		events: events,
		state:  stateBooting,
	}

	app := &gattApp{
		disp:        &dispatcher{log: log, emit: emit},
		serviceUUID: cfg.Wake.ServiceUUID,
		charUUID:    cfg.Wake.CharUUID,
		userDesc:    cfg.Wake.Description,
	}
	ad := &advertisement{
		localName:    cfg.Wake.DeviceName,
		serviceUUIDs: []string{cfg.Wake.ServiceUUID},
		minInterval:  cfg.Advertising.MinIntervalMs,
		maxInterval:  cfg.Advertising.MaxIntervalMs,
		events:       events,
	}
	return c.run(app, ad)
}

func (c *coordinator) run(app *gattApp, ad *advertisement) error {
	c.state = stateRadioInit

	if err := app.export(c.bz.conn); err != nil {
		return err
	}
	if err := ad.export(c.bz.conn); err != nil {
		return err
	}
	if err := c.bz.setAdapterPowered(true); err != nil {
		return fmt.Errorf("power on adapter: %w", err)
	}
	// Fatal when rejected: a table BlueZ refused must never be served.
	if err := c.bz.registerApplication(appPath); err != nil {
		return fmt.Errorf("register gatt application: %w", err)
	}
	c.log.Info("gatt application registered", "objects", gattObjectCount)

	go c.watchConnections(c.bz.subscribeConnectionChanges())
	c.events <- stackSynced{}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case ev := <-c.events:
			c.handleEvent(ev)
		case <-quit:
			c.log.Info("shutting down")
			c.shutdown()
			return nil
		}
	}
}

func (c *coordinator) handleEvent(ev bleEvent) {
	switch ev := ev.(type) {
	case stackSynced:
		c.state = stateIdle
		c.log.Info("radio host synced, arming advertising")
		c.adv.start()

	case peerConnected:
		c.session = &peripheralSession{path: ev.Path, addr: ev.Addr, state: linkConnected}
		c.state = stateConnected
		c.log.Info("peer connected", "addr", ev.Addr)

	case peerDisconnected:
		if c.session != nil && c.session.path == ev.Path {
			c.session = nil
		}
		c.state = stateIdle
		c.log.Info("peer disconnected, re-arming advertising", "addr", ev.Addr)
		// Idempotent: a no-op when advertising survived the disconnect.
		c.adv.start()

	case advStartResult:
		c.adv.handleStartResult(ev.Err)

	case advReleased:
		c.adv.handleReleased()
	}
}

// watchConnections turns Device1.Connected property flips into coordinator
// events. BlueZ serializes its own signal delivery; this goroutine only
// forwards.
func (c *coordinator) watchConnections(sigCh chan *dbus.Signal) {
	for sig := range sigCh {
		if sig.Name != propsSignal {
			continue
		}
		// Body: [interface_name string, changed_props map[string]Variant, invalidated []string]
		if len(sig.Body) < 2 {
			continue
		}
		iface, ok := sig.Body[0].(string)
		if !ok || iface != deviceIface {
			continue
		}
		changed, ok := sig.Body[1].(map[string]dbus.Variant)
		if !ok {
			continue
		}
		connVar, ok := changed["Connected"]
		if !ok {
			continue
		}
		connected, ok := connVar.Value().(bool)
		if !ok {
			continue
		}
		addr := macFromPath(sig.Path)
		if connected {
			c.events <- peerConnected{Path: sig.Path, Addr: addr}
		} else {
			c.events <- peerDisconnected{Path: sig.Path, Addr: addr}
		}
	}
}

func (c *coordinator) shutdown() {
	c.adv.stop()
	if err := c.bz.unregisterApplication(appPath); err != nil {
		c.log.Warn("unregister gatt application failed", "err", err)
	}
}
