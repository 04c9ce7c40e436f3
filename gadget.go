package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

const (
	configfsGadgetRoot = "/sys/kernel/config/usb_gadget"
	udcClassRoot       = "/sys/class/udc"
)

// reportDescriptor is the boot-protocol keyboard report descriptor: an
// 8-bit modifier bitmap, a reserved byte, a 5-bit LED output report with
// padding, and six key slots.
var reportDescriptor = []byte{
	0x05, 0x01, // Usage Page (Generic Desktop)
	0x09, 0x06, // Usage (Keyboard)
	0xa1, 0x01, // Collection (Application)
	0x05, 0x07, //   Usage Page (Key Codes)
	0x19, 0xe0, //   Usage Minimum (224)
	0x29, 0xe7, //   Usage Maximum (231)
	0x15, 0x00, //   Logical Minimum (0)
	0x25, 0x01, //   Logical Maximum (1)
	0x75, 0x01, //   Report Size (1)
	0x95, 0x08, //   Report Count (8)
	0x81, 0x02, //   Input (Data, Variable, Absolute): modifiers
	0x95, 0x01, //   Report Count (1)
	0x75, 0x08, //   Report Size (8)
	0x81, 0x01, //   Input (Constant): reserved byte
	0x95, 0x05, //   Report Count (5)
	0x75, 0x01, //   Report Size (1)
	0x05, 0x08, //   Usage Page (LEDs)
	0x19, 0x01, //   Usage Minimum (1)
	0x29, 0x05, //   Usage Maximum (5)
	0x91, 0x02, //   Output (Data, Variable, Absolute): LEDs
	0x95, 0x01, //   Report Count (1)
	0x75, 0x03, //   Report Size (3)
	0x91, 0x01, //   Output (Constant): LED padding
	0x95, 0x06, //   Report Count (6)
	0x75, 0x08, //   Report Size (8)
	0x15, 0x00, //   Logical Minimum (0)
	0x25, 0x65, //   Logical Maximum (101)
	0x05, 0x07, //   Usage Page (Key Codes)
	0x19, 0x00, //   Usage Minimum (0)
	0x29, 0x65, //   Usage Maximum (101)
	0x81, 0x00, //   Input (Data, Array): key slots
	0xc0, // End Collection
}

// gadget provisions the configfs USB gadget tree and binds it to a UDC so
// the host enumerates a boot keyboard with remote wakeup.
type gadget struct {
	cfg GadgetConfig
	log *slog.Logger

	configfsRoot string
	udcRoot      string
	udc          string // controller the gadget is bound to, set by build
}

func newGadget(cfg GadgetConfig, log *slog.Logger) *gadget {
	return &gadget{
		cfg:          cfg,
		log:          log,
		configfsRoot: configfsGadgetRoot,
		udcRoot:      udcClassRoot,
	}
}

func (g *gadget) root() string {
	return filepath.Join(g.configfsRoot, g.cfg.Name)
}

// udcStatePath is the sysfs file reflecting the bus state ("not attached",
// "configured", "suspended", ...) of the controller the gadget is bound to.
func (g *gadget) udcStatePath() string {
	return filepath.Join(g.udcRoot, g.udc, "state")
}

// setup builds the gadget tree and binds it. A stale tree left by an unclean
// shutdown is torn down and rebuilt exactly once; failing again is a fatal
// boot error.
func (g *gadget) setup() error {
	err := g.build()
	if err == nil {
		return nil
	}
	g.log.Warn("gadget setup failed, rebuilding from scratch", "err", err)
	if terr := g.teardown(); terr != nil {
		return fmt.Errorf("tear down stale gadget: %w", terr)
	}
	if err := g.build(); err != nil {
		return fmt.Errorf("rebuild gadget: %w", err)
	}
	return nil
}

func (g *gadget) build() error {
	root := g.root()
	strDir := filepath.Join(root, "strings", "0x409")
	cfgDir := filepath.Join(root, "configs", "c.1")
	cfgStrDir := filepath.Join(cfgDir, "strings", "0x409")
	fnDir := filepath.Join(root, "functions", "hid.usb0")

	for _, dir := range []string{root, strDir, cfgDir, cfgStrDir, fnDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}

	attrs := []struct {
		dir, name, value string
	}{
		{root, "idVendor", fmt.Sprintf("0x%04x", g.cfg.VendorID)},
		{root, "idProduct", fmt.Sprintf("0x%04x", g.cfg.ProductID)},
		{root, "bcdDevice", "0x0100"},
		{root, "bcdUSB", "0x0200"},
		{strDir, "manufacturer", g.cfg.Manufacturer},
		{strDir, "product", g.cfg.Product},
		{strDir, "serialnumber", g.cfg.Serial},
		{cfgStrDir, "configuration", "Wake keyboard"},
		// 0xa0: bus powered with remote wakeup, so a report can rouse a
		// suspended host.
		{cfgDir, "bmAttributes", "0xa0"},
		{cfgDir, "MaxPower", "100"},
		{fnDir, "protocol", "1"}, // keyboard
		{fnDir, "subclass", "1"}, // boot interface
		{fnDir, "report_length", "8"},
	}
	for _, a := range attrs {
		if err := writeAttr(a.dir, a.name, a.value); err != nil {
			return err
		}
	}
	if err := os.WriteFile(filepath.Join(fnDir, "report_desc"), reportDescriptor, 0644); err != nil {
		return fmt.Errorf("write report_desc: %w", err)
	}

	if err := os.Symlink(fnDir, filepath.Join(cfgDir, "hid.usb0")); err != nil {
		return fmt.Errorf("link hid function into config: %w", err)
	}

	udc, err := g.pickUDC()
	if err != nil {
		return err
	}
	if err := writeAttr(root, "UDC", udc); err != nil {
		return fmt.Errorf("bind gadget to %s: %w", udc, err)
	}
	g.udc = udc
	g.log.Info("usb gadget bound", "udc", udc,
		"vendor", fmt.Sprintf("0x%04x", g.cfg.VendorID),
		"product", fmt.Sprintf("0x%04x", g.cfg.ProductID))
	return nil
}

func (g *gadget) pickUDC() (string, error) {
	if g.cfg.UDC != "" {
		return g.cfg.UDC, nil
	}
	entries, err := os.ReadDir(g.udcRoot)
	if err != nil {
		return "", fmt.Errorf("list udc controllers: %w", err)
	}
	if len(entries) == 0 {
		return "", fmt.Errorf("no udc controller available under %s", g.udcRoot)
	}
	return entries[0].Name(), nil
}

// teardown unbinds the gadget and deletes its tree, leaf directories first.
// Attribute unlinks are best effort: configfs refuses them and drops the
// files on rmdir instead.
func (g *gadget) teardown() error {
	root := g.root()
	if _, err := os.Stat(root); errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	writeAttr(root, "UDC", "") // unbind; may already be unbound
	os.Remove(filepath.Join(root, "configs", "c.1", "hid.usb0"))

	// Leaf directories first. The intermediate strings/configs/functions
	// directories are kernel-owned on configfs and vanish with the root;
	// removing them is best effort so the same walk works on any filesystem.
	dirs := []string{
		filepath.Join(root, "configs", "c.1", "strings", "0x409"),
		filepath.Join(root, "configs", "c.1", "strings"),
		filepath.Join(root, "configs", "c.1"),
		filepath.Join(root, "configs"),
		filepath.Join(root, "functions", "hid.usb0"),
		filepath.Join(root, "functions"),
		filepath.Join(root, "strings", "0x409"),
		filepath.Join(root, "strings"),
	}
	for _, dir := range dirs {
		removeAttrFiles(dir)
		os.Remove(dir)
	}
	removeAttrFiles(root)
	if err := os.Remove(root); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", root, err)
	}
	return nil
}

func removeAttrFiles(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			os.Remove(filepath.Join(dir, e.Name()))
		}
	}
}

func writeAttr(dir, name, value string) error {
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(value), 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
