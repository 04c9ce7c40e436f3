package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGadget(t *testing.T) *gadget {
	t.Helper()
	g := newGadget(Defaults().Gadget, testLogger())
	g.configfsRoot = t.TempDir()
	g.udcRoot = t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(g.udcRoot, "dummy_udc"), 0755))
	return g
}

func readAttr(t *testing.T, elems ...string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(elems...))
	require.NoError(t, err)
	return string(data)
}

func TestGadgetSetupBuildsTree(t *testing.T) {
	g := newTestGadget(t)
	require.NoError(t, g.setup())
	root := g.root()

	assert.Equal(t, "0x303a", readAttr(t, root, "idVendor"))
	assert.Equal(t, "0x1001", readAttr(t, root, "idProduct"))
	assert.Equal(t, "Penta Power Button", readAttr(t, root, "strings", "0x409", "product"))
	assert.Equal(t, "PB-001", readAttr(t, root, "strings", "0x409", "serialnumber"))
	assert.Equal(t, "0xa0", readAttr(t, root, "configs", "c.1", "bmAttributes"))
	assert.Equal(t, "1", readAttr(t, root, "functions", "hid.usb0", "protocol"))
	assert.Equal(t, "8", readAttr(t, root, "functions", "hid.usb0", "report_length"))

	desc, err := os.ReadFile(filepath.Join(root, "functions", "hid.usb0", "report_desc"))
	require.NoError(t, err)
	assert.Equal(t, reportDescriptor, desc)

	link, err := os.Lstat(filepath.Join(root, "configs", "c.1", "hid.usb0"))
	require.NoError(t, err)
	assert.NotZero(t, link.Mode()&os.ModeSymlink)

	assert.Equal(t, "dummy_udc", readAttr(t, root, "UDC"))
	assert.Equal(t, filepath.Join(g.udcRoot, "dummy_udc", "state"), g.udcStatePath())
}

func TestGadgetSetupRebuildsStaleTree(t *testing.T) {
	g := newTestGadget(t)
	require.NoError(t, g.setup())

	// A second boot over the leftovers of an unclean shutdown: the first
	// build trips over the stale tree, gets exactly one rebuild.
	g2 := newGadget(Defaults().Gadget, testLogger())
	g2.configfsRoot = g.configfsRoot
	g2.udcRoot = g.udcRoot
	require.NoError(t, g2.setup())

	assert.Equal(t, "dummy_udc", readAttr(t, g2.root(), "UDC"))
}

func TestGadgetSetupFatalWhenRebuildFails(t *testing.T) {
	g := newTestGadget(t)
	// No controller present: build fails, teardown succeeds, rebuild fails
	// again. That is a fatal boot error, not a retry loop.
	require.NoError(t, os.Remove(filepath.Join(g.udcRoot, "dummy_udc")))

	err := g.setup()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rebuild gadget")
}

func TestGadgetTeardownIsIdempotent(t *testing.T) {
	g := newTestGadget(t)
	require.NoError(t, g.setup())

	require.NoError(t, g.teardown())
	_, err := os.Stat(g.root())
	assert.True(t, os.IsNotExist(err))

	// Nothing left to remove is fine.
	require.NoError(t, g.teardown())
}

func TestReportDescriptorIsBootKeyboard(t *testing.T) {
	require.Len(t, reportDescriptor, 63)
	// Generic Desktop / Keyboard application collection.
	assert.Equal(t, []byte{0x05, 0x01, 0x09, 0x06, 0xa1, 0x01}, reportDescriptor[:6])
	assert.Equal(t, byte(0xc0), reportDescriptor[len(reportDescriptor)-1])
}

func TestPickUDCHonorsConfig(t *testing.T) {
	g := newTestGadget(t)
	g.cfg.UDC = "20980000.usb"

	udc, err := g.pickUDC()
	require.NoError(t, err)
	assert.Equal(t, "20980000.usb", udc)
}
