package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyboardReadyTracksUDCState(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "state")
	k := &keyboard{fd: -1, statePath: statePath, log: testLogger()}

	cases := []struct {
		state string
		ready bool
	}{
		{"configured\n", true},
		{"suspended\n", true}, // a write raises remote wakeup first
		{"not attached\n", false},
		{"default\n", false},
		{"addressed\n", false},
	}
	for _, tc := range cases {
		require.NoError(t, os.WriteFile(statePath, []byte(tc.state), 0644))
		assert.Equal(t, tc.ready, k.ready(), "state %q", tc.state)
	}
}

func TestKeyboardNotReadyWithoutStateFile(t *testing.T) {
	k := &keyboard{fd: -1, statePath: filepath.Join(t.TempDir(), "missing"), log: testLogger()}
	assert.False(t, k.ready())
}

func TestOpenKeyboardMissingDevice(t *testing.T) {
	_, err := openKeyboard(filepath.Join(t.TempDir(), "hidg0"), "", testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open hid gadget")
}
