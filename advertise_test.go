package main

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRegistrar struct {
	mu     sync.Mutex
	calls  int
	unregs int
	err    error
	gate   chan struct{} // when non-nil, registration blocks until closed
}

func (f *fakeRegistrar) registerAdvertisement(path dbus.ObjectPath) error {
	f.mu.Lock()
	f.calls++
	gate := f.gate
	err := f.err
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return err
}

func (f *fakeRegistrar) unregisterAdvertisement(path dbus.ObjectPath) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unregs++
	return nil
}

func (f *fakeRegistrar) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func nextEvent(t *testing.T, events chan bleEvent) bleEvent {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func newTestAdvertiser(reg registrar) (*advertiser, chan bleEvent) {
	events := make(chan bleEvent, 16)
	return &advertiser{log: testLogger(), reg: reg, events: events}, events
}

func TestStartReachesActive(t *testing.T) {
	reg := &fakeRegistrar{}
	a, events := newTestAdvertiser(reg)

	a.start()
	require.Equal(t, advStarting, a.state)

	res := nextEvent(t, events).(advStartResult)
	a.handleStartResult(res.Err)

	assert.Equal(t, advActive, a.state)
	assert.Equal(t, 1, reg.callCount())
}

func TestStartIsIdempotentWhileActive(t *testing.T) {
	reg := &fakeRegistrar{}
	a, events := newTestAdvertiser(reg)

	a.start()
	a.handleStartResult(nextEvent(t, events).(advStartResult).Err)
	require.Equal(t, advActive, a.state)

	a.start()
	a.start()

	assert.Equal(t, advActive, a.state)
	assert.Equal(t, 1, reg.callCount())
}

func TestStartDefersWhileRegistrationInFlight(t *testing.T) {
	reg := &fakeRegistrar{gate: make(chan struct{})}
	a, events := newTestAdvertiser(reg)

	a.start()
	a.start() // must not stack a second radio command
	require.Eventually(t, func() bool { return reg.callCount() == 1 },
		time.Second, time.Millisecond)

	close(reg.gate)
	a.handleStartResult(nextEvent(t, events).(advStartResult).Err)

	// The deferred call resolves into a no-op once active.
	assert.Equal(t, advActive, a.state)
	assert.Equal(t, 1, reg.callCount())
}

func TestStartFailureIsRecoverable(t *testing.T) {
	reg := &fakeRegistrar{err: errors.New("adapter busy")}
	a, events := newTestAdvertiser(reg)

	a.start()
	a.handleStartResult(nextEvent(t, events).(advStartResult).Err)
	require.Equal(t, advStopped, a.state)

	// Next lifecycle transition retries.
	reg.mu.Lock()
	reg.err = nil
	reg.mu.Unlock()
	a.start()
	a.handleStartResult(nextEvent(t, events).(advStartResult).Err)

	assert.Equal(t, advActive, a.state)
	assert.Equal(t, 2, reg.callCount())
}

func TestReleaseReArms(t *testing.T) {
	reg := &fakeRegistrar{}
	a, events := newTestAdvertiser(reg)

	a.start()
	a.handleStartResult(nextEvent(t, events).(advStartResult).Err)
	require.Equal(t, advActive, a.state)

	a.handleReleased()
	require.Equal(t, advStarting, a.state)
	a.handleStartResult(nextEvent(t, events).(advStartResult).Err)

	assert.Equal(t, advActive, a.state)
	assert.Equal(t, 2, reg.callCount())
}

func TestReleaseWhileStartingDefers(t *testing.T) {
	reg := &fakeRegistrar{gate: make(chan struct{})}
	a, events := newTestAdvertiser(reg)

	a.start()
	a.handleReleased()
	require.Eventually(t, func() bool { return reg.callCount() == 1 },
		time.Second, time.Millisecond)

	close(reg.gate)
	a.handleStartResult(nextEvent(t, events).(advStartResult).Err)

	assert.Equal(t, advActive, a.state)
	assert.Equal(t, 1, reg.callCount())
}

func TestStopUnregisters(t *testing.T) {
	reg := &fakeRegistrar{}
	a, events := newTestAdvertiser(reg)

	a.start()
	a.handleStartResult(nextEvent(t, events).(advStartResult).Err)
	a.stop()

	assert.Equal(t, advStopped, a.state)
	assert.Equal(t, 1, reg.unregs)
}

func TestAdvertisementProperties(t *testing.T) {
	events := make(chan bleEvent, 1)
	ad := &advertisement{
		localName:    "Penta Power Btn",
		serviceUUIDs: []string{"000000ff-0000-1000-8000-00805f9b34fb"},
		minInterval:  20,
		maxInterval:  100,
		events:       events,
	}

	props, derr := ad.GetAll(advIface)
	require.Nil(t, derr)
	assert.Equal(t, "peripheral", props["Type"].Value())
	assert.Equal(t, "Penta Power Btn", props["LocalName"].Value())
	assert.Equal(t, uint32(20), props["MinInterval"].Value())
	assert.Equal(t, uint32(100), props["MaxInterval"].Value())

	_, derr = ad.GetAll("org.bluez.Nope1")
	assert.NotNil(t, derr)

	require.Nil(t, ad.Release())
	assert.IsType(t, advReleased{}, nextEvent(t, events))
}
