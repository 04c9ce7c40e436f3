package main

import "github.com/godbus/dbus/v5"

// bleEvent is the closed set of radio-stack events the coordinator consumes.
// The signal watcher, the advertisement object and the registration goroutine
// all funnel through a single channel, so lifecycle and advertising state are
// only ever touched from the coordinator's loop.
type bleEvent interface {
	isBLEEvent()
}

// stackSynced fires once, after the adapter is powered and the GATT
// application has been registered and acknowledged.
type stackSynced struct{}

// peerConnected reports a central having connected.
type peerConnected struct {
	Path dbus.ObjectPath
	Addr string
}

// peerDisconnected reports a link going away, for any reason.
type peerDisconnected struct {
	Path dbus.ObjectPath
	Addr string
}

// advStartResult carries the outcome of an in-flight advertising
// registration.
type advStartResult struct {
	Err error
}

// advReleased means the stack dropped our advertisement (timeout, adapter
// reset); the device is not discoverable again until re-armed.
type advReleased struct{}

func (stackSynced) isBLEEvent()      {}
func (peerConnected) isBLEEvent()    {}
func (peerDisconnected) isBLEEvent() {}
func (advStartResult) isBLEEvent()   {}
func (advReleased) isBLEEvent()      {}
