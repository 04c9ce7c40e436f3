package main

import (
	"log/slog"
	"time"
)

// reportWriter is the USB transport the emitter drives. Implemented by
// *keyboard, faked in tests.
type reportWriter interface {
	ready() bool
	writeReport(rep [8]byte) error
}

type keystrokeRequest struct {
	keycode byte
	hold    time.Duration
}

// emitter turns wake requests into key-down/key-up report pairs. A single
// worker goroutine drains a capacity-1 queue: one request may be in flight
// and one more queued behind it, so pairs from distinct requests can never
// interleave and corrupt the host's key state.
type emitter struct {
	log *slog.Logger
	dev reportWriter

	keycode      byte
	hold         time.Duration
	pollInterval time.Duration
	pollBudget   int

	queue chan keystrokeRequest
	done  chan struct{}
}

func newEmitter(dev reportWriter, cfg WakeConfig, log *slog.Logger) *emitter {
	return &emitter{
		log:          log,
		dev:          dev,
		keycode:      cfg.Keycode,
		hold:         cfg.hold(),
		pollInterval: cfg.pollInterval(),
		pollBudget:   cfg.PollBudget,
		queue:        make(chan keystrokeRequest, 1),
		done:         make(chan struct{}),
	}
}

// submit queues one keystroke without blocking the caller. Returns false
// when a request is already waiting; the overlapping trigger is coalesced
// into it.
func (e *emitter) submit() bool {
	select {
	case e.queue <- keystrokeRequest{keycode: e.keycode, hold: e.hold}:
		return true
	default:
		return false
	}
}

func (e *emitter) run() {
	defer close(e.done)
	for req := range e.queue {
		e.send(req)
	}
}

// close drains the queue and waits for an in-flight keystroke to finish.
func (e *emitter) close() {
	close(e.queue)
	<-e.done
}

// send blocks until the host is ready or the poll budget runs out, then
// presses and releases the wake key. Only ever runs on the worker goroutine.
func (e *emitter) send(req keystrokeRequest) {
	if !e.waitReady() {
		// Usual cause: the host has not enumerated us yet, e.g. right after
		// our own power-up. Non-fatal; the next trigger tries again.
		e.log.Warn("usb host not ready, dropping keystroke",
			"budget", e.pollBudget, "interval", e.pollInterval)
		return
	}

	var down [8]byte
	down[2] = req.keycode
	if err := e.dev.writeReport(down); err != nil {
		e.log.Warn("key-down report failed", "err", err)
		return
	}
	time.Sleep(req.hold)
	if err := e.dev.writeReport([8]byte{}); err != nil {
		// The host may now believe the key is held; nothing we can do
		// beyond saying so.
		e.log.Error("key-up report failed", "err", err)
		return
	}
	e.log.Info("wake keystroke sent", "keycode", req.keycode, "hold", req.hold)
}

func (e *emitter) waitReady() bool {
	retries := e.pollBudget
	for !e.dev.ready() {
		if retries == 0 {
			return false
		}
		retries--
		time.Sleep(e.pollInterval)
	}
	return true
}
