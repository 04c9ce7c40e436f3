package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// reportWriteTimeoutMs bounds how long a single report write may wait for
// the host to poll the interrupt endpoint.
const reportWriteTimeoutMs = 1000

// keyboard is the HID gadget character device plus the UDC state file that
// serves as the host-ready predicate.
type keyboard struct {
	fd        int
	statePath string
	log       *slog.Logger
}

func openKeyboard(dev, statePath string, log *slog.Logger) (*keyboard, error) {
	// Non-blocking: f_hid writes park forever when the host never polls,
	// and reads must not wedge the drain goroutine on close.
	fd, err := unix.Open(dev, unix.O_RDWR|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("open hid gadget %s: %w", dev, err)
	}
	return &keyboard{fd: fd, statePath: statePath, log: log}, nil
}

func (k *keyboard) close() error {
	return unix.Close(k.fd)
}

// ready reports whether the host side can accept a keystroke. "suspended"
// counts: a report written to a suspended link makes the UDC raise remote
// wakeup before queueing the transfer.
func (k *keyboard) ready() bool {
	data, err := os.ReadFile(k.statePath)
	if err != nil {
		return false
	}
	state := strings.TrimSpace(string(data))
	return state == "configured" || state == "suspended"
}

// writeReport sends one 8-byte boot keyboard report.
func (k *keyboard) writeReport(rep [8]byte) error {
	pfd := []unix.PollFd{{Fd: int32(k.fd), Events: unix.POLLOUT}}
	if _, err := unix.Poll(pfd, reportWriteTimeoutMs); err != nil {
		return fmt.Errorf("poll hid gadget: %w", err)
	}
	if pfd[0].Revents&unix.POLLOUT == 0 {
		return errors.New("hid endpoint not writable within timeout")
	}
	n, err := unix.Write(k.fd, rep[:])
	if err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	if n != len(rep) {
		return fmt.Errorf("short report write: %d bytes", n)
	}
	return nil
}

// drainOutputReports reads and discards host output reports (LED state,
// num-lock and friends). We accept them so the endpoint never backs up, but
// nothing here cares about LEDs.
func (k *keyboard) drainOutputReports() {
	buf := make([]byte, 8)
	for {
		pfd := []unix.PollFd{{Fd: int32(k.fd), Events: unix.POLLIN}}
		if _, err := unix.Poll(pfd, -1); err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			k.log.Debug("output report drain stopped", "err", err)
			return
		}
		if _, err := unix.Read(k.fd, buf); err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				continue
			}
			k.log.Debug("output report drain stopped", "err", err)
			return
		}
	}
}
