package epd

import (
	"errors"
	"time"

	"periph.io/x/conn/v3/gpio"
)

// ErrBusyTimeout is returned by a Deadline wait when the panel kept the busy
// line asserted too long. The controller state is unknown afterwards; only a
// hardware reset (Wake) recovers it.
var ErrBusyTimeout = errors.New("epd: busy line still asserted after deadline")

// WaitFunc blocks while busy reads busyLevel. It is the only place the driver
// waits on the panel, so swapping it bounds every operation's latency without
// touching the command sequences.
type WaitFunc func(busy gpio.PinIn, busyLevel gpio.Level) error

// Spin polls the busy line in a tight loop and never gives up. It assumes a
// working panel: a line stuck at busyLevel hangs the caller forever, which is
// indistinguishable from a long refresh.
func Spin(busy gpio.PinIn, busyLevel gpio.Level) error {
	for busy.Read() == busyLevel {
	}
	return nil
}

// Deadline polls every poll interval and fails with ErrBusyTimeout once
// timeout has elapsed with the line still busy. A zero poll spins.
func Deadline(timeout, poll time.Duration) WaitFunc {
	return func(busy gpio.PinIn, busyLevel gpio.Level) error {
		deadline := time.Now().Add(timeout)
		for busy.Read() == busyLevel {
			if !time.Now().Before(deadline) {
				return ErrBusyTimeout
			}
			if poll > 0 {
				time.Sleep(poll)
			}
		}
		return nil
	}
}
