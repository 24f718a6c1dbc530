package epd

import (
	"bytes"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
)

// repeatChunk bounds the scratch buffer used by DataRepeat.
const repeatChunk = 4096

// Transport drives the serial bus and the four control lines of one panel.
// It knows nothing about the panel itself.
//
// A Transport must have exactly one owner. The lines and the bus connection
// passed to NewTransport must not be driven by anything else while the
// Transport is alive; interleaved transactions corrupt the controller's
// command parser.
type Transport struct {
	c conn.Conn

	cs   gpio.PinOut
	dc   gpio.PinOut
	rst  gpio.PinOut
	busy gpio.PinIn

	wait  WaitFunc
	sleep func(time.Duration)

	// maxTx is the largest single Tx the connection accepts, 0 if unbounded.
	maxTx int
}

// NewTransport wraps a connected bus and the control lines. A nil wait uses
// Spin.
func NewTransport(c conn.Conn, cs, dc, rst gpio.PinOut, busy gpio.PinIn, wait WaitFunc) *Transport {
	if wait == nil {
		wait = Spin
	}
	t := &Transport{
		c:     c,
		cs:    cs,
		dc:    dc,
		rst:   rst,
		busy:  busy,
		wait:  wait,
		sleep: time.Sleep,
	}
	if l, ok := c.(conn.Limits); ok {
		t.maxTx = l.MaxTxSize()
	}
	return t
}

// Reset pulses the active-low reset line, returning the controller to its
// power-on state. hold is how long the line stays asserted.
func (t *Transport) Reset(hold time.Duration) error {
	if err := t.rst.Out(gpio.High); err != nil {
		return err
	}
	t.sleep(10 * time.Millisecond)
	if err := t.rst.Out(gpio.Low); err != nil {
		return err
	}
	t.sleep(hold)
	if err := t.rst.Out(gpio.High); err != nil {
		return err
	}
	t.sleep(200 * time.Millisecond)
	return nil
}

// Command sends one opcode as its own transaction.
func (t *Transport) Command(cmd Command) error {
	return t.frame(gpio.Low, func() error {
		return t.tx([]byte{cmd.Address()})
	})
}

// Data sends data as one transaction in data mode.
func (t *Transport) Data(data []byte) error {
	return t.frame(gpio.High, func() error {
		return t.tx(data)
	})
}

// CommandWithData sends cmd followed by its parameter bytes.
func (t *Transport) CommandWithData(cmd Command, data []byte) error {
	if err := t.Command(cmd); err != nil {
		return err
	}
	return t.Data(data)
}

// DataRepeat sends value n times as one data transaction without allocating
// n bytes. n <= 0 sends nothing.
func (t *Transport) DataRepeat(value byte, n int) error {
	if n <= 0 {
		return nil
	}
	size := repeatChunk
	if t.maxTx > 0 && t.maxTx < size {
		size = t.maxTx
	}
	if n < size {
		size = n
	}
	buf := bytes.Repeat([]byte{value}, size)
	return t.frame(gpio.High, func() error {
		for n > 0 {
			k := min(n, len(buf))
			if err := t.c.Tx(buf[:k], nil); err != nil {
				return err
			}
			n -= k
		}
		return nil
	})
}

// WaitUntilIdle blocks while the busy line reads busyLevel.
func (t *Transport) WaitUntilIdle(busyLevel gpio.Level) error {
	return t.wait(t.busy, busyLevel)
}

// IsBusy samples the busy line once.
func (t *Transport) IsBusy(busyLevel gpio.Level) bool {
	return t.busy.Read() == busyLevel
}

// frame selects command or data mode, asserts chip-select around fn and
// always releases chip-select. fn's error wins over a release error.
func (t *Transport) frame(dc gpio.Level, fn func() error) error {
	if err := t.dc.Out(dc); err != nil {
		return err
	}
	if err := t.cs.Out(gpio.Low); err != nil {
		return err
	}
	err := fn()
	if csErr := t.cs.Out(gpio.High); err == nil {
		err = csErr
	}
	return err
}

// tx writes w, split to the connection's transfer limit.
func (t *Transport) tx(w []byte) error {
	if t.maxTx <= 0 {
		return t.c.Tx(w, nil)
	}
	for len(w) > 0 {
		k := min(len(w), t.maxTx)
		if err := t.c.Tx(w[:k], nil); err != nil {
			return err
		}
		w = w[k:]
	}
	return nil
}
