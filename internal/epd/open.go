package epd

import (
	"fmt"
	"io"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// Pins names the control lines as understood by gpioreg, e.g. "GPIO8".
type Pins struct {
	CS   string
	DC   string
	RST  string
	Busy string
}

// HatPins is the wiring of the Waveshare e-Paper HAT on a Raspberry Pi.
var HatPins = Pins{
	CS:   "GPIO8",
	DC:   "GPIO25",
	RST:  "GPIO17",
	Busy: "GPIO24",
}

// Open initializes periph.io, opens the SPI port by name ("" for the first
// one), looks up the pins and returns an initialized Dev. The returned Closer
// releases the SPI port.
func Open(port string, pins Pins, opts *Opts) (*Dev, io.Closer, error) {
	if _, err := host.Init(); err != nil {
		return nil, nil, fmt.Errorf("epd: periph host init failed: %w", err)
	}

	cs, err := lookup(pins.CS)
	if err != nil {
		return nil, nil, err
	}
	dc, err := lookup(pins.DC)
	if err != nil {
		return nil, nil, err
	}
	rst, err := lookup(pins.RST)
	if err != nil {
		return nil, nil, err
	}
	busy, err := lookup(pins.Busy)
	if err != nil {
		return nil, nil, err
	}
	if err := rst.Out(gpio.High); err != nil {
		return nil, nil, fmt.Errorf("epd: gpio %s Out failed: %w", pins.RST, err)
	}

	p, err := spireg.Open(port)
	if err != nil {
		return nil, nil, fmt.Errorf("epd: failed to open SPI port %q: %w", port, err)
	}

	d, err := NewSPI(p, cs, dc, rst, busy, opts)
	if err != nil {
		_ = p.Close()
		return nil, nil, err
	}
	return d, p, nil
}

func lookup(name string) (gpio.PinIO, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("epd: gpio %q not found", name)
	}
	return p, nil
}
