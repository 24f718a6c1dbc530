// Package battery reads the charge of a PiSugar UPS over I2C, the usual
// power source of a battery-run e-paper frame.
package battery

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// DefaultAddr is the PiSugar3 controller address.
const DefaultAddr = 0x57

// PiSugar3 registers.
const (
	regVoltageHigh = 0x22
	regVoltageLow  = 0x23
	regPercent     = 0x2A
)

// Status represents current battery status for the API.
type Status struct {
	// Percent is the battery level in 0–100%.
	Percent int `json:"percent"`
	// VoltageMv is the battery voltage in millivolts.
	VoltageMv int `json:"voltage_mv"`
}

// Reader abstracts how battery information is obtained.
type Reader interface {
	Read(ctx context.Context) (Status, error)
}

// Gauge talks to a PiSugar3 over an I2C bus.
type Gauge struct {
	dev *i2c.Dev
}

// NewGauge uses bus at addr. The bus stays owned by the caller.
func NewGauge(bus i2c.Bus, addr uint16) *Gauge {
	return &Gauge{dev: &i2c.Dev{Bus: bus, Addr: addr}}
}

// Open initializes periph.io and opens the named bus ("" for the first one).
// The returned Closer releases the bus.
func Open(busName string, addr uint16) (*Gauge, io.Closer, error) {
	if _, err := host.Init(); err != nil {
		return nil, nil, fmt.Errorf("battery: periph host init failed: %w", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, nil, fmt.Errorf("battery: failed to open I2C bus %q: %w", busName, err)
	}
	return NewGauge(bus, addr), bus, nil
}

// Read implements Reader.
func (g *Gauge) Read(_ context.Context) (Status, error) {
	readReg := func(reg byte) (byte, error) {
		buf := []byte{0}
		if err := g.dev.Tx([]byte{reg}, buf); err != nil {
			return 0, fmt.Errorf("battery: read register 0x%02X: %w", reg, err)
		}
		return buf[0], nil
	}

	high, err := readReg(regVoltageHigh)
	if err != nil {
		return Status{}, err
	}
	low, err := readReg(regVoltageLow)
	if err != nil {
		return Status{}, err
	}
	pct, err := readReg(regPercent)
	if err != nil {
		return Status{}, err
	}
	if pct > 100 {
		pct = 100
	}

	return Status{
		Percent:   int(pct),
		VoltageMv: int(uint16(high)<<8 | uint16(low)),
	}, nil
}

// cached serves the last successful reading for ttl. Battery status does not
// need sub-second precision and the I2C bus is shared with other HATs.
type cached struct {
	r   Reader
	ttl time.Duration
	now func() time.Time

	mu        sync.Mutex
	status    Status
	updatedAt time.Time
}

// Cached wraps r so that at most one bus read happens per ttl.
func Cached(r Reader, ttl time.Duration) Reader {
	return &cached{r: r, ttl: ttl, now: time.Now}
}

func (c *cached) Read(ctx context.Context) (Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if !c.updatedAt.IsZero() && now.Sub(c.updatedAt) < c.ttl {
		return c.status, nil
	}
	s, err := c.r.Read(ctx)
	if err != nil {
		return Status{}, err
	}
	c.status, c.updatedAt = s, now
	return s, nil
}
