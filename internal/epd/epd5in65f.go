// Package epd drives the Waveshare 5.65" seven-color e-paper module (F) over
// SPI using periph.io.
//
// The panel has no read-back path: every operation is a fixed sequence of
// command and data transactions separated by waits on the busy line. Bus
// errors abort the sequence in flight and are returned unchanged; the panel
// is then in an undefined configuration until the next Wake.
package epd

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sync/atomic"
	"time"

	"epdframe/internal/convert"
	"epdframe/internal/octcolor"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/display"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

// Panel geometry.
const (
	Width      = 600
	Height     = 448
	BufferSize = Width * Height / 2
)

// DefaultBackground is the fill used by ClearFrame until SetBackground.
const DefaultBackground = octcolor.White

const (
	// busyLevel is what the busy line reads while the controller works.
	busyLevel = gpio.Low

	resetHold   = 2 * time.Millisecond
	settleDelay = 100 * time.Millisecond
)

var (
	// ErrBufferSize is returned when a frame buffer is not BufferSize bytes.
	ErrBufferSize = fmt.Errorf("epd: frame buffer must be %d bytes", BufferSize)
	// ErrSleeping is returned by every operation but Wake while the panel is
	// in deep sleep. No bytes are sent.
	ErrSleeping = errors.New("epd: panel is in deep sleep")
)

// Opts configures a Dev.
type Opts struct {
	// Wait replaces the busy-line poll. nil spins forever.
	Wait WaitFunc
	// Speed is the SPI clock used by NewSPI. 0 selects 4MHz.
	Speed physic.Frequency
	// Mode is the SPI mode used by NewSPI. Add spi.NoCS when the CS line is
	// not the port's hardware chip-select.
	Mode spi.Mode
}

// Dev is a handle to one panel. It is not safe for concurrent use: a Dev
// panics if a second goroutine enters it while an operation is in flight.
type Dev struct {
	t *Transport

	bg       octcolor.OctColor
	sleeping bool

	active atomic.Bool
}

// New takes ownership of an already connected bus and the four lines, and
// runs the full initialization sequence before returning.
func New(c conn.Conn, cs, dc, rst gpio.PinOut, busy gpio.PinIn, opts *Opts) (*Dev, error) {
	if opts == nil {
		opts = &Opts{}
	}
	return newDev(NewTransport(c, cs, dc, rst, busy, opts.Wait))
}

// NewSPI connects to p and calls New. busy is configured as a pulled-up
// input and cs is parked high.
func NewSPI(p spi.Port, cs, dc, rst gpio.PinOut, busy gpio.PinIn, opts *Opts) (*Dev, error) {
	if opts == nil {
		opts = &Opts{}
	}
	speed := opts.Speed
	if speed == 0 {
		speed = 4 * physic.MegaHertz
	}
	c, err := p.Connect(speed, opts.Mode, 8)
	if err != nil {
		return nil, fmt.Errorf("epd: failed to connect SPI: %w", err)
	}
	if err := cs.Out(gpio.High); err != nil {
		return nil, fmt.Errorf("epd: cs Out failed: %w", err)
	}
	if err := busy.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("epd: busy In failed: %w", err)
	}
	return New(c, cs, dc, rst, busy, opts)
}

func newDev(t *Transport) (*Dev, error) {
	d := &Dev{t: t, bg: DefaultBackground}
	if err := d.init(); err != nil {
		return nil, err
	}
	return d, nil
}

// init resets the controller and programs it. Order and values are the
// vendor's and must not change.
func (d *Dev) init() error {
	if err := d.t.Reset(resetHold); err != nil {
		return err
	}

	steps := []struct {
		cmd  Command
		data []byte
	}{
		{PanelSetting, []byte{0xEF, 0x08}},
		{PowerSetting, []byte{0x37, 0x00, 0x23, 0x23}},
		{PowerOffSequenceSetting, []byte{0x00}},
		{BoosterSoftStart, []byte{0xC7, 0xC7, 0x1D}},
		{PLLControl, []byte{0x3C}},
		{TemperatureSensorCommand, []byte{0x00}},
		{VCOMAndDataIntervalSetting, []byte{0x37}},
		{TCONSetting, []byte{0x22}},
	}
	for _, s := range steps {
		if err := d.t.CommandWithData(s.cmd, s.data); err != nil {
			return err
		}
	}
	if err := d.sendResolution(); err != nil {
		return err
	}
	if err := d.t.CommandWithData(FlashMode, []byte{0xAA}); err != nil {
		return err
	}

	d.t.sleep(settleDelay)

	return d.t.CommandWithData(VCOMAndDataIntervalSetting, []byte{0x37})
}

// sendResolution must precede every frame load. Each byte is its own data
// transaction, as the vendor sequence does.
func (d *Dev) sendResolution() error {
	if err := d.t.Command(TCONResolution); err != nil {
		return err
	}
	for _, b := range []byte{Width >> 8, Width & 0xFF, Height >> 8, Height & 0xFF} {
		if err := d.t.Data([]byte{b}); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dev) acquire() {
	if !d.active.CompareAndSwap(false, true) {
		panic("epd: Dev entered concurrently; callers must serialize access")
	}
}

func (d *Dev) release() {
	d.active.Store(false)
}

// Wake runs the full initialization sequence again. There is no lighter
// resume command, and no shortcut when the panel is already awake.
func (d *Dev) Wake() error {
	d.acquire()
	defer d.release()

	if err := d.init(); err != nil {
		return err
	}
	d.sleeping = false
	return nil
}

// Sleep puts the panel into deep sleep. Only Wake is accepted afterwards.
func (d *Dev) Sleep() error {
	d.acquire()
	defer d.release()

	if d.sleeping {
		return ErrSleeping
	}
	if err := d.t.CommandWithData(DeepSleep, []byte{0xA5}); err != nil {
		return err
	}
	d.sleeping = true
	return nil
}

// UpdateFrame loads buf into panel memory without refreshing the panel.
func (d *Dev) UpdateFrame(buf []byte) error {
	d.acquire()
	defer d.release()

	if d.sleeping {
		return ErrSleeping
	}
	return d.updateFrame(buf)
}

// DisplayFrame refreshes the panel from its memory. It blocks for the whole
// refresh, typically a dozen seconds.
func (d *Dev) DisplayFrame() error {
	d.acquire()
	defer d.release()

	if d.sleeping {
		return ErrSleeping
	}
	return d.displayFrame()
}

// UpdateAndDisplayFrame is UpdateFrame followed by DisplayFrame.
func (d *Dev) UpdateAndDisplayFrame(buf []byte) error {
	d.acquire()
	defer d.release()

	if d.sleeping {
		return ErrSleeping
	}
	if err := d.updateFrame(buf); err != nil {
		return err
	}
	return d.displayFrame()
}

// ClearFrame fills the panel with the background color and refreshes it.
func (d *Dev) ClearFrame() error {
	d.acquire()
	defer d.release()

	if d.sleeping {
		return ErrSleeping
	}
	fill := octcolor.ColorsByte(d.bg, d.bg)
	if err := d.waitReady(); err != nil {
		return err
	}
	if err := d.sendResolution(); err != nil {
		return err
	}
	if err := d.t.Command(DataStartTransmission1); err != nil {
		return err
	}
	if err := d.t.DataRepeat(fill, BufferSize); err != nil {
		return err
	}
	return d.displayFrame()
}

// SetBackground changes the ClearFrame fill. No bytes are sent.
func (d *Dev) SetBackground(c octcolor.OctColor) {
	d.acquire()
	defer d.release()
	d.bg = c
}

// Background returns the ClearFrame fill.
func (d *Dev) Background() octcolor.OctColor {
	d.acquire()
	defer d.release()
	return d.bg
}

// Sleeping reports whether the last successful lifecycle call was Sleep.
func (d *Dev) Sleeping() bool {
	d.acquire()
	defer d.release()
	return d.sleeping
}

func (d *Dev) Width() int  { return Width }
func (d *Dev) Height() int { return Height }

// IsBusy samples the busy line once without blocking.
func (d *Dev) IsBusy() bool {
	return d.t.IsBusy(busyLevel)
}

// ColorModel implements display.Drawer.
func (d *Dev) ColorModel() color.Model {
	return octcolor.Palette
}

// Bounds implements display.Drawer.
func (d *Dev) Bounds() image.Rectangle {
	return image.Rect(0, 0, Width, Height)
}

// Draw implements display.Drawer. Pixels outside dstRect keep the background
// color; the whole panel is refreshed since this model has no partial update.
func (d *Dev) Draw(dstRect image.Rectangle, src image.Image, srcPts image.Point) error {
	d.acquire()
	defer d.release()

	if d.sleeping {
		return ErrSleeping
	}
	img := image.NewPaletted(d.Bounds(), octcolor.Palette)
	for i := range img.Pix {
		img.Pix[i] = byte(d.bg)
	}
	draw.Draw(img, dstRect, src, srcPts, draw.Src)
	if err := d.updateFrame(convert.PackPaletted(img)); err != nil {
		return err
	}
	return d.displayFrame()
}

// Halt implements conn.Resource by putting the panel to sleep.
func (d *Dev) Halt() error {
	err := d.Sleep()
	if errors.Is(err, ErrSleeping) {
		return nil
	}
	return err
}

func (d *Dev) String() string {
	return fmt.Sprintf("epd.Dev{%s, %dx%d}", d.t.c, Width, Height)
}

func (d *Dev) updateFrame(buf []byte) error {
	if len(buf) != BufferSize {
		return ErrBufferSize
	}
	if err := d.waitReady(); err != nil {
		return err
	}
	if err := d.sendResolution(); err != nil {
		return err
	}
	return d.t.CommandWithData(DataStartTransmission1, buf)
}

// displayFrame powers the charge pump on, refreshes and powers it off. The
// wait after PowerOff uses the opposite polarity from the others, as the
// vendor sequence does.
func (d *Dev) displayFrame() error {
	if err := d.waitReady(); err != nil {
		return err
	}
	if err := d.t.Command(PowerOn); err != nil {
		return err
	}
	if err := d.waitReady(); err != nil {
		return err
	}
	if err := d.t.Command(DisplayRefresh); err != nil {
		return err
	}
	if err := d.waitReady(); err != nil {
		return err
	}
	if err := d.t.Command(PowerOff); err != nil {
		return err
	}
	return d.t.WaitUntilIdle(!busyLevel)
}

func (d *Dev) waitReady() error {
	return d.t.WaitUntilIdle(busyLevel)
}

var _ display.Drawer = &Dev{}
var _ Display = &Dev{}
