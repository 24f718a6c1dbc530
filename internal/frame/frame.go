// Package frame is the single owner of a panel in the appliance. It
// serializes HTTP handlers and scheduled jobs, renders images to panel
// buffers and keeps the last frame for previews.
package frame

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"sync"
	"time"

	"epdframe/internal/capture"
	"epdframe/internal/config"
	"epdframe/internal/convert"
	appLog "epdframe/internal/log"
	"epdframe/internal/octcolor"
)

// ErrNoSource is returned by Refresh when nothing is configured to show.
var ErrNoSource = errors.New("frame: no source configured")

// Panel is what Frame drives. *epd.Dev satisfies it.
type Panel interface {
	Wake() error
	Sleep() error
	UpdateAndDisplayFrame(buf []byte) error
	ClearFrame() error
	SetBackground(c octcolor.OctColor)
	IsBusy() bool
}

// CaptureFunc screenshots a URL to PNG bytes.
type CaptureFunc func(ctx context.Context, opts capture.CaptureOptions) ([]byte, error)

// Options configures a Frame.
type Options struct {
	Width, Height int

	Scale      convert.Scale
	Dither     bool
	Rotate     bool
	Background octcolor.OctColor

	// SleepAfter puts the panel into deep sleep after every refresh and
	// wakes it before the next one.
	SleepAfter bool

	// PreviewPath, if set, receives a PNG of every frame.
	PreviewPath string

	Source config.SourceConfig

	// Capture defaults to capture.CapturePNG.
	Capture CaptureFunc
}

// Status is a snapshot of the panel as last driven by this Frame.
type Status struct {
	Width       int               `json:"width"`
	Height      int               `json:"height"`
	Hardware    bool              `json:"hardware"`
	Background  octcolor.OctColor `json:"background"`
	Sleeping    bool              `json:"sleeping"`
	Busy        bool              `json:"busy"`
	LastRefresh time.Time         `json:"last_refresh,omitzero"`
	LastError   string            `json:"last_error,omitempty"`
}

// Frame serializes all access to one panel. A nil panel renders previews
// only, for development away from the hardware.
type Frame struct {
	mu    sync.Mutex
	panel Panel
	opts  Options

	bg          octcolor.OctColor
	sleeping    bool
	lastRefresh time.Time
	lastErr     error
	preview     *image.Paletted
}

// New wraps panel. The panel must be freshly initialized.
func New(panel Panel, opts Options) *Frame {
	if opts.Capture == nil {
		opts.Capture = capture.CapturePNG
	}
	if panel != nil {
		panel.SetBackground(opts.Background)
	}
	return &Frame{
		panel: panel,
		opts:  opts,
		bg:    opts.Background,
	}
}

// Show renders img and refreshes the panel with it.
func (f *Frame) Show(img image.Image) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record(f.show(img))
}

// ShowReader decodes an encoded image and shows it.
func (f *Frame) ShowReader(r io.Reader) error {
	img, format, err := convert.Decode(r)
	if err != nil {
		return err
	}
	appLog.Debug("decoded image", "format", format, "bounds", img.Bounds())
	return f.Show(img)
}

// Refresh loads the configured source and shows it. URL sources are
// captured with headless Chromium at panel resolution.
func (f *Frame) Refresh(ctx context.Context) error {
	img, err := f.load(ctx)
	if err != nil {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.record(err)
	}
	return f.Show(img)
}

// Clear fills the panel with c, or with the current background when c is
// nil.
func (f *Frame) Clear(c *octcolor.OctColor) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if c != nil {
		f.bg = *c
		if f.panel != nil {
			f.panel.SetBackground(*c)
		}
	}
	start := time.Now()
	err := f.drive(func() error { return f.panel.ClearFrame() })
	if err != nil {
		return f.record(err)
	}
	f.setPreview(convert.Uniform(f.opts.Width, f.opts.Height, f.bg))
	appLog.Info("panel cleared", "color", f.bg, "took", time.Since(start).Round(time.Millisecond))
	return f.record(nil)
}

// Sleep puts the panel into deep sleep. Sleeping twice is not an error.
func (f *Frame) Sleep() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.sleeping || f.panel == nil {
		f.sleeping = true
		return nil
	}
	if err := f.panel.Sleep(); err != nil {
		return f.record(fmt.Errorf("frame: sleep failed: %w", err))
	}
	f.sleeping = true
	appLog.Info("panel asleep")
	return nil
}

// Wake re-initializes the panel.
func (f *Frame) Wake() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record(f.wake())
}

// Status returns a snapshot without touching the bus beyond one busy-line
// sample.
func (f *Frame) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()

	s := Status{
		Width:       f.opts.Width,
		Height:      f.opts.Height,
		Hardware:    f.panel != nil,
		Background:  f.bg,
		Sleeping:    f.sleeping,
		LastRefresh: f.lastRefresh,
	}
	if f.panel != nil && !f.sleeping {
		s.Busy = f.panel.IsBusy()
	}
	if f.lastErr != nil {
		s.LastError = f.lastErr.Error()
	}
	return s
}

// WritePreview encodes the last frame as PNG. It returns false if nothing
// was shown yet.
func (f *Frame) WritePreview(w io.Writer) (bool, error) {
	f.mu.Lock()
	p := f.preview
	f.mu.Unlock()

	if p == nil {
		return false, nil
	}
	return true, png.Encode(w, p)
}

func (f *Frame) show(img image.Image) error {
	start := time.Now()
	buf, p, err := convert.Render(img, convert.Options{
		Width:      f.opts.Width,
		Height:     f.opts.Height,
		Scale:      f.opts.Scale,
		Dither:     f.opts.Dither,
		Rotate:     f.opts.Rotate,
		Background: f.bg,
	})
	if err != nil {
		return err
	}
	f.setPreview(p)
	appLog.Debug("frame rendered", "took", time.Since(start).Round(time.Millisecond))

	if err := f.drive(func() error { return f.panel.UpdateAndDisplayFrame(buf) }); err != nil {
		return err
	}
	appLog.Info("panel refreshed", "took", time.Since(start).Round(time.Millisecond))
	return nil
}

// drive wakes the panel if needed, runs op and applies SleepAfter. It is a
// no-op without hardware.
func (f *Frame) drive(op func() error) error {
	if f.panel == nil {
		f.lastRefresh = time.Now()
		return nil
	}
	if f.sleeping {
		if err := f.wake(); err != nil {
			return err
		}
	}
	if err := op(); err != nil {
		return fmt.Errorf("frame: panel update failed: %w", err)
	}
	f.lastRefresh = time.Now()
	if f.opts.SleepAfter {
		if err := f.panel.Sleep(); err != nil {
			return fmt.Errorf("frame: sleep failed: %w", err)
		}
		f.sleeping = true
	}
	return nil
}

func (f *Frame) wake() error {
	if f.panel == nil {
		f.sleeping = false
		return nil
	}
	if err := f.panel.Wake(); err != nil {
		return fmt.Errorf("frame: wake failed: %w", err)
	}
	f.sleeping = false
	appLog.Debug("panel awake")
	return nil
}

func (f *Frame) load(ctx context.Context) (image.Image, error) {
	src := f.opts.Source
	switch {
	case src.URL != "":
		data, err := f.opts.Capture(ctx, capture.CaptureOptions{
			URL:    src.URL,
			Width:  f.opts.Width,
			Height: f.opts.Height,
		})
		if err != nil {
			return nil, err
		}
		img, _, err := convert.Decode(bytes.NewReader(data))
		return img, err
	case src.Image != "":
		fh, err := os.Open(src.Image)
		if err != nil {
			return nil, fmt.Errorf("frame: open source image: %w", err)
		}
		defer fh.Close()
		img, _, err := convert.Decode(fh)
		return img, err
	default:
		return nil, ErrNoSource
	}
}

func (f *Frame) setPreview(p *image.Paletted) {
	f.preview = p
	if f.opts.PreviewPath == "" {
		return
	}
	var b bytes.Buffer
	if err := png.Encode(&b, p); err != nil {
		appLog.Error("failed to encode preview", err)
		return
	}
	if err := os.WriteFile(f.opts.PreviewPath, b.Bytes(), 0o644); err != nil {
		appLog.Error("failed to write preview", err, "path", f.opts.PreviewPath)
	}
}

// record stores err as the last error, clearing it on success.
func (f *Frame) record(err error) error {
	f.lastErr = err
	return err
}
