package capture

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
)

// Default capture parameters: the 5.65" panel in landscape.
const (
	DefaultWidth      = 600
	DefaultHeight     = 448
	DefaultTimeoutSec = 30
	// DefaultReady waits for the page to be laid out at all.
	DefaultReady = "body"
)

// CaptureOptions defines parameters for a Chromium-based screenshot capture.
type CaptureOptions struct {
	// URL to capture, e.g. "http://127.0.0.1:3000/frame".
	URL string

	// Width and Height are the viewport dimensions in pixels. If zero,
	// DefaultWidth / DefaultHeight are used.
	Width  int
	Height int

	// Ready is a CSS selector that must be visible before the screenshot,
	// e.g. `[data-ready="true"]` for pages that load data asynchronously.
	Ready string

	// Settle is an extra delay after Ready for final paints. 0 uses 500ms.
	Settle time.Duration

	// Timeout bounds the entire capture operation. If zero, a sane default
	// (DefaultTimeoutSec) is used.
	Timeout time.Duration
}

func (o *CaptureOptions) applyDefaults() error {
	if o.URL == "" {
		return fmt.Errorf("capture: URL is required")
	}
	if o.Width <= 0 {
		o.Width = DefaultWidth
	}
	if o.Height <= 0 {
		o.Height = DefaultHeight
	}
	if o.Ready == "" {
		o.Ready = DefaultReady
	}
	if o.Settle <= 0 {
		o.Settle = 500 * time.Millisecond
	}
	if o.Timeout <= 0 {
		o.Timeout = time.Duration(DefaultTimeoutSec) * time.Second
	}
	return nil
}

// CapturePNG launches a headless Chromium instance via chromedp, navigates
// to opts.URL at exactly the panel resolution, waits for opts.Ready and
// returns a full-color PNG screenshot. Quantization to the panel palette is
// left to the caller.
func CapturePNG(parentCtx context.Context, opts CaptureOptions) ([]byte, error) {
	if err := opts.applyDefaults(); err != nil {
		return nil, err
	}

	ctx, cancel := chromedp.NewContext(parentCtx)
	defer cancel()

	// Apply timeout to the entire capture sequence.
	ctx, timeoutCancel := context.WithTimeout(ctx, opts.Timeout)
	defer timeoutCancel()

	var png []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(opts.Width), int64(opts.Height)),
		chromedp.Navigate(opts.URL),
		chromedp.WaitVisible(opts.Ready, chromedp.ByQuery),
		chromedp.Sleep(opts.Settle),
		chromedp.FullScreenshot(&png, 100),
	}

	if err := chromedp.Run(ctx, tasks); err != nil {
		return nil, fmt.Errorf("capture: chromedp run failed: %w", err)
	}
	return png, nil
}
