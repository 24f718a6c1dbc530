package frame

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"

	"epdframe/internal/capture"
	"epdframe/internal/config"
	"epdframe/internal/convert"
	"epdframe/internal/octcolor"
)

const w, h = 8, 4

type fakePanel struct {
	mu    sync.Mutex
	calls []string
	bg    octcolor.OctColor
	last  []byte
	fail  map[string]error
	busy  bool

	inside  atomic.Int32
	overlap atomic.Bool
}

func (p *fakePanel) enter(name string) error {
	if p.inside.Add(1) > 1 {
		p.overlap.Store(true)
	}
	defer p.inside.Add(-1)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, name)
	return p.fail[name]
}

func (p *fakePanel) Wake() error  { return p.enter("wake") }
func (p *fakePanel) Sleep() error { return p.enter("sleep") }
func (p *fakePanel) ClearFrame() error {
	return p.enter("clear")
}
func (p *fakePanel) UpdateAndDisplayFrame(buf []byte) error {
	p.mu.Lock()
	p.last = append([]byte(nil), buf...)
	p.mu.Unlock()
	return p.enter("show")
}
func (p *fakePanel) SetBackground(c octcolor.OctColor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bg = c
}
func (p *fakePanel) IsBusy() bool { return p.busy }

func uniform(c octcolor.OctColor) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func newFrame(p Panel, mod func(*Options)) *Frame {
	opts := Options{Width: w, Height: h, Background: octcolor.White, Scale: convert.ScaleFill}
	if mod != nil {
		mod(&opts)
	}
	return New(p, opts)
}

func TestShow(t *testing.T) {
	p := &fakePanel{}
	f := newFrame(p, nil)

	if err := f.Show(uniform(octcolor.Green)); err != nil {
		t.Fatalf("Show() error = %v", err)
	}
	if !reflect.DeepEqual(p.calls, []string{"show"}) {
		t.Errorf("calls = %q", p.calls)
	}
	if !bytes.Equal(p.last, bytes.Repeat([]byte{0x22}, w*h/2)) {
		t.Errorf("buffer = % X", p.last)
	}

	st := f.Status()
	if st.LastRefresh.IsZero() || st.LastError != "" || !st.Hardware {
		t.Errorf("status = %+v", st)
	}

	var b bytes.Buffer
	ok, err := f.WritePreview(&b)
	if !ok || err != nil {
		t.Fatalf("WritePreview() = %v, %v", ok, err)
	}
	img, err := png.Decode(&b)
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() != w || octcolor.Model.Convert(img.At(0, 0)) != octcolor.Green {
		t.Errorf("preview = %v", img.Bounds())
	}
}

func TestSleepAfterWakesBeforeNextRefresh(t *testing.T) {
	p := &fakePanel{}
	f := newFrame(p, func(o *Options) { o.SleepAfter = true })

	for i := 0; i < 2; i++ {
		if err := f.Show(uniform(octcolor.Red)); err != nil {
			t.Fatal(err)
		}
	}
	want := []string{"show", "sleep", "wake", "show", "sleep"}
	if !reflect.DeepEqual(p.calls, want) {
		t.Errorf("calls = %q, want %q", p.calls, want)
	}
	if !f.Status().Sleeping {
		t.Error("status should report sleeping")
	}
}

func TestClear(t *testing.T) {
	p := &fakePanel{}
	f := newFrame(p, nil)
	if p.bg != octcolor.White {
		t.Fatalf("New did not push the background: %v", p.bg)
	}

	c := octcolor.Blue
	if err := f.Clear(&c); err != nil {
		t.Fatal(err)
	}
	if err := f.Clear(nil); err != nil {
		t.Fatal(err)
	}
	if p.bg != octcolor.Blue || f.Status().Background != octcolor.Blue {
		t.Errorf("background = %v / %v", p.bg, f.Status().Background)
	}
	if !reflect.DeepEqual(p.calls, []string{"clear", "clear"}) {
		t.Errorf("calls = %q", p.calls)
	}
}

func TestSleepWake(t *testing.T) {
	p := &fakePanel{}
	f := newFrame(p, nil)

	if err := f.Sleep(); err != nil {
		t.Fatal(err)
	}
	if err := f.Sleep(); err != nil {
		t.Fatal(err)
	}
	if err := f.Wake(); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(p.calls, []string{"sleep", "wake"}) {
		t.Errorf("calls = %q", p.calls)
	}
}

func TestPanelErrorIsRecorded(t *testing.T) {
	boom := errors.New("bus write failed")
	p := &fakePanel{fail: map[string]error{"show": boom}}
	f := newFrame(p, nil)

	err := f.Show(uniform(octcolor.Red))
	if !errors.Is(err, boom) {
		t.Fatalf("Show() error = %v, want wrapped %v", err, boom)
	}
	if st := f.Status(); st.LastError == "" || !st.LastRefresh.IsZero() {
		t.Errorf("status = %+v", st)
	}

	delete(p.fail, "show")
	if err := f.Show(uniform(octcolor.Red)); err != nil {
		t.Fatal(err)
	}
	if st := f.Status(); st.LastError != "" {
		t.Errorf("a success must clear the last error: %+v", st)
	}
}

func TestRenderOnly(t *testing.T) {
	dir := t.TempDir()
	preview := filepath.Join(dir, "preview.png")
	f := newFrame(nil, func(o *Options) { o.PreviewPath = preview })

	if err := f.Show(uniform(octcolor.Yellow)); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(preview); err != nil {
		t.Errorf("preview file not written: %v", err)
	}
	if err := f.Sleep(); err != nil {
		t.Fatal(err)
	}
	c := octcolor.Black
	if err := f.Clear(&c); err != nil {
		t.Fatal(err)
	}
	st := f.Status()
	if st.Hardware || st.Busy {
		t.Errorf("status = %+v", st)
	}
}

func TestRefresh(t *testing.T) {
	t.Run("none", func(t *testing.T) {
		f := newFrame(&fakePanel{}, nil)
		if err := f.Refresh(context.Background()); !errors.Is(err, ErrNoSource) {
			t.Errorf("Refresh() error = %v, want ErrNoSource", err)
		}
	})

	t.Run("image", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "src.png")
		var b bytes.Buffer
		if err := png.Encode(&b, uniform(octcolor.Orange)); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, b.Bytes(), 0o600); err != nil {
			t.Fatal(err)
		}

		p := &fakePanel{}
		f := newFrame(p, func(o *Options) { o.Source = config.SourceConfig{Image: path} })
		if err := f.Refresh(context.Background()); err != nil {
			t.Fatal(err)
		}
		if p.last[0] != 0x66 {
			t.Errorf("buffer[0] = 0x%02X, want 0x66", p.last[0])
		}
	})

	t.Run("url", func(t *testing.T) {
		var got capture.CaptureOptions
		fake := func(_ context.Context, o capture.CaptureOptions) ([]byte, error) {
			got = o
			var b bytes.Buffer
			err := png.Encode(&b, uniform(octcolor.Blue))
			return b.Bytes(), err
		}
		p := &fakePanel{}
		f := newFrame(p, func(o *Options) {
			o.Source = config.SourceConfig{URL: "http://localhost/frame", Image: "ignored.png"}
			o.Capture = fake
		})
		if err := f.Refresh(context.Background()); err != nil {
			t.Fatal(err)
		}
		if got.URL != "http://localhost/frame" || got.Width != w || got.Height != h {
			t.Errorf("capture options = %+v", got)
		}
		if p.last[0] != 0x33 {
			t.Errorf("buffer[0] = 0x%02X, want 0x33", p.last[0])
		}
	})
}

func TestConcurrentCallersAreSerialized(t *testing.T) {
	p := &fakePanel{}
	f := newFrame(p, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			switch i % 3 {
			case 0:
				_ = f.Show(uniform(octcolor.Red))
			case 1:
				_ = f.Clear(nil)
			default:
				_ = f.Status()
			}
		}(i)
	}
	wg.Wait()
	if p.overlap.Load() {
		t.Error("panel was entered concurrently")
	}
}
