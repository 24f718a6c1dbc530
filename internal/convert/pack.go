// Package convert turns arbitrary images into seven-color panel buffers.
package convert

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"io"

	// Registered decoders for Decode.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/disintegration/imaging"

	"epdframe/internal/octcolor"
)

// Scale selects how a source of a different size reaches the panel size.
type Scale string

const (
	// ScaleFill resizes to cover the panel and crops the center.
	ScaleFill Scale = "fill"
	// ScaleFit resizes to fit inside the panel and pads with the background.
	ScaleFit Scale = "fit"
)

// Options controls Render.
type Options struct {
	Width, Height int
	Scale         Scale
	// Dither enables Floyd-Steinberg error diffusion over the palette.
	Dither bool
	// Rotate turns sources whose orientation differs from the panel's by 90
	// degrees before scaling, so portrait photos use the whole panel.
	Rotate bool
	// Background pads ScaleFit letterboxes.
	Background octcolor.OctColor
}

// Decode reads a PNG, JPEG, GIF, BMP or WebP image.
func Decode(r io.Reader) (image.Image, string, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, "", fmt.Errorf("convert: decode failed: %w", err)
	}
	return img, format, nil
}

// Render scales img to the panel, quantizes it to the palette and packs it.
// It returns the packed buffer and the quantized image for previews.
func Render(img image.Image, opts Options) ([]byte, *image.Paletted, error) {
	if opts.Width <= 0 || opts.Height <= 0 || opts.Width%2 != 0 {
		return nil, nil, fmt.Errorf("convert: invalid panel size %dx%d", opts.Width, opts.Height)
	}
	scaled := Fit(img, opts)
	p := Quantize(scaled, opts.Dither)
	return PackPaletted(p), p, nil
}

// Fit resizes img to exactly opts.Width x opts.Height.
func Fit(img image.Image, opts Options) *image.NRGBA {
	w, h := opts.Width, opts.Height
	b := img.Bounds()

	if opts.Rotate && (b.Dx() > b.Dy()) != (w > h) && b.Dx() != b.Dy() {
		img = imaging.Rotate90(img)
		b = img.Bounds()
	}

	if b.Dx() == w && b.Dy() == h {
		return imaging.Clone(img)
	}

	switch opts.Scale {
	case ScaleFit:
		bg := imaging.New(w, h, opts.Background)
		return imaging.PasteCenter(bg, imaging.Fit(img, w, h, imaging.Lanczos))
	default:
		return imaging.Fill(img, w, h, imaging.Center, imaging.Lanczos)
	}
}

// Quantize maps img onto the seven-color palette. Palette indexes equal
// nibble codes.
func Quantize(img image.Image, dither bool) *image.Paletted {
	b := img.Bounds()
	p := image.NewPaletted(image.Rect(0, 0, b.Dx(), b.Dy()), octcolor.Palette)
	var d draw.Drawer = draw.Src
	if dither {
		d = draw.FloydSteinberg
	}
	d.Draw(p, p.Rect, img, b.Min)
	return p
}

// PackPaletted packs two pixels per byte, left pixel in the high nibble,
// rows top to bottom. The width must be even.
func PackPaletted(p *image.Paletted) []byte {
	w, h := p.Rect.Dx(), p.Rect.Dy()
	out := make([]byte, w*h/2)
	i := 0
	for y := 0; y < h; y++ {
		row := p.Pix[y*p.Stride : y*p.Stride+w]
		for x := 0; x+1 < w; x += 2 {
			out[i] = row[x]<<4 | row[x+1]&0x0F
			i++
		}
	}
	return out
}

// Uniform returns a w x h image of one pigment, used as the preview of a
// cleared panel.
func Uniform(w, h int, c octcolor.OctColor) *image.Paletted {
	pal := make(color.Palette, len(octcolor.Palette))
	copy(pal, octcolor.Palette)
	if c == octcolor.HiZ {
		pal = append(pal, c)
	}
	p := image.NewPaletted(image.Rect(0, 0, w, h), pal)
	for i := range p.Pix {
		p.Pix[i] = byte(c)
	}
	return p
}
