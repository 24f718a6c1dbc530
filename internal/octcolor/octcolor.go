// Package octcolor describes the seven pigments of the 5.65" (F) e-paper
// panel and how two of them are packed into one transport byte.
//
// Each pixel is a 3-bit code stored in a nibble. A transport byte carries
// two horizontally adjacent pixels, the left one in the high nibble.
package octcolor

import (
	"fmt"
	"image/color"
	"strings"
)

// OctColor is the nibble code of one panel pigment.
type OctColor byte

const (
	Black  OctColor = 0x00
	White  OctColor = 0x01
	Green  OctColor = 0x02
	Blue   OctColor = 0x03
	Red    OctColor = 0x04
	Yellow OctColor = 0x05
	Orange OctColor = 0x06
	// HiZ leaves the pixel floating; the panel renders it as a washed out
	// grey. It is used by the vendor "clean" sequence and never by the
	// quantiser.
	HiZ OctColor = 0x07
)

var names = [...]string{
	Black:  "black",
	White:  "white",
	Green:  "green",
	Blue:   "blue",
	Red:    "red",
	Yellow: "yellow",
	Orange: "orange",
	HiZ:    "hiz",
}

// rgb is the approximate appearance of each pigment.
var rgb = [...]color.RGBA{
	Black:  {0x00, 0x00, 0x00, 0xff},
	White:  {0xff, 0xff, 0xff, 0xff},
	Green:  {0x00, 0xff, 0x00, 0xff},
	Blue:   {0x00, 0x00, 0xff, 0xff},
	Red:    {0xff, 0x00, 0x00, 0xff},
	Yellow: {0xff, 0xff, 0x00, 0xff},
	Orange: {0xff, 0x80, 0x00, 0xff},
	HiZ:    {0x80, 0x80, 0x80, 0xff},
}

// Palette holds the seven drawable pigments. The index of each entry is its
// nibble code, so the Pix of an image.Paletted using this palette can be
// packed without a lookup table.
var Palette = color.Palette{
	rgb[Black],
	rgb[White],
	rgb[Green],
	rgb[Blue],
	rgb[Red],
	rgb[Yellow],
	rgb[Orange],
}

// FromNibble returns the pigment encoded in the low 3 bits of n. Values above
// HiZ are rejected.
func FromNibble(n byte) (OctColor, error) {
	if n > byte(HiZ) {
		return 0, fmt.Errorf("octcolor: invalid nibble 0x%X", n)
	}
	return OctColor(n), nil
}

// ColorsByte packs two pixels into one transport byte, a in the high nibble.
func ColorsByte(a, b OctColor) byte {
	return byte(a)<<4 | byte(b)&0x0F
}

// SplitByte is the inverse of ColorsByte.
func SplitByte(v byte) (OctColor, OctColor, error) {
	a, err := FromNibble(v >> 4)
	if err != nil {
		return 0, 0, err
	}
	b, err := FromNibble(v & 0x0F)
	if err != nil {
		return 0, 0, err
	}
	return a, b, nil
}

// Parse maps a case-insensitive pigment name to its OctColor.
func Parse(name string) (OctColor, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for i, s := range names {
		if s == n {
			return OctColor(i), nil
		}
	}
	return 0, fmt.Errorf("octcolor: unknown color %q", name)
}

// RGBA implements color.Color.
func (c OctColor) RGBA() (r, g, b, a uint32) {
	if int(c) >= len(rgb) {
		return 0, 0, 0, 0xffff
	}
	return rgb[c].RGBA()
}

func (c OctColor) String() string {
	if int(c) >= len(names) {
		return fmt.Sprintf("OctColor(0x%02X)", byte(c))
	}
	return names[c]
}

// MarshalText lets configuration and JSON carry pigments by name.
func (c OctColor) MarshalText() ([]byte, error) {
	if int(c) >= len(names) {
		return nil, fmt.Errorf("octcolor: invalid color 0x%02X", byte(c))
	}
	return []byte(names[c]), nil
}

func (c *OctColor) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// Model converts any color to the nearest drawable pigment.
var Model = color.ModelFunc(convert)

func convert(c color.Color) color.Color {
	if o, ok := c.(OctColor); ok {
		return o
	}
	return OctColor(Palette.Index(c))
}
