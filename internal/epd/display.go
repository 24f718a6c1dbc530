package epd

import (
	"image"

	"epdframe/internal/octcolor"
)

// Display is the lifecycle a graphics pipeline drives.
type Display interface {
	Wake() error
	Sleep() error
	UpdateFrame(buf []byte) error
	DisplayFrame() error
	UpdateAndDisplayFrame(buf []byte) error
	ClearFrame() error
	SetBackground(c octcolor.OctColor)
	Background() octcolor.OctColor
	Width() int
	Height() int
	IsBusy() bool
}

// PartialUpdater is implemented by panels that can load a sub-rectangle of
// the frame buffer. The 5.65" (F) cannot; check with a type assertion.
type PartialUpdater interface {
	UpdatePartialFrame(buf []byte, r image.Rectangle) error
}

// RefreshLUT selects a refresh waveform.
type RefreshLUT int

const (
	FullRefresh RefreshLUT = iota
	QuickRefresh
)

// LUTSetter is implemented by panels with programmable waveforms. The
// 5.65" (F) only uses its OTP waveform.
type LUTSetter interface {
	SetLUT(lut RefreshLUT) error
}
