// Package camera defines the camera source contract consumed by the
// recorder, the preview parameter selection rules, and a synthetic
// test-pattern camera.
package camera

import (
	"errors"
	"fmt"

	"github.com/zsiec/camcorder/gles"
)

var (
	// ErrUnavailable is returned when a camera cannot be opened or
	// configured.
	ErrUnavailable = errors.New("camera: unavailable")

	// ErrFormatUnsupported is returned when the camera offers no preview
	// color format the pipeline accepts.
	ErrFormatUnsupported = errors.New("camera: no supported preview format")

	// ErrReleased is returned by operations on a released device.
	ErrReleased = errors.New("camera: released")
)

// Indices of the conventional back and front cameras.
const (
	Back  = 0
	Front = 1
)

// Size is a preview size in sensor orientation.
type Size struct {
	Width  int
	Height int
}

// Area returns Width*Height.
func (s Size) Area() int { return s.Width * s.Height }

func (s Size) String() string { return fmt.Sprintf("%dx%d", s.Width, s.Height) }

// FPSRange is a preview frame rate range in frames per 1000 seconds.
type FPSRange struct {
	Min int
	Max int
}

func (r FPSRange) String() string { return fmt.Sprintf("[%d,%d]", r.Min, r.Max) }

// Format is a preview color format.
type Format string

// Preview color formats.
const (
	FormatNV21 Format = "nv21"
	FormatYV12 Format = "yv12"
	FormatNV16 Format = "nv16"
	FormatRGB  Format = "rgb565"
)

// FlashMode is a flash light mode.
type FlashMode string

// Flash modes the recorder switches between.
const (
	FlashOff   FlashMode = "off"
	FlashTorch FlashMode = "torch"
	FlashAuto  FlashMode = "auto"
)

// Params is a preview configuration.
type Params struct {
	Size   Size
	FPS    FPSRange
	Format Format
}

// Device is an open camera.
type Device interface {
	Facing() int

	PreviewSizes() []Size
	PreviewFPSRanges() []FPSRange
	PreviewFormats() []Format
	FlashModes() []FlashMode
	MaxZoom() int

	// Configure applies preview size, frame rate and format. It fails
	// while previewing.
	Configure(p Params) error
	Params() Params

	FlashMode() FlashMode
	SetFlashMode(m FlashMode) error
	Zoom() int
	SetZoom(z int) error

	// SetPreviewTexture attaches the surface texture preview frames are
	// streamed into. A nil texture detaches.
	SetPreviewTexture(st gles.SurfaceTexture) error
	StartPreview() error
	StopPreview()
	Release()
}

// Provider enumerates and opens cameras.
type Provider interface {
	NumberOfCameras() int
	Open(index int) (Device, error)
}
