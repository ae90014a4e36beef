// Package config holds the recording configuration supplied by callers and
// the media configuration the recorder derives from it during prepare.
package config

import (
	"errors"
	"fmt"

	"github.com/zsiec/camcorder/codec"
	"github.com/zsiec/camcorder/direction"
)

// RenderingMode selects the composition backend. Only OpenGL ES is
// supported.
type RenderingMode int

// Rendering modes.
const (
	RenderingModeOpenGLES RenderingMode = 2
)

// Camera indices.
const (
	CameraBack  = 0
	CameraFront = 1
)

// RecordConfig is the caller-facing configuration for a recording session.
type RecordConfig struct {
	// Width and Height are the target video size as displayed.
	Width  int
	Height int

	Bitrate int
	FPS     int
	// GOP is the key frame interval in seconds.
	GOP int

	RenderingMode  RenderingMode
	DefaultCamera  int
	FrontDirection direction.Flag
	BackDirection  direction.Flag

	SavePath    string
	SaveEnabled bool
	Square      bool
	PrintDetail bool

	VideoQueueDepth int

	AudioSampleRate int
	AudioChannels   int
	AudioBitrate    int
}

// Default returns a square 480x480 front-camera configuration for a
// portrait device.
func Default() RecordConfig {
	return RecordConfig{
		Width:           480,
		Height:          480,
		Bitrate:         750 * 1024,
		FPS:             20,
		GOP:             1,
		RenderingMode:   RenderingModeOpenGLES,
		DefaultCamera:   CameraFront,
		FrontDirection:  direction.Rotation270 | direction.FlipHorizontal,
		BackDirection:   direction.Rotation90,
		SaveEnabled:     true,
		Square:          true,
		VideoQueueDepth: 5,
		AudioSampleRate: 44100,
		AudioChannels:   1,
		AudioBitrate:    32 * 1024,
	}
}

// Validate checks the configuration for values the pipeline cannot honour.
// Direction flags are checked separately by the recorder because their
// failure is reported as its own error kind.
func (c RecordConfig) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("video size must be positive, got %dx%d", c.Width, c.Height)
	}
	if c.FPS < 1 || c.FPS > 60 {
		return fmt.Errorf("fps must be in 1..60, got %d", c.FPS)
	}
	if c.GOP < 0 {
		return fmt.Errorf("gop must not be negative, got %d", c.GOP)
	}
	if c.Bitrate <= 0 {
		return fmt.Errorf("bitrate must be positive, got %d", c.Bitrate)
	}
	if c.RenderingMode != RenderingModeOpenGLES {
		return errors.New("only OpenGL ES rendering is supported")
	}
	if c.DefaultCamera < 0 {
		return fmt.Errorf("camera index must not be negative, got %d", c.DefaultCamera)
	}
	if c.SaveEnabled && c.SavePath == "" {
		return errors.New("save path is required when saving is enabled")
	}
	if _, err := codec.SampleRateIndex(c.AudioSampleRate); err != nil {
		return err
	}
	if c.AudioChannels != 1 {
		return fmt.Errorf("only mono audio is supported, got %d channels", c.AudioChannels)
	}
	if c.AudioSampleRate%10 != 0 {
		return fmt.Errorf("sample rate %d does not split into 100ms slices", c.AudioSampleRate)
	}
	return nil
}
