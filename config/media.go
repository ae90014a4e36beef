package config

import (
	"fmt"

	"github.com/zsiec/camcorder/direction"
)

// MediaConfig is the process-lifetime media description. It is filled in
// by prepare; afterwards only CropRatio and the direction flags change
// in place, and size changes go through a video reset.
type MediaConfig struct {
	VideoWidth  int
	VideoHeight int

	// PreviewWidth and PreviewHeight are the camera preview size in sensor
	// orientation.
	PreviewWidth  int
	PreviewHeight int
	PreviewFormat string

	FPS     int
	GOP     int
	Bitrate int

	FrontDirection direction.Flag
	BackDirection  direction.Flag
	CropRatio      float32
	Portrait       bool
	Square         bool

	AudioSampleRate int
	AudioChannels   int
	AudioBitrate    int

	VideoQueueDepth int
	SaveEnabled     bool
	SavePath        string
	PrintDetail     bool

	Done bool
}

// DrawInterval returns the draw tick interval in milliseconds.
func (m *MediaConfig) DrawInterval() int64 {
	if m.FPS <= 0 {
		return 0
	}
	return int64(1000 / m.FPS)
}

// AudioSliceSamples is the number of samples per 100 ms capture slice.
func (m *MediaConfig) AudioSliceSamples() int {
	return m.AudioSampleRate / 10
}

// AudioBufferSize is the byte size of one 16-bit mono capture slice.
func (m *MediaConfig) AudioBufferSize() int {
	return m.AudioSliceSamples() * 2
}

// DirectionFor returns the effective direction flag for the given camera.
func (m *MediaConfig) DirectionFor(front bool) direction.Flag {
	if front {
		return direction.Effective(m.FrontDirection, true)
	}
	return direction.Effective(m.BackDirection, false)
}

// ResolveResolution sets the video size from the target and derives the
// crop ratio against the current preview size. The comparison happens in
// sensor orientation: the preview is already sensor-oriented and a
// portrait target is swapped into it.
func (m *MediaConfig) ResolveResolution(targetW, targetH int) {
	m.VideoWidth, m.VideoHeight = targetW, targetH
	vw, vh := targetW, targetH
	if m.Portrait {
		vw, vh = targetH, targetW
	}
	m.CropRatio = direction.ResolveCrop(m.PreviewWidth, m.PreviewHeight, vw, vh)
}

// Clone returns a copy safe to hand to another goroutine.
func (m *MediaConfig) Clone() *MediaConfig {
	c := *m
	return &c
}

func (m *MediaConfig) String() string {
	return fmt.Sprintf("video=%dx%d preview=%dx%d fps=%d gop=%d bitrate=%d crop=%.4f portrait=%v square=%v audio=%dHz/%dch",
		m.VideoWidth, m.VideoHeight, m.PreviewWidth, m.PreviewHeight, m.FPS, m.GOP, m.Bitrate,
		m.CropRatio, m.Portrait, m.Square, m.AudioSampleRate, m.AudioChannels)
}

// NewMediaConfig seeds a MediaConfig from a validated RecordConfig.
func NewMediaConfig(rc RecordConfig, front, back direction.Flag) *MediaConfig {
	return &MediaConfig{
		FPS:             rc.FPS,
		GOP:             rc.GOP,
		Bitrate:         rc.Bitrate,
		FrontDirection:  front,
		BackDirection:   back,
		Portrait:        front.IsPortrait(),
		Square:          rc.Square,
		AudioSampleRate: rc.AudioSampleRate,
		AudioChannels:   rc.AudioChannels,
		AudioBitrate:    rc.AudioBitrate,
		VideoQueueDepth: rc.VideoQueueDepth,
		SaveEnabled:     rc.SaveEnabled,
		SavePath:        rc.SavePath,
		PrintDetail:     rc.PrintDetail,
	}
}
