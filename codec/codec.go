// Package codec defines the encoder contracts consumed by the video and
// audio cores. Encoders follow the asynchronous buffer-queue model of
// hardware codecs: input arrives on a surface (video) or in dequeued input
// buffers (audio), and encoded packets are polled from the output side with
// a bounded timeout.
package codec

import (
	"errors"
	"fmt"
	"time"

	"github.com/zsiec/camcorder/gles"
	"github.com/zsiec/camcorder/media"
)

var (
	// ErrTryAgain is returned by dequeue calls when nothing became available
	// before the timeout expired.
	ErrTryAgain = errors.New("codec: try again later")

	// ErrState is returned when a call is made in the wrong lifecycle state.
	ErrState = errors.New("codec: illegal state")

	// ErrUnsupported is returned by factories for an unknown MIME type and by
	// Configure for parameters the encoder cannot honour.
	ErrUnsupported = errors.New("codec: unsupported format")
)

// ColorFormat identifies the encoder input pixel layout.
type ColorFormat int

// ColorFormatSurface selects GPU surface input.
const ColorFormatSurface ColorFormat = 0x7F000789

// BitrateMode selects the rate control strategy.
type BitrateMode int

// Bitrate modes.
const (
	BitrateModeCQ BitrateMode = iota
	BitrateModeVBR
	BitrateModeCBR
)

// AVC profile and level identifiers.
const (
	ProfileBaseline = 0x01
	Level31         = 0x200
)

// AACObjectLC is the AAC low-complexity audio object type.
const AACObjectLC = 2

// VideoFormat configures a video encoder.
type VideoFormat struct {
	Mime           string
	Width          int
	Height         int
	Bitrate        int
	FrameRate      int
	IFrameInterval int // seconds
	ColorFormat    ColorFormat
	Profile        int
	Level          int
	BitrateMode    BitrateMode
}

// AVCFormat returns the surface-input Baseline/3.1 CBR format used for
// recording.
func AVCFormat(width, height, bitrate, fps, gop int) VideoFormat {
	return VideoFormat{
		Mime:           media.MimeAVC,
		Width:          width,
		Height:         height,
		Bitrate:        bitrate,
		FrameRate:      fps,
		IFrameInterval: gop,
		ColorFormat:    ColorFormatSurface,
		Profile:        ProfileBaseline,
		Level:          Level31,
		BitrateMode:    BitrateModeCBR,
	}
}

// AudioFormat configures an audio encoder.
type AudioFormat struct {
	Mime         string
	Profile      int
	SampleRate   int
	Channels     int
	Bitrate      int
	MaxInputSize int
}

// AACFormat returns the AAC-LC format for 16-bit PCM input.
func AACFormat(sampleRate, channels, bitrate, maxInput int) AudioFormat {
	return AudioFormat{
		Mime:         media.MimeAAC,
		Profile:      AACObjectLC,
		SampleRate:   sampleRate,
		Channels:     channels,
		Bitrate:      bitrate,
		MaxInputSize: maxInput,
	}
}

// Parameter keys accepted by SetParameters.
const (
	ParamVideoBitrate = "video-bitrate"
	ParamRequestSync  = "request-sync"
)

// Params is a runtime parameter bundle.
type Params map[string]int

// VideoEncoder encodes frames rendered onto its input surface.
type VideoEncoder interface {
	Configure(f VideoFormat) error
	// CreateInputSurface must be called after Configure and before Start.
	CreateInputSurface() (gles.NativeWindow, error)
	Start() error
	// DequeueOutput returns the next encoded packet or ErrTryAgain.
	DequeueOutput(timeout time.Duration) (*media.Packet, error)
	SetParameters(p Params) error
	SignalEndOfInputStream() error
	Stop() error
	Release()
}

// AudioEncoder encodes PCM submitted through dequeued input buffers.
type AudioEncoder interface {
	Configure(f AudioFormat) error
	Start() error
	// DequeueInputBuffer returns the index of a free input buffer or
	// ErrTryAgain.
	DequeueInputBuffer(timeout time.Duration) (int, error)
	InputBuffer(index int) []byte
	QueueInputBuffer(index, size int, ptsUs int64, flags media.PacketFlags) error
	DequeueOutput(timeout time.Duration) (*media.Packet, error)
	Stop() error
	Release()
}

// VideoEncoderFactory creates an encoder for a MIME type.
type VideoEncoderFactory func(mime string) (VideoEncoder, error)

// AudioEncoderFactory creates an encoder for a MIME type.
type AudioEncoderFactory func(mime string) (AudioEncoder, error)

// aacSampleRates is the MPEG-4 sampling frequency index table (ISO 14496-3).
var aacSampleRates = [...]int{
	96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050,
	16000, 12000, 11025, 8000, 7350,
}

// SampleRateIndex returns the MPEG-4 sampling frequency index for rate.
func SampleRateIndex(rate int) (int, error) {
	for i, r := range aacSampleRates {
		if r == rate {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: sample rate %d", ErrUnsupported, rate)
}
