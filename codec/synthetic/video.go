package synthetic

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zsiec/camcorder/codec"
	"github.com/zsiec/camcorder/gles"
	"github.com/zsiec/camcorder/internal/avc"
	"github.com/zsiec/camcorder/media"
)

// ErrReleased is returned when frames reach an input surface whose encoder
// has been released.
var ErrReleased = errors.New("synthetic: encoder released")

type state int

const (
	stateIdle state = iota
	stateConfigured
	stateStarted
	stateStopped
	stateReleased
)

func (s state) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateConfigured:
		return "configured"
	case stateStarted:
		return "started"
	case stateStopped:
		return "stopped"
	case stateReleased:
		return "released"
	}
	return "unknown"
}

// VideoEncoder is a software H.264 encoder fed through a window surface.
type VideoEncoder struct {
	log *slog.Logger

	mu       sync.Mutex
	state    state
	format   codec.VideoFormat
	sps      []byte
	pps      []byte
	input    *inputSurface
	out      *outputQueue
	bitrate  int
	frames   int64
	forceIDR bool
	eos      bool
	lastPTS  int64
	last     *gles.Buffer
	late     int64
}

var _ codec.VideoEncoder = (*VideoEncoder)(nil)

// NewVideoEncoder returns an idle encoder.
func NewVideoEncoder(log *slog.Logger) *VideoEncoder {
	if log == nil {
		log = slog.Default()
	}
	return &VideoEncoder{log: log.With("component", "video-encoder"), out: newOutputQueue()}
}

// Configure validates f and prepares the parameter sets.
func (e *VideoEncoder) Configure(f codec.VideoFormat) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != stateIdle {
		return fmt.Errorf("%w: configure in state %s", codec.ErrState, e.state)
	}
	switch {
	case f.Mime != media.MimeAVC:
		return fmt.Errorf("%w: mime %q", codec.ErrUnsupported, f.Mime)
	case f.ColorFormat != codec.ColorFormatSurface:
		return fmt.Errorf("%w: color format 0x%x", codec.ErrUnsupported, int(f.ColorFormat))
	case f.FrameRate <= 0:
		return fmt.Errorf("%w: frame rate %d", codec.ErrUnsupported, f.FrameRate)
	case f.Bitrate <= 0:
		return fmt.Errorf("%w: bitrate %d", codec.ErrUnsupported, f.Bitrate)
	case f.IFrameInterval < 0:
		return fmt.Errorf("%w: i-frame interval %d", codec.ErrUnsupported, f.IFrameInterval)
	case f.Profile != 0 && f.Profile != codec.ProfileBaseline:
		return fmt.Errorf("%w: profile %d", codec.ErrUnsupported, f.Profile)
	}
	sps, err := avc.BuildSPS(f.Width, f.Height)
	if err != nil {
		return fmt.Errorf("%w: %v", codec.ErrUnsupported, err)
	}
	e.format = f
	e.sps = sps
	e.pps = avc.BuildPPS()
	e.bitrate = f.Bitrate
	e.state = stateConfigured
	e.log.Debug("configured", "width", f.Width, "height", f.Height, "fps", f.FrameRate,
		"bitrate", f.Bitrate, "gop", f.IFrameInterval)
	return nil
}

// CreateInputSurface returns the window frames are rendered onto. It must
// be wrapped by a surface created from a recordable config.
func (e *VideoEncoder) CreateInputSurface() (gles.NativeWindow, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != stateConfigured {
		return nil, fmt.Errorf("%w: input surface in state %s", codec.ErrState, e.state)
	}
	if e.input == nil {
		e.input = &inputSurface{enc: e}
	}
	return e.input, nil
}

// Start emits the codec-config packet and begins accepting frames.
func (e *VideoEncoder) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != stateConfigured {
		return fmt.Errorf("%w: start in state %s", codec.ErrState, e.state)
	}
	e.state = stateStarted
	e.out.push(&media.Packet{
		Data:  avc.JoinAnnexB(e.sps, e.pps),
		Flags: media.FlagCodecConfig,
	})
	return nil
}

func (e *VideoEncoder) DequeueOutput(timeout time.Duration) (*media.Packet, error) {
	e.mu.Lock()
	st := e.state
	e.mu.Unlock()
	if st == stateIdle || st == stateConfigured || st == stateReleased {
		return nil, fmt.Errorf("%w: dequeue in state %s", codec.ErrState, st)
	}
	return e.out.pop(timeout)
}

// SetParameters applies runtime parameters without restarting.
func (e *VideoEncoder) SetParameters(p codec.Params) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != stateStarted {
		return fmt.Errorf("%w: parameters in state %s", codec.ErrState, e.state)
	}
	for k, v := range p {
		switch k {
		case codec.ParamVideoBitrate:
			if v <= 0 {
				return fmt.Errorf("%w: bitrate %d", codec.ErrUnsupported, v)
			}
			e.bitrate = v
			e.log.Info("bitrate updated", "bitrate", v)
		case codec.ParamRequestSync:
			e.forceIDR = true
		default:
			return fmt.Errorf("%w: parameter %q", codec.ErrUnsupported, k)
		}
	}
	return nil
}

func (e *VideoEncoder) SignalEndOfInputStream() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != stateStarted {
		return fmt.Errorf("%w: end of stream in state %s", codec.ErrState, e.state)
	}
	if !e.eos {
		e.eos = true
		e.out.push(&media.Packet{PTS: e.lastPTS, Flags: media.FlagEndOfStream})
	}
	return nil
}

func (e *VideoEncoder) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != stateStarted {
		return fmt.Errorf("%w: stop in state %s", codec.ErrState, e.state)
	}
	e.state = stateStopped
	e.out.close()
	return nil
}

// Release frees the encoder. Frames queued to its input surface afterwards
// fail with ErrReleased.
func (e *VideoEncoder) Release() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == stateReleased {
		return
	}
	e.state = stateReleased
	e.out.close()
}

// Bitrate returns the current target bitrate.
func (e *VideoEncoder) Bitrate() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bitrate
}

// Frames returns the number of frames encoded.
func (e *VideoEncoder) Frames() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frames
}

// LateFrames returns the number of frames that reached the input surface
// after Release.
func (e *VideoEncoder) LateFrames() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.late
}

// LastFrame returns the most recent frame rendered onto the input surface.
func (e *VideoEncoder) LastFrame() *gles.Buffer {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

// Format returns the configured format.
func (e *VideoEncoder) Format() codec.VideoFormat {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.format
}

func (e *VideoEncoder) encode(b *gles.Buffer) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.state {
	case stateReleased:
		e.late++
		return ErrReleased
	case stateStarted:
	default:
		// Frames rendered before Start or after Stop are discarded.
		return nil
	}
	if e.eos {
		return nil
	}

	key := e.forceIDR || e.frames%e.keyInterval() == 0
	e.forceIDR = false
	e.frames++
	e.last = b

	pts := b.PresentationTime / 1000
	e.lastPTS = pts

	flags := media.PacketFlags(0)
	header := byte(0x41) // nal_ref_idc 2, non-IDR slice
	if key {
		flags |= media.FlagKeyFrame
		header = 0x65 // nal_ref_idc 3, IDR slice
	}
	e.out.push(&media.Packet{
		Data:  avc.JoinAnnexB(slicePayload(header, b, e.frameBytes())),
		PTS:   pts,
		Flags: flags,
	})
	return nil
}

// keyInterval is the IDR spacing in frames. An interval of zero makes every
// frame a key frame.
func (e *VideoEncoder) keyInterval() int64 {
	n := int64(e.format.FrameRate) * int64(e.format.IFrameInterval)
	if n <= 0 {
		return 1
	}
	return n
}

func (e *VideoEncoder) frameBytes() int {
	n := e.bitrate / 8 / e.format.FrameRate
	if n < 16 {
		n = 16
	}
	return n
}

// slicePayload builds a slice NAL of n bytes whose body samples the frame.
// Every body byte has its high bit set, so the NAL never contains a start
// code or needs emulation prevention.
func slicePayload(header byte, b *gles.Buffer, n int) []byte {
	out := make([]byte, n)
	out[0] = header
	if len(b.Pix) == 0 {
		for i := 1; i < n; i++ {
			out[i] = 0x80
		}
		return out
	}
	step := len(b.Pix) / n
	if step == 0 {
		step = 1
	}
	for i := 1; i < n; i++ {
		out[i] = b.Pix[(i*step)%len(b.Pix)] | 0x80
	}
	return out
}

// inputSurface is the encoder's NativeWindow.
type inputSurface struct {
	enc *VideoEncoder
}

var _ gles.RecordableWindow = (*inputSurface)(nil)

func (s *inputSurface) Size() (int, int) {
	s.enc.mu.Lock()
	defer s.enc.mu.Unlock()
	return s.enc.format.Width, s.enc.format.Height
}

func (s *inputSurface) QueueBuffer(b *gles.Buffer) error { return s.enc.encode(b) }

func (s *inputSurface) RequiresRecordable() bool { return true }
