package synthetic

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/bluenviron/mediacommon/pkg/codecs/mpeg4audio"

	"github.com/zsiec/camcorder/codec"
	"github.com/zsiec/camcorder/media"
)

const (
	// SamplesPerFrame is the AAC-LC access unit length.
	SamplesPerFrame = 1024

	inputBufferCount = 4
)

// Silent AAC-LC raw data blocks.
var (
	silentMono   = []byte{0x01, 0x40, 0x20, 0x07}
	silentStereo = []byte{0x21, 0x00, 0x49, 0x90, 0x02, 0x19, 0x00, 0x23, 0x80}
)

// AudioEncoder is a software AAC-LC encoder fed through input buffers.
type AudioEncoder struct {
	log *slog.Logger

	mu      sync.Mutex
	state   state
	format  codec.AudioFormat
	config  []byte
	buffers [][]byte
	free    chan int
	out     *outputQueue

	pending   []byte
	firstPTS  int64
	anchored  bool
	emitted   int64
	eos       bool
	peak      int16
	lastPeak  int16
	submitted int64
}

var _ codec.AudioEncoder = (*AudioEncoder)(nil)

// NewAudioEncoder returns an idle encoder.
func NewAudioEncoder(log *slog.Logger) *AudioEncoder {
	if log == nil {
		log = slog.Default()
	}
	return &AudioEncoder{log: log.With("component", "audio-encoder"), out: newOutputQueue()}
}

func (e *AudioEncoder) Configure(f codec.AudioFormat) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != stateIdle {
		return fmt.Errorf("%w: configure in state %s", codec.ErrState, e.state)
	}
	if f.Mime != media.MimeAAC {
		return fmt.Errorf("%w: mime %q", codec.ErrUnsupported, f.Mime)
	}
	if f.Profile != 0 && f.Profile != codec.AACObjectLC {
		return fmt.Errorf("%w: AAC object type %d", codec.ErrUnsupported, f.Profile)
	}
	if _, err := codec.SampleRateIndex(f.SampleRate); err != nil {
		return err
	}
	if f.Channels != 1 && f.Channels != 2 {
		return fmt.Errorf("%w: %d channels", codec.ErrUnsupported, f.Channels)
	}
	if f.MaxInputSize <= 0 {
		return fmt.Errorf("%w: max input size %d", codec.ErrUnsupported, f.MaxInputSize)
	}

	cfg := mpeg4audio.Config{
		Type:         mpeg4audio.ObjectTypeAACLC,
		SampleRate:   f.SampleRate,
		ChannelCount: f.Channels,
	}
	asc, err := cfg.Marshal()
	if err != nil {
		return fmt.Errorf("%w: %v", codec.ErrUnsupported, err)
	}

	e.format = f
	e.config = asc
	e.buffers = make([][]byte, inputBufferCount)
	e.free = make(chan int, inputBufferCount)
	for i := range e.buffers {
		e.buffers[i] = make([]byte, f.MaxInputSize)
		e.free <- i
	}
	e.state = stateConfigured
	e.log.Debug("configured", "sample_rate", f.SampleRate, "channels", f.Channels, "bitrate", f.Bitrate)
	return nil
}

// Start emits the AudioSpecificConfig as the codec-config packet.
func (e *AudioEncoder) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != stateConfigured {
		return fmt.Errorf("%w: start in state %s", codec.ErrState, e.state)
	}
	e.state = stateStarted
	e.out.push(&media.Packet{Data: append([]byte(nil), e.config...), Flags: media.FlagCodecConfig})
	return nil
}

func (e *AudioEncoder) DequeueInputBuffer(timeout time.Duration) (int, error) {
	e.mu.Lock()
	st, free := e.state, e.free
	e.mu.Unlock()
	if st != stateStarted {
		return -1, fmt.Errorf("%w: dequeue input in state %s", codec.ErrState, st)
	}
	select {
	case i := <-free:
		return i, nil
	default:
	}
	if timeout <= 0 {
		return -1, codec.ErrTryAgain
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case i := <-free:
		return i, nil
	case <-t.C:
		return -1, codec.ErrTryAgain
	}
}

func (e *AudioEncoder) InputBuffer(index int) []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	if index < 0 || index >= len(e.buffers) {
		return nil
	}
	return e.buffers[index]
}

// QueueInputBuffer submits size bytes of 16-bit little-endian PCM from the
// buffer at index. Complete access units are emitted with timestamps
// continuing from the first submitted buffer.
func (e *AudioEncoder) QueueInputBuffer(index, size int, ptsUs int64, flags media.PacketFlags) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != stateStarted {
		return fmt.Errorf("%w: queue input in state %s", codec.ErrState, e.state)
	}
	if index < 0 || index >= len(e.buffers) {
		return fmt.Errorf("%w: input buffer %d", codec.ErrState, index)
	}
	if size < 0 || size > len(e.buffers[index]) {
		return fmt.Errorf("%w: input size %d", codec.ErrUnsupported, size)
	}
	defer func() { e.free <- index }()
	if e.eos {
		return nil
	}
	if !e.anchored {
		e.firstPTS, e.anchored = ptsUs, true
	}
	e.pending = append(e.pending, e.buffers[index][:size]...)
	e.submitted++

	frameBytes := SamplesPerFrame * 2 * e.format.Channels
	for len(e.pending) >= frameBytes {
		e.emit(e.pending[:frameBytes])
		e.pending = e.pending[frameBytes:]
	}
	if flags.Has(media.FlagEndOfStream) {
		if len(e.pending) > 0 {
			e.emit(e.pending)
			e.pending = nil
		}
		e.eos = true
		e.out.push(&media.Packet{PTS: e.framePTS(e.emitted), Flags: media.FlagEndOfStream})
	}
	return nil
}

func (e *AudioEncoder) emit(pcm []byte) {
	var peak int16
	for i := 0; i+1 < len(pcm); i += 2 {
		s := int32(int16(binary.LittleEndian.Uint16(pcm[i:])))
		if s < 0 {
			s = -s
		}
		if s > math.MaxInt16 {
			s = math.MaxInt16
		}
		if int16(s) > peak {
			peak = int16(s)
		}
	}
	e.lastPeak = peak
	if peak > e.peak {
		e.peak = peak
	}

	au := silentMono
	if e.format.Channels == 2 {
		au = silentStereo
	}
	e.out.push(&media.Packet{
		Data:  append([]byte(nil), au...),
		PTS:   e.framePTS(e.emitted),
		Flags: media.FlagKeyFrame,
	})
	e.emitted++
}

func (e *AudioEncoder) framePTS(n int64) int64 {
	return e.firstPTS + n*SamplesPerFrame*1_000_000/int64(e.format.SampleRate)
}

func (e *AudioEncoder) DequeueOutput(timeout time.Duration) (*media.Packet, error) {
	e.mu.Lock()
	st := e.state
	e.mu.Unlock()
	if st == stateIdle || st == stateConfigured || st == stateReleased {
		return nil, fmt.Errorf("%w: dequeue in state %s", codec.ErrState, st)
	}
	return e.out.pop(timeout)
}

func (e *AudioEncoder) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != stateStarted {
		return fmt.Errorf("%w: stop in state %s", codec.ErrState, e.state)
	}
	e.state = stateStopped
	e.out.close()
	return nil
}

func (e *AudioEncoder) Release() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = stateReleased
	e.out.close()
}

// Config returns the AudioSpecificConfig emitted at Start.
func (e *AudioEncoder) Config() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.config
}

// Peak returns the largest absolute sample seen so far and the peak of the
// most recent access unit.
func (e *AudioEncoder) Peak() (overall, last int16) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.peak, e.lastPeak
}

// Frames returns the number of access units emitted.
func (e *AudioEncoder) Frames() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.emitted
}
