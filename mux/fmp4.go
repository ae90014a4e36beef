package mux

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/bluenviron/mediacommon/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/pkg/codecs/mpeg4audio"
	"github.com/bluenviron/mediacommon/pkg/formats/fmp4"

	"github.com/zsiec/camcorder/internal/avc"
	"github.com/zsiec/camcorder/media"
)

const (
	videoTimeScale = 90000

	// DefaultFragmentDuration is how much media a fragment holds before it
	// is flushed.
	DefaultFragmentDuration = time.Second
)

var errInitWritten = errors.New("mux: init already written")

type pendingSample struct {
	dts     int64
	payload []byte
	sync    bool
}

type fmp4Track struct {
	id        int
	kind      media.TrackKind
	timeScale uint32
	sps, pps  []byte

	origin    int64
	hasOrigin bool
	next      *pendingSample
	samples   []*fmp4.PartSample
	baseTime  int64
	duration  int64
	lastDur   uint32
}

// FMP4Writer writes a fragmented MPEG-4 file: ftyp+moov followed by
// moof+mdat fragments. Each track's timeline starts at its first sample.
type FMP4Writer struct {
	w        io.Writer
	tracks   []*fmp4Track
	seq      uint32
	fragment time.Duration
	closed   bool
	buf      seekBuffer
}

// NewFMP4Writer returns a writer on w. If w is an io.Closer it is closed by
// Close.
func NewFMP4Writer(w io.Writer) *FMP4Writer {
	return &FMP4Writer{w: w, fragment: DefaultFragmentDuration}
}

// SetFragmentDuration changes the flush threshold.
func (f *FMP4Writer) SetFragmentDuration(d time.Duration) {
	if d > 0 {
		f.fragment = d
	}
}

func (f *FMP4Writer) WriteInit(formats []media.Format) error {
	if f.tracks != nil {
		return errInitWritten
	}
	init := fmp4.Init{}
	for i, fm := range formats {
		it, tr, err := initTrack(i+1, fm)
		if err != nil {
			return err
		}
		init.Tracks = append(init.Tracks, it)
		f.tracks = append(f.tracks, tr)
	}
	f.buf.Reset()
	if err := init.Marshal(&f.buf); err != nil {
		return fmt.Errorf("marshal init: %w", err)
	}
	_, err := f.w.Write(f.buf.Bytes())
	return err
}

func initTrack(id int, fm media.Format) (*fmp4.InitTrack, *fmp4Track, error) {
	switch fm.Kind {
	case media.TrackVideo:
		if fm.Mime != media.MimeAVC {
			return nil, nil, fmt.Errorf("unsupported video mime %q", fm.Mime)
		}
		if len(fm.SPS) == 0 || len(fm.PPS) == 0 {
			return nil, nil, fmt.Errorf("video track %d lacks SPS/PPS", id)
		}
		var sps h264.SPS
		if err := sps.Unmarshal(fm.SPS); err != nil {
			return nil, nil, fmt.Errorf("video track %d: %w", id, err)
		}
		if fm.Width != 0 && (sps.Width() != fm.Width || sps.Height() != fm.Height) {
			return nil, nil, fmt.Errorf("video track %d: SPS is %dx%d, format is %dx%d",
				id, sps.Width(), sps.Height(), fm.Width, fm.Height)
		}
		return &fmp4.InitTrack{
				ID:        id,
				TimeScale: videoTimeScale,
				Codec:     &fmp4.CodecH264{SPS: fm.SPS, PPS: fm.PPS},
			},
			&fmp4Track{id: id, kind: media.TrackVideo, timeScale: videoTimeScale, sps: fm.SPS, pps: fm.PPS},
			nil

	case media.TrackAudio:
		if fm.Mime != media.MimeAAC {
			return nil, nil, fmt.Errorf("unsupported audio mime %q", fm.Mime)
		}
		var cfg mpeg4audio.Config
		if len(fm.AudioConfig) > 0 {
			if err := cfg.Unmarshal(fm.AudioConfig); err != nil {
				return nil, nil, fmt.Errorf("audio track %d: %w", id, err)
			}
		} else {
			cfg = mpeg4audio.Config{
				Type:         mpeg4audio.ObjectTypeAACLC,
				SampleRate:   fm.SampleRate,
				ChannelCount: fm.Channels,
			}
		}
		if cfg.SampleRate <= 0 {
			return nil, nil, fmt.Errorf("audio track %d: sample rate %d", id, cfg.SampleRate)
		}
		return &fmp4.InitTrack{
				ID:        id,
				TimeScale: uint32(cfg.SampleRate),
				Codec:     &fmp4.CodecMPEG4Audio{Config: cfg},
			},
			&fmp4Track{id: id, kind: media.TrackAudio, timeScale: uint32(cfg.SampleRate)},
			nil
	}
	return nil, nil, fmt.Errorf("unknown track kind %v", fm.Kind)
}

// WriteSample buffers p. A sample is committed to a fragment once the next
// sample of its track fixes its duration.
func (f *FMP4Writer) WriteSample(track int, p *media.Packet) error {
	if f.closed {
		return io.ErrClosedPipe
	}
	if track < 0 || track >= len(f.tracks) {
		return fmt.Errorf("track %d not initialized", track)
	}
	if p.IsCodecConfig() || len(p.Data) == 0 {
		return nil
	}
	t := f.tracks[track]

	payload, key := p.Data, true
	if t.kind == media.TrackVideo {
		au, err := h264.AnnexBUnmarshal(p.Data)
		if err != nil {
			return fmt.Errorf("video sample: %w", err)
		}
		au = t.stripParameterSets(au)
		if len(au) == 0 {
			return nil
		}
		key = hasIDR(au)
		if payload, err = h264.AVCCMarshal(au); err != nil {
			return fmt.Errorf("video sample: %w", err)
		}
	}

	if !t.hasOrigin {
		t.origin, t.hasOrigin = p.PTS, true
	}
	dts := (p.PTS - t.origin) * int64(t.timeScale) / 1_000_000
	if t.next != nil && dts < t.next.dts {
		dts = t.next.dts
	}
	t.push(&pendingSample{dts: dts, payload: payload, sync: key})

	if t.duration >= int64(f.fragment.Seconds()*float64(t.timeScale)) {
		return f.flush()
	}
	return nil
}

func (t *fmp4Track) push(s *pendingSample) {
	if t.next != nil {
		t.commit(uint32(s.dts - t.next.dts))
	}
	t.next = s
}

func (t *fmp4Track) commit(dur uint32) {
	if len(t.samples) == 0 {
		t.baseTime = t.next.dts
	}
	t.samples = append(t.samples, &fmp4.PartSample{
		Duration:        dur,
		IsNonSyncSample: !t.next.sync,
		Payload:         t.next.payload,
	})
	t.duration += int64(dur)
	t.lastDur = dur
	t.next = nil
}

func hasIDR(au [][]byte) bool {
	for _, nalu := range au {
		if avc.NALType(nalu) == avc.NALTypeIDR {
			return true
		}
	}
	return false
}

// stripParameterSets drops access unit delimiters and the SPS and PPS
// already carried by the sample description. Parameter sets that differ,
// as after an encoder reset, stay in band.
func (t *fmp4Track) stripParameterSets(au [][]byte) [][]byte {
	out := au[:0]
	for _, nalu := range au {
		switch avc.NALType(nalu) {
		case avc.NALTypeAUD:
			continue
		case avc.NALTypeSPS:
			if bytes.Equal(nalu, t.sps) {
				continue
			}
		case avc.NALTypePPS:
			if bytes.Equal(nalu, t.pps) {
				continue
			}
		}
		out = append(out, nalu)
	}
	return out
}

func (f *FMP4Writer) flush() error {
	part := fmp4.Part{SequenceNumber: f.seq}
	for _, t := range f.tracks {
		if len(t.samples) == 0 {
			continue
		}
		part.Tracks = append(part.Tracks, &fmp4.PartTrack{
			ID:       t.id,
			BaseTime: uint64(t.baseTime),
			Samples:  t.samples,
		})
	}
	if len(part.Tracks) == 0 {
		return nil
	}
	f.buf.Reset()
	if err := part.Marshal(&f.buf); err != nil {
		return fmt.Errorf("marshal fragment %d: %w", f.seq, err)
	}
	if _, err := f.w.Write(f.buf.Bytes()); err != nil {
		return err
	}
	f.seq++
	for _, t := range f.tracks {
		t.samples = nil
		t.duration = 0
	}
	return nil
}

// Close commits the lookahead sample of every track, flushes the last
// fragment and closes the underlying writer when it is an io.Closer.
func (f *FMP4Writer) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	for _, t := range f.tracks {
		if t.next == nil {
			continue
		}
		dur := t.lastDur
		if dur == 0 {
			dur = t.defaultDuration()
		}
		t.commit(dur)
	}
	err := f.flush()
	if c, ok := f.w.(io.Closer); ok {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (t *fmp4Track) defaultDuration() uint32 {
	if t.kind == media.TrackAudio {
		return 1024
	}
	return t.timeScale / 30
}

// Fragments returns the number of fragments written.
func (f *FMP4Writer) Fragments() int { return int(f.seq) }

// seekBuffer is an in-memory io.WriteSeeker for box marshaling.
type seekBuffer struct {
	b   []byte
	pos int
}

func (s *seekBuffer) Write(p []byte) (int, error) {
	end := s.pos + len(p)
	if end > len(s.b) {
		s.b = append(s.b, make([]byte, end-len(s.b))...)
	}
	copy(s.b[s.pos:], p)
	s.pos = end
	return len(p), nil
}

func (s *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(s.pos) + offset
	case io.SeekEnd:
		abs = int64(len(s.b)) + offset
	default:
		return 0, errors.New("seekBuffer: invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("seekBuffer: negative position")
	}
	s.pos = int(abs)
	return abs, nil
}

func (s *seekBuffer) Bytes() []byte { return s.b }

func (s *seekBuffer) Reset() {
	s.b = s.b[:0]
	s.pos = 0
}
