// Package pipeline forwards encoded packets from an encoder's output queue
// to the muxer. One Pipeline runs per track on its own goroutine: it turns
// the first codec-config packet into the track format, then appends every
// sample in order until it is told to quit or the encoder signals end of
// stream.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/camcorder/codec"
	"github.com/zsiec/camcorder/internal/avc"
	"github.com/zsiec/camcorder/internal/metrics"
	"github.com/zsiec/camcorder/media"
	"github.com/zsiec/camcorder/mux"
)

// DefaultPollTimeout bounds each output poll so the quit flag is observed
// promptly.
const DefaultPollTimeout = 10 * time.Millisecond

// Source is the output side of an encoder.
type Source interface {
	DequeueOutput(timeout time.Duration) (*media.Packet, error)
}

// Sink is the subset of mux.Muxer a pipeline writes to.
type Sink interface {
	AddTrack(f media.Format) (int, error)
	WriteSample(track int, p *media.Packet) error
}

// Stats are the forwarding counters of one pipeline.
type Stats struct {
	Kind      string `json:"kind"`
	Track     int    `json:"track"`
	Forwarded int64  `json:"forwarded"`
	Bytes     int64  `json:"bytes"`
	Skipped   int64  `json:"skipped"`
	LastPTS   int64  `json:"last_pts_us"`
	Running   bool   `json:"running"`
	Error     string `json:"error,omitempty"`
}

// Pipeline drains one encoder into one muxer track.
type Pipeline struct {
	log     *slog.Logger
	kind    media.TrackKind
	sink    Sink
	metrics *metrics.Metrics
	poll    time.Duration

	// audio track parameters used when the config packet is parsed
	sampleRate int
	channels   int

	// owned by the Run goroutine
	format media.Format
	inband []byte

	srcMu sync.Mutex
	src   Source

	quit    atomic.Bool
	running atomic.Bool
	done    chan struct{}

	track     atomic.Int64
	forwarded atomic.Int64
	bytes     atomic.Int64
	skipped   atomic.Int64
	lastPTS   atomic.Int64

	errMu sync.Mutex
	err   error
}

// New returns a pipeline for a track of the given kind. m may be nil.
func New(kind media.TrackKind, src Source, sink Sink, m *metrics.Metrics, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	p := &Pipeline{
		log:     log.With("component", "drain", "track", kind.String()),
		kind:    kind,
		sink:    sink,
		metrics: m,
		poll:    DefaultPollTimeout,
		src:     src,
		done:    make(chan struct{}),
	}
	p.track.Store(-1)
	return p
}

// SetAudioParams records the PCM layout reported in the audio track format.
func (p *Pipeline) SetAudioParams(sampleRate, channels int) {
	p.sampleRate, p.channels = sampleRate, channels
}

// SetSource replaces the encoder being drained. The track binding is kept.
func (p *Pipeline) SetSource(src Source) {
	p.srcMu.Lock()
	p.src = src
	p.srcMu.Unlock()
}

func (p *Pipeline) source() Source {
	p.srcMu.Lock()
	defer p.srcMu.Unlock()
	return p.src
}

// Start runs the pipeline on a new goroutine.
func (p *Pipeline) Start() {
	go func() {
		if err := p.Run(context.Background()); err != nil {
			p.log.Error("drain stopped", "error", err)
		}
	}()
}

// Run forwards packets until Quit, end of stream, ctx cancellation or a
// muxer failure. Only the muxer failure is returned.
func (p *Pipeline) Run(ctx context.Context) error {
	p.running.Store(true)
	defer func() {
		p.running.Store(false)
		close(p.done)
	}()

	for !p.quit.Load() {
		if ctx.Err() != nil {
			return nil
		}
		src := p.source()
		if src == nil {
			time.Sleep(p.poll)
			continue
		}
		pkt, err := src.DequeueOutput(p.poll)
		switch {
		case errors.Is(err, codec.ErrTryAgain):
			continue
		case errors.Is(err, codec.ErrState):
			// The encoder is being replaced or shut down.
			time.Sleep(p.poll)
			continue
		case err != nil:
			p.fail(err)
			return err
		}

		if pkt.IsEndOfStream() {
			p.log.Debug("end of stream", "pts", pkt.PTS)
			return nil
		}
		if err := p.forward(pkt); err != nil {
			if errors.Is(err, mux.ErrStopped) {
				// Stopped by its owner; a write failure is reported by the
				// writer that hit it.
				p.log.Debug("muxer stopped, drain exiting", "quitting", p.quit.Load())
				return nil
			}
			p.fail(err)
			return err
		}
	}
	return nil
}

func (p *Pipeline) forward(pkt *media.Packet) error {
	if pkt.IsCodecConfig() {
		if p.track.Load() >= 0 {
			p.updateParameterSets(pkt)
			return nil
		}
		f, err := p.buildFormat(pkt)
		if err != nil {
			return fmt.Errorf("track format: %w", err)
		}
		id, err := p.sink.AddTrack(f)
		if err != nil {
			return fmt.Errorf("add track: %w", err)
		}
		p.track.Store(int64(id))
		p.format = f
		p.log.Info("track bound", "id", id, "mime", f.Mime)
		return nil
	}

	track := int(p.track.Load())
	if track < 0 {
		p.skipped.Add(1)
		return nil
	}
	if p.inband != nil && pkt.Flags.Has(media.FlagKeyFrame) {
		q := *pkt
		q.Data = append(append(make([]byte, 0, len(p.inband)+len(pkt.Data)), p.inband...), pkt.Data...)
		pkt = &q
	}
	pkt.Track = track
	if err := p.sink.WriteSample(track, pkt); err != nil {
		return err
	}
	p.forwarded.Add(1)
	p.bytes.Add(int64(len(pkt.Data)))
	p.lastPTS.Store(pkt.PTS)
	p.metrics.PacketWritten(p.kind, len(pkt.Data))
	return nil
}

// updateParameterSets handles a codec config that arrives once the track is
// bound, as after an encoder reset. The track format keeps the first SPS and
// PPS; new ones are prefixed to every later key frame instead.
func (p *Pipeline) updateParameterSets(pkt *media.Packet) {
	if p.kind != media.TrackVideo {
		p.log.Info("codec config after track added, keeping original format")
		return
	}
	sps, pps := avc.ParameterSets(pkt.Data)
	if sps == nil || pps == nil {
		p.log.Warn("codec config without SPS and PPS ignored")
		return
	}
	if bytes.Equal(sps, p.format.SPS) && bytes.Equal(pps, p.format.PPS) {
		p.inband = nil
		return
	}
	p.inband = avc.JoinAnnexB(sps, pps)
	if info, err := avc.ParseSPS(sps); err == nil {
		p.log.Info("parameter sets changed, carrying them in band",
			"width", info.Width, "height", info.Height,
			"track_width", p.format.Width, "track_height", p.format.Height)
	}
}

// buildFormat turns a codec-config packet into the muxer track format.
func (p *Pipeline) buildFormat(pkt *media.Packet) (media.Format, error) {
	switch p.kind {
	case media.TrackVideo:
		sps, pps := avc.ParameterSets(pkt.Data)
		if sps == nil || pps == nil {
			return media.Format{}, errors.New("codec config without SPS and PPS")
		}
		info, err := avc.ParseSPS(sps)
		if err != nil {
			return media.Format{}, err
		}
		return media.Format{
			Kind:   media.TrackVideo,
			Mime:   media.MimeAVC,
			Width:  info.Width,
			Height: info.Height,
			SPS:    sps,
			PPS:    pps,
		}, nil
	case media.TrackAudio:
		if len(pkt.Data) < 2 {
			return media.Format{}, errors.New("audio specific config too short")
		}
		return media.Format{
			Kind:        media.TrackAudio,
			Mime:        media.MimeAAC,
			SampleRate:  p.sampleRate,
			Channels:    p.channels,
			AudioConfig: append([]byte(nil), pkt.Data...),
		}, nil
	}
	return media.Format{}, fmt.Errorf("unknown track kind %v", p.kind)
}

func (p *Pipeline) fail(err error) {
	p.errMu.Lock()
	p.err = err
	p.errMu.Unlock()
}

// Quit asks the loop to exit after the current poll.
func (p *Pipeline) Quit() { p.quit.Store(true) }

// Done is closed when Run has returned.
func (p *Pipeline) Done() <-chan struct{} { return p.done }

// Wait waits for Run to return and reports its failure, if any.
func (p *Pipeline) Wait() error {
	<-p.done
	return p.Err()
}

// Finish gives the loop up to grace to reach end of stream on its own,
// then quits it and waits.
func (p *Pipeline) Finish(grace time.Duration) error {
	t := time.NewTimer(grace)
	defer t.Stop()
	select {
	case <-p.done:
	case <-t.C:
	}
	p.Quit()
	return p.Wait()
}

// Err returns the failure that stopped the loop.
func (p *Pipeline) Err() error {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	return p.err
}

// Track returns the muxer track id, or -1 before the codec config arrived.
func (p *Pipeline) Track() int { return int(p.track.Load()) }

// Stats returns the forwarding counters.
func (p *Pipeline) Stats() Stats {
	s := Stats{
		Kind:      p.kind.String(),
		Track:     p.Track(),
		Forwarded: p.forwarded.Load(),
		Bytes:     p.bytes.Load(),
		Skipped:   p.skipped.Load(),
		LastPTS:   p.lastPTS.Load(),
		Running:   p.running.Load(),
	}
	if err := p.Err(); err != nil {
		s.Error = err.Error()
	}
	return s
}
