// Package audiocore captures microphone PCM, runs the optional audio filter
// and feeds the AAC encoder, whose output is drained into the muxer.
//
// Three goroutines run while recording: capture blocks on the microphone,
// the feeder filters and submits slices to the encoder, and the drain
// forwards encoded packets. Capture and feeder share one errgroup so a
// failure in either stops both.
package audiocore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/camcorder/codec"
	"github.com/zsiec/camcorder/config"
	"github.com/zsiec/camcorder/filter"
	"github.com/zsiec/camcorder/internal/metrics"
	"github.com/zsiec/camcorder/internal/pipeline"
	"github.com/zsiec/camcorder/media"
	"github.com/zsiec/camcorder/mic"
)

var (
	// ErrCodecCreate is returned when no audio encoder could be created.
	ErrCodecCreate = errors.New("audiocore: create encoder")

	// ErrCodecConfigure is returned when the encoder rejected its format.
	ErrCodecConfigure = errors.New("audiocore: configure encoder")

	// ErrNotPrepared is returned by Start before Prepare.
	ErrNotPrepared = errors.New("audiocore: not prepared")

	// ErrRunning is returned by Start while already running.
	ErrRunning = errors.New("audiocore: already running")
)

const (
	// inputTimeout bounds the wait for a free encoder input buffer.
	inputTimeout = 10 * time.Millisecond

	// DefaultDrainGrace bounds how long Stop waits for end of stream.
	DefaultDrainGrace = 500 * time.Millisecond
)

type slice struct {
	pcm []byte
	seq int64
}

// Stats counts captured and encoded audio.
type Stats struct {
	Captured  int64           `json:"slices_captured"`
	Submitted int64           `json:"slices_submitted"`
	Filtered  int64           `json:"slices_filtered"`
	Dropped   int64           `json:"slices_dropped"`
	Running   bool            `json:"running"`
	Drain     *pipeline.Stats `json:"drain,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Core is the audio half of the recorder.
type Core struct {
	log      *slog.Logger
	root     *slog.Logger
	encoders codec.AudioEncoderFactory
	metrics  *metrics.Metrics
	grace    time.Duration

	cfgMu      sync.Mutex
	sampleRate int
	channels   int
	bitrate    int
	sliceBytes int
	prepared   bool

	filterMu   sync.Mutex
	filter     filter.AudioFilter
	filterInit bool

	// recording state, guarded by runMu
	runMu   sync.Mutex
	enc     codec.AudioEncoder
	drain   atomic.Pointer[pipeline.Pipeline]
	group   *errgroup.Group
	cancel  context.CancelFunc
	running atomic.Bool

	captured  atomic.Int64
	submitted atomic.Int64
	filtered  atomic.Int64
	dropped   atomic.Int64

	errMu sync.Mutex
	err   error
}

// WithMetrics reports dropped slices and packets to m.
func WithMetrics(m *metrics.Metrics) func(*Core) {
	return func(c *Core) { c.metrics = m }
}

// WithDrainGrace sets how long Stop waits for end of stream.
func WithDrainGrace(d time.Duration) func(*Core) {
	return func(c *Core) { c.grace = d }
}

// New returns an audio core encoding with encoders. If log is nil,
// slog.Default() is used.
func New(encoders codec.AudioEncoderFactory, log *slog.Logger, opts ...func(*Core)) *Core {
	if log == nil {
		log = slog.Default()
	}
	c := &Core{
		log:      log.With("component", "audio-core"),
		root:     log,
		encoders: encoders,
		grace:    DefaultDrainGrace,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Prepare records the PCM layout and encoder bitrate from cfg.
func (c *Core) Prepare(cfg *config.MediaConfig) error {
	if _, err := codec.SampleRateIndex(cfg.AudioSampleRate); err != nil {
		return fmt.Errorf("%w: %v", ErrCodecConfigure, err)
	}
	if cfg.AudioChannels != 1 && cfg.AudioChannels != 2 {
		return fmt.Errorf("%w: %d channels", ErrCodecConfigure, cfg.AudioChannels)
	}
	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()
	c.sampleRate = cfg.AudioSampleRate
	c.channels = cfg.AudioChannels
	c.bitrate = cfg.AudioBitrate
	c.sliceBytes = cfg.AudioSliceSamples() * 2 * cfg.AudioChannels
	c.prepared = true
	return nil
}

// SliceBytes returns the size of one 100 ms capture slice.
func (c *Core) SliceBytes() int {
	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()
	return c.sliceBytes
}

// SetFilter installs f, or removes the filter when f is nil. The previous
// filter is destroyed.
func (c *Core) SetFilter(f filter.AudioFilter) {
	c.filterMu.Lock()
	defer c.filterMu.Unlock()
	if c.filter != nil && c.filter != f && c.filterInit {
		c.filter.Destroy()
	}
	c.filter, c.filterInit = f, false
}

// Filter returns the installed filter.
func (c *Core) Filter() filter.AudioFilter {
	c.filterMu.Lock()
	defer c.filterMu.Unlock()
	return c.filter
}

// Start creates the encoder and starts capturing from src into sink.
func (c *Core) Start(src mic.Source, sink pipeline.Sink) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.running.Load() {
		return ErrRunning
	}
	c.cfgMu.Lock()
	prepared, rate, ch, br, size := c.prepared, c.sampleRate, c.channels, c.bitrate, c.sliceBytes
	c.cfgMu.Unlock()
	if !prepared {
		return ErrNotPrepared
	}

	enc, err := c.encoders(media.MimeAAC)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCodecCreate, err)
	}
	if err := enc.Configure(codec.AACFormat(rate, ch, br, size)); err != nil {
		enc.Release()
		return fmt.Errorf("%w: %v", ErrCodecConfigure, err)
	}
	if err := enc.Start(); err != nil {
		enc.Release()
		return fmt.Errorf("%w: start: %v", ErrCodecConfigure, err)
	}

	d := pipeline.New(media.TrackAudio, enc, sink, c.metrics, c.root)
	d.SetAudioParams(rate, ch)
	d.Start()

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	queue := make(chan slice, media.AudioQueueDepth)

	c.enc, c.group, c.cancel = enc, g, cancel
	c.drain.Store(d)
	c.setErr(nil)
	c.running.Store(true)

	g.Go(func() error { return c.capture(gctx, src, queue, size) })
	g.Go(func() error { return c.feed(gctx, enc, queue, rate, ch, size) })

	c.log.Info("audio recording started", "sample_rate", rate, "channels", ch, "slice_bytes", size)
	return nil
}

// capture reads slices until the core stops. It owns queue and closes it
// on return.
func (c *Core) capture(ctx context.Context, src mic.Source, queue chan<- slice, size int) error {
	defer close(queue)
	var seq int64
	for c.running.Load() {
		buf := make([]byte, size)
		n, err := src.Read(buf)
		if err != nil {
			if errors.Is(err, mic.ErrClosed) || !c.running.Load() {
				return nil
			}
			return fmt.Errorf("audiocore: mic read: %w", err)
		}
		if n <= 0 {
			continue
		}
		c.captured.Add(1)
		select {
		case queue <- slice{pcm: buf[:n], seq: seq}:
		case <-ctx.Done():
			return nil
		default:
			c.dropped.Add(1)
			c.metrics.AudioSliceDropped()
			c.log.Debug("audio slice dropped, encoder behind", "seq", seq)
		}
		seq++
	}
	return nil
}

// feed submits queued slices to the encoder, ending the stream when the
// queue closes. Timestamps follow the slice sequence at sliceBytes per
// slice, so a short read never moves the clock backwards.
func (c *Core) feed(ctx context.Context, enc codec.AudioEncoder, queue <-chan slice, rate, channels, sliceBytes int) error {
	var target []byte
	var lastPTS int64
	samples := int64(sliceBytes / (2 * channels))
	for s := range queue {
		pcm := s.pcm
		if len(target) != len(pcm) {
			target = make([]byte, len(pcm))
		}
		pts := s.seq * samples * 1_000_000 / int64(rate)
		if c.applyFilter(pcm, target, pts/1000, s.seq) {
			pcm = target
			c.filtered.Add(1)
		}
		if err := c.submit(ctx, enc, pcm, pts, 0); err != nil {
			return err
		}
		c.submitted.Add(1)
		lastPTS = pts
	}
	if ctx.Err() != nil {
		return nil
	}
	return c.submit(ctx, enc, nil, lastPTS, media.FlagEndOfStream)
}

func (c *Core) applyFilter(origin, target []byte, presentationMs, seq int64) bool {
	c.filterMu.Lock()
	defer c.filterMu.Unlock()
	if c.filter == nil {
		return false
	}
	if !c.filterInit {
		if err := c.filter.Init(len(origin)); err != nil {
			c.log.Warn("audio filter init failed, removing it", "error", err)
			c.filter = nil
			return false
		}
		c.filterInit = true
	}
	return c.filter.Filter(origin, target, presentationMs, seq)
}

// submit copies pcm into a free encoder input buffer.
func (c *Core) submit(ctx context.Context, enc codec.AudioEncoder, pcm []byte, pts int64, flags media.PacketFlags) error {
	for {
		idx, err := enc.DequeueInputBuffer(inputTimeout)
		if errors.Is(err, codec.ErrTryAgain) {
			if ctx.Err() != nil {
				return nil
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("audiocore: input buffer: %w", err)
		}
		n := copy(enc.InputBuffer(idx), pcm)
		return enc.QueueInputBuffer(idx, n, pts, flags)
	}
}

// Stop ends capture, flushes the encoder and waits for the drain. The
// returned error is the first capture, feeder or drain failure.
func (c *Core) Stop() error {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if !c.running.Swap(false) {
		return nil
	}

	// Capture notices the stop after its current read returns.
	gerr := c.group.Wait()
	d := c.drain.Load()
	derr := d.Finish(c.grace)
	c.cancel()

	if err := c.enc.Stop(); err != nil {
		c.log.Debug("encoder stop", "error", err)
	}
	c.enc.Release()

	ds := d.Stats()
	c.log.Info("audio recording stopped", "packets", ds.Forwarded, "bytes", ds.Bytes,
		"dropped_slices", c.dropped.Load())
	c.enc, c.group, c.cancel = nil, nil, nil

	err := errors.Join(gerr, derr)
	c.setErr(err)
	return err
}

// Running reports whether capture is active.
func (c *Core) Running() bool { return c.running.Load() }

// Destroy stops capture and destroys the filter.
func (c *Core) Destroy() error {
	err := c.Stop()
	c.SetFilter(nil)
	return err
}

func (c *Core) setErr(err error) {
	c.errMu.Lock()
	c.err = err
	c.errMu.Unlock()
}

// Err returns the failure reported by the last Stop.
func (c *Core) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Stats returns a snapshot of the counters.
func (c *Core) Stats() Stats {
	s := Stats{
		Captured:  c.captured.Load(),
		Submitted: c.submitted.Load(),
		Filtered:  c.filtered.Load(),
		Dropped:   c.dropped.Load(),
		Running:   c.running.Load(),
	}
	if d := c.drain.Load(); d != nil {
		ds := d.Stats()
		s.Drain = &ds
	}
	if err := c.Err(); err != nil {
		s.Error = err.Error()
	}
	return s
}
