// Package videocore drives the render thread. It counts camera frames,
// paces draws at the configured frame rate, binds the video encoder's input
// surface into the render graph and drains the encoder into the muxer.
//
// Every GL call happens inside the looper handler. The exported methods may
// be called from any goroutine; control operations are delivered to the
// render thread as messages and wait for their result.
package videocore

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/camcorder/codec"
	"github.com/zsiec/camcorder/config"
	"github.com/zsiec/camcorder/direction"
	"github.com/zsiec/camcorder/filter"
	"github.com/zsiec/camcorder/gles"
	"github.com/zsiec/camcorder/internal/callback"
	"github.com/zsiec/camcorder/internal/looper"
	"github.com/zsiec/camcorder/internal/metrics"
	"github.com/zsiec/camcorder/internal/pipeline"
	"github.com/zsiec/camcorder/internal/render"
)

var (
	// ErrCodecCreate is returned when no video encoder could be created.
	ErrCodecCreate = errors.New("videocore: create encoder")

	// ErrCodecConfigure is returned when the encoder rejected its format or
	// failed to start.
	ErrCodecConfigure = errors.New("videocore: configure encoder")

	// ErrClosed is returned after Destroy.
	ErrClosed = errors.New("videocore: closed")

	// ErrNotPrepared is returned by operations that need Prepare first.
	ErrNotPrepared = errors.New("videocore: not prepared")

	// ErrRecording is returned by StartRecording while already recording.
	ErrRecording = errors.New("videocore: already recording")
)

// DefaultDrainGrace bounds how long stop-recording waits for the encoder to
// flush its last packets.
const DefaultDrainGrace = 500 * time.Millisecond

// Message codes handled on the render thread.
const (
	whatInit           = 0x1
	whatUninit         = 0x2
	whatFrame          = 0x3
	whatDraw           = 0x4
	whatResetVideo     = 0x5
	whatStartPreview   = 0x10
	whatStopPreview    = 0x20
	whatUpdatePreview  = 0x40
	whatResetBitrate   = 0x300
	whatStartRecording = 0x500
	whatStopRecording  = 0x600
)

// request carries the argument of a control message and its reply.
type request struct {
	arg  any
	done chan error
}

// Stats is a snapshot of the render thread counters.
type Stats struct {
	Render     render.Stats    `json:"render"`
	Dropped    int64           `json:"frames_dropped"`
	Draws      int64           `json:"draw_ticks"`
	LastPTS    int64           `json:"last_pts_ns"`
	Drain      *pipeline.Stats `json:"drain,omitempty"`
	Encoders   int64           `json:"encoders_created"`
	Previewing bool            `json:"previewing"`
	Recording  bool            `json:"recording"`
	Width      int             `json:"width"`
	Height     int             `json:"height"`
	Bitrate    int             `json:"bitrate"`
	Error      string          `json:"error,omitempty"`
}

// Core is the video half of the recorder.
type Core struct {
	log      *slog.Logger
	root     *slog.Logger
	platform gles.Platform
	encoders codec.VideoEncoderFactory
	gate     *render.FilterGate
	executor *callback.Executor
	metrics  *metrics.Metrics
	grace    time.Duration

	lp    *looper.Looper
	graph *render.Graph

	cfgMu sync.Mutex
	cfg   *config.MediaConfig
	front bool

	// frame counter, shared with the camera's frame listener
	frameMu  sync.Mutex
	frameNum int
	dropNext bool

	texMu  sync.Mutex
	camTex gles.SurfaceTexture

	listenerMu sync.Mutex
	listener   func(width, height int)

	// render thread state
	hasNewFrame bool
	enc         codec.VideoEncoder
	stateMu     sync.Mutex
	drain       *pipeline.Pipeline

	previewing atomic.Bool
	recording  atomic.Bool
	prepared   atomic.Bool
	closed     atomic.Bool

	dropped  atomic.Int64
	draws    atomic.Int64
	created  atomic.Int64
	lastPTS  atomic.Int64
	fatalMu  sync.Mutex
	fatalErr error
}

// WithMetrics reports frame counters to m.
func WithMetrics(m *metrics.Metrics) func(*Core) {
	return func(c *Core) { c.metrics = m }
}

// WithFilterGate shares g with the code installing video filters.
func WithFilterGate(g *render.FilterGate) func(*Core) {
	return func(c *Core) { c.gate = g }
}

// WithExecutor delivers video-size notifications on e.
func WithExecutor(e *callback.Executor) func(*Core) {
	return func(c *Core) { c.executor = e }
}

// WithDrainGrace sets how long stop-recording waits for end of stream.
func WithDrainGrace(d time.Duration) func(*Core) {
	return func(c *Core) { c.grace = d }
}

// New returns a core rendering through platform and encoding with encoders.
// If log is nil, slog.Default() is used.
func New(platform gles.Platform, encoders codec.VideoEncoderFactory, log *slog.Logger, opts ...func(*Core)) *Core {
	if log == nil {
		log = slog.Default()
	}
	c := &Core{
		log:      log.With("component", "video-core"),
		root:     log,
		platform: platform,
		encoders: encoders,
		grace:    DefaultDrainGrace,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.gate == nil {
		c.gate = render.NewFilterGate(render.FilterLockTimeout)
	}
	c.graph = render.NewGraph(platform, c.gate, c.metrics, log)
	c.lp = looper.New(c.handle)
	return c
}

// Prepare starts the render thread and creates the off-screen context for
// cfg's video size. front selects the initial camera direction.
func (c *Core) Prepare(cfg *config.MediaConfig, front bool) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if c.prepared.Load() {
		return render.ErrAlreadyInitialized
	}
	c.cfgMu.Lock()
	c.cfg = cfg.Clone()
	c.front = front
	c.cfgMu.Unlock()
	c.updateDirection()

	c.lp.Start()
	if err := c.call(whatInit, nil); err != nil {
		c.closed.Store(true)
		c.lp.QuitSafely()
		<-c.lp.Done()
		return err
	}
	c.prepared.Store(true)
	c.log.Info("video core prepared", "config", cfg.String())
	return nil
}

// call delivers a control message to the render thread and waits for its
// result.
func (c *Core) call(what int, arg any) error {
	if err := c.Err(); err != nil {
		return err
	}
	req := &request{arg: arg, done: make(chan error, 1)}
	if !c.lp.Send(&looper.Message{What: what, Obj: req}) {
		return ErrClosed
	}
	select {
	case err := <-req.done:
		return err
	case <-c.lp.Done():
		select {
		case err := <-req.done:
			return err
		default:
			return ErrClosed
		}
	}
}

// OnFrameAvailable records one camera frame and schedules its sampling
// ahead of every pending message. Repeated calls coalesce into a single
// pending frame message.
func (c *Core) OnFrameAvailable() {
	c.frameMu.Lock()
	c.frameNum++
	c.frameMu.Unlock()
	c.lp.Remove(whatFrame)
	c.lp.SendAtFront(&looper.Message{What: whatFrame})
}

// FrameCount returns the number of camera frames not yet latched.
func (c *Core) FrameCount() int {
	c.frameMu.Lock()
	defer c.frameMu.Unlock()
	return c.frameNum
}

// DropPending reports whether the next latched frame will be discarded.
func (c *Core) DropPending() bool {
	c.frameMu.Lock()
	defer c.frameMu.Unlock()
	return c.dropNext
}

// UpdateCameraTexture installs the surface texture the camera streams into.
// A different texture discards the frame count and the next frame, which
// still belongs to the previous camera.
func (c *Core) UpdateCameraTexture(st gles.SurfaceTexture) {
	c.texMu.Lock()
	changed := st != c.camTex
	c.camTex = st
	c.texMu.Unlock()
	if !changed {
		return
	}
	c.frameMu.Lock()
	c.frameNum = 0
	c.dropNext = true
	c.frameMu.Unlock()
}

func (c *Core) cameraTexture() gles.SurfaceTexture {
	c.texMu.Lock()
	defer c.texMu.Unlock()
	return c.camTex
}

// UpdateCameraIndex switches the sampling direction to the front or back
// camera.
func (c *Core) UpdateCameraIndex(front bool) {
	c.cfgMu.Lock()
	c.front = front
	c.cfgMu.Unlock()
	c.updateDirection()
}

func (c *Core) updateDirection() {
	c.cfgMu.Lock()
	if c.cfg == nil {
		c.cfgMu.Unlock()
		return
	}
	f := c.cfg.DirectionFor(c.front)
	crop := c.cfg.CropRatio
	c.cfgMu.Unlock()
	c.graph.SetDirection(f, crop)
}

// Direction returns the direction flag and texture coordinates used for
// sampling.
func (c *Core) Direction() (direction.Flag, direction.TexCoords) {
	return c.graph.Direction()
}

// SetVideoFilter installs f, or the passthrough when f is nil. It blocks
// until the render thread is outside the filter stage.
func (c *Core) SetVideoFilter(f filter.VideoFilter) {
	c.cfgMu.Lock()
	var pw, ph int
	var square bool
	var crop float32
	if c.cfg != nil {
		pw, ph = c.cfg.PreviewWidth, c.cfg.PreviewHeight
		if !c.cfg.Portrait {
			pw, ph = ph, pw
		}
		square, crop = c.cfg.Square, c.cfg.CropRatio
	}
	c.cfgMu.Unlock()

	c.gate.Set(f, func(f filter.VideoFilter) {
		f.UpdatePreviewSize(pw, ph)
		f.UpdateSquareFlag(square)
		f.UpdateCropRatio(crop)
	})
}

// VideoFilter returns the installed filter.
func (c *Core) VideoFilter() filter.VideoFilter { return c.gate.Current() }

// SetVideoChangeListener registers fn to run on the callback executor after
// every video reset.
func (c *Core) SetVideoChangeListener(fn func(width, height int)) {
	c.listenerMu.Lock()
	c.listener = fn
	c.listenerMu.Unlock()
}

type previewArgs struct {
	win           gles.NativeWindow
	width, height int
}

// StartPreview attaches win as the preview output with a width×height
// viewport and starts draw ticks if they are not running.
func (c *Core) StartPreview(win gles.NativeWindow, width, height int) error {
	if !c.prepared.Load() {
		return ErrNotPrepared
	}
	return c.call(whatStartPreview, previewArgs{win: win, width: width, height: height})
}

// UpdatePreview changes the preview viewport.
func (c *Core) UpdatePreview(width, height int) error {
	if !c.prepared.Load() {
		return ErrNotPrepared
	}
	return c.call(whatUpdatePreview, previewArgs{width: width, height: height})
}

// StopPreview detaches the preview output.
func (c *Core) StopPreview() error {
	if !c.prepared.Load() {
		return ErrNotPrepared
	}
	return c.call(whatStopPreview, nil)
}

// StartRecording creates and starts the encoder and a drain goroutine
// writing to sink.
func (c *Core) StartRecording(sink pipeline.Sink) error {
	if !c.prepared.Load() {
		return ErrNotPrepared
	}
	return c.call(whatStartRecording, sink)
}

// StopRecording ends the encoder stream, waits for the drain and releases
// the encoder. The returned error is the drain's muxer failure, if any.
func (c *Core) StopRecording() error {
	if !c.prepared.Load() {
		return ErrNotPrepared
	}
	return c.call(whatStopRecording, nil)
}

type resetArgs struct {
	width, height int
	crop          float32
}

// ResetVideo changes the video size in one render-thread step. While
// recording the encoder is recreated and the drain keeps its muxer track,
// carrying the new parameter sets in band.
func (c *Core) ResetVideo(width, height int, crop float32) error {
	if !c.prepared.Load() {
		return ErrNotPrepared
	}
	return c.call(whatResetVideo, resetArgs{width: width, height: height, crop: crop})
}

// ResetBitrate changes the encoder bitrate without restarting it.
func (c *Core) ResetBitrate(bps int) error {
	if !c.prepared.Load() {
		return ErrNotPrepared
	}
	return c.call(whatResetBitrate, bps)
}

// Destroy tears the render thread down. It is safe to call more than once.
func (c *Core) Destroy() error {
	if c.closed.Swap(true) {
		return nil
	}
	var err error
	if c.prepared.Load() && c.Err() == nil {
		err = c.call(whatUninit, nil)
	}
	c.lp.QuitSafely()
	<-c.lp.Done()
	c.prepared.Store(false)
	c.log.Info("video core destroyed")
	return err
}

// Previewing reports whether a preview output is attached.
func (c *Core) Previewing() bool { return c.previewing.Load() }

// Recording reports whether the encoder is running.
func (c *Core) Recording() bool { return c.recording.Load() }

// Err returns the fatal render-thread error, if one occurred.
func (c *Core) Err() error {
	c.fatalMu.Lock()
	defer c.fatalMu.Unlock()
	return c.fatalErr
}

// Stats returns a snapshot of the counters.
func (c *Core) Stats() Stats {
	s := Stats{
		Render:     c.graph.Stats(),
		Dropped:    c.dropped.Load(),
		Draws:      c.draws.Load(),
		LastPTS:    c.lastPTS.Load(),
		Encoders:   c.created.Load(),
		Previewing: c.previewing.Load(),
		Recording:  c.recording.Load(),
	}
	c.cfgMu.Lock()
	if c.cfg != nil {
		s.Width, s.Height, s.Bitrate = c.cfg.VideoWidth, c.cfg.VideoHeight, c.cfg.Bitrate
	}
	c.cfgMu.Unlock()
	c.stateMu.Lock()
	if c.drain != nil {
		ds := c.drain.Stats()
		s.Drain = &ds
	}
	c.stateMu.Unlock()
	if err := c.Err(); err != nil {
		s.Error = err.Error()
	}
	return s
}
