// Package recorder is the public face of the capture pipeline. A Recorder
// owns the camera, the video core with its render thread, the audio core
// and the muxer of the current recording, and serializes every operation
// under one lock.
package recorder

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/zsiec/camcorder/camera"
	"github.com/zsiec/camcorder/codec"
	"github.com/zsiec/camcorder/codec/synthetic"
	"github.com/zsiec/camcorder/config"
	"github.com/zsiec/camcorder/direction"
	"github.com/zsiec/camcorder/filter"
	"github.com/zsiec/camcorder/gles"
	"github.com/zsiec/camcorder/gles/softgl"
	"github.com/zsiec/camcorder/internal/audiocore"
	"github.com/zsiec/camcorder/internal/callback"
	"github.com/zsiec/camcorder/internal/metrics"
	"github.com/zsiec/camcorder/internal/render"
	"github.com/zsiec/camcorder/internal/videocore"
	"github.com/zsiec/camcorder/mic"
	"github.com/zsiec/camcorder/mux"
)

var (
	// ErrInvalidDirection is returned by Prepare for malformed direction
	// flags.
	ErrInvalidDirection = direction.ErrInvalid

	// ErrCameraUnavailable is returned when a camera cannot be opened or
	// configured.
	ErrCameraUnavailable = camera.ErrUnavailable

	// ErrFormatUnsupported is returned when the camera offers no usable
	// preview format.
	ErrFormatUnsupported = camera.ErrFormatUnsupported

	// ErrCodecCreate is returned when an encoder could not be created.
	ErrCodecCreate = errors.New("recorder: create encoder")

	// ErrCodecConfigure is returned when an encoder rejected its format.
	ErrCodecConfigure = errors.New("recorder: configure encoder")

	// ErrSurfaceLost is the fatal render error of a failed buffer swap.
	ErrSurfaceLost = render.ErrSurfaceLost

	// ErrMuxerIO is returned when the output file could not be written.
	ErrMuxerIO = mux.ErrIO

	// ErrNotPrepared is returned by operations that need Prepare first.
	ErrNotPrepared = errors.New("recorder: not prepared")

	// ErrAlreadyPrepared is returned by a second Prepare.
	ErrAlreadyPrepared = errors.New("recorder: already prepared")

	// ErrDestroyed is returned by operations called after Destroy.
	ErrDestroyed = errors.New("recorder: destroyed")

	// ErrNotRecording is returned by StopRecording when no recording runs.
	ErrNotRecording = errors.New("recorder: not recording")

	// ErrRecording is returned by StartRecording while a recording runs.
	ErrRecording = errors.New("recorder: already recording")

	// ErrNotPreviewing is returned by calls that need an attached preview.
	ErrNotPreviewing = errors.New("recorder: not previewing")
)

// MicOpener opens the microphone for one recording.
type MicOpener func(sampleRate, channels int) (mic.Source, error)

// Recorder records camera video and microphone audio into MPEG-4 files.
type Recorder struct {
	log      *slog.Logger
	platform gles.Platform
	cameras  camera.Provider
	vencs    codec.VideoEncoderFactory
	aencs    codec.AudioEncoderFactory
	openMic  MicOpener
	metrics  *metrics.Metrics
	grace    time.Duration
	executor *callback.Executor

	mu sync.Mutex

	rc     config.RecordConfig
	mc     *config.MediaConfig
	video  *videocore.Core
	audio  *audiocore.Core
	cam    camera.Device
	camIdx int
	front  bool
	camTex gles.SurfaceTexture

	previewWin gles.NativeWindow
	previewing bool
	recording  bool
	prepared   bool
	destroyed  bool

	session   string
	path      string
	muxer     *mux.Muxer
	lastMuxer *mux.Muxer
	mic       mic.Source

	videoFilter filter.VideoFilter
	audioFilter filter.AudioFilter
	listener    func(width, height int)
}

// WithPlatform renders through p instead of the software GL platform.
func WithPlatform(p gles.Platform) func(*Recorder) {
	return func(r *Recorder) { r.platform = p }
}

// WithCameras opens cameras from p instead of the synthetic cameras.
func WithCameras(p camera.Provider) func(*Recorder) {
	return func(r *Recorder) { r.cameras = p }
}

// WithVideoEncoders creates video encoders with f.
func WithVideoEncoders(f codec.VideoEncoderFactory) func(*Recorder) {
	return func(r *Recorder) { r.vencs = f }
}

// WithAudioEncoders creates audio encoders with f.
func WithAudioEncoders(f codec.AudioEncoderFactory) func(*Recorder) {
	return func(r *Recorder) { r.aencs = f }
}

// WithMicrophone opens the microphone with open at each recording start.
func WithMicrophone(open MicOpener) func(*Recorder) {
	return func(r *Recorder) { r.openMic = open }
}

// WithMetrics reports pipeline counters to m.
func WithMetrics(m *metrics.Metrics) func(*Recorder) {
	return func(r *Recorder) { r.metrics = m }
}

// WithDrainGrace bounds how long stopping waits for each encoder to flush.
func WithDrainGrace(d time.Duration) func(*Recorder) {
	return func(r *Recorder) { r.grace = d }
}

// New returns a recorder. Without options it records the synthetic cameras
// and a 440 Hz tone through the software GL platform and the synthetic
// encoders. If log is nil, slog.Default() is used.
func New(log *slog.Logger, opts ...func(*Recorder)) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	r := &Recorder{log: log}
	for _, opt := range opts {
		opt(r)
	}
	if r.platform == nil {
		r.platform = softgl.New()
	}
	if r.cameras == nil {
		r.cameras = camera.NewSyntheticProvider(log)
	}
	if r.vencs == nil || r.aencs == nil {
		f := &synthetic.Factory{Log: log}
		if r.vencs == nil {
			r.vencs = f.Video
		}
		if r.aencs == nil {
			r.aencs = f.Audio
		}
	}
	if r.openMic == nil {
		r.openMic = func(rate, _ int) (mic.Source, error) {
			return mic.NewTone(rate, 440, 0.25), nil
		}
	}
	if r.grace <= 0 {
		r.grace = videocore.DefaultDrainGrace
	}
	r.executor = callback.NewExecutor(log)
	r.log = log.With("component", "recorder")
	return r
}

// Prepare validates rc, opens and configures the default camera, and
// starts the video and audio cores. Malformed direction flags fail with
// ErrInvalidDirection before anything is started.
func (r *Recorder) Prepare(rc config.RecordConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case r.destroyed:
		return ErrDestroyed
	case r.prepared:
		return ErrAlreadyPrepared
	}

	front, back, err := direction.Validate(rc.FrontDirection, rc.BackDirection)
	if err != nil {
		r.log.Error("invalid direction flags", "front", rc.FrontDirection, "back", rc.BackDirection, "error", err)
		return err
	}
	if err := rc.Validate(); err != nil {
		return fmt.Errorf("recorder: %w", err)
	}
	mc := config.NewMediaConfig(rc, front, back)

	idx := 0
	if rc.DefaultCamera < r.cameras.NumberOfCameras() {
		idx = rc.DefaultCamera
	}
	dev, err := r.openCamera(idx)
	if err != nil {
		return err
	}
	params, err := camera.Select(dev, rc.Width, rc.Height)
	if err != nil {
		dev.Release()
		return err
	}
	mc.PreviewWidth, mc.PreviewHeight = params.Size.Width, params.Size.Height
	mc.PreviewFormat = string(params.Format)
	mc.FPS = camera.VideoFPS(rc.FPS, params.FPS)
	mc.ResolveResolution(rc.Width, rc.Height)
	if err := dev.Configure(params); err != nil {
		dev.Release()
		return err
	}
	isFront := dev.Facing() == camera.Front

	video := videocore.New(r.platform, r.vencs, r.log,
		videocore.WithMetrics(r.metrics),
		videocore.WithExecutor(r.executor),
		videocore.WithDrainGrace(r.grace))
	if err := video.Prepare(mc, isFront); err != nil {
		dev.Release()
		return classify(err)
	}
	audio := audiocore.New(r.aencs, r.log,
		audiocore.WithMetrics(r.metrics),
		audiocore.WithDrainGrace(r.grace))
	if err := audio.Prepare(mc); err != nil {
		video.Destroy()
		dev.Release()
		return classify(err)
	}

	if r.videoFilter != nil {
		video.SetVideoFilter(r.videoFilter)
	}
	if r.audioFilter != nil {
		audio.SetFilter(r.audioFilter)
	}
	if r.listener != nil {
		video.SetVideoChangeListener(r.listener)
	}

	mc.Done = true
	r.rc, r.mc = rc, mc
	r.video, r.audio = video, audio
	r.cam, r.camIdx, r.front = dev, idx, isFront
	r.prepared = true
	r.log.Info("recorder prepared",
		"camera", idx,
		"front", isFront,
		"preview", params.Size,
		"fps_range", params.FPS,
		"format", params.Format,
		"config", mc.String())
	return nil
}

// usable reports why an operation cannot run.
func (r *Recorder) usable() error {
	switch {
	case r.destroyed:
		return ErrDestroyed
	case !r.prepared:
		return ErrNotPrepared
	}
	return classify(r.video.Err())
}

func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, videocore.ErrCodecCreate), errors.Is(err, audiocore.ErrCodecCreate):
		return fmt.Errorf("%w: %w", ErrCodecCreate, err)
	case errors.Is(err, videocore.ErrCodecConfigure), errors.Is(err, audiocore.ErrCodecConfigure):
		return fmt.Errorf("%w: %w", ErrCodecConfigure, err)
	}
	return err
}

// StartPreview renders into win with a width×height viewport, starting the
// camera if nothing else uses it.
func (r *Recorder) StartPreview(win gles.NativeWindow, width, height int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.usable(); err != nil {
		return err
	}
	if !r.recording && !r.previewing {
		if err := r.startCamera(); err != nil {
			return err
		}
	}
	if err := r.video.StartPreview(win, width, height); err != nil {
		if !r.recording && !r.previewing {
			r.stopCamera()
		}
		return classify(err)
	}
	r.previewWin, r.previewing = win, true
	r.metrics.SetPreviewing(true)
	return nil
}

// UpdatePreview changes the preview viewport.
func (r *Recorder) UpdatePreview(width, height int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.usable(); err != nil {
		return err
	}
	if !r.previewing {
		return ErrNotPreviewing
	}
	return classify(r.video.UpdatePreview(width, height))
}

// StopPreview detaches the preview window and stops the camera unless a
// recording uses it. With releaseTex the window is closed as well.
func (r *Recorder) StopPreview(releaseTex bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.destroyed {
		return ErrDestroyed
	}
	if !r.previewing {
		return ErrNotPreviewing
	}
	err := r.video.StopPreview()
	if !r.recording {
		r.stopCamera()
	}
	r.releasePreview(releaseTex)
	return classify(err)
}

func (r *Recorder) releasePreview(releaseTex bool) {
	win := r.previewWin
	r.previewWin, r.previewing = nil, false
	r.metrics.SetPreviewing(false)
	if !releaseTex || win == nil {
		return
	}
	switch c := win.(type) {
	case io.Closer:
		if err := c.Close(); err != nil {
			r.log.Debug("close preview window", "error", err)
		}
	case interface{ Close() }:
		c.Close()
	}
}

// SetHardVideoFilter installs the GPU filter, or the passthrough when f is
// nil. It may be called before Prepare.
func (r *Recorder) SetHardVideoFilter(f filter.VideoFilter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.videoFilter = f
	if r.prepared && !r.destroyed {
		r.video.SetVideoFilter(f)
	}
}

// SetSoftAudioFilter installs the PCM filter, or none when f is nil. It may
// be called before Prepare.
func (r *Recorder) SetSoftAudioFilter(f filter.AudioFilter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audioFilter = f
	if r.prepared && !r.destroyed {
		r.audio.SetFilter(f)
	}
}

// SetVideoChangeListener registers fn to be called with the new video size
// after every ResetVideo. Calls happen on the recorder's callback
// goroutine.
func (r *Recorder) SetVideoChangeListener(fn func(width, height int)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listener = fn
	if r.prepared && !r.destroyed {
		r.video.SetVideoChangeListener(fn)
	}
}

// ResetVideo changes the target video size. The crop is recomputed
// against the current preview size and, while recording, the encoder is
// replaced without interrupting the video track. The track's sample
// description keeps the first SPS and PPS; the new ones travel in band
// ahead of each later key frame, so players that only read the sample
// description decode the new frames with the old size.
func (r *Recorder) ResetVideo(width, height int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.usable(); err != nil {
		return err
	}
	if width <= 0 || height <= 0 {
		return fmt.Errorf("recorder: invalid video size %dx%d", width, height)
	}
	mc := r.mc.Clone()
	mc.ResolveResolution(width, height)
	if err := r.video.ResetVideo(mc.VideoWidth, mc.VideoHeight, mc.CropRatio); err != nil {
		return classify(err)
	}
	r.mc = mc
	if r.videoFilter != nil {
		r.video.SetVideoFilter(r.videoFilter)
	}
	return nil
}

// ResetBitrate changes the video bitrate, applied to the running encoder.
func (r *Recorder) ResetBitrate(bps int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.usable(); err != nil {
		return err
	}
	if err := r.video.ResetBitrate(bps); err != nil {
		return classify(err)
	}
	r.mc.Bitrate = bps
	return nil
}

// UpdateVideoSavePath changes where the next recording is written. A path
// ending in .mp4 names the file; anything else is a directory that receives
// a generated file name.
func (r *Recorder) UpdateVideoSavePath(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rc.SavePath = path
	if r.mc != nil {
		r.mc.SavePath = path
	}
}

// VideoSavePath returns the configured save path, or "" when saving is
// disabled.
func (r *Recorder) VideoSavePath() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.rc.SaveEnabled {
		return ""
	}
	return r.rc.SavePath
}

// LastRecording returns the file written by the current or most recent
// recording.
func (r *Recorder) LastRecording() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.path
}

// VideoSize returns the video size as displayed. It is zero before Prepare.
func (r *Recorder) VideoSize() (width, height int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mc == nil {
		return 0, 0
	}
	return r.mc.VideoWidth, r.mc.VideoHeight
}

// MediaConfig returns a copy of the media configuration derived by Prepare.
func (r *Recorder) MediaConfig() (config.MediaConfig, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mc == nil {
		return config.MediaConfig{}, false
	}
	return *r.mc, true
}

// IsFrontCamera reports whether the front camera is active.
func (r *Recorder) IsFrontCamera() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.front
}

// Previewing reports whether a preview window is attached.
func (r *Recorder) Previewing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.previewing
}

// Recording reports whether a recording is in progress.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// Err returns the fatal render error that disabled the recorder, if any.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.video == nil {
		return nil
	}
	return classify(r.video.Err())
}

// Destroy stops recording and preview, tears down the render thread and
// releases the camera. It is safe to call more than once and without
// Prepare.
func (r *Recorder) Destroy() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.destroyed {
		return nil
	}
	r.destroyed = true
	defer r.executor.Close()
	if !r.prepared {
		return nil
	}

	var errs []error
	if r.recording {
		errs = append(errs, r.stopRecordingLocked())
	}
	if r.previewing {
		if err := r.video.StopPreview(); err != nil && r.video.Err() == nil {
			errs = append(errs, err)
		}
		r.releasePreview(false)
	}
	r.stopCamera()
	if err := r.video.Destroy(); err != nil {
		errs = append(errs, err)
	}
	if err := r.audio.Destroy(); err != nil {
		errs = append(errs, err)
	}
	if r.cam != nil {
		r.cam.Release()
		r.cam = nil
	}
	r.prepared = false
	r.log.Info("recorder destroyed")
	return classify(errors.Join(errs...))
}
