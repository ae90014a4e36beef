package videocore

import (
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/zsiec/camcorder/codec"
	"github.com/zsiec/camcorder/codec/synthetic"
	"github.com/zsiec/camcorder/config"
	"github.com/zsiec/camcorder/gles"
	"github.com/zsiec/camcorder/gles/softgl"
	"github.com/zsiec/camcorder/internal/callback"
	"github.com/zsiec/camcorder/internal/looper"
	"github.com/zsiec/camcorder/internal/render"
	"github.com/zsiec/camcorder/media"
)

type sink struct {
	mu      sync.Mutex
	formats []media.Format
	samples []*media.Packet
}

func (s *sink) AddTrack(f media.Format) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.formats = append(s.formats, f)
	return len(s.formats) - 1, nil
}

func (s *sink) WriteSample(track int, p *media.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, p)
	return nil
}

func (s *sink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.samples)
}

func (s *sink) snapshot() ([]media.Format, []*media.Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]media.Format(nil), s.formats...), append([]*media.Packet(nil), s.samples...)
}

func mediaConfig(w, h, fps int) *config.MediaConfig {
	rc := config.Default()
	rc.Width, rc.Height, rc.FPS = w, h, fps
	mc := config.NewMediaConfig(rc, rc.FrontDirection, rc.BackDirection)
	mc.PreviewWidth, mc.PreviewHeight = w, h
	mc.ResolveResolution(w, h)
	return mc
}

type harness struct {
	core     *Core
	platform *softgl.Platform
	factory  *synthetic.Factory
	camera   gles.SurfaceTexture
}

func newHarness(t *testing.T, w, h int, opts ...func(*Core)) *harness {
	t.Helper()
	p := softgl.New()
	f := &synthetic.Factory{}
	c := New(p, f.Video, nil, opts...)
	if err := c.Prepare(mediaConfig(w, h, 20), false); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	t.Cleanup(func() { c.Destroy() })

	st, err := p.NewSurfaceTexture(media.ExternalTextureID)
	if err != nil {
		t.Fatalf("NewSurfaceTexture: %v", err)
	}
	t.Cleanup(st.Release)
	c.UpdateCameraTexture(st)
	st.SetOnFrameAvailable(c.OnFrameAvailable)
	// The first install counts as a camera change.
	c.frameMu.Lock()
	c.dropNext = false
	c.frameMu.Unlock()
	return &harness{core: c, platform: p, factory: f, camera: st}
}

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

// feed queues a frame into st every period until the returned stop func is
// called.
func feed(st gles.SurfaceTexture, w, h int, period time.Duration) (stop func()) {
	done := make(chan struct{})
	finished := make(chan struct{})
	img := solid(w, h, color.RGBA{200, 100, 50, 255})
	go func() {
		defer close(finished)
		t := time.NewTicker(period)
		defer t.Stop()
		var ts int64
		for {
			select {
			case <-done:
				return
			case <-t.C:
				ts += int64(period)
				if err := st.QueueImage(img, ts); err != nil {
					return
				}
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			<-finished
		})
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestFrameMessagesCoalesce(t *testing.T) {
	t.Parallel()

	c := New(softgl.New(), (&synthetic.Factory{}).Video, nil)
	defer c.Destroy()

	const n = 5
	for i := 0; i < n; i++ {
		c.OnFrameAvailable()
	}
	if got := c.FrameCount(); got != n {
		t.Fatalf("FrameCount: got %d, want %d", got, n)
	}
	if got := c.lp.Pending(); got != 1 {
		t.Fatalf("pending messages: got %d, want 1", got)
	}
	if !c.lp.Has(whatFrame) {
		t.Fatal("frame message missing")
	}
}

func TestFrameLatchResetsCount(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 32, 32)
	for i := 0; i < 3; i++ {
		if err := h.camera.QueueImage(solid(32, 32, color.RGBA{0, 255, 0, 255}), int64(i)); err != nil {
			t.Fatalf("QueueImage: %v", err)
		}
	}
	waitFor(t, "frame sampled", func() bool {
		return h.core.FrameCount() == 0 && h.core.Stats().Render.Sampled > 0
	})
	if h.core.Stats().Dropped != 0 {
		t.Fatalf("dropped: got %d, want 0", h.core.Stats().Dropped)
	}
}

func TestCameraChangeDropsNextFrame(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 32, 32)
	h.camera.QueueImage(solid(32, 32, color.RGBA{255, 0, 0, 255}), 1)
	waitFor(t, "first camera frame", func() bool { return h.core.Stats().Render.Sampled == 1 })

	next, err := h.platform.NewSurfaceTexture(media.ExternalTextureID + 1)
	if err != nil {
		t.Fatalf("NewSurfaceTexture: %v", err)
	}
	defer next.Release()
	h.core.UpdateCameraTexture(next)
	if !h.core.DropPending() || h.core.FrameCount() != 0 {
		t.Fatalf("after swap: drop=%v count=%d", h.core.DropPending(), h.core.FrameCount())
	}
	next.SetOnFrameAvailable(h.core.OnFrameAvailable)

	next.QueueImage(solid(32, 32, color.RGBA{0, 0, 255, 255}), 2)
	waitFor(t, "stale frame dropped", func() bool { return !h.core.DropPending() })
	if got := h.core.Stats().Dropped; got != 1 {
		t.Fatalf("dropped: got %d, want 1", got)
	}

	// Installing the same texture again is not a change.
	h.core.UpdateCameraTexture(next)
	if h.core.DropPending() {
		t.Fatal("reinstalling the same texture set drop-next")
	}
}

func TestEmptyFrameMessageKeepsDropPending(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 32, 32)
	next, err := h.platform.NewSurfaceTexture(media.ExternalTextureID + 1)
	if err != nil {
		t.Fatalf("NewSurfaceTexture: %v", err)
	}
	defer next.Release()
	h.core.UpdateCameraTexture(next)
	next.SetOnFrameAvailable(h.core.OnFrameAvailable)

	// A frame message left over from the previous camera latches nothing.
	h.core.lp.SendAtFront(&looper.Message{What: whatFrame})
	if !h.core.lp.Call(func() {}) {
		t.Fatal("looper stopped")
	}
	if !h.core.DropPending() {
		t.Fatal("frame message with no frames consumed drop-next")
	}
	if got := h.core.Stats().Dropped; got != 0 {
		t.Fatalf("dropped: got %d, want 0", got)
	}

	next.QueueImage(solid(32, 32, color.RGBA{0, 255, 0, 255}), 1)
	waitFor(t, "stale frame dropped", func() bool { return !h.core.DropPending() })
	if got := h.core.Stats().Dropped; got != 1 {
		t.Fatalf("dropped: got %d, want 1", got)
	}
}

func TestCameraChangeDropsOnlyFirstOfBatch(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 32, 32)
	next, err := h.platform.NewSurfaceTexture(media.ExternalTextureID + 1)
	if err != nil {
		t.Fatalf("NewSurfaceTexture: %v", err)
	}
	defer next.Release()
	h.core.UpdateCameraTexture(next)
	next.SetOnFrameAvailable(h.core.OnFrameAvailable)

	// Queue from the render thread so all three images land in one frame
	// message.
	h.core.lp.Call(func() {
		for i := 0; i < 3; i++ {
			next.QueueImage(solid(32, 32, color.RGBA{0, 0, 255, 255}), int64(i+1))
		}
	})
	waitFor(t, "batch latched", func() bool { return h.core.FrameCount() == 0 && h.core.Stats().Render.Sampled == 1 })
	if got := h.core.Stats().Dropped; got != 1 {
		t.Fatalf("dropped: got %d, want 1", got)
	}
	if h.core.DropPending() {
		t.Fatal("drop-next still pending after batch")
	}
}

func TestRecordingPTSLadder(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 64, 48)
	out := &sink{}
	if err := h.core.StartRecording(out); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if err := h.core.StartRecording(out); !errors.Is(err, ErrRecording) {
		t.Fatalf("second StartRecording: got %v, want ErrRecording", err)
	}
	stop := feed(h.camera, 64, 48, 10*time.Millisecond)
	waitFor(t, "encoded frames", func() bool { return out.count() >= 8 })
	stop()
	if err := h.core.StopRecording(); err != nil {
		t.Fatalf("StopRecording: %v", err)
	}

	formats, samples := out.snapshot()
	if len(formats) != 1 || formats[0].Width != 64 || formats[0].Height != 48 {
		t.Fatalf("formats: %+v", formats)
	}
	if !samples[0].IsKeyFrame() {
		t.Fatal("first sample is not a key frame")
	}
	const intervalUs = 50_000
	for i := 1; i < len(samples); i++ {
		d := samples[i].PTS - samples[i-1].PTS
		if d <= 0 || d%intervalUs != 0 {
			t.Fatalf("sample %d: pts step %dus is not a positive multiple of %dus", i, d, intervalUs)
		}
	}
	encs := h.factory.VideoEncoders()
	if len(encs) != 1 || encs[0].LateFrames() != 0 {
		t.Fatalf("encoders: %d, late frames on first: %d", len(encs), encs[0].LateFrames())
	}
	if h.core.Recording() {
		t.Fatal("still recording")
	}
}

func TestResetVideoWhileRecording(t *testing.T) {
	t.Parallel()

	exec := callback.NewExecutor(nil)
	defer exec.Close()
	h := newHarness(t, 64, 48, WithExecutor(exec))

	type size struct{ w, h int }
	changes := make(chan size, 4)
	h.core.SetVideoChangeListener(func(w, h int) { changes <- size{w, h} })

	out := &sink{}
	if err := h.core.StartRecording(out); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	stop := feed(h.camera, 64, 48, 10*time.Millisecond)
	defer stop()
	waitFor(t, "frames before reset", func() bool { return out.count() >= 3 })

	if err := h.core.ResetVideo(96, 54, 0); err != nil {
		t.Fatalf("ResetVideo: %v", err)
	}

	select {
	case got := <-changes:
		if got != (size{96, 54}) {
			t.Fatalf("listener: got %v, want 96x54", got)
		}
	case <-time.After(time.Second):
		t.Fatal("listener not called")
	}

	encs := h.factory.VideoEncoders()
	if len(encs) != 2 {
		t.Fatalf("encoders: got %d, want 2", len(encs))
	}
	old, cur := encs[0], encs[1]
	if f := cur.Format(); f.Width != 96 || f.Height != 54 {
		t.Fatalf("new encoder format: %dx%d", f.Width, f.Height)
	}
	waitFor(t, "frames on new encoder", func() bool { return cur.Frames() >= 2 })
	if old.LateFrames() != 0 {
		t.Fatalf("old encoder received %d frames after release", old.LateFrames())
	}
	if buf := cur.LastFrame(); buf.Width != 96 || buf.Height != 54 {
		t.Fatalf("new encoder frame: %dx%d", buf.Width, buf.Height)
	}

	stop()
	if err := h.core.StopRecording(); err != nil {
		t.Fatalf("StopRecording: %v", err)
	}
	formats, _ := out.snapshot()
	if len(formats) != 1 {
		t.Fatalf("track formats: got %d, want 1", len(formats))
	}
	select {
	case got := <-changes:
		t.Fatalf("listener called again with %v", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestResetBitrate(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 32, 32)
	if err := h.core.ResetBitrate(0); err == nil {
		t.Fatal("zero bitrate accepted")
	}
	if err := h.core.ResetBitrate(400_000); err != nil {
		t.Fatalf("ResetBitrate idle: %v", err)
	}
	if err := h.core.StartRecording(&sink{}); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	enc := h.factory.VideoEncoders()[0]
	if got := enc.Bitrate(); got != 400_000 {
		t.Fatalf("configured bitrate: got %d, want 400000", got)
	}
	if err := h.core.ResetBitrate(250_000); err != nil {
		t.Fatalf("ResetBitrate: %v", err)
	}
	if got := enc.Bitrate(); got != 250_000 {
		t.Fatalf("runtime bitrate: got %d, want 250000", got)
	}
	if len(h.factory.VideoEncoders()) != 1 {
		t.Fatal("bitrate change restarted the encoder")
	}
	if got := h.core.Stats().Bitrate; got != 250_000 {
		t.Fatalf("stats bitrate: got %d", got)
	}
}

func TestPreviewDraws(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 32, 32)
	win := softgl.NewWindow(16, 16, 2)
	if err := h.core.StartPreview(win, 16, 16); err != nil {
		t.Fatalf("StartPreview: %v", err)
	}
	if !h.core.Previewing() {
		t.Fatal("not previewing")
	}
	stop := feed(h.camera, 32, 32, 10*time.Millisecond)
	defer stop()
	waitFor(t, "preview frames", func() bool { return win.Count() >= 3 })

	if err := h.core.UpdatePreview(8, 8); err != nil {
		t.Fatalf("UpdatePreview: %v", err)
	}
	if err := h.core.StopPreview(); err != nil {
		t.Fatalf("StopPreview: %v", err)
	}
	n := win.Count()
	time.Sleep(120 * time.Millisecond)
	if win.Count() != n {
		t.Fatal("preview kept receiving frames after stop")
	}
}

func TestSurfaceLostIsFatal(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 32, 32)
	win := softgl.NewWindow(32, 32, 1)
	if err := h.core.StartPreview(win, 32, 32); err != nil {
		t.Fatalf("StartPreview: %v", err)
	}
	win.FailWith(errors.New("window destroyed"))
	stop := feed(h.camera, 32, 32, 10*time.Millisecond)
	defer stop()

	waitFor(t, "fatal error", func() bool { return h.core.Err() != nil })
	if err := h.core.Err(); !errors.Is(err, render.ErrSurfaceLost) {
		t.Fatalf("Err: got %v, want ErrSurfaceLost", err)
	}
	if h.core.Previewing() {
		t.Fatal("still previewing after failure")
	}
	if err := h.core.StartRecording(&sink{}); !errors.Is(err, render.ErrSurfaceLost) {
		t.Fatalf("StartRecording after failure: got %v", err)
	}
	if err := h.core.Destroy(); err != nil {
		t.Fatalf("Destroy after failure: %v", err)
	}
}

func TestCodecCreateFailure(t *testing.T) {
	t.Parallel()

	refuse := func(string) (codec.VideoEncoder, error) { return nil, codec.ErrUnsupported }
	c := New(softgl.New(), refuse, nil)
	defer c.Destroy()
	if err := c.Prepare(mediaConfig(32, 32, 20), true); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	err := c.StartRecording(&sink{})
	if !errors.Is(err, ErrCodecCreate) {
		t.Fatalf("StartRecording: got %v, want ErrCodecCreate", err)
	}
	if !errors.Is(c.Err(), ErrCodecCreate) {
		t.Fatalf("Err: got %v", c.Err())
	}
}

func TestOperationsNeedPrepare(t *testing.T) {
	t.Parallel()

	c := New(softgl.New(), (&synthetic.Factory{}).Video, nil)
	defer c.Destroy()
	for name, op := range map[string]func() error{
		"StartPreview":   func() error { return c.StartPreview(softgl.NewWindow(1, 1, 1), 1, 1) },
		"StartRecording": func() error { return c.StartRecording(&sink{}) },
		"ResetVideo":     func() error { return c.ResetVideo(2, 2, 0) },
		"ResetBitrate":   func() error { return c.ResetBitrate(1) },
	} {
		if err := op(); !errors.Is(err, ErrNotPrepared) {
			t.Errorf("%s: got %v, want ErrNotPrepared", name, err)
		}
	}
}

func TestDestroyStopsRecording(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 32, 32)
	if err := h.core.StartRecording(&sink{}); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if err := h.core.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if h.core.Recording() {
		t.Fatal("recording after destroy")
	}
	if err := h.core.StartPreview(softgl.NewWindow(1, 1, 1), 1, 1); err == nil {
		t.Fatal("StartPreview after destroy succeeded")
	}
	if err := h.core.Destroy(); err != nil {
		t.Fatalf("second Destroy: %v", err)
	}
}
