package recorder

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/zsiec/camcorder/camera"
	"github.com/zsiec/camcorder/codec"
	"github.com/zsiec/camcorder/codec/synthetic"
	"github.com/zsiec/camcorder/config"
	"github.com/zsiec/camcorder/direction"
	"github.com/zsiec/camcorder/filter"
	"github.com/zsiec/camcorder/gles/softgl"
	"github.com/zsiec/camcorder/mic"
	"github.com/zsiec/camcorder/mux"
)

type harness struct {
	rec     *Recorder
	cameras *camera.SyntheticProvider
	codecs  *synthetic.Factory
}

func newHarness(t *testing.T, cams ...camera.SyntheticConfig) *harness {
	t.Helper()
	prov := camera.NewSyntheticProvider(nil, cams...)
	f := &synthetic.Factory{}
	r := New(nil,
		WithCameras(prov),
		WithVideoEncoders(f.Video),
		WithAudioEncoders(f.Audio),
		WithMicrophone(func(rate, _ int) (mic.Source, error) {
			return mic.NewTone(rate, 440, 0.25), nil
		}),
		WithDrainGrace(300*time.Millisecond))
	t.Cleanup(func() { r.Destroy() })
	return &harness{rec: r, cameras: prov, codecs: f}
}

// landscape returns a back-camera-only configuration that never saves.
func landscape(w, h int) config.RecordConfig {
	rc := config.Default()
	rc.Width, rc.Height = w, h
	rc.FrontDirection = direction.Rotation0
	rc.BackDirection = direction.Rotation0
	rc.DefaultCamera = config.CameraBack
	rc.Square = false
	rc.SaveEnabled = false
	return rc
}

func smallCamera() camera.SyntheticConfig {
	return camera.SyntheticConfig{
		Facing:     camera.Back,
		Sizes:      []camera.Size{{Width: 160, Height: 120}, {Width: 320, Height: 240}},
		FPSRanges:  []camera.FPSRange{{Min: 30000, Max: 30000}},
		Formats:    []camera.Format{camera.FormatNV21},
		FlashModes: []camera.FlashMode{camera.FlashOff, camera.FlashTorch},
		MaxZoom:    40,
		Pattern:    camera.PatternGrid,
	}
}

func (h *harness) videoEncoder(t *testing.T, i int) *synthetic.VideoEncoder {
	t.Helper()
	var enc *synthetic.VideoEncoder
	waitFor(t, "video encoder", func() bool {
		encs := h.codecs.VideoEncoders()
		if len(encs) <= i {
			return false
		}
		enc = encs[i]
		return true
	})
	return enc
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func boxTypes(t *testing.T, data []byte) []string {
	t.Helper()
	var out []string
	for off := 0; off < len(data); {
		if len(data)-off < 8 {
			t.Fatalf("trailing %d bytes at %d", len(data)-off, off)
		}
		size := int(binary.BigEndian.Uint32(data[off:]))
		if size < 8 || off+size > len(data) {
			t.Fatalf("bad box size %d at %d", size, off)
		}
		out = append(out, string(data[off+4:off+8]))
		off += size
	}
	return out
}

func trackStats(st *mux.Stats, kind string) (mux.TrackStats, bool) {
	for _, ts := range st.Tracks {
		if ts.Kind == kind {
			return ts, true
		}
	}
	return mux.TrackStats{}, false
}

func TestRecordSquarePortrait(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	rc := config.Default()
	rc.SavePath = t.TempDir()
	if err := h.rec.Prepare(rc); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	mc, ok := h.rec.MediaConfig()
	if !ok {
		t.Fatal("no media config after prepare")
	}
	if mc.PreviewWidth != 640 || mc.PreviewHeight != 480 {
		t.Fatalf("preview: %dx%d, want 640x480", mc.PreviewWidth, mc.PreviewHeight)
	}
	if mc.CropRatio != -0.125 {
		t.Fatalf("crop: got %v, want -0.125", mc.CropRatio)
	}
	if !mc.Portrait || !h.rec.IsFrontCamera() {
		t.Fatalf("portrait %v front %v", mc.Portrait, h.rec.IsFrontCamera())
	}

	if err := h.rec.StartRecording(); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if !h.rec.Recording() {
		t.Fatal("not recording")
	}
	enc := h.videoEncoder(t, 0)
	waitFor(t, "20 encoded frames", func() bool { return enc.Frames() >= 20 })
	if err := h.rec.StopRecording(); err != nil {
		t.Fatalf("StopRecording: %v", err)
	}
	if h.rec.Recording() {
		t.Fatal("still recording")
	}

	st := h.rec.Stats()
	if st.Muxer == nil || !st.Muxer.Started || len(st.Muxer.Tracks) != 2 {
		t.Fatalf("muxer stats: %+v", st.Muxer)
	}
	video, ok := trackStats(st.Muxer, "video")
	if !ok || video.Samples < 19 {
		t.Fatalf("video samples: %+v", video)
	}
	if audio, ok := trackStats(st.Muxer, "audio"); !ok || audio.Samples == 0 {
		t.Fatalf("audio samples: %+v", audio)
	}

	path := h.rec.LastRecording()
	if filepath.Dir(path) != rc.SavePath {
		t.Fatalf("recording %q not in %q", path, rc.SavePath)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read recording: %v", err)
	}
	boxes := boxTypes(t, data)
	if len(boxes) < 2 || boxes[0] != "ftyp" || boxes[1] != "moov" {
		t.Fatalf("layout: %v", boxes)
	}
	for _, want := range []string{"avc1", "mp4a"} {
		if !bytes.Contains(data, []byte(want)) {
			t.Errorf("recording has no %s sample entry", want)
		}
	}
	if enc := h.codecs.VideoEncoders()[0]; enc.Format().Width != 480 || enc.Format().Height != 480 {
		t.Fatalf("encoder size: %dx%d", enc.Format().Width, enc.Format().Height)
	}
}

func TestLandscapeCropTrimsVertically(t *testing.T) {
	t.Parallel()

	h := newHarness(t, camera.SyntheticConfig{
		Facing:    camera.Back,
		Sizes:     []camera.Size{{Width: 640, Height: 480}, {Width: 1280, Height: 960}},
		FPSRanges: []camera.FPSRange{{Min: 30000, Max: 30000}},
		Formats:   []camera.Format{camera.FormatNV21},
	})
	if err := h.rec.Prepare(landscape(1280, 720)); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	mc, _ := h.rec.MediaConfig()
	if mc.PreviewWidth != 1280 || mc.PreviewHeight != 960 {
		t.Fatalf("preview: %dx%d, want 1280x960", mc.PreviewWidth, mc.PreviewHeight)
	}
	if mc.CropRatio != 0.125 {
		t.Fatalf("crop: got %v, want 0.125", mc.CropRatio)
	}

	_, tc := h.rec.video.Direction()
	for i := 0; i < 4; i++ {
		s, tt := tc.Corner(i)
		if s != 0 && s != 1 {
			t.Errorf("corner %d: s = %v, want 0 or 1", i, s)
		}
		if tt != 0.125 && tt != 0.875 {
			t.Errorf("corner %d: t = %v, want 0.125 or 0.875", i, tt)
		}
	}
	if h.rec.VideoSavePath() != "" {
		t.Fatalf("save path with saving disabled: %q", h.rec.VideoSavePath())
	}
}

func TestSwapCameraWhileRecording(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	rc := config.Default()
	rc.SaveEnabled = false
	if err := h.rec.Prepare(rc); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if err := h.rec.StartRecording(); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	enc := h.videoEncoder(t, 0)
	waitFor(t, "first frames", func() bool { return enc.Frames() >= 3 })
	if got := h.rec.video.Stats().Dropped; got != 1 {
		t.Fatalf("dropped before swap: got %d, want 1", got)
	}

	if err := h.rec.SwapCamera(); err != nil {
		t.Fatalf("SwapCamera: %v", err)
	}
	if h.rec.IsFrontCamera() {
		t.Fatal("still on the front camera")
	}
	waitFor(t, "stale frame dropped", func() bool { return h.rec.video.Stats().Dropped >= 2 })
	before := enc.Frames()
	waitFor(t, "frames after swap", func() bool { return enc.Frames() >= before+3 })

	opened := h.cameras.Opened()
	if len(opened) != 2 || !opened[0].Released() || !opened[1].Previewing() {
		t.Fatalf("cameras after swap: %d opened", len(opened))
	}
	if err := h.rec.StopRecording(); err != nil {
		t.Fatalf("StopRecording: %v", err)
	}
	if n := len(h.codecs.VideoEncoders()); n != 1 {
		t.Fatalf("video encoders: got %d, want 1", n)
	}
	st := h.rec.Stats()
	if st.Muxer == nil || len(st.Muxer.Tracks) != 2 {
		t.Fatalf("muxer tracks: %+v", st.Muxer)
	}
	if opened[1].Previewing() {
		t.Fatal("camera still streaming after stop")
	}
}

// slowFilter holds the filter lock for a long time whenever it is
// reconfigured.
type slowFilter struct {
	filter.Base
	delay time.Duration
}

func (f *slowFilter) UpdatePreviewSize(w, h int) {
	time.Sleep(f.delay)
	f.Base.UpdatePreviewSize(w, h)
}

func TestSlowFilterSetterFallsBack(t *testing.T) {
	t.Parallel()

	h := newHarness(t, smallCamera())
	if err := h.rec.Prepare(landscape(320, 240)); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if err := h.rec.StartRecording(); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	enc := h.videoEncoder(t, 0)
	waitFor(t, "first frames", func() bool { return enc.Frames() >= 2 })

	f := &slowFilter{delay: 100 * time.Millisecond}
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
				h.rec.SetHardVideoFilter(f)
			}
		}
	}()

	before := enc.Frames()
	waitFor(t, "filter fallbacks", func() bool { return h.rec.video.Stats().Render.FilterFallbacks > 0 })
	waitFor(t, "frames during contention", func() bool { return enc.Frames() >= before+5 })
	close(done)
	wg.Wait()

	if h.rec.video.Stats().Render.Filtered == 0 {
		t.Error("filter never drew")
	}
	if err := h.rec.StopRecording(); err != nil {
		t.Fatalf("StopRecording: %v", err)
	}
}

func TestInvalidDirectionStartsNothing(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		front, back direction.Flag
	}{
		{"two rotation bits", direction.Rotation0 | direction.Rotation90, direction.Rotation90},
		{"front landscape back portrait", direction.Rotation0, direction.Rotation90},
		{"front portrait back landscape", direction.Rotation270 | direction.FlipHorizontal, direction.Rotation180},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			rc := config.Default()
			rc.SaveEnabled = false
			rc.FrontDirection, rc.BackDirection = tt.front, tt.back
			err := h.rec.Prepare(rc)
			if !errors.Is(err, ErrInvalidDirection) {
				t.Fatalf("Prepare: got %v, want ErrInvalidDirection", err)
			}
			if n := len(h.cameras.Opened()); n != 0 {
				t.Fatalf("%d cameras opened", n)
			}
			if h.rec.video != nil || h.rec.audio != nil {
				t.Fatal("cores created")
			}
			if err := h.rec.StartRecording(); !errors.Is(err, ErrNotPrepared) {
				t.Fatalf("StartRecording: got %v, want ErrNotPrepared", err)
			}
		})
	}
}

func TestResetVideoWhileRecording(t *testing.T) {
	t.Parallel()

	h := newHarness(t, camera.SyntheticConfig{
		Facing:    camera.Back,
		Sizes:     []camera.Size{{Width: 640, Height: 480}, {Width: 960, Height: 540}},
		FPSRanges: []camera.FPSRange{{Min: 15000, Max: 30000}},
		Formats:   []camera.Format{camera.FormatYV12},
	})
	type size struct{ w, h int }
	changes := make(chan size, 4)
	h.rec.SetVideoChangeListener(func(w, h int) { changes <- size{w, h} })

	if err := h.rec.Prepare(landscape(640, 480)); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if mc, _ := h.rec.MediaConfig(); mc.CropRatio != 0 || mc.PreviewWidth != 640 {
		t.Fatalf("prepare: preview %dx%d crop %v", mc.PreviewWidth, mc.PreviewHeight, mc.CropRatio)
	}
	if err := h.rec.StartRecording(); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	old := h.videoEncoder(t, 0)
	waitFor(t, "frames before reset", func() bool { return old.Frames() >= 3 })

	if err := h.rec.ResetVideo(960, 540); err != nil {
		t.Fatalf("ResetVideo: %v", err)
	}
	select {
	case got := <-changes:
		if got != (size{960, 540}) {
			t.Fatalf("listener: got %v, want 960x540", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("listener not called")
	}
	if w, hh := h.rec.VideoSize(); w != 960 || hh != 540 {
		t.Fatalf("VideoSize: %dx%d", w, hh)
	}
	if mc, _ := h.rec.MediaConfig(); mc.CropRatio != 0.125 {
		t.Fatalf("crop after reset: %v", mc.CropRatio)
	}

	cur := h.videoEncoder(t, 1)
	if f := cur.Format(); f.Width != 960 || f.Height != 540 {
		t.Fatalf("new encoder: %dx%d", f.Width, f.Height)
	}
	waitFor(t, "frames on new encoder", func() bool { return cur.Frames() >= 3 })
	if err := h.rec.StopRecording(); err != nil {
		t.Fatalf("StopRecording: %v", err)
	}
	if n := len(h.codecs.VideoEncoders()); n != 2 {
		t.Fatalf("video encoders: got %d, want 2", n)
	}
	if old.LateFrames() != 0 {
		t.Fatalf("old encoder received %d frames after release", old.LateFrames())
	}
	select {
	case got := <-changes:
		t.Fatalf("listener called again with %v", got)
	case <-time.After(50 * time.Millisecond):
	}

	if err := h.rec.ResetVideo(0, 540); err == nil {
		t.Fatal("zero width accepted")
	}
}

func TestLifecycleErrors(t *testing.T) {
	t.Parallel()

	h := newHarness(t, smallCamera())
	r := h.rec
	if err := r.StartRecording(); !errors.Is(err, ErrNotPrepared) {
		t.Fatalf("StartRecording before Prepare: %v", err)
	}
	if err := r.StartPreview(softgl.NewWindow(8, 8, 1), 8, 8); !errors.Is(err, ErrNotPrepared) {
		t.Fatalf("StartPreview before Prepare: %v", err)
	}
	if err := r.SwapCamera(); !errors.Is(err, ErrNotPrepared) {
		t.Fatalf("SwapCamera before Prepare: %v", err)
	}
	if w, hh := r.VideoSize(); w != 0 || hh != 0 {
		t.Fatalf("VideoSize before Prepare: %dx%d", w, hh)
	}

	rc := landscape(320, 240)
	if err := r.Prepare(rc); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if err := r.Prepare(rc); !errors.Is(err, ErrAlreadyPrepared) {
		t.Fatalf("second Prepare: %v", err)
	}
	if err := r.StopRecording(); !errors.Is(err, ErrNotRecording) {
		t.Fatalf("StopRecording idle: %v", err)
	}
	if err := r.StopPreview(false); !errors.Is(err, ErrNotPreviewing) {
		t.Fatalf("StopPreview idle: %v", err)
	}
	if err := r.UpdatePreview(4, 4); !errors.Is(err, ErrNotPreviewing) {
		t.Fatalf("UpdatePreview idle: %v", err)
	}
	if err := r.StartRecording(); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if err := r.StartRecording(); !errors.Is(err, ErrRecording) {
		t.Fatalf("second StartRecording: %v", err)
	}
	if err := r.ResetBitrate(500_000); err != nil {
		t.Fatalf("ResetBitrate: %v", err)
	}
	if got := h.videoEncoder(t, 0).Bitrate(); got != 500_000 {
		t.Fatalf("encoder bitrate: %d", got)
	}

	if err := r.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if r.Recording() {
		t.Fatal("recording after Destroy")
	}
	if !h.cameras.Opened()[0].Released() {
		t.Fatal("camera not released")
	}
	for name, op := range map[string]func() error{
		"Prepare":        func() error { return r.Prepare(rc) },
		"StartRecording": r.StartRecording,
		"StopRecording":  r.StopRecording,
		"SwapCamera":     r.SwapCamera,
		"StopPreview":    func() error { return r.StopPreview(true) },
		"ResetVideo":     func() error { return r.ResetVideo(64, 48) },
	} {
		if err := op(); !errors.Is(err, ErrDestroyed) {
			t.Errorf("%s after Destroy: got %v, want ErrDestroyed", name, err)
		}
	}
	if err := r.Destroy(); err != nil {
		t.Fatalf("second Destroy: %v", err)
	}
}

func TestPreviewWindow(t *testing.T) {
	t.Parallel()

	h := newHarness(t, smallCamera())
	if err := h.rec.Prepare(landscape(320, 240)); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	win := softgl.NewWindow(64, 48, 2)
	if err := h.rec.StartPreview(win, 64, 48); err != nil {
		t.Fatalf("StartPreview: %v", err)
	}
	if !h.rec.Previewing() {
		t.Fatal("not previewing")
	}
	cam := h.cameras.Opened()[0]
	if !cam.Previewing() {
		t.Fatal("camera not streaming")
	}
	waitFor(t, "preview frames", func() bool { return win.Count() >= 3 })
	if err := h.rec.UpdatePreview(32, 24); err != nil {
		t.Fatalf("UpdatePreview: %v", err)
	}

	// Recording shares the running camera and keeps it after the preview
	// stops.
	if err := h.rec.StartRecording(); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if err := h.rec.StopPreview(true); err != nil {
		t.Fatalf("StopPreview: %v", err)
	}
	if h.rec.Previewing() || !cam.Previewing() {
		t.Fatalf("previewing %v, camera streaming %v", h.rec.Previewing(), cam.Previewing())
	}
	n := win.Count()
	enc := h.videoEncoder(t, 0)
	before := enc.Frames()
	waitFor(t, "frames without preview", func() bool { return enc.Frames() >= before+3 })
	if win.Count() != n {
		t.Fatal("closed preview window kept receiving frames")
	}
	if err := h.rec.StopRecording(); err != nil {
		t.Fatalf("StopRecording: %v", err)
	}
	if cam.Previewing() {
		t.Fatal("camera streaming with nothing attached")
	}
}

func TestFlashAndZoom(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	rc := config.Default()
	rc.SaveEnabled = false
	if err := h.rec.Prepare(rc); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if h.rec.ToggleFlashLight() {
		t.Fatal("front camera toggled a flash it does not have")
	}

	if err := h.rec.SwapCamera(); err != nil {
		t.Fatalf("SwapCamera: %v", err)
	}
	back := h.cameras.Opened()[1]
	if back.Previewing() {
		t.Fatal("swap started an idle camera")
	}
	if !h.rec.ToggleFlashLight() || back.FlashMode() != camera.FlashTorch {
		t.Fatalf("toggle on: mode %v", back.FlashMode())
	}
	if h.rec.SetFlashLight(true) {
		t.Fatal("torch set twice")
	}
	if !h.rec.ToggleFlashLight() || back.FlashMode() != camera.FlashOff {
		t.Fatalf("toggle off: mode %v", back.FlashMode())
	}

	if err := h.rec.SetZoomByPercent(0.5); err != nil {
		t.Fatalf("SetZoomByPercent: %v", err)
	}
	if got := back.Zoom(); got != 30 {
		t.Fatalf("zoom: got %d, want 30", got)
	}
	if err := h.rec.SetZoomByPercent(2); err != nil {
		t.Fatalf("SetZoomByPercent clamp: %v", err)
	}
	if got := back.Zoom(); got != back.MaxZoom() {
		t.Fatalf("clamped zoom: got %d, want %d", got, back.MaxZoom())
	}

	if err := h.rec.SwapCamera(); err != nil {
		t.Fatalf("second SwapCamera: %v", err)
	}
	if !h.rec.IsFrontCamera() || len(h.cameras.Opened()) != 3 {
		t.Fatal("swap did not cycle back to the front camera")
	}
}

func TestSwapToUnavailableCamera(t *testing.T) {
	t.Parallel()

	broken := smallCamera()
	broken.Facing = camera.Front
	broken.Unavailable = true
	h := newHarness(t, smallCamera(), broken)
	if err := h.rec.Prepare(landscape(320, 240)); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if err := h.rec.SwapCamera(); !errors.Is(err, ErrCameraUnavailable) {
		t.Fatalf("SwapCamera: got %v, want ErrCameraUnavailable", err)
	}
	if err := h.rec.SetZoomByPercent(0.5); !errors.Is(err, ErrCameraUnavailable) {
		t.Fatalf("zoom without camera: %v", err)
	}
	if err := h.rec.SwapCamera(); err != nil {
		t.Fatalf("swap back: %v", err)
	}
}

func TestSurfaceLostDisablesRecorder(t *testing.T) {
	t.Parallel()

	h := newHarness(t, smallCamera())
	if err := h.rec.Prepare(landscape(320, 240)); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	win := softgl.NewWindow(32, 24, 1)
	if err := h.rec.StartPreview(win, 32, 24); err != nil {
		t.Fatalf("StartPreview: %v", err)
	}
	win.FailWith(errors.New("window destroyed"))

	waitFor(t, "fatal error", func() bool { return h.rec.Err() != nil })
	if err := h.rec.Err(); !errors.Is(err, ErrSurfaceLost) {
		t.Fatalf("Err: got %v, want ErrSurfaceLost", err)
	}
	if err := h.rec.StartRecording(); !errors.Is(err, ErrSurfaceLost) {
		t.Fatalf("StartRecording after failure: %v", err)
	}
	if st := h.rec.Stats(); st.Error == "" {
		t.Fatal("stats carry no error")
	}
	if err := h.rec.Destroy(); err != nil {
		t.Fatalf("Destroy after failure: %v", err)
	}
}

func TestCodecCreateFailure(t *testing.T) {
	t.Parallel()

	prov := camera.NewSyntheticProvider(nil, smallCamera())
	refuse := func(string) (codec.VideoEncoder, error) { return nil, codec.ErrUnsupported }
	r := New(nil, WithCameras(prov), WithVideoEncoders(refuse), WithDrainGrace(100*time.Millisecond))
	defer r.Destroy()
	if err := r.Prepare(landscape(320, 240)); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	err := r.StartRecording()
	if !errors.Is(err, ErrCodecCreate) {
		t.Fatalf("StartRecording: got %v, want ErrCodecCreate", err)
	}
	if r.Recording() {
		t.Fatal("recording after codec failure")
	}
	if prov.Opened()[0].Previewing() {
		t.Fatal("camera left streaming")
	}
	if !errors.Is(r.Err(), ErrCodecCreate) {
		t.Fatalf("Err: got %v", r.Err())
	}
}

func TestSaveDisabled(t *testing.T) {
	t.Parallel()

	h := newHarness(t, smallCamera())
	if err := h.rec.Prepare(landscape(320, 240)); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	h.rec.UpdateVideoSavePath(t.TempDir())
	if got := h.rec.VideoSavePath(); got != "" {
		t.Fatalf("VideoSavePath: %q", got)
	}
	if err := h.rec.StartRecording(); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	enc := h.videoEncoder(t, 0)
	waitFor(t, "frames", func() bool { return enc.Frames() >= 3 })
	if err := h.rec.StopRecording(); err != nil {
		t.Fatalf("StopRecording: %v", err)
	}
	if got := h.rec.LastRecording(); got != "" {
		t.Fatalf("LastRecording: %q", got)
	}
	if st := h.rec.Stats(); st.Muxer == nil || !st.Muxer.Started {
		t.Fatalf("muxer: %+v", st.Muxer)
	}
}

func TestUpdateSavePathToFile(t *testing.T) {
	t.Parallel()

	h := newHarness(t, smallCamera())
	rc := landscape(320, 240)
	rc.SaveEnabled = true
	rc.SavePath = t.TempDir()
	if err := h.rec.Prepare(rc); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	want := filepath.Join(rc.SavePath, "nested", "clip.mp4")
	h.rec.UpdateVideoSavePath(want)
	if got := h.rec.VideoSavePath(); got != want {
		t.Fatalf("VideoSavePath: %q", got)
	}
	if err := h.rec.StartRecording(); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	enc := h.videoEncoder(t, 0)
	waitFor(t, "frames", func() bool { return enc.Frames() >= 3 })
	if err := h.rec.StopRecording(); err != nil {
		t.Fatalf("StopRecording: %v", err)
	}
	if got := h.rec.LastRecording(); got != want {
		t.Fatalf("LastRecording: %q, want %q", got, want)
	}
	if fi, err := os.Stat(want); err != nil || fi.Size() == 0 {
		t.Fatalf("recording file: %v", err)
	}
}

func TestOutputPath(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	session := uuid.MustParse("5f0c2a1e-7b3d-4c8e-9a61-0d2e4f6a8b10")
	if got := recordingName(now, session); got != "recording_20240309_140507_5f0c2a1e.mp4" {
		t.Fatalf("recordingName: %q", got)
	}

	dir := t.TempDir()
	tests := []struct {
		name, save, want string
	}{
		{"directory", filepath.Join(dir, "clips"), filepath.Join(dir, "clips", "recording_20240309_140507_5f0c2a1e.mp4")},
		{"file", filepath.Join(dir, "a", "b", "out.mp4"), filepath.Join(dir, "a", "b", "out.mp4")},
		{"upper case extension", filepath.Join(dir, "OUT.MP4"), filepath.Join(dir, "OUT.MP4")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := outputPath(tt.save, now, session)
			if err != nil {
				t.Fatalf("outputPath: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
			if fi, err := os.Stat(filepath.Dir(got)); err != nil || !fi.IsDir() {
				t.Fatalf("directory not created: %v", err)
			}
		})
	}

	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := outputPath(filepath.Join(blocker, "sub"), now, session); !errors.Is(err, ErrMuxerIO) {
		t.Fatalf("blocked directory: got %v, want ErrMuxerIO", err)
	}
}
