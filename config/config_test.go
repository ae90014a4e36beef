package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/zsiec/camcorder/direction"
)

func TestDefaultValidates(t *testing.T) {
	t.Parallel()

	c := Default()
	c.SavePath = "/tmp/out.mp4"
	if err := c.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*RecordConfig)
	}{
		{"zero width", func(c *RecordConfig) { c.Width = 0 }},
		{"fps too high", func(c *RecordConfig) { c.FPS = 120 }},
		{"negative gop", func(c *RecordConfig) { c.GOP = -1 }},
		{"no bitrate", func(c *RecordConfig) { c.Bitrate = 0 }},
		{"rendering mode", func(c *RecordConfig) { c.RenderingMode = 1 }},
		{"missing save path", func(c *RecordConfig) { c.SavePath = "" }},
		{"odd sample rate", func(c *RecordConfig) { c.AudioSampleRate = 44000 }},
		{"stereo", func(c *RecordConfig) { c.AudioChannels = 2 }},
		{"7350 not sliceable", func(c *RecordConfig) { c.AudioSampleRate = 7350 }},
	}
	for _, tt := range tests {
		c := Default()
		c.SavePath = "/tmp/out.mp4"
		tt.mutate(&c)
		if err := c.Validate(); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}
}

func TestLoadFromEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "CAMREC_WIDTH=1280\nCAMREC_HEIGHT=720\nCAMREC_FRONT_DIRECTION=0x11\nCAMREC_SQUARE=false\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"CAMREC_WIDTH", "CAMREC_HEIGHT", "CAMREC_FRONT_DIRECTION", "CAMREC_SQUARE"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	t.Setenv("CAMREC_FPS", "25")

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Width != 1280 || c.Height != 720 {
		t.Errorf("size: got %dx%d, want 1280x720", c.Width, c.Height)
	}
	if c.FrontDirection != direction.Rotation0|direction.FlipHorizontal {
		t.Errorf("front direction: got %v, want rot0|flipH", c.FrontDirection)
	}
	if c.Square {
		t.Error("square: got true, want false")
	}
	if c.FPS != 25 {
		t.Errorf("fps: got %d, want 25", c.FPS)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("CAMREC_WIDTH", "")

	c, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Width != Default().Width {
		t.Fatalf("width: got %d, want %d", c.Width, Default().Width)
	}
}

func TestResolveResolution(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		portrait       bool
		pw, ph, tw, th int
		wantCrop       float32
		wantVideoW     int
		wantVideoH     int
	}{
		{"square portrait", true, 640, 480, 480, 480, -0.125, 480, 480},
		{"landscape mismatch", false, 1280, 960, 1280, 720, 0.125, 1280, 720},
		{"portrait match", true, 1280, 720, 720, 1280, 0, 720, 1280},
	}
	for _, tt := range tests {
		m := &MediaConfig{PreviewWidth: tt.pw, PreviewHeight: tt.ph, Portrait: tt.portrait}
		m.ResolveResolution(tt.tw, tt.th)
		if math.Abs(float64(m.CropRatio-tt.wantCrop)) > 1e-6 {
			t.Errorf("%s: crop got %v, want %v", tt.name, m.CropRatio, tt.wantCrop)
		}
		if m.VideoWidth != tt.wantVideoW || m.VideoHeight != tt.wantVideoH {
			t.Errorf("%s: video got %dx%d, want %dx%d", tt.name, m.VideoWidth, m.VideoHeight, tt.wantVideoW, tt.wantVideoH)
		}
	}
}

func TestAudioSlice(t *testing.T) {
	t.Parallel()

	m := &MediaConfig{AudioSampleRate: 44100}
	if got := m.AudioSliceSamples(); got != 4410 {
		t.Fatalf("slice: got %d, want 4410", got)
	}
	if got := m.AudioBufferSize(); got != 8820 {
		t.Fatalf("buffer: got %d, want 8820", got)
	}
}

func TestDirectionForMirrorsFront(t *testing.T) {
	t.Parallel()

	m := &MediaConfig{
		FrontDirection: direction.Rotation270 | direction.FlipHorizontal,
		BackDirection:  direction.Rotation90,
	}
	if got := m.DirectionFor(true); got != direction.Rotation270 {
		t.Errorf("front: got %v, want rot270", got)
	}
	if got := m.DirectionFor(false); got != direction.Rotation90 {
		t.Errorf("back: got %v, want rot90", got)
	}
}
