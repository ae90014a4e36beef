package camera

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/camcorder/gles"
)

// Pattern selects the synthetic test image.
type Pattern int

// Test patterns.
const (
	PatternBars Pattern = iota
	PatternGradient
	PatternGrid
)

func (p Pattern) String() string {
	switch p {
	case PatternBars:
		return "bars"
	case PatternGradient:
		return "gradient"
	case PatternGrid:
		return "grid"
	}
	return fmt.Sprintf("Pattern(%d)", int(p))
}

// ParsePattern maps a pattern name to its Pattern.
func ParsePattern(s string) (Pattern, error) {
	switch s {
	case "bars", "":
		return PatternBars, nil
	case "gradient":
		return PatternGradient, nil
	case "grid":
		return PatternGrid, nil
	}
	return 0, fmt.Errorf("unknown test pattern %q", s)
}

// SyntheticConfig describes one synthetic camera.
type SyntheticConfig struct {
	Facing     int
	Sizes      []Size
	FPSRanges  []FPSRange
	Formats    []Format
	FlashModes []FlashMode
	MaxZoom    int
	Pattern    Pattern
	// Unavailable makes Open fail, as a camera held by another process
	// would.
	Unavailable bool
}

// DefaultBack is a back camera with common 4:3 and 16:9 sizes and a torch.
func DefaultBack() SyntheticConfig {
	return SyntheticConfig{
		Facing: Back,
		Sizes: []Size{
			{320, 240}, {640, 480}, {1280, 720}, {1280, 960}, {1920, 1080},
		},
		FPSRanges:  []FPSRange{{15000, 15000}, {15000, 30000}, {30000, 30000}},
		Formats:    []Format{FormatNV21, FormatYV12},
		FlashModes: []FlashMode{FlashOff, FlashAuto, FlashTorch},
		MaxZoom:    60,
		Pattern:    PatternBars,
	}
}

// DefaultFront is a front camera with VGA-class sizes and no flash.
func DefaultFront() SyntheticConfig {
	return SyntheticConfig{
		Facing:    Front,
		Sizes:     []Size{{320, 240}, {640, 480}, {1280, 720}},
		FPSRanges: []FPSRange{{7500, 30000}, {30000, 30000}},
		Formats:   []Format{FormatYV12, FormatNV21},
		MaxZoom:   10,
		Pattern:   PatternGradient,
	}
}

// SyntheticProvider hands out synthetic cameras. Each index may be open
// once at a time.
type SyntheticProvider struct {
	log     *slog.Logger
	cameras []SyntheticConfig

	mu     sync.Mutex
	open   map[int]*Synthetic
	opened []*Synthetic
}

var _ Provider = (*SyntheticProvider)(nil)

// NewSyntheticProvider returns a provider for cams, or for the default
// back and front cameras when cams is empty. If log is nil, slog.Default()
// is used.
func NewSyntheticProvider(log *slog.Logger, cams ...SyntheticConfig) *SyntheticProvider {
	if log == nil {
		log = slog.Default()
	}
	if len(cams) == 0 {
		cams = []SyntheticConfig{DefaultBack(), DefaultFront()}
	}
	return &SyntheticProvider{log: log, cameras: cams, open: make(map[int]*Synthetic)}
}

func (p *SyntheticProvider) NumberOfCameras() int { return len(p.cameras) }

// Open opens camera index.
func (p *SyntheticProvider) Open(index int) (Device, error) {
	if index < 0 || index >= len(p.cameras) {
		return nil, fmt.Errorf("%w: no camera %d", ErrUnavailable, index)
	}
	cfg := p.cameras[index]
	if cfg.Unavailable {
		return nil, fmt.Errorf("%w: camera %d in use", ErrUnavailable, index)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.open[index]; busy {
		return nil, fmt.Errorf("%w: camera %d already open", ErrUnavailable, index)
	}
	s := newSynthetic(cfg, p.log.With("component", "camera", "index", index), func() {
		p.mu.Lock()
		delete(p.open, index)
		p.mu.Unlock()
	})
	p.open[index] = s
	p.opened = append(p.opened, s)
	return s, nil
}

// Opened returns every camera opened so far, in order.
func (p *SyntheticProvider) Opened() []*Synthetic {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.opened)
}

// Synthetic is a camera that streams a test pattern into its preview
// texture at the configured frame rate.
type Synthetic struct {
	log       *slog.Logger
	cfg       SyntheticConfig
	onRelease func()

	mu         sync.Mutex
	params     Params
	configured bool
	flash      FlashMode
	zoom       int
	texture    gles.SurfaceTexture
	frame      *image.RGBA
	stop       chan struct{}
	done       chan struct{}
	released   bool

	frames atomic.Int64
}

var _ Device = (*Synthetic)(nil)

func newSynthetic(cfg SyntheticConfig, log *slog.Logger, onRelease func()) *Synthetic {
	s := &Synthetic{log: log, cfg: cfg, onRelease: onRelease, flash: FlashOff}
	if len(cfg.FlashModes) == 0 {
		s.flash = ""
	}
	return s
}

func (s *Synthetic) Facing() int                  { return s.cfg.Facing }
func (s *Synthetic) PreviewSizes() []Size         { return slices.Clone(s.cfg.Sizes) }
func (s *Synthetic) PreviewFPSRanges() []FPSRange { return slices.Clone(s.cfg.FPSRanges) }
func (s *Synthetic) PreviewFormats() []Format     { return slices.Clone(s.cfg.Formats) }
func (s *Synthetic) FlashModes() []FlashMode      { return slices.Clone(s.cfg.FlashModes) }
func (s *Synthetic) MaxZoom() int                 { return s.cfg.MaxZoom }

func (s *Synthetic) Configure(p Params) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return ErrReleased
	}
	if s.stop != nil {
		return fmt.Errorf("%w: configure while previewing", ErrUnavailable)
	}
	if !slices.Contains(s.cfg.Sizes, p.Size) {
		return fmt.Errorf("%w: unsupported preview size %v", ErrUnavailable, p.Size)
	}
	if !slices.Contains(s.cfg.FPSRanges, p.FPS) {
		return fmt.Errorf("%w: unsupported frame rate range %v", ErrUnavailable, p.FPS)
	}
	if !slices.Contains(s.cfg.Formats, p.Format) {
		return fmt.Errorf("%w: %s", ErrFormatUnsupported, p.Format)
	}
	s.params, s.configured = p, true
	s.frame = drawPattern(s.cfg.Pattern, p.Size.Width, p.Size.Height)
	return nil
}

func (s *Synthetic) Params() Params {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params
}

func (s *Synthetic) FlashMode() FlashMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flash
}

func (s *Synthetic) SetFlashMode(m FlashMode) error {
	if !slices.Contains(s.cfg.FlashModes, m) {
		return fmt.Errorf("camera: flash mode %q not supported", m)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return ErrReleased
	}
	s.flash = m
	return nil
}

func (s *Synthetic) Zoom() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.zoom
}

func (s *Synthetic) SetZoom(z int) error {
	if z < 0 || z > s.cfg.MaxZoom {
		return fmt.Errorf("camera: zoom %d outside [0,%d]", z, s.cfg.MaxZoom)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return ErrReleased
	}
	s.zoom = z
	return nil
}

func (s *Synthetic) SetPreviewTexture(st gles.SurfaceTexture) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return ErrReleased
	}
	s.texture = st
	return nil
}

// StartPreview starts streaming frames at the top of the configured frame
// rate range. Starting twice is a no-op.
func (s *Synthetic) StartPreview() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.released:
		return ErrReleased
	case !s.configured:
		return fmt.Errorf("%w: preview not configured", ErrUnavailable)
	case s.texture == nil:
		return fmt.Errorf("%w: no preview texture", ErrUnavailable)
	case s.stop != nil:
		return nil
	}
	fps := s.params.FPS.Max / 1000
	if fps <= 0 {
		fps = 30
	}
	s.stop, s.done = make(chan struct{}), make(chan struct{})
	go s.stream(time.Second/time.Duration(fps), s.stop, s.done)
	s.log.Debug("preview started", "size", s.params.Size, "fps", fps, "pattern", s.cfg.Pattern)
	return nil
}

func (s *Synthetic) stream(period time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	start := time.Now()
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			s.mu.Lock()
			st, img := s.texture, s.frame
			s.mu.Unlock()
			if st == nil || img == nil {
				continue
			}
			if err := st.QueueImage(img, now.Sub(start).Nanoseconds()); err != nil {
				if !errors.Is(err, gles.ErrAbandoned) {
					s.log.Warn("queue preview frame", "error", err)
				}
				continue
			}
			s.frames.Add(1)
		}
	}
}

// StopPreview stops streaming and waits for the streaming goroutine.
func (s *Synthetic) StopPreview() {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// Release stops the preview and frees the camera for reopening.
func (s *Synthetic) Release() {
	s.StopPreview()
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	s.released = true
	s.texture = nil
	s.mu.Unlock()
	if s.onRelease != nil {
		s.onRelease()
	}
}

// Previewing reports whether frames are streaming.
func (s *Synthetic) Previewing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stop != nil
}

// Released reports whether Release was called.
func (s *Synthetic) Released() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

// Frames returns the number of frames delivered to the preview texture.
func (s *Synthetic) Frames() int64 { return s.frames.Load() }

// SMPTE-style bars, left to right.
var bars = []color.RGBA{
	{192, 192, 192, 255},
	{192, 192, 0, 255},
	{0, 192, 192, 255},
	{0, 192, 0, 255},
	{192, 0, 192, 255},
	{192, 0, 0, 255},
	{0, 0, 192, 255},
}

const gridCell = 32

func drawPattern(p Pattern, w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var c color.RGBA
			switch p {
			case PatternGradient:
				c = color.RGBA{uint8(x * 255 / max(w-1, 1)), uint8(y * 255 / max(h-1, 1)), 128, 255}
			case PatternGrid:
				c = color.RGBA{16, 16, 16, 255}
				if x%gridCell == 0 || y%gridCell == 0 {
					c = color.RGBA{235, 235, 235, 255}
				}
			default:
				c = bars[x*len(bars)/w]
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img
}
