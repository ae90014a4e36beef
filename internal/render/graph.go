// Package render owns the GL side of the pipeline: the off-screen root
// context, the encoder and preview window surfaces that share its objects,
// and the four drawing stages that take a camera frame to both outputs.
//
// A Graph is not safe for concurrent use; every method except the
// geometry setters runs on the render thread.
package render

import (
	"log/slog"
	"sync"

	"github.com/zsiec/camcorder/direction"
	"github.com/zsiec/camcorder/filter"
	"github.com/zsiec/camcorder/gles"
	"github.com/zsiec/camcorder/internal/metrics"
)

var identityTexCoords = direction.Identity[:]

// Stats counts the work done by a graph.
type Stats struct {
	Sampled         int64 `json:"sampled"`
	Composed        int64 `json:"composed"`
	Filtered        int64 `json:"filtered"`
	FilterFallbacks int64 `json:"filter_fallbacks"`
	EncoderFrames   int64 `json:"encoder_frames"`
	PreviewFrames   int64 `json:"preview_frames"`
}

// Graph runs stages A to D.
type Graph struct {
	log      *slog.Logger
	platform gles.Platform
	gate     *FilterGate
	metrics  *metrics.Metrics

	off  *OffScreen
	enc  *WindowSurface
	prev *WindowSurface

	// camera geometry, written by the caller goroutine
	geoMu     sync.Mutex
	dir       direction.Flag
	texCoords direction.TexCoords
	previewW  int
	previewH  int

	active filter.VideoFilter
	broken filter.VideoFilter

	statsMu sync.Mutex
	stats   Stats
}

// NewGraph returns a graph drawing through platform. gate may be shared with
// the code installing filters; m may be nil.
func NewGraph(platform gles.Platform, gate *FilterGate, m *metrics.Metrics, log *slog.Logger) *Graph {
	if log == nil {
		log = slog.Default()
	}
	if gate == nil {
		gate = NewFilterGate(0)
	}
	return &Graph{
		log:       log.With("component", "render"),
		platform:  platform,
		gate:      gate,
		metrics:   m,
		dir:       direction.Rotation0,
		texCoords: direction.Identity,
		previewW:  1,
		previewH:  1,
	}
}

// Init creates the off-screen root for a width×height video.
func (g *Graph) Init(width, height int) error {
	if g.off != nil {
		return ErrAlreadyInitialized
	}
	off, err := NewOffScreen(g.platform, width, height)
	if err != nil {
		return err
	}
	g.off = off
	g.log.Debug("off-screen context created", "width", width, "height", height)
	return nil
}

// Initialized reports whether Init succeeded and Uninit has not run.
func (g *Graph) Initialized() bool { return g.off != nil }

// Uninit destroys the active filter and every wrapper in reverse creation
// order.
func (g *Graph) Uninit() error {
	if g.off == nil {
		return ErrNotInitialized
	}
	g.gate.lock()
	if g.active != nil && g.off.MakeCurrent() == nil {
		g.active.Destroy(g.off.GL())
	}
	g.active, g.broken = nil, nil
	g.gate.unlock()

	g.StopPreview()
	g.DetachEncoder()
	g.off.Destroy()
	g.off = nil
	return nil
}

// Resize recreates the framebuffers for a new video size. The active filter
// is re-initialized on the next compose.
func (g *Graph) Resize(width, height int) error {
	if g.off == nil {
		return ErrNotInitialized
	}
	if err := g.off.Resize(width, height); err != nil {
		return err
	}
	g.gate.lock()
	if g.active != nil {
		g.active.Destroy(g.off.GL())
		g.active = nil
	}
	g.broken = nil
	g.gate.unlock()
	return nil
}

// SetDirection updates the sampling texture coordinates.
func (g *Graph) SetDirection(f direction.Flag, crop float32) {
	tc := direction.Derive(f, crop)
	g.geoMu.Lock()
	g.dir, g.texCoords = f, tc
	g.geoMu.Unlock()
}

// Direction returns the flag and texture coordinates in use.
func (g *Graph) Direction() (direction.Flag, direction.TexCoords) {
	g.geoMu.Lock()
	defer g.geoMu.Unlock()
	return g.dir, g.texCoords
}

// UpdatePreviewSize sets the preview viewport.
func (g *Graph) UpdatePreviewSize(width, height int) {
	g.geoMu.Lock()
	g.previewW, g.previewH = width, height
	g.geoMu.Unlock()
}

// StartPreview attaches the preview window.
func (g *Graph) StartPreview(win gles.NativeWindow, width, height int) error {
	if g.off == nil {
		return ErrNotInitialized
	}
	if g.prev != nil {
		return ErrAlreadyInitialized
	}
	prev, err := NewPreviewSurface(g.platform, g.off, win)
	if err != nil {
		return err
	}
	g.prev = prev
	g.UpdatePreviewSize(width, height)
	return nil
}

// StopPreview detaches the preview window and returns it, or nil.
func (g *Graph) StopPreview() gles.NativeWindow {
	if g.prev == nil {
		return nil
	}
	win := g.prev.Window()
	g.prev.Destroy()
	g.prev = nil
	return win
}

// Previewing reports whether a preview surface is attached.
func (g *Graph) Previewing() bool { return g.prev != nil }

// AttachEncoder wraps an encoder input window.
func (g *Graph) AttachEncoder(win gles.NativeWindow) error {
	if g.off == nil {
		return ErrNotInitialized
	}
	if g.enc != nil {
		return ErrAlreadyInitialized
	}
	enc, err := NewEncoderSurface(g.platform, g.off, win)
	if err != nil {
		return err
	}
	g.enc = enc
	return nil
}

// DetachEncoder destroys the encoder surface, if any.
func (g *Graph) DetachEncoder() {
	if g.enc == nil {
		return
	}
	g.enc.Destroy()
	g.enc = nil
}

// Encoding reports whether an encoder surface is attached.
func (g *Graph) Encoding() bool { return g.enc != nil }

// MakeCurrent binds the root context so camera images can be latched.
func (g *Graph) MakeCurrent() error {
	if g.off == nil {
		return ErrNotInitialized
	}
	return g.off.MakeCurrent()
}

// Sample runs stage A: the camera texture is drawn through its transform
// matrix and the direction texture coordinates into the sample framebuffer.
func (g *Graph) Sample(st gles.SurfaceTexture) error {
	if g.off == nil {
		return ErrNotInitialized
	}
	if err := g.off.MakeCurrent(); err != nil {
		return err
	}
	_, tc := g.Direction()
	w, h := g.off.Size()
	m := st.TransformMatrix()

	gl := g.off.GL()
	gl.BindFramebuffer(g.off.SampleFBO)
	gl.Viewport(0, 0, w, h)
	g.off.camera.draw(gl, gles.TextureExternalOES, st.TextureID(), tc[:], &m)
	gl.BindFramebuffer(0)

	g.count(func(s *Stats) { s.Sampled++ })
	g.metrics.FrameSampled()
	return nil
}

// Compose runs stage B: the installed filter, or the passthrough, draws the
// sample texture into the output framebuffer. The filter lock is tried for
// a bounded time only.
func (g *Graph) Compose() error {
	if g.off == nil {
		return ErrNotInitialized
	}
	if err := g.off.MakeCurrent(); err != nil {
		return err
	}
	gl := g.off.GL()

	filtered := false
	if g.gate.tryLock() {
		g.swapFilter(gl)
		if g.active != nil {
			dir, _ := g.Direction()
			g.active.UpdateDirection(dir)
			if err := g.active.Draw(gl, g.off.SampleTex, g.off.OutputFBO, direction.Quad[:], identityTexCoords); err != nil {
				g.log.Warn("filter draw failed, using passthrough", "error", err)
			} else {
				filtered = true
			}
		}
		g.gate.unlock()
	} else {
		g.count(func(s *Stats) { s.FilterFallbacks++ })
		g.metrics.FilterFallback()
	}
	if !filtered {
		g.passthrough(gl)
	}
	gl.BindFramebuffer(0)
	gl.UseProgram(0)

	g.count(func(s *Stats) {
		s.Composed++
		if filtered {
			s.Filtered++
		}
	})
	return nil
}

// swapFilter replaces the active filter with the installed one. Called
// with the gate held.
func (g *Graph) swapFilter(gl gles.GL) {
	want := g.gate.pending
	if want == g.active || (want != nil && want == g.broken) {
		return
	}
	if g.active != nil {
		g.active.Destroy(gl)
		g.active = nil
	}
	if want == nil {
		return
	}
	w, h := g.off.Size()
	if err := want.Init(gl, w, h); err != nil {
		g.log.Warn("filter init failed, using passthrough", "error", err)
		g.broken = want
		return
	}
	g.active, g.broken = want, nil
}

func (g *Graph) passthrough(gl gles.GL) {
	w, h := g.off.Size()
	gl.BindFramebuffer(g.off.OutputFBO)
	gl.Viewport(0, 0, w, h)
	g.off.copy2D.draw(gl, gles.Texture2D, g.off.SampleTex, identityTexCoords, nil)
	gl.BindFramebuffer(0)
}

// PresentEncoder runs stage C, stamping the frame with ptsNanos. It is a
// no-op without an encoder surface.
func (g *Graph) PresentEncoder(ptsNanos int64) error {
	if g.enc == nil || g.off == nil {
		return nil
	}
	w, h, err := g.enc.Size()
	if err != nil {
		return err
	}
	if err := g.enc.present(g.off.OutputTex, w, h, ptsNanos, true); err != nil {
		return err
	}
	g.count(func(s *Stats) { s.EncoderFrames++ })
	return nil
}

// PresentPreview runs stage D at the preview viewport. It is a no-op
// without a preview surface.
func (g *Graph) PresentPreview() error {
	if g.prev == nil || g.off == nil {
		return nil
	}
	g.geoMu.Lock()
	w, h := g.previewW, g.previewH
	g.geoMu.Unlock()
	if err := g.prev.present(g.off.OutputTex, w, h, 0, false); err != nil {
		return err
	}
	g.count(func(s *Stats) { s.PreviewFrames++ })
	return nil
}

// Draw runs stages B, C and D for one frame.
func (g *Graph) Draw(ptsNanos int64) error {
	if err := g.Compose(); err != nil {
		return err
	}
	if err := g.PresentEncoder(ptsNanos); err != nil {
		return err
	}
	if err := g.PresentPreview(); err != nil {
		return err
	}
	g.metrics.FrameDrawn()
	return nil
}

// ReadOutput returns the output framebuffer as RGBA rows, bottom row first.
func (g *Graph) ReadOutput() ([]byte, int, int, error) {
	if g.off == nil {
		return nil, 0, 0, ErrNotInitialized
	}
	if err := g.off.MakeCurrent(); err != nil {
		return nil, 0, 0, err
	}
	w, h := g.off.Size()
	gl := g.off.GL()
	out := make([]byte, w*h*4)
	gl.BindFramebuffer(g.off.OutputFBO)
	gl.ReadPixels(0, 0, w, h, out)
	gl.BindFramebuffer(0)
	return out, w, h, nil
}

func (g *Graph) count(fn func(*Stats)) {
	g.statsMu.Lock()
	fn(&g.stats)
	g.statsMu.Unlock()
}

// Stats returns a snapshot of the counters.
func (g *Graph) Stats() Stats {
	g.statsMu.Lock()
	defer g.statsMu.Unlock()
	return g.stats
}
