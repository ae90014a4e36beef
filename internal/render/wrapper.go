package render

import (
	"errors"
	"fmt"

	"github.com/zsiec/camcorder/gles"
)

var (
	// ErrAlreadyInitialized is returned when a wrapper is created while the
	// previous one of the same kind is still alive.
	ErrAlreadyInitialized = errors.New("render: already initialized")

	// ErrNotInitialized is returned when a stage runs without its wrapper.
	ErrNotInitialized = errors.New("render: not initialized")

	// ErrSurfaceLost is returned when a window surface can no longer be
	// swapped.
	ErrSurfaceLost = errors.New("render: surface lost")
)

// binding is the display connection, config, context and surface shared by
// every wrapper kind.
type binding struct {
	egl gles.EGL
	cfg gles.Config
	ctx gles.Context
	srf gles.Surface
}

func (b *binding) makeCurrent() error {
	if err := b.egl.MakeCurrent(b.srf, b.ctx); err != nil {
		return fmt.Errorf("make current: %w", err)
	}
	return nil
}

// release destroys whatever part of the binding exists, in reverse creation
// order.
func (b *binding) release() {
	if b.egl == nil {
		return
	}
	if b.srf != gles.NoSurface {
		b.egl.DestroySurface(b.srf)
		b.srf = gles.NoSurface
	}
	if b.ctx != gles.NoContext {
		b.egl.DestroyContext(b.ctx)
		b.ctx = gles.NoContext
	}
	b.egl.ReleaseCurrent()
	b.egl.Terminate()
	b.egl = nil
}

// OffScreen is the root context. It owns the camera and 2D programs and the
// sample and output framebuffers; its pbuffer surface is never presented.
type OffScreen struct {
	binding

	camera program
	copy2D program

	width, height int

	SampleFBO uint32
	SampleTex uint32
	OutputFBO uint32
	OutputTex uint32
}

// NewOffScreen creates the root context and its framebuffers sized for a
// width×height video.
func NewOffScreen(p gles.Platform, width, height int) (o *OffScreen, err error) {
	egl, err := p.OpenDisplay()
	if err != nil {
		return nil, fmt.Errorf("open display: %w", err)
	}
	o = &OffScreen{binding: binding{egl: egl}}
	defer func() {
		if err != nil {
			o.release()
		}
	}()

	if o.cfg, err = egl.ChooseConfig(gles.DefaultAttribs(gles.SurfacePbuffer, false)); err != nil {
		return nil, fmt.Errorf("choose config: %w", err)
	}
	if o.ctx, err = egl.CreateContext(o.cfg, gles.NoContext); err != nil {
		return nil, fmt.Errorf("create context: %w", err)
	}
	if o.srf, err = egl.CreatePbufferSurface(o.cfg, 1, 1); err != nil {
		return nil, fmt.Errorf("create pbuffer: %w", err)
	}
	if err = o.makeCurrent(); err != nil {
		return nil, err
	}

	gl := egl.GL()
	if o.camera, err = newProgram(gl, gles.VertexShaderMatrix, gles.FragmentShaderExternal); err != nil {
		return nil, fmt.Errorf("camera program: %w", err)
	}
	if o.copy2D, err = newProgram(gl, gles.VertexShader2D, gles.FragmentShader2D); err != nil {
		return nil, fmt.Errorf("2d program: %w", err)
	}
	if err = o.createFramebuffers(width, height); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *OffScreen) createFramebuffers(w, h int) error {
	gl := o.egl.GL()
	sfbo, stex, err := newFramebuffer(gl, w, h)
	if err != nil {
		return fmt.Errorf("sample framebuffer: %w", err)
	}
	ofbo, otex, err := newFramebuffer(gl, w, h)
	if err != nil {
		gl.DeleteFramebuffer(sfbo)
		gl.DeleteTexture(stex)
		return fmt.Errorf("output framebuffer: %w", err)
	}
	o.SampleFBO, o.SampleTex = sfbo, stex
	o.OutputFBO, o.OutputTex = ofbo, otex
	o.width, o.height = w, h
	return nil
}

func (o *OffScreen) deleteFramebuffers() {
	gl := o.egl.GL()
	gl.DeleteFramebuffer(o.OutputFBO)
	gl.DeleteTexture(o.OutputTex)
	gl.DeleteFramebuffer(o.SampleFBO)
	gl.DeleteTexture(o.SampleTex)
	o.SampleFBO, o.SampleTex, o.OutputFBO, o.OutputTex = 0, 0, 0, 0
}

// Resize recreates both framebuffers for a new video size.
func (o *OffScreen) Resize(width, height int) error {
	if err := o.makeCurrent(); err != nil {
		return err
	}
	o.deleteFramebuffers()
	return o.createFramebuffers(width, height)
}

// Size returns the framebuffer size.
func (o *OffScreen) Size() (int, int) { return o.width, o.height }

// Context returns the share root handle.
func (o *OffScreen) Context() gles.Context { return o.ctx }

// MakeCurrent binds the root context.
func (o *OffScreen) MakeCurrent() error { return o.makeCurrent() }

// GL returns the command interface of the display.
func (o *OffScreen) GL() gles.GL { return o.egl.GL() }

// Destroy releases the programs, framebuffers, surface and context.
func (o *OffScreen) Destroy() {
	if o.egl == nil {
		return
	}
	if o.makeCurrent() == nil {
		gl := o.egl.GL()
		gl.DeleteProgram(o.camera.id)
		gl.DeleteProgram(o.copy2D.id)
		o.deleteFramebuffers()
	}
	o.release()
}

// WindowSurface is a child context drawing into a native window: the
// encoder input surface or the preview view.
type WindowSurface struct {
	binding

	name string
	win  gles.NativeWindow
	prog program
}

// NewEncoderSurface wraps an encoder input window. The config is chosen with
// the recordable attribute.
func NewEncoderSurface(p gles.Platform, root *OffScreen, win gles.NativeWindow) (*WindowSurface, error) {
	return newWindowSurface(p, root, win, "encoder", true)
}

// NewPreviewSurface wraps the preview view.
func NewPreviewSurface(p gles.Platform, root *OffScreen, win gles.NativeWindow) (*WindowSurface, error) {
	return newWindowSurface(p, root, win, "preview", false)
}

func newWindowSurface(p gles.Platform, root *OffScreen, win gles.NativeWindow, name string, recordable bool) (w *WindowSurface, err error) {
	if root == nil || root.egl == nil {
		return nil, ErrNotInitialized
	}
	egl, err := p.OpenDisplay()
	if err != nil {
		return nil, fmt.Errorf("open display: %w", err)
	}
	w = &WindowSurface{binding: binding{egl: egl}, name: name, win: win}
	defer func() {
		if err != nil {
			w.release()
		}
	}()

	if w.cfg, err = egl.ChooseConfig(gles.DefaultAttribs(gles.SurfaceWindow, recordable)); err != nil {
		return nil, fmt.Errorf("%s: choose config: %w", name, err)
	}
	if w.ctx, err = egl.CreateContext(w.cfg, root.ctx); err != nil {
		return nil, fmt.Errorf("%s: create context: %w", name, err)
	}
	if w.srf, err = egl.CreateWindowSurface(w.cfg, win); err != nil {
		return nil, fmt.Errorf("%s: create window surface: %w", name, err)
	}
	if err = w.makeCurrent(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if w.prog, err = newProgram(egl.GL(), gles.VertexShader2D, gles.FragmentShader2D); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return w, nil
}

// Window returns the wrapped native window.
func (w *WindowSurface) Window() gles.NativeWindow { return w.win }

// Size returns the current surface size.
func (w *WindowSurface) Size() (int, int, error) {
	return w.egl.QuerySurfaceSize(w.srf)
}

// present draws tex over the viewport and swaps, stamping the buffer with
// pts when stamp is set.
func (w *WindowSurface) present(tex uint32, vpW, vpH int, pts int64, stamp bool) error {
	if err := w.makeCurrent(); err != nil {
		return err
	}
	gl := w.egl.GL()
	gl.BindFramebuffer(0)
	gl.Viewport(0, 0, vpW, vpH)
	w.prog.draw(gl, gles.Texture2D, tex, identityTexCoords, nil)
	if stamp {
		if err := w.egl.PresentationTime(w.srf, pts); err != nil {
			return fmt.Errorf("%s: presentation time: %w", w.name, err)
		}
	}
	if err := w.egl.SwapBuffers(w.srf); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSurfaceLost, w.name, err)
	}
	return nil
}

// Destroy releases the program, surface and context.
func (w *WindowSurface) Destroy() {
	if w.egl == nil {
		return
	}
	if w.makeCurrent() == nil {
		w.egl.GL().DeleteProgram(w.prog.id)
	}
	w.release()
}
