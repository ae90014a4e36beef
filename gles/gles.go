// Package gles is the GPU contract the render graph is written against. It
// mirrors the subset of OpenGL ES 2.0 and EGL 1.4 the pipeline uses:
// shared contexts, pbuffer and window surfaces, textures (2D and
// external-OES), framebuffer objects, textured-quad programs and
// presentation timestamps.
//
// Handles are plain integers, as in EGL. A zero handle means "none".
package gles

import (
	"errors"
	"image"
)

// Enum is a GL enumerant.
type Enum uint32

// GL enumerants used by the pipeline. Values match the Khronos headers.
const (
	NoError          Enum = 0
	InvalidEnum      Enum = 0x0500
	InvalidValue     Enum = 0x0501
	InvalidOperation Enum = 0x0502

	Triangles Enum = 0x0004

	Zero             Enum = 0
	One              Enum = 1
	SrcAlpha         Enum = 0x0302
	OneMinusSrcAlpha Enum = 0x0303

	Blend Enum = 0x0BE2

	Texture2D          Enum = 0x0DE1
	TextureExternalOES Enum = 0x8D65
	Texture0           Enum = 0x84C0

	TextureMagFilter Enum = 0x2800
	TextureMinFilter Enum = 0x2801
	TextureWrapS     Enum = 0x2802
	TextureWrapT     Enum = 0x2803
	Nearest          Enum = 0x2600
	Linear           Enum = 0x2601
	Repeat           Enum = 0x2901
	ClampToEdge      Enum = 0x812F

	RGBA Enum = 0x1908

	Framebuffer                     Enum = 0x8D40
	FramebufferComplete             Enum = 0x8CD5
	FramebufferIncompleteAttachment Enum = 0x8CD6
	FramebufferIncompleteMissing    Enum = 0x8CD7

	ColorBufferBit Enum = 0x4000
)

// GL is the per-context GL ES 2 command interface. Every call applies to
// the context current on the calling display.
type GL interface {
	GenTexture() uint32
	DeleteTexture(id uint32)
	ActiveTexture(unit Enum)
	BindTexture(target Enum, id uint32)
	// TexImage2D allocates RGBA8 storage for the texture bound to target.
	// pixels may be nil; rows run bottom to top.
	TexImage2D(target Enum, width, height int, pixels []byte)
	TexParameteri(target, pname, param Enum)

	GenFramebuffer() uint32
	DeleteFramebuffer(id uint32)
	BindFramebuffer(id uint32)
	FramebufferTexture2D(texture uint32)
	CheckFramebufferStatus() Enum

	CreateProgram(vertexSrc, fragmentSrc string) (uint32, error)
	DeleteProgram(id uint32)
	UseProgram(id uint32)
	GetAttribLocation(program uint32, name string) int32
	GetUniformLocation(program uint32, name string) int32
	Uniform1i(location int32, v int32)
	UniformMatrix4fv(location int32, m [16]float32)

	EnableVertexAttribArray(location int32)
	DisableVertexAttribArray(location int32)
	VertexAttribPointer(location int32, size int, data []float32)

	Viewport(x, y, width, height int)
	ClearColor(r, g, b, a float32)
	Clear(mask Enum)
	Enable(capability Enum)
	Disable(capability Enum)
	BlendFunc(src, dst Enum)
	DrawElements(mode Enum, indices []uint16)
	// ReadPixels reads RGBA8 rows bottom to top from the bound framebuffer.
	ReadPixels(x, y, width, height int, dst []byte)
	Finish()
	GetError() Enum
}

// Handles.
type (
	Config  uint32
	Context uint32
	Surface uint32
)

// Null handles.
const (
	NoContext Context = 0
	NoSurface Surface = 0
)

// Renderable and surface-type bits for ConfigAttribs.
const (
	RenderableES2 = 0x0004

	SurfacePbuffer = 0x0001
	SurfaceWindow  = 0x0004
)

// ConfigAttribs are the attributes requested from ChooseConfig.
type ConfigAttribs struct {
	RedSize     int
	GreenSize   int
	BlueSize    int
	AlphaSize   int
	DepthSize   int
	StencilSize int
	Renderable  int
	SurfaceType int
	// Recordable requests a config whose window surfaces can feed a video
	// encoder.
	Recordable bool
}

// DefaultAttribs returns the ES2 RGB888, no depth, no stencil attributes
// used by every pipeline context.
func DefaultAttribs(surfaceType int, recordable bool) ConfigAttribs {
	return ConfigAttribs{
		RedSize:     8,
		GreenSize:   8,
		BlueSize:    8,
		Renderable:  RenderableES2,
		SurfaceType: surfaceType,
		Recordable:  recordable,
	}
}

// EGL errors.
var (
	ErrNotInitialized = errors.New("egl: display not initialized")
	ErrBadConfig      = errors.New("egl: bad config")
	ErrBadContext     = errors.New("egl: bad context")
	ErrBadSurface     = errors.New("egl: bad surface")
	ErrBadMatch       = errors.New("egl: bad match")
	ErrBadAlloc       = errors.New("egl: bad alloc")
	ErrAbandoned      = errors.New("surface texture abandoned")
)

// EGL is a display connection.
type EGL interface {
	ChooseConfig(attrs ConfigAttribs) (Config, error)
	// CreateContext creates an ES2 context. A non-zero share context makes
	// textures and programs of the share group visible to the new context.
	CreateContext(cfg Config, share Context) (Context, error)
	CreatePbufferSurface(cfg Config, width, height int) (Surface, error)
	CreateWindowSurface(cfg Config, win NativeWindow) (Surface, error)
	MakeCurrent(s Surface, c Context) error
	ReleaseCurrent() error
	SwapBuffers(s Surface) error
	// PresentationTime sets the timestamp attached to the next buffer
	// swapped on s.
	PresentationTime(s Surface, nanos int64) error
	QuerySurfaceSize(s Surface) (int, int, error)
	DestroySurface(s Surface) error
	DestroyContext(c Context) error
	// Terminate releases this connection. The display stays alive while
	// other connections hold it.
	Terminate() error
	GL() GL
}

// Buffer is one frame queued to a NativeWindow. Pix is RGBA8, top row first.
type Buffer struct {
	Width            int
	Height           int
	Pix              []byte
	PresentationTime int64 // nanoseconds
}

// Image returns the buffer as an image sharing Pix.
func (b *Buffer) Image() *image.RGBA {
	return &image.RGBA{
		Pix:    b.Pix,
		Stride: b.Width * 4,
		Rect:   image.Rect(0, 0, b.Width, b.Height),
	}
}

// NativeWindow is the consumer side of a window surface: a preview view or
// an encoder input surface.
type NativeWindow interface {
	Size() (width, height int)
	QueueBuffer(b *Buffer) error
}

// RecordableWindow is implemented by windows that only accept surfaces
// created from a recordable config.
type RecordableWindow interface {
	NativeWindow
	RequiresRecordable() bool
}

// SurfaceTexture streams producer images into an external-OES texture.
// QueueImage is called by the producer (camera) on any goroutine; the
// remaining methods belong to the render thread.
type SurfaceTexture interface {
	QueueImage(img *image.RGBA, timestampNanos int64) error
	SetOnFrameAvailable(fn func())
	// UpdateTexImage latches the oldest queued image into the texture of
	// the current context. It is a no-op when nothing is queued.
	UpdateTexImage() error
	TransformMatrix() [16]float32
	Timestamp() int64
	TextureID() uint32
	Release()
}

// Platform opens display connections and creates surface textures.
type Platform interface {
	OpenDisplay() (EGL, error)
	NewSurfaceTexture(textureID uint32) (SurfaceTexture, error)
}
