package filter

import (
	"sync"

	"github.com/zsiec/camcorder/direction"
	"github.com/zsiec/camcorder/gles"
)

// Base is a passthrough VideoFilter. Filters embed it for the init guard,
// the tracked geometry and the 2D copy program.
type Base struct {
	mu            sync.Mutex
	initialized   bool
	width         int
	height        int
	previewWidth  int
	previewHeight int
	square        bool
	crop          float32
	dir           direction.Flag

	prog programLocations
}

var _ VideoFilter = (*Base)(nil)

func (b *Base) Init(gl gles.GL, width, height int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.initialized {
		return ErrAlreadyInitialized
	}
	prog, err := newProgram(gl, gles.VertexShader2D, gles.FragmentShader2D)
	if err != nil {
		return err
	}
	b.prog = prog
	b.width, b.height = width, height
	b.initialized = true
	return nil
}

func (b *Base) UpdatePreviewSize(width, height int) {
	b.mu.Lock()
	b.previewWidth, b.previewHeight = width, height
	b.mu.Unlock()
}

func (b *Base) UpdateSquareFlag(square bool) {
	b.mu.Lock()
	b.square = square
	b.mu.Unlock()
}

func (b *Base) UpdateCropRatio(crop float32) {
	b.mu.Lock()
	b.crop = crop
	b.mu.Unlock()
}

func (b *Base) UpdateDirection(f direction.Flag) {
	b.mu.Lock()
	b.dir = f
	b.mu.Unlock()
}

// Draw copies input into outputFBO.
func (b *Base) Draw(gl gles.GL, input, outputFBO uint32, position, texCoords []float32) error {
	b.mu.Lock()
	ok, w, h, prog := b.initialized, b.width, b.height, b.prog
	b.mu.Unlock()
	if !ok {
		return ErrNotInitialized
	}
	gl.BindFramebuffer(outputFBO)
	gl.Viewport(0, 0, w, h)
	drawQuad(gl, prog, gles.Texture2D, input, position, texCoords)
	gl.BindFramebuffer(0)
	return nil
}

func (b *Base) Destroy(gl gles.GL) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.initialized {
		return
	}
	gl.DeleteProgram(b.prog.id)
	b.prog = programLocations{}
	b.initialized = false
}

// Size returns the video size given to Init.
func (b *Base) Size() (int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.width, b.height
}

// PreviewSize returns the last preview size.
func (b *Base) PreviewSize() (int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.previewWidth, b.previewHeight
}

// Square reports the square-output flag.
func (b *Base) Square() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.square
}

// CropRatio returns the current crop ratio.
func (b *Base) CropRatio() float32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.crop
}

// Direction returns the current direction flag.
func (b *Base) Direction() direction.Flag {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dir
}

// Initialized reports whether Init succeeded and Destroy was not called.
func (b *Base) Initialized() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.initialized
}
