package filter

import (
	"errors"
	"image"
	"sync"

	"github.com/zsiec/camcorder/direction"
	"github.com/zsiec/camcorder/gles"
)

// Rect is a rectangle in normalized output coordinates, origin top-left.
type Rect struct {
	X, Y, W, H float32
}

// Overlay is one image drawn over the frame.
type Overlay struct {
	Image *image.RGBA
	Rect  Rect
}

// ImageOverlay draws RGBA images over the passthrough frame with alpha
// blending, for watermarks and captions burnt into the recording.
type ImageOverlay struct {
	Base

	mu       sync.Mutex
	overlays []Overlay
	textures []uint32
	dirty    bool
}

var _ VideoFilter = (*ImageOverlay)(nil)

// NewImageOverlay returns a filter drawing overlays in order.
func NewImageOverlay(overlays ...Overlay) *ImageOverlay {
	return &ImageOverlay{overlays: overlays, dirty: true}
}

// SetOverlays replaces the overlay list. Textures are re-uploaded on the
// next Draw.
func (o *ImageOverlay) SetOverlays(overlays ...Overlay) {
	o.mu.Lock()
	o.overlays = overlays
	o.dirty = true
	o.mu.Unlock()
}

func (o *ImageOverlay) Draw(gl gles.GL, input, outputFBO uint32, position, texCoords []float32) error {
	if err := o.Base.Draw(gl, input, outputFBO, position, texCoords); err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.dirty {
		o.upload(gl)
	}
	if len(o.textures) == 0 {
		return nil
	}

	w, h := o.Size()
	o.Base.mu.Lock()
	prog := o.prog
	o.Base.mu.Unlock()

	gl.BindFramebuffer(outputFBO)
	gl.Viewport(0, 0, w, h)
	gl.Enable(gles.Blend)
	gl.BlendFunc(gles.SrcAlpha, gles.OneMinusSrcAlpha)
	for i, ov := range o.overlays {
		if o.textures[i] == 0 {
			continue
		}
		drawQuad(gl, prog, gles.Texture2D, o.textures[i], rectQuad(ov.Rect), direction.Identity[:])
	}
	gl.Disable(gles.Blend)
	gl.BindFramebuffer(0)
	return nil
}

// rectQuad converts r to positions in direction.Quad corner order.
func rectQuad(r Rect) []float32 {
	x0 := r.X*2 - 1
	x1 := (r.X+r.W)*2 - 1
	y0 := 1 - r.Y*2
	y1 := 1 - (r.Y+r.H)*2
	return []float32{x0, y0, x0, y1, x1, y1, x1, y0}
}

func (o *ImageOverlay) upload(gl gles.GL) {
	for _, tex := range o.textures {
		if tex != 0 {
			gl.DeleteTexture(tex)
		}
	}
	o.textures = make([]uint32, len(o.overlays))
	for i, ov := range o.overlays {
		if ov.Image == nil || ov.Image.Bounds().Empty() {
			continue
		}
		b := ov.Image.Bounds()
		tex := gl.GenTexture()
		gl.BindTexture(gles.Texture2D, tex)
		gl.TexParameteri(gles.Texture2D, gles.TextureMinFilter, gles.Linear)
		gl.TexParameteri(gles.Texture2D, gles.TextureMagFilter, gles.Linear)
		gl.TexParameteri(gles.Texture2D, gles.TextureWrapS, gles.ClampToEdge)
		gl.TexParameteri(gles.Texture2D, gles.TextureWrapT, gles.ClampToEdge)
		gl.TexImage2D(gles.Texture2D, b.Dx(), b.Dy(), bottomUp(ov.Image))
		gl.BindTexture(gles.Texture2D, 0)
		o.textures[i] = tex
	}
	o.dirty = false
}

// bottomUp returns img's pixels with the last row first, the GL texture
// row order.
func bottomUp(img *image.RGBA) []byte {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]byte, w*h*4)
	for y := 0; y < h; y++ {
		src := img.Pix[img.PixOffset(b.Min.X, b.Min.Y+y):]
		copy(out[(h-1-y)*w*4:(h-y)*w*4], src[:w*4])
	}
	return out
}

func (o *ImageOverlay) Destroy(gl gles.GL) {
	o.mu.Lock()
	for _, tex := range o.textures {
		if tex != 0 {
			gl.DeleteTexture(tex)
		}
	}
	o.textures = nil
	o.dirty = true
	o.mu.Unlock()
	o.Base.Destroy(gl)
}

// ErrOverlayRect is returned by Rect.Validate.
var ErrOverlayRect = errors.New("filter: overlay rectangle outside the frame")

// Validate reports whether r lies inside the unit square.
func (r Rect) Validate() error {
	if r.W <= 0 || r.H <= 0 || r.X < 0 || r.Y < 0 || r.X+r.W > 1 || r.Y+r.H > 1 {
		return ErrOverlayRect
	}
	return nil
}
