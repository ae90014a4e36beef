package softgl

import (
	"fmt"
	"image"
	"sync"

	"github.com/zsiec/camcorder/gles"
)

// surfaceTextureDepth is the number of producer images held before the
// oldest is dropped.
const surfaceTextureDepth = 3

// flipY maps texture coordinates of an image uploaded top row first so
// that t=0 addresses the bottom of the picture.
var flipY = [16]float32{
	1, 0, 0, 0,
	0, -1, 0, 0,
	0, 0, 1, 0,
	0, 1, 0, 1,
}

type queuedImage struct {
	width, height int
	pix           []byte
	ts            int64
}

type surfaceTexture struct {
	platform *Platform
	id       uint32

	mu       sync.Mutex
	queue    []queuedImage
	onFrame  func()
	ts       int64
	dropped  uint64
	released bool
}

func newSurfaceTexture(p *Platform, id uint32) *surfaceTexture {
	return &surfaceTexture{platform: p, id: id}
}

// QueueImage copies img into the queue and notifies the frame listener.
func (st *surfaceTexture) QueueImage(img *image.RGBA, ts int64) error {
	if img == nil {
		return fmt.Errorf("%w: nil image", gles.ErrBadAlloc)
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	pix := make([]byte, w*h*4)
	for y := 0; y < h; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, b.Min.Y+y):]
		copy(pix[y*w*4:(y+1)*w*4], row[:w*4])
	}

	st.mu.Lock()
	if st.released {
		st.mu.Unlock()
		return gles.ErrAbandoned
	}
	if len(st.queue) == surfaceTextureDepth {
		st.queue = st.queue[1:]
		st.dropped++
	}
	st.queue = append(st.queue, queuedImage{width: w, height: h, pix: pix, ts: ts})
	fn := st.onFrame
	st.mu.Unlock()

	if fn != nil {
		fn()
	}
	return nil
}

func (st *surfaceTexture) SetOnFrameAvailable(fn func()) {
	st.mu.Lock()
	st.onFrame = fn
	st.mu.Unlock()
}

func (st *surfaceTexture) UpdateTexImage() error {
	st.mu.Lock()
	if st.released {
		st.mu.Unlock()
		return gles.ErrAbandoned
	}
	if len(st.queue) == 0 {
		st.mu.Unlock()
		return nil
	}
	img := st.queue[0]
	st.queue = st.queue[1:]
	st.ts = img.ts
	st.mu.Unlock()

	d := st.platform.currentDisplay()
	if d == nil {
		return gles.ErrNotInitialized
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cur == nil {
		return gles.ErrBadContext
	}
	textures := d.cur.group.textures
	t, ok := textures[st.id]
	if !ok || t.target != gles.TextureExternalOES {
		t = newTexture(st.id, gles.TextureExternalOES)
		textures[st.id] = t
	}
	t.width, t.height, t.pix = img.width, img.height, img.pix
	return nil
}

func (st *surfaceTexture) TransformMatrix() [16]float32 { return flipY }

func (st *surfaceTexture) Timestamp() int64 {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.ts
}

func (st *surfaceTexture) TextureID() uint32 { return st.id }

// Dropped returns how many images were discarded because the queue was
// full.
func (st *surfaceTexture) Dropped() uint64 {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.dropped
}

func (st *surfaceTexture) Release() {
	st.mu.Lock()
	st.released = true
	st.queue = nil
	st.onFrame = nil
	st.mu.Unlock()

	st.platform.resMu.Lock()
	delete(st.platform.reserved, st.id)
	st.platform.resMu.Unlock()
}
