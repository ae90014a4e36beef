package softgl

import (
	"github.com/zsiec/camcorder/gles"
)

// InvalidFramebufferOperation is raised when drawing to an incomplete
// framebuffer object.
const InvalidFramebufferOperation gles.Enum = 0x0506

// glContext routes GL commands to the display's current context. Commands
// issued with no current context are ignored, as on a real driver.
type glContext struct {
	d *display
}

var _ gles.GL = (*glContext)(nil)

func (g *glContext) with(fn func(c *context)) {
	g.d.mu.Lock()
	defer g.d.mu.Unlock()
	if g.d.cur == nil {
		return
	}
	fn(g.d.cur)
}

func (g *glContext) GenTexture() uint32 {
	var id uint32
	g.with(func(c *context) { id = c.group.genTexture() })
	return id
}

func (g *glContext) DeleteTexture(id uint32) {
	g.with(func(c *context) {
		delete(c.group.textures, id)
		for i := range c.units {
			for target, bound := range c.units[i] {
				if bound == id {
					delete(c.units[i], target)
				}
			}
		}
	})
}

func (g *glContext) ActiveTexture(unit gles.Enum) {
	g.with(func(c *context) {
		i := int(unit - gles.Texture0)
		if i < 0 || i >= maxTextureUnits {
			c.setError(gles.InvalidEnum)
			return
		}
		c.activeUnit = i
	})
}

func (g *glContext) BindTexture(target gles.Enum, id uint32) {
	g.with(func(c *context) {
		if target != gles.Texture2D && target != gles.TextureExternalOES {
			c.setError(gles.InvalidEnum)
			return
		}
		if id == 0 {
			delete(c.units[c.activeUnit], target)
			return
		}
		t, ok := c.group.textures[id]
		switch {
		case !ok:
			// Binding an unused name creates the object.
			t = newTexture(id, target)
			c.group.textures[id] = t
		case t.target == 0:
			fresh := newTexture(id, target)
			*t = *fresh
		case t.target != target:
			c.setError(gles.InvalidOperation)
			return
		}
		c.units[c.activeUnit][target] = id
	})
}

func (g *glContext) TexImage2D(target gles.Enum, width, height int, pixels []byte) {
	g.with(func(c *context) {
		if target == gles.TextureExternalOES {
			// External textures only receive images from a surface texture.
			c.setError(gles.InvalidEnum)
			return
		}
		t := c.boundTexture(target)
		if t == nil {
			c.setError(gles.InvalidOperation)
			return
		}
		if width < 0 || height < 0 || (pixels != nil && len(pixels) < width*height*4) {
			c.setError(gles.InvalidValue)
			return
		}
		t.width, t.height = width, height
		t.pix = make([]byte, width*height*4)
		if pixels != nil {
			copy(t.pix, pixels)
		}
	})
}

func (g *glContext) TexParameteri(target, pname, param gles.Enum) {
	g.with(func(c *context) {
		t := c.boundTexture(target)
		if t == nil {
			c.setError(gles.InvalidOperation)
			return
		}
		switch pname {
		case gles.TextureMinFilter:
			t.minFilter = param
		case gles.TextureMagFilter:
			t.magFilter = param
		case gles.TextureWrapS:
			t.wrapS = param
		case gles.TextureWrapT:
			t.wrapT = param
		default:
			c.setError(gles.InvalidEnum)
		}
	})
}

func (g *glContext) GenFramebuffer() uint32 {
	var id uint32
	g.with(func(c *context) {
		c.nextFBO++
		id = c.nextFBO
		c.fbos[id] = &framebuffer{id: id}
	})
	return id
}

func (g *glContext) DeleteFramebuffer(id uint32) {
	g.with(func(c *context) {
		delete(c.fbos, id)
		if c.boundFBO == id {
			c.boundFBO = 0
		}
	})
}

func (g *glContext) BindFramebuffer(id uint32) {
	g.with(func(c *context) {
		if id != 0 {
			if _, ok := c.fbos[id]; !ok {
				c.setError(gles.InvalidOperation)
				return
			}
		}
		c.boundFBO = id
	})
}

func (g *glContext) FramebufferTexture2D(tex uint32) {
	g.with(func(c *context) {
		fb, ok := c.fbos[c.boundFBO]
		if !ok {
			c.setError(gles.InvalidOperation)
			return
		}
		fb.color = tex
	})
}

func (g *glContext) CheckFramebufferStatus() gles.Enum {
	status := gles.FramebufferComplete
	g.with(func(c *context) {
		if c.boundFBO == 0 {
			return
		}
		status = c.fboStatus(c.fbos[c.boundFBO])
	})
	return status
}

func (c *context) fboStatus(fb *framebuffer) gles.Enum {
	if fb == nil || fb.color == 0 {
		return gles.FramebufferIncompleteMissing
	}
	t, ok := c.group.textures[fb.color]
	if !ok || t.target != gles.Texture2D || t.width == 0 || t.height == 0 {
		return gles.FramebufferIncompleteAttachment
	}
	return gles.FramebufferComplete
}

// CreateProgram compiles and links a program into the share group. Errors
// are returned directly rather than through an info log.
func (g *glContext) CreateProgram(vs, fs string) (uint32, error) {
	g.d.mu.Lock()
	defer g.d.mu.Unlock()
	c := g.d.cur
	if c == nil {
		return 0, gles.ErrBadContext
	}
	c.group.nextProg++
	p, err := compileProgram(c.group.nextProg, vs, fs)
	if err != nil {
		return 0, err
	}
	c.group.programs[p.id] = p
	return p.id, nil
}

func (g *glContext) DeleteProgram(id uint32) {
	g.with(func(c *context) {
		delete(c.group.programs, id)
		if c.program == id {
			c.program = 0
		}
	})
}

func (g *glContext) UseProgram(id uint32) {
	g.with(func(c *context) {
		if id != 0 {
			if _, ok := c.group.programs[id]; !ok {
				c.setError(gles.InvalidOperation)
				return
			}
		}
		c.program = id
	})
}

func (g *glContext) GetAttribLocation(prog uint32, name string) int32 {
	loc := int32(-1)
	g.with(func(c *context) {
		if p, ok := c.group.programs[prog]; ok {
			loc = p.attribLocation(name)
		} else {
			c.setError(gles.InvalidOperation)
		}
	})
	return loc
}

func (g *glContext) GetUniformLocation(prog uint32, name string) int32 {
	loc := int32(-1)
	g.with(func(c *context) {
		if p, ok := c.group.programs[prog]; ok {
			loc = p.uniformLocation(name)
		} else {
			c.setError(gles.InvalidOperation)
		}
	})
	return loc
}

func (g *glContext) Uniform1i(loc int32, v int32) {
	g.with(func(c *context) {
		p, ok := c.group.programs[c.program]
		if !ok || loc == -1 {
			return
		}
		if loc != p.samplerUniform {
			c.setError(gles.InvalidOperation)
			return
		}
		p.samplerUnit = v
	})
}

func (g *glContext) UniformMatrix4fv(loc int32, m [16]float32) {
	g.with(func(c *context) {
		p, ok := c.group.programs[c.program]
		if !ok || loc == -1 {
			return
		}
		if loc != p.matrixUniform {
			c.setError(gles.InvalidOperation)
			return
		}
		p.matrix = m
	})
}

func (g *glContext) EnableVertexAttribArray(loc int32) {
	g.with(func(c *context) {
		if loc < 0 {
			c.setError(gles.InvalidValue)
			return
		}
		c.attrib(loc).enabled = true
	})
}

func (g *glContext) DisableVertexAttribArray(loc int32) {
	g.with(func(c *context) {
		if loc < 0 {
			c.setError(gles.InvalidValue)
			return
		}
		c.attrib(loc).enabled = false
	})
}

func (g *glContext) VertexAttribPointer(loc int32, size int, data []float32) {
	g.with(func(c *context) {
		if loc < 0 || size < 1 || size > 4 {
			c.setError(gles.InvalidValue)
			return
		}
		a := c.attrib(loc)
		a.size = size
		a.data = append(a.data[:0], data...)
	})
}

func (g *glContext) Viewport(x, y, w, h int) {
	g.with(func(c *context) {
		if w < 0 || h < 0 {
			c.setError(gles.InvalidValue)
			return
		}
		c.viewport = [4]int{x, y, w, h}
	})
}

func (g *glContext) ClearColor(r, gr, b, a float32) {
	g.with(func(c *context) { c.clearColor = [4]float32{r, gr, b, a} })
}

func (g *glContext) Clear(mask gles.Enum) {
	g.with(func(c *context) {
		if mask&gles.ColorBufferBit == 0 {
			return
		}
		t, ok := g.d.target(c)
		if !ok {
			return
		}
		px := [4]byte{
			unitToByte(float64(c.clearColor[0])),
			unitToByte(float64(c.clearColor[1])),
			unitToByte(float64(c.clearColor[2])),
			unitToByte(float64(c.clearColor[3])),
		}
		for i := 0; i+3 < len(t.pix); i += 4 {
			copy(t.pix[i:i+4], px[:])
		}
	})
}

func (g *glContext) Enable(capability gles.Enum) {
	g.with(func(c *context) {
		if capability == gles.Blend {
			c.blend = true
		}
	})
}

func (g *glContext) Disable(capability gles.Enum) {
	g.with(func(c *context) {
		if capability == gles.Blend {
			c.blend = false
		}
	})
}

func (g *glContext) BlendFunc(src, dst gles.Enum) {
	g.with(func(c *context) { c.blendSrc, c.blendDst = src, dst })
}

func (g *glContext) DrawElements(mode gles.Enum, indices []uint16) {
	g.with(func(c *context) {
		if mode != gles.Triangles {
			c.setError(gles.InvalidEnum)
			return
		}
		p, ok := c.group.programs[c.program]
		if !ok {
			c.setError(gles.InvalidOperation)
			return
		}
		t, ok := g.d.target(c)
		if !ok {
			c.setError(InvalidFramebufferOperation)
			return
		}
		drawTriangles(c, p, t, indices)
	})
}

func (g *glContext) ReadPixels(x, y, w, h int, dst []byte) {
	g.with(func(c *context) {
		t, ok := g.d.target(c)
		if !ok {
			c.setError(InvalidFramebufferOperation)
			return
		}
		if len(dst) < w*h*4 {
			c.setError(gles.InvalidValue)
			return
		}
		for row := 0; row < h; row++ {
			for col := 0; col < w; col++ {
				sx, sy := x+col, y+row
				o := (row*w + col) * 4
				if sx < 0 || sy < 0 || sx >= t.width || sy >= t.height {
					copy(dst[o:o+4], []byte{0, 0, 0, 0})
					continue
				}
				i := (sy*t.width + sx) * 4
				copy(dst[o:o+4], t.pix[i:i+4])
			}
		}
	})
}

func (g *glContext) Finish() {}

func (g *glContext) GetError() gles.Enum {
	e := gles.NoError
	g.with(func(c *context) {
		e = c.err
		c.err = gles.NoError
	})
	return e
}

// renderTarget is the color buffer the current context draws into.
type renderTarget struct {
	pix    []byte
	width  int
	height int
}

func (d *display) target(c *context) (renderTarget, bool) {
	if c.boundFBO != 0 {
		fb := c.fbos[c.boundFBO]
		if c.fboStatus(fb) != gles.FramebufferComplete {
			return renderTarget{}, false
		}
		t := c.group.textures[fb.color]
		return renderTarget{pix: t.pix, width: t.width, height: t.height}, true
	}
	if d.curSurf == nil {
		return renderTarget{}, false
	}
	s := d.curSurf
	return renderTarget{pix: s.pix, width: s.width, height: s.height}, true
}
