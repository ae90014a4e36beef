package softgl

import (
	"math"

	"github.com/zsiec/camcorder/gles"
)

type vertex struct {
	x, y float64 // window coordinates
	s, t float64 // texture coordinates after the texture matrix
}

// drawTriangles rasterizes indexed triangles with the program's texture
// sampler into target. Pixel centers sit at half-integer window
// coordinates; edges shared by two triangles are filled exactly once.
func drawTriangles(c *context, p *program, target renderTarget, indices []uint16) {
	pos := c.attribs[p.posAttrib]
	tex := c.attribs[p.texAttrib]
	if pos == nil || !pos.enabled || tex == nil || !tex.enabled || pos.size < 2 {
		return
	}

	src := c.samplerTexture(p)
	m := identityMatrix
	if p.matrixUniform >= 0 {
		m = p.matrix
	}

	vp := c.viewport
	if vp[2] == 0 || vp[3] == 0 {
		return
	}
	vert := func(i uint16) (vertex, bool) {
		pi, ti := int(i)*pos.size, int(i)*tex.size
		if pi+1 >= len(pos.data) || ti+1 >= len(tex.data) {
			return vertex{}, false
		}
		nx, ny := float64(pos.data[pi]), float64(pos.data[pi+1])
		if pos.size == 4 {
			if w := float64(pos.data[pi+3]); w != 0 && w != 1 {
				nx, ny = nx/w, ny/w
			}
		}
		s, t := float64(tex.data[ti]), float64(tex.data[ti+1])
		return vertex{
			x: float64(vp[0]) + (nx+1)/2*float64(vp[2]),
			y: float64(vp[1]) + (ny+1)/2*float64(vp[3]),
			s: float64(m[0])*s + float64(m[4])*t + float64(m[12]),
			t: float64(m[1])*s + float64(m[5])*t + float64(m[13]),
		}, true
	}

	for i := 0; i+2 < len(indices); i += 3 {
		a, ok1 := vert(indices[i])
		b, ok2 := vert(indices[i+1])
		d, ok3 := vert(indices[i+2])
		if !ok1 || !ok2 || !ok3 {
			c.setError(gles.InvalidOperation)
			return
		}
		rasterTriangle(c, src, target, a, b, d)
	}
}

var identityMatrix = [16]float32{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1}

func (c *context) samplerTexture(p *program) *texture {
	unit := int(p.samplerUnit)
	if unit < 0 || unit >= maxTextureUnits {
		return nil
	}
	id := c.units[unit][p.samplerTarget]
	if id == 0 {
		return nil
	}
	t := c.group.textures[id]
	if t == nil || t.target != p.samplerTarget {
		return nil
	}
	return t
}

func edge(a, b vertex, x, y float64) float64 {
	return (b.x-a.x)*(y-a.y) - (b.y-a.y)*(x-a.x)
}

// topLeft reports whether pixels lying exactly on edge a->b belong to the
// triangle, for counter-clockwise winding.
func topLeft(a, b vertex) bool {
	return (a.y == b.y && b.x < a.x) || b.y < a.y
}

func rasterTriangle(c *context, src *texture, dst renderTarget, a, b, d vertex) {
	area := edge(a, b, d.x, d.y)
	if area == 0 {
		return
	}
	if area < 0 {
		b, d = d, b
		area = -area
	}

	minX := int(math.Max(0, math.Floor(math.Min(a.x, math.Min(b.x, d.x)))))
	maxX := int(math.Min(float64(dst.width), math.Ceil(math.Max(a.x, math.Max(b.x, d.x)))))
	minY := int(math.Max(0, math.Floor(math.Min(a.y, math.Min(b.y, d.y)))))
	maxY := int(math.Min(float64(dst.height), math.Ceil(math.Max(a.y, math.Max(b.y, d.y)))))

	tlBC, tlCA, tlAB := topLeft(b, d), topLeft(d, a), topLeft(a, b)

	for y := minY; y < maxY; y++ {
		py := float64(y) + 0.5
		for x := minX; x < maxX; x++ {
			px := float64(x) + 0.5
			w0 := edge(b, d, px, py)
			w1 := edge(d, a, px, py)
			w2 := edge(a, b, px, py)
			if w0 < 0 || w1 < 0 || w2 < 0 {
				continue
			}
			if (w0 == 0 && !tlBC) || (w1 == 0 && !tlCA) || (w2 == 0 && !tlAB) {
				continue
			}
			l0, l1, l2 := w0/area, w1/area, w2/area
			s := l0*a.s + l1*b.s + l2*d.s
			t := l0*a.t + l1*b.t + l2*d.t

			o := (y*dst.width + x) * 4
			col := sample(src, s, t)
			if c.blend {
				blendInto(dst.pix[o:o+4], col, c.blendSrc, c.blendDst)
			} else {
				copy(dst.pix[o:o+4], col[:])
			}
		}
	}
}

// sample returns the texel color at (s, t). Missing or incomplete textures
// sample as opaque black.
func sample(t *texture, s, tc float64) [4]byte {
	if t == nil || t.width == 0 || t.height == 0 || len(t.pix) < t.width*t.height*4 {
		return [4]byte{0, 0, 0, 255}
	}
	if t.magFilter == gles.Nearest {
		x := wrapIndex(int(math.Floor(s*float64(t.width))), t.width, t.wrapS)
		y := wrapIndex(int(math.Floor(tc*float64(t.height))), t.height, t.wrapT)
		var out [4]byte
		copy(out[:], t.pix[(y*t.width+x)*4:])
		return out
	}

	u := s*float64(t.width) - 0.5
	v := tc*float64(t.height) - 0.5
	x0, y0 := math.Floor(u), math.Floor(v)
	fx, fy := u-x0, v-y0
	ix0 := wrapIndex(int(x0), t.width, t.wrapS)
	ix1 := wrapIndex(int(x0)+1, t.width, t.wrapS)
	iy0 := wrapIndex(int(y0), t.height, t.wrapT)
	iy1 := wrapIndex(int(y0)+1, t.height, t.wrapT)

	var out [4]byte
	for ch := 0; ch < 4; ch++ {
		p00 := float64(t.pix[(iy0*t.width+ix0)*4+ch])
		p10 := float64(t.pix[(iy0*t.width+ix1)*4+ch])
		p01 := float64(t.pix[(iy1*t.width+ix0)*4+ch])
		p11 := float64(t.pix[(iy1*t.width+ix1)*4+ch])
		top := p00*(1-fx) + p10*fx
		bot := p01*(1-fx) + p11*fx
		out[ch] = uint8(math.Round(top*(1-fy) + bot*fy))
	}
	return out
}

func wrapIndex(i, n int, mode gles.Enum) int {
	if mode == gles.Repeat {
		i %= n
		if i < 0 {
			i += n
		}
		return i
	}
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

func blendInto(dst []byte, src [4]byte, sf, df gles.Enum) {
	sa := float64(src[3]) / 255
	da := float64(dst[3]) / 255
	sFac, dFac := blendFactor(sf, sa, da), blendFactor(df, sa, da)
	for ch := 0; ch < 4; ch++ {
		v := float64(src[ch])/255*sFac + float64(dst[ch])/255*dFac
		dst[ch] = unitToByte(v)
	}
}

func blendFactor(f gles.Enum, srcAlpha, dstAlpha float64) float64 {
	switch f {
	case gles.Zero:
		return 0
	case gles.SrcAlpha:
		return srcAlpha
	case gles.OneMinusSrcAlpha:
		return 1 - srcAlpha
	default:
		return 1
	}
}

func unitToByte(v float64) byte {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return byte(math.Round(v * 255))
}
