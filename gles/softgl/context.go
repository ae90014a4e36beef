package softgl

import "github.com/zsiec/camcorder/gles"

const maxTextureUnits = 8

type texture struct {
	id        uint32
	target    gles.Enum
	width     int
	height    int
	pix       []byte // rows bottom to top
	minFilter gles.Enum
	magFilter gles.Enum
	wrapS     gles.Enum
	wrapT     gles.Enum
}

func newTexture(id uint32, target gles.Enum) *texture {
	t := &texture{
		id:        id,
		target:    target,
		minFilter: gles.Linear,
		magFilter: gles.Linear,
		wrapS:     gles.Repeat,
		wrapT:     gles.Repeat,
	}
	if target == gles.TextureExternalOES {
		t.wrapS, t.wrapT = gles.ClampToEdge, gles.ClampToEdge
	}
	return t
}

// shareGroup holds the objects visible to every context created against
// the same root: textures and programs.
type shareGroup struct {
	platform *Platform
	refs     int
	textures map[uint32]*texture
	programs map[uint32]*program
	nextTex  uint32
	nextProg uint32
}

func newShareGroup(p *Platform) *shareGroup {
	return &shareGroup{
		platform: p,
		textures: make(map[uint32]*texture),
		programs: make(map[uint32]*program),
	}
}

func (g *shareGroup) release() {
	g.refs--
	if g.refs <= 0 {
		g.textures = make(map[uint32]*texture)
		g.programs = make(map[uint32]*program)
	}
}

func (g *shareGroup) genTexture() uint32 {
	for {
		g.nextTex++
		id := g.nextTex
		if _, used := g.textures[id]; used {
			continue
		}
		if g.platform != nil && g.platform.isReserved(id) {
			continue
		}
		g.textures[id] = &texture{id: id}
		return id
	}
}

type framebuffer struct {
	id    uint32
	color uint32
}

type attribArray struct {
	enabled bool
	size    int
	data    []float32
}

// context is per-context state. Framebuffer objects live here and are
// never visible to other contexts, even within a share group.
type context struct {
	id    gles.Context
	cfg   configInfo
	group *shareGroup

	fbos    map[uint32]*framebuffer
	nextFBO uint32

	boundFBO   uint32
	program    uint32
	activeUnit int
	units      [maxTextureUnits]map[gles.Enum]uint32
	attribs    map[int32]*attribArray

	viewport   [4]int
	clearColor [4]float32
	blend      bool
	blendSrc   gles.Enum
	blendDst   gles.Enum

	err gles.Enum
}

func newContext(id gles.Context, cfg configInfo, group *shareGroup) *context {
	c := &context{
		id:       id,
		cfg:      cfg,
		group:    group,
		fbos:     make(map[uint32]*framebuffer),
		attribs:  make(map[int32]*attribArray),
		blendSrc: gles.One,
		blendDst: gles.Zero,
	}
	for i := range c.units {
		c.units[i] = make(map[gles.Enum]uint32)
	}
	return c
}

func (c *context) setError(e gles.Enum) {
	if c.err == gles.NoError {
		c.err = e
	}
}

func (c *context) boundTexture(target gles.Enum) *texture {
	id := c.units[c.activeUnit][target]
	if id == 0 {
		return nil
	}
	return c.group.textures[id]
}

func (c *context) attrib(loc int32) *attribArray {
	a, ok := c.attribs[loc]
	if !ok {
		a = &attribArray{}
		c.attribs[loc] = a
	}
	return a
}
