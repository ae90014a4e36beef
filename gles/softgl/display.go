// Package softgl is a pure-Go implementation of the gles contract. It keeps
// the semantics the pipeline depends on (share groups, per-context
// framebuffer objects, a single current context per display, window
// surfaces that hand buffers to a consumer with presentation timestamps)
// and rasterizes textured quads on the CPU.
//
// It exists so the render graph runs headless: in tests, in the demo
// command and on hosts without a GPU.
package softgl

import (
	"fmt"
	"sync"
	"time"

	"github.com/zsiec/camcorder/gles"
)

// Platform owns the default display and the set of texture names reserved
// for surface textures.
type Platform struct {
	mu   sync.Mutex
	disp *display

	resMu    sync.Mutex
	reserved map[uint32]bool
}

// New returns a Platform with no open display.
func New() *Platform {
	return &Platform{reserved: make(map[uint32]bool)}
}

// OpenDisplay returns a connection to the default display, initializing it
// if no other connection is open.
func (p *Platform) OpenDisplay() (gles.EGL, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disp == nil {
		p.disp = newDisplay(p)
	}
	p.disp.mu.Lock()
	p.disp.refs++
	p.disp.mu.Unlock()
	return &Conn{d: p.disp}, nil
}

// NewSurfaceTexture creates a surface texture streaming into textureID.
func (p *Platform) NewSurfaceTexture(textureID uint32) (gles.SurfaceTexture, error) {
	if textureID == 0 {
		return nil, fmt.Errorf("%w: texture name 0", gles.ErrBadAlloc)
	}
	p.resMu.Lock()
	p.reserved[textureID] = true
	p.resMu.Unlock()
	return newSurfaceTexture(p, textureID), nil
}

func (p *Platform) isReserved(id uint32) bool {
	p.resMu.Lock()
	defer p.resMu.Unlock()
	return p.reserved[id]
}

func (p *Platform) currentDisplay() *display {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.disp
}

func (p *Platform) dropDisplay(d *display) {
	p.mu.Lock()
	if p.disp == d {
		p.disp = nil
	}
	p.mu.Unlock()
}

type configInfo struct {
	surfaceType int
	recordable  bool
}

// Every config is RGBA8888, ES2, no depth and no stencil.
var configs = []configInfo{
	{surfaceType: gles.SurfacePbuffer | gles.SurfaceWindow},
	{surfaceType: gles.SurfacePbuffer | gles.SurfaceWindow, recordable: true},
}

type display struct {
	mu       sync.Mutex
	platform *Platform
	refs     int
	start    time.Time

	contexts map[gles.Context]*context
	surfaces map[gles.Surface]*surface
	next     uint32

	cur     *context
	curSurf *surface
}

func newDisplay(p *Platform) *display {
	return &display{
		platform: p,
		start:    time.Now(),
		contexts: make(map[gles.Context]*context),
		surfaces: make(map[gles.Surface]*surface),
	}
}

func (d *display) handle() uint32 {
	d.next++
	return d.next
}

type surfaceKind int

const (
	kindPbuffer surfaceKind = iota
	kindWindow
)

type surface struct {
	id     gles.Surface
	cfg    configInfo
	kind   surfaceKind
	width  int
	height int
	pix    []byte // rows bottom to top
	win    gles.NativeWindow

	pts    int64
	hasPTS bool
}

// Conn is one connection to the default display.
type Conn struct {
	d          *display
	terminated bool
}

var _ gles.EGL = (*Conn)(nil)

func (c *Conn) lock() (*display, error) {
	c.d.mu.Lock()
	if c.terminated || c.d.refs == 0 {
		c.d.mu.Unlock()
		return nil, gles.ErrNotInitialized
	}
	return c.d, nil
}

// ChooseConfig returns the first config satisfying attrs.
func (c *Conn) ChooseConfig(attrs gles.ConfigAttribs) (gles.Config, error) {
	d, err := c.lock()
	if err != nil {
		return 0, err
	}
	defer d.mu.Unlock()

	if attrs.RedSize > 8 || attrs.GreenSize > 8 || attrs.BlueSize > 8 || attrs.AlphaSize > 8 {
		return 0, fmt.Errorf("%w: color depth above 8 bits", gles.ErrBadConfig)
	}
	if attrs.DepthSize != 0 || attrs.StencilSize != 0 {
		return 0, fmt.Errorf("%w: depth and stencil buffers are not supported", gles.ErrBadConfig)
	}
	if attrs.Renderable&gles.RenderableES2 == 0 {
		return 0, fmt.Errorf("%w: only ES2 rendering is supported", gles.ErrBadConfig)
	}
	for i, ci := range configs {
		if ci.surfaceType&attrs.SurfaceType != attrs.SurfaceType {
			continue
		}
		if attrs.Recordable && !ci.recordable {
			continue
		}
		return gles.Config(i + 1), nil
	}
	return 0, gles.ErrBadConfig
}

func lookupConfig(cfg gles.Config) (configInfo, error) {
	if cfg == 0 || int(cfg) > len(configs) {
		return configInfo{}, gles.ErrBadConfig
	}
	return configs[cfg-1], nil
}

// CreateContext creates a context, joining the share group of share when
// it is not NoContext.
func (c *Conn) CreateContext(cfg gles.Config, share gles.Context) (gles.Context, error) {
	d, err := c.lock()
	if err != nil {
		return 0, err
	}
	defer d.mu.Unlock()

	ci, err := lookupConfig(cfg)
	if err != nil {
		return 0, err
	}
	var group *shareGroup
	if share != gles.NoContext {
		sc, ok := d.contexts[share]
		if !ok {
			return 0, gles.ErrBadContext
		}
		group = sc.group
	} else {
		group = newShareGroup(d.platform)
	}
	group.refs++
	ctx := newContext(gles.Context(d.handle()), ci, group)
	d.contexts[ctx.id] = ctx
	return ctx.id, nil
}

// CreatePbufferSurface creates an off-screen surface.
func (c *Conn) CreatePbufferSurface(cfg gles.Config, width, height int) (gles.Surface, error) {
	d, err := c.lock()
	if err != nil {
		return 0, err
	}
	defer d.mu.Unlock()

	ci, err := lookupConfig(cfg)
	if err != nil {
		return 0, err
	}
	if ci.surfaceType&gles.SurfacePbuffer == 0 {
		return 0, gles.ErrBadMatch
	}
	if width <= 0 || height <= 0 {
		return 0, fmt.Errorf("%w: pbuffer %dx%d", gles.ErrBadMatch, width, height)
	}
	s := &surface{
		id:     gles.Surface(d.handle()),
		cfg:    ci,
		kind:   kindPbuffer,
		width:  width,
		height: height,
		pix:    make([]byte, width*height*4),
	}
	d.surfaces[s.id] = s
	return s.id, nil
}

// CreateWindowSurface wraps win. Windows that require a recordable config
// reject other configs with ErrBadMatch.
func (c *Conn) CreateWindowSurface(cfg gles.Config, win gles.NativeWindow) (gles.Surface, error) {
	if win == nil {
		return 0, fmt.Errorf("%w: nil native window", gles.ErrBadSurface)
	}
	d, err := c.lock()
	if err != nil {
		return 0, err
	}
	defer d.mu.Unlock()

	ci, err := lookupConfig(cfg)
	if err != nil {
		return 0, err
	}
	if ci.surfaceType&gles.SurfaceWindow == 0 {
		return 0, gles.ErrBadMatch
	}
	if rw, ok := win.(gles.RecordableWindow); ok && rw.RequiresRecordable() && !ci.recordable {
		return 0, fmt.Errorf("%w: window requires a recordable config", gles.ErrBadMatch)
	}
	for _, s := range d.surfaces {
		if s.win == win {
			return 0, fmt.Errorf("%w: window already has a surface", gles.ErrBadAlloc)
		}
	}
	w, h := win.Size()
	if w <= 0 || h <= 0 {
		return 0, fmt.Errorf("%w: window size %dx%d", gles.ErrBadSurface, w, h)
	}
	s := &surface{
		id:     gles.Surface(d.handle()),
		cfg:    ci,
		kind:   kindWindow,
		width:  w,
		height: h,
		pix:    make([]byte, w*h*4),
		win:    win,
	}
	d.surfaces[s.id] = s
	return s.id, nil
}

// MakeCurrent binds s and ctx to the display, replacing the previous
// binding.
func (c *Conn) MakeCurrent(s gles.Surface, ctx gles.Context) error {
	d, err := c.lock()
	if err != nil {
		return err
	}
	defer d.mu.Unlock()

	cc, ok := d.contexts[ctx]
	if !ok {
		return gles.ErrBadContext
	}
	ss, ok := d.surfaces[s]
	if !ok {
		return gles.ErrBadSurface
	}
	d.cur, d.curSurf = cc, ss
	return nil
}

// ReleaseCurrent unbinds the current context.
func (c *Conn) ReleaseCurrent() error {
	d, err := c.lock()
	if err != nil {
		return err
	}
	d.cur, d.curSurf = nil, nil
	d.mu.Unlock()
	return nil
}

// SwapBuffers posts the color buffer of a window surface to its native
// window. Swapping a pbuffer is a no-op.
func (c *Conn) SwapBuffers(s gles.Surface) error {
	d, err := c.lock()
	if err != nil {
		return err
	}
	ss, ok := d.surfaces[s]
	if !ok {
		d.mu.Unlock()
		return gles.ErrBadSurface
	}
	if ss.kind != kindWindow {
		d.mu.Unlock()
		return nil
	}

	buf := &gles.Buffer{
		Width:  ss.width,
		Height: ss.height,
		Pix:    flipRows(ss.pix, ss.width, ss.height),
	}
	if ss.hasPTS {
		buf.PresentationTime = ss.pts
		ss.hasPTS = false
	} else {
		buf.PresentationTime = time.Since(d.start).Nanoseconds()
	}
	win := ss.win
	d.mu.Unlock()

	if err := win.QueueBuffer(buf); err != nil {
		return fmt.Errorf("%w: %v", gles.ErrBadSurface, err)
	}

	w, h := win.Size()
	d.mu.Lock()
	if (w != ss.width || h != ss.height) && w > 0 && h > 0 {
		ss.width, ss.height = w, h
		ss.pix = make([]byte, w*h*4)
	}
	d.mu.Unlock()
	return nil
}

// PresentationTime stamps the next buffer swapped on s.
func (c *Conn) PresentationTime(s gles.Surface, nanos int64) error {
	d, err := c.lock()
	if err != nil {
		return err
	}
	defer d.mu.Unlock()
	ss, ok := d.surfaces[s]
	if !ok {
		return gles.ErrBadSurface
	}
	ss.pts, ss.hasPTS = nanos, true
	return nil
}

// QuerySurfaceSize returns the current size of s.
func (c *Conn) QuerySurfaceSize(s gles.Surface) (int, int, error) {
	d, err := c.lock()
	if err != nil {
		return 0, 0, err
	}
	defer d.mu.Unlock()
	ss, ok := d.surfaces[s]
	if !ok {
		return 0, 0, gles.ErrBadSurface
	}
	return ss.width, ss.height, nil
}

// DestroySurface deletes s, unbinding it if current.
func (c *Conn) DestroySurface(s gles.Surface) error {
	d, err := c.lock()
	if err != nil {
		return err
	}
	defer d.mu.Unlock()
	ss, ok := d.surfaces[s]
	if !ok {
		return gles.ErrBadSurface
	}
	if d.curSurf == ss {
		d.cur, d.curSurf = nil, nil
	}
	delete(d.surfaces, s)
	return nil
}

// DestroyContext deletes ctx. Its framebuffers go with it; shared objects
// live until the last context of the group is destroyed.
func (c *Conn) DestroyContext(ctx gles.Context) error {
	d, err := c.lock()
	if err != nil {
		return err
	}
	defer d.mu.Unlock()
	cc, ok := d.contexts[ctx]
	if !ok {
		return gles.ErrBadContext
	}
	if d.cur == cc {
		d.cur, d.curSurf = nil, nil
	}
	cc.group.release()
	delete(d.contexts, ctx)
	return nil
}

// Terminate closes this connection. When the last connection closes, every
// context and surface of the display is released.
func (c *Conn) Terminate() error {
	c.d.mu.Lock()
	if c.terminated {
		c.d.mu.Unlock()
		return nil
	}
	c.terminated = true
	c.d.refs--
	last := c.d.refs == 0
	if last {
		for _, cc := range c.d.contexts {
			cc.group.release()
		}
		c.d.contexts = make(map[gles.Context]*context)
		c.d.surfaces = make(map[gles.Surface]*surface)
		c.d.cur, c.d.curSurf = nil, nil
	}
	c.d.mu.Unlock()
	if last {
		c.d.platform.dropDisplay(c.d)
	}
	return nil
}

// GL returns the command interface of the display's current context.
func (c *Conn) GL() gles.GL {
	return &glContext{d: c.d}
}

// CurrentContext returns the context bound on the display, for tests.
func (c *Conn) CurrentContext() gles.Context {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	if c.d.cur == nil {
		return gles.NoContext
	}
	return c.d.cur.id
}

func flipRows(pix []byte, w, h int) []byte {
	out := make([]byte, len(pix))
	stride := w * 4
	for y := 0; y < h; y++ {
		copy(out[(h-1-y)*stride:(h-y)*stride], pix[y*stride:(y+1)*stride])
	}
	return out
}
