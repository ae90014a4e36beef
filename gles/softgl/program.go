package softgl

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/zsiec/camcorder/gles"
)

// ErrCompile is returned by CreateProgram for shaders outside the
// textured-quad family the rasterizer executes.
var ErrCompile = errors.New("softgl: shader compile failed")

var (
	reAttribute  = regexp.MustCompile(`attribute\s+(?:\w+p\s+)?(vec[234])\s+(\w+)\s*;`)
	reUniform    = regexp.MustCompile(`uniform\s+(?:\w+p\s+)?(\w+)\s+(\w+)\s*;`)
	reVarying    = regexp.MustCompile(`varying\s+(?:\w+p\s+)?(vec[234])\s+(\w+)\s*;`)
	rePosition   = regexp.MustCompile(`gl_Position\s*=\s*(\w+)\s*;`)
	reMain       = regexp.MustCompile(`void\s+main\s*\(\s*\)`)
	reExternalOn = regexp.MustCompile(`#extension\s+GL_OES_EGL_image_external\s*:\s*require`)
	reFragColor  = regexp.MustCompile(`gl_FragColor\s*=\s*texture2D\(\s*(\w+)\s*,\s*(\w+)\s*\)`)
)

type uniformDecl struct {
	typ  string
	name string
}

// program is a linked textured-quad program. It positions vertices from a
// vec4 attribute, optionally transforms a vec2 texture coordinate by a mat4
// uniform, and samples one texture.
type program struct {
	id       uint32
	attribs  []string
	uniforms []uniformDecl

	posAttrib int32
	texAttrib int32

	matrixUniform  int32
	samplerUniform int32
	samplerTarget  gles.Enum

	samplerUnit int32
	matrix      [16]float32
}

func compileProgram(id uint32, vs, fs string) (*program, error) {
	if !reMain.MatchString(vs) {
		return nil, fmt.Errorf("%w: vertex shader has no main", ErrCompile)
	}
	if !reMain.MatchString(fs) {
		return nil, fmt.Errorf("%w: fragment shader has no main", ErrCompile)
	}

	p := &program{id: id, posAttrib: -1, texAttrib: -1, matrixUniform: -1, samplerUniform: -1}

	posName := ""
	if m := rePosition.FindStringSubmatch(vs); m != nil {
		posName = m[1]
	}
	for _, m := range reAttribute.FindAllStringSubmatch(vs, -1) {
		loc := int32(len(p.attribs))
		p.attribs = append(p.attribs, m[2])
		switch {
		case m[2] == posName:
			p.posAttrib = loc
		case m[1] == "vec2" && p.texAttrib < 0:
			p.texAttrib = loc
		}
	}
	if p.posAttrib < 0 {
		return nil, fmt.Errorf("%w: gl_Position is not assigned from an attribute", ErrCompile)
	}
	if p.texAttrib < 0 {
		return nil, fmt.Errorf("%w: no vec2 texture coordinate attribute", ErrCompile)
	}

	vsVaryings := varyings(vs)
	fsVaryings := varyings(fs)
	for name := range fsVaryings {
		if !vsVaryings[name] {
			return nil, fmt.Errorf("%w: varying %s not written by vertex shader", ErrCompile, name)
		}
	}

	seen := make(map[string]bool)
	for _, src := range []string{vs, fs} {
		for _, m := range reUniform.FindAllStringSubmatch(src, -1) {
			if seen[m[2]] {
				continue
			}
			seen[m[2]] = true
			loc := int32(len(p.uniforms))
			p.uniforms = append(p.uniforms, uniformDecl{typ: m[1], name: m[2]})
			switch m[1] {
			case "mat4":
				if p.matrixUniform < 0 {
					p.matrixUniform = loc
				}
			case "sampler2D":
				p.samplerUniform, p.samplerTarget = loc, gles.Texture2D
			case "samplerExternalOES":
				if !reExternalOn.MatchString(fs) {
					return nil, fmt.Errorf("%w: samplerExternalOES requires GL_OES_EGL_image_external", ErrCompile)
				}
				p.samplerUniform, p.samplerTarget = loc, gles.TextureExternalOES
			}
		}
	}
	if p.samplerUniform < 0 {
		return nil, fmt.Errorf("%w: fragment shader samples no texture", ErrCompile)
	}
	if m := reFragColor.FindStringSubmatch(fs); m == nil || m[1] != p.uniforms[p.samplerUniform].name {
		return nil, fmt.Errorf("%w: gl_FragColor must sample %s", ErrCompile, p.uniforms[p.samplerUniform].name)
	}
	return p, nil
}

func varyings(src string) map[string]bool {
	out := make(map[string]bool)
	for _, m := range reVarying.FindAllStringSubmatch(src, -1) {
		out[m[2]] = true
	}
	return out
}

func (p *program) attribLocation(name string) int32 {
	for i, a := range p.attribs {
		if a == name {
			return int32(i)
		}
	}
	return -1
}

func (p *program) uniformLocation(name string) int32 {
	name = strings.TrimSpace(name)
	for i, u := range p.uniforms {
		if u.name == name {
			return int32(i)
		}
	}
	return -1
}
