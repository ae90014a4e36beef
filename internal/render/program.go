package render

import (
	"fmt"

	"github.com/zsiec/camcorder/direction"
	"github.com/zsiec/camcorder/gles"
)

// program holds a textured-quad program and its locations. matrix is -1 for
// programs without a texture matrix.
type program struct {
	id       uint32
	position int32
	texCoord int32
	texture  int32
	matrix   int32
}

func newProgram(gl gles.GL, vs, fs string) (program, error) {
	id, err := gl.CreateProgram(vs, fs)
	if err != nil {
		return program{}, fmt.Errorf("create program: %w", err)
	}
	return program{
		id:       id,
		position: gl.GetAttribLocation(id, gles.AttribPosition),
		texCoord: gl.GetAttribLocation(id, gles.AttribTextureCoord),
		texture:  gl.GetUniformLocation(id, gles.UniformTexture),
		matrix:   gl.GetUniformLocation(id, gles.UniformTextureMatrix),
	}, nil
}

// draw clears the bound framebuffer and draws direction.Quad sampling tex.
// It leaves no program active and tex unbound.
func (p program) draw(gl gles.GL, target gles.Enum, tex uint32, texCoords []float32, matrix *[16]float32) {
	gl.UseProgram(p.id)
	gl.ActiveTexture(gles.Texture0)
	gl.BindTexture(target, tex)
	gl.Uniform1i(p.texture, 0)
	gl.EnableVertexAttribArray(p.position)
	gl.VertexAttribPointer(p.position, 2, direction.Quad[:])
	gl.EnableVertexAttribArray(p.texCoord)
	gl.VertexAttribPointer(p.texCoord, 2, texCoords)
	if matrix != nil && p.matrix >= 0 {
		gl.UniformMatrix4fv(p.matrix, *matrix)
	}

	gl.ClearColor(0, 0, 0, 0)
	gl.Clear(gles.ColorBufferBit)
	gl.DrawElements(gles.Triangles, direction.DrawIndices[:])
	gl.Finish()

	gl.DisableVertexAttribArray(p.position)
	gl.DisableVertexAttribArray(p.texCoord)
	gl.BindTexture(target, 0)
	gl.UseProgram(0)
}

// newFramebuffer creates an FBO with a w×h RGBA color texture, linear
// filtered and clamped.
func newFramebuffer(gl gles.GL, w, h int) (fbo, tex uint32, err error) {
	fbo = gl.GenFramebuffer()
	tex = gl.GenTexture()
	gl.BindTexture(gles.Texture2D, tex)
	gl.TexImage2D(gles.Texture2D, w, h, nil)
	gl.TexParameteri(gles.Texture2D, gles.TextureMagFilter, gles.Linear)
	gl.TexParameteri(gles.Texture2D, gles.TextureMinFilter, gles.Linear)
	gl.TexParameteri(gles.Texture2D, gles.TextureWrapS, gles.ClampToEdge)
	gl.TexParameteri(gles.Texture2D, gles.TextureWrapT, gles.ClampToEdge)
	gl.BindFramebuffer(fbo)
	gl.FramebufferTexture2D(tex)
	status := gl.CheckFramebufferStatus()
	gl.BindTexture(gles.Texture2D, 0)
	gl.BindFramebuffer(0)
	if status != gles.FramebufferComplete {
		gl.DeleteFramebuffer(fbo)
		gl.DeleteTexture(tex)
		return 0, 0, fmt.Errorf("framebuffer %dx%d incomplete: status 0x%x", w, h, uint32(status))
	}
	return fbo, tex, nil
}
