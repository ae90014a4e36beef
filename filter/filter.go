// Package filter defines the user-pluggable stages of the pipeline: video
// filters that draw between the sampling and output framebuffers on the
// render thread, and audio filters that rewrite PCM slices before encoding.
package filter

import (
	"errors"

	"github.com/zsiec/camcorder/direction"
	"github.com/zsiec/camcorder/gles"
)

var (
	// ErrAlreadyInitialized is returned by a second Init.
	ErrAlreadyInitialized = errors.New("filter: already initialized")

	// ErrNotInitialized is returned by Draw before Init.
	ErrNotInitialized = errors.New("filter: not initialized")
)

// VideoFilter draws the sampled camera frame into the output framebuffer.
// Every method is called on the render thread with a current context whose
// share group holds the input texture.
type VideoFilter interface {
	// Init is called once, before the first Draw, with the video size.
	Init(gl gles.GL, width, height int) error
	UpdatePreviewSize(width, height int)
	UpdateSquareFlag(square bool)
	UpdateCropRatio(crop float32)
	UpdateDirection(f direction.Flag)
	// Draw renders input (a 2D texture) into outputFBO using the given
	// quad positions and texture coordinates.
	Draw(gl gles.GL, input, outputFBO uint32, position, texCoords []float32) error
	// Destroy releases every GL object the filter created.
	Destroy(gl gles.GL)
}

// AudioFilter rewrites one PCM slice (16-bit little-endian) before it is
// submitted to the encoder.
type AudioFilter interface {
	// Init is called with the slice size in bytes before the first Filter.
	Init(size int) error
	// Filter returns true if target holds the samples to encode, false
	// to encode origin.
	Filter(origin, target []byte, presentationMs, seq int64) bool
	Destroy()
}

// drawQuad issues the standard two-triangle draw with prog.
func drawQuad(gl gles.GL, prog programLocations, target gles.Enum, tex uint32, position, texCoords []float32) {
	gl.UseProgram(prog.id)
	gl.EnableVertexAttribArray(prog.position)
	gl.VertexAttribPointer(prog.position, 2, position)
	gl.EnableVertexAttribArray(prog.texCoord)
	gl.VertexAttribPointer(prog.texCoord, 2, texCoords)
	gl.ActiveTexture(gles.Texture0)
	gl.BindTexture(target, tex)
	gl.Uniform1i(prog.texture, 0)
	gl.DrawElements(gles.Triangles, direction.DrawIndices[:])
	gl.DisableVertexAttribArray(prog.position)
	gl.DisableVertexAttribArray(prog.texCoord)
	gl.BindTexture(target, 0)
	gl.UseProgram(0)
}

type programLocations struct {
	id       uint32
	position int32
	texCoord int32
	texture  int32
}

func newProgram(gl gles.GL, vs, fs string) (programLocations, error) {
	id, err := gl.CreateProgram(vs, fs)
	if err != nil {
		return programLocations{}, err
	}
	return programLocations{
		id:       id,
		position: gl.GetAttribLocation(id, gles.AttribPosition),
		texCoord: gl.GetAttribLocation(id, gles.AttribTextureCoord),
		texture:  gl.GetUniformLocation(id, gles.UniformTexture),
	}, nil
}
