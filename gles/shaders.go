package gles

// Attribute and uniform names shared by all pipeline programs.
const (
	AttribPosition       = "aPosition"
	AttribTextureCoord   = "aTextureCoord"
	UniformTexture       = "uTexture"
	UniformTextureMatrix = "uTextureMatrix"
)

// VertexShader2D passes texture coordinates through unchanged.
const VertexShader2D = `attribute vec4 aPosition;
attribute vec2 aTextureCoord;
varying vec2 vTextureCoord;
void main() {
    gl_Position = aPosition;
    vTextureCoord = aTextureCoord;
}
`

// VertexShaderMatrix applies the camera transform matrix to the texture
// coordinates.
const VertexShaderMatrix = `attribute vec4 aPosition;
attribute vec2 aTextureCoord;
uniform mat4 uTextureMatrix;
varying vec2 vTextureCoord;
void main() {
    gl_Position = aPosition;
    vTextureCoord = (uTextureMatrix * vec4(aTextureCoord, 0.0, 1.0)).xy;
}
`

// FragmentShader2D samples an ordinary 2D texture.
const FragmentShader2D = `precision highp float;
varying highp vec2 vTextureCoord;
uniform sampler2D uTexture;
void main() {
    gl_FragColor = texture2D(uTexture, vTextureCoord);
}
`

// FragmentShaderExternal samples the camera's external-OES texture.
const FragmentShaderExternal = `#extension GL_OES_EGL_image_external : require
precision highp float;
varying highp vec2 vTextureCoord;
uniform samplerExternalOES uTexture;
void main() {
    gl_FragColor = texture2D(uTexture, vTextureCoord);
}
`
