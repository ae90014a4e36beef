package media

// Video and audio MIME types understood by the encoders and the muxer.
const (
	MimeAVC = "video/avc"
	MimeAAC = "audio/mp4a-latm"
)

// Format describes a track as presented to the muxer when its encoder emits
// codec configuration.
type Format struct {
	Kind TrackKind
	Mime string

	// Video
	Width  int
	Height int
	SPS    []byte
	PPS    []byte

	// Audio
	SampleRate  int
	Channels    int
	AudioConfig []byte
}
