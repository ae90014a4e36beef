package synthetic

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/zsiec/camcorder/codec"
	"github.com/zsiec/camcorder/media"
)

// Factory creates synthetic encoders and remembers them so callers can
// inspect what was encoded.
type Factory struct {
	Log *slog.Logger

	mu    sync.Mutex
	video []*VideoEncoder
	audio []*AudioEncoder
}

// Video implements codec.VideoEncoderFactory.
func (f *Factory) Video(mime string) (codec.VideoEncoder, error) {
	if mime != media.MimeAVC {
		return nil, fmt.Errorf("%w: mime %q", codec.ErrUnsupported, mime)
	}
	e := NewVideoEncoder(f.Log)
	f.mu.Lock()
	f.video = append(f.video, e)
	f.mu.Unlock()
	return e, nil
}

// Audio implements codec.AudioEncoderFactory.
func (f *Factory) Audio(mime string) (codec.AudioEncoder, error) {
	if mime != media.MimeAAC {
		return nil, fmt.Errorf("%w: mime %q", codec.ErrUnsupported, mime)
	}
	e := NewAudioEncoder(f.Log)
	f.mu.Lock()
	f.audio = append(f.audio, e)
	f.mu.Unlock()
	return e, nil
}

// VideoEncoders returns every video encoder created, oldest first.
func (f *Factory) VideoEncoders() []*VideoEncoder {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*VideoEncoder(nil), f.video...)
}

// AudioEncoders returns every audio encoder created, oldest first.
func (f *Factory) AudioEncoders() []*AudioEncoder {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*AudioEncoder(nil), f.audio...)
}
