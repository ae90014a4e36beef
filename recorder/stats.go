package recorder

import (
	"github.com/zsiec/camcorder/internal/audiocore"
	"github.com/zsiec/camcorder/internal/videocore"
	"github.com/zsiec/camcorder/mux"
)

// Stats is a JSON-friendly snapshot of the whole pipeline.
type Stats struct {
	Session    string           `json:"session,omitempty"`
	Prepared   bool             `json:"prepared"`
	Previewing bool             `json:"previewing"`
	Recording  bool             `json:"recording"`
	Camera     int              `json:"camera"`
	Front      bool             `json:"front"`
	Path       string           `json:"path,omitempty"`
	Config     string           `json:"config,omitempty"`
	Video      *videocore.Stats `json:"video,omitempty"`
	Audio      *audiocore.Stats `json:"audio,omitempty"`
	Muxer      *mux.Stats       `json:"muxer,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// Stats returns the current pipeline state. The muxer section describes
// the current recording, or the last one when idle.
func (r *Recorder) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Stats{
		Session:    r.session,
		Prepared:   r.prepared,
		Previewing: r.previewing,
		Recording:  r.recording,
		Camera:     r.camIdx,
		Front:      r.front,
		Path:       r.path,
	}
	if r.mc != nil {
		s.Config = r.mc.String()
	}
	if r.video != nil {
		vs := r.video.Stats()
		s.Video = &vs
		if err := r.video.Err(); err != nil {
			s.Error = err.Error()
		}
	}
	if r.audio != nil {
		as := r.audio.Stats()
		s.Audio = &as
	}
	m := r.muxer
	if m == nil {
		m = r.lastMuxer
	}
	if m != nil {
		ms := m.Stats()
		s.Muxer = &ms
	}
	return s
}
