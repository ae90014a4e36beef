package recorder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zsiec/camcorder/mux"
)

// recordingName returns the generated file name of a recording.
func recordingName(now time.Time, session uuid.UUID) string {
	return fmt.Sprintf("recording_%s_%s.mp4", now.Format("20060102_150405"), session.String()[:8])
}

// outputPath resolves the save path of a recording: a path ending in .mp4
// is used as is, anything else is a directory.
func outputPath(savePath string, now time.Time, session uuid.UUID) (string, error) {
	if strings.EqualFold(filepath.Ext(savePath), ".mp4") {
		if err := os.MkdirAll(filepath.Dir(savePath), 0o755); err != nil {
			return "", fmt.Errorf("%w: %v", ErrMuxerIO, err)
		}
		return savePath, nil
	}
	if err := os.MkdirAll(savePath, 0o755); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMuxerIO, err)
	}
	return filepath.Join(savePath, recordingName(now, session)), nil
}

// openMuxer creates the muxer of one recording. Without saving, encoded
// samples go through the same gate into a discarding writer.
func (r *Recorder) openMuxer(session uuid.UUID) (*mux.Muxer, string, error) {
	log := r.log.With("session", session.String())
	if !r.rc.SaveEnabled {
		return mux.New(mux.Discard, log), "", nil
	}
	path, err := outputPath(r.rc.SavePath, time.Now(), session)
	if err != nil {
		return nil, "", err
	}
	m, err := mux.Create(path, log)
	if err != nil {
		return nil, "", err
	}
	return m, path, nil
}

// StartRecording opens the output file and starts both encoders. The file
// header is written once both tracks have presented their codec
// configuration.
func (r *Recorder) StartRecording() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.usable(); err != nil {
		return err
	}
	if r.recording {
		return ErrRecording
	}

	session := uuid.New()
	m, path, err := r.openMuxer(session)
	if err != nil {
		return err
	}
	if err := m.SetTrackCount(2); err != nil {
		m.Stop()
		return err
	}
	src, err := r.openMic(r.mc.AudioSampleRate, r.mc.AudioChannels)
	if err != nil {
		m.Stop()
		return fmt.Errorf("recorder: open microphone: %w", err)
	}

	startedCamera := false
	if !r.previewing {
		if err := r.startCamera(); err != nil {
			src.Close()
			m.Stop()
			return err
		}
		startedCamera = true
	}
	if err := r.video.StartRecording(m); err != nil {
		if startedCamera {
			r.stopCamera()
		}
		src.Close()
		m.Stop()
		return classify(err)
	}
	if err := r.audio.Start(src, m); err != nil {
		// The video drain may wait on the gate for the missing audio track.
		m.Stop()
		if verr := r.video.StopRecording(); verr != nil {
			r.log.Debug("stop video after audio failure", "error", verr)
		}
		if startedCamera {
			r.stopCamera()
		}
		src.Close()
		return classify(err)
	}

	r.session, r.path, r.muxer, r.mic = session.String(), path, m, src
	r.recording = true
	r.metrics.SetRecording(true)
	r.log.Info("recording started", "session", r.session, "path", path, "tracks", 2)
	return nil
}

// StopRecording ends both encoders, waits for their drains and closes the
// output file.
func (r *Recorder) StopRecording() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case r.destroyed:
		return ErrDestroyed
	case !r.prepared:
		return ErrNotPrepared
	case !r.recording:
		return ErrNotRecording
	}
	return r.stopRecordingLocked()
}

func (r *Recorder) stopRecordingLocked() error {
	m := r.muxer
	r.recording = false
	r.metrics.SetRecording(false)

	// A drain blocked on a gate that never opened cannot see end of
	// stream, so an unstarted muxer is stopped first.
	if !m.Started() {
		m.Stop()
	}
	// Closing the microphone unblocks the capture read.
	if err := r.mic.Close(); err != nil {
		r.log.Debug("close microphone", "error", err)
	}
	verr := r.video.StopRecording()
	aerr := r.audio.Stop()
	merr := m.Stop()
	if !r.previewing {
		r.stopCamera()
	}

	st := m.Stats()
	r.log.Info("recording stopped",
		"session", r.session,
		"path", r.path,
		"started", st.Started,
		"tracks", st.Added)
	r.lastMuxer, r.muxer, r.mic = m, nil, nil
	return classify(errors.Join(verr, aerr, merr))
}
