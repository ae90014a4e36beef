// Package mux gates encoded audio and video samples into a single MPEG-4
// file. Writers block until every expected track has presented its format,
// then append in arrival order under one lock.
package mux

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/zsiec/camcorder/media"
)

var (
	// ErrStopped is returned by writes after Stop or after a write failure.
	ErrStopped = errors.New("mux: muxer stopped")

	// ErrStarted is returned by AddTrack once every expected track is
	// present.
	ErrStarted = errors.New("mux: muxer already started")

	// ErrTrack is returned for writes to a track that was never added.
	ErrTrack = errors.New("mux: unknown track")

	// ErrIO wraps container write failures.
	ErrIO = errors.New("mux: container write failed")
)

// ContainerWriter serializes tracks into a container.
type ContainerWriter interface {
	WriteInit(formats []media.Format) error
	WriteSample(track int, p *media.Packet) error
	Close() error
}

// Discard is a ContainerWriter that drops everything, for sessions that
// encode without saving.
var Discard ContainerWriter = discard{}

type discard struct{}

func (discard) WriteInit([]media.Format) error       { return nil }
func (discard) WriteSample(int, *media.Packet) error { return nil }
func (discard) Close() error                         { return nil }

// TrackStats counts what was appended to one track.
type TrackStats struct {
	Kind    string `json:"kind"`
	Samples int64  `json:"samples"`
	Bytes   int64  `json:"bytes"`
	LastPTS int64  `json:"last_pts_us"`
}

// Stats is a point-in-time view of the muxer.
type Stats struct {
	Expected int          `json:"expected_tracks"`
	Added    int          `json:"added_tracks"`
	Started  bool         `json:"started"`
	Stopped  bool         `json:"stopped"`
	Waiting  int          `json:"waiting_writers"`
	Tracks   []TrackStats `json:"tracks"`
	Error    string       `json:"error,omitempty"`
}

// Muxer is the two-track gate in front of a ContainerWriter.
type Muxer struct {
	log *slog.Logger
	w   ContainerWriter

	mu       sync.Mutex
	cond     *sync.Cond
	expected int
	formats  []media.Format
	stats    []TrackStats
	started  bool
	stopped  bool
	err      error

	nextTicket uint64
	serving    uint64
	waiting    int
	startedAt  time.Time
}

// New returns a muxer writing through w. The expected track count defaults
// to two.
func New(w ContainerWriter, log *slog.Logger) *Muxer {
	if log == nil {
		log = slog.Default()
	}
	m := &Muxer{log: log.With("component", "muxer"), w: w, expected: 2}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Create opens path and returns a muxer writing fragmented MPEG-4 to it.
func Create(path string, log *slog.Logger) (*Muxer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	m := New(NewFMP4Writer(f), log)
	m.log = m.log.With("path", path)
	return m, nil
}

// SetTrackCount declares how many tracks must be added before samples flow.
func (m *Muxer) SetTrackCount(n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started || m.stopped {
		return ErrStarted
	}
	if n < 1 || n < len(m.formats) {
		return fmt.Errorf("mux: invalid track count %d", n)
	}
	m.expected = n
	return nil
}

// AddTrack records f and returns its track id. Adding the last expected
// track writes the container header and releases blocked writers.
func (m *Muxer) AddTrack(f media.Format) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return -1, ErrStopped
	}
	if m.started {
		return -1, ErrStarted
	}
	id := len(m.formats)
	m.formats = append(m.formats, f)
	m.stats = append(m.stats, TrackStats{Kind: f.Kind.String()})
	m.log.Info("track added", "track", id, "kind", f.Kind, "mime", f.Mime)

	if len(m.formats) == m.expected {
		if err := m.w.WriteInit(m.formats); err != nil {
			m.failLocked(fmt.Errorf("%w: %v", ErrIO, err))
			return -1, m.err
		}
		m.started = true
		m.startedAt = time.Now()
		m.log.Info("muxer started", "tracks", m.expected)
		m.cond.Broadcast()
	}
	return id, nil
}

// WriteSample appends p to track. It blocks until the muxer starts; calls
// blocked together proceed in the order they arrived.
func (m *Muxer) WriteSample(track int, p *media.Packet) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ticket := m.nextTicket
	m.nextTicket++
	m.waiting++
	for !m.stopped && !(m.started && m.serving == ticket) {
		m.cond.Wait()
	}
	m.waiting--
	if m.stopped {
		return ErrStopped
	}
	defer func() {
		m.serving++
		m.cond.Broadcast()
	}()

	if track < 0 || track >= len(m.formats) {
		return fmt.Errorf("%w: %d", ErrTrack, track)
	}
	if err := m.w.WriteSample(track, p); err != nil {
		m.failLocked(fmt.Errorf("%w: %v", ErrIO, err))
		return m.err
	}
	st := &m.stats[track]
	st.Samples++
	st.Bytes += int64(len(p.Data))
	st.LastPTS = p.PTS
	return nil
}

func (m *Muxer) failLocked(err error) {
	m.err = err
	m.stopped = true
	m.log.Error("muxer failed", "error", err)
	m.cond.Broadcast()
	if cerr := m.w.Close(); cerr != nil {
		m.log.Debug("close after failure", "error", cerr)
	}
}

// Stop flushes and closes the container. It is safe to call repeatedly;
// only the first call reports a close error.
func (m *Muxer) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return nil
	}
	m.stopped = true
	m.cond.Broadcast()
	if err := m.w.Close(); err != nil {
		m.err = fmt.Errorf("%w: %v", ErrIO, err)
		return m.err
	}
	if m.started {
		m.log.Info("muxer stopped", "duration", time.Since(m.startedAt).Round(time.Millisecond))
	} else {
		m.log.Info("muxer stopped before start", "added", len(m.formats))
	}
	return nil
}

// Started reports whether all expected tracks have been added.
func (m *Muxer) Started() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}

// Err returns the failure that stopped the muxer, if any.
func (m *Muxer) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Stats returns a snapshot of the muxer state.
func (m *Muxer) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Stats{
		Expected: m.expected,
		Added:    len(m.formats),
		Started:  m.started,
		Stopped:  m.stopped,
		Waiting:  m.waiting,
		Tracks:   append([]TrackStats(nil), m.stats...),
	}
	if m.err != nil {
		s.Error = m.err.Error()
	}
	return s
}
