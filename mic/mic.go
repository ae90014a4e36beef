// Package mic defines the microphone contract consumed by the audio core
// and a synthetic tone source that paces itself like a capture device.
package mic

import (
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"time"
)

// ErrClosed is returned by Read after Close.
var ErrClosed = errors.New("mic: closed")

// Source is a blocking 16-bit little-endian PCM capture device.
type Source interface {
	// Read fills p with whole samples and blocks until they are captured.
	Read(p []byte) (int, error)
	SampleRate() int
	Channels() int
	Close() error
}

// Tone is a sine wave microphone. Reads block until the requested samples
// would have been captured in real time, unless the tone is unpaced.
type Tone struct {
	rate      int
	freq      float64
	amplitude float64
	paced     bool

	mu     sync.Mutex
	phase  float64
	read   int64
	start  time.Time
	closed bool
	done   chan struct{}
}

var _ Source = (*Tone)(nil)

// NewTone returns a mono tone at freq Hz with the given peak amplitude in
// [0, 1].
func NewTone(sampleRate int, freq, amplitude float64) *Tone {
	if amplitude < 0 {
		amplitude = 0
	}
	if amplitude > 1 {
		amplitude = 1
	}
	return &Tone{
		rate:      sampleRate,
		freq:      freq,
		amplitude: amplitude,
		paced:     true,
		done:      make(chan struct{}),
	}
}

// Unpaced makes Read return immediately.
func (t *Tone) Unpaced() *Tone {
	t.paced = false
	return t
}

func (t *Tone) SampleRate() int { return t.rate }

func (t *Tone) Channels() int { return 1 }

func (t *Tone) Read(p []byte) (int, error) {
	n := len(p) &^ 1
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return 0, ErrClosed
	}
	if t.start.IsZero() {
		t.start = time.Now()
	}
	step := 2 * math.Pi * t.freq / float64(t.rate)
	for i := 0; i < n; i += 2 {
		v := int16(math.Round(math.Sin(t.phase) * t.amplitude * math.MaxInt16))
		binary.LittleEndian.PutUint16(p[i:], uint16(v))
		t.phase += step
		if t.phase > 2*math.Pi {
			t.phase -= 2 * math.Pi
		}
	}
	t.read += int64(n / 2)
	due := t.start.Add(time.Duration(t.read * int64(time.Second) / int64(t.rate)))
	paced := t.paced
	t.mu.Unlock()

	if paced {
		timer := time.NewTimer(time.Until(due))
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-t.done:
			return 0, ErrClosed
		}
	}
	return n, nil
}

// Close unblocks pending reads.
func (t *Tone) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.done)
	}
	return nil
}
