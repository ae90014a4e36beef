package softgl

import (
	"errors"
	"sync"

	"github.com/zsiec/camcorder/gles"
)

// ErrWindowClosed is returned when buffers are queued to a closed window.
var ErrWindowClosed = errors.New("softgl: window closed")

// Window is an in-memory NativeWindow that keeps the buffers queued to it.
// It stands in for a preview view.
type Window struct {
	mu      sync.Mutex
	width   int
	height  int
	keep    int
	frames  []*gles.Buffer
	count   int
	fail    error
	closed  bool
	onQueue func(*gles.Buffer)
}

var _ gles.NativeWindow = (*Window)(nil)

// NewWindow returns a window of the given size that retains the last keep
// buffers. keep <= 0 retains only the latest one.
func NewWindow(width, height, keep int) *Window {
	if keep <= 0 {
		keep = 1
	}
	return &Window{width: width, height: height, keep: keep}
}

func (w *Window) Size() (int, int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.width, w.height
}

// SetSize resizes the window. The surface picks the new size up after its
// next swap.
func (w *Window) SetSize(width, height int) {
	w.mu.Lock()
	w.width, w.height = width, height
	w.mu.Unlock()
}

func (w *Window) QueueBuffer(b *gles.Buffer) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrWindowClosed
	}
	if w.fail != nil {
		err := w.fail
		w.mu.Unlock()
		return err
	}
	w.count++
	w.frames = append(w.frames, b)
	if len(w.frames) > w.keep {
		w.frames = w.frames[len(w.frames)-w.keep:]
	}
	fn := w.onQueue
	w.mu.Unlock()

	if fn != nil {
		fn(b)
	}
	return nil
}

// OnQueue registers fn to run after every accepted buffer.
func (w *Window) OnQueue(fn func(*gles.Buffer)) {
	w.mu.Lock()
	w.onQueue = fn
	w.mu.Unlock()
}

// FailWith makes subsequent QueueBuffer calls return err. A nil err clears
// the failure.
func (w *Window) FailWith(err error) {
	w.mu.Lock()
	w.fail = err
	w.mu.Unlock()
}

// Close rejects further buffers.
func (w *Window) Close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
}

// Count returns the number of buffers accepted.
func (w *Window) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Last returns the most recent buffer, or nil.
func (w *Window) Last() *gles.Buffer {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.frames) == 0 {
		return nil
	}
	return w.frames[len(w.frames)-1]
}

// Frames returns the retained buffers, oldest first.
func (w *Window) Frames() []*gles.Buffer {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]*gles.Buffer(nil), w.frames...)
}

// Timestamps returns the presentation times of the retained buffers.
func (w *Window) Timestamps() []int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]int64, len(w.frames))
	for i, f := range w.frames {
		out[i] = f.PresentationTime
	}
	return out
}
