package mux

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bluenviron/mediacommon/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/pkg/codecs/mpeg4audio"

	"github.com/zsiec/camcorder/internal/avc"
	"github.com/zsiec/camcorder/media"
)

type recordingWriter struct {
	mu       sync.Mutex
	inits    int
	order    []int64
	failNext error
	closed   int
}

func (w *recordingWriter) WriteInit([]media.Format) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.inits++
	return nil
}

func (w *recordingWriter) WriteSample(_ int, p *media.Packet) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failNext != nil {
		return w.failNext
	}
	w.order = append(w.order, p.PTS)
	return nil
}

func (w *recordingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed++
	return nil
}

func videoFormat(t testing.TB, w, h int) media.Format {
	t.Helper()
	sps, err := avc.BuildSPS(w, h)
	if err != nil {
		t.Fatalf("BuildSPS: %v", err)
	}
	return media.Format{Kind: media.TrackVideo, Mime: media.MimeAVC, Width: w, Height: h, SPS: sps, PPS: avc.BuildPPS()}
}

func audioFormat(t testing.TB, rate int) media.Format {
	t.Helper()
	cfg := mpeg4audio.Config{Type: mpeg4audio.ObjectTypeAACLC, SampleRate: rate, ChannelCount: 1}
	asc, err := cfg.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	return media.Format{Kind: media.TrackAudio, Mime: media.MimeAAC, SampleRate: rate, Channels: 1, AudioConfig: asc}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met within 2s")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestWriteBlocksUntilStarted(t *testing.T) {
	t.Parallel()

	w := &recordingWriter{}
	m := New(w, nil)

	done := make(chan error, 1)
	go func() { done <- m.WriteSample(0, &media.Packet{Data: []byte{1}, PTS: 7}) }()

	waitFor(t, func() bool { return m.Stats().Waiting == 1 })
	select {
	case err := <-done:
		t.Fatalf("write returned before start: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	if _, err := m.AddTrack(videoFormat(t, 64, 64)); err != nil {
		t.Fatalf("AddTrack video: %v", err)
	}
	if m.Started() {
		t.Fatal("started with one of two tracks")
	}
	if _, err := m.AddTrack(audioFormat(t, 44100)); err != nil {
		t.Fatalf("AddTrack audio: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("WriteSample: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("write not released after start")
	}
	if w.inits != 1 {
		t.Errorf("WriteInit calls: got %d, want 1", w.inits)
	}
	if _, err := m.AddTrack(videoFormat(t, 64, 64)); !errors.Is(err, ErrStarted) {
		t.Errorf("third AddTrack: got %v, want ErrStarted", err)
	}
}

func TestBlockedWritersProceedInArrivalOrder(t *testing.T) {
	t.Parallel()

	w := &recordingWriter{}
	m := New(w, nil)

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(pts int64) {
			defer wg.Done()
			if err := m.WriteSample(int(pts%2), &media.Packet{Data: []byte{1}, PTS: pts}); err != nil {
				t.Errorf("WriteSample %d: %v", pts, err)
			}
		}(int64(i))
		want := i + 1
		waitFor(t, func() bool { return m.Stats().Waiting == want })
	}

	m.AddTrack(videoFormat(t, 64, 64))
	m.AddTrack(audioFormat(t, 48000))
	wg.Wait()

	if len(w.order) != n {
		t.Fatalf("wrote %d samples, want %d", len(w.order), n)
	}
	for i, pts := range w.order {
		if pts != int64(i) {
			t.Fatalf("order: got %v", w.order)
		}
	}
	st := m.Stats()
	if st.Tracks[0].Samples != n/2 || st.Tracks[1].Samples != n/2 {
		t.Errorf("per-track samples: %+v", st.Tracks)
	}
}

func TestStopReleasesWaitersAndIsIdempotent(t *testing.T) {
	t.Parallel()

	w := &recordingWriter{}
	m := New(w, nil)

	done := make(chan error, 1)
	go func() { done <- m.WriteSample(0, &media.Packet{Data: []byte{1}}) }()
	waitFor(t, func() bool { return m.Stats().Waiting == 1 })

	if err := m.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := <-done; !errors.Is(err, ErrStopped) {
		t.Errorf("blocked write: got %v, want ErrStopped", err)
	}
	if err := m.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
	if w.closed != 1 {
		t.Errorf("Close calls: got %d, want 1", w.closed)
	}
	if err := m.WriteSample(0, &media.Packet{}); !errors.Is(err, ErrStopped) {
		t.Errorf("write after stop: got %v", err)
	}
	if _, err := m.AddTrack(audioFormat(t, 44100)); !errors.Is(err, ErrStopped) {
		t.Errorf("AddTrack after stop: got %v", err)
	}
}

func TestWriteFailureStopsMuxer(t *testing.T) {
	t.Parallel()

	w := &recordingWriter{failNext: errors.New("disk full")}
	m := New(w, nil)
	m.AddTrack(videoFormat(t, 64, 64))
	m.AddTrack(audioFormat(t, 44100))

	if err := m.WriteSample(0, &media.Packet{Data: []byte{1}}); !errors.Is(err, ErrIO) {
		t.Fatalf("got %v, want ErrIO", err)
	}
	if err := m.WriteSample(1, &media.Packet{Data: []byte{1}}); !errors.Is(err, ErrStopped) {
		t.Errorf("after failure: got %v, want ErrStopped", err)
	}
	if m.Err() == nil || m.Stats().Error == "" {
		t.Error("failure not recorded")
	}
}

func TestUnknownTrack(t *testing.T) {
	t.Parallel()

	m := New(&recordingWriter{}, nil)
	if err := m.SetTrackCount(1); err != nil {
		t.Fatalf("SetTrackCount: %v", err)
	}
	m.AddTrack(audioFormat(t, 44100))
	if err := m.WriteSample(3, &media.Packet{Data: []byte{1}}); !errors.Is(err, ErrTrack) {
		t.Errorf("got %v, want ErrTrack", err)
	}
	// The failed write must not stall the next one.
	if err := m.WriteSample(0, &media.Packet{Data: []byte{1}}); err != nil {
		t.Errorf("WriteSample: %v", err)
	}
}

type box struct {
	typ  string
	size int
}

func topLevelBoxes(t *testing.T, data []byte) []box {
	t.Helper()
	var out []box
	for off := 0; off < len(data); {
		if len(data)-off < 8 {
			t.Fatalf("trailing %d bytes at %d", len(data)-off, off)
		}
		size := int(binary.BigEndian.Uint32(data[off:]))
		if size < 8 || off+size > len(data) {
			t.Fatalf("bad box size %d at %d", size, off)
		}
		out = append(out, box{typ: string(data[off+4 : off+8]), size: size})
		off += size
	}
	return out
}

func writeRecording(t *testing.T, fw *FMP4Writer, seconds int) {
	t.Helper()
	if err := fw.WriteInit([]media.Format{videoFormat(t, 480, 480), audioFormat(t, 44100)}); err != nil {
		t.Fatalf("WriteInit: %v", err)
	}
	const fps = 20
	for i := 0; i < seconds*fps; i++ {
		header := byte(0x41)
		if i%fps == 0 {
			header = 0x65
		}
		pkt := &media.Packet{
			Data:  avc.JoinAnnexB([]byte{header, 0x88, 0x84, 0x80}),
			PTS:   5_000_000 + int64(i)*50_000,
			Flags: media.FlagKeyFrame,
		}
		if err := fw.WriteSample(0, pkt); err != nil {
			t.Fatalf("video sample %d: %v", i, err)
		}
		if i%2 == 0 {
			apkt := &media.Packet{Data: []byte{0x01, 0x40, 0x20, 0x07}, PTS: int64(i/2) * 23219}
			if err := fw.WriteSample(1, apkt); err != nil {
				t.Fatalf("audio sample %d: %v", i, err)
			}
		}
	}
}

func TestFMP4Layout(t *testing.T) {
	t.Parallel()

	var out seekBuffer
	fw := NewFMP4Writer(&out)
	writeRecording(t, fw, 3)
	if err := fw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	boxes := topLevelBoxes(t, out.Bytes())
	if len(boxes) < 4 || boxes[0].typ != "ftyp" || boxes[1].typ != "moov" {
		t.Fatalf("layout: %v", boxes)
	}
	moofs := 0
	for i := 2; i < len(boxes); i += 2 {
		if boxes[i].typ != "moof" || i+1 >= len(boxes) || boxes[i+1].typ != "mdat" {
			t.Fatalf("fragment %d: %v", i, boxes[i:])
		}
		moofs++
	}
	if moofs != fw.Fragments() {
		t.Errorf("fragments: counted %d, writer reports %d", moofs, fw.Fragments())
	}
	if moofs < 3 {
		t.Errorf("3 s of media in %d fragments, want at least 3", moofs)
	}
}

func TestFMP4RejectsMismatchedSPS(t *testing.T) {
	t.Parallel()

	f := videoFormat(t, 480, 480)
	f.Width = 640
	fw := NewFMP4Writer(&seekBuffer{})
	if err := fw.WriteInit([]media.Format{f}); err == nil {
		t.Error("expected error for SPS/format size mismatch")
	}
}

func TestFMP4KeepsChangedParameterSetsInBand(t *testing.T) {
	t.Parallel()

	f := videoFormat(t, 480, 480)
	resized, err := avc.BuildSPS(640, 480)
	if err != nil {
		t.Fatalf("BuildSPS: %v", err)
	}
	idr := []byte{0x65, 0x88, 0x84, 0x80}
	aud := []byte{0x09, 0xF0}

	tests := []struct {
		name  string
		units [][]byte
		want  int
	}{
		{"described sets stripped", [][]byte{aud, f.SPS, f.PPS, idr}, 1},
		{"changed SPS kept", [][]byte{resized, f.PPS, idr}, 2},
		{"slice only", [][]byte{idr}, 1},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fw := NewFMP4Writer(&seekBuffer{})
			if err := fw.WriteInit([]media.Format{f}); err != nil {
				t.Fatalf("WriteInit: %v", err)
			}
			pkt := &media.Packet{Data: avc.JoinAnnexB(tt.units...), Flags: media.FlagKeyFrame}
			if err := fw.WriteSample(0, pkt); err != nil {
				t.Fatalf("WriteSample: %v", err)
			}
			next := fw.tracks[0].next
			if next == nil || !next.sync {
				t.Fatalf("pending sample: %+v", next)
			}
			au, err := h264.AVCCUnmarshal(next.payload)
			if err != nil {
				t.Fatalf("AVCCUnmarshal: %v", err)
			}
			if len(au) != tt.want {
				t.Fatalf("NAL units: got %d, want %d", len(au), tt.want)
			}
			if tt.want == 2 && avc.NALType(au[0]) != avc.NALTypeSPS {
				t.Errorf("first unit type %d, want SPS", avc.NALType(au[0]))
			}
		})
	}
}

func TestCreateWritesFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.mp4")
	m, err := Create(path, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := m.AddTrack(videoFormat(t, 320, 240)); err != nil {
		t.Fatal(err)
	}
	if _, err := m.AddTrack(audioFormat(t, 44100)); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		pkt := &media.Packet{Data: avc.JoinAnnexB([]byte{0x65, 0x88}), PTS: int64(i) * 50_000, Flags: media.FlagKeyFrame}
		if err := m.WriteSample(0, pkt); err != nil {
			t.Fatalf("WriteSample: %v", err)
		}
	}
	if err := m.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	boxes := topLevelBoxes(t, data)
	if boxes[0].typ != "ftyp" || boxes[len(boxes)-1].typ != "mdat" {
		t.Errorf("layout: %v", boxes)
	}
}

func TestCreateBadPath(t *testing.T) {
	t.Parallel()

	if _, err := Create(filepath.Join(t.TempDir(), "missing", "out.mp4"), nil); !errors.Is(err, ErrIO) {
		t.Errorf("got %v, want ErrIO", err)
	}
}
