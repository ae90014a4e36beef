package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/zsiec/camcorder/camera"
	"github.com/zsiec/camcorder/config"
	"github.com/zsiec/camcorder/direction"
	"github.com/zsiec/camcorder/internal/metrics"
	"github.com/zsiec/camcorder/recorder"
)

func testServer(t *testing.T) (*httptest.Server, *recorder.Recorder) {
	t.Helper()
	small := camera.SyntheticConfig{
		Facing:     camera.Back,
		Sizes:      []camera.Size{{Width: 160, Height: 120}},
		FPSRanges:  []camera.FPSRange{{Min: 30000, Max: 30000}},
		Formats:    []camera.Format{camera.FormatNV21},
		FlashModes: []camera.FlashMode{camera.FlashOff, camera.FlashTorch},
		MaxZoom:    10,
	}
	met := metrics.New()
	rec := recorder.New(nil,
		recorder.WithCameras(camera.NewSyntheticProvider(nil, small)),
		recorder.WithMetrics(met),
		recorder.WithDrainGrace(200*time.Millisecond))
	t.Cleanup(func() { rec.Destroy() })

	rc := config.Default()
	rc.Width, rc.Height = 160, 120
	rc.FrontDirection, rc.BackDirection = direction.Rotation0, direction.Rotation0
	rc.DefaultCamera = config.CameraBack
	rc.Square = false
	rc.SaveEnabled = false
	if err := rec.Prepare(rc); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	srv := httptest.NewServer(newRouter(slog.New(slog.NewTextHandler(io.Discard, nil)), rec, met))
	t.Cleanup(srv.Close)
	return srv, rec
}

func do(t *testing.T, method, url string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var body map[string]any
	if resp.StatusCode != http.StatusNoContent && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp, body
}

func TestRecordingRoutes(t *testing.T) {
	t.Parallel()

	srv, rec := testServer(t)

	if resp, _ := do(t, http.MethodPost, srv.URL+"/recording/stop"); resp.StatusCode != http.StatusConflict {
		t.Fatalf("stop while idle: %d", resp.StatusCode)
	}
	resp, body := do(t, http.MethodPost, srv.URL+"/recording/start")
	if resp.StatusCode != http.StatusOK || body["recording"] != true {
		t.Fatalf("start: %d %v", resp.StatusCode, body)
	}
	if resp, _ := do(t, http.MethodPost, srv.URL+"/recording/start"); resp.StatusCode != http.StatusConflict {
		t.Fatalf("second start: %d", resp.StatusCode)
	}
	if resp, _ := do(t, http.MethodPost, srv.URL+"/video/bitrate?bps=300000"); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("bitrate: %d", resp.StatusCode)
	}
	resp, body = do(t, http.MethodPost, srv.URL+"/video/size?width=120&height=120")
	if resp.StatusCode != http.StatusOK || body["width"] != float64(120) {
		t.Fatalf("size: %d %v", resp.StatusCode, body)
	}
	if resp, _ := do(t, http.MethodPost, srv.URL+"/video/size?width=0&height=120"); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("zero size: %d", resp.StatusCode)
	}
	if resp, _ := do(t, http.MethodPost, srv.URL+"/recording/stop"); resp.StatusCode != http.StatusOK {
		t.Fatalf("stop: %d", resp.StatusCode)
	}
	if rec.Recording() {
		t.Fatal("still recording")
	}
}

func TestCameraRoutes(t *testing.T) {
	t.Parallel()

	srv, _ := testServer(t)

	_, body := do(t, http.MethodPost, srv.URL+"/camera/flash")
	if body["changed"] != true {
		t.Fatalf("toggle: %v", body)
	}
	_, body = do(t, http.MethodPost, srv.URL+"/camera/flash?on=true")
	if body["changed"] != false {
		t.Fatalf("set on twice: %v", body)
	}
	if resp, _ := do(t, http.MethodPost, srv.URL+"/camera/flash?on=maybe"); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad flash value: %d", resp.StatusCode)
	}
	if resp, _ := do(t, http.MethodPost, srv.URL+"/camera/zoom?percent=0.5"); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("zoom: %d", resp.StatusCode)
	}
	if resp, _ := do(t, http.MethodPost, srv.URL+"/camera/zoom"); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("zoom without percent: %d", resp.StatusCode)
	}
	resp, body := do(t, http.MethodPost, srv.URL+"/camera/swap")
	if resp.StatusCode != http.StatusOK || body["front"] != false {
		t.Fatalf("swap: %d %v", resp.StatusCode, body)
	}
}

func TestDebugRoutes(t *testing.T) {
	t.Parallel()

	srv, _ := testServer(t)

	resp, body := do(t, http.MethodGet, srv.URL+"/debug/stats")
	if resp.StatusCode != http.StatusOK || body["prepared"] != true {
		t.Fatalf("stats: %d %v", resp.StatusCode, body)
	}
	resp, body = do(t, http.MethodGet, srv.URL+"/debug/config")
	if resp.StatusCode != http.StatusOK || body["VideoWidth"] != float64(160) {
		t.Fatalf("config: %d %v", resp.StatusCode, body)
	}

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	buf := new(strings.Builder)
	if _, err := io.Copy(buf, resp.Body); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "camrec_recording 0") {
		t.Fatalf("metrics output missing recording gauge:\n%s", buf.String())
	}
}
