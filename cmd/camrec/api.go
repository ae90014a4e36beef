package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/zsiec/camcorder/internal/logger"
	"github.com/zsiec/camcorder/internal/metrics"
	"github.com/zsiec/camcorder/recorder"
)

// api exposes the recorder over HTTP.
type api struct {
	log *slog.Logger
	rec *recorder.Recorder
}

func newRouter(log *slog.Logger, rec *recorder.Recorder, met *metrics.Metrics) http.Handler {
	a := &api{log: log.With("component", "api"), rec: rec}

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(a.log))
	r.Get("/metrics", met.Handler(func() {
		met.SetRecording(rec.Recording())
		met.SetPreviewing(rec.Previewing())
	}).ServeHTTP)
	r.Route("/debug", func(r chi.Router) {
		r.Get("/stats", a.handleStats)
		r.Get("/config", a.handleConfig)
	})
	r.Route("/recording", func(r chi.Router) {
		r.Post("/start", a.handleStartRecording)
		r.Post("/stop", a.handleStopRecording)
	})
	r.Route("/camera", func(r chi.Router) {
		r.Post("/swap", a.handleSwap)
		r.Post("/flash", a.handleFlash)
		r.Post("/zoom", a.handleZoom)
	})
	r.Route("/video", func(r chi.Router) {
		r.Post("/size", a.handleVideoSize)
		r.Post("/bitrate", a.handleBitrate)
	})
	return r
}

func (a *api) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.rec.Stats())
}

func (a *api) handleConfig(w http.ResponseWriter, _ *http.Request) {
	mc, ok := a.rec.MediaConfig()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "recorder not prepared")
		return
	}
	writeJSON(w, http.StatusOK, mc)
}

func (a *api) handleStartRecording(w http.ResponseWriter, _ *http.Request) {
	if err := a.rec.StartRecording(); err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.rec.Stats())
}

func (a *api) handleStopRecording(w http.ResponseWriter, _ *http.Request) {
	if err := a.rec.StopRecording(); err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": a.rec.LastRecording()})
}

func (a *api) handleSwap(w http.ResponseWriter, _ *http.Request) {
	if err := a.rec.SwapCamera(); err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"front": a.rec.IsFrontCamera()})
}

func (a *api) handleFlash(w http.ResponseWriter, r *http.Request) {
	var changed bool
	if s := r.URL.Query().Get("on"); s != "" {
		on, err := strconv.ParseBool(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "on must be a boolean")
			return
		}
		changed = a.rec.SetFlashLight(on)
	} else {
		changed = a.rec.ToggleFlashLight()
	}
	writeJSON(w, http.StatusOK, map[string]bool{"changed": changed})
}

func (a *api) handleZoom(w http.ResponseWriter, r *http.Request) {
	p, err := strconv.ParseFloat(r.URL.Query().Get("percent"), 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "percent must be a number in [0, 1]")
		return
	}
	if err := a.rec.SetZoomByPercent(p); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleVideoSize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	width, werr := strconv.Atoi(q.Get("width"))
	height, herr := strconv.Atoi(q.Get("height"))
	if werr != nil || herr != nil || width <= 0 || height <= 0 {
		writeError(w, http.StatusBadRequest, "width and height must be positive integers")
		return
	}
	if err := a.rec.ResetVideo(width, height); err != nil {
		a.fail(w, err)
		return
	}
	width, height = a.rec.VideoSize()
	writeJSON(w, http.StatusOK, map[string]int{"width": width, "height": height})
}

func (a *api) handleBitrate(w http.ResponseWriter, r *http.Request) {
	bps, err := strconv.Atoi(r.URL.Query().Get("bps"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bps is required")
		return
	}
	if err := a.rec.ResetBitrate(bps); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// fail maps a recorder error to a status code.
func (a *api) fail(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, recorder.ErrRecording),
		errors.Is(err, recorder.ErrNotRecording),
		errors.Is(err, recorder.ErrNotPreviewing):
		code = http.StatusConflict
	case errors.Is(err, recorder.ErrNotPrepared),
		errors.Is(err, recorder.ErrDestroyed),
		errors.Is(err, recorder.ErrCameraUnavailable):
		code = http.StatusServiceUnavailable
	}
	if code == http.StatusInternalServerError {
		a.log.Error("request failed", "error", err)
	}
	writeError(w, code, err.Error())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
