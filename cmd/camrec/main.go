// Command camrec records the synthetic cameras and a test tone into MPEG-4
// files and serves metrics and a small control API while it runs.
package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/camcorder/camera"
	"github.com/zsiec/camcorder/config"
	"github.com/zsiec/camcorder/filter"
	"github.com/zsiec/camcorder/internal/logger"
	"github.com/zsiec/camcorder/internal/metrics"
	"github.com/zsiec/camcorder/recorder"
)

var version = "dev"

const shutdownTimeout = 5 * time.Second

func main() {
	rc, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	level := config.GetEnv("LOG_LEVEL", "info")
	if os.Getenv("DEBUG") != "" {
		level = "debug"
	}
	log := logger.New(level, config.GetEnv("LOG_FORMAT", "text"))
	slog.SetDefault(log)

	if rc.SaveEnabled && rc.SavePath == "" {
		rc.SavePath = "recordings"
	}
	apiAddr := config.GetEnv("API_ADDR", ":4445")
	duration := time.Duration(config.GetEnvInt("CAMREC_DURATION_MS", 10_000)) * time.Millisecond

	if err := run(log, rc, apiAddr, duration); err != nil {
		log.Error("camrec failed", "error", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger, rc config.RecordConfig, apiAddr string, duration time.Duration) error {
	back, front := camera.DefaultBack(), camera.DefaultFront()
	if p := config.GetEnv("CAMREC_PATTERN", ""); p != "" {
		pattern, err := camera.ParsePattern(p)
		if err != nil {
			return err
		}
		back.Pattern, front.Pattern = pattern, pattern
	}

	met := metrics.New()
	rec := recorder.New(log,
		recorder.WithCameras(camera.NewSyntheticProvider(log, back, front)),
		recorder.WithMetrics(met))
	defer func() {
		if err := rec.Destroy(); err != nil {
			log.Warn("destroy recorder", "error", err)
		}
	}()

	rec.SetVideoChangeListener(func(w, h int) {
		log.Info("video size changed", "width", w, "height", h)
	})
	if config.GetEnvBool("CAMREC_WATERMARK", true) {
		rec.SetHardVideoFilter(filter.NewImageOverlay(filter.Overlay{
			Image: watermark(64, 16),
			Rect:  filter.Rect{X: 0.04, Y: 0.04, W: 0.3, H: 0.075},
		}))
	}
	if gain := config.GetEnvInt("CAMREC_GAIN_PERCENT", 100); gain != 100 {
		rec.SetSoftAudioFilter(filter.NewVolume(float64(gain) / 100))
	}
	if err := rec.Prepare(rc); err != nil {
		return fmt.Errorf("prepare: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("camrec starting",
		"version", version,
		"api", apiAddr,
		"duration", duration,
		"save_path", rec.VideoSavePath())

	srv := &http.Server{Addr: apiAddr, Handler: newRouter(log, rec, met)}
	g, ctx := errgroup.WithContext(ctx)
	recCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g.Go(func() error {
		log.Info("API server listening", "addr", apiAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("API server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-recCtx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		if duration <= 0 {
			// Recording is driven through the API until a signal arrives.
			<-recCtx.Done()
			return nil
		}
		defer cancel()
		return record(recCtx, log, rec, duration)
	})

	return g.Wait()
}

// record runs one recording of the given duration, or until ctx ends.
func record(ctx context.Context, log *slog.Logger, rec *recorder.Recorder, d time.Duration) error {
	if err := rec.StartRecording(); err != nil {
		return fmt.Errorf("start recording: %w", err)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
	if err := rec.StopRecording(); err != nil {
		return fmt.Errorf("stop recording: %w", err)
	}
	st := rec.Stats()
	attrs := []any{"path", rec.LastRecording()}
	if st.Muxer != nil {
		for _, tr := range st.Muxer.Tracks {
			attrs = append(attrs, tr.Kind+"_samples", tr.Samples)
		}
	}
	log.Info("recording written", attrs...)
	return nil
}

// watermark draws a translucent badge with a bright left marker.
func watermark(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.RGBA{A: 160}
			if x < h {
				c = color.RGBA{R: 230, G: 40, B: 40, A: 255}
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img
}
