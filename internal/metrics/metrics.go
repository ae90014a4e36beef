// Package metrics holds the Prometheus collectors of the capture pipeline.
// Every method is safe on a nil *Metrics so cores built without metrics
// need no guards.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zsiec/camcorder/media"
)

// Metrics holds Prometheus counters and gauges for the recorder.
type Metrics struct {
	registry *prometheus.Registry

	framesSampled   prometheus.Counter
	framesDrawn     prometheus.Counter
	framesDropped   prometheus.Counter
	filterFallbacks prometheus.Counter
	audioDropped    prometheus.Counter
	packets         *prometheus.CounterVec
	bytes           *prometheus.CounterVec
	recording       prometheus.Gauge
	previewing      prometheus.Gauge
}

// New creates and registers the pipeline metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		framesSampled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "camrec_frames_sampled_total",
			Help: "Camera frames sampled into the off-screen framebuffer",
		}),
		framesDrawn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "camrec_frames_drawn_total",
			Help: "Composited frames delivered to the output surfaces",
		}),
		framesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "camrec_frames_dropped_total",
			Help: "Camera frames discarded after a camera swap",
		}),
		filterFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "camrec_filter_fallbacks_total",
			Help: "Frames drawn with the passthrough because the filter lock was busy",
		}),
		audioDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "camrec_audio_slices_dropped_total",
			Help: "PCM slices discarded because the encoder queue was full",
		}),
		packets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "camrec_packets_total",
			Help: "Encoded packets written to the muxer",
		}, []string{"track"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "camrec_bytes_total",
			Help: "Encoded bytes written to the muxer",
		}, []string{"track"}),
		recording: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "camrec_recording",
			Help: "1 while a recording is in progress",
		}),
		previewing: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "camrec_previewing",
			Help: "1 while a preview surface is attached",
		}),
	}

	registry.MustRegister(
		m.framesSampled,
		m.framesDrawn,
		m.framesDropped,
		m.filterFallbacks,
		m.audioDropped,
		m.packets,
		m.bytes,
		m.recording,
		m.previewing,
	)
	return m
}

func (m *Metrics) FrameSampled() {
	if m != nil {
		m.framesSampled.Inc()
	}
}

func (m *Metrics) FrameDrawn() {
	if m != nil {
		m.framesDrawn.Inc()
	}
}

func (m *Metrics) FrameDropped() {
	if m != nil {
		m.framesDropped.Inc()
	}
}

func (m *Metrics) FilterFallback() {
	if m != nil {
		m.filterFallbacks.Inc()
	}
}

func (m *Metrics) AudioSliceDropped() {
	if m != nil {
		m.audioDropped.Inc()
	}
}

// PacketWritten counts one packet of n bytes on the given track.
func (m *Metrics) PacketWritten(kind media.TrackKind, n int) {
	if m == nil {
		return
	}
	m.packets.WithLabelValues(kind.String()).Inc()
	m.bytes.WithLabelValues(kind.String()).Add(float64(n))
}

func (m *Metrics) SetRecording(on bool) {
	if m != nil {
		m.recording.Set(boolGauge(on))
	}
}

func (m *Metrics) SetPreviewing(on bool) {
	if m != nil {
		m.previewing.Set(boolGauge(on))
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler that serves the metrics. refresh is called
// before each scrape.
func (m *Metrics) Handler(refresh func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if refresh != nil {
			refresh()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
