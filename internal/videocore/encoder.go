package videocore

import (
	"errors"
	"fmt"

	"github.com/zsiec/camcorder/codec"
	"github.com/zsiec/camcorder/internal/pipeline"
	"github.com/zsiec/camcorder/internal/render"
	"github.com/zsiec/camcorder/media"
)

func isFatal(err error) bool {
	return errors.Is(err, render.ErrSurfaceLost) ||
		errors.Is(err, ErrCodecCreate) ||
		errors.Is(err, ErrCodecConfigure)
}

// openEncoder creates, configures and starts an encoder for the current
// video size and wraps its input surface into the render graph.
func (c *Core) openEncoder() (codec.VideoEncoder, error) {
	c.cfgMu.Lock()
	f := codec.AVCFormat(c.cfg.VideoWidth, c.cfg.VideoHeight, c.cfg.Bitrate, c.cfg.FPS, c.cfg.GOP)
	c.cfgMu.Unlock()

	enc, err := c.encoders(media.MimeAVC)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCodecCreate, err)
	}
	c.created.Add(1)
	if err := enc.Configure(f); err != nil {
		enc.Release()
		return nil, fmt.Errorf("%w: %v", ErrCodecConfigure, err)
	}
	win, err := enc.CreateInputSurface()
	if err != nil {
		enc.Release()
		return nil, fmt.Errorf("%w: input surface: %v", ErrCodecConfigure, err)
	}
	if err := c.graph.AttachEncoder(win); err != nil {
		enc.Release()
		return nil, err
	}
	if err := enc.Start(); err != nil {
		c.graph.DetachEncoder()
		enc.Release()
		return nil, fmt.Errorf("%w: start: %v", ErrCodecConfigure, err)
	}
	c.log.Info("video encoder started", "width", f.Width, "height", f.Height,
		"bitrate", f.Bitrate, "fps", f.FrameRate, "gop", f.IFrameInterval)
	return enc, nil
}

// releaseEncoder detaches the encoder surface before releasing the encoder
// so no frame reaches a released encoder.
func (c *Core) releaseEncoder() {
	c.graph.DetachEncoder()
	if c.enc == nil {
		return
	}
	if err := c.enc.Stop(); err != nil {
		c.log.Debug("encoder stop", "error", err)
	}
	c.enc.Release()
	c.enc = nil
}

func (c *Core) handleStartRecording(sink pipeline.Sink) error {
	if c.recording.Load() {
		return ErrRecording
	}
	enc, err := c.openEncoder()
	if err != nil {
		return err
	}
	c.enc = enc

	d := pipeline.New(media.TrackVideo, enc, sink, c.metrics, c.root)
	c.stateMu.Lock()
	c.drain = d
	c.stateMu.Unlock()
	d.Start()

	c.startDraws()
	c.recording.Store(true)
	c.metrics.SetRecording(true)
	c.log.Info("video recording started")
	return nil
}

func (c *Core) handleStopRecording() error {
	if !c.recording.Load() {
		return nil
	}
	c.recording.Store(false)
	c.metrics.SetRecording(false)

	if err := c.enc.SignalEndOfInputStream(); err != nil {
		c.log.Warn("signal end of stream", "error", err)
	}
	c.stateMu.Lock()
	d := c.drain
	c.stateMu.Unlock()
	derr := d.Finish(c.grace)

	c.releaseEncoder()
	ds := d.Stats()
	c.log.Info("video recording stopped", "packets", ds.Forwarded, "bytes", ds.Bytes)
	return derr
}

// handleResetVideo applies a new video size. Draws are paused for its whole
// duration because it runs on the render thread.
func (c *Core) handleResetVideo(a resetArgs) error {
	c.cfgMu.Lock()
	c.cfg.VideoWidth, c.cfg.VideoHeight = a.width, a.height
	c.cfg.CropRatio = a.crop
	c.cfgMu.Unlock()
	c.updateDirection()

	if err := c.graph.Resize(a.width, a.height); err != nil {
		return err
	}
	c.hasNewFrame = false

	if c.enc != nil {
		c.stateMu.Lock()
		d := c.drain
		c.stateMu.Unlock()
		d.SetSource(nil)
		c.releaseEncoder()

		enc, err := c.openEncoder()
		if err != nil {
			return err
		}
		c.enc = enc
		d.SetSource(enc)
	}
	c.log.Info("video reset", "width", a.width, "height", a.height, "crop", a.crop)
	c.notifyVideoChange(a.width, a.height)
	return nil
}

func (c *Core) notifyVideoChange(w, h int) {
	c.listenerMu.Lock()
	fn := c.listener
	c.listenerMu.Unlock()
	if fn == nil {
		return
	}
	if c.executor == nil {
		go fn(w, h)
		return
	}
	c.executor.Post(func() { fn(w, h) })
}

func (c *Core) handleResetBitrate(bps int) error {
	if bps <= 0 {
		return fmt.Errorf("videocore: invalid bitrate %d", bps)
	}
	c.cfgMu.Lock()
	c.cfg.Bitrate = bps
	c.cfgMu.Unlock()
	if c.enc == nil {
		return nil
	}
	if err := c.enc.SetParameters(codec.Params{codec.ParamVideoBitrate: bps}); err != nil {
		return fmt.Errorf("videocore: set bitrate: %w", err)
	}
	c.log.Info("bitrate updated", "bitrate", bps)
	return nil
}
