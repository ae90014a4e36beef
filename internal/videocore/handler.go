package videocore

import (
	"errors"
	"fmt"

	"github.com/zsiec/camcorder/gles"
	"github.com/zsiec/camcorder/internal/looper"
	"github.com/zsiec/camcorder/internal/pipeline"
)

// handle runs on the render thread.
func (c *Core) handle(m *looper.Message) {
	req, _ := m.Obj.(*request)
	if c.Err() != nil {
		if req != nil {
			req.done <- c.Err()
		}
		return
	}

	var err error
	switch m.What {
	case whatFrame:
		err = c.handleFrame()
	case whatDraw:
		err = c.handleDraw(m.Obj.(int64))
	case whatInit:
		err = c.handleInit()
	case whatUninit:
		err = c.handleUninit()
	case whatStartPreview:
		a := req.arg.(previewArgs)
		err = c.handleStartPreview(a)
	case whatUpdatePreview:
		a := req.arg.(previewArgs)
		c.graph.UpdatePreviewSize(a.width, a.height)
	case whatStopPreview:
		c.graph.StopPreview()
		c.previewing.Store(false)
		c.metrics.SetPreviewing(false)
		c.log.Info("preview stopped")
	case whatStartRecording:
		err = c.handleStartRecording(req.arg.(pipeline.Sink))
	case whatStopRecording:
		err = c.handleStopRecording()
	case whatResetVideo:
		err = c.handleResetVideo(req.arg.(resetArgs))
	case whatResetBitrate:
		err = c.handleResetBitrate(req.arg.(int))
	default:
		err = fmt.Errorf("videocore: unknown message 0x%x", m.What)
	}

	if err != nil && (m.What == whatFrame || m.What == whatDraw || isFatal(err)) {
		c.fail(err)
	}
	if req != nil {
		req.done <- err
	}
}

func (c *Core) handleInit() error {
	c.cfgMu.Lock()
	w, h := c.cfg.VideoWidth, c.cfg.VideoHeight
	c.cfgMu.Unlock()
	return c.graph.Init(w, h)
}

// handleFrame latches every buffered camera image and samples the newest.
func (c *Core) handleFrame() error {
	st := c.cameraTexture()
	if st == nil || !c.graph.Initialized() {
		return nil
	}
	if err := c.graph.MakeCurrent(); err != nil {
		return err
	}

	c.frameMu.Lock()
	latched, dropped := 0, false
	for c.frameNum != 0 {
		if err := st.UpdateTexImage(); err != nil {
			c.frameNum = 0
			c.frameMu.Unlock()
			if errors.Is(err, gles.ErrAbandoned) {
				// Released by a camera switch after this message was queued.
				return nil
			}
			return err
		}
		c.frameNum--
		latched++
		// The first image after a texture change belongs to the old camera.
		if c.dropNext {
			c.dropNext = false
			c.hasNewFrame = false
			dropped = true
		} else {
			c.hasNewFrame = true
		}
	}
	c.frameMu.Unlock()

	if dropped {
		c.dropped.Add(1)
		c.metrics.FrameDropped()
		c.log.Debug("dropped stale camera frame")
	}
	if latched == 0 {
		return nil
	}
	return c.graph.Sample(st)
}

// handleDraw runs one tick of the pacer. scheduled is the tick's place on
// the interval ladder in looper milliseconds; it also stamps the encoded
// frame.
func (c *Core) handleDraw(scheduled int64) error {
	if !c.previewing.Load() && !c.recording.Load() {
		return nil
	}
	interval := c.interval()
	next := scheduled + interval
	if now := c.lp.Now(); next > now {
		c.lp.SendAt(&looper.Message{What: whatDraw, Obj: next}, next)
	} else {
		c.lp.Send(&looper.Message{What: whatDraw, Obj: next})
	}

	c.draws.Add(1)
	if !c.hasNewFrame {
		return nil
	}
	c.hasNewFrame = false
	pts := scheduled * 1_000_000
	if err := c.graph.Draw(pts); err != nil {
		return err
	}
	c.lastPTS.Store(pts)
	if c.printDetail() {
		c.log.Debug("frame drawn", "pts_ns", pts, "scheduled_ms", scheduled)
	}
	return nil
}

func (c *Core) interval() int64 {
	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()
	if iv := c.cfg.DrawInterval(); iv > 0 {
		return iv
	}
	return 1
}

func (c *Core) printDetail() bool {
	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()
	return c.cfg.PrintDetail
}

// startDraws schedules the first tick when neither output is active.
func (c *Core) startDraws() {
	if c.previewing.Load() || c.recording.Load() {
		return
	}
	c.lp.Remove(whatDraw)
	first := c.lp.Now() + c.interval()
	c.lp.SendAt(&looper.Message{What: whatDraw, Obj: first}, first)
}

func (c *Core) handleStartPreview(a previewArgs) error {
	if c.previewing.Load() {
		c.graph.UpdatePreviewSize(a.width, a.height)
		return nil
	}
	if err := c.graph.StartPreview(a.win, a.width, a.height); err != nil {
		return err
	}
	c.startDraws()
	c.previewing.Store(true)
	c.metrics.SetPreviewing(true)
	c.log.Info("preview started", "width", a.width, "height", a.height)
	return nil
}

func (c *Core) handleUninit() error {
	if c.recording.Load() {
		if err := c.handleStopRecording(); err != nil {
			c.log.Warn("stop recording during teardown", "error", err)
		}
	}
	c.lp.Remove(whatDraw)
	c.lp.Remove(whatFrame)
	c.previewing.Store(false)
	c.metrics.SetPreviewing(false)
	if !c.graph.Initialized() {
		return nil
	}
	return c.graph.Uninit()
}

// fail tears the render side down after an unrecoverable error and makes
// every later operation return err.
func (c *Core) fail(err error) {
	c.fatalMu.Lock()
	if c.fatalErr != nil {
		c.fatalMu.Unlock()
		return
	}
	c.fatalErr = err
	c.fatalMu.Unlock()

	c.log.Error("render thread failed", "error", err)
	c.lp.Remove(whatDraw)
	c.lp.Remove(whatFrame)

	c.stateMu.Lock()
	d := c.drain
	c.stateMu.Unlock()
	if d != nil {
		d.Quit()
	}
	c.releaseEncoder()
	if c.graph.Initialized() {
		if uerr := c.graph.Uninit(); uerr != nil {
			c.log.Debug("uninit after failure", "error", uerr)
		}
	}
	c.previewing.Store(false)
	c.recording.Store(false)
	c.metrics.SetPreviewing(false)
	c.metrics.SetRecording(false)
}
