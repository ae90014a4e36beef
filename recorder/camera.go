package recorder

import (
	"errors"
	"fmt"

	"github.com/zsiec/camcorder/camera"
	"github.com/zsiec/camcorder/media"
)

func (r *Recorder) openCamera(idx int) (camera.Device, error) {
	dev, err := r.cameras.Open(idx)
	if err != nil {
		if !errors.Is(err, ErrCameraUnavailable) {
			err = fmt.Errorf("%w: %w", ErrCameraUnavailable, err)
		}
		r.log.Error("open camera", "index", idx, "error", err)
		return nil, err
	}
	return dev, nil
}

// startCamera streams the camera into a new surface texture whose frame
// ticks drive the video core.
func (r *Recorder) startCamera() error {
	if r.cam == nil {
		return fmt.Errorf("%w: no open camera", ErrCameraUnavailable)
	}
	st, err := r.platform.NewSurfaceTexture(media.ExternalTextureID)
	if err != nil {
		return fmt.Errorf("%w: surface texture: %w", ErrCameraUnavailable, err)
	}
	st.SetOnFrameAvailable(r.video.OnFrameAvailable)
	if err := r.cam.SetPreviewTexture(st); err != nil {
		st.Release()
		return fmt.Errorf("%w: %w", ErrCameraUnavailable, err)
	}
	if err := r.cam.StartPreview(); err != nil {
		r.cam.SetPreviewTexture(nil)
		st.Release()
		return fmt.Errorf("%w: %w", ErrCameraUnavailable, err)
	}
	r.camTex = st
	r.video.UpdateCameraTexture(st)
	r.log.Debug("camera streaming", "index", r.camIdx)
	return nil
}

// stopCamera stops streaming and releases the surface texture. The video
// core lets go of the texture before it is released.
func (r *Recorder) stopCamera() {
	if r.cam != nil {
		r.cam.StopPreview()
		r.cam.SetPreviewTexture(nil)
	}
	if r.camTex == nil {
		return
	}
	r.video.UpdateCameraTexture(nil)
	r.camTex.Release()
	r.camTex = nil
}

// SwapCamera switches to the next camera. The new camera keeps the preview
// size and format chosen at Prepare. A running preview or recording
// continues on the new camera; its first frame is dropped.
func (r *Recorder) SwapCamera() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.usable(); err != nil {
		return err
	}
	streaming := r.camTex != nil
	if r.cam != nil {
		r.stopCamera()
		r.cam.Release()
		r.cam = nil
	}

	// A camera that fails to open is skipped by the next swap.
	idx := (r.camIdx + 1) % r.cameras.NumberOfCameras()
	r.camIdx = idx
	dev, err := r.openCamera(idx)
	if err != nil {
		return err
	}
	isFront := dev.Facing() == camera.Front
	r.video.UpdateCameraIndex(isFront)

	fps, ok := camera.ChooseFPSRange(dev.PreviewFPSRanges())
	if !ok {
		dev.Release()
		return fmt.Errorf("%w: camera %d has no frame rates", ErrCameraUnavailable, idx)
	}
	params := camera.Params{
		Size:   camera.Size{Width: r.mc.PreviewWidth, Height: r.mc.PreviewHeight},
		FPS:    fps,
		Format: camera.Format(r.mc.PreviewFormat),
	}
	if err := dev.Configure(params); err != nil {
		dev.Release()
		r.log.Error("configure swapped camera", "index", idx, "error", err)
		if !errors.Is(err, ErrCameraUnavailable) {
			err = fmt.Errorf("%w: %w", ErrCameraUnavailable, err)
		}
		return err
	}
	r.cam, r.front = dev, isFront
	r.log.Info("camera swapped", "index", idx, "front", isFront, "fps_range", fps)

	if streaming {
		return r.startCamera()
	}
	return nil
}

// ToggleFlashLight turns the torch on, or off when it is on. It reports
// whether the flash mode changed.
func (r *Recorder) ToggleFlashLight() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.usable() != nil || r.cam == nil {
		return false
	}
	return camera.ToggleFlash(r.cam)
}

// SetFlashLight turns the torch on or off. It reports whether the flash
// mode changed.
func (r *Recorder) SetFlashLight(on bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.usable() != nil || r.cam == nil {
		return false
	}
	return camera.SetFlash(r.cam, on)
}

// SetZoomByPercent zooms to p of the camera's maximum zoom, p clamped to
// [0, 1].
func (r *Recorder) SetZoomByPercent(p float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.usable(); err != nil {
		return err
	}
	if r.cam == nil {
		return fmt.Errorf("%w: no open camera", ErrCameraUnavailable)
	}
	return camera.SetZoomPercent(r.cam, p)
}
