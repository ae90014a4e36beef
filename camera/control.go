package camera

import "slices"

// ToggleFlash switches the torch on, or off when it is already on. It
// reports whether the mode changed.
func ToggleFlash(dev Device) bool {
	return SetFlash(dev, dev.FlashMode() != FlashTorch)
}

// SetFlash turns the torch on or off. It reports whether the mode changed.
func SetFlash(dev Device, on bool) bool {
	want := FlashOff
	if on {
		want = FlashTorch
	}
	if dev.FlashMode() == want || !slices.Contains(dev.FlashModes(), want) {
		return false
	}
	return dev.SetFlashMode(want) == nil
}

// SetZoomPercent zooms to p of the maximum zoom, p clamped to [0, 1].
func SetZoomPercent(dev Device, p float64) error {
	p = max(0, min(1, p))
	return dev.SetZoom(int(float64(dev.MaxZoom()) * p))
}
