package camera

import (
	"cmp"
	"fmt"
	"math"
	"slices"
)

const (
	// TargetFPS is the frame rate preview ranges are matched against, in
	// frames per 1000 seconds.
	TargetFPS = 30000

	sizeTolerance    = 0.1
	maxSizeTolerance = 1.0
)

// preferredFormats lists accepted preview formats, best first.
var preferredFormats = []Format{FormatNV21, FormatYV12}

// ChooseFormat returns the first preferred format the camera supports.
func ChooseFormat(formats []Format) (Format, error) {
	for _, want := range preferredFormats {
		if slices.Contains(formats, want) {
			return want, nil
		}
	}
	return "", fmt.Errorf("%w: offered %v", ErrFormatUnsupported, formats)
}

// ChooseFPSRange returns the range closest to TargetFPS at both ends.
func ChooseFPSRange(ranges []FPSRange) (FPSRange, bool) {
	if len(ranges) == 0 {
		return FPSRange{}, false
	}
	best := ranges[0]
	bestDist := fpsDistance(best)
	for _, r := range ranges[1:] {
		if d := fpsDistance(r); d < bestDist {
			best, bestDist = r, d
		}
	}
	return best, true
}

func fpsDistance(r FPSRange) int {
	return abs(r.Min-TargetFPS) + abs(r.Max-TargetFPS)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// ChoosePreviewSize returns the preview size whose aspect ratio is closest
// to width/height, preferring the larger area among equally close sizes.
// The target is compared in landscape. Sizes are first searched within an
// aspect difference of 0.1; the tolerance widens in 0.1 steps up to 1.0,
// after which the smallest size is returned.
func ChoosePreviewSize(sizes []Size, width, height int) (Size, bool) {
	if len(sizes) == 0 || width <= 0 || height <= 0 {
		return Size{}, false
	}
	if width < height {
		width, height = height, width
	}
	sorted := slices.Clone(sizes)
	slices.SortStableFunc(sorted, func(a, b Size) int { return cmp.Compare(a.Area(), b.Area()) })
	ratio := float64(width) / float64(height)

	for tol := sizeTolerance; ; tol += sizeTolerance {
		if s, ok := closestSize(sorted, ratio, tol); ok {
			return s, true
		}
		if tol+sizeTolerance > maxSizeTolerance+1e-9 {
			return sorted[0], true
		}
	}
}

// closestSize walks sizes in ascending area, narrowing the tolerance to
// each accepted difference, so the last accepted size has the smallest
// difference and the largest area among ties.
func closestSize(sorted []Size, ratio, tol float64) (Size, bool) {
	var out Size
	found := false
	for _, s := range sorted {
		if s.Height <= 0 {
			continue
		}
		diff := math.Abs(float64(s.Width)/float64(s.Height) - ratio)
		if diff > tol {
			continue
		}
		if !found || s.Area() > out.Area() {
			out, found = s, true
		}
		tol = diff
	}
	return out, found
}

// Select chooses preview parameters for a target video size.
func Select(dev Device, width, height int) (Params, error) {
	size, ok := ChoosePreviewSize(dev.PreviewSizes(), width, height)
	if !ok {
		return Params{}, fmt.Errorf("%w: no preview sizes", ErrUnavailable)
	}
	fps, ok := ChooseFPSRange(dev.PreviewFPSRanges())
	if !ok {
		return Params{}, fmt.Errorf("%w: no preview frame rates", ErrUnavailable)
	}
	format, err := ChooseFormat(dev.PreviewFormats())
	if err != nil {
		return Params{}, err
	}
	return Params{Size: size, FPS: fps, Format: format}, nil
}

// VideoFPS caps the requested frame rate at what the preview range
// delivers.
func VideoFPS(requested int, r FPSRange) int {
	if limit := r.Max / 1000; limit > 0 {
		return min(requested, limit)
	}
	return requested
}
