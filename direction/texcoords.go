package direction

// TexCoords holds four (s, t) pairs, one per corner of Quad.
type TexCoords [8]float32

// Quad is the fixed full-viewport rectangle drawn by every pass, as
// top-left, bottom-left, bottom-right, top-right.
var Quad = [8]float32{
	-1, 1,
	-1, -1,
	1, -1,
	1, 1,
}

// DrawIndices splits Quad into two triangles.
var DrawIndices = [6]uint16{0, 1, 2, 0, 2, 3}

// Identity maps Quad onto the whole texture without rotation.
var Identity = TexCoords{
	0, 1,
	0, 0,
	1, 0,
	1, 1,
}

var rotationTables = map[Flag]TexCoords{
	Rotation0: Identity,
	Rotation90: {
		0, 0,
		1, 0,
		1, 1,
		0, 1,
	},
	Rotation180: {
		1, 0,
		1, 1,
		0, 1,
		0, 0,
	},
	Rotation270: {
		1, 1,
		0, 1,
		0, 0,
		1, 0,
	},
}

// Derive computes the texture coordinates for sampling the camera image
// under flag f with the given crop ratio in (-1, 1).
//
// For 0° and 180° a positive crop trims T and a negative crop trims S; for
// 90° and 270° the roles swap. Flips are applied last.
func Derive(f Flag, crop float32) TexCoords {
	tc, ok := rotationTables[f.Rotation()]
	if !ok {
		tc = Identity
	}

	trimT := crop > 0
	if f.IsPortrait() {
		trimT = !trimT
	}
	if crop != 0 {
		c := crop
		if c < 0 {
			c = -c
		}
		first := 0
		if trimT {
			first = 1
		}
		for i := first; i < len(tc); i += 2 {
			if tc[i] == 1 {
				tc[i] = 1 - c
			} else {
				tc[i] = c
			}
		}
	}

	if f&FlipHorizontal != 0 {
		for i := 0; i < len(tc); i += 2 {
			tc[i] = 1 - tc[i]
		}
	}
	if f&FlipVertical != 0 {
		for i := 1; i < len(tc); i += 2 {
			tc[i] = 1 - tc[i]
		}
	}
	return tc
}

// Corner returns the i-th (s, t) pair.
func (tc TexCoords) Corner(i int) (float32, float32) {
	return tc[2*i], tc[2*i+1]
}

// Slice returns the coordinates as a slice for vertex upload.
func (tc TexCoords) Slice() []float32 {
	out := make([]float32, len(tc))
	copy(out, tc[:])
	return out
}

// ResolveCrop returns the signed crop ratio that fits a preview of pw×ph
// into a video of vw×vh. Both sizes must use the same orientation
// convention. A positive result trims the vertical axis, a negative one the
// horizontal axis, and zero means the aspect ratios match exactly.
func ResolveCrop(pw, ph, vw, vh int) float32 {
	if pw <= 0 || ph <= 0 || vw <= 0 || vh <= 0 {
		return 0
	}
	// Cross-multiplied so equal ratios never differ by rounding.
	lhs, rhs := int64(ph)*int64(vw), int64(vh)*int64(pw)
	pr := float64(ph) / float64(pw)
	vr := float64(vh) / float64(vw)
	switch {
	case lhs == rhs:
		return 0
	case lhs > rhs:
		return float32((1 - vr/pr) / 2)
	default:
		return float32(-(1 - pr/vr) / 2)
	}
}
