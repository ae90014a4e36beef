// Package direction maps camera sensor orientation, mirroring and aspect
// correction onto the texture coordinates used to sample the camera image.
//
// A direction Flag is a bitfield rather than an enum because rotation and
// flips compose freely: the low nibble carries the flips and the high nibble
// carries exactly one rotation bit.
package direction

import (
	"errors"
	"fmt"
	"math/bits"
	"strings"
)

// Flag is a packed direction bitfield.
type Flag int

// Direction bits.
const (
	FlipHorizontal Flag = 0x01
	FlipVertical   Flag = 0x02
	Rotation0      Flag = 0x10
	Rotation90     Flag = 0x20
	Rotation180    Flag = 0x40
	Rotation270    Flag = 0x80

	flipMask     Flag = 0x0F
	rotationMask Flag = 0xF0
)

// ErrInvalid is returned when a flag does not carry exactly one rotation bit
// or when the front and back flags disagree on orientation class.
var ErrInvalid = errors.New("invalid direction flag")

// Rotation returns only the rotation bits of f.
func (f Flag) Rotation() Flag { return f & rotationMask }

// Flips returns only the flip bits of f.
func (f Flag) Flips() Flag { return f & flipMask }

// RotationBits reports how many rotation bits are set.
func (f Flag) RotationBits() int {
	return bits.OnesCount8(uint8(f.Rotation() >> 4))
}

// Valid reports whether f carries exactly one rotation bit.
func (f Flag) Valid() bool { return f.RotationBits() == 1 }

// IsPortrait reports whether the rotation is 90° or 270°.
func (f Flag) IsPortrait() bool {
	r := f.Rotation()
	return r == Rotation90 || r == Rotation270
}

// Degrees returns the rotation in degrees, or -1 if f is not Valid.
func (f Flag) Degrees() int {
	switch f.Rotation() {
	case Rotation0:
		return 0
	case Rotation90:
		return 90
	case Rotation180:
		return 180
	case Rotation270:
		return 270
	}
	return -1
}

func (f Flag) String() string {
	var parts []string
	if d := f.Degrees(); d >= 0 {
		parts = append(parts, fmt.Sprintf("rot%d", d))
	} else {
		parts = append(parts, fmt.Sprintf("rot?(0x%02x)", int(f.Rotation())))
	}
	if f&FlipHorizontal != 0 {
		parts = append(parts, "flipH")
	}
	if f&FlipVertical != 0 {
		parts = append(parts, "flipV")
	}
	return strings.Join(parts, "|")
}

// Normalize defaults a flag with no rotation bit to Rotation0.
func Normalize(f Flag) Flag {
	if f.Rotation() == 0 {
		return f | Rotation0
	}
	return f
}

// Validate normalizes the front and back flags and checks that each carries
// exactly one rotation bit and that both belong to the same orientation
// class (0°/180° versus 90°/270°).
func Validate(front, back Flag) (Flag, Flag, error) {
	front, back = Normalize(front), Normalize(back)
	if !front.Valid() || !back.Valid() {
		return front, back, fmt.Errorf("%w: front rotation bits %d, back rotation bits %d",
			ErrInvalid, front.RotationBits(), back.RotationBits())
	}
	if front.IsPortrait() != back.IsPortrait() {
		if back.IsPortrait() {
			return front, back, fmt.Errorf("%w: back camera is portrait but front camera is landscape", ErrInvalid)
		}
		return front, back, fmt.Errorf("%w: back camera is landscape but front camera is portrait", ErrInvalid)
	}
	return front, back, nil
}

// Effective returns the flag applied when rendering a camera. Front cameras
// are mirrored, so their horizontal flip is inverted.
func Effective(f Flag, front bool) Flag {
	if front {
		return f ^ FlipHorizontal
	}
	return f
}
