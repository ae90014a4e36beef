package filter

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
)

// Volume scales 16-bit little-endian samples in place with saturation.
type Volume struct {
	mu   sync.Mutex
	gain float64
	size int
}

var _ AudioFilter = (*Volume)(nil)

// NewVolume returns a filter applying gain (1 = unchanged).
func NewVolume(gain float64) *Volume {
	return &Volume{gain: gain}
}

// SetGain changes the gain for subsequent slices.
func (v *Volume) SetGain(gain float64) {
	v.mu.Lock()
	v.gain = gain
	v.mu.Unlock()
}

func (v *Volume) Init(size int) error {
	if size <= 0 || size%2 != 0 {
		return fmt.Errorf("filter: slice size %d is not whole 16-bit samples", size)
	}
	v.mu.Lock()
	v.size = size
	v.mu.Unlock()
	return nil
}

// Filter rewrites origin and returns false, so origin is encoded.
func (v *Volume) Filter(origin, _ []byte, _, _ int64) bool {
	v.mu.Lock()
	gain := v.gain
	v.mu.Unlock()
	if gain == 1 {
		return false
	}
	for i := 0; i+1 < len(origin); i += 2 {
		s := float64(int16(binary.LittleEndian.Uint16(origin[i:]))) * gain
		s = math.Max(math.MinInt16, math.Min(math.MaxInt16, math.Round(s)))
		binary.LittleEndian.PutUint16(origin[i:], uint16(int16(s)))
	}
	return false
}

func (v *Volume) Destroy() {}
