package direction

import (
	"errors"
	"math"
	"sort"
	"testing"
)

var allRotations = []Flag{Rotation0, Rotation90, Rotation180, Rotation270}

func allFlags() []Flag {
	var out []Flag
	for _, r := range allRotations {
		for flips := Flag(0); flips <= FlipHorizontal|FlipVertical; flips++ {
			out = append(out, r|flips)
		}
	}
	return out
}

func cornerSet(tc TexCoords) []string {
	var out []string
	for i := 0; i < 4; i++ {
		s, t := tc.Corner(i)
		out = append(out, string(rune('0'+int(s)))+string(rune('0'+int(t))))
	}
	sort.Strings(out)
	return out
}

func TestDeriveIsPermutationOfUnitSquare(t *testing.T) {
	t.Parallel()

	want := []string{"00", "01", "10", "11"}
	for _, f := range allFlags() {
		got := cornerSet(Derive(f, 0))
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("flag %v: corners %v, want permutation of %v", f, got, want)
			}
		}
	}
}

func TestDeriveFlipTwiceIsIdentity(t *testing.T) {
	t.Parallel()

	crops := []float32{0, 0.125, -0.125, 0.3, -0.45}
	for _, f := range allFlags() {
		for _, c := range crops {
			for _, flip := range []Flag{FlipHorizontal, FlipVertical} {
				base := Derive(f, c)
				twice := Derive(f^flip^flip, c)
				if base != twice {
					t.Fatalf("flag %v crop %v flip %v: got %v, want %v", f, c, flip, twice, base)
				}
				once := Derive(f^flip, c)
				if once == base {
					t.Fatalf("flag %v crop %v: flip %v had no effect", f, c, flip)
				}
			}
		}
	}
}

func TestDeriveRotationTables(t *testing.T) {
	t.Parallel()

	tests := []struct {
		flag Flag
		want TexCoords
	}{
		{Rotation0, TexCoords{0, 1, 0, 0, 1, 0, 1, 1}},
		{Rotation90, TexCoords{0, 0, 1, 0, 1, 1, 0, 1}},
		{Rotation180, TexCoords{1, 0, 1, 1, 0, 1, 0, 0}},
		{Rotation270, TexCoords{1, 1, 0, 1, 0, 0, 1, 0}},
		{Rotation0 | FlipHorizontal, TexCoords{1, 1, 1, 0, 0, 0, 0, 1}},
		{Rotation0 | FlipVertical, TexCoords{0, 0, 0, 1, 1, 1, 1, 0}},
	}
	for _, tt := range tests {
		if got := Derive(tt.flag, 0); got != tt.want {
			t.Errorf("Derive(%v): got %v, want %v", tt.flag, got, tt.want)
		}
	}
}

func TestDeriveCropLandscape(t *testing.T) {
	t.Parallel()

	// 1280x960 preview into 1280x720 video trims T to [0.125, 0.875].
	tc := Derive(Rotation0, 0.125)
	for i := 0; i < 4; i++ {
		s, tt := tc.Corner(i)
		if s != 0 && s != 1 {
			t.Errorf("corner %d: s = %v, want 0 or 1", i, s)
		}
		if tt != 0.125 && tt != 0.875 {
			t.Errorf("corner %d: t = %v, want 0.125 or 0.875", i, tt)
		}
	}
}

func TestDeriveCropSwapsAxisWhenPortrait(t *testing.T) {
	t.Parallel()

	tests := []struct {
		flag     Flag
		crop     float32
		trimmedT bool
	}{
		{Rotation0, 0.2, true},
		{Rotation0, -0.2, false},
		{Rotation180, 0.2, true},
		{Rotation90, 0.2, false},
		{Rotation90, -0.2, true},
		{Rotation270, -0.125, true},
	}
	for _, tt := range tests {
		tc := Derive(tt.flag, tt.crop)
		c := float32(math.Abs(float64(tt.crop)))
		for i := 0; i < 4; i++ {
			s, tv := tc.Corner(i)
			trimmed, full := tv, s
			if !tt.trimmedT {
				trimmed, full = s, tv
			}
			if trimmed != c && trimmed != 1-c {
				t.Errorf("%v crop %v corner %d: trimmed axis %v, want %v or %v", tt.flag, tt.crop, i, trimmed, c, 1-c)
			}
			if full != 0 && full != 1 {
				t.Errorf("%v crop %v corner %d: untouched axis %v, want 0 or 1", tt.flag, tt.crop, i, full)
			}
		}
	}
}

func TestResolveCrop(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		pw, ph, vw, vh int
		want           float32
	}{
		{"square from 4:3", 640, 480, 480, 480, -0.125},
		{"16:9 from 4:3", 1280, 960, 1280, 720, 0.125},
		{"equal ratio", 1280, 720, 640, 360, 0},
		{"same size", 640, 480, 640, 480, 0},
	}
	for _, tt := range tests {
		got := ResolveCrop(tt.pw, tt.ph, tt.vw, tt.vh)
		if math.Abs(float64(got-tt.want)) > 1e-6 {
			t.Errorf("%s: got %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestResolveCropRangeAndZero(t *testing.T) {
	t.Parallel()

	sizes := []int{1, 2, 3, 144, 176, 240, 320, 360, 480, 540, 640, 720, 960, 1080, 1280, 1920}
	for _, pw := range sizes {
		for _, ph := range sizes {
			for _, vw := range sizes {
				for _, vh := range sizes {
					c := ResolveCrop(pw, ph, vw, vh)
					if c <= -1 || c >= 1 {
						t.Fatalf("crop %v out of range for %dx%d -> %dx%d", c, pw, ph, vw, vh)
					}
					equal := ph*vw == vh*pw
					if equal != (c == 0) {
						t.Fatalf("crop %v for %dx%d -> %dx%d, equal aspect %v", c, pw, ph, vw, vh, equal)
					}
				}
			}
		}
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		front, back Flag
		wantErr     bool
	}{
		{"portrait pair", Rotation270 | FlipHorizontal, Rotation90, false},
		{"landscape pair", Rotation0, Rotation180, false},
		{"missing rotation defaults to 0", FlipVertical, Rotation180, false},
		{"two rotation bits", Rotation90 | Rotation270, Rotation90, true},
		{"mixed classes", Rotation0, Rotation90, true},
		{"mixed classes reversed", Rotation270, Rotation180, true},
	}
	for _, tt := range tests {
		_, _, err := Validate(tt.front, tt.back)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: got err %v, wantErr %v", tt.name, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, ErrInvalid) {
			t.Errorf("%s: error %v does not wrap ErrInvalid", tt.name, err)
		}
	}
}

func TestEffectiveMirrorsFront(t *testing.T) {
	t.Parallel()

	f := Rotation270 | FlipHorizontal
	if got := Effective(f, true); got != Rotation270 {
		t.Fatalf("front: got %v, want %v", got, Rotation270)
	}
	if got := Effective(f, false); got != f {
		t.Fatalf("back: got %v, want %v", got, f)
	}
}

func TestFlagString(t *testing.T) {
	t.Parallel()

	if got := (Rotation270 | FlipHorizontal).String(); got != "rot270|flipH" {
		t.Fatalf("got %q, want %q", got, "rot270|flipH")
	}
}

func BenchmarkDerive(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = Derive(Rotation270|FlipHorizontal, -0.125)
	}
}
