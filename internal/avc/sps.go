package avc

import (
	"errors"
	"fmt"
)

// H.264 NAL unit type constants as defined in ITU-T H.264 Table 7-1.
const (
	NALTypeSlice = 1
	NALTypeIDR   = 5
	NALTypeSEI   = 6
	NALTypeSPS   = 7
	NALTypePPS   = 8
	NALTypeAUD   = 9
)

// Profile and level written by BuildSPS.
const (
	ProfileBaseline = 66
	Level31         = 31

	// constrained_set0_flag | constrained_set1_flag
	constraintBaseline = 0xC0
)

// ErrDimensions is returned by BuildSPS for sizes a 4:2:0 stream cannot
// represent.
var ErrDimensions = errors.New("avc: width and height must be positive and even")

// SPSInfo holds parameters extracted from an H.264 Sequence Parameter Set.
type SPSInfo struct {
	Width           int
	Height          int
	ProfileIDC      byte
	ConstraintFlags byte
	LevelIDC        byte
}

// NALType returns the 5-bit type of a NAL unit without start code.
func NALType(nalu []byte) byte {
	if len(nalu) == 0 {
		return 0
	}
	return nalu[0] & 0x1F
}

// BuildSPS returns a Baseline profile, level 3.1 SPS NAL unit (header
// included, no start code) for a progressive width x height stream.
// Sizes that are not a multiple of 16 are signalled with frame cropping.
func BuildSPS(width, height int) ([]byte, error) {
	if width <= 0 || height <= 0 || width%2 != 0 || height%2 != 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrDimensions, width, height)
	}
	mbW := (width + 15) / 16
	mbH := (height + 15) / 16

	var bw bitWriter
	bw.writeBits(ProfileBaseline, 8)
	bw.writeBits(constraintBaseline, 8)
	bw.writeBits(Level31, 8)
	bw.writeUE(0) // seq_parameter_set_id
	bw.writeUE(0) // log2_max_frame_num_minus4
	bw.writeUE(2) // pic_order_cnt_type
	bw.writeUE(1) // max_num_ref_frames
	bw.writeFlag(false)
	bw.writeUE(uint(mbW - 1))
	bw.writeUE(uint(mbH - 1))
	bw.writeFlag(true) // frame_mbs_only_flag
	bw.writeFlag(true) // direct_8x8_inference_flag

	cropRight := (mbW*16 - width) / 2
	cropBottom := (mbH*16 - height) / 2
	cropping := cropRight != 0 || cropBottom != 0
	bw.writeFlag(cropping)
	if cropping {
		bw.writeUE(0)
		bw.writeUE(uint(cropRight))
		bw.writeUE(0)
		bw.writeUE(uint(cropBottom))
	}
	bw.writeFlag(false) // vui_parameters_present_flag

	return append([]byte{0x67}, addEmulationPrevention(bw.trailing())...), nil
}

// BuildPPS returns the CAVLC Picture Parameter Set paired with BuildSPS.
func BuildPPS() []byte {
	var bw bitWriter
	bw.writeUE(0) // pic_parameter_set_id
	bw.writeUE(0) // seq_parameter_set_id
	bw.writeFlag(false)
	bw.writeFlag(false)
	bw.writeUE(0) // num_slice_groups_minus1
	bw.writeUE(0)
	bw.writeUE(0)
	bw.writeFlag(false)
	bw.writeBits(0, 2)
	bw.writeSE(0) // pic_init_qp_minus26
	bw.writeSE(0)
	bw.writeSE(0)
	bw.writeFlag(true) // deblocking_filter_control_present_flag
	bw.writeFlag(false)
	bw.writeFlag(false)
	return append([]byte{0x68}, addEmulationPrevention(bw.trailing())...)
}

// ParseSPS parses an H.264 SPS NAL unit to extract resolution and
// profile/level. The input is the raw NAL data including the NAL header
// byte but without the start code.
func ParseSPS(nalu []byte) (SPSInfo, error) {
	if len(nalu) < 4 {
		return SPSInfo{}, errShortRBSP
	}
	if NALType(nalu) != NALTypeSPS {
		return SPSInfo{}, fmt.Errorf("avc: NAL type %d is not an SPS", NALType(nalu))
	}

	rbsp := removeEmulationPrevention(nalu[1:])
	br := newBitReader(rbsp)

	profileIdc, err := br.readBits(8)
	if err != nil {
		return SPSInfo{}, err
	}
	constraintFlags, err := br.readBits(8)
	if err != nil {
		return SPSInfo{}, err
	}
	levelIdc, err := br.readBits(8)
	if err != nil {
		return SPSInfo{}, err
	}
	if _, err := br.readUE(); err != nil {
		return SPSInfo{}, err
	}

	chromaFormatIdc := uint(1)
	separateColourPlane := false

	switch profileIdc {
	case 100, 110, 122, 244, 44, 83, 86, 118, 128, 138, 139, 134:
		chromaFormatIdc, err = br.readUE()
		if err != nil {
			return SPSInfo{}, err
		}
		if chromaFormatIdc == 3 {
			val, err := br.readBits(1)
			if err != nil {
				return SPSInfo{}, err
			}
			separateColourPlane = val == 1
		}
		if _, err := br.readUE(); err != nil {
			return SPSInfo{}, err
		}
		if _, err := br.readUE(); err != nil {
			return SPSInfo{}, err
		}
		if _, err := br.readBits(1); err != nil {
			return SPSInfo{}, err
		}
		seqScalingMatrixPresent, err := br.readBits(1)
		if err != nil {
			return SPSInfo{}, err
		}
		if seqScalingMatrixPresent == 1 {
			limit := 8
			if chromaFormatIdc == 3 {
				limit = 12
			}
			for i := 0; i < limit; i++ {
				flag, err := br.readBits(1)
				if err != nil {
					return SPSInfo{}, err
				}
				if flag == 1 {
					size := 16
					if i >= 6 {
						size = 64
					}
					if err := br.skipScalingList(size); err != nil {
						return SPSInfo{}, err
					}
				}
			}
		}
	}

	if _, err := br.readUE(); err != nil {
		return SPSInfo{}, err
	}
	picOrderCntType, err := br.readUE()
	if err != nil {
		return SPSInfo{}, err
	}
	switch picOrderCntType {
	case 0:
		if _, err := br.readUE(); err != nil {
			return SPSInfo{}, err
		}
	case 1:
		if _, err := br.readBits(1); err != nil {
			return SPSInfo{}, err
		}
		if _, err := br.readSE(); err != nil {
			return SPSInfo{}, err
		}
		if _, err := br.readSE(); err != nil {
			return SPSInfo{}, err
		}
		numRefFrames, err := br.readUE()
		if err != nil {
			return SPSInfo{}, err
		}
		if numRefFrames > 255 {
			return SPSInfo{}, fmt.Errorf("avc: %d reference frames in POC cycle", numRefFrames)
		}
		for i := uint(0); i < numRefFrames; i++ {
			if _, err := br.readSE(); err != nil {
				return SPSInfo{}, err
			}
		}
	}

	if _, err := br.readUE(); err != nil {
		return SPSInfo{}, err
	}
	if _, err := br.readBits(1); err != nil {
		return SPSInfo{}, err
	}
	picWidthMbs, err := br.readUE()
	if err != nil {
		return SPSInfo{}, err
	}
	picHeightMapUnits, err := br.readUE()
	if err != nil {
		return SPSInfo{}, err
	}
	frameMbsOnly, err := br.readBits(1)
	if err != nil {
		return SPSInfo{}, err
	}
	if frameMbsOnly == 0 {
		if _, err := br.readBits(1); err != nil {
			return SPSInfo{}, err
		}
	}
	if _, err := br.readBits(1); err != nil {
		return SPSInfo{}, err
	}

	var cropLeft, cropRight, cropTop, cropBottom uint
	frameCroppingFlag, err := br.readBits(1)
	if err != nil {
		return SPSInfo{}, err
	}
	if frameCroppingFlag == 1 {
		for _, dst := range []*uint{&cropLeft, &cropRight, &cropTop, &cropBottom} {
			if *dst, err = br.readUE(); err != nil {
				return SPSInfo{}, err
			}
		}
	}

	chromaArrayType := chromaFormatIdc
	if separateColourPlane {
		chromaArrayType = 0
	}
	subWidthC, subHeightC := uint(2), uint(2)
	switch chromaArrayType {
	case 0, 3:
		subWidthC, subHeightC = 1, 1
	case 2:
		subWidthC, subHeightC = 2, 1
	}
	cropUnitX := subWidthC
	cropUnitY := subHeightC * (2 - frameMbsOnly)

	width := int((picWidthMbs+1)*16) - int(cropUnitX*(cropLeft+cropRight))
	height := int((picHeightMapUnits+1)*16*(2-frameMbsOnly)) - int(cropUnitY*(cropTop+cropBottom))
	if width <= 0 || height <= 0 {
		return SPSInfo{}, fmt.Errorf("avc: cropping leaves %dx%d picture", width, height)
	}

	return SPSInfo{
		Width:           width,
		Height:          height,
		ProfileIDC:      byte(profileIdc),
		ConstraintFlags: byte(constraintFlags),
		LevelIDC:        byte(levelIdc),
	}, nil
}
