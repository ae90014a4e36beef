package avc

// startCode is the 4-byte Annex B start code the encoder writes.
var startCode = []byte{0, 0, 0, 1}

// SplitAnnexB splits an Annex B byte stream into NAL units, without start
// codes. Both 3-byte (0x000001) and 4-byte (0x00000001) start codes are
// recognized.
func SplitAnnexB(data []byte) [][]byte {
	n := len(data)
	if n < 4 {
		return nil
	}

	type scPos struct {
		scStart   int
		dataStart int
	}
	var positions []scPos
	i := 0
	for i < n-2 {
		if data[i] == 0 && data[i+1] == 0 {
			if i < n-3 && data[i+2] == 0 && data[i+3] == 1 {
				positions = append(positions, scPos{scStart: i, dataStart: i + 4})
				i += 4
				continue
			}
			if data[i+2] == 1 {
				positions = append(positions, scPos{scStart: i, dataStart: i + 3})
				i += 3
				continue
			}
		}
		i++
	}

	var units [][]byte
	for idx, pos := range positions {
		end := n
		if idx+1 < len(positions) {
			end = positions[idx+1].scStart
		}
		if pos.dataStart >= end {
			continue
		}
		units = append(units, data[pos.dataStart:end])
	}
	return units
}

// JoinAnnexB frames NAL units with 4-byte start codes.
func JoinAnnexB(units ...[]byte) []byte {
	size := 0
	for _, u := range units {
		size += len(startCode) + len(u)
	}
	out := make([]byte, 0, size)
	for _, u := range units {
		out = append(out, startCode...)
		out = append(out, u...)
	}
	return out
}

// ParameterSets returns the first SPS and PPS found in an Annex B codec
// configuration buffer.
func ParameterSets(data []byte) (sps, pps []byte) {
	for _, u := range SplitAnnexB(data) {
		switch NALType(u) {
		case NALTypeSPS:
			if sps == nil {
				sps = u
			}
		case NALTypePPS:
			if pps == nil {
				pps = u
			}
		}
	}
	return sps, pps
}
