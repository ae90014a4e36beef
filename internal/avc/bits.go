package avc

import "errors"

var errShortRBSP = errors.New("avc: RBSP data too short")

type bitReader struct {
	data []byte
	pos  int
	bit  int
}

func newBitReader(data []byte) *bitReader {
	return &bitReader{data: data}
}

func (br *bitReader) readBit() (uint, error) {
	if br.pos >= len(br.data) {
		return 0, errShortRBSP
	}
	val := uint((br.data[br.pos] >> (7 - br.bit)) & 1)
	br.bit++
	if br.bit == 8 {
		br.bit = 0
		br.pos++
	}
	return val, nil
}

func (br *bitReader) readBits(n int) (uint, error) {
	var val uint
	for i := 0; i < n; i++ {
		b, err := br.readBit()
		if err != nil {
			return 0, err
		}
		val = (val << 1) | b
	}
	return val, nil
}

func (br *bitReader) readUE() (uint, error) {
	zeros := 0
	for {
		b, err := br.readBit()
		if err != nil {
			return 0, err
		}
		if b == 1 {
			break
		}
		zeros++
		if zeros > 31 {
			return 0, errShortRBSP
		}
	}
	if zeros == 0 {
		return 0, nil
	}
	suffix, err := br.readBits(zeros)
	if err != nil {
		return 0, err
	}
	return (1 << zeros) - 1 + suffix, nil
}

func (br *bitReader) readSE() (int, error) {
	val, err := br.readUE()
	if err != nil {
		return 0, err
	}
	if val%2 == 0 {
		return -int(val / 2), nil
	}
	return int((val + 1) / 2), nil
}

func (br *bitReader) skipScalingList(size int) error {
	lastScale := 8
	nextScale := 8
	for j := 0; j < size; j++ {
		if nextScale != 0 {
			delta, err := br.readSE()
			if err != nil {
				return err
			}
			nextScale = (lastScale + delta + 256) % 256
		}
		if nextScale != 0 {
			lastScale = nextScale
		}
	}
	return nil
}

// bitWriter is the inverse of bitReader, producing RBSP bytes MSB first.
type bitWriter struct {
	buf  []byte
	cur  byte
	nbit int
}

func (bw *bitWriter) writeBit(b uint) {
	bw.cur = bw.cur<<1 | byte(b&1)
	bw.nbit++
	if bw.nbit == 8 {
		bw.buf = append(bw.buf, bw.cur)
		bw.cur, bw.nbit = 0, 0
	}
}

func (bw *bitWriter) writeBits(v uint, n int) {
	for i := n - 1; i >= 0; i-- {
		bw.writeBit(v >> uint(i))
	}
}

func (bw *bitWriter) writeFlag(f bool) {
	if f {
		bw.writeBit(1)
	} else {
		bw.writeBit(0)
	}
}

func (bw *bitWriter) writeUE(v uint) {
	v++
	n := 0
	for t := v; t > 1; t >>= 1 {
		n++
	}
	bw.writeBits(0, n)
	bw.writeBits(v, n+1)
}

func (bw *bitWriter) writeSE(v int) {
	if v > 0 {
		bw.writeUE(uint(2*v - 1))
	} else {
		bw.writeUE(uint(-2 * v))
	}
}

// trailing appends rbsp_trailing_bits and returns the byte-aligned RBSP.
func (bw *bitWriter) trailing() []byte {
	bw.writeBit(1)
	for bw.nbit != 0 {
		bw.writeBit(0)
	}
	return bw.buf
}

func removeEmulationPrevention(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if i+2 < len(data) && data[i] == 0 && data[i+1] == 0 && data[i+2] == 3 &&
			(i+3 >= len(data) || data[i+3] <= 3) {
			out = append(out, 0, 0)
			i += 2
		} else {
			out = append(out, data[i])
		}
	}
	return out
}

func addEmulationPrevention(rbsp []byte) []byte {
	out := make([]byte, 0, len(rbsp)+len(rbsp)/64)
	zeros := 0
	for _, b := range rbsp {
		if zeros >= 2 && b <= 3 {
			out = append(out, 3)
			zeros = 0
		}
		out = append(out, b)
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
	}
	return out
}
