package glproto

// readBits reads width bits starting at bit offset off (MSB first)
func readBits(b []byte, off, width uint) uint64 {
	var v uint64
	for i := uint(0); i < width; i++ {
		bit := off + i
		v = v<<1 | uint64(b[bit/8]>>(7-bit%8)&1)
	}
	return v
}

// writeBits ORs the low width bits of v into b at bit offset off.
// The target bits must be zero.
func writeBits(b []byte, off, width uint, v uint64) {
	for i := uint(0); i < width; i++ {
		if v>>(width-1-i)&1 == 0 {
			continue
		}
		bit := off + i
		b[bit/8] |= 1 << (7 - bit%8)
	}
}

// signExtend interprets the low width bits of v as two's complement
func signExtend(v uint64, width uint) int64 {
	if v&(uint64(1)<<(width-1)) != 0 {
		return int64(v) - int64(1)<<width
	}
	return int64(v)
}
