package dex

// appendUleb128 appends v as unsigned LEB128.
func appendUleb128(b []byte, v uint32) []byte {
	for v >= 0x80 {
		b = append(b, byte(v)|0x80)
		v >>= 7
	}
	return append(b, byte(v))
}

// appendSleb128 appends v as signed LEB128.
func appendSleb128(b []byte, v int32) []byte {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && c&0x40 == 0) || (v == -1 && c&0x40 != 0) {
			return append(b, c)
		}
		b = append(b, c|0x80)
	}
}

// appendUleb128p1 appends v+1, so NoIndex encodes as 0.
func appendUleb128p1(b []byte, v uint32) []byte {
	return appendUleb128(b, v+1)
}

func uleb128Len(v uint32) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}
