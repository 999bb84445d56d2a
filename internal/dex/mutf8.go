package dex

import (
	"fmt"
	"strings"
)

// Strings are kept as their raw MUTF-8 bytes. The helpers below work on
// UTF-16 code units because that is what the format sorts and counts by.

// mutf8Units decodes s into UTF-16 code units.
func mutf8Units(s string, dst []uint16) ([]uint16, error) {
	dst = dst[:0]
	for i := 0; i < len(s); {
		b := s[i]
		switch {
		case b == 0:
			return nil, fmt.Errorf("embedded NUL at byte %d", i)
		case b < 0x80:
			dst = append(dst, uint16(b))
			i++
		case b&0xe0 == 0xc0:
			if i+1 >= len(s) || s[i+1]&0xc0 != 0x80 {
				return nil, fmt.Errorf("bad 2-byte sequence at byte %d", i)
			}
			dst = append(dst, uint16(b&0x1f)<<6|uint16(s[i+1]&0x3f))
			i += 2
		case b&0xf0 == 0xe0:
			if i+2 >= len(s) || s[i+1]&0xc0 != 0x80 || s[i+2]&0xc0 != 0x80 {
				return nil, fmt.Errorf("bad 3-byte sequence at byte %d", i)
			}
			dst = append(dst, uint16(b&0x0f)<<12|uint16(s[i+1]&0x3f)<<6|uint16(s[i+2]&0x3f))
			i += 3
		default:
			return nil, fmt.Errorf("invalid lead byte 0x%02x at byte %d", b, i)
		}
	}
	return dst, nil
}

// utf16Len counts the UTF-16 code units of a valid MUTF-8 string.
func utf16Len(s string) (int, error) {
	units, err := mutf8Units(s, nil)
	if err != nil {
		return 0, err
	}
	return len(units), nil
}

// compareStrings orders strings by UTF-16 code unit, falling back to byte
// order for input that does not decode.
func compareStrings(a, b string) int {
	if a == b {
		return 0
	}
	if isASCII(a) && isASCII(b) {
		return strings.Compare(a, b)
	}
	ua, errA := mutf8Units(a, nil)
	ub, errB := mutf8Units(b, nil)
	if errA != nil || errB != nil {
		switch {
		case a < b:
			return -1
		default:
			return 1
		}
	}
	for i := 0; i < len(ua) && i < len(ub); i++ {
		if ua[i] != ub[i] {
			if ua[i] < ub[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(ua) < len(ub):
		return -1
	case len(ua) > len(ub):
		return 1
	}
	return 0
}

// isASCII reports whether s needs no decoding to compare.
func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == 0 || s[i] >= 0x80 {
			return false
		}
	}
	return true
}
