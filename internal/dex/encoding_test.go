package dex

import (
	"errors"
	"math"
	"slices"
	"testing"
)

func TestUleb128(t *testing.T) {
	tests := []struct {
		v    uint32
		want []byte
	}{
		{0, []byte{0x00}},
		{1, []byte{0x01}},
		{127, []byte{0x7f}},
		{128, []byte{0x80, 0x01}},
		{16256, []byte{0x80, 0x7f}},
		{math.MaxUint32, []byte{0xff, 0xff, 0xff, 0xff, 0x0f}},
	}
	for _, tt := range tests {
		got := appendUleb128(nil, tt.v)
		if !slices.Equal(got, tt.want) {
			t.Fatalf("appendUleb128(%d) = % x, want % x", tt.v, got, tt.want)
		}
		if n := uleb128Len(tt.v); n != len(tt.want) {
			t.Fatalf("uleb128Len(%d) = %d, want %d", tt.v, n, len(tt.want))
		}
		c := &cursor{data: got}
		if back := c.uleb(); back != tt.v || c.err != nil || c.off != len(got) {
			t.Fatalf("uleb(% x) = %d, off %d, err %v", got, back, c.off, c.err)
		}
	}
}

func TestSleb128(t *testing.T) {
	tests := []struct {
		v    int32
		want []byte
	}{
		{0, []byte{0x00}},
		{1, []byte{0x01}},
		{-1, []byte{0x7f}},
		{63, []byte{0x3f}},
		{64, []byte{0xc0, 0x00}},
		{-64, []byte{0x40}},
		{-128, []byte{0x80, 0x7f}},
	}
	for _, tt := range tests {
		got := appendSleb128(nil, tt.v)
		if !slices.Equal(got, tt.want) {
			t.Fatalf("appendSleb128(%d) = % x, want % x", tt.v, got, tt.want)
		}
		c := &cursor{data: got}
		if back := c.sleb(); back != tt.v || c.err != nil {
			t.Fatalf("sleb(% x) = %d, err %v", got, back, c.err)
		}
	}
	for _, v := range []int32{math.MaxInt32, math.MinInt32, 1 << 20, -(1 << 20)} {
		c := &cursor{data: appendSleb128(nil, v)}
		if back := c.sleb(); back != v {
			t.Fatalf("sleb round trip %d -> %d", v, back)
		}
	}
}

func TestUleb128p1(t *testing.T) {
	c := &cursor{data: appendUleb128p1(nil, math.MaxUint32)}
	if got := c.ulebp1(); got != -1 {
		t.Fatalf("NoIndex decodes as %d", got)
	}
	c = &cursor{data: appendUleb128p1(nil, 41)}
	if got := c.ulebp1(); got != 41 {
		t.Fatalf("ulebp1 = %d", got)
	}
}

func TestCursorErrors(t *testing.T) {
	c := &cursor{data: []byte{0x80, 0x80}}
	c.uleb()
	if !errors.Is(c.err, ErrTruncated) {
		t.Fatalf("truncated uleb: err = %v", c.err)
	}

	c = &cursor{data: []byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x00}}
	c.uleb()
	var fe *FormatError
	if !errors.As(c.err, &fe) || errors.Is(c.err, ErrTruncated) {
		t.Fatalf("overlong uleb: err = %v", c.err)
	}

	// the first failure sticks
	c = &cursor{data: []byte{1, 2, 3}}
	c.u32()
	first := c.err
	if c.u8() != 0 || c.err != first {
		t.Fatal("read after failure was not ignored")
	}
}

func TestMUTF8Units(t *testing.T) {
	tests := []struct {
		in   string
		want []uint16
	}{
		{"", nil},
		{"abc", []uint16{'a', 'b', 'c'}},
		{"\xc0\x80", []uint16{0}},
		{"\xc3\xa9", []uint16{0xe9}},
		{"\xe2\x82\xac", []uint16{0x20ac}},
		// U+1F600 as a surrogate pair, each half three bytes
		{"\xed\xa0\xbd\xed\xb8\x80", []uint16{0xd83d, 0xde00}},
	}
	for _, tt := range tests {
		got, err := mutf8Units(tt.in, nil)
		if err != nil {
			t.Fatalf("mutf8Units(%q): %v", tt.in, err)
		}
		if !slices.Equal(got, tt.want) {
			t.Fatalf("mutf8Units(%q) = %x, want %x", tt.in, got, tt.want)
		}
	}
	for _, bad := range []string{"a\x00b", "\xc3", "\xe2\x82", "\xf0\x9f\x98\x80", "\x80"} {
		if _, err := mutf8Units(bad, nil); err == nil {
			t.Fatalf("mutf8Units(%q) accepted invalid input", bad)
		}
	}
	if n, err := utf16Len("\xed\xa0\xbd\xed\xb8\x80x"); err != nil || n != 3 {
		t.Fatalf("utf16Len = %d, %v", n, err)
	}
}

func TestCompareStrings(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"a", "a", 0},
		{"a", "b", -1},
		{"ab", "a", 1},
		// encoded NUL is code unit 0 and sorts before U+0001 despite its lead byte
		{"\xc0\x80", "\x01", -1},
		// U+FFFF sorts after a surrogate pair in UTF-16 order
		{"\xef\xbf\xbf", "\xed\xa0\xbd\xed\xb8\x80", 1},
		{"Lcom/a;", "Lcom/b;", -1},
	}
	for _, tt := range tests {
		if got := compareStrings(tt.a, tt.b); got != tt.want {
			t.Fatalf("compareStrings(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
		if got := compareStrings(tt.b, tt.a); got != -tt.want {
			t.Fatalf("compareStrings(%q, %q) = %d, want %d", tt.b, tt.a, got, -tt.want)
		}
	}
}
