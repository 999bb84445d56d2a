package dex

import (
	"encoding/binary"
	"fmt"
)

// cursor reads little-endian values from the image. The first failure
// sticks; later reads return zero values.
type cursor struct {
	data []byte
	off  int
	err  error
}

func (c *cursor) at(off int) *cursor {
	return &cursor{data: c.data, off: off, err: c.err}
}

func (c *cursor) fail(n int) {
	if c.err == nil {
		c.err = &FormatError{Off: c.off, Msg: fmt.Sprintf("need %d bytes", n), Err: ErrTruncated}
	}
}

func (c *cursor) need(n int) bool {
	if c.err != nil {
		return false
	}
	if n < 0 || c.off < 0 || c.off+n > len(c.data) {
		c.fail(n)
		return false
	}
	return true
}

func (c *cursor) u8() uint8 {
	if !c.need(1) {
		return 0
	}
	v := c.data[c.off]
	c.off++
	return v
}

func (c *cursor) u16() uint16 {
	if !c.need(2) {
		return 0
	}
	v := binary.LittleEndian.Uint16(c.data[c.off:])
	c.off += 2
	return v
}

func (c *cursor) u32() uint32 {
	if !c.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(c.data[c.off:])
	c.off += 4
	return v
}

func (c *cursor) bytes(n int) []byte {
	if !c.need(n) {
		return nil
	}
	v := c.data[c.off : c.off+n]
	c.off += n
	return v
}

func (c *cursor) uleb() uint32 {
	var v uint32
	for i := 0; i < 5; i++ {
		b := c.u8()
		if c.err != nil {
			return 0
		}
		v |= uint32(b&0x7f) << (7 * i)
		if b&0x80 == 0 {
			return v
		}
	}
	c.setErr("uleb128 longer than 5 bytes")
	return 0
}

func (c *cursor) sleb() int32 {
	var v uint32
	var shift uint
	for i := 0; i < 5; i++ {
		b := c.u8()
		if c.err != nil {
			return 0
		}
		v |= uint32(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			if shift < 32 && b&0x40 != 0 {
				v |= ^uint32(0) << shift
			}
			return int32(v)
		}
	}
	c.setErr("sleb128 longer than 5 bytes")
	return 0
}

// ulebp1 decodes uleb128p1; -1 means NoIndex.
func (c *cursor) ulebp1() int64 {
	return int64(c.uleb()) - 1
}

func (c *cursor) align(n int) {
	if r := c.off % n; r != 0 {
		c.off += n - r
	}
}

func (c *cursor) setErr(format string, args ...any) {
	if c.err == nil {
		c.err = formatErr(c.off, format, args...)
	}
}
