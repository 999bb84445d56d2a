package dex

import (
	"fmt"
	"math"
)

// ValueKind is the value_type of an encoded_value.
type ValueKind uint8

const (
	ValueByte         ValueKind = 0x00
	ValueShort        ValueKind = 0x02
	ValueChar         ValueKind = 0x03
	ValueInt          ValueKind = 0x04
	ValueLong         ValueKind = 0x06
	ValueFloat        ValueKind = 0x10
	ValueDouble       ValueKind = 0x11
	ValueMethodType   ValueKind = 0x15
	ValueMethodHandle ValueKind = 0x16
	ValueString       ValueKind = 0x17
	ValueType         ValueKind = 0x18
	ValueField        ValueKind = 0x19
	ValueMethod       ValueKind = 0x1a
	ValueEnum         ValueKind = 0x1b
	ValueArray        ValueKind = 0x1c
	ValueAnnotation   ValueKind = 0x1d
	ValueNull         ValueKind = 0x1e
	ValueBoolean      ValueKind = 0x1f
)

// maxValueDepth bounds nesting of arrays and annotations.
const maxValueDepth = 64

// Value is an encoded_value. Numeric kinds keep their payload in Bits:
// sign-extended for integral kinds, zero-extended for char, IEEE bits for
// float and double. Str holds string values and type descriptors.
type Value struct {
	Kind       ValueKind
	Bits       uint64
	Str        string
	Field      FieldID
	Method     MethodID
	Proto      Proto
	Index      int
	Array      []Value
	Annotation *EncodedAnnotation
}

// Int returns an int value.
func Int(v int32) Value { return Value{Kind: ValueInt, Bits: uint64(int64(v))} }

// Bool returns a boolean value.
func Bool(v bool) Value {
	if v {
		return Value{Kind: ValueBoolean, Bits: 1}
	}
	return Value{Kind: ValueBoolean}
}

// Float returns a float value.
func Float(v float32) Value { return Value{Kind: ValueFloat, Bits: uint64(math.Float32bits(v))} }

// String returns a string value.
func String(s string) Value { return Value{Kind: ValueString, Str: s} }

func (v Value) String() string {
	switch v.Kind {
	case ValueByte, ValueShort, ValueInt, ValueLong:
		return fmt.Sprintf("%d", int64(v.Bits))
	case ValueChar:
		return fmt.Sprintf("'\\u%04x'", v.Bits)
	case ValueFloat:
		return fmt.Sprintf("%gf", math.Float32frombits(uint32(v.Bits)))
	case ValueDouble:
		return fmt.Sprintf("%g", math.Float64frombits(v.Bits))
	case ValueString:
		return fmt.Sprintf("%q", v.Str)
	case ValueType:
		return v.Str
	case ValueField, ValueEnum:
		return v.Field.String()
	case ValueMethod:
		return v.Method.String()
	case ValueMethodType:
		return v.Proto.Descriptor()
	case ValueMethodHandle:
		return fmt.Sprintf("method_handle@%d", v.Index)
	case ValueArray:
		return fmt.Sprintf("array[%d]", len(v.Array))
	case ValueAnnotation:
		if v.Annotation != nil {
			return "@" + v.Annotation.Type
		}
	case ValueNull:
		return "null"
	case ValueBoolean:
		if v.Bits != 0 {
			return "true"
		}
		return "false"
	}
	return fmt.Sprintf("value(0x%02x)", uint8(v.Kind))
}

// maxWidth is the largest payload in bytes for kinds that carry one.
func (k ValueKind) maxWidth() int {
	switch k {
	case ValueByte:
		return 1
	case ValueShort, ValueChar:
		return 2
	case ValueInt, ValueFloat, ValueMethodType, ValueMethodHandle, ValueString, ValueType,
		ValueField, ValueMethod, ValueEnum:
		return 4
	case ValueLong, ValueDouble:
		return 8
	}
	return 0
}

func readBits(b []byte, kind ValueKind) uint64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	n := len(b)
	switch kind {
	case ValueByte, ValueShort, ValueInt, ValueLong:
		shift := uint(64 - 8*n)
		return uint64(int64(v<<shift) >> shift)
	case ValueFloat:
		return v << uint(8*(4-n))
	case ValueDouble:
		return v << uint(8*(8-n))
	}
	return v
}

// appendBits appends the value header and the shortest payload for bits.
func appendBits(b []byte, kind ValueKind, bits uint64) []byte {
	var n int
	var payload uint64
	switch kind {
	case ValueByte:
		n, payload = 1, bits
	case ValueShort, ValueInt, ValueLong:
		n = 1
		for n < 8 {
			shift := uint(64 - 8*n)
			if uint64(int64(bits<<shift)>>shift) == bits {
				break
			}
			n++
		}
		payload = bits
	case ValueFloat, ValueDouble:
		width := 4
		if kind == ValueDouble {
			width = 8
			payload = bits
		} else {
			payload = bits & 0xffffffff
		}
		n = width
		for n > 1 && payload&0xff == 0 {
			payload >>= 8
			n--
		}
	default:
		n = 1
		for n < 8 && bits>>(8*uint(n)) != 0 {
			n++
		}
		payload = bits
	}
	b = append(b, byte(n-1)<<5|byte(kind))
	for i := 0; i < n; i++ {
		b = append(b, byte(payload>>(8*uint(i))))
	}
	return b
}
