package dex

import (
	"fmt"
	"strings"
)

// ValidType reports whether desc is a well-formed field type descriptor.
func ValidType(desc string) bool {
	n, ok := typeLen(desc, 0)
	return ok && n == len(desc)
}

func typeLen(s string, i int) (int, bool) {
	start := i
	for i < len(s) && s[i] == '[' {
		i++
	}
	if i-start > 255 || i >= len(s) {
		return 0, false
	}
	switch s[i] {
	case 'Z', 'B', 'S', 'C', 'I', 'J', 'F', 'D':
		return i + 1 - start, true
	case 'L':
		end := strings.IndexByte(s[i:], ';')
		if end <= 1 {
			return 0, false
		}
		return i + end + 1 - start, true
	}
	return 0, false
}

// ParseProto parses a "(params)ret" method descriptor.
func ParseProto(desc string) (Proto, error) {
	if !strings.HasPrefix(desc, "(") {
		return Proto{}, fmt.Errorf("method descriptor %q: missing '('", desc)
	}
	end := strings.IndexByte(desc, ')')
	if end < 0 {
		return Proto{}, fmt.Errorf("method descriptor %q: missing ')'", desc)
	}
	var p Proto
	for i := 1; i < end; {
		n, ok := typeLen(desc[:end], i)
		if !ok {
			return Proto{}, fmt.Errorf("method descriptor %q: bad parameter at %d", desc, i)
		}
		p.Params = append(p.Params, desc[i:i+n])
		i += n
	}
	p.Return = desc[end+1:]
	if p.Return != "V" && !ValidType(p.Return) {
		return Proto{}, fmt.Errorf("method descriptor %q: bad return type", desc)
	}
	return p, nil
}

// ReturnKind classifies a return type the way return opcodes do.
type ReturnKind uint8

const (
	ReturnVoid ReturnKind = iota
	ReturnSingle
	ReturnWide
	ReturnObject
)

func (k ReturnKind) String() string {
	switch k {
	case ReturnVoid:
		return "void"
	case ReturnSingle:
		return "32-bit"
	case ReturnWide:
		return "wide"
	case ReturnObject:
		return "object"
	}
	return "unknown"
}

// KindOf returns the return kind for a type descriptor.
func KindOf(desc string) ReturnKind {
	if desc == "" || desc == "V" {
		return ReturnVoid
	}
	switch desc[0] {
	case 'J', 'D':
		return ReturnWide
	case 'L', '[':
		return ReturnObject
	}
	return ReturnSingle
}

// ReturnOpcode returns the instruction that returns a value of kind k.
func (k ReturnKind) ReturnOpcode() Opcode {
	switch k {
	case ReturnSingle:
		return OpReturn
	case ReturnWide:
		return OpReturnWide
	case ReturnObject:
		return OpReturnObject
	}
	return OpReturnVoid
}

// InsWords counts the argument registers of a method, including the
// receiver of instance methods.
func InsWords(p Proto, static bool) int {
	n := 0
	if !static {
		n++
	}
	for _, t := range p.Params {
		if KindOf(t) == ReturnWide {
			n += 2
		} else {
			n++
		}
	}
	return n
}

// PrettyType renders a descriptor as a Java type name.
func PrettyType(desc string) string {
	dims := 0
	for dims < len(desc) && desc[dims] == '[' {
		dims++
	}
	base := desc[dims:]
	var name string
	switch base {
	case "Z":
		name = "boolean"
	case "B":
		name = "byte"
	case "S":
		name = "short"
	case "C":
		name = "char"
	case "I":
		name = "int"
	case "J":
		name = "long"
	case "F":
		name = "float"
	case "D":
		name = "double"
	case "V":
		name = "void"
	default:
		if strings.HasPrefix(base, "L") && strings.HasSuffix(base, ";") {
			name = strings.ReplaceAll(base[1:len(base)-1], "/", ".")
		} else {
			name = base
		}
	}
	return name + strings.Repeat("[]", dims)
}

// PrettyMethod renders a method as "ret Class.name(params)".
func PrettyMethod(m MethodID) string {
	params := make([]string, len(m.Proto.Params))
	for i, p := range m.Proto.Params {
		params[i] = PrettyType(p)
	}
	return fmt.Sprintf("%s %s.%s(%s)", PrettyType(m.Proto.Return), PrettyType(m.Class), m.Name, strings.Join(params, ", "))
}
