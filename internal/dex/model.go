package dex

import (
	"strconv"
	"strings"
)

// NoIndex marks an absent index in the file format.
const NoIndex = 0xffffffff

// Access flags used by the codec.
const (
	AccPublic       uint32 = 0x0001
	AccPrivate      uint32 = 0x0002
	AccProtected    uint32 = 0x0004
	AccStatic       uint32 = 0x0008
	AccFinal        uint32 = 0x0010
	AccSynchronized uint32 = 0x0020
	AccNative       uint32 = 0x0100
	AccInterface    uint32 = 0x0200
	AccAbstract     uint32 = 0x0400
	AccConstructor  uint32 = 0x10000
)

// File is a parsed dex image.
type File struct {
	Version string // "035" .. "040"

	// Pools as found in the input. Serialize keeps every entry, even if
	// nothing references it anymore, and adds whatever new code refers to.
	Strings []string
	Types   []string
	Protos  []Proto
	Fields  []FieldID
	Methods []MethodID

	Classes       []*Class
	CallSites     [][]Value
	MethodHandles []MethodHandle

	// HiddenAPI is set when the input carried a hiddenapi section.
	HiddenAPI bool
}

// Proto is a method prototype.
type Proto struct {
	Return string
	Params []string
}

// Descriptor renders the proto as "(params)ret".
func (p Proto) Descriptor() string {
	var sb strings.Builder
	sb.WriteByte('(')
	for _, t := range p.Params {
		sb.WriteString(t)
	}
	sb.WriteByte(')')
	sb.WriteString(p.Return)
	return sb.String()
}

// Shorty returns the short-form descriptor.
func (p Proto) Shorty() string {
	b := make([]byte, 0, len(p.Params)+1)
	b = append(b, shortyChar(p.Return))
	for _, t := range p.Params {
		b = append(b, shortyChar(t))
	}
	return string(b)
}

// Equal compares two protos element-wise.
func (p Proto) Equal(o Proto) bool {
	if p.Return != o.Return || len(p.Params) != len(o.Params) {
		return false
	}
	for i := range p.Params {
		if p.Params[i] != o.Params[i] {
			return false
		}
	}
	return true
}

func shortyChar(desc string) byte {
	if desc == "" {
		return 'V'
	}
	switch desc[0] {
	case 'L', '[':
		return 'L'
	}
	return desc[0]
}

// FieldID identifies a field.
type FieldID struct {
	Class string
	Type  string
	Name  string
}

func (f FieldID) String() string {
	return f.Class + "->" + f.Name + ":" + f.Type
}

// MethodID identifies a method by defining class, name and prototype.
type MethodID struct {
	Class string
	Name  string
	Proto Proto
}

func (m MethodID) String() string {
	return m.Class + "->" + m.Name + m.Proto.Descriptor()
}

func (m MethodID) key() string { return m.String() }

// OptString is a string reference that may be absent.
type OptString struct {
	Value string
	Valid bool
}

// Some returns a present OptString.
func Some(s string) OptString { return OptString{Value: s, Valid: true} }

// Class is a class definition together with its class data.
type Class struct {
	Type       string
	Access     uint32
	Super      string // "" when the class has no superclass
	Interfaces []string
	Source     OptString

	Annotations *Annotations

	StaticFields   []*Field
	InstanceFields []*Field
	DirectMethods  []*Method
	VirtualMethods []*Method

	// StaticValues is nil when the class has no static initial values.
	StaticValues []Value
}

// Field is an encoded field of a class.
type Field struct {
	ID        FieldID
	Access    uint32
	HiddenAPI uint32
}

// Method is an encoded method of a class. Code is nil for abstract and
// native methods.
type Method struct {
	ID        MethodID
	Access    uint32
	HiddenAPI uint32
	Code      *Code
}

// IsStatic reports whether the method takes no receiver.
func (m *Method) IsStatic() bool { return m.Access&AccStatic != 0 }

// Code is a method implementation.
type Code struct {
	Registers uint16
	Ins       uint16
	Outs      uint16

	Insns []uint16
	// Refs lists every index operand in Insns, by code unit position.
	Refs []InsnRef

	Tries []Try
	Debug *DebugInfo
}

// Try covers [Start, Start+Count) code units.
type Try struct {
	Start   uint32
	Count   uint16
	Handler Handler
}

// Handler is an encoded catch handler.
type Handler struct {
	Catches     []Catch
	HasCatchAll bool
	CatchAll    uint32
}

// Catch maps an exception type to a handler address.
type Catch struct {
	Type string
	Addr uint32
}

// RefKind says which pool an index operand refers to.
type RefKind uint8

const (
	RefNone RefKind = iota
	RefString
	RefType
	RefField
	RefMethod
	RefProto
	RefCallSite
	RefMethodHandle
)

func (k RefKind) String() string {
	switch k {
	case RefString:
		return "string"
	case RefType:
		return "type"
	case RefField:
		return "field"
	case RefMethod:
		return "method"
	case RefProto:
		return "proto"
	case RefCallSite:
		return "call_site"
	case RefMethodHandle:
		return "method_handle"
	}
	return "none"
}

// Ref is a symbolic pool reference.
type Ref struct {
	Kind   RefKind
	Str    string
	Type   string
	Field  FieldID
	Method MethodID
	Proto  Proto
	Index  int // call site or method handle
}

// StringRef, TypeRef, FieldRef and MethodRef build references.
func StringRef(s string) *Ref    { return &Ref{Kind: RefString, Str: s} }
func TypeRef(t string) *Ref      { return &Ref{Kind: RefType, Type: t} }
func FieldRef(f FieldID) *Ref    { return &Ref{Kind: RefField, Field: f} }
func MethodRef(m MethodID) *Ref  { return &Ref{Kind: RefMethod, Method: m} }
func ProtoRef(p Proto) *Ref      { return &Ref{Kind: RefProto, Proto: p} }
func CallSiteRef(i int) *Ref     { return &Ref{Kind: RefCallSite, Index: i} }
func MethodHandleRef(i int) *Ref { return &Ref{Kind: RefMethodHandle, Index: i} }

func (r *Ref) String() string {
	switch r.Kind {
	case RefString:
		return strconv.Quote(r.Str)
	case RefType:
		return r.Type
	case RefField:
		return r.Field.String()
	case RefMethod:
		return r.Method.String()
	case RefProto:
		return r.Proto.Descriptor()
	case RefCallSite:
		return "call_site@" + strconv.Itoa(r.Index)
	case RefMethodHandle:
		return "method_handle@" + strconv.Itoa(r.Index)
	}
	return "?"
}

// InsnRef is a reference stored at code unit Pos (two units when Wide).
type InsnRef struct {
	Pos  int
	Wide bool
	Ref
}

// MethodHandle is a method_handle_item.
type MethodHandle struct {
	Kind   uint16
	Field  FieldID
	Method MethodID
}

// IsField reports whether the handle refers to a field accessor.
func (h MethodHandle) IsField() bool { return h.Kind <= 3 }

// DebugInfo is a debug_info_item.
type DebugInfo struct {
	LineStart  uint32
	ParamNames []OptString
	Ops        []DebugOp
}

// Debug opcodes.
const (
	DbgEndSequence      = 0x00
	DbgAdvancePC        = 0x01
	DbgAdvanceLine      = 0x02
	DbgStartLocal       = 0x03
	DbgStartLocalExt    = 0x04
	DbgEndLocal         = 0x05
	DbgRestartLocal     = 0x06
	DbgSetPrologueEnd   = 0x07
	DbgSetEpilogueBegin = 0x08
	DbgSetFile          = 0x09
	dbgFirstSpecial     = 0x0a
)

// DebugOp is one state machine instruction. Delta carries the pc or line
// advance; Name doubles as the file name for DbgSetFile.
type DebugOp struct {
	Op    uint8
	Delta int32
	Reg   uint32
	Name  OptString
	Type  OptString
	Sig   OptString
}

// Annotation visibilities.
const (
	VisibilityBuild   = 0x00
	VisibilityRuntime = 0x01
	VisibilitySystem  = 0x02
)

// EncodedAnnotation is a type plus its name/value elements.
type EncodedAnnotation struct {
	Type     string
	Elements []AnnotationElement
}

// AnnotationElement is one name=value pair.
type AnnotationElement struct {
	Name  string
	Value Value
}

// Annotation is an annotation_item.
type Annotation struct {
	Visibility uint8
	EncodedAnnotation
}

// Annotations is a class's annotations_directory_item.
type Annotations struct {
	Class   []Annotation // nil when the class itself has none
	Fields  []FieldAnnotations
	Methods []MethodAnnotations
	Params  []ParamAnnotations
}

// FieldAnnotations binds a set to a field.
type FieldAnnotations struct {
	Field FieldID
	Set   []Annotation
}

// MethodAnnotations binds a set to a method.
type MethodAnnotations struct {
	Method MethodID
	Set    []Annotation
}

// ParamAnnotations holds one set per parameter; a nil set is written as a
// zero offset, an empty non-nil set as an empty annotation_set_item.
type ParamAnnotations struct {
	Method MethodID
	Sets   [][]Annotation
}
