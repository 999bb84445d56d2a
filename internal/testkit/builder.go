package testkit

import (
	"testing"

	"paccer/internal/dex"
)

const objectType = "Ljava/lang/Object;"

// Builder assembles small dex files in memory.
type Builder struct {
	f     *dex.File
	errOf error
}

// ClassBuilder adds members to one class.
type ClassBuilder struct {
	b   *Builder
	cls *dex.Class
}

// NewFile starts an empty version 035 file.
func NewFile() *Builder {
	return &Builder{f: &dex.File{Version: "035"}}
}

// Version overrides the container version.
func (b *Builder) Version(v string) *Builder {
	b.f.Version = v
	return b
}

// Class adds a public class extending java.lang.Object.
func (b *Builder) Class(desc string) *ClassBuilder {
	cls := &dex.Class{
		Type:   desc,
		Access: dex.AccPublic,
		Super:  objectType,
		Source: dex.Some("Fixture.java"),
	}
	b.f.Classes = append(b.f.Classes, cls)
	return &ClassBuilder{b: b, cls: cls}
}

// Field adds a field.
func (cb *ClassBuilder) Field(name, typ string, access uint32) *ClassBuilder {
	fld := &dex.Field{ID: dex.FieldID{Class: cb.cls.Type, Type: typ, Name: name}, Access: access}
	if access&dex.AccStatic != 0 {
		cb.cls.StaticFields = append(cb.cls.StaticFields, fld)
	} else {
		cb.cls.InstanceFields = append(cb.cls.InstanceFields, fld)
	}
	return cb
}

// Method adds a method with the given descriptor ("(I)Z") and body. Body
// registers are locals; the frame gets the argument registers on top.
func (cb *ClassBuilder) Method(name, desc string, access uint32, body ...dex.Instruction) *ClassBuilder {
	proto, err := dex.ParseProto(desc)
	if err != nil {
		cb.b.fail(err)
		return cb
	}
	m := &dex.Method{ID: dex.MethodID{Class: cb.cls.Type, Name: name, Proto: proto}, Access: access}
	if access&(dex.AccAbstract|dex.AccNative) == 0 {
		if m.Code, err = Code(m.ID, m.IsStatic(), body...); err != nil {
			cb.b.fail(err)
			return cb
		}
	}
	if access&(dex.AccStatic|dex.AccPrivate|dex.AccConstructor) != 0 {
		cb.cls.DirectMethods = append(cb.cls.DirectMethods, m)
	} else {
		cb.cls.VirtualMethods = append(cb.cls.VirtualMethods, m)
	}
	return cb
}

// End returns to the file builder.
func (cb *ClassBuilder) End() *Builder { return cb.b }

// Class returns the class under construction.
func (cb *ClassBuilder) Class() *dex.Class { return cb.cls }

func (b *Builder) fail(err error) {
	if b.errOf == nil {
		b.errOf = err
	}
}

// Code assembles body into a method implementation for id.
func Code(id dex.MethodID, static bool, body ...dex.Instruction) (*dex.Code, error) {
	insns, refs, err := dex.Assemble(body)
	if err != nil {
		return nil, err
	}
	var locals, outs uint16
	for _, in := range body {
		for _, r := range in.Regs {
			locals = max(locals, r+1)
		}
		if in.Op.IsInvoke() {
			outs = max(outs, uint16(len(in.Regs)))
		}
	}
	ins := uint16(dex.InsWords(id.Proto, static))
	return &dex.Code{
		Registers: locals + ins,
		Ins:       ins,
		Outs:      outs,
		Insns:     insns,
		Refs:      refs,
	}, nil
}

// File returns the built file or fails the test.
func (b *Builder) File(t testing.TB) *dex.File {
	t.Helper()
	if b.errOf != nil {
		t.Fatalf("fixture: %v", b.errOf)
	}
	return b.f
}

// Bytes serializes the built file or fails the test.
func (b *Builder) Bytes(t testing.TB) []byte {
	t.Helper()
	data, err := dex.Serialize(b.File(t))
	if err != nil {
		t.Fatalf("fixture: serialize: %v", err)
	}
	return data
}

// Body helpers.

// ReturnBool is the body `const/4 v0, #b; return v0`.
func ReturnBool(b bool) []dex.Instruction {
	var lit int64
	if b {
		lit = 1
	}
	return []dex.Instruction{
		{Op: dex.OpConst4, Regs: []uint16{0}, Lit: lit},
		{Op: dex.OpReturn, Regs: []uint16{0}},
	}
}

// ReturnNull is the body `const/4 v0, #0; return-object v0`.
func ReturnNull() []dex.Instruction {
	return []dex.Instruction{
		{Op: dex.OpConst4, Regs: []uint16{0}, Lit: 0},
		{Op: dex.OpReturnObject, Regs: []uint16{0}},
	}
}

// ReturnVoid is the body `return-void`.
func ReturnVoid() []dex.Instruction {
	return []dex.Instruction{{Op: dex.OpReturnVoid}}
}

// ReturnString loads a string constant and returns it.
func ReturnString(s string) []dex.Instruction {
	return []dex.Instruction{
		{Op: dex.OpConstString, Regs: []uint16{0}, Ref: dex.StringRef(s)},
		{Op: dex.OpReturnObject, Regs: []uint16{0}},
	}
}
