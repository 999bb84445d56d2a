package synth

import (
	"errors"
	"fmt"

	"fortio.org/safecast"

	"paccer/internal/dex"
)

const (
	// ListType is the descriptor of java.util.List.
	ListType = "Ljava/util/List;"
	// CollectionsType is the descriptor of java.util.Collections.
	CollectionsType = "Ljava/util/Collections;"
)

var (
	// EmptyListMethod is Collections.emptyList().
	EmptyListMethod = dex.MethodID{
		Class: CollectionsType,
		Name:  "emptyList",
		Proto: dex.Proto{Return: ListType},
	}
	// EmptyListField is Collections.EMPTY_LIST.
	EmptyListField = dex.FieldID{Class: CollectionsType, Type: ListType, Name: "EMPTY_LIST"}
)

// ErrIncompatible reports a pattern bound to a method whose return type it
// cannot produce.
var ErrIncompatible = errors.New("pattern does not fit return type")

// Body is a replacement before it is placed in a method frame. Locals is
// the number of scratch registers the instructions use (v0..Locals-1);
// argument registers are added on top when the body is materialized.
type Body struct {
	Pattern Pattern
	Locals  uint16
	Outs    uint16
	Insns   []dex.Instruction
}

// Build returns the body for a pattern.
func Build(p Pattern) (Body, error) {
	const v0 = 0
	switch p {
	case ReturnFalse, ReturnTrue:
		var lit int64
		if p == ReturnTrue {
			lit = 1
		}
		return Body{
			Pattern: p,
			Locals:  1,
			Insns: []dex.Instruction{
				{Op: dex.OpConst4, Regs: []uint16{v0}, Lit: lit},
				{Op: dex.OpReturn, Regs: []uint16{v0}},
			},
		}, nil
	case ReturnEmptyList:
		return Body{
			Pattern: p,
			Locals:  1,
			Outs:    0,
			Insns: []dex.Instruction{
				{Op: dex.OpInvokeStatic, Regs: []uint16{}, Ref: dex.MethodRef(EmptyListMethod)},
				{Op: dex.OpMoveResultObject, Regs: []uint16{v0}},
				{Op: dex.OpReturnObject, Regs: []uint16{v0}},
			},
		}, nil
	case ReturnEmptyListField:
		return Body{
			Pattern: p,
			Locals:  1,
			Insns: []dex.Instruction{
				{Op: dex.OpSgetObject, Regs: []uint16{v0}, Ref: dex.FieldRef(EmptyListField)},
				{Op: dex.OpReturnObject, Regs: []uint16{v0}},
			},
		}, nil
	}
	return Body{}, fmt.Errorf("unknown pattern %d", uint8(p))
}

// Check verifies the body on its own: every register is one of the
// declared locals, invokes fit in Outs, and each return has the kind the
// return type needs.
func (b Body) Check(ret string) error {
	if !b.Pattern.Accepts(ret) {
		return fmt.Errorf("%w: %s cannot return %s", ErrIncompatible, b.Pattern, dex.PrettyType(ret))
	}
	want := dex.KindOf(ret).ReturnOpcode()
	sawReturn := false
	for i, in := range b.Insns {
		for _, r := range in.Regs {
			if r >= b.Locals {
				return fmt.Errorf("%w: %s instruction %d uses v%d, only %d locals", dex.ErrVerify, b.Pattern, i, r, b.Locals)
			}
		}
		if in.Op.IsInvoke() && len(in.Regs) > int(b.Outs) {
			return fmt.Errorf("%w: %s instruction %d passes %d words, outs is %d", dex.ErrVerify, b.Pattern, i, len(in.Regs), b.Outs)
		}
		if in.Op.IsReturn() {
			if in.Op != want {
				return fmt.Errorf("%w: %s returns with %s, %s needs %s", dex.ErrVerify, b.Pattern, in.Op, dex.PrettyType(ret), want)
			}
			sawReturn = true
		}
	}
	if !sawReturn || !b.Insns[len(b.Insns)-1].Op.IsReturn() {
		return fmt.Errorf("%w: %s does not end in a return", dex.ErrVerify, b.Pattern)
	}
	return nil
}

// Materialize places the body in the frame of method id: the register count
// is Locals plus the argument words, with no try blocks or debug info.
func (b Body) Materialize(id dex.MethodID, static bool) (*dex.Code, error) {
	if err := b.Check(id.Proto.Return); err != nil {
		return nil, err
	}
	ins, err := safecast.Conv[uint16](dex.InsWords(id.Proto, static))
	if err != nil {
		return nil, fmt.Errorf("%s: argument words: %w", id, err)
	}
	regs, err := safecast.Conv[uint16](int(b.Locals) + int(ins))
	if err != nil {
		return nil, fmt.Errorf("%s: register count: %w", id, err)
	}
	insns, refs, err := dex.Assemble(b.Insns)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Pattern, err)
	}
	code := &dex.Code{
		Registers: regs,
		Ins:       ins,
		Outs:      b.Outs,
		Insns:     insns,
		Refs:      refs,
	}
	if err := dex.VerifyCode(code, id, static); err != nil {
		return nil, err
	}
	return code, nil
}

// Synthesizer hands out replacement bodies, building each pattern once.
type Synthesizer struct {
	bodies map[Pattern]Body
}

// New returns an empty Synthesizer.
func New() *Synthesizer {
	return &Synthesizer{bodies: make(map[Pattern]Body, len(patternNames))}
}

// Replacement returns a fresh implementation of pattern p for method id.
func (s *Synthesizer) Replacement(p Pattern, id dex.MethodID, static bool) (*dex.Code, error) {
	b, ok := s.bodies[p]
	if !ok {
		var err error
		if b, err = Build(p); err != nil {
			return nil, err
		}
		s.bodies[p] = b
	}
	return b.Materialize(id, static)
}
