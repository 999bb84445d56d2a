package dex

import (
	"errors"
	"fmt"
)

// ErrVerify is wrapped by every VerifyCode failure.
var ErrVerify = errors.New("dex: code verification failed")

// VerifyCode checks the structural invariants of a method body: the
// register frame holds the arguments, every instruction decodes, register
// operands stay inside the frame, invokes fit in the outs area and every
// return matches the declared return type.
func VerifyCode(code *Code, id MethodID, static bool) error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s: %s", ErrVerify, id, fmt.Sprintf(format, args...))
	}
	if code == nil {
		return fail("no code")
	}
	if want := InsWords(id.Proto, static); int(code.Ins) != want {
		return fail("ins_size %d, signature needs %d", code.Ins, want)
	}
	if code.Ins > code.Registers {
		return fail("ins_size %d exceeds registers_size %d", code.Ins, code.Registers)
	}
	if len(code.Insns) == 0 {
		return fail("empty body")
	}
	insns, err := Disassemble(code)
	if err != nil {
		return fail("%v", err)
	}
	want := KindOf(id.Proto.Return)
	for i, in := range insns {
		if in.Payload != nil {
			continue
		}
		for _, r := range in.Regs {
			if r >= code.Registers {
				return fail("instruction %d (%s) uses v%d outside %d registers", i, in.Op, r, code.Registers)
			}
		}
		if in.Op.IsInvoke() && len(in.Regs) > int(code.Outs) {
			return fail("instruction %d (%s) passes %d words, outs_size is %d", i, in.Op, len(in.Regs), code.Outs)
		}
		if in.Op.Info().Ref != RefNone && in.Ref == nil {
			return fail("instruction %d (%s) has no resolved reference", i, in.Op)
		}
		if in.Op.IsReturn() && in.Op != want.ReturnOpcode() {
			return fail("instruction %d is %s but the method returns %s", i, in.Op, PrettyType(id.Proto.Return))
		}
	}
	last := insns[len(insns)-1]
	if last.Payload == nil && !last.Op.IsReturn() && !last.Op.IsTerminal() {
		return fail("control falls off the end of the body")
	}
	return nil
}
