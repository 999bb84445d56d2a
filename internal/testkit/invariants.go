package testkit

import (
	"fmt"

	"fortio.org/safecast"

	"paccer/internal/dex"
)

// CheckReplacementBody runs the invariants every synthesized body must
// hold after a rewrite:
// 1) the body verifies against the method signature
// 2) there are no try blocks and no debug info
// 3) the opcode sequence is exactly want
// 4) the frame is locals+ins with the arguments in the top registers
func CheckReplacementBody(code *dex.Code, id dex.MethodID, static bool, want ...dex.Opcode) error {
	if code == nil {
		return fmt.Errorf("%s: no code", id)
	}
	if err := dex.VerifyCode(code, id, static); err != nil {
		return err
	}
	if len(code.Tries) != 0 {
		return fmt.Errorf("%s: %d try blocks left in replacement", id, len(code.Tries))
	}
	if code.Debug != nil {
		return fmt.Errorf("%s: debug info left in replacement", id)
	}
	insns, err := dex.Disassemble(code)
	if err != nil {
		return err
	}
	if len(insns) != len(want) {
		return fmt.Errorf("%s: %d instructions, want %d", id, len(insns), len(want))
	}
	for i, in := range insns {
		if in.Op != want[i] {
			return fmt.Errorf("%s: instruction %d is %s, want %s", id, i, in.Op, want[i])
		}
	}
	ins, err := safecast.Conv[uint16](dex.InsWords(id.Proto, static))
	if err != nil {
		return fmt.Errorf("ins overflow: %w", err)
	}
	if code.Ins != ins {
		return fmt.Errorf("%s: ins_size %d, want %d", id, code.Ins, ins)
	}
	var locals uint16
	for _, in := range insns {
		for _, r := range in.Regs {
			locals = max(locals, r+1)
		}
	}
	if code.Registers < locals+ins {
		return fmt.Errorf("%s: %d registers cannot hold %d locals and %d ins", id, code.Registers, locals, ins)
	}
	return nil
}
