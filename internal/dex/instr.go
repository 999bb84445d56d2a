package dex

import (
	"fmt"
	"strings"
)

// Instruction is a decoded instruction. Regs lists register operands in
// format order; range forms list every register of the range. Lit holds the
// literal as encoded, so high16 forms are not shifted. Target is a branch
// offset in code units relative to the instruction.
type Instruction struct {
	Op      Opcode
	Regs    []uint16
	Lit     int64
	Target  int32
	Ref     *Ref
	Proto   *Ref     // second index of invoke-polymorphic
	Payload []uint16 // whole payload when Op is a nop carrying one
}

// Units returns the encoded width of the instruction.
func (in Instruction) Units() int {
	if in.Payload != nil {
		return len(in.Payload)
	}
	return in.Op.Info().Format.Units()
}

func (in Instruction) String() string {
	if in.Payload != nil {
		return fmt.Sprintf("payload 0x%04x (%d units)", in.Payload[0], len(in.Payload))
	}
	info := in.Op.Info()
	var sb strings.Builder
	sb.WriteString(in.Op.String())
	var args []string
	switch info.Format {
	case Fmt35c, Fmt45cc:
		regs := make([]string, len(in.Regs))
		for i, r := range in.Regs {
			regs[i] = fmt.Sprintf("v%d", r)
		}
		args = append(args, "{"+strings.Join(regs, ", ")+"}")
	case Fmt3rc, Fmt4rcc:
		if len(in.Regs) == 0 {
			args = append(args, "{}")
		} else {
			args = append(args, fmt.Sprintf("{v%d .. v%d}", in.Regs[0], in.Regs[len(in.Regs)-1]))
		}
	default:
		for _, r := range in.Regs {
			args = append(args, fmt.Sprintf("v%d", r))
		}
	}
	switch info.Format {
	case Fmt11n, Fmt21s, Fmt21h, Fmt22b, Fmt22s, Fmt31i, Fmt51l:
		args = append(args, fmt.Sprintf("#%d", in.Lit))
	case Fmt10t, Fmt20t, Fmt30t, Fmt21t, Fmt22t, Fmt31t:
		args = append(args, fmt.Sprintf("%+d", in.Target))
	}
	if in.Ref != nil {
		args = append(args, in.Ref.String())
	}
	if in.Proto != nil {
		args = append(args, in.Proto.String())
	}
	if len(args) > 0 {
		sb.WriteByte(' ')
		sb.WriteString(strings.Join(args, ", "))
	}
	return sb.String()
}

// payloadUnits returns the width of the payload starting at insns[pos], or
// 0 if the unit there is a plain nop.
func payloadUnits(insns []uint16, pos int) (int, error) {
	switch insns[pos] {
	case PackedSwitchPayload:
		if pos+1 >= len(insns) {
			return 0, ErrTruncated
		}
		return int(insns[pos+1])*2 + 4, nil
	case SparseSwitchPayload:
		if pos+1 >= len(insns) {
			return 0, ErrTruncated
		}
		return int(insns[pos+1])*4 + 2, nil
	case FillArrayDataPayload:
		if pos+3 >= len(insns) {
			return 0, ErrTruncated
		}
		width := int(insns[pos+1])
		size := int(insns[pos+2]) | int(insns[pos+3])<<16
		return (size*width+1)/2 + 4, nil
	}
	return 0, nil
}

// decodeAt decodes the instruction at pos. refs resolves index operands;
// when nil, Ref stays nil.
func decodeAt(insns []uint16, pos int, refs map[int]*Ref) (Instruction, int, error) {
	u0 := insns[pos]
	op := Opcode(u0 & 0xff)
	if op == OpNop {
		n, err := payloadUnits(insns, pos)
		if err != nil {
			return Instruction{}, 0, err
		}
		if n > 0 {
			if pos+n > len(insns) {
				return Instruction{}, 0, ErrTruncated
			}
			return Instruction{Op: OpNop, Payload: insns[pos : pos+n]}, n, nil
		}
	}
	info := op.Info()
	size := info.Format.Units()
	if size == 0 {
		return Instruction{}, 0, fmt.Errorf("invalid opcode 0x%02x", uint8(op))
	}
	if pos+size > len(insns) {
		return Instruction{}, 0, ErrTruncated
	}
	u := insns[pos : pos+size]
	in := Instruction{Op: op}
	aa := u0 >> 8
	a4, b4 := (u0>>8)&0xf, u0>>12
	switch info.Format {
	case Fmt10x:
	case Fmt12x:
		in.Regs = []uint16{a4, b4}
	case Fmt11n:
		in.Regs = []uint16{a4}
		in.Lit = int64(int8(b4<<4) >> 4)
	case Fmt11x:
		in.Regs = []uint16{aa}
	case Fmt10t:
		in.Target = int32(int8(aa))
	case Fmt20t:
		in.Target = int32(int16(u[1]))
	case Fmt22x:
		in.Regs = []uint16{aa, u[1]}
	case Fmt21t:
		in.Regs = []uint16{aa}
		in.Target = int32(int16(u[1]))
	case Fmt21s, Fmt21h:
		in.Regs = []uint16{aa}
		in.Lit = int64(int16(u[1]))
	case Fmt21c:
		in.Regs = []uint16{aa}
	case Fmt23x:
		in.Regs = []uint16{aa, u[1] & 0xff, u[1] >> 8}
	case Fmt22b:
		in.Regs = []uint16{aa, u[1] & 0xff}
		in.Lit = int64(int8(u[1] >> 8))
	case Fmt22t:
		in.Regs = []uint16{a4, b4}
		in.Target = int32(int16(u[1]))
	case Fmt22s:
		in.Regs = []uint16{a4, b4}
		in.Lit = int64(int16(u[1]))
	case Fmt22c:
		in.Regs = []uint16{a4, b4}
	case Fmt30t:
		in.Target = int32(uint32(u[1]) | uint32(u[2])<<16)
	case Fmt32x:
		in.Regs = []uint16{u[1], u[2]}
	case Fmt31i:
		in.Regs = []uint16{aa}
		in.Lit = int64(int32(uint32(u[1]) | uint32(u[2])<<16))
	case Fmt31t:
		in.Regs = []uint16{aa}
		in.Target = int32(uint32(u[1]) | uint32(u[2])<<16)
	case Fmt31c:
		in.Regs = []uint16{aa}
	case Fmt35c, Fmt45cc:
		count := int(b4)
		if count > 5 {
			return Instruction{}, 0, fmt.Errorf("%s with %d registers", op, count)
		}
		all := [5]uint16{u[2] & 0xf, (u[2] >> 4) & 0xf, (u[2] >> 8) & 0xf, u[2] >> 12, a4}
		in.Regs = append([]uint16(nil), all[:count]...)
	case Fmt3rc, Fmt4rcc:
		count := int(aa)
		first := int(u[2])
		if first+count > 0x10000 {
			return Instruction{}, 0, fmt.Errorf("%s register range overflows", op)
		}
		in.Regs = make([]uint16, count)
		for i := range in.Regs {
			in.Regs[i] = uint16(first + i)
		}
	case Fmt51l:
		in.Regs = []uint16{aa}
		in.Lit = int64(uint64(u[1]) | uint64(u[2])<<16 | uint64(u[3])<<32 | uint64(u[4])<<48)
	}
	if refs != nil && info.Ref != RefNone {
		in.Ref = refs[pos+1]
		if info.Format == Fmt45cc || info.Format == Fmt4rcc {
			in.Proto = refs[pos+3]
		}
	}
	return in, size, nil
}

// refSlots lists the index operands of an instruction at pos: kind, code
// unit position and width.
func refSlots(op Opcode, pos int) []InsnRef {
	info := op.Info()
	switch info.Format {
	case Fmt21c, Fmt22c, Fmt35c, Fmt3rc:
		return []InsnRef{{Pos: pos + 1, Ref: Ref{Kind: info.Ref}}}
	case Fmt31c:
		return []InsnRef{{Pos: pos + 1, Wide: true, Ref: Ref{Kind: info.Ref}}}
	case Fmt45cc, Fmt4rcc:
		return []InsnRef{
			{Pos: pos + 1, Ref: Ref{Kind: RefMethod}},
			{Pos: pos + 3, Ref: Ref{Kind: RefProto}},
		}
	}
	return nil
}

// Disassemble decodes a method body into instructions.
func Disassemble(code *Code) ([]Instruction, error) {
	refs := make(map[int]*Ref, len(code.Refs))
	for i := range code.Refs {
		refs[code.Refs[i].Pos] = &code.Refs[i].Ref
	}
	var out []Instruction
	for pos := 0; pos < len(code.Insns); {
		in, n, err := decodeAt(code.Insns, pos, refs)
		if err != nil {
			return nil, fmt.Errorf("at 0x%04x: %w", pos, err)
		}
		out = append(out, in)
		pos += n
	}
	return out, nil
}

func checkReg(op Opcode, r uint16, limit uint16) error {
	if r > limit {
		return fmt.Errorf("%s: register v%d does not fit the format", op, r)
	}
	return nil
}

func checkRegs(in Instruction, n int) error {
	if len(in.Regs) != n {
		return fmt.Errorf("%s: want %d registers, have %d", in.Op, n, len(in.Regs))
	}
	return nil
}

func checkLit(op Opcode, v, lo, hi int64) error {
	if v < lo || v > hi {
		return fmt.Errorf("%s: literal %d out of range", op, v)
	}
	return nil
}

// Assemble encodes instructions. Index operands are left zero and returned
// as InsnRefs for Serialize to fill in.
func Assemble(insns []Instruction) ([]uint16, []InsnRef, error) {
	var units []uint16
	var refs []InsnRef
	for _, in := range insns {
		pos := len(units)
		if in.Payload != nil {
			units = append(units, in.Payload...)
			continue
		}
		enc, err := encode(in)
		if err != nil {
			return nil, nil, err
		}
		units = append(units, enc...)
		slots := refSlots(in.Op, pos)
		for i := range slots {
			ref := in.Ref
			if i == 1 {
				ref = in.Proto
			}
			if ref == nil {
				return nil, nil, fmt.Errorf("%s: missing %s reference", in.Op, slots[i].Kind)
			}
			if ref.Kind != slots[i].Kind {
				return nil, nil, fmt.Errorf("%s: want %s reference, have %s", in.Op, slots[i].Kind, ref.Kind)
			}
			slots[i].Ref = *ref
			refs = append(refs, slots[i])
		}
	}
	return units, refs, nil
}

func encode(in Instruction) ([]uint16, error) {
	info := in.Op.Info()
	op := uint16(in.Op)
	switch info.Format {
	case Fmt10x:
		return []uint16{op}, nil
	case Fmt12x, Fmt22t, Fmt22s, Fmt22c:
		if err := checkRegs(in, 2); err != nil {
			return nil, err
		}
		for _, r := range in.Regs {
			if err := checkReg(in.Op, r, 0xf); err != nil {
				return nil, err
			}
		}
		u0 := op | in.Regs[0]<<8 | in.Regs[1]<<12
		switch info.Format {
		case Fmt12x:
			return []uint16{u0}, nil
		case Fmt22t:
			if err := checkLit(in.Op, int64(in.Target), -0x8000, 0x7fff); err != nil {
				return nil, err
			}
			return []uint16{u0, uint16(int16(in.Target))}, nil
		case Fmt22s:
			if err := checkLit(in.Op, in.Lit, -0x8000, 0x7fff); err != nil {
				return nil, err
			}
			return []uint16{u0, uint16(int16(in.Lit))}, nil
		default:
			return []uint16{u0, 0}, nil
		}
	case Fmt11n:
		if err := checkRegs(in, 1); err != nil {
			return nil, err
		}
		if err := checkReg(in.Op, in.Regs[0], 0xf); err != nil {
			return nil, err
		}
		if err := checkLit(in.Op, in.Lit, -8, 7); err != nil {
			return nil, err
		}
		return []uint16{op | in.Regs[0]<<8 | (uint16(in.Lit)&0xf)<<12}, nil
	case Fmt11x:
		if err := checkRegs(in, 1); err != nil {
			return nil, err
		}
		if err := checkReg(in.Op, in.Regs[0], 0xff); err != nil {
			return nil, err
		}
		return []uint16{op | in.Regs[0]<<8}, nil
	case Fmt10t:
		if err := checkLit(in.Op, int64(in.Target), -0x80, 0x7f); err != nil {
			return nil, err
		}
		return []uint16{op | uint16(uint8(int8(in.Target)))<<8}, nil
	case Fmt20t:
		if err := checkLit(in.Op, int64(in.Target), -0x8000, 0x7fff); err != nil {
			return nil, err
		}
		return []uint16{op, uint16(int16(in.Target))}, nil
	case Fmt30t:
		t := uint32(in.Target)
		return []uint16{op, uint16(t), uint16(t >> 16)}, nil
	case Fmt22x, Fmt32x:
		if err := checkRegs(in, 2); err != nil {
			return nil, err
		}
		if info.Format == Fmt22x {
			if err := checkReg(in.Op, in.Regs[0], 0xff); err != nil {
				return nil, err
			}
			return []uint16{op | in.Regs[0]<<8, in.Regs[1]}, nil
		}
		return []uint16{op, in.Regs[0], in.Regs[1]}, nil
	case Fmt21t, Fmt21s, Fmt21h, Fmt21c, Fmt31i, Fmt31t, Fmt31c, Fmt51l:
		if err := checkRegs(in, 1); err != nil {
			return nil, err
		}
		if err := checkReg(in.Op, in.Regs[0], 0xff); err != nil {
			return nil, err
		}
		u0 := op | in.Regs[0]<<8
		switch info.Format {
		case Fmt21t:
			if err := checkLit(in.Op, int64(in.Target), -0x8000, 0x7fff); err != nil {
				return nil, err
			}
			return []uint16{u0, uint16(int16(in.Target))}, nil
		case Fmt21s, Fmt21h:
			if err := checkLit(in.Op, in.Lit, -0x8000, 0x7fff); err != nil {
				return nil, err
			}
			return []uint16{u0, uint16(int16(in.Lit))}, nil
		case Fmt21c:
			return []uint16{u0, 0}, nil
		case Fmt31i:
			if err := checkLit(in.Op, in.Lit, -0x80000000, 0x7fffffff); err != nil {
				return nil, err
			}
			v := uint32(int32(in.Lit))
			return []uint16{u0, uint16(v), uint16(v >> 16)}, nil
		case Fmt31t:
			t := uint32(in.Target)
			return []uint16{u0, uint16(t), uint16(t >> 16)}, nil
		case Fmt31c:
			return []uint16{u0, 0, 0}, nil
		default:
			v := uint64(in.Lit)
			return []uint16{u0, uint16(v), uint16(v >> 16), uint16(v >> 32), uint16(v >> 48)}, nil
		}
	case Fmt23x:
		if err := checkRegs(in, 3); err != nil {
			return nil, err
		}
		for _, r := range in.Regs {
			if err := checkReg(in.Op, r, 0xff); err != nil {
				return nil, err
			}
		}
		return []uint16{op | in.Regs[0]<<8, in.Regs[1] | in.Regs[2]<<8}, nil
	case Fmt22b:
		if err := checkRegs(in, 2); err != nil {
			return nil, err
		}
		for _, r := range in.Regs {
			if err := checkReg(in.Op, r, 0xff); err != nil {
				return nil, err
			}
		}
		if err := checkLit(in.Op, in.Lit, -0x80, 0x7f); err != nil {
			return nil, err
		}
		return []uint16{op | in.Regs[0]<<8, in.Regs[1] | uint16(uint8(int8(in.Lit)))<<8}, nil
	case Fmt35c, Fmt45cc:
		if len(in.Regs) > 5 {
			return nil, fmt.Errorf("%s: %d registers, at most 5", in.Op, len(in.Regs))
		}
		var r [5]uint16
		for i, reg := range in.Regs {
			if err := checkReg(in.Op, reg, 0xf); err != nil {
				return nil, err
			}
			r[i] = reg
		}
		u0 := op | r[4]<<8 | uint16(len(in.Regs))<<12
		u2 := r[0] | r[1]<<4 | r[2]<<8 | r[3]<<12
		if info.Format == Fmt45cc {
			return []uint16{u0, 0, u2, 0}, nil
		}
		return []uint16{u0, 0, u2}, nil
	case Fmt3rc, Fmt4rcc:
		if len(in.Regs) > 0xff {
			return nil, fmt.Errorf("%s: %d registers, at most 255", in.Op, len(in.Regs))
		}
		var first uint16
		if len(in.Regs) > 0 {
			first = in.Regs[0]
			for i, reg := range in.Regs {
				if int(reg) != int(first)+i {
					return nil, fmt.Errorf("%s: registers are not a contiguous range", in.Op)
				}
			}
		}
		u0 := op | uint16(len(in.Regs))<<8
		if info.Format == Fmt4rcc {
			return []uint16{u0, 0, first, 0}, nil
		}
		return []uint16{u0, 0, first}, nil
	}
	return nil, fmt.Errorf("cannot encode opcode 0x%02x", uint8(in.Op))
}
