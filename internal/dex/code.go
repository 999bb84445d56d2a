package dex

import (
	"errors"
	"fmt"

	"fortio.org/safecast"
)

func (p *parser) readCode(off uint32) (*Code, error) {
	if off%4 != 0 {
		return nil, formatErr(int(off), "misaligned code_item")
	}
	c := p.cur(off)
	code := &Code{
		Registers: c.u16(),
		Ins:       c.u16(),
		Outs:      c.u16(),
	}
	triesSize := c.u16()
	debugOff := c.u32()
	insnsSize := c.u32()
	if c.err != nil {
		return nil, c.err
	}
	if int64(insnsSize)*2 > int64(len(p.data)-c.off) {
		return nil, &FormatError{Off: c.off, Msg: fmt.Sprintf("insns of %d units out of bounds", insnsSize), Err: ErrTruncated}
	}
	if code.Ins > code.Registers {
		return nil, formatErr(int(off), "ins_size %d exceeds registers_size %d", code.Ins, code.Registers)
	}
	code.Insns = make([]uint16, insnsSize)
	for i := range code.Insns {
		code.Insns[i] = c.u16()
	}
	insnsAt := int(off) + 16
	refs, err := p.scanInsns(code.Insns, insnsAt)
	if err != nil {
		return nil, err
	}
	code.Refs = refs
	if triesSize > 0 {
		if insnsSize%2 == 1 {
			c.u16()
		}
		if code.Tries, err = p.readTries(c, int(triesSize)); err != nil {
			return nil, err
		}
	}
	if debugOff != 0 {
		if code.Debug, err = p.readDebug(debugOff); err != nil {
			return nil, err
		}
	}
	return code, c.err
}

// scanInsns walks the instruction stream, validates opcodes against the
// API level and resolves every index operand.
func (p *parser) scanInsns(insns []uint16, at int) ([]InsnRef, error) {
	var refs []InsnRef
	for pos := 0; pos < len(insns); {
		op := Opcode(insns[pos] & 0xff)
		if op == OpNop {
			n, err := payloadUnits(insns, pos)
			if err != nil {
				return nil, &FormatError{Off: at + 2*pos, Msg: "truncated payload", Err: err}
			}
			if n > 0 {
				if pos+n > len(insns) {
					return nil, &FormatError{Off: at + 2*pos, Msg: "payload runs past end of code", Err: ErrTruncated}
				}
				pos += n
				continue
			}
		}
		if !p.ops.Valid(op) {
			info := op.Info()
			if info.Format != FmtInvalid {
				return nil, formatErr(at+2*pos, "opcode %s requires api %d, have %d", op, info.MinAPI, p.ops.API)
			}
			return nil, formatErr(at+2*pos, "invalid opcode 0x%02x", uint8(op))
		}
		size := op.Info().Format.Units()
		if pos+size > len(insns) {
			return nil, &FormatError{Off: at + 2*pos, Msg: fmt.Sprintf("%s runs past end of code", op), Err: ErrTruncated}
		}
		for _, slot := range refSlots(op, pos) {
			idx := uint32(insns[slot.Pos])
			if slot.Wide {
				idx |= uint32(insns[slot.Pos+1]) << 16
			}
			r, err := p.resolve(slot.Kind, idx, at+2*slot.Pos)
			if err != nil {
				return nil, err
			}
			slot.Ref = *r
			refs = append(refs, slot)
		}
		pos += size
	}
	return refs, nil
}

func (p *parser) resolve(kind RefKind, idx uint32, at int) (*Ref, error) {
	switch kind {
	case RefString:
		s, err := p.str(idx, at)
		return StringRef(s), err
	case RefType:
		t, err := p.typ(idx, at)
		return TypeRef(t), err
	case RefField:
		f, err := p.field(idx, at)
		return FieldRef(f), err
	case RefMethod:
		m, err := p.method(idx, at)
		return MethodRef(m), err
	case RefProto:
		pr, err := p.proto(idx, at)
		return ProtoRef(pr), err
	case RefCallSite:
		if int64(idx) >= int64(len(p.f.CallSites)) {
			return nil, formatErr(at, "call site index %d out of range", idx)
		}
		return CallSiteRef(int(idx)), nil
	case RefMethodHandle:
		if int64(idx) >= int64(len(p.f.MethodHandles)) {
			return nil, formatErr(at, "method handle index %d out of range", idx)
		}
		return MethodHandleRef(int(idx)), nil
	}
	return nil, formatErr(at, "unexpected reference kind %s", kind)
}

func (p *parser) readTries(c *cursor, n int) ([]Try, error) {
	type rawTry struct {
		start      uint32
		count      uint16
		handlerOff uint16
	}
	raw := make([]rawTry, n)
	for i := range raw {
		raw[i] = rawTry{start: c.u32(), count: c.u16(), handlerOff: c.u16()}
	}
	if c.err != nil {
		return nil, c.err
	}
	listAt := c.off
	c.uleb() // handler count
	handlers := make(map[uint16]Handler)
	tries := make([]Try, n)
	for i, rt := range raw {
		h, ok := handlers[rt.handlerOff]
		if !ok {
			var err error
			if h, err = p.readHandler(c.at(listAt + int(rt.handlerOff))); err != nil {
				return nil, err
			}
			handlers[rt.handlerOff] = h
		}
		tries[i] = Try{Start: rt.start, Count: rt.count, Handler: h}
	}
	return tries, c.err
}

func (p *parser) readHandler(c *cursor) (Handler, error) {
	size := c.sleb()
	var h Handler
	n := size
	if size <= 0 {
		h.HasCatchAll = true
		n = -size
	}
	if n > 0x10000 {
		return Handler{}, formatErr(c.off, "catch handler with %d entries", n)
	}
	for i := int32(0); i < n; i++ {
		at := c.off
		t, err := p.typ(c.uleb(), at)
		if c.err != nil {
			return Handler{}, c.err
		}
		if err != nil {
			return Handler{}, err
		}
		h.Catches = append(h.Catches, Catch{Type: t, Addr: c.uleb()})
	}
	if h.HasCatchAll {
		h.CatchAll = c.uleb()
	}
	return h, c.err
}

func (p *parser) readDebug(off uint32) (*DebugInfo, error) {
	if d, ok := p.debug[off]; ok {
		return d, nil
	}
	c := p.cur(off)
	d := &DebugInfo{LineStart: c.uleb()}
	nParams := c.uleb()
	if c.err == nil && int64(nParams) > int64(len(p.data)-c.off) {
		return nil, formatErr(int(off), "debug_info with %d parameters out of bounds", nParams)
	}
	for i := uint32(0); i < nParams; i++ {
		at := c.off
		name, err := p.optStr(c.ulebp1(), at)
		if err != nil {
			return nil, err
		}
		d.ParamNames = append(d.ParamNames, name)
	}
	for c.err == nil {
		at := c.off
		op := DebugOp{Op: c.u8()}
		var err error
		switch op.Op {
		case DbgEndSequence:
			p.debug[off] = d
			return d, nil
		case DbgAdvancePC:
			if op.Delta, err = safecast.Conv[int32](c.uleb()); err != nil {
				return nil, formatErr(at, "advance_pc by %v", err)
			}
		case DbgAdvanceLine:
			op.Delta = c.sleb()
		case DbgStartLocal, DbgStartLocalExt:
			op.Reg = c.uleb()
			if op.Name, err = p.optStr(c.ulebp1(), at); err != nil {
				return nil, err
			}
			if op.Type, err = p.optType(c.ulebp1(), at); err != nil {
				return nil, err
			}
			if op.Op == DbgStartLocalExt {
				if op.Sig, err = p.optStr(c.ulebp1(), at); err != nil {
					return nil, err
				}
			}
		case DbgEndLocal, DbgRestartLocal:
			op.Reg = c.uleb()
		case DbgSetFile:
			if op.Name, err = p.optStr(c.ulebp1(), at); err != nil {
				return nil, err
			}
		}
		d.Ops = append(d.Ops, op)
	}
	if errors.Is(c.err, ErrTruncated) {
		return nil, &FormatError{Off: int(off), Msg: "unterminated debug_info_item", Err: ErrTruncated}
	}
	return nil, c.err
}
