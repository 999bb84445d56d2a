package dex

import (
	"cmp"
	"encoding/binary"
	"fmt"
	"slices"

	"fortio.org/safecast"
)

func (w *writer) allSets() [][]Annotation {
	var sets [][]Annotation
	for _, a := range w.annos {
		if a == nil {
			continue
		}
		if a.Class != nil {
			sets = append(sets, a.Class)
		}
		for _, fa := range a.Fields {
			sets = append(sets, fa.Set)
		}
		for _, ma := range a.Methods {
			sets = append(sets, ma.Set)
		}
		for _, pa := range a.Params {
			for _, set := range pa.Sets {
				if set != nil {
					sets = append(sets, set)
				}
			}
		}
	}
	return sets
}

func (w *writer) itemBytes(a *Annotation) ([]byte, error) {
	return w.appendEncoded([]byte{a.Visibility}, &a.EncodedAnnotation)
}

// setBytes encodes an annotation_set_item; items must already be written.
func (w *writer) setBytes(set []Annotation) ([]byte, error) {
	type entry struct{ typ, off uint32 }
	entries := make([]entry, len(set))
	for i := range set {
		b, err := w.itemBytes(&set[i])
		if err != nil {
			return nil, err
		}
		entries[i] = entry{typ: w.typeIdx[set[i].Type], off: w.itemOff[string(b)]}
	}
	slices.SortStableFunc(entries, func(a, b entry) int { return cmp.Compare(a.typ, b.typ) })
	out := binary.LittleEndian.AppendUint32(nil, w.size(len(entries)))
	for _, e := range entries {
		out = binary.LittleEndian.AppendUint32(out, e.off)
	}
	return out, nil
}

func (w *writer) lookupSet(set []Annotation) (uint32, error) {
	b, err := w.setBytes(set)
	if err != nil {
		return 0, err
	}
	return w.setOff[string(b)], nil
}

func (w *writer) writeAnnotations() error {
	sets := w.allSets()

	w.itemOff = make(map[string]uint32)
	start := w.off()
	for _, set := range sets {
		for i := range set {
			b, err := w.itemBytes(&set[i])
			if err != nil {
				return err
			}
			if _, ok := w.itemOff[string(b)]; ok {
				continue
			}
			w.itemOff[string(b)] = w.off()
			w.buf = append(w.buf, b...)
		}
	}
	w.addSection(typeAnnotationItem, len(w.itemOff), start)

	w.setOff = make(map[string]uint32)
	w.align4()
	start = w.off()
	for _, set := range sets {
		b, err := w.setBytes(set)
		if err != nil {
			return err
		}
		if _, ok := w.setOff[string(b)]; ok {
			continue
		}
		w.setOff[string(b)] = w.off()
		w.buf = append(w.buf, b...)
	}
	w.addSection(typeAnnotationSetItem, len(w.setOff), start)

	w.refListOff = make(map[string]uint32)
	start = w.off()
	for _, a := range w.annos {
		if a == nil {
			continue
		}
		for _, pa := range a.Params {
			b, err := w.refListBytes(pa.Sets)
			if err != nil {
				return err
			}
			if _, ok := w.refListOff[string(b)]; ok {
				continue
			}
			w.refListOff[string(b)] = w.off()
			w.buf = append(w.buf, b...)
		}
	}
	w.addSection(typeAnnotationSetRefList, len(w.refListOff), start)

	w.dirOff = make([]uint32, len(w.f.Classes))
	start = w.off()
	count := 0
	for i, a := range w.annos {
		if a == nil {
			continue
		}
		off, err := w.writeDirectory(a)
		if err != nil {
			return fmt.Errorf("dex: class %s annotations: %w", w.f.Classes[i].Type, err)
		}
		w.dirOff[i] = off
		count++
	}
	w.addSection(typeAnnotationsDirectoryItem, count, start)
	return nil
}

func (w *writer) refListBytes(sets [][]Annotation) ([]byte, error) {
	out := binary.LittleEndian.AppendUint32(nil, w.size(len(sets)))
	for _, set := range sets {
		var off uint32
		if set != nil {
			var err error
			if off, err = w.lookupSet(set); err != nil {
				return nil, err
			}
		}
		out = binary.LittleEndian.AppendUint32(out, off)
	}
	return out, nil
}

func (w *writer) writeDirectory(a *Annotations) (uint32, error) {
	type entry struct{ idx, off uint32 }
	var classOff uint32
	if a.Class != nil {
		var err error
		if classOff, err = w.lookupSet(a.Class); err != nil {
			return 0, err
		}
	}
	fields := make([]entry, len(a.Fields))
	for i, fa := range a.Fields {
		off, err := w.lookupSet(fa.Set)
		if err != nil {
			return 0, err
		}
		fields[i] = entry{idx: w.fieldIdx[fa.Field], off: off}
	}
	methods := make([]entry, len(a.Methods))
	for i, ma := range a.Methods {
		off, err := w.lookupSet(ma.Set)
		if err != nil {
			return 0, err
		}
		methods[i] = entry{idx: w.methodIdx[ma.Method.key()], off: off}
	}
	params := make([]entry, len(a.Params))
	for i, pa := range a.Params {
		b, err := w.refListBytes(pa.Sets)
		if err != nil {
			return 0, err
		}
		params[i] = entry{idx: w.methodIdx[pa.Method.key()], off: w.refListOff[string(b)]}
	}
	byIdx := func(x, y entry) int { return cmp.Compare(x.idx, y.idx) }
	slices.SortStableFunc(fields, byIdx)
	slices.SortStableFunc(methods, byIdx)
	slices.SortStableFunc(params, byIdx)

	w.align4()
	off := w.off()
	w.u32(classOff)
	w.u32(w.size(len(fields)))
	w.u32(w.size(len(methods)))
	w.u32(w.size(len(params)))
	for _, list := range [][]entry{fields, methods, params} {
		for _, e := range list {
			w.u32(e.idx)
			w.u32(e.off)
		}
	}
	return off, nil
}

func (w *writer) appendOptString(b []byte, s OptString) []byte {
	if !s.Valid {
		return appendUleb128(b, 0)
	}
	return appendUleb128p1(b, w.stringIdx[s.Value])
}

func (w *writer) appendOptType(b []byte, s OptString) []byte {
	if !s.Valid {
		return appendUleb128(b, 0)
	}
	return appendUleb128p1(b, w.typeIdx[s.Value])
}

func (w *writer) writeDebugInfo() error {
	w.debugOff = make(map[*DebugInfo]uint32)
	start := w.off()
	for _, sm := range w.members {
		for _, m := range sm.methods() {
			if m.Code == nil || m.Code.Debug == nil {
				continue
			}
			d := m.Code.Debug
			if _, ok := w.debugOff[d]; ok {
				continue
			}
			w.debugOff[d] = w.off()
			b := appendUleb128(nil, d.LineStart)
			b = appendUleb128(b, w.size(len(d.ParamNames)))
			for _, n := range d.ParamNames {
				b = w.appendOptString(b, n)
			}
			for _, op := range d.Ops {
				if op.Op == DbgEndSequence {
					continue
				}
				b = append(b, op.Op)
				switch op.Op {
				case DbgAdvancePC:
					delta, err := safecast.Conv[uint32](op.Delta)
					if err != nil {
						return fmt.Errorf("dex: advance_pc by %d: %w", op.Delta, err)
					}
					b = appendUleb128(b, delta)
				case DbgAdvanceLine:
					b = appendSleb128(b, op.Delta)
				case DbgStartLocal, DbgStartLocalExt:
					b = appendUleb128(b, op.Reg)
					b = w.appendOptString(b, op.Name)
					b = w.appendOptType(b, op.Type)
					if op.Op == DbgStartLocalExt {
						b = w.appendOptString(b, op.Sig)
					}
				case DbgEndLocal, DbgRestartLocal:
					b = appendUleb128(b, op.Reg)
				case DbgSetFile:
					b = w.appendOptString(b, op.Name)
				}
			}
			w.buf = append(append(w.buf, b...), DbgEndSequence)
		}
	}
	w.addSection(typeDebugInfoItem, len(w.debugOff), start)
	return nil
}

func (w *writer) writeCode() error {
	w.codeOff = make(map[*Method]uint32)
	w.align4()
	start := w.off()
	for _, sm := range w.members {
		for _, m := range sm.methods() {
			if m.Code == nil {
				continue
			}
			w.align4()
			w.codeOff[m] = w.off()
			if err := w.appendCode(m.Code); err != nil {
				return fmt.Errorf("dex: %s: %w", m.ID, err)
			}
		}
	}
	w.addSection(typeCodeItem, len(w.codeOff), start)
	return nil
}

func (w *writer) appendCode(c *Code) error {
	insns := slices.Clone(c.Insns)
	for i := range c.Refs {
		r := &c.Refs[i]
		if r.Pos < 0 || r.Pos >= len(insns) || (r.Wide && r.Pos+1 >= len(insns)) {
			return fmt.Errorf("reference at code unit %d outside the body", r.Pos)
		}
		idx, err := w.refIndex(&r.Ref)
		if err != nil {
			return err
		}
		if r.Wide {
			insns[r.Pos] = uint16(idx)
			insns[r.Pos+1] = uint16(idx >> 16)
			continue
		}
		if idx > 0xffff {
			return fmt.Errorf("%w: %s index %d at code unit %d needs a wider instruction", ErrIndexOverflow, r.Kind, idx, r.Pos)
		}
		insns[r.Pos] = uint16(idx)
	}
	tries, err := safecast.Conv[uint16](len(c.Tries))
	if err != nil {
		return fmt.Errorf("%d try blocks: %w", len(c.Tries), err)
	}
	var debugOff uint32
	if c.Debug != nil {
		debugOff = w.debugOff[c.Debug]
	}
	w.u16(c.Registers)
	w.u16(c.Ins)
	w.u16(c.Outs)
	w.u16(tries)
	w.u32(debugOff)
	w.u32(w.size(len(insns)))
	for _, u := range insns {
		w.u16(u)
	}
	if len(c.Tries) == 0 {
		return nil
	}
	if len(insns)%2 == 1 {
		w.u16(0)
	}
	var uniq [][]byte
	index := make(map[string]int)
	which := make([]int, len(c.Tries))
	for i, t := range c.Tries {
		hb, err := w.handlerBytes(t.Handler)
		if err != nil {
			return err
		}
		j, ok := index[string(hb)]
		if !ok {
			j = len(uniq)
			uniq = append(uniq, hb)
			index[string(hb)] = j
		}
		which[i] = j
	}
	offs := make([]int, len(uniq))
	o := uleb128Len(w.size(len(uniq)))
	for j, hb := range uniq {
		offs[j] = o
		o += len(hb)
	}
	for i, t := range c.Tries {
		off, err := safecast.Conv[uint16](offs[which[i]])
		if err != nil {
			return fmt.Errorf("catch handler list exceeds 64KiB: %w", err)
		}
		w.u32(t.Start)
		w.u16(t.Count)
		w.u16(off)
	}
	w.buf = appendUleb128(w.buf, w.size(len(uniq)))
	for _, hb := range uniq {
		w.buf = append(w.buf, hb...)
	}
	return nil
}

func (w *writer) handlerBytes(h Handler) ([]byte, error) {
	n := len(h.Catches)
	if n == 0 && !h.HasCatchAll {
		return nil, fmt.Errorf("empty catch handler")
	}
	if n > 0xffff {
		return nil, fmt.Errorf("catch handler with %d entries", n)
	}
	size := int32(n)
	if h.HasCatchAll {
		size = -size
	}
	b := appendSleb128(nil, size)
	for _, c := range h.Catches {
		b = appendUleb128(b, w.typeIdx[c.Type])
		b = appendUleb128(b, c.Addr)
	}
	if h.HasCatchAll {
		b = appendUleb128(b, h.CatchAll)
	}
	return b, nil
}

func (w *writer) sortFields(in []*Field) ([]*Field, error) {
	out := slices.Clone(in)
	slices.SortStableFunc(out, func(a, b *Field) int { return cmp.Compare(w.fieldIdx[a.ID], w.fieldIdx[b.ID]) })
	for i := 1; i < len(out); i++ {
		if out[i].ID == out[i-1].ID {
			return nil, fmt.Errorf("duplicate field %s", out[i].ID)
		}
	}
	return out, nil
}

func (w *writer) sortMethods(in []*Method) ([]*Method, error) {
	out := slices.Clone(in)
	slices.SortStableFunc(out, func(a, b *Method) int {
		return cmp.Compare(w.methodIdx[a.ID.key()], w.methodIdx[b.ID.key()])
	})
	for i := 1; i < len(out); i++ {
		if out[i].ID.key() == out[i-1].ID.key() {
			return nil, fmt.Errorf("duplicate method %s", out[i].ID)
		}
	}
	return out, nil
}

// sortMembers orders every class's members by pool index. Debug info, code
// items, class data and hiddenapi flags are all laid out in this order.
func (w *writer) sortMembers() error {
	w.members = make([]sortedMembers, len(w.f.Classes))
	w.annos = make([]*Annotations, len(w.f.Classes))
	for i, cls := range w.f.Classes {
		var sm sortedMembers
		var err error
		if sm.static, err = w.sortFields(cls.StaticFields); err == nil {
			if sm.instance, err = w.sortFields(cls.InstanceFields); err == nil {
				if sm.direct, err = w.sortMethods(cls.DirectMethods); err == nil {
					sm.virtual, err = w.sortMethods(cls.VirtualMethods)
				}
			}
		}
		if err != nil {
			return fmt.Errorf("dex: class %s: %w", cls.Type, err)
		}
		w.members[i] = sm
		if cls.Annotations != nil {
			w.annos[i] = w.sortAnnotations(cls.Annotations)
		}
	}
	return nil
}

// sortAnnotations returns a copy of a with sets and directory entries in
// the order they appear in the image.
func (w *writer) sortAnnotations(a *Annotations) *Annotations {
	bySetType := func(set []Annotation) []Annotation {
		if set == nil {
			return nil
		}
		out := slices.Clone(set)
		slices.SortStableFunc(out, func(x, y Annotation) int { return cmp.Compare(w.typeIdx[x.Type], w.typeIdx[y.Type]) })
		return out
	}
	out := &Annotations{Class: bySetType(a.Class)}
	for _, fa := range a.Fields {
		out.Fields = append(out.Fields, FieldAnnotations{Field: fa.Field, Set: bySetType(fa.Set)})
	}
	for _, ma := range a.Methods {
		out.Methods = append(out.Methods, MethodAnnotations{Method: ma.Method, Set: bySetType(ma.Set)})
	}
	for _, pa := range a.Params {
		sets := make([][]Annotation, len(pa.Sets))
		for j, set := range pa.Sets {
			sets[j] = bySetType(set)
		}
		out.Params = append(out.Params, ParamAnnotations{Method: pa.Method, Sets: sets})
	}
	slices.SortStableFunc(out.Fields, func(x, y FieldAnnotations) int {
		return cmp.Compare(w.fieldIdx[x.Field], w.fieldIdx[y.Field])
	})
	slices.SortStableFunc(out.Methods, func(x, y MethodAnnotations) int {
		return cmp.Compare(w.methodIdx[x.Method.key()], w.methodIdx[y.Method.key()])
	})
	slices.SortStableFunc(out.Params, func(x, y ParamAnnotations) int {
		return cmp.Compare(w.methodIdx[x.Method.key()], w.methodIdx[y.Method.key()])
	})
	return out
}

func (w *writer) writeClassData() error {
	w.classData = make([]uint32, len(w.f.Classes))
	start := w.off()
	count := 0
	for i, sm := range w.members {
		if sm.empty() {
			continue
		}
		w.classData[i] = w.off()
		count++
		b := appendUleb128(nil, w.size(len(sm.static)))
		b = appendUleb128(b, w.size(len(sm.instance)))
		b = appendUleb128(b, w.size(len(sm.direct)))
		b = appendUleb128(b, w.size(len(sm.virtual)))
		for _, list := range [][]*Field{sm.static, sm.instance} {
			var prev uint32
			for _, fld := range list {
				idx := w.fieldIdx[fld.ID]
				b = appendUleb128(b, idx-prev)
				b = appendUleb128(b, fld.Access)
				prev = idx
			}
		}
		for _, list := range [][]*Method{sm.direct, sm.virtual} {
			var prev uint32
			for _, m := range list {
				idx := w.methodIdx[m.ID.key()]
				b = appendUleb128(b, idx-prev)
				b = appendUleb128(b, m.Access)
				b = appendUleb128(b, w.codeOff[m])
				prev = idx
			}
		}
		w.buf = append(w.buf, b...)
	}
	w.addSection(typeClassDataItem, count, start)
	return nil
}

func (w *writer) writeHiddenAPI() error {
	if !w.f.HiddenAPI {
		return nil
	}
	w.align4()
	start := w.off()
	w.u32(0)
	for range w.f.Classes {
		w.u32(0)
	}
	for i, sm := range w.members {
		if sm.empty() {
			continue
		}
		w.put32(int(start)+4+4*i, w.off()-start)
		for _, fld := range sm.static {
			w.buf = appendUleb128(w.buf, fld.HiddenAPI)
		}
		for _, fld := range sm.instance {
			w.buf = appendUleb128(w.buf, fld.HiddenAPI)
		}
		for _, m := range sm.direct {
			w.buf = appendUleb128(w.buf, m.HiddenAPI)
		}
		for _, m := range sm.virtual {
			w.buf = appendUleb128(w.buf, m.HiddenAPI)
		}
	}
	w.put32(int(start), w.off()-start)
	w.addSection(typeHiddenAPIClassDataItem, 1, start)
	return nil
}

func (w *writer) writeMap() uint32 {
	w.align4()
	off := w.off()
	w.sections = append(w.sections, section{typ: typeMapList, count: 1, off: off})
	slices.SortStableFunc(w.sections, func(a, b section) int { return cmp.Compare(a.off, b.off) })
	w.u32(w.size(len(w.sections)))
	for _, s := range w.sections {
		w.u16(s.typ)
		w.u16(0)
		w.u32(s.count)
		w.u32(s.off)
	}
	return off
}

func (w *writer) writeIDs(strOff, typeOff, protoOff, fieldOff, methodOff, classOff, callSiteOff, handleOff uint32) error {
	for i := range w.strings {
		w.put32(int(strOff)+4*i, w.stringOff[i])
	}
	for i, t := range w.types {
		w.put32(int(typeOff)+4*i, w.stringIdx[t])
	}
	for i, p := range w.protos {
		at := int(protoOff) + 12*i
		w.put32(at, w.stringIdx[p.Shorty()])
		w.put32(at+4, w.typeIdx[p.Return])
		var params uint32
		if len(p.Params) > 0 {
			params = w.typeListOff[typeListKey(p.Params)]
		}
		w.put32(at+8, params)
	}
	for i, id := range w.fields {
		at := int(fieldOff) + 8*i
		w.put16(at, uint16(w.typeIdx[id.Class]))
		w.put16(at+2, uint16(w.typeIdx[id.Type]))
		w.put32(at+4, w.stringIdx[id.Name])
	}
	for i, id := range w.methods {
		at := int(methodOff) + 8*i
		w.put16(at, uint16(w.typeIdx[id.Class]))
		w.put16(at+2, uint16(w.protoIdx[id.Proto.Descriptor()]))
		w.put32(at+4, w.stringIdx[id.Name])
	}
	for i, cls := range w.f.Classes {
		at := int(classOff) + 32*i
		super, source := uint32(NoIndex), uint32(NoIndex)
		if cls.Super != "" {
			super = w.typeIdx[cls.Super]
		}
		if cls.Source.Valid {
			source = w.stringIdx[cls.Source.Value]
		}
		var ifaces uint32
		if len(cls.Interfaces) > 0 {
			ifaces = w.typeListOff[typeListKey(cls.Interfaces)]
		}
		w.put32(at, w.typeIdx[cls.Type])
		w.put32(at+4, cls.Access)
		w.put32(at+8, super)
		w.put32(at+12, ifaces)
		w.put32(at+16, source)
		w.put32(at+20, w.dirOff[i])
		w.put32(at+24, w.classData[i])
		w.put32(at+28, w.staticOff[i])
	}
	for i, off := range w.callSiteOff {
		w.put32(int(callSiteOff)+4*i, off)
	}
	for i, h := range w.f.MethodHandles {
		at := int(handleOff) + 8*i
		var idx uint32
		if h.IsField() {
			idx = w.fieldIdx[h.Field]
		} else {
			idx = w.methodIdx[h.Method.key()]
		}
		if idx > 0xffff {
			return fmt.Errorf("%w: method handle %d target index %d", ErrIndexOverflow, i, idx)
		}
		w.put16(at, h.Kind)
		w.put16(at+2, 0)
		w.put16(at+4, uint16(idx))
		w.put16(at+6, 0)
	}
	return nil
}
