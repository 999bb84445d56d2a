package dex

import (
	"cmp"
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"hash/adler32"
	"slices"
	"strings"

	"fortio.org/safecast"
)

type section struct {
	typ   uint16
	count uint32
	off   uint32
}

type writer struct {
	f *File

	stringIdx map[string]uint32
	typeIdx   map[string]uint32
	protoIdx  map[string]uint32
	fieldIdx  map[FieldID]uint32
	methodIdx map[string]uint32

	strings []string
	types   []string
	protos  []Proto
	fields  []FieldID
	methods []MethodID

	buf      []byte
	sections []section

	stringOff   []uint32
	typeListOff map[string]uint32
	callSiteOff []uint32
	staticOff   []uint32
	itemOff     map[string]uint32
	setOff      map[string]uint32
	refListOff  map[string]uint32
	dirOff      []uint32
	debugOff    map[*DebugInfo]uint32
	codeOff     map[*Method]uint32
	classData   []uint32
	members     []sortedMembers
	annos       []*Annotations

	// err holds the first length that did not fit a 32-bit field.
	err error
}

type sortedMembers struct {
	static, instance []*Field
	direct, virtual  []*Method
}

func (s sortedMembers) empty() bool {
	return len(s.static)+len(s.instance)+len(s.direct)+len(s.virtual) == 0
}

func (s sortedMembers) methods() []*Method {
	return append(slices.Clone(s.direct), s.virtual...)
}

// Serialize writes f as a complete dex image with fresh pools, layout,
// signature and checksum.
func Serialize(f *File) ([]byte, error) {
	if !slices.Contains(SupportedVersions, f.Version) {
		return nil, fmt.Errorf("dex: cannot write version %q", f.Version)
	}
	w := &writer{
		f:         f,
		stringIdx: make(map[string]uint32),
		typeIdx:   make(map[string]uint32),
		protoIdx:  make(map[string]uint32),
		fieldIdx:  make(map[FieldID]uint32),
		methodIdx: make(map[string]uint32),
	}
	if err := w.collect(); err != nil {
		return nil, err
	}
	if err := w.sortPools(); err != nil {
		return nil, err
	}
	return w.write()
}

// Interning. Index maps double as the membership sets until sortPools
// assigns real indices.

func (w *writer) addString(s string) { w.stringIdx[s] = 0 }

func (w *writer) addType(t string) {
	if _, ok := w.typeIdx[t]; ok {
		return
	}
	w.typeIdx[t] = 0
	w.addString(t)
}

func (w *writer) addProto(p Proto) {
	k := p.Descriptor()
	if _, ok := w.protoIdx[k]; ok {
		return
	}
	w.protoIdx[k] = 0
	w.protos = append(w.protos, p)
	w.addString(p.Shorty())
	w.addType(p.Return)
	for _, t := range p.Params {
		w.addType(t)
	}
}

func (w *writer) addField(id FieldID) {
	if _, ok := w.fieldIdx[id]; ok {
		return
	}
	w.fieldIdx[id] = 0
	w.fields = append(w.fields, id)
	w.addType(id.Class)
	w.addType(id.Type)
	w.addString(id.Name)
}

func (w *writer) addMethod(id MethodID) {
	k := id.key()
	if _, ok := w.methodIdx[k]; ok {
		return
	}
	w.methodIdx[k] = 0
	w.methods = append(w.methods, id)
	w.addType(id.Class)
	w.addString(id.Name)
	w.addProto(id.Proto)
}

func (w *writer) addOpt(s OptString) {
	if s.Valid {
		w.addString(s.Value)
	}
}

func (w *writer) addRef(r *Ref) error {
	switch r.Kind {
	case RefString:
		w.addString(r.Str)
	case RefType:
		w.addType(r.Type)
	case RefField:
		w.addField(r.Field)
	case RefMethod:
		w.addMethod(r.Method)
	case RefProto:
		w.addProto(r.Proto)
	case RefCallSite:
		if r.Index < 0 || r.Index >= len(w.f.CallSites) {
			return fmt.Errorf("dex: call site %d out of range", r.Index)
		}
	case RefMethodHandle:
		if r.Index < 0 || r.Index >= len(w.f.MethodHandles) {
			return fmt.Errorf("dex: method handle %d out of range", r.Index)
		}
	default:
		return fmt.Errorf("dex: reference of kind %s", r.Kind)
	}
	return nil
}

func (w *writer) addValue(v Value, depth int) error {
	if depth > maxValueDepth {
		return fmt.Errorf("dex: encoded values nested deeper than %d", maxValueDepth)
	}
	switch v.Kind {
	case ValueString:
		w.addString(v.Str)
	case ValueType:
		w.addType(v.Str)
	case ValueField, ValueEnum:
		w.addField(v.Field)
	case ValueMethod:
		w.addMethod(v.Method)
	case ValueMethodType:
		w.addProto(v.Proto)
	case ValueArray:
		for _, e := range v.Array {
			if err := w.addValue(e, depth+1); err != nil {
				return err
			}
		}
	case ValueAnnotation:
		if v.Annotation == nil {
			return fmt.Errorf("dex: annotation value without annotation")
		}
		return w.addEncoded(v.Annotation, depth+1)
	}
	return nil
}

func (w *writer) addEncoded(a *EncodedAnnotation, depth int) error {
	w.addType(a.Type)
	for _, e := range a.Elements {
		w.addString(e.Name)
		if err := w.addValue(e.Value, depth); err != nil {
			return err
		}
	}
	return nil
}

func (w *writer) addSet(set []Annotation) error {
	for i := range set {
		if err := w.addEncoded(&set[i].EncodedAnnotation, 0); err != nil {
			return err
		}
	}
	return nil
}

func (w *writer) collect() error {
	f := w.f
	for _, s := range f.Strings {
		w.addString(s)
	}
	for _, t := range f.Types {
		w.addType(t)
	}
	for _, p := range f.Protos {
		w.addProto(p)
	}
	for _, id := range f.Fields {
		w.addField(id)
	}
	for _, id := range f.Methods {
		w.addMethod(id)
	}
	for _, cs := range f.CallSites {
		for _, v := range cs {
			if err := w.addValue(v, 0); err != nil {
				return err
			}
		}
	}
	for _, h := range f.MethodHandles {
		if h.IsField() {
			w.addField(h.Field)
		} else {
			w.addMethod(h.Method)
		}
	}
	seen := make(map[string]bool, len(f.Classes))
	for _, cls := range f.Classes {
		if seen[cls.Type] {
			return fmt.Errorf("dex: duplicate class definition %s", cls.Type)
		}
		seen[cls.Type] = true
		if err := w.collectClass(cls); err != nil {
			return fmt.Errorf("dex: class %s: %w", cls.Type, err)
		}
	}
	return nil
}

func (w *writer) collectClass(cls *Class) error {
	w.addType(cls.Type)
	if cls.Super != "" {
		w.addType(cls.Super)
	}
	for _, t := range cls.Interfaces {
		w.addType(t)
	}
	w.addOpt(cls.Source)
	for _, fs := range [][]*Field{cls.StaticFields, cls.InstanceFields} {
		for _, fld := range fs {
			w.addField(fld.ID)
		}
	}
	for _, m := range cls.Methods() {
		w.addMethod(m.ID)
		if m.Code == nil {
			continue
		}
		for i := range m.Code.Refs {
			if err := w.addRef(&m.Code.Refs[i].Ref); err != nil {
				return err
			}
		}
		for _, t := range m.Code.Tries {
			for _, c := range t.Handler.Catches {
				w.addType(c.Type)
			}
		}
		if d := m.Code.Debug; d != nil {
			for _, n := range d.ParamNames {
				w.addOpt(n)
			}
			for _, op := range d.Ops {
				w.addOpt(op.Name)
				w.addOpt(op.Sig)
				if op.Type.Valid {
					w.addType(op.Type.Value)
				}
			}
		}
	}
	for _, v := range cls.StaticValues {
		if err := w.addValue(v, 0); err != nil {
			return err
		}
	}
	if a := cls.Annotations; a != nil {
		if err := w.addSet(a.Class); err != nil {
			return err
		}
		for _, fa := range a.Fields {
			w.addField(fa.Field)
			if err := w.addSet(fa.Set); err != nil {
				return err
			}
		}
		for _, ma := range a.Methods {
			w.addMethod(ma.Method)
			if err := w.addSet(ma.Set); err != nil {
				return err
			}
		}
		for _, pa := range a.Params {
			w.addMethod(pa.Method)
			for _, set := range pa.Sets {
				if err := w.addSet(set); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (w *writer) sortPools() error {
	w.strings = make([]string, 0, len(w.stringIdx))
	for s := range w.stringIdx {
		w.strings = append(w.strings, s)
	}
	slices.SortFunc(w.strings, compareStrings)
	for i, s := range w.strings {
		w.stringIdx[s] = w.size(i)
	}

	w.types = make([]string, 0, len(w.typeIdx))
	for t := range w.typeIdx {
		w.types = append(w.types, t)
	}
	slices.SortFunc(w.types, func(a, b string) int { return cmp.Compare(w.stringIdx[a], w.stringIdx[b]) })
	if len(w.types) > 0x10000 {
		return fmt.Errorf("%w: %d types", ErrIndexOverflow, len(w.types))
	}
	for i, t := range w.types {
		w.typeIdx[t] = w.size(i)
	}

	slices.SortFunc(w.protos, func(a, b Proto) int {
		if c := cmp.Compare(w.typeIdx[a.Return], w.typeIdx[b.Return]); c != 0 {
			return c
		}
		for i := 0; i < len(a.Params) && i < len(b.Params); i++ {
			if c := cmp.Compare(w.typeIdx[a.Params[i]], w.typeIdx[b.Params[i]]); c != 0 {
				return c
			}
		}
		return cmp.Compare(len(a.Params), len(b.Params))
	})
	if len(w.protos) > 0x10000 {
		return fmt.Errorf("%w: %d protos", ErrIndexOverflow, len(w.protos))
	}
	for i, p := range w.protos {
		w.protoIdx[p.Descriptor()] = w.size(i)
	}

	slices.SortFunc(w.fields, func(a, b FieldID) int {
		if c := cmp.Compare(w.typeIdx[a.Class], w.typeIdx[b.Class]); c != 0 {
			return c
		}
		if c := cmp.Compare(w.stringIdx[a.Name], w.stringIdx[b.Name]); c != 0 {
			return c
		}
		return cmp.Compare(w.typeIdx[a.Type], w.typeIdx[b.Type])
	})
	for i, id := range w.fields {
		w.fieldIdx[id] = w.size(i)
	}

	slices.SortFunc(w.methods, func(a, b MethodID) int {
		if c := cmp.Compare(w.typeIdx[a.Class], w.typeIdx[b.Class]); c != 0 {
			return c
		}
		if c := cmp.Compare(w.stringIdx[a.Name], w.stringIdx[b.Name]); c != 0 {
			return c
		}
		return cmp.Compare(w.protoIdx[a.Proto.Descriptor()], w.protoIdx[b.Proto.Descriptor()])
	})
	for i, id := range w.methods {
		w.methodIdx[id.key()] = w.size(i)
	}
	return w.err
}

func (w *writer) refIndex(r *Ref) (uint32, error) {
	var (
		idx uint32
		ok  = true
	)
	switch r.Kind {
	case RefString:
		idx, ok = w.stringIdx[r.Str]
	case RefType:
		idx, ok = w.typeIdx[r.Type]
	case RefField:
		idx, ok = w.fieldIdx[r.Field]
	case RefMethod:
		idx, ok = w.methodIdx[r.Method.key()]
	case RefProto:
		idx, ok = w.protoIdx[r.Proto.Descriptor()]
	case RefCallSite, RefMethodHandle:
		v, err := safecast.Conv[uint32](r.Index)
		if err != nil {
			return 0, err
		}
		idx = v
	default:
		ok = false
	}
	if !ok {
		return 0, fmt.Errorf("dex: unresolved %s reference %s", r.Kind, r)
	}
	return idx, nil
}

// Byte helpers.

// size converts a count or offset for a 32-bit field. The first overflow
// is kept in w.err and fails the write.
func (w *writer) size(n int) uint32 {
	v, err := safecast.Conv[uint32](n)
	if err != nil && w.err == nil {
		w.err = err
	}
	return v
}

func (w *writer) off() uint32 { return w.size(len(w.buf)) }

func (w *writer) align4() {
	for len(w.buf)%4 != 0 {
		w.buf = append(w.buf, 0)
	}
}

func (w *writer) u16(v uint16) { w.buf = binary.LittleEndian.AppendUint16(w.buf, v) }
func (w *writer) u32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }

func (w *writer) put16(at int, v uint16) { binary.LittleEndian.PutUint16(w.buf[at:], v) }
func (w *writer) put32(at int, v uint32) { binary.LittleEndian.PutUint32(w.buf[at:], v) }

func (w *writer) addSection(typ uint16, count int, off uint32) {
	if count > 0 {
		w.sections = append(w.sections, section{typ: typ, count: w.size(count), off: off})
	}
}

func typeListKey(list []string) string { return strings.Join(list, "\x00") }

func (w *writer) write() ([]byte, error) {
	f := w.f
	type idTable struct {
		typ   uint16
		count int
		width int
		off   uint32
	}
	ids := []*idTable{
		{typ: typeStringIDItem, count: len(w.strings), width: 4},
		{typ: typeTypeIDItem, count: len(w.types), width: 4},
		{typ: typeProtoIDItem, count: len(w.protos), width: 12},
		{typ: typeFieldIDItem, count: len(w.fields), width: 8},
		{typ: typeMethodIDItem, count: len(w.methods), width: 8},
		{typ: typeClassDefItem, count: len(f.Classes), width: 32},
		{typ: typeCallSiteIDItem, count: len(f.CallSites), width: 4},
		{typ: typeMethodHandleItem, count: len(f.MethodHandles), width: 8},
	}
	end := headerSize
	for _, t := range ids {
		t.off = w.size(end)
		end += t.count * t.width
	}
	if _, err := safecast.Conv[uint32](end); err != nil || w.err != nil {
		return nil, fmt.Errorf("dex: id tables too large")
	}
	w.buf = make([]byte, end, end*4)
	w.align4()
	dataOff := w.off()

	w.sections = append(w.sections, section{typ: typeHeaderItem, count: 1, off: 0})
	for _, t := range ids {
		w.addSection(t.typ, t.count, t.off)
	}

	steps := []func() error{
		w.sortMembers,
		w.writeStringData,
		w.writeTypeLists,
		w.writeEncodedArrays,
		w.writeAnnotations,
		w.writeDebugInfo,
		w.writeCode,
		w.writeClassData,
		w.writeHiddenAPI,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}
	mapOff := w.writeMap()
	if w.err != nil {
		return nil, fmt.Errorf("dex: image larger than 4GiB: %w", w.err)
	}

	if err := w.writeIDs(ids[0].off, ids[1].off, ids[2].off, ids[3].off, ids[4].off, ids[5].off, ids[6].off, ids[7].off); err != nil {
		return nil, err
	}

	out := w.buf
	copy(out[0:8], "dex\n"+f.Version+"\x00")
	le := binary.LittleEndian
	le.PutUint32(out[32:], w.off())
	le.PutUint32(out[36:], headerSize)
	le.PutUint32(out[40:], endianTag)
	le.PutUint32(out[44:], 0)
	le.PutUint32(out[48:], 0)
	le.PutUint32(out[52:], mapOff)
	for i, t := range ids[:6] {
		le.PutUint32(out[56+8*i:], w.size(t.count))
		if t.count > 0 {
			le.PutUint32(out[60+8*i:], t.off)
		} else {
			le.PutUint32(out[60+8*i:], 0)
		}
	}
	le.PutUint32(out[104:], w.off()-dataOff)
	le.PutUint32(out[108:], dataOff)
	UpdateChecksums(out)
	return out, nil
}

// UpdateChecksums recomputes the SHA-1 signature and Adler-32 checksum of a
// dex image in place.
func UpdateChecksums(out []byte) {
	sig := sha1.Sum(out[32:])
	copy(out[12:32], sig[:])
	binary.LittleEndian.PutUint32(out[8:], adler32.Checksum(out[12:]))
}

func (w *writer) writeStringData() error {
	w.stringOff = make([]uint32, len(w.strings))
	start := w.off()
	for i, s := range w.strings {
		n, err := utf16Len(s)
		if err != nil {
			return fmt.Errorf("dex: string %d: %w", i, err)
		}
		w.stringOff[i] = w.off()
		w.buf = appendUleb128(w.buf, w.size(n))
		w.buf = append(w.buf, s...)
		w.buf = append(w.buf, 0)
	}
	w.addSection(typeStringDataItem, len(w.strings), start)
	return nil
}

func (w *writer) writeTypeLists() error {
	w.typeListOff = make(map[string]uint32)
	w.align4()
	start := w.off()
	emit := func(list []string) {
		if len(list) == 0 {
			return
		}
		k := typeListKey(list)
		if _, ok := w.typeListOff[k]; ok {
			return
		}
		w.align4()
		w.typeListOff[k] = w.off()
		w.u32(w.size(len(list)))
		for _, t := range list {
			w.u16(uint16(w.typeIdx[t]))
		}
	}
	for _, p := range w.protos {
		emit(p.Params)
	}
	for _, cls := range w.f.Classes {
		emit(cls.Interfaces)
	}
	w.addSection(typeTypeList, len(w.typeListOff), start)
	return nil
}

func (w *writer) appendValue(b []byte, v Value) ([]byte, error) {
	switch v.Kind {
	case ValueByte, ValueShort, ValueChar, ValueInt, ValueLong, ValueFloat, ValueDouble:
		return appendBits(b, v.Kind, v.Bits), nil
	case ValueNull:
		return append(b, byte(ValueNull)), nil
	case ValueBoolean:
		return append(b, byte(v.Bits&1)<<5|byte(ValueBoolean)), nil
	case ValueArray:
		return w.appendArray(append(b, byte(ValueArray)), v.Array)
	case ValueAnnotation:
		return w.appendEncoded(append(b, byte(ValueAnnotation)), v.Annotation)
	}
	var r *Ref
	switch v.Kind {
	case ValueString:
		r = StringRef(v.Str)
	case ValueType:
		r = TypeRef(v.Str)
	case ValueField, ValueEnum:
		r = FieldRef(v.Field)
	case ValueMethod:
		r = MethodRef(v.Method)
	case ValueMethodType:
		r = ProtoRef(v.Proto)
	case ValueMethodHandle:
		r = MethodHandleRef(v.Index)
	default:
		return nil, fmt.Errorf("dex: cannot encode value type 0x%02x", uint8(v.Kind))
	}
	idx, err := w.refIndex(r)
	if err != nil {
		return nil, err
	}
	return appendBits(b, v.Kind, uint64(idx)), nil
}

func (w *writer) appendArray(b []byte, vals []Value) ([]byte, error) {
	b = appendUleb128(b, w.size(len(vals)))
	var err error
	for _, v := range vals {
		if b, err = w.appendValue(b, v); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (w *writer) appendEncoded(b []byte, a *EncodedAnnotation) ([]byte, error) {
	b = appendUleb128(b, w.typeIdx[a.Type])
	b = appendUleb128(b, w.size(len(a.Elements)))
	elems := slices.Clone(a.Elements)
	slices.SortStableFunc(elems, func(x, y AnnotationElement) int {
		return cmp.Compare(w.stringIdx[x.Name], w.stringIdx[y.Name])
	})
	var err error
	for _, e := range elems {
		b = appendUleb128(b, w.stringIdx[e.Name])
		if b, err = w.appendValue(b, e.Value); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (w *writer) writeEncodedArrays() error {
	start := w.off()
	count := 0
	w.callSiteOff = make([]uint32, len(w.f.CallSites))
	for i, cs := range w.f.CallSites {
		b, err := w.appendArray(nil, cs)
		if err != nil {
			return fmt.Errorf("dex: call site %d: %w", i, err)
		}
		w.callSiteOff[i] = w.off()
		w.buf = append(w.buf, b...)
		count++
	}
	seen := make(map[string]uint32)
	w.staticOff = make([]uint32, len(w.f.Classes))
	for i, cls := range w.f.Classes {
		if cls.StaticValues == nil {
			continue
		}
		b, err := w.appendArray(nil, cls.StaticValues)
		if err != nil {
			return fmt.Errorf("dex: class %s static values: %w", cls.Type, err)
		}
		if off, ok := seen[string(b)]; ok {
			w.staticOff[i] = off
			continue
		}
		seen[string(b)] = w.off()
		w.staticOff[i] = w.off()
		w.buf = append(w.buf, b...)
		count++
	}
	w.addSection(typeEncodedArrayItem, count, start)
	return nil
}
