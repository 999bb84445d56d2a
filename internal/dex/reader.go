package dex

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/adler32"
	"slices"
)

const (
	headerSize = 0x70
	endianTag  = 0x12345678
)

// Map item types.
const (
	typeHeaderItem               = 0x0000
	typeStringIDItem             = 0x0001
	typeTypeIDItem               = 0x0002
	typeProtoIDItem              = 0x0003
	typeFieldIDItem              = 0x0004
	typeMethodIDItem             = 0x0005
	typeClassDefItem             = 0x0006
	typeCallSiteIDItem           = 0x0007
	typeMethodHandleItem         = 0x0008
	typeMapList                  = 0x1000
	typeTypeList                 = 0x1001
	typeAnnotationSetRefList     = 0x1002
	typeAnnotationSetItem        = 0x1003
	typeClassDataItem            = 0x2000
	typeCodeItem                 = 0x2001
	typeStringDataItem           = 0x2002
	typeDebugInfoItem            = 0x2003
	typeAnnotationItem           = 0x2004
	typeEncodedArrayItem         = 0x2005
	typeAnnotationsDirectoryItem = 0x2006
	typeHiddenAPIClassDataItem   = 0xf000
)

// SupportedVersions lists the container versions Parse accepts.
var SupportedVersions = []string{"035", "037", "038", "039", "040"}

type header struct {
	version                     string
	checksum                    uint32
	fileSize                    uint32
	linkSize, mapOff            uint32
	stringIDsSize, stringIDsOff uint32
	typeIDsSize, typeIDsOff     uint32
	protoIDsSize, protoIDsOff   uint32
	fieldIDsSize, fieldIDsOff   uint32
	methodIDsSize, methodIDsOff uint32
	classDefsSize, classDefsOff uint32
}

type parser struct {
	data []byte
	ops  *Opcodes
	hdr  header
	f    *File

	hiddenOff uint32

	sets     map[uint32][]Annotation
	debug    map[uint32]*DebugInfo
	typeList map[uint32][]string
}

// Parse decodes a dex image. api selects the opcode table used to validate
// method bodies.
func Parse(data []byte, api int) (*File, error) {
	ops, err := OpcodesForAPI(api)
	if err != nil {
		return nil, err
	}
	hdr, err := parseHeader(data)
	if err != nil {
		return nil, err
	}
	p := &parser{
		data:     data[:hdr.fileSize],
		ops:      ops,
		hdr:      hdr,
		f:        &File{Version: hdr.version},
		sets:     make(map[uint32][]Annotation),
		debug:    make(map[uint32]*DebugInfo),
		typeList: make(map[uint32][]string),
	}
	steps := []func() error{
		p.readStrings,
		p.readTypes,
		p.readProtos,
		p.readFields,
		p.readMethods,
		p.readMapSections,
		p.readClasses,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}
	return p.f, nil
}

func parseHeader(data []byte) (header, error) {
	var h header
	if len(data) < headerSize {
		return h, &FormatError{Off: 0, Msg: fmt.Sprintf("file too short (%d bytes)", len(data)), Err: ErrTruncated}
	}
	if !bytes.Equal(data[:4], []byte("dex\n")) || data[7] != 0 {
		return h, formatErr(0, "bad magic %q", data[:8])
	}
	h.version = string(data[4:7])
	if !slices.Contains(SupportedVersions, h.version) {
		return h, formatErr(4, "unsupported dex version %s", h.version)
	}
	le := binary.LittleEndian
	if tag := le.Uint32(data[40:]); tag != endianTag {
		return h, formatErr(40, "unsupported endian tag 0x%08x", tag)
	}
	if hs := le.Uint32(data[36:]); hs != headerSize {
		return h, formatErr(36, "unexpected header size 0x%x", hs)
	}
	h.fileSize = le.Uint32(data[32:])
	if h.fileSize < headerSize || int64(h.fileSize) > int64(len(data)) {
		return h, formatErr(32, "file size %d does not match image of %d bytes", h.fileSize, len(data))
	}
	h.checksum = le.Uint32(data[8:])
	if sum := adler32.Checksum(data[12:h.fileSize]); sum != h.checksum {
		return h, formatErr(8, "checksum mismatch: header 0x%08x, computed 0x%08x", h.checksum, sum)
	}
	h.linkSize = le.Uint32(data[44:])
	if h.linkSize != 0 {
		return h, formatErr(44, "link section is not supported")
	}
	h.mapOff = le.Uint32(data[52:])
	h.stringIDsSize, h.stringIDsOff = le.Uint32(data[56:]), le.Uint32(data[60:])
	h.typeIDsSize, h.typeIDsOff = le.Uint32(data[64:]), le.Uint32(data[68:])
	h.protoIDsSize, h.protoIDsOff = le.Uint32(data[72:]), le.Uint32(data[76:])
	h.fieldIDsSize, h.fieldIDsOff = le.Uint32(data[80:]), le.Uint32(data[84:])
	h.methodIDsSize, h.methodIDsOff = le.Uint32(data[88:]), le.Uint32(data[92:])
	h.classDefsSize, h.classDefsOff = le.Uint32(data[96:]), le.Uint32(data[100:])
	if h.typeIDsSize > 0x10000 || h.protoIDsSize > 0x10000 {
		return h, formatErr(64, "type or proto pool larger than 65536 entries")
	}
	return h, nil
}

func (p *parser) cur(off uint32) *cursor {
	return &cursor{data: p.data, off: int(off)}
}

// table checks that count entries of width bytes fit at off.
func (p *parser) table(what string, off, count uint32, width int) error {
	end := int64(off) + int64(count)*int64(width)
	if count > 0 && (off < headerSize || end > int64(len(p.data))) {
		return formatErr(int(off), "%s table of %d entries out of bounds", what, count)
	}
	return nil
}

func (p *parser) readStrings() error {
	h := p.hdr
	if err := p.table("string_ids", h.stringIDsOff, h.stringIDsSize, 4); err != nil {
		return err
	}
	p.f.Strings = make([]string, h.stringIDsSize)
	ids := p.cur(h.stringIDsOff)
	for i := range p.f.Strings {
		off := ids.u32()
		c := p.cur(off)
		c.uleb()
		if c.err != nil {
			return c.err
		}
		end := bytes.IndexByte(p.data[c.off:], 0)
		if end < 0 {
			return &FormatError{Off: int(off), Msg: "unterminated string_data_item", Err: ErrTruncated}
		}
		p.f.Strings[i] = string(p.data[c.off : c.off+end])
	}
	return ids.err
}

func (p *parser) str(idx uint32, at int) (string, error) {
	if int64(idx) >= int64(len(p.f.Strings)) {
		return "", formatErr(at, "string index %d out of range", idx)
	}
	return p.f.Strings[idx], nil
}

func (p *parser) optStr(idx int64, at int) (OptString, error) {
	if idx < 0 {
		return OptString{}, nil
	}
	s, err := p.str(uint32(idx), at)
	if err != nil {
		return OptString{}, err
	}
	return Some(s), nil
}

func (p *parser) typ(idx uint32, at int) (string, error) {
	if int64(idx) >= int64(len(p.f.Types)) {
		return "", formatErr(at, "type index %d out of range", idx)
	}
	return p.f.Types[idx], nil
}

func (p *parser) optType(idx int64, at int) (OptString, error) {
	if idx < 0 {
		return OptString{}, nil
	}
	s, err := p.typ(uint32(idx), at)
	if err != nil {
		return OptString{}, err
	}
	return Some(s), nil
}

func (p *parser) proto(idx uint32, at int) (Proto, error) {
	if int64(idx) >= int64(len(p.f.Protos)) {
		return Proto{}, formatErr(at, "proto index %d out of range", idx)
	}
	return p.f.Protos[idx], nil
}

func (p *parser) field(idx uint32, at int) (FieldID, error) {
	if int64(idx) >= int64(len(p.f.Fields)) {
		return FieldID{}, formatErr(at, "field index %d out of range", idx)
	}
	return p.f.Fields[idx], nil
}

func (p *parser) method(idx uint32, at int) (MethodID, error) {
	if int64(idx) >= int64(len(p.f.Methods)) {
		return MethodID{}, formatErr(at, "method index %d out of range", idx)
	}
	return p.f.Methods[idx], nil
}

func (p *parser) readTypes() error {
	h := p.hdr
	if err := p.table("type_ids", h.typeIDsOff, h.typeIDsSize, 4); err != nil {
		return err
	}
	p.f.Types = make([]string, h.typeIDsSize)
	c := p.cur(h.typeIDsOff)
	for i := range p.f.Types {
		at := c.off
		s, err := p.str(c.u32(), at)
		if err != nil {
			return err
		}
		p.f.Types[i] = s
	}
	return c.err
}

func (p *parser) readTypeList(off uint32) ([]string, error) {
	if off == 0 {
		return nil, nil
	}
	if l, ok := p.typeList[off]; ok {
		return l, nil
	}
	c := p.cur(off)
	n := c.u32()
	if c.err == nil && int64(n)*2 > int64(len(p.data)-c.off) {
		return nil, formatErr(int(off), "type_list of %d entries out of bounds", n)
	}
	list := make([]string, n)
	for i := range list {
		at := c.off
		t, err := p.typ(uint32(c.u16()), at)
		if err != nil {
			return nil, err
		}
		list[i] = t
	}
	if c.err != nil {
		return nil, c.err
	}
	p.typeList[off] = list
	return list, nil
}

func (p *parser) readProtos() error {
	h := p.hdr
	if err := p.table("proto_ids", h.protoIDsOff, h.protoIDsSize, 12); err != nil {
		return err
	}
	p.f.Protos = make([]Proto, h.protoIDsSize)
	c := p.cur(h.protoIDsOff)
	for i := range p.f.Protos {
		at := c.off
		c.u32() // shorty, derived on write
		ret, err := p.typ(c.u32(), at+4)
		if err != nil {
			return err
		}
		params, err := p.readTypeList(c.u32())
		if err != nil {
			return err
		}
		p.f.Protos[i] = Proto{Return: ret, Params: params}
	}
	return c.err
}

func (p *parser) readFields() error {
	h := p.hdr
	if err := p.table("field_ids", h.fieldIDsOff, h.fieldIDsSize, 8); err != nil {
		return err
	}
	p.f.Fields = make([]FieldID, h.fieldIDsSize)
	c := p.cur(h.fieldIDsOff)
	for i := range p.f.Fields {
		at := c.off
		class, err := p.typ(uint32(c.u16()), at)
		if err != nil {
			return err
		}
		typ, err := p.typ(uint32(c.u16()), at+2)
		if err != nil {
			return err
		}
		name, err := p.str(c.u32(), at+4)
		if err != nil {
			return err
		}
		p.f.Fields[i] = FieldID{Class: class, Type: typ, Name: name}
	}
	return c.err
}

func (p *parser) readMethods() error {
	h := p.hdr
	if err := p.table("method_ids", h.methodIDsOff, h.methodIDsSize, 8); err != nil {
		return err
	}
	p.f.Methods = make([]MethodID, h.methodIDsSize)
	c := p.cur(h.methodIDsOff)
	for i := range p.f.Methods {
		at := c.off
		class, err := p.typ(uint32(c.u16()), at)
		if err != nil {
			return err
		}
		proto, err := p.proto(uint32(c.u16()), at+2)
		if err != nil {
			return err
		}
		name, err := p.str(c.u32(), at+4)
		if err != nil {
			return err
		}
		p.f.Methods[i] = MethodID{Class: class, Name: name, Proto: proto}
	}
	return c.err
}

type mapItem struct {
	typ  uint16
	size uint32
	off  uint32
}

func (p *parser) readMap() ([]mapItem, error) {
	if p.hdr.mapOff == 0 {
		return nil, formatErr(52, "missing map_list")
	}
	c := p.cur(p.hdr.mapOff)
	n := c.u32()
	if c.err == nil && int64(n)*12 > int64(len(p.data)-c.off) {
		return nil, formatErr(int(p.hdr.mapOff), "map_list of %d entries out of bounds", n)
	}
	items := make([]mapItem, n)
	for i := range items {
		items[i].typ = c.u16()
		c.u16()
		items[i].size = c.u32()
		items[i].off = c.u32()
	}
	return items, c.err
}

func (p *parser) readMapSections() error {
	items, err := p.readMap()
	if err != nil {
		return err
	}
	var callSites, handles *mapItem
	for i := range items {
		switch items[i].typ {
		case typeCallSiteIDItem:
			callSites = &items[i]
		case typeMethodHandleItem:
			handles = &items[i]
		case typeHiddenAPIClassDataItem:
			p.f.HiddenAPI = true
			p.hiddenOff = items[i].off
		}
	}
	// Method handles first: call sites refer to them.
	if handles != nil {
		if err := p.table("method_handles", handles.off, handles.size, 8); err != nil {
			return err
		}
		p.f.MethodHandles = make([]MethodHandle, handles.size)
		c := p.cur(handles.off)
		for i := range p.f.MethodHandles {
			at := c.off
			kind := c.u16()
			c.u16()
			idx := uint32(c.u16())
			c.u16()
			h := MethodHandle{Kind: kind}
			switch {
			case kind <= 3:
				h.Field, err = p.field(idx, at+4)
			case kind <= 8:
				h.Method, err = p.method(idx, at+4)
			default:
				err = formatErr(at, "unknown method handle type %d", kind)
			}
			if err != nil {
				return err
			}
			p.f.MethodHandles[i] = h
		}
		if c.err != nil {
			return c.err
		}
	}
	if callSites != nil {
		if err := p.table("call_site_ids", callSites.off, callSites.size, 4); err != nil {
			return err
		}
		p.f.CallSites = make([][]Value, callSites.size)
		c := p.cur(callSites.off)
		for i := range p.f.CallSites {
			vc := p.cur(c.u32())
			arr, err := p.readArray(vc, 0)
			if err != nil {
				return err
			}
			p.f.CallSites[i] = arr
		}
		if c.err != nil {
			return c.err
		}
	}
	return nil
}

func (p *parser) readClasses() error {
	h := p.hdr
	if err := p.table("class_defs", h.classDefsOff, h.classDefsSize, 32); err != nil {
		return err
	}
	p.f.Classes = make([]*Class, h.classDefsSize)
	c := p.cur(h.classDefsOff)
	for i := range p.f.Classes {
		at := c.off
		var (
			classIdx       = c.u32()
			access         = c.u32()
			superIdx       = c.u32()
			interfacesOff  = c.u32()
			sourceIdx      = c.u32()
			annotationsOff = c.u32()
			classDataOff   = c.u32()
			staticOff      = c.u32()
		)
		if c.err != nil {
			return c.err
		}
		cls := &Class{Access: access}
		var err error
		if cls.Type, err = p.typ(classIdx, at); err != nil {
			return err
		}
		if superIdx != NoIndex {
			if cls.Super, err = p.typ(superIdx, at+8); err != nil {
				return err
			}
		}
		if cls.Interfaces, err = p.readTypeList(interfacesOff); err != nil {
			return err
		}
		if sourceIdx != NoIndex {
			if cls.Source, err = p.optStr(int64(sourceIdx), at+16); err != nil {
				return err
			}
		}
		if classDataOff != 0 {
			if err := p.readClassData(cls, classDataOff); err != nil {
				return fmt.Errorf("class %s: %w", cls.Type, err)
			}
		}
		if annotationsOff != 0 {
			if cls.Annotations, err = p.readDirectory(annotationsOff); err != nil {
				return fmt.Errorf("class %s: %w", cls.Type, err)
			}
		}
		if staticOff != 0 {
			arr, err := p.readArray(p.cur(staticOff), 0)
			if err != nil {
				return fmt.Errorf("class %s: %w", cls.Type, err)
			}
			if arr == nil {
				arr = []Value{}
			}
			cls.StaticValues = arr
		}
		p.f.Classes[i] = cls
	}
	if p.f.HiddenAPI {
		return p.readHiddenAPI()
	}
	return nil
}

func (p *parser) readClassData(cls *Class, off uint32) error {
	c := p.cur(off)
	nStatic, nInstance := c.uleb(), c.uleb()
	nDirect, nVirtual := c.uleb(), c.uleb()
	if c.err != nil {
		return c.err
	}
	// Every encoded member takes at least two bytes.
	if total := int64(nStatic) + int64(nInstance) + int64(nDirect) + int64(nVirtual); total*2 > int64(len(p.data)) {
		return formatErr(int(off), "class_data_item member count %d out of bounds", total)
	}
	readFields := func(n uint32) ([]*Field, error) {
		out := make([]*Field, 0, n)
		var idx uint32
		for i := uint32(0); i < n; i++ {
			at := c.off
			idx += c.uleb()
			access := c.uleb()
			if c.err != nil {
				return nil, c.err
			}
			id, err := p.field(idx, at)
			if err != nil {
				return nil, err
			}
			out = append(out, &Field{ID: id, Access: access})
		}
		return out, nil
	}
	readMethods := func(n uint32) ([]*Method, error) {
		out := make([]*Method, 0, n)
		var idx uint32
		for i := uint32(0); i < n; i++ {
			at := c.off
			idx += c.uleb()
			access := c.uleb()
			codeOff := c.uleb()
			if c.err != nil {
				return nil, c.err
			}
			id, err := p.method(idx, at)
			if err != nil {
				return nil, err
			}
			m := &Method{ID: id, Access: access}
			if codeOff != 0 {
				if m.Code, err = p.readCode(codeOff); err != nil {
					return nil, fmt.Errorf("method %s: %w", id, err)
				}
			}
			out = append(out, m)
		}
		return out, nil
	}
	var err error
	if cls.StaticFields, err = readFields(nStatic); err != nil {
		return err
	}
	if cls.InstanceFields, err = readFields(nInstance); err != nil {
		return err
	}
	if cls.DirectMethods, err = readMethods(nDirect); err != nil {
		return err
	}
	cls.VirtualMethods, err = readMethods(nVirtual)
	return err
}

func (p *parser) readHiddenAPI() error {
	base := p.hiddenOff
	c := p.cur(base)
	size := c.u32()
	if c.err != nil {
		return c.err
	}
	if int64(base)+int64(size) > int64(len(p.data)) {
		return formatErr(int(base), "hiddenapi section of %d bytes out of bounds", size)
	}
	for _, cls := range p.f.Classes {
		off := c.u32()
		if c.err != nil {
			return c.err
		}
		if off == 0 {
			continue
		}
		fc := p.cur(base + off)
		for _, f := range cls.StaticFields {
			f.HiddenAPI = fc.uleb()
		}
		for _, f := range cls.InstanceFields {
			f.HiddenAPI = fc.uleb()
		}
		for _, m := range cls.DirectMethods {
			m.HiddenAPI = fc.uleb()
		}
		for _, m := range cls.VirtualMethods {
			m.HiddenAPI = fc.uleb()
		}
		if fc.err != nil {
			return fc.err
		}
	}
	return nil
}
