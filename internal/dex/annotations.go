package dex

func (p *parser) readDirectory(off uint32) (*Annotations, error) {
	if off%4 != 0 {
		return nil, formatErr(int(off), "misaligned annotations_directory_item")
	}
	c := p.cur(off)
	classOff := c.u32()
	nFields, nMethods, nParams := c.u32(), c.u32(), c.u32()
	if c.err != nil {
		return nil, c.err
	}
	if (int64(nFields)+int64(nMethods)+int64(nParams))*8 > int64(len(p.data)-c.off) {
		return nil, formatErr(int(off), "annotations_directory_item out of bounds")
	}
	dir := &Annotations{}
	var err error
	if classOff != 0 {
		if dir.Class, err = p.readSet(classOff); err != nil {
			return nil, err
		}
	}
	for i := uint32(0); i < nFields; i++ {
		at := c.off
		id, err := p.field(c.u32(), at)
		if err != nil {
			return nil, err
		}
		set, err := p.readSet(c.u32())
		if err != nil {
			return nil, err
		}
		dir.Fields = append(dir.Fields, FieldAnnotations{Field: id, Set: set})
	}
	for i := uint32(0); i < nMethods; i++ {
		at := c.off
		id, err := p.method(c.u32(), at)
		if err != nil {
			return nil, err
		}
		set, err := p.readSet(c.u32())
		if err != nil {
			return nil, err
		}
		dir.Methods = append(dir.Methods, MethodAnnotations{Method: id, Set: set})
	}
	for i := uint32(0); i < nParams; i++ {
		at := c.off
		id, err := p.method(c.u32(), at)
		if err != nil {
			return nil, err
		}
		sets, err := p.readRefList(c.u32())
		if err != nil {
			return nil, err
		}
		dir.Params = append(dir.Params, ParamAnnotations{Method: id, Sets: sets})
	}
	return dir, c.err
}

func (p *parser) readRefList(off uint32) ([][]Annotation, error) {
	c := p.cur(off)
	n := c.u32()
	if c.err == nil && int64(n)*4 > int64(len(p.data)-c.off) {
		return nil, formatErr(int(off), "annotation_set_ref_list of %d entries out of bounds", n)
	}
	sets := make([][]Annotation, n)
	for i := range sets {
		setOff := c.u32()
		if c.err != nil {
			return nil, c.err
		}
		if setOff == 0 {
			continue
		}
		set, err := p.readSet(setOff)
		if err != nil {
			return nil, err
		}
		sets[i] = set
	}
	return sets, c.err
}

// readSet returns a non-nil slice for every set present in the file.
func (p *parser) readSet(off uint32) ([]Annotation, error) {
	if set, ok := p.sets[off]; ok {
		return set, nil
	}
	c := p.cur(off)
	n := c.u32()
	if c.err == nil && int64(n)*4 > int64(len(p.data)-c.off) {
		return nil, formatErr(int(off), "annotation_set_item of %d entries out of bounds", n)
	}
	set := make([]Annotation, 0, n)
	for i := uint32(0); i < n; i++ {
		ac := p.cur(c.u32())
		if c.err != nil {
			return nil, c.err
		}
		a := Annotation{Visibility: ac.u8()}
		enc, err := p.readEncodedAnnotation(ac, 0)
		if err != nil {
			return nil, err
		}
		a.EncodedAnnotation = *enc
		set = append(set, a)
	}
	if c.err != nil {
		return nil, c.err
	}
	p.sets[off] = set
	return set, nil
}

func (p *parser) readEncodedAnnotation(c *cursor, depth int) (*EncodedAnnotation, error) {
	at := c.off
	t, err := p.typ(c.uleb(), at)
	if c.err != nil {
		return nil, c.err
	}
	if err != nil {
		return nil, err
	}
	n := c.uleb()
	if c.err == nil && int64(n)*2 > int64(len(p.data)-c.off) {
		return nil, formatErr(at, "encoded_annotation with %d elements out of bounds", n)
	}
	enc := &EncodedAnnotation{Type: t}
	for i := uint32(0); i < n; i++ {
		at := c.off
		name, err := p.str(c.uleb(), at)
		if c.err != nil {
			return nil, c.err
		}
		if err != nil {
			return nil, err
		}
		v, err := p.readValue(c, depth+1)
		if err != nil {
			return nil, err
		}
		enc.Elements = append(enc.Elements, AnnotationElement{Name: name, Value: v})
	}
	return enc, nil
}

func (p *parser) readArray(c *cursor, depth int) ([]Value, error) {
	at := c.off
	n := c.uleb()
	if c.err != nil {
		return nil, c.err
	}
	if int64(n) > int64(len(p.data)-c.off) {
		return nil, formatErr(at, "encoded_array of %d elements out of bounds", n)
	}
	var out []Value
	for i := uint32(0); i < n; i++ {
		v, err := p.readValue(c, depth+1)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (p *parser) readValue(c *cursor, depth int) (Value, error) {
	if depth > maxValueDepth {
		return Value{}, formatErr(c.off, "encoded values nested deeper than %d", maxValueDepth)
	}
	at := c.off
	b := c.u8()
	if c.err != nil {
		return Value{}, c.err
	}
	kind, arg := ValueKind(b&0x1f), int(b>>5)
	v := Value{Kind: kind}
	switch kind {
	case ValueArray:
		if arg != 0 {
			return Value{}, formatErr(at, "array value with non-zero argument")
		}
		arr, err := p.readArray(c, depth)
		if err != nil {
			return Value{}, err
		}
		if arr == nil {
			arr = []Value{}
		}
		v.Array = arr
		return v, nil
	case ValueAnnotation:
		if arg != 0 {
			return Value{}, formatErr(at, "annotation value with non-zero argument")
		}
		enc, err := p.readEncodedAnnotation(c, depth)
		if err != nil {
			return Value{}, err
		}
		v.Annotation = enc
		return v, nil
	case ValueNull:
		return v, nil
	case ValueBoolean:
		if arg > 1 {
			return Value{}, formatErr(at, "boolean value %d", arg)
		}
		v.Bits = uint64(arg)
		return v, nil
	}
	width := kind.maxWidth()
	if width == 0 {
		return Value{}, formatErr(at, "unknown value type 0x%02x", uint8(kind))
	}
	if arg+1 > width {
		return Value{}, formatErr(at, "%d-byte payload for value type 0x%02x", arg+1, uint8(kind))
	}
	v.Bits = readBits(c.bytes(arg+1), kind)
	if c.err != nil {
		return Value{}, c.err
	}
	idx := uint32(v.Bits)
	var err error
	switch kind {
	case ValueString:
		v.Str, err = p.str(idx, at)
		v.Bits = 0
	case ValueType:
		v.Str, err = p.typ(idx, at)
		v.Bits = 0
	case ValueField, ValueEnum:
		v.Field, err = p.field(idx, at)
		v.Bits = 0
	case ValueMethod:
		v.Method, err = p.method(idx, at)
		v.Bits = 0
	case ValueMethodType:
		v.Proto, err = p.proto(idx, at)
		v.Bits = 0
	case ValueMethodHandle:
		if int64(idx) >= int64(len(p.f.MethodHandles)) {
			err = formatErr(at, "method handle index %d out of range", idx)
		}
		v.Index, v.Bits = int(idx), 0
	}
	return v, err
}
