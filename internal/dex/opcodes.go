package dex

import "fmt"

// Opcode is a Dalvik opcode byte.
type Opcode uint8

// Format is an instruction format id from the Dalvik bytecode reference.
type Format uint8

const (
	FmtInvalid Format = iota
	Fmt10x
	Fmt12x
	Fmt11n
	Fmt11x
	Fmt10t
	Fmt20t
	Fmt22x
	Fmt21t
	Fmt21s
	Fmt21h
	Fmt21c
	Fmt23x
	Fmt22b
	Fmt22t
	Fmt22s
	Fmt22c
	Fmt30t
	Fmt32x
	Fmt31i
	Fmt31t
	Fmt31c
	Fmt35c
	Fmt3rc
	Fmt45cc
	Fmt4rcc
	Fmt51l
)

var formatNames = [...]string{
	FmtInvalid: "invalid",
	Fmt10x:     "10x", Fmt12x: "12x", Fmt11n: "11n", Fmt11x: "11x", Fmt10t: "10t",
	Fmt20t: "20t", Fmt22x: "22x", Fmt21t: "21t", Fmt21s: "21s", Fmt21h: "21h",
	Fmt21c: "21c", Fmt23x: "23x", Fmt22b: "22b", Fmt22t: "22t", Fmt22s: "22s",
	Fmt22c: "22c", Fmt30t: "30t", Fmt32x: "32x", Fmt31i: "31i", Fmt31t: "31t",
	Fmt31c: "31c", Fmt35c: "35c", Fmt3rc: "3rc", Fmt45cc: "45cc", Fmt4rcc: "4rcc",
	Fmt51l: "51l",
}

func (f Format) String() string {
	if int(f) < len(formatNames) {
		return formatNames[f]
	}
	return "invalid"
}

// Units is the instruction width in 16-bit code units.
func (f Format) Units() int {
	switch f {
	case Fmt10x, Fmt12x, Fmt11n, Fmt11x, Fmt10t:
		return 1
	case Fmt20t, Fmt22x, Fmt21t, Fmt21s, Fmt21h, Fmt21c, Fmt23x, Fmt22b, Fmt22t, Fmt22s, Fmt22c:
		return 2
	case Fmt30t, Fmt32x, Fmt31i, Fmt31t, Fmt31c, Fmt35c, Fmt3rc:
		return 3
	case Fmt45cc, Fmt4rcc:
		return 4
	case Fmt51l:
		return 5
	}
	return 0
}

// OpInfo describes one opcode.
type OpInfo struct {
	Name   string
	Format Format
	Ref    RefKind // kind of the primary index operand, if any
	MinAPI int
}

// Opcodes referenced by name elsewhere.
const (
	OpNop                    Opcode = 0x00
	OpMoveResult             Opcode = 0x0a
	OpMoveResultWide         Opcode = 0x0b
	OpMoveResultObject       Opcode = 0x0c
	OpReturnVoid             Opcode = 0x0e
	OpReturn                 Opcode = 0x0f
	OpReturnWide             Opcode = 0x10
	OpReturnObject           Opcode = 0x11
	OpConst4                 Opcode = 0x12
	OpConst16                Opcode = 0x13
	OpConstString            Opcode = 0x1a
	OpConstStringJumbo       Opcode = 0x1b
	OpThrow                  Opcode = 0x27
	OpGoto                   Opcode = 0x28
	OpGoto32                 Opcode = 0x2a
	OpSgetObject             Opcode = 0x62
	OpInvokeVirtual          Opcode = 0x6e
	OpInvokeStatic           Opcode = 0x71
	OpInvokeInterface        Opcode = 0x72
	OpInvokeVirtualRange     Opcode = 0x74
	OpInvokeInterfaceRange   Opcode = 0x78
	OpInvokePolymorphic      Opcode = 0xfa
	OpInvokePolymorphicRange Opcode = 0xfb
	OpInvokeCustom           Opcode = 0xfc
	OpInvokeCustomRange      Opcode = 0xfd
)

// Payload identifiers carried by a nop opcode's high byte.
const (
	PackedSwitchPayload  uint16 = 0x0100
	SparseSwitchPayload  uint16 = 0x0200
	FillArrayDataPayload uint16 = 0x0300
)

var opTable [256]OpInfo

func def(op Opcode, name string, f Format, ref RefKind, api int) {
	opTable[op] = OpInfo{Name: name, Format: f, Ref: ref, MinAPI: api}
}

func defRun(first Opcode, f Format, ref RefKind, names ...string) {
	for i, n := range names {
		def(first+Opcode(i), n, f, ref, 1)
	}
}

func init() {
	defRun(0x00, Fmt10x, RefNone, "nop")
	defRun(0x01, Fmt12x, RefNone, "move")
	defRun(0x02, Fmt22x, RefNone, "move/from16")
	defRun(0x03, Fmt32x, RefNone, "move/16")
	defRun(0x04, Fmt12x, RefNone, "move-wide")
	defRun(0x05, Fmt22x, RefNone, "move-wide/from16")
	defRun(0x06, Fmt32x, RefNone, "move-wide/16")
	defRun(0x07, Fmt12x, RefNone, "move-object")
	defRun(0x08, Fmt22x, RefNone, "move-object/from16")
	defRun(0x09, Fmt32x, RefNone, "move-object/16")
	defRun(0x0a, Fmt11x, RefNone, "move-result", "move-result-wide", "move-result-object", "move-exception")
	defRun(0x0e, Fmt10x, RefNone, "return-void")
	defRun(0x0f, Fmt11x, RefNone, "return", "return-wide", "return-object")
	defRun(0x12, Fmt11n, RefNone, "const/4")
	defRun(0x13, Fmt21s, RefNone, "const/16")
	defRun(0x14, Fmt31i, RefNone, "const")
	defRun(0x15, Fmt21h, RefNone, "const/high16")
	defRun(0x16, Fmt21s, RefNone, "const-wide/16")
	defRun(0x17, Fmt31i, RefNone, "const-wide/32")
	defRun(0x18, Fmt51l, RefNone, "const-wide")
	defRun(0x19, Fmt21h, RefNone, "const-wide/high16")
	defRun(0x1a, Fmt21c, RefString, "const-string")
	defRun(0x1b, Fmt31c, RefString, "const-string/jumbo")
	defRun(0x1c, Fmt21c, RefType, "const-class")
	defRun(0x1d, Fmt11x, RefNone, "monitor-enter", "monitor-exit")
	defRun(0x1f, Fmt21c, RefType, "check-cast")
	defRun(0x20, Fmt22c, RefType, "instance-of")
	defRun(0x21, Fmt12x, RefNone, "array-length")
	defRun(0x22, Fmt21c, RefType, "new-instance")
	defRun(0x23, Fmt22c, RefType, "new-array")
	defRun(0x24, Fmt35c, RefType, "filled-new-array")
	defRun(0x25, Fmt3rc, RefType, "filled-new-array/range")
	defRun(0x26, Fmt31t, RefNone, "fill-array-data")
	defRun(0x27, Fmt11x, RefNone, "throw")
	defRun(0x28, Fmt10t, RefNone, "goto")
	defRun(0x29, Fmt20t, RefNone, "goto/16")
	defRun(0x2a, Fmt30t, RefNone, "goto/32")
	defRun(0x2b, Fmt31t, RefNone, "packed-switch", "sparse-switch")
	defRun(0x2d, Fmt23x, RefNone, "cmpl-float", "cmpg-float", "cmpl-double", "cmpg-double", "cmp-long")
	defRun(0x32, Fmt22t, RefNone, "if-eq", "if-ne", "if-lt", "if-ge", "if-gt", "if-le")
	defRun(0x38, Fmt21t, RefNone, "if-eqz", "if-nez", "if-ltz", "if-gez", "if-gtz", "if-lez")
	defRun(0x44, Fmt23x, RefNone,
		"aget", "aget-wide", "aget-object", "aget-boolean", "aget-byte", "aget-char", "aget-short",
		"aput", "aput-wide", "aput-object", "aput-boolean", "aput-byte", "aput-char", "aput-short")
	defRun(0x52, Fmt22c, RefField,
		"iget", "iget-wide", "iget-object", "iget-boolean", "iget-byte", "iget-char", "iget-short",
		"iput", "iput-wide", "iput-object", "iput-boolean", "iput-byte", "iput-char", "iput-short")
	defRun(0x60, Fmt21c, RefField,
		"sget", "sget-wide", "sget-object", "sget-boolean", "sget-byte", "sget-char", "sget-short",
		"sput", "sput-wide", "sput-object", "sput-boolean", "sput-byte", "sput-char", "sput-short")
	defRun(0x6e, Fmt35c, RefMethod, "invoke-virtual", "invoke-super", "invoke-direct", "invoke-static", "invoke-interface")
	defRun(0x74, Fmt3rc, RefMethod, "invoke-virtual/range", "invoke-super/range", "invoke-direct/range",
		"invoke-static/range", "invoke-interface/range")
	defRun(0x7b, Fmt12x, RefNone,
		"neg-int", "not-int", "neg-long", "not-long", "neg-float", "neg-double",
		"int-to-long", "int-to-float", "int-to-double", "long-to-int", "long-to-float", "long-to-double",
		"float-to-int", "float-to-long", "float-to-double", "double-to-int", "double-to-long", "double-to-float",
		"int-to-byte", "int-to-char", "int-to-short")
	binops := []string{
		"add-int", "sub-int", "mul-int", "div-int", "rem-int", "and-int", "or-int", "xor-int", "shl-int", "shr-int", "ushr-int",
		"add-long", "sub-long", "mul-long", "div-long", "rem-long", "and-long", "or-long", "xor-long", "shl-long", "shr-long", "ushr-long",
		"add-float", "sub-float", "mul-float", "div-float", "rem-float",
		"add-double", "sub-double", "mul-double", "div-double", "rem-double",
	}
	defRun(0x90, Fmt23x, RefNone, binops...)
	addr2 := make([]string, len(binops))
	for i, n := range binops {
		addr2[i] = n + "/2addr"
	}
	defRun(0xb0, Fmt12x, RefNone, addr2...)
	defRun(0xd0, Fmt22s, RefNone,
		"add-int/lit16", "rsub-int", "mul-int/lit16", "div-int/lit16", "rem-int/lit16",
		"and-int/lit16", "or-int/lit16", "xor-int/lit16")
	defRun(0xd8, Fmt22b, RefNone,
		"add-int/lit8", "rsub-int/lit8", "mul-int/lit8", "div-int/lit8", "rem-int/lit8",
		"and-int/lit8", "or-int/lit8", "xor-int/lit8", "shl-int/lit8", "shr-int/lit8", "ushr-int/lit8")
	def(0xfa, "invoke-polymorphic", Fmt45cc, RefMethod, 26)
	def(0xfb, "invoke-polymorphic/range", Fmt4rcc, RefMethod, 26)
	def(0xfc, "invoke-custom", Fmt35c, RefCallSite, 26)
	def(0xfd, "invoke-custom/range", Fmt3rc, RefCallSite, 26)
	def(0xfe, "const-method-handle", Fmt21c, RefMethodHandle, 28)
	def(0xff, "const-method-type", Fmt21c, RefProto, 28)
}

// Info returns the table entry for op, valid at any API level.
func (op Opcode) Info() OpInfo { return opTable[op] }

func (op Opcode) String() string {
	if n := opTable[op].Name; n != "" {
		return n
	}
	return fmt.Sprintf("op_%02x", uint8(op))
}

// Opcodes is the opcode set available at one API level.
type Opcodes struct {
	API   int
	valid [256]bool
}

// OpcodesForAPI selects the opcode table for an Android API level.
func OpcodesForAPI(api int) (*Opcodes, error) {
	if api < 1 {
		return nil, &FormatError{Off: -1, Msg: fmt.Sprintf("unsupported api level %d", api)}
	}
	ops := &Opcodes{API: api}
	for i := range opTable {
		info := opTable[i]
		ops.valid[i] = info.Format != FmtInvalid && api >= info.MinAPI
	}
	return ops, nil
}

// Valid reports whether op may appear in code at this API level.
func (o *Opcodes) Valid(op Opcode) bool { return o.valid[op] }

// IsInvoke reports whether op passes arguments to a call.
func (op Opcode) IsInvoke() bool {
	return (op >= 0x6e && op <= 0x72) || (op >= 0x74 && op <= 0x78) || (op >= 0xfa && op <= 0xfd)
}

// IsReturn reports whether op leaves the method with a value or void.
func (op Opcode) IsReturn() bool { return op >= OpReturnVoid && op <= OpReturnObject }

// IsTerminal reports whether execution never falls through op.
func (op Opcode) IsTerminal() bool {
	return op.IsReturn() || op == OpThrow || (op >= OpGoto && op <= OpGoto32)
}
