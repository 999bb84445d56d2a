package synth

import (
	"errors"
	"testing"

	"paccer/internal/dex"
	"paccer/internal/testkit"
)

func method(t *testing.T, class, name, desc string) dex.MethodID {
	t.Helper()
	p, err := dex.ParseProto(desc)
	if err != nil {
		t.Fatalf("ParseProto(%q): %v", desc, err)
	}
	return dex.MethodID{Class: class, Name: name, Proto: p}
}

func TestParsePattern(t *testing.T) {
	cases := []struct {
		in   string
		want Pattern
	}{
		{"return-false", ReturnFalse},
		{"return-true", ReturnTrue},
		{"return-empty-list", ReturnEmptyList},
		{"return-empty-list-field", ReturnEmptyListField},
		{"retFalse", ReturnFalse},
		{"retTrue", ReturnTrue},
		{"retEmptyList", ReturnEmptyList},
		{" RETURN-TRUE ", ReturnTrue},
	}
	for _, tc := range cases {
		got, err := ParsePattern(tc.in)
		if err != nil {
			t.Fatalf("ParsePattern(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ParsePattern(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
	if _, err := ParsePattern("return-null"); err == nil {
		t.Fatal("expected error for unknown pattern")
	}
}

func TestPatternTextRoundTrip(t *testing.T) {
	for _, p := range Patterns() {
		b, err := p.MarshalText()
		if err != nil {
			t.Fatalf("%s: %v", p, err)
		}
		var back Pattern
		if err := back.UnmarshalText(b); err != nil {
			t.Fatalf("%s: %v", b, err)
		}
		if back != p {
			t.Fatalf("round trip %s -> %s", p, back)
		}
	}
}

func TestReplacementShapes(t *testing.T) {
	cases := []struct {
		name    string
		pattern Pattern
		desc    string
		static  bool
		ins     uint16
		ops     []dex.Opcode
	}{
		{"false no args", ReturnFalse, "()Z", false, 1, []dex.Opcode{dex.OpConst4, dex.OpReturn}},
		{"false int arg", ReturnFalse, "(I)Z", false, 2, []dex.Opcode{dex.OpConst4, dex.OpReturn}},
		{"true static", ReturnTrue, "(Ljava/lang/String;)Z", true, 1, []dex.Opcode{dex.OpConst4, dex.OpReturn}},
		{"false wide args", ReturnFalse, "(JD)Z", false, 5, []dex.Opcode{dex.OpConst4, dex.OpReturn}},
		{"list", ReturnEmptyList, "(I)Ljava/util/List;", false, 2,
			[]dex.Opcode{dex.OpInvokeStatic, dex.OpMoveResultObject, dex.OpReturnObject}},
		{"list field", ReturnEmptyListField, "()Ljava/util/List;", true, 0,
			[]dex.Opcode{dex.OpSgetObject, dex.OpReturnObject}},
	}
	s := New()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			id := method(t, "Lcom/android/server/wm/WindowManagerService;", "m", tc.desc)
			code, err := s.Replacement(tc.pattern, id, tc.static)
			if err != nil {
				t.Fatalf("Replacement: %v", err)
			}
			if code.Ins != tc.ins {
				t.Fatalf("ins = %d, want %d", code.Ins, tc.ins)
			}
			if code.Registers != 1+tc.ins {
				t.Fatalf("registers = %d, want %d", code.Registers, 1+tc.ins)
			}
			if err := testkit.CheckReplacementBody(code, id, tc.static, tc.ops...); err != nil {
				t.Fatal(err)
			}
		})
	}
}

func TestReturnTrueLiteral(t *testing.T) {
	s := New()
	for _, p := range []Pattern{ReturnFalse, ReturnTrue} {
		code, err := s.Replacement(p, method(t, "LA;", "m", "()Z"), true)
		if err != nil {
			t.Fatal(err)
		}
		insns, err := dex.Disassemble(code)
		if err != nil {
			t.Fatal(err)
		}
		want := int64(0)
		if p == ReturnTrue {
			want = 1
		}
		if insns[0].Lit != want || insns[0].Regs[0] != 0 || insns[1].Regs[0] != 0 {
			t.Fatalf("%s: got %v", p, insns)
		}
	}
}

func TestEmptyListReference(t *testing.T) {
	code, err := New().Replacement(ReturnEmptyList, method(t, "LA;", "m", "(I)Ljava/util/List;"), false)
	if err != nil {
		t.Fatal(err)
	}
	if len(code.Refs) != 1 || code.Refs[0].Kind != dex.RefMethod {
		t.Fatalf("refs = %+v", code.Refs)
	}
	if got := code.Refs[0].Method; got.String() != EmptyListMethod.String() {
		t.Fatalf("ref = %s, want %s", got, EmptyListMethod)
	}
}

func TestReplacementsAreFresh(t *testing.T) {
	s := New()
	id := method(t, "LA;", "m", "()Z")
	a, err := s.Replacement(ReturnFalse, id, true)
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.Replacement(ReturnFalse, id, true)
	if err != nil {
		t.Fatal(err)
	}
	if a == b || &a.Insns[0] == &b.Insns[0] {
		t.Fatal("replacements share storage")
	}
}

func TestIncompatibleReturn(t *testing.T) {
	cases := []struct {
		pattern Pattern
		desc    string
	}{
		{ReturnFalse, "()V"},
		{ReturnFalse, "()J"},
		{ReturnTrue, "()Ljava/lang/String;"},
		{ReturnEmptyList, "()Z"},
		{ReturnEmptyListField, "()Ljava/util/Map;"},
	}
	s := New()
	for _, tc := range cases {
		_, err := s.Replacement(tc.pattern, method(t, "LA;", "m", tc.desc), true)
		if !errors.Is(err, ErrIncompatible) {
			t.Fatalf("%s on %s: err = %v, want ErrIncompatible", tc.pattern, tc.desc, err)
		}
	}
}

func TestBodyCheckRegisterBudget(t *testing.T) {
	b, err := Build(ReturnFalse)
	if err != nil {
		t.Fatal(err)
	}
	b.Locals = 0
	if err := b.Check("Z"); !errors.Is(err, dex.ErrVerify) {
		t.Fatalf("err = %v, want ErrVerify", err)
	}
}
