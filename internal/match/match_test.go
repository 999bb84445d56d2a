package match

import (
	"testing"

	"paccer/internal/catalog"
	"paccer/internal/dex"
	"paccer/internal/synth"
)

func mid(class, name, desc string) dex.MethodID {
	p, err := dex.ParseProto(desc)
	if err != nil {
		panic(err)
	}
	return dex.MethodID{Class: class, Name: name, Proto: p}
}

func TestMatches(t *testing.T) {
	wild := catalog.Target{Name: "isSecureLocked", AnyParams: true, Return: "Z", Pattern: synth.ReturnFalse}
	exact := catalog.Target{Name: "notifyScreenshotListeners", Params: []string{"I"}, Return: "Ljava/util/List;", Pattern: synth.ReturnEmptyList}
	scoped := catalog.Target{Name: "isSecureLocked", AnyParams: true, Return: "Z", Class: "Lcom/android/server/wm/WindowState;", Pattern: synth.ReturnFalse}

	cases := []struct {
		name string
		m    dex.MethodID
		t    catalog.Target
		want bool
	}{
		{"wildcard no params", mid("LA;", "isSecureLocked", "()Z"), wild, true},
		{"wildcard with params", mid("LB;", "isSecureLocked", "(ILjava/lang/String;)Z"), wild, true},
		{"wildcard wrong return", mid("LA;", "isSecureLocked", "()I"), wild, false},
		{"name is case sensitive", mid("LA;", "IsSecureLocked", "()Z"), wild, false},
		{"exact params", mid("LA;", "notifyScreenshotListeners", "(I)Ljava/util/List;"), exact, true},
		{"exact params differ", mid("LA;", "notifyScreenshotListeners", "(J)Ljava/util/List;"), exact, false},
		{"exact params missing", mid("LA;", "notifyScreenshotListeners", "()Ljava/util/List;"), exact, false},
		{"exact extra param", mid("LA;", "notifyScreenshotListeners", "(II)Ljava/util/List;"), exact, false},
		{"exact return differs", mid("LA;", "notifyScreenshotListeners", "(I)Ljava/util/ArrayList;"), exact, false},
		{"class filter hit", mid("Lcom/android/server/wm/WindowState;", "isSecureLocked", "()Z"), scoped, true},
		{"class filter miss", mid("Lcom/android/server/wm/Task;", "isSecureLocked", "()Z"), scoped, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Matches(tc.m, tc.t); got != tc.want {
				t.Fatalf("Matches(%s, %s) = %v, want %v", tc.m, tc.t, got, tc.want)
			}
		})
	}
}

func TestFirstWins(t *testing.T) {
	targets := []catalog.Target{
		{Name: "check", Params: []string{"I"}, Return: "Z", Pattern: synth.ReturnTrue},
		{Name: "check", AnyParams: true, Return: "Z", Pattern: synth.ReturnFalse},
	}
	if got, ok := First(mid("LA;", "check", "(I)Z"), targets); !ok || got != 0 {
		t.Fatalf("First = %d, %v; want 0", got, ok)
	}
	if got, ok := First(mid("LA;", "check", "(J)Z"), targets); !ok || got != 1 {
		t.Fatalf("First = %d, %v; want 1", got, ok)
	}
	if _, ok := First(mid("LA;", "other", "()Z"), targets); ok {
		t.Fatal("First matched an unrelated method")
	}
}
