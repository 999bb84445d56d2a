// Package match decides whether a method signature is covered by a patch
// target.
package match

import (
	"slices"

	"paccer/internal/catalog"
	"paccer/internal/dex"
)

// Matches reports whether m satisfies t: the names are equal, the
// parameter lists are equal unless t accepts any, the return types are
// equal and, when t names a class, m is declared in it.
func Matches(m dex.MethodID, t catalog.Target) bool {
	if m.Name != t.Name || m.Proto.Return != t.Return {
		return false
	}
	if t.Class != "" && m.Class != t.Class {
		return false
	}
	return t.AnyParams || slices.Equal(m.Proto.Params, t.Params)
}

// First returns the index of the first target m satisfies.
func First(m dex.MethodID, targets []catalog.Target) (int, bool) {
	for i := range targets {
		if Matches(m, targets[i]) {
			return i, true
		}
	}
	return -1, false
}
