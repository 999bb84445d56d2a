package synth

import (
	"fmt"
	"strings"
)

// Pattern names one of the fixed replacement bodies.
type Pattern uint8

const (
	// ReturnFalse loads 0 and returns it as a 32-bit value.
	ReturnFalse Pattern = iota + 1
	// ReturnTrue loads 1 and returns it as a 32-bit value.
	ReturnTrue
	// ReturnEmptyList returns Collections.emptyList().
	ReturnEmptyList
	// ReturnEmptyListField returns the Collections.EMPTY_LIST field.
	ReturnEmptyListField
)

var patternNames = map[Pattern]string{
	ReturnFalse:          "return-false",
	ReturnTrue:           "return-true",
	ReturnEmptyList:      "return-empty-list",
	ReturnEmptyListField: "return-empty-list-field",
}

// Older catalog files spell patterns the short way.
var patternAliases = map[string]Pattern{
	"retfalse":          ReturnFalse,
	"rettrue":           ReturnTrue,
	"retemptylist":      ReturnEmptyList,
	"retemptylistfield": ReturnEmptyListField,
}

func (p Pattern) String() string {
	if n, ok := patternNames[p]; ok {
		return n
	}
	return fmt.Sprintf("pattern(%d)", uint8(p))
}

// Patterns lists every pattern in declaration order.
func Patterns() []Pattern {
	return []Pattern{ReturnFalse, ReturnTrue, ReturnEmptyList, ReturnEmptyListField}
}

// ParsePattern accepts the canonical names and their short aliases.
func ParsePattern(s string) (Pattern, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	for p, n := range patternNames {
		if n == key {
			return p, nil
		}
	}
	if p, ok := patternAliases[strings.ReplaceAll(key, "_", "")]; ok {
		return p, nil
	}
	return 0, fmt.Errorf("unknown pattern %q (expected return-false|return-true|return-empty-list|return-empty-list-field)", s)
}

// MarshalText lets patterns round-trip through config and reports.
func (p Pattern) MarshalText() ([]byte, error) {
	if _, ok := patternNames[p]; !ok {
		return nil, fmt.Errorf("unknown pattern %d", uint8(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText parses a pattern name.
func (p *Pattern) UnmarshalText(b []byte) error {
	v, err := ParsePattern(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Accepts reports whether the pattern yields a value assignable to the
// declared return type.
func (p Pattern) Accepts(ret string) bool {
	switch p {
	case ReturnFalse, ReturnTrue:
		switch ret {
		case "Z", "B", "S", "C", "I":
			return true
		}
	case ReturnEmptyList, ReturnEmptyListField:
		switch ret {
		case ListType, "Ljava/util/Collection;", "Ljava/lang/Iterable;", "Ljava/lang/Object;":
			return true
		}
	}
	return false
}
