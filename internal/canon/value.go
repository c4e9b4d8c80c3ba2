package canon

import (
	"slices"
	"unicode/utf16"
)

// Value is a sealed interface over the constrained canonical value types.
// Only String, Int, Bool, Array, and Object implement it. There is no
// float type - floats break canonical identity and are rejected.
type Value interface {
	canonValue() // sealed
}

// String is a canonical string value.
type String string

func (String) canonValue() {}

// Int is a canonical integer value. Always int64, never float64.
type Int int64

func (Int) canonValue() {}

// Bool is a canonical boolean value.
type Bool bool

func (Bool) canonValue() {}

// Array is an ordered list of canonical values.
type Array []Value

func (Array) canonValue() {}

// Object is a map of string keys to canonical values.
// Use SortedKeys for deterministic iteration.
type Object map[string]Value

func (Object) canonValue() {}

// SortedKeys returns keys in RFC 8785 canonical order (UTF-16 code units).
// Go's sort.Strings compares UTF-8 bytes, which produces a DIFFERENT order
// for strings outside the BMP.
func (obj Object) SortedKeys() []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysRFC8785)
	return keys
}

// compareKeysRFC8785 compares strings by UTF-16 code units as required by
// RFC 8785. Surrogate handling must go through unicode/utf16.Encode.
func compareKeysRFC8785(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	n := min(len(a16), len(b16))
	for i := 0; i < n; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}

	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	default:
		return 0
	}
}
