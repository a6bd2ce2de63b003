package ir

import (
	"encoding/json"
	"fmt"
	"math/big"
	"slices"
	"strconv"
	"strings"
	"unicode/utf16"
)

// Value is a sealed interface for literal values carried through plans.
// Only Null, String, Int, Bool, Decimal, and Array implement it.
// Floats are carried as Decimal text so plan snapshots stay deterministic.
type Value interface {
	irValue() // Sealed - only these types implement it
}

// Null is the SQL NULL literal.
type Null struct{}

func (Null) irValue() {}

// MarshalJSON implements json.Marshaler for Null.
func (Null) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// String is a character literal.
type String string

func (String) irValue() {}

// Int is an exact integer literal.
type Int int64

func (Int) irValue() {}

// Bool is a boolean literal.
type Bool bool

func (Bool) irValue() {}

// Decimal is an exact numeric literal kept in its textual form ("12.50").
type Decimal string

func (Decimal) irValue() {}

// Array is a multi-valued literal, used for IN lists and bound parameter sets.
type Array []Value

func (Array) irValue() {}

// NewDecimal validates s as a decimal literal.
func NewDecimal(s string) (Decimal, error) {
	if _, ok := new(big.Rat).SetString(s); !ok {
		return "", fmt.Errorf("invalid decimal literal %q", s)
	}
	return Decimal(s), nil
}

// IsNull reports whether v is nil or the Null literal.
func IsNull(v Value) bool {
	if v == nil {
		return true
	}
	_, ok := v.(Null)
	return ok
}

// FromGo converts a decoded YAML/JSON/CUE scalar into a Value.
func FromGo(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case string:
		return String(val), nil
	case bool:
		return Bool(val), nil
	case int:
		return Int(val), nil
	case int32:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case uint64:
		if val > 1<<63-1 {
			return nil, fmt.Errorf("integer out of range: %d", val)
		}
		return Int(val), nil
	case float64:
		return Decimal(strconv.FormatFloat(val, 'f', -1, 64)), nil
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return Int(n), nil
		}
		return NewDecimal(val.String())
	case []byte:
		return String(val), nil
	case []any:
		arr := make(Array, len(val))
		for i, elem := range val {
			irElem, err := FromGo(elem)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			arr[i] = irElem
		}
		return arr, nil
	default:
		return nil, fmt.Errorf("unsupported literal type: %T", v)
	}
}

// ToGo converts v into the value handed to database/sql drivers.
func ToGo(v Value) any {
	switch val := v.(type) {
	case nil, Null:
		return nil
	case String:
		return string(val)
	case Int:
		return int64(val)
	case Bool:
		return bool(val)
	case Decimal:
		return string(val)
	case Array:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = ToGo(elem)
		}
		return out
	default:
		panic(fmt.Sprintf("ir: unknown value type %T", v))
	}
}

// Format renders v as SQL literal text.
func Format(v Value) string {
	switch val := v.(type) {
	case nil, Null:
		return "NULL"
	case String:
		return "'" + strings.ReplaceAll(string(val), "'", "''") + "'"
	case Int:
		return strconv.FormatInt(int64(val), 10)
	case Bool:
		if val {
			return "TRUE"
		}
		return "FALSE"
	case Decimal:
		return string(val)
	case Array:
		parts := make([]string, len(val))
		for i, elem := range val {
			parts[i] = Format(elem)
		}
		return "(" + strings.Join(parts, ", ") + ")"
	default:
		panic(fmt.Sprintf("ir: unknown value type %T", v))
	}
}

// sortedKeys returns keys in RFC 8785 canonical order (UTF-16 code units).
// Go's sort.Strings uses UTF-8 which produces a different order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysRFC8785)
	return keys
}

func compareKeysRFC8785(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))
	for i := 0; i < min(len(a16), len(b16)); i++ {
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
	}
	return 0
}
