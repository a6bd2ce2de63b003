package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromGo(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want Value
	}{
		{"nil", nil, Null{}},
		{"string", "abc", String("abc")},
		{"bool", true, Bool(true)},
		{"int", 42, Int(42)},
		{"int64", int64(-7), Int(-7)},
		{"float", 1.5, Decimal("1.5")},
		{"json int", json.Number("12"), Int(12)},
		{"json decimal", json.Number("12.50"), Decimal("12.50")},
		{"array", []any{1, "x", nil}, Array{Int(1), String("x"), Null{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromGo(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFromGoRejectsUnknown(t *testing.T) {
	_, err := FromGo(struct{}{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported literal type")
}

func TestNewDecimal(t *testing.T) {
	d, err := NewDecimal("10.25")
	require.NoError(t, err)
	assert.Equal(t, Decimal("10.25"), d)

	_, err = NewDecimal("ten")
	require.Error(t, err)
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "NULL", Format(Null{}))
	assert.Equal(t, "NULL", Format(nil))
	assert.Equal(t, "'O''Brien'", Format(String("O'Brien")))
	assert.Equal(t, "42", Format(Int(42)))
	assert.Equal(t, "FALSE", Format(Bool(false)))
	assert.Equal(t, "3.10", Format(Decimal("3.10")))
	assert.Equal(t, "(1, 'a')", Format(Array{Int(1), String("a")}))
}

func TestToGo(t *testing.T) {
	assert.Nil(t, ToGo(Null{}))
	assert.Equal(t, "x", ToGo(String("x")))
	assert.Equal(t, int64(3), ToGo(Int(3)))
	assert.Equal(t, true, ToGo(Bool(true)))
	assert.Equal(t, []any{int64(1), nil}, ToGo(Array{Int(1), Null{}}))
}

func TestIsNull(t *testing.T) {
	assert.True(t, IsNull(nil))
	assert.True(t, IsNull(Null{}))
	assert.False(t, IsNull(String("")))
}

func TestCompareKeysRFC8785(t *testing.T) {
	// U+E000 sorts after U+1F600 in UTF-16 (0xE000 > 0xD83D)
	// but before it in UTF-8 byte order.
	keys := sortedKeys(map[string]int{"\U0001F600": 1, "\uE000": 2, "a": 3})
	assert.Equal(t, []string{"a", "\U0001F600", "\uE000"}, keys)
}
