package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprintStable(t *testing.T) {
	a, err := Fingerprint(DomainPlan, map[string]any{"x": 1, "y": "z"})
	require.NoError(t, err)
	b, err := Fingerprint(DomainPlan, map[string]any{"y": "z", "x": 1})
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestFingerprintDomainSeparated(t *testing.T) {
	a, err := Fingerprint(DomainPlan, "same")
	require.NoError(t, err)
	b, err := Fingerprint(DomainCommand, "same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
