package archive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseExtrasPolicy(t *testing.T) {
	p, err := ParseExtrasPolicy("kcl")
	require.NoError(t, err)
	assert.Equal(t, ExtrasPolicy{KeepOld: true, CreateNew: true, Collision: 'l'}, p)

	p, err = ParseExtrasPolicy("nnd")
	require.NoError(t, err)
	assert.Equal(t, ExtrasPolicy{Collision: 'd'}, p)

	for _, bad := range []string{"", "kc", "kclx", "xcl", "kxl", "kcx"} {
		_, err := ParseExtrasPolicy(bad)
		assert.Error(t, err, bad)
	}
}

func TestExtrasPolicyMerge(t *testing.T) {
	old := map[string]any{"only_old": 1, "both": "old", "_aiida_hash": "h1"}
	incoming := map[string]any{"only_new": 2, "both": "new", "_aiida_hash": "h2", "_aiida_extra": "x"}

	tests := []struct {
		policy string
		want   map[string]any
	}{
		{"kcl", map[string]any{"only_old": 1, "only_new": 2, "both": "old", "_aiida_hash": "h1"}},
		{"kcu", map[string]any{"only_old": 1, "only_new": 2, "both": "new", "_aiida_hash": "h1"}},
		{"kcd", map[string]any{"only_old": 1, "only_new": 2, "_aiida_hash": "h1"}},
		{"ncu", map[string]any{"only_new": 2, "both": "new", "_aiida_hash": "h1"}},
		{"knl", map[string]any{"only_old": 1, "both": "old", "_aiida_hash": "h1"}},
		{"nnd", map[string]any{"_aiida_hash": "h1"}},
	}
	for _, tt := range tests {
		t.Run(tt.policy, func(t *testing.T) {
			p, err := ParseExtrasPolicy(tt.policy)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Merge(old, incoming))
		})
	}
}

func TestLicenseList(t *testing.T) {
	f := LicenseList("MIT", "CC-BY-4.0")
	assert.True(t, f("MIT"))
	assert.False(t, f("GPL-3.0"))
}

func TestDefaultOptionsAreValid(t *testing.T) {
	assert.NoError(t, optionsValidate.Struct(DefaultCreateOptions()))
	assert.NoError(t, optionsValidate.Struct(DefaultImportOptions()))
}
