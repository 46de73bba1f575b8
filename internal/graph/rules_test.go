package graph

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllRules(t *testing.T) {
	require.Len(t, AllRules, 12)
	assert.Equal(t, RuleName("create_forward"), AllRules[0].Name)
	assert.Equal(t, RuleName("create_backward"), AllRules[1].Name)
}

func TestResolveRulesDefaults(t *testing.T) {
	tests := []struct {
		context Context
		enabled []RuleName
	}{
		{ContextDefault, nil},
		{ContextExport, []RuleName{
			"create_forward", "create_backward", "return_forward",
			"input_calc_backward", "input_work_backward",
			"call_calc_forward", "call_work_forward",
		}},
		{ContextDelete, []RuleName{
			"create_forward", "create_backward",
			"input_calc_forward", "input_work_forward",
			"call_calc_forward", "call_calc_backward",
			"call_work_forward", "call_work_backward",
		}},
	}

	for _, tt := range tests {
		t.Run(string(tt.context), func(t *testing.T) {
			rules, err := ResolveRules(tt.context, nil)
			require.NoError(t, err)
			assert.Len(t, rules, 12)

			var got []RuleName
			for _, r := range rules.Enabled() {
				got = append(got, r.Name)
			}
			assert.ElementsMatch(t, tt.enabled, got)
		})
	}
}

func TestResolveRulesOverrides(t *testing.T) {
	rules, err := ResolveRules(ContextExport, map[string]bool{
		"create_backward":    false,
		"create_forward":     true, // equal to its fixed value
		"input_calc_forward": true,
	})
	require.NoError(t, err)
	assert.False(t, rules["create_backward"])
	assert.True(t, rules["input_calc_forward"])
}

func TestResolveRulesErrors(t *testing.T) {
	tests := []struct {
		name      string
		context   Context
		overrides map[string]bool
		contains  string
	}{
		{"unknown rule", ContextExport, map[string]bool{"bogus_rule": true}, "unknown rule"},
		{"fixed export rule", ContextExport, map[string]bool{"create_forward": false}, "fixed to true"},
		{"fixed delete rule", ContextDelete, map[string]bool{"return_forward": true}, "fixed to false"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ResolveRules(tt.context, tt.overrides)
			require.Error(t, err)

			var ruleErr *RuleError
			require.True(t, errors.As(err, &ruleErr))
			assert.Contains(t, err.Error(), tt.contains)
		})
	}

	_, err := ResolveRules("nope", nil)
	assert.Error(t, err)
}

func TestToggleable(t *testing.T) {
	assert.Equal(t, map[string]bool{
		"create_forward":    true,
		"call_calc_forward": true,
		"call_work_forward": true,
	}, Toggleable(ContextDelete))

	export := Toggleable(ContextExport)
	assert.Len(t, export, 6)
	assert.True(t, export["create_backward"])
	assert.False(t, export["return_backward"])

	assert.Len(t, Toggleable(ContextDefault), 12)
}

func TestRulesAsMap(t *testing.T) {
	rules, err := ResolveRules(ContextDefault, map[string]bool{"return_forward": true})
	require.NoError(t, err)
	m := rules.AsMap()
	assert.True(t, m["return_forward"])
	assert.False(t, m["return_backward"])
}
