package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/aiida/internal/entity"
)

// Direction is the direction a rule follows links in.
type Direction int

const (
	Forward  Direction = iota // from link input to link output
	Backward                  // from link output to link input
)

func (d Direction) String() string {
	if d == Backward {
		return "backward"
	}
	return "forward"
}

// RuleName is "<link type>_<direction>", for example "create_backward".
type RuleName string

// Rule is one traversal rule: a link type and a direction.
type Rule struct {
	Name      RuleName
	LinkType  entity.LinkType
	Direction Direction
}

// AllRules lists the twelve rules in a fixed order.
var AllRules = func() []Rule {
	var out []Rule
	for _, lt := range entity.LinkTypes {
		for _, d := range []Direction{Forward, Backward} {
			out = append(out, Rule{
				Name:      RuleName(fmt.Sprintf("%s_%s", lt, d)),
				LinkType:  lt,
				Direction: d,
			})
		}
	}
	return out
}()

// Context names a rule vocabulary.
type Context string

const (
	ContextDefault Context = "default"
	ContextExport  Context = "export"
	ContextDelete  Context = "delete"
)

type ruleSetting struct {
	toggleable bool
	value      bool // default if toggleable, fixed value otherwise
}

func toggle(def bool) ruleSetting { return ruleSetting{toggleable: true, value: def} }
func fixed(v bool) ruleSetting    { return ruleSetting{value: v} }

var contexts = map[Context]map[RuleName]ruleSetting{
	ContextDefault: {
		"input_calc_forward": toggle(false), "input_calc_backward": toggle(false),
		"create_forward": toggle(false), "create_backward": toggle(false),
		"return_forward": toggle(false), "return_backward": toggle(false),
		"input_work_forward": toggle(false), "input_work_backward": toggle(false),
		"call_calc_forward": toggle(false), "call_calc_backward": toggle(false),
		"call_work_forward": toggle(false), "call_work_backward": toggle(false),
	},
	// Export keeps the provenance of every exported node reproducible: the
	// inputs of a process and its outputs always travel with it.
	ContextExport: {
		"input_calc_forward": toggle(false), "input_calc_backward": fixed(true),
		"create_forward": fixed(true), "create_backward": toggle(true),
		"return_forward": fixed(true), "return_backward": toggle(false),
		"input_work_forward": toggle(false), "input_work_backward": fixed(true),
		"call_calc_forward": fixed(true), "call_calc_backward": toggle(false),
		"call_work_forward": fixed(true), "call_work_backward": toggle(false),
	},
	// Delete never leaves a process without its inputs or a data node
	// without its creator.
	ContextDelete: {
		"input_calc_forward": fixed(true), "input_calc_backward": fixed(false),
		"create_forward": toggle(true), "create_backward": fixed(true),
		"return_forward": fixed(false), "return_backward": fixed(false),
		"input_work_forward": fixed(true), "input_work_backward": fixed(false),
		"call_calc_forward": toggle(true), "call_calc_backward": fixed(true),
		"call_work_forward": toggle(true), "call_work_backward": fixed(true),
	},
}

// RuleError reports an invalid rule override.
type RuleError struct {
	Context Context
	Rule    string
	Message string
}

// Error implements the error interface.
func (e *RuleError) Error() string {
	return fmt.Sprintf("traversal rule %q (%s): %s", e.Rule, e.Context, e.Message)
}

// Rules is a resolved rule set: every rule name mapped to enabled or not.
type Rules map[RuleName]bool

// Enabled returns the enabled rules in AllRules order.
func (r Rules) Enabled() []Rule {
	var out []Rule
	for _, rule := range AllRules {
		if r[rule.Name] {
			out = append(out, rule)
		}
	}
	return out
}

// AsMap returns the rules keyed by plain strings, for metadata.
func (r Rules) AsMap() map[string]bool {
	out := make(map[string]bool, len(r))
	for k, v := range r {
		out[string(k)] = v
	}
	return out
}

// ResolveRules applies overrides to the defaults of a context.
//
// An unknown rule name fails. Overriding a non-toggleable rule fails
// unless the override equals its fixed value.
func ResolveRules(c Context, overrides map[string]bool) (Rules, error) {
	settings, ok := contexts[c]
	if !ok {
		return nil, fmt.Errorf("unknown traversal context %q", c)
	}

	rules := make(Rules, len(settings))
	for name, s := range settings {
		rules[name] = s.value
	}

	names := make([]string, 0, len(overrides))
	for name := range overrides {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		value := overrides[name]
		s, ok := settings[RuleName(name)]
		if !ok {
			return nil, &RuleError{Context: c, Rule: name, Message: "unknown rule, valid rules are " + validNames()}
		}
		if !s.toggleable && value != s.value {
			return nil, &RuleError{Context: c, Rule: name, Message: fmt.Sprintf("rule is fixed to %v", s.value)}
		}
		rules[RuleName(name)] = value
	}
	return rules, nil
}

// Toggleable returns the rules that may be overridden in a context, with
// their defaults.
func Toggleable(c Context) map[string]bool {
	out := map[string]bool{}
	for name, s := range contexts[c] {
		if s.toggleable {
			out[string(name)] = s.value
		}
	}
	return out
}

func validNames() string {
	names := make([]string, len(AllRules))
	for i, r := range AllRules {
		names[i] = string(r.Name)
	}
	return strings.Join(names, ", ")
}
