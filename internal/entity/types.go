package entity

import (
	"fmt"
	"strings"
	"time"
)

// EntityType identifies a kind of stored entity.
type EntityType string

const (
	TypeUser      EntityType = "user"
	TypeComputer  EntityType = "computer"
	TypeAuthInfo  EntityType = "authinfo"
	TypeGroup     EntityType = "group"
	TypeNode      EntityType = "node"
	TypeComment   EntityType = "comment"
	TypeLog       EntityType = "log"
	TypeLink      EntityType = "link"
	TypeGroupNode EntityType = "group_node"
)

// EntityTypes lists every entity kind in dependency order: a kind only
// references kinds that appear before it.
var EntityTypes = []EntityType{
	TypeUser,
	TypeComputer,
	TypeAuthInfo,
	TypeNode,
	TypeLog,
	TypeComment,
	TypeGroup,
	TypeGroupNode,
	TypeLink,
}

// ParseEntityType converts a string to an EntityType.
func ParseEntityType(s string) (EntityType, error) {
	for _, t := range EntityTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown entity type %q", s)
}

// LinkType is the type of a provenance link between two nodes.
type LinkType string

const (
	LinkCreate    LinkType = "create"
	LinkReturn    LinkType = "return"
	LinkInputCalc LinkType = "input_calc"
	LinkInputWork LinkType = "input_work"
	LinkCallCalc  LinkType = "call_calc"
	LinkCallWork  LinkType = "call_work"
)

// LinkTypes lists all link types in a fixed order.
var LinkTypes = []LinkType{
	LinkCreate,
	LinkReturn,
	LinkInputCalc,
	LinkInputWork,
	LinkCallCalc,
	LinkCallWork,
}

// ParseLinkType converts a string to a LinkType.
func ParseLinkType(s string) (LinkType, error) {
	for _, lt := range LinkTypes {
		if string(lt) == s {
			return lt, nil
		}
	}
	return "", fmt.Errorf("unknown link type %q", s)
}

// Link is a directed, typed, labelled edge between two node ids.
type Link struct {
	InputID  int64    `json:"input_id"`
	OutputID int64    `json:"output_id"`
	Type     LinkType `json:"type"`
	Label    string   `json:"label"`
}

// String renders the link for diagnostics.
func (l Link) String() string {
	return fmt.Sprintf("%d -[%s:%s]-> %d", l.InputID, l.Type, l.Label, l.OutputID)
}

// NodeClass is the coarse class of a node derived from its node_type.
type NodeClass int

const (
	ClassUnknown NodeClass = iota
	ClassData
	ClassCalculation
	ClassWorkflow
	// ClassProcess is a process node that is neither a calculation nor a
	// workflow. It cannot be the endpoint of any link.
	ClassProcess
)

func (c NodeClass) String() string {
	switch c {
	case ClassData:
		return "data"
	case ClassCalculation:
		return "calculation"
	case ClassWorkflow:
		return "workflow"
	case ClassProcess:
		return "process"
	default:
		return "unknown"
	}
}

// IsProcess reports whether the class is any kind of process.
func (c NodeClass) IsProcess() bool {
	return c == ClassCalculation || c == ClassWorkflow || c == ClassProcess
}

// ClassifyNode derives the NodeClass from a node_type string such as
// "data.core.int.Int." or "process.calculation.calcjob.CalcJobNode.".
func ClassifyNode(nodeType string) NodeClass {
	switch {
	case strings.HasPrefix(nodeType, "data."):
		return ClassData
	case strings.HasPrefix(nodeType, "process.calculation."):
		return ClassCalculation
	case strings.HasPrefix(nodeType, "process.workflow."):
		return ClassWorkflow
	case strings.HasPrefix(nodeType, "process."):
		return ClassProcess
	default:
		return ClassUnknown
	}
}

// Well-known attribute and extras keys.
const (
	AttrSealed      = "sealed"
	AttrCheckpoints = "checkpoints"
	AttrSource      = "source"
	AttrLicense     = "license"

	// PrivateExtrasPrefix marks extras reserved for internal bookkeeping.
	// Such extras are never transferred between profiles.
	PrivateExtrasPrefix = "_aiida_"
)

// Row is a single entity record keyed by column name.
type Row map[string]any

// Int64 returns the integer value of a column, or 0 and false if absent
// or not an integer.
func (r Row) Int64(key string) (int64, bool) {
	switch v := r[key].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}

// String returns the string value of a column, or "" if absent.
func (r Row) String(key string) string {
	s, _ := r[key].(string)
	return s
}

// Map returns the JSON object value of a column, or nil if absent.
func (r Row) Map(key string) map[string]any {
	m, _ := r[key].(map[string]any)
	return m
}

// Time returns the time value of a column.
func (r Row) Time(key string) (time.Time, bool) {
	t, ok := r[key].(time.Time)
	return t, ok
}

// Clone returns a copy of the row. JSON object values are copied deeply
// so that transforms can mutate them freely.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(val))
		for k, e := range val {
			m[k] = cloneValue(e)
		}
		return m
	case []any:
		s := make([]any, len(val))
		for i, e := range val {
			s[i] = cloneValue(e)
		}
		return s
	default:
		return v
	}
}
