package links

import (
	"github.com/roach88/aiida/internal/entity"
)

// Degree constrains how many links of one type may share an endpoint.
type Degree int

const (
	// Unique: at most one link of this type on this side of the node.
	Unique Degree = iota
	// UniquePair: the label is unique among links of this type on this side.
	UniquePair
	// UniqueTriple: the (source, target, label) triple is unique.
	UniqueTriple
)

func (d Degree) String() string {
	switch d {
	case Unique:
		return "unique"
	case UniquePair:
		return "unique_pair"
	default:
		return "unique_triple"
	}
}

// Rule is the compatibility and degree rule for a link type.
type Rule struct {
	Source entity.NodeClass
	Target entity.NodeClass
	Out    Degree
	In     Degree
}

var rules = map[entity.LinkType]Rule{
	entity.LinkCreate:    {Source: entity.ClassCalculation, Target: entity.ClassData, Out: UniquePair, In: Unique},
	entity.LinkReturn:    {Source: entity.ClassWorkflow, Target: entity.ClassData, Out: UniquePair, In: UniqueTriple},
	entity.LinkInputCalc: {Source: entity.ClassData, Target: entity.ClassCalculation, Out: UniqueTriple, In: UniquePair},
	entity.LinkInputWork: {Source: entity.ClassData, Target: entity.ClassWorkflow, Out: UniqueTriple, In: UniquePair},
	entity.LinkCallCalc:  {Source: entity.ClassWorkflow, Target: entity.ClassCalculation, Out: UniqueTriple, In: Unique},
	entity.LinkCallWork:  {Source: entity.ClassWorkflow, Target: entity.ClassWorkflow, Out: UniqueTriple, In: Unique},
}

// RuleFor returns the rule of a link type.
func RuleFor(lt entity.LinkType) (Rule, bool) {
	r, ok := RuleFor(lt)
	return r, ok
}

// CheckCompatible verifies the node classes of a link against its type.
func CheckCompatible(lt entity.LinkType, sourceType, targetType string) error {
	r, ok := RuleFor(lt)
	if !ok {
		return newError(CodeType, "unknown link type %q", lt)
	}
	src := entity.ClassifyNode(sourceType)
	tgt := entity.ClassifyNode(targetType)
	if src != r.Source || tgt != r.Target {
		return newError(CodeIncompatible, "cannot add a %s link from %s node (%s) to %s node (%s)",
			lt, src, sourceType, tgt, targetType)
	}
	return nil
}

// checksCycles reports whether adding a link of this type may close a
// provenance cycle between stored nodes.
func checksCycles(lt entity.LinkType) bool {
	switch lt {
	case entity.LinkCreate, entity.LinkInputCalc, entity.LinkInputWork:
		return true
	default:
		return false
	}
}

// provenanceTypes are the link types followed by the cycle check.
var provenanceTypes = []entity.LinkType{
	entity.LinkCreate,
	entity.LinkInputCalc,
	entity.LinkInputWork,
	entity.LinkCallCalc,
	entity.LinkCallWork,
}
