package links

import (
	"github.com/roach88/aiida/internal/entity"
)

// Edge is a link between two nodes identified by keys of type K.
// The live validator keys nodes by a string that also covers unstored
// nodes; the import pipeline keys them by target database id.
type Edge[K comparable] struct {
	Source K
	Target K
	Type   entity.LinkType
	Label  string
}

type sideKey[K comparable] struct {
	node K
	typ  entity.LinkType
}

// Ledger indexes known links by endpoint and type and checks new links
// against the degree rules. It holds both persisted links and links that
// are pending in the same operation.
type Ledger[K comparable] struct {
	out map[sideKey[K]][]Edge[K]
	in  map[sideKey[K]][]Edge[K]
}

// NewLedger returns an empty ledger.
func NewLedger[K comparable]() *Ledger[K] {
	return &Ledger[K]{
		out: make(map[sideKey[K]][]Edge[K]),
		in:  make(map[sideKey[K]][]Edge[K]),
	}
}

// Add records a link without checking it.
func (l *Ledger[K]) Add(e Edge[K]) {
	ok := sideKey[K]{e.Source, e.Type}
	ik := sideKey[K]{e.Target, e.Type}
	l.out[ok] = append(l.out[ok], e)
	l.in[ik] = append(l.in[ik], e)
}

// Contains reports whether an identical link is recorded.
func (l *Ledger[K]) Contains(e Edge[K]) bool {
	for _, x := range l.out[sideKey[K]{e.Source, e.Type}] {
		if x == e {
			return true
		}
	}
	return false
}

// Check verifies that adding e keeps the outdegree of its source and the
// indegree of its target within the rules of its type.
func (l *Ledger[K]) Check(e Edge[K]) error {
	r, ok := RuleFor(e.Type)
	if !ok {
		return newError(CodeType, "unknown link type %q", e.Type)
	}

	outs := l.out[sideKey[K]{e.Source, e.Type}]
	switch r.Out {
	case Unique:
		if len(outs) > 0 {
			return newError(CodeOutdegree, "source already has an outgoing %s link", e.Type)
		}
	case UniquePair:
		for _, x := range outs {
			if x.Label == e.Label {
				return newError(CodeOutdegree, "source already has an outgoing %s link with label %q", e.Type, e.Label)
			}
		}
	case UniqueTriple:
		for _, x := range outs {
			if x.Target == e.Target && x.Label == e.Label {
				return newError(CodeTriple, "%s link with label %q already exists between these nodes", e.Type, e.Label)
			}
		}
	}

	ins := l.in[sideKey[K]{e.Target, e.Type}]
	switch r.In {
	case Unique:
		if len(ins) > 0 {
			return newError(CodeIndegree, "target already has an incoming %s link", e.Type)
		}
	case UniquePair:
		for _, x := range ins {
			if x.Label == e.Label {
				return newError(CodeIndegree, "target already has an incoming %s link with label %q", e.Type, e.Label)
			}
		}
	case UniqueTriple:
		for _, x := range ins {
			if x.Source == e.Source && x.Label == e.Label {
				return newError(CodeTriple, "%s link with label %q already exists between these nodes", e.Type, e.Label)
			}
		}
	}
	return nil
}

// CheckAndAdd checks e and records it if it passes.
func (l *Ledger[K]) CheckAndAdd(e Edge[K]) error {
	if err := l.Check(e); err != nil {
		return err
	}
	l.Add(e)
	return nil
}

// EdgeFromLink converts a stored link to an id-keyed edge.
func EdgeFromLink(link entity.Link) Edge[int64] {
	return Edge[int64]{Source: link.InputID, Target: link.OutputID, Type: link.Type, Label: link.Label}
}
