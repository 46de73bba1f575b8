package links

import (
	"context"
	"fmt"

	"github.com/roach88/aiida/internal/entity"
	"github.com/roach88/aiida/internal/store"
)

// Endpoint is one side of a proposed link.
type Endpoint struct {
	ID       int64 // 0 while the node is not stored
	UUID     string
	NodeType string
}

// Stored reports whether the node exists in the backend.
func (e *Endpoint) Stored() bool {
	return e.ID > 0
}

func (e *Endpoint) key() string {
	if e.Stored() {
		return storedKey(e.ID)
	}
	return "uuid:" + e.UUID
}

func storedKey(id int64) string {
	return fmt.Sprintf("id:%d", id)
}

// PendingLink is a link recorded on an unstored node that has not been
// written yet. Pending links count towards degree limits.
type PendingLink struct {
	Source *Endpoint
	Target *Endpoint
	Type   entity.LinkType
	Label  string
}

// Graph is the read access the validator needs.
type Graph interface {
	LinksOf(ctx context.Context, ids []int64, dir store.Direction, types []entity.LinkType, b store.Batch, fn func([]entity.Link) error) error
}

// Validator checks proposed links against the stored graph.
// It never mutates anything.
type Validator struct {
	graph Graph
	batch store.Batch
}

// NewValidator creates a validator reading from g.
func NewValidator(g Graph, b store.Batch) *Validator {
	return &Validator{graph: g, batch: b.Normalized()}
}

// ValidateLink checks whether a link of type lt with the given label may
// be added from source to target. Checks run in a fixed order and the
// first failure is returned:
//
//  1. endpoints present and link type known
//  2. no self-link
//  3. both endpoints have a UUID
//  4. valid label
//  5. node classes compatible with the link type
//  6. source outdegree and target indegree, counting stored and pending links
//  7. no provenance cycle, when both endpoints are stored
func (v *Validator) ValidateLink(ctx context.Context, source, target *Endpoint, lt entity.LinkType, label string, pending []PendingLink) error {
	if source == nil || target == nil {
		return newError(CodeType, "link endpoints must both be nodes")
	}
	if _, ok := RuleFor(lt); !ok {
		return newError(CodeType, "unknown link type %q", lt)
	}
	if source == target || (source.UUID != "" && source.UUID == target.UUID) || (source.Stored() && source.ID == target.ID) {
		return newError(CodeSelfLink, "cannot link a node to itself")
	}
	if source.UUID == "" || target.UUID == "" {
		return newError(CodeMissingUUID, "link endpoints must have a UUID")
	}
	if err := ValidateLinkLabel(label); err != nil {
		return err
	}
	if err := CheckCompatible(lt, source.NodeType, target.NodeType); err != nil {
		return err
	}

	ledger, err := v.ledgerFor(ctx, source, target, lt, pending)
	if err != nil {
		return err
	}
	if err := ledger.Check(Edge[string]{Source: source.key(), Target: target.key(), Type: lt, Label: label}); err != nil {
		return err
	}

	if checksCycles(lt) && source.Stored() && target.Stored() {
		cycle, err := v.Reachable(ctx, target.ID, source.ID)
		if err != nil {
			return fmt.Errorf("check cycle: %w", err)
		}
		if cycle {
			return newError(CodeCycle, "%s link from %s to %s would create a cycle", lt, source.UUID, target.UUID)
		}
	}
	return nil
}

// ledgerFor loads the links that count towards the degree limits of a
// proposed link: stored outgoing links of the source, stored incoming
// links of the target, and pending links of the same type.
func (v *Validator) ledgerFor(ctx context.Context, source, target *Endpoint, lt entity.LinkType, pending []PendingLink) (*Ledger[string], error) {
	ledger := NewLedger[string]()
	add := func(links []entity.Link) error {
		for _, l := range links {
			e := Edge[string]{Source: storedKey(l.InputID), Target: storedKey(l.OutputID), Type: l.Type, Label: l.Label}
			if !ledger.Contains(e) {
				ledger.Add(e)
			}
		}
		return nil
	}

	types := []entity.LinkType{lt}
	if source.Stored() {
		if err := v.graph.LinksOf(ctx, []int64{source.ID}, store.Outgoing, types, v.batch, add); err != nil {
			return nil, fmt.Errorf("load outgoing links: %w", err)
		}
	}
	if target.Stored() {
		if err := v.graph.LinksOf(ctx, []int64{target.ID}, store.Incoming, types, v.batch, add); err != nil {
			return nil, fmt.Errorf("load incoming links: %w", err)
		}
	}

	for _, p := range pending {
		if p.Type != lt || p.Source == nil || p.Target == nil {
			continue
		}
		ledger.Add(Edge[string]{Source: p.Source.key(), Target: p.Target.key(), Type: p.Type, Label: p.Label})
	}
	return ledger, nil
}

// Reachable reports whether to can be reached from from by following
// provenance links (every type except RETURN) forward.
func (v *Validator) Reachable(ctx context.Context, from, to int64) (bool, error) {
	visited := map[int64]bool{from: true}
	frontier := []int64{from}
	found := false

	for len(frontier) > 0 && !found {
		var next []int64
		err := v.graph.LinksOf(ctx, frontier, store.Outgoing, provenanceTypes, v.batch, func(links []entity.Link) error {
			for _, l := range links {
				if l.OutputID == to {
					found = true
				}
				if !visited[l.OutputID] {
					visited[l.OutputID] = true
					next = append(next, l.OutputID)
				}
			}
			return nil
		})
		if err != nil {
			return false, err
		}
		frontier = next
	}
	return found, nil
}
