// Package graph computes closures of the provenance graph under
// context-specific traversal rules.
package graph

import (
	"context"
	"fmt"
	"slices"

	"github.com/roach88/aiida/internal/entity"
	"github.com/roach88/aiida/internal/store"
)

// Backend is the read access the traverser needs.
type Backend interface {
	ExistingIDs(ctx context.Context, t entity.EntityType, ids []int64, b store.Batch) ([]int64, error)
	LinksOf(ctx context.Context, ids []int64, dir store.Direction, types []entity.LinkType, b store.Batch, fn func([]entity.Link) error) error
}

// IDSet is a set of node ids.
type IDSet map[int64]struct{}

// Sorted returns the ids in ascending order.
func (s IDSet) Sorted() []int64 {
	out := make([]int64, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Has reports membership.
func (s IDSet) Has(id int64) bool {
	_, ok := s[id]
	return ok
}

// LinkSet is a set of links.
type LinkSet map[entity.Link]struct{}

// Sorted returns the links ordered by input, output, type and label.
func (s LinkSet) Sorted() []entity.Link {
	out := make([]entity.Link, 0, len(s))
	for l := range s {
		out = append(out, l)
	}
	slices.SortFunc(out, compareLinks)
	return out
}

func compareLinks(a, b entity.Link) int {
	switch {
	case a.InputID != b.InputID:
		return cmpInt(a.InputID, b.InputID)
	case a.OutputID != b.OutputID:
		return cmpInt(a.OutputID, b.OutputID)
	case a.Type != b.Type:
		if a.Type < b.Type {
			return -1
		}
		return 1
	case a.Label < b.Label:
		return -1
	case a.Label > b.Label:
		return 1
	}
	return 0
}

func cmpInt(a, b int64) int {
	if a < b {
		return -1
	}
	return 1
}

// Result is the closure of a traversal.
type Result struct {
	Nodes IDSet
	// Links holds every link followed by an enabled rule. Nil unless
	// requested.
	Links LinkSet
}

// Traverser expands node sets over the link graph.
type Traverser struct {
	backend Backend
	batch   store.Batch
}

// NewTraverser creates a traverser reading from backend.
func NewTraverser(backend Backend, b store.Batch) *Traverser {
	return &Traverser{backend: backend, batch: b.Normalized()}
}

// Traverse returns the smallest node set containing the stored seeds and
// closed under the enabled rules. Seeds that do not exist are dropped.
// With withLinks the followed links are returned as well.
func (t *Traverser) Traverse(ctx context.Context, seeds []int64, rules Rules, withLinks bool) (*Result, error) {
	existing, err := t.backend.ExistingIDs(ctx, entity.TypeNode, seeds, t.batch)
	if err != nil {
		return nil, fmt.Errorf("traverse: %w", err)
	}

	res := &Result{Nodes: make(IDSet, len(existing))}
	if withLinks {
		res.Links = LinkSet{}
	}
	for _, id := range existing {
		res.Nodes[id] = struct{}{}
	}

	var forward, backward []entity.LinkType
	for _, r := range rules.Enabled() {
		if r.Direction == Forward {
			forward = append(forward, r.LinkType)
		} else {
			backward = append(backward, r.LinkType)
		}
	}

	frontier := existing
	for len(frontier) > 0 {
		var next []int64
		visit := func(id int64) {
			if !res.Nodes.Has(id) {
				res.Nodes[id] = struct{}{}
				next = append(next, id)
			}
		}

		if len(forward) > 0 {
			err := t.backend.LinksOf(ctx, frontier, store.Outgoing, forward, t.batch, func(links []entity.Link) error {
				for _, l := range links {
					visit(l.OutputID)
					if withLinks {
						res.Links[l] = struct{}{}
					}
				}
				return nil
			})
			if err != nil {
				return nil, fmt.Errorf("traverse forward: %w", err)
			}
		}
		if len(backward) > 0 {
			err := t.backend.LinksOf(ctx, frontier, store.Incoming, backward, t.batch, func(links []entity.Link) error {
				for _, l := range links {
					visit(l.InputID)
					if withLinks {
						res.Links[l] = struct{}{}
					}
				}
				return nil
			})
			if err != nil {
				return nil, fmt.Errorf("traverse backward: %w", err)
			}
		}
		frontier = next
	}
	return res, nil
}
