package store

import (
	"context"
	"fmt"

	"github.com/roach88/aiida/internal/entity"
	"github.com/roach88/aiida/internal/query"
)

// Direction selects which endpoint of a link is matched against node ids.
type Direction int

const (
	// Outgoing matches links whose input (source) is in the id set.
	Outgoing Direction = iota
	// Incoming matches links whose output (target) is in the id set.
	Incoming
)

func (d Direction) field() string {
	if d == Incoming {
		return "output_id"
	}
	return "input_id"
}

// LinksOf delivers links of the given types attached to nodes in ids on
// the given side. A nil types slice matches every link type.
func (s *Store) LinksOf(ctx context.Context, ids []int64, dir Direction, types []entity.LinkType, b Batch, fn func([]entity.Link) error) error {
	b = b.Normalized()
	for _, chunk := range Chunk(ids, b.FilterSize) {
		preds := []query.Predicate{query.InInt64(dir.field(), chunk)}
		if types != nil {
			preds = append(preds, linkTypeFilter(types))
		}
		err := s.Scan(ctx, entity.TypeLink, query.And{Predicates: preds}, b.BatchSize, func(rows []entity.Row) error {
			links, err := RowsToLinks(rows)
			if err != nil {
				return err
			}
			return fn(links)
		})
		if err != nil {
			return fmt.Errorf("links of nodes: %w", err)
		}
	}
	return nil
}

// LinksBetween returns all links whose both endpoints are in ids.
func (s *Store) LinksBetween(ctx context.Context, ids []int64, b Batch) ([]entity.Link, error) {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	var out []entity.Link
	err := s.LinksOf(ctx, ids, Outgoing, nil, b, func(links []entity.Link) error {
		for _, l := range links {
			if _, ok := set[l.OutputID]; ok {
				out = append(out, l)
			}
		}
		return nil
	})
	return out, err
}

// LinkExists reports whether an identical link is stored.
func (s *Store) LinkExists(ctx context.Context, l entity.Link) (bool, error) {
	n, err := s.Count(ctx, entity.TypeLink, query.And{Predicates: []query.Predicate{
		query.Equals{Field: "input_id", Value: l.InputID},
		query.Equals{Field: "output_id", Value: l.OutputID},
		query.Equals{Field: "type", Value: string(l.Type)},
		query.Equals{Field: "label", Value: l.Label},
	}})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// NodeTypes maps node ids to their node_type. Ids that do not exist are
// absent from the result.
func (s *Store) NodeTypes(ctx context.Context, ids []int64, b Batch) (map[int64]string, error) {
	out := make(map[int64]string, len(ids))
	err := s.RowsByIDs(ctx, entity.TypeNode, "id", ids, b, func(rows []entity.Row) error {
		for _, r := range rows {
			id, _ := r.Int64("id")
			out[id] = r.String("node_type")
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("node types: %w", err)
	}
	return out, nil
}

// RowsToLinks converts link rows to entity.Link values.
func RowsToLinks(rows []entity.Row) ([]entity.Link, error) {
	links := make([]entity.Link, len(rows))
	for i, r := range rows {
		lt, err := entity.ParseLinkType(r.String("type"))
		if err != nil {
			return nil, err
		}
		in, _ := r.Int64("input_id")
		out, _ := r.Int64("output_id")
		links[i] = entity.Link{InputID: in, OutputID: out, Type: lt, Label: r.String("label")}
	}
	return links, nil
}

func linkTypeFilter(types []entity.LinkType) query.In {
	values := make([]any, len(types))
	for i, t := range types {
		values[i] = string(t)
	}
	return query.In{Field: "type", Values: values}
}
