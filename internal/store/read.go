package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/aiida/internal/entity"
	"github.com/roach88/aiida/internal/query"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Default batching parameters.
const (
	// DefaultFilterSize stays below SQLite's historical limit of 999 bound
	// parameters per statement.
	DefaultFilterSize = 999
	DefaultBatchSize  = 1000
)

// Batch bounds the size of batched reads.
//
// FilterSize is the maximum number of ids in one IN clause; BatchSize is
// the maximum number of rows delivered per callback. Both are needed: a
// chunk of FilterSize ids may match many more than BatchSize rows (for
// example all links of a set of nodes).
type Batch struct {
	FilterSize int
	BatchSize  int
}

// Normalized returns b with zero fields replaced by the defaults.
func (b Batch) Normalized() Batch {
	if b.FilterSize <= 0 {
		b.FilterSize = DefaultFilterSize
	}
	if b.BatchSize <= 0 {
		b.BatchSize = DefaultBatchSize
	}
	return b
}

// Chunk splits xs into consecutive slices of at most size elements.
func Chunk[T any](xs []T, size int) [][]T {
	if size <= 0 {
		size = DefaultFilterSize
	}
	var chunks [][]T
	for len(xs) > 0 {
		n := min(size, len(xs))
		chunks = append(chunks, xs[:n])
		xs = xs[n:]
	}
	return chunks
}

// Scan delivers all rows of t matching filter to fn in id order, at most
// batchSize rows per call. Pages are fetched with keyset pagination on id
// and each page is fully read before fn runs, so fn may issue its own
// queries on the same store.
func (s *Store) Scan(ctx context.Context, t entity.EntityType, filter query.Predicate, batchSize int, fn func([]entity.Row) error) error {
	return s.ScanColumns(ctx, t, nil, filter, batchSize, fn)
}

// ScanColumns is Scan restricted to columns. The id column is always
// included. A nil columns selects every column.
func (s *Store) ScanColumns(ctx context.Context, t entity.EntityType, columns []string, filter query.Predicate, batchSize int, fn func([]entity.Row) error) error {
	spec, err := entity.Spec(t)
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	if columns == nil {
		columns = spec.ColumnNames()
	} else if !slices.Contains(columns, "id") {
		columns = append([]string{"id"}, columns...)
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	var lastID int64
	first := true
	for {
		preds := []query.Predicate{}
		if filter != nil {
			preds = append(preds, filter)
		}
		if !first {
			preds = append(preds, query.Greater{Field: "id", Value: lastID})
		}
		sel := query.Select{
			From:    spec.Table,
			Columns: columns,
			Limit:   batchSize,
		}
		if len(preds) > 0 {
			sel.Filter = query.And{Predicates: preds}
		}

		rows, err := s.selectRows(ctx, spec, sel)
		if err != nil {
			return fmt.Errorf("scan %s: %w", t, err)
		}
		if len(rows) == 0 {
			return nil
		}
		if err := fn(rows); err != nil {
			return err
		}
		if len(rows) < batchSize {
			return nil
		}
		lastID, _ = rows[len(rows)-1].Int64("id")
		first = false
	}
}

// RowsByIDs delivers the rows of t whose field is one of ids, in batches.
// The ids are split into chunks of b.FilterSize; each chunk is scanned in
// pages of b.BatchSize rows.
func (s *Store) RowsByIDs(ctx context.Context, t entity.EntityType, field string, ids []int64, b Batch, fn func([]entity.Row) error) error {
	return s.ColumnsByIDs(ctx, t, nil, field, ids, b, fn)
}

// ColumnsByIDs is RowsByIDs restricted to columns, as in ScanColumns.
func (s *Store) ColumnsByIDs(ctx context.Context, t entity.EntityType, columns []string, field string, ids []int64, b Batch, fn func([]entity.Row) error) error {
	b = b.Normalized()
	for _, chunk := range Chunk(ids, b.FilterSize) {
		if err := s.ScanColumns(ctx, t, columns, query.InInt64(field, chunk), b.BatchSize, fn); err != nil {
			return err
		}
	}
	return nil
}

// ExistingIDs returns the subset of ids present in table t, sorted.
func (s *Store) ExistingIDs(ctx context.Context, t entity.EntityType, ids []int64, b Batch) ([]int64, error) {
	spec, err := entity.Spec(t)
	if err != nil {
		return nil, fmt.Errorf("existing ids: %w", err)
	}
	b = b.Normalized()

	var out []int64
	for _, chunk := range Chunk(ids, b.FilterSize) {
		rows, err := s.selectRows(ctx, spec, query.Select{
			From:    spec.Table,
			Columns: []string{"id"},
			Filter:  query.InInt64("id", chunk),
		})
		if err != nil {
			return nil, fmt.Errorf("existing %s ids: %w", t, err)
		}
		for _, r := range rows {
			id, _ := r.Int64("id")
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

// IDs returns the ids of all rows of t matching filter, ascending.
func (s *Store) IDs(ctx context.Context, t entity.EntityType, filter query.Predicate, batchSize int) ([]int64, error) {
	var out []int64
	err := s.ScanColumns(ctx, t, []string{"id"}, filter, batchSize, func(rows []entity.Row) error {
		for _, r := range rows {
			id, _ := r.Int64("id")
			out = append(out, id)
		}
		return nil
	})
	return out, err
}

// All returns every row of t matching filter.
func (s *Store) All(ctx context.Context, t entity.EntityType, filter query.Predicate) ([]entity.Row, error) {
	var out []entity.Row
	err := s.Scan(ctx, t, filter, DefaultBatchSize, func(rows []entity.Row) error {
		out = append(out, rows...)
		return nil
	})
	return out, err
}

// Get returns the row of t with the given id.
func (s *Store) Get(ctx context.Context, t entity.EntityType, id int64) (entity.Row, error) {
	row, ok, err := s.FindBy(ctx, t, "id", id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%s %d: %w", t, id, ErrNotFound)
	}
	return row, nil
}

// FindBy returns the first row of t whose field equals value.
func (s *Store) FindBy(ctx context.Context, t entity.EntityType, field string, value any) (entity.Row, bool, error) {
	spec, err := entity.Spec(t)
	if err != nil {
		return nil, false, fmt.Errorf("find: %w", err)
	}
	rows, err := s.selectRows(ctx, spec, query.Select{
		From:    spec.Table,
		Columns: spec.ColumnNames(),
		Filter:  query.Equals{Field: field, Value: value},
		Limit:   1,
	})
	if err != nil {
		return nil, false, fmt.Errorf("find %s by %s: %w", t, field, err)
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	return rows[0], true, nil
}

// Count returns the number of rows of t matching filter.
func (s *Store) Count(ctx context.Context, t entity.EntityType, filter query.Predicate) (int64, error) {
	spec, err := entity.Spec(t)
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	sqlText, params, err := query.Compile(query.Select{From: spec.Table, Filter: filter, Count: true})
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", t, err)
	}
	s.observe(sqlText, params)

	var n int64
	if err := s.conn.QueryRowContext(ctx, sqlText, params...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", t, err)
	}
	return n, nil
}

// LookupIDs maps values of a unique text field (uuid, email) to row ids.
// Values with no matching row are absent from the result.
func (s *Store) LookupIDs(ctx context.Context, t entity.EntityType, field string, values []string, b Batch) (map[string]int64, error) {
	spec, err := entity.Spec(t)
	if err != nil {
		return nil, fmt.Errorf("lookup: %w", err)
	}
	b = b.Normalized()

	out := make(map[string]int64, len(values))
	for _, chunk := range Chunk(values, b.FilterSize) {
		sqlText, params, err := query.Compile(query.Select{
			From:    spec.Table,
			Columns: []string{"id", field},
			Filter:  query.InStrings(field, chunk),
		})
		if err != nil {
			return nil, fmt.Errorf("lookup %s: %w", t, err)
		}
		s.observe(sqlText, params)

		rows, err := s.conn.QueryContext(ctx, sqlText, params...)
		if err != nil {
			return nil, fmt.Errorf("lookup %s: %w", t, err)
		}
		for rows.Next() {
			var id int64
			var value string
			if err := rows.Scan(&id, &value); err != nil {
				rows.Close()
				return nil, fmt.Errorf("lookup %s: scan: %w", t, err)
			}
			out[value] = id
		}
		if err := closeRows(rows); err != nil {
			return nil, fmt.Errorf("lookup %s: %w", t, err)
		}
	}
	return out, nil
}

// selectRows runs a compiled select over all columns of spec and decodes
// the result. The rows are fully read before returning.
func (s *Store) selectRows(ctx context.Context, spec entity.TableSpec, sel query.Select) ([]entity.Row, error) {
	sqlText, params, err := query.Compile(sel)
	if err != nil {
		return nil, err
	}
	s.observe(sqlText, params)

	rows, err := s.conn.QueryContext(ctx, sqlText, params...)
	if err != nil {
		return nil, err
	}

	cols := make([]entity.Column, len(sel.Columns))
	for i, name := range sel.Columns {
		c, ok := spec.Column(name)
		if !ok {
			rows.Close()
			return nil, fmt.Errorf("unknown column %q", name)
		}
		cols[i] = c
	}

	var out []entity.Row
	for rows.Next() {
		raw := make([]any, len(cols))
		dest := make([]any, len(cols))
		for i := range raw {
			dest[i] = &raw[i]
		}
		if err := rows.Scan(dest...); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan row: %w", err)
		}

		row := make(entity.Row, len(cols))
		for i, c := range cols {
			v, err := decodeValue(c, raw[i])
			if err != nil {
				rows.Close()
				return nil, err
			}
			row[c.Name] = v
		}
		out = append(out, row)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) observe(sqlText string, params []any) {
	if s.onQuery != nil {
		s.onQuery(sqlText, params)
	}
}

func closeRows(rows *sql.Rows) error {
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("iterate rows: %w", err)
	}
	return rows.Close()
}
