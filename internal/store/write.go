package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/aiida/internal/entity"
)

// BulkInsert inserts rows of one entity type and returns the new ids in
// row order. Rows are checked with entity.CheckRow: unknown columns always
// fail, and missing columns fail unless allowDefaults is set. A row that
// carries an "id" keeps it.
//
// All rows are inserted in one transaction (or the caller's transaction).
func (s *Store) BulkInsert(ctx context.Context, t entity.EntityType, rows []entity.Row, allowDefaults bool) ([]int64, error) {
	spec, err := entity.Spec(t)
	if err != nil {
		return nil, fmt.Errorf("bulk insert: %w", err)
	}

	ids := make([]int64, 0, len(rows))
	err = s.InTransaction(ctx, func(tx *Store) error {
		for i, row := range rows {
			checked, err := entity.CheckRow(spec, row, allowDefaults)
			if err != nil {
				return fmt.Errorf("row %d: %w", i, err)
			}
			id, err := tx.insertRow(ctx, spec, checked)
			if err != nil {
				return fmt.Errorf("row %d: %w", i, err)
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("bulk insert %s: %w", t, err)
	}
	return ids, nil
}

func (s *Store) insertRow(ctx context.Context, spec entity.TableSpec, row entity.Row) (int64, error) {
	cols := make([]string, 0, len(row))
	args := make([]any, 0, len(row))
	for _, c := range spec.Columns {
		v, ok := row[c.Name]
		if !ok {
			continue
		}
		encoded, err := encodeValue(c, v)
		if err != nil {
			return 0, err
		}
		cols = append(cols, c.Name)
		args = append(args, encoded)
	}

	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		spec.Table,
		strings.Join(cols, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "))

	result, err := s.conn.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

// UpdateColumns sets the given columns on the row with the given id.
func (s *Store) UpdateColumns(ctx context.Context, t entity.EntityType, id int64, values entity.Row) error {
	spec, err := entity.Spec(t)
	if err != nil {
		return fmt.Errorf("update: %w", err)
	}
	if len(values) == 0 {
		return nil
	}

	names := entity.SortedKeys(values)
	sets := make([]string, 0, len(names))
	args := make([]any, 0, len(names)+1)
	for _, name := range names {
		col, ok := spec.Column(name)
		if !ok || name == "id" {
			return fmt.Errorf("update %s: cannot set column %q", t, name)
		}
		encoded, err := encodeValue(col, values[name])
		if err != nil {
			return fmt.Errorf("update %s: %w", t, err)
		}
		sets = append(sets, name+" = ?")
		args = append(args, encoded)
	}
	args = append(args, id)

	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", spec.Table, strings.Join(sets, ", "))
	result, err := s.conn.ExecContext(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("update %s %d: %w", t, id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s %d: rows affected: %w", t, id, err)
	}
	if n == 0 {
		return fmt.Errorf("update %s %d: %w", t, id, ErrNotFound)
	}
	return nil
}

// DeleteByIDs deletes rows of one entity type by id, at most filterSize
// ids per statement. Returns the number of rows deleted. Dependent links,
// comments, logs and group memberships are removed by cascade.
func (s *Store) DeleteByIDs(ctx context.Context, t entity.EntityType, ids []int64, filterSize int) (int64, error) {
	spec, err := entity.Spec(t)
	if err != nil {
		return 0, fmt.Errorf("delete: %w", err)
	}

	var total int64
	err = s.InTransaction(ctx, func(tx *Store) error {
		for _, chunk := range Chunk(ids, filterSize) {
			stmt := fmt.Sprintf("DELETE FROM %s WHERE id IN (%s)",
				spec.Table,
				strings.TrimSuffix(strings.Repeat("?, ", len(chunk)), ", "))
			args := make([]any, len(chunk))
			for i, id := range chunk {
				args[i] = id
			}
			result, err := tx.conn.ExecContext(ctx, stmt, args...)
			if err != nil {
				return err
			}
			n, err := result.RowsAffected()
			if err != nil {
				return err
			}
			total += n
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", t, err)
	}
	return total, nil
}

// InsertLinks inserts link rows without validation. Callers validate with
// package links first.
func (s *Store) InsertLinks(ctx context.Context, links []entity.Link) error {
	rows := make([]entity.Row, len(links))
	for i, l := range links {
		rows[i] = entity.Row{
			"input_id":  l.InputID,
			"output_id": l.OutputID,
			"type":      string(l.Type),
			"label":     l.Label,
		}
	}
	_, err := s.BulkInsert(ctx, entity.TypeLink, rows, false)
	return err
}
