package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/aiida/internal/entity"
)

func TestBulkInsertReturnsIDsInOrder(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	ids, err := s.BulkInsert(ctx, entity.TypeUser, []entity.Row{
		{"email": "a@example.com"},
		{"email": "b@example.com"},
		{"email": "c@example.com"},
	}, true)
	require.NoError(t, err)
	require.Len(t, ids, 3)
	assert.Less(t, ids[0], ids[1])
	assert.Less(t, ids[1], ids[2])

	row, err := s.Get(ctx, entity.TypeUser, ids[1])
	require.NoError(t, err)
	assert.Equal(t, "b@example.com", row.String("email"))
}

func TestBulkInsertKeepsExplicitIDs(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	ids, err := s.BulkInsert(ctx, entity.TypeUser, []entity.Row{
		{"id": int64(17), "email": "a@example.com", "first_name": "A", "last_name": "B", "institution": "C"},
	}, false)
	require.NoError(t, err)
	assert.Equal(t, []int64{17}, ids)
}

func TestBulkInsertValidatesColumns(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.BulkInsert(ctx, entity.TypeUser, []entity.Row{{"email": "a@example.com", "bogus": 1}}, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown column")

	_, err = s.BulkInsert(ctx, entity.TypeUser, []entity.Row{{"email": "a@example.com"}}, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing columns")
}

func TestBulkInsertIsAtomic(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.BulkInsert(ctx, entity.TypeUser, []entity.Row{
		{"email": "a@example.com"},
		{"email": "a@example.com"},
	}, true)
	require.Error(t, err)

	n, err := s.Count(ctx, entity.TypeUser, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestBulkInsertRoundTripsColumnKinds(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	userID := createTestUser(t, s, "a@example.com")

	ctime := time.Date(2023, 1, 2, 3, 4, 5, 6000, time.FixedZone("X", 3600))
	ids, err := s.BulkInsert(ctx, entity.TypeNode, []entity.Row{{
		"uuid":       "n1",
		"node_type":  "data.core.dict.Dict.",
		"ctime":      ctime,
		"mtime":      ctime,
		"user_id":    userID,
		"attributes": map[string]any{"a": 1, "nested": map[string]any{"b": "c"}},
	}}, true)
	require.NoError(t, err)

	row, err := s.Get(ctx, entity.TypeNode, ids[0])
	require.NoError(t, err)

	got, ok := row.Time("ctime")
	require.True(t, ok)
	assert.True(t, ctime.Equal(got))
	assert.Equal(t, time.UTC, got.Location())
	assert.Equal(t, map[string]any{"a": float64(1), "nested": map[string]any{"b": "c"}}, row.Map("attributes"))
	assert.Equal(t, map[string]any{}, row.Map("extras"))
	assert.Nil(t, row["process_type"])
	assert.Nil(t, row["dbcomputer_id"])
}

func TestBulkInsertBoolColumn(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	userID := createTestUser(t, s, "a@example.com")
	compIDs, err := s.BulkInsert(ctx, entity.TypeComputer, []entity.Row{{"uuid": "c1", "label": "localhost"}}, true)
	require.NoError(t, err)

	ids, err := s.BulkInsert(ctx, entity.TypeAuthInfo, []entity.Row{{
		"aiidauser_id": userID, "dbcomputer_id": compIDs[0], "enabled": false,
	}}, true)
	require.NoError(t, err)

	row, err := s.Get(ctx, entity.TypeAuthInfo, ids[0])
	require.NoError(t, err)
	assert.Equal(t, false, row["enabled"])
}

func TestUpdateColumns(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	userID := createTestUser(t, s, "a@example.com")
	ids := createTestNodes(t, s, userID, "data.core.int.Int.", 1)

	err := s.UpdateColumns(ctx, entity.TypeNode, ids[0], entity.Row{
		"label":  "renamed",
		"extras": map[string]any{"k": "v"},
	})
	require.NoError(t, err)

	row, err := s.Get(ctx, entity.TypeNode, ids[0])
	require.NoError(t, err)
	assert.Equal(t, "renamed", row.String("label"))
	assert.Equal(t, "v", row.Map("extras")["k"])

	err = s.UpdateColumns(ctx, entity.TypeNode, ids[0], entity.Row{"id": int64(5)})
	require.Error(t, err)

	err = s.UpdateColumns(ctx, entity.TypeNode, 9999, entity.Row{"label": "x"})
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestDeleteByIDsCascades(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	userID := createTestUser(t, s, "a@example.com")
	ids := createTestNodes(t, s, userID, "data.core.int.Int.", 3)
	calc := createTestNodes(t, s, userID, "process.calculation.calcjob.CalcJobNode.", 1)

	require.NoError(t, s.InsertLinks(ctx, []entity.Link{
		{InputID: ids[0], OutputID: calc[0], Type: entity.LinkInputCalc, Label: "x"},
		{InputID: calc[0], OutputID: ids[1], Type: entity.LinkCreate, Label: "y"},
	}))

	n, err := s.DeleteByIDs(ctx, entity.TypeNode, []int64{calc[0], ids[2]}, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	links, err := s.Count(ctx, entity.TypeLink, nil)
	require.NoError(t, err)
	assert.Zero(t, links)

	remaining, err := s.Count(ctx, entity.TypeNode, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), remaining)
}
