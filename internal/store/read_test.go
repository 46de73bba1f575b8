package store

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/aiida/internal/entity"
	"github.com/roach88/aiida/internal/query"
)

func TestChunk(t *testing.T) {
	assert.Nil(t, Chunk([]int{}, 3))
	assert.Equal(t, [][]int{{1, 2}, {3, 4}, {5}}, Chunk([]int{1, 2, 3, 4, 5}, 2))
	assert.Equal(t, [][]int{{1, 2, 3}}, Chunk([]int{1, 2, 3}, 10))
}

func TestBatchNormalized(t *testing.T) {
	b := Batch{}.Normalized()
	assert.Equal(t, DefaultFilterSize, b.FilterSize)
	assert.Equal(t, DefaultBatchSize, b.BatchSize)

	b = Batch{FilterSize: 3, BatchSize: 7}.Normalized()
	assert.Equal(t, Batch{FilterSize: 3, BatchSize: 7}, b)
}

func TestScanPagesInIDOrder(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	userID := createTestUser(t, s, "a@example.com")
	ids := createTestNodes(t, s, userID, "data.core.int.Int.", 7)

	var sizes []int
	var seen []int64
	err := s.Scan(ctx, entity.TypeNode, nil, 3, func(rows []entity.Row) error {
		sizes = append(sizes, len(rows))
		for _, r := range rows {
			id, _ := r.Int64("id")
			seen = append(seen, id)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 3, 1}, sizes)
	assert.Equal(t, ids, seen)
}

func TestScanCallbackMayQuery(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	userID := createTestUser(t, s, "a@example.com")
	createTestNodes(t, s, userID, "data.core.int.Int.", 4)

	err := s.Scan(ctx, entity.TypeNode, nil, 2, func(rows []entity.Row) error {
		_, err := s.Count(ctx, entity.TypeUser, nil)
		return err
	})
	require.NoError(t, err)
}

func TestRowsByIDsRespectsBothBatchLimits(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	userID := createTestUser(t, s, "a@example.com")
	ids := createTestNodes(t, s, userID, "data.core.int.Int.", 10)

	var maxParams int
	s.onQuery = func(sqlText string, params []any) {
		if strings.Contains(sqlText, " IN (") {
			n := strings.Count(sqlText, "?")
			if strings.Contains(sqlText, "LIMIT ?") {
				n--
			}
			if strings.Contains(sqlText, "id > ?") {
				n--
			}
			maxParams = max(maxParams, n)
		}
	}

	var batches []int
	total := 0
	err := s.RowsByIDs(ctx, entity.TypeNode, "id", ids, Batch{FilterSize: 4, BatchSize: 3}, func(rows []entity.Row) error {
		batches = append(batches, len(rows))
		total += len(rows)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, 10, total)
	assert.LessOrEqual(t, maxParams, 4)
	for _, n := range batches {
		assert.LessOrEqual(t, n, 3)
	}
	// chunks of 4,4,2 ids, each paged by 3 rows
	assert.Equal(t, []int{3, 1, 3, 1, 2}, batches)
}

func TestFindByAndGet(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	userID := createTestUser(t, s, "a@example.com")

	row, ok, err := s.FindBy(ctx, entity.TypeUser, "email", "a@example.com")
	require.NoError(t, err)
	require.True(t, ok)
	id, _ := row.Int64("id")
	assert.Equal(t, userID, id)

	_, ok, err = s.FindBy(ctx, entity.TypeUser, "email", "nobody@example.com")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Get(ctx, entity.TypeUser, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCountWithFilter(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	userID := createTestUser(t, s, "a@example.com")
	createTestNodes(t, s, userID, "data.core.int.Int.", 3)
	createTestNodes(t, s, userID, "process.workflow.workchain.WorkChainNode.", 2)

	n, err := s.Count(ctx, entity.TypeNode, query.Prefix{Field: "node_type", Prefix: "process."})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestLookupIDs(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	userID := createTestUser(t, s, "a@example.com")
	createTestNodes(t, s, userID, "data.core.int.Int.", 3)

	found, err := s.LookupIDs(ctx, entity.TypeNode, "uuid",
		[]string{"data.core.int.Int.-1-0", "data.core.int.Int.-1-2", "missing"}, Batch{FilterSize: 2})
	require.NoError(t, err)
	assert.Len(t, found, 2)
	assert.Contains(t, found, "data.core.int.Int.-1-0")
	assert.NotContains(t, found, "missing")
}

func TestLinksOfAndBetween(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	userID := createTestUser(t, s, "a@example.com")
	data := createTestNodes(t, s, userID, "data.core.int.Int.", 3)
	calc := createTestNodes(t, s, userID, "process.calculation.calcjob.CalcJobNode.", 1)[0]

	links := []entity.Link{
		{InputID: data[0], OutputID: calc, Type: entity.LinkInputCalc, Label: "x"},
		{InputID: data[1], OutputID: calc, Type: entity.LinkInputCalc, Label: "y"},
		{InputID: calc, OutputID: data[2], Type: entity.LinkCreate, Label: "result"},
	}
	require.NoError(t, s.InsertLinks(ctx, links))

	var incoming []entity.Link
	err := s.LinksOf(ctx, []int64{calc}, Incoming, []entity.LinkType{entity.LinkInputCalc}, Batch{}, func(ls []entity.Link) error {
		incoming = append(incoming, ls...)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, links[:2], incoming)

	var outgoing []entity.Link
	err = s.LinksOf(ctx, []int64{calc}, Outgoing, nil, Batch{}, func(ls []entity.Link) error {
		outgoing = append(outgoing, ls...)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, links[2:], outgoing)

	between, err := s.LinksBetween(ctx, []int64{data[0], calc}, Batch{})
	require.NoError(t, err)
	assert.Equal(t, links[:1], between)

	exists, err := s.LinkExists(ctx, links[2])
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = s.LinkExists(ctx, entity.Link{InputID: calc, OutputID: data[2], Type: entity.LinkCreate, Label: "other"})
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestNodeTypes(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	userID := createTestUser(t, s, "a@example.com")
	data := createTestNodes(t, s, userID, "data.core.int.Int.", 1)

	types, err := s.NodeTypes(ctx, []int64{data[0], 404}, Batch{})
	require.NoError(t, err)
	assert.Equal(t, map[int64]string{data[0]: "data.core.int.Int."}, types)
}

func TestExistingIDs(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	userID := createTestUser(t, s, "a@example.com")
	ids := createTestNodes(t, s, userID, "data.core.int.Int.", 3)

	got, err := s.ExistingIDs(ctx, entity.TypeNode, []int64{ids[2], 500, ids[0], ids[2]}, Batch{FilterSize: 2})
	require.NoError(t, err)
	assert.Equal(t, []int64{ids[0], ids[2]}, got)
}

func TestScanColumnsAndIDs(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	userID := createTestUser(t, s, "a@example.com")
	ids := createTestNodes(t, s, userID, "data.core.int.Int.", 5)

	var rows []entity.Row
	err := s.ScanColumns(ctx, entity.TypeNode, []string{"uuid"}, nil, 2, func(batch []entity.Row) error {
		rows = append(rows, batch...)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Len(t, rows[0], 2, "id is added to the projection")
	assert.Equal(t, "data.core.int.Int.-1-0", rows[0]["uuid"])

	got, err := s.IDs(ctx, entity.TypeNode, query.Greater{Field: "id", Value: ids[1]}, 2)
	require.NoError(t, err)
	assert.Equal(t, ids[2:], got)
}
