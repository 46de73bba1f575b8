package graph

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/aiida/internal/entity"
	"github.com/roach88/aiida/internal/store"
)

const (
	dataType = "data.core.int.Int."
	calcType = "process.calculation.calcjob.CalcJobNode."
	workType = "process.workflow.workchain.WorkChainNode."
)

// provenance is a small workflow graph:
//
//	W calls C; d1 -> W (input_work), d1 -> C (input_calc),
//	C creates d2, W returns d2, d3 -> C2 (input_calc), d2 -> C2.
type provenance struct {
	st                 *store.Store
	w, c, c2           int64
	d1, d2, d3, orphan int64
}

func buildProvenance(t *testing.T) *provenance {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "graph.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	ctx := context.Background()

	_, err = st.BulkInsert(ctx, entity.TypeUser, []entity.Row{{"email": "u@example.com"}}, true)
	require.NoError(t, err)

	types := []string{workType, calcType, calcType, dataType, dataType, dataType, dataType}
	rows := make([]entity.Row, len(types))
	now := time.Now()
	for i, nt := range types {
		rows[i] = entity.Row{"uuid": fmt.Sprintf("n%d", i), "node_type": nt, "ctime": now, "mtime": now, "user_id": int64(1)}
	}
	ids, err := st.BulkInsert(ctx, entity.TypeNode, rows, true)
	require.NoError(t, err)

	p := &provenance{st: st, w: ids[0], c: ids[1], c2: ids[2], d1: ids[3], d2: ids[4], d3: ids[5], orphan: ids[6]}
	require.NoError(t, st.InsertLinks(ctx, []entity.Link{
		{InputID: p.w, OutputID: p.c, Type: entity.LinkCallCalc, Label: "call"},
		{InputID: p.d1, OutputID: p.w, Type: entity.LinkInputWork, Label: "x"},
		{InputID: p.d1, OutputID: p.c, Type: entity.LinkInputCalc, Label: "x"},
		{InputID: p.c, OutputID: p.d2, Type: entity.LinkCreate, Label: "y"},
		{InputID: p.w, OutputID: p.d2, Type: entity.LinkReturn, Label: "y"},
		{InputID: p.d3, OutputID: p.c2, Type: entity.LinkInputCalc, Label: "a"},
		{InputID: p.d2, OutputID: p.c2, Type: entity.LinkInputCalc, Label: "b"},
	}))
	return p
}

func ids(xs ...int64) []int64 { return xs }

func TestTraverseNoRulesReturnsExistingSeeds(t *testing.T) {
	p := buildProvenance(t)
	tr := NewTraverser(p.st, store.Batch{})

	rules, err := ResolveRules(ContextDefault, nil)
	require.NoError(t, err)

	res, err := tr.Traverse(context.Background(), []int64{p.d1, 9999}, rules, true)
	require.NoError(t, err)
	assert.Equal(t, ids(p.d1), res.Nodes.Sorted())
	assert.Empty(t, res.Links)
}

func TestTraverseExportDefaults(t *testing.T) {
	p := buildProvenance(t)
	tr := NewTraverser(p.st, store.Batch{FilterSize: 2, BatchSize: 2})

	rules, err := ResolveRules(ContextExport, nil)
	require.NoError(t, err)

	// d2 pulls in its creator and the creator's inputs. The calling
	// workflow stays out: call_calc_backward and return_backward are off.
	res, err := tr.Traverse(context.Background(), []int64{p.d2}, rules, true)
	require.NoError(t, err)
	assert.Equal(t, ids(p.c, p.d1, p.d2), res.Nodes.Sorted())
	assert.Equal(t, []entity.Link{
		{InputID: p.c, OutputID: p.d2, Type: entity.LinkCreate, Label: "y"},
		{InputID: p.d1, OutputID: p.c, Type: entity.LinkInputCalc, Label: "x"},
	}, res.Links.Sorted())
}

func TestTraverseExportWorkflowPullsCalledAndReturned(t *testing.T) {
	p := buildProvenance(t)
	tr := NewTraverser(p.st, store.Batch{})

	rules, err := ResolveRules(ContextExport, nil)
	require.NoError(t, err)

	res, err := tr.Traverse(context.Background(), []int64{p.w}, rules, false)
	require.NoError(t, err)
	assert.Equal(t, ids(p.w, p.c, p.d1, p.d2), res.Nodes.Sorted())
	assert.Nil(t, res.Links)
}

func TestTraverseToggleForwardInputs(t *testing.T) {
	p := buildProvenance(t)
	tr := NewTraverser(p.st, store.Batch{})

	rules, err := ResolveRules(ContextExport, map[string]bool{"input_calc_forward": true})
	require.NoError(t, err)

	res, err := tr.Traverse(context.Background(), []int64{p.d2}, rules, false)
	require.NoError(t, err)
	// d2 -> C2 forward, then C2's inputs (d3) backward
	assert.True(t, res.Nodes.Has(p.c2))
	assert.True(t, res.Nodes.Has(p.d3))
	assert.False(t, res.Nodes.Has(p.orphan))
}

func TestTraverseDeleteDefaults(t *testing.T) {
	p := buildProvenance(t)
	tr := NewTraverser(p.st, store.Batch{})

	rules, err := ResolveRules(ContextDelete, nil)
	require.NoError(t, err)

	// Deleting d1 removes everything that used it, and everything those
	// processes created or called, and their callers.
	res, err := tr.Traverse(context.Background(), []int64{p.d1}, rules, false)
	require.NoError(t, err)
	assert.Equal(t, ids(p.w, p.c, p.c2, p.d1, p.d2), res.Nodes.Sorted())
}

func TestTraverseClosureAndIdempotence(t *testing.T) {
	p := buildProvenance(t)
	tr := NewTraverser(p.st, store.Batch{FilterSize: 1, BatchSize: 1})
	ctx := context.Background()

	for _, c := range []Context{ContextExport, ContextDelete} {
		rules, err := ResolveRules(c, nil)
		require.NoError(t, err)

		first, err := tr.Traverse(ctx, []int64{p.d1}, rules, false)
		require.NoError(t, err)

		second, err := tr.Traverse(ctx, first.Nodes.Sorted(), rules, false)
		require.NoError(t, err)
		assert.Equal(t, first.Nodes.Sorted(), second.Nodes.Sorted(), "context %s", c)

		// no enabled rule leads outside the result
		for _, r := range rules.Enabled() {
			dir := store.Outgoing
			if r.Direction == Backward {
				dir = store.Incoming
			}
			err := p.st.LinksOf(ctx, first.Nodes.Sorted(), dir, []entity.LinkType{r.LinkType}, store.Batch{}, func(links []entity.Link) error {
				for _, l := range links {
					assert.True(t, first.Nodes.Has(l.InputID) && first.Nodes.Has(l.OutputID), "rule %s leaks %v", r.Name, l)
				}
				return nil
			})
			require.NoError(t, err)
		}
	}
}

func TestTraverseMonotonic(t *testing.T) {
	p := buildProvenance(t)
	tr := NewTraverser(p.st, store.Batch{})
	ctx := context.Background()

	base, err := ResolveRules(ContextExport, nil)
	require.NoError(t, err)
	more, err := ResolveRules(ContextExport, map[string]bool{"input_calc_forward": true, "return_backward": true})
	require.NoError(t, err)

	small, err := tr.Traverse(ctx, []int64{p.d1}, base, false)
	require.NoError(t, err)
	large, err := tr.Traverse(ctx, []int64{p.d1}, more, false)
	require.NoError(t, err)

	for id := range small.Nodes {
		assert.True(t, large.Nodes.Has(id))
	}
}
