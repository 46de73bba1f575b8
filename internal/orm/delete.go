package orm

import (
	"context"
	"fmt"

	"github.com/roach88/aiida/internal/entity"
	"github.com/roach88/aiida/internal/graph"
	"github.com/roach88/aiida/internal/store"
)

// DeleteOptions configures DeleteNodes.
type DeleteOptions struct {
	// Rules overrides the toggleable delete traversal rules by name.
	Rules  map[string]bool
	DryRun bool
}

// DeleteResult lists the nodes removed, or that would be removed.
type DeleteResult struct {
	Nodes   []int64 `json:"nodes"`
	Deleted bool    `json:"deleted"`
}

// DeleteNodes deletes the given nodes and every node that cannot exist
// without them: the closure of ids under the delete traversal rules.
// Links, group memberships, comments and logs of the deleted nodes go
// with them. Repository objects stay until Maintain removes them.
func (b *Backend) DeleteNodes(ctx context.Context, ids []int64, opts DeleteOptions) (*DeleteResult, error) {
	rules, err := graph.ResolveRules(graph.ContextDelete, opts.Rules)
	if err != nil {
		return nil, err
	}
	closure, err := graph.NewTraverser(b.Store, b.batch).Traverse(ctx, ids, rules, false)
	if err != nil {
		return nil, fmt.Errorf("delete nodes: %w", err)
	}

	res := &DeleteResult{Nodes: closure.Nodes.Sorted()}
	b.logger.Info("nodes selected for deletion", "requested", len(ids), "total", len(res.Nodes), "dry_run", opts.DryRun)
	if opts.DryRun || len(res.Nodes) == 0 {
		return res, nil
	}

	err = b.Store.InTransaction(ctx, func(tx *store.Store) error {
		_, err := tx.DeleteByIDs(ctx, entity.TypeNode, res.Nodes, b.batch.FilterSize)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("delete nodes: %w", err)
	}
	res.Deleted = true
	return res, nil
}
