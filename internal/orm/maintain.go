package orm

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/roach88/aiida/internal/entity"
	"github.com/roach88/aiida/internal/repository"
)

// MaintainOptions configures Maintain.
type MaintainOptions struct {
	DryRun bool
}

// MaintainResult reports what maintenance did, or would do.
type MaintainResult struct {
	// Unreferenced are repository objects no node refers to.
	Unreferenced []string `json:"unreferenced"`
	Deleted      int      `json:"deleted"`
	// Packed is the number of loose objects moved into the pack store.
	Packed int `json:"packed"`
}

// packer is implemented by backends that can consolidate loose objects.
type packer interface {
	Pack(ctx context.Context) (int, error)
}

// ReferencedKeys returns the repository keys referenced by any node,
// sorted.
func (b *Backend) ReferencedKeys(ctx context.Context) ([]string, error) {
	keys := make(map[string]struct{})
	err := b.Store.ScanColumns(ctx, entity.TypeNode, []string{"id", "repository_metadata"}, nil, b.batch.BatchSize, func(rows []entity.Row) error {
		for _, r := range rows {
			ks, err := repository.Keys(r.Map("repository_metadata"))
			if err != nil {
				id, _ := r.Int64("id")
				return fmt.Errorf("node %d: %w", id, err)
			}
			for _, k := range ks {
				keys[k] = struct{}{}
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("referenced keys: %w", err)
	}
	return slices.Sorted(maps.Keys(keys)), nil
}

// Maintain deletes repository objects that no node references, packs
// loose objects where the backend supports it and compacts the database.
// Objects left behind by failed imports or deleted nodes are removed
// here.
func (b *Backend) Maintain(ctx context.Context, opts MaintainOptions) (*MaintainResult, error) {
	referenced, err := b.ReferencedKeys(ctx)
	if err != nil {
		return nil, err
	}
	all, err := b.Repository.ListObjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("maintain: %w", err)
	}

	res := &MaintainResult{}
	for _, k := range all {
		if _, found := slices.BinarySearch(referenced, k); !found {
			res.Unreferenced = append(res.Unreferenced, k)
		}
	}
	b.logger.Info("repository maintenance", "objects", len(all), "unreferenced", len(res.Unreferenced), "dry_run", opts.DryRun)
	if opts.DryRun {
		return res, nil
	}

	if len(res.Unreferenced) > 0 {
		if err := b.Repository.DeleteObjects(ctx, res.Unreferenced); err != nil {
			return nil, fmt.Errorf("maintain: %w", err)
		}
		res.Deleted = len(res.Unreferenced)
	}
	if p, ok := b.Repository.(packer); ok {
		if res.Packed, err = p.Pack(ctx); err != nil {
			return nil, fmt.Errorf("maintain: %w", err)
		}
	}
	if err := b.Store.Vacuum(ctx); err != nil {
		return nil, fmt.Errorf("maintain: %w", err)
	}
	return res, nil
}
