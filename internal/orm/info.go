package orm

import (
	"context"
	"fmt"

	"github.com/roach88/aiida/internal/entity"
	"github.com/roach88/aiida/internal/repository"
)

// StorageInfo summarises the content of a profile.
type StorageInfo struct {
	Entities   map[string]int64 `json:"entities"`
	Repository *repository.Info `json:"repository"`
}

// Info counts the entities of every type and describes the repository.
// With detailed the repository reports sizes as well.
func (b *Backend) Info(ctx context.Context, detailed bool) (*StorageInfo, error) {
	info := &StorageInfo{Entities: make(map[string]int64, len(entity.EntityTypes))}
	for _, t := range entity.EntityTypes {
		n, err := b.Store.Count(ctx, t, nil)
		if err != nil {
			return nil, fmt.Errorf("storage info: %w", err)
		}
		info.Entities[string(t)] = n
	}
	repo, err := b.Repository.GetInfo(ctx, detailed)
	if err != nil {
		return nil, fmt.Errorf("storage info: %w", err)
	}
	info.Repository = repo
	return info, nil
}
