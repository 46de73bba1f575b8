package archive

import (
	"context"
	"fmt"

	"github.com/roach88/aiida/internal/entity"
)

// Info describes an archive without importing it.
type Info struct {
	Path     string    `json:"path"`
	Metadata *Metadata `json:"metadata"`
	// Entities counts the rows of the snapshot per entity type.
	Entities map[string]int64 `json:"entities"`
	Objects  int              `json:"objects"`
	// Bytes is the uncompressed size of the repository objects.
	Bytes int64 `json:"bytes"`
}

// Inspect reads the metadata and counts the content of an archive.
func Inspect(ctx context.Context, path string) (*Info, error) {
	r, err := OpenReader(ctx, path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	info := &Info{Path: path, Metadata: r.Metadata(), Entities: make(map[string]int64)}
	for _, t := range entity.EntityTypes {
		n, err := r.Backend().Count(ctx, t, nil)
		if err != nil {
			return nil, fmt.Errorf("inspect %s: %w", path, err)
		}
		info.Entities[string(t)] = n
	}

	repo, err := r.RepositoryBackend().GetInfo(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", path, err)
	}
	info.Objects = repo.Objects
	info.Bytes = repo.Bytes
	return info, nil
}
