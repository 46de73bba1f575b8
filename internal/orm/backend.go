// Package orm is a small object layer over a profile: the relational
// store and the repository backend holding node files.
//
// It creates users, computers, groups, comments, logs and authinfos,
// stores nodes together with their incoming links, deletes nodes along
// the provenance graph and maintains the repository.
package orm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/aiida/internal/config"
	"github.com/roach88/aiida/internal/entity"
	"github.com/roach88/aiida/internal/links"
	"github.com/roach88/aiida/internal/repository"
	"github.com/roach88/aiida/internal/store"
)

// Backend bundles the store and repository of one profile.
type Backend struct {
	Store      *store.Store
	Repository repository.Backend

	logger  *slog.Logger
	now     func() time.Time
	newUUID func() string
	batch   store.Batch
}

// Option configures a Backend.
type Option func(*Backend)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) { b.logger = logger }
}

// WithClock sets the time source for ctime, mtime and group times.
func WithClock(now func() time.Time) Option {
	return func(b *Backend) { b.now = now }
}

// WithUUIDs sets the UUID generator for new entities.
func WithUUIDs(next func() string) Option {
	return func(b *Backend) { b.newUUID = next }
}

// WithBatch sets the batching used for reads.
func WithBatch(batch store.Batch) Option {
	return func(b *Backend) { b.batch = batch }
}

// New wraps an open store and repository backend.
func New(st *store.Store, repo repository.Backend, opts ...Option) *Backend {
	b := &Backend{
		Store:      st,
		Repository: repo,
		logger:     slog.Default(),
		now:        time.Now,
		newUUID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.batch = b.batch.Normalized()
	return b
}

// Open opens the store and repository configured for a profile,
// initialising the repository on first use.
func Open(ctx context.Context, p *config.Profile, opts ...Option) (*Backend, error) {
	st, err := store.Open(p.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("open profile %s: %w", p.Name, err)
	}

	// The disk backend logs through the same logger as the backend.
	probe := &Backend{logger: slog.Default()}
	for _, opt := range opts {
		opt(probe)
	}

	var repo repository.Backend
	switch p.Repository.Backend {
	case config.RepositoryDisk:
		repo = repository.NewDiskObjectStoreBackend(p.Repository.Path, repository.WithLogger(probe.logger))
	case config.RepositoryGit:
		repo = repository.NewGitBackend(p.Repository.Path)
	case config.RepositorySandbox:
		repo = repository.NewSandboxBackend(p.Repository.Path)
	default:
		st.Close()
		return nil, fmt.Errorf("open profile %s: unknown repository backend %q", p.Name, p.Repository.Backend)
	}
	if !repo.IsInitialised() {
		if err := repo.Initialise(ctx); err != nil {
			st.Close()
			return nil, fmt.Errorf("open profile %s: %w", p.Name, err)
		}
	}

	opts = append([]Option{WithBatch(store.Batch{
		FilterSize: p.Archive.FilterSize,
		BatchSize:  p.Archive.BatchSize,
	})}, opts...)
	b := New(st, repo, opts...)
	if err := b.recordRepository(ctx); err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

const settingRepositoryUUID = "repository|uuid"

// recordRepository stores the repository UUID in the profile settings,
// or checks it against the one recorded before.
func (b *Backend) recordRepository(ctx context.Context) error {
	id := b.Repository.UUID()
	if id == "" {
		return nil
	}
	recorded, ok, err := b.Store.GetSetting(ctx, settingRepositoryUUID)
	if err != nil {
		return err
	}
	if !ok {
		return b.Store.SetSetting(ctx, settingRepositoryUUID, id)
	}
	if recorded != id {
		return fmt.Errorf("repository %s does not belong to this profile (expected %s)", id, recorded)
	}
	return nil
}

// Close closes the store and, when it holds resources, the repository.
func (b *Backend) Close() error {
	err := b.Store.Close()
	if c, ok := b.Repository.(interface{ Close() error }); ok {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Logger returns the backend logger.
func (b *Backend) Logger() *slog.Logger { return b.logger }

// Now returns the current time of the backend clock.
func (b *Backend) Now() time.Time { return b.now().UTC() }

// Batch returns the batching used for reads.
func (b *Backend) Batch() store.Batch { return b.batch }

// Validator returns a link validator over the stored graph.
func (b *Backend) Validator() *links.Validator {
	return links.NewValidator(b.Store, b.batch)
}

// Ref identifies a stored entity.
type Ref struct {
	ID   int64
	UUID string
}

func (b *Backend) insert(ctx context.Context, t entity.EntityType, row entity.Row) (int64, error) {
	ids, err := b.Store.BulkInsert(ctx, t, []entity.Row{row}, true)
	if err != nil {
		return 0, err
	}
	return ids[0], nil
}
