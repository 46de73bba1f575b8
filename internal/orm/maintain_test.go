package orm

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/aiida/internal/config"
	"github.com/roach88/aiida/internal/entity"
)

func TestMaintainRemovesUnreferencedObjects(t *testing.T) {
	b := openTestBackend(t)
	ctx := context.Background()
	user := createTestUser(t, b)

	n := b.NewNode(dataType, user)
	kept, err := n.Repository.PutObjectFromFilelike(ctx, strings.NewReader("kept"), "a.txt")
	require.NoError(t, err)
	require.NoError(t, b.StoreNode(ctx, n))
	orphan, err := b.Repository.PutObjectFromFilelike(ctx, strings.NewReader("orphan"))
	require.NoError(t, err)

	referenced, err := b.ReferencedKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{kept}, referenced)

	res, err := b.Maintain(ctx, MaintainOptions{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, []string{orphan}, res.Unreferenced)
	assert.Zero(t, res.Deleted)
	present, err := b.Repository.HasObjects(ctx, []string{orphan})
	require.NoError(t, err)
	assert.Equal(t, []bool{true}, present)

	res, err = b.Maintain(ctx, MaintainOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)
	assert.Equal(t, 1, res.Packed)

	keys, err := b.Repository.ListObjects(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{kept}, keys)

	repo, err := b.LoadRepository(ctx, n.ID)
	require.NoError(t, err)
	data, err := repo.GetObjectContent(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "kept", string(data))
}

func TestInfoCountsEntities(t *testing.T) {
	b := openTestBackend(t)
	ctx := context.Background()
	x, _, _ := chain(t, b)
	_, err := b.AddComment(ctx, x.ID, x.UserID, "hello")
	require.NoError(t, err)

	info, err := b.Info(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), info.Entities[string(entity.TypeUser)])
	assert.Equal(t, int64(3), info.Entities[string(entity.TypeNode)])
	assert.Equal(t, int64(2), info.Entities[string(entity.TypeLink)])
	assert.Equal(t, int64(1), info.Entities[string(entity.TypeComment)])
	assert.Zero(t, info.Entities[string(entity.TypeGroup)])
	require.NotNil(t, info.Repository)
	assert.NotEmpty(t, info.Repository.UUID)
}

func TestOpenChecksRepositoryBelongsToProfile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	p := testProfile(dir)

	b, err := Open(ctx, p)
	require.NoError(t, err)
	require.NoError(t, b.Close())

	b, err = Open(ctx, p)
	require.NoError(t, err)
	require.NoError(t, b.Close())

	other := *p
	other.Repository.Path = t.TempDir()
	_, err = Open(ctx, &other)
	assert.Error(t, err)
}

func TestOpenSandboxProfile(t *testing.T) {
	dir := t.TempDir()
	p := testProfile(dir)
	p.Repository.Backend = config.RepositorySandbox

	b, err := Open(context.Background(), p)
	require.NoError(t, err)
	defer b.Close()
	assert.Empty(t, b.Repository.UUID())
}
