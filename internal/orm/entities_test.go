package orm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/aiida/internal/entity"
)

func TestCreateUserIsIdempotent(t *testing.T) {
	b := openTestBackend(t)
	ctx := context.Background()

	id1, err := b.CreateUser(ctx, "a@example.com", "A", "", "")
	require.NoError(t, err)
	id2, err := b.CreateUser(ctx, "a@example.com", "Other", "", "")
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
}

func TestCreateComputerRejectsDuplicateLabel(t *testing.T) {
	b := openTestBackend(t)
	ctx := context.Background()

	c := Computer{Label: "cluster", Hostname: "cluster.example.com", SchedulerType: "core.slurm", TransportType: "core.ssh"}
	ref, err := b.CreateComputer(ctx, c)
	require.NoError(t, err)
	assert.NotEmpty(t, ref.UUID)

	_, err = b.CreateComputer(ctx, c)
	assert.Error(t, err)
}

func TestAddNodesToGroupSkipsMembers(t *testing.T) {
	b := openTestBackend(t)
	ctx := context.Background()
	user := createTestUser(t, b)
	n1 := storeTestNode(t, b, user, dataType)
	n2 := storeTestNode(t, b, user, dataType)

	g, err := b.CreateGroup(ctx, "set", "", user)
	require.NoError(t, err)
	require.NoError(t, b.AddNodesToGroup(ctx, g.ID, n1.ID))
	require.NoError(t, b.AddNodesToGroup(ctx, g.ID, n1.ID, n2.ID, n2.ID))

	count, err := b.Store.Count(ctx, entity.TypeGroupNode, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestUpdateCommentBumpsMtime(t *testing.T) {
	b := openTestBackend(t)
	ctx := context.Background()
	user := createTestUser(t, b)
	n := storeTestNode(t, b, user, dataType)

	ref, err := b.AddComment(ctx, n.ID, user, "first")
	require.NoError(t, err)
	before, err := b.Store.Get(ctx, entity.TypeComment, ref.ID)
	require.NoError(t, err)

	require.NoError(t, b.UpdateComment(ctx, ref.ID, "second"))
	after, err := b.Store.Get(ctx, entity.TypeComment, ref.ID)
	require.NoError(t, err)

	assert.Equal(t, "second", after.String("content"))
	t0, _ := before.Time("mtime")
	t1, _ := after.Time("mtime")
	assert.True(t, t1.After(t0))
}

func TestCreateAuthInfo(t *testing.T) {
	b := openTestBackend(t)
	ctx := context.Background()
	user := createTestUser(t, b)
	c, err := b.CreateComputer(ctx, Computer{Label: "local", Hostname: "localhost"})
	require.NoError(t, err)

	_, err = b.CreateAuthInfo(ctx, user, c.ID, map[string]any{"username": "tester"})
	require.NoError(t, err)
	_, err = b.CreateAuthInfo(ctx, user, c.ID, nil)
	assert.Error(t, err)
}
