package orm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/aiida/internal/config"
	"github.com/roach88/aiida/internal/testutil"
)

const (
	dataType = "data.core.int.Int."
	calcType = "process.calculation.calcjob.CalcJobNode."
	workType = "process.workflow.workchain.WorkChainNode."
)

func testProfile(dir string) *config.Profile {
	p := config.Default(dir)
	p.Name = "test"
	return p
}

// openTestBackend opens a disk-backed profile in a temporary directory
// with a deterministic clock and UUIDs.
func openTestBackend(t *testing.T) *Backend {
	t.Helper()
	clock := testutil.NewDeterministicClock(testutil.DefaultEpoch, time.Second)
	uuids := testutil.NewUUIDSequence("orm")
	b, err := Open(context.Background(), testProfile(t.TempDir()), WithClock(clock.Now), WithUUIDs(uuids.Next))
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func createTestUser(t *testing.T, b *Backend) int64 {
	t.Helper()
	id, err := b.CreateUser(context.Background(), "tester@example.com", "Test", "User", "Lab")
	require.NoError(t, err)
	return id
}

// storeTestNode stores a node of nodeType with the given incoming links.
func storeTestNode(t *testing.T, b *Backend, userID int64, nodeType string, in ...incomingLink) *Node {
	t.Helper()
	ctx := context.Background()
	n := b.NewNode(nodeType, userID)
	for _, l := range in {
		require.NoError(t, n.AddIncoming(ctx, l.source, l.typ, l.label))
	}
	require.NoError(t, b.StoreNode(ctx, n))
	return n
}

