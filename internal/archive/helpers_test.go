package archive

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/aiida/internal/config"
	"github.com/roach88/aiida/internal/entity"
	"github.com/roach88/aiida/internal/orm"
	"github.com/roach88/aiida/internal/testutil"
)

const (
	intType  = "data.core.int.Int."
	dictType = "data.core.dict.Dict."
	calcType = "process.calculation.calcjob.CalcJobNode."
)

func fixedNow() time.Time { return testutil.DefaultEpoch }

// openProfile opens a fresh profile whose UUIDs are derived from name.
func openProfile(t *testing.T, name string, backend string) *orm.Backend {
	t.Helper()
	p := config.Default(t.TempDir())
	p.Name = name
	p.Repository.Backend = backend
	clock := testutil.NewDeterministicClock(testutil.DefaultEpoch, time.Second)
	b, err := orm.Open(context.Background(), p, orm.WithClock(clock.Now), orm.WithUUIDs(testutil.NewUUIDSequence(name).Next))
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

// provenance is a stored source profile:
//
//	x -input_calc-> calc -create-> y
//
// calc ran on a computer and is sealed, x carries a comment and extras,
// calc a log, and y is the only member of group "results".
type provenance struct {
	b        *orm.Backend
	user     int64
	computer orm.Ref
	group    orm.Ref
	comment  orm.Ref
	x        *orm.Node
	calc     *orm.Node
	y        *orm.Node
}

func buildProvenance(t *testing.T) *provenance {
	t.Helper()
	ctx := context.Background()
	p := &provenance{b: openProfile(t, "source", config.RepositoryDisk)}
	b := p.b

	var err error
	p.user, err = b.CreateUser(ctx, "alice@example.com", "Alice", "Archer", "Lab")
	require.NoError(t, err)
	p.computer, err = b.CreateComputer(ctx, orm.Computer{Label: "cluster", Hostname: "cluster.example.com", SchedulerType: "core.slurm", TransportType: "core.ssh"})
	require.NoError(t, err)
	_, err = b.CreateAuthInfo(ctx, p.user, p.computer.ID, map[string]any{"username": "alice"})
	require.NoError(t, err)

	p.x = b.NewNode(intType, p.user)
	p.x.Label = "x"
	p.x.Attributes["value"] = "1"
	p.x.Extras["origin"] = "source"
	putFile(t, p.x, "a.txt", "hello\n")
	require.NoError(t, b.StoreNode(ctx, p.x))

	p.calc = b.NewNode(calcType, p.user)
	p.calc.ComputerID = p.computer.ID
	p.calc.Attributes[entity.AttrCheckpoints] = "serialized state"
	require.NoError(t, p.calc.AddIncoming(ctx, p.x, entity.LinkInputCalc, "x"))
	require.NoError(t, b.Seal(ctx, p.calc))
	require.NoError(t, b.StoreNode(ctx, p.calc))

	p.y = b.NewNode(intType, p.user)
	putFile(t, p.y, "b.txt", "world!\n")
	require.NoError(t, p.y.AddIncoming(ctx, p.calc, entity.LinkCreate, "result"))
	require.NoError(t, b.StoreNode(ctx, p.y))

	p.comment, err = b.AddComment(ctx, p.x.ID, p.user, "first input")
	require.NoError(t, err)
	_, err = b.AddLog(ctx, p.calc.ID, "REPORT", "finished")
	require.NoError(t, err)
	p.group, err = b.CreateGroup(ctx, "results", "", p.user)
	require.NoError(t, err)
	require.NoError(t, b.AddNodesToGroup(ctx, p.group.ID, p.y.ID))
	return p
}

func putFile(t *testing.T, n *orm.Node, path, content string) {
	t.Helper()
	_, err := n.Repository.PutObjectFromFilelike(context.Background(), strings.NewReader(content), path)
	require.NoError(t, err)
}

func (p *provenance) source() Source {
	return Source{Store: p.b.Store, Repository: p.b.Repository}
}

func testCreateOptions() CreateOptions {
	opts := DefaultCreateOptions()
	opts.Now = fixedNow
	return opts
}

func testImportOptions() ImportOptions {
	opts := DefaultImportOptions()
	opts.Now = fixedNow
	return opts
}

// export writes the whole source profile to a new archive.
func (p *provenance) export(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "export.aiida")
	_, err := Create(context.Background(), p.source(), path, testCreateOptions())
	require.NoError(t, err)
	return path
}

func target(b *orm.Backend) Target {
	return Target{Store: b.Store, Repository: b.Repository}
}

// nodeByUUID returns the id of a node in b, failing the test if absent.
func nodeByUUID(t *testing.T, b *orm.Backend, uuid string) int64 {
	t.Helper()
	row, ok, err := b.Store.FindBy(context.Background(), entity.TypeNode, "uuid", uuid)
	require.NoError(t, err)
	require.True(t, ok, "node %s not found", uuid)
	id, _ := row.Int64("id")
	return id
}

func count(t *testing.T, b *orm.Backend, et entity.EntityType) int64 {
	t.Helper()
	n, err := b.Store.Count(context.Background(), et, nil)
	require.NoError(t, err)
	return n
}
