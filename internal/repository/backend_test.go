package repository

import (
	"context"
	"io"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helloSHA256 = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type backendCase struct {
	name string
	make func(t *testing.T) Backend
}

func backendCases() []backendCase {
	return []backendCase{
		{"sandbox", func(t *testing.T) Backend {
			return NewSandboxBackend(filepath.Join(t.TempDir(), "sandbox"))
		}},
		{"disk", func(t *testing.T) Backend {
			b := NewDiskObjectStoreBackend(filepath.Join(t.TempDir(), "container"), WithLogger(discardLogger()))
			t.Cleanup(func() { b.Close() })
			return b
		}},
		{"git", func(t *testing.T) Backend {
			return NewGitBackend(filepath.Join(t.TempDir(), "git"))
		}},
	}
}

func putString(t *testing.T, b Backend, content string) string {
	t.Helper()
	key, err := b.PutObjectFromFilelike(context.Background(), strings.NewReader(content))
	require.NoError(t, err)
	return key
}

func readKey(t *testing.T, b Backend, key string) string {
	t.Helper()
	rc, err := b.Open(context.Background(), key)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

func TestBackendContract(t *testing.T) {
	for _, tc := range backendCases() {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			b := tc.make(t)

			assert.False(t, b.IsInitialised())
			require.NoError(t, b.Initialise(ctx))
			assert.True(t, b.IsInitialised())

			k1 := putString(t, b, "hello")
			k2 := putString(t, b, "world")
			assert.NotEqual(t, k1, k2)
			assert.Equal(t, "hello", readKey(t, b, k1))

			has, err := b.HasObjects(ctx, []string{k1, "missing", k2})
			require.NoError(t, err)
			assert.Equal(t, []bool{true, false, true}, has)

			digest, err := b.GetObjectHash(ctx, k1)
			require.NoError(t, err)
			assert.Equal(t, helloSHA256, digest)

			keys, err := b.ListObjects(ctx)
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{k1, k2}, keys)

			var streamed []string
			err = b.IterObjectStreams(ctx, []string{k2, k1}, func(key string, r io.Reader) error {
				data, err := io.ReadAll(r)
				streamed = append(streamed, key+"="+string(data))
				return err
			})
			require.NoError(t, err)
			assert.Equal(t, []string{k2 + "=world", k1 + "=hello"}, streamed)

			info, err := b.GetInfo(ctx, true)
			require.NoError(t, err)
			assert.Equal(t, 2, info.Objects)
			assert.Equal(t, b.KeyFormat(), info.KeyFormat)
			assert.Equal(t, int64(10), info.Bytes)
		})
	}
}

func TestBackendOpenMissing(t *testing.T) {
	for _, tc := range backendCases() {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			b := tc.make(t)
			require.NoError(t, b.Initialise(ctx))

			_, err := b.Open(ctx, "0000000000000000000000000000000000000000")
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrObjectNotFound)
			assert.ErrorIs(t, err, fs.ErrNotExist)
			assert.True(t, IsNotFound(err))
		})
	}
}

func TestBackendDeleteIsAllOrNothing(t *testing.T) {
	for _, tc := range backendCases() {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			b := tc.make(t)
			require.NoError(t, b.Initialise(ctx))
			k1 := putString(t, b, "one")

			err := b.DeleteObjects(ctx, []string{k1, "nope"})
			var notFound *ObjectNotFoundError
			require.ErrorAs(t, err, &notFound)
			assert.Equal(t, []string{"nope"}, notFound.Keys)

			has, err := b.HasObjects(ctx, []string{k1})
			require.NoError(t, err)
			assert.True(t, has[0], "nothing deleted when a key is missing")

			require.NoError(t, b.DeleteObjects(ctx, []string{k1}))
			has, err = b.HasObjects(ctx, []string{k1})
			require.NoError(t, err)
			assert.False(t, has[0])
		})
	}
}

func TestBackendErase(t *testing.T) {
	for _, tc := range backendCases() {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			b := tc.make(t)
			require.NoError(t, b.Initialise(ctx))
			putString(t, b, "x")

			require.NoError(t, b.Erase())
			assert.False(t, b.IsInitialised())
		})
	}
}

func TestContentAddressedBackendsDeduplicate(t *testing.T) {
	for _, tc := range backendCases()[1:] {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			b := tc.make(t)
			require.NoError(t, b.Initialise(ctx))

			k1 := putString(t, b, "same")
			k2 := putString(t, b, "same")
			assert.Equal(t, k1, k2)

			keys, err := b.ListObjects(ctx)
			require.NoError(t, err)
			assert.Len(t, keys, 1)
		})
	}
}

func TestSandboxKeysAreUUIDs(t *testing.T) {
	b := NewSandboxBackend("")
	t.Cleanup(func() { b.Erase() })

	k1 := putString(t, b, "same")
	k2 := putString(t, b, "same")
	assert.NotEqual(t, k1, k2)
	assert.Len(t, k1, 32)
	assert.True(t, b.IsInitialised())
	assert.Empty(t, b.UUID())
}

func TestGitBackendKeysMatchGit(t *testing.T) {
	b := NewGitBackend(t.TempDir())
	require.NoError(t, b.Initialise(context.Background()))

	// git hash-object of "hello" without a trailing newline
	assert.Equal(t, "b6fc4c620b67d95f953a5c1c1230aaab5db5a1b0", putString(t, b, "hello"))
	assert.NotEmpty(t, b.UUID())
}

func TestDiskBackendPack(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "container")
	b := NewDiskObjectStoreBackend(dir, WithLogger(discardLogger()))
	require.NoError(t, b.Initialise(ctx))

	k1 := putString(t, b, "hello")
	k2 := putString(t, b, "world")
	assert.Equal(t, helloSHA256, k1)

	n, err := b.Pack(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	info, err := b.GetInfo(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 2, info.Objects)
	assert.Equal(t, int64(0), info.Extra["loose"])
	assert.Equal(t, int64(2), info.Extra["packed"])

	assert.Equal(t, "hello", readKey(t, b, k1))

	// Storing packed content again keeps a single copy.
	assert.Equal(t, k1, putString(t, b, "hello"))
	info, err = b.GetInfo(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.Extra["loose"])

	require.NoError(t, b.DeleteObjects(ctx, []string{k2}))
	keys, err := b.ListObjects(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{k1}, keys)

	// A second handle on the same directory sees the packed objects.
	uuid := b.UUID()
	require.NoError(t, b.Close())
	reopened := NewDiskObjectStoreBackend(dir, WithLogger(discardLogger()))
	t.Cleanup(func() { reopened.Close() })
	assert.Equal(t, uuid, reopened.UUID())
	assert.Equal(t, "hello", readKey(t, reopened, k1))
}

func TestDiskBackendRequiresInitialise(t *testing.T) {
	b := NewDiskObjectStoreBackend(t.TempDir(), WithLogger(discardLogger()))
	_, err := b.PutObjectFromFilelike(context.Background(), strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrNotInitialised)
}
