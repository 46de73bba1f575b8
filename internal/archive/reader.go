package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/roach88/aiida/internal/repository"
	"github.com/roach88/aiida/internal/store"
)

// errReadOnly is returned by write operations of the archive repository.
var errReadOnly = errors.New("archive repository is read-only")

// Reader gives read access to an archive: its metadata, a read-only
// snapshot database and a read-only repository backend.
type Reader struct {
	path    string
	zr      *zip.ReadCloser
	meta    *Metadata
	raw     map[string]any
	workDir string
	db      *store.Store
	repo    *zipBackend
}

// OpenReader opens the archive at path. Archives of another version fail
// with an IncompatibleSchemaError.
func OpenReader(ctx context.Context, path string) (*Reader, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", path, err)
	}
	r := &Reader{path: path, zr: zr}
	if err := r.init(ctx); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

func (r *Reader) init(ctx context.Context) error {
	data, err := readEntry(&r.zr.Reader, metadataName)
	if err != nil {
		return err
	}
	r.meta, r.raw, err = decodeMetadata(data)
	if err != nil {
		return err
	}
	if err := checkVersion(r.meta); err != nil {
		return err
	}

	r.workDir, err = os.MkdirTemp("", "aiida-archive-read-")
	if err != nil {
		return fmt.Errorf("create work directory: %w", err)
	}
	dbPath := filepath.Join(r.workDir, databaseName)
	var dbFile *zip.File
	files := make(map[string]*zip.File)
	for _, f := range r.zr.File {
		switch {
		case f.Name == databaseName:
			dbFile = f
		case strings.HasPrefix(f.Name, repoPrefix):
			key := strings.TrimPrefix(f.Name, repoPrefix)
			if !validKey(key) {
				return fmt.Errorf("unexpected archive entry %q", f.Name)
			}
			files[key] = f
		}
	}
	if dbFile == nil {
		return fmt.Errorf("archive has no %s", databaseName)
	}
	if err := extract(dbFile, dbPath); err != nil {
		return err
	}

	r.db, err = store.Open(dbPath, store.ReadOnly())
	if err != nil {
		return fmt.Errorf("open archive database: %w", err)
	}
	version, err := r.db.SchemaVersionOf(ctx)
	if err != nil {
		return err
	}
	if version != store.SchemaVersion {
		return &IncompatibleSchemaError{
			Found:    fmt.Sprintf("%s (database schema %d)", r.meta.ExportVersion, version),
			Expected: fmt.Sprintf("%s (database schema %d)", ExportVersion, store.SchemaVersion),
		}
	}

	r.repo = &zipBackend{keyFormat: r.meta.KeyFormat, files: files}
	return nil
}

// Path returns the archive path.
func (r *Reader) Path() string { return r.path }

// Metadata returns the decoded metadata.
func (r *Reader) Metadata() *Metadata { return r.meta }

// RawMetadata returns metadata.json as a generic map, including keys this
// package does not model.
func (r *Reader) RawMetadata() map[string]any { return r.raw }

// Backend returns the read-only snapshot database.
func (r *Reader) Backend() *store.Store { return r.db }

// RepositoryBackend returns the read-only repository of the archive.
func (r *Reader) RepositoryBackend() repository.Backend { return r.repo }

// Close releases the archive and removes the extracted snapshot.
func (r *Reader) Close() error {
	var errs []error
	if r.db != nil {
		errs = append(errs, r.db.Close())
	}
	if r.zr != nil {
		errs = append(errs, r.zr.Close())
	}
	if r.workDir != "" {
		errs = append(errs, os.RemoveAll(r.workDir))
	}
	return errors.Join(errs...)
}

// zipBackend serves repository objects straight from the zip entries.
type zipBackend struct {
	keyFormat string
	files     map[string]*zip.File
}

var _ repository.Backend = (*zipBackend)(nil)

func (b *zipBackend) UUID() string                    { return "" }
func (b *zipBackend) KeyFormat() string                { return b.keyFormat }
func (b *zipBackend) Initialise(context.Context) error { return nil }
func (b *zipBackend) IsInitialised() bool              { return true }
func (b *zipBackend) Erase() error                     { return errReadOnly }

func (b *zipBackend) PutObjectFromFilelike(context.Context, io.Reader) (string, error) {
	return "", errReadOnly
}

func (b *zipBackend) DeleteObjects(context.Context, []string) error {
	return errReadOnly
}

func (b *zipBackend) HasObjects(_ context.Context, keys []string) ([]bool, error) {
	out := make([]bool, len(keys))
	for i, k := range keys {
		_, out[i] = b.files[k]
	}
	return out, nil
}

func (b *zipBackend) Open(_ context.Context, key string) (io.ReadCloser, error) {
	f, ok := b.files[key]
	if !ok {
		return nil, &repository.ObjectNotFoundError{Keys: []string{key}}
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open object %s: %w", key, err)
	}
	return rc, nil
}

func (b *zipBackend) IterObjectStreams(ctx context.Context, keys []string, fn func(string, io.Reader) error) error {
	return repository.IterStreams(ctx, b, keys, fn)
}

func (b *zipBackend) GetObjectHash(ctx context.Context, key string) (string, error) {
	return repository.HashObject(ctx, b, key)
}

func (b *zipBackend) ListObjects(context.Context) ([]string, error) {
	keys := make([]string, 0, len(b.files))
	for k := range b.files {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys, nil
}

func (b *zipBackend) GetInfo(_ context.Context, _ bool) (*repository.Info, error) {
	info := &repository.Info{KeyFormat: b.keyFormat, Objects: len(b.files)}
	for _, f := range b.files {
		info.Bytes += int64(f.UncompressedSize64)
	}
	return info, nil
}
