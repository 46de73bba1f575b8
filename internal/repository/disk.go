package repository

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

const diskContainerVersion = 1

var sha256Key = regexp.MustCompile(`^[0-9a-f]{64}$`)

// DiskObjectStoreBackend is a content-addressed store keyed by the
// SHA-256 of the content. New objects are written loose, one file each;
// Pack moves them into an embedded badger database.
//
// Layout under the root directory:
//
//	config.json
//	loose/<first 2 hex>/<remaining 62 hex>
//	packs/      badger database
//	sandbox/    partially written objects
type DiskObjectStoreBackend struct {
	root   string
	logger *slog.Logger
	uuid   string
	db     *badger.DB
}

// DiskOption configures a DiskObjectStoreBackend.
type DiskOption func(*DiskObjectStoreBackend)

// WithLogger routes backend and badger logs to logger.
func WithLogger(logger *slog.Logger) DiskOption {
	return func(b *DiskObjectStoreBackend) { b.logger = logger }
}

// NewDiskObjectStoreBackend returns a backend rooted at dir. An existing
// container is picked up; otherwise call Initialise.
func NewDiskObjectStoreBackend(dir string, opts ...DiskOption) *DiskObjectStoreBackend {
	b := &DiskObjectStoreBackend{root: dir, logger: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	if cfg, err := readConfig(b.configPath()); err == nil {
		b.uuid = cfg.UUID
	}
	return b
}

func (b *DiskObjectStoreBackend) configPath() string { return filepath.Join(b.root, "config.json") }
func (b *DiskObjectStoreBackend) looseDir() string   { return filepath.Join(b.root, "loose") }
func (b *DiskObjectStoreBackend) packDir() string    { return filepath.Join(b.root, "packs") }
func (b *DiskObjectStoreBackend) sandboxDir() string { return filepath.Join(b.root, "sandbox") }

func (b *DiskObjectStoreBackend) loosePath(key string) string {
	return filepath.Join(b.looseDir(), key[:2], key[2:])
}

func (b *DiskObjectStoreBackend) UUID() string      { return b.uuid }
func (b *DiskObjectStoreBackend) KeyFormat() string { return KeyFormatSHA256 }

// Initialise creates the container layout and writes its config. An
// already initialised container is left alone.
func (b *DiskObjectStoreBackend) Initialise(ctx context.Context) error {
	if b.IsInitialised() {
		return nil
	}
	for _, dir := range []string{b.looseDir(), b.packDir(), b.sandboxDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("initialise container: %w", err)
		}
	}
	cfg := backendConfig{UUID: uuid.NewString(), KeyFormat: KeyFormatSHA256, Version: diskContainerVersion}
	if err := writeConfig(b.configPath(), cfg); err != nil {
		return fmt.Errorf("initialise container: write config: %w", err)
	}
	b.uuid = cfg.UUID
	b.logger.Info("initialised disk object store", "path", b.root, "uuid", b.uuid)
	return nil
}

func (b *DiskObjectStoreBackend) IsInitialised() bool {
	_, err := os.Stat(b.configPath())
	return err == nil
}

// Close releases the packed store.
func (b *DiskObjectStoreBackend) Close() error {
	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	if err != nil {
		return fmt.Errorf("close pack store: %w", err)
	}
	return nil
}

// Erase closes the backend and removes the container directory.
func (b *DiskObjectStoreBackend) Erase() error {
	if err := b.Close(); err != nil {
		return err
	}
	if err := os.RemoveAll(b.root); err != nil {
		return fmt.Errorf("erase container: %w", err)
	}
	b.uuid = ""
	return nil
}

func (b *DiskObjectStoreBackend) packs() (*badger.DB, error) {
	if b.db != nil {
		return b.db, nil
	}
	if !b.IsInitialised() {
		return nil, ErrNotInitialised
	}
	opts := badger.DefaultOptions(b.packDir()).WithLogger(&badgerLogger{logger: b.logger})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open pack store: %w", err)
	}
	b.db = db
	return db, nil
}

// PutObjectFromFilelike streams r into the sandbox while hashing it and
// moves the result into place. Content already present is not rewritten.
func (b *DiskObjectStoreBackend) PutObjectFromFilelike(ctx context.Context, r io.Reader) (string, error) {
	if !b.IsInitialised() {
		return "", ErrNotInitialised
	}
	tmp, err := os.CreateTemp(b.sandboxDir(), "put-")
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	defer os.Remove(tmp.Name())

	key, _, err := hashStream(io.TeeReader(r, tmp))
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}

	exists, err := b.hasObject(key)
	if err != nil {
		return "", err
	}
	if exists {
		return key, nil
	}

	dest := b.loosePath(key)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return key, nil
}

func (b *DiskObjectStoreBackend) hasObject(key string) (bool, error) {
	if !sha256Key.MatchString(key) {
		return false, nil
	}
	if _, err := os.Stat(b.loosePath(key)); err == nil {
		return true, nil
	}
	db, err := b.packs()
	if err != nil {
		return false, err
	}
	found := false
	err = db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		found = err == nil
		return err
	})
	if err != nil {
		return false, fmt.Errorf("lookup packed object %s: %w", key, err)
	}
	return found, nil
}

func (b *DiskObjectStoreBackend) HasObjects(ctx context.Context, keys []string) ([]bool, error) {
	out := make([]bool, len(keys))
	if !b.IsInitialised() {
		return out, nil
	}
	for i, key := range keys {
		ok, err := b.hasObject(key)
		if err != nil {
			return nil, err
		}
		out[i] = ok
	}
	return out, nil
}

func (b *DiskObjectStoreBackend) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if !sha256Key.MatchString(key) || !b.IsInitialised() {
		return nil, &ObjectNotFoundError{Keys: []string{key}}
	}
	f, err := os.Open(b.loosePath(key))
	if err == nil {
		return f, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("open object %s: %w", key, err)
	}

	db, err := b.packs()
	if err != nil {
		return nil, err
	}
	var data []byte
	err = db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, &ObjectNotFoundError{Keys: []string{key}}
	}
	if err != nil {
		return nil, fmt.Errorf("open packed object %s: %w", key, err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *DiskObjectStoreBackend) IterObjectStreams(ctx context.Context, keys []string, fn func(string, io.Reader) error) error {
	return IterStreams(ctx, b, keys, fn)
}

// GetObjectHash returns the key itself once the object is known to exist.
func (b *DiskObjectStoreBackend) GetObjectHash(ctx context.Context, key string) (string, error) {
	ok, err := b.hasObject(key)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", &ObjectNotFoundError{Keys: []string{key}}
	}
	return key, nil
}

func (b *DiskObjectStoreBackend) DeleteObjects(ctx context.Context, keys []string) error {
	present, err := b.HasObjects(ctx, keys)
	if err != nil {
		return err
	}
	var missing []string
	for i, ok := range present {
		if !ok {
			missing = append(missing, keys[i])
		}
	}
	if len(missing) > 0 {
		return &ObjectNotFoundError{Keys: missing}
	}

	var packed [][]byte
	for _, key := range keys {
		err := os.Remove(b.loosePath(key))
		if errors.Is(err, fs.ErrNotExist) {
			packed = append(packed, []byte(key))
			continue
		}
		if err != nil {
			return fmt.Errorf("delete object %s: %w", key, err)
		}
	}
	if len(packed) == 0 {
		return nil
	}

	db, err := b.packs()
	if err != nil {
		return err
	}
	err = db.Update(func(txn *badger.Txn) error {
		for _, k := range packed {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete packed objects: %w", err)
	}
	return nil
}

func (b *DiskObjectStoreBackend) looseKeys() ([]string, error) {
	var keys []string
	err := filepath.WalkDir(b.looseDir(), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		key := filepath.Base(filepath.Dir(path)) + d.Name()
		if sha256Key.MatchString(key) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list loose objects: %w", err)
	}
	return keys, nil
}

// packedSizes returns the packed keys with their value sizes.
func (b *DiskObjectStoreBackend) packedSizes() (map[string]int64, error) {
	db, err := b.packs()
	if err != nil {
		return nil, err
	}
	out := map[string]int64{}
	err = db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			out[string(item.KeyCopy(nil))] = item.ValueSize()
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list packed objects: %w", err)
	}
	return out, nil
}

func (b *DiskObjectStoreBackend) ListObjects(ctx context.Context) ([]string, error) {
	if !b.IsInitialised() {
		return nil, nil
	}
	keys, err := b.looseKeys()
	if err != nil {
		return nil, err
	}
	packed, err := b.packedSizes()
	if err != nil {
		return nil, err
	}
	for k := range packed {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return slices.Compact(keys), nil
}

func (b *DiskObjectStoreBackend) GetInfo(ctx context.Context, detailed bool) (*Info, error) {
	if !b.IsInitialised() {
		return nil, ErrNotInitialised
	}
	loose, err := b.looseKeys()
	if err != nil {
		return nil, err
	}
	packed, err := b.packedSizes()
	if err != nil {
		return nil, err
	}
	all, err := b.ListObjects(ctx)
	if err != nil {
		return nil, err
	}

	info := &Info{
		UUID:      b.uuid,
		KeyFormat: b.KeyFormat(),
		Objects:   len(all),
		Extra: map[string]int64{
			"loose":  int64(len(loose)),
			"packed": int64(len(packed)),
		},
	}
	if detailed {
		for _, key := range loose {
			st, err := os.Stat(b.loosePath(key))
			if err != nil {
				return nil, fmt.Errorf("stat object %s: %w", key, err)
			}
			info.Bytes += st.Size()
		}
		for key, size := range packed {
			if !slices.Contains(loose, key) {
				info.Bytes += size
			}
		}
	}
	return info, nil
}

// Pack moves all loose objects into the packed store and returns how
// many were moved.
func (b *DiskObjectStoreBackend) Pack(ctx context.Context) (int, error) {
	loose, err := b.looseKeys()
	if err != nil {
		return 0, err
	}
	if len(loose) == 0 {
		return 0, nil
	}
	db, err := b.packs()
	if err != nil {
		return 0, err
	}

	wb := db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range loose {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		data, err := os.ReadFile(b.loosePath(key))
		if err != nil {
			return 0, fmt.Errorf("pack object %s: %w", key, err)
		}
		if err := wb.Set([]byte(key), data); err != nil {
			return 0, fmt.Errorf("pack object %s: %w", key, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("pack objects: %w", err)
	}

	for _, key := range loose {
		if err := os.Remove(b.loosePath(key)); err != nil {
			b.logger.Warn("remove packed loose object", "key", key, "error", err)
		}
	}
	b.logger.Info("packed loose objects", "count", len(loose))
	return len(loose), nil
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
