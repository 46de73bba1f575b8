package repository

import (
	"bufio"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zlib"
)

var sha1Key = regexp.MustCompile(`^[0-9a-f]{40}$`)

// GitBackend stores objects as git loose blobs: the key is the SHA-1 of
// "blob <size>\x00<content>" and the file under objects/<2>/<38> holds
// that byte sequence zlib-compressed.
type GitBackend struct {
	root string
	uuid string
}

// NewGitBackend returns a backend rooted at dir.
func NewGitBackend(dir string) *GitBackend {
	b := &GitBackend{root: dir}
	if cfg, err := readConfig(b.configPath()); err == nil {
		b.uuid = cfg.UUID
	}
	return b
}

func (b *GitBackend) configPath() string { return filepath.Join(b.root, "aiida.json") }
func (b *GitBackend) objectsDir() string { return filepath.Join(b.root, "objects") }

func (b *GitBackend) objectPath(key string) string {
	return filepath.Join(b.objectsDir(), key[:2], key[2:])
}

func (b *GitBackend) UUID() string      { return b.uuid }
func (b *GitBackend) KeyFormat() string { return KeyFormatSHA1 }

func (b *GitBackend) Initialise(ctx context.Context) error {
	if b.IsInitialised() {
		return nil
	}
	if err := os.MkdirAll(b.objectsDir(), 0o755); err != nil {
		return fmt.Errorf("initialise git store: %w", err)
	}
	cfg := backendConfig{UUID: uuid.NewString(), KeyFormat: KeyFormatSHA1, Version: 1}
	if err := writeConfig(b.configPath(), cfg); err != nil {
		return fmt.Errorf("initialise git store: write config: %w", err)
	}
	b.uuid = cfg.UUID
	return nil
}

func (b *GitBackend) IsInitialised() bool {
	_, err := os.Stat(b.configPath())
	return err == nil
}

func (b *GitBackend) Erase() error {
	if err := os.RemoveAll(b.root); err != nil {
		return fmt.Errorf("erase git store: %w", err)
	}
	b.uuid = ""
	return nil
}

// PutObjectFromFilelike spools r to a temporary file to learn its size,
// then writes the compressed blob while computing its id.
func (b *GitBackend) PutObjectFromFilelike(ctx context.Context, r io.Reader) (string, error) {
	if !b.IsInitialised() {
		return "", ErrNotInitialised
	}
	raw, err := os.CreateTemp(b.root, "raw-")
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	defer func() {
		raw.Close()
		os.Remove(raw.Name())
	}()
	size, err := io.Copy(raw, r)
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	if _, err := raw.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}

	packed, err := os.CreateTemp(b.root, "blob-")
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	defer os.Remove(packed.Name())

	h := sha1.New()
	zw := zlib.NewWriter(packed)
	w := io.MultiWriter(h, zw)
	header := "blob " + strconv.FormatInt(size, 10) + "\x00"
	_, err = io.WriteString(w, header)
	if err == nil {
		_, err = io.Copy(w, raw)
	}
	if err == nil {
		err = zw.Close()
	}
	if closeErr := packed.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}

	key := hex.EncodeToString(h.Sum(nil))
	dest := b.objectPath(key)
	if _, err := os.Stat(dest); err == nil {
		return key, nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	if err := os.Rename(packed.Name(), dest); err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return key, nil
}

func (b *GitBackend) HasObjects(ctx context.Context, keys []string) ([]bool, error) {
	out := make([]bool, len(keys))
	for i, key := range keys {
		if !sha1Key.MatchString(key) {
			continue
		}
		if _, err := os.Stat(b.objectPath(key)); err == nil {
			out[i] = true
		}
	}
	return out, nil
}

type blobReader struct {
	io.Reader
	zr   io.Closer
	file *os.File
}

func (r *blobReader) Close() error {
	err := r.zr.Close()
	if ferr := r.file.Close(); err == nil {
		err = ferr
	}
	return err
}

// Open returns the blob content without its header.
func (b *GitBackend) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if !sha1Key.MatchString(key) {
		return nil, &ObjectNotFoundError{Keys: []string{key}}
	}
	f, err := os.Open(b.objectPath(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &ObjectNotFoundError{Keys: []string{key}}
	}
	if err != nil {
		return nil, fmt.Errorf("open object %s: %w", key, err)
	}
	zr, err := zlib.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open object %s: %w", key, err)
	}
	br := bufio.NewReader(zr)
	header, err := br.ReadString(0)
	if err != nil {
		zr.Close()
		f.Close()
		return nil, fmt.Errorf("open object %s: read header: %w", key, err)
	}
	size, err := parseBlobHeader(header)
	if err != nil {
		zr.Close()
		f.Close()
		return nil, fmt.Errorf("open object %s: %w", key, err)
	}
	return &blobReader{Reader: io.LimitReader(br, size), zr: zr, file: f}, nil
}

func parseBlobHeader(header string) (int64, error) {
	const prefix = "blob "
	if len(header) < len(prefix)+2 || header[:len(prefix)] != prefix {
		return 0, fmt.Errorf("not a blob header: %q", header)
	}
	size, err := strconv.ParseInt(header[len(prefix):len(header)-1], 10, 64)
	if err != nil || size < 0 {
		return 0, fmt.Errorf("bad blob size in %q", header)
	}
	return size, nil
}

func (b *GitBackend) IterObjectStreams(ctx context.Context, keys []string, fn func(string, io.Reader) error) error {
	return IterStreams(ctx, b, keys, fn)
}

func (b *GitBackend) GetObjectHash(ctx context.Context, key string) (string, error) {
	return HashObject(ctx, b, key)
}

func (b *GitBackend) DeleteObjects(ctx context.Context, keys []string) error {
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
	for _, key := range keys {
		if err := os.Remove(b.objectPath(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("delete object %s: %w", key, err)
		}
	}
	return nil
}

func (b *GitBackend) ListObjects(ctx context.Context) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(b.objectsDir(), func(path string, d fs.DirEntry, err error) error {
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
		if sha1Key.MatchString(key) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}
	slices.Sort(keys)
	return keys, nil
}

func (b *GitBackend) GetInfo(ctx context.Context, detailed bool) (*Info, error) {
	keys, err := b.ListObjects(ctx)
	if err != nil {
		return nil, err
	}
	info := &Info{UUID: b.uuid, KeyFormat: b.KeyFormat(), Objects: len(keys)}
	if detailed {
		for _, key := range keys {
			st, err := os.Stat(b.objectPath(key))
			if err != nil {
				return nil, fmt.Errorf("stat object %s: %w", key, err)
			}
			info.Bytes += st.Size()
		}
		info.Extra = map[string]int64{"compressed_bytes": info.Bytes}
		info.Bytes = 0
		for _, key := range keys {
			rc, err := b.Open(ctx, key)
			if err != nil {
				return nil, err
			}
			n, err := io.Copy(io.Discard, rc)
			rc.Close()
			if err != nil {
				return nil, fmt.Errorf("read object %s: %w", key, err)
			}
			info.Bytes += n
		}
	}
	return info, nil
}
