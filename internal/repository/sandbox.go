package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/uuid"
)

// SandboxBackend keeps objects as plain files in a temporary directory,
// keyed by random UUIDs. Identical content stored twice gets two keys.
type SandboxBackend struct {
	dir  string
	temp bool
}

// NewSandboxBackend returns a sandbox rooted at dir. With an empty dir a
// fresh temporary directory is created on first use.
func NewSandboxBackend(dir string) *SandboxBackend {
	return &SandboxBackend{dir: dir, temp: dir == ""}
}

// Dir returns the sandbox directory, empty before initialisation.
func (b *SandboxBackend) Dir() string { return b.dir }

func (b *SandboxBackend) UUID() string      { return "" }
func (b *SandboxBackend) KeyFormat() string { return KeyFormatUUID4 }

// Initialise creates the sandbox directory.
func (b *SandboxBackend) Initialise(ctx context.Context) error {
	if b.dir == "" {
		dir, err := os.MkdirTemp("", "aiida-sandbox-")
		if err != nil {
			return fmt.Errorf("create sandbox: %w", err)
		}
		b.dir = dir
		return nil
	}
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return fmt.Errorf("create sandbox: %w", err)
	}
	return nil
}

func (b *SandboxBackend) IsInitialised() bool {
	if b.dir == "" {
		return false
	}
	info, err := os.Stat(b.dir)
	return err == nil && info.IsDir()
}

// Erase removes the sandbox directory.
func (b *SandboxBackend) Erase() error {
	if b.dir == "" {
		return nil
	}
	if err := os.RemoveAll(b.dir); err != nil {
		return fmt.Errorf("erase sandbox: %w", err)
	}
	if b.temp {
		b.dir = ""
	}
	return nil
}

func (b *SandboxBackend) PutObjectFromFilelike(ctx context.Context, r io.Reader) (string, error) {
	if !b.IsInitialised() {
		if err := b.Initialise(ctx); err != nil {
			return "", err
		}
	}
	key := strings.ReplaceAll(uuid.NewString(), "-", "")

	f, err := os.OpenFile(filepath.Join(b.dir, key), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("put object: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return key, nil
}

func (b *SandboxBackend) path(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return filepath.Join(b.dir, key), nil
}

func (b *SandboxBackend) HasObjects(ctx context.Context, keys []string) ([]bool, error) {
	out := make([]bool, len(keys))
	if !b.IsInitialised() {
		return out, nil
	}
	for i, key := range keys {
		p, err := b.path(key)
		if err != nil {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			out[i] = true
		}
	}
	return out, nil
}

func (b *SandboxBackend) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if !b.IsInitialised() {
		return nil, &ObjectNotFoundError{Keys: []string{key}}
	}
	p, err := b.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &ObjectNotFoundError{Keys: []string{key}}
	}
	if err != nil {
		return nil, fmt.Errorf("open object %s: %w", key, err)
	}
	return f, nil
}

func (b *SandboxBackend) IterObjectStreams(ctx context.Context, keys []string, fn func(string, io.Reader) error) error {
	return IterStreams(ctx, b, keys, fn)
}

func (b *SandboxBackend) GetObjectHash(ctx context.Context, key string) (string, error) {
	return HashObject(ctx, b, key)
}

func (b *SandboxBackend) DeleteObjects(ctx context.Context, keys []string) error {
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
		p, _ := b.path(key)
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("delete object %s: %w", key, err)
		}
	}
	return nil
}

func (b *SandboxBackend) ListObjects(ctx context.Context) ([]string, error) {
	if !b.IsInitialised() {
		return nil, nil
	}
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}
	var keys []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			keys = append(keys, e.Name())
		}
	}
	slices.Sort(keys)
	return keys, nil
}

func (b *SandboxBackend) GetInfo(ctx context.Context, detailed bool) (*Info, error) {
	keys, err := b.ListObjects(ctx)
	if err != nil {
		return nil, err
	}
	info := &Info{KeyFormat: b.KeyFormat(), Objects: len(keys)}
	if detailed {
		for _, key := range keys {
			st, err := os.Stat(filepath.Join(b.dir, key))
			if err != nil {
				return nil, fmt.Errorf("stat object %s: %w", key, err)
			}
			info.Bytes += st.Size()
		}
	}
	return info, nil
}
