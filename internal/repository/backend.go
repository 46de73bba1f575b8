// Package repository stores node file contents.
//
// A Repository is a virtual directory tree whose files reference objects
// in a flat key/value Backend. Several virtual paths, even across nodes,
// may reference the same backend key.
package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/google/renameio"
)

// Key formats of the bundled backends.
const (
	KeyFormatSHA256 = "sha256"
	KeyFormatSHA1   = "sha1"
	KeyFormatUUID4  = "uuid4"
)

// ErrObjectNotFound is returned for missing keys and missing virtual
// paths. It matches fs.ErrNotExist.
var ErrObjectNotFound = fmt.Errorf("object %w", fs.ErrNotExist)

// ErrNotInitialised is returned by backends used before Initialise.
var ErrNotInitialised = errors.New("repository backend not initialised")

// Backend is a flat content store mapping keys to byte streams.
type Backend interface {
	// UUID identifies the backend instance; empty for throwaway backends.
	UUID() string
	// KeyFormat names the key encoding. Keys from backends with different
	// formats cannot be mixed.
	KeyFormat() string

	Initialise(ctx context.Context) error
	IsInitialised() bool
	// Erase removes the backend and everything it stores.
	Erase() error

	PutObjectFromFilelike(ctx context.Context, r io.Reader) (string, error)
	HasObjects(ctx context.Context, keys []string) ([]bool, error)
	// Open fails with ErrObjectNotFound if the key is absent.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// IterObjectStreams calls fn with the content of each key in order.
	IterObjectStreams(ctx context.Context, keys []string, fn func(key string, r io.Reader) error) error
	// GetObjectHash returns the SHA-256 hex digest of the content,
	// whatever the native key format.
	GetObjectHash(ctx context.Context, key string) (string, error)
	// DeleteObjects removes all keys, or none if any is absent.
	DeleteObjects(ctx context.Context, keys []string) error
	ListObjects(ctx context.Context) ([]string, error)
	GetInfo(ctx context.Context, detailed bool) (*Info, error)
}

// Info summarises a backend.
type Info struct {
	UUID      string `json:"uuid,omitempty"`
	KeyFormat string `json:"key_format"`
	Objects   int    `json:"objects"`
	// Bytes is the total content size; only filled in detailed mode.
	Bytes int64 `json:"bytes,omitempty"`
	// Extra holds backend specific counters such as loose and packed
	// object counts.
	Extra map[string]int64 `json:"extra,omitempty"`
}

// ObjectNotFoundError names the missing keys.
type ObjectNotFoundError struct {
	Keys []string
}

func (e *ObjectNotFoundError) Error() string {
	return fmt.Sprintf("objects not found: %v", e.Keys)
}

// Unwrap makes the error match ErrObjectNotFound and fs.ErrNotExist.
func (e *ObjectNotFoundError) Unwrap() error { return ErrObjectNotFound }

// IsNotFound reports whether err means a key or path does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

// hashStream returns the SHA-256 hex digest and size of r.
func hashStream(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// HashObject opens key on b and hashes its content.
func HashObject(ctx context.Context, b Backend, key string) (string, error) {
	rc, err := b.Open(ctx, key)
	if err != nil {
		return "", err
	}
	defer rc.Close()
	digest, _, err := hashStream(rc)
	if err != nil {
		return "", fmt.Errorf("hash object %s: %w", key, err)
	}
	return digest, nil
}

// IterStreams implements IterObjectStreams on top of Open.
func IterStreams(ctx context.Context, b Backend, keys []string, fn func(string, io.Reader) error) error {
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		rc, err := b.Open(ctx, key)
		if err != nil {
			return err
		}
		err = fn(key, rc)
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// backendConfig is persisted at the root of on-disk backends.
type backendConfig struct {
	UUID      string `json:"uuid"`
	KeyFormat string `json:"key_format"`
	Version   int    `json:"container_version"`
}

func writeConfig(path string, cfg backendConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return renameio.WriteFile(path, data, 0o644)
}

func readConfig(path string) (backendConfig, error) {
	var cfg backendConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}
