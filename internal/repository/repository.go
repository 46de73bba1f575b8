package repository

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/renameio"

	"github.com/roach88/aiida/internal/entity"
)

// Repository is a virtual file hierarchy whose file contents live in a
// Backend. Paths are relative and use "/" as separator.
type Repository struct {
	backend Backend
	root    *File
}

// New returns an empty repository on backend.
func New(backend Backend) *Repository {
	return &Repository{backend: backend, root: newDirectory("")}
}

// NewFromSerialized restores a repository from metadata written by
// Serialize. The keys are not checked against the backend.
func NewFromSerialized(backend Backend, serialized map[string]any) (*Repository, error) {
	root, err := FileFromSerialized("", serialized)
	if err != nil {
		return nil, fmt.Errorf("load repository metadata: %w", err)
	}
	if !root.IsDir() {
		return nil, fmt.Errorf("load repository metadata: root is a file")
	}
	return &Repository{backend: backend, root: root}, nil
}

// Backend returns the backend holding the file contents.
func (r *Repository) Backend() Backend { return r.backend }

// Serialize returns the repository metadata of the hierarchy.
func (r *Repository) Serialize() map[string]any {
	return r.root.Serialize()
}

// IsEmpty reports whether the hierarchy has no entries.
func (r *Repository) IsEmpty() bool { return len(r.root.objects) == 0 }

// Keys returns the distinct backend keys referenced by the hierarchy.
func (r *Repository) Keys() []string {
	seen := map[string]struct{}{}
	var keys []string
	var collect func(f *File)
	collect = func(f *File) {
		for _, child := range f.objects {
			if child.IsDir() {
				collect(child)
				continue
			}
			if _, ok := seen[child.key]; !ok {
				seen[child.key] = struct{}{}
				keys = append(keys, child.key)
			}
		}
	}
	collect(r.root)
	slices.Sort(keys)
	return keys
}

// lookup resolves parts to an entry.
func (r *Repository) lookup(p string) (*File, error) {
	parts, err := splitPath(p)
	if err != nil {
		return nil, err
	}
	cur := r.root
	for i, part := range parts {
		if !cur.IsDir() {
			return nil, fmt.Errorf("%s: %w", strings.Join(parts[:i], "/"), ErrNotDirectory)
		}
		next, ok := cur.objects[part]
		if !ok {
			return nil, fmt.Errorf("path %q: %w", p, ErrObjectNotFound)
		}
		cur = next
	}
	return cur, nil
}

// mkdirs returns the directory at parts, creating missing directories.
func (r *Repository) mkdirs(parts []string) (*File, error) {
	cur := r.root
	for i, part := range parts {
		next, ok := cur.objects[part]
		if !ok {
			next = newDirectory(part)
			cur.objects[part] = next
		} else if !next.IsDir() {
			return nil, fmt.Errorf("%s: %w", strings.Join(parts[:i+1], "/"), ErrNotDirectory)
		}
		cur = next
	}
	return cur, nil
}

// GetObject returns the entry at path. The empty path is the root.
func (r *Repository) GetObject(path string) (*File, error) {
	return r.lookup(path)
}

// HasObject reports whether path exists.
func (r *Repository) HasObject(path string) bool {
	_, err := r.lookup(path)
	return err == nil
}

// CreateDirectory creates path and any missing parents.
func (r *Repository) CreateDirectory(path string) (*File, error) {
	parts, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	return r.mkdirs(parts)
}

// ListObjects returns the entries of the directory at path, sorted by
// name.
func (r *Repository) ListObjects(path string) ([]*File, error) {
	dir, err := r.lookup(path)
	if err != nil {
		return nil, err
	}
	if !dir.IsDir() {
		return nil, fmt.Errorf("path %q: %w", path, ErrNotDirectory)
	}
	return dir.Objects(), nil
}

// ListObjectNames is ListObjects reduced to names.
func (r *Repository) ListObjectNames(path string) ([]string, error) {
	objs, err := r.ListObjects(path)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(objs))
	for i, o := range objs {
		names[i] = o.name
	}
	return names, nil
}

// PutObjectFromFilelike stores the content of src in the backend and
// records it at path, replacing a file already there. Missing parent
// directories are created.
func (r *Repository) PutObjectFromFilelike(ctx context.Context, src io.Reader, path string) (string, error) {
	parts, err := splitPath(path)
	if err != nil {
		return "", err
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	name := parts[len(parts)-1]

	// Check the target before writing to the backend.
	parent := r.root
	for _, part := range parts[:len(parts)-1] {
		next, ok := parent.objects[part]
		if !ok {
			break
		}
		if !next.IsDir() {
			return "", fmt.Errorf("path %q: %w", path, ErrNotDirectory)
		}
		parent = next
	}
	if existing, ok := parent.objects[name]; ok && existing.IsDir() {
		return "", fmt.Errorf("path %q: %w", path, ErrIsDirectory)
	}

	key, err := r.backend.PutObjectFromFilelike(ctx, src)
	if err != nil {
		return "", fmt.Errorf("put %q: %w", path, err)
	}
	dir, err := r.mkdirs(parts[:len(parts)-1])
	if err != nil {
		return "", err
	}
	dir.objects[name] = newFile(name, key)
	return key, nil
}

// PutObjectFromFile stores the local file at filePath under path.
func (r *Repository) PutObjectFromFile(ctx context.Context, filePath, path string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("put %q: %w", path, err)
	}
	defer f.Close()
	_, err = r.PutObjectFromFilelike(ctx, f, path)
	return err
}

// PutObjectFromTree copies the local directory dir into path,
// including empty subdirectories.
func (r *Repository) PutObjectFromTree(ctx context.Context, dir, path string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("put tree %q: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("put tree %q: %w", dir, ErrNotDirectory)
	}
	base, err := splitPath(path)
	if err != nil {
		return err
	}
	if len(base) > 0 {
		if _, err := r.mkdirs(base); err != nil {
			return err
		}
	}

	return filepath.WalkDir(dir, func(local string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, local)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		target := strings.Join(append(slices.Clone(base), filepath.ToSlash(rel)), "/")
		if d.IsDir() {
			_, err := r.CreateDirectory(target)
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return r.PutObjectFromFile(ctx, local, target)
	})
}

// fileKey resolves path to the key of a file entry.
func (r *Repository) fileKey(path string) (string, error) {
	f, err := r.lookup(path)
	if err != nil {
		return "", err
	}
	if f.IsDir() {
		return "", fmt.Errorf("path %q: %w", path, ErrIsDirectory)
	}
	return f.key, nil
}

// Open returns a reader for the file at path.
func (r *Repository) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	key, err := r.fileKey(path)
	if err != nil {
		return nil, err
	}
	return r.backend.Open(ctx, key)
}

// GetObjectContent returns the content of the file at path.
func (r *Repository) GetObjectContent(ctx context.Context, path string) ([]byte, error) {
	rc, err := r.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", path, err)
	}
	return data, nil
}

// DeleteObject removes the file at path from the hierarchy. With hard
// the backend object is deleted too; other hierarchies referencing the
// same key lose their content, so soft deletion is the norm.
func (r *Repository) DeleteObject(ctx context.Context, path string, hard bool) error {
	parts, err := splitPath(path)
	if err != nil {
		return err
	}
	key, err := r.fileKey(path)
	if err != nil {
		return err
	}
	parent, err := r.lookup(strings.Join(parts[:len(parts)-1], "/"))
	if err != nil {
		return err
	}
	delete(parent.objects, parts[len(parts)-1])
	if hard {
		if err := r.backend.DeleteObjects(ctx, []string{key}); err != nil {
			return fmt.Errorf("delete %q: %w", path, err)
		}
	}
	return nil
}

// Erase deletes every backend object referenced by the hierarchy and
// resets it. The backend itself is left in place since it is shared.
func (r *Repository) Erase(ctx context.Context) error {
	keys := r.Keys()
	if len(keys) > 0 {
		if err := r.backend.DeleteObjects(ctx, keys); err != nil {
			return fmt.Errorf("erase repository: %w", err)
		}
	}
	r.root = newDirectory("")
	return nil
}

// WalkFunc is called for every directory with its subdirectory and file
// names. Root is "" for the top-level directory.
type WalkFunc func(root string, dirnames, filenames []string) error

// Walk visits the directory at path and everything below it, parents
// before children, names sorted.
func (r *Repository) Walk(path string, fn WalkFunc) error {
	start, err := r.lookup(path)
	if err != nil {
		return err
	}
	if !start.IsDir() {
		return fmt.Errorf("path %q: %w", path, ErrNotDirectory)
	}
	parts, _ := splitPath(path)
	return walk(strings.Join(parts, "/"), start, fn)
}

func walk(root string, dir *File, fn WalkFunc) error {
	var dirnames, filenames []string
	for _, child := range dir.Objects() {
		if child.IsDir() {
			dirnames = append(dirnames, child.name)
		} else {
			filenames = append(filenames, child.name)
		}
	}
	if err := fn(root, dirnames, filenames); err != nil {
		return err
	}
	for _, name := range dirnames {
		if err := walk(joinPath(root, name), dir.objects[name], fn); err != nil {
			return err
		}
	}
	return nil
}

func joinPath(root, name string) string {
	if root == "" {
		return name
	}
	return root + "/" + name
}

// Clone copies every entry of source into r, which must be empty. File
// contents are streamed from the source backend into r's backend.
func (r *Repository) Clone(ctx context.Context, source *Repository) error {
	if !r.IsEmpty() {
		return fmt.Errorf("clone: target repository is not empty: %w", ErrExists)
	}
	if source.backend == r.backend {
		r.root = source.root.clone()
		return nil
	}
	return source.Walk("", func(root string, dirnames, filenames []string) error {
		for _, d := range dirnames {
			if _, err := r.CreateDirectory(joinPath(root, d)); err != nil {
				return err
			}
		}
		for _, name := range filenames {
			p := joinPath(root, name)
			rc, err := source.Open(ctx, p)
			if err != nil {
				return fmt.Errorf("clone %q: %w", p, err)
			}
			_, err = r.PutObjectFromFilelike(ctx, rc, p)
			rc.Close()
			if err != nil {
				return fmt.Errorf("clone %q: %w", p, err)
			}
		}
		return nil
	})
}

// CopyTree writes the hierarchy below path into the local directory
// target. Each file is replaced atomically.
func (r *Repository) CopyTree(ctx context.Context, target, path string) error {
	parts, err := splitPath(path)
	if err != nil {
		return err
	}
	base := strings.Join(parts, "/")
	return r.Walk(base, func(root string, dirnames, filenames []string) error {
		rel := strings.TrimPrefix(strings.TrimPrefix(root, base), "/")
		dir := filepath.Join(target, filepath.FromSlash(rel))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("copy tree: %w", err)
		}
		for _, name := range filenames {
			if err := r.copyFile(ctx, joinPath(root, name), filepath.Join(dir, name)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *Repository) copyFile(ctx context.Context, path, dest string) error {
	rc, err := r.Open(ctx, path)
	if err != nil {
		return fmt.Errorf("copy %q: %w", path, err)
	}
	defer rc.Close()

	t, err := renameio.TempFile(filepath.Dir(dest), dest)
	if err != nil {
		return fmt.Errorf("copy %q: %w", path, err)
	}
	defer t.Cleanup()
	if _, err := io.Copy(t, rc); err != nil {
		return fmt.Errorf("copy %q: %w", path, err)
	}
	if err := t.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("copy %q: %w", path, err)
	}
	return nil
}

// Hash returns a digest of the hierarchy computed from the directory
// names and the backend content hash of every file. File names do not
// contribute, so the same contents stored under other names hash alike.
func (r *Repository) Hash(ctx context.Context) (string, error) {
	var dirnames, hashes []string
	err := r.Walk("", func(root string, dirs, files []string) error {
		dirnames = append(dirnames, dirs...)
		for _, name := range files {
			key, err := r.fileKey(joinPath(root, name))
			if err != nil {
				return err
			}
			h, err := r.backend.GetObjectHash(ctx, key)
			if err != nil {
				return fmt.Errorf("hash %q: %w", joinPath(root, name), err)
			}
			hashes = append(hashes, h)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	slices.Sort(dirnames)
	slices.Sort(hashes)
	if dirnames == nil {
		dirnames = []string{}
	}
	if hashes == nil {
		hashes = []string{}
	}
	return entity.HashCanonical(entity.DomainRepositoryDir, map[string]any{
		"dirnames": dirnames,
		"files":    hashes,
	})
}
