package repository

import (
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/aiida/internal/entity"
)

// FileType distinguishes directories from files.
type FileType int

const (
	FileTypeDirectory FileType = iota
	FileTypeFile
)

func (t FileType) String() string {
	if t == FileTypeFile {
		return "file"
	}
	return "directory"
}

// Path errors.
var (
	ErrInvalidPath  = errors.New("invalid repository path")
	ErrIsDirectory  = errors.New("is a directory")
	ErrNotDirectory = errors.New("not a directory")
	ErrExists       = errors.New("object already exists")
)

// File is one entry of a virtual hierarchy: a directory holding named
// children or a file holding a backend key.
type File struct {
	name    string
	typ     FileType
	key     string
	objects map[string]*File
}

func newDirectory(name string) *File {
	return &File{name: name, typ: FileTypeDirectory, objects: map[string]*File{}}
}

func newFile(name, key string) *File {
	return &File{name: name, typ: FileTypeFile, key: key}
}

func (f *File) Name() string   { return f.name }
func (f *File) Type() FileType { return f.typ }
func (f *File) IsDir() bool    { return f.typ == FileTypeDirectory }
func (f *File) Key() string    { return f.key }

// Objects returns the children of a directory sorted by name.
func (f *File) Objects() []*File {
	names := entity.SortedKeys(f.objects)
	out := make([]*File, len(names))
	for i, n := range names {
		out[i] = f.objects[n]
	}
	return out
}

// Serialize encodes the entry as repository metadata: {"k": key} for a
// file, {"o": {name: ...}} for a non-empty directory and {} for an empty
// one.
func (f *File) Serialize() map[string]any {
	if f.typ == FileTypeFile {
		return map[string]any{"k": f.key}
	}
	if len(f.objects) == 0 {
		return map[string]any{}
	}
	children := make(map[string]any, len(f.objects))
	for name, child := range f.objects {
		children[name] = child.Serialize()
	}
	return map[string]any{"o": children}
}

func (f *File) clone() *File {
	c := &File{name: f.name, typ: f.typ, key: f.key}
	if f.objects != nil {
		c.objects = make(map[string]*File, len(f.objects))
		for n, child := range f.objects {
			c.objects[n] = child.clone()
		}
	}
	return c
}

// FileFromSerialized decodes repository metadata produced by Serialize.
func FileFromSerialized(name string, data map[string]any) (*File, error) {
	if raw, ok := data["k"]; ok {
		key, ok := raw.(string)
		if !ok || key == "" {
			return nil, fmt.Errorf("object %q: key must be a non-empty string", name)
		}
		if _, hasChildren := data["o"]; hasChildren {
			return nil, fmt.Errorf("object %q: has both key and children", name)
		}
		return newFile(name, key), nil
	}

	dir := newDirectory(name)
	raw, ok := data["o"]
	if !ok {
		return dir, nil
	}
	children, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("object %q: children must be an object", name)
	}
	for childName, v := range children {
		childData, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("object %q: entry %q must be an object", name, childName)
		}
		child, err := FileFromSerialized(childName, childData)
		if err != nil {
			return nil, err
		}
		dir.objects[childName] = child
	}
	return dir, nil
}

// Flatten maps every path in serialized repository metadata to its key.
// Directories appear with a trailing "/" and a nil key; the root itself
// is not listed.
func Flatten(serialized map[string]any) (map[string]*string, error) {
	root, err := FileFromSerialized("", serialized)
	if err != nil {
		return nil, err
	}
	out := map[string]*string{}
	var walk func(prefix string, f *File)
	walk = func(prefix string, f *File) {
		for _, child := range f.Objects() {
			p := prefix + child.name
			if child.IsDir() {
				out[p+"/"] = nil
				walk(p+"/", child)
				continue
			}
			key := child.key
			out[p] = &key
		}
	}
	walk("", root)
	return out, nil
}

// Keys returns every backend key referenced by serialized repository
// metadata, sorted and without duplicates.
func Keys(serialized map[string]any) ([]string, error) {
	flat, err := Flatten(serialized)
	if err != nil {
		return nil, err
	}
	seen := map[string]struct{}{}
	var keys []string
	for _, k := range flat {
		if k == nil {
			continue
		}
		if _, ok := seen[*k]; !ok {
			seen[*k] = struct{}{}
			keys = append(keys, *k)
		}
	}
	slices.Sort(keys)
	return keys, nil
}

// splitPath validates and normalises a relative POSIX path into its
// parts. The empty path and "." denote the root.
func splitPath(p string) ([]string, error) {
	p = norm.NFC.String(p)
	if strings.HasPrefix(p, "/") {
		return nil, fmt.Errorf("%w: %q is absolute", ErrInvalidPath, p)
	}
	if strings.Contains(p, "\\") {
		return nil, fmt.Errorf("%w: %q contains a backslash", ErrInvalidPath, p)
	}
	for _, part := range strings.Split(p, "/") {
		if part == ".." {
			return nil, fmt.Errorf("%w: %q leaves the repository", ErrInvalidPath, p)
		}
	}
	clean := path.Clean(p)
	if clean == "." || clean == "" {
		return nil, nil
	}
	return strings.Split(clean, "/"), nil
}
