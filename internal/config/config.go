// Package config loads profile configuration files.
//
// A profile is a YAML file naming the storage database, the repository
// backend and the archive defaults. It is validated against an embedded
// CUE schema, which also supplies the defaults.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// Repository backend names.
const (
	RepositoryDisk    = "disk"
	RepositorySandbox = "sandbox"
	RepositoryGit     = "git"
)

// Profile is a validated profile configuration.
type Profile struct {
	Name       string     `json:"name"`
	Storage    Storage    `json:"storage"`
	Repository Repository `json:"repository"`
	Archive    Archive    `json:"archive"`
}

// Storage locates the relational database.
type Storage struct {
	Path string `json:"path"`
}

// Repository selects the repository backend.
type Repository struct {
	Backend string `json:"backend"`
	Path    string `json:"path"`
}

// Archive holds the defaults of archive operations.
type Archive struct {
	BatchSize        int `json:"batch_size"`
	FilterSize       int `json:"filter_size"`
	CompressionLevel int `json:"compression_level"`
}

// ValidationError reports a configuration that does not match the
// schema. Each problem is listed with its field path.
type ValidationError struct {
	File     string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.File, strings.Join(e.Problems, "; "))
}

// Load reads, validates and defaults the profile at path. Relative
// storage and repository paths are resolved against the directory of the
// file.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read configuration: %w", err)
	}
	p, err := Parse(path, data)
	if err != nil {
		return nil, err
	}
	base := filepath.Dir(path)
	p.Storage.Path = resolve(base, p.Storage.Path)
	p.Repository.Path = resolve(base, p.Repository.Path)
	return p, nil
}

func resolve(base, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// Parse validates YAML configuration data. name is used in errors.
func Parse(name string, data []byte) (*Profile, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	if raw == nil {
		raw = map[string]any{}
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile configuration schema: %w", err)
	}
	v := schema.LookupPath(cue.ParsePath("#Profile")).Unify(ctx.Encode(raw))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, validationError(name, err)
	}

	var p Profile
	if err := v.Decode(&p); err != nil {
		return nil, validationError(name, err)
	}
	return &p, nil
}

func validationError(name string, err error) *ValidationError {
	ve := &ValidationError{File: name}
	for _, e := range cueerrors.Errors(err) {
		path := strings.Join(e.Path(), ".")
		format, args := e.Msg()
		msg := fmt.Sprintf(format, args...)
		if path != "" {
			msg = path + ": " + msg
		}
		ve.Problems = append(ve.Problems, msg)
	}
	return ve
}

// Default returns the profile used when no configuration file exists:
// everything lives below dir.
func Default(dir string) *Profile {
	return &Profile{
		Name:    "default",
		Storage: Storage{Path: filepath.Join(dir, "db.sqlite3")},
		Repository: Repository{
			Backend: RepositoryDisk,
			Path:    filepath.Join(dir, "repository"),
		},
		Archive: Archive{BatchSize: 1000, FilterSize: 999, CompressionLevel: 6},
	}
}
