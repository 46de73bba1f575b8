package archive

import (
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/roach88/aiida/internal/store"
)

// optionsValidate checks option structs before a pipeline does any work.
var optionsValidate *validator.Validate

func init() {
	optionsValidate = validator.New()
	_ = optionsValidate.RegisterValidation("extraspolicy", func(fl validator.FieldLevel) bool {
		_, err := ParseExtrasPolicy(fl.Field().String())
		return err == nil
	})
	_ = optionsValidate.RegisterValidation("commentspolicy", func(fl validator.FieldLevel) bool {
		return slices.Contains(commentPolicies, CommentPolicy(fl.Field().String()))
	})
}

// LicenseFunc decides whether a license name passes a license check.
type LicenseFunc func(license string) bool

// LicenseList returns a LicenseFunc matching exactly the given names.
func LicenseList(names ...string) LicenseFunc {
	return func(license string) bool {
		return slices.Contains(names, license)
	}
}

// EntitySet names the starting entities of an export.
type EntitySet struct {
	UserEmails    []string
	ComputerUUIDs []string
	GroupUUIDs    []string
	NodeUUIDs     []string
}

// CreateOptions configures Create.
type CreateOptions struct {
	// Entities are the starting points. Nil exports everything.
	Entities  *EntitySet
	Overwrite bool

	IncludeComments  bool
	IncludeLogs      bool
	IncludeAuthInfos bool

	// AllowedLicenses, when set, must accept the license of every data
	// node that declares one. ForbiddenLicenses must reject it.
	AllowedLicenses   LicenseFunc
	ForbiddenLicenses LicenseFunc

	// Rules overrides the toggleable export traversal rules by name.
	Rules map[string]bool

	BatchSize        int `validate:"gte=0"`
	FilterSize       int `validate:"gte=0"`
	CompressionLevel int `validate:"gte=0,lte=9"`
	StripCheckpoints bool
	TestRun          bool

	Logger *slog.Logger
	Now    func() time.Time
}

// DefaultCreateOptions returns the options used by the CLI when no flag
// is given.
func DefaultCreateOptions() CreateOptions {
	return CreateOptions{
		IncludeComments:  true,
		IncludeLogs:      true,
		BatchSize:        store.DefaultBatchSize,
		FilterSize:       store.DefaultFilterSize,
		CompressionLevel: 6,
		StripCheckpoints: true,
	}
}

func (o CreateOptions) batch() store.Batch {
	return store.Batch{FilterSize: o.FilterSize, BatchSize: o.BatchSize}.Normalized()
}

// CommentPolicy decides what happens to a comment that exists in both
// the archive and the target.
type CommentPolicy string

const (
	// CommentsLeave keeps the target comment.
	CommentsLeave CommentPolicy = "leave"
	// CommentsNewest keeps whichever comment was modified last.
	CommentsNewest CommentPolicy = "newest"
	// CommentsOverwrite replaces the target comment.
	CommentsOverwrite CommentPolicy = "overwrite"
)

var commentPolicies = []CommentPolicy{CommentsLeave, CommentsNewest, CommentsOverwrite}

// ImportOptions configures Import.
type ImportOptions struct {
	// ImportNewExtras keeps the extras of newly created nodes. When false
	// new nodes get no extras. Private extras are never imported.
	ImportNewExtras bool
	// MergeExtras is the three-letter extras policy for nodes that already
	// exist in the target, see ParseExtrasPolicy.
	MergeExtras   string        `validate:"extraspolicy"`
	MergeComments CommentPolicy `validate:"commentspolicy"`

	IncludeAuthInfos bool
	// CreateGroup collects the imported nodes in a new import group,
	// unless Group names an existing group to use instead.
	CreateGroup bool
	Group       int64 `validate:"gte=0"`

	TestRun    bool
	BatchSize  int `validate:"gte=0"`
	FilterSize int `validate:"gte=0"`

	Logger *slog.Logger
	Now    func() time.Time
}

// DefaultImportOptions returns the options used by the CLI when no flag
// is given.
func DefaultImportOptions() ImportOptions {
	return ImportOptions{
		ImportNewExtras: true,
		MergeExtras:     "kcl",
		MergeComments:   CommentsLeave,
		CreateGroup:     true,
		BatchSize:       store.DefaultBatchSize,
		FilterSize:      store.DefaultFilterSize,
	}
}

func (o ImportOptions) batch() store.Batch {
	return store.Batch{FilterSize: o.FilterSize, BatchSize: o.BatchSize}.Normalized()
}

// ExtrasPolicy is the parsed form of a three-letter extras merge policy.
//
//	1st letter, keys only in the target:  k keep, n drop
//	2nd letter, keys only in the archive: c create, n skip
//	3rd letter, keys in both:             l leave target, u use archive, d delete
type ExtrasPolicy struct {
	KeepOld   bool
	CreateNew bool
	Collision byte
}

// ParseExtrasPolicy parses a policy such as "kcl".
func ParseExtrasPolicy(s string) (ExtrasPolicy, error) {
	if len(s) != 3 {
		return ExtrasPolicy{}, fmt.Errorf("extras policy %q: want three letters", s)
	}
	var p ExtrasPolicy
	switch s[0] {
	case 'k':
		p.KeepOld = true
	case 'n':
	default:
		return ExtrasPolicy{}, fmt.Errorf("extras policy %q: first letter must be k or n", s)
	}
	switch s[1] {
	case 'c':
		p.CreateNew = true
	case 'n':
	default:
		return ExtrasPolicy{}, fmt.Errorf("extras policy %q: second letter must be c or n", s)
	}
	switch s[2] {
	case 'l', 'u', 'd':
		p.Collision = s[2]
	default:
		return ExtrasPolicy{}, fmt.Errorf("extras policy %q: third letter must be l, u or d", s)
	}
	return p, nil
}

// Merge combines the extras of an existing node (old) with those from an
// archive (incoming). Private extras of the archive are never merged.
func (p ExtrasPolicy) Merge(old, incoming map[string]any) map[string]any {
	out := make(map[string]any, len(old)+len(incoming))
	for k, v := range old {
		if _, ok := incoming[k]; ok {
			continue
		}
		if p.KeepOld {
			out[k] = v
		}
	}
	for k, v := range incoming {
		if isPrivateExtra(k) {
			if ov, ok := old[k]; ok {
				out[k] = ov
			}
			continue
		}
		ov, collides := old[k]
		switch {
		case !collides:
			if p.CreateNew {
				out[k] = v
			}
		case p.Collision == 'l':
			out[k] = ov
		case p.Collision == 'u':
			out[k] = v
		}
	}
	return out
}
