package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/aiida/internal/archive"
	"github.com/roach88/aiida/internal/entity"
)

// NewArchiveCommand creates the archive command group.
func NewArchiveCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Create, import and inspect archive files",
	}
	cmd.AddCommand(newArchiveCreateCommand(rootOpts))
	cmd.AddCommand(newArchiveImportCommand(rootOpts))
	cmd.AddCommand(newArchiveInspectCommand(rootOpts))
	return cmd
}

// ArchiveCreateOptions holds flags for archive create.
type ArchiveCreateOptions struct {
	*RootOptions
	All       bool
	Users     []string
	Computers []string
	Groups    []string
	Nodes     []string

	Overwrite         bool
	IncludeComments   bool
	IncludeLogs       bool
	IncludeAuthInfos  bool
	AllowedLicenses   []string
	ForbiddenLicenses []string
	Rules             map[string]string
	CompressionLevel  int
	StripCheckpoints  bool
	TestRun           bool
}

func newArchiveCreateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ArchiveCreateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "create <output>",
		Short: "Export entities and their provenance to an archive",
		Long: `Export users, computers, groups and nodes to an archive file.

Starting from the given entities (or everything with --all), groups are
expanded to their nodes and the node set is closed under the export
traversal rules, so that every process travels with its inputs and
outputs. Process nodes must be sealed.

Example:
  verdi archive create --all export.aiida
  verdi archive create --nodes 0f3e... --rule input_calc_forward=true out.aiida`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runArchiveCreate(opts, args[0], cmd)
		},
	}

	f := cmd.Flags()
	f.BoolVar(&opts.All, "all", false, "export every entity of the profile")
	f.StringSliceVar(&opts.Users, "users", nil, "emails of users to export")
	f.StringSliceVar(&opts.Computers, "computers", nil, "UUIDs of computers to export")
	f.StringSliceVar(&opts.Groups, "groups", nil, "UUIDs of groups to export")
	f.StringSliceVar(&opts.Nodes, "nodes", nil, "UUIDs of nodes to export")
	f.BoolVarP(&opts.Overwrite, "force", "f", false, "overwrite an existing archive")
	f.BoolVar(&opts.IncludeComments, "include-comments", true, "export node comments")
	f.BoolVar(&opts.IncludeLogs, "include-logs", true, "export node logs")
	f.BoolVar(&opts.IncludeAuthInfos, "include-authinfos", false, "export computer authentication info")
	f.StringSliceVar(&opts.AllowedLicenses, "allowed-licenses", nil, "only export data nodes with these licenses")
	f.StringSliceVar(&opts.ForbiddenLicenses, "forbidden-licenses", nil, "refuse data nodes with these licenses")
	f.StringToStringVar(&opts.Rules, "rule", nil, "override a traversal rule, e.g. call_calc_backward=true")
	f.IntVar(&opts.CompressionLevel, "compression", 6, "deflate level 0-9 (default from the profile)")
	f.BoolVar(&opts.StripCheckpoints, "strip-checkpoints", true, "drop process checkpoints from the archive")
	f.BoolVar(&opts.TestRun, "test-run", false, "select and validate without writing the archive")

	return cmd
}

func (o *ArchiveCreateOptions) entities() *archive.EntitySet {
	if o.All {
		return nil
	}
	return &archive.EntitySet{
		UserEmails:    o.Users,
		ComputerUUIDs: o.Computers,
		GroupUUIDs:    o.Groups,
		NodeUUIDs:     o.Nodes,
	}
}

func (o *ArchiveCreateOptions) hasEntities() bool {
	return len(o.Users)+len(o.Computers)+len(o.Groups)+len(o.Nodes) > 0
}

func runArchiveCreate(opts *ArchiveCreateOptions, output string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	if opts.All == opts.hasEntities() {
		_ = formatter.Error(ErrCodeInvalidArgs, "pass either --all or the entities to export", nil)
		return NewExitError(ExitCommandError, "nothing to export")
	}
	rules, err := parseRules(opts.Rules)
	if err != nil {
		_ = formatter.Error(ErrCodeInvalidArgs, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid rule", err)
	}

	ctx := cmd.Context()
	b, p, err := openBackend(ctx, opts.RootOptions, cmd, formatter)
	if err != nil {
		return err
	}
	defer closeBackend(b)

	co := archive.DefaultCreateOptions()
	co.Entities = opts.entities()
	co.Overwrite = opts.Overwrite
	co.IncludeComments = opts.IncludeComments
	co.IncludeLogs = opts.IncludeLogs
	co.IncludeAuthInfos = opts.IncludeAuthInfos
	if opts.AllowedLicenses != nil {
		co.AllowedLicenses = archive.LicenseList(opts.AllowedLicenses...)
	}
	if opts.ForbiddenLicenses != nil {
		co.ForbiddenLicenses = archive.LicenseList(opts.ForbiddenLicenses...)
	}
	co.Rules = rules
	co.CompressionLevel = opts.CompressionLevel
	if !cmd.Flags().Changed("compression") {
		co.CompressionLevel = p.Archive.CompressionLevel
	}
	co.BatchSize = p.Archive.BatchSize
	co.FilterSize = p.Archive.FilterSize
	co.StripCheckpoints = opts.StripCheckpoints
	co.TestRun = opts.TestRun
	co.Logger = b.Logger()

	res, err := archive.Create(ctx, archive.Source{Store: b.Store, Repository: b.Repository}, output, co)
	if err != nil {
		return formatter.Fail("archive create failed", err)
	}

	return formatter.Report(res, func(w io.Writer) {
		if res.Written {
			fmt.Fprintf(w, "Archive written to %s\n", res.Path)
		} else {
			fmt.Fprintln(w, "Test run: no archive written")
		}
		printCounts(w, res.Counts)
		fmt.Fprintf(w, "  %-12s %d\n", "links", res.Links)
		fmt.Fprintf(w, "  %-12s %d\n", "objects", res.BlobKeys)
	})
}

// ArchiveImportOptions holds flags for archive import.
type ArchiveImportOptions struct {
	*RootOptions
	ExtrasExisting   string
	ImportNewExtras  bool
	Comments         string
	IncludeAuthInfos bool
	NoGroup          bool
	Group            int64
	User             string
	TestRun          bool
}

func newArchiveImportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ArchiveImportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "import <archive>",
		Short: "Import an archive into the profile",
		Long: `Merge an archive into the profile.

Entities already in the profile are matched by UUID (users by email) and
reused. Clashing computer and group labels are renamed. All imported
nodes are added to a new import group unless --no-group is given.

Extras of existing nodes are merged with a three-letter policy:
  1st letter, keys only in the profile:  k keep, n drop
  2nd letter, keys only in the archive:  c create, n skip
  3rd letter, keys in both:              l leave, u use archive, d delete`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runArchiveImport(opts, args[0], cmd)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.ExtrasExisting, "extras-mode-existing", "kcl", "extras policy for nodes already in the profile")
	f.BoolVar(&opts.ImportNewExtras, "import-new-extras", true, "keep the extras of newly imported nodes")
	f.StringVar(&opts.Comments, "comment-mode", string(archive.CommentsLeave), "policy for existing comments (leave|newest|overwrite)")
	f.BoolVar(&opts.IncludeAuthInfos, "include-authinfos", false, "import computer authentication info")
	f.BoolVar(&opts.NoGroup, "no-group", false, "do not collect the imported nodes in a group")
	f.Int64Var(&opts.Group, "group", 0, "id of an existing group to add the imported nodes to")
	f.StringVar(&opts.User, "user", "", "email of the user owning the import group")
	f.BoolVar(&opts.TestRun, "test-run", false, "run the import and roll it back")

	return cmd
}

func runArchiveImport(opts *ArchiveImportOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx := cmd.Context()
	b, p, err := openBackend(ctx, opts.RootOptions, cmd, formatter)
	if err != nil {
		return err
	}
	defer closeBackend(b)

	iopts := archive.DefaultImportOptions()
	iopts.MergeExtras = opts.ExtrasExisting
	iopts.ImportNewExtras = opts.ImportNewExtras
	iopts.MergeComments = archive.CommentPolicy(opts.Comments)
	iopts.IncludeAuthInfos = opts.IncludeAuthInfos
	iopts.CreateGroup = !opts.NoGroup
	iopts.Group = opts.Group
	iopts.TestRun = opts.TestRun
	iopts.BatchSize = p.Archive.BatchSize
	iopts.FilterSize = p.Archive.FilterSize
	iopts.Logger = b.Logger()

	dst := archive.Target{Store: b.Store, Repository: b.Repository, UserEmail: opts.User}
	res, err := archive.Import(ctx, dst, path, iopts)
	if err != nil {
		return formatter.Fail("archive import failed", err)
	}

	return formatter.Report(res, func(w io.Writer) {
		if res.Committed {
			fmt.Fprintf(w, "Imported %s\n", path)
		} else {
			fmt.Fprintf(w, "Test run of %s rolled back\n", path)
		}
		fmt.Fprintf(w, "  %-12s %8s %8s\n", "entity", "new", "existing")
		for _, t := range entity.EntityTypes {
			if t == entity.TypeLink || t == entity.TypeGroupNode {
				continue
			}
			fmt.Fprintf(w, "  %-12s %8d %8d\n", t, res.Created[t], res.Existing[t])
		}
		fmt.Fprintf(w, "  %-12s %8d\n", "links", res.Links)
		fmt.Fprintf(w, "  %-12s %8d\n", "objects", res.Blobs)
		if res.GroupID != 0 {
			fmt.Fprintf(w, "Nodes added to group %d\n", res.GroupID)
		}
	})
}

func newArchiveInspectCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "inspect <archive>",
		Short:         "Show the metadata and content of an archive",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)
			info, err := archive.Inspect(cmd.Context(), args[0])
			if err != nil {
				return formatter.Fail("archive inspect failed", err)
			}
			return formatter.Report(info, func(w io.Writer) {
				m := info.Metadata
				fmt.Fprintf(w, "Archive:      %s\n", info.Path)
				fmt.Fprintf(w, "Version:      %s (aiida %s)\n", m.ExportVersion, m.AiidaVersion)
				fmt.Fprintf(w, "Created:      %s\n", m.Ctime.Format("2006-01-02 15:04:05 MST"))
				fmt.Fprintf(w, "Key format:   %s\n", m.KeyFormat)
				fmt.Fprintf(w, "Compression:  %d\n", m.Compression)
				fmt.Fprintf(w, "Objects:      %d (%d bytes)\n", info.Objects, info.Bytes)
				fmt.Fprintln(w, "Entities:")
				for _, t := range entity.EntityTypes {
					fmt.Fprintf(w, "  %-12s %d\n", t, info.Entities[string(t)])
				}
			})
		},
	}
}

func printCounts(w io.Writer, counts map[entity.EntityType]int) {
	for _, t := range entity.EntityTypes {
		if n, ok := counts[t]; ok {
			fmt.Fprintf(w, "  %-12s %d\n", t, n)
		}
	}
}
