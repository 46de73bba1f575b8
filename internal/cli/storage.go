package cli

import (
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/aiida/internal/entity"
	"github.com/roach88/aiida/internal/orm"
)

// NewStorageCommand creates the storage command group.
func NewStorageCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "storage",
		Short: "Inspect and maintain the profile storage",
	}
	cmd.AddCommand(newStorageInfoCommand(rootOpts))
	cmd.AddCommand(newStorageMaintainCommand(rootOpts))
	return cmd
}

func newStorageInfoCommand(rootOpts *RootOptions) *cobra.Command {
	var detailed bool

	cmd := &cobra.Command{
		Use:           "info",
		Short:         "Summarise the entities and repository of the profile",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)
			ctx := cmd.Context()
			b, p, err := openBackend(ctx, rootOpts, cmd, formatter)
			if err != nil {
				return err
			}
			defer closeBackend(b)

			info, err := b.Info(ctx, detailed)
			if err != nil {
				return formatter.Fail("storage info failed", err)
			}
			return formatter.Report(info, func(w io.Writer) {
				fmt.Fprintf(w, "Profile: %s\n", p.Name)
				fmt.Fprintf(w, "Storage: %s\n", p.Storage.Path)
				fmt.Fprintln(w, "Entities:")
				for _, t := range entity.EntityTypes {
					fmt.Fprintf(w, "  %-12s %d\n", t, info.Entities[string(t)])
				}
				r := info.Repository
				fmt.Fprintf(w, "Repository: %s (%s)\n", p.Repository.Path, p.Repository.Backend)
				if r.UUID != "" {
					fmt.Fprintf(w, "  uuid        %s\n", r.UUID)
				}
				fmt.Fprintf(w, "  key format  %s\n", r.KeyFormat)
				fmt.Fprintf(w, "  objects     %d\n", r.Objects)
				if detailed {
					fmt.Fprintf(w, "  bytes       %d\n", r.Bytes)
					for _, k := range slices.Sorted(maps.Keys(r.Extra)) {
						fmt.Fprintf(w, "  %-11s %d\n", k, r.Extra[k])
					}
				}
			})
		},
	}

	cmd.Flags().BoolVar(&detailed, "detailed", false, "include repository sizes")
	return cmd
}

func newStorageMaintainCommand(rootOpts *RootOptions) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "maintain",
		Short: "Remove unreferenced repository objects and pack the rest",
		Long: `Remove repository objects that no node references, then pack loose
objects where the repository backend supports it.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)
			ctx := cmd.Context()
			b, _, err := openBackend(ctx, rootOpts, cmd, formatter)
			if err != nil {
				return err
			}
			defer closeBackend(b)

			res, err := b.Maintain(ctx, orm.MaintainOptions{DryRun: dryRun})
			if err != nil {
				return formatter.Fail("storage maintain failed", err)
			}
			return formatter.Report(res, func(w io.Writer) {
				if dryRun {
					fmt.Fprintf(w, "%d unreferenced object(s) would be deleted\n", len(res.Unreferenced))
					for _, k := range res.Unreferenced {
						fmt.Fprintf(w, "  %s\n", k)
					}
					return
				}
				fmt.Fprintf(w, "Deleted %d unreferenced object(s), packed %d\n", res.Deleted, res.Packed)
			})
		},
	}

	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "only list unreferenced objects")
	return cmd
}
