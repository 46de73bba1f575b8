package cli

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/aiida/internal/entity"
	"github.com/roach88/aiida/internal/orm"
	"github.com/roach88/aiida/internal/store"
)

// NewNodeCommand creates the node command group.
func NewNodeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "node",
		Short: "Work with provenance nodes",
	}
	cmd.AddCommand(newNodeDeleteCommand(rootOpts))
	return cmd
}

// NodeDeleteOptions holds flags for node delete.
type NodeDeleteOptions struct {
	*RootOptions
	DryRun bool
	Rules  map[string]string
}

func newNodeDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &NodeDeleteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "delete <id|uuid>...",
		Short: "Delete nodes and everything that depends on them",
		Long: `Delete nodes together with the nodes that cannot exist without them.

Deleting a data node deletes the processes that used it as input, and
deleting a process deletes its outputs and the workflows that called it.
Repository files are removed by "verdi storage maintain".`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNodeDelete(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVarP(&opts.DryRun, "dry-run", "n", false, "list the nodes that would be deleted")
	cmd.Flags().StringToStringVar(&opts.Rules, "rule", nil, "override a traversal rule, e.g. create_forward=false")

	return cmd
}

func runNodeDelete(opts *NodeDeleteOptions, identifiers []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	rules, err := parseRules(opts.Rules)
	if err != nil {
		_ = formatter.Error(ErrCodeInvalidArgs, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid rule", err)
	}

	ctx := cmd.Context()
	b, _, err := openBackend(ctx, opts.RootOptions, cmd, formatter)
	if err != nil {
		return err
	}
	defer closeBackend(b)

	ids, err := resolveNodes(ctx, b, identifiers)
	if err != nil {
		return formatter.Fail("node delete failed", err)
	}
	res, err := b.DeleteNodes(ctx, ids, orm.DeleteOptions{Rules: rules, DryRun: opts.DryRun})
	if err != nil {
		return formatter.Fail("node delete failed", err)
	}

	return formatter.Report(res, func(w io.Writer) {
		verb := "Deleted"
		if !res.Deleted {
			verb = "Would delete"
		}
		fmt.Fprintf(w, "%s %d node(s):", verb, len(res.Nodes))
		for _, id := range res.Nodes {
			fmt.Fprintf(w, " %d", id)
		}
		fmt.Fprintln(w)
	})
}

// resolveNodes turns numeric ids and UUIDs into node ids.
func resolveNodes(ctx context.Context, b *orm.Backend, identifiers []string) ([]int64, error) {
	var ids []int64
	var uuids []string
	for _, s := range identifiers {
		if id, err := strconv.ParseInt(s, 10, 64); err == nil {
			ids = append(ids, id)
		} else {
			uuids = append(uuids, s)
		}
	}

	existing, err := b.Store.ExistingIDs(ctx, entity.TypeNode, ids, b.Batch())
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if _, ok := slices.BinarySearch(existing, id); !ok {
			return nil, fmt.Errorf("node %d: %w", id, store.ErrNotFound)
		}
	}

	found, err := b.Store.LookupIDs(ctx, entity.TypeNode, "uuid", uuids, b.Batch())
	if err != nil {
		return nil, err
	}
	for _, u := range uuids {
		id, ok := found[u]
		if !ok {
			return nil, fmt.Errorf("node %s: %w", u, store.ErrNotFound)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
