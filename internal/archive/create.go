package archive

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"
	"time"

	"github.com/roach88/aiida/internal/entity"
	"github.com/roach88/aiida/internal/graph"
	"github.com/roach88/aiida/internal/repository"
	"github.com/roach88/aiida/internal/store"
)

// Source is the profile an archive is created from.
type Source struct {
	Store      *store.Store
	Repository repository.Backend
}

// CreateResult summarises an export.
type CreateResult struct {
	Path string `json:"path"`
	// Counts holds the number of exported entities per type.
	Counts     map[entity.EntityType]int `json:"counts"`
	Links      int                       `json:"links"`
	GroupNodes int                       `json:"group_nodes"`
	BlobKeys   int                       `json:"blob_keys"`
	// Written is false for test runs.
	Written bool `json:"written"`
}

// exportSet collects the ids selected for export, per entity type.
type exportSet struct {
	ids      map[entity.EntityType]graph.IDSet
	links    []entity.Link
	blobKeys map[string]struct{}
}

func newExportSet() *exportSet {
	s := &exportSet{ids: make(map[entity.EntityType]graph.IDSet), blobKeys: make(map[string]struct{})}
	for _, t := range entity.EntityTypes {
		s.ids[t] = graph.IDSet{}
	}
	return s
}

func (s *exportSet) add(t entity.EntityType, ids ...int64) {
	for _, id := range ids {
		s.ids[t][id] = struct{}{}
	}
}

// Create writes an archive of the entities selected by opts to path.
//
// The selection starts from opts.Entities (or everything), expands
// groups to their nodes, closes the node set under the export traversal
// rules and pulls in the computers, users, logs, comments and authinfos
// the nodes depend on. The source is never modified, and path is only
// written once all content has been collected.
func Create(ctx context.Context, src Source, path string, opts CreateOptions) (*CreateResult, error) {
	if !opts.Overwrite {
		if _, err := os.Stat(path); err == nil {
			return nil, fmt.Errorf("%s: %w", path, ErrArchiveExists)
		}
	}
	if err := optionsValidate.Struct(opts); err != nil {
		return nil, fmt.Errorf("invalid create options: %w", err)
	}
	rules, err := graph.ResolveRules(graph.ContextExport, opts.Rules)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	c := &creator{src: src, opts: opts, batch: opts.batch(), logger: logger, rules: rules, set: newExportSet()}
	if err := c.collect(ctx); err != nil {
		return nil, err
	}

	res := c.result(path)
	logger.Info("export selection complete",
		"nodes", res.Counts[entity.TypeNode],
		"links", res.Links,
		"blobs", res.BlobKeys)
	if opts.TestRun {
		return res, nil
	}

	if err := c.write(ctx, path); err != nil {
		return nil, err
	}
	res.Written = true
	res.GroupNodes = c.groupNodes
	return res, nil
}

type creator struct {
	src    Source
	opts   CreateOptions
	batch  store.Batch
	logger *slog.Logger
	rules  graph.Rules
	set    *exportSet

	startingSet map[string]any
	groupNodes  int
}

// collect runs the selection and validation stages.
func (c *creator) collect(ctx context.Context) error {
	if err := c.resolveStart(ctx); err != nil {
		return err
	}
	if err := c.expandGroups(ctx); err != nil {
		return err
	}

	tr := graph.NewTraverser(c.src.Store, c.batch)
	closure, err := tr.Traverse(ctx, c.set.ids[entity.TypeNode].Sorted(), c.rules, true)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	c.set.ids[entity.TypeNode] = closure.Nodes
	c.set.links = closure.Links.Sorted()

	if err := c.scanNodes(ctx); err != nil {
		return err
	}
	return c.collectDependents(ctx)
}

// resolveStart fills the id sets from the starting entities.
func (c *creator) resolveStart(ctx context.Context) error {
	type start struct {
		t      entity.EntityType
		field  string
		values []string
	}

	if c.opts.Entities == nil {
		for _, t := range []entity.EntityType{entity.TypeUser, entity.TypeComputer, entity.TypeGroup, entity.TypeNode} {
			ids, err := c.src.Store.IDs(ctx, t, nil, c.batch.BatchSize)
			if err != nil {
				return fmt.Errorf("export: list %s: %w", t, err)
			}
			c.set.add(t, ids...)
		}
		return nil
	}

	e := c.opts.Entities
	starts := []start{
		{entity.TypeUser, "email", e.UserEmails},
		{entity.TypeComputer, "uuid", e.ComputerUUIDs},
		{entity.TypeGroup, "uuid", e.GroupUUIDs},
		{entity.TypeNode, "uuid", e.NodeUUIDs},
	}
	c.startingSet = make(map[string]any, len(starts))
	for _, s := range starts {
		values := slices.Sorted(slices.Values(s.values))
		values = slices.Compact(values)
		c.startingSet[string(s.t)] = values

		found, err := c.src.Store.LookupIDs(ctx, s.t, s.field, values, c.batch)
		if err != nil {
			return fmt.Errorf("export: resolve %s: %w", s.t, err)
		}
		for _, v := range values {
			id, ok := found[v]
			if !ok {
				return &ExportValidationError{Message: fmt.Sprintf("%s %q does not exist", s.t, v)}
			}
			c.set.add(s.t, id)
		}
	}
	return nil
}

// expandGroups adds the members of the selected groups to the node set.
func (c *creator) expandGroups(ctx context.Context) error {
	groups := c.set.ids[entity.TypeGroup].Sorted()
	err := c.src.Store.ColumnsByIDs(ctx, entity.TypeGroupNode, []string{"dbnode_id"}, "dbgroup_id", groups, c.batch, func(rows []entity.Row) error {
		for _, r := range rows {
			id, _ := r.Int64("dbnode_id")
			c.set.add(entity.TypeNode, id)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("export: group members: %w", err)
	}
	return nil
}

var nodeScanColumns = []string{"id", "uuid", "node_type", "attributes", "repository_metadata", "user_id", "dbcomputer_id"}

// scanNodes reads the selected nodes once to derive computers, users and
// blob keys, and to validate sealing and licenses.
func (c *creator) scanNodes(ctx context.Context) error {
	var unsealed []int64
	err := c.src.Store.ColumnsByIDs(ctx, entity.TypeNode, nodeScanColumns, "id", c.set.ids[entity.TypeNode].Sorted(), c.batch, func(rows []entity.Row) error {
		for _, r := range rows {
			id, _ := r.Int64("id")
			if uid, ok := r.Int64("user_id"); ok {
				c.set.add(entity.TypeUser, uid)
			}
			if cid, ok := r.Int64("dbcomputer_id"); ok {
				c.set.add(entity.TypeComputer, cid)
			}

			attrs := r.Map("attributes")
			switch class := entity.ClassifyNode(r.String("node_type")); {
			case class.IsProcess():
				if sealed, _ := attrs[entity.AttrSealed].(bool); !sealed {
					unsealed = append(unsealed, id)
				}
			case class == entity.ClassData:
				if err := c.checkLicense(id, r.String("uuid"), attrs); err != nil {
					return err
				}
			}

			keys, err := repository.Keys(r.Map("repository_metadata"))
			if err != nil {
				return fmt.Errorf("node %d: %w", id, err)
			}
			for _, k := range keys {
				c.set.blobKeys[k] = struct{}{}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("export: scan nodes: %w", err)
	}
	if len(unsealed) > 0 {
		return &ExportValidationError{Message: "process nodes are not sealed", NodeIDs: unsealed}
	}
	return nil
}

func (c *creator) checkLicense(id int64, uuid string, attrs map[string]any) error {
	source, _ := attrs[entity.AttrSource].(map[string]any)
	license, _ := source[entity.AttrLicense].(string)
	if license == "" {
		return nil
	}
	if c.opts.AllowedLicenses != nil && !c.opts.AllowedLicenses(license) {
		return &LicensingError{NodeID: id, UUID: uuid, License: license, Reason: "not in the allowed licenses"}
	}
	if c.opts.ForbiddenLicenses != nil && c.opts.ForbiddenLicenses(license) {
		return &LicensingError{NodeID: id, UUID: uuid, License: license, Reason: "in the forbidden licenses"}
	}
	return nil
}

// collectDependents adds authinfos, logs and comments, and the owners of
// everything selected so far.
func (c *creator) collectDependents(ctx context.Context) error {
	nodes := c.set.ids[entity.TypeNode].Sorted()

	type dependent struct {
		include bool
		t       entity.EntityType
		owner   string
		field   string
		keys    []int64
	}
	deps := []dependent{
		{c.opts.IncludeAuthInfos, entity.TypeAuthInfo, "aiidauser_id", "dbcomputer_id", c.set.ids[entity.TypeComputer].Sorted()},
		{c.opts.IncludeLogs, entity.TypeLog, "", "dbnode_id", nodes},
		{c.opts.IncludeComments, entity.TypeComment, "user_id", "dbnode_id", nodes},
		{true, entity.TypeGroup, "user_id", "id", c.set.ids[entity.TypeGroup].Sorted()},
	}
	for _, d := range deps {
		if !d.include {
			continue
		}
		columns := []string{"id"}
		if d.owner != "" {
			columns = append(columns, d.owner)
		}
		err := c.src.Store.ColumnsByIDs(ctx, d.t, columns, d.field, d.keys, c.batch, func(rows []entity.Row) error {
			for _, r := range rows {
				id, _ := r.Int64("id")
				c.set.add(d.t, id)
				if d.owner != "" {
					uid, _ := r.Int64(d.owner)
					c.set.add(entity.TypeUser, uid)
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("export: collect %s: %w", d.t, err)
		}
	}
	return nil
}

func (c *creator) result(path string) *CreateResult {
	res := &CreateResult{
		Path:     path,
		Counts:   make(map[entity.EntityType]int),
		Links:    len(c.set.links),
		BlobKeys: len(c.set.blobKeys),
	}
	for _, t := range entity.EntityTypes {
		if t == entity.TypeLink || t == entity.TypeGroupNode {
			continue
		}
		res.Counts[t] = len(c.set.ids[t])
	}
	return res
}

// exportOrder is the order in which rows are copied into the snapshot.
var exportOrder = []entity.EntityType{
	entity.TypeUser,
	entity.TypeComputer,
	entity.TypeAuthInfo,
	entity.TypeNode,
	entity.TypeLog,
	entity.TypeComment,
	entity.TypeGroup,
}

// write copies the selection into a new archive at path.
func (c *creator) write(ctx context.Context, path string) error {
	w, err := OpenWriter(path, WriterOptions{
		Mode:             ModeWrite,
		Overwrite:        c.opts.Overwrite,
		CompressionLevel: c.opts.CompressionLevel,
		KeyFormat:        c.src.Repository.KeyFormat(),
		Logger:           c.logger,
		Now:              c.opts.Now,
	})
	if err != nil {
		return err
	}
	if err := c.fill(ctx, w); err != nil {
		w.Abort()
		return err
	}
	return w.Close()
}

func (c *creator) fill(ctx context.Context, w *Writer) error {
	for _, t := range exportOrder {
		err := c.src.Store.RowsByIDs(ctx, t, "id", c.set.ids[t].Sorted(), c.batch, func(rows []entity.Row) error {
			if t == entity.TypeNode && c.opts.StripCheckpoints {
				rows = stripCheckpoints(rows)
			}
			_, err := w.BulkInsert(ctx, t, rows, false)
			return err
		})
		if err != nil {
			return fmt.Errorf("export %s: %w", t, err)
		}
		c.logger.Debug("exported rows", "type", t, "count", len(c.set.ids[t]))
	}

	groupNodes, err := c.copyGroupNodes(ctx, w)
	if err != nil {
		return err
	}
	c.groupNodes = groupNodes

	for _, chunk := range store.Chunk(c.set.links, c.batch.BatchSize) {
		rows := make([]entity.Row, len(chunk))
		for i, l := range chunk {
			rows[i] = entity.Row{"input_id": l.InputID, "output_id": l.OutputID, "type": string(l.Type), "label": l.Label}
		}
		if _, err := w.BulkInsert(ctx, entity.TypeLink, rows, true); err != nil {
			return fmt.Errorf("export links: %w", err)
		}
	}

	counts := make(map[string]any)
	for _, t := range exportOrder {
		counts[string(t)] = len(c.set.ids[t])
	}
	counts[string(entity.TypeLink)] = len(c.set.links)
	counts[string(entity.TypeGroupNode)] = groupNodes
	params := map[string]any{
		"entities_starting_set": c.startingSet,
		"include_comments":      c.opts.IncludeComments,
		"include_logs":          c.opts.IncludeLogs,
		"include_authinfos":     c.opts.IncludeAuthInfos,
		"graph_traversal_rules": c.rules.AsMap(),
		"strip_checkpoints":     c.opts.StripCheckpoints,
	}
	if err := w.UpdateMetadata(map[string]any{"creation_parameters": params, "entities": counts}, false); err != nil {
		return err
	}

	keys := slices.Sorted(maps.Keys(c.set.blobKeys))
	err = c.src.Repository.IterObjectStreams(ctx, keys, func(key string, r io.Reader) error {
		_, err := w.PutObject(r, key)
		return err
	})
	if err != nil {
		return fmt.Errorf("export objects: %w", err)
	}
	c.logger.Info("exported repository objects", "count", len(keys))
	return nil
}

// copyGroupNodes copies the membership rows of the selected groups.
func (c *creator) copyGroupNodes(ctx context.Context, w *Writer) (int, error) {
	nodes := c.set.ids[entity.TypeNode]
	total := 0
	err := c.src.Store.RowsByIDs(ctx, entity.TypeGroupNode, "dbgroup_id", c.set.ids[entity.TypeGroup].Sorted(), c.batch, func(rows []entity.Row) error {
		kept := rows[:0]
		for _, r := range rows {
			if id, _ := r.Int64("dbnode_id"); nodes.Has(id) {
				kept = append(kept, r)
			}
		}
		total += len(kept)
		_, err := w.BulkInsert(ctx, entity.TypeGroupNode, kept, false)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("export group members: %w", err)
	}
	return total, nil
}

// stripCheckpoints removes serialized execution state from process nodes.
func stripCheckpoints(rows []entity.Row) []entity.Row {
	out := make([]entity.Row, len(rows))
	for i, r := range rows {
		if !entity.ClassifyNode(r.String("node_type")).IsProcess() {
			out[i] = r
			continue
		}
		attrs := r.Map("attributes")
		if _, ok := attrs[entity.AttrCheckpoints]; !ok {
			out[i] = r
			continue
		}
		r = r.Clone()
		delete(r.Map("attributes"), entity.AttrCheckpoints)
		out[i] = r
	}
	return out
}
