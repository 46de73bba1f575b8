package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/aiida/internal/entity"
	"github.com/roach88/aiida/internal/links"
	"github.com/roach88/aiida/internal/query"
	"github.com/roach88/aiida/internal/repository"
	"github.com/roach88/aiida/internal/store"
)

// DuplicateLabelMax bounds the relabelling attempts for a computer or
// group whose label is already taken in the target.
const DuplicateLabelMax = 100

// ImportGroupType is the type_string of groups created by Import.
const ImportGroupType = "core.import"

// Target is the profile an archive is imported into.
type Target struct {
	Store      *store.Store
	Repository repository.Backend
	// UserEmail owns the import group. When empty, the user with the
	// lowest id does.
	UserEmail string
}

// IDMaps translates archive ids to target ids, per entity type.
type IDMaps map[entity.EntityType]map[int64]int64

func (m IDMaps) translate(t entity.EntityType, row entity.Row, column string) error {
	v, ok := row[column]
	if !ok || v == nil {
		return nil
	}
	id, ok := row.Int64(column)
	if !ok {
		return &ImportValidationError{Message: fmt.Sprintf("%s.%s is not an id: %v", t, column, v)}
	}
	target, ok := m[referencedType(column)][id]
	if !ok {
		return &ImportValidationError{Message: fmt.Sprintf("%s.%s references unknown archive id %d", t, column, id)}
	}
	row[column] = target
	return nil
}

func referencedType(column string) entity.EntityType {
	switch column {
	case "user_id", "aiidauser_id":
		return entity.TypeUser
	case "dbcomputer_id":
		return entity.TypeComputer
	case "dbgroup_id":
		return entity.TypeGroup
	default:
		return entity.TypeNode
	}
}

// ImportResult summarises an import.
type ImportResult struct {
	// Created and Existing count the archive entities per type that were
	// inserted or matched to an entity already in the target.
	Created    map[entity.EntityType]int `json:"created"`
	Existing   map[entity.EntityType]int `json:"existing"`
	Links      int                       `json:"links"`
	GroupNodes int                       `json:"group_nodes"`
	// Blobs is the number of repository objects copied, or that would be
	// copied in a test run.
	Blobs           int   `json:"blobs"`
	GroupID         int64 `json:"group_id"`
	ExtrasUpdated   int   `json:"extras_updated"`
	CommentsUpdated int   `json:"comments_updated"`
	// Committed is false for test runs.
	Committed bool `json:"committed"`
}

type transformFunc func(row entity.Row, idm IDMaps, opts ImportOptions) (entity.Row, error)

// importSpec describes how one entity type is merged into the target.
type importSpec struct {
	// field is the uniqueness column. Authinfos have none and are matched
	// on their translated (user, computer) pair.
	field     string
	transform transformFunc
	// relabel makes labels unique in the target before insertion.
	relabel bool
	// existing runs on entities found in both archive and target, with
	// archive ids mapped to target ids.
	existing func(im *importer, ctx context.Context, matched map[int64]int64) error
}

var importOrder = []entity.EntityType{
	entity.TypeUser,
	entity.TypeComputer,
	entity.TypeAuthInfo,
	entity.TypeNode,
	entity.TypeLog,
	entity.TypeComment,
	entity.TypeGroup,
}

var authInfoForeignKeys = foreignKeys(entity.TypeAuthInfo, "aiidauser_id", "dbcomputer_id")

var importSpecs = map[entity.EntityType]importSpec{
	entity.TypeUser:     {field: "email", transform: foreignKeys(entity.TypeUser)},
	entity.TypeComputer: {field: "uuid", transform: foreignKeys(entity.TypeComputer), relabel: true},
	entity.TypeAuthInfo: {transform: authInfoForeignKeys},
	entity.TypeNode:     {field: "uuid", transform: transformNode, existing: (*importer).mergeExtras},
	entity.TypeLog:      {field: "uuid", transform: foreignKeys(entity.TypeLog, "dbnode_id")},
	entity.TypeComment:  {field: "uuid", transform: foreignKeys(entity.TypeComment, "dbnode_id", "user_id"), existing: (*importer).mergeComments},
	entity.TypeGroup:    {field: "uuid", transform: foreignKeys(entity.TypeGroup, "user_id"), relabel: true},
}

// foreignKeys returns a transform for rows of t that drops the archive id
// and translates the given columns.
func foreignKeys(t entity.EntityType, columns ...string) transformFunc {
	return func(row entity.Row, idm IDMaps, _ ImportOptions) (entity.Row, error) {
		out := row.Clone()
		delete(out, "id")
		for _, c := range columns {
			if err := idm.translate(t, out, c); err != nil {
				return nil, err
			}
		}
		return out, nil
	}
}

var nodeForeignKeys = foreignKeys(entity.TypeNode, "user_id", "dbcomputer_id")

func transformNode(row entity.Row, idm IDMaps, opts ImportOptions) (entity.Row, error) {
	out, err := nodeForeignKeys(row, idm, opts)
	if err != nil {
		return nil, err
	}
	extras := map[string]any{}
	if opts.ImportNewExtras {
		for k, v := range out.Map("extras") {
			if !isPrivateExtra(k) {
				extras[k] = v
			}
		}
	}
	out["extras"] = extras
	return out, nil
}

func isPrivateExtra(key string) bool {
	return strings.HasPrefix(key, entity.PrivateExtrasPrefix)
}

// Import merges the archive at path into dst.
//
// Entities already present in the target (by uuid, by email for users,
// by user and computer for authinfos) are reused; archive ids are
// translated to target ids as rows are inserted. Rows, links and group
// memberships are written in one transaction. Repository objects are
// copied before the commit and are not rolled back on failure.
func Import(ctx context.Context, dst Target, path string, opts ImportOptions) (*ImportResult, error) {
	if err := optionsValidate.Struct(opts); err != nil {
		return nil, fmt.Errorf("invalid import options: %w", err)
	}
	policy, err := ParseExtrasPolicy(opts.MergeExtras)
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

	r, err := OpenReader(ctx, path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	objects, err := r.RepositoryBackend().ListObjects(ctx)
	if err != nil {
		return nil, err
	}
	if len(objects) > 0 && r.Metadata().KeyFormat != dst.Repository.KeyFormat() {
		return nil, fmt.Errorf("archive uses %q, target uses %q: %w",
			r.Metadata().KeyFormat, dst.Repository.KeyFormat(), ErrKeyFormatMismatch)
	}

	im := &importer{
		src:    r.Backend(),
		srcRep: r.RepositoryBackend(),
		dst:    dst,
		opts:   opts,
		policy: policy,
		batch:  opts.batch(),
		logger: logger,
		maps:   make(IDMaps),
		res: &ImportResult{
			Created:  make(map[entity.EntityType]int),
			Existing: make(map[entity.EntityType]int),
		},
		labels: make(map[string]struct{}),
	}

	err = dst.Store.InTransaction(ctx, func(tx *store.Store) error {
		im.tx = tx
		if err := im.run(ctx); err != nil {
			return err
		}
		if opts.TestRun {
			return errTestRun
		}
		return nil
	})
	switch {
	case errors.Is(err, errTestRun):
		logger.Info("import test run rolled back")
	case err != nil:
		return nil, err
	default:
		im.res.Committed = true
	}
	logger.Info("import complete",
		"path", path,
		"nodes_created", im.res.Created[entity.TypeNode],
		"nodes_existing", im.res.Existing[entity.TypeNode],
		"links", im.res.Links,
		"committed", im.res.Committed)
	return im.res, nil
}

type importer struct {
	src    *store.Store
	srcRep repository.Backend
	dst    Target
	tx     *store.Store
	opts   ImportOptions
	policy ExtrasPolicy
	batch  store.Batch
	logger *slog.Logger
	maps   IDMaps
	res    *ImportResult

	// labels holds labels assigned during this import, keyed by
	// labelKey.
	labels map[string]struct{}
}

func (im *importer) run(ctx context.Context) error {
	for _, t := range importOrder {
		if t == entity.TypeAuthInfo && !im.opts.IncludeAuthInfos {
			continue
		}
		if err := im.importEntities(ctx, t); err != nil {
			return fmt.Errorf("import %s: %w", t, err)
		}
	}
	if err := im.importGroupNodes(ctx); err != nil {
		return fmt.Errorf("import group members: %w", err)
	}
	for _, lt := range entity.LinkTypes {
		if err := im.importLinks(ctx, lt); err != nil {
			return fmt.Errorf("import %s links: %w", lt, err)
		}
	}
	if err := im.importGroup(ctx); err != nil {
		return fmt.Errorf("import group: %w", err)
	}
	if err := im.importObjects(ctx); err != nil {
		return fmt.Errorf("import objects: %w", err)
	}
	return nil
}

// importEntities merges all archive rows of one type.
func (im *importer) importEntities(ctx context.Context, t entity.EntityType) error {
	spec := importSpecs[t]

	matched, fresh, err := im.match(ctx, t, spec)
	if err != nil {
		return err
	}
	im.maps[t] = make(map[int64]int64, len(matched)+len(fresh))
	maps.Copy(im.maps[t], matched)
	im.res.Existing[t] = len(matched)

	err = im.src.RowsByIDs(ctx, t, "id", fresh, im.batch, func(rows []entity.Row) error {
		out := make([]entity.Row, len(rows))
		for i, row := range rows {
			tr, err := spec.transform(row, im.maps, im.opts)
			if err != nil {
				return err
			}
			if spec.relabel {
				if err := im.relabel(ctx, t, tr); err != nil {
					return err
				}
			}
			out[i] = tr
		}
		ids, err := im.tx.BulkInsert(ctx, t, out, false)
		if err != nil {
			return err
		}
		for i, row := range rows {
			archiveID, _ := row.Int64("id")
			im.maps[t][archiveID] = ids[i]
		}
		return nil
	})
	if err != nil {
		return err
	}
	im.res.Created[t] = len(fresh)
	im.logger.Debug("imported entities", "type", t, "created", len(fresh), "existing", len(matched))

	if spec.existing != nil && len(matched) > 0 {
		return spec.existing(im, ctx, matched)
	}
	return nil
}

// match splits the archive ids of type t into those already present in
// the target, mapped to their target ids, and those to create.
func (im *importer) match(ctx context.Context, t entity.EntityType, spec importSpec) (map[int64]int64, []int64, error) {
	if spec.field == "" {
		return im.matchAuthInfos(ctx)
	}

	keyOf := make(map[int64]string)
	var keys []string
	err := im.src.ScanColumns(ctx, t, []string{"id", spec.field}, nil, im.batch.BatchSize, func(rows []entity.Row) error {
		for _, r := range rows {
			id, _ := r.Int64("id")
			keyOf[id] = r.String(spec.field)
			keys = append(keys, r.String(spec.field))
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("read archive %s keys: %w", t, err)
	}
	found, err := im.tx.LookupIDs(ctx, t, spec.field, keys, im.batch)
	if err != nil {
		return nil, nil, err
	}

	matched := make(map[int64]int64)
	var fresh []int64
	for _, id := range slices.Sorted(maps.Keys(keyOf)) {
		if target, ok := found[keyOf[id]]; ok {
			matched[id] = target
		} else {
			fresh = append(fresh, id)
		}
	}
	return matched, fresh, nil
}

type userComputer struct{ user, computer int64 }

func (im *importer) matchAuthInfos(ctx context.Context) (map[int64]int64, []int64, error) {
	pairOf := make(map[int64]userComputer)
	computers := make(map[int64]struct{})
	err := im.src.ScanColumns(ctx, entity.TypeAuthInfo, []string{"id", "aiidauser_id", "dbcomputer_id"}, nil, im.batch.BatchSize, func(rows []entity.Row) error {
		for _, r := range rows {
			tr, err := authInfoForeignKeys(r, im.maps, im.opts)
			if err != nil {
				return err
			}
			id, _ := r.Int64("id")
			u, _ := tr.Int64("aiidauser_id")
			c, _ := tr.Int64("dbcomputer_id")
			pairOf[id] = userComputer{u, c}
			computers[c] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("read archive authinfos: %w", err)
	}

	existing := make(map[userComputer]int64)
	err = im.tx.ColumnsByIDs(ctx, entity.TypeAuthInfo, []string{"id", "aiidauser_id", "dbcomputer_id"}, "dbcomputer_id",
		slices.Sorted(maps.Keys(computers)), im.batch, func(rows []entity.Row) error {
			for _, r := range rows {
				id, _ := r.Int64("id")
				u, _ := r.Int64("aiidauser_id")
				c, _ := r.Int64("dbcomputer_id")
				existing[userComputer{u, c}] = id
			}
			return nil
		})
	if err != nil {
		return nil, nil, err
	}

	matched := make(map[int64]int64)
	var fresh []int64
	for _, id := range slices.Sorted(maps.Keys(pairOf)) {
		if target, ok := existing[pairOf[id]]; ok {
			matched[id] = target
		} else {
			fresh = append(fresh, id)
		}
	}
	return matched, fresh, nil
}

func labelKey(t entity.EntityType, typeString, label string) string {
	return string(t) + "\x00" + typeString + "\x00" + label
}

// relabel renames a computer or group whose label is taken in the target
// to "<label> (Imported #<n>)".
func (im *importer) relabel(ctx context.Context, t entity.EntityType, row entity.Row) error {
	base := row.String("label")
	typeString := row.String("type_string")
	label, err := im.uniqueLabel(ctx, t, typeString, base, func(n int) string {
		return fmt.Sprintf("%s (Imported #%d)", base, n)
	})
	if err != nil {
		return err
	}
	if label != base {
		im.logger.Info("relabelled imported entity", "type", t, "from", base, "to", label)
	}
	row["label"] = label
	return nil
}

// uniqueLabel returns base if it is free, or the first free variant.
func (im *importer) uniqueLabel(ctx context.Context, t entity.EntityType, typeString, base string, variant func(n int) string) (string, error) {
	label := base
	for n := 0; ; n++ {
		taken, err := im.labelTaken(ctx, t, typeString, label)
		if err != nil {
			return "", err
		}
		if !taken {
			im.labels[labelKey(t, typeString, label)] = struct{}{}
			return label, nil
		}
		if n >= DuplicateLabelMax {
			return "", &ImportUniquenessError{Message: fmt.Sprintf("%s label %q: no free variant after %d attempts", t, base, DuplicateLabelMax)}
		}
		label = variant(n)
	}
}

func (im *importer) labelTaken(ctx context.Context, t entity.EntityType, typeString, label string) (bool, error) {
	if _, ok := im.labels[labelKey(t, typeString, label)]; ok {
		return true, nil
	}
	var filter query.Predicate = query.Equals{Field: "label", Value: label}
	if t == entity.TypeGroup {
		filter = query.And{Predicates: []query.Predicate{filter, query.Equals{Field: "type_string", Value: typeString}}}
	}
	n, err := im.tx.Count(ctx, t, filter)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// mergeExtras applies the extras policy to nodes that already exist.
func (im *importer) mergeExtras(ctx context.Context, matched map[int64]int64) error {
	incoming := make(map[int64]map[string]any, len(matched))
	err := im.src.ColumnsByIDs(ctx, entity.TypeNode, []string{"id", "extras"}, "id", slices.Sorted(maps.Keys(matched)), im.batch, func(rows []entity.Row) error {
		for _, r := range rows {
			id, _ := r.Int64("id")
			incoming[matched[id]] = r.Map("extras")
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("read archive extras: %w", err)
	}

	updates := make(map[int64]map[string]any)
	err = im.tx.ColumnsByIDs(ctx, entity.TypeNode, []string{"id", "extras"}, "id", slices.Sorted(maps.Keys(incoming)), im.batch, func(rows []entity.Row) error {
		for _, r := range rows {
			id, _ := r.Int64("id")
			old := r.Map("extras")
			merged := im.policy.Merge(old, incoming[id])
			same, err := sameJSON(old, merged)
			if err != nil {
				return err
			}
			if !same {
				updates[id] = merged
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, id := range slices.Sorted(maps.Keys(updates)) {
		if err := im.tx.UpdateColumns(ctx, entity.TypeNode, id, entity.Row{"extras": updates[id]}); err != nil {
			return err
		}
	}
	im.res.ExtrasUpdated = len(updates)
	return nil
}

func sameJSON(a, b map[string]any) (bool, error) {
	if a == nil {
		a = map[string]any{}
	}
	ja, err := entity.MarshalCanonical(a)
	if err != nil {
		return false, err
	}
	jb, err := entity.MarshalCanonical(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(ja, jb), nil
}

// mergeComments applies the comment policy to comments that already
// exist.
func (im *importer) mergeComments(ctx context.Context, matched map[int64]int64) error {
	if im.opts.MergeComments == CommentsLeave {
		return nil
	}

	type version struct {
		content string
		mtime   time.Time
	}
	incoming := make(map[int64]version, len(matched))
	cols := []string{"id", "content", "mtime"}
	err := im.src.ColumnsByIDs(ctx, entity.TypeComment, cols, "id", slices.Sorted(maps.Keys(matched)), im.batch, func(rows []entity.Row) error {
		for _, r := range rows {
			id, _ := r.Int64("id")
			mtime, _ := r.Time("mtime")
			incoming[matched[id]] = version{r.String("content"), mtime}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("read archive comments: %w", err)
	}

	var update []int64
	err = im.tx.ColumnsByIDs(ctx, entity.TypeComment, cols, "id", slices.Sorted(maps.Keys(incoming)), im.batch, func(rows []entity.Row) error {
		for _, r := range rows {
			id, _ := r.Int64("id")
			mtime, _ := r.Time("mtime")
			in := incoming[id]
			if in.content == r.String("content") && in.mtime.Equal(mtime) {
				continue
			}
			if im.opts.MergeComments == CommentsOverwrite || in.mtime.After(mtime) {
				update = append(update, id)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, id := range update {
		in := incoming[id]
		if err := im.tx.UpdateColumns(ctx, entity.TypeComment, id, entity.Row{"content": in.content, "mtime": in.mtime}); err != nil {
			return err
		}
	}
	im.res.CommentsUpdated = len(update)
	return nil
}

type groupMember struct{ group, node int64 }

// importGroupNodes adds archive group memberships that the target lacks.
func (im *importer) importGroupNodes(ctx context.Context) error {
	var pairs []groupMember
	groups := make(map[int64]struct{})
	err := im.src.ScanColumns(ctx, entity.TypeGroupNode, []string{"dbgroup_id", "dbnode_id"}, nil, im.batch.BatchSize, func(rows []entity.Row) error {
		for _, r := range rows {
			tr := r.Clone()
			for _, c := range []string{"dbgroup_id", "dbnode_id"} {
				if err := im.maps.translate(entity.TypeGroupNode, tr, c); err != nil {
					return err
				}
			}
			g, _ := tr.Int64("dbgroup_id")
			n, _ := tr.Int64("dbnode_id")
			pairs = append(pairs, groupMember{g, n})
			groups[g] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return err
	}

	n, err := im.addMembers(ctx, slices.Sorted(maps.Keys(groups)), pairs)
	im.res.GroupNodes = n
	return err
}

// addMembers inserts the memberships in pairs that do not exist yet.
// groups lists every group referenced by pairs.
func (im *importer) addMembers(ctx context.Context, groups []int64, pairs []groupMember) (int, error) {
	present := make(map[groupMember]struct{})
	err := im.tx.ColumnsByIDs(ctx, entity.TypeGroupNode, []string{"dbgroup_id", "dbnode_id"}, "dbgroup_id", groups, im.batch, func(rows []entity.Row) error {
		for _, r := range rows {
			g, _ := r.Int64("dbgroup_id")
			n, _ := r.Int64("dbnode_id")
			present[groupMember{g, n}] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	var rows []entity.Row
	for _, p := range pairs {
		if _, ok := present[p]; ok {
			continue
		}
		present[p] = struct{}{}
		rows = append(rows, entity.Row{"dbgroup_id": p.group, "dbnode_id": p.node})
	}
	for _, chunk := range store.Chunk(rows, im.batch.BatchSize) {
		if _, err := im.tx.BulkInsert(ctx, entity.TypeGroupNode, chunk, false); err != nil {
			return 0, err
		}
	}
	return len(rows), nil
}

// importLinks adds the archive links of one type, checked against the
// links the target already has.
func (im *importer) importLinks(ctx context.Context, lt entity.LinkType) error {
	var incoming []entity.Link
	involved := make(map[int64]struct{})
	filter := query.Equals{Field: "type", Value: string(lt)}
	err := im.src.Scan(ctx, entity.TypeLink, filter, im.batch.BatchSize, func(rows []entity.Row) error {
		archived, err := store.RowsToLinks(rows)
		if err != nil {
			return err
		}
		for _, l := range archived {
			in, ok1 := im.maps[entity.TypeNode][l.InputID]
			out, ok2 := im.maps[entity.TypeNode][l.OutputID]
			if !ok1 || !ok2 {
				return &ImportValidationError{Message: fmt.Sprintf("link %s references a node missing from the archive", l)}
			}
			l.InputID, l.OutputID = in, out
			incoming = append(incoming, l)
			involved[in] = struct{}{}
			involved[out] = struct{}{}
		}
		return nil
	})
	if err != nil || len(incoming) == 0 {
		return err
	}

	ids := slices.Sorted(maps.Keys(involved))
	ledger := links.NewLedger[int64]()
	seed := func(existing []entity.Link) error {
		for _, l := range existing {
			if e := links.EdgeFromLink(l); !ledger.Contains(e) {
				ledger.Add(e)
			}
		}
		return nil
	}
	types := []entity.LinkType{lt}
	if err := im.tx.LinksOf(ctx, ids, store.Outgoing, types, im.batch, seed); err != nil {
		return err
	}
	if err := im.tx.LinksOf(ctx, ids, store.Incoming, types, im.batch, seed); err != nil {
		return err
	}
	nodeTypes, err := im.tx.NodeTypes(ctx, ids, im.batch)
	if err != nil {
		return err
	}

	var accepted []entity.Link
	for _, l := range incoming {
		e := links.EdgeFromLink(l)
		if ledger.Contains(e) {
			continue
		}
		err := links.ValidateLinkLabel(l.Label)
		if err == nil {
			err = links.CheckCompatible(lt, nodeTypes[l.InputID], nodeTypes[l.OutputID])
		}
		if err == nil {
			err = ledger.CheckAndAdd(e)
		}
		if err != nil {
			return &ImportValidationError{Message: fmt.Sprintf("link %s", l), Err: err}
		}
		accepted = append(accepted, l)
	}
	for _, chunk := range store.Chunk(accepted, im.batch.BatchSize) {
		if err := im.tx.InsertLinks(ctx, chunk); err != nil {
			return err
		}
	}
	im.res.Links += len(accepted)
	return nil
}

// importGroup collects every imported node in the import group.
func (im *importer) importGroup(ctx context.Context) error {
	nodeMap := im.maps[entity.TypeNode]
	if len(nodeMap) == 0 || (!im.opts.CreateGroup && im.opts.Group == 0) {
		return nil
	}

	gid := im.opts.Group
	if gid != 0 {
		if _, err := im.tx.Get(ctx, entity.TypeGroup, gid); err != nil {
			return &ImportValidationError{Message: fmt.Sprintf("import group %d", gid), Err: err}
		}
	} else {
		var err error
		if gid, err = im.createImportGroup(ctx); err != nil {
			return err
		}
	}

	pairs := make([]groupMember, 0, len(nodeMap))
	for _, archiveID := range slices.Sorted(maps.Keys(nodeMap)) {
		pairs = append(pairs, groupMember{gid, nodeMap[archiveID]})
	}
	if _, err := im.addMembers(ctx, []int64{gid}, pairs); err != nil {
		return err
	}
	im.res.GroupID = gid
	return nil
}

func (im *importer) createImportGroup(ctx context.Context) (int64, error) {
	owner, err := im.groupOwner(ctx)
	if err != nil {
		return 0, err
	}
	now := im.opts.Now().UTC()
	base := now.Format("20060102-150405")
	label, err := im.uniqueLabel(ctx, entity.TypeGroup, ImportGroupType, base, func(n int) string {
		return fmt.Sprintf("%s_%d", base, n+1)
	})
	if err != nil {
		return 0, err
	}
	ids, err := im.tx.BulkInsert(ctx, entity.TypeGroup, []entity.Row{{
		"uuid":        uuid.NewString(),
		"label":       label,
		"type_string": ImportGroupType,
		"time":        now,
		"description": "Nodes imported from an archive",
		"user_id":     owner,
	}}, true)
	if err != nil {
		return 0, err
	}
	im.logger.Info("created import group", "label", label, "id", ids[0])
	return ids[0], nil
}

func (im *importer) groupOwner(ctx context.Context) (int64, error) {
	if im.dst.UserEmail != "" {
		row, ok, err := im.tx.FindBy(ctx, entity.TypeUser, "email", im.dst.UserEmail)
		if err != nil {
			return 0, err
		}
		if ok {
			id, _ := row.Int64("id")
			return id, nil
		}
		ids, err := im.tx.BulkInsert(ctx, entity.TypeUser, []entity.Row{{"email": im.dst.UserEmail}}, true)
		if err != nil {
			return 0, err
		}
		return ids[0], nil
	}
	ids, err := im.tx.IDs(ctx, entity.TypeUser, nil, 1)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, &ImportValidationError{Message: "no user to own the import group"}
	}
	return ids[0], nil
}

// importObjects copies the repository objects referenced by the archive
// nodes that the target does not have yet.
func (im *importer) importObjects(ctx context.Context) error {
	referenced := make(map[string]struct{})
	err := im.src.ScanColumns(ctx, entity.TypeNode, []string{"id", "repository_metadata"}, nil, im.batch.BatchSize, func(rows []entity.Row) error {
		for _, r := range rows {
			keys, err := repository.Keys(r.Map("repository_metadata"))
			if err != nil {
				id, _ := r.Int64("id")
				return &ImportValidationError{Message: fmt.Sprintf("repository metadata of archive node %d", id), Err: err}
			}
			for _, k := range keys {
				referenced[k] = struct{}{}
			}
		}
		return nil
	})
	if err != nil || len(referenced) == 0 {
		return err
	}

	keys := slices.Sorted(maps.Keys(referenced))
	has, err := im.dst.Repository.HasObjects(ctx, keys)
	if err != nil {
		return err
	}
	var missing []string
	for i, k := range keys {
		if !has[i] {
			missing = append(missing, k)
		}
	}
	im.res.Blobs = len(missing)
	if im.opts.TestRun || len(missing) == 0 {
		return nil
	}

	err = im.srcRep.IterObjectStreams(ctx, missing, func(key string, r io.Reader) error {
		got, err := im.dst.Repository.PutObjectFromFilelike(ctx, r)
		if err != nil {
			return err
		}
		if got != key {
			return &ImportValidationError{Message: fmt.Sprintf("object %s was stored under key %s", key, got)}
		}
		return nil
	})
	if err != nil {
		return err
	}
	im.logger.Info("imported repository objects", "count", len(missing))
	return nil
}
