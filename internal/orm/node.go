package orm

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/aiida/internal/entity"
	"github.com/roach88/aiida/internal/links"
	"github.com/roach88/aiida/internal/repository"
	"github.com/roach88/aiida/internal/store"
)

// ErrStored is returned when modifying the immutable part of a stored
// node.
var ErrStored = errors.New("node is already stored")

// Node is a provenance node. It is built in memory, collects its incoming
// links and is written together with them by StoreNode.
type Node struct {
	ID          int64
	UUID        string
	NodeType    string
	ProcessType string
	Label       string
	Description string
	Attributes  map[string]any
	Extras      map[string]any
	UserID      int64
	// ComputerID is 0 for nodes that did not run on a computer.
	ComputerID int64
	// Repository holds the node files. It is serialized into the node row
	// on store.
	Repository *repository.Repository

	backend  *Backend
	incoming []incomingLink
}

type incomingLink struct {
	source *Node
	typ    entity.LinkType
	label  string
}

// NewNode returns an unstored node of the given node_type owned by
// userID.
func (b *Backend) NewNode(nodeType string, userID int64) *Node {
	return &Node{
		UUID:       b.newUUID(),
		NodeType:   nodeType,
		Attributes: map[string]any{},
		Extras:     map[string]any{},
		UserID:     userID,
		Repository: repository.New(b.Repository),
		backend:    b,
	}
}

// Stored reports whether the node has been written.
func (n *Node) Stored() bool { return n.ID > 0 }

func (n *Node) endpoint() *links.Endpoint {
	return &links.Endpoint{ID: n.ID, UUID: n.UUID, NodeType: n.NodeType}
}

// pending returns the first k incoming links as seen by the validator.
func (n *Node) pending(k int) []links.PendingLink {
	out := make([]links.PendingLink, 0, k)
	target := n.endpoint()
	for _, l := range n.incoming[:k] {
		out = append(out, links.PendingLink{Source: l.source.endpoint(), Target: target, Type: l.typ, Label: l.label})
	}
	return out
}

// AddIncoming records a link from source to n. The link is validated
// against the stored graph and the links already pending on n, and is
// written when n is stored.
func (n *Node) AddIncoming(ctx context.Context, source *Node, lt entity.LinkType, label string) error {
	if n.Stored() {
		return fmt.Errorf("add incoming link: %w", ErrStored)
	}
	if source == nil {
		return n.backend.Validator().ValidateLink(ctx, nil, n.endpoint(), lt, label, nil)
	}
	err := n.backend.Validator().ValidateLink(ctx, source.endpoint(), n.endpoint(), lt, label, n.pending(len(n.incoming)))
	if err != nil {
		return err
	}
	n.incoming = append(n.incoming, incomingLink{source: source, typ: lt, label: label})
	return nil
}

// StoreNode writes n and its pending incoming links. Every link is
// validated again before anything is written; the sources must be
// stored already.
func (b *Backend) StoreNode(ctx context.Context, n *Node) error {
	if n.Stored() {
		return fmt.Errorf("store node %s: %w", n.UUID, ErrStored)
	}

	v := b.Validator()
	for i, l := range n.incoming {
		if !l.source.Stored() {
			return fmt.Errorf("store node %s: source node %s of %s link %q is not stored", n.UUID, l.source.UUID, l.typ, l.label)
		}
		if err := v.ValidateLink(ctx, l.source.endpoint(), n.endpoint(), l.typ, l.label, n.pending(i)); err != nil {
			return fmt.Errorf("store node %s: %w", n.UUID, err)
		}
	}

	now := b.Now()
	row := entity.Row{
		"uuid":                n.UUID,
		"node_type":           n.NodeType,
		"label":               n.Label,
		"description":         n.Description,
		"ctime":               now,
		"mtime":               now,
		"attributes":          nonNil(n.Attributes),
		"extras":              nonNil(n.Extras),
		"repository_metadata": n.Repository.Serialize(),
		"user_id":             n.UserID,
	}
	if n.ProcessType != "" {
		row["process_type"] = n.ProcessType
	}
	if n.ComputerID != 0 {
		row["dbcomputer_id"] = n.ComputerID
	}

	err := b.Store.InTransaction(ctx, func(tx *store.Store) error {
		ids, err := tx.BulkInsert(ctx, entity.TypeNode, []entity.Row{row}, true)
		if err != nil {
			return err
		}
		out := make([]entity.Link, len(n.incoming))
		for i, l := range n.incoming {
			out[i] = entity.Link{InputID: l.source.ID, OutputID: ids[0], Type: l.typ, Label: l.label}
		}
		if err := tx.InsertLinks(ctx, out); err != nil {
			return err
		}
		n.ID = ids[0]
		return nil
	})
	if err != nil {
		return fmt.Errorf("store node %s: %w", n.UUID, err)
	}
	n.incoming = nil
	b.logger.Debug("stored node", "id", n.ID, "uuid", n.UUID, "node_type", n.NodeType)
	return nil
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// Seal marks a process node as finished. Stored nodes are updated in
// place.
func (b *Backend) Seal(ctx context.Context, n *Node) error {
	if !entity.ClassifyNode(n.NodeType).IsProcess() {
		return fmt.Errorf("seal node %s: %s is not a process", n.UUID, n.NodeType)
	}
	n.Attributes = nonNil(n.Attributes)
	n.Attributes[entity.AttrSealed] = true
	if !n.Stored() {
		return nil
	}
	err := b.Store.UpdateColumns(ctx, entity.TypeNode, n.ID, entity.Row{"attributes": n.Attributes, "mtime": b.Now()})
	if err != nil {
		return fmt.Errorf("seal node %s: %w", n.UUID, err)
	}
	return nil
}

// SetExtras replaces the extras of a stored node. Extras stay mutable
// after storing.
func (b *Backend) SetExtras(ctx context.Context, nodeID int64, extras map[string]any) error {
	err := b.Store.UpdateColumns(ctx, entity.TypeNode, nodeID, entity.Row{"extras": nonNil(extras), "mtime": b.Now()})
	if err != nil {
		return fmt.Errorf("set extras of node %d: %w", nodeID, err)
	}
	return nil
}

// LoadRepository returns the file hierarchy of a stored node.
func (b *Backend) LoadRepository(ctx context.Context, nodeID int64) (*repository.Repository, error) {
	row, err := b.Store.Get(ctx, entity.TypeNode, nodeID)
	if err != nil {
		return nil, fmt.Errorf("load repository of node %d: %w", nodeID, err)
	}
	return repository.NewFromSerialized(b.Repository, row.Map("repository_metadata"))
}
