package orm

import (
	"context"
	"fmt"

	"github.com/roach88/aiida/internal/entity"
)

// CreateUser adds a user, or returns the id of the user with that email.
func (b *Backend) CreateUser(ctx context.Context, email, firstName, lastName, institution string) (int64, error) {
	row, ok, err := b.Store.FindBy(ctx, entity.TypeUser, "email", email)
	if err != nil {
		return 0, fmt.Errorf("create user: %w", err)
	}
	if ok {
		id, _ := row.Int64("id")
		return id, nil
	}
	id, err := b.insert(ctx, entity.TypeUser, entity.Row{
		"email":       email,
		"first_name":  firstName,
		"last_name":   lastName,
		"institution": institution,
	})
	if err != nil {
		return 0, fmt.Errorf("create user %s: %w", email, err)
	}
	return id, nil
}

// Computer describes a new computer.
type Computer struct {
	Label         string
	Hostname      string
	Description   string
	SchedulerType string
	TransportType string
	Metadata      map[string]any
}

// CreateComputer adds a computer.
func (b *Backend) CreateComputer(ctx context.Context, c Computer) (Ref, error) {
	ref := Ref{UUID: b.newUUID()}
	row := entity.Row{
		"uuid":           ref.UUID,
		"label":          c.Label,
		"hostname":       c.Hostname,
		"description":    c.Description,
		"scheduler_type": c.SchedulerType,
		"transport_type": c.TransportType,
	}
	if c.Metadata != nil {
		row["metadata"] = c.Metadata
	}
	id, err := b.insert(ctx, entity.TypeComputer, row)
	if err != nil {
		return Ref{}, fmt.Errorf("create computer %s: %w", c.Label, err)
	}
	ref.ID = id
	return ref, nil
}

// CreateAuthInfo configures access of a user to a computer.
func (b *Backend) CreateAuthInfo(ctx context.Context, userID, computerID int64, authParams map[string]any) (int64, error) {
	row := entity.Row{"aiidauser_id": userID, "dbcomputer_id": computerID}
	if authParams != nil {
		row["auth_params"] = authParams
	}
	id, err := b.insert(ctx, entity.TypeAuthInfo, row)
	if err != nil {
		return 0, fmt.Errorf("create authinfo: %w", err)
	}
	return id, nil
}

// CreateGroup adds an empty group of type "core".
func (b *Backend) CreateGroup(ctx context.Context, label, description string, userID int64) (Ref, error) {
	ref := Ref{UUID: b.newUUID()}
	id, err := b.insert(ctx, entity.TypeGroup, entity.Row{
		"uuid":        ref.UUID,
		"label":       label,
		"time":        b.Now(),
		"description": description,
		"user_id":     userID,
	})
	if err != nil {
		return Ref{}, fmt.Errorf("create group %s: %w", label, err)
	}
	ref.ID = id
	return ref, nil
}

// AddNodesToGroup adds stored nodes to a group. Nodes already in the
// group are skipped.
func (b *Backend) AddNodesToGroup(ctx context.Context, groupID int64, nodeIDs ...int64) error {
	present := make(map[int64]bool)
	err := b.Store.ColumnsByIDs(ctx, entity.TypeGroupNode, []string{"dbnode_id"}, "dbgroup_id", []int64{groupID}, b.batch, func(rows []entity.Row) error {
		for _, r := range rows {
			id, _ := r.Int64("dbnode_id")
			present[id] = true
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("add nodes to group %d: %w", groupID, err)
	}

	var rows []entity.Row
	for _, id := range nodeIDs {
		if present[id] {
			continue
		}
		present[id] = true
		rows = append(rows, entity.Row{"dbgroup_id": groupID, "dbnode_id": id})
	}
	if _, err := b.Store.BulkInsert(ctx, entity.TypeGroupNode, rows, false); err != nil {
		return fmt.Errorf("add nodes to group %d: %w", groupID, err)
	}
	return nil
}

// AddComment attaches a comment to a stored node.
func (b *Backend) AddComment(ctx context.Context, nodeID, userID int64, content string) (Ref, error) {
	ref := Ref{UUID: b.newUUID()}
	now := b.Now()
	id, err := b.insert(ctx, entity.TypeComment, entity.Row{
		"uuid":      ref.UUID,
		"dbnode_id": nodeID,
		"ctime":     now,
		"mtime":     now,
		"content":   content,
		"user_id":   userID,
	})
	if err != nil {
		return Ref{}, fmt.Errorf("add comment to node %d: %w", nodeID, err)
	}
	ref.ID = id
	return ref, nil
}

// UpdateComment replaces the content of a comment and bumps its mtime.
func (b *Backend) UpdateComment(ctx context.Context, commentID int64, content string) error {
	err := b.Store.UpdateColumns(ctx, entity.TypeComment, commentID, entity.Row{"content": content, "mtime": b.Now()})
	if err != nil {
		return fmt.Errorf("update comment %d: %w", commentID, err)
	}
	return nil
}

// AddLog attaches a log record to a stored node.
func (b *Backend) AddLog(ctx context.Context, nodeID int64, level, message string) (Ref, error) {
	ref := Ref{UUID: b.newUUID()}
	id, err := b.insert(ctx, entity.TypeLog, entity.Row{
		"uuid":       ref.UUID,
		"time":       b.Now(),
		"loggername": "aiida.orm.nodes",
		"levelname":  level,
		"dbnode_id":  nodeID,
		"message":    message,
	})
	if err != nil {
		return Ref{}, fmt.Errorf("add log to node %d: %w", nodeID, err)
	}
	ref.ID = id
	return ref, nil
}
