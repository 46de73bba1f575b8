package entity

import (
	"fmt"
	"sort"
)

// ColumnKind is the storage encoding of a column value.
type ColumnKind int

const (
	KindInt ColumnKind = iota
	KindText
	KindBool
	KindTime // RFC 3339 text in UTC, decoded to time.Time
	KindJSON // JSON object text, decoded to map[string]any
)

// Column describes a single column of an entity table.
type Column struct {
	Name     string
	Kind     ColumnKind
	Nullable bool
	// Default is used when a row omits the column and defaults are allowed.
	// A nil Default on a non-nullable column means the column is required.
	Default any
}

// TableSpec describes how one entity kind is stored.
type TableSpec struct {
	Type  EntityType
	Table string
	// Columns are in storage order; "id" is always first.
	Columns []Column
	// UniqueField is the column used to recognise the same entity across
	// profiles ("uuid" for most kinds, "email" for users). Empty for kinds
	// identified by a combination of foreign keys.
	UniqueField string
}

// ColumnNames returns the column names in storage order.
func (s TableSpec) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// Column returns the column with the given name.
func (s TableSpec) Column(name string) (Column, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// emptyObject is a sentinel default that yields a fresh map per row.
type emptyObject struct{}

// EmptyObject is the Default for JSON columns that start as {}.
var EmptyObject = emptyObject{}

// DefaultValue returns the default value for a column, or false if the
// column has no default and is not nullable.
func (c Column) DefaultValue() (any, bool) {
	if _, ok := c.Default.(emptyObject); ok {
		return map[string]any{}, true
	}
	if c.Default != nil {
		return c.Default, true
	}
	if c.Nullable {
		return nil, true
	}
	return nil, false
}

var (
	idCol   = Column{Name: "id", Kind: KindInt}
	uuidCol = Column{Name: "uuid", Kind: KindText}
)

var tables = map[EntityType]TableSpec{
	TypeUser: {
		Type:  TypeUser,
		Table: "db_dbuser",
		Columns: []Column{
			idCol,
			{Name: "email", Kind: KindText},
			{Name: "first_name", Kind: KindText, Default: ""},
			{Name: "last_name", Kind: KindText, Default: ""},
			{Name: "institution", Kind: KindText, Default: ""},
		},
		UniqueField: "email",
	},
	TypeComputer: {
		Type:  TypeComputer,
		Table: "db_dbcomputer",
		Columns: []Column{
			idCol,
			uuidCol,
			{Name: "label", Kind: KindText},
			{Name: "hostname", Kind: KindText, Default: ""},
			{Name: "description", Kind: KindText, Default: ""},
			{Name: "scheduler_type", Kind: KindText, Default: ""},
			{Name: "transport_type", Kind: KindText, Default: ""},
			{Name: "metadata", Kind: KindJSON, Default: EmptyObject},
		},
		UniqueField: "uuid",
	},
	TypeAuthInfo: {
		Type:  TypeAuthInfo,
		Table: "db_dbauthinfo",
		Columns: []Column{
			idCol,
			{Name: "aiidauser_id", Kind: KindInt},
			{Name: "dbcomputer_id", Kind: KindInt},
			{Name: "metadata", Kind: KindJSON, Default: EmptyObject},
			{Name: "auth_params", Kind: KindJSON, Default: EmptyObject},
			{Name: "enabled", Kind: KindBool, Default: true},
		},
	},
	TypeNode: {
		Type:  TypeNode,
		Table: "db_dbnode",
		Columns: []Column{
			idCol,
			uuidCol,
			{Name: "node_type", Kind: KindText},
			{Name: "process_type", Kind: KindText, Nullable: true},
			{Name: "label", Kind: KindText, Default: ""},
			{Name: "description", Kind: KindText, Default: ""},
			{Name: "ctime", Kind: KindTime},
			{Name: "mtime", Kind: KindTime},
			{Name: "attributes", Kind: KindJSON, Default: EmptyObject},
			{Name: "extras", Kind: KindJSON, Default: EmptyObject},
			{Name: "repository_metadata", Kind: KindJSON, Default: EmptyObject},
			{Name: "user_id", Kind: KindInt},
			{Name: "dbcomputer_id", Kind: KindInt, Nullable: true},
		},
		UniqueField: "uuid",
	},
	TypeGroup: {
		Type:  TypeGroup,
		Table: "db_dbgroup",
		Columns: []Column{
			idCol,
			uuidCol,
			{Name: "label", Kind: KindText},
			{Name: "type_string", Kind: KindText, Default: "core"},
			{Name: "time", Kind: KindTime},
			{Name: "description", Kind: KindText, Default: ""},
			{Name: "extras", Kind: KindJSON, Default: EmptyObject},
			{Name: "user_id", Kind: KindInt},
		},
		UniqueField: "uuid",
	},
	TypeComment: {
		Type:  TypeComment,
		Table: "db_dbcomment",
		Columns: []Column{
			idCol,
			uuidCol,
			{Name: "dbnode_id", Kind: KindInt},
			{Name: "ctime", Kind: KindTime},
			{Name: "mtime", Kind: KindTime},
			{Name: "content", Kind: KindText, Default: ""},
			{Name: "user_id", Kind: KindInt},
		},
		UniqueField: "uuid",
	},
	TypeLog: {
		Type:  TypeLog,
		Table: "db_dblog",
		Columns: []Column{
			idCol,
			uuidCol,
			{Name: "time", Kind: KindTime},
			{Name: "loggername", Kind: KindText, Default: ""},
			{Name: "levelname", Kind: KindText, Default: ""},
			{Name: "dbnode_id", Kind: KindInt},
			{Name: "message", Kind: KindText, Default: ""},
			{Name: "metadata", Kind: KindJSON, Default: EmptyObject},
		},
		UniqueField: "uuid",
	},
	TypeGroupNode: {
		Type:  TypeGroupNode,
		Table: "db_dbgroup_dbnodes",
		Columns: []Column{
			idCol,
			{Name: "dbgroup_id", Kind: KindInt},
			{Name: "dbnode_id", Kind: KindInt},
		},
	},
	TypeLink: {
		Type:  TypeLink,
		Table: "db_dblink",
		Columns: []Column{
			idCol,
			{Name: "input_id", Kind: KindInt},
			{Name: "output_id", Kind: KindInt},
			{Name: "type", Kind: KindText},
			{Name: "label", Kind: KindText},
		},
	},
}

// Spec returns the TableSpec for an entity type.
func Spec(t EntityType) (TableSpec, error) {
	s, ok := tables[t]
	if !ok {
		return TableSpec{}, fmt.Errorf("no table for entity type %q", t)
	}
	return s, nil
}

// MustSpec is like Spec but panics on an unknown type. Only use it with
// the package constants.
func MustSpec(t EntityType) TableSpec {
	s, err := Spec(t)
	if err != nil {
		panic(err)
	}
	return s
}

// CheckRow validates the keys of a row against the table columns.
//
// Unknown keys are always rejected. With allowDefaults the missing columns
// are filled in from their defaults (required columns still fail);
// without it every column must be present. "id" is never filled in: a row
// without an id gets one assigned on insert.
func CheckRow(spec TableSpec, row Row, allowDefaults bool) (Row, error) {
	for key := range row {
		if _, ok := spec.Column(key); !ok {
			return nil, fmt.Errorf("%s: unknown column %q", spec.Type, key)
		}
	}

	out := make(Row, len(spec.Columns))
	var missing []string
	for _, c := range spec.Columns {
		if v, ok := row[c.Name]; ok {
			out[c.Name] = v
			continue
		}
		if c.Name == "id" {
			continue
		}
		if !allowDefaults {
			missing = append(missing, c.Name)
			continue
		}
		v, ok := c.DefaultValue()
		if !ok {
			missing = append(missing, c.Name)
			continue
		}
		out[c.Name] = v
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("%s: missing columns %v", spec.Type, missing)
	}
	return out, nil
}
