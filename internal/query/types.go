// Package query is a small query IR for reading entity tables, compiled
// to parameterized SQLite SQL.
//
// Every compiled Select carries an ORDER BY with "id" as the final
// tiebreaker, so results are deterministic and keyset pagination on id
// is always possible. Values are never interpolated into SQL text;
// identifiers are validated against a strict pattern instead.
package query

// Query is a sealed interface; only types in this package implement it.
type Query interface {
	queryNode()
}

// Predicate is a sealed interface for filter conditions.
type Predicate interface {
	predicateNode()
}

// Select reads rows from a single table.
//
//	Select{
//	  From:    "db_dbnode",
//	  Columns: []string{"id", "uuid"},
//	  Filter:  In{Field: "id", Values: []any{1, 2}},
//	}
//
// compiles to
//
//	SELECT id, uuid FROM db_dbnode WHERE id IN (?, ?) ORDER BY id ASC
type Select struct {
	From    string
	Columns []string // nil selects every column
	Filter  Predicate
	// OrderBy lists extra sort columns; "id" is always appended.
	OrderBy []string
	// Limit bounds the number of rows; 0 means unlimited.
	Limit int
	// Count replaces the column list by COUNT(*) and drops ORDER BY.
	Count bool
	// Distinct applies SELECT DISTINCT. Only meaningful with Columns.
	Distinct bool
}

func (Select) queryNode() {}

// Equals matches field = value.
type Equals struct {
	Field string
	Value any
}

func (Equals) predicateNode() {}

// In matches field IN (values...). An empty value list matches nothing.
type In struct {
	Field  string
	Values []any
}

func (In) predicateNode() {}

// Greater matches field > value. Used for keyset pagination.
type Greater struct {
	Field string
	Value any
}

func (Greater) predicateNode() {}

// Prefix matches text fields starting with a literal prefix.
type Prefix struct {
	Field  string
	Prefix string
}

func (Prefix) predicateNode() {}

// IsNull matches field IS NULL.
type IsNull struct {
	Field string
}

func (IsNull) predicateNode() {}

// And requires all predicates. An empty And is always true.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// Or requires any predicate. An empty Or is always false.
type Or struct {
	Predicates []Predicate
}

func (Or) predicateNode() {}

// Not negates a predicate.
type Not struct {
	Predicate Predicate
}

func (Not) predicateNode() {}

// InInt64 builds an In predicate from integer ids.
func InInt64(field string, ids []int64) In {
	values := make([]any, len(ids))
	for i, id := range ids {
		values[i] = id
	}
	return In{Field: field, Values: values}
}

// InStrings builds an In predicate from strings.
func InStrings(field string, values []string) In {
	vs := make([]any, len(values))
	for i, v := range values {
		vs[i] = v
	}
	return In{Field: field, Values: vs}
}
