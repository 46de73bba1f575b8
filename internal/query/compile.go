package query

import (
	"fmt"
	"regexp"
	"strings"
)

var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// ValidateIdent reports an error if name is not a plain lowercase SQL
// identifier.
func ValidateIdent(name string) error {
	if !identPattern.MatchString(name) {
		return fmt.Errorf("invalid identifier %q", name)
	}
	return nil
}

// Compile converts a query to parameterized SQL.
// Returns (sql, params, error).
func Compile(q Query) (string, []any, error) {
	if q == nil {
		return "", nil, fmt.Errorf("cannot compile nil query")
	}

	switch query := q.(type) {
	case Select:
		return compileSelect(query)
	case *Select:
		return compileSelect(*query)
	default:
		return "", nil, fmt.Errorf("unsupported query type: %T", q)
	}
}

func compileSelect(q Select) (string, []any, error) {
	if err := ValidateIdent(q.From); err != nil {
		return "", nil, fmt.Errorf("compile from: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	switch {
	case q.Count:
		sb.WriteString("COUNT(*)")
	case len(q.Columns) == 0:
		sb.WriteString("*")
	default:
		for _, c := range q.Columns {
			if err := ValidateIdent(c); err != nil {
				return "", nil, fmt.Errorf("compile columns: %w", err)
			}
		}
		if q.Distinct {
			sb.WriteString("DISTINCT ")
		}
		sb.WriteString(strings.Join(q.Columns, ", "))
	}
	sb.WriteString(" FROM ")
	sb.WriteString(q.From)

	var params []any
	if q.Filter != nil {
		filterSQL, filterParams, err := compilePredicate(q.Filter)
		if err != nil {
			return "", nil, fmt.Errorf("compile filter: %w", err)
		}
		sb.WriteString(" WHERE ")
		sb.WriteString(filterSQL)
		params = filterParams
	}

	if q.Count {
		return sb.String(), params, nil
	}

	order, err := orderKey(q)
	if err != nil {
		return "", nil, err
	}
	sb.WriteString(" ORDER BY ")
	sb.WriteString(order)

	if q.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		params = append(params, q.Limit)
	}

	return sb.String(), params, nil
}

// orderKey returns the ORDER BY list. "id" is always the final key unless
// the query selects DISTINCT columns that do not include it.
func orderKey(q Select) (string, error) {
	var parts []string
	hasID := false
	for _, c := range q.OrderBy {
		if err := ValidateIdent(c); err != nil {
			return "", fmt.Errorf("compile order: %w", err)
		}
		if c == "id" {
			hasID = true
		}
		parts = append(parts, c+" ASC")
	}
	if !hasID {
		if q.Distinct && !contains(q.Columns, "id") {
			if len(parts) == 0 {
				for _, c := range q.Columns {
					parts = append(parts, c+" ASC")
				}
			}
		} else {
			parts = append(parts, "id ASC")
		}
	}
	return strings.Join(parts, ", "), nil
}

func contains(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}

func compilePredicate(p Predicate) (string, []any, error) {
	switch pred := p.(type) {
	case Equals:
		return compileBinary(pred.Field, "=", pred.Value)
	case *Equals:
		return compileBinary(pred.Field, "=", pred.Value)
	case Greater:
		return compileBinary(pred.Field, ">", pred.Value)
	case *Greater:
		return compileBinary(pred.Field, ">", pred.Value)
	case In:
		return compileIn(pred)
	case *In:
		return compileIn(*pred)
	case Prefix:
		return compilePrefix(pred)
	case *Prefix:
		return compilePrefix(*pred)
	case IsNull:
		if err := ValidateIdent(pred.Field); err != nil {
			return "", nil, err
		}
		return pred.Field + " IS NULL", nil, nil
	case And:
		return compileJunction(pred.Predicates, " AND ", "1 = 1")
	case *And:
		return compileJunction(pred.Predicates, " AND ", "1 = 1")
	case Or:
		return compileJunction(pred.Predicates, " OR ", "0 = 1")
	case *Or:
		return compileJunction(pred.Predicates, " OR ", "0 = 1")
	case Not:
		sql, params, err := compilePredicate(pred.Predicate)
		if err != nil {
			return "", nil, err
		}
		return "NOT (" + sql + ")", params, nil
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func compileBinary(field, op string, value any) (string, []any, error) {
	if err := ValidateIdent(field); err != nil {
		return "", nil, err
	}
	if value == nil {
		return "", nil, fmt.Errorf("nil value for %s %s", field, op)
	}
	return fmt.Sprintf("%s %s ?", field, op), []any{value}, nil
}

func compileIn(in In) (string, []any, error) {
	if err := ValidateIdent(in.Field); err != nil {
		return "", nil, err
	}
	if len(in.Values) == 0 {
		return "0 = 1", nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(in.Values)), ", ")
	params := make([]any, len(in.Values))
	copy(params, in.Values)
	return fmt.Sprintf("%s IN (%s)", in.Field, placeholders), params, nil
}

// compilePrefix uses substr rather than LIKE, which is case-insensitive
// for ASCII in SQLite.
func compilePrefix(p Prefix) (string, []any, error) {
	if err := ValidateIdent(p.Field); err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("substr(%s, 1, ?) = ?", p.Field), []any{len([]rune(p.Prefix)), p.Prefix}, nil
}

func compileJunction(preds []Predicate, sep, empty string) (string, []any, error) {
	if len(preds) == 0 {
		return empty, nil, nil
	}
	parts := make([]string, 0, len(preds))
	var params []any
	for _, p := range preds {
		sql, ps, err := compilePredicate(p)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, "("+sql+")")
		params = append(params, ps...)
	}
	return strings.Join(parts, sep), params, nil
}
