package persistence

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// FilterOp enumerates the operators accepted in rich property filters.
type FilterOp string

const (
	OpEq         FilterOp = "eq"
	OpNe         FilterOp = "ne"
	OpGt         FilterOp = "gt"
	OpGte        FilterOp = "gte"
	OpLt         FilterOp = "lt"
	OpLte        FilterOp = "lte"
	OpLike       FilterOp = "like"
	OpILike      FilterOp = "ilike"
	OpStartsWith FilterOp = "starts_with"
	OpEndsWith   FilterOp = "ends_with"
	OpContains   FilterOp = "contains"
	OpExists     FilterOp = "exists"
	OpNotExists  FilterOp = "not_exists"
	OpIn         FilterOp = "in"
	OpNotIn      FilterOp = "not_in"
)

// propertyPathPattern is the whitelist for the restricted JSON-Path dialect
// ($.a.b). Paths are validated before any SQL composition; segments are then
// bound as a text[] parameter, never concatenated.
var propertyPathPattern = regexp.MustCompile(`^\$(\.[A-Za-z_][A-Za-z0-9_]*)+$`)

// propertyKeyPattern validates single-segment keys from property_<key> query
// parameters.
var propertyKeyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// sortColumns is the whitelist for search ordering.
var sortColumns = map[string]bool{
	"created_at": true,
	"id":         true,
	"version":    true,
	"type_id":    true,
}

// cursorColumns lists the sort columns cursor pagination can key on. The
// wire format carries one integer key plus the id tiebreaker, so only the
// integer-valued sort columns qualify.
var cursorColumns = map[string]bool{
	"created_at": true,
	"version":    true,
}

// CursorKey extracts a row's pagination key under the given sort column. The
// second return is false when the column does not support cursors; callers
// then omit the next-page token.
func CursorKey(sortColumn string, record ResourceRecord) (int64, bool) {
	switch sortColumn {
	case "", "created_at":
		return record.CreatedAt, true
	case "version":
		return int64(record.Version), true
	default:
		return 0, false
	}
}

// PropertyFilter is one rich predicate over a JSON property path.
type PropertyFilter struct {
	Path  string   `json:"path"`
	Op    FilterOp `json:"op"`
	Value any      `json:"value"`
}

// ListFilter is the structured description of a list or search query. The
// builder turns it into SQL with every value bound as a parameter.
type ListFilter struct {
	TypeID          *uuid.UUID
	CreatedBy       *string
	CreatedAfter    *int64
	CreatedBefore   *int64
	IncludeDeleted  bool
	ShowAllVersions bool
	PropertyEquals  map[string]string
	PropertyFilters []PropertyFilter
	Cursor          *Cursor
	Limit           int
	SortColumn      string // search only; empty means created_at
	SortAscending   bool
}

// ACLFilter is the access-control contribution to a list query, in one of
// two shapes. In-query filtering appends a WHERE clause over the accessible
// ACL id set; post-query filtering leaves the query untouched and the caller
// oversamples and filters rows in memory against Accessible.
type ACLFilter struct {
	// Unrestricted disables ACL filtering entirely (trusted internal reads).
	Unrestricted bool
	// InQuery selects the WHERE-clause shape when true.
	InQuery bool
	// IDs is the accessible set bound into the query for the in-query shape.
	IDs []int64
	// Accessible is the in-memory set for the post-query shape.
	Accessible map[int64]struct{}
	// IncludeNull admits rows with a null acl_id (public reads).
	IncludeNull bool
}

// Allows reports whether a row's acl_id passes this filter. Used for
// post-query filtering and for per-row checks in graph traversal.
func (f ACLFilter) Allows(aclID *int64) bool {
	if f.Unrestricted {
		return true
	}
	if aclID == nil {
		return f.IncludeNull
	}
	if f.InQuery {
		for _, id := range f.IDs {
			if id == *aclID {
				return true
			}
		}
		return false
	}
	_, ok := f.Accessible[*aclID]
	return ok
}

// OversampleFactor is the fetch multiplier applied when ACL filtering happens
// post-query: pages are over-fetched and sliced after filtering.
const OversampleFactor = 3

// BuildListQuery composes the SELECT for a list/search request. It returns
// the SQL, its bound arguments, and the effective fetch size (limit+1, times
// the oversample factor when the ACL filter is post-query).
func BuildListQuery(store *ResourceStore, filter ListFilter, acl ACLFilter) (string, []any, int, error) {
	var (
		clauses []string
		args    []any
	)

	arg := func(value any) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}

	if !filter.ShowAllVersions {
		clauses = append(clauses, "is_latest = TRUE")
	}
	if !filter.IncludeDeleted {
		clauses = append(clauses, "is_deleted = FALSE")
	}
	if filter.TypeID != nil {
		clauses = append(clauses, "type_id = "+arg(*filter.TypeID))
	}
	if filter.CreatedBy != nil {
		clauses = append(clauses, "created_by = "+arg(*filter.CreatedBy))
	}
	if filter.CreatedAfter != nil {
		clauses = append(clauses, "created_at >= "+arg(*filter.CreatedAfter))
	}
	if filter.CreatedBefore != nil {
		clauses = append(clauses, "created_at <= "+arg(*filter.CreatedBefore))
	}

	for key, raw := range filter.PropertyEquals {
		if !propertyKeyPattern.MatchString(key) {
			return "", nil, 0, fmt.Errorf("invalid property key %q", key)
		}
		clause, err := propertyClause([]string{key}, OpEq, CoerceScalar(raw), arg)
		if err != nil {
			return "", nil, 0, err
		}
		clauses = append(clauses, clause)
	}

	for _, pf := range filter.PropertyFilters {
		segments, err := ParsePropertyPath(pf.Path)
		if err != nil {
			return "", nil, 0, err
		}
		clause, err := propertyClause(segments, pf.Op, pf.Value, arg)
		if err != nil {
			return "", nil, 0, err
		}
		clauses = append(clauses, clause)
	}

	if !acl.Unrestricted && acl.InQuery {
		idsParam := arg(acl.IDs)
		if acl.IncludeNull {
			clauses = append(clauses, fmt.Sprintf("(acl_id IS NULL OR acl_id = ANY(%s))", idsParam))
		} else {
			clauses = append(clauses, fmt.Sprintf("acl_id = ANY(%s)", idsParam))
		}
	}

	sortColumn := filter.SortColumn
	if sortColumn == "" {
		sortColumn = "created_at"
	}
	if !sortColumns[sortColumn] {
		return "", nil, 0, fmt.Errorf("unsupported sort column %q", filter.SortColumn)
	}
	direction := "DESC"
	cursorCmp := "<"
	if filter.SortAscending {
		direction = "ASC"
		cursorCmp = ">"
	}

	// The cursor predicate must compare the same column the query orders by,
	// or pages drift apart from the ordering.
	if filter.Cursor != nil {
		if !cursorColumns[sortColumn] {
			return "", nil, 0, fmt.Errorf("cursor pagination is not supported when sorting by %q", sortColumn)
		}
		keyParam := arg(filter.Cursor.Key)
		idParam := arg(filter.Cursor.ID)
		clauses = append(clauses, fmt.Sprintf(
			"(%[4]s %[1]s %[2]s OR (%[4]s = %[2]s AND id %[1]s %[3]s))",
			cursorCmp, keyParam, idParam, sortColumn,
		))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	fetch := limit + 1
	if !acl.Unrestricted && !acl.InQuery {
		fetch *= OversampleFactor
	}

	query := fmt.Sprintf("SELECT %s FROM %s", store.columns(""), store.table)
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY %[1]s %[2]s, id %[2]s LIMIT %[3]s", sortColumn, direction, arg(fetch))

	return query, args, limit, nil
}

// ParsePropertyPath validates a $.a.b path against the whitelist pattern and
// splits it into segments.
func ParsePropertyPath(path string) ([]string, error) {
	if !propertyPathPattern.MatchString(path) {
		return nil, fmt.Errorf("invalid property path %q", path)
	}
	return strings.Split(path[2:], "."), nil
}

// CoerceScalar interprets a raw query-parameter value: numbers and booleans
// are coerced to their typed form, everything else stays a string.
func CoerceScalar(raw string) any {
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	switch raw {
	case "true":
		return true
	case "false":
		return false
	}
	return raw
}

// propertyClause renders one predicate over a JSON path. Typed values compare
// as jsonb (so 30 and 30.0 agree); strings compare over the extracted text.
func propertyClause(segments []string, op FilterOp, value any, arg func(any) string) (string, error) {
	pathParam := arg(segments)
	jsonAt := fmt.Sprintf("properties #> %s::text[]", pathParam)
	textAt := fmt.Sprintf("properties #>> %s::text[]", pathParam)

	comparison := func(sqlOp string) (string, error) {
		switch v := coerceFilterValue(value).(type) {
		case float64:
			return fmt.Sprintf("%s %s to_jsonb(%s::numeric)", jsonAt, sqlOp, arg(v)), nil
		case bool:
			return fmt.Sprintf("%s %s to_jsonb(%s::boolean)", jsonAt, sqlOp, arg(v)), nil
		case string:
			return fmt.Sprintf("%s %s %s", textAt, sqlOp, arg(v)), nil
		default:
			return "", fmt.Errorf("unsupported filter value of type %T", value)
		}
	}

	switch op {
	case OpEq:
		return comparison("=")
	case OpNe:
		clause, err := comparison("=")
		if err != nil {
			return "", err
		}
		return "NOT COALESCE(" + clause + ", FALSE)", nil
	case OpGt:
		return comparison(">")
	case OpGte:
		return comparison(">=")
	case OpLt:
		return comparison("<")
	case OpLte:
		return comparison("<=")
	case OpLike:
		pattern, err := stringValue(value)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s LIKE %s", textAt, arg(pattern)), nil
	case OpILike:
		pattern, err := stringValue(value)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s ILIKE %s", textAt, arg(pattern)), nil
	case OpStartsWith:
		literal, err := stringValue(value)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s LIKE %s", textAt, arg(escapeLike(literal)+"%")), nil
	case OpEndsWith:
		literal, err := stringValue(value)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s LIKE %s", textAt, arg("%"+escapeLike(literal))), nil
	case OpContains:
		literal, err := stringValue(value)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s LIKE %s", textAt, arg("%"+escapeLike(literal)+"%")), nil
	case OpExists:
		return fmt.Sprintf("%s IS NOT NULL", jsonAt), nil
	case OpNotExists:
		return fmt.Sprintf("%s IS NULL", jsonAt), nil
	case OpIn, OpNotIn:
		values, ok := value.([]any)
		if !ok || len(values) == 0 {
			return "", fmt.Errorf("operator %q requires a non-empty list value", op)
		}
		var alternatives []string
		for _, item := range values {
			clause, err := propertyClauseForValue(jsonAt, textAt, item, arg)
			if err != nil {
				return "", err
			}
			alternatives = append(alternatives, clause)
		}
		combined := "(" + strings.Join(alternatives, " OR ") + ")"
		if op == OpNotIn {
			combined = "NOT COALESCE(" + combined + ", FALSE)"
		}
		return combined, nil
	default:
		return "", fmt.Errorf("unsupported filter operator %q", op)
	}
}

func propertyClauseForValue(jsonAt, textAt string, value any, arg func(any) string) (string, error) {
	switch v := coerceFilterValue(value).(type) {
	case float64:
		return fmt.Sprintf("%s = to_jsonb(%s::numeric)", jsonAt, arg(v)), nil
	case bool:
		return fmt.Sprintf("%s = to_jsonb(%s::boolean)", jsonAt, arg(v)), nil
	case string:
		return fmt.Sprintf("%s = %s", textAt, arg(v)), nil
	default:
		return "", fmt.Errorf("unsupported filter value of type %T", value)
	}
}

// coerceFilterValue aligns JSON-decoded filter values with the scalar
// coercion rule: numeric strings become numbers, "true"/"false" booleans.
func coerceFilterValue(value any) any {
	switch v := value.(type) {
	case string:
		return CoerceScalar(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
		return v.String()
	default:
		return value
	}
}

func stringValue(value any) (string, error) {
	s, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("operator requires a string value, got %T", value)
	}
	return s, nil
}

// escapeLike escapes LIKE wildcards in a literal so user input matches
// itself rather than acting as a pattern.
func escapeLike(literal string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(literal)
}
