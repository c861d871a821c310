package storage

import (
	"fmt"
	"strings"
)

// Op is a filter operator. Names follow PostgREST so the supabase backend can
// pass them through unchanged.
type Op string

const (
	OpEq  Op = "eq"
	OpNeq Op = "neq"
	OpGt  Op = "gt"
	OpGte Op = "gte"
	OpLt  Op = "lt"
	OpLte Op = "lte"
	OpIn  Op = "in"
	OpIs  Op = "is" // value is nil (IS NULL) or "not.null"
)

// Condition is a single column filter.
type Condition struct {
	Column string
	Op     Op
	Value  any
}

func (c Condition) String() string {
	return fmt.Sprintf("%s=%s.%v", c.Column, c.Op, c.Value)
}

// Ordering sorts results by a column.
type Ordering struct {
	Column    string
	Ascending bool
}

// Query is a fluent filter builder. The zero value and nil both match every row.
type Query struct {
	Conditions []Condition
	Orders     []Ordering
	Max        int
}

// NewQuery starts an empty query.
func NewQuery() *Query { return &Query{} }

// Where is shorthand for NewQuery().Eq(column, value).
func Where(column string, value any) *Query { return NewQuery().Eq(column, value) }

func (q *Query) add(column string, op Op, value any) *Query {
	q.Conditions = append(q.Conditions, Condition{Column: column, Op: op, Value: value})
	return q
}

// Eq adds an equality filter.
func (q *Query) Eq(column string, value any) *Query { return q.add(column, OpEq, value) }

// Neq adds a not-equal filter.
func (q *Query) Neq(column string, value any) *Query { return q.add(column, OpNeq, value) }

// Gt adds a greater-than filter.
func (q *Query) Gt(column string, value any) *Query { return q.add(column, OpGt, value) }

// Gte adds a greater-than-or-equal filter.
func (q *Query) Gte(column string, value any) *Query { return q.add(column, OpGte, value) }

// Lt adds a less-than filter.
func (q *Query) Lt(column string, value any) *Query { return q.add(column, OpLt, value) }

// Lte adds a less-than-or-equal filter.
func (q *Query) Lte(column string, value any) *Query { return q.add(column, OpLte, value) }

// In adds a membership filter.
func (q *Query) In(column string, values []string) *Query {
	return q.add(column, OpIn, append([]string(nil), values...))
}

// IsNull matches rows where column is null or absent.
func (q *Query) IsNull(column string) *Query { return q.add(column, OpIs, nil) }

// NotNull matches rows where column holds a value.
func (q *Query) NotNull(column string) *Query { return q.add(column, OpIs, "not.null") }

// Order appends a sort key.
func (q *Query) Order(column string, ascending bool) *Query {
	q.Orders = append(q.Orders, Ordering{Column: column, Ascending: ascending})
	return q
}

// Limit caps the number of returned rows. Zero means no limit.
func (q *Query) Limit(n int) *Query {
	q.Max = n
	return q
}

func (q *Query) String() string {
	if q == nil {
		return "*"
	}
	parts := make([]string, 0, len(q.Conditions)+2)
	for _, c := range q.Conditions {
		parts = append(parts, c.String())
	}
	for _, o := range q.Orders {
		dir := "desc"
		if o.Ascending {
			dir = "asc"
		}
		parts = append(parts, "order="+o.Column+"."+dir)
	}
	if q.Max > 0 {
		parts = append(parts, fmt.Sprintf("limit=%d", q.Max))
	}
	if len(parts) == 0 {
		return "*"
	}
	return strings.Join(parts, "&")
}
