package sqlstore

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/leafy-life/cafe/internal/app/storage"
)

// selectPlan is the SQL part of a storage.Query. Every pushed condition keeps at
// least the rows storage.Apply would keep, so Apply still runs over the
// result and stays authoritative.
type selectPlan struct {
	where []string
	args  []any
	order []string
	limit int
}

var columnName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// plan translates q. Conditions on columns or values it cannot express are
// left to the in-process pass. Limit is only pushed for unordered queries,
// where both sides keep insertion order.
func (d Dialect) plan(q *storage.Query) selectPlan {
	var p selectPlan
	if q == nil {
		return p
	}
	for _, c := range q.Conditions {
		if !columnName.MatchString(c.Column) {
			continue
		}
		clause, args, ok := d.condition(c)
		if !ok {
			continue
		}
		p.where = append(p.where, clause)
		p.args = append(p.args, args...)
	}
	for _, o := range q.Orders {
		if !columnName.MatchString(o.Column) {
			p.order = nil
			break
		}
		dir := " DESC"
		if o.Ascending {
			dir = " ASC"
		}
		for _, expr := range d.sortKeys(o.Column) {
			p.order = append(p.order, expr+dir)
		}
	}
	if q.Max > 0 && len(q.Orders) == 0 {
		p.limit = q.Max
	}
	return p
}

// sql renders the SELECT; the first argument is the table.
func (d Dialect) sql(p selectPlan) string {
	var b strings.Builder
	b.WriteString(`SELECT id, doc FROM leafy_rows WHERE tbl = ?`)
	for _, w := range p.where {
		b.WriteString(" AND ")
		b.WriteString(w)
	}
	b.WriteString(" ORDER BY ")
	for _, o := range p.order {
		b.WriteString(o)
		b.WriteString(", ")
	}
	b.WriteString("seq")
	if p.limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", p.limit)
	}
	return d.Rebind(b.String())
}

func (d Dialect) condition(c storage.Condition) (string, []any, bool) {
	if c.Column == "id" {
		return d.idCondition(c)
	}
	switch c.Op {
	case storage.OpIs:
		if c.Value == nil {
			return d.text(c.Column) + " IS NULL", nil, true
		}
		return d.text(c.Column) + " IS NOT NULL", nil, true
	case storage.OpIn:
		values, ok := inValues(c.Value)
		if !ok {
			return "", nil, false
		}
		if len(values) == 0 {
			return "1 = 0", nil, true
		}
		clause := fmt.Sprintf("CASE WHEN %s THEN %s IN (%s) ELSE %s IS NOT NULL END",
			d.isType(c.Column, "string"), d.text(c.Column), placeholders(len(values)), d.text(c.Column))
		return clause, values, true
	}

	op, ok := sqlOps[c.Op]
	if !ok || c.Value == nil {
		return "", nil, false
	}
	var kind, expr string
	var arg any
	switch v := c.Value.(type) {
	case bool:
		if c.Op != storage.OpEq && c.Op != storage.OpNeq {
			return "", nil, false
		}
		kind, expr, arg = "boolean", d.boolean(c.Column), fmt.Sprint(v)
	case string:
		// Timestamps compare as instants in process, not as text.
		if _, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return "", nil, false
		}
		kind, expr, arg = "string", d.collated(c.Column), v
	case float64, float32, int, int32, int64, uint, uint32, uint64, json.Number:
		f, ok := number(v)
		if !ok {
			return "", nil, false
		}
		kind, expr, arg = "number", d.number(c.Column), f
	default:
		return "", nil, false
	}
	clause := fmt.Sprintf("CASE WHEN %s THEN %s %s ? ELSE %s IS NOT NULL END",
		d.isType(c.Column, kind), expr, op, d.text(c.Column))
	return clause, []any{arg}, true
}

func (d Dialect) idCondition(c storage.Condition) (string, []any, bool) {
	col := "id"
	if d.Name == Postgres.Name {
		col = `id COLLATE "C"`
	}
	switch c.Op {
	case storage.OpIs:
		if c.Value == nil {
			return "1 = 0", nil, true
		}
		return "", nil, false
	case storage.OpIn:
		values, ok := inValues(c.Value)
		if !ok {
			return "", nil, false
		}
		if len(values) == 0 {
			return "1 = 0", nil, true
		}
		return "id IN (" + placeholders(len(values)) + ")", values, true
	}
	op, ok := sqlOps[c.Op]
	if !ok || c.Value == nil {
		return "", nil, false
	}
	return col + " " + op + " ?", []any{storage.FormatValue(c.Value)}, true
}

var sqlOps = map[storage.Op]string{
	storage.OpEq:  "=",
	storage.OpNeq: "<>",
	storage.OpGt:  ">",
	storage.OpGte: ">=",
	storage.OpLt:  "<",
	storage.OpLte: "<=",
}

// text is the column as SQL text, NULL when absent or JSON null.
func (d Dialect) text(col string) string {
	if d.Name == Postgres.Name {
		return "(doc->>'" + col + "')"
	}
	return "json_extract(doc, '$." + col + "')"
}

// collated compares byte-wise like Go strings.
func (d Dialect) collated(col string) string {
	if d.Name == Postgres.Name {
		return "(doc->>'" + col + `') COLLATE "C"`
	}
	return d.text(col)
}

func (d Dialect) number(col string) string {
	if d.Name == Postgres.Name {
		return "(doc->>'" + col + "')::numeric"
	}
	return d.text(col)
}

// boolean renders a JSON boolean as 'true' or 'false'.
func (d Dialect) boolean(col string) string {
	if d.Name == Postgres.Name {
		return d.text(col)
	}
	return "json_type(doc, '$." + col + "')"
}

// isType tests the JSON type of col: string, number or boolean.
func (d Dialect) isType(col, kind string) string {
	if d.Name == Postgres.Name {
		return "jsonb_typeof(doc->'" + col + "') = '" + kind + "'"
	}
	typ := "json_type(doc, '$." + col + "')"
	switch kind {
	case "number":
		return typ + " IN ('integer', 'real')"
	case "boolean":
		return typ + " IN ('true', 'false')"
	default:
		return typ + " = 'text'"
	}
}

// sortKeys orders numbers numerically and strings byte-wise.
func (d Dialect) sortKeys(col string) []string {
	if d.Name == Postgres.Name {
		return []string{
			"CASE WHEN " + d.isType(col, "number") + " THEN " + d.number(col) + " END",
			d.collated(col),
		}
	}
	// SQLite orders NULL, then numbers, then text.
	return []string{d.text(col)}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func inValues(v any) ([]any, bool) {
	switch list := v.(type) {
	case []string:
		out := make([]any, len(list))
		for i, s := range list {
			out[i] = s
		}
		return out, true
	case []any:
		out := make([]any, len(list))
		for i, s := range list {
			out[i] = storage.FormatValue(s)
		}
		return out, true
	}
	return nil, false
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
