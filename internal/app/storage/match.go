package storage

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Matches reports whether row satisfies every condition of q.
func Matches(row Row, q *Query) bool {
	if q == nil {
		return true
	}
	for _, c := range q.Conditions {
		if !matchCondition(row, c) {
			return false
		}
	}
	return true
}

// Apply filters, sorts and limits rows in memory. Backends that cannot push
// a query down use it to share the exact same semantics.
func Apply(rows []Row, q *Query) []Row {
	out := make([]Row, 0, len(rows))
	for _, r := range rows {
		if Matches(r, q) {
			out = append(out, r)
		}
	}
	if q == nil {
		return out
	}
	if len(q.Orders) > 0 {
		sort.SliceStable(out, func(i, j int) bool {
			for _, o := range q.Orders {
				cmp, ok := compareValues(out[i][o.Column], out[j][o.Column])
				if !ok || cmp == 0 {
					continue
				}
				if o.Ascending {
					return cmp < 0
				}
				return cmp > 0
			}
			return false
		})
	}
	if q.Max > 0 && len(out) > q.Max {
		out = out[:q.Max]
	}
	return out
}

func matchCondition(row Row, c Condition) bool {
	value, present := row[c.Column]
	switch c.Op {
	case OpIs:
		isNull := !present || value == nil
		if c.Value == nil {
			return isNull
		}
		return !isNull
	case OpIn:
		if !present || value == nil {
			return false
		}
		want := formatValue(value)
		switch list := c.Value.(type) {
		case []string:
			for _, v := range list {
				if v == want {
					return true
				}
			}
		case []any:
			for _, v := range list {
				if formatValue(v) == want {
					return true
				}
			}
		}
		return false
	}

	if !present || value == nil {
		// SQL semantics: comparisons against NULL never match.
		return false
	}
	cmp, ok := compareValues(value, c.Value)
	if !ok {
		return false
	}
	switch c.Op {
	case OpEq:
		return cmp == 0
	case OpNeq:
		return cmp != 0
	case OpGt:
		return cmp > 0
	case OpGte:
		return cmp >= 0
	case OpLt:
		return cmp < 0
	case OpLte:
		return cmp <= 0
	}
	return false
}

// compareValues orders two column values. Two numbers compare numerically and
// two RFC 3339 timestamps as instants. Anything else compares as text, so a
// numeric-looking string never equals a number it merely parses to.
func compareValues(a, b any) (int, bool) {
	if a == nil || b == nil {
		if a == nil && b == nil {
			return 0, true
		}
		return 0, false
	}
	if ab, ok := a.(bool); ok {
		bb, ok := toBool(b)
		if !ok {
			return 0, false
		}
		if ab == bb {
			return 0, true
		}
		if !ab {
			return -1, true
		}
		return 1, true
	}
	af, aNum := toFloat(a)
	bf, bNum := toFloat(b)
	if aNum && bNum {
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}
	as, bs := formatValue(a), formatValue(b)
	if at, err := time.Parse(time.RFC3339Nano, as); err == nil {
		if bt, err := time.Parse(time.RFC3339Nano, bs); err == nil {
			return at.Compare(bt), true
		}
	}
	return strings.Compare(as, bs), true
}

func toFloat(v any) (float64, bool) {
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

func toBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		parsed, err := strconv.ParseBool(b)
		return parsed, err == nil
	}
	return false, false
}

func formatValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// FormatValue renders a filter value the way PostgREST expects it in a URL.
func FormatValue(v any) string { return formatValue(v) }
