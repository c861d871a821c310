package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatches(t *testing.T) {
	row := Row{
		"id":            "i1",
		"current_stock": 2.0,
		"name":          "Milk",
		"is_active":     true,
		"resolved_at":   nil,
		"date":          "2026-10-05",
		"sku":           "007",
		"updated_at":    "2026-10-05T08:00:00Z",
	}

	cases := []struct {
		name string
		q    *Query
		want bool
	}{
		{"nil query", nil, true},
		{"eq string", Where("name", "Milk"), true},
		{"eq numeric across types", Where("current_stock", 2), true},
		{"lte", NewQuery().Lte("current_stock", 10), true},
		{"gt", NewQuery().Gt("current_stock", 2), false},
		{"bool", Where("is_active", true), true},
		{"is null", NewQuery().IsNull("resolved_at"), true},
		{"absent is null", NewQuery().IsNull("expiry_date"), true},
		{"not null", NewQuery().NotNull("resolved_at"), false},
		{"date range", NewQuery().Gte("date", "2026-10-01").Lte("date", "2026-10-31"), true},
		{"date outside", NewQuery().Gte("date", "2026-11-01"), false},
		{"in", NewQuery().In("id", []string{"i0", "i1"}), true},
		{"not in", NewQuery().In("id", []string{"i9"}), false},
		{"null never compares", NewQuery().Eq("expiry_date", "2026-10-05"), false},
		{"padded id is not a number", Where("sku", "7"), false},
		{"padded id matches itself", Where("sku", "007"), true},
		{"numeric string against number is text", Where("current_stock", "2.0"), false},
		{"numbers of different types", NewQuery().Gte("current_stock", float32(2)).Lt("current_stock", int64(3)), true},
		{"timestamps compare as instants", NewQuery().Gt("updated_at", "2026-10-05T09:59:59+02:00"), true},
		{"timestamps after", NewQuery().Lt("updated_at", "2026-10-05T09:00:00.5Z"), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Matches(row, tc.q))
		})
	}
}

func TestEncodeDecode(t *testing.T) {
	type item struct {
		ID       string   `json:"id"`
		Quantity float64  `json:"quantity"`
		Tags     []string `json:"tags"`
	}
	row, err := Encode(item{ID: "x", Quantity: 3, Tags: []string{"a"}})
	assert.NoError(t, err)
	assert.Equal(t, 3.0, row["quantity"])

	var back item
	assert.NoError(t, Decode(row, &back))
	assert.Equal(t, []string{"a"}, back.Tags)
}
