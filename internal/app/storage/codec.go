package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Encode converts a tagged struct into a Row via its JSON representation.
func Encode(v any) (Row, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode row: %w", err)
	}
	var row Row
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&row); err != nil {
		return nil, fmt.Errorf("encode row: %w", err)
	}
	normalizeNumbers(row)
	return row, nil
}

// MustEncode is Encode for values that are known to marshal.
func MustEncode(v any) Row {
	row, err := Encode(v)
	if err != nil {
		panic(err)
	}
	return row
}

// Decode converts a Row into the struct pointed to by out.
func Decode(row Row, out any) error {
	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("decode row: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode row: %w", err)
	}
	return nil
}

// DecodeRows converts rows into the slice pointed to by out.
func DecodeRows(rows []Row, out any) error {
	if rows == nil {
		rows = []Row{}
	}
	data, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("decode rows: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode rows: %w", err)
	}
	return nil
}

// normalizeNumbers turns json.Number leaves into float64 so rows compare and
// serialise the same way regardless of which backend produced them.
func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case Row:
		for k, val := range t {
			t[k] = normalizeNumbers(val)
		}
		return t
	case map[string]any:
		for k, val := range t {
			t[k] = normalizeNumbers(val)
		}
		return t
	case []any:
		for i, val := range t {
			t[i] = normalizeNumbers(val)
		}
		return t
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	}
	return v
}

// Normalize returns a copy of r in the shape a store hands back: nested
// values become maps, slices and float64 numbers, times become strings.
func Normalize(r Row) (Row, error) {
	if r == nil {
		return Row{}, nil
	}
	out, err := Encode(r)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = Row{}
	}
	return out, nil
}
