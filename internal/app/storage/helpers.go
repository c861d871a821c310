package storage

import (
	"context"
	"fmt"
)

// SelectInto runs q against table and decodes the rows into out (a pointer to a slice).
func SelectInto(ctx context.Context, s Store, table string, q *Query, out any) error {
	rows, err := s.Select(ctx, table, q)
	if err != nil {
		return Wrap("select", table, err)
	}
	return DecodeRows(rows, out)
}

// Get loads the row with the given id into out.
func Get(ctx context.Context, s Store, table, id string, out any) error {
	rows, err := s.Select(ctx, table, Where("id", id).Limit(1))
	if err != nil {
		return Wrap("select", table, err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("%s %s: %w", table, id, ErrNotFound)
	}
	return Decode(rows[0], out)
}

// InsertValue encodes v, inserts it and decodes the stored row back into out.
// out may be nil when the caller does not need the stored representation.
func InsertValue(ctx context.Context, s Store, table string, v any, out any) error {
	row, err := Encode(v)
	if err != nil {
		return err
	}
	stored, err := s.Insert(ctx, table, row)
	if err != nil {
		return Wrap("insert", table, err)
	}
	if out == nil || len(stored) == 0 {
		return nil
	}
	return Decode(stored[0], out)
}

// UpdateByID applies patch to the row with id and decodes the result into out.
func UpdateByID(ctx context.Context, s Store, table, id string, patch Row, out any) error {
	rows, err := s.Update(ctx, table, patch, Where("id", id))
	if err != nil {
		return Wrap("update", table, err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("%s %s: %w", table, id, ErrNotFound)
	}
	if out == nil {
		return nil
	}
	return Decode(rows[0], out)
}

// DeleteByID removes the row with id.
func DeleteByID(ctx context.Context, s Store, table, id string) error {
	if err := s.Delete(ctx, table, Where("id", id)); err != nil {
		return Wrap("delete", table, err)
	}
	return nil
}
