package db

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a lookup or a targeted write matches no row.
var ErrNotFound = errors.New("not found")

// Row is one table row keyed by column name. Values are JSON-compatible:
// rows read back from any Store decode through DecodeRow.
type Row map[string]any

// Op is a filter comparison.
type Op int

const (
	OpEq Op = iota
	OpIsNull
	OpLt
)

// Filter restricts a statement to rows where Column <Op> Value.
type Filter struct {
	Column string
	Op     Op
	Value  any
}

func Eq(column string, value any) Filter { return Filter{Column: column, Op: OpEq, Value: value} }

func IsNull(column string) Filter { return Filter{Column: column, Op: OpIsNull} }

func Lt(column string, value any) Filter { return Filter{Column: column, Op: OpLt, Value: value} }

// Order sorts a select by a single column.
type Order struct {
	Column string
	Desc   bool
}

// Query describes a select. A zero Limit means no limit.
type Query struct {
	Filters []Filter
	Order   *Order
	Limit   int
}

// Store is the generic row store both workers are written against. The
// hosted Postgres and a local SQLite file are interchangeable behind it.
type Store interface {
	Select(ctx context.Context, table string, q Query) ([]Row, error)
	Insert(ctx context.Context, table string, row Row) (Row, error)
	// Update returns the number of rows changed, which callers use as a
	// compare-and-swap result.
	Update(ctx context.Context, table string, filters []Filter, patch Row) (int64, error)
	Delete(ctx context.Context, table string, filters []Filter) (int64, error)
}

// DecodeRow copies a row into a typed model through its JSON tags.
func DecodeRow(row Row, out any) error {
	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("encode row: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode row: %w", err)
	}
	return nil
}

// JSONColumns names the columns stored as JSON documents. Stores without a
// native JSON type return these as json.RawMessage so the document is read
// back exactly as written.
var JSONColumns = map[string]bool{
	"payload":      true,
	"subscription": true,
	"line_items":   true,
}

// JSONB is a JSON column. Any JSON value is kept as written, including a
// top-level string.
type JSONB json.RawMessage

func (j JSONB) MarshalJSON() ([]byte, error) {
	if len(j) == 0 {
		return []byte("null"), nil
	}
	return j, nil
}

func (j *JSONB) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*j = nil
		return nil
	}
	*j = append((*j)[:0], trimmed...)
	return nil
}

// Raw returns the document, or nil when the column is NULL.
func (j JSONB) Raw() json.RawMessage {
	if len(j) == 0 {
		return nil
	}
	return json.RawMessage(j)
}
