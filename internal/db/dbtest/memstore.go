// Package dbtest provides an in-memory db.Store for worker tests.
package dbtest

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/redgarden/venue-workers/internal/db"
)

// MemStore keeps tables as ordered slices of rows. It is safe for concurrent use.
type MemStore struct {
	mu     sync.Mutex
	tables map[string][]db.Row

	// SelectErr, when set, fails every Select on the named table.
	SelectErr map[string]error
	// Calls counts statements per "op:table", e.g. "update:notifications".
	Calls map[string]int
}

func NewMemStore() *MemStore {
	return &MemStore{
		tables:    make(map[string][]db.Row),
		SelectErr: make(map[string]error),
		Calls:     make(map[string]int),
	}
}

// Seed appends rows to a table without going through Insert.
func (m *MemStore) Seed(table string, rows ...db.Row) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rows {
		m.tables[table] = append(m.tables[table], copyRow(r))
	}
}

// Rows returns a copy of a table's contents in insertion order.
func (m *MemStore) Rows(table string) []db.Row {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]db.Row, 0, len(m.tables[table]))
	for _, r := range m.tables[table] {
		out = append(out, copyRow(r))
	}
	return out
}

// Find returns the row whose id matches, or nil.
func (m *MemStore) Find(table string, id any) db.Row {
	for _, r := range m.Rows(table) {
		if equal(r["id"], id) {
			return r
		}
	}
	return nil
}

func (m *MemStore) Select(ctx context.Context, table string, q db.Query) ([]db.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["select:"+table]++

	if err := m.SelectErr[table]; err != nil {
		return nil, err
	}

	var out []db.Row
	for _, r := range m.tables[table] {
		if matches(r, q.Filters) {
			out = append(out, copyRow(r))
		}
	}
	if q.Order != nil {
		col, desc := q.Order.Column, q.Order.Desc
		sort.SliceStable(out, func(i, j int) bool {
			if desc {
				return less(out[j][col], out[i][col])
			}
			return less(out[i][col], out[j][col])
		})
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *MemStore) Insert(ctx context.Context, table string, row db.Row) (db.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["insert:"+table]++

	stored := copyRow(row)
	m.tables[table] = append(m.tables[table], stored)
	return copyRow(stored), nil
}

func (m *MemStore) Update(ctx context.Context, table string, filters []db.Filter, patch db.Row) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["update:"+table]++

	var n int64
	for _, r := range m.tables[table] {
		if !matches(r, filters) {
			continue
		}
		for k, v := range patch {
			r[k] = v
		}
		n++
	}
	return n, nil
}

func (m *MemStore) Delete(ctx context.Context, table string, filters []db.Filter) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["delete:"+table]++

	kept := m.tables[table][:0]
	var n int64
	for _, r := range m.tables[table] {
		if matches(r, filters) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	m.tables[table] = kept
	return n, nil
}

func matches(r db.Row, filters []db.Filter) bool {
	for _, f := range filters {
		v := r[f.Column]
		switch f.Op {
		case db.OpIsNull:
			if !isNull(v) {
				return false
			}
		case db.OpLt:
			if isNull(v) || !less(v, f.Value) {
				return false
			}
		default:
			if f.Value == nil {
				if !isNull(v) {
					return false
				}
				continue
			}
			if !equal(v, f.Value) {
				return false
			}
		}
	}
	return true
}

func isNull(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Map, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

func equal(a, b any) bool {
	return normalize(a) == normalize(b)
}

// normalize maps values to a comparable form: numbers to float64, ids to strings.
func normalize(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		return val
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return val.String()
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case int32:
		return float64(val)
	case float32:
		return float64(val)
	case float64:
		return val
	case bool:
		return val
	default:
		return fmt.Sprint(val)
	}
}

func less(a, b any) bool {
	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return ta.Before(tb)
		}
	}
	na, aNum := number(a)
	nb, bNum := number(b)
	if aNum && bNum {
		return na < nb
	}
	return fmt.Sprint(normalize(a)) < fmt.Sprint(normalize(b))
}

func number(v any) (float64, bool) {
	switch val := v.(type) {
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case float64:
		return val, true
	case string:
		f, err := strconv.ParseFloat(val, 64)
		return f, err == nil
	}
	return 0, false
}

func copyRow(r db.Row) db.Row {
	out := make(db.Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
