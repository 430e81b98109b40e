package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// GormStore implements Store over any gorm dialector. The workers use it
// with SQLite for local runs; it has no dependency on Postgres features.
type GormStore struct {
	db      *gorm.DB
	logger  *zap.Logger
	timeout time.Duration
}

// OpenSQLite opens (or creates) a SQLite database file. ":memory:" works for tests.
func OpenSQLite(path string, queryTimeout time.Duration, logger *zap.Logger) (*GormStore, error) {
	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	// A single connection keeps ":memory:" databases shared across calls
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	logger.Info("sqlite datastore opened", zap.String("path", path))
	return NewGormStore(gdb, queryTimeout, logger), nil
}

func NewGormStore(gdb *gorm.DB, queryTimeout time.Duration, logger *zap.Logger) *GormStore {
	if queryTimeout == 0 {
		queryTimeout = 10 * time.Second
	}
	return &GormStore{db: gdb, logger: logger, timeout: queryTimeout}
}

// DB exposes the gorm handle for schema setup.
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStore) Select(ctx context.Context, table string, q Query) ([]Row, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx := s.db.WithContext(ctx).Table(table)
	if exprs := gormWhere(q.Filters); len(exprs) > 0 {
		tx = tx.Clauses(clause.Where{Exprs: exprs})
	}
	if q.Order != nil {
		tx = tx.Order(clause.OrderByColumn{Column: clause.Column{Name: q.Order.Column}, Desc: q.Order.Desc})
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}

	var results []map[string]any
	if err := tx.Find(&results).Error; err != nil {
		s.logger.Error("select failed", zap.String("table", table), zap.Error(err))
		return nil, fmt.Errorf("select %s: %w", table, err)
	}

	rows := make([]Row, 0, len(results))
	for _, r := range results {
		rows = append(rows, readRow(r))
	}
	return rows, nil
}

func (s *GormStore) Insert(ctx context.Context, table string, row Row) (Row, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	values := writeRow(row)
	if err := s.db.WithContext(ctx).Table(table).Create(values).Error; err != nil {
		s.logger.Error("insert failed", zap.String("table", table), zap.Error(err))
		return nil, fmt.Errorf("insert %s: %w", table, err)
	}

	id, ok := row["id"]
	if !ok {
		return row, nil
	}
	rows, err := s.Select(ctx, table, Query{Filters: []Filter{Eq("id", id)}, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("insert %s: %w", table, ErrNotFound)
	}
	return rows[0], nil
}

func (s *GormStore) Update(ctx context.Context, table string, filters []Filter, patch Row) (int64, error) {
	if len(patch) == 0 {
		return 0, nil
	}
	exprs := gormWhere(filters)
	if len(exprs) == 0 {
		return 0, errors.New("update without filters is not allowed")
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res := s.db.WithContext(ctx).Table(table).Clauses(clause.Where{Exprs: exprs}).Updates(writeRow(patch))
	if res.Error != nil {
		s.logger.Error("update failed", zap.String("table", table), zap.Error(res.Error))
		return 0, fmt.Errorf("update %s: %w", table, res.Error)
	}
	return res.RowsAffected, nil
}

func (s *GormStore) Delete(ctx context.Context, table string, filters []Filter) (int64, error) {
	if len(filters) == 0 {
		return 0, errors.New("delete without filters is not allowed")
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	conds := make([]string, 0, len(filters))
	args := make([]any, 0, len(filters))
	for _, f := range filters {
		switch {
		case f.Op == OpIsNull, f.Op == OpEq && f.Value == nil:
			conds = append(conds, quoteIdent(f.Column)+" IS NULL")
		case f.Op == OpLt:
			conds = append(conds, quoteIdent(f.Column)+" < ?")
			args = append(args, writeValue(f.Value))
		default:
			conds = append(conds, quoteIdent(f.Column)+" = ?")
			args = append(args, writeValue(f.Value))
		}
	}

	sql := "DELETE FROM " + quoteIdent(table) + " WHERE " + strings.Join(conds, " AND ")
	res := s.db.WithContext(ctx).Exec(sql, args...)
	if res.Error != nil {
		s.logger.Error("delete failed", zap.String("table", table), zap.Error(res.Error))
		return 0, fmt.Errorf("delete %s: %w", table, res.Error)
	}
	return res.RowsAffected, nil
}

func gormWhere(filters []Filter) []clause.Expression {
	exprs := make([]clause.Expression, 0, len(filters))
	for _, f := range filters {
		col := clause.Column{Name: f.Column}
		switch f.Op {
		case OpIsNull:
			exprs = append(exprs, clause.Eq{Column: col, Value: nil})
		case OpLt:
			exprs = append(exprs, clause.Lt{Column: col, Value: writeValue(f.Value)})
		default:
			exprs = append(exprs, clause.Eq{Column: col, Value: writeValue(f.Value)})
		}
	}
	return exprs
}

// writeRow flattens JSON documents to text; SQLite has no JSON column type.
func writeRow(row Row) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		out[k] = writeValue(v)
	}
	return out
}

func writeValue(v any) any {
	switch val := v.(type) {
	case json.RawMessage:
		if val == nil {
			return nil
		}
		return string(val)
	case JSONB:
		if val == nil {
			return nil
		}
		return string(val)
	case map[string]any, []any:
		data, err := json.Marshal(val)
		if err != nil {
			return nil
		}
		return string(data)
	case time.Time:
		return val.UTC()
	case fmt.Stringer:
		return val.String()
	default:
		return v
	}
}

func readRow(r map[string]any) Row {
	row := make(Row, len(r))
	for k, v := range r {
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		if s, ok := v.(string); ok && JSONColumns[k] && json.Valid([]byte(s)) {
			row[k] = json.RawMessage(s)
			continue
		}
		row[k] = v
	}
	return row
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
