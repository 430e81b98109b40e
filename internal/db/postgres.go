package db

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// DB wraps the pgx connection pool
type DB struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// Config holds database connection parameters. URL wins over the discrete fields.
type Config struct {
	URL      string
	Host     string
	Password string
	User     string
	Database string
	SSLMode  string
	Port     int
}

func (cfg Config) dsn() string {
	if cfg.URL != "" {
		return cfg.URL
	}
	if cfg.Password != "" {
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
		)
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Database, cfg.SSLMode,
	)
}

// New creates a new database connection pool
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	// Pool settings - workers are sequential, the hosted database caps connections
	poolConfig.MaxConns = 5
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = 1 * time.Hour
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.Info("database connection established",
		zap.String("host", poolConfig.ConnConfig.Host),
		zap.Uint16("port", poolConfig.ConnConfig.Port),
		zap.String("database", poolConfig.ConnConfig.Database),
		zap.Int32("max_conns", poolConfig.MaxConns),
	)

	return &DB{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (db *DB) Close() {
	db.logger.Info("closing database connection pool")
	db.pool.Close()
}

// Pool returns the underlying connection pool
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Health checks if the database is reachable
func (db *DB) Health(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// PostgresStore implements Store with hand-built SQL over the pool. Rows are
// read through row_to_json so every value comes back JSON-native.
type PostgresStore struct {
	db      *DB
	timeout time.Duration
}

func NewPostgresStore(db *DB, queryTimeout time.Duration) *PostgresStore {
	if queryTimeout == 0 {
		queryTimeout = 10 * time.Second
	}
	return &PostgresStore{db: db, timeout: queryTimeout}
}

func (s *PostgresStore) Select(ctx context.Context, table string, q Query) ([]Row, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var sb strings.Builder
	sb.WriteString("SELECT row_to_json(t)::text FROM (SELECT * FROM ")
	sb.WriteString(ident(table))
	where, args := pgWhere(q.Filters, nil)
	sb.WriteString(where)
	if q.Order != nil {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(ident(q.Order.Column))
		if q.Order.Desc {
			sb.WriteString(" DESC")
		} else {
			sb.WriteString(" ASC")
		}
	}
	if q.Limit > 0 {
		sb.WriteString(" LIMIT ")
		sb.WriteString(strconv.Itoa(q.Limit))
	}
	sb.WriteString(") t")

	rows, err := s.db.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		s.db.logger.Error("select failed", zap.String("table", table), zap.Error(err))
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		row, err := decodeJSONRow(raw)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", table, err)
	}
	return out, nil
}

func (s *PostgresStore) Insert(ctx context.Context, table string, row Row) (Row, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cols := sortedColumns(row)
	quoted := make([]string, len(cols))
	placeholders := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		quoted[i] = ident(c)
		placeholders[i] = "$" + strconv.Itoa(i+1)
		args[i] = row[c]
	}

	query := fmt.Sprintf(
		"INSERT INTO %s AS t (%s) VALUES (%s) RETURNING row_to_json(t)::text",
		ident(table), strings.Join(quoted, ", "), strings.Join(placeholders, ", "),
	)

	var raw string
	if err := s.db.pool.QueryRow(ctx, query, args...).Scan(&raw); err != nil {
		s.db.logger.Error("insert failed", zap.String("table", table), zap.Error(err))
		return nil, fmt.Errorf("insert %s: %w", table, err)
	}
	return decodeJSONRow(raw)
}

func (s *PostgresStore) Update(ctx context.Context, table string, filters []Filter, patch Row) (int64, error) {
	if len(patch) == 0 {
		return 0, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cols := sortedColumns(patch)
	sets := make([]string, len(cols))
	args := make([]any, 0, len(cols)+len(filters))
	for i, c := range cols {
		args = append(args, patch[c])
		sets[i] = ident(c) + " = $" + strconv.Itoa(len(args))
	}
	where, args := pgWhere(filters, args)

	query := "UPDATE " + ident(table) + " SET " + strings.Join(sets, ", ") + where
	tag, err := s.db.pool.Exec(ctx, query, args...)
	if err != nil {
		s.db.logger.Error("update failed", zap.String("table", table), zap.Error(err))
		return 0, fmt.Errorf("update %s: %w", table, err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) Delete(ctx context.Context, table string, filters []Filter) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	where, args := pgWhere(filters, nil)
	tag, err := s.db.pool.Exec(ctx, "DELETE FROM "+ident(table)+where, args...)
	if err != nil {
		s.db.logger.Error("delete failed", zap.String("table", table), zap.Error(err))
		return 0, fmt.Errorf("delete %s: %w", table, err)
	}
	return tag.RowsAffected(), nil
}

// pgWhere renders filters with $n placeholders continuing after args.
func pgWhere(filters []Filter, args []any) (string, []any) {
	if len(filters) == 0 {
		return "", args
	}
	conds := make([]string, 0, len(filters))
	for _, f := range filters {
		switch f.Op {
		case OpIsNull:
			conds = append(conds, ident(f.Column)+" IS NULL")
		case OpLt:
			args = append(args, f.Value)
			conds = append(conds, ident(f.Column)+" < $"+strconv.Itoa(len(args)))
		default:
			if f.Value == nil {
				conds = append(conds, ident(f.Column)+" IS NULL")
				continue
			}
			args = append(args, f.Value)
			conds = append(conds, ident(f.Column)+" = $"+strconv.Itoa(len(args)))
		}
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func sortedColumns(row Row) []string {
	cols := make([]string, 0, len(row))
	for c := range row {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

func decodeJSONRow(raw string) (Row, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var row Row
	if err := dec.Decode(&row); err != nil {
		return nil, err
	}
	return row, nil
}
