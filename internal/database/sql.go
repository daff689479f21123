package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// insertChunk keeps multi-row INSERTs under the placeholder limits of
// both MySQL and SQLite.
const insertChunk = 1000

var pointColumns = []string{"measurement", "run_id", "writer_id", "device_id", "ts", "fields"}

// SQLStore adapts a database/sql handle (MySQL or SQLite) to Store.
type SQLStore struct {
	db       *sql.DB
	dialect  string
	endpoint string
}

func OpenMySQL(ctx context.Context, cfg Config) (Store, error) {
	parsed, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, err
	}
	store, err := newSQLStore(ctx, db, DialectMySQL, fmt.Sprintf("mysql://%s/%s", parsed.Addr, parsed.DBName))
	if err != nil {
		return nil, err
	}
	return store, nil
}

func OpenSQLite(ctx context.Context, cfg Config) (Store, error) {
	db, err := sql.Open("sqlite3", cfg.DSN)
	if err != nil {
		return nil, err
	}
	path := strings.TrimPrefix(cfg.DSN, "file:")
	if i := strings.Index(path, "?"); i >= 0 {
		path = path[:i]
	}
	store, err := newSQLStore(ctx, db, DialectSQLite, "sqlite://"+path)
	if err != nil {
		return nil, err
	}
	return store, nil
}

func newSQLStore(ctx context.Context, db *sql.DB, dialect, endpoint string) (*SQLStore, error) {
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLStore{db: db, dialect: dialect, endpoint: endpoint}, nil
}

func (s *SQLStore) Endpoint() string { return s.endpoint }

func (s *SQLStore) Dialect() string { return s.dialect }

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) EnsurePartition(ctx context.Context, partition string) error {
	if err := ValidatePartition(partition); err != nil {
		return err
	}
	for _, stmt := range PointsSchema(s.dialect, partition) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) WriteBatch(ctx context.Context, partition string, points []Point) error {
	if err := ValidatePartition(partition); err != nil {
		return err
	}
	if len(points) == 0 {
		return nil
	}
	return s.executeTx(ctx, func(tx *sql.Tx) error {
		for start := 0; start < len(points); start += insertChunk {
			end := min(start+insertChunk, len(points))
			query, args, err := s.insertStatement(partition, points[start:end])
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLStore) executeTx(ctx context.Context, txFunc func(*sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		} else if err != nil {
			tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()

	err = txFunc(tx)
	return err
}

func (s *SQLStore) insertStatement(table string, points []Point) (string, []interface{}, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", QuoteIdent(s.dialect, table), strings.Join(pointColumns, ", "))
	args := make([]interface{}, 0, len(points)*len(pointColumns))
	for i, p := range points {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(?, ?, ?, ?, ?, ?)")
		fields, err := json.Marshal(p.Fields)
		if err != nil {
			return "", nil, err
		}
		args = append(args, p.Measurement, tagOrEmpty(p, TagRunID), tagOrEmpty(p, TagWriterID),
			tagOrEmpty(p, TagDeviceID), p.UnixNano(), string(fields))
	}
	return b.String(), args, nil
}

func (s *SQLStore) RunQuery(ctx context.Context, partition, queryText string) (QueryStats, error) {
	var stats QueryStats
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, queryText)
	if err != nil {
		return stats, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return stats, err
	}
	vals := make([]interface{}, len(cols))
	ptrs := make([]interface{}, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for rows.Next() {
		if stats.Rows == 0 {
			stats.TimeToFirstRow = time.Since(start)
		}
		if err := rows.Scan(ptrs...); err != nil {
			return stats, err
		}
		stats.Rows++
		stats.Bytes += rowBytes(vals)
	}
	return stats, rows.Err()
}

func (s *SQLStore) DeleteByPredicate(ctx context.Context, partition string, start, stop time.Time, pred Predicate) error {
	if err := ValidatePartition(partition); err != nil {
		return err
	}
	where, args := predicateSQL(start, stop, pred.Measurement, pred.RunID, func(int) string { return "?" })
	_, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s", QuoteIdent(s.dialect, partition), where), args...)
	return err
}

func (s *SQLStore) CountPoints(ctx context.Context, partition, measurement, runID string) (int64, error) {
	if err := ValidatePartition(partition); err != nil {
		return 0, err
	}
	where, args := predicateSQL(time.Time{}, time.Time{}, measurement, runID, func(int) string { return "?" })
	var n int64
	err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", QuoteIdent(s.dialect, partition), where), args...).Scan(&n)
	return n, err
}

func (s *SQLStore) DropPartition(ctx context.Context, partition string) error {
	if err := ValidatePartition(partition); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+QuoteIdent(s.dialect, partition))
	return err
}

// predicateSQL renders the WHERE clause shared by delete and count.
func predicateSQL(start, stop time.Time, measurement, runID string, placeholder func(int) string) (string, []interface{}) {
	lo, hi := nanosRange(start, stop)
	args := []interface{}{lo, hi}
	conds := []string{"ts >= " + placeholder(1), "ts < " + placeholder(2)}
	if measurement != "" {
		args = append(args, measurement)
		conds = append(conds, "measurement = "+placeholder(len(args)))
	}
	if runID != "" {
		args = append(args, runID)
		conds = append(conds, "run_id = "+placeholder(len(args)))
	}
	return strings.Join(conds, " AND "), args
}

// rowBytes approximates the payload size of one result row by its JSON
// encoding plus a newline.
func rowBytes(vals []interface{}) int64 {
	out := make([]interface{}, len(vals))
	for i, v := range vals {
		if b, ok := v.([]byte); ok {
			out[i] = string(b)
			continue
		}
		out[i] = v
	}
	data, err := json.Marshal(out)
	if err != nil {
		return int64(len(fmt.Sprint(vals))) + 1
	}
	return int64(len(data)) + 1
}
