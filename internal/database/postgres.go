package database

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
)

type PostgresStore struct {
	conn     *pgx.Conn
	endpoint string
}

func OpenPostgres(ctx context.Context, cfg Config) (Store, error) {
	conn, err := pgx.Connect(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	pc := conn.Config()
	endpoint := fmt.Sprintf("postgres://%s:%d/%s", pc.Host, pc.Port, pc.Database)
	return &PostgresStore{conn: conn, endpoint: endpoint}, nil
}

func (ps *PostgresStore) Endpoint() string { return ps.endpoint }

func (ps *PostgresStore) Dialect() string { return DialectPostgres }

func (ps *PostgresStore) Close() error {
	return ps.conn.Close(context.Background())
}

func (ps *PostgresStore) EnsurePartition(ctx context.Context, partition string) error {
	if err := ValidatePartition(partition); err != nil {
		return err
	}
	return ps.executeTx(ctx, func(tx pgx.Tx) error {
		for _, stmt := range PointsSchema(DialectPostgres, partition) {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	})
}

func (ps *PostgresStore) executeTx(ctx context.Context, txFunc func(pgx.Tx) error) (err error) {
	tx, err := ps.conn.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback(ctx)
			panic(p)
		} else if err != nil {
			tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	err = txFunc(tx)
	return err
}

func (ps *PostgresStore) WriteBatch(ctx context.Context, partition string, points []Point) error {
	if err := ValidatePartition(partition); err != nil {
		return err
	}
	_, err := ps.conn.CopyFrom(ctx, pgx.Identifier{partition}, pointColumns,
		pgx.CopyFromSlice(len(points), func(i int) ([]interface{}, error) {
			p := points[i]
			return []interface{}{
				p.Measurement,
				tagOrEmpty(p, TagRunID),
				tagOrEmpty(p, TagWriterID),
				tagOrEmpty(p, TagDeviceID),
				p.UnixNano(),
				p.Fields,
			}, nil
		}))
	return err
}

func (ps *PostgresStore) RunQuery(ctx context.Context, partition, queryText string) (QueryStats, error) {
	var stats QueryStats
	start := time.Now()
	rows, err := ps.conn.Query(ctx, queryText)
	if err != nil {
		return stats, err
	}
	defer rows.Close()

	for rows.Next() {
		if stats.Rows == 0 {
			stats.TimeToFirstRow = time.Since(start)
		}
		vals, err := rows.Values()
		if err != nil {
			return stats, err
		}
		stats.Rows++
		stats.Bytes += rowBytes(vals)
	}
	return stats, rows.Err()
}

func (ps *PostgresStore) DeleteByPredicate(ctx context.Context, partition string, start, stop time.Time, pred Predicate) error {
	if err := ValidatePartition(partition); err != nil {
		return err
	}
	where, args := predicateSQL(start, stop, pred.Measurement, pred.RunID, pgPlaceholder)
	_, err := ps.conn.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s", QuoteIdent(DialectPostgres, partition), where), args...)
	return err
}

func (ps *PostgresStore) CountPoints(ctx context.Context, partition, measurement, runID string) (int64, error) {
	if err := ValidatePartition(partition); err != nil {
		return 0, err
	}
	where, args := predicateSQL(time.Time{}, time.Time{}, measurement, runID, pgPlaceholder)
	var n int64
	err := ps.conn.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", QuoteIdent(DialectPostgres, partition), where), args...).Scan(&n)
	return n, err
}

func (ps *PostgresStore) DropPartition(ctx context.Context, partition string) error {
	if err := ValidatePartition(partition); err != nil {
		return err
	}
	_, err := ps.conn.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", QuoteIdent(DialectPostgres, partition)))
	return err
}

func pgPlaceholder(i int) string {
	return "$" + strconv.Itoa(i)
}
