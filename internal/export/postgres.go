package export

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"tsdb-benchmark/internal/database"
)

// PostgresExporter writes rows to a bench_results table.
type PostgresExporter struct {
	conn  *pgx.Conn
	table string
}

func resultsSchema(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	kind TEXT NOT NULL,
	scenario_id TEXT NOT NULL,
	run_id TEXT NOT NULL,
	git_sha TEXT NOT NULL DEFAULT '',
	env_name TEXT NOT NULL DEFAULT '',
	tags JSONB NOT NULL,
	fields JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
)`, database.QuoteIdent(database.DialectPostgres, table))
}

func NewPostgresExporter(ctx context.Context, dsn, table string) (*PostgresExporter, error) {
	if err := database.ValidatePartition(table); err != nil {
		return nil, err
	}
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(ctx, resultsSchema(table)); err != nil {
		conn.Close(ctx)
		return nil, err
	}
	return &PostgresExporter{conn: conn, table: table}, nil
}

func (pe *PostgresExporter) Export(ctx context.Context, row Row) error {
	tags, err := json.Marshal(row.Tags)
	if err != nil {
		return err
	}
	fields, err := json.Marshal(row.Fields)
	if err != nil {
		return err
	}
	_, err = pe.conn.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (kind, scenario_id, run_id, git_sha, env_name, tags, fields, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, database.QuoteIdent(database.DialectPostgres, pe.table)),
		row.Kind, row.ScenarioID, row.RunID, row.GitSHA, row.EnvName, string(tags), string(fields), row.CreatedAt)
	return err
}

func (pe *PostgresExporter) LatestBySHA(ctx context.Context, gitSHA string) ([]Row, error) {
	rows, err := pe.conn.Query(ctx, fmt.Sprintf(`SELECT DISTINCT ON (kind, scenario_id)
	kind, scenario_id, run_id, git_sha, env_name, tags::text, fields::text, created_at
FROM %s WHERE git_sha = $1
ORDER BY kind, scenario_id, created_at DESC`, database.QuoteIdent(database.DialectPostgres, pe.table)), gitSHA)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		var tags, fields string
		if err := rows.Scan(&r.Kind, &r.ScenarioID, &r.RunID, &r.GitSHA, &r.EnvName, &tags, &fields, &r.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(tags), &r.Tags); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(fields), &r.Fields); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (pe *PostgresExporter) Close() error {
	return pe.conn.Close(context.Background())
}
