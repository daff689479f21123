package database

import "fmt"

// PointsSchema returns the DDL statements that create a partition table.
func PointsSchema(dialect, table string) []string {
	switch dialect {
	case DialectPostgres:
		return []string{
			fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			measurement TEXT NOT NULL,
			run_id TEXT NOT NULL,
			writer_id TEXT NOT NULL,
			device_id TEXT NOT NULL,
			ts BIGINT NOT NULL,
			fields JSONB NOT NULL
		)`, QuoteIdent(dialect, table)),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (measurement, run_id, ts)`,
				QuoteIdent(dialect, table+"_run_idx"), QuoteIdent(dialect, table)),
		}
	case DialectMySQL:
		return []string{fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			measurement VARCHAR(255) NOT NULL,
			run_id VARCHAR(64) NOT NULL,
			writer_id VARCHAR(128) NOT NULL,
			device_id VARCHAR(64) NOT NULL,
			ts BIGINT NOT NULL,
			fields JSON NOT NULL,
			INDEX run_idx (measurement, run_id, ts)
		)`, QuoteIdent(dialect, table))}
	case DialectSQLite:
		return []string{
			fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			measurement TEXT NOT NULL,
			run_id TEXT NOT NULL,
			writer_id TEXT NOT NULL,
			device_id TEXT NOT NULL,
			ts INTEGER NOT NULL,
			fields TEXT NOT NULL
		)`, QuoteIdent(dialect, table)),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (measurement, run_id, ts)`,
				QuoteIdent(dialect, table+"_run_idx"), QuoteIdent(dialect, table)),
		}
	}
	return nil
}

/*
MongoDB document structure, one collection per partition:

points: {
  _id: <ObjectId>,
  measurement: <string>,
  run_id: <string>,
  writer_id: <string>,
  device_id: <string>,
  ts: <int64, unix nanoseconds>,
  fields: { value: <double>, seq: <int64>, aux1..aux3: <double> }
}

*/

// QuoteIdent quotes a name that already passed ValidatePartition.
func QuoteIdent(dialect, name string) string {
	if dialect == DialectMySQL {
		return "`" + name + "`"
	}
	return `"` + name + `"`
}
