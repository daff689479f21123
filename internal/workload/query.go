package workload

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"tsdb-benchmark/internal/database"
	benchErrors "tsdb-benchmark/internal/errors"
)

type QueryType string

const (
	QueryFilter    QueryType = "filter"
	QueryAggregate QueryType = "aggregate"
	QueryGroupBy   QueryType = "group_by"
	QueryPivot     QueryType = "pivot"
	QueryJoin      QueryType = "join"
	QueryRaw       QueryType = "raw"
)

type ResultSize string

const (
	ResultSmall ResultSize = "small"
	ResultLarge ResultSize = "large"
)

const (
	limitSmall = 500
	limitLarge = 50_000

	// aggregateWindow is the bucket width of aggregate queries.
	aggregateWindow = 10 * time.Second
)

// QuerySpec describes a query workload: every worker runs the same query
// against its partition.
type QuerySpec struct {
	ScenarioID    string        `yaml:"scenario_id"`
	Measurement   string        `yaml:"measurement"`
	QueryType     QueryType     `yaml:"query_type"`
	ResultSize    ResultSize    `yaml:"result_size"`
	Limit         int           `yaml:"limit"`
	TimeRange     time.Duration `yaml:"time_range"`
	WorkerCount   int           `yaml:"workers"`
	Compression   string        `yaml:"compression"`
	RatePerWorker float64       `yaml:"rate_per_worker"`

	Partitioning `yaml:",inline"`
	Termination  `yaml:",inline"`
}

func DefaultQuerySpec() QuerySpec {
	return QuerySpec{
		Measurement:  "bench_point",
		QueryType:    QueryFilter,
		ResultSize:   ResultSmall,
		TimeRange:    time.Hour,
		WorkerCount:  1,
		Compression:  "none",
		Partitioning: Partitioning{Partition: "bench"},
		Termination:  Termination{Iterations: 1},
	}
}

func (q QuerySpec) Validate() error {
	if q.Measurement == "" {
		return benchErrors.ConfigErrorf("measurement is required")
	}
	switch q.QueryType {
	case QueryFilter, QueryAggregate, QueryGroupBy, QueryPivot, QueryJoin, QueryRaw:
	default:
		return benchErrors.NewConfigError(benchErrors.CodeUnsupportedValue, fmt.Sprintf("unsupported query_type: %s", q.QueryType))
	}
	switch q.ResultSize {
	case ResultSmall, ResultLarge:
	default:
		return benchErrors.NewConfigError(benchErrors.CodeUnsupportedValue, fmt.Sprintf("unsupported result_size: %s", q.ResultSize))
	}
	if q.Limit < 0 {
		return benchErrors.ConfigErrorf("limit must be >= 0")
	}
	if q.TimeRange <= 0 {
		return benchErrors.ConfigErrorf("time_range must be > 0")
	}
	if q.WorkerCount < 1 {
		return benchErrors.ConfigErrorf("workers must be >= 1, got %d", q.WorkerCount)
	}
	switch q.Compression {
	case "", "none", "gzip":
	default:
		return benchErrors.NewConfigError(benchErrors.CodeUnsupportedValue, fmt.Sprintf("unsupported compression: %s", q.Compression))
	}
	if q.RatePerWorker < 0 {
		return benchErrors.ConfigErrorf("rate_per_worker must be >= 0")
	}
	if err := q.Termination.validate(); err != nil {
		return err
	}
	return q.Partitioning.validate()
}

// RowLimit is Limit when set, otherwise the limit implied by ResultSize.
func (q QuerySpec) RowLimit() int {
	if q.Limit > 0 {
		return q.Limit
	}
	if q.ResultSize == ResultLarge {
		return limitLarge
	}
	return limitSmall
}

func LoadQuerySpec(path string) (QuerySpec, error) {
	spec := DefaultQuerySpec()
	if err := loadYAML(path, &spec); err != nil {
		return QuerySpec{}, err
	}
	return spec, spec.Validate()
}

// RenderQuery returns the query text for dialect against partition, with
// the time range ending at now.
func RenderQuery(dialect, partition string, q QuerySpec, now time.Time) (string, error) {
	if err := database.ValidatePartition(partition); err != nil {
		return "", err
	}
	since := now.Add(-q.TimeRange).UnixNano()
	switch dialect {
	case database.DialectPostgres, database.DialectMySQL, database.DialectSQLite:
		return renderSQL(dialect, partition, q, since), nil
	case database.DialectMongo:
		return renderMongo(partition, q, since)
	case database.DialectMemory:
		return fmt.Sprintf("measurement=%s since=%d limit=%d type=%s", q.Measurement, since, q.RowLimit(), q.QueryType), nil
	}
	return "", benchErrors.NewConfigError(benchErrors.CodeUnsupportedValue, fmt.Sprintf("no query renderer for dialect %q", dialect))
}

func sqlString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// jsonNumber extracts a numeric field from the fields document.
func jsonNumber(dialect, column, field string) string {
	switch dialect {
	case database.DialectPostgres:
		return fmt.Sprintf("(%s->>'%s')::float8", column, field)
	case database.DialectMySQL:
		return fmt.Sprintf("JSON_EXTRACT(%s, '$.%s')", column, field)
	default:
		return fmt.Sprintf("json_extract(%s, '$.%s')", column, field)
	}
}

func renderSQL(dialect, partition string, q QuerySpec, since int64) string {
	table := database.QuoteIdent(dialect, partition)
	where := fmt.Sprintf("measurement = %s AND ts >= %d", sqlString(q.Measurement), since)
	limit := q.RowLimit()
	window := int64(aggregateWindow)

	switch q.QueryType {
	case QueryFilter:
		return fmt.Sprintf("SELECT ts, device_id, %s AS value FROM %s WHERE %s AND %s > 0 LIMIT %d",
			jsonNumber(dialect, "fields", "value"), table, where, jsonNumber(dialect, "fields", "value"), limit)
	case QueryAggregate:
		return fmt.Sprintf("SELECT ts - (ts %% %d) AS bucket, AVG(%s) AS mean FROM %s WHERE %s GROUP BY ts - (ts %% %d) ORDER BY bucket LIMIT %d",
			window, jsonNumber(dialect, "fields", "value"), table, where, window, limit)
	case QueryGroupBy:
		return fmt.Sprintf("SELECT device_id, COUNT(*) AS n, AVG(%s) AS mean FROM %s WHERE %s GROUP BY device_id LIMIT %d",
			jsonNumber(dialect, "fields", "value"), table, where, limit)
	case QueryPivot:
		return fmt.Sprintf("SELECT ts, device_id, %s AS value, %s AS seq FROM %s WHERE %s ORDER BY ts LIMIT %d",
			jsonNumber(dialect, "fields", "value"), jsonNumber(dialect, "fields", "seq"), table, where, limit)
	case QueryJoin:
		return fmt.Sprintf("SELECT l.ts, l.device_id, r.writer_id FROM %s l JOIN %s r ON l.ts = r.ts AND l.run_id = r.run_id "+
			"WHERE l.measurement = %s AND l.ts >= %d LIMIT %d",
			table, table, sqlString(q.Measurement), since, limit)
	default:
		return fmt.Sprintf("SELECT * FROM %s WHERE %s LIMIT %d", table, where, limit)
	}
}

func renderMongo(partition string, q QuerySpec, since int64) (string, error) {
	match := map[string]interface{}{"$match": map[string]interface{}{
		"measurement": q.Measurement,
		"ts":          map[string]interface{}{"$gte": map[string]string{"$numberLong": fmt.Sprint(since)}},
	}}
	limit := map[string]interface{}{"$limit": q.RowLimit()}
	window := map[string]string{"$numberLong": fmt.Sprint(int64(aggregateWindow))}

	var stages []interface{}
	switch q.QueryType {
	case QueryFilter:
		stages = []interface{}{match,
			map[string]interface{}{"$match": map[string]interface{}{"fields.value": map[string]int{"$gt": 0}}},
			limit}
	case QueryAggregate:
		stages = []interface{}{match,
			map[string]interface{}{"$group": map[string]interface{}{
				"_id":  map[string]interface{}{"$subtract": []interface{}{"$ts", map[string]interface{}{"$mod": []interface{}{"$ts", window}}}},
				"mean": map[string]string{"$avg": "$fields.value"},
			}},
			map[string]interface{}{"$sort": map[string]int{"_id": 1}},
			limit}
	case QueryGroupBy:
		stages = []interface{}{match,
			map[string]interface{}{"$group": map[string]interface{}{
				"_id":  "$device_id",
				"n":    map[string]int{"$sum": 1},
				"mean": map[string]string{"$avg": "$fields.value"},
			}},
			limit}
	case QueryPivot:
		stages = []interface{}{match,
			map[string]interface{}{"$project": map[string]interface{}{
				"ts": 1, "device_id": 1, "value": "$fields.value", "seq": "$fields.seq",
			}},
			map[string]interface{}{"$sort": map[string]int{"ts": 1}},
			limit}
	case QueryJoin:
		stages = []interface{}{match,
			map[string]interface{}{"$lookup": map[string]interface{}{
				"from": partition, "localField": "ts", "foreignField": "ts", "as": "peer",
			}},
			map[string]string{"$unwind": "$peer"},
			limit}
	default:
		stages = []interface{}{match, limit}
	}

	data, err := json.Marshal(map[string]interface{}{"pipeline": stages})
	if err != nil {
		return "", err
	}
	return string(data), nil
}
