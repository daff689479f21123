package database

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strings"
	"time"

	benchErrors "tsdb-benchmark/internal/errors"
)

// Tag keys written on every benchmark point.
const (
	TagDeviceID = "device_id"
	TagRunID    = "run_id"
	TagWriterID = "writer_id"
)

// Dialects returned by Store.Dialect.
const (
	DialectPostgres = "postgres"
	DialectMySQL    = "mysql"
	DialectSQLite   = "sqlite"
	DialectMongo    = "mongo"
	DialectMemory   = "memory"
)

type Precision string

const (
	PrecisionNS Precision = "ns"
	PrecisionMS Precision = "ms"
	PrecisionS  Precision = "s"
)

func ParsePrecision(s string) (Precision, error) {
	switch p := Precision(strings.ToLower(s)); p {
	case PrecisionNS, PrecisionMS, PrecisionS:
		return p, nil
	}
	return "", benchErrors.NewConfigError(benchErrors.CodeUnsupportedValue, fmt.Sprintf("unsupported precision: %s", s))
}

// Unit is the duration of one timestamp tick.
func (p Precision) Unit() time.Duration {
	switch p {
	case PrecisionMS:
		return time.Millisecond
	case PrecisionS:
		return time.Second
	default:
		return time.Nanosecond
	}
}

// Now returns the current wall-clock time in ticks of p.
func (p Precision) Now() int64 {
	return time.Now().UnixNano() / int64(p.Unit())
}

// Point is one synthetic time-series point.
type Point struct {
	Measurement string
	Tags        map[string]string
	Fields      map[string]interface{}
	Timestamp   int64
	Precision   Precision
}

func (p Point) UnixNano() int64 {
	return p.Timestamp * int64(p.Precision.Unit())
}

func (p Point) Time() time.Time {
	return time.Unix(0, p.UnixNano())
}

// QueryStats is what a query returned and how fast the first row arrived.
type QueryStats struct {
	Rows           int64
	Bytes          int64
	TimeToFirstRow time.Duration
}

// Predicate scopes a delete. An empty predicate matches every point in the
// partition.
type Predicate struct {
	Measurement string
	RunID       string
}

func (p Predicate) IsWildcard() bool {
	return p.Measurement == "" && p.RunID == ""
}

// Store is the capability the engine drives. Implementations are not
// required to be safe for concurrent use; every worker opens its own handle.
type Store interface {
	EnsurePartition(ctx context.Context, partition string) error
	WriteBatch(ctx context.Context, partition string, points []Point) error
	RunQuery(ctx context.Context, partition, queryText string) (QueryStats, error)
	DeleteByPredicate(ctx context.Context, partition string, start, stop time.Time, pred Predicate) error
	CountPoints(ctx context.Context, partition, measurement, runID string) (int64, error)
	Endpoint() string
	Dialect() string
	Close() error
}

// PartitionDropper is implemented by stores that can remove a partition.
type PartitionDropper interface {
	DropPartition(ctx context.Context, partition string) error
}

// Connector opens a fresh Store handle.
type Connector func(ctx context.Context) (Store, error)

// StatusError carries a transport-specific status code.
type StatusError struct {
	Code int
	Err  error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %v", e.Code, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

func (e *StatusError) StatusCode() int { return e.Code }

// StatusCodeOf returns the status code carried by err, if any.
func StatusCodeOf(err error) (int, bool) {
	var sc interface{ StatusCode() int }
	if errors.As(err, &sc) {
		return sc.StatusCode(), true
	}
	return 0, false
}

// Config selects and parameterises a driver.
type Config struct {
	Driver      string `yaml:"driver"`
	DSN         string `yaml:"dsn"`
	Database    string `yaml:"database"`
	Compression string `yaml:"compression"`
}

// NewConnector returns a Connector for cfg.Driver.
func NewConnector(cfg Config) (Connector, error) {
	switch cfg.Driver {
	case DialectPostgres:
		return func(ctx context.Context) (Store, error) { return OpenPostgres(ctx, cfg) }, nil
	case DialectMySQL:
		return func(ctx context.Context) (Store, error) { return OpenMySQL(ctx, cfg) }, nil
	case DialectSQLite:
		return func(ctx context.Context) (Store, error) { return OpenSQLite(ctx, cfg) }, nil
	case DialectMongo:
		return func(ctx context.Context) (Store, error) { return OpenMongo(ctx, cfg) }, nil
	case DialectMemory:
		return NewMemoryBackend().Connector(), nil
	}
	return nil, benchErrors.NewConfigError(benchErrors.CodeUnsupportedValue, fmt.Sprintf("unsupported store driver: %q", cfg.Driver))
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// ValidatePartition rejects names that cannot be used as table or
// collection identifiers.
func ValidatePartition(name string) error {
	if !identRe.MatchString(name) {
		return benchErrors.NewConfigError(benchErrors.CodeInvalidConfig, fmt.Sprintf("invalid partition name: %q", name))
	}
	return nil
}

// redactDSN strips credentials and query parameters from a URL-style DSN.
func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.Host == "" {
		if i := strings.Index(dsn, "@"); i >= 0 {
			return dsn[i+1:]
		}
		return dsn
	}
	u.User = nil
	u.RawQuery = ""
	return u.String()
}

func nanosRange(start, stop time.Time) (int64, int64) {
	lo, hi := start.UnixNano(), stop.UnixNano()
	if stop.IsZero() || stop.Year() >= 2262 {
		hi = math.MaxInt64
	}
	if start.IsZero() || start.Year() < 1678 {
		lo = math.MinInt64
	}
	return lo, hi
}

func tagOrEmpty(p Point, key string) string {
	if p.Tags == nil {
		return ""
	}
	return p.Tags[key]
}
