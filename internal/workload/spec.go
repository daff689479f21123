// Package workload describes what a benchmark run does: the write and query
// specs, the synthetic point generator and the per-dialect query texts.
package workload

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"tsdb-benchmark/internal/database"
	benchErrors "tsdb-benchmark/internal/errors"
)

type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

type Ordering string

const (
	OrderingInOrder    Ordering = "in_order"
	OrderingOutOfOrder Ordering = "out_of_order"
)

// Partitioning selects either one named partition or PartitionCount
// partitions named <PartitionPrefix>_<i>.
type Partitioning struct {
	Partition       string `yaml:"partition"`
	PartitionPrefix string `yaml:"partition_prefix"`
	PartitionCount  int    `yaml:"partition_count"`
}

func (p Partitioning) Multi() bool { return p.PartitionPrefix != "" }

func (p Partitioning) Partitions() []string {
	if !p.Multi() {
		return []string{p.Partition}
	}
	names := make([]string, p.PartitionCount)
	for i := range names {
		names[i] = fmt.Sprintf("%s_%d", p.PartitionPrefix, i)
	}
	return names
}

// Label is the bucket identity recorded in report meta.
func (p Partitioning) Label() string {
	if p.Multi() {
		return p.PartitionPrefix + "_*"
	}
	return p.Partition
}

func (p Partitioning) validate() error {
	if p.Multi() {
		if p.PartitionCount < 1 {
			return benchErrors.ConfigErrorf("partition_count must be >= 1, got %d", p.PartitionCount)
		}
	} else if p.PartitionCount > 1 {
		return benchErrors.ConfigErrorf("partition_count %d requires partition_prefix", p.PartitionCount)
	}
	for _, name := range p.Partitions() {
		if err := database.ValidatePartition(name); err != nil {
			return err
		}
	}
	return nil
}

// Termination is either a fixed count of iterations per worker or a
// wall-clock duration, never both.
type Termination struct {
	Iterations int           `yaml:"iterations"`
	Duration   time.Duration `yaml:"duration"`
}

func (t Termination) CountBounded() bool { return t.Iterations > 0 }

func (t Termination) validate() error {
	switch {
	case t.Iterations < 0 || t.Duration < 0:
		return benchErrors.ConfigErrorf("iterations and duration must not be negative")
	case t.Iterations > 0 && t.Duration > 0:
		return benchErrors.ConfigErrorf("iterations and duration are mutually exclusive")
	case t.Iterations == 0 && t.Duration == 0:
		return benchErrors.ConfigErrorf("one of iterations or duration is required")
	}
	return nil
}

// Spec describes a write workload.
type Spec struct {
	ScenarioID      string             `yaml:"scenario_id"`
	Measurement     string             `yaml:"measurement"`
	BatchSize       int                `yaml:"batch_size"`
	WorkerCount     int                `yaml:"workers"`
	Precision       database.Precision `yaml:"precision"`
	PointComplexity Complexity         `yaml:"point_complexity"`
	TagCardinality  int                `yaml:"tag_cardinality"`
	TimeOrdering    Ordering           `yaml:"time_ordering"`
	Compression     string             `yaml:"compression"`
	RatePerWorker   float64            `yaml:"rate_per_worker"`
	Seed            uint64             `yaml:"seed"`

	Partitioning `yaml:",inline"`
	Termination  `yaml:",inline"`
}

func DefaultSpec() Spec {
	return Spec{
		Measurement:     "bench_point",
		BatchSize:       1000,
		WorkerCount:     1,
		Precision:       database.PrecisionNS,
		PointComplexity: ComplexityLow,
		TagCardinality:  1,
		TimeOrdering:    OrderingInOrder,
		Compression:     "none",
		Partitioning:    Partitioning{Partition: "bench"},
	}
}

// Validate checks the spec before any I/O happens.
func (s Spec) Validate() error {
	if s.Measurement == "" {
		return benchErrors.ConfigErrorf("measurement is required")
	}
	if s.BatchSize < 1 {
		return benchErrors.ConfigErrorf("batch_size must be >= 1, got %d", s.BatchSize)
	}
	if s.WorkerCount < 1 {
		return benchErrors.ConfigErrorf("workers must be >= 1, got %d", s.WorkerCount)
	}
	if err := s.validatePoint(); err != nil {
		return err
	}
	switch s.Compression {
	case "", "none", "gzip":
	default:
		return benchErrors.NewConfigError(benchErrors.CodeUnsupportedValue, fmt.Sprintf("unsupported compression: %s", s.Compression))
	}
	if s.RatePerWorker < 0 {
		return benchErrors.ConfigErrorf("rate_per_worker must be >= 0")
	}
	if err := s.Termination.validate(); err != nil {
		return err
	}
	return s.Partitioning.validate()
}

func (s Spec) validatePoint() error {
	if s.TagCardinality < 1 {
		return benchErrors.ConfigErrorf("tag_cardinality must be >= 1, got %d", s.TagCardinality)
	}
	if _, err := database.ParsePrecision(string(s.Precision)); err != nil {
		return err
	}
	switch s.PointComplexity {
	case ComplexityLow, ComplexityMedium, ComplexityHigh:
	default:
		return benchErrors.NewConfigError(benchErrors.CodeUnsupportedValue, fmt.Sprintf("unsupported point_complexity: %s", s.PointComplexity))
	}
	switch s.TimeOrdering {
	case OrderingInOrder, OrderingOutOfOrder:
	default:
		return benchErrors.NewConfigError(benchErrors.CodeUnsupportedValue, fmt.Sprintf("unsupported time_ordering: %s", s.TimeOrdering))
	}
	return nil
}

// TotalWriters is the number of concurrent writers across all partitions.
func (s Spec) TotalWriters() int {
	return len(s.Partitions()) * s.WorkerCount
}

// ExpectedPoints is the number of points a count-bounded run writes, or 0
// for duration-bounded runs.
func (s Spec) ExpectedPoints() int64 {
	return int64(s.TotalWriters()) * int64(s.Iterations) * int64(s.BatchSize)
}

// LoadSpec reads a YAML scenario on top of DefaultSpec.
func LoadSpec(path string) (Spec, error) {
	spec := DefaultSpec()
	if err := loadYAML(path, &spec); err != nil {
		return Spec{}, err
	}
	return spec, spec.Validate()
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return benchErrors.NewStorageError(benchErrors.CodeNotFound, "scenario "+path, err)
	}
	if err != nil {
		return benchErrors.NewStorageError(benchErrors.CodeReadFailed, "scenario "+path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return benchErrors.Wrap(benchErrors.CategoryConfig, benchErrors.CodeInvalidSpec, "parse scenario "+path, err)
	}
	return nil
}
