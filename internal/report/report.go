// Package report builds and persists benchmark report artifacts.
//
// A report is a JSON document with top-level keys meta, summary,
// created_at_epoch_s and exactly one of batches (writes), runs (queries),
// run (single delete) or per_bucket (multi-partition delete).
package report

import (
	"encoding/json"
	"strings"
	"time"

	"tsdb-benchmark/internal/config"
	"tsdb-benchmark/internal/runner"
	"tsdb-benchmark/internal/stats"
	"tsdb-benchmark/internal/workload"
)

// Kind is the closed set of report kinds. The comparator understands a few
// kinds this module never produces (user, memory, storage) so that report
// sets from the wider suite can be judged together.
type Kind string

const (
	KindWrite      Kind = "write"
	KindMultiWrite Kind = "multi_write"
	KindQuery      Kind = "query"
	KindDelete     Kind = "delete"
	KindUser       Kind = "user"
	KindMemory     Kind = "memory"
	KindStorage    Kind = "storage"
	KindUnknown    Kind = "unknown"
)

// Prefix is a file name prefix and the kind it denotes. Longer prefixes are
// listed before any prefix they extend.
type Prefix struct {
	Prefix string
	Kind   Kind
}

var Prefixes = []Prefix{
	{"multi-write-", KindMultiWrite},
	{"multi-delete-", KindDelete},
	{"write-", KindWrite},
	{"query-", KindQuery},
	{"delete-", KindDelete},
	{"user-me-", KindUser},
	{"user-lifecycle-", KindUser},
	{"memory-", KindMemory},
	{"storage-", KindStorage},
}

// KindOfName classifies a report file name by prefix.
func KindOfName(name string) Kind {
	for _, p := range Prefixes {
		if strings.HasPrefix(name, p.Prefix) {
			return p.Kind
		}
	}
	return KindUnknown
}

// Env identifies where a report was produced.
type Env struct {
	Database   string
	EnvName    string
	GitSHA     string
	GitRef     string
	PipelineID string
}

// Meta is the report identity and workload description.
type Meta struct {
	RunID      string `json:"run_id"`
	ScenarioID string `json:"scenario_id"`
	SUTURL     string `json:"sut_url"`
	SUTDialect string `json:"sut_dialect"`
	Org        string `json:"org,omitempty"`
	Bucket     string `json:"bucket"`

	BucketPrefix             string   `json:"bucket_prefix,omitempty"`
	BucketCount              int      `json:"bucket_count,omitempty"`
	Buckets                  []string `json:"buckets,omitempty"`
	ParallelWritersPerBucket int      `json:"parallel_writers_per_bucket,omitempty"`

	Measurement      string  `json:"measurement"`
	BatchSize        int     `json:"batch_size,omitempty"`
	Workers          int     `json:"workers,omitempty"`
	Precision        string  `json:"precision,omitempty"`
	PointComplexity  string  `json:"point_complexity,omitempty"`
	TagCardinality   int     `json:"tag_cardinality,omitempty"`
	TimeOrdering     string  `json:"time_ordering,omitempty"`
	Compression      string  `json:"compression,omitempty"`
	RatePerWorker    float64 `json:"rate_per_worker,omitempty"`
	BatchesPerWorker int     `json:"batches_per_worker,omitempty"`
	DurationS        float64 `json:"duration_s,omitempty"`
	BaseTimestamp    int64   `json:"base_timestamp,omitempty"`

	QueryType  string            `json:"query_type,omitempty"`
	ResultSize string            `json:"result_size,omitempty"`
	Limit      int               `json:"limit,omitempty"`
	Queries    map[string]string `json:"queries,omitempty"`

	WipeAll bool `json:"wipe_all,omitempty"`

	TotalBatches   int     `json:"total_batches,omitempty"`
	TotalPoints    int64   `json:"total_points,omitempty"`
	TotalDurationS float64 `json:"total_duration_s,omitempty"`
	StartedAt      string  `json:"started_at,omitempty"`

	EnvName    string `json:"env_name,omitempty"`
	GitSHA     string `json:"git_sha,omitempty"`
	GitRef     string `json:"git_ref,omitempty"`
	PipelineID string `json:"pipeline_id,omitempty"`
}

// EnvFrom takes the SUT database and pipeline tags from cfg.
func EnvFrom(cfg *config.Config) Env {
	return Env{
		Database:   cfg.SUT.Database,
		EnvName:    cfg.Env.Name,
		GitSHA:     cfg.Env.GitSHA,
		GitRef:     cfg.Env.GitRef,
		PipelineID: cfg.Env.PipelineID,
	}
}

func (m *Meta) applyEnv(env Env) {
	m.Org = env.Database
	m.EnvName = env.EnvName
	m.GitSHA = env.GitSHA
	m.GitRef = env.GitRef
	m.PipelineID = env.PipelineID
}

// Report is a write-once artifact.
type Report struct {
	Kind            Kind                     `json:"-"`
	Meta            Meta                     `json:"meta"`
	Summary         interface{}              `json:"summary"`
	Batches         []runner.OperationResult `json:"batches,omitempty"`
	Runs            []runner.OperationResult `json:"runs,omitempty"`
	Run             *runner.DeleteResult     `json:"run,omitempty"`
	PerBucket       []runner.DeleteResult    `json:"per_bucket,omitempty"`
	CreatedAtEpochS float64                  `json:"created_at_epoch_s"`
}

// MarshalJSON always emits the operations key of the report's kind, as an
// empty array or null when the run recorded nothing.
func (r Report) MarshalJSON() ([]byte, error) {
	type plain Report
	p := plain(r)
	switch {
	case r.Kind == KindWrite || r.Kind == KindMultiWrite:
		return json.Marshal(struct {
			plain
			Batches []runner.OperationResult `json:"batches"`
		}{p, nonNil(r.Batches)})
	case r.Kind == KindQuery:
		return json.Marshal(struct {
			plain
			Runs []runner.OperationResult `json:"runs"`
		}{p, nonNil(r.Runs)})
	case r.Kind == KindDelete && r.Meta.BucketCount > 0:
		perBucket := r.PerBucket
		if perBucket == nil {
			perBucket = []runner.DeleteResult{}
		}
		return json.Marshal(struct {
			plain
			PerBucket []runner.DeleteResult `json:"per_bucket"`
		}{p, perBucket})
	case r.Kind == KindDelete:
		return json.Marshal(struct {
			plain
			Run *runner.DeleteResult `json:"run"`
		}{p, r.Run})
	}
	return json.Marshal(p)
}

func nonNil(results []runner.OperationResult) []runner.OperationResult {
	if results == nil {
		return []runner.OperationResult{}
	}
	return results
}

// FileName is <kind prefix><scenario_id>.json.
func (r *Report) FileName() string {
	return prefixFor(r.Kind, r.Meta.BucketCount > 0) + r.Meta.ScenarioID + ".json"
}

func prefixFor(kind Kind, multi bool) string {
	switch kind {
	case KindMultiWrite:
		return "multi-write-"
	case KindQuery:
		return "query-"
	case KindDelete:
		if multi {
			return "multi-delete-"
		}
		return "delete-"
	default:
		return "write-"
	}
}

func createdAt() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

func scenarioOr(id, fallback string) string {
	if id != "" {
		return id
	}
	return fallback
}

// NewWriteReport builds a write or multi_write report from a coordinated run.
func NewWriteReport(rr *runner.RunResult, spec workload.Spec, env Env) *Report {
	meta := Meta{
		RunID:            rr.RunID,
		ScenarioID:       scenarioOr(spec.ScenarioID, spec.Measurement),
		SUTURL:           rr.Endpoint,
		SUTDialect:       rr.Dialect,
		Bucket:           spec.Label(),
		Measurement:      spec.Measurement,
		BatchSize:        spec.BatchSize,
		Workers:          spec.WorkerCount,
		Precision:        string(spec.Precision),
		PointComplexity:  string(spec.PointComplexity),
		TagCardinality:   spec.TagCardinality,
		TimeOrdering:     string(spec.TimeOrdering),
		Compression:      spec.Compression,
		RatePerWorker:    spec.RatePerWorker,
		BatchesPerWorker: spec.Iterations,
		DurationS:        spec.Duration.Seconds(),
		BaseTimestamp:    rr.BaseTimestamp,
		TotalBatches:     len(rr.Results),
		TotalDurationS:   rr.WallClock.Seconds(),
		StartedAt:        rr.Started.UTC().Format(time.RFC3339),
	}
	summary := stats.Summarize(rr.Results, rr.WallClock, stats.PointsPerSecond)
	meta.TotalPoints = summary.TotalUnits
	meta.applyEnv(env)

	kind := KindWrite
	if spec.Multi() {
		kind = KindMultiWrite
		meta.BucketPrefix = spec.PartitionPrefix
		meta.BucketCount = spec.PartitionCount
		meta.Buckets = rr.Partitions
		meta.ParallelWritersPerBucket = spec.WorkerCount
	}
	return &Report{
		Kind:            kind,
		Meta:            meta,
		Summary:         summary,
		Batches:         rr.Results,
		CreatedAtEpochS: createdAt(),
	}
}

// NewQueryReport builds a query report.
func NewQueryReport(rr *runner.RunResult, spec workload.QuerySpec, env Env) *Report {
	meta := Meta{
		RunID:            rr.RunID,
		ScenarioID:       scenarioOr(spec.ScenarioID, string(spec.QueryType)+"_"+string(spec.ResultSize)),
		SUTURL:           rr.Endpoint,
		SUTDialect:       rr.Dialect,
		Bucket:           spec.Label(),
		Measurement:      spec.Measurement,
		Workers:          spec.WorkerCount,
		Compression:      spec.Compression,
		RatePerWorker:    spec.RatePerWorker,
		BatchesPerWorker: spec.Iterations,
		DurationS:        spec.Duration.Seconds(),
		QueryType:        string(spec.QueryType),
		ResultSize:       string(spec.ResultSize),
		Limit:            spec.RowLimit(),
		Queries:          rr.QueryText,
		TotalBatches:     len(rr.Results),
		TotalDurationS:   rr.WallClock.Seconds(),
		StartedAt:        rr.Started.UTC().Format(time.RFC3339),
	}
	if spec.Multi() {
		meta.BucketPrefix = spec.PartitionPrefix
		meta.BucketCount = spec.PartitionCount
		meta.Buckets = rr.Partitions
	}
	meta.applyEnv(env)
	return &Report{
		Kind:            KindQuery,
		Meta:            meta,
		Summary:         stats.SummarizeQueries(rr.Results, rr.WallClock),
		Runs:            rr.Results,
		CreatedAtEpochS: createdAt(),
	}
}

// NewDeleteReport builds a delete report. The write meta, usually loaded
// from a write-context file, carries the identity of the run being deleted.
// Multi-partition deletes are stored per bucket, single ones as run.
func NewDeleteReport(results []runner.DeleteResult, write Meta, wipeAll bool, env Env) *Report {
	meta := Meta{
		RunID:        write.RunID,
		ScenarioID:   write.ScenarioID,
		SUTURL:       write.SUTURL,
		SUTDialect:   write.SUTDialect,
		Bucket:       write.Bucket,
		BucketPrefix: write.BucketPrefix,
		BucketCount:  write.BucketCount,
		Buckets:      write.Buckets,
		Measurement:  write.Measurement,
		TotalPoints:  write.TotalPoints,
		WipeAll:      wipeAll,
	}
	meta.applyEnv(env)

	r := &Report{
		Kind:            KindDelete,
		Meta:            meta,
		Summary:         stats.SummarizeDeletes(results, wipeAll),
		CreatedAtEpochS: createdAt(),
	}
	if write.BucketCount > 0 {
		r.PerBucket = results
	} else if len(results) > 0 {
		run := results[0]
		r.Run = &run
	}
	return r
}
