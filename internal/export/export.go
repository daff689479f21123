// Package export publishes compact report summaries to the main results
// database and compares the latest results of two commits.
package export

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"go.uber.org/zap"

	"tsdb-benchmark/internal/compare"
	benchErrors "tsdb-benchmark/internal/errors"
	"tsdb-benchmark/internal/logging"
	"tsdb-benchmark/internal/report"
	"tsdb-benchmark/internal/stats"
)

// Row is one exported report.
type Row struct {
	Kind       string
	ScenarioID string
	RunID      string
	GitSHA     string
	EnvName    string
	Tags       map[string]string
	Fields     map[string]float64
	CreatedAt  time.Time
}

// Exporter stores rows and reads back the newest row per (kind, scenario)
// for a commit.
type Exporter interface {
	Export(ctx context.Context, row Row) error
	LatestBySHA(ctx context.Context, gitSHA string) ([]Row, error)
	Close() error
}

// RowFrom flattens a report into tags and numeric fields. Null statistics
// are left out.
func RowFrom(r *report.Report) Row {
	row := Row{
		Kind:       string(r.Kind),
		ScenarioID: r.Meta.ScenarioID,
		RunID:      r.Meta.RunID,
		GitSHA:     r.Meta.GitSHA,
		EnvName:    r.Meta.EnvName,
		Tags: map[string]string{
			"sut_url":     r.Meta.SUTURL,
			"sut_dialect": r.Meta.SUTDialect,
			"bucket":      r.Meta.Bucket,
			"measurement": r.Meta.Measurement,
			"git_ref":     r.Meta.GitRef,
			"pipeline_id": r.Meta.PipelineID,
		},
		Fields:    map[string]float64{},
		CreatedAt: time.Unix(0, int64(r.CreatedAtEpochS*1e9)).UTC(),
	}
	put := func(name string, v *float64) {
		if v != nil {
			row.Fields[name] = *v
		}
	}
	switch s := r.Summary.(type) {
	case stats.Summary:
		put("latency_median_s", s.LatencyStats.Median)
		put("latency_p95_s", s.LatencyStats.P95)
		put("latency_p99_s", s.LatencyStats.P99)
		put("points_per_s", s.Throughput[stats.PointsPerSecond])
		row.Fields["errors_count"] = float64(s.ErrorsCount)
		row.Fields["error_rate"] = s.ErrorRate
		row.Fields["total_points"] = float64(s.TotalUnits)
	case stats.QuerySummary:
		put("ttf_median_s", s.LatencyStats.TTFMedian)
		put("total_median_s", s.LatencyStats.TotalMedian)
		put("total_p95_s", s.LatencyStats.P95)
		put("queries_per_s", s.Throughput[stats.QueriesPerSecond])
		put("rows_per_s", s.Throughput[stats.RowsPerSecond])
		put("bytes_per_s", s.Throughput[stats.BytesPerSecond])
		row.Fields["errors_count"] = float64(s.ErrorsCount)
		row.Fields["error_rate"] = s.ErrorRate
	case stats.DeleteSummary:
		put("delete_latency_s", s.DeleteLatencyS)
		row.Fields["points_after"] = float64(s.PointsAfter)
		row.Fields["deleted_points"] = float64(s.DeletedPoints)
		row.Fields["errors_count"] = float64(s.ErrorsCount)
		ok := 0.0
		if s.OK {
			ok = 1
		}
		row.Fields["ok"] = ok
	}
	return row
}

// Publish exports r. Failures are logged and swallowed unless strict.
func Publish(ctx context.Context, exp Exporter, r *report.Report, strict bool, logger *zap.Logger) error {
	logger = logging.OrNop(logger)
	row := RowFrom(r)
	if err := exp.Export(ctx, row); err != nil {
		if strict {
			return benchErrors.NewStorageError(benchErrors.CodeWriteReport, "export results", err)
		}
		logger.Warn("results export failed", zap.String("run_id", row.RunID), zap.Error(err))
		return nil
	}
	logger.Info("results exported", zap.String("run_id", row.RunID), zap.String("kind", row.Kind))
	return nil
}

// Delta compares one field between two commits.
type Delta struct {
	Kind       string
	ScenarioID string
	Field      string
	A          float64
	B          float64
	Change     float64
}

// Deltas pairs rows by (kind, scenario) and reports the relative change of
// every field both sides carry, in a stable order. Changes from zero follow
// the regression comparator: 0 to 0 is 0, 0 to anything else is +Inf.
func Deltas(a, b []Row) []Delta {
	key := func(r Row) string { return r.Kind + "/" + r.ScenarioID }
	byKey := make(map[string]Row, len(a))
	for _, r := range a {
		byKey[key(r)] = r
	}
	var out []Delta
	for _, rb := range b {
		ra, ok := byKey[key(rb)]
		if !ok {
			continue
		}
		for field, vb := range rb.Fields {
			va, ok := ra.Fields[field]
			if !ok {
				continue
			}
			out = append(out, Delta{Kind: rb.Kind, ScenarioID: rb.ScenarioID, Field: field, A: va, B: vb,
				Change: compare.RelativeChange(va, vb)})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		if out[i].ScenarioID != out[j].ScenarioID {
			return out[i].ScenarioID < out[j].ScenarioID
		}
		return out[i].Field < out[j].Field
	})
	return out
}

// CompareSHAs loads the latest rows of both commits and prints their deltas.
func CompareSHAs(ctx context.Context, exp Exporter, shaA, shaB string, w io.Writer) ([]Delta, error) {
	a, err := exp.LatestBySHA(ctx, shaA)
	if err != nil {
		return nil, err
	}
	b, err := exp.LatestBySHA(ctx, shaB)
	if err != nil {
		return nil, err
	}
	if len(a) == 0 || len(b) == 0 {
		return nil, benchErrors.NewStorageError(benchErrors.CodeNotFound,
			fmt.Sprintf("no exported results for %s (%d rows) or %s (%d rows)", shaA, len(a), shaB, len(b)), nil)
	}
	deltas := Deltas(a, b)
	fmt.Fprintf(w, "%-12s %-24s %-20s %14s %14s %9s\n", "kind", "scenario", "field", shaShort(shaA), shaShort(shaB), "change")
	for _, d := range deltas {
		fmt.Fprintf(w, "%-12s %-24s %-20s %14.4f %14.4f %+8.1f%%\n", d.Kind, d.ScenarioID, d.Field, d.A, d.B, d.Change*100)
	}
	return deltas, nil
}

func shaShort(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	return sha
}
