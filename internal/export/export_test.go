package export

import (
	"bytes"
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	benchErrors "tsdb-benchmark/internal/errors"
	"tsdb-benchmark/internal/report"
	"tsdb-benchmark/internal/runner"
	"tsdb-benchmark/internal/stats"
)

type fakeExporter struct {
	rows []Row
	err  error
}

func (f *fakeExporter) Export(_ context.Context, row Row) error {
	if f.err != nil {
		return f.err
	}
	f.rows = append(f.rows, row)
	return nil
}

func (f *fakeExporter) LatestBySHA(_ context.Context, sha string) ([]Row, error) {
	var out []Row
	for _, r := range f.rows {
		if r.GitSHA == sha {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeExporter) Close() error { return nil }

func writeReport(sha string, latency float64) *report.Report {
	results := []runner.OperationResult{{LatencySeconds: latency, Units: 1000, OK: true, StatusCode: 204}}
	return &report.Report{
		Kind:            report.KindWrite,
		Meta:            report.Meta{RunID: "run-" + sha, ScenarioID: "s1", GitSHA: sha, EnvName: "ci", SUTURL: "memory://local"},
		Summary:         stats.Summarize(results, time.Second, stats.PointsPerSecond),
		Batches:         results,
		CreatedAtEpochS: 1700000000,
	}
}

func TestRowFrom_Write(t *testing.T) {
	row := RowFrom(writeReport("abc", 0.5))
	assert.Equal(t, "write", row.Kind)
	assert.Equal(t, "s1", row.ScenarioID)
	assert.Equal(t, "abc", row.GitSHA)
	assert.Equal(t, "memory://local", row.Tags["sut_url"])
	assert.InDelta(t, 0.5, row.Fields["latency_median_s"], 1e-9)
	assert.InDelta(t, 1000.0, row.Fields["points_per_s"], 1e-9)
	assert.Equal(t, 0.0, row.Fields["errors_count"])
	assert.Equal(t, int64(1700000000), row.CreatedAt.Unix())
}

func TestRowFrom_EmptyQueryOmitsNulls(t *testing.T) {
	r := &report.Report{Kind: report.KindQuery, Summary: stats.SummarizeQueries(nil, 0)}
	row := RowFrom(r)
	assert.NotContains(t, row.Fields, "ttf_median_s")
	assert.NotContains(t, row.Fields, "rows_per_s")
	assert.Contains(t, row.Fields, "errors_count")
}

func TestRowFrom_Delete(t *testing.T) {
	r := &report.Report{
		Kind:    report.KindDelete,
		Summary: stats.SummarizeDeletes([]runner.DeleteResult{{OK: true, StatusCode: 204, DeletedPoints: 7, LatencySeconds: 0.2}}, false),
	}
	row := RowFrom(r)
	assert.Equal(t, 1.0, row.Fields["ok"])
	assert.Equal(t, 7.0, row.Fields["deleted_points"])
	assert.InDelta(t, 0.2, row.Fields["delete_latency_s"], 1e-9)
}

func TestPublish(t *testing.T) {
	exp := &fakeExporter{}
	require.NoError(t, Publish(context.Background(), exp, writeReport("abc", 0.5), false, nil))
	assert.Len(t, exp.rows, 1)

	failing := &fakeExporter{err: errors.New("connection refused")}
	assert.NoError(t, Publish(context.Background(), failing, writeReport("abc", 0.5), false, nil))

	err := Publish(context.Background(), failing, writeReport("abc", 0.5), true, nil)
	require.Error(t, err)
	assert.Equal(t, benchErrors.CategoryStorage, benchErrors.GetCategory(err))
}

func TestDeltas(t *testing.T) {
	a := []Row{{Kind: "write", ScenarioID: "s1", Fields: map[string]float64{"points_per_s": 1000, "latency_median_s": 0.1, "only_a": 1}}}
	b := []Row{
		{Kind: "write", ScenarioID: "s1", Fields: map[string]float64{"points_per_s": 850, "latency_median_s": 0.1}},
		{Kind: "query", ScenarioID: "s1", Fields: map[string]float64{"rows_per_s": 1}},
	}
	deltas := Deltas(a, b)
	require.Len(t, deltas, 2)
	assert.Equal(t, "latency_median_s", deltas[0].Field)
	assert.Equal(t, 0.0, deltas[0].Change)
	assert.Equal(t, "points_per_s", deltas[1].Field)
	assert.InDelta(t, -0.15, deltas[1].Change, 1e-12)
}

func TestDeltas_FromZero(t *testing.T) {
	a := []Row{{Kind: "write", ScenarioID: "s1", Fields: map[string]float64{"errors_count": 0, "points_after": 0}}}
	b := []Row{{Kind: "write", ScenarioID: "s1", Fields: map[string]float64{"errors_count": 3, "points_after": 0}}}
	deltas := Deltas(a, b)
	require.Len(t, deltas, 2)
	assert.Equal(t, "errors_count", deltas[0].Field)
	assert.True(t, math.IsInf(deltas[0].Change, 1), "0 to 3 is an unbounded increase")
	assert.Equal(t, "points_after", deltas[1].Field)
	assert.Equal(t, 0.0, deltas[1].Change)
}

func TestCompareSHAs(t *testing.T) {
	exp := &fakeExporter{}
	ctx := context.Background()
	require.NoError(t, exp.Export(ctx, RowFrom(writeReport("aaaa", 0.1))))
	require.NoError(t, exp.Export(ctx, RowFrom(writeReport("bbbb", 0.2))))

	var out bytes.Buffer
	deltas, err := CompareSHAs(ctx, exp, "aaaa", "bbbb", &out)
	require.NoError(t, err)
	assert.NotEmpty(t, deltas)
	assert.True(t, strings.HasPrefix(out.String(), "kind"))
	assert.Contains(t, out.String(), "latency_median_s")
	assert.Contains(t, out.String(), "+100.0%")

	_, err = CompareSHAs(ctx, exp, "aaaa", "cccc", &out)
	assert.Equal(t, benchErrors.CodeNotFound, benchErrors.GetCode(err))
}

func TestResultsSchema(t *testing.T) {
	ddl := resultsSchema("bench_results")
	assert.Contains(t, ddl, `CREATE TABLE IF NOT EXISTS "bench_results"`)
	assert.Contains(t, ddl, "fields JSONB")
}
