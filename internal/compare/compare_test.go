package compare

import (
	"bytes"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tsdb-benchmark/internal/report"
)

type doc map[string]interface{}

func writeDoc(t *testing.T, dir, name string, d doc) {
	t.Helper()
	data, err := json.Marshal(d)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
}

func writeReport(median, pointsPerS float64, errors int) doc {
	return doc{
		"meta": doc{"sut_url": "memory://local", "bucket": "bench", "scenario_id": "s1", "run_id": "r"},
		"summary": doc{
			"errors_count":  errors,
			"latency_stats": doc{"median": median},
			"throughput":    doc{"points_per_s": pointsPerS},
		},
		"batches":            []interface{}{},
		"created_at_epoch_s": 1,
	}
}

func deleteReport(ok bool, pointsAfter int, latency float64) doc {
	return doc{
		"meta":    doc{"sut_url": "memory://local", "bucket": "bench", "scenario_id": "s1"},
		"summary": doc{"ok": ok, "points_after": pointsAfter, "delete_latency_s": latency},
		"run":     doc{},
	}
}

func dirs(t *testing.T) (string, string) {
	return t.TempDir(), t.TempDir()
}

func compareOne(t *testing.T, name string, base, cand doc, opts Options) *Report {
	t.Helper()
	baseDir, newDir := dirs(t)
	writeDoc(t, baseDir, name, base)
	writeDoc(t, newDir, name, cand)
	r, err := Compare(baseDir, newDir, opts)
	require.NoError(t, err)
	return r
}

func failuresFor(r *Report, metric string) []Check {
	var out []Check
	for _, f := range r.Failures {
		if f.Metric == metric {
			out = append(out, f)
		}
	}
	return out
}

func TestRelativeChange(t *testing.T) {
	assert.Equal(t, 0.0, RelativeChange(0, 0))
	assert.True(t, math.IsInf(RelativeChange(0, 3), 1))
	assert.InDelta(t, 0.2, RelativeChange(10, 12), 1e-12)
	assert.InDelta(t, -0.15, RelativeChange(1000, 850), 1e-12)
}

func TestCompare_LatencyThreshold(t *testing.T) {
	r := compareOne(t, "write-s1.json", writeReport(10, 1000, 0), writeReport(12, 1000, 0), Options{LatencyUp: 0.10, ThroughputDown: 0.10})
	assert.False(t, r.Passed())
	require.Len(t, failuresFor(r, "latency_median_s"), 1)
	assert.InDelta(t, 0.2, float64(*failuresFor(r, "latency_median_s")[0].Regress), 1e-12)

	r = compareOne(t, "write-s1.json", writeReport(10, 1000, 0), writeReport(12, 1000, 0), Options{LatencyUp: 0.25, ThroughputDown: 0.10})
	assert.True(t, r.Passed(), "%+v", r.Failures)
}

func TestCompare_ThroughputThreshold(t *testing.T) {
	r := compareOne(t, "write-s1.json", writeReport(10, 1000, 0), writeReport(10, 850, 0), Options{LatencyUp: 0.10, ThroughputDown: 0.10})
	assert.False(t, r.Passed())
	assert.Len(t, failuresFor(r, "throughput_points_per_s"), 1)

	r = compareOne(t, "write-s1.json", writeReport(10, 1000, 0), writeReport(10, 850, 0), Options{LatencyUp: 0.10, ThroughputDown: 0.20})
	assert.True(t, r.Passed(), "%+v", r.Failures)
}

func TestCompare_ErrorsCountInvariant(t *testing.T) {
	r := compareOne(t, "write-s1.json", writeReport(10, 1000, 0), writeReport(10, 1000, 2), Options{LatencyUp: 1, ThroughputDown: 1})
	require.Len(t, r.Failures, 1)
	assert.Equal(t, ErrNonzeroErrors, r.Failures[0].Error)
}

func TestCompare_ZeroBase(t *testing.T) {
	r := compareOne(t, "write-s1.json", writeReport(0, 1000, 0), writeReport(0.5, 1000, 0), Options{LatencyUp: 10, ThroughputDown: 0.1})
	fails := failuresFor(r, "latency_median_s")
	require.Len(t, fails, 1)
	assert.True(t, math.IsInf(float64(*fails[0].Regress), 1))

	r = compareOne(t, "write-s1.json", writeReport(0, 1000, 0), writeReport(0, 1000, 0), Options{LatencyUp: 0.1, ThroughputDown: 0.1})
	assert.True(t, r.Passed())
}

func TestCompare_DeleteInvariant(t *testing.T) {
	opts := Options{LatencyUp: 0.10, ThroughputDown: 0.10}

	r := compareOne(t, "delete-s1.json", deleteReport(true, 0, 1), deleteReport(true, 0, 1), opts)
	assert.True(t, r.Passed(), "%+v", r.Failures)

	r = compareOne(t, "delete-s1.json", deleteReport(true, 0, 1), deleteReport(true, 5, 0.5), opts)
	require.Len(t, r.Failures, 1)
	assert.Equal(t, ErrNotZero, r.Failures[0].Error)

	r = compareOne(t, "delete-s1.json", deleteReport(true, 0, 1), deleteReport(false, 0, 1), opts)
	require.Len(t, r.Failures, 1)
	assert.Equal(t, ErrNotOK, r.Failures[0].Error)
}

func TestCompare_UnknownKind(t *testing.T) {
	baseDir, newDir := dirs(t)
	for _, dir := range []string{baseDir, newDir} {
		writeDoc(t, dir, "network-iperf.json", doc{"result": doc{"bits_per_second": 1}})
		writeDoc(t, dir, "write-s1.json", writeReport(10, 1000, 0))
	}
	writeDoc(t, newDir, "write-s1.json", writeReport(12, 1000, 0))

	r, err := Compare(baseDir, newDir, Options{LatencyUp: 0.10, ThroughputDown: 0.10})
	require.NoError(t, err)

	var unknown, latency int
	for _, f := range r.Failures {
		switch {
		case f.Error == ErrUnknownReportType:
			unknown++
			assert.Equal(t, "network-iperf.json", f.File)
		case f.Metric == "latency_median_s":
			latency++
		}
	}
	assert.Equal(t, 1, unknown)
	assert.Equal(t, 1, latency, "recognised reports are still compared")
}

func TestCompare_MetaGate(t *testing.T) {
	cand := writeReport(100, 1, 5)
	cand["meta"].(doc)["sut_url"] = "postgres://other/db"

	r := compareOne(t, "write-s1.json", writeReport(10, 1000, 0), cand, Options{LatencyUp: 0.1, ThroughputDown: 0.1})
	require.Len(t, r.Failures, 1, "a meta mismatch short-circuits metric checks")
	assert.Equal(t, "meta_equal", r.Failures[0].Check)
	assert.Equal(t, "meta.sut_url", r.Failures[0].Metric)
	assert.Equal(t, ErrMetaMismatch, r.Failures[0].Error)
}

func TestCompare_MultiWriteConfigChanged(t *testing.T) {
	base := writeReport(10, 1000, 0)
	base["meta"].(doc)["bucket_count"] = 2
	cand := writeReport(10, 1000, 0)
	cand["meta"].(doc)["bucket_count"] = 4

	r := compareOne(t, "multi-write-s1.json", base, cand, Options{LatencyUp: 0.1, ThroughputDown: 0.1})
	require.Len(t, r.Failures, 1)
	assert.Equal(t, ErrConfigChanged, r.Failures[0].Error)
}

func TestCompare_Query(t *testing.T) {
	q := func(ttf, total, rows float64) doc {
		return doc{
			"meta": doc{"scenario_id": "filter_small"},
			"summary": doc{
				"errors_count":  0,
				"latency_stats": doc{"ttf_median": ttf, "total_median": total},
				"throughput":    doc{"rows_per_s": rows, "bytes_per_s": rows * 10},
			},
			"runs": []interface{}{},
		}
	}
	r := compareOne(t, "query-filter_small.json", q(0.01, 0.1, 100), q(0.01, 0.1, 100), Options{LatencyUp: 0.1, ThroughputDown: 0.1})
	assert.True(t, r.Passed(), "%+v", r.Failures)
	assert.Equal(t, 6, r.ChecksCount)

	missing := q(0.01, 0.1, 100)
	missing["summary"].(doc)["latency_stats"].(doc)["ttf_median"] = nil
	r = compareOne(t, "query-filter_small.json", q(0.01, 0.1, 100), missing, Options{LatencyUp: 0.1, ThroughputDown: 0.1})
	require.Len(t, r.Failures, 1)
	assert.Equal(t, ErrMissing, r.Failures[0].Error)
}

func TestCompare_ReportSetMismatch(t *testing.T) {
	baseDir, newDir := dirs(t)
	writeDoc(t, baseDir, "write-a.json", writeReport(1, 1, 0))
	writeDoc(t, newDir, "write-b.json", writeReport(1, 1, 0))

	r, err := Compare(baseDir, newDir, Options{})
	require.NoError(t, err)
	require.Len(t, r.Failures, 2)
	assert.Equal(t, ErrMissingInNew, r.Failures[0].Error)
	assert.Equal(t, "write-a.json", r.Failures[0].File)
	assert.Equal(t, ErrMissingInBase, r.Failures[1].Error)
}

func TestCompare_GzipMatchesPlain(t *testing.T) {
	baseDir, newDir := dirs(t)
	writeDoc(t, baseDir, "write-s1.json", writeReport(10, 1000, 0))

	data, err := json.Marshal(writeReport(10, 1000, 0))
	require.NoError(t, err)
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err = zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(filepath.Join(newDir, "write-s1.json.gz"), buf.Bytes(), 0o644))

	r, err := Compare(baseDir, newDir, Options{LatencyUp: 0.1, ThroughputDown: 0.1})
	require.NoError(t, err)
	assert.True(t, r.Passed(), "%+v", r.Failures)
	assert.Equal(t, 4, r.ChecksCount)
}

func TestCompare_MissingDir(t *testing.T) {
	_, err := Compare(filepath.Join(t.TempDir(), "nope"), t.TempDir(), Options{})
	assert.Error(t, err)
}

func TestReport_WriteAndPrint(t *testing.T) {
	r := compareOne(t, "write-s1.json", writeReport(0, 1000, 0), writeReport(1, 1000, 0), Options{LatencyUp: 0.1, ThroughputDown: 0.1})
	path := filepath.Join(t.TempDir(), ReportFile)
	require.NoError(t, r.Write(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"regress": "+Inf"`)

	var decoded Report
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, r.FailuresCount, decoded.FailuresCount)
	assert.True(t, math.IsInf(float64(*decoded.Failures[0].Regress), 1))
	for _, key := range []string{"base_dir", "new_dir", "latency_up", "throughput_down", "checks_count", "failures_count", "failures", "checks"} {
		assert.Contains(t, string(data), `"`+key+`"`)
	}

	var out bytes.Buffer
	r.Print(&out, 30)
	assert.Contains(t, out.String(), "FAIL: 1 regression failures")

	out.Reset()
	(&Report{}).Print(&out, 30)
	assert.Equal(t, "PASS: no regressions detected.\n", out.String())
}

func TestClassify_NameOnly(t *testing.T) {
	assert.Equal(t, report.KindWrite, Classify("write-s1.json"))
	assert.Equal(t, report.KindMultiWrite, Classify("multi-write-s1.json"))
	assert.Equal(t, report.KindUnknown, Classify("s1.json"))
	assert.Equal(t, report.KindUnknown, Classify("adhoc-run.json"))
}

func TestShapeOf(t *testing.T) {
	assert.Equal(t, report.KindWrite, shapeOf(report.Document{"batches": []interface{}{}}))
	assert.Equal(t, report.KindMultiWrite, shapeOf(report.Document{
		"batches": []interface{}{},
		"meta":    map[string]interface{}{"bucket_count": 2.0},
	}))
	assert.Equal(t, report.KindQuery, shapeOf(report.Document{"runs": []interface{}{}}))
	assert.Equal(t, report.KindDelete, shapeOf(report.Document{"per_bucket": []interface{}{}}))
	assert.Equal(t, report.KindMemory, shapeOf(report.Document{"result": map[string]interface{}{"throughput_mib_s": 1.0}}))
	assert.Equal(t, report.KindUnknown, shapeOf(report.Document{}))
}

func TestCompare_UnprefixedNameIsUnknown(t *testing.T) {
	r := compareOne(t, "adhoc-run.json", writeReport(10, 1000, 0), writeReport(10, 1000, 0), Options{LatencyUp: 0.1, ThroughputDown: 0.1})
	require.Len(t, r.Failures, 1)
	assert.Equal(t, ErrUnknownReportType, r.Failures[0].Error)
	assert.Equal(t, report.KindUnknown, r.Failures[0].Kind)
	assert.Equal(t, 1, r.ChecksCount)

	cand := writeReport(10, 1000, 0)
	delete(cand, "batches")
	cand["runs"] = []interface{}{}
	r = compareOne(t, "write-s1.json", writeReport(10, 1000, 0), cand, Options{LatencyUp: 0.1, ThroughputDown: 0.1})
	require.Len(t, r.Failures, 1)
	assert.Equal(t, ErrKindChanged, r.Failures[0].Error)
}

func TestDirectional_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("equal values never regress", prop.ForAll(
		func(base float64) bool {
			opts := Options{}
			return Directional("m", base, base, LowerIsBetter, opts).Passed &&
				Directional("m", base, base, HigherIsBetter, opts).Passed
		},
		gen.Float64Range(0, 1e9),
	))

	properties.Property("latency verdict follows the relative change", prop.ForAll(
		func(base, change, limit float64) bool {
			cand := base * (1 + change)
			c := Directional("m", base, cand, LowerIsBetter, Options{LatencyUp: limit})
			return c.Passed == (RelativeChange(base, cand) <= limit)
		},
		gen.Float64Range(0.001, 1e6),
		gen.Float64Range(-0.9, 2),
		gen.Float64Range(0, 1),
	))

	properties.Property("throughput drops beyond the limit fail", prop.ForAll(
		func(base, drop, limit float64) bool {
			cand := base * (1 - drop)
			c := Directional("m", base, cand, HigherIsBetter, Options{ThroughputDown: limit})
			if drop > limit+1e-9 {
				return !c.Passed
			}
			if drop < limit-1e-9 {
				return c.Passed
			}
			return true
		},
		gen.Float64Range(1, 1e6),
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 1),
	))

	properties.TestingRun(t)
}
