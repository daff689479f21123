// Package stats reduces operation results to the summaries stored in
// reports. Summaries are always recomputed from the full result list.
package stats

import (
	"math"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat"

	"tsdb-benchmark/internal/runner"
)

// Throughput keys.
const (
	PointsPerSecond  = "points_per_s"
	QueriesPerSecond = "queries_per_s"
	RowsPerSecond    = "rows_per_s"
	BytesPerSecond   = "bytes_per_s"
)

// maxLatencyMicros bounds the latency histogram at one hour.
const maxLatencyMicros = int64(time.Hour / time.Microsecond)

// Distribution describes a sample. Every field is null for an empty sample.
type Distribution struct {
	Min    *float64 `json:"min"`
	Max    *float64 `json:"max"`
	Avg    *float64 `json:"avg"`
	Median *float64 `json:"median"`
	P95    *float64 `json:"p95"`
	P99    *float64 `json:"p99"`
	Stddev *float64 `json:"stddev"`
}

type Summary struct {
	Count        int                 `json:"count"`
	ErrorsCount  int                 `json:"errors_count"`
	ErrorRate    float64             `json:"error_rate"`
	LatencyStats Distribution        `json:"latency_stats"`
	Throughput   map[string]*float64 `json:"throughput"`
	TotalUnits   int64               `json:"total_units"`
	WallClockS   float64             `json:"wall_clock_s"`
	LatenciesS   []float64           `json:"latencies_s,omitempty"`
}

type QueryLatencyStats struct {
	Distribution
	TTFMedian   *float64 `json:"ttf_median"`
	TotalMedian *float64 `json:"total_median"`
}

type QuerySummary struct {
	Count             int                 `json:"count"`
	ErrorsCount       int                 `json:"errors_count"`
	ErrorRate         float64             `json:"error_rate"`
	LatencyStats      QueryLatencyStats   `json:"latency_stats"`
	Throughput        map[string]*float64 `json:"throughput"`
	TotalUnits        int64               `json:"total_units"`
	WallClockS        float64             `json:"wall_clock_s"`
	TimeToFirstResult Distribution        `json:"time_to_first_result_s"`
	TotalTime         Distribution        `json:"total_time_s"`
	RowsReturned      Distribution        `json:"rows_returned"`
	BytesReturned     Distribution        `json:"bytes_returned"`
}

// Summarize reduces write results. Latency and units cover every result,
// failed ones included. Throughput is units over the coordinator wall clock.
func Summarize(results []runner.OperationResult, wall time.Duration, unit string) Summary {
	s := Summary{
		Count:      len(results),
		Throughput: map[string]*float64{unit: nil},
		WallClockS: wall.Seconds(),
	}
	latencies := make([]float64, 0, len(results))
	for _, r := range results {
		latencies = append(latencies, r.LatencySeconds)
		s.TotalUnits += r.Units
		if !r.OK {
			s.ErrorsCount++
		}
	}
	if s.Count > 0 {
		s.ErrorRate = float64(s.ErrorsCount) / float64(s.Count)
		s.LatenciesS = latencies
	}
	s.LatencyStats = DescribeLatencies(latencies)
	s.Throughput[unit] = rate(float64(s.TotalUnits), s.Count, wall)
	return s
}

// SummarizeQueries reduces query results. Time to first result only counts
// queries that returned at least one row.
func SummarizeQueries(results []runner.OperationResult, wall time.Duration) QuerySummary {
	base := Summarize(results, wall, QueriesPerSecond)
	q := QuerySummary{
		Count:       base.Count,
		ErrorsCount: base.ErrorsCount,
		ErrorRate:   base.ErrorRate,
		TotalUnits:  base.TotalUnits,
		WallClockS:  base.WallClockS,
		TotalTime:   base.LatencyStats,
	}

	var ttf, rows, bytes []float64
	var totalRows, totalBytes float64
	for _, r := range results {
		if r.TimeToFirstRowSeconds != nil {
			ttf = append(ttf, *r.TimeToFirstRowSeconds)
		}
		if r.OK {
			rows = append(rows, float64(r.Rows))
			bytes = append(bytes, float64(r.Bytes))
			totalRows += float64(r.Rows)
			totalBytes += float64(r.Bytes)
		}
	}
	q.TimeToFirstResult = DescribeLatencies(ttf)
	q.RowsReturned = Describe(rows)
	q.BytesReturned = Describe(bytes)

	q.LatencyStats = QueryLatencyStats{
		Distribution: base.LatencyStats,
		TTFMedian:    q.TimeToFirstResult.Median,
		TotalMedian:  base.LatencyStats.Median,
	}
	q.Throughput = map[string]*float64{
		QueriesPerSecond: base.Throughput[QueriesPerSecond],
		RowsPerSecond:    rate(totalRows, q.Count, wall),
		BytesPerSecond:   rate(totalBytes, q.Count, wall),
	}
	return q
}

func rate(units float64, count int, wall time.Duration) *float64 {
	if count == 0 || wall <= 0 {
		return nil
	}
	return ptr(units / wall.Seconds())
}

// DescribeLatencies describes latencies in seconds, with percentiles taken
// from an HDR histogram at microsecond resolution.
func DescribeLatencies(seconds []float64) Distribution {
	d := Describe(seconds)
	if len(seconds) == 0 {
		return d
	}
	histogram := hdrhistogram.New(1, maxLatencyMicros, 3)
	for _, s := range seconds {
		us := int64(math.Round(s * 1e6))
		us = min(max(us, 1), maxLatencyMicros)
		histogram.RecordValue(us)
	}
	d.P95 = ptr(float64(histogram.ValueAtQuantile(95)) / 1e6)
	d.P99 = ptr(float64(histogram.ValueAtQuantile(99)) / 1e6)
	return d
}

// Describe computes exact statistics of values.
func Describe(values []float64) Distribution {
	if len(values) == 0 {
		return Distribution{}
	}
	data := stats.Float64Data(values)
	minV, _ := data.Min()
	maxV, _ := data.Max()
	mean, _ := data.Mean()
	median, _ := data.Median()
	p95, _ := data.Percentile(95)
	p99, _ := data.Percentile(99)

	stddev := 0.0
	if len(values) > 1 {
		stddev = stat.StdDev(values, nil)
	}
	return Distribution{
		Min:    ptr(minV),
		Max:    ptr(maxV),
		Avg:    ptr(mean),
		Median: ptr(median),
		P95:    ptr(p95),
		P99:    ptr(p99),
		Stddev: ptr(stddev),
	}
}

func ptr(v float64) *float64 { return &v }
