package stats

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tsdb-benchmark/internal/runner"
)

func results(latencies ...float64) []runner.OperationResult {
	out := make([]runner.OperationResult, len(latencies))
	for i, l := range latencies {
		out[i] = runner.OperationResult{Index: i, LatencySeconds: l, Units: 100, OK: true, StatusCode: 204}
	}
	return out
}

func TestSummarize_Empty(t *testing.T) {
	s := Summarize(nil, 0, PointsPerSecond)
	assert.Zero(t, s.Count)
	assert.Zero(t, s.ErrorsCount)
	assert.Zero(t, s.ErrorRate)
	assert.Nil(t, s.LatencyStats.Median)
	assert.Nil(t, s.Throughput[PointsPerSecond])

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"median":null`)
	assert.Contains(t, string(data), `"points_per_s":null`)
}

func TestSummarize(t *testing.T) {
	rs := results(0.1, 0.2, 0.3, 0.4)
	rs[3].OK = false
	rs[3].StatusCode = 500

	s := Summarize(rs, 2*time.Second, PointsPerSecond)
	assert.Equal(t, 4, s.Count)
	assert.Equal(t, 1, s.ErrorsCount)
	assert.InDelta(t, 0.25, s.ErrorRate, 1e-9)
	assert.Equal(t, int64(400), s.TotalUnits, "failed batches still count their points")
	assert.InDelta(t, 200.0, *s.Throughput[PointsPerSecond], 1e-9)
	assert.InDelta(t, 0.1, *s.LatencyStats.Min, 1e-9)
	assert.InDelta(t, 0.4, *s.LatencyStats.Max, 1e-9)
	assert.InDelta(t, 0.25, *s.LatencyStats.Avg, 1e-9)
	assert.InDelta(t, 0.25, *s.LatencyStats.Median, 1e-9)
	assert.InDelta(t, 0.4, *s.LatencyStats.P99, 0.001)
	assert.Positive(t, *s.LatencyStats.Stddev)
	assert.Len(t, s.LatenciesS, 4)
}

func TestSummarize_SingleResult(t *testing.T) {
	s := Summarize(results(0.05), time.Second, PointsPerSecond)
	assert.Equal(t, 0.0, *s.LatencyStats.Stddev)
	assert.InDelta(t, 0.05, *s.LatencyStats.P95, 0.0001)
}

func TestSummarizeQueries(t *testing.T) {
	ttf := 0.01
	rs := []runner.OperationResult{
		{LatencySeconds: 0.2, Units: 1, OK: true, Rows: 10, Bytes: 1000, TimeToFirstRowSeconds: &ttf},
		{LatencySeconds: 0.4, Units: 1, OK: true, Rows: 30, Bytes: 3000, TimeToFirstRowSeconds: &ttf},
		{LatencySeconds: 0.1, Units: 1, OK: true},
		{LatencySeconds: 1.0, Units: 1, OK: false, StatusCode: 500},
	}
	q := SummarizeQueries(rs, 2*time.Second)

	assert.Equal(t, 4, q.Count)
	assert.Equal(t, 1, q.ErrorsCount)
	assert.InDelta(t, 0.01, *q.LatencyStats.TTFMedian, 1e-9)
	assert.InDelta(t, 0.3, *q.LatencyStats.TotalMedian, 1e-9)
	assert.InDelta(t, 2.0, *q.Throughput[QueriesPerSecond], 1e-9)
	assert.InDelta(t, 20.0, *q.Throughput[RowsPerSecond], 1e-9)
	assert.InDelta(t, 2000.0, *q.Throughput[BytesPerSecond], 1e-9)
	assert.InDelta(t, 10.0, *q.RowsReturned.Median, 1e-9)

	data, err := json.Marshal(q)
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	latency := decoded["latency_stats"].(map[string]interface{})
	assert.Contains(t, latency, "median")
	assert.Contains(t, latency, "ttf_median")
	assert.Contains(t, latency, "total_median")
}

func TestSummarizeQueries_Empty(t *testing.T) {
	q := SummarizeQueries(nil, 0)
	assert.Nil(t, q.LatencyStats.TTFMedian)
	assert.Nil(t, q.Throughput[RowsPerSecond])
}

func TestSummarizeDeletes(t *testing.T) {
	s := SummarizeDeletes([]runner.DeleteResult{
		{OK: true, StatusCode: 204, PointsBefore: 10, DeletedPoints: 10, LatencySeconds: 0.5},
		{OK: false, StatusCode: 204, PointsBefore: 5, PointsAfter: 2, DeletedPoints: 3, LatencySeconds: 0.25},
	}, false)
	assert.False(t, s.OK)
	assert.Zero(t, s.ErrorsCount)
	assert.Equal(t, int64(2), s.PointsAfter)
	assert.InDelta(t, 0.75, *s.DeleteLatencyS, 1e-9)

	assert.False(t, SummarizeDeletes(nil, false).OK)
}
