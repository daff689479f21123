package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var ErrInjectedFailure = errors.New("injected failure")

// MemoryBackend holds the data shared by every MemoryStore handle it hands
// out. The fault knobs must be set before the first call.
type MemoryBackend struct {
	// FailEvery makes every Nth WriteBatch/RunQuery call fail, counted
	// across all handles.
	FailEvery int64
	// FailStatus is the status code carried by injected failures (500 if 0).
	FailStatus int
	// Latency is added to every WriteBatch/RunQuery call.
	Latency time.Duration
	// Fault, when set, is consulted on every WriteBatch/RunQuery call.
	Fault func(op string, call int64) error

	mu         sync.Mutex
	partitions map[string][]Point
	calls      atomic.Int64
	opened     atomic.Int64
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{partitions: make(map[string][]Point)}
}

func (b *MemoryBackend) Connector() Connector {
	return func(ctx context.Context) (Store, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b.opened.Add(1)
		return &MemoryStore{b: b}, nil
	}
}

// Calls returns the number of WriteBatch/RunQuery calls seen so far.
func (b *MemoryBackend) Calls() int64 { return b.calls.Load() }

// Opened returns the number of handles opened through Connector.
func (b *MemoryBackend) Opened() int64 { return b.opened.Load() }

// Points returns a copy of the points stored in partition.
func (b *MemoryBackend) Points(partition string) []Point {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Point(nil), b.partitions[partition]...)
}

func (b *MemoryBackend) Partitions() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.partitions))
	for name := range b.partitions {
		names = append(names, name)
	}
	return names
}

func (b *MemoryBackend) intercept(ctx context.Context, op string) error {
	call := b.calls.Add(1)
	if b.Latency > 0 {
		select {
		case <-time.After(b.Latency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if b.Fault != nil {
		if err := b.Fault(op, call); err != nil {
			return err
		}
	}
	if b.FailEvery > 0 && call%b.FailEvery == 0 {
		code := b.FailStatus
		if code == 0 {
			code = 500
		}
		return &StatusError{Code: code, Err: fmt.Errorf("%s call %d: %w", op, call, ErrInjectedFailure)}
	}
	return nil
}

// MemoryStore is one handle onto a MemoryBackend.
type MemoryStore struct {
	b      *MemoryBackend
	closed atomic.Bool
}

func (m *MemoryStore) Endpoint() string { return "memory://local" }

func (m *MemoryStore) Dialect() string { return DialectMemory }

func (m *MemoryStore) Close() error {
	m.closed.Store(true)
	return nil
}

func (m *MemoryStore) checkOpen() error {
	if m.closed.Load() {
		return errors.New("memory store: use of closed handle")
	}
	return nil
}

func (m *MemoryStore) EnsurePartition(ctx context.Context, partition string) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	if err := ValidatePartition(partition); err != nil {
		return err
	}
	m.b.mu.Lock()
	defer m.b.mu.Unlock()
	if _, ok := m.b.partitions[partition]; !ok {
		m.b.partitions[partition] = nil
	}
	return nil
}

func (m *MemoryStore) WriteBatch(ctx context.Context, partition string, points []Point) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	if err := m.b.intercept(ctx, "write"); err != nil {
		return err
	}
	m.b.mu.Lock()
	defer m.b.mu.Unlock()
	if _, ok := m.b.partitions[partition]; !ok {
		return &StatusError{Code: 404, Err: fmt.Errorf("partition %q not found", partition)}
	}
	m.b.partitions[partition] = append(m.b.partitions[partition], points...)
	return nil
}

// RunQuery understands the key=value query text rendered for the memory
// dialect: measurement, since (unix ns), limit and type.
func (m *MemoryStore) RunQuery(ctx context.Context, partition, queryText string) (QueryStats, error) {
	var stats QueryStats
	if err := m.checkOpen(); err != nil {
		return stats, err
	}
	q, err := parseMemoryQuery(queryText)
	if err != nil {
		return stats, err
	}
	start := time.Now()
	if err := m.b.intercept(ctx, "query"); err != nil {
		return stats, err
	}

	m.b.mu.Lock()
	points, ok := m.b.partitions[partition]
	points = append([]Point(nil), points...)
	m.b.mu.Unlock()
	if !ok {
		return stats, &StatusError{Code: 404, Err: fmt.Errorf("partition %q not found", partition)}
	}

	seen := make(map[string]struct{})
	for _, p := range points {
		if q.measurement != "" && p.Measurement != q.measurement {
			continue
		}
		if p.UnixNano() < q.since {
			continue
		}
		var row interface{} = p.Fields
		switch q.kind {
		case "aggregate":
			key := strconv.FormatInt(p.UnixNano()/int64(10*time.Second), 10)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			row = key
		case "group_by":
			key := tagOrEmpty(p, TagRunID)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			row = key
		}
		if stats.Rows == 0 {
			stats.TimeToFirstRow = time.Since(start)
		}
		data, _ := json.Marshal(row)
		stats.Rows++
		stats.Bytes += int64(len(data)) + 1
		if q.limit > 0 && stats.Rows >= q.limit {
			break
		}
	}
	return stats, nil
}

type memoryQuery struct {
	measurement string
	kind        string
	since       int64
	limit       int64
}

func parseMemoryQuery(text string) (memoryQuery, error) {
	var q memoryQuery
	for _, kv := range strings.Fields(text) {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return q, fmt.Errorf("memory query: malformed term %q", kv)
		}
		var err error
		switch key {
		case "measurement":
			q.measurement = value
		case "type":
			q.kind = value
		case "since":
			q.since, err = strconv.ParseInt(value, 10, 64)
		case "limit":
			q.limit, err = strconv.ParseInt(value, 10, 64)
		default:
			return q, fmt.Errorf("memory query: unknown key %q", key)
		}
		if err != nil {
			return q, fmt.Errorf("memory query: %s: %w", key, err)
		}
	}
	return q, nil
}

func (m *MemoryStore) DeleteByPredicate(ctx context.Context, partition string, start, stop time.Time, pred Predicate) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	lo, hi := nanosRange(start, stop)
	m.b.mu.Lock()
	defer m.b.mu.Unlock()
	points, ok := m.b.partitions[partition]
	if !ok {
		return &StatusError{Code: 404, Err: fmt.Errorf("partition %q not found", partition)}
	}
	kept := points[:0]
	for _, p := range points {
		ts := p.UnixNano()
		if ts >= lo && ts < hi && matches(p, pred.Measurement, pred.RunID) {
			continue
		}
		kept = append(kept, p)
	}
	m.b.partitions[partition] = kept
	return nil
}

func (m *MemoryStore) CountPoints(ctx context.Context, partition, measurement, runID string) (int64, error) {
	if err := m.checkOpen(); err != nil {
		return 0, err
	}
	m.b.mu.Lock()
	defer m.b.mu.Unlock()
	var n int64
	for _, p := range m.b.partitions[partition] {
		if matches(p, measurement, runID) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) DropPartition(ctx context.Context, partition string) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	m.b.mu.Lock()
	defer m.b.mu.Unlock()
	delete(m.b.partitions, partition)
	return nil
}

func matches(p Point, measurement, runID string) bool {
	if measurement != "" && p.Measurement != measurement {
		return false
	}
	if runID != "" && tagOrEmpty(p, TagRunID) != runID {
		return false
	}
	return true
}
