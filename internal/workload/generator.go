package workload

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/spaolacci/murmur3"

	"tsdb-benchmark/internal/database"
)

// Generator builds synthetic points. It holds no mutable state and is safe
// for concurrent use.
type Generator struct {
	spec Spec
	base int64
	seed uint64
}

// NewGenerator validates the point parameters of spec. base is the first
// timestamp in units of spec.Precision.
func NewGenerator(spec Spec, base int64, seed uint64) (*Generator, error) {
	if err := spec.validatePoint(); err != nil {
		return nil, err
	}
	return &Generator{spec: spec, base: base, seed: seed}, nil
}

// Generate is the one-shot form of Generator.Point.
func Generate(spec Spec, base int64, seed uint64, index int64) (database.Point, error) {
	g, err := NewGenerator(spec, base, seed)
	if err != nil {
		return database.Point{}, err
	}
	return g.Point(index), nil
}

func (g *Generator) Point(index int64) database.Point {
	fields := map[string]interface{}{
		"value": float64(index),
		"seq":   index,
	}
	switch g.spec.PointComplexity {
	case ComplexityHigh:
		fields["aux2"] = math.Sin(float64(index))
		fields["aux3"] = math.Cos(float64(index))
		fallthrough
	case ComplexityMedium:
		fields["aux1"] = float64(index % 100)
	}

	ts := g.base + index
	if g.spec.TimeOrdering == OrderingOutOfOrder {
		ts += g.jitter(index)
	}

	return database.Point{
		Measurement: g.spec.Measurement,
		Tags:        map[string]string{database.TagDeviceID: fmt.Sprintf("dev-%d", index%int64(g.spec.TagCardinality))},
		Fields:      fields,
		Timestamp:   ts,
		Precision:   g.spec.Precision,
	}
}

// Batch builds n points with indices first, first+stride, ... and adds
// extra to every point's tags.
func (g *Generator) Batch(first, stride int64, n int, extra map[string]string) []database.Point {
	points := make([]database.Point, n)
	for i := range points {
		p := g.Point(first + int64(i)*stride)
		for k, v := range extra {
			p.Tags[k] = v
		}
		points[i] = p
	}
	return points
}

// JitterBound is the maximum absolute out-of-order offset, in ticks.
func JitterBound(p database.Precision) int64 {
	switch p {
	case database.PrecisionS:
		return 1
	case database.PrecisionMS:
		return 1000
	default:
		return 1_000_000_000
	}
}

func (g *Generator) jitter(index int64) int64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(index))
	hi, lo := murmur3.Sum128WithSeed(buf[:], uint32(g.seed)^uint32(g.seed>>32))
	r := rand.New(rand.NewPCG(hi, lo))
	j := JitterBound(g.spec.Precision)
	return r.Int64N(2*j+1) - j
}

// WriteIndex returns the first point index and stride of a batch.
// Count-bounded writers own a contiguous block per batch; duration-bounded
// writers interleave so indices stay unique without knowing the batch count.
func WriteIndex(spec Spec, writer, batch int) (first, stride int64) {
	size := int64(spec.BatchSize)
	if spec.CountBounded() {
		return (int64(writer)*int64(spec.Iterations) + int64(batch)) * size, 1
	}
	writers := int64(spec.WorkerCount)
	return int64(batch)*size*writers + int64(writer), writers
}
