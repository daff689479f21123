// Package metrics exposes live benchmark progress as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"tsdb-benchmark/internal/runner"
)

// Collector implements runner.Observer on a private registry.
type Collector struct {
	Operations *prometheus.CounterVec
	Duration   *prometheus.HistogramVec
	Units      *prometheus.CounterVec
	registry   *prometheus.Registry
}

var _ runner.Observer = (*Collector)(nil)

func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	c := &Collector{
		Operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tsbench_operations_total",
				Help: "Benchmark operations by kind, partition and status code",
			},
			[]string{"kind", "partition", "status"},
		),
		Duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tsbench_operation_duration_seconds",
				Help:    "Benchmark operation latency in seconds",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 16),
			},
			[]string{"kind"},
		),
		Units: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tsbench_units_total",
				Help: "Points written, queries answered or points deleted",
			},
			[]string{"kind"},
		),
		registry: registry,
	}
	registry.MustRegister(c.Operations, c.Duration, c.Units)
	return c
}

func (c *Collector) ObserveOperation(kind string, res runner.OperationResult) {
	c.Operations.WithLabelValues(kind, res.Partition, strconv.Itoa(res.StatusCode)).Inc()
	c.Duration.WithLabelValues(kind).Observe(res.LatencySeconds)
	if res.OK {
		c.Units.WithLabelValues(kind).Add(float64(res.Units))
	}
}

func (c *Collector) Registry() *prometheus.Registry { return c.registry }

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done. An empty addr is a no-op.
func (c *Collector) Serve(ctx context.Context, addr string, logger *zap.Logger) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		logger.Info("serving metrics", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()
}
