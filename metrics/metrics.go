// Package metrics instruments a file store with Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/mwantia/tbf"
	"github.com/prometheus/client_golang/prometheus"
)

const kindOK = "ok"

type collectors struct {
	operations    *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	bytesWritten  *prometheus.CounterVec
	bytesRead     *prometheus.CounterVec
	searchResults *prometheus.HistogramVec
}

func newCollectors(reg prometheus.Registerer, namespace string) (*collectors, error) {
	c := &collectors{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Total number of file store operations, by backend, operation and result kind",
		}, []string{"backend", "op", "kind"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "File store operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"backend", "op"}),
		bytesWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_written_total",
			Help:      "Total bytes of file data written by add and edit operations",
		}, []string{"backend"}),
		bytesRead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_read_total",
			Help:      "Total bytes of file data returned by info lookups",
		}, []string{"backend"}),
		searchResults: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_results",
			Help:      "Number of files matched by a tag search",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}, []string{"backend"}),
	}

	var err error
	if c.operations, err = register(reg, c.operations); err != nil {
		return nil, err
	}
	if c.duration, err = register(reg, c.duration); err != nil {
		return nil, err
	}
	if c.bytesWritten, err = register(reg, c.bytesWritten); err != nil {
		return nil, err
	}
	if c.bytesRead, err = register(reg, c.bytesRead); err != nil {
		return nil, err
	}
	if c.searchResults, err = register(reg, c.searchResults); err != nil {
		return nil, err
	}

	return c, nil
}

// register adds the collector, reusing an identical one registered by an earlier
// Instrument call so several backends can share a registry.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}

	return c, nil
}

// InstrumentedFileSystem wraps a FileSystem and records every operation.
// Results and errors of the wrapped backend pass through unchanged.
type InstrumentedFileSystem struct {
	tbf.FileSystem
	name    string
	metrics *collectors
}

var _ tbf.FileSystem = &InstrumentedFileSystem{}

// Instrument registers the collectors on reg and wraps fs.
func Instrument(fs tbf.FileSystem, reg prometheus.Registerer, namespace string) (*InstrumentedFileSystem, error) {
	c, err := newCollectors(reg, namespace)
	if err != nil {
		return nil, err
	}

	return &InstrumentedFileSystem{
		FileSystem: fs,
		name:       fs.Name(),
		metrics:    c,
	}, nil
}

// Unwrap returns the instrumented backend.
func (ifs *InstrumentedFileSystem) Unwrap() tbf.FileSystem {
	return ifs.FileSystem
}

func (ifs *InstrumentedFileSystem) observe(op string, start time.Time, err error) {
	kind := kindOK
	if err != nil {
		kind = tbf.KindOf(err).String()
	}

	ifs.metrics.operations.WithLabelValues(ifs.name, op, kind).Inc()
	ifs.metrics.duration.WithLabelValues(ifs.name, op).Observe(time.Since(start).Seconds())
}

func (ifs *InstrumentedFileSystem) Open(ctx context.Context) error {
	t := time.Now()
	err := ifs.FileSystem.Open(ctx)
	ifs.observe("open", t, err)
	return err
}

func (ifs *InstrumentedFileSystem) Close(ctx context.Context) error {
	t := time.Now()
	err := ifs.FileSystem.Close(ctx)
	ifs.observe("close", t, err)
	return err
}

func (ifs *InstrumentedFileSystem) AddFile(ctx context.Context, data []byte, tags []tbf.Tag) (tbf.FileId, error) {
	t := time.Now()
	id, err := ifs.FileSystem.AddFile(ctx, data, tags)
	ifs.observe("add", t, err)
	if err == nil {
		ifs.metrics.bytesWritten.WithLabelValues(ifs.name).Add(float64(len(data)))
	}
	return id, err
}

func (ifs *InstrumentedFileSystem) EditFile(ctx context.Context, id tbf.FileId, update *tbf.FileUpdate) error {
	t := time.Now()
	err := ifs.FileSystem.EditFile(ctx, id, update)
	ifs.observe("edit", t, err)
	if err == nil && update.HasData() {
		ifs.metrics.bytesWritten.WithLabelValues(ifs.name).Add(float64(len(update.Data)))
	}
	return err
}

func (ifs *InstrumentedFileSystem) RemoveFile(ctx context.Context, id tbf.FileId) error {
	t := time.Now()
	err := ifs.FileSystem.RemoveFile(ctx, id)
	ifs.observe("remove", t, err)
	return err
}

func (ifs *InstrumentedFileSystem) SearchTags(ctx context.Context, pattern tbf.TagPattern) ([]tbf.FileId, error) {
	t := time.Now()
	ids, err := ifs.FileSystem.SearchTags(ctx, pattern)
	ifs.observe("search", t, err)
	if err == nil {
		ifs.metrics.searchResults.WithLabelValues(ifs.name).Observe(float64(len(ids)))
	}
	return ids, err
}

func (ifs *InstrumentedFileSystem) GetInfo(ctx context.Context, id tbf.FileId) (*tbf.FileInfo, error) {
	t := time.Now()
	info, err := ifs.FileSystem.GetInfo(ctx, id)
	ifs.observe("info", t, err)
	if err == nil {
		ifs.metrics.bytesRead.WithLabelValues(ifs.name).Add(float64(info.Size()))
	}
	return info, err
}
