// Package metrics records gauges and counters into an embedded time series store.
package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nakabonne/tstorage"
)

// Point is one stored sample.
type Point struct {
	Timestamp int64   `json:"timestamp"`
	Value     float64 `json:"value"`
}

var (
	mu      sync.RWMutex
	storage tstorage.Storage
)

// InitMetrics opens the store under <workdir>/metrics. Calls before InitMetrics, or
// after Close, are silently dropped.
func InitMetrics(workdir string) error {
	dir := filepath.Join(workdir, "metrics")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	s, err := tstorage.NewStorage(
		tstorage.WithDataPath(dir),
		tstorage.WithTimestampPrecision(tstorage.Seconds),
		tstorage.WithRetention(7*24*time.Hour),
	)
	if err != nil {
		return err
	}
	mu.Lock()
	storage = s
	mu.Unlock()
	return nil
}

func insert(name string, value float64) {
	mu.RLock()
	defer mu.RUnlock()
	if storage == nil {
		return
	}
	_ = storage.InsertRows([]tstorage.Row{{
		Metric:    name,
		DataPoint: tstorage.DataPoint{Timestamp: time.Now().Unix(), Value: value},
	}})
}

// SetGauge stores the current value of name.
func SetGauge(name string, value int64) {
	insert(name, float64(value))
}

// Incr records one occurrence of name.
func Incr(name string) {
	insert(name, 1)
}

// Observe stores an arbitrary sample, e.g. a latency in milliseconds.
func Observe(name string, value float64) {
	insert(name, value)
}

// Query returns the samples of name within [start, end).
func Query(name string, start, end time.Time) ([]Point, error) {
	mu.RLock()
	defer mu.RUnlock()
	if storage == nil {
		return nil, nil
	}
	pts, err := storage.Select(name, nil, start.Unix(), end.Unix())
	if errors.Is(err, tstorage.ErrNoDataPoints) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	out := make([]Point, 0, len(pts))
	for _, p := range pts {
		out = append(out, Point{Timestamp: p.Timestamp, Value: p.Value})
	}
	return out, nil
}

func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if storage == nil {
		return nil
	}
	err := storage.Close()
	storage = nil
	return err
}
