// Package sink persists normalized metric records. Emission is an idempotent
// upsert keyed by (pool, epoch): recomputing an epoch replaces records
// in place instead of duplicating them.
package sink

import (
	"context"

	"github.com/yourorg/poolbench/internal/model"
	"github.com/yourorg/poolbench/internal/normalize"
)

// Sink is a destination for metric records.
type Sink interface {
	// Emit upserts one record under its (pool, epoch) key.
	Emit(ctx context.Context, record model.CommonMetricRecord) error

	// EmitBenchmark upserts the cross-pool summary for an epoch.
	EmitBenchmark(ctx context.Context, b normalize.Benchmark) error

	// ListEmitted returns the keys already persisted for an epoch, sorted by
	// pool ID.
	ListEmitted(ctx context.Context, epoch model.Epoch) ([]model.RecordKey, error)

	Close() error
}
