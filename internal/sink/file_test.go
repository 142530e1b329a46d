package sink

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/poolbench/internal/model"
	"github.com/yourorg/poolbench/internal/normalize"
)

func record(poolID string, epoch model.Epoch, stake uint64) model.CommonMetricRecord {
	return model.CommonMetricRecord{
		Epoch:      epoch,
		PoolID:     poolID,
		Provider:   model.ProviderSPL,
		TotalStake: stake,
	}
}

func TestFileSinkEmitAndList(t *testing.T) {
	s, err := NewFileSink(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Emit(ctx, record("pool-b", 516, 100)))
	require.NoError(t, s.Emit(ctx, record("pool-a", 516, 200)))

	keys, err := s.ListEmitted(ctx, 516)
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, "pool-a", keys[0].PoolID)
	assert.Equal(t, "pool-b", keys[1].PoolID)

	keys, err = s.ListEmitted(ctx, 999)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestFileSinkEmitIsIdempotentUpsert(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileSink(dir)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Emit(ctx, record("pool-a", 516, 100)))
	require.NoError(t, s.Emit(ctx, record("pool-a", 516, 250)))

	raw, err := os.ReadFile(filepath.Join(dir, "stats_516.json"))
	require.NoError(t, err)

	var stats epochStats
	require.NoError(t, json.Unmarshal(raw, &stats))
	require.Len(t, stats.Records, 1, "re-emission replaces, never duplicates")
	assert.Equal(t, uint64(250), stats.Records[0].TotalStake)
}

func TestFileSinkManifest(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileSink(dir)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Emit(ctx, record("pool-a", 517, 1)))
	require.NoError(t, s.Emit(ctx, record("pool-a", 516, 1)))
	require.NoError(t, s.Emit(ctx, record("pool-b", 517, 1)))

	raw, err := os.ReadFile(filepath.Join(dir, "manifest.json"))
	require.NoError(t, err)

	var m manifest
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Equal(t, model.Epoch(517), m.Latest)
	assert.Equal(t, []model.Epoch{516, 517}, m.Epochs)
}

func TestFileSinkBenchmark(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileSink(dir)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Emit(ctx, record("pool-a", 516, 100)))
	require.NoError(t, s.EmitBenchmark(ctx, normalize.Benchmark{Epoch: 516, Pools: 1, TotalStake: 100}))

	raw, err := os.ReadFile(filepath.Join(dir, "stats_516.json"))
	require.NoError(t, err)

	var stats epochStats
	require.NoError(t, json.Unmarshal(raw, &stats))
	require.NotNil(t, stats.Benchmark)
	assert.Equal(t, 1, stats.Benchmark.Pools)
	require.Len(t, stats.Records, 1, "benchmark write keeps the records")
}
