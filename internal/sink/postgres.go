package sink

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/poolbench/internal/model"
	"github.com/yourorg/poolbench/internal/normalize"
)

const schema = `
CREATE TABLE IF NOT EXISTS pool_metrics (
	pool_id          TEXT        NOT NULL,
	epoch            BIGINT      NOT NULL,
	provider         TEXT        NOT NULL,
	total_stake      BIGINT      NOT NULL,
	validator_count  INTEGER     NOT NULL,
	commission_bps   INTEGER     NOT NULL,
	effective_apy    DOUBLE PRECISION,
	apy_basis        TEXT        NOT NULL,
	reward_source    TEXT        NOT NULL,
	record           JSONB       NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (pool_id, epoch)
);

CREATE TABLE IF NOT EXISTS epoch_benchmarks (
	epoch      BIGINT      NOT NULL PRIMARY KEY,
	benchmark  JSONB       NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// PostgresSink persists records to Postgres for downstream dashboards. The
// full record travels as JSONB; the flattened columns exist for indexing and
// ad-hoc queries.
type PostgresSink struct {
	pool *pgxpool.Pool
}

func NewPostgresSink(ctx context.Context, databaseURL string) (*PostgresSink, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	logrus.Info("Postgres sink ready")
	return &PostgresSink{pool: pool}, nil
}

func (s *PostgresSink) Emit(ctx context.Context, record model.CommonMetricRecord) error {
	raw, err := record.CanonicalJSON()
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", record.Key(), err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO pool_metrics
			(pool_id, epoch, provider, total_stake, validator_count,
			 commission_bps, effective_apy, apy_basis, reward_source, record)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (pool_id, epoch) DO UPDATE SET
			provider        = EXCLUDED.provider,
			total_stake     = EXCLUDED.total_stake,
			validator_count = EXCLUDED.validator_count,
			commission_bps  = EXCLUDED.commission_bps,
			effective_apy   = EXCLUDED.effective_apy,
			apy_basis       = EXCLUDED.apy_basis,
			reward_source   = EXCLUDED.reward_source,
			record          = EXCLUDED.record,
			updated_at      = now()`,
		record.PoolID, int64(record.Epoch), string(record.Provider),
		int64(record.TotalStake), int32(record.ValidatorCount),
		int32(record.CommissionBps), record.EffectiveAPY,
		string(record.APYBasis), string(record.RewardSource), raw)
	if err != nil {
		return fmt.Errorf("upsert record %s: %w", record.Key(), err)
	}
	return nil
}

func (s *PostgresSink) EmitBenchmark(ctx context.Context, b normalize.Benchmark) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO epoch_benchmarks (epoch, benchmark)
		VALUES ($1, $2)
		ON CONFLICT (epoch) DO UPDATE SET
			benchmark  = EXCLUDED.benchmark,
			updated_at = now()`,
		int64(b.Epoch), b)
	if err != nil {
		return fmt.Errorf("upsert benchmark for epoch %d: %w", b.Epoch, err)
	}
	return nil
}

func (s *PostgresSink) ListEmitted(ctx context.Context, epoch model.Epoch) ([]model.RecordKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT pool_id FROM pool_metrics WHERE epoch = $1 ORDER BY pool_id`,
		int64(epoch))
	if err != nil {
		return nil, fmt.Errorf("list records for epoch %d: %w", epoch, err)
	}
	defer rows.Close()

	var keys []model.RecordKey
	for rows.Next() {
		var poolID string
		if err := rows.Scan(&poolID); err != nil {
			return nil, fmt.Errorf("scan record key: %w", err)
		}
		keys = append(keys, model.RecordKey{PoolID: poolID, Epoch: epoch})
	}
	return keys, rows.Err()
}

func (s *PostgresSink) Close() error {
	s.pool.Close()
	return nil
}

// Multi fans every emission out to several sinks, failing on the first error.
type Multi []Sink

func (m Multi) Emit(ctx context.Context, record model.CommonMetricRecord) error {
	for _, s := range m {
		if err := s.Emit(ctx, record); err != nil {
			return err
		}
	}
	return nil
}

func (m Multi) EmitBenchmark(ctx context.Context, b normalize.Benchmark) error {
	for _, s := range m {
		if err := s.EmitBenchmark(ctx, b); err != nil {
			return err
		}
	}
	return nil
}

func (m Multi) ListEmitted(ctx context.Context, epoch model.Epoch) ([]model.RecordKey, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return m[0].ListEmitted(ctx, epoch)
}

func (m Multi) Close() error {
	var first error
	for _, s := range m {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
