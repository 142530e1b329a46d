// Package engine orchestrates one epoch run: snapshot load, classification,
// per-pool extraction and reconciliation, normalization, signing, and
// emission. Pool failures are isolated; only a missing snapshot or a
// classification conflict can fail the run.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/yourorg/poolbench/internal/chainstate"
	"github.com/yourorg/poolbench/internal/classify"
	"github.com/yourorg/poolbench/internal/extract"
	"github.com/yourorg/poolbench/internal/metrics"
	"github.com/yourorg/poolbench/internal/model"
	"github.com/yourorg/poolbench/internal/normalize"
	"github.com/yourorg/poolbench/internal/otel"
	"github.com/yourorg/poolbench/internal/reconcile"
	"github.com/yourorg/poolbench/internal/security"
	"github.com/yourorg/poolbench/internal/sink"
)

// LiveClient is the live-query surface the engine needs; nil disables every
// live fallback.
type LiveClient interface {
	reconcile.LiveClient
	GetEpochInfo(ctx context.Context) (model.Epoch, error)
}

// Options wires an Engine.
type Options struct {
	Loader chainstate.Loader
	Live   LiveClient
	Sink   sink.Sink

	// Signer, when set, signs every record before emission.
	Signer *security.Signer

	// Metrics, when set, receives per-run instrumentation.
	Metrics *metrics.EngineMetrics

	// Workers bounds per-pool concurrency; defaults to 8.
	Workers int
}

// PoolResult is the terminal outcome for one pool.
type PoolResult struct {
	Pool   classify.Pool
	Status model.PoolStatus
	Err    error

	// Record is the emitted record, nil when the pool failed before emission.
	Record *model.CommonMetricRecord
}

// Result summarizes one epoch run.
type Result struct {
	Epoch     model.Epoch
	Pools     []PoolResult
	Conflicts []*classify.ConflictError
	Benchmark normalize.Benchmark
	Emitted   int
}

// Failed reports whether the run must exit non-zero: any classification
// conflict or pool-fatal error does it, even though the healthy pools were
// still emitted.
func (r *Result) Failed() bool {
	if len(r.Conflicts) > 0 {
		return true
	}
	for _, p := range r.Pools {
		if p.Err != nil {
			return true
		}
	}
	return false
}

// Engine runs the per-epoch pipeline.
type Engine struct {
	opts       Options
	classifier *classify.Classifier
	registry   *extract.Registry
	reconciler *reconcile.Reconciler
}

func New(opts Options) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	return &Engine{
		opts:       opts,
		classifier: classify.New(extract.DefaultSignatures()...),
		registry:   extract.NewRegistry(),
		reconciler: reconcile.New(opts.Live),
	}
}

// Run processes one epoch end to end.
func (e *Engine) Run(ctx context.Context, epoch model.Epoch) (*Result, error) {
	ctx, span := otel.Tracer().Start(ctx, "engine.Run")
	defer span.End()
	span.SetAttributes(attribute.Int64("epoch", int64(epoch)))

	start := time.Now()

	snap, err := e.opts.Loader.Load(ctx, epoch)
	if err != nil {
		otel.RecordError(ctx, err)
		return nil, fmt.Errorf("load snapshot for epoch %d: %w", epoch, err)
	}

	next := e.loadNext(ctx, epoch)
	current := e.currentEpoch(ctx)

	tips, err := extract.BuildTipsLookup(snap)
	if err != nil {
		logrus.WithError(err).Warn("Tip rewards unavailable for this run")
		tips = extract.TipsLookup{}
	}

	pools, conflicts := e.classifier.Classify(snap)
	for _, c := range conflicts {
		logrus.WithField("pool", c.PoolID).WithField("providers", c.Providers).
			Error("Classification conflict, pool excluded from run")
	}

	result := &Result{Epoch: epoch, Conflicts: conflicts}
	inputs := reconcile.Inputs{NextSnapshot: next, CurrentEpoch: current}
	extractCtx := extract.Context{Snapshot: snap, Tips: tips, Prev: e.loadPrev(ctx, epoch)}

	var mu sync.Mutex
	workers := pond.NewPool(e.opts.Workers)
	group := workers.NewGroupContext(ctx)
	for _, pool := range pools {
		pool := pool
		group.Submit(func() {
			res := e.runPool(ctx, pool, extractCtx, inputs, snap.EpochDuration())
			mu.Lock()
			result.Pools = append(result.Pools, res)
			if res.Status == model.StatusEmitted || res.Status == model.StatusRewardUnknown {
				result.Emitted++
			}
			mu.Unlock()
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logrus.WithError(err).Warn("Worker group finished with error")
	}
	workers.StopAndWait()

	emitted := make([]model.CommonMetricRecord, 0, result.Emitted)
	for _, p := range result.Pools {
		if p.Record != nil {
			emitted = append(emitted, *p.Record)
		}
	}
	result.Benchmark = normalize.Summarize(epoch, emitted)
	if len(emitted) > 0 {
		if err := e.opts.Sink.EmitBenchmark(ctx, result.Benchmark); err != nil {
			logrus.WithError(err).Warn("Benchmark summary not emitted")
		}
	}

	if e.opts.Metrics != nil {
		e.opts.Metrics.RunDuration.Observe(time.Since(start).Seconds())
	}

	logrus.WithFields(logrus.Fields{
		"epoch":     epoch,
		"pools":     len(pools),
		"emitted":   result.Emitted,
		"conflicts": len(conflicts),
		"duration":  time.Since(start).Round(time.Millisecond),
	}).Info("Epoch run complete")

	return result, nil
}

// loadNext fetches the N+1 snapshot; absence is the normal case near the
// chain tip and never fails the run.
func (e *Engine) loadNext(ctx context.Context, epoch model.Epoch) chainstate.Snapshot {
	next, err := e.opts.Loader.Load(ctx, epoch.Next())
	if err != nil {
		if !errors.Is(err, chainstate.ErrSnapshotUnavailable) {
			logrus.WithError(err).Warn("Next-epoch snapshot unreadable, falling back to live pool state")
		}
		return nil
	}
	return next
}

// loadPrev fetches the N-1 snapshot used as the liquidity baseline; absence
// leaves the delta fields blank.
func (e *Engine) loadPrev(ctx context.Context, epoch model.Epoch) chainstate.Snapshot {
	if epoch == 0 {
		return nil
	}
	prev, err := e.opts.Loader.Load(ctx, epoch-1)
	if err != nil {
		if !errors.Is(err, chainstate.ErrSnapshotUnavailable) {
			logrus.WithError(err).Warn("Previous-epoch snapshot unreadable, liquidity delta absent")
		} else {
			logrus.WithField("epoch", epoch-1).Warn("Previous-epoch snapshot unavailable, liquidity delta absent")
		}
		return nil
	}
	return prev
}

func (e *Engine) currentEpoch(ctx context.Context) model.Epoch {
	if e.opts.Live == nil {
		return 0
	}
	current, err := e.opts.Live.GetEpochInfo(ctx)
	if err != nil {
		logrus.WithError(err).Warn("Current epoch unknown, live pool-state basis disabled")
		if e.opts.Metrics != nil {
			e.opts.Metrics.LiveQueryErrors.Inc()
		}
		return 0
	}
	return current
}

func (e *Engine) runPool(ctx context.Context, pool classify.Pool, ec extract.Context, in reconcile.Inputs, epochDuration uint64) PoolResult {
	ctx, span := otel.Tracer().Start(ctx, "engine.runPool")
	defer span.End()
	span.SetAttributes(
		attribute.String("pool", pool.ID),
		attribute.String("provider", string(pool.Provider)),
	)

	start := time.Now()
	res := e.processPool(ctx, pool, ec, in, epochDuration)

	if res.Err != nil {
		otel.RecordError(ctx, res.Err)
		logrus.WithError(res.Err).WithFields(logrus.Fields{
			"pool":     pool.ID,
			"provider": pool.Provider,
			"status":   res.Status,
		}).Error("Pool failed")
	}
	if e.opts.Metrics != nil {
		e.opts.Metrics.PoolsProcessed.WithLabelValues(string(pool.Provider), string(res.Status)).Inc()
		e.opts.Metrics.PoolDuration.WithLabelValues(string(pool.Provider)).Observe(time.Since(start).Seconds())
	}
	return res
}

func (e *Engine) processPool(ctx context.Context, pool classify.Pool, ec extract.Context, in reconcile.Inputs, epochDuration uint64) PoolResult {
	extractor, ok := e.registry.ForProvider(pool.Provider)
	if !ok {
		return PoolResult{Pool: pool, Status: model.StatusExtractionFailed,
			Err: fmt.Errorf("no extractor for provider %s", pool.Provider)}
	}

	raw, err := extractor.Extract(ec, pool)
	if err != nil {
		return PoolResult{Pool: pool, Status: model.StatusExtractionFailed, Err: err}
	}

	resolution := e.reconciler.Resolve(ctx, raw, in)
	if resolution.Source == model.RewardSourceUnknown && e.opts.Metrics != nil {
		e.opts.Metrics.LiveQueryErrors.Inc()
	}

	record, err := normalize.Record(raw, resolution, epochDuration)
	if err != nil {
		return PoolResult{Pool: pool, Status: model.StatusNormalizationFailed, Err: err}
	}

	if e.opts.Signer != nil {
		sig, err := e.opts.Signer.Sign(record)
		if err != nil {
			return PoolResult{Pool: pool, Status: model.StatusEmissionFailed, Err: err}
		}
		record.Signature = sig
	}

	if err := e.opts.Sink.Emit(ctx, record); err != nil {
		return PoolResult{Pool: pool, Status: model.StatusEmissionFailed,
			Err: fmt.Errorf("emit record %s: %w", record.Key(), err)}
	}

	if e.opts.Metrics != nil {
		e.opts.Metrics.RecordsEmitted.Inc()
		e.opts.Metrics.TotalStake.WithLabelValues(string(record.Provider)).Add(float64(record.TotalStake))
		if record.EffectiveAPY != nil {
			e.opts.Metrics.EffectiveAPY.WithLabelValues(record.PoolID, string(record.Provider)).Set(*record.EffectiveAPY)
		}
	}

	status := model.StatusEmitted
	if resolution.Source == model.RewardSourceUnknown {
		status = model.StatusRewardUnknown
	}
	return PoolResult{Pool: pool, Status: status, Record: &record}
}
