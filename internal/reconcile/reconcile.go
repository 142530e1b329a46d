// Package reconcile resolves the authoritative per-pool reward figure and
// the epoch-boundary price used for effective yield. It is the only stage
// allowed to consult the live-query client, and every live failure degrades
// the affected fields instead of failing the pool.
package reconcile

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/poolbench/internal/chainstate"
	"github.com/yourorg/poolbench/internal/extract"
	"github.com/yourorg/poolbench/internal/livequery"
	"github.com/yourorg/poolbench/internal/model"
)

// LiveClient is the slice of the live-query client the reconciler needs.
type LiveClient interface {
	GetInflationReward(ctx context.Context, epoch model.Epoch, stakeAccounts []string) (map[string]uint64, error)
	GetAccountInfo(ctx context.Context, address string) (livequery.AccountInfo, error)
}

// Inputs carries the boundary data shared by every pool of one run.
type Inputs struct {
	// NextSnapshot is the epoch N+1 snapshot, nil when it does not exist
	// yet. When present it is always the preferred APY basis.
	NextSnapshot chainstate.Snapshot

	// CurrentEpoch is the chain's in-progress epoch as reported live, 0
	// when it could not be determined. The live pool-state fallback is
	// only valid while epoch N+1 is still in progress.
	CurrentEpoch model.Epoch
}

// Reconciler produces RewardResolutions.
type Reconciler struct {
	live LiveClient
}

func New(live LiveClient) *Reconciler {
	return &Reconciler{live: live}
}

// Resolve computes the reward figure and APY basis for one pool. It never
// returns an error: partial data yields a degraded resolution, with absent
// fields left nil rather than fabricated as zero.
func (r *Reconciler) Resolve(ctx context.Context, raw model.RawMetricSet, in Inputs) model.RewardResolution {
	res := model.RewardResolution{
		Epoch:  raw.Epoch,
		PoolID: raw.PoolID,
	}

	r.resolveRewards(ctx, raw, &res)
	r.resolveBasis(ctx, raw, in, &res)

	return res
}

func (r *Reconciler) resolveRewards(ctx context.Context, raw model.RawMetricSet, res *model.RewardResolution) {
	if raw.RewardObservable {
		// Snapshot-observable figures may fold in incidental transfers the
		// chain state does not label separately; the source field is how
		// consumers see which accounting backed the number.
		total := raw.ObservedRewards + raw.TipRewards
		res.Rewards = &total
		res.Source = model.RewardSourceSnapshot
		return
	}

	if r.live == nil {
		logrus.WithField("pool", raw.PoolID).Warn("No live client configured, emitting reward-unknown")
		res.Source = model.RewardSourceUnknown
		return
	}

	rewards, err := r.live.GetInflationReward(ctx, raw.Epoch, raw.StakeAccounts)
	if err != nil {
		logrus.WithError(err).WithField("pool", raw.PoolID).
			Warn("Inflation rewards unavailable, emitting reward-unknown")
		res.Source = model.RewardSourceUnknown
		return
	}

	total := raw.TipRewards
	for _, amount := range rewards {
		total += amount
	}
	res.Rewards = &total
	res.Source = model.RewardSourceLiveQuery
}

func (r *Reconciler) resolveBasis(ctx context.Context, raw model.RawMetricSet, in Inputs, res *model.RewardResolution) {
	res.Basis = model.APYBasisUnavailable

	if in.NextSnapshot != nil {
		account, ok := in.NextSnapshot.GetAccount(chainstate.Address(raw.PoolID))
		if !ok {
			// The pool no longer exists at N+1; a live price would describe
			// a different pool, so yield stays absent.
			logrus.WithField("pool", raw.PoolID).Info("Pool absent from next-epoch snapshot")
			return
		}
		price, err := extract.DecodeLivePrice(raw.Provider, account.Data)
		if err != nil {
			logrus.WithError(err).WithField("pool", raw.PoolID).
				Warn("Next-epoch pool account undecodable, yield absent")
			return
		}
		res.EndPrice = &price
		res.Basis = model.APYBasisNextEpochSnapshot
		return
	}

	if r.live == nil || in.CurrentEpoch != raw.Epoch.Next() {
		return
	}

	info, err := r.live.GetAccountInfo(ctx, raw.PoolID)
	if err != nil {
		logrus.WithError(err).WithField("pool", raw.PoolID).
			Warn("Live pool state unavailable, yield absent")
		return
	}
	price, err := extract.DecodeLivePrice(raw.Provider, info.Data)
	if err != nil {
		logrus.WithError(err).WithField("pool", raw.PoolID).
			Warn("Live pool state undecodable, yield absent")
		return
	}
	res.EndPrice = &price
	res.Basis = model.APYBasisLivePoolState
}
