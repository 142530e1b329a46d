package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/near/borsh-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/poolbench/internal/chainstate"
	"github.com/yourorg/poolbench/internal/extract"
	"github.com/yourorg/poolbench/internal/livequery"
	"github.com/yourorg/poolbench/internal/model"
)

type fakeLive struct {
	rewards    map[string]uint64
	rewardsErr error

	accountData []byte
	accountErr  error
}

func (f *fakeLive) GetInflationReward(ctx context.Context, epoch model.Epoch, accounts []string) (map[string]uint64, error) {
	if f.rewardsErr != nil {
		return nil, f.rewardsErr
	}
	out := make(map[string]uint64, len(accounts))
	for _, a := range accounts {
		out[a] = f.rewards[a]
	}
	return out, nil
}

func (f *fakeLive) GetAccountInfo(ctx context.Context, address string) (livequery.AccountInfo, error) {
	if f.accountErr != nil {
		return livequery.AccountInfo{}, f.accountErr
	}
	return livequery.AccountInfo{Data: f.accountData}, nil
}

func splPoolData(t *testing.T, totalLamports, supply uint64) []byte {
	t.Helper()
	raw, err := borsh.Serialize(extract.SPLStakePool{
		AccountType:     extract.SPLAccountStakePool,
		TotalLamports:   totalLamports,
		PoolTokenSupply: supply,
	})
	require.NoError(t, err)
	return raw
}

func baseRaw() model.RawMetricSet {
	return model.RawMetricSet{
		Epoch:         516,
		PoolID:        "pool-1",
		Provider:      model.ProviderSPL,
		StakeAccounts: []string{"stake-1", "stake-2"},
		TipRewards:    100,
	}
}

func TestResolveObservableRewardsSkipLive(t *testing.T) {
	raw := baseRaw()
	raw.RewardObservable = true
	raw.ObservedRewards = 5_000

	// A failing live client must not matter when the snapshot has the figure.
	r := New(&fakeLive{rewardsErr: errors.New("down")})
	res := r.Resolve(context.Background(), raw, Inputs{})

	require.NotNil(t, res.Rewards)
	assert.Equal(t, uint64(5_100), *res.Rewards)
	assert.Equal(t, model.RewardSourceSnapshot, res.Source)
}

func TestResolveLiveRewards(t *testing.T) {
	raw := baseRaw()
	live := &fakeLive{rewards: map[string]uint64{"stake-1": 2_000, "stake-2": 3_000}}

	res := New(live).Resolve(context.Background(), raw, Inputs{})

	require.NotNil(t, res.Rewards)
	assert.Equal(t, uint64(5_100), *res.Rewards)
	assert.Equal(t, model.RewardSourceLiveQuery, res.Source)
}

func TestResolveLiveFailureDegradesToUnknown(t *testing.T) {
	raw := baseRaw()
	live := &fakeLive{rewardsErr: livequery.ErrUnavailable}

	res := New(live).Resolve(context.Background(), raw, Inputs{})

	assert.Nil(t, res.Rewards, "unknown rewards stay absent, never zero")
	assert.Equal(t, model.RewardSourceUnknown, res.Source)
}

func TestResolveBasisPrefersNextSnapshot(t *testing.T) {
	raw := baseRaw()
	raw.RewardObservable = true

	next := chainstate.NewMemSnapshot(517, 1, "hash", 200_000)
	next.SetAccount(chainstate.AccountData{
		Address: chainstate.Address(raw.PoolID),
		Owner:   extract.SPLPoolProgramID,
		Data:    splPoolData(t, 1_000_210, 1_000_000),
	})
	next.Seal()

	// Live would return a different price; the snapshot must win.
	live := &fakeLive{accountData: splPoolData(t, 9_999, 1)}
	res := New(live).Resolve(context.Background(), raw, Inputs{
		NextSnapshot: next,
		CurrentEpoch: 517,
	})

	require.NotNil(t, res.EndPrice)
	assert.InDelta(t, 1.00021, *res.EndPrice, 1e-9)
	assert.Equal(t, model.APYBasisNextEpochSnapshot, res.Basis)
}

func TestResolveBasisPoolGoneFromNextSnapshot(t *testing.T) {
	raw := baseRaw()
	raw.RewardObservable = true

	next := chainstate.NewMemSnapshot(517, 1, "hash", 200_000)
	next.Seal()

	res := New(&fakeLive{accountData: splPoolData(t, 2, 1)}).Resolve(context.Background(), raw, Inputs{
		NextSnapshot: next,
		CurrentEpoch: 517,
	})

	// Live pool state must not be used when N+1 exists without the pool.
	assert.Nil(t, res.EndPrice)
	assert.Equal(t, model.APYBasisUnavailable, res.Basis)
}

func TestResolveBasisLivePoolState(t *testing.T) {
	raw := baseRaw()
	raw.RewardObservable = true

	res := New(&fakeLive{accountData: splPoolData(t, 1_000_210, 1_000_000)}).
		Resolve(context.Background(), raw, Inputs{CurrentEpoch: 517})

	require.NotNil(t, res.EndPrice)
	assert.InDelta(t, 1.00021, *res.EndPrice, 1e-9)
	assert.Equal(t, model.APYBasisLivePoolState, res.Basis)
}

func TestResolveBasisLiveOnlyDuringNextEpoch(t *testing.T) {
	raw := baseRaw()
	raw.RewardObservable = true

	// Chain has moved past N+1; a live price would span multiple epochs.
	res := New(&fakeLive{accountData: splPoolData(t, 2, 1)}).
		Resolve(context.Background(), raw, Inputs{CurrentEpoch: 520})

	assert.Nil(t, res.EndPrice)
	assert.Equal(t, model.APYBasisUnavailable, res.Basis)
}

func TestResolveBasisLiveFailure(t *testing.T) {
	raw := baseRaw()
	raw.RewardObservable = true

	res := New(&fakeLive{accountErr: livequery.ErrUnavailable}).
		Resolve(context.Background(), raw, Inputs{CurrentEpoch: 517})

	assert.Nil(t, res.EndPrice)
	assert.Equal(t, model.APYBasisUnavailable, res.Basis)
}
