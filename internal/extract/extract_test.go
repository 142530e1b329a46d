package extract

import (
	"testing"

	"github.com/near/borsh-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/poolbench/internal/chainstate"
	"github.com/yourorg/poolbench/internal/classify"
	"github.com/yourorg/poolbench/internal/model"
)

const (
	testEpoch    = model.Epoch(516)
	testDuration = uint64(216_000)
	rentExempt   = uint64(2_282_880)
)

func addrBytes(b byte) [32]uint8 {
	var out [32]uint8
	for i := range out {
		out[i] = b
	}
	return out
}

func testAddr(b byte) chainstate.Address {
	return chainstate.AddressFromBytes(addrBytes(b))
}

func mustBorsh(t *testing.T, v interface{}) []byte {
	t.Helper()
	raw, err := borsh.Serialize(v)
	require.NoError(t, err)
	return raw
}

func newTestSnapshot() *chainstate.MemSnapshot {
	return chainstate.NewMemSnapshot(testEpoch, 222_912_000, "bankhash", testDuration)
}

// splFixture builds a one-validator SPL-style pool: an active delegation with
// a small undelegated surplus, a deactivating transient, and a reserve.
func splFixture(t *testing.T, program chainstate.Address, mutate func(*SPLStakePool)) (*chainstate.MemSnapshot, classify.Pool) {
	t.Helper()

	state := SPLStakePool{
		AccountType:              SPLAccountStakePool,
		Manager:                  addrBytes(0x10),
		ValidatorList:            addrBytes(0x20),
		ReserveStake:             addrBytes(0x30),
		PoolMint:                 addrBytes(0x40),
		TotalLamports:            10_000_000_000,
		PoolTokenSupply:          9_990_000_000,
		LastUpdateEpoch:          uint64(testEpoch),
		LastEpochTotalLamports:   9_990_000_000,
		LastEpochPoolTokenSupply: 9_990_000_000,
		EpochFee:                 Fee{Numerator: 5, Denominator: 100},
		ManagementFee:            Fee{Numerator: 3, Denominator: 100},
	}
	if mutate != nil {
		mutate(&state)
	}

	list := SPLValidatorList{
		AccountType:   SPLAccountValidatorList,
		MaxValidators: 10,
		Validators: []SPLValidatorInfo{{
			VoteAccount:           addrBytes(0x50),
			ActiveStakeAccount:    addrBytes(0x60),
			TransientStakeAccount: addrBytes(0x70),
			Status:                SPLStakeStatusActive,
		}},
	}

	active := StakeAccount{
		State:             StakeStateDelegated,
		RentExemptReserve: rentExempt,
		VoteAccount:       addrBytes(0x50),
		DelegatedStake:    5_000_000_000,
		ActivationEpoch:   500,
		DeactivationEpoch: epochMax,
	}
	transient := StakeAccount{
		State:             StakeStateDelegated,
		RentExemptReserve: rentExempt,
		VoteAccount:       addrBytes(0x50),
		DelegatedStake:    1_000_000_000,
		ActivationEpoch:   500,
		DeactivationEpoch: uint64(testEpoch),
	}
	reserve := StakeAccount{
		State:             StakeStateInitialized,
		RentExemptReserve: rentExempt,
	}

	snap := newTestSnapshot()
	poolAccount := chainstate.AccountData{
		Address:  testAddr(0x01),
		Owner:    program,
		Lamports: 1,
		Data:     mustBorsh(t, state),
	}
	snap.SetAccount(poolAccount)
	snap.SetAccount(chainstate.AccountData{
		Address: testAddr(0x20), Owner: program, Lamports: 1,
		Data: mustBorsh(t, list),
	})
	snap.SetAccount(chainstate.AccountData{
		Address: testAddr(0x60), Owner: StakeProgramID,
		Lamports: 5_000_000_000 + rentExempt + 1_000,
		Data:     mustBorsh(t, active),
	})
	snap.SetAccount(chainstate.AccountData{
		Address: testAddr(0x70), Owner: StakeProgramID,
		Lamports: 1_000_000_000 + rentExempt,
		Data:     mustBorsh(t, transient),
	})
	snap.SetAccount(chainstate.AccountData{
		Address: testAddr(0x30), Owner: StakeProgramID,
		Lamports: 1_000_000_000,
		Data:     mustBorsh(t, reserve),
	})
	snap.Seal()

	provider := model.ProviderSPL
	if program == SoceanProgramID {
		provider = model.ProviderSocean
	}
	return snap, classify.Pool{
		ID:       string(poolAccount.Address),
		Provider: provider,
		Account:  poolAccount,
	}
}

func TestSPLExtract(t *testing.T) {
	snap, pool := splFixture(t, SPLPoolProgramID, nil)

	raw, err := (&SPLExtractor{}).Extract(Context{Snapshot: snap, Tips: TipsLookup{}}, pool)
	require.NoError(t, err)

	assert.Equal(t, testEpoch, raw.Epoch)
	assert.Equal(t, model.ProviderSPL, raw.Provider)
	assert.True(t, raw.Valid)

	assert.Equal(t, uint64(5_000_000_000), raw.Allocation.Active)
	assert.Equal(t, uint64(0), raw.Allocation.Activating)
	assert.Equal(t, uint64(1_000_000_000+rentExempt), raw.Allocation.Deactivating)
	// 1000 surplus on the active account plus the reserve minus its rent.
	assert.Equal(t, uint64(1_000+1_000_000_000-rentExempt), raw.Allocation.Undelegated)
	assert.Equal(t, uint32(1), raw.ValidatorCount)

	assert.Equal(t, model.Commission{Numerator: 5, Denominator: 100, Basis: model.CommissionBasisReward}, raw.Commission)
	assert.True(t, raw.RewardObservable)
	assert.Equal(t, uint64(10_000_000), raw.ObservedRewards)
	assert.InDelta(t, float64(10_000_000_000)/float64(9_990_000_000), raw.LSTPrice, 1e-12)
	assert.Len(t, raw.StakeAccounts, 2)
}

func TestSPLExtractLiquidityBaseline(t *testing.T) {
	snap, pool := splFixture(t, SPLPoolProgramID, nil)

	prev := chainstate.NewMemSnapshot(testEpoch-1, 1, "prev", testDuration)
	prev.SetAccount(chainstate.AccountData{
		Address: pool.Account.Address,
		Owner:   SPLPoolProgramID,
		Data: mustBorsh(t, SPLStakePool{
			AccountType:     SPLAccountStakePool,
			TotalLamports:   9_990_000_000,
			PoolTokenSupply: 9_990_000_000,
		}),
	})
	prev.Seal()

	raw, err := (&SPLExtractor{}).Extract(Context{Snapshot: snap, Tips: TipsLookup{}, Prev: prev}, pool)
	require.NoError(t, err)
	assert.Equal(t, uint64(10_000_000_000), raw.TotalLamports)
	require.NotNil(t, raw.PrevTotalLamports)
	assert.Equal(t, uint64(9_990_000_000), *raw.PrevTotalLamports)

	// Without an N-1 snapshot the baseline stays absent, never zero.
	raw, err = (&SPLExtractor{}).Extract(Context{Snapshot: snap, Tips: TipsLookup{}}, pool)
	require.NoError(t, err)
	assert.Nil(t, raw.PrevTotalLamports)
}

func TestSPLExtractStaleNotObservable(t *testing.T) {
	snap, pool := splFixture(t, SPLPoolProgramID, func(s *SPLStakePool) {
		s.LastUpdateEpoch = uint64(testEpoch) - 1
	})

	raw, err := (&SPLExtractor{}).Extract(Context{Snapshot: snap, Tips: TipsLookup{}}, pool)
	require.NoError(t, err)
	assert.False(t, raw.Valid)
	assert.False(t, raw.RewardObservable)
	assert.Zero(t, raw.ObservedRewards)
}

func TestSPLExtractStakeExceedsBalance(t *testing.T) {
	snap, pool := splFixture(t, SPLPoolProgramID, nil)
	broken := newTestSnapshot()
	account, _ := snap.GetAccount(testAddr(0x60))
	account.Lamports = 1_000
	broken.SetAccount(pool.Account)
	broken.SetAccount(account)
	list, _ := snap.GetAccount(testAddr(0x20))
	broken.SetAccount(list)
	broken.Seal()

	_, err := (&SPLExtractor{}).Extract(Context{Snapshot: broken, Tips: TipsLookup{}}, pool)
	require.Error(t, err)
	var extractErr *Error
	require.ErrorAs(t, err, &extractErr)
	assert.Equal(t, pool.ID, extractErr.PoolID)
}

func TestSPLExtractTransientNeitherDirection(t *testing.T) {
	snap, pool := splFixture(t, SPLPoolProgramID, nil)
	broken := newTestSnapshot()
	broken.SetAccount(pool.Account)
	for _, a := range []chainstate.Address{testAddr(0x20), testAddr(0x60), testAddr(0x30)} {
		account, ok := snap.GetAccount(a)
		require.True(t, ok)
		broken.SetAccount(account)
	}
	// Deactivation in the future relative to the snapshot epoch.
	transient := StakeAccount{
		State:             StakeStateDelegated,
		RentExemptReserve: rentExempt,
		VoteAccount:       addrBytes(0x50),
		DelegatedStake:    1_000_000_000,
		ActivationEpoch:   500,
		DeactivationEpoch: uint64(testEpoch) + 5,
	}
	broken.SetAccount(chainstate.AccountData{
		Address: testAddr(0x70), Owner: StakeProgramID,
		Lamports: 1_000_000_000 + rentExempt,
		Data:     mustBorsh(t, transient),
	})
	broken.Seal()

	_, err := (&SPLExtractor{}).Extract(Context{Snapshot: broken, Tips: TipsLookup{}}, pool)
	require.Error(t, err)
}

func TestSoceanExtractUsesManagementFee(t *testing.T) {
	snap, pool := splFixture(t, SoceanProgramID, nil)

	raw, err := (&SoceanExtractor{}).Extract(Context{Snapshot: snap, Tips: TipsLookup{}}, pool)
	require.NoError(t, err)

	assert.Equal(t, model.ProviderSocean, raw.Provider)
	assert.Equal(t, model.Commission{Numerator: 3, Denominator: 100, Basis: model.CommissionBasisStake}, raw.Commission)
	assert.False(t, raw.RewardObservable, "management-fee pools never expose rewards in the snapshot")
}

func marinadeFixture(t *testing.T, records []MarinadeStakeRecord, stakeCount uint32) (*chainstate.MemSnapshot, classify.Pool) {
	t.Helper()

	state := MarinadeState{
		MsolMint:        addrBytes(0xa0),
		AdminAuthority:  addrBytes(0xa1),
		StakeList:       addrBytes(0xa2),
		StakeCount:      stakeCount,
		MsolSupply:      20_000_000_000,
		TotalLamports:   20_200_000_000,
		ReserveLamports: 500_000_000,
		RewardFeeBps:    450,
		EpochRewards:    42_000_000,
		LastUpdateEpoch: uint64(testEpoch),
	}
	data, err := EncodeMarinadeState(state)
	require.NoError(t, err)

	snap := newTestSnapshot()
	stateAccount := chainstate.AccountData{
		Address:  MarinadeStateAddress,
		Owner:    MarinadeProgramID,
		Lamports: 1,
		Data:     data,
	}
	snap.SetAccount(stateAccount)
	snap.SetAccount(chainstate.AccountData{
		Address: testAddr(0xa2), Owner: MarinadeProgramID, Lamports: 1,
		Data: mustBorsh(t, MarinadeStakeList{Records: records}),
	})

	return snap, classify.Pool{
		ID:       string(MarinadeStateAddress),
		Provider: model.ProviderMarinade,
		Account:  stateAccount,
	}
}

func TestMarinadeExtract(t *testing.T) {
	records := []MarinadeStakeRecord{
		{StakeAccount: addrBytes(0xb0)},
		{StakeAccount: addrBytes(0xb1)},
		{StakeAccount: addrBytes(0xb2)},
	}
	snap, pool := marinadeFixture(t, records, 3)

	snap.SetAccount(chainstate.AccountData{
		Address: testAddr(0xb0), Owner: StakeProgramID,
		Lamports: 8_000_000_000 + rentExempt,
		Data: mustBorsh(t, StakeAccount{
			State: StakeStateDelegated, RentExemptReserve: rentExempt,
			VoteAccount: addrBytes(0xc0), DelegatedStake: 8_000_000_000,
			ActivationEpoch: 500, DeactivationEpoch: epochMax,
		}),
	})
	// Activating this very epoch.
	snap.SetAccount(chainstate.AccountData{
		Address: testAddr(0xb1), Owner: StakeProgramID,
		Lamports: 2_000_000_000 + rentExempt,
		Data: mustBorsh(t, StakeAccount{
			State: StakeStateDelegated, RentExemptReserve: rentExempt,
			VoteAccount: addrBytes(0xc1), DelegatedStake: 2_000_000_000,
			ActivationEpoch: uint64(testEpoch), DeactivationEpoch: epochMax,
		}),
	})
	// 0xb2 intentionally absent: records can outlive accounts.
	snap.Seal()

	raw, err := (&MarinadeExtractor{}).Extract(Context{Snapshot: snap, Tips: TipsLookup{}}, pool)
	require.NoError(t, err)

	assert.Equal(t, uint64(8_000_000_000), raw.Allocation.Active)
	assert.Equal(t, uint64(2_000_000_000), raw.Allocation.Activating)
	assert.Equal(t, uint64(500_000_000), raw.Allocation.Undelegated)
	assert.Equal(t, uint32(2), raw.ValidatorCount)

	assert.Equal(t, model.Commission{Numerator: 450, Denominator: 10_000, Basis: model.CommissionBasisReward}, raw.Commission)
	assert.True(t, raw.RewardObservable)
	assert.Equal(t, uint64(42_000_000), raw.ObservedRewards)
	assert.Len(t, raw.StakeAccounts, 3)
}

func TestMarinadeExtractStakeCountMismatch(t *testing.T) {
	snap, pool := marinadeFixture(t, []MarinadeStakeRecord{{StakeAccount: addrBytes(0xb0)}}, 2)
	snap.Seal()

	_, err := (&MarinadeExtractor{}).Extract(Context{Snapshot: snap, Tips: TipsLookup{}}, pool)
	require.Error(t, err)
	var extractErr *Error
	require.ErrorAs(t, err, &extractErr)
}

func TestBuildTipsLookup(t *testing.T) {
	snap := newTestSnapshot()
	tips := TipDistributionAccount{
		VoteAccount:     addrBytes(0x50),
		Epoch:           uint64(testEpoch),
		TotalTips:       1_000_000,
		ValidatorFeeBps: 1_000,
		Delegations: []TipDelegation{
			{StakeAccount: addrBytes(0x60), LamportsDelegated: 3_000},
			{StakeAccount: addrBytes(0x61), LamportsDelegated: 1_000},
		},
	}
	staleTips := TipDistributionAccount{
		VoteAccount: addrBytes(0x51),
		Epoch:       uint64(testEpoch) - 1,
		TotalTips:   999_999,
		Delegations: []TipDelegation{{StakeAccount: addrBytes(0x60), LamportsDelegated: 1}},
	}
	snap.SetAccount(chainstate.AccountData{
		Address: testAddr(0xd0), Owner: TipDistributionProgramID, Lamports: 1,
		Data: mustBorsh(t, tips),
	})
	snap.SetAccount(chainstate.AccountData{
		Address: testAddr(0xd1), Owner: TipDistributionProgramID, Lamports: 1,
		Data: mustBorsh(t, staleTips),
	})
	snap.Seal()

	lookup, err := BuildTipsLookup(snap)
	require.NoError(t, err)

	// 10% validator cut leaves 900_000, split 3:1.
	assert.Equal(t, uint64(675_000), lookup.Rewards(testAddr(0x60)))
	assert.Equal(t, uint64(225_000), lookup.Rewards(testAddr(0x61)))
	assert.Zero(t, lookup.Rewards(testAddr(0x62)))
}

func TestBuildTipsLookupSkipsFeeAboveFull(t *testing.T) {
	snap := newTestSnapshot()
	tips := TipDistributionAccount{
		VoteAccount:     addrBytes(0x50),
		Epoch:           uint64(testEpoch),
		TotalTips:       1_000_000,
		ValidatorFeeBps: 20_000,
		Delegations:     []TipDelegation{{StakeAccount: addrBytes(0x60), LamportsDelegated: 1_000}},
	}
	snap.SetAccount(chainstate.AccountData{
		Address: testAddr(0xd0), Owner: TipDistributionProgramID, Lamports: 1,
		Data: mustBorsh(t, tips),
	})
	snap.Seal()

	lookup, err := BuildTipsLookup(snap)
	require.NoError(t, err)
	assert.Zero(t, lookup.Rewards(testAddr(0x60)), "a fee above 100% must never credit tips")
}
