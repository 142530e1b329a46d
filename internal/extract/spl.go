package extract

import (
	"github.com/sirupsen/logrus"

	"github.com/yourorg/poolbench/internal/chainstate"
	"github.com/yourorg/poolbench/internal/classify"
	"github.com/yourorg/poolbench/internal/model"
)

// SPLExtractor handles SPL-style stake pools: a pool-metadata account, a
// validator list account, one active and one transient stake account per
// member validator, and a reserve stake account.
type SPLExtractor struct{}

func (e *SPLExtractor) Provider() model.Provider { return model.ProviderSPL }

func (e *SPLExtractor) Extract(ctx Context, pool classify.Pool) (model.RawMetricSet, error) {
	raw, state, err := extractSPLLike(ctx, pool, model.ProviderSPL)
	if err != nil {
		return model.RawMetricSet{}, err
	}

	// Reward fees are taken from rewards in the SPL model.
	raw.Commission = model.Commission{
		Numerator:   state.EpochFee.Numerator,
		Denominator: state.EpochFee.Denominator,
		Basis:       model.CommissionBasisReward,
	}

	// A pool updated this epoch exposes last-epoch accounting, making the
	// reward observable as a balance delta. The delta cannot tell protocol
	// rewards apart from incidental transfers into the pool; that ambiguity
	// is surfaced through the reward source, not corrected here.
	if raw.Valid && state.LastEpochPoolTokenSupply > 0 && state.TotalLamports >= state.LastEpochTotalLamports {
		raw.ObservedRewards = state.TotalLamports - state.LastEpochTotalLamports
		raw.RewardObservable = true
	}

	return raw, nil
}

// extractSPLLike builds the parts shared by the SPL and Socean variants.
func extractSPLLike(ctx Context, pool classify.Pool, provider model.Provider) (model.RawMetricSet, *SPLStakePool, error) {
	snap := ctx.Snapshot
	epoch := snap.Epoch()

	state, err := DecodeSPLStakePool(pool.Account.Data)
	if err != nil {
		return model.RawMetricSet{}, nil, errorf(pool.ID, "malformed pool account", err)
	}

	listAccount, ok := snap.GetAccount(chainstate.AddressFromBytes(state.ValidatorList))
	if !ok {
		return model.RawMetricSet{}, nil, errorf(pool.ID, "validator list account missing", nil)
	}
	list, err := DecodeSPLValidatorList(listAccount.Data)
	if err != nil {
		return model.RawMetricSet{}, nil, errorf(pool.ID, "malformed validator list", err)
	}

	raw := model.RawMetricSet{
		Epoch:    epoch,
		PoolID:   pool.ID,
		Provider: provider,
		Manager:  string(chainstate.AddressFromBytes(state.Manager)),
		Mint:     string(chainstate.AddressFromBytes(state.PoolMint)),
		Valid:    state.LastUpdateEpoch >= uint64(epoch),

		TotalLamports: state.TotalLamports,
		LSTSupply:     state.PoolTokenSupply,
		LSTPrice:      lstPrice(state.TotalLamports, state.PoolTokenSupply),

		PrevTotalLamports: prevTotalLamports(ctx, pool.ID, provider),
	}

	var activeValidators uint32
	for _, info := range list.Validators {
		activeAddr := chainstate.AddressFromBytes(info.ActiveStakeAccount)
		transientAddr := chainstate.AddressFromBytes(info.TransientStakeAccount)
		raw.StakeAccounts = append(raw.StakeAccounts, string(activeAddr), string(transientAddr))
		raw.TipRewards += ctx.Tips.Rewards(activeAddr) + ctx.Tips.Rewards(transientAddr)

		var validatorTotal uint64

		if account, ok := snap.GetAccount(activeAddr); ok && account.Lamports > 0 && len(account.Data) > 0 {
			stake, err := DecodeStakeAccount(account.Data)
			if err != nil {
				return model.RawMetricSet{}, nil, errorf(pool.ID, "malformed active stake account", err)
			}
			if stake.State != StakeStateDelegated {
				return model.RawMetricSet{}, nil, errorf(pool.ID, "active stake account not delegated", nil)
			}
			if info.Status == SPLStakeStatusActive {
				rest := account.Lamports
				if stake.DelegatedStake+stake.RentExemptReserve > rest {
					return model.RawMetricSet{}, nil, errorf(pool.ID, "stake exceeds account balance", nil)
				}
				raw.Allocation.Active += stake.DelegatedStake
				// Whatever sits in the account beyond the delegation and the
				// rent-exempt reserve is undelegated.
				raw.Allocation.Undelegated += rest - stake.DelegatedStake - stake.RentExemptReserve
				validatorTotal += account.Lamports - stake.RentExemptReserve
			}
		}

		if account, ok := snap.GetAccount(transientAddr); ok && account.Lamports > 0 && len(account.Data) > 0 {
			stake, err := DecodeStakeAccount(account.Data)
			if err != nil {
				return model.RawMetricSet{}, nil, errorf(pool.ID, "malformed transient stake account", err)
			}
			if stake.State != StakeStateDelegated {
				return model.RawMetricSet{}, nil, errorf(pool.ID, "transient stake account not delegated", nil)
			}
			// Transient accounts exist only while a stake change is in
			// flight, which can span several epochs when activation drains
			// through the warmup limit. Any transient delegated at or before
			// this epoch that is not deactivating is therefore still
			// activating; compare the Marinade rule, where member accounts
			// outlive activation and only same-epoch delegations count.
			activating := uint64(epoch) >= stake.ActivationEpoch && stake.DeactivationEpoch == epochMax
			deactivating := stake.DeactivationEpoch != epochMax && uint64(epoch) >= stake.DeactivationEpoch
			amount := stake.RentExemptReserve + stake.DelegatedStake
			switch {
			case activating && deactivating:
				return model.RawMetricSet{}, nil, errorf(pool.ID, "transient stake both activating and deactivating", nil)
			case activating:
				raw.Allocation.Activating += amount
			case deactivating:
				raw.Allocation.Deactivating += amount
			default:
				return model.RawMetricSet{}, nil, errorf(pool.ID, "transient stake neither activating nor deactivating", nil)
			}
			validatorTotal += amount
		}

		if info.Status == SPLStakeStatusActive && validatorTotal >= minStakedValidatorLamports {
			activeValidators++
		}
	}
	raw.ValidatorCount = activeValidators

	// The reserve's rent-exempt portion never yields and is excluded.
	reserveAccount, ok := snap.GetAccount(chainstate.AddressFromBytes(state.ReserveStake))
	if !ok {
		return model.RawMetricSet{}, nil, errorf(pool.ID, "reserve stake account missing", nil)
	}
	reserve, err := DecodeStakeAccount(reserveAccount.Data)
	if err != nil {
		return model.RawMetricSet{}, nil, errorf(pool.ID, "malformed reserve stake account", err)
	}
	if reserve.State != StakeStateInitialized {
		return model.RawMetricSet{}, nil, errorf(pool.ID, "reserve stake account not initialized", nil)
	}
	if reserve.RentExemptReserve > reserveAccount.Lamports {
		return model.RawMetricSet{}, nil, errorf(pool.ID, "reserve rent exemption exceeds balance", nil)
	}
	raw.Allocation.Undelegated += reserveAccount.Lamports - reserve.RentExemptReserve

	logrus.WithFields(logrus.Fields{
		"pool":       pool.ID,
		"provider":   provider,
		"validators": raw.ValidatorCount,
		"delegated":  raw.Allocation.Delegated(),
	}).Debug("Pool extracted")

	return raw, state, nil
}
