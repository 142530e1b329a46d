package extract

import (
	"github.com/sirupsen/logrus"

	"github.com/yourorg/poolbench/internal/chainstate"
	"github.com/yourorg/poolbench/internal/classify"
	"github.com/yourorg/poolbench/internal/model"
)

// MarinadeExtractor handles the Marinade-style pool: one state account at a
// known address, a separate stake list account, and plain stake-program
// accounts as members. The state tracks epoch rewards explicitly, so the
// reward figure is snapshot-observable, and the reward fee is stored
// natively in basis points.
type MarinadeExtractor struct{}

func (e *MarinadeExtractor) Provider() model.Provider { return model.ProviderMarinade }

func (e *MarinadeExtractor) Extract(ctx Context, pool classify.Pool) (model.RawMetricSet, error) {
	snap := ctx.Snapshot
	epoch := snap.Epoch()

	state, err := DecodeMarinadeState(pool.Account.Data)
	if err != nil {
		return model.RawMetricSet{}, errorf(pool.ID, "malformed state account", err)
	}

	listAccount, ok := snap.GetAccount(chainstate.AddressFromBytes(state.StakeList))
	if !ok {
		return model.RawMetricSet{}, errorf(pool.ID, "stake list account missing", nil)
	}
	var list MarinadeStakeList
	if err := decodeBorsh(&list, listAccount.Data); err != nil {
		return model.RawMetricSet{}, errorf(pool.ID, "malformed stake list", err)
	}
	if uint32(len(list.Records)) != state.StakeCount {
		return model.RawMetricSet{}, errorf(pool.ID, "stake list count mismatch", nil)
	}

	raw := model.RawMetricSet{
		Epoch:    epoch,
		PoolID:   pool.ID,
		Provider: model.ProviderMarinade,
		Manager:  string(chainstate.AddressFromBytes(state.AdminAuthority)),
		Mint:     string(chainstate.AddressFromBytes(state.MsolMint)),
		Valid:    state.LastUpdateEpoch >= uint64(epoch),

		TotalLamports: state.TotalLamports,
		LSTSupply:     state.MsolSupply,
		LSTPrice:      lstPrice(state.TotalLamports, state.MsolSupply),

		PrevTotalLamports: prevTotalLamports(ctx, pool.ID, model.ProviderMarinade),

		Commission: model.Commission{
			Numerator:   uint64(state.RewardFeeBps),
			Denominator: 10_000,
			Basis:       model.CommissionBasisReward,
		},

		ObservedRewards:  state.EpochRewards,
		RewardObservable: true,
	}
	raw.Allocation.Undelegated = state.ReserveLamports

	// Validators are implicit: group member stake accounts by vote account.
	perValidator := make(map[chainstate.Address]uint64)
	for _, record := range list.Records {
		addr := chainstate.AddressFromBytes(record.StakeAccount)
		raw.StakeAccounts = append(raw.StakeAccounts, string(addr))
		raw.TipRewards += ctx.Tips.Rewards(addr)

		account, ok := snap.GetAccount(addr)
		if !ok {
			// Records can briefly outlive their accounts around unstakes.
			continue
		}
		stake, err := DecodeStakeAccount(account.Data)
		if err != nil {
			return model.RawMetricSet{}, errorf(pool.ID, "malformed member stake account", err)
		}
		if stake.State != StakeStateDelegated {
			continue
		}

		// Member accounts stay in the list after their activation completes,
		// so only a delegation made this very epoch is still activating.
		// SPL transients use a looser epoch check because they never outlive
		// the stake change they carry.
		activating := stake.ActivationEpoch == uint64(epoch) && stake.DeactivationEpoch == epochMax
		deactivating := stake.DeactivationEpoch != epochMax && uint64(epoch) >= stake.DeactivationEpoch
		switch {
		case activating:
			raw.Allocation.Activating += stake.DelegatedStake
		case deactivating:
			raw.Allocation.Deactivating += stake.DelegatedStake
		default:
			raw.Allocation.Active += stake.DelegatedStake
		}

		if account.Lamports >= stake.DelegatedStake+stake.RentExemptReserve {
			raw.Allocation.Undelegated += account.Lamports - stake.DelegatedStake - stake.RentExemptReserve
		}

		perValidator[chainstate.AddressFromBytes(stake.VoteAccount)] += stake.DelegatedStake
	}

	for _, delegated := range perValidator {
		if delegated >= minStakedValidatorLamports {
			raw.ValidatorCount++
		}
	}

	logrus.WithFields(logrus.Fields{
		"pool":       pool.ID,
		"provider":   raw.Provider,
		"validators": raw.ValidatorCount,
		"delegated":  raw.Allocation.Delegated(),
	}).Debug("Pool extracted")

	return raw, nil
}
