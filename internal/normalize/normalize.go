// Package normalize maps provider-specific raw measurements into the common
// metric schema. Everything here is a pure function of its inputs: no
// clocks, no network, no randomness. Identical inputs must produce
// byte-identical records, which is what makes the benchmark independently
// auditable.
package normalize

import (
	"fmt"
	"math"

	"github.com/yourorg/poolbench/internal/model"
)

const secondsPerYear = 365 * 24 * 60 * 60

// InconsistencyError flags a data-integrity bug: a value that cannot occur
// under the data model. The affected pool fails; values are never clamped.
type InconsistencyError struct {
	PoolID string
	Reason string
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("normalization inconsistency for pool %s: %s", e.PoolID, e.Reason)
}

func inconsistencyf(poolID, format string, args ...interface{}) *InconsistencyError {
	return &InconsistencyError{PoolID: poolID, Reason: fmt.Sprintf(format, args...)}
}

// Record maps one (RawMetricSet, RewardResolution) pair into a
// CommonMetricRecord. epochDuration is the measured epoch length in
// seconds; annualization uses it directly so epochs of different wall-clock
// length stay comparable.
func Record(raw model.RawMetricSet, res model.RewardResolution, epochDuration uint64) (model.CommonMetricRecord, error) {
	if epochDuration == 0 {
		return model.CommonMetricRecord{}, inconsistencyf(raw.PoolID, "epoch duration is zero")
	}
	if raw.PoolID != res.PoolID || raw.Epoch != res.Epoch {
		return model.CommonMetricRecord{}, inconsistencyf(raw.PoolID,
			"reward resolution for %s/%d does not match raw metrics", res.PoolID, res.Epoch)
	}

	commissionBps, err := commissionBps(raw)
	if err != nil {
		return model.CommonMetricRecord{}, err
	}

	record := model.CommonMetricRecord{
		Epoch:    raw.Epoch,
		PoolID:   raw.PoolID,
		Provider: raw.Provider,
		Manager:  raw.Manager,
		Mint:     raw.Mint,
		Valid:    raw.Valid,

		TotalStake:     raw.Allocation.Total(),
		Allocation:     raw.Allocation,
		ValidatorCount: raw.ValidatorCount,

		TotalLamports: raw.TotalLamports,
		LSTSupply:     raw.LSTSupply,
		LSTPrice:      raw.LSTPrice,

		CommissionBps:   commissionBps,
		CommissionBasis: raw.Commission.Basis,

		Rewards:      res.Rewards,
		RewardSource: res.Source,
		APYBasis:     res.Basis,

		EpochDuration: epochDuration,
	}

	if raw.PrevTotalLamports != nil {
		delta := int64(raw.TotalLamports) - int64(*raw.PrevTotalLamports)
		record.LiquidityDelta = &delta
	}

	epochsPerYear := float64(secondsPerYear) / float64(epochDuration)

	if res.Rewards != nil && raw.Allocation.Yielding() > 0 {
		rate := float64(*res.Rewards) / float64(raw.Allocation.Yielding())
		if math.IsNaN(rate) || math.IsInf(rate, 0) {
			return model.CommonMetricRecord{}, inconsistencyf(raw.PoolID, "reward rate is not finite")
		}
		record.EpochRewardRate = &rate
	}

	if res.EndPrice != nil && raw.LSTPrice > 0 {
		if *res.EndPrice <= 0 {
			return model.CommonMetricRecord{}, inconsistencyf(raw.PoolID,
				"boundary price %f is not positive", *res.EndPrice)
		}
		apr := (*res.EndPrice/raw.LSTPrice - 1) * epochsPerYear
		apy := aprToAPY(apr, epochsPerYear)
		if math.IsNaN(apy) || math.IsInf(apy, 0) {
			return model.CommonMetricRecord{}, inconsistencyf(raw.PoolID, "effective APY is not finite")
		}
		record.EffectiveAPY = &apy
	}

	return record, nil
}

// commissionBps normalizes the provider-native commission to basis points.
// The originating convention travels with the record; CommissionFromBps
// inverts the mapping for providers whose native unit is basis points.
func commissionBps(raw model.RawMetricSet) (uint32, error) {
	c := raw.Commission
	if c.Denominator == 0 {
		if c.Numerator != 0 {
			return 0, inconsistencyf(raw.PoolID, "commission %d/0 has zero denominator", c.Numerator)
		}
		return 0, nil
	}
	if c.Numerator > c.Denominator {
		return 0, inconsistencyf(raw.PoolID, "commission %d/%d exceeds 100%%", c.Numerator, c.Denominator)
	}
	return uint32(math.Round(c.Fraction() * 10_000)), nil
}

// CommissionFromBps converts a normalized commission back to the native
// fraction. For providers that store basis points natively this round-trips
// exactly.
func CommissionFromBps(bps uint32) float64 {
	return float64(bps) / 10_000
}

// aprToAPY compounds a nominal annual rate at the given frequency.
func aprToAPY(apr, compoundingFrequency float64) float64 {
	return math.Pow(1+apr/compoundingFrequency, compoundingFrequency) - 1
}
