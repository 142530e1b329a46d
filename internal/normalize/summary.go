package normalize

import (
	"math"
	"sort"

	"github.com/yourorg/poolbench/internal/model"
)

// Benchmark is the cross-pool view of one epoch: totals plus stake-weighted
// and median yield. Pools without a resolved APY contribute to the totals
// but not to the yield statistics.
type Benchmark struct {
	Epoch model.Epoch `json:"epoch"`

	Pools     int `json:"pools"`
	WithYield int `json:"poolsWithYield"`

	TotalStake       uint64 `json:"totalStake"`
	TotalUndelegated uint64 `json:"totalUndelegated"`
	TotalValidators  uint32 `json:"totalValidators"`

	// LiquidityDelta sums the per-pool liquidity changes since the previous
	// epoch, absent when no pool had one resolved.
	LiquidityDelta *int64 `json:"liquidityDelta,omitempty"`

	WeightedEffectiveAPY *float64 `json:"weightedEffectiveApy,omitempty"`
	MedianEffectiveAPY   *float64 `json:"medianEffectiveApy,omitempty"`
}

// Summarize aggregates one epoch's records into a Benchmark. Weighting is by
// total stake, so large pools dominate the headline figure the same way they
// dominate the market.
func Summarize(epoch model.Epoch, records []model.CommonMetricRecord) Benchmark {
	b := Benchmark{Epoch: epoch, Pools: len(records)}

	var weightedSum, weightTotal float64
	var deltaSum int64
	deltaSeen := false
	apys := make([]float64, 0, len(records))

	for _, r := range records {
		b.TotalStake += r.TotalStake
		b.TotalUndelegated += r.Allocation.Undelegated
		b.TotalValidators += r.ValidatorCount

		if r.LiquidityDelta != nil {
			deltaSum += *r.LiquidityDelta
			deltaSeen = true
		}

		if r.EffectiveAPY == nil || r.TotalStake == 0 {
			continue
		}
		b.WithYield++
		weightedSum += *r.EffectiveAPY * float64(r.TotalStake)
		weightTotal += float64(r.TotalStake)
		apys = append(apys, *r.EffectiveAPY)
	}

	if deltaSeen {
		b.LiquidityDelta = &deltaSum
	}
	if weightTotal > 0 && !math.IsNaN(weightedSum) {
		weighted := weightedSum / weightTotal
		b.WeightedEffectiveAPY = &weighted
	}
	if len(apys) > 0 {
		median := median(apys)
		b.MedianEffectiveAPY = &median
	}

	return b
}

func median(values []float64) float64 {
	sort.Float64s(values)
	n := len(values)
	if n%2 == 0 {
		return (values[n/2-1] + values[n/2]) / 2
	}
	return values[n/2]
}
