package extract

import (
	"github.com/yourorg/poolbench/internal/classify"
	"github.com/yourorg/poolbench/internal/model"
)

// SoceanExtractor handles Socean-style pools, a fork of the SPL layout under
// its own program id. Two differences matter for the benchmark: the
// management fee is charged against staked principal rather than rewards,
// and the pool exposes no usable epoch reward accounting, so rewards always
// come from the live-query path.
type SoceanExtractor struct{}

func (e *SoceanExtractor) Provider() model.Provider { return model.ProviderSocean }

func (e *SoceanExtractor) Extract(ctx Context, pool classify.Pool) (model.RawMetricSet, error) {
	raw, state, err := extractSPLLike(ctx, pool, model.ProviderSocean)
	if err != nil {
		return model.RawMetricSet{}, err
	}

	raw.Commission = model.Commission{
		Numerator:   state.ManagementFee.Numerator,
		Denominator: state.ManagementFee.Denominator,
		Basis:       model.CommissionBasisStake,
	}

	return raw, nil
}
