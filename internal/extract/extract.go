package extract

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/poolbench/internal/chainstate"
	"github.com/yourorg/poolbench/internal/classify"
	"github.com/yourorg/poolbench/internal/model"
)

// Error marks a single pool's extraction as failed. The pool is excluded
// from the epoch's results; sibling pools are unaffected.
type Error struct {
	PoolID string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extraction failed for pool %s: %s: %v", e.PoolID, e.Reason, e.Err)
	}
	return fmt.Sprintf("extraction failed for pool %s: %s", e.PoolID, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

func errorf(poolID, reason string, err error) *Error {
	return &Error{PoolID: poolID, Reason: reason, Err: err}
}

// Context carries the shared, read-only inputs of one extraction run.
type Context struct {
	Snapshot chainstate.Snapshot
	Tips     TipsLookup

	// Prev is the epoch N-1 snapshot used for the liquidity baseline, nil
	// when it does not exist.
	Prev chainstate.Snapshot
}

// Extractor turns one classified pool into a RawMetricSet using only its
// provider's account layout rules.
type Extractor interface {
	Provider() model.Provider
	Extract(ctx Context, pool classify.Pool) (model.RawMetricSet, error)
}

// Registry is the closed set of supported extractors.
type Registry struct {
	byProvider map[model.Provider]Extractor
}

// NewRegistry builds the default registry over all supported providers.
func NewRegistry() *Registry {
	r := &Registry{byProvider: make(map[model.Provider]Extractor)}
	for _, e := range []Extractor{
		&SPLExtractor{},
		&MarinadeExtractor{},
		&SoceanExtractor{},
	} {
		r.byProvider[e.Provider()] = e
	}
	return r
}

// ForProvider returns the extractor for a provider variant.
func (r *Registry) ForProvider(p model.Provider) (Extractor, bool) {
	e, ok := r.byProvider[p]
	return e, ok
}

// DefaultSignatures returns the vetted structural signatures for every
// supported provider, for wiring into the classifier.
func DefaultSignatures() []classify.Signature {
	return []classify.Signature{
		{
			Provider: model.ProviderSPL,
			Owner:    SPLPoolProgramID,
			Matches: func(a chainstate.AccountData) bool {
				return len(a.Data) > 0 && a.Data[0] == SPLAccountStakePool
			},
		},
		{
			Provider: model.ProviderSocean,
			Owner:    SoceanProgramID,
			Matches: func(a chainstate.AccountData) bool {
				return len(a.Data) > 0 && a.Data[0] == SPLAccountStakePool
			},
		},
		{
			Provider: model.ProviderMarinade,
			Owner:    MarinadeProgramID,
			Matches: func(a chainstate.AccountData) bool {
				return a.Address == MarinadeStateAddress && HasMarinadeDiscriminator(a.Data)
			},
		},
	}
}

// DecodeLivePrice computes a pool's current LST price from its live
// pool-metadata account bytes. The reward reconciler uses this for the
// provisional, live-state APY basis.
func DecodeLivePrice(p model.Provider, data []byte) (float64, error) {
	switch p {
	case model.ProviderSPL, model.ProviderSocean:
		pool, err := DecodeSPLStakePool(data)
		if err != nil {
			return 0, err
		}
		return lstPrice(pool.TotalLamports, pool.PoolTokenSupply), nil
	case model.ProviderMarinade:
		state, err := DecodeMarinadeState(data)
		if err != nil {
			return 0, err
		}
		return lstPrice(state.TotalLamports, state.MsolSupply), nil
	default:
		return 0, fmt.Errorf("unsupported provider %q", p)
	}
}

// DecodeTotalLamports reads a pool's total lamports under management from
// its pool-metadata account bytes.
func DecodeTotalLamports(p model.Provider, data []byte) (uint64, error) {
	switch p {
	case model.ProviderSPL, model.ProviderSocean:
		pool, err := DecodeSPLStakePool(data)
		if err != nil {
			return 0, err
		}
		return pool.TotalLamports, nil
	case model.ProviderMarinade:
		state, err := DecodeMarinadeState(data)
		if err != nil {
			return 0, err
		}
		return state.TotalLamports, nil
	default:
		return 0, fmt.Errorf("unsupported provider %q", p)
	}
}

// prevTotalLamports looks the pool up in the previous epoch's snapshot. A
// missing snapshot or undecodable account leaves the baseline absent.
func prevTotalLamports(ctx Context, poolID string, provider model.Provider) *uint64 {
	if ctx.Prev == nil {
		return nil
	}
	account, ok := ctx.Prev.GetAccount(chainstate.Address(poolID))
	if !ok {
		logrus.WithField("pool", poolID).Info("Pool absent from previous-epoch snapshot, liquidity delta absent")
		return nil
	}
	total, err := DecodeTotalLamports(provider, account.Data)
	if err != nil {
		logrus.WithError(err).WithField("pool", poolID).
			Warn("Previous-epoch pool account undecodable, liquidity delta absent")
		return nil
	}
	return &total
}

// lstPrice is lamports per LST unit, 0 when no tokens are outstanding.
func lstPrice(totalLamports, supply uint64) float64 {
	if supply == 0 {
		return 0
	}
	return float64(totalLamports) / float64(supply)
}

// minStakedValidatorLamports is the threshold below which a validator does
// not count towards the pool's staked validator count (1 SOL).
const minStakedValidatorLamports = 1_000_000_000
