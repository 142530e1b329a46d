// Package model defines the core data structures for poolbench.
package model

import (
	"encoding/json"
	"fmt"
)

// Epoch identifies one consensus epoch.
type Epoch uint64

// Next returns the epoch following this one.
func (e Epoch) Next() Epoch { return e + 1 }

// Provider identifies a stake-pool provider variant. The set is closed:
// adding a provider means adding an extractor and a classifier signature.
type Provider string

const (
	ProviderSPL      Provider = "spl"
	ProviderMarinade Provider = "marinade"
	ProviderSocean   Provider = "socean"
)

// CommissionBasis records which quantity a provider's native commission is
// a fraction of. Providers disagree on this, so every normalized commission
// carries its originating convention.
type CommissionBasis string

const (
	// CommissionBasisStake means the fee is taken from the staked principal.
	CommissionBasisStake CommissionBasis = "stake"
	// CommissionBasisReward means the fee is taken from earned rewards.
	CommissionBasisReward CommissionBasis = "reward"
)

// APYBasis records which data source backed an effective-yield figure.
// A consumer must never have to guess.
type APYBasis string

const (
	// APYBasisNextEpochSnapshot: price appreciation between the epoch N and
	// N+1 snapshots. Immutable, preferred.
	APYBasisNextEpochSnapshot APYBasis = "nextEpochSnapshot"
	// APYBasisLivePoolState: provisional, derived from the pool's live state
	// while epoch N+1 is still in progress.
	APYBasisLivePoolState APYBasis = "livePoolState"
	// APYBasisUnavailable: no boundary data at all; yield fields are absent.
	APYBasisUnavailable APYBasis = "unavailable"
)

// RewardSource records where the per-epoch reward figure came from.
type RewardSource string

const (
	RewardSourceSnapshot  RewardSource = "snapshot"
	RewardSourceLiveQuery RewardSource = "liveQuery"
	RewardSourceUnknown   RewardSource = "unknown"
)

// Commission is a provider-native commission figure kept as an exact
// rational so normalization to basis points can be checked for round-trips.
type Commission struct {
	Numerator   uint64          `json:"numerator"`
	Denominator uint64          `json:"denominator"`
	Basis       CommissionBasis `json:"basis"`
}

// Fraction returns the commission as a plain fraction, 0 when undefined.
func (c Commission) Fraction() float64 {
	if c.Denominator == 0 {
		return 0
	}
	return float64(c.Numerator) / float64(c.Denominator)
}

// StakeAllocation breaks a pool's lamports down by delegation state.
type StakeAllocation struct {
	Active       uint64 `json:"active"`
	Activating   uint64 `json:"activating"`
	Deactivating uint64 `json:"deactivating"`
	Undelegated  uint64 `json:"undelegated"`
}

// Delegated is the stake currently bound to validators in any state.
func (a StakeAllocation) Delegated() uint64 {
	return a.Active + a.Activating + a.Deactivating
}

// Yielding is the stake that earns rewards this epoch. Activating stake
// does not earn until the next epoch boundary.
func (a StakeAllocation) Yielding() uint64 {
	return a.Active + a.Deactivating
}

// Total is every lamport under the pool's control.
func (a StakeAllocation) Total() uint64 {
	return a.Delegated() + a.Undelegated
}

// RawMetricSet is the provider-specific bag of measurements for one pool at
// one epoch. Produced fresh each epoch by an extractor and never mutated
// afterwards.
type RawMetricSet struct {
	Epoch    Epoch    `json:"epoch"`
	PoolID   string   `json:"poolId"`
	Provider Provider `json:"provider"`

	// Pool-level metadata read from the provider's accounts.
	Manager string `json:"manager"`
	Mint    string `json:"mint"`

	// Valid reports whether the pool was in a coherent, fully-updated state
	// for this epoch according to the provider's own accounting.
	Valid bool `json:"isValid"`

	Allocation     StakeAllocation `json:"allocation"`
	ValidatorCount uint32          `json:"validatorCount"`

	// Liquid-staking token accounting. TotalLamports is the pool's total
	// lamports under management per its own accounting, the numerator of the
	// LST price.
	TotalLamports uint64  `json:"totalLamports"`
	LSTSupply     uint64  `json:"lstSupply"`
	LSTPrice      float64 `json:"lstPrice"`

	// PrevTotalLamports is the same figure at the previous epoch's snapshot,
	// absent when no epoch N-1 snapshot was available.
	PrevTotalLamports *uint64 `json:"prevTotalLamports,omitempty"`

	Commission Commission `json:"commission"`

	// Member stake accounts, used by the reward reconciler for live
	// inflation-reward lookups when rewards are not snapshot-observable.
	StakeAccounts []string `json:"stakeAccounts"`

	// TipRewards is the MEV tip total credited to this pool's stake
	// accounts, always observable from the snapshot.
	TipRewards uint64 `json:"tipRewards"`

	// ObservedRewards is the provider's own notion of "reward since last
	// epoch", meaningful only when RewardObservable is true. Where a
	// provider tracks this as a balance delta it cannot distinguish
	// incidental transfers from protocol rewards; see DESIGN.md.
	ObservedRewards  uint64 `json:"observedRewards"`
	RewardObservable bool   `json:"rewardObservable"`
}

// RewardResolution is the reconciler's verdict for one pool at one epoch:
// the authoritative reward figure and the basis for annualization.
// Nil pointers mean "absent", never zero.
type RewardResolution struct {
	Epoch  Epoch  `json:"epoch"`
	PoolID string `json:"poolId"`

	Rewards *uint64      `json:"rewards,omitempty"`
	Source  RewardSource `json:"rewardSource"`

	// EndPrice is the LST price at the epoch N -> N+1 boundary used for the
	// effective yield, from whichever basis was available.
	EndPrice *float64 `json:"endPrice,omitempty"`
	Basis    APYBasis `json:"apyBasis"`
}

// RecordKey identifies a record in the sink.
type RecordKey struct {
	PoolID string
	Epoch  Epoch
}

func (k RecordKey) String() string {
	return fmt.Sprintf("%s/%d", k.PoolID, k.Epoch)
}

// CommonMetricRecord is the public, normalized output record. Immutable once
// emitted; recomputation for an epoch produces a new record upserted under
// the same (pool, epoch) key.
type CommonMetricRecord struct {
	Epoch    Epoch    `json:"epoch"`
	PoolID   string   `json:"poolId"`
	Provider Provider `json:"provider"`

	Manager string `json:"manager,omitempty"`
	Mint    string `json:"mint,omitempty"`
	Valid   bool   `json:"isValid"`

	TotalStake     uint64          `json:"totalStake"`
	Allocation     StakeAllocation `json:"allocation"`
	ValidatorCount uint32          `json:"validatorCount"`

	TotalLamports uint64  `json:"totalLamports"`
	LSTSupply     uint64  `json:"lstSupply"`
	LSTPrice      float64 `json:"lstPrice"`

	// LiquidityDelta is the change in the pool's total lamports since the
	// previous epoch, absent when no N-1 snapshot was available.
	LiquidityDelta *int64 `json:"liquidityDelta,omitempty"`

	CommissionBps   uint32          `json:"commissionBps"`
	CommissionBasis CommissionBasis `json:"commissionBasis"`

	// Reward and yield fields are absent (not zero) when the underlying
	// data could not be resolved.
	Rewards         *uint64      `json:"rewards,omitempty"`
	RewardSource    RewardSource `json:"rewardSource"`
	EpochRewardRate *float64     `json:"epochRewardRate,omitempty"`
	EffectiveAPY    *float64     `json:"effectiveApy,omitempty"`
	APYBasis        APYBasis     `json:"apyBasis"`

	// EpochDuration is the measured wall-clock length of the epoch in
	// seconds, recorded so annualized figures stay auditable.
	EpochDuration uint64 `json:"epochDurationSecs"`

	// Signature is an optional secp256k1 signature over CanonicalJSON,
	// attached by the engine when a signing key is configured.
	Signature string `json:"signature,omitempty"`
}

// Key returns the sink key for this record.
func (r CommonMetricRecord) Key() RecordKey {
	return RecordKey{PoolID: r.PoolID, Epoch: r.Epoch}
}

// CanonicalJSON returns the deterministic byte serialization of the record
// with the signature field cleared. Two records with identical contents
// always serialize identically, which is what the determinism and signing
// guarantees rest on.
func (r CommonMetricRecord) CanonicalJSON() ([]byte, error) {
	r.Signature = ""
	return json.Marshal(r)
}
