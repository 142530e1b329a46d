// Package extract implements the per-provider metric extractors. Each
// provider encodes pool membership, commission, and reward accounting
// differently; extractors read only their own pool's accounts and produce a
// RawMetricSet per pool per epoch.
package extract

import (
	"bytes"
	"fmt"
	"math"

	"github.com/near/borsh-go"

	"github.com/yourorg/poolbench/internal/chainstate"
)

// Well-known program ids. The classifier's structural signatures and the
// extractors both key off these.
var (
	StakeProgramID           = chainstate.Address("Stake11111111111111111111111111111111111111")
	SPLPoolProgramID         = chainstate.Address("SPoo1Ku8WFXoNDMHPsrGSTSG1Y47rzgn41SLUNakuHy")
	SoceanProgramID          = chainstate.Address("5ocnV1qiCgaQR8Jb8xWnVbApfaygJ8tNoZfgPwsgx9kx")
	MarinadeProgramID        = chainstate.Address("MarBmsSgKXdrN1egZf5sqe1TMai9K1rChYNDJgjq7aD")
	MarinadeStateAddress     = chainstate.Address("8szGkuLTAux9XMgZ2vtY39jVSowEcpBfFfD8hXSEqdGC")
	TipDistributionProgramID = chainstate.Address("4R3gSG8BpU4t19KYj8CfnbtRpnT8gtk4dvTHxVRwc2r7")
)

// marinadeStateDiscriminator is the 8-byte account discriminator prefixed to
// the Marinade state account's Borsh payload.
var marinadeStateDiscriminator = []byte{0xd8, 0x92, 0x6b, 0x5e, 0x68, 0x4b, 0xb6, 0xb1}

// epochMax marks a delegation that is not deactivating.
const epochMax = math.MaxUint64

// Account type discriminants for SPL-style pool accounts.
const (
	splAccountUninitialized uint8 = iota
	SPLAccountStakePool
	SPLAccountValidatorList
)

// Fee is an SPL-style rational fee.
type Fee struct {
	Numerator   uint64
	Denominator uint64
}

// SPLStakePool is the Borsh layout of an SPL-style pool-metadata account.
// Socean pools use the same layout under their own program id.
type SPLStakePool struct {
	AccountType              uint8
	Manager                  [32]uint8
	ValidatorList            [32]uint8
	ReserveStake             [32]uint8
	PoolMint                 [32]uint8
	TotalLamports            uint64
	PoolTokenSupply          uint64
	LastUpdateEpoch          uint64
	LastEpochTotalLamports   uint64
	LastEpochPoolTokenSupply uint64
	EpochFee                 Fee
	ManagementFee            Fee
}

// Validator status within an SPL-style pool.
const (
	SPLStakeStatusActive uint8 = iota
	SPLStakeStatusDeactivatingTransient
	SPLStakeStatusReadyForRemoval
)

// SPLValidatorInfo is one entry of an SPL-style validator list account.
type SPLValidatorInfo struct {
	VoteAccount           [32]uint8
	ActiveStakeAccount    [32]uint8
	TransientStakeAccount [32]uint8
	Status                uint8
}

// SPLValidatorList is the Borsh layout of the validator list account.
type SPLValidatorList struct {
	AccountType   uint8
	MaxValidators uint32
	Validators    []SPLValidatorInfo
}

// Stake-program account state discriminants.
const (
	StakeStateUninitialized uint8 = iota
	StakeStateInitialized
	StakeStateDelegated
)

// StakeAccount is the Borsh layout of a stake-program account. Delegation
// fields are meaningful only when State is StakeStateDelegated.
type StakeAccount struct {
	State             uint8
	RentExemptReserve uint64
	Staker            [32]uint8
	Withdrawer        [32]uint8
	VoteAccount       [32]uint8
	DelegatedStake    uint64
	ActivationEpoch   uint64
	DeactivationEpoch uint64
}

// MarinadeState is the Borsh layout of the Marinade-style state account,
// after the 8-byte discriminator.
type MarinadeState struct {
	MsolMint        [32]uint8
	AdminAuthority  [32]uint8
	StakeList       [32]uint8
	StakeCount      uint32
	MsolSupply      uint64
	TotalLamports   uint64
	ReserveLamports uint64
	RewardFeeBps    uint32
	EpochRewards    uint64
	LastUpdateEpoch uint64
}

// MarinadeStakeRecord is one entry of the Marinade stake list account.
type MarinadeStakeRecord struct {
	StakeAccount [32]uint8
}

// MarinadeStakeList is the Borsh layout of the stake list account.
type MarinadeStakeList struct {
	Records []MarinadeStakeRecord
}

// TipDelegation is one delegation entry of a tip-distribution account.
type TipDelegation struct {
	StakeAccount      [32]uint8
	LamportsDelegated uint64
}

// TipDistributionAccount is the Borsh layout of a per-validator MEV
// tip-distribution account.
type TipDistributionAccount struct {
	VoteAccount     [32]uint8
	Epoch           uint64
	TotalTips       uint64
	ValidatorFeeBps uint16
	Delegations     []TipDelegation
}

func decodeBorsh(out interface{}, data []byte) error {
	return borsh.Deserialize(out, data)
}

// DecodeSPLStakePool parses an SPL-style pool-metadata account.
func DecodeSPLStakePool(data []byte) (*SPLStakePool, error) {
	var pool SPLStakePool
	if err := borsh.Deserialize(&pool, data); err != nil {
		return nil, fmt.Errorf("decode stake pool account: %w", err)
	}
	if pool.AccountType != SPLAccountStakePool {
		return nil, fmt.Errorf("unexpected account type %d, want stake pool", pool.AccountType)
	}
	return &pool, nil
}

// DecodeSPLValidatorList parses an SPL-style validator list account.
func DecodeSPLValidatorList(data []byte) (*SPLValidatorList, error) {
	var list SPLValidatorList
	if err := borsh.Deserialize(&list, data); err != nil {
		return nil, fmt.Errorf("decode validator list account: %w", err)
	}
	if list.AccountType != SPLAccountValidatorList {
		return nil, fmt.Errorf("unexpected account type %d, want validator list", list.AccountType)
	}
	return &list, nil
}

// DecodeStakeAccount parses a stake-program account.
func DecodeStakeAccount(data []byte) (*StakeAccount, error) {
	var acc StakeAccount
	if err := borsh.Deserialize(&acc, data); err != nil {
		return nil, fmt.Errorf("decode stake account: %w", err)
	}
	return &acc, nil
}

// DecodeMarinadeState parses the Marinade state account, checking the
// discriminator prefix.
func DecodeMarinadeState(data []byte) (*MarinadeState, error) {
	if len(data) < len(marinadeStateDiscriminator) ||
		!bytes.Equal(data[:len(marinadeStateDiscriminator)], marinadeStateDiscriminator) {
		return nil, fmt.Errorf("missing marinade state discriminator")
	}
	var state MarinadeState
	if err := borsh.Deserialize(&state, data[len(marinadeStateDiscriminator):]); err != nil {
		return nil, fmt.Errorf("decode marinade state: %w", err)
	}
	return &state, nil
}

// EncodeMarinadeState serializes a state account with its discriminator.
// Fixture builders and the prepare-epoch tooling use this.
func EncodeMarinadeState(state MarinadeState) ([]byte, error) {
	payload, err := borsh.Serialize(state)
	if err != nil {
		return nil, err
	}
	return append(append([]byte{}, marinadeStateDiscriminator...), payload...), nil
}

// HasMarinadeDiscriminator reports whether the account data carries the
// Marinade state discriminator. Used by the classifier signature.
func HasMarinadeDiscriminator(data []byte) bool {
	return len(data) >= len(marinadeStateDiscriminator) &&
		bytes.Equal(data[:len(marinadeStateDiscriminator)], marinadeStateDiscriminator)
}
