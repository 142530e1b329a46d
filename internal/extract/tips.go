package extract

import (
	"fmt"
	"math/big"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/poolbench/internal/chainstate"
	"github.com/yourorg/poolbench/internal/model"
)

// TipsLookup maps stake accounts to their MEV tip rewards for one epoch.
type TipsLookup map[chainstate.Address]uint64

// Rewards returns the tips credited to a stake account, 0 when none.
func (t TipsLookup) Rewards(addr chainstate.Address) uint64 {
	return t[addr]
}

// BuildTipsLookup scans the snapshot's tip-distribution accounts and splits
// each validator's tips over its delegations pro-rata, after the validator's
// own fee cut. Tip accounts for other epochs are ignored.
func BuildTipsLookup(snap chainstate.Snapshot) (TipsLookup, error) {
	lookup := make(TipsLookup)

	for _, account := range snap.AccountsByOwner(TipDistributionProgramID) {
		var tips TipDistributionAccount
		if err := decodeBorsh(&tips, account.Data); err != nil {
			return nil, fmt.Errorf("tip distribution account %s: %w", account.Address, err)
		}
		if model.Epoch(tips.Epoch) != snap.Epoch() || tips.TotalTips == 0 {
			continue
		}
		if tips.ValidatorFeeBps > 10_000 {
			logrus.WithFields(logrus.Fields{
				"account": account.Address,
				"feeBps":  tips.ValidatorFeeBps,
			}).Warn("Tip distribution fee above 100%, account skipped")
			continue
		}

		validatorCut := mulDiv(tips.TotalTips, uint64(tips.ValidatorFeeBps), 10_000)
		remaining := tips.TotalTips - validatorCut

		var totalDelegated uint64
		for _, d := range tips.Delegations {
			totalDelegated += d.LamportsDelegated
		}
		if totalDelegated == 0 {
			continue
		}

		for _, d := range tips.Delegations {
			addr := chainstate.AddressFromBytes(d.StakeAccount)
			lookup[addr] += mulDiv(d.LamportsDelegated, remaining, totalDelegated)
		}
	}

	logrus.WithField("stake_accounts", len(lookup)).Debug("Tip rewards lookup built")
	return lookup, nil
}

// mulDiv computes a*b/c without overflowing uint64.
func mulDiv(a, b, c uint64) uint64 {
	var product big.Int
	product.Mul(new(big.Int).SetUint64(a), new(big.Int).SetUint64(b))
	product.Div(&product, new(big.Int).SetUint64(c))
	return product.Uint64()
}
