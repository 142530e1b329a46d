// Package classify partitions a snapshot's accounts into candidate stake
// pools and assigns each a provider variant.
package classify

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/poolbench/internal/chainstate"
	"github.com/yourorg/poolbench/internal/model"
)

// Signature is one provider's structural recognition rule: program
// ownership plus a layout check over the pool-metadata account. The set of
// signatures is closed and vetted; new providers are deliberate additions.
type Signature struct {
	Provider model.Provider

	// Owner is the program that owns the provider's pool-metadata accounts.
	Owner chainstate.Address

	// Matches performs the discriminant/layout check on a candidate account.
	Matches func(account chainstate.AccountData) bool
}

// Pool is one classified stake pool: a stable identity (the metadata account
// address), its provider variant, and the metadata account itself.
type Pool struct {
	ID       string
	Provider model.Provider
	Account  chainstate.AccountData
}

// ConflictError reports an account matching more than one provider
// signature. The classifier never picks a winner; the pool is excluded and
// the run exits non-zero.
type ConflictError struct {
	PoolID    string
	Providers []model.Provider
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("classification conflict: pool %s matches providers %v", e.PoolID, e.Providers)
}

// Classifier recognizes stake pools by their structural signatures.
type Classifier struct {
	sigs []Signature
}

func New(sigs ...Signature) *Classifier {
	ordered := make([]Signature, len(sigs))
	copy(ordered, sigs)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Provider < ordered[j].Provider })
	return &Classifier{sigs: ordered}
}

// Classify scans the snapshot and returns the recognized pools in
// deterministic (pool id) order, plus any per-pool conflicts. Pools present
// in earlier epochs but absent now are simply not returned; disappearance
// is not an error.
func (c *Classifier) Classify(snap chainstate.Snapshot) ([]Pool, []*ConflictError) {
	matches := make(map[string][]Pool)

	for _, sig := range c.sigs {
		for _, account := range snap.AccountsByOwner(sig.Owner) {
			if !sig.Matches(account) {
				continue
			}
			id := string(account.Address)
			matches[id] = append(matches[id], Pool{
				ID:       id,
				Provider: sig.Provider,
				Account:  account,
			})
		}
	}

	ids := make([]string, 0, len(matches))
	for id := range matches {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var pools []Pool
	var conflicts []*ConflictError
	for _, id := range ids {
		claimed := matches[id]
		if len(claimed) > 1 {
			conflict := &ConflictError{PoolID: id}
			for _, p := range claimed {
				conflict.Providers = append(conflict.Providers, p.Provider)
			}
			logrus.WithField("pool", id).Errorf("Pool matches %d provider signatures", len(claimed))
			conflicts = append(conflicts, conflict)
			continue
		}
		pools = append(pools, claimed[0])
	}

	logrus.WithFields(logrus.Fields{
		"epoch":     snap.Epoch(),
		"pools":     len(pools),
		"conflicts": len(conflicts),
	}).Info("Classification complete")

	return pools, conflicts
}
