// Package chainstate provides read-only access to point-in-time account
// state at an epoch boundary. The engine only ever borrows a Snapshot;
// snapshots are immutable after construction and safe for concurrent reads.
package chainstate

import (
	"context"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"

	"github.com/yourorg/poolbench/internal/model"
)

// ErrSnapshotUnavailable is returned when no snapshot exists for the
// requested epoch. This is fatal for a whole run: without ground truth
// there is nothing meaningful to compute.
var ErrSnapshotUnavailable = errors.New("chainstate: snapshot unavailable")

// Address is a base58-encoded account address.
type Address string

// Bytes decodes the address into its 32-byte form.
func (a Address) Bytes() ([32]byte, error) {
	var out [32]byte
	raw, err := base58.Decode(string(a))
	if err != nil {
		return out, fmt.Errorf("decode address %q: %w", a, err)
	}
	if len(raw) != 32 {
		return out, fmt.Errorf("address %q: expected 32 bytes, got %d", a, len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

// AddressFromBytes encodes a 32-byte public key as a base58 address.
func AddressFromBytes(b [32]byte) Address {
	return Address(base58.Encode(b[:]))
}

// AccountData is one account as seen in a snapshot.
type AccountData struct {
	Address  Address
	Owner    Address
	Lamports uint64
	Data     []byte
}

// Snapshot is an immutable view of all accounts at one epoch boundary.
type Snapshot interface {
	// Epoch the snapshot was taken at.
	Epoch() model.Epoch

	// Slot is the last slot of the epoch.
	Slot() uint64

	// BankHash identifies the consensus state the snapshot derives from.
	BankHash() string

	// EpochDuration is the measured wall-clock length of the epoch in
	// seconds, derived from first/last block times. Never an assumed
	// constant: epochs vary in length and annualization must not drift.
	EpochDuration() uint64

	// GetAccount returns the account at addr, if present.
	GetAccount(addr Address) (AccountData, bool)

	// AccountsByOwner returns every account owned by the given program,
	// in deterministic (address-sorted) order.
	AccountsByOwner(program Address) []AccountData
}

// Loader materializes snapshots per epoch.
type Loader interface {
	Load(ctx context.Context, epoch model.Epoch) (Snapshot, error)
}
