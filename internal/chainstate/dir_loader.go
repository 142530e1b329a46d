package chainstate

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/poolbench/internal/model"
)

// DirLoader loads snapshots from per-epoch account dumps laid out as
// <root>/epoch_<N>/accounts.json, the directory structure the prepare-epoch
// step materializes.
type DirLoader struct {
	root string
}

func NewDirLoader(root string) *DirLoader {
	return &DirLoader{root: root}
}

// Path returns the accounts dump path for an epoch.
func (l *DirLoader) Path(epoch model.Epoch) string {
	return filepath.Join(l.root, fmt.Sprintf("epoch_%d", epoch), "accounts.json")
}

type snapshotFile struct {
	Epoch         uint64        `json:"epoch"`
	Slot          uint64        `json:"slot"`
	BankHash      string        `json:"bank_hash"`
	EpochDuration uint64        `json:"epoch_duration_secs"`
	Accounts      []accountFile `json:"accounts"`
}

type accountFile struct {
	Address  string `json:"address"`
	Owner    string `json:"owner"`
	Lamports uint64 `json:"lamports"`
	Data     string `json:"data"`
}

// Load reads and indexes the epoch's account dump. Returns
// ErrSnapshotUnavailable when the dump does not exist.
func (l *DirLoader) Load(ctx context.Context, epoch model.Epoch) (Snapshot, error) {
	path := l.Path(epoch)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: epoch %d (%s)", ErrSnapshotUnavailable, epoch, path)
		}
		return nil, fmt.Errorf("read snapshot %s: %w", path, err)
	}

	var file snapshotFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse snapshot %s: %w", path, err)
	}
	if model.Epoch(file.Epoch) != epoch {
		return nil, fmt.Errorf("snapshot %s: expected epoch %d, found %d", path, epoch, file.Epoch)
	}

	snap := NewMemSnapshot(epoch, file.Slot, file.BankHash, file.EpochDuration)
	for _, a := range file.Accounts {
		data, err := base64.StdEncoding.DecodeString(a.Data)
		if err != nil {
			return nil, fmt.Errorf("snapshot %s: account %s: decode data: %w", path, a.Address, err)
		}
		snap.SetAccount(AccountData{
			Address:  Address(a.Address),
			Owner:    Address(a.Owner),
			Lamports: a.Lamports,
			Data:     data,
		})
	}
	snap.Seal()

	logrus.WithFields(logrus.Fields{
		"epoch":    epoch,
		"slot":     file.Slot,
		"accounts": len(file.Accounts),
	}).Info("Snapshot loaded")

	return snap, nil
}

// MemSnapshot is an in-memory Snapshot. It backs the directory loader and
// doubles as the test fixture builder. SetAccount must not be called after
// the snapshot has been handed to the engine.
type MemSnapshot struct {
	epoch         model.Epoch
	slot          uint64
	bankHash      string
	epochDuration uint64

	accounts map[Address]AccountData
	byOwner  map[Address][]AccountData
	sealed   bool
}

func NewMemSnapshot(epoch model.Epoch, slot uint64, bankHash string, epochDuration uint64) *MemSnapshot {
	return &MemSnapshot{
		epoch:         epoch,
		slot:          slot,
		bankHash:      bankHash,
		epochDuration: epochDuration,
		accounts:      make(map[Address]AccountData),
		byOwner:       make(map[Address][]AccountData),
	}
}

// SetAccount adds an account during snapshot construction.
func (s *MemSnapshot) SetAccount(a AccountData) {
	if s.sealed {
		panic("chainstate: SetAccount on sealed snapshot")
	}
	s.accounts[a.Address] = a
}

// Seal builds the owner index and freezes the snapshot. Load calls this;
// tests building snapshots by hand may rely on the lazy seal in
// AccountsByOwner instead.
func (s *MemSnapshot) Seal() {
	if s.sealed {
		return
	}
	for _, a := range s.accounts {
		s.byOwner[a.Owner] = append(s.byOwner[a.Owner], a)
	}
	for owner := range s.byOwner {
		list := s.byOwner[owner]
		sort.Slice(list, func(i, j int) bool { return list[i].Address < list[j].Address })
	}
	s.sealed = true
}

func (s *MemSnapshot) Epoch() model.Epoch    { return s.epoch }
func (s *MemSnapshot) Slot() uint64          { return s.slot }
func (s *MemSnapshot) BankHash() string      { return s.bankHash }
func (s *MemSnapshot) EpochDuration() uint64 { return s.epochDuration }

func (s *MemSnapshot) GetAccount(addr Address) (AccountData, bool) {
	a, ok := s.accounts[addr]
	return a, ok
}

func (s *MemSnapshot) AccountsByOwner(program Address) []AccountData {
	if !s.sealed {
		s.Seal()
	}
	return s.byOwner[program]
}
