package chainstate

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/poolbench/internal/model"
)

func writeSnapshotFile(t *testing.T, root string, file snapshotFile) {
	t.Helper()
	dir := filepath.Join(root, fmt.Sprintf("epoch_%d", file.Epoch))
	require.NoError(t, os.MkdirAll(dir, 0o755))
	raw, err := json.Marshal(file)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "accounts.json"), raw, 0o644))
}

func TestDirLoaderLoad(t *testing.T) {
	root := t.TempDir()
	writeSnapshotFile(t, root, snapshotFile{
		Epoch:         516,
		Slot:          222_912_000,
		BankHash:      "hash-516",
		EpochDuration: 216_000,
		Accounts: []accountFile{
			{
				Address:  "addr-2",
				Owner:    "program-1",
				Lamports: 7,
				Data:     base64.StdEncoding.EncodeToString([]byte{1, 2, 3}),
			},
			{
				Address:  "addr-1",
				Owner:    "program-1",
				Lamports: 9,
				Data:     "",
			},
		},
	})

	snap, err := NewDirLoader(root).Load(context.Background(), 516)
	require.NoError(t, err)

	assert.Equal(t, model.Epoch(516), snap.Epoch())
	assert.Equal(t, uint64(222_912_000), snap.Slot())
	assert.Equal(t, "hash-516", snap.BankHash())
	assert.Equal(t, uint64(216_000), snap.EpochDuration())

	account, ok := snap.GetAccount("addr-2")
	require.True(t, ok)
	assert.Equal(t, uint64(7), account.Lamports)
	assert.Equal(t, []byte{1, 2, 3}, account.Data)

	owned := snap.AccountsByOwner("program-1")
	require.Len(t, owned, 2)
	assert.Equal(t, Address("addr-1"), owned[0].Address)
	assert.Equal(t, Address("addr-2"), owned[1].Address)
}

func TestDirLoaderMissingSnapshot(t *testing.T) {
	_, err := NewDirLoader(t.TempDir()).Load(context.Background(), 516)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSnapshotUnavailable)
}

func TestDirLoaderEpochMismatch(t *testing.T) {
	root := t.TempDir()
	writeSnapshotFile(t, root, snapshotFile{Epoch: 999, EpochDuration: 1})

	dir := filepath.Join(root, "epoch_516")
	require.NoError(t, os.Rename(filepath.Join(root, "epoch_999"), dir))

	_, err := NewDirLoader(root).Load(context.Background(), 516)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSnapshotUnavailable)
}

func TestMemSnapshotSealPanicsOnLateWrite(t *testing.T) {
	snap := NewMemSnapshot(1, 1, "h", 1)
	snap.SetAccount(AccountData{Address: "a", Owner: "o"})
	snap.Seal()

	assert.Panics(t, func() {
		snap.SetAccount(AccountData{Address: "b", Owner: "o"})
	})
}
