package state

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingAndEmpty(t *testing.T) {
	dir := t.TempDir()

	st, err := NewStore(filepath.Join(dir, "missing.json")).Load()
	require.NoError(t, err)
	assert.Nil(t, st.WalletInitBalance)

	empty := filepath.Join(dir, "empty.json")
	require.NoError(t, os.WriteFile(empty, []byte("  \n"), 0o644))
	st, err = NewStore(empty).Load()
	require.NoError(t, err)
	assert.Nil(t, st.CycleStartWorkTime)
}

func TestSaveLoadKeepsOptionalsDistinctFromZero(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "db.json"))
	st := &State{
		PrevTotalStake: Float64(0),
		APY:            Float64(12.5),
		APYDeadline:    1000,
	}
	st.Baselines.GlobalVersion = Int64(4)

	require.NoError(t, store.Save(st))
	loaded, err := store.Load()
	require.NoError(t, err)

	require.NotNil(t, loaded.PrevTotalStake)
	assert.Equal(t, 0.0, *loaded.PrevTotalStake)
	assert.Nil(t, loaded.PrevNumValidators)
	assert.Equal(t, 12.5, *loaded.APY)
	assert.Equal(t, int64(4), *loaded.Baselines.GlobalVersion)
	assert.True(t, st.Equal(loaded))
}

func TestCloneIsDeep(t *testing.T) {
	st := &State{WalletInitBalance: Float64(10)}
	c := st.Clone()
	*c.WalletInitBalance = 20

	assert.Equal(t, 10.0, *st.WalletInitBalance)
	assert.False(t, st.Equal(c))
}

func TestCloneCopiesEveryField(t *testing.T) {
	st := &State{
		WalletInitBalance:      Float64(350000),
		CycleStartWorkTime:     Int64(1700000000),
		PrevTotalStake:         Float64(1e9),
		PrevNumValidators:      Int64(400),
		APY:                    Float64(7.5),
		APYDeadline:            1700100000,
		ElectorBalance:         Float64(300000),
		ElectorBalanceDeadline: 1700100000,
		Baselines: Baselines{
			ElectorAddr:        "-1:33",
			ConfigAddr:         "-1:55",
			ElectorCodeHash:    "e",
			ConfigCodeHash:     "c",
			NominatorCodeHash:  "n",
			ValidatorCodeHash:  "v",
			GlobalVersion:      Int64(4),
			GlobalCapabilities: Int64(494),
			OffersDigest:       "o",
			ValidatorWallet:    "-1:AB",
		},
	}
	c := st.Clone()
	assert.True(t, st.Equal(c))

	*c.Baselines.GlobalVersion = 5
	*c.PrevNumValidators = 1
	assert.Equal(t, int64(4), *st.Baselines.GlobalVersion)
	assert.Equal(t, int64(400), *st.PrevNumValidators)

	var nilState *State
	assert.Equal(t, &State{}, nilState.Clone())
}

func TestSaveReplacesAtomically(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "db.json"))
	require.NoError(t, store.Save(&State{CycleStartWorkTime: Int64(5)}))

	old, err := os.Open(store.Path())
	require.NoError(t, err)
	defer old.Close()
	require.NoError(t, store.Save(&State{CycleStartWorkTime: Int64(6)}))

	prev, err := io.ReadAll(old)
	require.NoError(t, err)
	assert.Contains(t, string(prev), "5")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	info, err := entries[0].Info()
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())

	st, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, int64(6), *st.CycleStartWorkTime)
}

func TestReset(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "db.json"))
	require.NoError(t, store.Save(&State{CycleStartWorkTime: Int64(5)}))
	require.NoError(t, store.Reset())

	data, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))

	st, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, st.CycleStartWorkTime)
}

func TestLoadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	_, err := NewStore(path).Load()
	assert.Error(t, err)
}
