package node

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	stats    EngineStats
	accounts map[string]*Account
	vset     *ValidatorSet
	active   int64
	past     []int64
	loads    map[int]Load
	loadErr  error
	failOn   string

	subWalletID int64

	loadCalls      int
	loadWindows    [][2]int64
	subWalletCalls []string
}

func (f *fakeClient) fail(op string) error {
	if f.failOn == op {
		return errors.New(op + " unavailable")
	}
	return nil
}

func (f *fakeClient) EngineStats(context.Context) (EngineStats, error) {
	return f.stats, f.fail("stats")
}
func (f *fakeClient) Account(_ context.Context, addr string) (*Account, error) {
	if err := f.fail("account"); err != nil {
		return nil, err
	}
	if a, ok := f.accounts[addr]; ok {
		return a, nil
	}
	return &Account{Addr: addr, Status: "empty"}, nil
}
func (f *fakeClient) ElectorAddr(context.Context) (string, error) { return "-1:EE", nil }
func (f *fakeClient) ConfigAddr(context.Context) (string, error)  { return "-1:CC", nil }
func (f *fakeClient) ActiveElectionID(context.Context, string) (int64, error) {
	return f.active, nil
}
func (f *fakeClient) PastElectionIDs(context.Context, string) ([]int64, error) {
	return f.past, f.fail("past")
}
func (f *fakeClient) GlobalVersion(context.Context) (GlobalVersion, error) {
	return GlobalVersion{Version: 4, Capabilities: 494}, nil
}
func (f *fakeClient) Timing(context.Context) (Timing, error) {
	return Timing{ValidatorsElectedFor: 65536, ElectionsStartBefore: 32768, ElectionsEndBefore: 8192, StakeHeldFor: 32768}, nil
}
func (f *fakeClient) ValidatorSet(context.Context) (*ValidatorSet, error) { return f.vset, nil }
func (f *fakeClient) ValidatorsLoad(_ context.Context, start, end int64) (map[int]Load, error) {
	f.loadCalls++
	f.loadWindows = append(f.loadWindows, [2]int64{start, end})
	return f.loads, f.loadErr
}
func (f *fakeClient) Offers(context.Context, string) ([]string, error) { return []string{"1"}, nil }
func (f *fakeClient) ReturnedStake(context.Context, string, string) (float64, error) {
	return 5, nil
}
func (f *fakeClient) SubWalletID(_ context.Context, wallet string) (int64, error) {
	f.subWalletCalls = append(f.subWalletCalls, wallet)
	return f.subWalletID, f.fail("wallet_id")
}

func walletDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	addr := make([]byte, 36)
	addr[0] = 0xAB
	binary.BigEndian.PutUint32(addr[32:], uint32(0xFFFFFFFF))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "validator_wallet_001.addr"), addr, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "validator_wallet_001.pk"), []byte("k"), 0o600))
	return dir
}

func newTestFetcher(t *testing.T, fc *fakeClient, wallets string) *Fetcher {
	return NewFetcher(fc, FetcherConfig{MytoncoreDB: writeDB(t, mytoncoreDB), WalletsDir: wallets})
}

func TestFetch(t *testing.T) {
	fc := &fakeClient{
		stats:  EngineStats{OutOfSync: 4, IsWorking: true},
		vset:   &ValidatorSet{TotalValidators: 2, TotalWeight: 10, Validators: []ValidatorEntry{{Index: 0, Adnl: "BBBB", Weight: 6}, {Index: 1, Adnl: "AAAA", Weight: 4}}},
		active: 1700065536,
		past:   []int64{1700000000, 1699934464},
	}
	snap, err := newTestFetcher(t, fc, walletDir(t)).Fetch(context.Background(), 1700000500)
	require.NoError(t, err)

	assert.Equal(t, 1, snap.Index)
	require.NotNil(t, snap.Self)
	assert.Equal(t, 4.0, snap.Self.Weight)
	assert.False(t, snap.WalletMissing)
	require.NotNil(t, snap.ValidatorAccount)
	assert.Equal(t, snap.Wallet.Addr(), snap.StakeOwner())
	assert.Equal(t, []int64{1700000000, 1699934464, 1700065536}, snap.ElectionIDs)
	assert.Equal(t, 5.0, snap.ReturnedStake)
	assert.Equal(t, "-1:EE", snap.ElectorAddr)
}

func TestFetchWalletMissing(t *testing.T) {
	fc := &fakeClient{vset: &ValidatorSet{}, past: []int64{1}}
	snap, err := newTestFetcher(t, fc, t.TempDir()).Fetch(context.Background(), 10)
	require.NoError(t, err)
	assert.True(t, snap.WalletMissing)
	assert.Nil(t, snap.ValidatorAccount)
	assert.Equal(t, -1, snap.Index)
	assert.Zero(t, snap.ReturnedStake)
}

func TestFetchFailsWhole(t *testing.T) {
	for _, op := range []string{"stats", "account", "past"} {
		t.Run(op, func(t *testing.T) {
			fc := &fakeClient{vset: &ValidatorSet{}, failOn: op}
			snap, err := newTestFetcher(t, fc, walletDir(t)).Fetch(context.Background(), 10)
			assert.Error(t, err)
			assert.Nil(t, snap)
		})
	}
}

func TestFetchLoad(t *testing.T) {
	f := NewFetcher(nil, FetcherConfig{})
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		fc := &fakeClient{loads: map[int]Load{1: {ID: 1, MasterProb: 0.9, WorkProb: 0.8}}}
		f.client = fc
		snap := &Snapshot{Now: 1700000500, Index: 1}
		require.NoError(t, f.FetchLoad(ctx, snap, 1700000000))
		require.NotNil(t, snap.Load)
		assert.Equal(t, 0.8, snap.Load.WorkProb)
		assert.Equal(t, [2]int64{1700000000, 1700000497}, fc.loadWindows[0])
	})

	t.Run("not found stays distinct from zero load", func(t *testing.T) {
		fc := &fakeClient{loads: map[int]Load{0: {}}}
		f.client = fc
		snap := &Snapshot{Now: 1700000500, Index: 1}
		require.NoError(t, f.FetchLoad(ctx, snap, 1700000000))
		assert.Nil(t, snap.Load)

		snap.Index = 0
		require.NoError(t, f.FetchLoad(ctx, snap, 1700000000))
		require.NotNil(t, snap.Load)
		assert.Zero(t, snap.Load.MasterCreated)
	})

	t.Run("outside validator set skips query", func(t *testing.T) {
		fc := &fakeClient{}
		f.client = fc
		snap := &Snapshot{Now: 1700000500, Index: -1}
		require.NoError(t, f.FetchLoad(ctx, snap, 1700000000))
		assert.Nil(t, snap.Load)
		assert.Zero(t, fc.loadCalls)
	})

	t.Run("long window falls back to three hours", func(t *testing.T) {
		fc := &fakeClient{loads: map[int]Load{}}
		f.client = fc
		snap := &Snapshot{Now: 1700000000, Index: 0}
		require.NoError(t, f.FetchLoad(ctx, snap, 1600000000))
		assert.Equal(t, [2]int64{1700000000 - 3 - 3*3600, 1700000000 - 3}, fc.loadWindows[0])
	})

	t.Run("query error fails", func(t *testing.T) {
		fc := &fakeClient{loadErr: errors.New("timeout")}
		f.client = fc
		snap := &Snapshot{Now: 1700000500, Index: 0}
		assert.Error(t, f.FetchLoad(ctx, snap, 1700000000))
	})
}

func TestFetchSubWalletID(t *testing.T) {
	dir := walletDir(t)
	w, err := ReadWallet(dir, "validator_wallet_001")
	require.NoError(t, err)
	active := map[string]*Account{w.Addr(): {Addr: w.Addr(), Status: AccountActive, Balance: 20}}

	t.Run("active wallet is queried", func(t *testing.T) {
		fc := &fakeClient{vset: &ValidatorSet{}, accounts: active, subWalletID: 7}
		snap, err := newTestFetcher(t, fc, dir).Fetch(context.Background(), 10)
		require.NoError(t, err)
		assert.Equal(t, int64(7), snap.SubWalletID)
		assert.Equal(t, []string{w.Addr()}, fc.subWalletCalls)
	})

	t.Run("undeployed wallet is skipped", func(t *testing.T) {
		fc := &fakeClient{vset: &ValidatorSet{}, subWalletID: 7}
		snap, err := newTestFetcher(t, fc, dir).Fetch(context.Background(), 10)
		require.NoError(t, err)
		assert.Zero(t, snap.SubWalletID)
		assert.Empty(t, fc.subWalletCalls)
	})

	t.Run("query error fails the snapshot", func(t *testing.T) {
		fc := &fakeClient{vset: &ValidatorSet{}, accounts: active, failOn: "wallet_id"}
		snap, err := newTestFetcher(t, fc, dir).Fetch(context.Background(), 10)
		assert.Error(t, err)
		assert.Nil(t, snap)
	})
}
