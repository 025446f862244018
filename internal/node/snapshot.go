package node

import (
	"context"

	"github.com/pkg/errors"
)

const (
	loadEndLag      = 3
	loadFallbackWin = 3 * 3600
)

// FetcherConfig tells the fetcher where the local node keeps its files.
type FetcherConfig struct {
	MytoncoreDB   string
	WalletsDir    string
	WalletName    string // overrides validatorWalletName from the db
	NominatorAddr string // optional single-nominator pool holding the stake
	// MaxLoadWindow caps the checkloadall window; longer windows fall back
	// to the last three hours.
	MaxLoadWindow int64
}

// Snapshot is everything one iteration knows about the node and network.
// It is built once and never partially filled: any failed query fails Fetch.
type Snapshot struct {
	Now     int64
	Stats   EngineStats
	History *History

	Adnl          string
	Index         int // -1 when not in the current validator set
	Self          *ValidatorEntry
	Wallet        *Wallet // nil when WalletMissing
	WalletMissing bool

	ValidatorAccount *Account
	NominatorAccount *Account
	// SubWalletID is the wallet_id of an active validator wallet, 0 otherwise.
	SubWalletID int64

	ElectorAddr    string
	ConfigAddr     string
	ElectorAccount *Account
	ConfigAccount  *Account

	ActiveElectionID int64
	ElectionIDs      []int64

	GlobalVersion GlobalVersion
	Timing        Timing
	ValidatorSet  *ValidatorSet
	Offers        []string
	ReturnedStake float64

	// Load is nil when the validator has no entry in the load window.
	Load       *Load
	LoadWindow [2]int64
}

// StakeOwner is the address that stakes with the elector.
func (s *Snapshot) StakeOwner() string {
	if s.NominatorAccount != nil {
		return s.NominatorAccount.Addr
	}
	if s.Wallet != nil {
		return s.Wallet.Addr()
	}
	return ""
}

// Fetcher builds snapshots from a Client and the local mytoncore files.
type Fetcher struct {
	client      Client
	cfg         FetcherConfig
	loadHistory func(path string) (*History, error)
}

// NewFetcher returns a fetcher using client for network queries.
func NewFetcher(client Client, cfg FetcherConfig) *Fetcher {
	if cfg.MaxLoadWindow <= 0 {
		cfg.MaxLoadWindow = 65536
	}
	return &Fetcher{client: client, cfg: cfg, loadHistory: LoadHistory}
}

// Fetch queries everything except the load statistics, which depend on the
// cycle position computed from the returned election ids.
func (f *Fetcher) Fetch(ctx context.Context, now int64) (*Snapshot, error) {
	hist, err := f.loadHistory(f.cfg.MytoncoreDB)
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{Now: now, History: hist, Adnl: hist.AdnlAddr, Index: -1}

	if snap.Stats, err = f.client.EngineStats(ctx); err != nil {
		return nil, errors.Wrap(err, "engine stats")
	}

	name := f.cfg.WalletName
	if name == "" {
		name = hist.ValidatorWalletName
	}
	snap.Wallet, err = ReadWallet(f.cfg.WalletsDir, name)
	switch {
	case errors.Is(err, ErrNotFound):
		snap.WalletMissing = true
	case err != nil:
		return nil, err
	}

	if snap.ElectorAddr, err = f.client.ElectorAddr(ctx); err != nil {
		return nil, errors.Wrap(err, "elector address")
	}
	if snap.ConfigAddr, err = f.client.ConfigAddr(ctx); err != nil {
		return nil, errors.Wrap(err, "config address")
	}

	if snap.ValidatorSet, err = f.client.ValidatorSet(ctx); err != nil {
		return nil, errors.Wrap(err, "validator set")
	}
	if self := snap.ValidatorSet.Find(snap.Adnl); self != nil {
		snap.Self = self
		snap.Index = self.Index
	}

	if snap.Wallet != nil {
		if snap.ValidatorAccount, err = f.client.Account(ctx, snap.Wallet.Addr()); err != nil {
			return nil, errors.Wrap(err, "validator account")
		}
	}
	if a := snap.ValidatorAccount; a != nil && a.Status == AccountActive {
		if snap.SubWalletID, err = f.client.SubWalletID(ctx, a.Addr); err != nil {
			return nil, errors.Wrap(err, "sub wallet id")
		}
	}
	if f.cfg.NominatorAddr != "" {
		if snap.NominatorAccount, err = f.client.Account(ctx, f.cfg.NominatorAddr); err != nil {
			return nil, errors.Wrap(err, "nominator account")
		}
	}
	if snap.ElectorAccount, err = f.client.Account(ctx, snap.ElectorAddr); err != nil {
		return nil, errors.Wrap(err, "elector account")
	}
	if snap.ConfigAccount, err = f.client.Account(ctx, snap.ConfigAddr); err != nil {
		return nil, errors.Wrap(err, "config account")
	}

	if snap.ActiveElectionID, err = f.client.ActiveElectionID(ctx, snap.ElectorAddr); err != nil {
		return nil, errors.Wrap(err, "active election id")
	}
	past, err := f.client.PastElectionIDs(ctx, snap.ElectorAddr)
	if err != nil {
		return nil, errors.Wrap(err, "past election ids")
	}
	snap.ElectionIDs = append(past, snap.ActiveElectionID)

	if snap.GlobalVersion, err = f.client.GlobalVersion(ctx); err != nil {
		return nil, errors.Wrap(err, "global version")
	}
	if snap.Timing, err = f.client.Timing(ctx); err != nil {
		return nil, errors.Wrap(err, "timing")
	}
	if snap.Offers, err = f.client.Offers(ctx, snap.ConfigAddr); err != nil {
		return nil, errors.Wrap(err, "offers")
	}

	if owner := snap.StakeOwner(); owner != "" {
		if snap.ReturnedStake, err = f.client.ReturnedStake(ctx, snap.ElectorAddr, owner); err != nil {
			return nil, errors.Wrap(err, "returned stake")
		}
	}
	return snap, nil
}

// FetchLoad fills snap.Load with the block production of the validator
// since the settled election started. A validator outside the current set,
// or without an entry in the result, leaves Load nil.
func (f *Fetcher) FetchLoad(ctx context.Context, snap *Snapshot, settledID int64) error {
	end := snap.Now - loadEndLag
	start := settledID
	if end-start > f.cfg.MaxLoadWindow {
		start = end - loadFallbackWin
	}
	snap.LoadWindow = [2]int64{start, end}
	snap.Load = nil

	if snap.Index < 0 || start >= end {
		return nil
	}
	loads, err := f.client.ValidatorsLoad(ctx, start, end)
	if err != nil {
		return errors.Wrap(err, "validators load")
	}
	l, err := LoadOf(loads, snap.Index)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	snap.Load = l
	return nil
}
