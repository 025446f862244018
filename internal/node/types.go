// Package node fetches and normalizes everything the reporter needs from the
// local TON node: lite-client queries, validator-engine statistics, the
// mytoncore database and the validator wallet files.
package node

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrNotFound means the validator has no entry in a lookup. It is never
	// used for "present with zero values".
	ErrNotFound = errors.New("not found")
	// ErrParse is matched by every *ParseError.
	ErrParse = errors.New("parse error")
)

// ParseError describes lite-client or console output that could not be read.
type ParseError struct {
	Field  string
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	in := e.Input
	if len(in) > 120 {
		in = in[:120] + "..."
	}
	return fmt.Sprintf("parse %s: %s (input %q)", e.Field, e.Reason, in)
}

// Is lets errors.Is(err, ErrParse) match any ParseError.
func (e *ParseError) Is(target error) bool { return target == ErrParse }

func parseErr(field, input, reason string) *ParseError {
	return &ParseError{Field: field, Input: input, Reason: reason}
}

// Load is the block production of one validator over a time window.
type Load struct {
	ID             int
	Pubkey         string
	MasterCreated  float64
	WorkCreated    float64
	MasterExpected float64
	WorkExpected   float64
	MasterProb     float64
	WorkProb       float64
	ComplaintFile  string
}

// Account states as printed by getaccount, without the account_ prefix.
const (
	AccountActive = "active"
	AccountEmpty  = "empty"
)

// Account is a normalized getaccount result. Balance is in TON.
type Account struct {
	Addr     string
	Status   string
	Balance  float64
	CodeHash string
}

// GlobalVersion is config param 8.
type GlobalVersion struct {
	Version      int64
	Capabilities int64
}

// Timing is config param 15.
type Timing struct {
	ValidatorsElectedFor int64
	ElectionsStartBefore int64
	ElectionsEndBefore   int64
	StakeHeldFor         int64
}

// ValidatorEntry is one member of the current validator set.
type ValidatorEntry struct {
	Index  int
	Pubkey string
	Adnl   string
	Weight float64
}

// ValidatorSet is config param 34.
type ValidatorSet struct {
	UtimeSince      int64
	UtimeUntil      int64
	TotalValidators int64
	MainValidators  int64
	TotalWeight     float64
	Validators      []ValidatorEntry
}

// Find returns the entry with the given ADNL address, or nil.
func (vs *ValidatorSet) Find(adnl string) *ValidatorEntry {
	if vs == nil || adnl == "" {
		return nil
	}
	for i := range vs.Validators {
		if equalHex(vs.Validators[i].Adnl, adnl) {
			return &vs.Validators[i]
		}
	}
	return nil
}

// EngineStats is the subset of validator-engine-console getstats used here.
type EngineStats struct {
	UnixTime             int64
	MasterchainBlockTime int64
	OutOfSync            int64
	IsWorking            bool
}

// Client is the set of node queries a snapshot is built from. Every call
// must honour ctx and a bounded timeout.
type Client interface {
	EngineStats(ctx context.Context) (EngineStats, error)
	Account(ctx context.Context, addr string) (*Account, error)
	ElectorAddr(ctx context.Context) (string, error)
	ConfigAddr(ctx context.Context) (string, error)
	ActiveElectionID(ctx context.Context, elector string) (int64, error)
	PastElectionIDs(ctx context.Context, elector string) ([]int64, error)
	GlobalVersion(ctx context.Context) (GlobalVersion, error)
	Timing(ctx context.Context) (Timing, error)
	ValidatorSet(ctx context.Context) (*ValidatorSet, error)
	ValidatorsLoad(ctx context.Context, start, end int64) (map[int]Load, error)
	Offers(ctx context.Context, configAddr string) ([]string, error)
	ReturnedStake(ctx context.Context, elector, wallet string) (float64, error)
	SubWalletID(ctx context.Context, wallet string) (int64, error)
}

// LoadOf picks the validator idx out of a checkloadall result.
func LoadOf(loads map[int]Load, idx int) (*Load, error) {
	if idx < 0 {
		return nil, ErrNotFound
	}
	l, ok := loads[idx]
	if !ok {
		return nil, ErrNotFound
	}
	return &l, nil
}
