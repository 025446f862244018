// Package state persists the small set of values the reporter carries from
// one iteration to the next.
package state

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// State is the durable reporter state. Nil pointers mean "not observed yet".
type State struct {
	WalletInitBalance  *float64 `json:"wallet_init_balance,omitempty"`
	CycleStartWorkTime *int64   `json:"cycle_start_work_time,omitempty"`

	// Ratchets, only ever raised.
	PrevTotalStake    *float64 `json:"prev_total_stake,omitempty"`
	PrevNumValidators *int64   `json:"prev_num_validators,omitempty"`

	APY                    *float64 `json:"apy,omitempty"`
	APYDeadline            int64    `json:"apy_next_update,omitempty"`
	ElectorBalance         *float64 `json:"elector_balance,omitempty"`
	ElectorBalanceDeadline int64    `json:"elector_balance_next_update,omitempty"`

	Baselines Baselines `json:"baselines"`
}

// Baselines are network facts recorded on first observation when the
// constants file does not pin them.
type Baselines struct {
	ElectorAddr        string `json:"elector_addr,omitempty"`
	ConfigAddr         string `json:"config_addr,omitempty"`
	ElectorCodeHash    string `json:"elector_code_hash,omitempty"`
	ConfigCodeHash     string `json:"config_code_hash,omitempty"`
	NominatorCodeHash  string `json:"nominator_code_hash,omitempty"`
	ValidatorCodeHash  string `json:"validator_code_hash,omitempty"`
	GlobalVersion      *int64 `json:"global_version,omitempty"`
	GlobalCapabilities *int64 `json:"global_capabilities,omitempty"`
	OffersDigest       string `json:"offers_digest,omitempty"`
	ValidatorWallet    string `json:"validator_wallet,omitempty"`
}

// Clone returns a deep copy. It copies field by field so a clone can never
// come back emptier than its source.
func (s *State) Clone() *State {
	if s == nil {
		return &State{}
	}
	out := *s
	out.WalletInitBalance = cloneFloat(s.WalletInitBalance)
	out.CycleStartWorkTime = cloneInt(s.CycleStartWorkTime)
	out.PrevTotalStake = cloneFloat(s.PrevTotalStake)
	out.PrevNumValidators = cloneInt(s.PrevNumValidators)
	out.APY = cloneFloat(s.APY)
	out.ElectorBalance = cloneFloat(s.ElectorBalance)
	out.Baselines.GlobalVersion = cloneInt(s.Baselines.GlobalVersion)
	out.Baselines.GlobalCapabilities = cloneInt(s.Baselines.GlobalCapabilities)
	return &out
}

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	return Float64(*p)
}

func cloneInt(p *int64) *int64 {
	if p == nil {
		return nil
	}
	return Int64(*p)
}

// Equal reports whether both states serialize identically.
func (s *State) Equal(o *State) bool {
	a, errA := json.Marshal(s)
	b, errB := json.Marshal(o)
	return errA == nil && errB == nil && bytes.Equal(a, b)
}

// Store reads and overwrites the state file.
type Store struct {
	path string
}

// NewStore returns a store backed by path. The file is created on first Save.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Load reads the state file. A missing or empty file yields an empty state.
func (s *Store) Load() (*State, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return &State{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state %s: %w", s.path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return &State{}, nil
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode state %s: %w", s.path, err)
	}
	return &st, nil
}

// Save overwrites the state file with st.
func (s *Store) Save(st *State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	return writeFile(s.path, data)
}

// Reset truncates the state to an empty document.
func (s *Store) Reset() error {
	return writeFile(s.path, []byte("{}"))
}

// writeFile replaces path through a temp file in the same directory so a
// crash never leaves a truncated state behind.
func writeFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("write state %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write state %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write state %s: %w", path, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("write state %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write state %s: %w", path, err)
	}
	return nil
}

// Float64 returns a pointer to v.
func Float64(v float64) *float64 { return &v }

// Int64 returns a pointer to v.
func Int64(v int64) *int64 { return &v }
