// Package alert classifies one iteration into exit, recovery and warning
// reasons and carries out the stake withdrawal an exit requires.
package alert

import (
	"sort"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Exit reasons. Any of them withdraws the validator from the next election.
const (
	ExitLowMinProb                  = "low_min_prob"
	ExitValidatorLoad               = "validator_load"
	ExitWalletMissing               = "wallet_missing"
	ExitElectionDurationChanged     = "election_duration_changed"
	ExitElectionsStartBeforeChanged = "elections_start_before_changed"
	ExitElectionsEndBeforeChanged   = "elections_end_before_changed"
	ExitStakeHeldForChanged         = "stake_held_for_changed"
	ExitFineChanged                 = "fine_changed"
	ExitElectorCodeChanged          = "elector_code_changed"
	ExitConfigCodeChanged           = "config_code_changed"
	ExitNominatorCodeChanged        = "nominator_code_changed"
	ExitValidatorCodeChanged        = "validator_code_changed"
	ExitElectorAddrChanged          = "elector_addr_changed"
	ExitConfigAddrChanged           = "config_addr_changed"
	ExitTotalStakeReduced           = "total_stake_reduced"
	ExitNumValidatorsReduced        = "num_validators_reduced"
	ExitGlobalVersionChanged        = "global_version_changed"
	ExitNewOffer                    = "new_offer"
	ExitComplaintAgainstValidator   = "complaint_against_validator"
	ExitValidatorWalletChanged      = "validator_wallet_changed"
	ExitSubWalletID                 = "sub_wallet_id"
)

// Recovery reasons need operator attention but keep the validator in.
const (
	RecoveryServiceDown   = "service_down"
	RecoveryOutOfSync     = "out_of_sync"
	RecoveryMemLoad       = "mem_load"
	RecoveryDiskLoad      = "disk_load"
	RecoveryNetLoad       = "net_load"
	RecoveryValidatorLoad = ExitValidatorLoad
	RecoveryLowMinProb    = ExitLowMinProb
)

// Warning reasons are informational.
const (
	WarningLowValidatorBalance    = "low_validator_balance"
	WarningNotInCurrentValidation = "not_in_current_validation"
)

// Flags is the emergency flags document. It is immutable once built and its
// derived booleans always follow from the reason maps.
type Flags struct {
	exit     map[string]bool
	recovery map[string]bool
	warning  map[string]bool
}

// NewFlags copies the three reason maps into a Flags value.
func NewFlags(exit, recovery, warning map[string]bool) Flags {
	return Flags{exit: copyMap(exit), recovery: copyMap(recovery), warning: copyMap(warning)}
}

// Exit reports whether any exit reason is set.
func (f Flags) Exit() bool { return anySet(f.exit) }

// Recovery reports whether any recovery reason is set.
func (f Flags) Recovery() bool { return anySet(f.recovery) }

// Warning reports whether any warning reason is set.
func (f Flags) Warning() bool { return anySet(f.warning) }

func (f Flags) ExitReasons() []string     { return setReasons(f.exit) }
func (f Flags) RecoveryReasons() []string { return setReasons(f.recovery) }
func (f Flags) WarningReasons() []string  { return setReasons(f.warning) }

// ExitFlags returns a copy of the exit reason map.
func (f Flags) ExitFlags() map[string]bool     { return copyMap(f.exit) }
func (f Flags) RecoveryFlags() map[string]bool { return copyMap(f.recovery) }
func (f Flags) WarningFlags() map[string]bool  { return copyMap(f.warning) }

// Message summarizes the reasons that are set.
func (f Flags) Message() string {
	return "exit_flags: " + list(f.ExitReasons()) +
		", recovery_flags: " + list(f.RecoveryReasons()) +
		", warning_flags: " + list(f.WarningReasons())
}

type flagsDoc struct {
	ExitFlags     map[string]bool `json:"exit_flags"`
	RecoveryFlags map[string]bool `json:"recovery_flags"`
	WarningFlags  map[string]bool `json:"warning_flags"`
	Exit          bool            `json:"exit"`
	Recovery      bool            `json:"recovery"`
	Warning       bool            `json:"warning"`
	Message       string          `json:"message"`
}

// MarshalJSON renders the published document.
func (f Flags) MarshalJSON() ([]byte, error) {
	return json.Marshal(flagsDoc{
		ExitFlags:     nonNil(f.exit),
		RecoveryFlags: nonNil(f.recovery),
		WarningFlags:  nonNil(f.warning),
		Exit:          f.Exit(),
		Recovery:      f.Recovery(),
		Warning:       f.Warning(),
		Message:       f.Message(),
	})
}

// UnmarshalJSON reads a published document. Only the reason maps are kept;
// the booleans and the message are derived again.
func (f *Flags) UnmarshalJSON(data []byte) error {
	var doc flagsDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	*f = NewFlags(doc.ExitFlags, doc.RecoveryFlags, doc.WarningFlags)
	return nil
}

// Transition is a reason whose value differs between two Flags.
type Transition struct {
	Kind   string
	Reason string
	Set    bool
}

// Diff lists the reasons that changed from prev to f, sorted by kind and
// reason. Reasons absent from a map count as unset.
func (f Flags) Diff(prev Flags) []Transition {
	var out []Transition
	for _, k := range []struct {
		kind      string
		cur, prev map[string]bool
	}{
		{"exit", f.exit, prev.exit},
		{"recovery", f.recovery, prev.recovery},
		{"warning", f.warning, prev.warning},
	} {
		names := make(map[string]struct{})
		for n := range k.cur {
			names[n] = struct{}{}
		}
		for n := range k.prev {
			names[n] = struct{}{}
		}
		sorted := make([]string, 0, len(names))
		for n := range names {
			sorted = append(sorted, n)
		}
		sort.Strings(sorted)
		for _, n := range sorted {
			if k.cur[n] != k.prev[n] {
				out = append(out, Transition{Kind: k.kind, Reason: n, Set: k.cur[n]})
			}
		}
	}
	return out
}

func copyMap(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func nonNil(m map[string]bool) map[string]bool {
	if m == nil {
		return map[string]bool{}
	}
	return m
}

func anySet(m map[string]bool) bool {
	for _, v := range m {
		if v {
			return true
		}
	}
	return false
}

func setReasons(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k, v := range m {
		if v {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func list(reasons []string) string {
	return "[" + strings.Join(reasons, ", ") + "]"
}
