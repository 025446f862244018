package alert

import (
	"strings"

	"github.com/defi-org-code/ton-validator-reporter/internal/config"
	"github.com/defi-org-code/ton-validator-reporter/internal/cycle"
	"github.com/defi-org-code/ton-validator-reporter/internal/metrics"
	"github.com/defi-org-code/ton-validator-reporter/internal/node"
	"github.com/defi-org-code/ton-validator-reporter/internal/state"
)

// Input is one iteration as seen by the evaluator.
type Input struct {
	Metrics *metrics.Snapshot
	Node    *node.Snapshot
	Cycle   cycle.State
}

// Evaluator applies the rule table. It is stateless apart from the baselines
// it records in state.State.
type Evaluator struct {
	th        config.Thresholds
	constants *config.Constants
}

// NewEvaluator returns an evaluator for the given thresholds and constants.
func NewEvaluator(th config.Thresholds, constants *config.Constants) *Evaluator {
	if constants == nil {
		constants = config.DefaultConstants()
	}
	return &Evaluator{th: th, constants: constants}
}

// Evaluate classifies the iteration. Baselines not pinned by the constants
// file are recorded in st on first observation.
func (e *Evaluator) Evaluate(in Input, st *state.State) Flags {
	m, snap, cyc := in.Metrics, in.Node, in.Cycle
	c, th, b := e.constants, e.th, &st.Baselines

	lowMinProb := m.MinProb < th.MinProb
	loadMissing := m.ParticipateInCurrValidation && !m.ValidatorLoadFound &&
		cyc.SettledID > 0 && cyc.Now-cyc.SettledID > th.ValidatorLoadGrace

	versionChanged := driftedInt(c.GlobalVersion, &b.GlobalVersion, snap.GlobalVersion.Version)
	capabilitiesChanged := driftedInt(c.GlobalCapabilities, &b.GlobalCapabilities, snap.GlobalVersion.Capabilities)

	exit := map[string]bool{
		ExitLowMinProb:                  lowMinProb,
		ExitValidatorLoad:               loadMissing,
		ExitWalletMissing:               snap.WalletMissing,
		ExitElectionDurationChanged:     snap.Timing.ValidatorsElectedFor != c.ValidatorsElectedFor,
		ExitElectionsStartBeforeChanged: snap.Timing.ElectionsStartBefore != c.ElectionsStartBefore,
		ExitElectionsEndBeforeChanged:   snap.Timing.ElectionsEndBefore != c.ElectionsEndBefore,
		ExitStakeHeldForChanged:         snap.Timing.StakeHeldFor != c.StakeHeldFor,
		ExitFineChanged:                 e.fineChanged(snap.History),
		ExitElectorCodeChanged:          drifted(c.ElectorCodeHash, &b.ElectorCodeHash, codeHash(snap.ElectorAccount)),
		ExitConfigCodeChanged:           drifted(c.ConfigCodeHash, &b.ConfigCodeHash, codeHash(snap.ConfigAccount)),
		ExitNominatorCodeChanged:        drifted(c.NominatorCodeHash, &b.NominatorCodeHash, codeHash(snap.NominatorAccount)),
		ExitValidatorCodeChanged:        drifted(c.ValidatorCodeHash, &b.ValidatorCodeHash, codeHash(snap.ValidatorAccount)),
		ExitElectorAddrChanged:          drifted(c.ElectorAddr, &b.ElectorAddr, snap.ElectorAddr),
		ExitConfigAddrChanged:           drifted(c.ConfigAddr, &b.ConfigAddr, snap.ConfigAddr),
		ExitTotalStakeReduced:           m.TotalStakeReduced,
		ExitNumValidatorsReduced:        m.NumValidatorsReduced,
		ExitGlobalVersionChanged:        versionChanged || capabilitiesChanged,
		ExitNewOffer:                    drifted("", &b.OffersDigest, node.OffersDigest(snap.Offers)),
		ExitComplaintAgainstValidator:   complained(snap, cyc.SettledID),
		ExitValidatorWalletChanged:      drifted("", &b.ValidatorWallet, m.WalletAddr),
		ExitSubWalletID:                 m.SubWalletID != 0,
	}

	recovery := map[string]bool{
		RecoveryServiceDown:   !m.ServiceActive,
		RecoveryOutOfSync:     m.OutOfSync > th.OutOfSync,
		RecoveryMemLoad:       m.MemLoadPct > th.MemLoadPct,
		RecoveryDiskLoad:      m.DiskLoadPctAvg > th.DiskLoadPct,
		RecoveryNetLoad:       m.NetLoadAvg > th.NetLoadAvg,
		RecoveryValidatorLoad: loadMissing,
		RecoveryLowMinProb:    lowMinProb,
	}

	warning := map[string]bool{
		WarningLowValidatorBalance:    !snap.WalletMissing && m.AvailableValidatorBalance < th.MinValidatorBalance,
		WarningNotInCurrentValidation: !m.ParticipateInCurrValidation,
	}

	return NewFlags(exit, recovery, warning)
}

// fineChanged checks the complaints of the newest election that has any.
func (e *Evaluator) fineChanged(h *node.History) bool {
	if h == nil {
		return false
	}
	ids := h.ComplaintElectionIDs()
	if len(ids) == 0 {
		return false
	}
	for _, c := range h.ComplaintsFor(ids[0]) {
		if c.SuggestedFine != e.constants.SuggestedFine || c.SuggestedFinePart != e.constants.SuggestedFinePart {
			return true
		}
	}
	return false
}

func complained(snap *node.Snapshot, settledID int64) bool {
	if settledID <= 0 {
		return false
	}
	var pubkey string
	if snap.Self != nil {
		pubkey = snap.Self.Pubkey
	}
	for _, c := range snap.History.ComplaintsFor(settledID) {
		if snap.Adnl != "" && strings.EqualFold(c.AdnlAddr, snap.Adnl) {
			return true
		}
		if pubkey != "" && strings.EqualFold(c.Pubkey, pubkey) {
			return true
		}
	}
	return false
}

// drifted compares observed with the pinned value, or with the recorded
// baseline when nothing is pinned. An empty observation never drifts.
func drifted(pinned string, recorded *string, observed string) bool {
	if observed == "" {
		return false
	}
	if pinned != "" {
		return !strings.EqualFold(observed, pinned)
	}
	if *recorded == "" {
		*recorded = observed
		return false
	}
	return !strings.EqualFold(observed, *recorded)
}

func driftedInt(pinned int64, recorded **int64, observed int64) bool {
	if pinned != 0 {
		return observed != pinned
	}
	if *recorded == nil {
		*recorded = state.Int64(observed)
		return false
	}
	return observed != **recorded
}

func codeHash(a *node.Account) string {
	if a == nil {
		return ""
	}
	return a.CodeHash
}
