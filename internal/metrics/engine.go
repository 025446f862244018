// Package metrics derives the published validator metrics from one node
// snapshot, the cycle position and the persisted reporter state.
package metrics

import (
	"github.com/defi-org-code/ton-validator-reporter/internal/cycle"
	"github.com/defi-org-code/ton-validator-reporter/internal/node"
	"github.com/defi-org-code/ton-validator-reporter/internal/state"
	"github.com/defi-org-code/ton-validator-reporter/internal/sysstat"
)

// Snapshot is the metrics document. It is rebuilt from scratch every
// iteration and published as a flat JSON object.
type Snapshot struct {
	UpdateTime       int64  `json:"update_time"`
	Hostname         string `json:"hostname"`
	ReporterPID      int    `json:"reporter_pid"`
	TonVersion       string `json:"ton_version"`
	MytonctrlVersion string `json:"mytonctrl_version"`

	ValidatorIndex  int     `json:"validator_index"`
	AdnlAddr        string  `json:"adnl_addr"`
	WalletAddr      string  `json:"wallet_addr"`
	WalletExists    bool    `json:"restricted_wallet_exists"`
	SubWalletID     int64   `json:"sub_wallet_id"`
	ServiceActive   bool    `json:"systemctl_status_validator_ok"`
	OutOfSync       int64   `json:"out_of_sync"`
	IsWorking       bool    `json:"is_working"`
	ValidatorWeight float64 `json:"validator_weight"`

	AvailableValidatorBalance float64 `json:"available_validator_balance"`
	NominatorBalance          float64 `json:"nominator_balance"`
	ValidatorBalanceAtElector float64 `json:"validator_balance_at_elector"`
	TotalBalance              float64 `json:"total_validator_balance"`
	LocalStake                float64 `json:"local_stake"`
	LocalStakePercent         float64 `json:"local_stake_percent"`
	TotalNetworkStake         float64 `json:"total_network_stake"`
	NumValidators             int64   `json:"num_validators"`
	TotalStakeReduced         bool    `json:"total_stake_reduced"`
	NumValidatorsReduced      bool    `json:"num_validators_reduced"`

	ParticipateInActiveElection bool `json:"participate_in_active_election"`
	ParticipateInCurrValidation bool `json:"participate_in_curr_validation"`
	BidInCurrValidation         bool `json:"bid_in_curr_validation"`

	ValidatorLoadFound bool    `json:"validator_load_found"`
	MCBlocksCreated    float64 `json:"mc_blocks_created"`
	MCBlocksExpected   float64 `json:"mc_blocks_expected"`
	MCProb             float64 `json:"mc_prob"`
	WCBlocksCreated    float64 `json:"wc_blocks_created"`
	WCBlocksExpected   float64 `json:"wc_blocks_expected"`
	WCProb             float64 `json:"wc_prob"`
	MasterRatio        float64 `json:"mr"`
	WorkRatio          float64 `json:"wr"`
	Efficiency         float64 `json:"efficiency"`
	Online             bool    `json:"online"`
	MinProb            float64 `json:"min_prob"`
	LoadWindowStart    int64   `json:"load_window_start"`
	LoadWindowEnd      int64   `json:"load_window_end"`

	ActiveElectionID     int64 `json:"active_election_id"`
	CurrValidationID     int64 `json:"curr_validation_id"`
	ElectionsStartsIn    int64 `json:"elections_starts_in"`
	ElectionsEndsIn      int64 `json:"elections_ends_in"`
	ValidationEndsIn     int64 `json:"validation_ends_in"`
	HeldPeriodEndsIn     int64 `json:"held_period_ends_in"`
	ValidationStartedAgo int64 `json:"validation_started_ago"`

	WalletInitBalance  float64 `json:"wallet_init_balance"`
	CycleStartWorkTime int64   `json:"cycle_start_work_time"`
	ROI                float64 `json:"roi"`
	APY                float64 `json:"apy"`

	GlobalVersion      int64 `json:"version"`
	GlobalCapabilities int64 `json:"capabilities"`

	NetLoadAvg     float64 `json:"net_load_avg"`
	DiskLoadPctAvg float64 `json:"disk_load_pct_avg"`
	MemLoadPct     float64 `json:"mem_load_avg"`
}

// Config holds the tunables of the engine.
type Config struct {
	Cycle          cycle.Params
	RecomputeGrace int64
	ReducedRatio   float64
	// WalletInitBalance, when positive, replaces the first observed total as
	// the ROI baseline.
	WalletInitBalance float64
}

// Input is everything one iteration observed.
type Input struct {
	Node  *node.Snapshot
	Cycle cycle.State
	Host  sysstat.Report
}

// Engine computes Snapshots. It holds no per-iteration state; everything
// carried between iterations lives in state.State.
type Engine struct {
	cfg Config
}

// NewEngine returns an engine for cfg.
func NewEngine(cfg Config) *Engine {
	if cfg.ReducedRatio <= 0 {
		cfg.ReducedRatio = 0.8
	}
	return &Engine{cfg: cfg}
}

// Compute builds the metrics document and updates st in place: the ROI
// baseline, cycle start, caches and ratchets.
func (e *Engine) Compute(in Input, st *state.State) *Snapshot {
	snap, cyc, t := in.Node, in.Cycle, in.Cycle.Now
	m := &Snapshot{
		UpdateTime:       t,
		Hostname:         in.Host.Hostname,
		ReporterPID:      in.Host.PID,
		TonVersion:       in.Host.TonVersion,
		MytonctrlVersion: in.Host.MytonctrlVersion,
		ServiceActive:    in.Host.ServiceActive,
		NetLoadAvg:       in.Host.NetLoadAvg,
		DiskLoadPctAvg:   in.Host.DiskLoadPctAvg,
		MemLoadPct:       in.Host.MemLoadPct,

		ValidatorIndex: snap.Index,
		AdnlAddr:       snap.Adnl,
		WalletExists:   !snap.WalletMissing,
		SubWalletID:    snap.SubWalletID,
		OutOfSync:      snap.Stats.OutOfSync,
		IsWorking:      snap.Stats.IsWorking,

		ActiveElectionID:  cyc.ActiveID,
		CurrValidationID:  cyc.SettledID,
		ElectionsStartsIn: cyc.ElectionsStartsIn,
		ElectionsEndsIn:   cyc.ElectionsEndsIn,
		ValidationEndsIn:  cyc.ValidationEndsIn,
		HeldPeriodEndsIn:  cyc.HeldPeriodEndsIn,

		GlobalVersion:      snap.GlobalVersion.Version,
		GlobalCapabilities: snap.GlobalVersion.Capabilities,
	}
	if cyc.SettledID > 0 {
		m.ValidationStartedAgo = t - cyc.SettledID
	}
	if snap.Wallet != nil {
		m.WalletAddr = snap.Wallet.Addr()
	}
	if snap.Self != nil {
		m.ValidatorWeight = snap.Self.Weight
	}

	e.blockProduction(m, snap)
	e.participation(m, snap, cyc)

	if hist := snap.History; hist != nil {
		if hist.Stake != nil {
			m.LocalStake = *hist.Stake
		}
		if hist.StakePercent != nil {
			m.LocalStakePercent = *hist.StakePercent
		}
	}

	if snap.ValidatorAccount != nil {
		m.AvailableValidatorBalance = snap.ValidatorAccount.Balance
	}
	if snap.NominatorAccount != nil {
		m.NominatorBalance = snap.NominatorAccount.Balance
	}
	m.ValidatorBalanceAtElector = ElectorBalance(e.cfg.Cycle, t, e.electorInput(snap, cyc), e.cfg.RecomputeGrace, st)
	m.TotalBalance = m.AvailableValidatorBalance + m.NominatorBalance + m.ValidatorBalanceAtElector

	m.ROI = ROI(m.TotalBalance, e.cfg.WalletInitBalance, st)
	if st.WalletInitBalance != nil {
		m.WalletInitBalance = *st.WalletInitBalance
	}
	if st.CycleStartWorkTime == nil && m.ParticipateInActiveElection {
		st.CycleStartWorkTime = state.Int64(cyc.ActiveID)
	}
	if st.CycleStartWorkTime != nil {
		m.CycleStartWorkTime = *st.CycleStartWorkTime
	}
	m.APY = APY(e.cfg.Cycle, t, m.ROI, e.cfg.RecomputeGrace, st)

	if vs := snap.ValidatorSet; vs != nil {
		m.TotalNetworkStake = vs.TotalWeight
		m.NumValidators = vs.TotalValidators
		m.TotalStakeReduced = RatchetFloat(&st.PrevTotalStake, vs.TotalWeight, e.cfg.ReducedRatio)
		m.NumValidatorsReduced = RatchetInt(&st.PrevNumValidators, vs.TotalValidators, e.cfg.ReducedRatio)
	}
	return m
}

func (e *Engine) blockProduction(m *Snapshot, snap *node.Snapshot) {
	m.LoadWindowStart, m.LoadWindowEnd = snap.LoadWindow[0], snap.LoadWindow[1]
	m.MinProb = MinProb(snap.Load)
	l := snap.Load
	if l == nil {
		return
	}
	m.ValidatorLoadFound = true
	m.MCBlocksCreated, m.MCBlocksExpected, m.MCProb = l.MasterCreated, l.MasterExpected, l.MasterProb
	m.WCBlocksCreated, m.WCBlocksExpected, m.WCProb = l.WorkCreated, l.WorkExpected, l.WorkProb
	m.MasterRatio = BlockRatio(l.MasterCreated, l.MasterExpected)
	m.WorkRatio = BlockRatio(l.WorkCreated, l.WorkExpected)
	m.Efficiency = Efficiency(m.MasterRatio, m.WorkRatio)
	m.Online = m.Efficiency > OnlineEfficiency
}

func (e *Engine) participation(m *Snapshot, snap *node.Snapshot, cyc cycle.State) {
	hist := snap.History
	if cyc.ElectionOpen() {
		_, m.ParticipateInActiveElection = hist.Participant(cyc.ActiveID, snap.Adnl)
	}
	// A bid in the settled election does not mean it was won; only the
	// current validator set says who is expected to produce blocks.
	_, m.BidInCurrValidation = hist.Participant(cyc.SettledID, snap.Adnl)
	m.ParticipateInCurrValidation = snap.Self != nil && snap.Index >= 0
}

func (e *Engine) electorInput(snap *node.Snapshot, cyc cycle.State) ElectorBalanceInput {
	in := ElectorBalanceInput{ReturnedStake: snap.ReturnedStake}
	hist := snap.History
	if cyc.ElectionOpen() {
		if p, ok := hist.Participant(cyc.ActiveID, snap.Adnl); ok {
			in.ElectionStake = p.Stake
		}
	}
	if snap.Self != nil && snap.ValidatorSet != nil {
		in.OwnWeight = snap.Self.Weight
		in.TotalWeight = snap.ValidatorSet.TotalWeight
		in.ValidationStake, _, _ = hist.ElectionStake(cyc.SettledID)
	}
	return in
}
