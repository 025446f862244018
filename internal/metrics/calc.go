package metrics

import (
	"math"

	"github.com/defi-org-code/ton-validator-reporter/internal/cycle"
	"github.com/defi-org-code/ton-validator-reporter/internal/node"
	"github.com/defi-org-code/ton-validator-reporter/internal/state"
)

const (
	// MinProbNull is reported when the validator has no load entry.
	MinProbNull = 100.0
	// SecondsPerYear annualizes the return on investment.
	SecondsPerYear = 365 * 24 * 3600
	// OnlineEfficiency is the efficiency above which a validator counts as online.
	OnlineEfficiency = 10.0
)

// BlockRatio is created/expected, 0 when nothing was expected.
func BlockRatio(created, expected float64) float64 {
	if expected == 0 {
		return 0
	}
	return created / expected
}

// Efficiency is 100 times the mean of both chain ratios, rounded to 2 decimals.
func Efficiency(masterRatio, workRatio float64) float64 {
	return Round2(100 * (masterRatio + workRatio) / 2)
}

// MinProb returns MinProbNull when load is nil.
func MinProb(load *node.Load) float64 {
	if load == nil {
		return MinProbNull
	}
	return math.Min(load.MasterProb, load.WorkProb)
}

// ROI records the wallet baseline on the first total of at least 1 and
// returns the percentage gain against it. seed, when positive, is used as
// the baseline instead of the first observed total.
func ROI(total, seed float64, st *state.State) float64 {
	if total < 1 {
		return 0
	}
	if st.WalletInitBalance == nil {
		base := total
		if seed > 0 {
			base = seed
		}
		st.WalletInitBalance = state.Float64(base)
	}
	base := *st.WalletInitBalance
	if base <= 0 {
		return 0
	}
	return Round2(100 * (total/base - 1))
}

// recomputeDeadline is the first moment after which a cycle-cached value is
// refreshed.
func recomputeDeadline(p cycle.Params, t, grace int64) int64 {
	return p.NextBoundary(t) + p.StakeHeldFor + grace
}

// APY annualizes roi over the time worked since cycle_start_work_time. The
// value is cached in st until its deadline passes.
func APY(p cycle.Params, t int64, roi float64, grace int64, st *state.State) float64 {
	if st.CycleStartWorkTime == nil || roi <= 0 {
		return 0
	}
	if st.APY != nil && t <= st.APYDeadline {
		return *st.APY
	}
	worked := p.CurrentBoundary(t) - *st.CycleStartWorkTime
	if worked <= 0 {
		return 0
	}
	apy := math.Max(0, Round2(roi*SecondsPerYear/float64(worked)))
	st.APY = state.Float64(apy)
	st.APYDeadline = recomputeDeadline(p, t, grace)
	return apy
}

// ElectorBalanceInput is what the elector currently holds on our behalf.
type ElectorBalanceInput struct {
	ElectionStake   float64 // stake in the open election
	OwnWeight       float64
	TotalWeight     float64
	ValidationStake float64 // sum of stakes of the running validation
	ReturnedStake   float64
}

// ElectorBalance sums the open election stake, our weighted share of the
// running validation and the stake ready to be returned. The value is cached
// in st until its deadline passes.
func ElectorBalance(p cycle.Params, t int64, in ElectorBalanceInput, grace int64, st *state.State) float64 {
	if st.ElectorBalance != nil && t <= st.ElectorBalanceDeadline {
		return *st.ElectorBalance
	}
	v := in.ElectionStake + in.ReturnedStake
	if in.TotalWeight > 0 {
		v += in.OwnWeight / in.TotalWeight * in.ValidationStake
	}
	v = math.Max(0, v)
	st.ElectorBalance = state.Float64(v)
	st.ElectorBalanceDeadline = recomputeDeadline(p, t, grace)
	return v
}

// RatchetFloat compares value with the stored baseline and raises the
// baseline when value is not lower. The first observation only records.
func RatchetFloat(prev **float64, value, ratio float64) bool {
	if *prev == nil || **prev <= 0 {
		*prev = state.Float64(value)
		return false
	}
	old := **prev
	if value >= old {
		*prev = state.Float64(value)
		return false
	}
	return value/old < ratio
}

// RatchetInt is RatchetFloat for counts.
func RatchetInt(prev **int64, value int64, ratio float64) bool {
	if *prev == nil || **prev <= 0 {
		*prev = state.Int64(value)
		return false
	}
	old := **prev
	if value >= old {
		*prev = state.Int64(value)
		return false
	}
	return float64(value)/float64(old) < ratio
}

// Round2 rounds half away from zero to 2 decimals.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
