// Package cycle converts a unix timestamp into a position inside the TON
// election / validation / stake-hold timeline.
package cycle

import (
	"errors"
	"fmt"
	"sort"
)

// ErrInconsistentElections is returned when the known election ids cannot
// describe a valid timeline (for example two elections in the future).
var ErrInconsistentElections = errors.New("inconsistent election ids")

// Params are the timing constants of the network, in seconds.
type Params struct {
	ElectionDuration     int64 // validators_elected_for, modulus of every computation
	ElectionsStartBefore int64
	ElectionsEndBefore   int64
	StakeHeldFor         int64
}

// State is the cycle position derived for one iteration.
type State struct {
	Now int64

	// ElectionIDs holds up to two most recent ids, newest first.
	ElectionIDs []int64
	// ActiveID is the id of the open election, 0 when no election is open.
	ActiveID int64
	// SettledID is the id of the election whose validators are working now.
	SettledID int64

	ElectionsStartsIn int64
	ElectionsEndsIn   int64 // minutes, -1 when no election is open
	ValidationEndsIn  int64
	HeldPeriodEndsIn  int64
}

// ElectionOpen reports whether an election is currently accepting stakes.
func (s State) ElectionOpen() bool { return s.ActiveID != 0 }

// CurrentBoundary is floor(t/E)*E.
func (p Params) CurrentBoundary(t int64) int64 {
	return floorDiv(t, p.ElectionDuration) * p.ElectionDuration
}

// NextBoundary is ceil(t/E)*E.
func (p Params) NextBoundary(t int64) int64 {
	return ceilDiv(t, p.ElectionDuration) * p.ElectionDuration
}

// ElectionsStartsIn returns the seconds until the next election start
// boundary. Never negative.
func (p Params) ElectionsStartsIn(t int64) int64 {
	b := p.NextBoundary(t) - p.ElectionsEndBefore
	if b >= t {
		return b - t
	}
	return p.NextBoundary(t) + p.ElectionDuration - p.ElectionsEndBefore - t
}

// ValidationEndsIn returns the seconds until the current validation period ends.
func (p Params) ValidationEndsIn(t int64) int64 {
	return p.NextBoundary(t) - t
}

// HeldPeriodEndsIn returns the seconds until the stake of the previous
// validation round is released.
func (p Params) HeldPeriodEndsIn(t int64) int64 {
	return floorDiv(t+p.StakeHeldFor, p.ElectionDuration)*p.ElectionDuration + p.StakeHeldFor - t
}

// ElectionsEndsIn returns the minutes until the election newestID closes
// for new stakes, floored at 0, or -1 when newestID is not in the future.
func (p Params) ElectionsEndsIn(t, newestID int64) int64 {
	if !(t < newestID) {
		return -1
	}
	m := floorDiv(newestID-p.ElectionsEndBefore-t, 60)
	if m < 0 {
		return 0
	}
	return m
}

// Compute derives the cycle state at t from the known election ids.
//
// When the newest id is in the future it is the open election and the
// second-newest is the running validation, which must already have started.
// Otherwise no election is open and the newest id is the running validation.
func (p Params) Compute(t int64, ids []int64) (State, error) {
	sorted := dedupeDesc(ids)
	if len(sorted) == 0 {
		return State{}, fmt.Errorf("%w: no election ids known", ErrInconsistentElections)
	}

	st := State{
		Now:               t,
		ElectionsStartsIn: p.ElectionsStartsIn(t),
		ValidationEndsIn:  p.ValidationEndsIn(t),
		HeldPeriodEndsIn:  p.HeldPeriodEndsIn(t),
		ElectionsEndsIn:   p.ElectionsEndsIn(t, sorted[0]),
	}

	if t < sorted[0] {
		if len(sorted) < 2 {
			return State{}, fmt.Errorf("%w: election %d is open but no earlier election is known", ErrInconsistentElections, sorted[0])
		}
		if t < sorted[1] {
			return State{}, fmt.Errorf("%w: elections %d and %d are both in the future (now %d)", ErrInconsistentElections, sorted[0], sorted[1], t)
		}
		st.ActiveID = sorted[0]
		st.SettledID = sorted[1]
		st.ElectionIDs = sorted[:2]
		return st, nil
	}

	st.SettledID = sorted[0]
	if len(sorted) > 1 {
		st.ElectionIDs = sorted[:2]
	} else {
		st.ElectionIDs = sorted[:1]
	}
	return st, nil
}

func dedupeDesc(ids []int64) []int64 {
	out := make([]int64, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if id <= 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] > out[j] })
	return out
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func ceilDiv(a, b int64) int64 {
	return -floorDiv(-a, b)
}
