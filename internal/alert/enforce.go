package alert

import (
	"context"

	"github.com/pkg/errors"

	"github.com/defi-org-code/ton-validator-reporter/internal/node"
	"github.com/defi-org-code/ton-validator-reporter/pkg/logtrace"
)

// ErrStakeNotZeroed is returned when the read-back still shows a stake.
var ErrStakeNotZeroed = errors.New("declared stake not zeroed")

// Action is the outcome of one exit enforcement.
type Action struct {
	Reasons  []string
	Verified bool
	Declared node.DeclaredStake
	Err      error
}

// Enforcer zeroes the declared stake when an exit flag is set.
type Enforcer struct {
	ctrl node.StakeController
}

// NewEnforcer returns an enforcer writing through ctrl.
func NewEnforcer(ctrl node.StakeController) *Enforcer {
	return &Enforcer{ctrl: ctrl}
}

// Enforce zeroes the stake once if flags carry an exit reason, then reads it
// back. It returns nil when there is nothing to do. A failed write or
// verification is logged and reported in Action.Err; it never adds flags.
func (e *Enforcer) Enforce(ctx context.Context, flags Flags) *Action {
	if !flags.Exit() {
		return nil
	}
	act := &Action{Reasons: flags.ExitReasons()}
	fields := logtrace.Fields{logtrace.FieldModule: "alert", logtrace.FieldReasons: act.Reasons}

	if err := e.ctrl.ZeroStake(ctx); err != nil {
		act.Err = errors.Wrap(err, "zero stake")
		logtrace.Error(ctx, "failed to zero declared stake", logtrace.WithFields(fields, logtrace.Fields{logtrace.FieldError: act.Err.Error()}))
		return act
	}

	declared, err := e.ctrl.DeclaredStake(ctx)
	if err != nil {
		act.Err = errors.Wrap(err, "read back declared stake")
		logtrace.Error(ctx, "failed to verify declared stake", logtrace.WithFields(fields, logtrace.Fields{logtrace.FieldError: act.Err.Error()}))
		return act
	}
	act.Declared = declared
	if !declared.Zero() {
		act.Err = errors.Wrapf(ErrStakeNotZeroed, "stake=%v stake_percent=%v", declared.Stake, declared.StakePercent)
		logtrace.Error(ctx, "declared stake still set after exit", logtrace.WithFields(fields, logtrace.Fields{logtrace.FieldError: act.Err.Error()}))
		return act
	}
	act.Verified = true
	logtrace.Warn(ctx, "exit flags set, declared stake zeroed", fields)
	return act
}
