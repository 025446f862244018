// Package reporter drives the poll loop: fetch, compute, evaluate, publish.
package reporter

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/defi-org-code/ton-validator-reporter/internal/alert"
	"github.com/defi-org-code/ton-validator-reporter/internal/config"
	"github.com/defi-org-code/ton-validator-reporter/internal/cycle"
	"github.com/defi-org-code/ton-validator-reporter/internal/metrics"
	"github.com/defi-org-code/ton-validator-reporter/internal/node"
	"github.com/defi-org-code/ton-validator-reporter/internal/state"
	"github.com/defi-org-code/ton-validator-reporter/internal/sysstat"
	"github.com/defi-org-code/ton-validator-reporter/pkg/logtrace"
)

// Fetcher builds node snapshots.
type Fetcher interface {
	Fetch(ctx context.Context, now int64) (*node.Snapshot, error)
	FetchLoad(ctx context.Context, snap *node.Snapshot, settledID int64) error
}

// HostCollector reports process and OS facts.
type HostCollector interface {
	Collect(ctx context.Context, stats *node.Statistics) (sysstat.Report, error)
}

// StateStore persists state.State.
type StateStore interface {
	Load() (*state.State, error)
	Save(st *state.State) error
}

// Publisher writes both documents.
type Publisher interface {
	Publish(m *metrics.Snapshot, flags alert.Flags) error
}

// Sink forwards the metrics document somewhere remote.
type Sink interface {
	Send(ctx context.Context, m *metrics.Snapshot) error
}

// Observer mirrors iterations into metrics.
type Observer interface {
	Observe(m *metrics.Snapshot, f alert.Flags)
	Iteration(ok bool)
}

// Journal records flag transitions and exit actions.
type Journal interface {
	RecordTransitions(at int64, transitions []alert.Transition, message string) error
	RecordAction(at int64, act *alert.Action) error
}

// Deps are the collaborators of a Reporter. Sink, Observer and Journal are
// optional.
type Deps struct {
	Fetcher  Fetcher
	Host     HostCollector
	Store    StateStore
	Files    Publisher
	Stake    node.StakeController
	Sink     Sink
	Observer Observer
	Journal  Journal
}

// Config holds the loop cadence and the engines' settings.
type Config struct {
	Interval   time.Duration
	RetryDelay time.Duration
	MaxRetries int

	Metrics    metrics.Config
	Thresholds config.Thresholds
	Constants  *config.Constants

	// PreviousFlags are the last published flags, used for the first
	// journal diff after a restart.
	PreviousFlags alert.Flags
}

// Result is one published iteration.
type Result struct {
	Cycle   cycle.State
	Metrics *metrics.Snapshot
	Flags   alert.Flags
	Action  *alert.Action
}

// Reporter runs iterations one at a time.
type Reporter struct {
	cfg  Config
	deps Deps

	engine   *metrics.Engine
	eval     *alert.Evaluator
	enforcer *alert.Enforcer

	st        *state.State
	prevFlags alert.Flags
	now       func() time.Time
}

// Option customizes a Reporter.
type Option func(*Reporter)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Reporter) { r.now = now }
}

// New validates deps and returns a Reporter.
func New(cfg Config, deps Deps, opts ...Option) (*Reporter, error) {
	if deps.Fetcher == nil || deps.Host == nil || deps.Store == nil || deps.Files == nil || deps.Stake == nil {
		return nil, fmt.Errorf("reporter: fetcher, host collector, state store, publisher and stake controller are required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	r := &Reporter{
		cfg:       cfg,
		deps:      deps,
		engine:    metrics.NewEngine(cfg.Metrics),
		eval:      alert.NewEvaluator(cfg.Thresholds, cfg.Constants),
		enforcer:  alert.NewEnforcer(deps.Stake),
		prevFlags: cfg.PreviousFlags,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run loops until ctx is cancelled. The first iteration starts immediately;
// later ones wake on multiples of the interval.
func (r *Reporter) Run(ctx context.Context) error {
	logtrace.Info(ctx, "reporter started", logtrace.Fields{
		logtrace.FieldModule: "reporter",
		"interval":           r.cfg.Interval.String(),
		"max_retries":        r.cfg.MaxRetries,
	})
	for {
		r.runBurst(ctx)

		timer := time.NewTimer(r.untilNextTick(r.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			logtrace.Info(ctx, "reporter stopped", logtrace.Fields{logtrace.FieldModule: "reporter"})
			return nil
		case <-timer.C:
		}
	}
}

// untilNextTick keeps wake-ups phase-locked to the interval.
func (r *Reporter) untilNextTick(now time.Time) time.Duration {
	return r.cfg.Interval - time.Duration(now.UnixNano())%r.cfg.Interval
}

// runBurst runs one iteration with up to MaxRetries attempts. A burst that
// never succeeds is logged and dropped; the previous documents stay in place.
func (r *Reporter) runBurst(ctx context.Context) (*Result, error) {
	attempt := 0
	var res *Result
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(r.cfg.RetryDelay), uint64(r.cfg.MaxRetries-1)),
		ctx,
	)
	err := backoff.RetryNotify(func() error {
		attempt++
		ictx := logtrace.CtxWithCorrelationID(ctx, uuid.NewString())
		out, err := r.RunOnce(ictx)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		res = out
		return nil
	}, b, func(err error, wait time.Duration) {
		logtrace.Warn(ctx, "iteration failed, retrying", logtrace.Fields{
			logtrace.FieldModule: "reporter",
			logtrace.FieldError:  err.Error(),
			logtrace.FieldRetry:  attempt,
			"wait":               wait.String(),
		})
	})

	if r.deps.Observer != nil {
		r.deps.Observer.Iteration(err == nil)
	}
	if err != nil {
		logtrace.Error(ctx, "iteration abandoned", logtrace.Fields{
			logtrace.FieldModule: "reporter",
			logtrace.FieldError:  err.Error(),
			"attempts":           attempt,
		})
		return nil, err
	}
	return res, nil
}

// RunOnce performs a single attempt. Nothing is published unless every fetch
// succeeded, and state is committed only after the documents are written.
func (r *Reporter) RunOnce(ctx context.Context) (*Result, error) {
	start := r.now()
	now := start.Unix()

	snap, err := r.deps.Fetcher.Fetch(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot: %w", err)
	}
	cyc, err := r.cfg.Metrics.Cycle.Compute(now, snap.ElectionIDs)
	if err != nil {
		return nil, fmt.Errorf("compute cycle: %w", err)
	}
	if err := r.deps.Fetcher.FetchLoad(ctx, snap, cyc.SettledID); err != nil {
		return nil, fmt.Errorf("fetch validator load: %w", err)
	}

	var stats *node.Statistics
	if snap.History != nil {
		stats = snap.History.Statistics
	}
	host, err := r.deps.Host.Collect(ctx, stats)
	if err != nil {
		return nil, fmt.Errorf("collect host stats: %w", err)
	}

	if r.st == nil {
		st, err := r.deps.Store.Load()
		if err != nil {
			return nil, fmt.Errorf("load state: %w", err)
		}
		r.st = st
	}
	work := r.st.Clone()

	m := r.engine.Compute(metrics.Input{Node: snap, Cycle: cyc, Host: host}, work)
	flags := r.eval.Evaluate(alert.Input{Metrics: m, Node: snap, Cycle: cyc}, work)

	if err := r.deps.Files.Publish(m, flags); err != nil {
		return nil, fmt.Errorf("publish: %w", err)
	}
	if !work.Equal(r.st) {
		if err := r.deps.Store.Save(work); err != nil {
			return nil, fmt.Errorf("save state: %w", err)
		}
	}
	r.st = work

	if r.deps.Sink != nil {
		if err := r.deps.Sink.Send(ctx, m); err != nil {
			logtrace.Warn(ctx, "metrics sink failed", logtrace.Fields{logtrace.FieldModule: "reporter", logtrace.FieldError: err.Error()})
		}
	}
	if r.deps.Observer != nil {
		r.deps.Observer.Observe(m, flags)
	}

	act := r.enforcer.Enforce(ctx, flags)
	r.record(ctx, now, flags, act)

	logtrace.Info(ctx, "iteration published", logtrace.Fields{
		logtrace.FieldModule:       "reporter",
		logtrace.FieldElectionID:   cyc.SettledID,
		logtrace.FieldValidatorIdx: m.ValidatorIndex,
		logtrace.FieldDuration:     time.Since(start).String(),
		"efficiency":               m.Efficiency,
		"min_prob":                 m.MinProb,
		"flags":                    flags.Message(),
	})
	return &Result{Cycle: cyc, Metrics: m, Flags: flags, Action: act}, nil
}

func (r *Reporter) record(ctx context.Context, now int64, flags alert.Flags, act *alert.Action) {
	transitions := flags.Diff(r.prevFlags)
	r.prevFlags = flags
	if r.deps.Journal == nil {
		return
	}
	if err := r.deps.Journal.RecordTransitions(now, transitions, flags.Message()); err != nil {
		logtrace.Warn(ctx, "journal transitions failed", logtrace.Fields{logtrace.FieldModule: "reporter", logtrace.FieldError: err.Error()})
	}
	if err := r.deps.Journal.RecordAction(now, act); err != nil {
		logtrace.Warn(ctx, "journal action failed", logtrace.Fields{logtrace.FieldModule: "reporter", logtrace.FieldError: err.Error()})
	}
}
