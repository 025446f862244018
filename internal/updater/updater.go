// Package updater keeps the reporter at the latest published version. It
// polls a plain-text version descriptor and, when a newer version appears,
// downloads and runs the installer script.
package updater

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/mod/semver"

	"github.com/defi-org-code/ton-validator-reporter/pkg/logtrace"
)

const (
	installerName = "installer.sh"
	maxBodyBytes  = 1 << 20
)

// Config locates the version descriptor and the installer.
type Config struct {
	VersionURL   string
	InstallerURL string
	WorkDir      string
	Interval     time.Duration
	Timeout      time.Duration
	// FetchAttempts bounds the retries of each download.
	FetchAttempts int
	RetryDelay    time.Duration
}

// Runner executes the downloaded installer.
type Runner func(ctx context.Context, dir, script string) ([]byte, error)

// Result describes one check.
type Result struct {
	Current string
	Latest  string
	Applied bool
}

// Updater compares the running version with the published one.
type Updater struct {
	cfg     Config
	current string
	client  *http.Client
	run     Runner
	now     func() time.Time
}

// Option customizes an Updater.
type Option func(*Updater)

// WithRunner replaces the installer runner.
func WithRunner(r Runner) Option { return func(u *Updater) { u.run = r } }

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option { return func(u *Updater) { u.client = c } }

// WithClock replaces time.Now for interval alignment.
func WithClock(now func() time.Time) Option { return func(u *Updater) { u.now = now } }

// New returns an updater for a binary at version current. Unparseable
// versions, such as "dev", count as v0.0.0.
func New(cfg Config, current string, opts ...Option) *Updater {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.FetchAttempts < 1 {
		cfg.FetchAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	u := &Updater{
		cfg:     cfg,
		current: Canonical(current),
		client:  &http.Client{Timeout: cfg.Timeout},
		run:     runScript,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Current returns the version the updater believes is installed.
func (u *Updater) Current() string { return u.current }

// Canonical normalizes v to the vMAJOR.MINOR.PATCH form, defaulting to
// v0.0.0 when v is not a semantic version.
func Canonical(v string) string {
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return "v0.0.0"
	}
	return semver.Canonical(v)
}

// Newer reports whether latest should replace current. Pre-release targets
// are never installed automatically.
func Newer(current, latest string) bool {
	if semver.Prerelease(latest) != "" {
		return false
	}
	return semver.Compare(latest, current) > 0
}

// Latest fetches the published version.
func (u *Updater) Latest(ctx context.Context) (string, error) {
	body, err := u.fetch(ctx, u.cfg.VersionURL)
	if err != nil {
		return "", err
	}
	v := strings.TrimSpace(string(body))
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return "", fmt.Errorf("invalid version %q at %s", strings.TrimSpace(string(body)), u.cfg.VersionURL)
	}
	return semver.Canonical(v), nil
}

// Check compares versions and installs a newer one. With dryRun it only
// reports what it would do.
func (u *Updater) Check(ctx context.Context, dryRun bool) (Result, error) {
	res := Result{Current: u.current}
	latest, err := u.Latest(ctx)
	if err != nil {
		return res, err
	}
	res.Latest = latest
	if !Newer(u.current, latest) || dryRun {
		return res, nil
	}

	logtrace.Info(ctx, "newer reporter version published", logtrace.Fields{
		logtrace.FieldModule:  "updater",
		logtrace.FieldVersion: latest,
	})
	script, err := u.download(ctx)
	if err != nil {
		return res, err
	}
	out, err := u.run(ctx, u.cfg.WorkDir, script)
	if err != nil {
		return res, fmt.Errorf("installer %s failed: %w: %s", script, err, strings.TrimSpace(string(out)))
	}
	u.current = latest
	res.Applied = true
	logtrace.Info(ctx, "reporter updated", logtrace.Fields{
		logtrace.FieldModule:  "updater",
		logtrace.FieldVersion: latest,
	})
	return res, nil
}

// Run checks once immediately and then at every interval boundary until ctx
// is cancelled. Failed checks are logged and retried at the next boundary.
func (u *Updater) Run(ctx context.Context) error {
	for {
		cctx := logtrace.CtxWithCorrelationID(ctx, uuid.NewString())
		if _, err := u.Check(cctx, false); err != nil && ctx.Err() == nil {
			logtrace.Warn(cctx, "update check failed", logtrace.Fields{
				logtrace.FieldModule: "updater",
				logtrace.FieldError:  err.Error(),
			})
		}

		timer := time.NewTimer(u.untilNextCheck(u.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (u *Updater) untilNextCheck(now time.Time) time.Duration {
	iv := u.cfg.Interval
	return iv - time.Duration(now.UnixNano()%int64(iv))
}

// download stores the installer in WorkDir, replacing any earlier copy.
func (u *Updater) download(ctx context.Context) (string, error) {
	body, err := u.fetch(ctx, u.cfg.InstallerURL)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(u.cfg.WorkDir, 0o755); err != nil {
		return "", fmt.Errorf("create work dir: %w", err)
	}
	path := filepath.Join(u.cfg.WorkDir, installerName)
	tmp, err := os.CreateTemp(u.cfg.WorkDir, "."+installerName+".*")
	if err != nil {
		return "", fmt.Errorf("stage installer: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		return "", fmt.Errorf("stage installer: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("stage installer: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o755); err != nil {
		return "", fmt.Errorf("stage installer: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("stage installer: %w", err)
	}
	return path, nil
}

func (u *Updater) fetch(ctx context.Context, url string) ([]byte, error) {
	var body []byte
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := u.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("GET %s: %s", url, resp.Status)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return backoff.Permanent(err)
			}
			return err
		}
		body, err = io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		return err
	}
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(u.cfg.RetryDelay), uint64(u.cfg.FetchAttempts-1)), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return nil, err
	}
	return body, nil
}

func runScript(ctx context.Context, dir, script string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, script)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}
