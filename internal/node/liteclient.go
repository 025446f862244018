package node

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/ratelimit"

	"github.com/defi-org-code/ton-validator-reporter/pkg/logtrace"
)

// Runner executes a command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	var buf bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	return buf.Bytes(), err
}

// LiteClientConfig locates the node tooling.
type LiteClientConfig struct {
	LiteClientBin    string
	LiteServerAddr   string
	LiteServerPub    string
	ConsoleBin       string
	ConsoleAddr      string
	ConsoleClientKey string
	ConsoleServerPub string
	Timeout          time.Duration
	CallsPerSecond   int
}

// LiteClient implements Client by shelling out to lite-client and
// validator-engine-console.
type LiteClient struct {
	cfg     LiteClientConfig
	run     Runner
	limiter ratelimit.Limiter
}

// LiteClientOption customizes a LiteClient.
type LiteClientOption func(*LiteClient)

// WithRunner replaces process execution, used by tests.
func WithRunner(r Runner) LiteClientOption {
	return func(c *LiteClient) { c.run = r }
}

// NewLiteClient returns a client paced to cfg.CallsPerSecond.
func NewLiteClient(cfg LiteClientConfig, opts ...LiteClientOption) *LiteClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	c := &LiteClient{cfg: cfg, run: execRunner}
	if cfg.CallsPerSecond > 0 {
		c.limiter = ratelimit.New(cfg.CallsPerSecond)
	} else {
		c.limiter = ratelimit.NewUnlimited()
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ Client = (*LiteClient)(nil)

func (c *LiteClient) exec(ctx context.Context, bin string, args ...string) (string, error) {
	c.limiter.Take()
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	start := time.Now()
	out, err := c.run(ctx, bin, args...)
	logtrace.Debug(ctx, "node command finished", logtrace.Fields{
		logtrace.FieldCommand:  strings.Join(args, " "),
		logtrace.FieldDuration: time.Since(start).String(),
	})
	if ctx.Err() == context.DeadlineExceeded {
		return "", errors.Wrapf(ctx.Err(), "%s timed out after %s", bin, c.cfg.Timeout)
	}
	if err != nil {
		return "", errors.Wrapf(err, "%s failed: %s", bin, tail(out))
	}
	return string(out), nil
}

func (c *LiteClient) lite(ctx context.Context, command string) (string, error) {
	timeoutSec := strconv.Itoa(int(c.cfg.Timeout / time.Second))
	return c.exec(ctx, c.cfg.LiteClientBin,
		"-a", c.cfg.LiteServerAddr, "-b", c.cfg.LiteServerPub, "-t", timeoutSec, "-c", command)
}

func (c *LiteClient) console(ctx context.Context, command string) (string, error) {
	return c.exec(ctx, c.cfg.ConsoleBin,
		"-a", c.cfg.ConsoleAddr, "-k", c.cfg.ConsoleClientKey, "-p", c.cfg.ConsoleServerPub, "-c", command)
}

func (c *LiteClient) runMethod(ctx context.Context, addr, method string, args ...string) (string, error) {
	cmd := strings.Join(append([]string{"runmethodfull", addr, method}, args...), " ")
	out, err := c.lite(ctx, cmd)
	if err != nil {
		return "", err
	}
	return ParseResult(out)
}

// EngineStats queries validator-engine-console getstats.
func (c *LiteClient) EngineStats(ctx context.Context) (EngineStats, error) {
	out, err := c.console(ctx, "getstats")
	if err != nil {
		return EngineStats{}, err
	}
	return ParseStats(out)
}

// Account queries getaccount.
func (c *LiteClient) Account(ctx context.Context, addr string) (*Account, error) {
	out, err := c.lite(ctx, "getaccount "+addr)
	if err != nil {
		return nil, err
	}
	return ParseAccount(addr, out)
}

// ElectorAddr reads config param 1.
func (c *LiteClient) ElectorAddr(ctx context.Context) (string, error) {
	out, err := c.lite(ctx, "getconfig 1")
	if err != nil {
		return "", err
	}
	return ParseAddr(out)
}

// ConfigAddr reads config param 0.
func (c *LiteClient) ConfigAddr(ctx context.Context) (string, error) {
	out, err := c.lite(ctx, "getconfig 0")
	if err != nil {
		return "", err
	}
	return ParseAddr(out)
}

// ActiveElectionID returns the open election id, 0 when none is open.
func (c *LiteClient) ActiveElectionID(ctx context.Context, elector string) (int64, error) {
	res, err := c.runMethod(ctx, elector, "active_election_id")
	if err != nil {
		return 0, err
	}
	ints := ResultInts(res)
	if len(ints) == 0 {
		return 0, parseErr("active_election_id", res, "no integer in result")
	}
	return ints[0], nil
}

// PastElectionIDs returns the ids of elections whose stakes are still held.
func (c *LiteClient) PastElectionIDs(ctx context.Context, elector string) ([]int64, error) {
	res, err := c.runMethod(ctx, elector, "past_election_ids")
	if err != nil {
		return nil, err
	}
	return ResultInts(res), nil
}

// GlobalVersion reads config param 8.
func (c *LiteClient) GlobalVersion(ctx context.Context) (GlobalVersion, error) {
	out, err := c.lite(ctx, "getconfig 8")
	if err != nil {
		return GlobalVersion{}, err
	}
	return ParseGlobalVersion(out)
}

// Timing reads config param 15.
func (c *LiteClient) Timing(ctx context.Context) (Timing, error) {
	out, err := c.lite(ctx, "getconfig 15")
	if err != nil {
		return Timing{}, err
	}
	return ParseTiming(out)
}

// ValidatorSet reads config param 34.
func (c *LiteClient) ValidatorSet(ctx context.Context) (*ValidatorSet, error) {
	out, err := c.lite(ctx, "getconfig 34")
	if err != nil {
		return nil, err
	}
	return ParseValidatorSet(out)
}

// ValidatorsLoad runs checkloadall over [start, end].
func (c *LiteClient) ValidatorsLoad(ctx context.Context, start, end int64) (map[int]Load, error) {
	if start >= end {
		return nil, fmt.Errorf("invalid load window [%d, %d]", start, end)
	}
	out, err := c.lite(ctx, fmt.Sprintf("checkloadall %d %d", start, end))
	if err != nil {
		return nil, err
	}
	return ParseLoadAll(out)
}

// Offers lists the pending config proposals.
func (c *LiteClient) Offers(ctx context.Context, configAddr string) ([]string, error) {
	res, err := c.runMethod(ctx, configAddr, "list_proposals")
	if err != nil {
		return nil, err
	}
	return ParseOffers(res), nil
}

// SubWalletID runs the wallet's wallet_id get-method.
func (c *LiteClient) SubWalletID(ctx context.Context, wallet string) (int64, error) {
	res, err := c.runMethod(ctx, wallet, "wallet_id")
	if err != nil {
		return 0, err
	}
	ints := ResultInts(res)
	if len(ints) == 0 {
		return 0, parseErr("wallet_id", res, "no integer in result")
	}
	return ints[0], nil
}

// ReturnedStake returns the stake the elector would release to wallet, in TON.
func (c *LiteClient) ReturnedStake(ctx context.Context, elector, wallet string) (float64, error) {
	hash := wallet
	if i := strings.Index(wallet, ":"); i >= 0 {
		hash = wallet[i+1:]
	}
	res, err := c.runMethod(ctx, elector, "compute_returned_stake", "0x"+hash)
	if err != nil {
		return 0, err
	}
	ints := ResultInts(res)
	if len(ints) == 0 {
		return 0, parseErr("compute_returned_stake", res, "no integer in result")
	}
	return float64(ints[0]) / nanoPerTon, nil
}

func tail(out []byte) string {
	s := strings.TrimSpace(string(out))
	if len(s) > 200 {
		return s[len(s)-200:]
	}
	return s
}
