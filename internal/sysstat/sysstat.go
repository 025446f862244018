// Package sysstat reports host facts the reporter publishes next to the
// validator metrics: service health, load averages and build versions.
package sysstat

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	ristretto "github.com/dgraph-io/ristretto/v2"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"

	"github.com/defi-org-code/ton-validator-reporter/internal/node"
	"github.com/defi-org-code/ton-validator-reporter/pkg/logtrace"
)

const versionTTL = time.Hour

// Report is one sample of host state.
type Report struct {
	Hostname         string
	PID              int
	TonVersion       string
	MytonctrlVersion string
	ServiceActive    bool
	NetLoadAvg       float64 // Mbit/s
	DiskLoadPctAvg   float64
	MemLoadPct       float64
}

// Runner executes a command and returns its stdout.
type Runner func(ctx context.Context, dir, name string, args ...string) (string, error)

func execRunner(ctx context.Context, dir, name string, args ...string) (string, error) {
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Stdout = &out
	err := cmd.Run()
	return strings.TrimSpace(out.String()), err
}

// Config selects what the collector inspects.
type Config struct {
	ServiceUnit  string
	TonSrc       string
	MytonctrlSrc string
}

type ioSample struct {
	at      time.Time
	netByte uint64
	diskMs  map[string]uint64
}

// Collector gathers Reports. It keeps the previous IO counters so that the
// gopsutil fallback can turn them into rates.
type Collector struct {
	cfg      Config
	run      Runner
	versions *ristretto.Cache[string, string]

	mu   sync.Mutex
	prev *ioSample

	memPercent func(ctx context.Context) (float64, error)
	ioCounters func(ctx context.Context) (*ioSample, error)
}

// Option customizes a Collector.
type Option func(*Collector)

// WithRunner replaces command execution, used by tests.
func WithRunner(r Runner) Option { return func(c *Collector) { c.run = r } }

// NewCollector builds a collector with a version cache.
func NewCollector(cfg Config, opts ...Option) (*Collector, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, string]{
		NumCounters: 100,
		MaxCost:     10,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	c := &Collector{
		cfg:        cfg,
		run:        execRunner,
		versions:   cache,
		memPercent: virtualMemoryPercent,
		ioCounters: readIOCounters,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Close releases the version cache.
func (c *Collector) Close() {
	c.versions.Close()
}

// Collect samples the host. Load averages come from mytoncore statistics when
// present, otherwise from gopsutil counters. Only a memory read failure is
// returned as an error.
func (c *Collector) Collect(ctx context.Context, stats *node.Statistics) (Report, error) {
	r := Report{PID: os.Getpid()}
	r.Hostname, _ = os.Hostname()
	r.ServiceActive = c.ServiceActive(ctx)
	r.TonVersion = c.gitVersion(ctx, c.cfg.TonSrc)
	r.MytonctrlVersion = c.gitVersion(ctx, c.cfg.MytonctrlSrc)

	memPct, err := c.memPercent(ctx)
	if err != nil {
		return Report{}, err
	}
	r.MemLoadPct = memPct

	netAvg, okNet := stats.NetLoadAvg5m()
	diskAvg, okDisk := stats.DiskLoadPctAvg5m()
	if !okNet || !okDisk {
		fbNet, fbDisk := c.sampleIO(ctx)
		if !okNet {
			netAvg = fbNet
		}
		if !okDisk {
			diskAvg = fbDisk
		}
	}
	r.NetLoadAvg = netAvg
	r.DiskLoadPctAvg = diskAvg
	return r, nil
}

// ServiceActive reports whether the validator unit is active.
func (c *Collector) ServiceActive(ctx context.Context) bool {
	if c.cfg.ServiceUnit == "" {
		return true
	}
	out, err := c.run(ctx, "", "systemctl", "is-active", c.cfg.ServiceUnit)
	if err != nil {
		logtrace.Debug(ctx, "systemctl reports unit not active", logtrace.Fields{
			logtrace.FieldCommand: "systemctl is-active " + c.cfg.ServiceUnit,
			logtrace.FieldStatus:  out,
			logtrace.FieldError:   err.Error(),
		})
	}
	return out == "active"
}

// gitVersion returns "<commit>-<branch>" of the checkout at dir.
func (c *Collector) gitVersion(ctx context.Context, dir string) string {
	if dir == "" {
		return ""
	}
	if v, ok := c.versions.Get(dir); ok {
		return v
	}
	commit, err := c.run(ctx, dir, "git", "rev-parse", "HEAD")
	if err != nil {
		logtrace.Warn(ctx, "failed to read git commit", logtrace.Fields{logtrace.FieldPath: dir, logtrace.FieldError: err.Error()})
		return ""
	}
	branch, err := c.run(ctx, dir, "git", "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		logtrace.Warn(ctx, "failed to read git branch", logtrace.Fields{logtrace.FieldPath: dir, logtrace.FieldError: err.Error()})
		return ""
	}
	v := commit + "-" + branch
	c.versions.SetWithTTL(dir, v, 1, versionTTL)
	c.versions.Wait()
	return v
}

// sampleIO turns the difference between two IO samples into a network rate
// in Mbit/s and the busiest disk's utilisation. The first call only primes
// the baseline and returns zeros.
func (c *Collector) sampleIO(ctx context.Context) (float64, float64) {
	cur, err := c.ioCounters(ctx)
	if err != nil {
		logtrace.Warn(ctx, "failed to read io counters", logtrace.Fields{logtrace.FieldError: err.Error()})
		return 0, 0
	}

	c.mu.Lock()
	prev := c.prev
	c.prev = cur
	c.mu.Unlock()

	if prev == nil {
		return 0, 0
	}
	elapsed := cur.at.Sub(prev.at)
	if elapsed <= 0 {
		return 0, 0
	}

	var netMbit float64
	if cur.netByte >= prev.netByte {
		netMbit = float64(cur.netByte-prev.netByte) * 8 / 1e6 / elapsed.Seconds()
	}

	var diskPct float64
	for name, ms := range cur.diskMs {
		p, ok := prev.diskMs[name]
		if !ok || ms < p {
			continue
		}
		pct := float64(ms-p) / float64(elapsed.Milliseconds()) * 100
		if pct > diskPct {
			diskPct = pct
		}
	}
	if diskPct > 100 {
		diskPct = 100
	}
	return netMbit, diskPct
}

func virtualMemoryPercent(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		logtrace.Error(ctx, "failed to get memory info", logtrace.Fields{logtrace.FieldError: err.Error()})
		return 0, err
	}
	return vm.UsedPercent, nil
}

func readIOCounters(ctx context.Context) (*ioSample, error) {
	s := &ioSample{at: time.Now(), diskMs: make(map[string]uint64)}
	nc, err := net.IOCountersWithContext(ctx, false)
	if err != nil {
		return nil, err
	}
	if len(nc) > 0 {
		s.netByte = nc[0].BytesSent + nc[0].BytesRecv
	}
	dc, err := disk.IOCountersWithContext(ctx)
	if err != nil {
		return nil, err
	}
	for name, st := range dc {
		s.diskMs[name] = st.IoTime
	}
	return s, nil
}
