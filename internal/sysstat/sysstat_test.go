package sysstat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defi-org-code/ton-validator-reporter/internal/node"
)

type fakeRunner struct {
	calls map[string]int
	out   map[string]string
	err   map[string]error
}

func (f *fakeRunner) run(_ context.Context, dir, name string, args ...string) (string, error) {
	key := strings.TrimSpace(dir + " " + name + " " + strings.Join(args, " "))
	f.calls[key]++
	return f.out[key], f.err[key]
}

func newTestCollector(t *testing.T, f *fakeRunner) *Collector {
	t.Helper()
	c, err := NewCollector(Config{ServiceUnit: "validator", TonSrc: "/usr/src/ton"}, WithRunner(f.run))
	require.NoError(t, err)
	t.Cleanup(c.Close)
	c.memPercent = func(context.Context) (float64, error) { return 42.5, nil }
	return c
}

func TestCollectUsesMytoncoreStatistics(t *testing.T) {
	f := &fakeRunner{calls: map[string]int{}, out: map[string]string{
		"systemctl is-active validator":                "active",
		"/usr/src/ton git rev-parse HEAD":              "abc123",
		"/usr/src/ton git rev-parse --abbrev-ref HEAD": "master",
	}}
	c := newTestCollector(t, f)
	c.ioCounters = func(context.Context) (*ioSample, error) {
		t.Fatal("io counters must not be read when statistics are present")
		return nil, nil
	}
	stats := &node.Statistics{
		NetLoadAvg:          []float64{1, 2, 3},
		DisksLoadPercentAvg: map[string][]float64{"sda": {1, 70, 1}},
	}

	r, err := c.Collect(context.Background(), stats)
	require.NoError(t, err)
	assert.True(t, r.ServiceActive)
	assert.Equal(t, "abc123-master", r.TonVersion)
	assert.Empty(t, r.MytonctrlVersion)
	assert.Equal(t, 2.0, r.NetLoadAvg)
	assert.Equal(t, 70.0, r.DiskLoadPctAvg)
	assert.Equal(t, 42.5, r.MemLoadPct)
	assert.NotZero(t, r.PID)

	_, err = c.Collect(context.Background(), stats)
	require.NoError(t, err)
	assert.Equal(t, 1, f.calls["/usr/src/ton git rev-parse HEAD"], "version is cached")
}

func TestCollectFallsBackToCounters(t *testing.T) {
	f := &fakeRunner{calls: map[string]int{}, out: map[string]string{"systemctl is-active validator": "inactive"},
		err: map[string]error{"systemctl is-active validator": errors.New("exit status 3")}}
	c := newTestCollector(t, f)

	base := time.Unix(1700000000, 0)
	samples := []*ioSample{
		{at: base, netByte: 0, diskMs: map[string]uint64{"sda": 0, "sdb": 0}},
		{at: base.Add(10 * time.Second), netByte: 500_000_000, diskMs: map[string]uint64{"sda": 2000, "sdb": 9000}},
	}
	c.ioCounters = func(context.Context) (*ioSample, error) {
		s := samples[0]
		samples = samples[1:]
		return s, nil
	}

	r, err := c.Collect(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, r.ServiceActive)
	assert.Zero(t, r.NetLoadAvg, "first sample only primes")

	r, err = c.Collect(context.Background(), nil)
	require.NoError(t, err)
	assert.InDelta(t, 400.0, r.NetLoadAvg, 1e-9)
	assert.InDelta(t, 90.0, r.DiskLoadPctAvg, 1e-9)
}

func TestCollectMemoryFailure(t *testing.T) {
	c := newTestCollector(t, &fakeRunner{calls: map[string]int{}})
	c.memPercent = func(context.Context) (float64, error) { return 0, errors.New("no /proc") }
	_, err := c.Collect(context.Background(), &node.Statistics{NetLoadAvg: []float64{0, 0}, DisksLoadPercentAvg: map[string][]float64{"sda": {0, 0}}})
	assert.Error(t, err)
}
