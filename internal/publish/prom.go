package publish

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/defi-org-code/ton-validator-reporter/internal/alert"
	"github.com/defi-org-code/ton-validator-reporter/internal/metrics"
)

const namespace = "ton_validator"

type gaugeDef struct {
	name, help string
	value      func(m *metrics.Snapshot) float64
}

var gaugeDefs = []gaugeDef{
	{"efficiency", "Block production efficiency in percent.", func(m *metrics.Snapshot) float64 { return m.Efficiency }},
	{"min_prob", "Minimum of masterchain and workchain probability.", func(m *metrics.Snapshot) float64 { return m.MinProb }},
	{"out_of_sync_seconds", "Seconds behind the masterchain.", func(m *metrics.Snapshot) float64 { return float64(m.OutOfSync) }},
	{"available_balance_ton", "Free validator wallet balance.", func(m *metrics.Snapshot) float64 { return m.AvailableValidatorBalance }},
	{"nominator_balance_ton", "Free nominator balance.", func(m *metrics.Snapshot) float64 { return m.NominatorBalance }},
	{"elector_balance_ton", "Balance held by the elector.", func(m *metrics.Snapshot) float64 { return m.ValidatorBalanceAtElector }},
	{"total_balance_ton", "Sum of all validator balances.", func(m *metrics.Snapshot) float64 { return m.TotalBalance }},
	{"roi_percent", "Return since the initial balance.", func(m *metrics.Snapshot) float64 { return m.ROI }},
	{"apy_percent", "Annualized return.", func(m *metrics.Snapshot) float64 { return m.APY }},
	{"network_stake_ton", "Total stake of the current validator set.", func(m *metrics.Snapshot) float64 { return m.TotalNetworkStake }},
	{"network_validators", "Number of validators in the current set.", func(m *metrics.Snapshot) float64 { return float64(m.NumValidators) }},
	{"elections_ends_in_minutes", "Minutes until the open election closes, -1 when none.", func(m *metrics.Snapshot) float64 { return float64(m.ElectionsEndsIn) }},
	{"validation_ends_in_seconds", "Seconds until the current validation ends.", func(m *metrics.Snapshot) float64 { return float64(m.ValidationEndsIn) }},
	{"mem_load_percent", "Memory usage.", func(m *metrics.Snapshot) float64 { return m.MemLoadPct }},
	{"disk_load_percent", "Five minute disk load average of the busiest disk.", func(m *metrics.Snapshot) float64 { return m.DiskLoadPctAvg }},
	{"net_load_mbps", "Five minute network load average.", func(m *metrics.Snapshot) float64 { return m.NetLoadAvg }},
	{"update_time_seconds", "Unix time of the last published iteration.", func(m *metrics.Snapshot) float64 { return float64(m.UpdateTime) }},
}

// Gauges mirrors the published documents into a Prometheus registry.
type Gauges struct {
	registry   *prometheus.Registry
	gauges     []prometheus.Gauge
	flags      *prometheus.GaugeVec
	iterations *prometheus.CounterVec
}

// NewGauges registers every collector in a fresh registry.
func NewGauges() *Gauges {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	g := &Gauges{registry: reg}
	for _, d := range gaugeDefs {
		gauge := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: d.name, Help: d.help})
		reg.MustRegister(gauge)
		g.gauges = append(g.gauges, gauge)
	}
	g.flags = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "flag",
		Help:      "1 when the reason is currently raised.",
	}, []string{"kind", "reason"})
	g.iterations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "iterations_total",
		Help:      "Poll iterations by outcome.",
	}, []string{"result"})
	reg.MustRegister(g.flags, g.iterations)
	return g
}

// Observe sets every gauge from one iteration.
func (g *Gauges) Observe(m *metrics.Snapshot, f alert.Flags) {
	if g == nil {
		return
	}
	for i, d := range gaugeDefs {
		g.gauges[i].Set(d.value(m))
	}
	for kind, reasons := range map[string]map[string]bool{
		"exit":     f.ExitFlags(),
		"recovery": f.RecoveryFlags(),
		"warning":  f.WarningFlags(),
	} {
		for reason, set := range reasons {
			v := 0.0
			if set {
				v = 1
			}
			g.flags.WithLabelValues(kind, reason).Set(v)
		}
	}
}

// Iteration counts one finished iteration.
func (g *Gauges) Iteration(ok bool) {
	if g == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	g.iterations.WithLabelValues(result).Inc()
}

// Registry exposes the underlying registry.
func (g *Gauges) Registry() *prometheus.Registry { return g.registry }

// Handler serves the registry in the Prometheus text format.
func (g *Gauges) Handler() http.Handler {
	return promhttp.HandlerFor(g.registry, promhttp.HandlerOpts{})
}
