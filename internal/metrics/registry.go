package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"

	"github.com/point10890-crypto/closing-bet-sub002/internal/data/interfaces"
	"github.com/point10890-crypto/closing-bet-sub002/internal/gates"
	"github.com/point10890-crypto/closing-bet-sub002/internal/regime"
	"github.com/point10890-crypto/closing-bet-sub002/internal/risk"
)

const namespace = "closingbet"

// Registry holds the Prometheus collectors for gates, risk and selection
type Registry struct {
	reg *prometheus.Registry

	BarDuration prometheus.Histogram
	BarsTotal   prometheus.Counter

	MarketGateScore       prometheus.Gauge
	MarketGateStatus      prometheus.Gauge
	MarketGateComponents  *prometheus.GaugeVec
	MarketGateEvaluations *prometheus.CounterVec
	MarketGateChanges     *prometheus.CounterVec

	MacroGateScore       prometheus.Gauge
	MacroGateShouldTrade prometheus.Gauge
	MacroGateNoData      prometheus.Counter

	RiskEquity        prometheus.Gauge
	RiskDrawdown      prometheus.Gauge
	RiskHalted        prometheus.Gauge
	RiskOpenPositions prometheus.Gauge
	RiskDecisions     *prometheus.CounterVec

	Signals *prometheus.CounterVec

	CacheHits   prometheus.Gauge
	CacheMisses prometheus.Gauge
	CacheWrites prometheus.Gauge

	BreakerState *prometheus.GaugeVec
}

// NewRegistry creates the collectors on a private registry, plus Go runtime collectors
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		BarDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bar_duration_seconds",
			Help:      "Time spent processing one bar",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
		BarsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bars_processed_total",
			Help:      "Bars processed by the coordinator",
		}),

		MarketGateScore: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "market_gate_score",
			Help:      "Latest market gate score (0-100)",
		}),
		MarketGateStatus: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "market_gate_status",
			Help:      "Latest market gate status (0=RED, 1=YELLOW, 2=GREEN)",
		}),
		MarketGateComponents: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "market_gate_component_points",
			Help:      "Points awarded per market gate component",
		}, []string{"component"}),
		MarketGateEvaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "market_gate_evaluations_total",
			Help:      "Market gate evaluations by resulting status",
		}, []string{"status"}),
		MarketGateChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "market_gate_changes_total",
			Help:      "Market gate status transitions",
		}, []string{"from", "to"}),

		MacroGateScore: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "macro_gate_score",
			Help:      "Latest macro gate score (0-100)",
		}),
		MacroGateShouldTrade: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "macro_gate_should_trade",
			Help:      "1 when the macro gate permits trading",
		}),
		MacroGateNoData: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "macro_gate_no_data_total",
			Help:      "Macro gate evaluations that fell back to the neutral default",
		}),

		RiskEquity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "risk_equity",
			Help:      "Current session equity",
		}),
		RiskDrawdown: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "risk_drawdown_ratio",
			Help:      "Current drawdown from peak equity (0-1)",
		}),
		RiskHalted: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "risk_halted",
			Help:      "1 while the risk manager recommends standing aside",
		}),
		RiskOpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "risk_open_positions",
			Help:      "Open positions tracked by the risk manager",
		}),
		RiskDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "risk_decisions_total",
			Help:      "Position requests by outcome",
		}, []string{"outcome"}),

		Signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_total",
			Help:      "Candidates seen at each pipeline stage",
		}, []string{"stage"}),

		CacheHits: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_hits",
			Help:      "Reproducibility cache hits since start",
		}),
		CacheMisses: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_misses",
			Help:      "Reproducibility cache misses since start",
		}),
		CacheWrites: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_writes",
			Help:      "Reproducibility cache writes since start",
		}),

		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
	}

	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.BarDuration, r.BarsTotal,
		r.MarketGateScore, r.MarketGateStatus, r.MarketGateComponents, r.MarketGateEvaluations, r.MarketGateChanges,
		r.MacroGateScore, r.MacroGateShouldTrade, r.MacroGateNoData,
		r.RiskEquity, r.RiskDrawdown, r.RiskHalted, r.RiskOpenPositions, r.RiskDecisions,
		r.Signals,
		r.CacheHits, r.CacheMisses, r.CacheWrites,
		r.BreakerState,
	)
	return r
}

// Gatherer exposes the underlying registry
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// Handler serves the registry in the Prometheus exposition format
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// ObserveBar records one processed bar
func (r *Registry) ObserveBar(d time.Duration) {
	r.BarDuration.Observe(d.Seconds())
	r.BarsTotal.Inc()
}

// RecordMarketGate publishes a market gate evaluation
func (r *Registry) RecordMarketGate(res regime.Result, change *regime.GateChange) {
	r.MarketGateScore.Set(res.Score)
	r.MarketGateStatus.Set(float64(res.Status))
	for name, pts := range res.Components {
		r.MarketGateComponents.WithLabelValues(name).Set(pts)
	}
	r.MarketGateEvaluations.WithLabelValues(res.Status.String()).Inc()
	if change != nil {
		r.MarketGateChanges.WithLabelValues(change.From.String(), change.To.String()).Inc()
	}
}

// RecordMacroGate publishes a macro gate evaluation
func (r *Registry) RecordMacroGate(res gates.MacroGateResult) {
	r.MacroGateScore.Set(res.Score)
	r.MacroGateShouldTrade.Set(boolGauge(res.ShouldTrade))
	if res.NoData {
		r.MacroGateNoData.Inc()
	}
}

// RecordRisk publishes a risk status snapshot
func (r *Registry) RecordRisk(st risk.Status) {
	r.RiskEquity.Set(st.Equity)
	r.RiskDrawdown.Set(st.DrawdownPct)
	r.RiskHalted.Set(boolGauge(st.State == risk.Halted.String()))
	r.RiskOpenPositions.Set(float64(st.OpenPositions))
}

// RecordRiskDecision counts an allowed or blocked position request
func (r *Registry) RecordRiskDecision(d risk.Decision) {
	outcome := "blocked"
	if d.Allowed {
		outcome = "allowed"
	}
	r.RiskDecisions.WithLabelValues(outcome).Inc()
}

// RecordSignals adds n candidates to a pipeline stage
func (r *Registry) RecordSignals(stage string, n int) {
	if n > 0 {
		r.Signals.WithLabelValues(stage).Add(float64(n))
	}
}

// RecordCacheStats mirrors cache counters
func (r *Registry) RecordCacheStats(st interfaces.CacheStats) {
	r.CacheHits.Set(float64(st.Hits))
	r.CacheMisses.Set(float64(st.Misses))
	r.CacheWrites.Set(float64(st.Writes))
}

// RecordBreakerState mirrors a circuit breaker transition
func (r *Registry) RecordBreakerState(name string, state int) {
	r.BreakerState.WithLabelValues(name).Set(float64(state))
}

// Summary reads back the headline gauges for the status endpoint
func (r *Registry) Summary() map[string]float64 {
	out := map[string]float64{}
	read := func(key string, g prometheus.Gauge) {
		var m dto.Metric
		if err := g.Write(&m); err == nil {
			out[key] = m.GetGauge().GetValue()
		}
	}
	read("market_gate_score", r.MarketGateScore)
	read("macro_gate_score", r.MacroGateScore)
	read("risk_equity", r.RiskEquity)
	read("risk_drawdown_ratio", r.RiskDrawdown)
	read("risk_halted", r.RiskHalted)

	var bars dto.Metric
	if err := r.BarsTotal.Write(&bars); err == nil {
		out["bars_processed_total"] = bars.GetCounter().GetValue()
	}
	return out
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
