package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/singhmantoshkumar22/cjdquick-app-sub005/pkg/allocation"
)

var (
	decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "allocation_decisions_total",
		Help: "Total number of allocation decisions, labelled by terminal state and reason.",
	}, []string{"state", "reason"})

	rulesMatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "allocation_rules_matched_total",
		Help: "Total number of decisions resolved by a rule, labelled by rule ID.",
	}, []string{"rule_id"})

	decisionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "allocation_decision_duration_ms",
		Help:    "Allocation latency in milliseconds, resolver calls included.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	})

	rulesEvaluated = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "allocation_rules_evaluated",
		Help:    "Number of candidate rules evaluated per shipment.",
		Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100},
	})

	sinkErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "allocation_sink_errors_total",
		Help: "Total number of decisions a sink failed to record.",
	}, []string{"sink"})

	engineEnabled = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "allocation_engine_enabled",
		Help: "1 while the engine accepts allocations, 0 when stopped.",
	})
)

func observe(d *allocation.Decision) {
	decisionsTotal.WithLabelValues(string(d.State), string(d.Reason)).Inc()
	decisionDuration.Observe(float64(d.Duration.Microseconds()) / 1000)
	if d.State == allocation.STATE_RESOLVED && d.Reason == allocation.REASON_RULE_MATCH {
		rulesMatched.WithLabelValues(d.MatchedRuleID).Inc()
	}
}
