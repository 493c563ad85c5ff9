package publisher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "allocation_snapshot_reloads_total",
		Help: "Total number of rule snapshot reloads, labelled by result.",
	}, []string{"result"})

	snapshotVersion = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "allocation_snapshot_version",
		Help: "Version of the rule snapshot currently published.",
	})

	snapshotRules = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "allocation_snapshot_rules",
		Help: "Number of rules in the published snapshot.",
	})
)
