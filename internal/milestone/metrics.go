package milestone

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var milestonesFired = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "visitrail_milestones_fired_total",
	Help: "Milestone thresholds fired for the first time, by category.",
}, []string{"type"})
