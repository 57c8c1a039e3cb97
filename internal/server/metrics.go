package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var beaconsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "visitrail_beacons_received_total",
	Help: "Beacons accepted by the ingest surface, by beacon type.",
}, []string{"type"})
