package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "visitrail_events_delivered_total",
		Help: "Event records delivered to the backend, by request type.",
	}, []string{"type"})

	eventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "visitrail_events_dropped_total",
		Help: "Event records dropped without delivery, by reason.",
	}, []string{"reason"})

	deliveryRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "visitrail_delivery_retries_total",
		Help: "Delivery attempts beyond the first, across all events.",
	})
)
