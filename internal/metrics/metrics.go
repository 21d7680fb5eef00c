// Package metrics holds the Prometheus instruments for the exchange and
// the notification pipeline, exposed at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BottlesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "momo_bottles_created_total",
		Help: "Bottles thrown into the pool.",
	})

	BottlesPicked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "momo_bottles_picked_total",
		Help: "Successful pick assignments.",
	})

	BottlesReclaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "momo_bottles_reclaimed_total",
		Help: "Expired picks returned to the pool by the sweep.",
	})

	NotificationsQueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "momo_notifications_queued_total",
		Help: "Notification jobs accepted by the sink.",
	})
)
