package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	reservations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "parking",
			Name:      "reservations_total",
			Help:      "Reservation commands by operation and result kind.",
		},
		[]string{"op", "result"},
	)

	occupancyToggles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "parking",
			Name:      "occupancy_toggles_total",
			Help:      "Occupancy toggles by transition.",
		},
		[]string{"transition"},
	)

	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "parking",
			Name:      "notifications_total",
			Help:      "Outbound notifications by kind and result.",
		},
		[]string{"kind", "result"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "parking",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		},
		[]string{"route", "status"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(reservations, occupancyToggles, notifications, httpRequests)
	})
}

// IncReservation counts a reservation command outcome.
func IncReservation(op, result string) {
	reservations.WithLabelValues(op, result).Inc()
}

// IncOccupancy counts an occupancy transition ("occupied", "freed", "unchanged").
func IncOccupancy(transition string) {
	occupancyToggles.WithLabelValues(transition).Inc()
}

// IncNotification counts a notification attempt.
func IncNotification(kind string, ok bool) {
	result := "sent"
	if !ok {
		result = "failed"
	}
	notifications.WithLabelValues(kind, result).Inc()
}

// IncHTTP increments the counter for a route and status label.
func IncHTTP(route, status string) {
	httpRequests.WithLabelValues(route, status).Inc()
}
