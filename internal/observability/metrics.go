// README: Prometheus collectors for dispatch, scheduler, realtime and HTTP traffic.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "haul"

var (
	BookingsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "bookings_created_total", Help: "Bookings created, by vehicle class and initial status"},
		[]string{"vehicle_class", "status"},
	)
	BookingTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "booking_transitions_total", Help: "Booking status transitions applied"},
		[]string{"from", "to"},
	)
	AcceptConflicts = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "accept_conflicts_total", Help: "Accept attempts that lost the race for a booking"})
	MatchAttempts   = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "match_attempts_total", Help: "Driver match attempts by outcome"},
		[]string{"outcome"},
	)
	ScheduledPromotions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "scheduled_promotions_total", Help: "Scheduled booking promotions by outcome"},
		[]string{"outcome"},
	)
	RealtimeDropped = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "realtime_messages_dropped_total", Help: "Realtime messages dropped because a subscriber was slow"})
	RealtimeClients = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "realtime_clients", Help: "Connected realtime sockets"})
	EventsDropped   = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "domain_events_dropped_total", Help: "Domain events dropped because the relay queue was full"})
	JournalFailures = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "journal_write_failures_total", Help: "Booking events that could not be written to the journal"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "route", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)
