package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CasesCreated       = promauto.NewCounter(prometheus.CounterOpts{Namespace: "sos_dispatch", Name: "cases_created_total", Help: "Total SOS cases created"})
	CasesActive        = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "sos_dispatch", Name: "cases_active", Help: "Cases currently in a non-terminal state"})
	MatchesTotal       = promauto.NewCounter(prometheus.CounterOpts{Namespace: "sos_dispatch", Name: "matches_total", Help: "Total successful responder matches"})
	MatchRetries       = promauto.NewCounter(prometheus.CounterOpts{Namespace: "sos_dispatch", Name: "match_retries_total", Help: "Match attempts that found no responder"})
	CasesUnassignable  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "sos_dispatch", Name: "cases_unassignable_total", Help: "Cases ended UNASSIGNABLE after the retry budget"})
	AssignmentTimeouts = promauto.NewCounter(prometheus.CounterOpts{Namespace: "sos_dispatch", Name: "assignment_timeouts_total", Help: "Assignments expired by the acceptance window"})
	CasesCancelled     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "sos_dispatch", Name: "cases_cancelled_total", Help: "Cases cancelled by the requester"})
	RespondersOnline   = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "sos_dispatch", Name: "responders_online", Help: "Responders with a recent heartbeat"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "sos_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sos_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
