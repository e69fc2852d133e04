package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// httpRequests counts handled requests.
	// Labels: method, path (route template), status
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "glucocalc",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests handled",
	}, []string{"method", "path", "status"})

	// httpDuration measures request latency.
	// Labels: method, path
	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "glucocalc",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})

	// doseRecommendations counts dose calculations.
	// Labels: warning (warning kind or "none")
	doseRecommendations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "glucocalc",
		Subsystem: "engine",
		Name:      "dose_recommendations_total",
		Help:      "Total dose recommendations computed",
	}, []string{"warning"})

	// boardComputes counts IOB/COB board calculations.
	boardComputes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "glucocalc",
		Subsystem: "engine",
		Name:      "board_computes_total",
		Help:      "Total IOB/COB board computations",
	})

	// comparisonsRecorded counts prediction accuracy comparisons.
	// Labels: winner (linear, lstm, tie)
	comparisonsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "glucocalc",
		Subsystem: "engine",
		Name:      "comparisons_total",
		Help:      "Total prediction accuracy comparisons recorded",
	}, []string{"winner"})

	// streamClients tracks connected websocket clients.
	streamClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "glucocalc",
		Subsystem: "stream",
		Name:      "clients",
		Help:      "Currently connected websocket clients",
	})

	// rateLimited counts requests rejected by the rate limiter.
	rateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "glucocalc",
		Subsystem: "http",
		Name:      "rate_limited_total",
		Help:      "Total requests rejected by the per-IP rate limiter",
	})
)
