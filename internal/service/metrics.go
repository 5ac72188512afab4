package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics mirrors the service counters in Prometheus form.
type metrics struct {
	requests       prometheus.Counter
	errors         prometheus.Counter
	cacheHits      prometheus.Counter
	fallbacks      prometheus.Counter
	providerErrors *prometheus.CounterVec
	latency        *prometheus.HistogramVec
}

func newMetrics(reg prometheus.Registerer, cacheSize func() float64) *metrics {
	f := promauto.With(reg)
	m := &metrics{
		requests: f.NewCounter(prometheus.CounterOpts{
			Name: "edgecoach_ai_requests_total",
			Help: "Top-level generation calls, including cache hits",
		}),
		errors: f.NewCounter(prometheus.CounterOpts{
			Name: "edgecoach_ai_errors_total",
			Help: "Top-level generation calls that ultimately failed",
		}),
		cacheHits: f.NewCounter(prometheus.CounterOpts{
			Name: "edgecoach_ai_cache_hits_total",
			Help: "Generation calls served from the response cache",
		}),
		fallbacks: f.NewCounter(prometheus.CounterOpts{
			Name: "edgecoach_ai_fallbacks_total",
			Help: "Generation calls answered by the fallback provider",
		}),
		providerErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "edgecoach_ai_provider_errors_total",
			Help: "Individual provider attempts that failed, by provider and error code",
		}, []string{"provider", "code"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "edgecoach_ai_provider_request_duration_seconds",
			Help:    "Duration of non-streaming provider calls",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
	}
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "edgecoach_ai_cache_entries",
		Help: "Entries currently held by the response cache",
	}, cacheSize)
	return m
}
