package prometheus

import (
	"errors"
	"net/http"

	"github.com/marmos91/dittodrive/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPMiddleware returns a middleware recording request counts, latency,
// in-flight requests and payload sizes for the API.
//
// When metrics are disabled the middleware passes requests through
// untouched.
func HTTPMiddleware() func(http.Handler) http.Handler {
	if !metrics.IsEnabled() {
		return func(next http.Handler) http.Handler { return next }
	}
	return newHTTPMiddleware(metrics.GetRegistry())
}

func newHTTPMiddleware(reg prometheus.Registerer) func(http.Handler) http.Handler {
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dittodrive_http_requests_total",
		Help: "A counter of total API requests",
	}, []string{"code", "method"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dittodrive_http_request_duration_seconds",
		Help:    "A histogram of API request duration",
		Buckets: []float64{.005, .025, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"code", "method"})
	inFlight := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dittodrive_http_requests_in_flight",
		Help: "A gauge of API requests currently in flight",
	})
	requestSize := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dittodrive_http_request_size_bytes",
		Help:    "A histogram of API request size",
		Buckets: prometheus.ExponentialBuckets(256, 4, 8),
	}, []string{})
	responseSize := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dittodrive_http_response_size_bytes",
		Help:    "A histogram of API response size",
		Buckets: prometheus.ExponentialBuckets(256, 4, 8),
	}, []string{})

	counter = register(reg, counter)
	duration = register(reg, duration)
	inFlight = register(reg, inFlight)
	requestSize = register(reg, requestSize)
	responseSize = register(reg, responseSize)

	return func(next http.Handler) http.Handler {
		return promhttp.InstrumentHandlerInFlight(inFlight,
			promhttp.InstrumentHandlerDuration(duration,
				promhttp.InstrumentHandlerCounter(counter,
					promhttp.InstrumentHandlerResponseSize(responseSize,
						promhttp.InstrumentHandlerRequestSize(requestSize, next),
					))))
	}
}

// Handler serves the global registry in the Prometheus text format, or 503
// when metrics are disabled.
func Handler() http.Handler {
	reg := metrics.GetRegistry()
	if reg == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "Metrics collection is disabled", http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// register adds c to reg, returning the collector registered earlier under
// the same descriptor when there is one.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}
