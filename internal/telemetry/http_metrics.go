package internaltelemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// HTTPMetrics holds the metric instruments for a node's HTTP surface.
type HTTPMetrics struct {
	RequestsStartedCounter      metric.Int64Counter
	RequestsHandledCounter      metric.Int64Counter
	RequestLatencyHistogram     metric.Int64Histogram
	ActiveRequestsUpDownCounter metric.Int64UpDownCounter
}

// NewHTTPMetrics creates and registers the HTTP server metrics.
func NewHTTPMetrics(meter metric.Meter) (*HTTPMetrics, error) {
	started, err := meter.Int64Counter(
		"uds.http.server.started",
		metric.WithDescription("Total number of requests started."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	handled, err := meter.Int64Counter(
		"uds.http.server.handled",
		metric.WithDescription("Total number of requests completed."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	latency, err := meter.Int64Histogram(
		"uds.http.server.duration",
		metric.WithDescription("The latency of requests."),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	active, err := meter.Int64UpDownCounter(
		"uds.http.server.active_requests",
		metric.WithDescription("Number of requests in flight."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	return &HTTPMetrics{
		RequestsStartedCounter:      started,
		RequestsHandledCounter:      handled,
		RequestLatencyHistogram:     latency,
		ActiveRequestsUpDownCounter: active,
	}, nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware records the metrics for every request routed by a mux.Router.
func (m *HTTPMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tmpl, err := cur.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		attrs := metric.WithAttributes(
			attribute.String("http.route", route),
			attribute.String("http.method", r.Method),
		)
		ctx := r.Context()

		m.RequestsStartedCounter.Add(ctx, 1, attrs)
		m.ActiveRequestsUpDownCounter.Add(ctx, 1, attrs)
		defer m.ActiveRequestsUpDownCounter.Add(ctx, -1, attrs)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		m.RequestLatencyHistogram.Record(ctx, time.Since(start).Milliseconds(), attrs)
		m.RequestsHandledCounter.Add(ctx, 1, attrs,
			metric.WithAttributes(attribute.String("http.status_code", strconv.Itoa(rec.status))))
	})
}
