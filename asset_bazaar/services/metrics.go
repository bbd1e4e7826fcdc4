package services

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	assetsUploaded = promauto.NewCounter(prometheus.CounterOpts{Name: "bms_assets_uploaded_total", Help: "Assets uploaded"})
	statusChanges  = promauto.NewCounterVec(prometheus.CounterOpts{Name: "bms_asset_status_changes_total", Help: "Asset status changes by new status"}, []string{"status"})

	requestsCreated  = promauto.NewCounterVec(prometheus.CounterOpts{Name: "bms_requests_created_total", Help: "Requests created by type"}, []string{"type"})
	requestsResolved = promauto.NewCounterVec(prometheus.CounterOpts{Name: "bms_requests_resolved_total", Help: "Requests resolved by type and outcome"}, []string{"type", "outcome"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bms_http_request_duration_seconds",
		Help:    "Latency of api requests by route and response code",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "code"})
)

// instrument records request latency by the matched chi route pattern so that
// ids in the path do not blow up label cardinality.
func instrument(next http.Handler) http.Handler {
	handler := func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		httpDuration.WithLabelValues(r.Method, route, strconv.Itoa(ww.Status())).Observe(time.Since(start).Seconds())
	}
	return http.HandlerFunc(handler)
}

func outcomeLabel(accepted bool) string {
	if accepted {
		return "accepted"
	}
	return "declined"
}
