// Package metrics holds the service's Prometheus collectors. They register
// with the default registry served by promhttp.Handler.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PostcardsGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "postcard",
		Name:      "generated_total",
		Help:      "Postcard generation attempts by size, flow and outcome.",
	}, []string{"size", "flow", "outcome"})

	RenderDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "postcard",
		Name:      "render_duration_seconds",
		Help:      "Time spent rendering one side of a postcard.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"side"})

	TruncatedMessages = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "postcard",
		Name:      "truncated_messages_total",
		Help:      "Backs whose message did not fit the message box.",
	})

	CouponValidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coupon",
		Name:      "validations_total",
		Help:      "Coupon validations by result.",
	}, []string{"result"})

	CouponRedemptions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coupon",
		Name:      "redemptions_total",
		Help:      "Coupon redemption attempts by result.",
	}, []string{"result"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route pattern, method and status.",
	}, []string{"route", "method", "status"})
)

// ObserveRender records how long one side took to render.
func ObserveRender(side string, start time.Time) {
	RenderDuration.WithLabelValues(side).Observe(time.Since(start).Seconds())
}

func ObserveHTTP(route, method string, status int) {
	HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
}
