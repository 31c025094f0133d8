package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// requestsTotal counts API requests.
	// Labels: method, route (the echo route pattern), code
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "veo",
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "Total API requests",
	}, []string{"method", "route", "code"})

	// requestDuration measures API request latency.
	// Labels: method, route
	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "veo",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "API request latency in seconds",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"method", "route"})

	// ordinalProcedures counts the ordinal procedures.
	// Labels: procedure (increment_ordinals, decrement_ordinals, insert_item_at,
	// delete_item_at), outcome (ok, error)
	ordinalProcedures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "veo",
		Subsystem: "api",
		Name:      "ordinal_procedures_total",
		Help:      "Total ordinal procedure calls",
	}, []string{"procedure", "outcome"})

	// authEvents counts sign-ups, sign-ins and sign-outs.
	// Labels: event (signup, signin, signout), outcome (ok, rejected, error)
	authEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "veo",
		Subsystem: "api",
		Name:      "auth_events_total",
		Help:      "Total authentication events",
	}, []string{"event", "outcome"})
)

// metricsMiddleware records requestsTotal and requestDuration.
func metricsMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)

		code := c.Response().Status
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
		} else if err != nil {
			code = http.StatusInternalServerError
		}

		route := c.Path()
		method := c.Request().Method
		requestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
		requestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
		return err
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
