package echoapi

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	metricsvc "github.com/trezcool/shule/services/metrics"
)

// metricsMiddleware records request counts and latencies per route pattern.
// ctx.Path() is used instead of the raw URL to keep label cardinality bounded.
func metricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			start := time.Now()
			err := next(ctx)
			if err != nil {
				ctx.Error(err)
			}

			req := ctx.Request()
			path := ctx.Path()
			status := strconv.Itoa(ctx.Response().Status)

			metricsvc.HTTPRequestsTotal.WithLabelValues(req.Method, path, status).Inc()
			metricsvc.HTTPRequestDuration.WithLabelValues(req.Method, path).Observe(time.Since(start).Seconds())
			return nil
		}
	}
}
