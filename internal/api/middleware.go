package api

import (
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/openmeet-team/fieldwork/internal/telemetry"
)

// RequestIDMiddleware tags every request with an X-Request-ID, preserving one
// supplied by the caller so field-client logs and server logs correlate.
func RequestIDMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			rid := c.Request().Header.Get(echo.HeaderXRequestID)
			if rid == "" {
				rid = uuid.New().String()
			}
			c.Response().Header().Set(echo.HeaderXRequestID, rid)
			c.Set("request_id", rid)
			return next(c)
		}
	}
}

// MetricsMiddleware observes request duration per method/route/status.
func MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			// Label with the route pattern (/sessions/:id), never the raw
			// path, to keep metric cardinality bounded.
			route := c.Path()
			if route == "" {
				route = "unknown"
			}
			telemetry.HTTPRequestDuration.
				WithLabelValues(c.Request().Method, route, strconv.Itoa(c.Response().Status)).
				Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// BodyLimitConfig holds per-route-class request body caps.
type BodyLimitConfig struct {
	SessionAPI string
	AudioChunk string
	GeneralAPI string
}

func DefaultBodyLimitConfig() BodyLimitConfig {
	return BodyLimitConfig{
		SessionAPI: "64KB", // answers and navigation commands
		AudioChunk: "2MB",  // pushed audio chunks
		GeneralAPI: "1MB",
	}
}

func NewBodyLimitMiddleware(limit string) echo.MiddlewareFunc {
	return middleware.BodyLimit(limit)
}
