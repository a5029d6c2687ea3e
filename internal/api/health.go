package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// DBChecker is an interface for checking database connectivity
// This allows for mocking in tests
type DBChecker interface {
	PingContext(ctx context.Context) error
}

// HealthHandlers holds health check dependencies
type HealthHandlers struct {
	db DBChecker
}

// NewHealthHandlers creates a new HealthHandlers instance
func NewHealthHandlers(db DBChecker) *HealthHandlers {
	return &HealthHandlers{
		db: db,
	}
}

// HealthResponse represents the liveness probe response
type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse represents the readiness probe response
type ReadinessResponse struct {
	Status  string            `json:"status"`
	Service string            `json:"service"`
	Checks  map[string]string `json:"checks"`
}

// Health returns a basic liveness check
// GET /health
func (hh *HealthHandlers) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Service:   "fieldwork-api",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness returns a readiness check with DB connectivity
// GET /health/ready
func (hh *HealthHandlers) Readiness(c echo.Context) error {
	checks := make(map[string]string)
	status := "ready"

	// Check database connection
	if err := hh.db.PingContext(c.Request().Context()); err != nil {
		checks["database"] = "unhealthy: " + err.Error()
		status = "not_ready"
	} else {
		checks["database"] = "healthy"
	}

	httpStatus := http.StatusOK
	if status == "not_ready" {
		httpStatus = http.StatusServiceUnavailable
	}

	return c.JSON(httpStatus, ReadinessResponse{
		Status:  status,
		Service: "fieldwork-api",
		Checks:  checks,
	})
}
