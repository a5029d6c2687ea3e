package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/trace"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// getTraceID extracts the trace ID from the OpenTelemetry span context
// Returns empty string if no active span exists
func getTraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return ""
	}
	return span.SpanContext().TraceID().String()
}

// InternalServerError returns a sanitized 500 error response to the client
// and logs the full error details server-side with the trace ID for
// debugging. The client only ever sees the safe userMessage plus a trace
// reference; the actual error stays in the logs.
func InternalServerError(c echo.Context, userMessage string, err error) error {
	traceID := getTraceID(c.Request().Context())

	if traceID != "" {
		c.Logger().Errorf("[%s] %s: %v", traceID, userMessage, err)
	} else {
		c.Logger().Errorf("%s: %v", userMessage, err)
	}

	response := ErrorResponse{
		Error: userMessage,
	}
	if traceID != "" {
		response.Details = fmt.Sprintf("Reference: %s", traceID)
	}

	return c.JSON(http.StatusInternalServerError, response)
}

// BadRequest returns a 400 error response with full details.
// Validation errors are safe to show because they're controlled messages.
func BadRequest(c echo.Context, message string, details string) error {
	return c.JSON(http.StatusBadRequest, ErrorResponse{
		Error:   message,
		Details: details,
	})
}
