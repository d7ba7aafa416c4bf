package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"amd-platform/internal/audit"
	"amd-platform/internal/calls"
	"amd-platform/internal/reporting"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Calls   CallPlacer
	Store   calls.Repository
	Reports *reporting.Service
	Audit   *audit.Service

	// Labels accepts operator ground-truth labels; nil when the configured
	// oracle is not operator-labelled.
	Labels *reporting.StaticLabels

	// Simulator is set only in demo mode.
	Simulator CallSimulator

	// StreamInterval and HeartbeatInterval drive /v1/stream/calls.
	StreamInterval    time.Duration
	HeartbeatInterval time.Duration
}

// CallPlacer is the orchestrator surface used by the API. *calls.Orchestrator implements it.
type CallPlacer interface {
	PlaceCall(ctx context.Context, phone string, strategy calls.Strategy) (calls.Call, error)
	Hangup(ctx context.Context, callID string) (calls.HangupResult, error)
}

// CallSimulator finishes a call with a synthetic detection.
type CallSimulator interface {
	SimulateCompletion(ctx context.Context, callID string) (calls.Outcome, error)
}

// writeError maps pipeline error kinds to HTTP status codes.
func writeError(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	msg := "internal error"
	switch {
	case errors.Is(err, calls.ErrTooManyInFlight):
		code, msg = http.StatusTooManyRequests, err.Error()
	case errors.Is(err, calls.ErrInvalidInput):
		code, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, calls.ErrNotFound):
		code, msg = http.StatusNotFound, "call not found"
	case errors.Is(err, calls.ErrProviderUnavailable):
		code, msg = http.StatusBadGateway, "provider unavailable"
	}
	if code >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(code, gin.H{"error": msg})
}
