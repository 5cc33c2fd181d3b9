package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/MJE43/race-pf-replay-go/internal/engine"
	"github.com/MJE43/race-pf-replay-go/internal/odds"
	"github.com/MJE43/race-pf-replay-go/internal/parity"
	"github.com/MJE43/race-pf-replay-go/internal/race"
	"github.com/MJE43/race-pf-replay-go/internal/scan"
	"github.com/MJE43/race-pf-replay-go/internal/store"
)

// ErrorBuilder helps construct structured errors with context
type ErrorBuilder struct {
	errType   string
	message   string
	context   map[string]interface{}
	requestID string
}

// NewError creates a new error builder
func NewError(errType, message string) *ErrorBuilder {
	return &ErrorBuilder{
		errType: errType,
		message: message,
		context: make(map[string]interface{}),
	}
}

// WithContext adds context information to the error
func (eb *ErrorBuilder) WithContext(key string, value interface{}) *ErrorBuilder {
	eb.context[key] = value
	return eb
}

// WithRequestID adds request ID to the error
func (eb *ErrorBuilder) WithRequestID(requestID string) *ErrorBuilder {
	eb.requestID = requestID
	return eb
}

// WithCause records the underlying error message
func (eb *ErrorBuilder) WithCause(err error) *ErrorBuilder {
	if err != nil {
		eb.context["cause"] = err.Error()
	}
	return eb
}

// Build creates the final EngineError
func (eb *ErrorBuilder) Build() EngineError {
	return EngineError{
		Type:      eb.errType,
		Message:   eb.message,
		Context:   eb.context,
		RequestID: eb.requestID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// classify maps a domain error onto an HTTP status and error type.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, engine.ErrInvalidSeed):
		return http.StatusBadRequest, ErrTypeInvalidSeed
	case errors.Is(err, engine.ErrInvalidBound):
		return http.StatusBadRequest, ErrTypeInvalidBound
	case errors.Is(err, race.ErrStrategyNotFound), errors.Is(err, scan.ErrStrategyNotFound):
		return http.StatusBadRequest, ErrTypeStrategyNotFound
	case errors.Is(err, race.ErrInvalidConfig),
		errors.Is(err, scan.ErrInvalidRange),
		errors.Is(err, scan.ErrInvalidTarget),
		errors.Is(err, scan.ErrUnsupportedPlace),
		errors.Is(err, parity.ErrInvalidRange),
		errors.Is(err, store.ErrIndexOutOfRange),
		errors.Is(err, odds.ErrInvalidBettingClose):
		return http.StatusBadRequest, ErrTypeInvalidConfig
	case errors.Is(err, odds.ErrEmptyBook), errors.Is(err, odds.ErrHouseEdgeOutOfRange):
		return http.StatusBadRequest, ErrTypeValidation
	case errors.Is(err, parity.ErrBoundUnsupported):
		return http.StatusBadRequest, ErrTypeParityUnsupported
	case errors.Is(err, race.ErrMaxTicksExceeded):
		return http.StatusUnprocessableEntity, ErrTypeMaxTicksExceeded
	case errors.Is(err, odds.ErrSeedMismatch):
		return http.StatusUnprocessableEntity, ErrTypeSeedMismatch
	case errors.Is(err, odds.ErrLineupNotFinalized),
		errors.Is(err, odds.ErrLineupFinalized),
		errors.Is(err, odds.ErrRaceSettled),
		errors.Is(err, odds.ErrOddsAlreadySet),
		errors.Is(err, odds.ErrOddsNotSet),
		errors.Is(err, odds.ErrBettingClosed),
		errors.Is(err, odds.ErrBettingOpen),
		errors.Is(err, odds.ErrLaneCountMismatch):
		return http.StatusConflict, ErrTypeBookState
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, ErrTypeNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout, ErrTypeTimeout
	default:
		return http.StatusInternalServerError, ErrTypeInternal
	}
}

// ErrorHandler provides centralized error handling with logging
type ErrorHandler struct {
	logger         *log.Logger
	securityLogger *SecurityLogger
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(logger *log.Logger, securityLogger *SecurityLogger) *ErrorHandler {
	return &ErrorHandler{
		logger:         logger,
		securityLogger: securityLogger,
	}
}

// HandleError classifies err and writes the matching structured response.
// Internal errors keep their cause out of the response body.
func (eh *ErrorHandler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := middleware.GetReqID(r.Context())

	status, errType := classify(err)
	message := err.Error()
	if errType == ErrTypeInternal {
		eh.logger.Printf("internal_error request_id=%s path=%s cause=%q", requestID, r.URL.Path, message)
		message = "Internal server error"
	}
	engineErr := NewError(errType, message).
		WithRequestID(requestID).
		WithContext("path", r.URL.Path).
		WithContext("method", r.Method).
		Build()

	eh.logError(r, engineErr, status)
	eh.writeErrorResponse(w, status, engineErr)
}

// HandleValidationError handles validation-specific errors
func (eh *ErrorHandler) HandleValidationError(w http.ResponseWriter, r *http.Request, field, message string) {
	requestID := middleware.GetReqID(r.Context())

	engineErr := NewError(ErrTypeValidation, fmt.Sprintf("Validation failed: %s", message)).
		WithRequestID(requestID).
		WithContext("field", field).
		WithContext("path", r.URL.Path).
		WithContext("method", r.Method).
		Build()

	eh.securityLogger.LogSecurityEvent(
		requestID,
		"validation_failure",
		message,
		map[string]interface{}{
			"field": field,
			"path":  r.URL.Path,
		},
		r.RemoteAddr,
	)

	eh.logError(r, engineErr, http.StatusBadRequest)
	eh.writeErrorResponse(w, http.StatusBadRequest, engineErr)
}

// HandleOddsRejected reports a well-formed odds table that failed the
// economic rules.
func (eh *ErrorHandler) HandleOddsRejected(w http.ResponseWriter, r *http.Request, res odds.Result) {
	b := NewError(ErrTypeOddsRejected, fmt.Sprintf("Odds rejected: %s", res.Reason)).
		WithRequestID(middleware.GetReqID(r.Context())).
		WithContext("reason", res.Reason).
		WithContext("inv_sum_bps", res.InvSumBps).
		WithContext("min_overround_bps", res.MinOverroundBps).
		WithContext("house_edge_bps", res.HouseEdgeBps)
	if res.Lane != nil {
		b.WithContext("lane", *res.Lane)
	}
	engineErr := b.Build()

	eh.logError(r, engineErr, http.StatusUnprocessableEntity)
	eh.writeErrorResponse(w, http.StatusUnprocessableEntity, engineErr)
}

// HandleTimeoutError handles timeout-specific errors
func (eh *ErrorHandler) HandleTimeoutError(w http.ResponseWriter, r *http.Request, operation string, timeoutMs int) {
	requestID := middleware.GetReqID(r.Context())

	engineErr := NewError(ErrTypeTimeout, fmt.Sprintf("Operation timed out: %s", operation)).
		WithRequestID(requestID).
		WithContext("operation", operation).
		WithContext("timeout_ms", timeoutMs).
		WithContext("path", r.URL.Path).
		Build()

	eh.logError(r, engineErr, http.StatusRequestTimeout)
	eh.writeErrorResponse(w, http.StatusRequestTimeout, engineErr)
}

// HandleAuthError rejects an admin request.
func (eh *ErrorHandler) HandleAuthError(w http.ResponseWriter, r *http.Request, errType, message string) {
	requestID := middleware.GetReqID(r.Context())
	status := http.StatusUnauthorized
	if errType == ErrTypeAdminDisabled {
		status = http.StatusForbidden
	}

	engineErr := NewError(errType, message).
		WithRequestID(requestID).
		WithContext("path", r.URL.Path).
		Build()

	eh.securityLogger.LogSecurityEvent(requestID, "admin_auth_failure", message,
		map[string]interface{}{"path": r.URL.Path}, r.RemoteAddr)
	eh.logError(r, engineErr, status)
	eh.writeErrorResponse(w, status, engineErr)
}

// logError logs the error with appropriate level and context
func (eh *ErrorHandler) logError(r *http.Request, engineErr EngineError, status int) {
	category := GetErrorCategory(engineErr.Type)

	logLevel := "ERROR"
	if status < 500 {
		logLevel = "WARN"
	}

	fields := make(map[string]interface{}, len(engineErr.Context))
	for key, value := range engineErr.Context {
		// seeds are never logged raw
		if key == "seed" || key == "base_seed" {
			continue
		}
		fields[key] = value
	}

	eh.logger.Printf(
		"error_occurred level=%s type=%s category=%s status=%d request_id=%s method=%s path=%s message=%q context=%+v",
		logLevel, engineErr.Type, category, status, engineErr.RequestID, r.Method, r.URL.Path, engineErr.Message, fields,
	)
}

// writeErrorResponse writes the error response as JSON
func (eh *ErrorHandler) writeErrorResponse(w http.ResponseWriter, status int, engineErr EngineError) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Engine-Version", EngineVersion)
	w.Header().Set("X-Error-Type", engineErr.Type)
	w.Header().Set("X-Error-Category", string(GetErrorCategory(engineErr.Type)))
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(engineErr); err != nil {
		eh.logger.Printf("error_encode_failed type=%s err=%v", engineErr.Type, err)
	}
}

// RecoveryHandler provides panic recovery with structured error logging
func (eh *ErrorHandler) RecoveryHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}
				requestID := middleware.GetReqID(r.Context())

				eh.logger.Printf(
					"panic_recovered request_id=%s path=%s method=%s panic=%v",
					requestID, r.URL.Path, r.Method, rvr,
				)

				engineErr := NewError(ErrTypeInternal, "Internal server error").
					WithRequestID(requestID).
					WithContext("path", r.URL.Path).
					WithContext("method", r.Method).
					Build()

				eh.writeErrorResponse(w, http.StatusInternalServerError, engineErr)
			}
		}()

		next.ServeHTTP(w, r)
	})
}
