package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/MJE43/eden-env/internal/bridge"
	"github.com/MJE43/eden-env/internal/game"
	"github.com/MJE43/eden-env/internal/nested"
	"github.com/MJE43/eden-env/internal/store"
	"github.com/MJE43/eden-env/internal/version"
)

// errSessionNotFound is returned for an unknown env id.
var errSessionNotFound = errors.New("env not found")

// ErrorBuilder helps construct structured errors with context.
type ErrorBuilder struct {
	errType   string
	message   string
	context   map[string]any
	requestID string
}

// NewError creates a new error builder.
func NewError(errType, message string) *ErrorBuilder {
	return &ErrorBuilder{
		errType: errType,
		message: message,
		context: make(map[string]any),
	}
}

// WithContext adds context information to the error.
func (eb *ErrorBuilder) WithContext(key string, value any) *ErrorBuilder {
	eb.context[key] = value
	return eb
}

func (eb *ErrorBuilder) WithRequestID(requestID string) *ErrorBuilder {
	eb.requestID = requestID
	return eb
}

// Build creates the final APIError.
func (eb *ErrorBuilder) Build() APIError {
	return APIError{
		Type:      eb.errType,
		Message:   eb.message,
		Context:   eb.context,
		RequestID: eb.requestID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// classify maps a boundary error to an HTTP status and error type.
func classify(err error) (int, string) {
	var apiErr APIError
	switch {
	case errors.As(err, &apiErr):
		return statusFor(apiErr.Type), apiErr.Type
	case errors.Is(err, nested.ErrRagged):
		return http.StatusBadRequest, ErrTypeShapeMismatch
	case errors.Is(err, nested.ErrTypeMismatch):
		return http.StatusBadRequest, ErrTypeTypeMismatch
	case errors.Is(err, bridge.ErrUnknownOperation), errors.Is(err, bridge.ErrArity), errors.Is(err, game.ErrUnknownKind):
		return http.StatusBadRequest, ErrTypeInvalidParams
	case errors.Is(err, errSessionNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, ErrTypeNotFound
	case bridge.IsEngineError(err), errors.Is(err, errOpen):
		return http.StatusUnprocessableEntity, ErrTypeEngine
	}
	return http.StatusInternalServerError, ErrTypeInternal
}

func statusFor(errType string) int {
	switch errType {
	case ErrTypeTypeMismatch, ErrTypeShapeMismatch, ErrTypeInvalidParams:
		return http.StatusBadRequest
	case ErrTypeNotFound:
		return http.StatusNotFound
	case ErrTypeEngine:
		return http.StatusUnprocessableEntity
	case ErrTypeRateLimit:
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

// ErrorHandler writes errors as APIError bodies and logs them.
type ErrorHandler struct {
	logger *log.Logger
}

func NewErrorHandler(logger *log.Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// HandleError classifies err and writes the response.
func (eh *ErrorHandler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	status, errType := classify(err)

	var apiErr APIError
	if !errors.As(err, &apiErr) {
		msg := err.Error()
		if status == http.StatusInternalServerError {
			msg = "Internal server error"
		}
		apiErr = NewError(errType, msg).
			WithContext("path", r.URL.Path).
			WithContext("method", r.Method).
			Build()
		if status == http.StatusInternalServerError {
			apiErr.Context["cause"] = err.Error()
		}
	}
	if apiErr.RequestID == "" {
		apiErr.RequestID = middleware.GetReqID(r.Context())
	}

	eh.logError(r, apiErr, status)
	eh.writeErrorResponse(w, status, apiErr)
}

// HandleValidationError reports a malformed request field.
func (eh *ErrorHandler) HandleValidationError(w http.ResponseWriter, r *http.Request, field, message string) {
	apiErr := NewError(ErrTypeInvalidParams, fmt.Sprintf("Validation failed: %s", message)).
		WithRequestID(middleware.GetReqID(r.Context())).
		WithContext("field", field).
		WithContext("path", r.URL.Path).
		Build()

	eh.logError(r, apiErr, http.StatusBadRequest)
	eh.writeErrorResponse(w, http.StatusBadRequest, apiErr)
}

func (eh *ErrorHandler) logError(r *http.Request, apiErr APIError, status int) {
	level := "ERROR"
	if status < 500 {
		level = "WARN"
	}
	eh.logger.Printf(
		"error_occurred level=%s type=%s category=%s status=%d request_id=%s path=%s message=%q",
		level, apiErr.Type, GetErrorCategory(apiErr.Type), status, apiErr.RequestID, r.URL.Path, apiErr.Message,
	)
}

func (eh *ErrorHandler) writeErrorResponse(w http.ResponseWriter, status int, apiErr APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Engine-Version", version.Version)
	w.Header().Set("X-Error-Type", apiErr.Type)
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(apiErr); err != nil {
		eh.logger.Printf("error_write_failed request_id=%s err=%v", apiErr.RequestID, err)
	}
}

// RecoveryHandler turns panics into internal errors.
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
				apiErr := NewError(ErrTypeInternal, "Internal server error").
					WithRequestID(requestID).
					WithContext("path", r.URL.Path).
					WithContext("method", r.Method).
					Build()
				eh.writeErrorResponse(w, http.StatusInternalServerError, apiErr)
			}
		}()

		next.ServeHTTP(w, r)
	})
}
