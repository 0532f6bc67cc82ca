package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/jjudge-oj/authserver/internal/auth"
)

const maxBodyBytes = 1 << 20

type contextKey string

const (
	contextAccessKey  contextKey = "access_claims"
	contextRefreshKey contextKey = "refresh_claims"
)

// ErrorResponse is the failure payload of every endpoint.
type ErrorResponse struct {
	Success bool             `json:"success"`
	Message string           `json:"message"`
	Errors  []auth.Violation `json:"errors,omitempty"`
}

func withClaims(ctx context.Context, key contextKey, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, key, claims)
}

func claimsFromContext(ctx context.Context, key contextKey) (*auth.Claims, error) {
	claims, ok := ctx.Value(key).(*auth.Claims)
	if !ok || claims == nil {
		return nil, auth.ErrTokenInvalid
	}
	return claims, nil
}

// decodeJSON reads a JSON object body. A malformed body is a validation
// failure on the body itself.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return auth.ValidationFailed([]auth.Violation{{Field: "body", Message: "must be a JSON object"}})
	}
	return nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, auth.ErrValidationFailed):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrAuthenticationFailed):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeFailure renders err by its outcome class. Causes of unexpected
// failures are logged and never sent to the client.
func writeFailure(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "request failed",
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
	}
	writeJSON(w, status, ErrorResponse{
		Message: auth.MessageOf(err),
		Errors:  auth.ViolationsOf(err),
	})
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Message: message})
}

// Healthz reports liveness.
func Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": "ok"})
}

// NotFound answers unknown routes.
func NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "page not found")
}
