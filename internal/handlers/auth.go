package handlers

import (
	"log/slog"
	"net/http"
	"regexp"
	"slices"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/jjudge-oj/authserver/internal/auth"
	"github.com/jjudge-oj/authserver/types"
)

const (
	msgTokenInvalid        = "token not valid"
	msgRefreshTokenInvalid = "refresh token not valid"
	msgRoleDenied          = "you can't access this page"
)

// jwtShape matches three dot-separated base64url segments. The signature
// segment may be empty so unsigned tokens reach the codec and get rejected
// there.
var jwtShape = regexp.MustCompile(`^[A-Za-z0-9_-]+={0,2}\.[A-Za-z0-9_-]+={0,2}\.[A-Za-z0-9_-]*={0,2}$`)

// TokenVerifier is the part of the token codec the middleware needs.
type TokenVerifier interface {
	VerifyAccess(token string) (*auth.Claims, error)
	VerifyRefresh(token string) (*auth.Claims, error)
}

// RequireAccess verifies the access token in the Authorization header and,
// when roles is non-empty, requires the token's role to be one of them.
// Verified claims are stored in the request context.
func RequireAccess(verifier TokenVerifier, logger *slog.Logger, roles ...types.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := headerToken(r)
			if err := checkTokenShape("authorization", token); err != nil {
				writeFailure(w, r, logger, err)
				return
			}

			claims, err := verifier.VerifyAccess(token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, msgTokenInvalid)
				return
			}

			// Denied roles get 401 rather than 403.
			if len(roles) > 0 && !slices.Contains(roles, claims.Role) {
				writeError(w, http.StatusUnauthorized, msgRoleDenied)
				return
			}

			next.ServeHTTP(w, r.WithContext(withClaims(r.Context(), contextAccessKey, claims)))
		})
	}
}

// RefreshRequest is the body of the token renewal endpoint.
type RefreshRequest struct {
	Refresh string `json:"refresh"`
}

// RequireRefresh verifies the refresh token in the request body. It never
// checks roles.
func RequireRefresh(verifier TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req RefreshRequest
			if err := decodeJSON(w, r, &req); err != nil {
				writeFailure(w, r, logger, err)
				return
			}

			token := strings.TrimSpace(req.Refresh)
			if err := checkTokenShape("refresh", token); err != nil {
				writeFailure(w, r, logger, err)
				return
			}

			claims, err := verifier.VerifyRefresh(token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, msgRefreshTokenInvalid)
				return
			}

			next.ServeHTTP(w, r.WithContext(withClaims(r.Context(), contextRefreshKey, claims)))
		})
	}
}

// headerToken accepts a raw token or one prefixed with "Bearer ".
func headerToken(r *http.Request) string {
	value := strings.TrimSpace(r.Header.Get("Authorization"))
	if scheme, rest, ok := strings.Cut(value, " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(rest)
	}
	return value
}

func checkTokenShape(field, token string) error {
	err := validation.Validate(token,
		validation.Required,
		validation.Match(jwtShape).Error("must be a valid JWT"),
	)
	if err != nil {
		return auth.ValidationFailed([]auth.Violation{{Field: field, Message: err.Error()}})
	}
	return nil
}
