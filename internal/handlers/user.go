package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/jjudge-oj/authserver/internal/services"
	"github.com/jjudge-oj/authserver/internal/validate"
	"github.com/jjudge-oj/authserver/types"
)

const defaultPage = 1

// UserHandler serves the credential, profile and admin endpoints.
type UserHandler struct {
	users  *services.UserService
	logger *slog.Logger
}

func NewUserHandler(users *services.UserService, logger *slog.Logger) *UserHandler {
	return &UserHandler{users: users, logger: logger}
}

// UserRouter registers the auth, profile and admin routes on r.
func UserRouter(r chi.Router, users *services.UserService, verifier TokenVerifier, logger *slog.Logger) {
	handler := NewUserHandler(users, logger)

	r.Post("/login", handler.Login)
	r.Post("/register", handler.Register)
	r.With(RequireRefresh(verifier, logger)).Post("/refresh-token", handler.RefreshToken)

	r.Route("/user", func(r chi.Router) {
		r.Use(RequireAccess(verifier, logger))
		r.Get("/", handler.Profile)
		r.Put("/", handler.UpdateProfile)
		r.Delete("/", handler.DeleteAccount)
	})

	r.Route("/admin/user", func(r chi.Router) {
		r.Use(RequireAccess(verifier, logger, types.RoleAdmin))
		r.Get("/", handler.AdminList)
		r.Get("/{username}", handler.AdminDetail)
	})
}

// UserPayload is the user object embedded in token responses.
type UserPayload struct {
	Username string     `json:"username"`
	Role     types.Role `json:"role"`
	Name     string     `json:"name"`
}

// AuthResponse is returned by login, register, refresh and profile update.
type AuthResponse struct {
	Success      bool        `json:"success"`
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	User         UserPayload `json:"user"`
}

type ProfileResponse struct {
	Success bool             `json:"success"`
	User    types.PublicUser `json:"user"`
}

type DeleteResponse struct {
	Success bool `json:"success"`
	Result  int  `json:"result"`
}

type UserListResponse struct {
	Success bool                `json:"success"`
	Data    []types.UserSummary `json:"data"`
}

func (h *UserHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req validate.LoginInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}

	result, err := h.users.Login(r.Context(), req)
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, authResponse(result))
}

func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req validate.RegisterInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}

	result, err := h.users.Register(r.Context(), req)
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, authResponse(result))
}

func (h *UserHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	claims, err := claimsFromContext(r.Context(), contextRefreshKey)
	if err != nil {
		writeError(w, http.StatusUnauthorized, msgRefreshTokenInvalid)
		return
	}

	result, err := h.users.Refresh(r.Context(), claims)
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, authResponse(result))
}

func (h *UserHandler) Profile(w http.ResponseWriter, r *http.Request) {
	claims, err := claimsFromContext(r.Context(), contextAccessKey)
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}

	user, err := h.users.Profile(r.Context(), claims)
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ProfileResponse{Success: true, User: user})
}

func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	claims, err := claimsFromContext(r.Context(), contextAccessKey)
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}

	var req validate.UpdateInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}

	result, err := h.users.UpdateProfile(r.Context(), claims, req)
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, authResponse(result))
}

func (h *UserHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	claims, err := claimsFromContext(r.Context(), contextAccessKey)
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}

	var req validate.DeleteInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}

	removed, err := h.users.DeleteAccount(r.Context(), claims, req)
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, DeleteResponse{Success: true, Result: removed})
}

func (h *UserHandler) AdminList(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.AdminList(r.Context(), parsePage(r))
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, UserListResponse{Success: true, Data: users})
}

func (h *UserHandler) AdminDetail(w http.ResponseWriter, r *http.Request) {
	username := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "username")))

	user, err := h.users.AdminDetail(r.Context(), username)
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ProfileResponse{Success: true, User: user})
}

func authResponse(result services.AuthResult) AuthResponse {
	return AuthResponse{
		Success:      true,
		AccessToken:  result.Tokens.AccessToken,
		RefreshToken: result.Tokens.RefreshToken,
		User: UserPayload{
			Username: result.User.Username,
			Role:     result.User.Role,
			Name:     result.User.Name,
		},
	}
}

// parsePage reads ?page=N. Missing, malformed and non-positive values mean
// the first page.
func parsePage(r *http.Request) int {
	raw := strings.TrimSpace(r.URL.Query().Get("page"))
	if raw == "" {
		return defaultPage
	}
	page, err := strconv.Atoi(raw)
	if err != nil || page < 1 {
		return defaultPage
	}
	return page
}
