package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/fieldtrack/attendance/internal/domain"
	appmw "github.com/fieldtrack/attendance/internal/http/middleware"
	"github.com/fieldtrack/attendance/internal/http/response"
	"github.com/fieldtrack/attendance/internal/session"
)

type LoginService interface {
	Login(ctx context.Context, req session.LoginRequest, ip, userAgent string) (*session.LoginResponse, error)
}

type SessionService interface {
	Logout(ctx context.Context, sess *domain.UserSession) error
}

type AuthHandler struct {
	auth     LoginService
	sessions SessionService
}

func NewAuthHandler(auth LoginService, sessions SessionService) *AuthHandler {
	return &AuthHandler{auth: auth, sessions: sessions}
}

// Routes returns the public auth routes. Logout and Me are wired behind
// RequireSession by the caller.
func (h *AuthHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/login", h.Login)
	return r
}

func (h *AuthHandler) ProtectedRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/logout", h.Logout)
	r.Get("/me", h.Me)
	return r
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req session.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	resp, err := h.auth.Login(r.Context(), req, appmw.ClientIP(r), r.UserAgent())
	if err != nil {
		response.WriteDomainError(w, r, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, resp)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sess := appmw.CurrentSession(r)
	if sess == nil {
		response.Unauthorized(w, "no active session")
		return
	}

	if err := h.sessions.Logout(r.Context(), sess); err != nil {
		response.WriteDomainError(w, r, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user := appmw.CurrentUser(r)
	if user == nil {
		response.Unauthorized(w, "not authenticated")
		return
	}
	response.WriteJSON(w, http.StatusOK, user.ToUserInfo())
}
