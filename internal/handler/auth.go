package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/orderlyflow/internal/auth"
	"github.com/dukerupert/orderlyflow/internal/model"
	"github.com/dukerupert/orderlyflow/internal/store"
)

type AuthHandler struct {
	users  *store.UserStore
	tokens *auth.Tokens
	logger *slog.Logger
}

func NewAuthHandler(us *store.UserStore, tokens *auth.Tokens, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{users: us, tokens: tokens, logger: logger}
}

// Session is the response to a successful sign-up or sign-in.
type Session struct {
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	ExpiresIn   int         `json:"expires_in"`
	User        *model.User `json:"user"`
}

type credentials struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Name     string `json:"name" validate:"max=100"`
}

func (h *AuthHandler) session(w http.ResponseWriter, status int, u *model.User) {
	tok, err := h.tokens.Generate(u.ID, u.Email)
	if err != nil {
		h.logger.Error("generate token", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	writeJSON(w, status, Session{
		AccessToken: tok,
		TokenType:   "bearer",
		ExpiresIn:   int(h.tokens.TTL().Seconds()),
		User:        u,
	})
}

func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if !decodeJSON(w, r, &req) {
		return
	}

	u, err := h.users.Create(req.Email, strings.TrimSpace(req.Name), req.Password)
	if err != nil {
		writeStoreError(w, h.logger, err, "failed to create user")
		return
	}
	h.logger.Info("user signed up", "user_id", u.ID)
	h.session(w, http.StatusCreated, u)
}

func (h *AuthHandler) Token(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if !decodeJSON(w, r, &req) {
		return
	}

	u, err := h.users.Authenticate(req.Email, req.Password)
	if err != nil {
		writeStoreError(w, h.logger, err, "failed to sign in")
		return
	}
	h.session(w, http.StatusOK, u)
}

func (h *AuthHandler) User(w http.ResponseWriter, r *http.Request) {
	u, err := h.users.GetByID(auth.UserID(r.Context()))
	if err != nil {
		writeStoreError(w, h.logger, err, "failed to load user")
		return
	}
	if u == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *AuthHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name      *string `json:"name" validate:"omitempty,max=100"`
		AvatarURL *string `json:"avatar_url" validate:"omitempty,url"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	u, err := h.users.UpdateProfile(auth.UserID(r.Context()), req.Name, req.AvatarURL)
	if err != nil {
		writeStoreError(w, h.logger, err, "failed to update user")
		return
	}
	writeJSON(w, http.StatusOK, u)
}
