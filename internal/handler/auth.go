package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rentafacil/rentchat/internal/logger"
	"github.com/rentafacil/rentchat/internal/middleware"
	"github.com/rentafacil/rentchat/internal/repository"
)

// AuthHandler выдаёт токены dev-бэкенда. Пароля нет: достаточно существующего user_id.
type AuthHandler struct {
	userRepo *repository.UserRepository
	secret   string
	ttl      time.Duration
}

func NewAuthHandler(userRepo *repository.UserRepository, secret string, ttl time.Duration) *AuthHandler {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &AuthHandler{userRepo: userRepo, secret: secret, ttl: ttl}
}

type DevLoginRequest struct {
	UserID string `json:"user_id"`
}

type DevLoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	UserID      string `json:"user_id"`
	ExpiresIn   int    `json:"expires_in"`
}

// DevLogin — POST /auth/dev-login.
func (h *AuthHandler) DevLogin(w http.ResponseWriter, r *http.Request) {
	var req DevLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id required")
		return
	}
	u, err := h.userRepo.GetByID(r.Context(), req.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get user")
		return
	}
	tok, err := middleware.IssueToken(h.secret, u.ID, u.Name, h.ttl)
	if err != nil {
		logger.Errorf("dev-login issue token user=%s: %v", u.ID, err)
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	writeJSON(w, http.StatusOK, DevLoginResponse{
		AccessToken: tok,
		TokenType:   "bearer",
		UserID:      u.ID,
		ExpiresIn:   int(h.ttl.Seconds()),
	})
}
