package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/trblnoew/realtime-chat-server/internal/api/middleware"
	"github.com/trblnoew/realtime-chat-server/internal/chat"
	"github.com/trblnoew/realtime-chat-server/internal/store"
)

// authCookieTTL keeps the login alive across browser restarts.
const authCookieTTL = 30 * 24 * time.Hour

// AuthRequest represents the signup and login request body.
type AuthRequest struct {
	UserID string `json:"userId"`
}

// AuthResponse represents the signup and login response.
type AuthResponse struct {
	UserID string `json:"userId"`
}

// Signup handles user creation. Registration is idempotent: signing up an
// existing id behaves like login.
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var req AuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	userID := strings.TrimSpace(req.UserID)
	if !isValidUserID(userID) {
		h.Error(w, http.StatusBadRequest, "userId must be 1-64 characters of [a-zA-Z0-9._-]")
		return
	}

	status := http.StatusCreated
	if err := h.store.CreateUser(r.Context(), userID); err != nil {
		if !errors.Is(err, store.ErrExists) {
			h.Error(w, http.StatusInternalServerError, "failed to create user")
			return
		}
		status = http.StatusOK
	} else {
		// New users land in the default room immediately.
		if err := h.store.AddRoomMember(r.Context(), chat.DefaultRoomID, userID, "member"); err != nil {
			h.logger.Warn().Err(err).Str("user_id", userID).Msg("default room join failed")
		}
	}

	h.setAuthCookie(w, userID)
	h.JSON(w, status, AuthResponse{UserID: userID})
}

// Login binds the auth cookie to an existing user.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req AuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	userID := strings.TrimSpace(req.UserID)
	if !isValidUserID(userID) {
		h.Error(w, http.StatusBadRequest, "invalid userId")
		return
	}

	exists, err := h.store.UserExists(r.Context(), userID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if !exists {
		h.Error(w, http.StatusUnauthorized, "unknown user")
		return
	}

	h.setAuthCookie(w, userID)
	h.JSON(w, http.StatusOK, AuthResponse{UserID: userID})
}

// Logout clears the auth cookie.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.AuthCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	h.JSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// ListUsers returns every registered user id.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	h.JSON(w, http.StatusOK, map[string][]string{"users": users})
}

func (h *Handler) setAuthCookie(w http.ResponseWriter, userID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.AuthCookieName,
		Value:    userID,
		Path:     "/",
		MaxAge:   int(authCookieTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
