package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/trblnoew/realtime-chat-server/internal/api/middleware"
)

// AddFriendRequest represents the friend request body.
type AddFriendRequest struct {
	UserID string `json:"userId"`
}

// AddFriend records a symmetric friendship between the caller and
// another user.
func (h *Handler) AddFriend(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserFromContext(r.Context())

	var req AddFriendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	friendID := strings.TrimSpace(req.UserID)
	if !isValidUserID(friendID) {
		h.Error(w, http.StatusBadRequest, "invalid userId")
		return
	}
	if friendID == userID {
		h.Error(w, http.StatusBadRequest, "cannot befriend yourself")
		return
	}

	exists, err := h.store.UserExists(r.Context(), friendID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if !exists {
		h.Error(w, http.StatusNotFound, "user not found")
		return
	}

	if err := h.store.AddFriend(r.Context(), userID, friendID); err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	h.JSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// ListFriends returns the caller's friends.
func (h *Handler) ListFriends(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserFromContext(r.Context())

	friends, err := h.store.Friends(r.Context(), userID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	h.JSON(w, http.StatusOK, map[string][]string{"friends": friends})
}
