package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/trblnoew/realtime-chat-server/internal/api/middleware"
	"github.com/trblnoew/realtime-chat-server/internal/models"
	"github.com/trblnoew/realtime-chat-server/internal/store"
)

const defaultMessagePageSize = 50

// roomIDPattern bounds channel ids. Direct rooms use the reserved dm:
// prefix and are never created through this endpoint.
var roomIDPattern = regexp.MustCompile(`^[a-zA-Z0-9._\-]{1,64}$`)

// CreateRoomRequest represents the room creation request body.
type CreateRoomRequest struct {
	RoomID string `json:"roomId"`
}

// CreateRoom handles channel creation. The creator becomes the owner and
// first member.
func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserFromContext(r.Context())

	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	roomID := strings.TrimSpace(req.RoomID)
	if !roomIDPattern.MatchString(roomID) {
		h.Error(w, http.StatusBadRequest, "roomId must be 1-64 characters of [a-zA-Z0-9._-]")
		return
	}
	if models.IsDirectRoomID(roomID) {
		h.Error(w, http.StatusBadRequest, "dm: prefix is reserved")
		return
	}

	// CreateRoom inserts the owner membership in the same transaction.
	room, err := h.store.CreateRoom(r.Context(), roomID, userID)
	if err != nil {
		if errors.Is(err, store.ErrExists) {
			h.Error(w, http.StatusConflict, "room already exists")
			return
		}
		h.Error(w, http.StatusInternalServerError, "failed to create room")
		return
	}

	h.JSON(w, http.StatusCreated, room)
}

// ListRooms returns the caller's room memberships.
func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserFromContext(r.Context())

	rooms, err := h.store.RoomsForUser(r.Context(), userID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	h.JSON(w, http.StatusOK, map[string][]models.RoomSummary{"rooms": rooms})
}

// RoomMembers returns the member list of a room the caller belongs to.
func (h *Handler) RoomMembers(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserFromContext(r.Context())
	roomID := chi.URLParam(r, "id")

	if !h.requireMember(w, r, roomID, userID) {
		return
	}

	members, err := h.store.RoomMembers(r.Context(), roomID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	h.JSON(w, http.StatusOK, map[string][]string{"members": members})
}

// RoomMessages returns the most recent messages of a room, oldest first.
// The Redis cache answers when it holds enough history; the database is
// the fallback and the authority.
func (h *Handler) RoomMessages(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserFromContext(r.Context())
	roomID := chi.URLParam(r, "id")

	if !h.requireMember(w, r, roomID, userID) {
		return
	}

	limit := defaultMessagePageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 200 {
			h.Error(w, http.StatusBadRequest, "limit must be 1-200")
			return
		}
		limit = parsed
	}

	if h.redis != nil {
		cached, err := h.redis.CachedRecentMessages(r.Context(), roomID, limit)
		if err == nil && len(cached) >= limit {
			h.JSON(w, http.StatusOK, map[string][]models.Message{"messages": cached})
			return
		}
	}

	messages, err := h.store.RecentMessages(r.Context(), roomID, limit)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	h.JSON(w, http.StatusOK, map[string][]models.Message{"messages": messages})
}

// MarkRoomRead advances the caller's read watermark to the room's latest
// message.
func (h *Handler) MarkRoomRead(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserFromContext(r.Context())
	roomID := chi.URLParam(r, "id")

	if !h.requireMember(w, r, roomID, userID) {
		return
	}

	if err := h.store.MarkRoomRead(r.Context(), roomID, userID); err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	h.JSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// requireMember writes the error response and returns false when the
// caller does not belong to the room.
func (h *Handler) requireMember(w http.ResponseWriter, r *http.Request, roomID, userID string) bool {
	member, err := h.store.IsRoomMember(r.Context(), roomID, userID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return false
	}
	if !member {
		h.Error(w, http.StatusForbidden, "not a room member")
		return false
	}
	return true
}
