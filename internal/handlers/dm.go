package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/trblnoew/realtime-chat-server/internal/api/middleware"
	"github.com/trblnoew/realtime-chat-server/internal/models"
)

// StartDMRequest represents the direct-room start request body.
type StartDMRequest struct {
	PeerUserID string `json:"peerUserId"`
}

// StartDM resolves or creates the direct room between the caller and a
// peer. The room id is canonical for the pair, so repeated calls return
// the same room.
func (h *Handler) StartDM(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserFromContext(r.Context())

	var req StartDMRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	peerID := strings.TrimSpace(req.PeerUserID)
	if !isValidUserID(peerID) {
		h.Error(w, http.StatusBadRequest, "invalid peerUserId")
		return
	}
	if peerID == userID {
		h.Error(w, http.StatusBadRequest, "cannot start a direct room with yourself")
		return
	}

	exists, err := h.store.UserExists(r.Context(), peerID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if !exists {
		h.Error(w, http.StatusNotFound, "peer not found")
		return
	}

	roomID := models.DirectRoomID(userID, peerID)

	room, err := h.store.GetRoom(r.Context(), roomID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if room == nil {
		if room, err = h.store.CreateRoom(r.Context(), roomID, userID); err != nil {
			h.Error(w, http.StatusInternalServerError, "failed to create direct room")
			return
		}
		for _, member := range []string{userID, peerID} {
			if err := h.store.AddRoomMember(r.Context(), roomID, member, "member"); err != nil {
				h.Error(w, http.StatusInternalServerError, "failed to add member")
				return
			}
		}
	}

	h.JSON(w, http.StatusOK, room)
}

// ListDMs returns the caller's direct rooms with peer, preview, and
// unread count.
func (h *Handler) ListDMs(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserFromContext(r.Context())

	rooms, err := h.store.RoomsForUser(r.Context(), userID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	summaries := make([]models.DirectRoomSummary, 0)
	for _, room := range rooms {
		if !models.IsDirectRoomID(room.RoomID) {
			continue
		}

		summary := models.DirectRoomSummary{
			RoomID:     room.RoomID,
			PeerUserID: models.DirectRoomPeer(room.RoomID, userID),
		}

		if last, err := h.store.LastMessage(r.Context(), room.RoomID); err == nil && last != nil {
			at := last.SentAt
			summary.LastMessageAt = &at
			summary.LastMessagePreview = previewText(last)
		}
		if unread, err := h.store.UnreadCount(r.Context(), room.RoomID, userID); err == nil {
			summary.UnreadCount = unread
		}

		summaries = append(summaries, summary)
	}

	h.JSON(w, http.StatusOK, map[string][]models.DirectRoomSummary{"rooms": summaries})
}

// previewText shortens a message for list views, cutting on a rune
// boundary so multi-byte text stays valid.
func previewText(msg *models.Message) string {
	runes := []rune(msg.Text)
	if len(runes) > 80 {
		return string(runes[:80])
	}
	return msg.Text
}
