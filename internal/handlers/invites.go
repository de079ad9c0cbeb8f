package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/trblnoew/realtime-chat-server/internal/api/middleware"
	"github.com/trblnoew/realtime-chat-server/internal/models"
)

// CreateInviteRequest represents the invite creation request body.
type CreateInviteRequest struct {
	RoomID   string `json:"roomId"`
	ToUserID string `json:"toUserId"`
}

// CreateInvite invites another user into a room the caller belongs to.
// Online recipients get an invite_alarm push on their live connections.
func (h *Handler) CreateInvite(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserFromContext(r.Context())

	var req CreateInviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	roomID := strings.TrimSpace(req.RoomID)
	toUserID := strings.TrimSpace(req.ToUserID)
	if roomID == "" || !isValidUserID(toUserID) {
		h.Error(w, http.StatusBadRequest, "roomId and toUserId are required")
		return
	}
	if toUserID == userID {
		h.Error(w, http.StatusBadRequest, "cannot invite yourself")
		return
	}
	if models.IsDirectRoomID(roomID) {
		h.Error(w, http.StatusBadRequest, "direct rooms take no invites")
		return
	}

	if !h.requireMember(w, r, roomID, userID) {
		return
	}

	exists, err := h.store.UserExists(r.Context(), toUserID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if !exists {
		h.Error(w, http.StatusNotFound, "user not found")
		return
	}

	already, err := h.store.IsRoomMember(r.Context(), roomID, toUserID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if already {
		h.Error(w, http.StatusConflict, "already a member")
		return
	}

	invite := &models.Invite{
		ID:         uuid.NewString(),
		RoomID:     roomID,
		FromUserID: userID,
		ToUserID:   toUserID,
		Status:     models.InviteStatusPending,
		CreatedAt:  time.Now().UTC(),
	}
	if err := h.store.CreateInvite(r.Context(), invite); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to create invite")
		return
	}

	if h.notifier != nil {
		h.notifier.DeliverToUser(toUserID, "invite_alarm", invite)
	}

	h.JSON(w, http.StatusCreated, invite)
}

// ListInvites returns the caller's pending invites.
func (h *Handler) ListInvites(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserFromContext(r.Context())

	invites, err := h.store.PendingInvitesFor(r.Context(), userID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	h.JSON(w, http.StatusOK, map[string][]models.Invite{"invites": invites})
}

// AcceptInvite accepts a pending invite and adds the membership.
func (h *Handler) AcceptInvite(w http.ResponseWriter, r *http.Request) {
	h.resolveInvite(w, r, models.InviteStatusAccepted)
}

// RejectInvite declines a pending invite.
func (h *Handler) RejectInvite(w http.ResponseWriter, r *http.Request) {
	h.resolveInvite(w, r, models.InviteStatusRejected)
}

func (h *Handler) resolveInvite(w http.ResponseWriter, r *http.Request, status string) {
	userID := middleware.GetUserFromContext(r.Context())
	inviteID := chi.URLParam(r, "id")

	invite, err := h.store.GetInvite(r.Context(), inviteID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if invite == nil {
		h.Error(w, http.StatusNotFound, "invite not found")
		return
	}
	if invite.ToUserID != userID {
		h.Error(w, http.StatusForbidden, "not your invite")
		return
	}
	if invite.Status != models.InviteStatusPending {
		h.Error(w, http.StatusConflict, "invite already resolved")
		return
	}

	if err := h.store.SetInviteStatus(r.Context(), inviteID, status); err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	if status == models.InviteStatusAccepted {
		if err := h.store.AddRoomMember(r.Context(), invite.RoomID, userID, "member"); err != nil {
			h.Error(w, http.StatusInternalServerError, "failed to add member")
			return
		}
	}

	invite.Status = status
	h.JSON(w, http.StatusOK, invite)
}
