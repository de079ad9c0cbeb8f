package handlers

import (
	"encoding/json"
	"net/http"
	"regexp"

	"github.com/rs/zerolog"

	"github.com/trblnoew/realtime-chat-server/internal/notify"
	"github.com/trblnoew/realtime-chat-server/internal/store"
)

// userIDPattern bounds user ids to URL- and cookie-safe tokens.
var userIDPattern = regexp.MustCompile(`^[a-zA-Z0-9._\-]{1,64}$`)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	store    store.DataStore
	redis    *store.RedisStore
	notifier *notify.Notifier
	logger   zerolog.Logger
}

// NewHandler creates a new Handler. redis and notifier may be nil.
func NewHandler(dataStore store.DataStore, redis *store.RedisStore, notifier *notify.Notifier, logger zerolog.Logger) *Handler {
	return &Handler{
		store:    dataStore,
		redis:    redis,
		notifier: notifier,
		logger:   logger.With().Str("component", "handlers").Logger(),
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// isValidUserID validates a user id token.
func isValidUserID(userID string) bool {
	return userIDPattern.MatchString(userID)
}
