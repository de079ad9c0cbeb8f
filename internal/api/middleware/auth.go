package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/trblnoew/realtime-chat-server/internal/store"
)

type contextKey string

const UserContextKey contextKey = "user"

// AuthCookieName carries the authenticated user id between requests.
const AuthCookieName = "rt_auth_user"

// AuthMiddleware resolves the auth cookie for authenticated endpoints.
type AuthMiddleware struct {
	store store.DataStore
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(dataStore store.DataStore) *AuthMiddleware {
	return &AuthMiddleware{store: dataStore}
}

// RequireAuth rejects requests without a valid auth cookie and puts the
// user id on the request context.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := UserFromCookie(r)
		if userID == "" {
			jsonError(w, http.StatusUnauthorized, "login required")
			return
		}

		exists, err := m.store.UserExists(r.Context(), userID)
		if err != nil {
			jsonError(w, http.StatusInternalServerError, "auth lookup failed")
			return
		}
		if !exists {
			jsonError(w, http.StatusUnauthorized, "unknown user")
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserFromCookie extracts the user id from the auth cookie, if any.
func UserFromCookie(r *http.Request) string {
	cookie, err := r.Cookie(AuthCookieName)
	if err != nil {
		return ""
	}
	// Some clients URL-escape cookie values.
	value, err := url.QueryUnescape(cookie.Value)
	if err != nil {
		value = cookie.Value
	}
	return strings.TrimSpace(value)
}

// GetUserFromContext retrieves the authenticated user id from the request context.
func GetUserFromContext(ctx context.Context) string {
	userID, ok := ctx.Value(UserContextKey).(string)
	if !ok {
		return ""
	}
	return userID
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
