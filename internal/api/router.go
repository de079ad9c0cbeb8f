package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/trblnoew/realtime-chat-server/internal/api/middleware"
	"github.com/trblnoew/realtime-chat-server/internal/gateway"
	"github.com/trblnoew/realtime-chat-server/internal/handlers"
	"github.com/trblnoew/realtime-chat-server/internal/store"
)

// NewRouter creates and configures the HTTP router. redisStore may be
// nil; rate limiting is then disabled.
func NewRouter(logger zerolog.Logger, dataStore store.DataStore, redisStore *store.RedisStore, gw *gateway.Gateway, h *handlers.Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(16 * 1024)) // REST bodies are small; files travel over the websocket
	r.Use(middleware.RequireJSON)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	if redisStore != nil {
		limiter := middleware.NewRateLimiter(redisStore.Client(), logger)
		r.Use(limiter.Middleware)
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	auth := middleware.NewAuthMiddleware(dataStore)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	// Realtime endpoint; the gateway does its own origin check.
	r.Get("/ws", gw.ServeHTTP)

	// Public routes (no auth required)
	r.Get("/health", h.Health)
	r.Post("/auth/signup", h.Signup)
	r.Post("/auth/login", h.Login)
	r.Post("/auth/logout", h.Logout)
	r.Get("/auth/users", h.ListUsers)

	// Authenticated routes (require the auth cookie)
	r.Route("/social", func(r chi.Router) {
		r.Use(auth.RequireAuth)

		r.Get("/friends", h.ListFriends)
		r.Post("/friends", h.AddFriend)

		r.Get("/rooms", h.ListRooms)
		r.Post("/rooms", h.CreateRoom)
		r.Get("/rooms/{id}/members", h.RoomMembers)
		r.Get("/rooms/{id}/messages", h.RoomMessages)
		r.Post("/rooms/{id}/read", h.MarkRoomRead)

		r.Get("/invites", h.ListInvites)
		r.Post("/invites", h.CreateInvite)
		r.Post("/invites/{id}/accept", h.AcceptInvite)
		r.Post("/invites/{id}/reject", h.RejectInvite)

		r.Get("/dm", h.ListDMs)
		r.Post("/dm", h.StartDM)
	})

	return r
}
