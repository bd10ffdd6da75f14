/*
Package handler provides the HTTP handlers and routing setup for the relay server.

This file defines the main Router, applying middleware like logging, CORS, and
IP-based rate limiting before delegating requests to the presence API and the
WebSocket endpoint.
*/
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"chatrelay/internal/pkg/auth/jwt"
	"chatrelay/internal/pkg/limiter"
	"chatrelay/internal/pkg/logx"
	"chatrelay/internal/pkg/resp"
)

const (
	// HandshakeRate limits how often a single IP may attempt the WS handshake.
	HandshakeRate  = 0.2
	HandshakeBurst = 5

	// APIRate limits REST requests per IP. Generous: the relay's hot path is the
	// socket, the REST surface only serves presence reads and manual status writes.
	APIRate  = 50
	APIBurst = 100
)

// Router sets up the main HTTP routing table (chi.Router) for the application.
// It initializes the handshake rate limiter, configures CORS, and applies global
// middleware before mounting the presence API and the WebSocket endpoint.
func Router(deps *AppDeps) http.Handler {
	handshakeLimiter := limiter.NewIPRateLimiter(rate.Limit(HandshakeRate), HandshakeBurst)
	apiLimiter := limiter.NewIPRateLimiter(rate.Limit(APIRate), APIBurst)

	r := chi.NewRouter()

	allowedOrigins := make(map[string]struct{})
	for _, origin := range deps.Config.AllowedOrigins {
		allowedOrigins[origin] = struct{}{}
	}

	var wsUpgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if deps.Config.Environment == "development" {
				return true
			}

			origin := r.Header.Get("Origin")
			if _, ok := allowedOrigins[origin]; ok {
				return true
			}

			logx.Warn("WebSocket connection rejected: Origin not allowed.", "origin", origin)
			return false
		},
	}

	corsAllowedOrigins := []string{}
	if deps.Config.Environment == "development" {
		corsAllowedOrigins = []string{"*"}
	} else if len(deps.Config.AllowedOrigins) > 0 {
		corsAllowedOrigins = deps.Config.AllowedOrigins
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   corsAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{},
		AllowCredentials: true,
		MaxAge:           300,
	})
	r.Use(c.Handler)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logx.RequestLogger())
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		data := map[string]string{
			"status":  "ok",
			"service": "Chat Relay Server",
		}
		resp.RespondSuccess(w, r, data)
	})

	r.Route("/api", func(api chi.Router) {
		api.Use(apiLimiter.Middleware)
		api.Use(jwt.IdentityExtractorMiddleware(deps.Config.JWTSecret))

		api.Route("/presence", func(p chi.Router) {
			p.Get("/online", HandleOnlineUsers(deps))
			p.Get("/{userID}", HandleGetPresence(deps))
			p.Post("/status", HandleSetStatus(deps))
		})
	})

	r.Get("/ws", HandleWebSocket(wsUpgrader, handshakeLimiter, deps))

	return r
}
