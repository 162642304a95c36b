package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Tyrowin/dmchat/internal/auth"
)

const maxBodyBytes = 64 * 1024

// SetupRoutes wires every dmchat endpoint into a chi router.
func SetupRoutes(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(Metrics)
	r.Use(SecurityHeaders)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(RequestLogger(h.logger))
	r.Use(chimw.Recoverer)

	// Credentials are allowed so the browser sends the session cookie.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		h.Error(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		h.Error(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	requireAuth := auth.RequireAuth(h.tokens)

	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/auth", func(r chi.Router) {
		r.Use(MaxBodySize(maxBodyBytes))
		r.Post("/signup", h.Signup)
		r.Post("/login", h.Login)
		r.Post("/logout", h.Logout)

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Get("/check", h.CheckAuth)
			r.Put("/update-profile", h.UpdateProfile)
		})
	})

	r.Route("/messages", func(r chi.Router) {
		r.Use(requireAuth)
		r.Use(MaxBodySize(maxBodyBytes))
		r.Get("/users", h.ListUsers)
		r.Get("/{peerId}", h.GetMessages)
		r.With(SendRateLimit(h.limiter, h.logger)).Post("/send/{peerId}", h.SendMessage)
	})

	// GET only; other methods fall through to MethodNotAllowed above.
	r.With(requireAuth).Get("/ws", h.WebSocket)

	return r
}
