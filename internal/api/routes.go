package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/epay-batch/internal/auth"
)

// SetupRoutes configures all API routes.
func SetupRoutes(h *Handlers, authManager *auth.Manager) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	// CORS - allow credentials for auth cookies
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check (no auth required)
	r.Get("/health", h.HealthCheck)

	// Auth routes (no auth required)
	if authManager != nil {
		r.Get("/auth/login", authManager.HandleLogin)
		r.Get("/auth/callback", authManager.HandleCallback)
		r.Get("/auth/logout", authManager.HandleLogout)
		r.Get("/auth/user", authManager.HandleUserInfo)
	}

	// API routes (protected by auth middleware)
	r.Route("/api", func(r chi.Router) {
		if authManager != nil {
			r.Use(requireSession(authManager))
		}

		r.Post("/submit", h.SubmitBatch)
		r.Route("/batches", func(r chi.Router) {
			r.Get("/{batchID}", h.GetBatch)
			r.Get("/{batchID}/csv", h.DownloadCSV)
		})
		r.Post("/admin/epay/setup", h.SetupEpayLogin)
	})

	// Failure screenshots referenced by batch items
	r.Route("/screenshots", func(r chi.Router) {
		if authManager != nil {
			r.Use(requireSession(authManager))
		}
		r.Get("/*", h.ServeScreenshot)
	})

	return r
}

func requireSession(authManager *auth.Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if authManager.Identity(req) == "" {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"unauthorized"}`))
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

// identity resolves the rate-limit subject for a request. With auth disabled
// (nil manager) everything maps to the shared local identity.
func identity(authManager *auth.Manager, r *http.Request) string {
	if authManager == nil {
		return auth.LocalIdentity
	}
	if id := authManager.Identity(r); id != "" {
		return id
	}
	return auth.LocalIdentity
}

// cleanScreenshotPath rejects traversal attempts in the wildcard segment.
func cleanScreenshotPath(p string) (string, bool) {
	if p == "" || strings.Contains(p, "..") || strings.HasPrefix(p, "/") {
		return "", false
	}
	return p, true
}
