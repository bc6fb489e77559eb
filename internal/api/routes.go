package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RegisterRoutes sets up all the API endpoints and middleware for the application.
func (s *Server) RegisterRoutes(r *chi.Mux) {
	// --- Global Middleware (Applied to ALL routes) ---
	r.Use(middleware.Logger)    // Logs incoming requests
	r.Use(middleware.Recoverer) // Recovers from panics and returns a 500 error

	// --- REST API Group with CORS ---
	// All routes defined within this group are prefixed with "/api/v1".
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			// In production, you would tighten this to your frontend's domain.
			AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:3000", s.config.FrontendURL},
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Webhook-Secret", "X-Cron-Secret"},
			AllowCredentials: true,
			MaxAge:           300, // How long the browser can cache preflight results
		}))

		// Auth routes
		r.Post("/users/register", s.handleRegisterUser)
		r.Post("/users/login", s.handleLoginUser)
		r.Get("/auth/google/login", s.handleGoogleLogin)
		r.Get("/auth/google/callback", s.handleGoogleCallback)

		// Strava webhook subscription protocol: the GET handshake echoes the
		// provider's challenge, the POST receives activity events. Both are
		// authenticated by shared secrets, not by user sessions.
		r.Get("/strava/webhook", s.handleStravaWebhookVerify)
		r.Post("/strava/webhook", s.handleStravaWebhookEvent)

		// Cron-triggered batch sync, authenticated by the cron shared secret.
		r.Post("/sync/run", s.handleTriggerSync)

		// The provider redirects the browser here without our Authorization
		// header; the handler authenticates via the state cookies instead.
		r.Get("/strava/callback", s.handleStravaCallback)

		// Public leaderboard
		r.Get("/leaderboard", s.handleGetLeaderboard)

		// --- Authenticated REST Routes ---
		// Every route in this group first passes the JWT middleware.
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			// Notification stream
			r.Get("/notifications/stream", s.handleSSE)

			// User Routes
			r.Get("/users/me", s.handleGetMyProfile)
			r.Patch("/users/me", s.handleUpdateMyProfile)
			r.Delete("/users/me", s.handleDeleteMyProfile)

			// Team Routes
			r.Get("/teams", s.handleGetMyTeams)
			r.Post("/teams", s.handleCreateTeam)
			r.Post("/teams/join", s.handleJoinTeam)
			r.Get("/teams/{teamID}", s.handleGetTeamDetails)
			r.Get("/teams/{teamID}/members", s.handleGetTeamMembers)
			r.Delete("/teams/{teamID}/members/{memberID}", s.handleRemoveTeamMember)
			r.Post("/teams/{teamID}/leave", s.handleLeaveTeam)

			// Challenge Routes
			r.Get("/challenges", s.handleGetChallenges)
			r.Get("/challenges/{challengeID}", s.handleGetChallengeDetails)
			r.Get("/challenges/{challengeID}/progress", s.handleGetChallengeProgress)
			r.Post("/challenges/{challengeID}/submit", s.handleManualSubmission)
			r.Get("/submissions", s.handleGetMySubmissions)

			// Strava connection lifecycle
			r.Get("/strava/connect", s.handleStravaConnect)
			r.Get("/strava/status", s.handleStravaStatus)
			r.Delete("/strava/connection", s.handleStravaDisconnect)
			r.Post("/strava/sync", s.handleTriggerSync)
			r.Delete("/strava/activities", s.handleRemoveActivities)

			// --- Admin Routes ---
			r.Group(func(r chi.Router) {
				r.Use(s.adminMiddleware)

				r.Get("/admin/challenges", s.handleAdminListChallenges)
				r.Post("/admin/challenges", s.handleCreateChallenge)
				r.Put("/admin/challenges/{challengeID}", s.handleUpdateChallenge)
				r.Delete("/admin/challenges/{challengeID}", s.handleDeleteChallenge)
				r.Post("/admin/challenges/{challengeID}/submissions", s.handleAdminResolveSubmission)
			})
		})
	})
}
