package main

import (
	"log"
	"net/http"
	"os"
	"path/filepath"

	"github.com/Fillbob/workout-challenge-prod-sub000/internal/api"
	"github.com/Fillbob/workout-challenge-prod-sub000/internal/config"
	"github.com/Fillbob/workout-challenge-prod-sub000/internal/database"
	"github.com/Fillbob/workout-challenge-prod-sub000/internal/ingest"
	"github.com/Fillbob/workout-challenge-prod-sub000/internal/realtime"
	"github.com/Fillbob/workout-challenge-prod-sub000/internal/strava"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
)

// main is the entry point for the challenge tracker backend server.
func main() {
	// --- 1. Load Configuration ---
	// It's a common practice to load configuration from a .env file during development.
	// This allows for easy management of secrets and settings without hardcoding them.
	// In a production environment, these would typically be set as actual environment variables.
	if err := godotenv.Load(); err != nil {
		log.Println("INFO: No .env file found, using environment variables from the system.")
	}

	cfg, err := config.New()
	if err != nil {
		// A valid configuration is required to run, so we exit if it fails.
		log.Fatalf("FATAL: Failed to load application configuration: %v", err)
	}

	// --- 2. Ensure Required Directories Exist ---
	if err := os.MkdirAll(cfg.DbPath, 0755); err != nil {
		log.Fatalf("FATAL: Failed to create database directory at %s: %v", cfg.DbPath, err)
	}

	log.Println("INFO: Application directories verified.")

	// --- 3. Initialize Database Service ---
	// The database service manages all connections and ensures thread-safe writes.
	mainDbFullPath := filepath.Join(cfg.DbPath, "main.db")
	dbService, err := database.NewService(mainDbFullPath)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize database service: %v", err)
	}
	// 'defer' ensures that the Close() method is called when the main function exits,
	// gracefully closing all open database connections.
	defer dbService.Close()

	// This step creates the necessary tables (users, teams, challenges, etc.)
	// if they do not already exist. It's safe to run on every startup.
	if err := dbService.Init(); err != nil {
		log.Fatalf("FATAL: Failed to initialize database schema: %v", err)
	}

	log.Println("INFO: Database service initialized successfully.")

	// --- 4. Wire Up the Ingestion Pipeline ---
	// The Strava client talks to the provider API; the refresher keeps OAuth
	// tokens fresh; the syncer turns fetched activities into challenge
	// progress; the runner fans syncs out across connections.
	broker := realtime.NewBroker()
	stravaClient := strava.NewClient(cfg.StravaAPIURL, cfg.StravaHTTPTimeout)
	stravaOAuth := strava.NewOAuthConfig(strava.OAuthSettings{
		ClientID:     cfg.StravaClientID,
		ClientSecret: cfg.StravaClientSecret,
		RedirectURL:  cfg.StravaRedirectURL,
		AuthURL:      cfg.StravaAuthURL,
		TokenURL:     cfg.StravaTokenURL,
	})
	refresher := ingest.NewTokenRefresher(dbService, stravaOAuth)
	syncer := ingest.NewSyncer(dbService, stravaClient, refresher, broker)
	runner := ingest.NewRunner(dbService, syncer, cfg.StravaWebhookSecret, cfg.CronSecret)

	log.Println("INFO: Realtime hub and ingestion pipeline initialized.")

	// --- 5. Set Up API Server and Routes ---
	// Create a new instance of our API server, injecting the dependencies it
	// needs (like the config, database service, and ingestion pipeline).
	serverAPI := api.NewServer(cfg, dbService, broker, stravaClient, syncer, runner)

	// Create a new Chi router. Chi is a lightweight and powerful router for Go.
	router := chi.NewRouter()

	// Register all the application's API endpoints and middleware with the router.
	// This keeps the routing logic clean and organized in the `routes.go` file.
	serverAPI.RegisterRoutes(router)

	log.Println("INFO: API routes registered.")

	// --- 6. Start the HTTP Server ---
	log.Printf("INFO: Challenge tracker server starting on %s", cfg.ServerAddr)

	// Start the web server. ListenAndServe blocks until the server is stopped
	// or an unrecoverable error occurs.
	if err := http.ListenAndServe(cfg.ServerAddr, router); err != nil {
		log.Fatalf("FATAL: Failed to start server: %v", err)
	}
}
