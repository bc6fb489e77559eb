package api

import (
	"encoding/json"
	"net/http"

	"github.com/Fillbob/workout-challenge-prod-sub000/internal/config"
	"github.com/Fillbob/workout-challenge-prod-sub000/internal/database"
	"github.com/Fillbob/workout-challenge-prod-sub000/internal/ingest"
	"github.com/Fillbob/workout-challenge-prod-sub000/internal/realtime"
	"github.com/Fillbob/workout-challenge-prod-sub000/internal/strava"
)

// Server is the main struct for the API. It holds all dependencies required
// by the HTTP handlers, such as the application configuration, the database
// service, and the ingestion pipeline. This approach, known as dependency
// injection, makes the application modular and easier to test.
type Server struct {
	config *config.Config
	db     *database.Service
	broker *realtime.Broker
	strava *strava.Client
	syncer *ingest.Syncer
	runner *ingest.Runner
}

// NewServer is a constructor function that creates and returns a new instance
// of the Server, wiring the injected dependencies into it.
func NewServer(cfg *config.Config, db *database.Service, broker *realtime.Broker, stravaClient *strava.Client, syncer *ingest.Syncer, runner *ingest.Runner) *Server {
	return &Server{
		config: cfg,
		db:     db,
		broker: broker,
		strava: stravaClient,
		syncer: syncer,
		runner: runner,
	}
}

// envelope is a custom map type used for creating structured JSON responses,
// e.g. `envelope{"team": teamObject}`.
type envelope map[string]interface{}

// writeJSON is a helper method for sending JSON responses. It marshals the
// data, sets the 'Content-Type' header, and writes the status code. This
// centralizes response logic and ensures all JSON responses are consistent.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}, headers ...http.Header) {
	js, err := json.MarshalIndent(data, "", "\t")
	if err != nil {
		// If marshaling fails, it's a server-side error. We send a plain text
		// error response because we can't be sure our JSON error format is valid.
		http.Error(w, "Internal Server Error: Failed to marshal JSON", http.StatusInternalServerError)
		return
	}

	if len(headers) > 0 {
		for key, value := range headers[0] {
			w.Header()[key] = value
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(js)
}

// errorJSON is a helper method for sending standardized JSON error responses
// in the consistent shape `{"error": "message"}`.
func (s *Server) errorJSON(w http.ResponseWriter, err error, status ...int) {
	statusCode := http.StatusInternalServerError
	if len(status) > 0 {
		statusCode = status[0]
	}

	s.writeJSON(w, statusCode, envelope{"error": err.Error()})
}
