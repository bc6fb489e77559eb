package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Fillbob/workout-challenge-prod-sub000/internal/database"
	"github.com/Fillbob/workout-challenge-prod-sub000/internal/ingest"

	"github.com/go-chi/chi/v5"
)

// challengePayload is the admin create/update body. Target values arrive in
// the unit the admin typed (miles, km, minutes...) and are normalized to the
// canonical unit before storage, so sync-time comparisons never convert.
type challengePayload struct {
	Week          int      `json:"week"`
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	StartDate     string   `json:"startDate"`
	EndDate       string   `json:"endDate"`
	Points        int      `json:"points"`
	TeamIDs       []int64  `json:"teamIds"`
	Hidden        bool     `json:"hidden"`
	MetricType    string   `json:"metricType"`
	TargetValue   float64  `json:"targetValue"`
	TargetUnit    string   `json:"targetUnit"`
	ActivityTypes []string `json:"activityTypes"`
}

type manualSubmissionPayload struct {
	Completed bool `json:"completed"`
}

type adminResolvePayload struct {
	UserID    int64 `json:"userId"`
	Completed bool  `json:"completed"`
}

// metersPerMile matches the provider's own conversion factor.
const metersPerMile = 1609.344

// normalizeTarget converts an admin-entered target into the canonical unit
// for its metric: meters for distance and elevation, seconds for duration,
// raw count for steps. Unknown units are rejected rather than guessed.
func normalizeTarget(metricType string, value float64, unit string) (float64, string, error) {
	unit = strings.ToLower(strings.TrimSpace(unit))
	switch metricType {
	case database.MetricDistance:
		switch unit {
		case "", "m", "meters":
			return value, "m", nil
		case "km", "kilometers":
			return value * 1000, "m", nil
		case "mi", "miles":
			return value * metersPerMile, "m", nil
		}
	case database.MetricDuration:
		switch unit {
		case "", "s", "seconds":
			return value, "s", nil
		case "min", "minutes":
			return value * 60, "s", nil
		case "h", "hours":
			return value * 3600, "s", nil
		}
	case database.MetricElevation:
		switch unit {
		case "", "m", "meters":
			return value, "m", nil
		case "ft", "feet":
			return value * 0.3048, "m", nil
		}
	case database.MetricSteps:
		if unit == "" || unit == "steps" {
			return value, "steps", nil
		}
	}
	return 0, "", fmt.Errorf("unsupported unit %q for metric %q", unit, metricType)
}

func (p *challengePayload) toChallenge() (*database.Challenge, error) {
	if strings.TrimSpace(p.Title) == "" {
		return nil, errors.New("title is required")
	}
	for _, bound := range []string{p.StartDate, p.EndDate} {
		if bound != "" && !ingest.ValidBound(bound) {
			return nil, fmt.Errorf("invalid date bound %q: use RFC3339 or YYYY-MM-DD", bound)
		}
	}

	c := &database.Challenge{
		Week:          p.Week,
		Title:         p.Title,
		Points:        p.Points,
		TeamIDs:       p.TeamIDs,
		Hidden:        p.Hidden,
		ActivityTypes: p.ActivityTypes,
	}
	if p.Description != "" {
		c.Description = sql.NullString{String: p.Description, Valid: true}
	}
	if p.StartDate != "" {
		c.StartDate = sql.NullString{String: p.StartDate, Valid: true}
	}
	if p.EndDate != "" {
		c.EndDate = sql.NullString{String: p.EndDate, Valid: true}
	}

	if p.MetricType != "" {
		switch p.MetricType {
		case database.MetricManual, database.MetricDistance, database.MetricDuration,
			database.MetricElevation, database.MetricSteps:
		default:
			return nil, fmt.Errorf("unknown metric type %q", p.MetricType)
		}
		c.MetricType = sql.NullString{String: p.MetricType, Valid: true}

		if p.MetricType != database.MetricManual {
			if p.TargetValue <= 0 {
				return nil, errors.New("target value must be positive for auto-verified challenges")
			}
			value, unit, err := normalizeTarget(p.MetricType, p.TargetValue, p.TargetUnit)
			if err != nil {
				return nil, err
			}
			c.TargetValue = sql.NullFloat64{Float64: value, Valid: true}
			c.TargetUnit = sql.NullString{String: unit, Valid: true}
		}
	}
	return c, nil
}

// --- PLAYER-FACING HANDLERS ---

// handleGetChallenges lists the challenges visible to players.
func (s *Server) handleGetChallenges(w http.ResponseWriter, r *http.Request) {
	challenges, err := s.db.ListVisibleChallenges(s.db.DB())
	if err != nil {
		s.errorJSON(w, err, http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, envelope{"challenges": challenges})
}

// handleGetChallengeDetails returns one challenge plus the caller's
// submission state for it, if any.
func (s *Server) handleGetChallengeDetails(w http.ResponseWriter, r *http.Request) {
	userID, err := s.getUserIDFromContext(r)
	if err != nil {
		s.errorJSON(w, err, http.StatusUnauthorized)
		return
	}
	challenge, err := s.visibleChallenge(r)
	if err != nil {
		s.errorJSON(w, err, http.StatusNotFound)
		return
	}

	resp := envelope{"challenge": challenge}
	sub, err := s.db.GetSubmission(s.db.DB(), userID, challenge.ID)
	if err == nil {
		resp["submission"] = sub
	} else if !errors.Is(err, sql.ErrNoRows) {
		s.errorJSON(w, err, http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleGetChallengeProgress returns the caller's accumulated progress toward
// an auto-verified challenge: each contributing activity plus the running sum.
func (s *Server) handleGetChallengeProgress(w http.ResponseWriter, r *http.Request) {
	userID, err := s.getUserIDFromContext(r)
	if err != nil {
		s.errorJSON(w, err, http.StatusUnauthorized)
		return
	}
	challenge, err := s.visibleChallenge(r)
	if err != nil {
		s.errorJSON(w, err, http.StatusNotFound)
		return
	}

	entries, err := s.db.ListProgressEntries(s.db.DB(), userID, challenge.ID)
	if err != nil {
		s.errorJSON(w, err, http.StatusInternalServerError)
		return
	}
	total, err := s.db.SumProgress(s.db.DB(), userID, challenge.ID)
	if err != nil {
		s.errorJSON(w, err, http.StatusInternalServerError)
		return
	}

	resp := envelope{
		"entries": entries,
		"total":   total,
	}
	if challenge.TargetValue.Valid {
		resp["target"] = challenge.TargetValue.Float64
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleManualSubmission marks a manual challenge completed (or not) for the
// caller. Auto-verified challenges cannot be self-reported; their completion
// comes only from synced activity data.
func (s *Server) handleManualSubmission(w http.ResponseWriter, r *http.Request) {
	userID, err := s.getUserIDFromContext(r)
	if err != nil {
		s.errorJSON(w, err, http.StatusUnauthorized)
		return
	}
	challenge, err := s.visibleChallenge(r)
	if err != nil {
		s.errorJSON(w, err, http.StatusNotFound)
		return
	}
	if challenge.AutoVerified() {
		s.errorJSON(w, errors.New("this challenge is verified automatically from activity data"), http.StatusConflict)
		return
	}

	payload := manualSubmissionPayload{Completed: true}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			s.errorJSON(w, errors.New("bad request: could not decode JSON"), http.StatusBadRequest)
			return
		}
	}

	sub := &database.Submission{
		UserID:      userID,
		ChallengeID: challenge.ID,
		Completed:   payload.Completed,
		Source:      database.SubmissionSourceManual,
	}
	if payload.Completed {
		now := time.Now().UTC()
		sub.CompletedAt = &now
	}

	err = s.db.WriteTx(func(tx *sql.Tx) error {
		return s.db.UpsertSubmission(tx, sub)
	})
	if err != nil {
		s.errorJSON(w, errors.New("failed to record submission"), http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, envelope{"submission": sub})
}

// handleGetMySubmissions lists all of the caller's submissions.
func (s *Server) handleGetMySubmissions(w http.ResponseWriter, r *http.Request) {
	userID, err := s.getUserIDFromContext(r)
	if err != nil {
		s.errorJSON(w, err, http.StatusUnauthorized)
		return
	}
	subs, err := s.db.ListSubmissionsByUser(s.db.DB(), userID)
	if err != nil {
		s.errorJSON(w, err, http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, envelope{"submissions": subs})
}

// --- ADMIN HANDLERS ---

// handleAdminListChallenges lists every challenge, hidden ones included.
func (s *Server) handleAdminListChallenges(w http.ResponseWriter, r *http.Request) {
	challenges, err := s.db.ListChallenges(s.db.DB())
	if err != nil {
		s.errorJSON(w, err, http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, envelope{"challenges": challenges})
}

func (s *Server) handleCreateChallenge(w http.ResponseWriter, r *http.Request) {
	var payload challengePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.errorJSON(w, errors.New("bad request: could not decode JSON"), http.StatusBadRequest)
		return
	}
	challenge, err := payload.toChallenge()
	if err != nil {
		s.errorJSON(w, err, http.StatusBadRequest)
		return
	}

	err = s.db.WriteTx(func(tx *sql.Tx) error {
		var createErr error
		challenge, createErr = s.db.CreateChallenge(tx, challenge)
		return createErr
	})
	if err != nil {
		s.errorJSON(w, errors.New("failed to create challenge"), http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusCreated, envelope{"challenge": challenge})
}

// handleUpdateChallenge replaces a challenge's definition. Existing
// submissions are re-derived on the next sync rather than rewritten here.
func (s *Server) handleUpdateChallenge(w http.ResponseWriter, r *http.Request) {
	challengeID, err := s.challengeIDParam(r)
	if err != nil {
		s.errorJSON(w, err, http.StatusBadRequest)
		return
	}
	if _, err := s.db.GetChallengeByID(s.db.DB(), challengeID); err != nil {
		s.errorJSON(w, errors.New("challenge not found"), http.StatusNotFound)
		return
	}

	var payload challengePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.errorJSON(w, errors.New("bad request: could not decode JSON"), http.StatusBadRequest)
		return
	}
	challenge, err := payload.toChallenge()
	if err != nil {
		s.errorJSON(w, err, http.StatusBadRequest)
		return
	}
	challenge.ID = challengeID

	err = s.db.WriteTx(func(tx *sql.Tx) error {
		return s.db.UpdateChallenge(tx, challenge)
	})
	if err != nil {
		s.errorJSON(w, errors.New("failed to update challenge"), http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, envelope{"challenge": challenge})
}

func (s *Server) handleDeleteChallenge(w http.ResponseWriter, r *http.Request) {
	challengeID, err := s.challengeIDParam(r)
	if err != nil {
		s.errorJSON(w, err, http.StatusBadRequest)
		return
	}

	err = s.db.WriteTx(func(tx *sql.Tx) error {
		return s.db.DeleteChallenge(tx, challengeID)
	})
	if err != nil {
		s.errorJSON(w, errors.New("failed to delete challenge"), http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, envelope{"message": "challenge deleted"})
}

// handleAdminResolveSubmission sets a user's completion state for a challenge
// directly, overriding whatever sync or manual submission recorded.
func (s *Server) handleAdminResolveSubmission(w http.ResponseWriter, r *http.Request) {
	challengeID, err := s.challengeIDParam(r)
	if err != nil {
		s.errorJSON(w, err, http.StatusBadRequest)
		return
	}
	if _, err := s.db.GetChallengeByID(s.db.DB(), challengeID); err != nil {
		s.errorJSON(w, errors.New("challenge not found"), http.StatusNotFound)
		return
	}

	var payload adminResolvePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.errorJSON(w, errors.New("bad request: could not decode JSON"), http.StatusBadRequest)
		return
	}
	if payload.UserID == 0 {
		s.errorJSON(w, errors.New("userId is required"), http.StatusBadRequest)
		return
	}
	if _, err := s.db.GetUserByID(s.db.DB(), payload.UserID); err != nil {
		s.errorJSON(w, errors.New("user not found"), http.StatusNotFound)
		return
	}

	sub := &database.Submission{
		UserID:      payload.UserID,
		ChallengeID: challengeID,
		Completed:   payload.Completed,
		Source:      database.SubmissionSourceAdmin,
	}
	if payload.Completed {
		now := time.Now().UTC()
		sub.CompletedAt = &now
	}

	err = s.db.WriteTx(func(tx *sql.Tx) error {
		return s.db.UpsertSubmission(tx, sub)
	})
	if err != nil {
		s.errorJSON(w, errors.New("failed to record submission"), http.StatusInternalServerError)
		return
	}

	log.Printf("INFO: admin resolved challenge %d for user %d: completed=%v", challengeID, payload.UserID, payload.Completed)
	s.writeJSON(w, http.StatusOK, envelope{"submission": sub})
}

// --- HELPERS ---

func (s *Server) challengeIDParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "challengeID"), 10, 64)
	if err != nil {
		return 0, errors.New("invalid challenge ID")
	}
	return id, nil
}

// visibleChallenge loads the challenge from the URL and hides hidden ones
// from non-admin callers behind a generic not-found.
func (s *Server) visibleChallenge(r *http.Request) (*database.Challenge, error) {
	id, err := s.challengeIDParam(r)
	if err != nil {
		return nil, err
	}
	challenge, err := s.db.GetChallengeByID(s.db.DB(), id)
	if err != nil {
		return nil, errors.New("challenge not found")
	}
	if challenge.Hidden {
		claims, err := s.getClaimsFromContext(r)
		if err != nil || !claims.IsAdmin {
			return nil, errors.New("challenge not found")
		}
	}
	return challenge, nil
}
