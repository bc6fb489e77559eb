package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/Fillbob/workout-challenge-prod-sub000/internal/ingest"
	"github.com/Fillbob/workout-challenge-prod-sub000/internal/strava"

	"golang.org/x/oauth2"
)

// stravaOAuthConfig builds the provider OAuth2 config from the application
// configuration. Rebuilt per call; it is a small value object.
func (s *Server) stravaOAuthConfig() *oauth2.Config {
	return strava.NewOAuthConfig(strava.OAuthSettings{
		ClientID:     s.config.StravaClientID,
		ClientSecret: s.config.StravaClientSecret,
		RedirectURL:  s.config.StravaRedirectURL,
		AuthURL:      s.config.StravaAuthURL,
		TokenURL:     s.config.StravaTokenURL,
	})
}

// handleStravaConnect starts the provider OAuth flow for the authenticated
// user. The user's id rides along in the state cookie payload so the
// callback can attribute the tokens without a session lookup.
func (s *Server) handleStravaConnect(w http.ResponseWriter, r *http.Request) {
	userID, err := s.getUserIDFromContext(r)
	if err != nil {
		s.errorJSON(w, err, http.StatusUnauthorized)
		return
	}

	state := generateStateOauthCookie(w, "stravastate")
	// The callback arrives without our Authorization header, so bind the
	// user id to the state cookie's value.
	http.SetCookie(w, &http.Cookie{
		Name:     "stravauser",
		Value:    strconv.FormatInt(userID, 10),
		Expires:  time.Now().Add(10 * time.Minute),
		HttpOnly: true,
	})

	url := s.stravaOAuthConfig().AuthCodeURL(state)
	s.writeJSON(w, http.StatusOK, envelope{"url": url})
}

// handleStravaCallback finishes the provider OAuth flow: it exchanges the
// code, extracts the athlete id from the token response, and stores the
// credential for the user bound to the state cookie.
func (s *Server) handleStravaCallback(w http.ResponseWriter, r *http.Request) {
	oauthState, err := r.Cookie("stravastate")
	if err != nil || r.FormValue("state") != oauthState.Value {
		s.errorJSON(w, errors.New("invalid oauth state"), http.StatusUnauthorized)
		return
	}
	userCookie, err := r.Cookie("stravauser")
	if err != nil {
		s.errorJSON(w, errors.New("missing user binding for oauth flow"), http.StatusUnauthorized)
		return
	}
	userID, err := strconv.ParseInt(userCookie.Value, 10, 64)
	if err != nil {
		s.errorJSON(w, errors.New("invalid user binding for oauth flow"), http.StatusUnauthorized)
		return
	}

	if errMsg := r.FormValue("error"); errMsg != "" {
		// User declined on the provider's consent screen.
		http.Redirect(w, r, fmt.Sprintf("%s/settings?strava=denied", s.config.FrontendURL), http.StatusTemporaryRedirect)
		return
	}

	token, err := s.stravaOAuthConfig().Exchange(r.Context(), r.FormValue("code"))
	if err != nil {
		s.errorJSON(w, fmt.Errorf("failed to exchange code for token: %w", err), http.StatusInternalServerError)
		return
	}

	athleteID := strava.ExtractAthleteID(token)
	if athleteID == 0 {
		s.errorJSON(w, errors.New("token response did not include an athlete id"), http.StatusInternalServerError)
		return
	}

	err = s.db.WriteTx(func(tx *sql.Tx) error {
		return s.db.UpsertStravaConnection(tx, userID, athleteID, token.AccessToken, token.RefreshToken, token.Expiry)
	})
	if err != nil {
		s.errorJSON(w, errors.New("failed to store connection"), http.StatusInternalServerError)
		return
	}

	log.Printf("INFO: user %d connected strava athlete %d", userID, athleteID)
	http.Redirect(w, r, fmt.Sprintf("%s/settings?strava=connected", s.config.FrontendURL), http.StatusTemporaryRedirect)
}

// handleStravaStatus reports whether the caller has a linked connection and,
// if so, its sync watermark and last error.
func (s *Server) handleStravaStatus(w http.ResponseWriter, r *http.Request) {
	userID, err := s.getUserIDFromContext(r)
	if err != nil {
		s.errorJSON(w, err, http.StatusUnauthorized)
		return
	}

	conn, err := s.db.GetStravaConnectionByUserID(s.db.DB(), userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.writeJSON(w, http.StatusOK, envelope{"connected": false})
			return
		}
		s.errorJSON(w, err, http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, envelope{"connected": true, "connection": conn})
}

// handleStravaDisconnect revokes the provider grant (best effort) and deletes
// the stored connection. Ingested history and progress stay; only the
// credential goes away.
func (s *Server) handleStravaDisconnect(w http.ResponseWriter, r *http.Request) {
	userID, err := s.getUserIDFromContext(r)
	if err != nil {
		s.errorJSON(w, err, http.StatusUnauthorized)
		return
	}

	conn, err := s.db.GetStravaConnectionByUserID(s.db.DB(), userID)
	if err != nil {
		s.errorJSON(w, errors.New("no connection to disconnect"), http.StatusNotFound)
		return
	}

	if err := s.strava.Deauthorize(r.Context(), conn.AccessToken); err != nil {
		log.Printf("WARN: strava deauthorize for user %d failed: %v", userID, err)
	}

	err = s.db.WriteTx(func(tx *sql.Tx) error {
		return s.db.DeleteStravaConnection(tx, userID)
	})
	if err != nil {
		s.errorJSON(w, errors.New("failed to delete connection"), http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, envelope{"message": "disconnected"})
}

// handleTriggerSync runs the ingestion batch. It serves three callers through
// one endpoint: webhook-style calls carrying a shared secret plus athlete id,
// cron calls carrying the cron secret, and signed-in users syncing their own
// connection. The batch runner enforces that precedence.
func (s *Server) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	trig := ingest.TriggerContext{
		WebhookSecret: r.Header.Get("X-Webhook-Secret"),
		CronSecret:    r.Header.Get("X-Cron-Secret"),
	}
	if raw := r.URL.Query().Get("athleteId"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			trig.AthleteID = id
		}
	}
	if claims, err := s.getClaimsFromContext(r); err == nil {
		trig.SessionUserID = claims.UserID
	}

	result, err := s.runner.Trigger(r.Context(), trig)
	if err != nil {
		switch {
		case errors.Is(err, ingest.ErrUnauthorized):
			s.errorJSON(w, err, http.StatusUnauthorized)
		case errors.Is(err, ingest.ErrNoConnection):
			s.errorJSON(w, err, http.StatusNotFound)
		default:
			s.errorJSON(w, err, http.StatusInternalServerError)
		}
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

// handleStravaWebhookVerify answers the provider's subscription handshake:
// when the verify token matches, echo hub.challenge back.
func (s *Server) handleStravaWebhookVerify(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode != "subscribe" || s.config.StravaVerifyToken == "" || token != s.config.StravaVerifyToken {
		s.errorJSON(w, errors.New("verification failed"), http.StatusForbidden)
		return
	}

	s.writeJSON(w, http.StatusOK, envelope{"hub.challenge": challenge})
}

// stravaWebhookEvent is the provider's push payload shape.
type stravaWebhookEvent struct {
	ObjectType string `json:"object_type"`
	ObjectID   int64  `json:"object_id"`
	AspectType string `json:"aspect_type"`
	OwnerID    int64  `json:"owner_id"`
}

// handleStravaWebhookEvent receives provider push events. The provider
// expects a fast 200, so the actual sync runs in the background; the event
// only tells us which athlete to refresh.
func (s *Server) handleStravaWebhookEvent(w http.ResponseWriter, r *http.Request) {
	var event stravaWebhookEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		s.errorJSON(w, errors.New("bad request: could not decode JSON"), http.StatusBadRequest)
		return
	}
	if event.OwnerID == 0 {
		s.errorJSON(w, errors.New("event missing owner_id"), http.StatusBadRequest)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		// The subscription handshake already authenticated the source, so
		// the internal trigger uses our own webhook secret.
		_, err := s.runner.Trigger(ctx, ingest.TriggerContext{
			WebhookSecret: s.config.StravaWebhookSecret,
			AthleteID:     event.OwnerID,
		})
		if err != nil {
			log.Printf("ERROR: webhook-triggered sync for athlete %d failed: %v", event.OwnerID, err)
		}
	}()

	w.WriteHeader(http.StatusOK)
}

// handleRemoveActivities deletes all of the caller's ingested activity data:
// the dedup ledger and every progress entry. Affected challenge submissions
// are re-derived afterward, so completions earned purely from removed
// activities flip back to incomplete.
func (s *Server) handleRemoveActivities(w http.ResponseWriter, r *http.Request) {
	userID, err := s.getUserIDFromContext(r)
	if err != nil {
		s.errorJSON(w, err, http.StatusUnauthorized)
		return
	}

	// Capture which challenges had progress before the delete wipes the
	// evidence; those are the ones whose submissions need a recompute.
	affected, err := s.db.ChallengeIDsWithProgress(s.db.DB(), userID)
	if err != nil {
		s.errorJSON(w, err, http.StatusInternalServerError)
		return
	}

	var removedEntries, removedActivities int64
	err = s.db.WriteTx(func(tx *sql.Tx) error {
		var txErr error
		if removedEntries, txErr = s.db.DeleteProgressEntriesForUser(tx, userID); txErr != nil {
			return txErr
		}
		removedActivities, txErr = s.db.DeleteIngestedActivities(tx, userID)
		return txErr
	})
	if err != nil {
		s.errorJSON(w, errors.New("failed to remove activity data"), http.StatusInternalServerError)
		return
	}

	// Recompute is bookkeeping after the authoritative delete: log and
	// continue on failure, the next sync reconciles again anyway.
	for _, challengeID := range affected {
		challenge, err := s.db.GetChallengeByID(s.db.DB(), challengeID)
		if err != nil {
			log.Printf("WARN: post-removal recompute skipped challenge %d: %v", challengeID, err)
			continue
		}
		if err := s.syncer.ReconcileChallenge(r.Context(), userID, challenge); err != nil {
			log.Printf("WARN: post-removal recompute failed for challenge %d: %v", challengeID, err)
		}
	}

	s.writeJSON(w, http.StatusOK, envelope{
		"removedActivities":      removedActivities,
		"removedProgressEntries": removedEntries,
	})
}
