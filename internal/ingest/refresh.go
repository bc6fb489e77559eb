package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/Fillbob/workout-challenge-prod-sub000/internal/database"
	"github.com/Fillbob/workout-challenge-prod-sub000/internal/strava"
)

// tokenExpiryBuffer is how far into the future an access token must remain
// valid before we use it without refreshing. A sync can page through history
// for a while; refreshing early keeps the token from expiring mid-fetch.
const tokenExpiryBuffer = 10 * time.Minute

// TokenRefresher keeps a per-user OAuth credential valid against the
// external provider.
type TokenRefresher struct {
	db    *database.Service
	oauth *oauth2.Config
}

// NewTokenRefresher creates a refresher bound to the datastore and the
// provider's OAuth configuration.
func NewTokenRefresher(db *database.Service, oauth *oauth2.Config) *TokenRefresher {
	return &TokenRefresher{db: db, oauth: oauth}
}

// EnsureFresh returns a connection whose access token is guaranteed valid for
// at least the buffer window. If the stored expiry is missing or within the
// buffer, it exchanges the refresh token for a new pair, persists it along
// with the new expiry, and clears any previously recorded error.
//
// If the provider rejects the refresh token the error propagates; the caller
// records it as a connection-level failure without aborting other
// connections.
func (r *TokenRefresher) EnsureFresh(ctx context.Context, conn *database.StravaConnection) (*database.StravaConnection, error) {
	if conn.TokenExpiresAt != nil && time.Until(*conn.TokenExpiresAt) > tokenExpiryBuffer {
		return conn, nil
	}

	// Seeding the token source with only the refresh token forces an
	// exchange even when the old access token is technically still alive.
	seed := &oauth2.Token{RefreshToken: conn.RefreshToken}
	token, err := r.oauth.TokenSource(ctx, seed).Token()
	if err != nil {
		return nil, fmt.Errorf("token refresh rejected: %w", err)
	}

	athleteID := strava.ExtractAthleteID(token)
	if athleteID == 0 {
		athleteID = conn.AthleteID
	}

	refreshToken := token.RefreshToken
	if refreshToken == "" {
		refreshToken = conn.RefreshToken
	}

	err = r.db.WriteTx(func(tx *sql.Tx) error {
		return r.db.UpdateConnectionTokens(tx, conn.ID, token.AccessToken, refreshToken, token.Expiry, athleteID)
	})
	if err != nil {
		return nil, fmt.Errorf("persisting refreshed token: %w", err)
	}

	expiry := token.Expiry
	conn.AccessToken = token.AccessToken
	conn.RefreshToken = refreshToken
	conn.TokenExpiresAt = &expiry
	conn.AthleteID = athleteID
	conn.LastError = sql.NullString{}
	return conn, nil
}
