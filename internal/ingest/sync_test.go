package ingest

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/Fillbob/workout-challenge-prod-sub000/internal/database"
	"github.com/Fillbob/workout-challenge-prod-sub000/internal/strava"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const metersPerMile = 1609.344

// fakeStrava is a stand-in for the provider API: a configurable activity
// feed plus a token-refresh endpoint.
type fakeStrava struct {
	srv          *httptest.Server
	activities   []map[string]interface{}
	tokenStatus  int // 0 means success
	refreshCount int
}

func newFakeStrava(t *testing.T) *fakeStrava {
	f := &fakeStrava{}
	mux := http.NewServeMux()
	mux.HandleFunc("/athlete/activities", func(w http.ResponseWriter, r *http.Request) {
		// Everything fits on one page in these tests.
		if r.URL.Query().Get("page") != "1" {
			json.NewEncoder(w).Encode([]interface{}{})
			return
		}
		json.NewEncoder(w).Encode(f.activities)
	})
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		f.refreshCount++
		if f.tokenStatus != 0 {
			w.WriteHeader(f.tokenStatus)
			fmt.Fprint(w, `{"message":"Bad Request","errors":[{"resource":"RefreshToken","code":"invalid"}]}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"token_type":"Bearer","access_token":"fresh-access","refresh_token":"fresh-refresh","expires_in":21600,"athlete":{"id":4242}}`)
	})
	mux.HandleFunc("/oauth/deauthorize", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

// addRun appends a run of the given length to the fake feed.
func (f *fakeStrava) addRun(id int64, miles float64, at time.Time) {
	f.activities = append(f.activities, map[string]interface{}{
		"id":               id,
		"type":             "Run",
		"start_date":       at.UTC().Format(time.RFC3339),
		"start_date_local": at.UTC().Format(time.RFC3339),
		"distance":         miles * metersPerMile,
		"moving_time":      miles * 600, // 10 min/mile
	})
}

func newTestDB(t *testing.T) *database.Service {
	db, err := database.NewService(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, db.Init())
	return db
}

type syncFixture struct {
	db     *database.Service
	fake   *fakeStrava
	syncer *Syncer
	user   *database.User
	conn   *database.StravaConnection
}

// newSyncFixture seeds one user with a healthy connection whose access token
// is still comfortably valid, so no refresh happens unless a test forces one.
func newSyncFixture(t *testing.T) *syncFixture {
	db := newTestDB(t)
	fake := newFakeStrava(t)

	client := strava.NewClient(fake.srv.URL, 5*time.Second)
	oauth := strava.NewOAuthConfig(strava.OAuthSettings{
		ClientID:     "client",
		ClientSecret: "secret",
		AuthURL:      fake.srv.URL + "/oauth/authorize",
		TokenURL:     fake.srv.URL + "/oauth/token",
	})
	refresher := NewTokenRefresher(db, oauth)
	syncer := NewSyncer(db, client, refresher, nil)

	var user *database.User
	require.NoError(t, db.WriteTx(func(tx *sql.Tx) error {
		var err error
		user, err = db.CreateUser(tx, "runner@example.com", "runner", "", false)
		if err != nil {
			return err
		}
		return db.UpsertStravaConnection(tx, user.ID, 4242, "valid-access", "valid-refresh", time.Now().Add(2*time.Hour))
	}))

	conn, err := db.GetStravaConnectionByUserID(db.DB(), user.ID)
	require.NoError(t, err)

	return &syncFixture{db: db, fake: fake, syncer: syncer, user: user, conn: conn}
}

func (fx *syncFixture) createChallenge(t *testing.T, c *database.Challenge) *database.Challenge {
	t.Helper()
	var created *database.Challenge
	require.NoError(t, fx.db.WriteTx(func(tx *sql.Tx) error {
		var err error
		created, err = fx.db.CreateChallenge(tx, c)
		return err
	}))
	return created
}

func tenMileChallenge() *database.Challenge {
	return &database.Challenge{
		Title:       "Run 10 miles this month",
		Points:      50,
		MetricType:  sql.NullString{String: database.MetricDistance, Valid: true},
		TargetValue: sql.NullFloat64{Float64: 10 * metersPerMile, Valid: true},
		TargetUnit:  sql.NullString{String: "m", Valid: true},
	}
}

func TestSyncConnectionAccumulatesToCompletion(t *testing.T) {
	fx := newSyncFixture(t)
	challenge := fx.createChallenge(t, tenMileChallenge())

	now := time.Now()
	fx.fake.addRun(1001, 4, now.Add(-3*time.Hour))
	fx.fake.addRun(1002, 4, now.Add(-2*time.Hour))
	fx.fake.addRun(1003, 3, now.Add(-1*time.Hour))

	challenges, err := fx.db.ListChallenges(fx.db.DB())
	require.NoError(t, err)
	require.NoError(t, fx.syncer.SyncConnection(context.Background(), fx.conn, challenges))

	total, err := fx.db.SumProgress(fx.db.DB(), fx.user.ID, challenge.ID)
	require.NoError(t, err)
	assert.InDelta(t, 11*metersPerMile, total, 0.01)

	sub, err := fx.db.GetSubmission(fx.db.DB(), fx.user.ID, challenge.ID)
	require.NoError(t, err)
	assert.True(t, sub.Completed)
	require.NotNil(t, sub.CompletedAt)
	assert.Equal(t, database.SubmissionSourceSync, sub.Source)

	// Every activity landed in the dedup ledger.
	for _, id := range []int64{1001, 1002, 1003} {
		seen, err := fx.db.HasIngestedActivity(fx.db.DB(), fx.user.ID, id)
		require.NoError(t, err)
		assert.True(t, seen, "activity %d should be in the ledger", id)
	}

	// The watermark advanced and any stale error was cleared.
	conn, err := fx.db.GetStravaConnectionByUserID(fx.db.DB(), fx.user.ID)
	require.NoError(t, err)
	assert.NotNil(t, conn.LastSyncedAt)
	assert.False(t, conn.LastError.Valid)
}

func TestSyncConnectionIsIdempotent(t *testing.T) {
	fx := newSyncFixture(t)
	challenge := fx.createChallenge(t, tenMileChallenge())
	fx.fake.addRun(2001, 6, time.Now().Add(-time.Hour))

	challenges, err := fx.db.ListChallenges(fx.db.DB())
	require.NoError(t, err)

	// The provider feed returns the same activity on both runs; the ledger
	// must keep it from counting twice.
	require.NoError(t, fx.syncer.SyncConnection(context.Background(), fx.conn, challenges))
	first, err := fx.db.SumProgress(fx.db.DB(), fx.user.ID, challenge.ID)
	require.NoError(t, err)

	conn, err := fx.db.GetStravaConnectionByUserID(fx.db.DB(), fx.user.ID)
	require.NoError(t, err)
	require.NoError(t, fx.syncer.SyncConnection(context.Background(), conn, challenges))

	second, err := fx.db.SumProgress(fx.db.DB(), fx.user.ID, challenge.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	entries, err := fx.db.ListProgressEntries(fx.db.DB(), fx.user.ID, challenge.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSyncFansOneActivityOutToMultipleChallenges(t *testing.T) {
	fx := newSyncFixture(t)
	distance := fx.createChallenge(t, tenMileChallenge())

	duration := fx.createChallenge(t, &database.Challenge{
		Title:       "Move for 30 minutes",
		Points:      10,
		MetricType:  sql.NullString{String: database.MetricDuration, Valid: true},
		TargetValue: sql.NullFloat64{Float64: 1800, Valid: true},
	})

	fx.fake.addRun(3001, 5, time.Now().Add(-time.Hour)) // 50 min at 10 min/mile

	challenges, err := fx.db.ListChallenges(fx.db.DB())
	require.NoError(t, err)
	require.NoError(t, fx.syncer.SyncConnection(context.Background(), fx.conn, challenges))

	distEntries, err := fx.db.ListProgressEntries(fx.db.DB(), fx.user.ID, distance.ID)
	require.NoError(t, err)
	assert.Len(t, distEntries, 1)

	durEntries, err := fx.db.ListProgressEntries(fx.db.DB(), fx.user.ID, duration.ID)
	require.NoError(t, err)
	assert.Len(t, durEntries, 1)

	// One ledger row covers both contributions.
	seen, err := fx.db.HasIngestedActivity(fx.db.DB(), fx.user.ID, 3001)
	require.NoError(t, err)
	assert.True(t, seen)

	durSub, err := fx.db.GetSubmission(fx.db.DB(), fx.user.ID, duration.ID)
	require.NoError(t, err)
	assert.True(t, durSub.Completed, "50 minutes beats the 30-minute target")

	distSub, err := fx.db.GetSubmission(fx.db.DB(), fx.user.ID, distance.ID)
	require.NoError(t, err)
	assert.False(t, distSub.Completed, "5 miles does not reach 10")
}

func TestSyncSkipsIneligibleChallenges(t *testing.T) {
	fx := newSyncFixture(t)

	hidden := tenMileChallenge()
	hidden.Title = "Hidden"
	hidden.Hidden = true
	hiddenC := fx.createChallenge(t, hidden)

	manual := &database.Challenge{
		Title:      "Drink water every day",
		Points:     5,
		MetricType: sql.NullString{String: database.MetricManual, Valid: true},
	}
	manualC := fx.createChallenge(t, manual)

	restricted := tenMileChallenge()
	restricted.Title = "Team-only"
	restricted.TeamIDs = []int64{999} // user has no teams
	restrictedC := fx.createChallenge(t, restricted)

	fx.fake.addRun(4001, 12, time.Now().Add(-time.Hour))

	challenges, err := fx.db.ListChallenges(fx.db.DB())
	require.NoError(t, err)
	require.NoError(t, fx.syncer.SyncConnection(context.Background(), fx.conn, challenges))

	for _, c := range []*database.Challenge{hiddenC, manualC, restrictedC} {
		entries, err := fx.db.ListProgressEntries(fx.db.DB(), fx.user.ID, c.ID)
		require.NoError(t, err)
		assert.Empty(t, entries, "challenge %q must not accrue progress", c.Title)
	}

	// The activity is still marked processed even though nothing matched.
	seen, err := fx.db.HasIngestedActivity(fx.db.DB(), fx.user.ID, 4001)
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestSyncRefreshesExpiredToken(t *testing.T) {
	fx := newSyncFixture(t)
	fx.createChallenge(t, tenMileChallenge())

	// Push the stored expiry into the past so the refresher must act.
	require.NoError(t, fx.db.WriteTx(func(tx *sql.Tx) error {
		return fx.db.UpdateConnectionTokens(tx, fx.conn.ID, "stale-access", "valid-refresh", time.Now().Add(-time.Hour), fx.conn.AthleteID)
	}))
	conn, err := fx.db.GetStravaConnectionByUserID(fx.db.DB(), fx.user.ID)
	require.NoError(t, err)

	challenges, err := fx.db.ListChallenges(fx.db.DB())
	require.NoError(t, err)
	require.NoError(t, fx.syncer.SyncConnection(context.Background(), conn, challenges))

	assert.Equal(t, 1, fx.fake.refreshCount)

	conn, err = fx.db.GetStravaConnectionByUserID(fx.db.DB(), fx.user.ID)
	require.NoError(t, err)
	assert.Equal(t, "fresh-access", conn.AccessToken)
	assert.Equal(t, "fresh-refresh", conn.RefreshToken)
	require.NotNil(t, conn.TokenExpiresAt)
	assert.True(t, conn.TokenExpiresAt.After(time.Now().Add(time.Hour)))
}

func TestSyncRevokedRefreshTokenPropagates(t *testing.T) {
	fx := newSyncFixture(t)
	fx.fake.tokenStatus = http.StatusBadRequest

	require.NoError(t, fx.db.WriteTx(func(tx *sql.Tx) error {
		return fx.db.UpdateConnectionTokens(tx, fx.conn.ID, "stale-access", "revoked-refresh", time.Now().Add(-time.Hour), fx.conn.AthleteID)
	}))
	conn, err := fx.db.GetStravaConnectionByUserID(fx.db.DB(), fx.user.ID)
	require.NoError(t, err)

	err = fx.syncer.SyncConnection(context.Background(), conn, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refreshing token")
}

func TestReconcileAfterEntryRemovalClearsCompletion(t *testing.T) {
	fx := newSyncFixture(t)
	challenge := fx.createChallenge(t, tenMileChallenge())

	now := time.Now()
	fx.fake.addRun(5001, 4, now.Add(-3*time.Hour))
	fx.fake.addRun(5002, 4, now.Add(-2*time.Hour))
	fx.fake.addRun(5003, 3, now.Add(-1*time.Hour))

	challenges, err := fx.db.ListChallenges(fx.db.DB())
	require.NoError(t, err)
	require.NoError(t, fx.syncer.SyncConnection(context.Background(), fx.conn, challenges))

	sub, err := fx.db.GetSubmission(fx.db.DB(), fx.user.ID, challenge.ID)
	require.NoError(t, err)
	require.True(t, sub.Completed)

	// Remove one contributing activity's entry out of band, then reconcile.
	require.NoError(t, fx.db.WriteTx(func(tx *sql.Tx) error {
		_, err := tx.Exec("DELETE FROM progress_entries WHERE user_id = ? AND activity_id = ?", fx.user.ID, int64(5001))
		return err
	}))
	require.NoError(t, fx.syncer.ReconcileChallenge(context.Background(), fx.user.ID, challenge))

	sub, err = fx.db.GetSubmission(fx.db.DB(), fx.user.ID, challenge.ID)
	require.NoError(t, err)
	assert.False(t, sub.Completed, "7 miles no longer reaches the 10-mile target")
	assert.Nil(t, sub.CompletedAt)
}
