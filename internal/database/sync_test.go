package database

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	require.NoError(t, svc.Init())
	return svc
}

func createTestUser(t *testing.T, svc *Service, email string) *User {
	t.Helper()
	var user *User
	require.NoError(t, svc.WriteTx(func(tx *sql.Tx) error {
		var err error
		user, err = svc.CreateUser(tx, email, "tester", "", false)
		return err
	}))
	return user
}

func createTestChallenge(t *testing.T, svc *Service, title string, target float64) *Challenge {
	t.Helper()
	c := &Challenge{
		Title:       title,
		Points:      25,
		MetricType:  sql.NullString{String: MetricDistance, Valid: true},
		TargetValue: sql.NullFloat64{Float64: target, Valid: true},
	}
	require.NoError(t, svc.WriteTx(func(tx *sql.Tx) error {
		var err error
		c, err = svc.CreateChallenge(tx, c)
		return err
	}))
	return c
}

func TestStravaConnectionUpsertAndReplace(t *testing.T) {
	svc := setupTestService(t)
	user := createTestUser(t, svc, "a@example.com")
	expiry := time.Now().Add(time.Hour).UTC().Truncate(time.Second)

	require.NoError(t, svc.WriteTx(func(tx *sql.Tx) error {
		return svc.UpsertStravaConnection(tx, user.ID, 111, "access-1", "refresh-1", expiry)
	}))

	conn, err := svc.GetStravaConnectionByUserID(svc.DB(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(111), conn.AthleteID)
	assert.Equal(t, "access-1", conn.AccessToken)

	// Reconnecting replaces the credential in place: still one row per user.
	require.NoError(t, svc.WriteTx(func(tx *sql.Tx) error {
		return svc.UpsertStravaConnection(tx, user.ID, 222, "access-2", "refresh-2", expiry)
	}))

	replaced, err := svc.GetStravaConnectionByUserID(svc.DB(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, conn.ID, replaced.ID)
	assert.Equal(t, int64(222), replaced.AthleteID)
	assert.Equal(t, "access-2", replaced.AccessToken)

	byAthlete, err := svc.GetStravaConnectionByAthleteID(svc.DB(), 222)
	require.NoError(t, err)
	assert.Equal(t, user.ID, byAthlete.UserID)
}

func TestConnectionErrorAndWatermark(t *testing.T) {
	svc := setupTestService(t)
	user := createTestUser(t, svc, "b@example.com")

	require.NoError(t, svc.WriteTx(func(tx *sql.Tx) error {
		return svc.UpsertStravaConnection(tx, user.ID, 333, "access", "refresh", time.Now().Add(time.Hour))
	}))
	conn, err := svc.GetStravaConnectionByUserID(svc.DB(), user.ID)
	require.NoError(t, err)

	require.NoError(t, svc.WriteTx(func(tx *sql.Tx) error {
		return svc.SetConnectionError(tx, conn.ID, "token refresh rejected")
	}))
	conn, err = svc.GetStravaConnectionByUserID(svc.DB(), user.ID)
	require.NoError(t, err)
	assert.True(t, conn.LastError.Valid)
	assert.Nil(t, conn.LastSyncedAt)

	// A successful sync stamps the watermark and clears the error.
	at := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, svc.WriteTx(func(tx *sql.Tx) error {
		return svc.SetConnectionSynced(tx, conn.ID, at)
	}))
	conn, err = svc.GetStravaConnectionByUserID(svc.DB(), user.ID)
	require.NoError(t, err)
	assert.False(t, conn.LastError.Valid)
	require.NotNil(t, conn.LastSyncedAt)
	assert.Equal(t, at, conn.LastSyncedAt.UTC())
}

func TestIngestedActivityLedger(t *testing.T) {
	svc := setupTestService(t)
	user := createTestUser(t, svc, "c@example.com")

	seen, err := svc.HasIngestedActivity(svc.DB(), user.ID, 9001)
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, svc.WriteTx(func(tx *sql.Tx) error {
		return svc.InsertIngestedActivity(tx, user.ID, 9001, []byte(`{"id":9001}`))
	}))

	seen, err = svc.HasIngestedActivity(svc.DB(), user.ID, 9001)
	require.NoError(t, err)
	assert.True(t, seen)

	// Re-inserting the same pair is a silent no-op.
	require.NoError(t, svc.WriteTx(func(tx *sql.Tx) error {
		return svc.InsertIngestedActivity(tx, user.ID, 9001, []byte(`{"id":9001}`))
	}))

	// Another user seeing the same provider activity is a separate row.
	other := createTestUser(t, svc, "d@example.com")
	seen, err = svc.HasIngestedActivity(svc.DB(), other.ID, 9001)
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestProgressEntryUpsertAndSum(t *testing.T) {
	svc := setupTestService(t)
	user := createTestUser(t, svc, "e@example.com")
	challenge := createTestChallenge(t, svc, "Distance", 16093.44)

	entry := func(activityID int64, value float64) *ProgressEntry {
		return &ProgressEntry{
			UserID:      user.ID,
			ChallengeID: challenge.ID,
			ActivityID:  activityID,
			Value:       value,
			TargetValue: 16093.44,
		}
	}

	require.NoError(t, svc.WriteTx(func(tx *sql.Tx) error {
		if err := svc.UpsertProgressEntry(tx, entry(1, 6437.376)); err != nil {
			return err
		}
		return svc.UpsertProgressEntry(tx, entry(2, 4828.032))
	}))

	total, err := svc.SumProgress(svc.DB(), user.ID, challenge.ID)
	require.NoError(t, err)
	assert.InDelta(t, 11265.408, total, 0.001)

	// Replaying the same activity updates in place instead of double counting.
	require.NoError(t, svc.WriteTx(func(tx *sql.Tx) error {
		return svc.UpsertProgressEntry(tx, entry(1, 6437.376))
	}))
	total, err = svc.SumProgress(svc.DB(), user.ID, challenge.ID)
	require.NoError(t, err)
	assert.InDelta(t, 11265.408, total, 0.001)

	entries, err := svc.ListProgressEntries(svc.DB(), user.ID, challenge.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	ids, err := svc.ChallengeIDsWithProgress(svc.DB(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{challenge.ID}, ids)
}

func TestSumProgressEmptyIsZero(t *testing.T) {
	svc := setupTestService(t)
	user := createTestUser(t, svc, "f@example.com")

	total, err := svc.SumProgress(svc.DB(), user.ID, 12345)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestDeleteIngestedDataForUser(t *testing.T) {
	svc := setupTestService(t)
	user := createTestUser(t, svc, "g@example.com")
	challenge := createTestChallenge(t, svc, "Distance", 10000)

	require.NoError(t, svc.WriteTx(func(tx *sql.Tx) error {
		if err := svc.InsertIngestedActivity(tx, user.ID, 1, []byte(`{}`)); err != nil {
			return err
		}
		if err := svc.InsertIngestedActivity(tx, user.ID, 2, []byte(`{}`)); err != nil {
			return err
		}
		return svc.UpsertProgressEntry(tx, &ProgressEntry{
			UserID: user.ID, ChallengeID: challenge.ID, ActivityID: 1, Value: 5000, TargetValue: 10000,
		})
	}))

	var removedEntries, removedActivities int64
	require.NoError(t, svc.WriteTx(func(tx *sql.Tx) error {
		var err error
		if removedEntries, err = svc.DeleteProgressEntriesForUser(tx, user.ID); err != nil {
			return err
		}
		removedActivities, err = svc.DeleteIngestedActivities(tx, user.ID)
		return err
	}))
	assert.Equal(t, int64(1), removedEntries)
	assert.Equal(t, int64(2), removedActivities)

	seen, err := svc.HasIngestedActivity(svc.DB(), user.ID, 1)
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestSubmissionUpsert(t *testing.T) {
	svc := setupTestService(t)
	user := createTestUser(t, svc, "h@example.com")
	challenge := createTestChallenge(t, svc, "Distance", 10000)

	completedAt := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, svc.WriteTx(func(tx *sql.Tx) error {
		return svc.UpsertSubmission(tx, &Submission{
			UserID:      user.ID,
			ChallengeID: challenge.ID,
			Completed:   true,
			CompletedAt: &completedAt,
			Source:      SubmissionSourceSync,
		})
	}))

	sub, err := svc.GetSubmission(svc.DB(), user.ID, challenge.ID)
	require.NoError(t, err)
	assert.True(t, sub.Completed)
	require.NotNil(t, sub.CompletedAt)
	assert.Equal(t, completedAt, sub.CompletedAt.UTC())

	// Overwriting flips state in place; still one row for the pair.
	require.NoError(t, svc.WriteTx(func(tx *sql.Tx) error {
		return svc.UpsertSubmission(tx, &Submission{
			UserID:      user.ID,
			ChallengeID: challenge.ID,
			Completed:   false,
			Source:      SubmissionSourceSync,
		})
	}))

	subs, err := svc.ListSubmissionsByUser(svc.DB(), user.ID)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.False(t, subs[0].Completed)
	assert.Nil(t, subs[0].CompletedAt)
}

func TestLeaderboardStandings(t *testing.T) {
	svc := setupTestService(t)
	winner := createTestUser(t, svc, "winner@example.com")
	runnerUp := createTestUser(t, svc, "runnerup@example.com")

	big := createTestChallenge(t, svc, "Big", 1000)
	small := createTestChallenge(t, svc, "Small", 1000)
	require.NoError(t, svc.WriteTx(func(tx *sql.Tx) error {
		big.Points = 100
		if err := svc.UpdateChallenge(tx, big); err != nil {
			return err
		}
		small.Points = 10
		return svc.UpdateChallenge(tx, small)
	}))

	now := time.Now().UTC()
	complete := func(tx *sql.Tx, userID, challengeID int64) error {
		return svc.UpsertSubmission(tx, &Submission{
			UserID: userID, ChallengeID: challengeID,
			Completed: true, CompletedAt: &now, Source: SubmissionSourceSync,
		})
	}
	require.NoError(t, svc.WriteTx(func(tx *sql.Tx) error {
		if err := complete(tx, winner.ID, big.ID); err != nil {
			return err
		}
		if err := complete(tx, winner.ID, small.ID); err != nil {
			return err
		}
		return complete(tx, runnerUp.ID, small.ID)
	}))

	standings, err := svc.GetUserStandings(svc.DB())
	require.NoError(t, err)
	require.Len(t, standings, 2)
	assert.Equal(t, winner.ID, standings[0].UserID)
	assert.Equal(t, 110, standings[0].Points)
	assert.Equal(t, runnerUp.ID, standings[1].UserID)
	assert.Equal(t, 10, standings[1].Points)
}
