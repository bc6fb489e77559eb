package ingest

import (
	"context"
	"database/sql"
	"net/http"
	"testing"
	"time"

	"github.com/Fillbob/workout-challenge-prod-sub000/internal/database"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testWebhookSecret = "hook-secret"
	testCronSecret    = "cron-secret"
)

func newBatchFixture(t *testing.T) (*syncFixture, *Runner) {
	fx := newSyncFixture(t)
	runner := NewRunner(fx.db, fx.syncer, testWebhookSecret, testCronSecret)
	return fx, runner
}

func TestTriggerRejectsWithoutCredentials(t *testing.T) {
	_, runner := newBatchFixture(t)

	_, err := runner.Trigger(context.Background(), TriggerContext{})
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = runner.Trigger(context.Background(), TriggerContext{CronSecret: "wrong"})
	assert.ErrorIs(t, err, ErrUnauthorized)

	// An athlete id without the webhook secret is not webhook-authenticated,
	// and carries no other credential either.
	_, err = runner.Trigger(context.Background(), TriggerContext{AthleteID: 4242})
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestTriggerCronSyncsEveryConnection(t *testing.T) {
	fx, runner := newBatchFixture(t)

	// A second user with their own connection.
	require.NoError(t, fx.db.WriteTx(func(tx *sql.Tx) error {
		other, err := fx.db.CreateUser(tx, "cyclist@example.com", "cyclist", "", false)
		if err != nil {
			return err
		}
		return fx.db.UpsertStravaConnection(tx, other.ID, 7777, "other-access", "other-refresh", time.Now().Add(2*time.Hour))
	}))

	result, err := runner.Trigger(context.Background(), TriggerContext{CronSecret: testCronSecret})
	require.NoError(t, err)
	assert.Equal(t, "processed", result.Status)
	assert.Equal(t, 2, result.Connections)
}

func TestTriggerWebhookResolvesOneAthlete(t *testing.T) {
	fx, runner := newBatchFixture(t)
	challenge := fx.createChallenge(t, tenMileChallenge())
	fx.fake.addRun(6001, 12, time.Now().Add(-time.Hour))

	result, err := runner.Trigger(context.Background(), TriggerContext{
		WebhookSecret: testWebhookSecret,
		AthleteID:     4242,
	})
	require.NoError(t, err)
	assert.Equal(t, "processed", result.Status)
	assert.Equal(t, 1, result.Connections)

	sub, err := fx.db.GetSubmission(fx.db.DB(), fx.user.ID, challenge.ID)
	require.NoError(t, err)
	assert.True(t, sub.Completed)
}

func TestTriggerWebhookUnknownAthleteIsEmpty(t *testing.T) {
	_, runner := newBatchFixture(t)

	result, err := runner.Trigger(context.Background(), TriggerContext{
		WebhookSecret: testWebhookSecret,
		AthleteID:     999999,
	})
	require.NoError(t, err)
	assert.Equal(t, "processed", result.Status)
	assert.Equal(t, 0, result.Connections)
}

func TestTriggerSessionUserSyncsOwnConnection(t *testing.T) {
	fx, runner := newBatchFixture(t)

	result, err := runner.Trigger(context.Background(), TriggerContext{SessionUserID: fx.user.ID})
	require.NoError(t, err)
	assert.Equal(t, "processed", result.Status)
	assert.Equal(t, 1, result.Connections)
}

func TestTriggerSessionUserWithoutConnection(t *testing.T) {
	fx, runner := newBatchFixture(t)

	var other *database.User
	require.NoError(t, fx.db.WriteTx(func(tx *sql.Tx) error {
		var err error
		other, err = fx.db.CreateUser(tx, "lurker@example.com", "lurker", "", false)
		return err
	}))

	_, err := runner.Trigger(context.Background(), TriggerContext{SessionUserID: other.ID})
	assert.ErrorIs(t, err, ErrNoConnection)
}

// A failed connection is recorded on its row and the batch still reports
// processed: per-connection failures never poison the run.
func TestRunRecordsConnectionFailure(t *testing.T) {
	fx, runner := newBatchFixture(t)
	fx.fake.tokenStatus = http.StatusBadRequest

	// Expire the token so the sync must attempt (and fail) a refresh.
	require.NoError(t, fx.db.WriteTx(func(tx *sql.Tx) error {
		return fx.db.UpdateConnectionTokens(tx, fx.conn.ID, "stale", "revoked", time.Now().Add(-time.Hour), fx.conn.AthleteID)
	}))

	result, err := runner.Trigger(context.Background(), TriggerContext{CronSecret: testCronSecret})
	require.NoError(t, err)
	assert.Equal(t, "processed", result.Status)
	assert.Equal(t, 1, result.Connections)

	conn, err := fx.db.GetStravaConnectionByUserID(fx.db.DB(), fx.user.ID)
	require.NoError(t, err)
	assert.True(t, conn.LastError.Valid)
	assert.Contains(t, conn.LastError.String, "refreshing token")
	assert.Nil(t, conn.LastSyncedAt, "watermark must not advance on failure")
}

func TestEmptySecretsNeverMatch(t *testing.T) {
	fx := newSyncFixture(t)
	runner := NewRunner(fx.db, fx.syncer, "", "")

	_, err := runner.Trigger(context.Background(), TriggerContext{CronSecret: ""})
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = runner.Trigger(context.Background(), TriggerContext{WebhookSecret: "", AthleteID: 4242})
	assert.ErrorIs(t, err, ErrUnauthorized)
}
