package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/Fillbob/workout-challenge-prod-sub000/internal/database"
	"github.com/Fillbob/workout-challenge-prod-sub000/internal/realtime"
	"github.com/Fillbob/workout-challenge-prod-sub000/internal/strava"
)

// syncLookback is the floor on how far back a fetch may reach. It guards a
// first-time sync, which has no watermark, from requesting unbounded history.
const syncLookback = 30 * 24 * time.Hour

// Syncer drives the per-connection sync: refresh token, fetch activities,
// evaluate each unseen activity against the eligible challenges, accumulate
// progress, and reconcile submissions for every touched challenge.
type Syncer struct {
	db        *database.Service
	client    *strava.Client
	refresher *TokenRefresher
	broker    *realtime.Broker // optional; nil disables notifications
}

// NewSyncer wires the orchestrator's dependencies together.
func NewSyncer(db *database.Service, client *strava.Client, refresher *TokenRefresher, broker *realtime.Broker) *Syncer {
	return &Syncer{
		db:        db,
		client:    client,
		refresher: refresher,
		broker:    broker,
	}
}

// SyncConnection runs one full sync for one connection. Any error aborts this
// connection only; the batch runner records it on the connection row and
// moves on. The watermark advances only after a fully successful run, so a
// failed run is retried from the previous watermark on the next trigger.
func (s *Syncer) SyncConnection(ctx context.Context, conn *database.StravaConnection, challenges []database.Challenge) error {
	conn, err := s.refresher.EnsureFresh(ctx, conn)
	if err != nil {
		return fmt.Errorf("refreshing token: %w", err)
	}

	since := time.Now().Add(-syncLookback)
	if conn.LastSyncedAt != nil && conn.LastSyncedAt.After(since) {
		since = *conn.LastSyncedAt
	}

	records, err := s.client.FetchActivitiesSince(ctx, conn.AccessToken, since)
	if err != nil {
		return fmt.Errorf("fetching activities: %w", err)
	}

	// The user's team memberships, and with them the permitted challenge
	// set, are computed once per connection.
	teamIDs, err := s.db.GetTeamIDsByUserID(s.db.DB(), conn.UserID)
	if err != nil {
		return fmt.Errorf("loading team memberships: %w", err)
	}

	permitted := permittedChallenges(challenges, teamIDs)

	touched := make(map[int64]*database.Challenge)
	for i := range records {
		activity := Normalize(records[i])

		seen, err := s.db.HasIngestedActivity(s.db.DB(), conn.UserID, activity.ID)
		if err != nil {
			return fmt.Errorf("checking dedup ledger for activity %d: %w", activity.ID, err)
		}
		if seen {
			// Already evaluated on a prior run: no re-evaluation, no
			// re-marking.
			continue
		}

		// Collect every matching challenge first, then write the progress
		// entries and the ledger row in one transaction. A crash can
		// therefore never mark an activity processed after a partial
		// contribution.
		type contribution struct {
			challenge *database.Challenge
			value     float64
		}
		var contributions []contribution
		for j := range permitted {
			challenge := permitted[j]
			if !Matches(&activity, challenge, teamIDs) {
				continue
			}
			value, ok := SelectMetricValue(&activity, challenge.MetricType.String)
			if !ok {
				continue
			}
			contributions = append(contributions, contribution{challenge: challenge, value: value})
		}

		err = s.db.WriteTx(func(tx *sql.Tx) error {
			for _, contrib := range contributions {
				entry := &database.ProgressEntry{
					UserID:      conn.UserID,
					ChallengeID: contrib.challenge.ID,
					ActivityID:  activity.ID,
					Value:       contrib.value,
					TargetValue: contrib.challenge.TargetValue.Float64,
				}
				if err := s.db.UpsertProgressEntry(tx, entry); err != nil {
					return fmt.Errorf("recording progress for challenge %d: %w", contrib.challenge.ID, err)
				}
			}
			return s.db.InsertIngestedActivity(tx, conn.UserID, activity.ID, activity.Raw)
		})
		if err != nil {
			return fmt.Errorf("persisting activity %d: %w", activity.ID, err)
		}

		for _, contrib := range contributions {
			touched[contrib.challenge.ID] = contrib.challenge
		}
	}

	// Recompute completion for every challenge touched during this run.
	// Challenges with no matching activity in this run are left alone.
	for _, challenge := range touched {
		if err := s.ReconcileChallenge(ctx, conn.UserID, challenge); err != nil {
			return fmt.Errorf("reconciling challenge %d: %w", challenge.ID, err)
		}
	}

	err = s.db.WriteTx(func(tx *sql.Tx) error {
		return s.db.SetConnectionSynced(tx, conn.ID, time.Now())
	})
	if err != nil {
		return fmt.Errorf("advancing watermark: %w", err)
	}

	return nil
}

// ReconcileChallenge recomputes a user's accumulated progress for one
// challenge fresh from the still-existing progress entries and updates the
// submission accordingly. Also used after the bulk activity-removal
// operation, where totals can only have shrunk.
func (s *Syncer) ReconcileChallenge(ctx context.Context, userID int64, challenge *database.Challenge) error {
	total, err := s.db.SumProgress(s.db.DB(), userID, challenge.ID)
	if err != nil {
		return fmt.Errorf("summing progress: %w", err)
	}

	prior, err := s.db.GetSubmission(s.db.DB(), userID, challenge.ID)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("loading submission: %w", err)
		}
		prior = nil
	}

	completed, completedAt := DeriveCompletion(total, challenge.TargetValue.Float64, prior, time.Now())

	sub := &database.Submission{
		UserID:      userID,
		ChallengeID: challenge.ID,
		Completed:   completed,
		CompletedAt: completedAt,
		Source:      database.SubmissionSourceSync,
	}
	err = s.db.WriteTx(func(tx *sql.Tx) error {
		return s.db.UpsertSubmission(tx, sub)
	})
	if err != nil {
		return fmt.Errorf("upserting submission: %w", err)
	}

	// Notify the user the first time this reconciliation crosses the
	// threshold. Best-effort: notification failure never fails a sync.
	if completed && (prior == nil || !prior.Completed) {
		s.notifyCompleted(userID, challenge, total)
	}

	return nil
}

func (s *Syncer) notifyCompleted(userID int64, challenge *database.Challenge, total float64) {
	if s.broker == nil {
		return
	}
	s.broker.NotifyUser(userID, realtime.Message{
		Type: "challenge_completed",
		Payload: map[string]interface{}{
			"challengeId": challenge.ID,
			"title":       challenge.Title,
			"points":      challenge.Points,
			"total":       total,
			"target":      challenge.TargetValue.Float64,
		},
	})
	log.Printf("INFO: user %d completed challenge %d (%s)", userID, challenge.ID, challenge.Title)
}

// permittedChallenges narrows the active challenge set to the ones this
// user's team memberships allow and that participate in ingestion at all.
// The per-activity rules (window, type allowlist, metric presence) are
// checked in Matches.
func permittedChallenges(challenges []database.Challenge, teamIDs []int64) []*database.Challenge {
	var permitted []*database.Challenge
	for i := range challenges {
		c := &challenges[i]
		if c.Hidden || !c.AutoVerified() {
			continue
		}
		if !TeamPermitted(c, teamIDs) {
			continue
		}
		permitted = append(permitted, c)
	}
	return permitted
}
