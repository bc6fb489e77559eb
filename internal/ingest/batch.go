package ingest

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/Fillbob/workout-challenge-prod-sub000/internal/database"
)

// Trigger authorization failures, surfaced before any connection is touched.
var (
	// ErrUnauthorized means no webhook secret, cron secret, or session user
	// validated; the batch never starts.
	ErrUnauthorized = errors.New("no valid trigger credentials")
	// ErrNoConnection means a session user asked for a sync but has no
	// linked connection.
	ErrNoConnection = errors.New("no connection for user")
)

// TriggerContext carries whichever trigger credentials were present on an
// inbound request. Zero values mean "absent".
type TriggerContext struct {
	// WebhookSecret is the value of the webhook shared-secret header.
	WebhookSecret string
	// AthleteID is the provider athlete id carried by a webhook payload.
	AthleteID int64
	// CronSecret is the value of the cron shared-secret header.
	CronSecret string
	// SessionUserID is the authenticated end user, if any.
	SessionUserID int64
}

// BatchResult is the summary returned to the hosting layer. The batch always
// reports "processed" even when individual connections failed; those failures
// are visible only on each connection's last_error field.
type BatchResult struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
}

// Runner iterates the relevant connections for a trigger, invoking the sync
// orchestrator once per connection and isolating per-connection failures.
type Runner struct {
	db            *database.Service
	syncer        *Syncer
	webhookSecret string
	cronSecret    string
}

// NewRunner creates a batch runner. An empty shared secret disables that
/// trigger source: it can never match an inbound header.
func NewRunner(db *database.Service, syncer *Syncer, webhookSecret, cronSecret string) *Runner {
	return &Runner{
		db:            db,
		syncer:        syncer,
		webhookSecret: webhookSecret,
		cronSecret:    cronSecret,
	}
}

// Trigger authorizes the request and runs the batch over the resolved
// connection set.
//
// Authorization precedence: the webhook secret is checked first when an
// athlete id is present, then the cron secret, then the session user. The
// first credential that validates determines the connection set; if none
// validate the request is rejected with ErrUnauthorized.
func (r *Runner) Trigger(ctx context.Context, trig TriggerContext) (*BatchResult, error) {
	conns, err := r.resolveConnections(trig)
	if err != nil {
		return nil, err
	}
	return r.Run(ctx, conns)
}

func (r *Runner) resolveConnections(trig TriggerContext) ([]database.StravaConnection, error) {
	if trig.AthleteID != 0 && secretMatches(trig.WebhookSecret, r.webhookSecret) {
		conn, err := r.db.GetStravaConnectionByAthleteID(r.db.DB(), trig.AthleteID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				// A webhook for an athlete we no longer track is not an
				// error; there is simply nothing to sync.
				return nil, nil
			}
			return nil, fmt.Errorf("resolving athlete %d: %w", trig.AthleteID, err)
		}
		return []database.StravaConnection{*conn}, nil
	}

	if secretMatches(trig.CronSecret, r.cronSecret) {
		conns, err := r.db.ListStravaConnections(r.db.DB())
		if err != nil {
			return nil, fmt.Errorf("listing connections: %w", err)
		}
		return conns, nil
	}

	if trig.SessionUserID != 0 {
		conn, err := r.db.GetStravaConnectionByUserID(r.db.DB(), trig.SessionUserID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, ErrNoConnection
			}
			return nil, fmt.Errorf("resolving connection for user %d: %w", trig.SessionUserID, err)
		}
		return []database.StravaConnection{*conn}, nil
	}

	return nil, ErrUnauthorized
}

// Run syncs each connection in sequence against the currently active
// challenge set. Connections are deliberately not processed concurrently:
// the ledger-then-evaluate ordering must stay consistent and the progress
// writes are not designed for concurrent writers on the same user.
func (r *Runner) Run(ctx context.Context, conns []database.StravaConnection) (*BatchResult, error) {
	challenges, err := r.db.ListChallenges(r.db.DB())
	if err != nil {
		return nil, fmt.Errorf("loading challenges: %w", err)
	}

	for i := range conns {
		conn := conns[i]
		if err := r.syncer.SyncConnection(ctx, &conn, challenges); err != nil {
			log.Printf("ERROR: sync failed for connection %d (user %d): %v", conn.ID, conn.UserID, err)
			r.recordConnectionError(conn.ID, err)
			continue
		}
	}

	return &BatchResult{Status: "processed", Connections: len(conns)}, nil
}

// recordConnectionError stores the failure on the connection row so the user
// or an admin can inspect it. The batch response itself stays a success.
func (r *Runner) recordConnectionError(connectionID int64, syncErr error) {
	err := r.db.WriteTx(func(tx *sql.Tx) error {
		return r.db.SetConnectionError(tx, connectionID, syncErr.Error())
	})
	if err != nil {
		log.Printf("WARN: could not record error on connection %d: %v", connectionID, err)
	}
}

// secretMatches compares a presented secret against the configured one.
// An unconfigured (empty) secret never matches.
func secretMatches(presented, configured string) bool {
	if configured == "" || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(configured)) == 1
}
