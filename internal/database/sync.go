package database

import (
	"database/sql"
	"time"
)

// Queries backing the ingestion pipeline: Strava connections, the dedup
// ledger, progress entries, and submissions. Every write is an upsert keyed
// on the entity's natural unique key so a retry after a crash replays safely
// without duplicating rows.

// --- Strava Connections ---

const connectionColumns = `id, user_id, athlete_id, access_token, refresh_token,
	token_expires_at, last_synced_at, last_error, created_at, updated_at`

// UpsertStravaConnection stores a user's credential after the OAuth callback.
// Reconnecting replaces the previous token pair for that user.
func (s *Service) UpsertStravaConnection(tx *sql.Tx, userID, athleteID int64, accessToken, refreshToken string, expiresAt time.Time) error {
	query := `
		INSERT INTO strava_connections (user_id, athlete_id, access_token, refresh_token, token_expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			athlete_id = excluded.athlete_id,
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			token_expires_at = excluded.token_expires_at,
			last_error = NULL,
			updated_at = CURRENT_TIMESTAMP;`
	_, err := tx.Exec(query, userID, athleteID, accessToken, refreshToken, formatTime(expiresAt))
	return err
}

func (s *Service) GetStravaConnectionByUserID(db DBorTx, userID int64) (*StravaConnection, error) {
	row := db.QueryRow(`SELECT `+connectionColumns+` FROM strava_connections WHERE user_id = ?;`, userID)
	return scanConnection(row.Scan)
}

func (s *Service) GetStravaConnectionByAthleteID(db DBorTx, athleteID int64) (*StravaConnection, error) {
	row := db.QueryRow(`SELECT `+connectionColumns+` FROM strava_connections WHERE athlete_id = ?;`, athleteID)
	return scanConnection(row.Scan)
}

// ListStravaConnections returns every stored connection, for cron-triggered
// batch runs.
func (s *Service) ListStravaConnections(db DBorTx) ([]StravaConnection, error) {
	rows, err := db.Query(`SELECT ` + connectionColumns + ` FROM strava_connections ORDER BY id;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conns []StravaConnection
	for rows.Next() {
		conn, err := scanConnection(rows.Scan)
		if err != nil {
			return nil, err
		}
		conns = append(conns, *conn)
	}
	return conns, rows.Err()
}

// UpdateConnectionTokens persists a refreshed token pair and clears any
// previously recorded error.
func (s *Service) UpdateConnectionTokens(tx *sql.Tx, connectionID int64, accessToken, refreshToken string, expiresAt time.Time, athleteID int64) error {
	query := `
		UPDATE strava_connections SET
			access_token = ?, refresh_token = ?, token_expires_at = ?,
			athlete_id = ?, last_error = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?;`
	_, err := tx.Exec(query, accessToken, refreshToken, formatTime(expiresAt), athleteID, connectionID)
	return err
}

// SetConnectionSynced advances the connection's watermark and clears any
// stored error after a successful sync.
func (s *Service) SetConnectionSynced(tx *sql.Tx, connectionID int64, at time.Time) error {
	query := `
		UPDATE strava_connections SET
			last_synced_at = ?, last_error = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?;`
	_, err := tx.Exec(query, formatTime(at), connectionID)
	return err
}

// SetConnectionError records a per-connection failure. The watermark is left
// alone so the next trigger retries from the last successful sync.
func (s *Service) SetConnectionError(tx *sql.Tx, connectionID int64, message string) error {
	query := `UPDATE strava_connections SET last_error = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?;`
	_, err := tx.Exec(query, message, connectionID)
	return err
}

func (s *Service) DeleteStravaConnection(tx *sql.Tx, userID int64) error {
	res, err := tx.Exec(`DELETE FROM strava_connections WHERE user_id = ?;`, userID)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func scanConnection(scan func(dest ...interface{}) error) (*StravaConnection, error) {
	c := &StravaConnection{}
	var expiresAt, syncedAt sql.NullString
	err := scan(
		&c.ID, &c.UserID, &c.AthleteID, &c.AccessToken, &c.RefreshToken,
		&expiresAt, &syncedAt, &c.LastError, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.TokenExpiresAt = parseNullTime(expiresAt)
	c.LastSyncedAt = parseNullTime(syncedAt)
	return c, nil
}

// --- Dedup Ledger ---

// HasIngestedActivity reports whether the activity was already evaluated for
// this user on any prior run.
func (s *Service) HasIngestedActivity(db DBorTx, userID, activityID int64) (bool, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM ingested_activities WHERE user_id = ? AND activity_id = ?;`,
		userID, activityID).Scan(&n)
	return n > 0, err
}

// InsertIngestedActivity records the dedup marker. ON CONFLICT DO NOTHING
// keeps a replay after a crash from failing on the unique key.
func (s *Service) InsertIngestedActivity(tx *sql.Tx, userID, activityID int64, rawPayload []byte) error {
	query := `
		INSERT INTO ingested_activities (user_id, activity_id, raw_payload)
		VALUES (?, ?, ?)
		ON CONFLICT (user_id, activity_id) DO NOTHING;`
	_, err := tx.Exec(query, userID, activityID, rawPayload)
	return err
}

// DeleteIngestedActivities removes every ledger row for the user. Part of the
// bulk activity-removal operation; the caller must recompute submissions for
// the affected challenges afterwards.
func (s *Service) DeleteIngestedActivities(tx *sql.Tx, userID int64) (int64, error) {
	res, err := tx.Exec(`DELETE FROM ingested_activities WHERE user_id = ?;`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Progress Entries ---

// UpsertProgressEntry records one activity's contribution toward one
// challenge. The per-entry completed flag is always written false; completion
// lives on the Submission.
func (s *Service) UpsertProgressEntry(tx *sql.Tx, e *ProgressEntry) error {
	query := `
		INSERT INTO progress_entries (user_id, challenge_id, activity_id, value, target_value, completed)
		VALUES (?, ?, ?, ?, ?, 0)
		ON CONFLICT (user_id, challenge_id, activity_id) DO UPDATE SET
			value = excluded.value,
			target_value = excluded.target_value;`
	_, err := tx.Exec(query, e.UserID, e.ChallengeID, e.ActivityID, e.Value, e.TargetValue)
	return err
}

// SumProgress computes the accumulated progress for a (user, challenge) pair
// fresh from the still-existing entries. Summing on demand, rather than
// keeping a running counter, stays correct when entries are deleted out of
// band.
func (s *Service) SumProgress(db DBorTx, userID, challengeID int64) (float64, error) {
	var total sql.NullFloat64
	err := db.QueryRow(`SELECT SUM(value) FROM progress_entries WHERE user_id = ? AND challenge_id = ?;`,
		userID, challengeID).Scan(&total)
	if err != nil {
		return 0, err
	}
	return total.Float64, nil
}

// ChallengeIDsWithProgress returns the distinct challenges the user has
// progress entries for. Captured before a bulk removal so the affected
// submissions can be recomputed afterwards.
func (s *Service) ChallengeIDsWithProgress(db DBorTx, userID int64) ([]int64, error) {
	rows, err := db.Query(`SELECT DISTINCT challenge_id FROM progress_entries WHERE user_id = ?;`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteProgressEntriesForUser removes every progress entry for the user.
// Manual submissions have no entries, so only synced contributions go away.
func (s *Service) DeleteProgressEntriesForUser(tx *sql.Tx, userID int64) (int64, error) {
	res, err := tx.Exec(`DELETE FROM progress_entries WHERE user_id = ?;`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListProgressEntries returns the user's entries for one challenge, newest first.
func (s *Service) ListProgressEntries(db DBorTx, userID, challengeID int64) ([]ProgressEntry, error) {
	query := `
		SELECT id, user_id, challenge_id, activity_id, value, target_value, completed, created_at
		FROM progress_entries
		WHERE user_id = ? AND challenge_id = ?
		ORDER BY created_at DESC, id DESC;`
	rows, err := db.Query(query, userID, challengeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []ProgressEntry
	for rows.Next() {
		var e ProgressEntry
		var completed int
		if err := rows.Scan(&e.ID, &e.UserID, &e.ChallengeID, &e.ActivityID,
			&e.Value, &e.TargetValue, &completed, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Completed = completed != 0
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Submissions ---

func (s *Service) GetSubmission(db DBorTx, userID, challengeID int64) (*Submission, error) {
	query := `
		SELECT id, user_id, challenge_id, completed, completed_at, source, updated_at
		FROM submissions WHERE user_id = ? AND challenge_id = ?;`
	sub := &Submission{}
	var completed int
	var completedAt sql.NullString
	err := db.QueryRow(query, userID, challengeID).Scan(
		&sub.ID, &sub.UserID, &sub.ChallengeID, &completed, &completedAt, &sub.Source, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sub.Completed = completed != 0
	sub.CompletedAt = parseNullTime(completedAt)
	return sub, nil
}

// ListSubmissionsByUser returns every submission the user has.
func (s *Service) ListSubmissionsByUser(db DBorTx, userID int64) ([]Submission, error) {
	query := `
		SELECT id, user_id, challenge_id, completed, completed_at, source, updated_at
		FROM submissions WHERE user_id = ? ORDER BY challenge_id;`
	rows, err := db.Query(query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []Submission
	for rows.Next() {
		var sub Submission
		var completed int
		var completedAt sql.NullString
		if err := rows.Scan(&sub.ID, &sub.UserID, &sub.ChallengeID, &completed,
			&completedAt, &sub.Source, &sub.UpdatedAt); err != nil {
			return nil, err
		}
		sub.Completed = completed != 0
		sub.CompletedAt = parseNullTime(completedAt)
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// UpsertSubmission writes the authoritative completion record for a
// (user, challenge) pair.
func (s *Service) UpsertSubmission(tx *sql.Tx, sub *Submission) error {
	var completedAt interface{}
	if sub.CompletedAt != nil {
		completedAt = formatTime(*sub.CompletedAt)
	}
	query := `
		INSERT INTO submissions (user_id, challenge_id, completed, completed_at, source)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, challenge_id) DO UPDATE SET
			completed = excluded.completed,
			completed_at = excluded.completed_at,
			source = excluded.source,
			updated_at = CURRENT_TIMESTAMP;`
	_, err := tx.Exec(query, sub.UserID, sub.ChallengeID, boolToInt(sub.Completed), completedAt, sub.Source)
	return err
}

// --- time helpers ---

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &t
}
