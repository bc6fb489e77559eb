package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// challenge columns in scan order, shared between the query functions below.
const challengeColumns = `id, week, title, description, start_date, end_date, points,
	team_ids, hidden, metric_type, target_value, target_unit, activity_types, created_at`

// CreateChallenge inserts a challenge definition. The caller is responsible
// for having normalized any distance target to meters already.
func (s *Service) CreateChallenge(tx *sql.Tx, c *Challenge) (*Challenge, error) {
	teamIDs, activityTypes, err := encodeChallengeLists(c)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO challenges
			(week, title, description, start_date, end_date, points, team_ids,
			 hidden, metric_type, target_value, target_unit, activity_types)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`
	res, err := tx.Exec(query,
		c.Week, c.Title, c.Description, c.StartDate, c.EndDate, c.Points,
		teamIDs, boolToInt(c.Hidden), c.MetricType, c.TargetValue, c.TargetUnit, activityTypes)
	if err != nil {
		return nil, err
	}
	id, _ := res.LastInsertId()
	return s.GetChallengeByID(tx, id)
}

// UpdateChallenge replaces every editable field of a challenge.
func (s *Service) UpdateChallenge(tx *sql.Tx, c *Challenge) error {
	teamIDs, activityTypes, err := encodeChallengeLists(c)
	if err != nil {
		return err
	}

	query := `
		UPDATE challenges SET
			week = ?, title = ?, description = ?, start_date = ?, end_date = ?,
			points = ?, team_ids = ?, hidden = ?, metric_type = ?,
			target_value = ?, target_unit = ?, activity_types = ?
		WHERE id = ?;`
	res, err := tx.Exec(query,
		c.Week, c.Title, c.Description, c.StartDate, c.EndDate, c.Points,
		teamIDs, boolToInt(c.Hidden), c.MetricType, c.TargetValue, c.TargetUnit,
		activityTypes, c.ID)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Service) DeleteChallenge(tx *sql.Tx, id int64) error {
	_, err := tx.Exec(`DELETE FROM challenges WHERE id = ?;`, id)
	return err
}

func (s *Service) GetChallengeByID(db DBorTx, id int64) (*Challenge, error) {
	row := db.QueryRow(`SELECT `+challengeColumns+` FROM challenges WHERE id = ?;`, id)
	return scanChallenge(row.Scan)
}

// ListChallenges returns every challenge, hidden ones included. Admin use.
func (s *Service) ListChallenges(db DBorTx) ([]Challenge, error) {
	return s.queryChallenges(db, `SELECT `+challengeColumns+` FROM challenges ORDER BY week, id;`)
}

// ListVisibleChallenges returns every non-hidden challenge, for the
// participant-facing challenge list.
func (s *Service) ListVisibleChallenges(db DBorTx) ([]Challenge, error) {
	return s.queryChallenges(db, `SELECT `+challengeColumns+` FROM challenges WHERE hidden = 0 ORDER BY week, id;`)
}

func (s *Service) queryChallenges(db DBorTx, query string, args ...interface{}) ([]Challenge, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var challenges []Challenge
	for rows.Next() {
		c, err := scanChallenge(rows.Scan)
		if err != nil {
			return nil, err
		}
		challenges = append(challenges, *c)
	}
	return challenges, rows.Err()
}

// scanChallenge reads one challenge row via the given scan function, decoding
// the JSON-encoded list columns into their slice fields.
func scanChallenge(scan func(dest ...interface{}) error) (*Challenge, error) {
	c := &Challenge{}
	var teamIDs, activityTypes sql.NullString
	var hidden int
	err := scan(
		&c.ID, &c.Week, &c.Title, &c.Description, &c.StartDate, &c.EndDate,
		&c.Points, &teamIDs, &hidden, &c.MetricType, &c.TargetValue,
		&c.TargetUnit, &activityTypes, &c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Hidden = hidden != 0

	if teamIDs.Valid && teamIDs.String != "" {
		if err := json.Unmarshal([]byte(teamIDs.String), &c.TeamIDs); err != nil {
			return nil, fmt.Errorf("decoding team_ids for challenge %d: %w", c.ID, err)
		}
	}
	if activityTypes.Valid && activityTypes.String != "" {
		if err := json.Unmarshal([]byte(activityTypes.String), &c.ActivityTypes); err != nil {
			return nil, fmt.Errorf("decoding activity_types for challenge %d: %w", c.ID, err)
		}
	}
	return c, nil
}

// encodeChallengeLists marshals the slice fields to their JSON column values.
// Empty slices are stored as NULL, meaning "no restriction".
func encodeChallengeLists(c *Challenge) (teamIDs, activityTypes interface{}, err error) {
	if len(c.TeamIDs) > 0 {
		b, err := json.Marshal(c.TeamIDs)
		if err != nil {
			return nil, nil, err
		}
		teamIDs = string(b)
	}
	if len(c.ActivityTypes) > 0 {
		b, err := json.Marshal(c.ActivityTypes)
		if err != nil {
			return nil, nil, err
		}
		activityTypes = string(b)
	}
	return teamIDs, activityTypes, nil
}
