package database

import (
	"database/sql"
	"time"
)

// User represents a record in the 'users' table.
// It uses `sql.NullString` for fields that can be NULL in the database,
// such as the password for an OAuth-only user.
type User struct {
	ID           int64          `json:"id"`
	Email        string         `json:"email"`
	Username     string         `json:"username"`
	PasswordHash sql.NullString `json:"-"` // Omit from JSON responses for security
	IsAdmin      bool           `json:"isAdmin"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// Team represents a record in the 'teams' table.
type Team struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	JoinCode      string    `json:"joinCode"`
	CreatorUserID int64     `json:"creatorUserId"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Metric types a challenge may track. A challenge with MetricManual (or no
// metric at all) is completed only by direct user action; the others are
// auto-verified from synced activity data.
const (
	MetricManual    = "manual"
	MetricDistance  = "distance"
	MetricDuration  = "duration"
	MetricElevation = "elevation"
	MetricSteps     = "steps"
)

// Challenge represents a record in the 'challenges' table.
//
// StartDate and EndDate hold the raw bound strings as entered: either a full
// RFC3339 timestamp or a date-only value. Date-only end bounds are inclusive
// through the end of that day; the ingest package owns that interpretation.
// TeamIDs empty means the challenge is open to every team. ActivityTypes empty
// means any provider activity type counts.
type Challenge struct {
	ID            int64          `json:"id"`
	Week          int            `json:"week"`
	Title         string         `json:"title"`
	Description   sql.NullString `json:"description"`
	StartDate     sql.NullString `json:"startDate"`
	EndDate       sql.NullString `json:"endDate"`
	Points        int            `json:"points"`
	TeamIDs       []int64        `json:"teamIds"`
	Hidden        bool           `json:"hidden"`
	MetricType    sql.NullString `json:"metricType"`
	TargetValue   sql.NullFloat64 `json:"targetValue"`
	TargetUnit    sql.NullString `json:"targetUnit"`
	ActivityTypes []string       `json:"activityTypes"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// AutoVerified reports whether the challenge participates in activity
// ingestion: it needs a non-manual metric and a positive target.
func (c *Challenge) AutoVerified() bool {
	return c.MetricType.Valid && c.MetricType.String != MetricManual &&
		c.TargetValue.Valid && c.TargetValue.Float64 > 0
}

// StravaConnection represents a record in the 'strava_connections' table:
// one external-provider credential per user.
type StravaConnection struct {
	ID             int64      `json:"id"`
	UserID         int64      `json:"userId"`
	AthleteID      int64      `json:"athleteId"`
	AccessToken    string     `json:"-"`
	RefreshToken   string     `json:"-"`
	TokenExpiresAt *time.Time `json:"tokenExpiresAt"`
	LastSyncedAt   *time.Time `json:"lastSyncedAt"`
	LastError      sql.NullString `json:"lastError"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// IngestedActivity is a dedup-ledger row: (user, external activity) pair plus
// the raw provider payload, retained for replay and audit.
type IngestedActivity struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"userId"`
	ActivityID int64     `json:"activityId"`
	RawPayload []byte    `json:"-"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ProgressEntry is one activity's contribution toward one challenge's numeric
// goal. Completed is always false at ingestion time; completion is decided at
// the challenge level on the Submission, never per entry.
type ProgressEntry struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"userId"`
	ChallengeID int64     `json:"challengeId"`
	ActivityID  int64     `json:"activityId"`
	Value       float64   `json:"value"`
	TargetValue float64   `json:"targetValue"`
	Completed   bool      `json:"completed"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Submission sources.
const (
	SubmissionSourceSync   = "sync"
	SubmissionSourceManual = "manual"
	SubmissionSourceAdmin  = "admin"
)

// Submission is the authoritative per (user, challenge) completion record.
type Submission struct {
	ID          int64      `json:"id"`
	UserID      int64      `json:"userId"`
	ChallengeID int64      `json:"challengeId"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completedAt"`
	Source      string     `json:"source"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}
