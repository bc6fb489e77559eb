package ingest

import (
	"database/sql"
	"strings"
	"time"

	"github.com/Fillbob/workout-challenge-prod-sub000/internal/database"
)

// dateOnlyLayout matches bounds entered without a time component. A date-only
// end bound is inclusive through the end of that day.
const dateOnlyLayout = "2006-01-02"

// Matches determines whether a normalized activity counts toward a challenge
// for a user with the given team memberships. Every rule must hold:
//
//   - the challenge is not hidden;
//   - the challenge is auto-verified (non-manual metric and positive target);
//   - the activity's occurrence time falls within the challenge window;
//   - if the challenge restricts to specific teams, the user's memberships
//     intersect the restriction (an unknown membership list fails closed);
//   - if the challenge restricts activity types, the activity's provider type
//     appears in the allowlist (case-insensitive);
//   - the metric value the activity would contribute is a finite positive
//     number.
//
// Absence of a restriction means "open to everyone": restrictions are
// additive, never implicit.
func Matches(activity *NormalizedActivity, challenge *database.Challenge, userTeamIDs []int64) bool {
	if challenge.Hidden || !challenge.AutoVerified() {
		return false
	}

	if !windowContains(activity.OccurredAt, challenge.StartDate, challenge.EndDate) {
		return false
	}

	if !TeamPermitted(challenge, userTeamIDs) {
		return false
	}

	if !activityTypeAllowed(activity.Type, challenge.ActivityTypes) {
		return false
	}

	value, ok := SelectMetricValue(activity, challenge.MetricType.String)
	return ok && value > 0
}

// TeamPermitted reports whether a user with the given team memberships may
// participate in the challenge. An empty restriction is open to all teams;
// a restricted challenge with no known memberships fails closed.
func TeamPermitted(challenge *database.Challenge, userTeamIDs []int64) bool {
	if len(challenge.TeamIDs) == 0 {
		return true
	}
	for _, restricted := range challenge.TeamIDs {
		for _, member := range userTeamIDs {
			if restricted == member {
				return true
			}
		}
	}
	return false
}

// activityTypeAllowed checks the provider type against the allowlist.
// Allowlist entries may themselves contain comma-separated sub-values; all
// comparison is lowercase.
func activityTypeAllowed(activityType string, allowlist []string) bool {
	if len(allowlist) == 0 {
		return true
	}
	want := strings.ToLower(strings.TrimSpace(activityType))
	for _, entry := range allowlist {
		for _, sub := range strings.Split(entry, ",") {
			if strings.ToLower(strings.TrimSpace(sub)) == want {
				return true
			}
		}
	}
	return false
}

// windowContains checks the occurrence time against the challenge's bounds.
// A date-only end bound is treated as inclusive through end-of-day,
// implemented as "less than start-of-next-day". A bound that is absent or
// unparseable does not constrain the window; bound formats are validated at
// challenge write time.
func windowContains(t time.Time, startRaw, endRaw sql.NullString) bool {
	if start, _, ok := parseBound(startRaw); ok && t.Before(start) {
		return false
	}
	if end, dateOnly, ok := parseBound(endRaw); ok {
		if dateOnly {
			if !t.Before(end.AddDate(0, 0, 1)) {
				return false
			}
		} else if t.After(end) {
			return false
		}
	}
	return true
}

// parseBound parses a stored challenge bound, reporting whether it was
// date-only.
func parseBound(raw sql.NullString) (t time.Time, dateOnly bool, ok bool) {
	if !raw.Valid || raw.String == "" {
		return time.Time{}, false, false
	}
	if t, err := time.Parse(time.RFC3339, raw.String); err == nil {
		return t, false, true
	}
	if t, err := time.Parse(dateOnlyLayout, raw.String); err == nil {
		return t, true, true
	}
	return time.Time{}, false, false
}

// ValidBound reports whether a challenge bound string is one of the accepted
// formats. Used by the write path so unparseable bounds never reach storage.
func ValidBound(raw string) bool {
	if _, err := time.Parse(time.RFC3339, raw); err == nil {
		return true
	}
	_, err := time.Parse(dateOnlyLayout, raw)
	return err == nil
}
