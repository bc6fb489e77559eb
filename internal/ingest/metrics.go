package ingest

import (
	"math"
	"time"

	"github.com/Fillbob/workout-challenge-prod-sub000/internal/database"
)

// SelectMetricValue picks the metric reading a challenge tracks out of an
// activity's metrics bag. The second return is false when the activity does
// not carry that metric, or when the metric type is unknown; the challenge is
// simply skipped for that activity in either case.
func SelectMetricValue(activity *NormalizedActivity, metricType string) (float64, bool) {
	var v *float64
	switch metricType {
	case database.MetricDistance:
		v = activity.Metrics.DistanceMeters
	case database.MetricDuration, "moving_time":
		v = activity.Metrics.MovingTimeSec
	case database.MetricElevation:
		v = activity.Metrics.ElevationGain
	case database.MetricSteps:
		v = activity.Metrics.Steps
	default:
		return 0, false
	}
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return 0, false
	}
	return *v, true
}

// DeriveCompletion turns an accumulated total into a completion state:
// completed when the target is positive and the total has reached it.
//
// A completion timestamp recorded on a prior submission is preserved; if this
// derivation is the first to cross the threshold the timestamp is set to now.
// If the total has dropped back below the target (entries were removed out of
// band), completed flips to false and the timestamp is cleared.
func DeriveCompletion(total, target float64, prior *database.Submission, now time.Time) (completed bool, completedAt *time.Time) {
	if target <= 0 || total < target {
		return false, nil
	}
	if prior != nil && prior.CompletedAt != nil {
		return true, prior.CompletedAt
	}
	return true, &now
}
