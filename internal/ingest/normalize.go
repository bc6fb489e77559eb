package ingest

import (
	"time"

	"github.com/Fillbob/workout-challenge-prod-sub000/internal/strava"
)

// Metrics is the canonical metrics bag of a normalized activity. Each field
// is optional: a nil pointer means the source did not report that metric.
type Metrics struct {
	DistanceMeters *float64
	MovingTimeSec  *float64
	ElevationGain  *float64
	Steps          *float64
}

// NormalizedActivity is a canonical, provider-agnostic view of one external
// event. Raw retains the exact provider payload for replay and audit; it is
// never reprocessed.
type NormalizedActivity struct {
	ID         int64
	Type       string
	OccurredAt time.Time
	Metrics    Metrics
	Raw        []byte
}

// Normalize maps a provider activity record into the canonical shape.
//
// The occurrence time prefers the provider's local timestamp over its UTC
// one. Either may independently fail to parse; if both fail, the current
// wall-clock time is used. That fallback is deliberate: an activity with an
// unreadable timestamp still counts from the moment we saw it, rather than
// being dropped.
func Normalize(rec strava.ActivityRecord) NormalizedActivity {
	s := rec.Summary

	occurredAt, ok := parseTimestamp(s.StartDateLocal)
	if !ok {
		if occurredAt, ok = parseTimestamp(s.StartDate); !ok {
			occurredAt = time.Now()
		}
	}

	activityType := s.Type
	if activityType == "" {
		activityType = s.SportType
	}

	return NormalizedActivity{
		ID:         s.ID,
		Type:       activityType,
		OccurredAt: occurredAt,
		Metrics: Metrics{
			DistanceMeters: positive(s.Distance),
			MovingTimeSec:  positive(s.MovingTime),
			ElevationGain:  positive(s.TotalElevationGain),
			// Strava's summary feed carries no step counts; the field exists
			// for step-count challenges fed by other sources.
			Steps: nil,
		},
		Raw: rec.Raw,
	}
}

func parseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// positive returns a pointer to v when it is a meaningful metric reading,
// nil otherwise. The provider reports zero for metrics it did not measure.
func positive(v float64) *float64 {
	if v > 0 {
		return &v
	}
	return nil
}
