package strava

// SummaryActivity is one activity record as returned by the provider's
// activity-listing endpoint.
//
// The two start-date fields are kept as raw strings rather than time.Time:
// either may independently fail to parse, and the normalization step in the
// ingest package owns the local-over-UTC preference and the fallback.
type SummaryActivity struct {
	ID                 int64   `json:"id"`
	Athlete            Athlete `json:"athlete"`
	Name               string  `json:"name"`
	Type               string  `json:"type"`
	SportType          string  `json:"sport_type"`
	StartDate          string  `json:"start_date"`
	StartDateLocal     string  `json:"start_date_local"`
	Timezone           string  `json:"timezone"`
	Distance           float64 `json:"distance"`             // meters
	MovingTime         float64 `json:"moving_time"`          // seconds
	ElapsedTime        float64 `json:"elapsed_time"`         // seconds
	TotalElevationGain float64 `json:"total_elevation_gain"` // meters
}

// Athlete is the minimal athlete info embedded in an activity response.
type Athlete struct {
	ID int64 `json:"id"`
}

// ActivityRecord pairs a decoded summary with the raw payload it was decoded
// from. The raw bytes are persisted in the dedup ledger for replay and audit.
type ActivityRecord struct {
	Summary SummaryActivity
	Raw     []byte
}
