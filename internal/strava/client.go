package strava

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// PerPage is the page size requested from the activity-listing endpoint, the
// maximum the provider allows. A page shorter than this signals end of data.
const PerPage = 100

const (
	maxAttempts    = 3
	initialBackoff = 500 * time.Millisecond
)

// Client is a Strava API client. Access tokens are supplied per call rather
// than bound to the client, since one client serves every connection in a
// batch run.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	rateLimiter *RateLimiter
}

// NewClient creates a new Strava API client. The timeout bounds every
// outbound call so a hung provider cannot stall a batch indefinitely.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: timeout},
		rateLimiter: NewRateLimiter(),
	}
}

// ListActivities fetches one page of activities with occurrence time at or
// after 'after'.
func (c *Client) ListActivities(ctx context.Context, accessToken string, after time.Time, page int) ([]ActivityRecord, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := url.Values{}
	if !after.IsZero() {
		params.Set("after", strconv.FormatInt(after.Unix(), 10))
	}
	params.Set("page", strconv.Itoa(page))
	params.Set("per_page", strconv.Itoa(PerPage))

	body, err := c.get(ctx, accessToken, "/athlete/activities", params)
	if err != nil {
		return nil, err
	}

	// Decode the page into raw messages first so each record keeps the exact
	// provider payload alongside its parsed summary.
	var rawActivities []json.RawMessage
	if err := json.Unmarshal(body, &rawActivities); err != nil {
		return nil, fmt.Errorf("decoding activities: %w", err)
	}

	records := make([]ActivityRecord, 0, len(rawActivities))
	for _, raw := range rawActivities {
		var summary SummaryActivity
		if err := json.Unmarshal(raw, &summary); err != nil {
			return nil, fmt.Errorf("decoding activity: %w", err)
		}
		records = append(records, ActivityRecord{Summary: summary, Raw: raw})
	}
	return records, nil
}

// FetchActivitiesSince returns all activities at or after 'since', following
// pages until a short page signals end of data. Any page failure aborts the
// whole fetch: no partial credit, the caller records the error and retries
// from the same watermark on the next run.
func (c *Client) FetchActivitiesSince(ctx context.Context, accessToken string, since time.Time) ([]ActivityRecord, error) {
	var all []ActivityRecord
	page := 1

	for {
		records, err := c.ListActivities(ctx, accessToken, since, page)
		if err != nil {
			return nil, fmt.Errorf("fetching page %d: %w", page, err)
		}

		all = append(all, records...)

		if len(records) < PerPage {
			break // Last page
		}
		page++
	}

	return all, nil
}

// Deauthorize revokes the application's access for the given token. Called on
// disconnect; callers treat failures as best-effort.
func (c *Client) Deauthorize(ctx context.Context, accessToken string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/oauth/deauthorize", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("deauthorize failed: %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// RateLimitStatus returns the remaining request budget for both limit windows.
func (c *Client) RateLimitStatus() (shortRemaining, dailyRemaining int) {
	return c.rateLimiter.Status()
}

// get performs an authenticated GET with a bounded retry. Transient failures
// (network errors, 429, 5xx) are retried with increasing backoff; any other
// non-success status aborts immediately with a descriptive error.
func (c *Client) get(ctx context.Context, accessToken, path string, params url.Values) ([]byte, error) {
	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	backoff := initialBackoff
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		c.rateLimiter.UpdateFromHeaders(resp.Header)

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusOK {
			if readErr != nil {
				lastErr = readErr
				continue
			}
			return body, nil
		}

		lastErr = fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
		if !isTransient(resp.StatusCode) {
			return nil, lastErr
		}
	}

	return nil, fmt.Errorf("giving up after %d attempts: %w", maxAttempts, lastErr)
}

func isTransient(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}
