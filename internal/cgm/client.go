// Package cgm syncs glucose readings and treatments from a
// Nightscout-compatible feed into local storage.
package cgm

import (
	"context"
	"crypto/sha1" //nolint:gosec // Required for Nightscout API secret hashing (legacy API requirement)
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mrcode/glucocalc/internal/models"
)

// Client handles communication with a Nightscout-compatible API.
type Client struct {
	baseURL    string
	apiSecret  string
	apiToken   string
	useToken   bool
	httpClient *http.Client
}

// NewClient creates a new feed client.
func NewClient(baseURL, apiSecret, apiToken string, useToken bool) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiSecret: apiSecret,
		apiToken:  apiToken,
		useToken:  useToken,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// hashSecret generates SHA1 hash of the API secret
// Note: SHA1 is required for Nightscout API compatibility
func hashSecret(secret string) string {
	hasher := sha1.New() //nolint:gosec // Required for Nightscout API
	hasher.Write([]byte(secret))
	return hex.EncodeToString(hasher.Sum(nil))
}

// buildRequest creates an HTTP request with proper authentication
func (c *Client) buildRequest(ctx context.Context, method, endpoint string, params url.Values) (*http.Request, error) {
	fullURL := c.baseURL + endpoint
	if params != nil {
		fullURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	if c.useToken && c.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
	} else if c.apiSecret != "" {
		req.Header.Set("API-SECRET", hashSecret(c.apiSecret))
	}

	return req, nil
}

// doRequest executes an HTTP request and returns the response body
func (c *Client) doRequest(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// feedEntry is the wire shape of an SGV entry.
type feedEntry struct {
	ID        string `json:"_id"`
	SGV       int    `json:"sgv"`
	Date      int64  `json:"date"`
	Direction string `json:"direction"`
	Device    string `json:"device"`
}

// feedTreatment is the wire shape of a treatment record.
type feedTreatment struct {
	ID        string  `json:"_id"`
	EventType string  `json:"eventType"`
	Date      int64   `json:"date"`
	Insulin   float64 `json:"insulin"`
	Carbs     float64 `json:"carbs"`
	Protein   float64 `json:"protein"`
	Fat       float64 `json:"fat"`
	Notes     string  `json:"notes"`
	EnteredBy string  `json:"enteredBy"`
}

// GetEntries retrieves glucose entries with date >= from.
func (c *Client) GetEntries(ctx context.Context, userID string, from time.Time, count int) ([]models.GlucoseReading, error) {
	params := url.Values{}
	if !from.IsZero() {
		params.Set("find[date][$gte]", fmt.Sprintf("%d", from.UnixMilli()))
	}
	if count > 0 {
		params.Set("count", fmt.Sprintf("%d", count))
	}

	req, err := c.buildRequest(ctx, "GET", "/api/v1/entries/sgv", params)
	if err != nil {
		return nil, err
	}

	body, err := c.doRequest(req)
	if err != nil {
		return nil, err
	}

	var entries []feedEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("parsing entries: %w", err)
	}

	readings := make([]models.GlucoseReading, 0, len(entries))
	for _, e := range entries {
		readings = append(readings, models.GlucoseReading{
			ID:        e.ID,
			UserID:    userID,
			SGV:       e.SGV,
			Date:      e.Date,
			Trend:     models.TrendFromDirection(e.Direction),
			Direction: e.Direction,
			Device:    e.Device,
		})
	}
	return readings, nil
}

// GetTreatments retrieves treatment records with date >= from.
func (c *Client) GetTreatments(ctx context.Context, userID string, from time.Time, count int) ([]models.Treatment, error) {
	params := url.Values{}
	if !from.IsZero() {
		params.Set("find[date][$gte]", fmt.Sprintf("%d", from.UnixMilli()))
	}
	if count > 0 {
		params.Set("count", fmt.Sprintf("%d", count))
	}

	req, err := c.buildRequest(ctx, "GET", "/api/v1/treatments", params)
	if err != nil {
		return nil, err
	}

	body, err := c.doRequest(req)
	if err != nil {
		return nil, err
	}

	var records []feedTreatment
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("parsing treatments: %w", err)
	}

	treatments := make([]models.Treatment, 0, len(records))
	for _, r := range records {
		if r.Insulin <= 0 && r.Carbs <= 0 {
			continue
		}
		treatments = append(treatments, models.Treatment{
			ID:        r.ID,
			UserID:    userID,
			EventType: r.EventType,
			Date:      r.Date,
			Insulin:   r.Insulin,
			Carbs:     r.Carbs,
			Protein:   r.Protein,
			Fat:       r.Fat,
			Notes:     r.Notes,
			EnteredBy: r.EnteredBy,
		})
	}
	return treatments, nil
}

// TestConnection checks that the feed answers the status endpoint.
func (c *Client) TestConnection(ctx context.Context) error {
	req, err := c.buildRequest(ctx, "GET", "/api/v1/status", nil)
	if err != nil {
		return err
	}
	_, err = c.doRequest(req)
	return err
}
