// Package opensensemap is a minimal client for the openSenseMap read API.
// See https://docs.opensensemap.org/#api-Measurements-getData
package opensensemap

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const (
	// Per-call deadlines; the box metadata document is small, measurement
	// series can run to thousands of points.
	metadataTimeout = 30 * time.Second
	seriesTimeout   = 60 * time.Second
)

// Box is the subset of the box metadata document this system consumes.
type Box struct {
	ID      string      `json:"_id"`
	Name    string      `json:"name"`
	Sensors []BoxSensor `json:"sensors"`
}

// BoxSensor is one sensor entry in the box metadata.
type BoxSensor struct {
	ID         string  `json:"_id"`
	SensorType string  `json:"sensorType"`
	Unit       string  `json:"unit"`
	Icon       *string `json:"icon"`
}

// DataPoint is one raw measurement from the per-sensor series endpoint.
// Value stays raw so the normalizer can tell "field absent" (nil) from
// "literal null" ("null") from a string or number payload.
type DataPoint struct {
	CreatedAt string          `json:"createdAt"`
	Value     json.RawMessage `json:"value"`
}

// StatusError reports a non-2xx response from the API.
type StatusError struct {
	URL    string
	Status string
	Code   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: %s", e.URL, e.Status)
}

type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a client for the API rooted at baseURL (no trailing slash).
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{},
	}
}

// GetBox fetches box metadata by box id.
func (c *Client) GetBox(ctx context.Context, boxID string) (*Box, error) {
	u := fmt.Sprintf("%s/boxes/%s?format=json", c.baseURL, url.PathEscape(boxID))

	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()

	var box Box
	if err := c.getJSON(ctx, u, &box); err != nil {
		return nil, err
	}
	return &box, nil
}

// GetSensorMeasurements fetches the measurement series for one sensor of a box.
func (c *Client) GetSensorMeasurements(ctx context.Context, boxID, sensorID string) ([]DataPoint, error) {
	u := fmt.Sprintf("%s/boxes/%s/data/%s", c.baseURL, url.PathEscape(boxID), url.PathEscape(sensorID))

	ctx, cancel := context.WithTimeout(ctx, seriesTimeout)
	defer cancel()

	var points []DataPoint
	if err := c.getJSON(ctx, u, &points); err != nil {
		return nil, err
	}
	return points, nil
}

func (c *Client) getJSON(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{URL: u, Status: resp.Status, Code: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", u, err)
	}
	return nil
}
