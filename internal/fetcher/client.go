// Package fetcher retrieves raw grading attempts from the statistics API.
package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/telhawk-systems/gradersync/internal/model"
)

// ErrUnexpectedStatus is returned for non-2xx responses.
var ErrUnexpectedStatus = errors.New("unexpected status")

// Config configures the statistics client.
type Config struct {
	// URL of the statistics endpoint.
	URL string

	// Client and ClientKey identify the caller to the statistics source.
	Client    string
	ClientKey string

	// Timeout for the request; zero keeps the transport default.
	Timeout time.Duration

	// Transport allows injecting a custom HTTP transport (for tests/stubs).
	Transport http.RoundTripper
}

// Client performs one GET per window against the statistics source.
type Client struct {
	config     Config
	httpClient *http.Client
}

// NewClient creates a new statistics client.
func NewClient(cfg Config) *Client {
	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: cfg.Transport,
		},
	}
}

// Fetch requests every attempt inside the inclusive window. The source is
// expected to return the whole window in one JSON array; there is no
// pagination and no retry.
func (c *Client) Fetch(ctx context.Context, w model.Window) ([]model.RawAttempt, error) {
	endpoint, err := url.Parse(c.config.URL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}

	q := endpoint.Query()
	q.Set("client", c.config.Client)
	q.Set("client_key", c.config.ClientKey)
	q.Set("start", w.Start.Format(model.WindowLayout))
	q.Set("end", w.End.Format(model.WindowLayout))
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w %d: %s", ErrUnexpectedStatus, resp.StatusCode, string(body))
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()

	var records []model.RawAttempt
	if err := dec.Decode(&records); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return records, nil
}
