// Package client provides a Go client for the adreel HTTP API.
//
// Usage:
//
//	c := client.New("https://api.example.com",
//	    client.WithToken(jwt),
//	)
//
//	// Submit a generation job.
//	sub, err := c.Generate(ctx, client.GenerateParams{
//	    ProductName:  "Copper Mug",
//	    Tagline:      "Cold drinks, colder looks",
//	    CallToAction: "Shop now",
//	})
//
//	// Poll until it finishes.
//	status, err := c.WaitForJob(ctx, sub.JobID, 2*time.Second)
//	fmt.Println(status.ResultURL)
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client talks to a remote adreel API instance.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithToken sets the bearer token sent on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// New creates a Client for the API at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status     int
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("adreel: server returned %d: %s", e.Status, e.Message)
}

// ErrInsufficientCredits reports a 402 from a submission route.
var ErrInsufficientCredits = errors.New("adreel: insufficient credits")

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("adreel: encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("adreel: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusPaymentRequired {
		return ErrInsufficientCredits
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var detail struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&detail)
		apiErr := &APIError{Status: resp.StatusCode, Message: detail.Error}
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := time.ParseDuration(ra + "s"); err == nil {
				apiErr.RetryAfter = seconds
			}
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Health reports the server's health and version.
func (c *Client) Health(ctx context.Context) (status, version string, err error) {
	var out struct {
		Status  string `json:"status"`
		Version string `json:"version"`
	}
	if err := c.do(ctx, http.MethodGet, "/health", nil, &out); err != nil {
		return "", "", err
	}
	return out.Status, out.Version, nil
}

// Credits returns the caller's current credit balance.
func (c *Client) Credits(ctx context.Context) (int64, error) {
	var out struct {
		Credits int64 `json:"credits"`
	}
	if err := c.do(ctx, http.MethodGet, "/credits", nil, &out); err != nil {
		return 0, err
	}
	return out.Credits, nil
}
