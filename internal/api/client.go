// Package api implements the client for the remote productivity backend.
// The daemon only consumes two endpoints: the blocked-site list and the
// per-site time log. Both are credentialed; the session cookie established
// by the dashboard login is carried in the jar, with an optional bearer
// token for headless deployments.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DefaultTimeout bounds every backend round trip.
const DefaultTimeout = 10 * time.Second

// Client talks to the productivity backend.
type Client struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
	logger     zerolog.Logger
}

// Config holds backend client configuration.
type Config struct {
	BaseURL   string
	AuthToken string
	Timeout   time.Duration
}

// BlockedSite is one entry of the remote blocklist response.
type BlockedSite struct {
	SiteName string `json:"sitename"`
	SiteURL  string `json:"siteurl"`
}

type blocklistResponse struct {
	BlockedSites []BlockedSite `json:"blockedSites"`
}

type logTimeRequest struct {
	SiteName  string `json:"sitename"`
	SiteURL   string `json:"siteurl"`
	TimeSpent int64  `json:"timeSpent"`
}

// NewClient creates a backend API client.
func NewClient(cfg Config, logger zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	// Cookie jar keeps the credentialed session across requests.
	jar, _ := cookiejar.New(nil)

	return &Client{
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		authToken: cfg.AuthToken,
		httpClient: &http.Client{
			Timeout: timeout,
			Jar:     jar,
		},
		logger: logger.With().Str("component", "api-client").Logger(),
	}
}

// FetchBlockedSites retrieves the authenticated user's blocked-site list.
func (c *Client) FetchBlockedSites(ctx context.Context) ([]BlockedSite, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/blocklist/get-blocked-sites", nil)
	if err != nil {
		return nil, fmt.Errorf("build blocklist request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch blocked sites: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch blocked sites: backend responded with status %d", resp.StatusCode)
	}

	var payload blocklistResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode blocklist response: %w", err)
	}

	return payload.BlockedSites, nil
}

// LogTime reports accumulated seconds for one site. A non-2xx status is an
// error; the caller decides whether it matters.
func (c *Client) LogTime(ctx context.Context, siteName, siteURL string, seconds int64) error {
	body, err := json.Marshal(logTimeRequest{
		SiteName:  siteName,
		SiteURL:   siteURL,
		TimeSpent: seconds,
	})
	if err != nil {
		return fmt.Errorf("marshal log-time request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/reports/log-time", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build log-time request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("log time for %s: %w", siteURL, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("log time for %s: backend responded with status %d", siteURL, resp.StatusCode)
	}

	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
}
