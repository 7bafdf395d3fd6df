// Package uipath is the Orchestrator API client: client-credentials auth
// with token refresh, paginated OData listing and retry/backoff handling
// for throttled or transient failures.
package uipath

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/rpaops/orcsync/internal/clock"
	"github.com/rpaops/orcsync/pkg/logger"
	"github.com/rpaops/orcsync/pkg/models"
)

// tokenLeeway is how long before expiry a token is refreshed.
const tokenLeeway = 60 * time.Second

type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Org          string
	Tenant       string
	Scope        string

	Timeout        time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

type Client struct {
	cfg   Config
	http  *http.Client
	clock clock.Clock

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
}

func New(cfg Config, clk clock.Clock) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = 5
	}
	if cfg.RetryBaseDelay == 0 {
		cfg.RetryBaseDelay = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay == 0 {
		cfg.RetryMaxDelay = 30 * time.Second
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Client{
		cfg:   cfg,
		http:  &http.Client{Timeout: cfg.Timeout},
		clock: clk,
	}
}

// Authenticate forces a token fetch. Regular calls refresh lazily, so this
// exists mainly to fail fast on bad credentials.
func (c *Client) Authenticate(ctx context.Context) error {
	_, err := c.bearer(ctx)
	return err
}

func (c *Client) bearer(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && c.clock.Now().Before(c.expiresAt.Add(-tokenLeeway)) {
		return c.accessToken, nil
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
		"scope":         {c.cfg.Scope},
	}

	body, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.cfg.BaseURL+"/identity_/connect/token",
			strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	})
	if err != nil {
		// Identity server 4xx means bad credentials, not a bad request.
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return "", &AuthError{Status: apiErr.Status, Body: apiErr.Body}
		}
		return "", err
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tok); err != nil {
		return "", fmt.Errorf("malformed token response: %w", err)
	}
	if tok.AccessToken == "" {
		return "", &AuthError{Status: http.StatusOK, Body: "token response carried no access_token"}
	}

	c.accessToken = tok.AccessToken
	c.expiresAt = c.clock.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	logger.Debugf("uipath token refreshed, valid for %ds", tok.ExpiresIn)
	return c.accessToken, nil
}

// Folder is one Orchestrator folder (organization unit).
type Folder struct {
	ID          int64  `json:"Id"`
	DisplayName string `json:"DisplayName"`
}

// Folders lists every folder visible to the configured credentials.
func (c *Client) Folders(ctx context.Context) ([]Folder, error) {
	body, err := c.get(ctx, "Folders", 0, url.Values{"$orderby": {"Id asc"}})
	if err != nil {
		return nil, err
	}
	var page struct {
		Value []Folder `json:"value"`
	}
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("malformed Folders response: %w", err)
	}
	return page.Value, nil
}

// List fetches one page of an OData resource inside the given folder and
// returns the raw records.
func (c *Client) List(ctx context.Context, resource string, folderID int64, query url.Values) ([]models.RawRecord, error) {
	body, err := c.get(ctx, resource, folderID, query)
	if err != nil {
		return nil, err
	}
	var page struct {
		Value []models.RawRecord `json:"value"`
	}
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("malformed %s response: %w", resource, err)
	}
	return page.Value, nil
}

func (c *Client) get(ctx context.Context, resource string, folderID int64, query url.Values) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/%s/%s/odata/%s", c.cfg.BaseURL, c.cfg.Org, c.cfg.Tenant, resource)
	return c.doWithRetry(ctx, func() (*http.Request, error) {
		// Resolved per attempt: a long backoff can outlive the token.
		token, err := c.bearer(ctx)
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.URL.RawQuery = query.Encode()
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")
		if folderID > 0 {
			req.Header.Set("X-UIPATH-OrganizationUnitId", strconv.FormatInt(folderID, 10))
		}
		return req, nil
	})
}

// serverPaced lets a Retry-After header override the next computed
// interval, capped at the configured maximum.
type serverPaced struct {
	backoff.BackOff
	hinted time.Duration
	max    time.Duration
}

func (b *serverPaced) NextBackOff() time.Duration {
	next := b.BackOff.NextBackOff()
	if b.hinted > 0 {
		if b.hinted > next {
			next = b.hinted
		}
		if b.max > 0 && next > b.max {
			next = b.max
		}
		b.hinted = 0
	}
	return next
}

// doWithRetry executes a request with exponential backoff. Throttling and
// 5xx/network failures are retried up to the configured bound; any other
// 4xx stops immediately.
func (c *Client) doWithRetry(ctx context.Context, build func() (*http.Request, error)) ([]byte, error) {
	var body []byte

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = c.cfg.RetryBaseDelay
	expo.MaxInterval = c.cfg.RetryMaxDelay
	expo.MaxElapsedTime = 0
	paced := &serverPaced{BackOff: expo, max: c.cfg.RetryMaxDelay}

	op := func() error {
		req, err := build()
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return err // network failure, retryable
		}
		defer resp.Body.Close()

		payload, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			body = payload
			return nil
		case resp.StatusCode == http.StatusTooManyRequests:
			if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
				paced.hinted = time.Duration(secs) * time.Second
			}
			logger.Warnf("uipath throttled %s, backing off", req.URL.Path)
			return errThrottled{}
		case resp.StatusCode >= 500:
			return fmt.Errorf("uipath server error (status %d)", resp.StatusCode)
		case resp.StatusCode == http.StatusUnauthorized:
			return backoff.Permanent(&AuthError{Status: resp.StatusCode, Body: string(payload)})
		default:
			return backoff.Permanent(&APIError{Status: resp.StatusCode, Body: string(payload)})
		}
	}

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(paced, uint64(c.cfg.RetryAttempts-1)), ctx))
	if err != nil {
		var throttled errThrottled
		if errors.As(err, &throttled) {
			return nil, &RateLimitError{Attempts: c.cfg.RetryAttempts}
		}
		return nil, err
	}
	return body, nil
}
