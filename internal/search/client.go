package search

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"

	"github.com/hangwatch/backend/internal/config"
	"github.com/hangwatch/backend/internal/poller"
	"github.com/hangwatch/backend/internal/session"
)

var (
	// ErrSearchStatus is returned when the upstream answers with a non-ok
	// status flag.
	ErrSearchStatus = errors.New("search returned error status")
	// ErrUnauthorized is returned when the upstream rejects the API key or
	// the session token.
	ErrUnauthorized = errors.New("search session unauthorized")
)

const maxErrorBody = 4 << 10

type sessionRequest struct {
	APIKey string `json:"apiKey"`
}

type sessionResponse struct {
	Token string `json:"token"`
}

type searchResponse struct {
	Status  string              `json:"status"`
	Error   string              `json:"error,omitempty"`
	Results []session.RawResult `json:"results"`
}

// Client talks to the upstream hangout search API. It holds one session
// token, obtained lazily and refreshed by Reinit.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
	limiter  *rate.Limiter
	logger   *slog.Logger

	mu    sync.Mutex
	token string
}

var _ poller.Searcher = (*Client)(nil)

// NewClient validates cfg and builds a client. A zero RateLimit disables
// limiting.
func NewClient(cfg config.SearchConfig, logger *slog.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("search endpoint is not configured")
	}
	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing search endpoint %q", cfg.Endpoint)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Newf("search endpoint %q must be http or https", cfg.Endpoint)
	}
	if logger == nil {
		logger = slog.Default()
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	return &Client{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:   cfg.APIKey,
		http:     &http.Client{Timeout: cfg.Timeout},
		limiter:  rate.NewLimiter(limit, burst),
		logger:   logger.With("component", "search"),
	}, nil
}

func (c *Client) Name() string { return "http" }

// Reinit exchanges the API key for a fresh session token.
func (c *Client) Reinit(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "waiting for rate limiter")
	}

	body, err := json.Marshal(sessionRequest{APIKey: c.apiKey})
	if err != nil {
		return errors.Wrap(err, "encoding session request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/session", bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "building session request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "requesting search session")
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return errors.Wrap(err, "requesting search session")
	}

	var sr sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return errors.Wrap(err, "decoding session response")
	}
	if sr.Token == "" {
		return errors.Wrap(ErrUnauthorized, "session response carried no token")
	}

	c.mu.Lock()
	c.token = sr.Token
	c.mu.Unlock()
	c.logger.Info("search session established")
	return nil
}

// Search runs one query. A missing token triggers Reinit first; a rejected
// token is dropped so the next Reinit fetches a new one.
func (c *Client) Search(ctx context.Context, query string, opts poller.SearchOptions) ([]session.RawResult, error) {
	token := c.currentToken()
	if token == "" {
		if err := c.Reinit(ctx); err != nil {
			return nil, err
		}
		token = c.currentToken()
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, "waiting for rate limiter")
	}

	q := url.Values{}
	q.Set("q", query)
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/search?"+q.Encode(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "building search request")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "searching")
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		if errors.Is(err, ErrUnauthorized) {
			c.clearToken(token)
		}
		return nil, errors.Wrapf(err, "searching %q", query)
	}

	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, errors.Wrap(err, "decoding search response")
	}
	if sr.Status != "ok" {
		msg := sr.Error
		if msg == "" {
			msg = "status " + strconv.Quote(sr.Status)
		}
		return nil, errors.Wrapf(ErrSearchStatus, "%s", msg)
	}
	return sr.Results, nil
}

func (c *Client) currentToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// clearToken drops token unless a concurrent Reinit already replaced it.
func (c *Client) clearToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == token {
		c.token = ""
	}
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	detail := strings.TrimSpace(string(body))
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return errors.Wrapf(ErrUnauthorized, "http %d: %s", resp.StatusCode, detail)
	}
	return errors.Newf("http %d: %s", resp.StatusCode, detail)
}
