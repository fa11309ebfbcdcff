// ABOUTME: Minimal Microsoft Graph REST client with paging and rate limiting
// ABOUTME: Pulls its bearer token from the request context on every call
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/harperreed/cosell/auth"
)

// DefaultGraphBaseURL is the v1.0 Graph endpoint.
const DefaultGraphBaseURL = "https://graph.microsoft.com/v1.0"

// GraphError is a non-2xx Graph response.
type GraphError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *GraphError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("graph: %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("graph: %d %s", e.StatusCode, e.Message)
}

// IsGraphStatus reports whether err is a GraphError with the given status.
func IsGraphStatus(err error, status int) bool {
	var ge *GraphError
	return errors.As(err, &ge) && ge.StatusCode == status
}

// GraphConfig configures a GraphClient.
type GraphConfig struct {
	BaseURL        string
	RequestsPerSec float64
	Burst          int
	PageSize       int
	Timeout        time.Duration
}

// GraphClient issues authenticated Graph requests.
type GraphClient struct {
	baseURL  string
	http     *http.Client
	limiter  *rate.Limiter
	pageSize int
	logger   *zap.Logger
}

// NewGraphClient creates a client. Zero config values fall back to defaults.
func NewGraphClient(cfg GraphConfig, httpClient *http.Client, logger *zap.Logger) *GraphClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultGraphBaseURL
	}
	if cfg.RequestsPerSec <= 0 {
		cfg.RequestsPerSec = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &GraphClient{
		baseURL:  strings.TrimSuffix(cfg.BaseURL, "/"),
		http:     httpClient,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), cfg.Burst),
		pageSize: cfg.PageSize,
		logger:   logger.Named("graph"),
	}
}

// graphPage is one page of a Graph collection.
type graphPage struct {
	Value    []json.RawMessage `json:"value"`
	NextLink string            `json:"@odata.nextLink"`
}

// List fetches every item of a collection, following nextLink.
// stop, when non-nil, is called per item and ends paging once it returns true.
func (c *GraphClient) List(ctx context.Context, path string, query url.Values, stop func(json.RawMessage) bool) ([]json.RawMessage, error) {
	if query == nil {
		query = url.Values{}
	}
	if query.Get("$top") == "" {
		query.Set("$top", fmt.Sprintf("%d", c.pageSize))
	}

	next := c.baseURL + path + "?" + query.Encode()
	var items []json.RawMessage

	for next != "" {
		body, err := c.do(ctx, next, "application/json")
		if err != nil {
			return items, err
		}

		var page graphPage
		if err := json.Unmarshal(body, &page); err != nil {
			return items, fmt.Errorf("failed to decode graph page: %w", err)
		}

		for _, item := range page.Value {
			if stop != nil && stop(item) {
				return items, nil
			}
			items = append(items, item)
		}
		next = page.NextLink
	}

	return items, nil
}

// GetText fetches a raw text resource such as transcript content.
func (c *GraphClient) GetText(ctx context.Context, path string, query url.Values) (string, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	body, err := c.do(ctx, target, "text/vtt, text/plain")
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (c *GraphClient) do(ctx context.Context, target, accept string) ([]byte, error) {
	token, err := auth.GraphToken(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build graph request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", accept)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("graph request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read graph response: %w", err)
	}

	c.logger.Debug("graph request",
		zap.String("url", req.URL.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.Unmarshal(body, &envelope)
		msg := envelope.Error.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &GraphError{StatusCode: resp.StatusCode, Code: envelope.Error.Code, Message: msg}
	}

	return body, nil
}
