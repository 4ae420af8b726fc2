// Package backend is the HTTP client for the Article Content Fetch Service.
package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/JakeFAU/readlater-content-loader/internal/content"
)

const (
	defaultTimeout = 10 * time.Second
	// maxBodyBytes caps how much of a response body is read.
	maxBodyBytes = 16 << 20
)

// Config describes how to reach the fetch service.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	// AuthToken is sent as a bearer token when set.
	AuthToken string
}

// StatusError reports a non-2xx response from the fetch service.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("fetch service returned %d", e.StatusCode)
	}
	return fmt.Sprintf("fetch service returned %d: %s", e.StatusCode, e.Body)
}

// Unwrap maps 404 onto content.ErrNotFound.
func (e *StatusError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return content.ErrNotFound
	}
	return nil
}

// Client implements content.ContentFetcher over HTTP.
type Client struct {
	baseURL   *url.URL
	http      *http.Client
	userAgent string
	authToken string
	logger    *zap.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// New validates cfg and builds a Client whose transport is traced with otelhttp.
func New(cfg Config, logger *zap.Logger, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("backend base url is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse backend base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("backend base url must be http or https, got %q", cfg.BaseURL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		baseURL: base,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		userAgent: cfg.UserAgent,
		authToken: cfg.AuthToken,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type contentResponse struct {
	ItemID     string          `json:"item_id"`
	Title      string          `json:"title"`
	Content    string          `json:"content"`
	Highlights json.RawMessage `json:"highlights"`
	Status     string          `json:"status"`
}

// Fetch requests the article content for itemID. useCache=false asks the service to bypass its cache.
func (c *Client) Fetch(ctx context.Context, username, itemID string, useCache bool) (content.ArticleContent, error) {
	if username == "" || itemID == "" {
		return content.ArticleContent{}, fmt.Errorf("username and item id are required")
	}
	endpoint := c.baseURL.JoinPath("api", "v1", "users", url.PathEscape(username), "items", url.PathEscape(itemID), "content")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return content.ArticleContent{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	if !useCache {
		req.Header.Set("Cache-Control", "no-cache")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return content.ArticleContent{}, fmt.Errorf("get content: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("close response body", zap.Error(cerr))
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return content.ArticleContent{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return content.ArticleContent{}, &StatusError{StatusCode: resp.StatusCode, Body: snippet(body)}
	}

	var payload contentResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return content.ArticleContent{}, fmt.Errorf("decode content response: %w", err)
	}
	article := content.ArticleContent{
		ItemID:         payload.ItemID,
		Title:          payload.Title,
		HTMLContent:    payload.Content,
		HighlightsJSON: highlights(payload.Highlights),
		Status:         content.ParseContentStatus(payload.Status),
	}
	if article.ItemID == "" {
		article.ItemID = itemID
	}
	c.logger.Debug("content fetched",
		zap.String("item_id", itemID),
		zap.String("username", username),
		zap.String("status", string(article.Status)),
		zap.Bool("use_cache", useCache),
	)
	return article, nil
}

// highlights accepts either a JSON document or a string holding one.
func highlights(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func snippet(body []byte) string {
	const limit = 256
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return s[:limit]
	}
	return s
}
