// Package rock talks to the upstream church-management system's OData-style
// REST API. Queries are described by chainable cursors and only executed on a
// terminal call; mutations go through the client directly.
package rock

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/parishlabs/steeple/internal/cache"
)

const (
	tokenHeader        = "Authorization-Token"
	defaultHTTPTimeout = 30 * time.Second
)

var (
	errMissingBaseURL = errors.New("rock: base url is required")
	errMissingToken   = errors.New("rock: api token is required")
)

// Record is a raw upstream row. Field names follow the upstream PascalCase
// convention; helpers below normalize the common lookups.
type Record map[string]any

// RequestError carries the upstream failure back to the caller. The layer
// never retries; feed reads surface the error as-is.
type RequestError struct {
	Status   int
	Body     string
	Resource string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("rock: request to %s failed with status %d: %s", e.Resource, e.Status, e.Body)
}

// ClientConfig bundles what the client needs to reach the upstream API.
type ClientConfig struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Cache      *cache.Store
	Logger     *zap.Logger
}

// Client issues requests against the upstream REST API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	cache      *cache.Store
	logger     *zap.Logger
}

// NewClient constructs a Client with validated configuration.
func NewClient(cfg ClientConfig) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errMissingBaseURL
	}
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errMissingToken
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL:    baseURL,
		token:      cfg.Token,
		httpClient: httpClient,
		cache:      cfg.Cache,
		logger:     logger,
	}, nil
}

// Request starts a cursor over the named resource.
func (c *Client) Request(resource string) *Cursor {
	return &Cursor{client: c, resource: strings.Trim(resource, "/")}
}

// GetOne fetches a single record by path, e.g. "Followings/123".
func (c *Client) GetOne(ctx context.Context, path string) (Record, error) {
	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var record Record
	if err := json.Unmarshal(body, &record); err != nil {
		return nil, fmt.Errorf("rock: decoding %s: %w", path, err)
	}
	return record, nil
}

// Post creates a record and returns the upstream id of the created row.
func (c *Client) Post(ctx context.Context, path string, payload any) (string, error) {
	body, err := c.do(ctx, http.MethodPost, path, payload)
	if err != nil {
		return "", err
	}
	return strings.Trim(strings.TrimSpace(string(body)), `"`), nil
}

// Patch applies a partial update to a record.
func (c *Client) Patch(ctx context.Context, path string, payload any) error {
	_, err := c.do(ctx, http.MethodPatch, path, payload)
	return err
}

// Delete removes a record.
func (c *Client) Delete(ctx context.Context, path string) error {
	_, err := c.do(ctx, http.MethodDelete, path, nil)
	return err
}

func (c *Client) list(ctx context.Context, pathAndQuery string) ([]Record, error) {
	body, err := c.do(ctx, http.MethodGet, pathAndQuery, nil)
	if err != nil {
		return nil, err
	}
	records := []Record{}
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("rock: decoding %s: %w", pathAndQuery, err)
	}
	return records, nil
}

func (c *Client) do(ctx context.Context, method, pathAndQuery string, payload any) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("rock: encoding payload for %s: %w", pathAndQuery, err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	url := c.baseURL + "/" + strings.TrimLeft(pathAndQuery, "/")
	request, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, err
	}
	request.Header.Set(tokenHeader, c.token)
	request.Header.Set("Accept", "application/json")
	if payload != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("rock: %s %s: %w", method, pathAndQuery, err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("rock: reading response from %s: %w", pathAndQuery, err)
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		c.logger.Warn("upstream request failed",
			zap.String("method", method),
			zap.String("resource", pathAndQuery),
			zap.Int("status", response.StatusCode))
		return nil, &RequestError{
			Status:   response.StatusCode,
			Body:     string(body),
			Resource: pathAndQuery,
		}
	}

	return body, nil
}

// String returns the string value of a field, or "" when absent.
func (r Record) String(field string) string {
	if value, ok := r[field].(string); ok {
		return value
	}
	return ""
}

// Int returns the integer value of a field, tolerating JSON's float decoding.
func (r Record) Int(field string) int {
	switch value := r[field].(type) {
	case float64:
		return int(value)
	case int:
		return value
	case json.Number:
		parsed, err := value.Int64()
		if err == nil {
			return int(parsed)
		}
	}
	return 0
}

// ID returns the upstream "Id" field as a decimal string.
func (r Record) ID() string {
	return fmt.Sprintf("%d", r.Int("Id"))
}

// Child returns a nested record field, or nil when absent.
func (r Record) Child(field string) Record {
	if value, ok := r[field].(map[string]any); ok {
		return Record(value)
	}
	return nil
}
