package planka

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	defaultTimeout    = 15 * time.Second
	defaultMaxRetries = 3
	maxBackoff        = 30 * time.Second
)

// StatusError is returned for every non-2xx response
type StatusError struct {
	StatusCode int
	Method     string
	Path       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("planka API error (%d) on %s %s: %s", e.StatusCode, e.Method, e.Path, e.Message)
	}
	return fmt.Sprintf("planka API error (%d) on %s %s", e.StatusCode, e.Method, e.Path)
}

// IsStatus reports whether err is a StatusError with the given code
func IsStatus(err error, code int) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == code
}

// Client is a thin HTTP client for the Planka REST API.
// It handles Bearer token authentication, JSON (de)serialization and
// waits out HTTP 429 responses before giving up.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	maxRetries int
}

// Option customizes a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// WithMaxRetries sets how many times a rate limited request is repeated
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// NewClient creates a Planka client for the instance at baseURL (e.g. https://planka.example.com)
func NewClient(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: defaultTimeout},
		maxRetries: defaultMaxRetries,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetBoard fetches a board together with its lists
func (c *Client) GetBoard(ctx context.Context, id int64) (*BoardResponse, error) {
	var board BoardResponse
	if err := c.do(ctx, http.MethodGet, "/api/boards/"+ID(id).String(), nil, &board); err != nil {
		return nil, err
	}
	return &board, nil
}

// CreateCard creates a card in the given list
func (c *Client) CreateCard(ctx context.Context, listID int64, req CreateCardRequest) (*Card, error) {
	var card cardResponse
	if err := c.do(ctx, http.MethodPost, "/api/lists/"+ID(listID).String()+"/cards", req, &card); err != nil {
		return nil, err
	}
	if card.Item.ID == 0 {
		return nil, fmt.Errorf("create card in list %d: response has no card id", listID)
	}
	return &card.Item, nil
}

// UpdateCard sets the description and due date of a card
func (c *Client) UpdateCard(ctx context.Context, cardID int64, req UpdateCardRequest) error {
	return c.do(ctx, http.MethodPatch, "/api/cards/"+ID(cardID).String(), req, nil)
}

// do builds the request, handles auth, waits on rate limiting and decodes the JSON response
func (c *Client) do(ctx context.Context, method, path string, body, result interface{}) error {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		payload = data
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		var bodyReader io.Reader
		if payload != nil {
			bodyReader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}

		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("executing request %s %s: %w", method, path, err)
		}

		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return fmt.Errorf("reading response body: %w", readErr)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = newStatusError(resp.StatusCode, method, path, respBody)
			if attempt == c.maxRetries {
				break
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryAfterDuration(resp, attempt)):
				continue
			}
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return newStatusError(resp.StatusCode, method, path, respBody)
		}

		if result == nil || resp.StatusCode == http.StatusNoContent {
			return nil
		}

		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshaling response from %s %s: %w", method, path, err)
		}

		return nil
	}

	return fmt.Errorf("max retries (%d) exceeded: %w", c.maxRetries, lastErr)
}

func newStatusError(code int, method, path string, body []byte) *StatusError {
	statusErr := &StatusError{StatusCode: code, Method: method, Path: path}

	var apiErr ErrorResponse
	if json.Unmarshal(body, &apiErr) == nil && (apiErr.Message != "" || apiErr.Code != "") {
		statusErr.Message = strings.TrimSpace(apiErr.Code + " " + apiErr.Message)
	} else if len(body) > 0 && len(body) <= 512 {
		statusErr.Message = strings.TrimSpace(string(body))
	}

	return statusErr
}

// retryAfterDuration reads the Retry-After header, falling back to exponential backoff
func retryAfterDuration(resp *http.Response, attempt int) time.Duration {
	if header := resp.Header.Get("Retry-After"); header != "" {
		if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
			return time.Duration(seconds) * time.Second
		}
	}

	backoff := time.Duration(1<<uint(attempt)) * time.Second
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	return backoff
}
