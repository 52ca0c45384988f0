// Package backend implements the remote table/procedure transport against the
// couchpilot REST backend. Every call is authenticated either with the current
// session bearer token or with the fixed public key.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TokenSource yields the current session bearer token, or "" when signed out.
type TokenSource interface {
	AccessToken() string
}

// Transport is the narrow backend surface consumed by the sync services.
// Faked in tests.
type Transport interface {
	CallProcedure(ctx context.Context, name string, args any, sessionAuth bool) ([]byte, error)
	SelectRows(ctx context.Context, table, query string, sessionAuth bool) ([]byte, error)
	UpsertRows(ctx context.Context, table string, rows any, conflictColumns string, sessionAuth bool) error
	DeleteRows(ctx context.Context, table, query string, sessionAuth bool) error
}

// Client talks to the backend's REST data plane.
type Client struct {
	baseURL    string
	publicKey  string
	deviceID   string
	tokens     TokenSource
	httpClient *http.Client
}

func NewClient(baseURL, publicKey string, tokens TokenSource) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		publicKey: publicKey,
		deviceID:  uuid.NewString(),
		tokens:    tokens,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// CallProcedure invokes a stored procedure with JSON args and returns the raw
// response body.
func (c *Client) CallProcedure(ctx context.Context, name string, args any, sessionAuth bool) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/rest/v1/rpc/%s", c.baseURL, name)
	return c.makeRequest(ctx, "POST", endpoint, args, nil, sessionAuth)
}

// SelectRows reads rows from a table. query is a pre-encoded filter string
// (e.g. "select=url&account_id=eq.42&order=position.asc").
func (c *Client) SelectRows(ctx context.Context, table, query string, sessionAuth bool) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/rest/v1/%s", c.baseURL, table)
	if query != "" {
		endpoint += "?" + query
	}
	return c.makeRequest(ctx, "GET", endpoint, nil, nil, sessionAuth)
}

// UpsertRows writes rows with merge-duplicates semantics. conflictColumns
// declares the unique constraint target; pass "" to let the backend's default
// conflict resolution apply.
func (c *Client) UpsertRows(ctx context.Context, table string, rows any, conflictColumns string, sessionAuth bool) error {
	endpoint := fmt.Sprintf("%s/rest/v1/%s", c.baseURL, table)
	if conflictColumns != "" {
		endpoint += "?on_conflict=" + conflictColumns
	}
	headers := map[string]string{"Prefer": "resolution=merge-duplicates,return=minimal"}
	_, err := c.makeRequest(ctx, "POST", endpoint, rows, headers, sessionAuth)
	return err
}

// DeleteRows deletes rows matching a pre-encoded filter string.
func (c *Client) DeleteRows(ctx context.Context, table, query string, sessionAuth bool) error {
	endpoint := fmt.Sprintf("%s/rest/v1/%s", c.baseURL, table)
	if query != "" {
		endpoint += "?" + query
	}
	_, err := c.makeRequest(ctx, "DELETE", endpoint, nil, nil, sessionAuth)
	return err
}

// makeRequest performs one HTTP round-trip and normalizes failures into
// APIError values.
func (c *Client) makeRequest(ctx context.Context, method, endpoint string, body any, headers map[string]string, sessionAuth bool) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	bearer := c.publicKey
	if sessionAuth {
		token := ""
		if c.tokens != nil {
			token = c.tokens.AccessToken()
		}
		if token == "" {
			return nil, ErrNotAuthenticated
		}
		bearer = token
	}
	req.Header.Set("apikey", c.publicKey)
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("X-Device-ID", c.deviceID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, parseAPIError(resp.StatusCode, data)
	}

	return data, nil
}

// parseAPIError extracts the backend's {code, message} JSON error shape,
// falling back to the raw body.
func parseAPIError(status int, body []byte) *APIError {
	var payload struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && (payload.Code != "" || payload.Message != "") {
		return &APIError{StatusCode: status, Code: payload.Code, Message: payload.Message}
	}
	return &APIError{StatusCode: status, Message: strings.TrimSpace(string(body))}
}
