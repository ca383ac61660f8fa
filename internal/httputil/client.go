// Package httputil holds the JSON response helpers used by the bridge API and
// a small client for tools that read from a running bridge.
package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// Doer sends one HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// BridgeClient calls the JSON API of a running bridge.
type BridgeClient struct {
	base *url.URL
	doer Doer
}

// NewBridgeClient returns a client for the bridge at base, e.g.
// "http://localhost:8080". A nil doer uses http.DefaultClient.
func NewBridgeClient(base string, doer Doer) (*BridgeClient, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid bridge URL %q: %w", base, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid bridge URL %q: scheme must be http or https", base)
	}
	if doer == nil {
		doer = http.DefaultClient
	}
	return &BridgeClient{base: u, doer: doer}, nil
}

// APIError is a non-200 answer from the bridge. Message carries the "error"
// field that WriteJSONError puts in the body, when there is one.
type APIError struct {
	Method  string
	Path    string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Status)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Status, e.Message)
}

// GetJSON fetches path with the given query and decodes the 200 response
// into v.
func (c *BridgeClient) GetJSON(ctx context.Context, path string, query url.Values, v interface{}) error {
	u := c.base.JoinPath(path)
	u.RawQuery = query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	return c.do(req, v)
}

// PostJSON sends body as JSON to path and decodes the 200 response into v.
// v may be nil.
func (c *BridgeClient) PostJSON(ctx context.Context, path string, body, v interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base.JoinPath(path).String(), bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, v)
}

func (c *BridgeClient) do(req *http.Request, v interface{}) error {
	resp, err := c.doer.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{Method: req.Method, Path: req.URL.Path, Status: resp.StatusCode}
		var body struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&body) == nil {
			apiErr.Message = body.Error
		}
		return apiErr
	}
	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	return nil
}
