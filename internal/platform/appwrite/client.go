// Package appwrite implements the platform contracts against the Appwrite
// REST API (v1). Privileged calls carry the project API key; credential checks
// and assertion lookups use unprivileged requests so that the platform itself
// decides whether the caller is who they claim to be.
package appwrite

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pbsnet/gateway/internal/platform"
)

// Config holds the connection details for one Appwrite project.
type Config struct {
	Endpoint  string // e.g. https://cloud.appwrite.io/v1
	ProjectID string
	APIKey    string
	// DatabaseID scopes every document call.
	DatabaseID string
}

// Client is a minimal Appwrite REST client.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client (10 s timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a Client. The endpoint must include the /v1 suffix.
func New(cfg Config, opts ...Option) *Client {
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Platform wraps c as a platform.Backend.
func (c *Client) Platform() *platform.Backend {
	return &platform.Backend{
		Directory: c,
		Documents: c,
		Storage:   c,
		Close:     func() { c.httpClient.CloseIdleConnections() },
		Ping:      c.Ping,
	}
}

// Ping requests the unauthenticated version endpoint.
func (c *Client) Ping(ctx context.Context) error {
	return c.call(ctx, guest(), http.MethodGet, "/health/version", nil, nil, nil)
}

// credential selects how a request authenticates.
type credential struct {
	apiKey string
	jwt    string
}

func (c *Client) admin() credential { return credential{apiKey: c.cfg.APIKey} }

// guest is an unauthenticated session: no key, no JWT.
func guest() credential { return credential{} }

// apiError is the error body Appwrite returns for non-2xx responses.
type apiError struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
	Type    string `json:"type"`
}

// call performs a JSON request and decodes the response into out (if non-nil).
func (c *Client) call(ctx context.Context, cred credential, method, path string, query url.Values, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	target := c.cfg.Endpoint + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, cred, out)
}

func (c *Client) do(req *http.Request, cred credential, out any) error {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Appwrite-Project", c.cfg.ProjectID)
	if cred.apiKey != "" {
		req.Header.Set("X-Appwrite-Key", cred.apiKey)
	}
	if cred.jwt != "" {
		req.Header.Set("X-Appwrite-JWT", cred.jwt)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode >= 300 {
		return classify(resp.StatusCode, respBody)
	}
	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// classify converts an Appwrite error response into a platform error,
// wrapping the sentinel that matches its status.
func classify(status int, body []byte) error {
	var ae apiError
	_ = json.Unmarshal(body, &ae)
	if ae.Message == "" {
		ae.Message = http.StatusText(status)
	}
	upstream := &platform.Error{Status: status, Type: ae.Type, Message: ae.Message}

	switch status {
	case http.StatusNotFound:
		return errors.Join(platform.ErrNotFound, upstream)
	case http.StatusConflict:
		return errors.Join(platform.ErrConflict, upstream)
	case http.StatusUnauthorized:
		return errors.Join(platform.ErrInvalidCredentials, upstream)
	}
	return upstream
}

// queryValues encodes platform queries in Appwrite's JSON query syntax.
func queryValues(queries []platform.Query) (url.Values, error) {
	v := url.Values{}
	for _, q := range queries {
		b, err := json.Marshal(q)
		if err != nil {
			return nil, fmt.Errorf("encode query: %w", err)
		}
		v.Add("queries[]", string(b))
	}
	return v, nil
}
