// Package client is a Go SDK for the pbsnet gateway HTTP API.
package client

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
	"sync"
	"time"
)

// ErrNoToken is returned by authenticated calls made before Login or
// WithBearerToken.
var ErrNoToken = errors.New("no session token: log in first")

// APIError is a non-2xx gateway response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway error %d: %s", e.Status, e.Message)
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// Session is the result of a successful login.
type Session struct {
	Token  string `json:"token"`
	UserID string `json:"userId"`
}

// Profile is the caller's own profile as returned by GET /api/me.
type Profile struct {
	FullName      string         `json:"full_name"`
	Username      string         `json:"username"`
	Email         string         `json:"email"`
	Mobile        string         `json:"mobile"`
	PostName      string         `json:"post_name"`
	OfficeName    string         `json:"office_name"`
	PbsName       string         `json:"pbs_name"`
	APIKey        string         `json:"api_key"`
	ProfilePicID  string         `json:"profile_pic_id"`
	ProfilePicURL string         `json:"profile_pic_url"`
	PersonalJSON  map[string]any `json:"personal_json"`
}

// ProfileUpdate holds the core fields for UpdateProfile. Nil fields are unchanged.
type ProfileUpdate struct {
	FullName   *string `json:"full_name,omitempty"`
	Mobile     *string `json:"mobile,omitempty"`
	PostName   *string `json:"post_name,omitempty"`
	OfficeName *string `json:"office_name,omitempty"`
	PbsName    *string `json:"pbs_name,omitempty"`
}

// SearchParams narrows Search. Empty fields are not sent.
type SearchParams struct {
	Pbs         string
	Office      string
	Mobile      string
	Designation string
	Username    string
	Name        string
}

// SearchResult is one entry of a user search.
type SearchResult struct {
	Name        string `json:"name"`
	Username    string `json:"username"`
	Pbs         string `json:"pbs"`
	Designation string `json:"designation"`
	Office      string `json:"office"`
	PicURL      string `json:"pic_url"`
}

// AppData is the admin view of a user without a subclass filter.
type AppData struct {
	FullName     string         `json:"full_name"`
	Username     string         `json:"username"`
	Email        string         `json:"email"`
	Mobile       string         `json:"mobile"`
	Designation  string         `json:"designation"`
	Office       string         `json:"office"`
	Pbs          string         `json:"pbs"`
	PersonalJSON map[string]any `json:"personal_json"`
	AppJSON      map[string]any `json:"app_json"`
}

// Client talks to one gateway.
type Client struct {
	base        string
	httpClient  *http.Client
	adminSecret string

	mu    sync.Mutex
	token string
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithBearerToken attaches a previously issued session token.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.token = token
		return nil
	}
}

// WithAdminSecret enables the admin app-data calls.
func WithAdminSecret(secret string) Option {
	return func(c *Client) error {
		if secret == "" {
			return errors.New("admin secret is empty")
		}
		c.adminSecret = secret
		return nil
	}
}

// New creates a Client for the gateway at base, e.g. https://api.pbsnet.example.
func New(base string, opts ...Option) (*Client, error) {
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid gateway URL %q", base)
	}
	c := &Client{
		base:       strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(base string, opts ...Option) *Client {
	c, err := New(base, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Token returns the current session token, if any.
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// Register creates an account and returns its user id.
func (c *Client) Register(ctx context.Context, email, password, name string) (string, error) {
	var out struct {
		UserID string `json:"userId"`
	}
	in := map[string]string{"email": email, "password": password, "name": name}
	if err := c.do(ctx, http.MethodPost, "/api/auth/register", authNone, in, &out); err != nil {
		return "", err
	}
	return out.UserID, nil
}

// Login exchanges an email or mobile number and password for a session.
// The token is kept for subsequent calls.
func (c *Client) Login(ctx context.Context, identifier, password string) (*Session, error) {
	var s Session
	in := map[string]string{"identifier": identifier, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", authNone, in, &s); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.token = s.Token
	c.mu.Unlock()
	return &s, nil
}

// RetrieveKey returns the API key of the account after a password check.
func (c *Client) RetrieveKey(ctx context.Context, identifier, password string) (string, error) {
	var out struct {
		Key string `json:"user_api_key"`
	}
	in := map[string]string{"identifier": identifier, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/auth/retrieve-key", authNone, in, &out); err != nil {
		return "", err
	}
	return out.Key, nil
}

// Me returns the caller's profile.
func (c *Client) Me(ctx context.Context) (*Profile, error) {
	var p Profile
	if err := c.do(ctx, http.MethodGet, "/api/me", authBearer, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdateProfile patches the caller's core fields.
func (c *Client) UpdateProfile(ctx context.Context, u ProfileUpdate) error {
	return c.do(ctx, http.MethodPut, "/api/me", authBearer, u, nil)
}

// MergePersonal merges partial into the caller's personal JSON and returns
// the merged object.
func (c *Client) MergePersonal(ctx context.Context, partial map[string]any) (map[string]any, error) {
	var out struct {
		Data map[string]any `json:"data"`
	}
	if err := c.do(ctx, http.MethodPatch, "/api/me/json", authBearer, partial, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// SetUsername claims username for the caller.
func (c *Client) SetUsername(ctx context.Context, username string) error {
	return c.do(ctx, http.MethodPost, "/api/me/username", authBearer, map[string]string{"newUsername": username}, nil)
}

// ChangePassword sets a new password for the caller.
func (c *Client) ChangePassword(ctx context.Context, password string) error {
	return c.do(ctx, http.MethodPost, "/api/me/pass", authBearer, map[string]string{"newPassword": password}, nil)
}

// GenerateAPIKey replaces the caller's API key and returns the new one.
func (c *Client) GenerateAPIKey(ctx context.Context) (string, error) {
	var out struct {
		Key string `json:"key"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/me/key", authBearer, nil, &out); err != nil {
		return "", err
	}
	return out.Key, nil
}

// Search lists users matching every non-empty field of p.
func (c *Client) Search(ctx context.Context, p SearchParams) ([]SearchResult, error) {
	q := url.Values{}
	for k, v := range map[string]string{
		"pbs":         p.Pbs,
		"office":      p.Office,
		"mobile":      p.Mobile,
		"designation": p.Designation,
		"username":    p.Username,
		"search":      p.Name,
	} {
		if v != "" {
			q.Set(k, v)
		}
	}
	path := "/api/users/search"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out struct {
		Users []SearchResult `json:"users"`
	}
	if err := c.do(ctx, http.MethodGet, path, authBearer, nil, &out); err != nil {
		return nil, err
	}
	return out.Users, nil
}

// AppDataView returns the admin view of the user owning userKey.
func (c *Client) AppDataView(ctx context.Context, userKey string) (*AppData, error) {
	var out AppData
	in := map[string]string{"target_user_key": userKey}
	if err := c.do(ctx, http.MethodPost, "/api/admin/user-app-data/view", authAdmin, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AppDataSubclass returns one subclass of the user's system data.
func (c *Client) AppDataSubclass(ctx context.Context, userKey, subclass string) (map[string]any, error) {
	var out struct {
		Data map[string]any `json:"subclass_data"`
	}
	in := map[string]string{"target_user_key": userKey, "subclass": subclass}
	if err := c.do(ctx, http.MethodPost, "/api/admin/user-app-data/view", authAdmin, in, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// AppDataSet merges data into one subclass and returns the merged subclass.
func (c *Client) AppDataSet(ctx context.Context, userKey, subclass string, data map[string]any) (map[string]any, error) {
	var out struct {
		Updated map[string]any `json:"updated_data"`
	}
	in := map[string]any{"target_user_key": userKey, "subclass": subclass, "data": data}
	if err := c.do(ctx, http.MethodPatch, "/api/admin/user-app-data", authAdmin, in, &out); err != nil {
		return nil, err
	}
	return out.Updated, nil
}

type authMode int

const (
	authNone authMode = iota
	authBearer
	authAdmin
)

func (c *Client) do(ctx context.Context, method, path string, auth authMode, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	switch auth {
	case authBearer:
		tok := c.Token()
		if tok == "" {
			return ErrNoToken
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	case authAdmin:
		if c.adminSecret == "" {
			return errors.New("admin secret not configured")
		}
		req.Header.Set("X-Admin-Secret", c.adminSecret)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
