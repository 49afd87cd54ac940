package appwrite

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/pbsnet/gateway/internal/platform"
)

// user is the subset of Appwrite's user model the gateway reads.
type user struct {
	ID    string `json:"$id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

func (u user) account() *platform.Account {
	return &platform.Account{ID: u.ID, Email: u.Email, Name: u.Name}
}

// CreateUser implements platform.Directory.
func (c *Client) CreateUser(ctx context.Context, email, password, name string) (*platform.Account, error) {
	in := map[string]any{
		"userId":   "unique()",
		"email":    email,
		"password": password,
		"name":     name,
	}
	var u user
	if err := c.call(ctx, c.admin(), http.MethodPost, "/users", nil, in, &u); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u.account(), nil
}

// FindUserByEmail implements platform.Directory.
func (c *Client) FindUserByEmail(ctx context.Context, email string) (*platform.Account, error) {
	q, err := queryValues([]platform.Query{platform.Equal("email", email), platform.Limit(1)})
	if err != nil {
		return nil, err
	}
	var list struct {
		Total int    `json:"total"`
		Users []user `json:"users"`
	}
	if err := c.call(ctx, c.admin(), http.MethodGet, "/users", q, nil, &list); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	if len(list.Users) == 0 {
		return nil, platform.ErrNotFound
	}
	return list.Users[0].account(), nil
}

// UpdatePassword implements platform.Directory.
func (c *Client) UpdatePassword(ctx context.Context, userID, password string) error {
	path := "/users/" + url.PathEscape(userID) + "/password"
	if err := c.call(ctx, c.admin(), http.MethodPatch, path, nil, map[string]any{"password": password}, nil); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

// CheckPassword implements platform.Directory by creating an email session
// as a guest. The session itself is discarded.
func (c *Client) CheckPassword(ctx context.Context, email, password string) error {
	in := map[string]any{"email": email, "password": password}
	err := c.call(ctx, guest(), http.MethodPost, "/account/sessions/email", nil, in, nil)
	if err == nil {
		return nil
	}
	var upstream *platform.Error
	if errors.As(err, &upstream) && upstream.Status >= 500 {
		return fmt.Errorf("create session: %w", err)
	}
	return errors.Join(platform.ErrInvalidCredentials, err)
}

// AccountFromAssertion implements platform.Directory. The assertion is an
// Appwrite account JWT minted by the browser after an OAuth2 session.
func (c *Client) AccountFromAssertion(ctx context.Context, assertion string) (*platform.Account, error) {
	var u user
	if err := c.call(ctx, credential{jwt: assertion}, http.MethodGet, "/account", nil, nil, &u); err != nil {
		var upstream *platform.Error
		if errors.As(err, &upstream) && upstream.Status < 500 {
			return nil, errors.Join(platform.ErrInvalidCredentials, err)
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return u.account(), nil
}

// OAuthURL implements platform.Directory.
func (c *Client) OAuthURL(provider, successURL, failureURL string) (string, error) {
	q := url.Values{}
	q.Set("project", c.cfg.ProjectID)
	q.Set("success", successURL)
	q.Set("failure", failureURL)
	return c.cfg.Endpoint + "/account/sessions/oauth2/" + url.PathEscape(provider) + "?" + q.Encode(), nil
}

// SendRecovery implements platform.Directory.
func (c *Client) SendRecovery(ctx context.Context, email, redirectURL string) error {
	in := map[string]any{"email": email, "url": redirectURL}
	if err := c.call(ctx, guest(), http.MethodPost, "/account/recovery", nil, in, nil); err != nil {
		return fmt.Errorf("create recovery: %w", err)
	}
	return nil
}

// CompleteRecovery implements platform.Directory.
func (c *Client) CompleteRecovery(ctx context.Context, userID, secret, password string) error {
	in := map[string]any{"userId": userID, "secret": secret, "password": password}
	if err := c.call(ctx, guest(), http.MethodPut, "/account/recovery", nil, in, nil); err != nil {
		if errors.Is(err, platform.ErrNotFound) {
			return errors.Join(platform.ErrInvalidCredentials, err)
		}
		return fmt.Errorf("update recovery: %w", err)
	}
	return nil
}
