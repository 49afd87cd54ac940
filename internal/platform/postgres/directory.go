package postgres

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"

	"github.com/pbsnet/gateway/internal/platform"
)

func newID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// CreateUser implements platform.Directory.
func (s *Store) CreateUser(ctx context.Context, email, password, name string) (*platform.Account, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	a := &platform.Account{ID: newID(), Email: email, Name: name}
	q := `INSERT INTO accounts (id, email, name, password_hash) VALUES ($1, $2, $3, $4)`
	if _, err := s.db.Exec(ctx, q, a.ID, a.Email, a.Name, string(hash)); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("email %s: %w", email, platform.ErrConflict)
		}
		return nil, fmt.Errorf("create account: %w", err)
	}
	return a, nil
}

// FindUserByEmail implements platform.Directory.
func (s *Store) FindUserByEmail(ctx context.Context, email string) (*platform.Account, error) {
	var a platform.Account
	q := `SELECT id, email, name FROM accounts WHERE lower(email) = lower($1)`
	if err := s.db.QueryRow(ctx, q, email).Scan(&a.ID, &a.Email, &a.Name); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, platform.ErrNotFound
		}
		return nil, fmt.Errorf("query account: %w", err)
	}
	return &a, nil
}

// UpdatePassword implements platform.Directory.
func (s *Store) UpdatePassword(ctx context.Context, userID, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE accounts SET password_hash = $2, updated_at = now() WHERE id = $1`,
		userID, string(hash))
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return platform.ErrNotFound
	}
	return nil
}

// CheckPassword implements platform.Directory.
func (s *Store) CheckPassword(ctx context.Context, email, password string) error {
	var hash string
	q := `SELECT password_hash FROM accounts WHERE lower(email) = lower($1)`
	if err := s.db.QueryRow(ctx, q, email).Scan(&hash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return platform.ErrInvalidCredentials
		}
		return fmt.Errorf("query password: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return platform.ErrInvalidCredentials
	}
	return nil
}

// OAuthURL implements platform.Directory. The provider redirects back to the
// configured redirect URL with an authorization code, which the frontend
// submits as the login assertion. successURL and failureURL are unused here
// because the redirect target is fixed at provider registration.
func (s *Store) OAuthURL(provider, _, _ string) (string, error) {
	cfg, ok := s.oauth[provider]
	if !ok {
		return "", fmt.Errorf("oauth provider %q is not configured", provider)
	}
	state := make([]byte, 16)
	if _, err := rand.Read(state); err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	return cfg.AuthCodeURL(hex.EncodeToString(state), oauth2.AccessTypeOnline), nil
}

// AccountFromAssertion implements platform.Directory by exchanging the
// assertion as a Google authorization code and reading the user-info endpoint.
// The returned account has no ID; callers resolve it by email.
func (s *Store) AccountFromAssertion(ctx context.Context, assertion string) (*platform.Account, error) {
	cfg, ok := s.oauth["google"]
	if !ok {
		return nil, fmt.Errorf("google oauth is not configured: %w", platform.ErrInvalidCredentials)
	}
	tok, err := cfg.Exchange(ctx, assertion)
	if err != nil {
		return nil, errors.Join(platform.ErrInvalidCredentials, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, googleUserInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build userinfo request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := cfg.Client(ctx, tok).Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch userinfo: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return nil, fmt.Errorf("read userinfo: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, errors.Join(platform.ErrInvalidCredentials,
			&platform.Error{Status: resp.StatusCode, Type: "userinfo", Message: string(body)})
	}

	var info struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("parse userinfo: %w", err)
	}
	if info.Email == "" {
		return nil, fmt.Errorf("userinfo has no email: %w", platform.ErrInvalidCredentials)
	}
	return &platform.Account{Email: info.Email, Name: info.Name}, nil
}

// SendRecovery implements platform.Directory. The link is redirectURL with
// userId and secret appended as query parameters.
func (s *Store) SendRecovery(ctx context.Context, email, redirectURL string) error {
	a, err := s.FindUserByEmail(ctx, email)
	if err != nil {
		return err
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return fmt.Errorf("generate recovery secret: %w", err)
	}
	secret := hex.EncodeToString(raw)

	q := `INSERT INTO recovery_tokens (secret, user_id, expires_at) VALUES ($1, $2, $3)`
	if _, err := s.db.Exec(ctx, q, secret, a.ID, time.Now().UTC().Add(recoveryTTL)); err != nil {
		return fmt.Errorf("store recovery token: %w", err)
	}

	link, err := url.Parse(redirectURL)
	if err != nil {
		return fmt.Errorf("parse redirect url: %w", err)
	}
	v := link.Query()
	v.Set("userId", a.ID)
	v.Set("secret", secret)
	link.RawQuery = v.Encode()

	body := fmt.Sprintf("Hello %s,\n\nUse the link below to reset your password. It expires in one hour.\n\n%s\n\nIf you did not request this, ignore this email.\n",
		a.Name, link.String())
	if err := s.mail.Send(ctx, a.Email, "Reset your password", body); err != nil {
		return fmt.Errorf("send recovery email: %w", err)
	}
	s.logger.Debug("recovery token issued", zap.String("user_id", a.ID))
	return nil
}

// CompleteRecovery implements platform.Directory. Unknown, used, expired or
// mismatched secrets are reported as ErrInvalidCredentials.
func (s *Store) CompleteRecovery(ctx context.Context, userID, secret, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var owner string
	var expiresAt time.Time
	var usedAt *time.Time
	q := `SELECT user_id, expires_at, used_at FROM recovery_tokens WHERE secret = $1 FOR UPDATE`
	if err := tx.QueryRow(ctx, q, secret).Scan(&owner, &expiresAt, &usedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return platform.ErrInvalidCredentials
		}
		return fmt.Errorf("query recovery token: %w", err)
	}
	if owner != userID || usedAt != nil || time.Now().After(expiresAt) {
		return platform.ErrInvalidCredentials
	}

	if _, err := tx.Exec(ctx,
		`UPDATE recovery_tokens SET used_at = now() WHERE secret = $1`, secret,
	); err != nil {
		return fmt.Errorf("mark token used: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE accounts SET password_hash = $2, updated_at = now() WHERE id = $1`, userID, string(hash),
	); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
