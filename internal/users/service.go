// Package users bridges the platform's identity provider, the profile store
// and the gateway's own session tokens. Passwords are never stored here.
package users

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"go.uber.org/zap"

	"github.com/pbsnet/gateway/internal/events"
	"github.com/pbsnet/gateway/internal/identity"
	"github.com/pbsnet/gateway/internal/platform"
	"github.com/pbsnet/gateway/internal/profile"
)

// MinPasswordLength matches the identity provider's own minimum.
const MinPasswordLength = 8

// NotGenerated is reported by RetrieveKey when the user never created a key.
const NotGenerated = "Not Generated"

var (
	// ErrUnauthorized is returned for any rejected credential.
	ErrUnauthorized = errors.New("invalid credentials")
	// ErrNotFound is returned when no user matches an identifier.
	ErrNotFound = errors.New("user not found")
	// ErrEmailTaken is returned when registering an email that already has an identity.
	ErrEmailTaken = errors.New("email already registered")
	// ErrInvalidInput is returned for missing or malformed fields.
	ErrInvalidInput = errors.New("invalid input")
	// ErrWeakPassword is returned for passwords shorter than MinPasswordLength.
	ErrWeakPassword = errors.New("password must be at least 8 characters")
)

// Service implements registration, login and account recovery.
type Service struct {
	dir         platform.Directory
	profiles    *profile.Store
	tokens      *identity.TokenService
	events      events.Publisher
	frontendURL string
	logger      *zap.Logger
}

// NewService creates a users Service.
func NewService(dir platform.Directory, profiles *profile.Store, tokens *identity.TokenService, pub events.Publisher, frontendURL string, logger *zap.Logger) *Service {
	return &Service{
		dir:         dir,
		profiles:    profiles,
		tokens:      tokens,
		events:      pub,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		logger:      logger,
	}
}

// Register creates an identity and its profile document. Returns the new user id.
func (s *Service) Register(ctx context.Context, email, password, name string) (string, error) {
	email = NormalizeEmail(email)
	if email == "" || name == "" {
		return "", fmt.Errorf("%w: email and name are required", ErrInvalidInput)
	}
	if len(password) < MinPasswordLength {
		return "", ErrWeakPassword
	}

	a, err := s.dir.CreateUser(ctx, email, password, name)
	if err != nil {
		if errors.Is(err, platform.ErrConflict) {
			return "", ErrEmailTaken
		}
		return "", fmt.Errorf("create identity: %w", err)
	}
	if err := s.profiles.Create(ctx, a.ID, name, email); err != nil {
		s.logger.Error("identity created without profile",
			zap.String("user_id", a.ID),
			zap.Error(err),
		)
		return "", err
	}

	s.events.Publish(ctx, events.UserRegistered, a.ID, map[string]string{"email": email})
	return a.ID, nil
}

// Login verifies identifier and password and issues a session token.
// A mobile number with no profile fails with ErrNotFound before any password
// check. Every password rejection is ErrUnauthorized.
func (s *Service) Login(ctx context.Context, identifier, password string) (*Session, error) {
	id, err := ParseLoginID(identifier)
	if err != nil {
		return nil, err
	}

	email, userID := id.Value, ""
	if id.Kind == LoginPhone {
		p, err := s.profiles.FindByMobile(ctx, id.Value)
		if err != nil {
			if errors.Is(err, profile.ErrNotFound) {
				return nil, ErrNotFound
			}
			return nil, err
		}
		email, userID = p.Email, p.ID
	}

	if err := s.authenticate(ctx, email, password); err != nil {
		return nil, err
	}

	if userID == "" {
		a, err := s.findIdentity(ctx, email)
		if err != nil {
			return nil, err
		}
		userID = a.ID
	}
	return s.issue(userID, email)
}

// OAuthURL returns the provider login URL. The browser lands on the
// frontend dashboard on success and the login page on failure.
func (s *Service) OAuthURL(provider string) (string, error) {
	return s.dir.OAuthURL(provider, s.frontendURL+"/dashboard", s.frontendURL+"/login")
}

// OAuthExchange turns a provider assertion into a session, creating the
// identity and profile on first login.
func (s *Service) OAuthExchange(ctx context.Context, assertion string) (*Session, error) {
	if assertion == "" {
		return nil, fmt.Errorf("%w: no assertion provided", ErrInvalidInput)
	}
	a, err := s.dir.AccountFromAssertion(ctx, assertion)
	if err != nil {
		if errors.Is(err, platform.ErrInvalidCredentials) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("verify assertion: %w", err)
	}
	a.Email = NormalizeEmail(a.Email)

	p, err := s.profiles.FindByEmail(ctx, a.Email)
	if err == nil {
		return s.issue(p.ID, a.Email)
	}
	if !errors.Is(err, profile.ErrNotFound) {
		return nil, err
	}

	password, err := randomPassword()
	if err != nil {
		return nil, fmt.Errorf("generate password: %w", err)
	}
	if _, err := s.dir.CreateUser(ctx, a.Email, password, a.Name); err != nil {
		if errors.Is(err, platform.ErrConflict) {
			s.logger.Info("oauth identity already exists, creating profile only", zap.String("email", a.Email))
		} else {
			s.logger.Warn("oauth identity create failed, trying lookup", zap.String("email", a.Email), zap.Error(err))
		}
	}

	ident, err := s.findIdentity(ctx, a.Email)
	if err != nil {
		return nil, err
	}
	if err := s.profiles.Create(ctx, ident.ID, a.Name, a.Email); err != nil {
		// The profile exists under a differently cased email.
		if errors.Is(err, platform.ErrConflict) {
			return s.issue(ident.ID, a.Email)
		}
		return nil, err
	}
	s.events.Publish(ctx, events.UserRegistered, ident.ID, map[string]string{"email": a.Email, "via": "oauth"})
	return s.issue(ident.ID, a.Email)
}

// ForgotPassword starts account recovery. It reports success for unknown
// emails so callers cannot probe which addresses are registered.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	if email == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	err := s.dir.SendRecovery(ctx, email, s.frontendURL+"/reset-password")
	if err != nil && errors.Is(err, platform.ErrNotFound) {
		s.logger.Info("recovery requested for unknown email")
		return nil
	}
	if err != nil {
		return fmt.Errorf("send recovery: %w", err)
	}
	return nil
}

// ResetPassword completes recovery with the secret from the emailed link.
func (s *Service) ResetPassword(ctx context.Context, userID, secret, password string) error {
	if userID == "" || secret == "" {
		return fmt.Errorf("%w: userId and secret are required", ErrInvalidInput)
	}
	if len(password) < MinPasswordLength {
		return ErrWeakPassword
	}
	if err := s.dir.CompleteRecovery(ctx, userID, secret, password); err != nil {
		if errors.Is(err, platform.ErrInvalidCredentials) {
			return ErrUnauthorized
		}
		return fmt.Errorf("complete recovery: %w", err)
	}
	return nil
}

// ChangePassword sets a new password for an authenticated user.
func (s *Service) ChangePassword(ctx context.Context, userID, password string) error {
	if len(password) < MinPasswordLength {
		return ErrWeakPassword
	}
	if err := s.dir.UpdatePassword(ctx, userID, password); err != nil {
		if errors.Is(err, platform.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

// RetrieveKey returns the API key of the profile matching identifier after
// checking password. Users without a key get NotGenerated.
func (s *Service) RetrieveKey(ctx context.Context, identifier, password string) (string, error) {
	id, err := ParseLoginID(identifier)
	if err != nil {
		return "", err
	}

	var p *profile.Profile
	if id.Kind == LoginEmail {
		p, err = s.profiles.FindByEmail(ctx, id.Value)
		if errors.Is(err, profile.ErrNotFound) {
			p, err = s.profileOfIdentity(ctx, id.Value)
		}
	} else {
		p, err = s.profiles.FindByMobile(ctx, id.Value)
	}
	if err != nil {
		if errors.Is(err, profile.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}

	if err := s.authenticate(ctx, p.Email, password); err != nil {
		return "", err
	}
	if p.APIKey == "" {
		return NotGenerated, nil
	}
	return p.APIKey, nil
}

// authenticate collapses every password rejection into ErrUnauthorized.
func (s *Service) authenticate(ctx context.Context, email, password string) error {
	if err := s.dir.CheckPassword(ctx, email, password); err != nil {
		if !errors.Is(err, platform.ErrInvalidCredentials) {
			s.logger.Warn("password check failed upstream", zap.Error(err))
		}
		return ErrUnauthorized
	}
	return nil
}

// findIdentity resolves the identity-provider record for email. A miss here
// means the profile store and identity provider disagree.
func (s *Service) findIdentity(ctx context.Context, email string) (*platform.Account, error) {
	a, err := s.dir.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, platform.ErrNotFound) {
			s.logger.Warn("no identity for authenticated email", zap.String("email", email))
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find identity: %w", err)
	}
	return a, nil
}

// profileOfIdentity finds the profile through the identity provider, whose
// email match ignores case.
func (s *Service) profileOfIdentity(ctx context.Context, email string) (*profile.Profile, error) {
	a, err := s.dir.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, platform.ErrNotFound) {
			return nil, profile.ErrNotFound
		}
		return nil, fmt.Errorf("find identity: %w", err)
	}
	return s.profiles.Get(ctx, a.ID)
}

func (s *Service) issue(userID, email string) (*Session, error) {
	token, err := s.tokens.Issue(userID, email)
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, UserID: userID, Email: email}, nil
}

const passwordAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// randomPassword returns a 24-character password for OAuth-only identities.
func randomPassword() (string, error) {
	limit := big.NewInt(int64(len(passwordAlphabet)))
	b := make([]byte, 24)
	for i := range b {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b[i] = passwordAlphabet[n.Int64()]
	}
	return string(b), nil
}
