// Package postgres implements the platform contracts on PostgreSQL for
// self-hosted deployments. Accounts use bcrypt, documents live in a single
// JSONB table, and blobs are stored as bytea.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/pbsnet/gateway/internal/email"
	"github.com/pbsnet/gateway/internal/platform"
)

const (
	recoveryTTL = time.Hour

	googleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"
)

// Store is the PostgreSQL platform backend.
type Store struct {
	db     *pgxpool.Pool
	oauth  map[string]*oauth2.Config
	mail   email.Sender
	logger *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithOAuthProvider enables third-party login for provider. Only "google" has
// a built-in user-info endpoint.
func WithOAuthProvider(provider string, cfg *oauth2.Config) Option {
	return func(s *Store) { s.oauth[provider] = cfg }
}

// WithMailer sets the sender used for recovery email.
func WithMailer(m email.Sender) Option {
	return func(s *Store) { s.mail = m }
}

// New creates a Store on an open pool.
func New(db *pgxpool.Pool, logger *zap.Logger, opts ...Option) *Store {
	s := &Store{
		db:     db,
		oauth:  make(map[string]*oauth2.Config),
		mail:   email.NewNoopSender(logger),
		logger: logger,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Connect opens and pings a pool for dsn.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Platform returns the Store as a platform.Backend. The gateway serves
// stored blobs itself.
func (s *Store) Platform() *platform.Backend {
	return &platform.Backend{
		Directory:   s,
		Documents:   s,
		Storage:     s,
		ServesFiles: true,
		Close:       s.db.Close,
		Ping:        s.db.Ping,
	}
}

// isUniqueViolation reports whether err is a PostgreSQL unique_violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
