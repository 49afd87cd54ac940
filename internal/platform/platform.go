// Package platform defines the contracts the gateway needs from its
// backend-as-a-service: a user directory, a document database and blob storage.
//
// Three implementations exist:
//   - appwrite: REST client for the managed platform (production default)
//   - postgres: self-hosted equivalent on PostgreSQL
//   - memory  : in-process backend for development and tests
package platform

import (
	"context"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrNotFound is returned when a user, document or file does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a create collides with an existing record
	// or a unique attribute is already in use.
	ErrConflict = errors.New("already exists")

	// ErrInvalidCredentials is returned when an email/password pair or a
	// provider assertion is rejected.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Error is an upstream failure reported by the platform. It carries enough
// detail for logging; handlers must not echo Message to clients.
type Error struct {
	Status  int
	Type    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("platform error %d (%s): %s", e.Status, e.Type, e.Message)
}

// Account is an identity-provider user record.
type Account struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Document is a schemaless record in a collection. ID is the document id;
// Data holds the attributes without platform metadata.
type Document struct {
	ID   string
	Data map[string]any
}

// String returns attribute key as a string, or "" when absent or not a string.
func (d *Document) String(key string) string {
	if d == nil || d.Data == nil {
		return ""
	}
	s, _ := d.Data[key].(string)
	return s
}

// Directory is the identity provider. Passwords never leave it.
type Directory interface {
	// CreateUser registers a new identity. Returns ErrConflict if the email is taken.
	CreateUser(ctx context.Context, email, password, name string) (*Account, error)
	// FindUserByEmail returns the first identity with the given email, or ErrNotFound.
	FindUserByEmail(ctx context.Context, email string) (*Account, error)
	// UpdatePassword replaces the password of an existing identity.
	UpdatePassword(ctx context.Context, userID, password string) error
	// CheckPassword establishes a throwaway unprivileged session for the pair.
	// Any rejection is reported as ErrInvalidCredentials.
	CheckPassword(ctx context.Context, email, password string) error
	// AccountFromAssertion validates a short-lived third-party login assertion
	// and returns the identity it proves.
	AccountFromAssertion(ctx context.Context, assertion string) (*Account, error)
	// OAuthURL returns the URL a browser should visit to start a third-party login.
	OAuthURL(provider, successURL, failureURL string) (string, error)
	// SendRecovery emails a password-recovery link pointing at redirectURL.
	SendRecovery(ctx context.Context, email, redirectURL string) error
	// CompleteRecovery sets a new password using the secret from a recovery link.
	CompleteRecovery(ctx context.Context, userID, secret, password string) error
}

// Documents is the document database.
type Documents interface {
	Get(ctx context.Context, collection, id string) (*Document, error)
	// Create inserts a document with a caller-chosen id. Returns ErrConflict
	// if the id exists or a unique attribute collides.
	Create(ctx context.Context, collection, id string, data map[string]any) (*Document, error)
	// Update patches only the given attributes and returns the full document.
	Update(ctx context.Context, collection, id string, data map[string]any) (*Document, error)
	List(ctx context.Context, collection string, queries ...Query) ([]*Document, error)
}

// Storage is the blob store.
type Storage interface {
	// Upload stores data under a new id and returns it.
	Upload(ctx context.Context, bucket, filename string, data []byte) (string, error)
	Delete(ctx context.Context, bucket, fileID string) error
	// Open returns the blob contents and its content type.
	Open(ctx context.Context, bucket, fileID string) (io.ReadCloser, string, error)
}

// Backend bundles the three services a single platform provides.
type Backend struct {
	Directory Directory
	Documents Documents
	Storage   Storage

	// ServesFiles is true when blobs are not reachable at the platform's
	// own URL and the gateway must serve the view route itself.
	ServesFiles bool
	Close       func()

	// Ping checks that the backend is reachable. Nil when there is nothing
	// to probe.
	Ping func(context.Context) error
}
