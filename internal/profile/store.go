// Package profile manages the per-user profile document: core fields, the
// personal JSON bag, username claims, API keys and search.
package profile

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"maps"
	"math/big"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/pbsnet/gateway/internal/events"
	"github.com/pbsnet/gateway/internal/keylock"
	"github.com/pbsnet/gateway/internal/platform"
)

// SearchLimit caps the number of profiles a search returns.
const SearchLimit = 20

const (
	apiKeyLength   = 16
	apiKeyAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
)

var (
	// ErrNotFound is returned when no profile matches.
	ErrNotFound = errors.New("profile not found")
	// ErrInvalidUsername is returned for candidates outside ^[a-z0-9_]{3,20}$.
	ErrInvalidUsername = errors.New("invalid username format")
	// ErrUsernameTaken is returned when another profile already holds the username.
	ErrUsernameTaken = errors.New("username taken")
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9_]{3,20}$`)

// Store reads and writes profile documents.
type Store struct {
	docs         platform.Documents
	collection   string
	locks        keylock.Locker
	events       events.Publisher
	apiKeyPrefix string
	logger       *zap.Logger
}

// NewStore creates a profile Store over collection.
func NewStore(docs platform.Documents, collection string, locks keylock.Locker, pub events.Publisher, apiKeyPrefix string, logger *zap.Logger) *Store {
	return &Store{
		docs:         docs,
		collection:   collection,
		locks:        locks,
		events:       pub,
		apiKeyPrefix: apiKeyPrefix,
		logger:       logger,
	}
}

// Create inserts the profile document for a new identity.
func (s *Store) Create(ctx context.Context, userID, fullName, email string) error {
	_, err := s.docs.Create(ctx, s.collection, userID, map[string]any{
		attrFullName:     fullName,
		attrEmail:        email,
		attrPersonalJSON: "{}",
	})
	if err != nil {
		return fmt.Errorf("create profile: %w", err)
	}
	return nil
}

// Get returns the profile of userID.
func (s *Store) Get(ctx context.Context, userID string) (*Profile, error) {
	d, err := s.docs.Get(ctx, s.collection, userID)
	if err != nil {
		if errors.Is(err, platform.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return fromDocument(d), nil
}

// UpdateCore patches the provided core fields only.
func (s *Store) UpdateCore(ctx context.Context, userID string, u CoreUpdate) error {
	p := u.patch()
	if len(p) == 0 {
		return nil
	}
	return s.update(ctx, userID, p)
}

// MergeJSON shallow-merges partial into the personal bag and returns the
// merged bag. Keys in partial win; sibling keys are kept.
func (s *Store) MergeJSON(ctx context.Context, userID string, partial map[string]any) (map[string]any, error) {
	var merged map[string]any
	err := keylock.Do(ctx, s.locks, "profile:"+userID, func() error {
		p, err := s.Get(ctx, userID)
		if err != nil {
			return err
		}
		merged = p.PersonalJSON
		maps.Copy(merged, partial)

		encoded, err := EncodeBag(merged)
		if err != nil {
			return fmt.Errorf("encode personal_json: %w", err)
		}
		return s.update(ctx, userID, map[string]any{attrPersonalJSON: encoded})
	})
	if err != nil {
		return nil, err
	}
	return merged, nil
}

// SetUsername claims candidate for userID.
func (s *Store) SetUsername(ctx context.Context, userID, candidate string) error {
	if !usernamePattern.MatchString(candidate) {
		return ErrInvalidUsername
	}

	err := keylock.Do(ctx, s.locks, "username:"+candidate, func() error {
		existing, err := s.docs.List(ctx, s.collection,
			platform.Equal(attrUsername, candidate), platform.Limit(1))
		if err != nil {
			return fmt.Errorf("check username: %w", err)
		}
		if len(existing) > 0 {
			return ErrUsernameTaken
		}
		if err := s.update(ctx, userID, map[string]any{attrUsername: candidate}); err != nil {
			if errors.Is(err, platform.ErrConflict) {
				return ErrUsernameTaken
			}
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.events.Publish(ctx, events.UsernameChanged, userID, map[string]string{"username": candidate})
	return nil
}

// GenerateAPIKey replaces the API key of userID with a fresh one.
func (s *Store) GenerateAPIKey(ctx context.Context, userID string) (string, error) {
	suffix, err := randomBase36(apiKeyLength)
	if err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	key := s.apiKeyPrefix + "-" + suffix
	if err := s.update(ctx, userID, map[string]any{attrAPIKey: key}); err != nil {
		return "", err
	}
	return key, nil
}

// SetPicture points the profile at a stored blob.
func (s *Store) SetPicture(ctx context.Context, userID, fileID string) error {
	return s.update(ctx, userID, map[string]any{attrProfilePicID: fileID})
}

// Search returns at most SearchLimit profiles matching every set filter.
func (s *Store) Search(ctx context.Context, f SearchFilter) ([]*Profile, error) {
	var q []platform.Query
	for attr, v := range map[string]string{
		attrPbsName:    f.Pbs,
		attrOfficeName: f.Office,
		attrMobile:     f.Mobile,
		attrPostName:   f.Designation,
		attrUsername:   f.Username,
	} {
		if v != "" {
			q = append(q, platform.Equal(attr, v))
		}
	}
	if f.Name != "" {
		q = append(q, platform.Search(attrFullName, f.Name))
	}
	q = append(q, platform.Limit(SearchLimit))

	docs, err := s.docs.List(ctx, s.collection, q...)
	if err != nil {
		return nil, fmt.Errorf("search profiles: %w", err)
	}
	out := make([]*Profile, 0, len(docs))
	for _, d := range docs {
		out = append(out, fromDocument(d))
	}
	return out, nil
}

// GetByUsername returns the profile holding username.
func (s *Store) GetByUsername(ctx context.Context, username string) (*Profile, error) {
	return s.findOne(ctx, attrUsername, username)
}

// FindByMobile returns the profile whose mobile equals mobile.
func (s *Store) FindByMobile(ctx context.Context, mobile string) (*Profile, error) {
	return s.findOne(ctx, attrMobile, mobile)
}

// FindByEmail returns the profile whose email equals the lowercased email.
func (s *Store) FindByEmail(ctx context.Context, email string) (*Profile, error) {
	return s.findOne(ctx, attrEmail, strings.ToLower(strings.TrimSpace(email)))
}

// FindByAPIKey returns the profile holding key.
func (s *Store) FindByAPIKey(ctx context.Context, key string) (*Profile, error) {
	if key == "" {
		return nil, ErrNotFound
	}
	return s.findOne(ctx, attrAPIKey, key)
}

func (s *Store) findOne(ctx context.Context, attr, value string) (*Profile, error) {
	docs, err := s.docs.List(ctx, s.collection, platform.Equal(attr, value), platform.Limit(1))
	if err != nil {
		return nil, fmt.Errorf("find profile by %s: %w", attr, err)
	}
	if len(docs) == 0 {
		return nil, ErrNotFound
	}
	return fromDocument(docs[0]), nil
}

func (s *Store) update(ctx context.Context, userID string, patch map[string]any) error {
	if _, err := s.docs.Update(ctx, s.collection, userID, patch); err != nil {
		if errors.Is(err, platform.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("update profile: %w", err)
	}
	return nil
}

func randomBase36(n int) (string, error) {
	limit := big.NewInt(int64(len(apiKeyAlphabet)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b[i] = apiKeyAlphabet[idx.Int64()]
	}
	return string(b), nil
}
