// Package sysdata manages the admin-only system document of each user. The
// document holds one JSON bag whose top-level keys are subclasses; each
// subclass is merged independently of its siblings.
package sysdata

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"go.uber.org/zap"

	"github.com/pbsnet/gateway/internal/events"
	"github.com/pbsnet/gateway/internal/keylock"
	"github.com/pbsnet/gateway/internal/platform"
	"github.com/pbsnet/gateway/internal/profile"
)

const attrAppJSON = "app_json"

// ErrInvalidInput is returned when a subclass name or data is missing.
var ErrInvalidInput = errors.New("subclass and data required")

// Store reads and upserts system documents.
type Store struct {
	docs       platform.Documents
	collection string
	locks      keylock.Locker
	events     events.Publisher
	logger     *zap.Logger
}

// NewStore creates a Store over collection.
func NewStore(docs platform.Documents, collection string, locks keylock.Locker, pub events.Publisher, logger *zap.Logger) *Store {
	return &Store{
		docs:       docs,
		collection: collection,
		locks:      locks,
		events:     pub,
		logger:     logger,
	}
}

// GetAll returns the whole bag of userID. A user without a system document
// has an empty bag.
func (s *Store) GetAll(ctx context.Context, userID string) (map[string]any, error) {
	bag, _, err := s.load(ctx, userID)
	return bag, err
}

// GetSubclass returns one subclass of userID's bag, or an empty object.
func (s *Store) GetSubclass(ctx context.Context, userID, subclass string) (map[string]any, error) {
	bag, _, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	return subclassOf(bag, subclass), nil
}

// UpsertSubclass shallow-merges partial into bag[subclass], creating the
// system document if needed, and returns the merged subclass.
func (s *Store) UpsertSubclass(ctx context.Context, userID, subclass string, partial map[string]any) (map[string]any, error) {
	if subclass == "" || partial == nil {
		return nil, ErrInvalidInput
	}

	var merged map[string]any
	err := keylock.Do(ctx, s.locks, "sysdata:"+userID, func() error {
		bag, exists, err := s.load(ctx, userID)
		if err != nil {
			return err
		}
		merged = subclassOf(bag, subclass)
		maps.Copy(merged, partial)
		bag[subclass] = merged

		encoded, err := profile.EncodeBag(bag)
		if err != nil {
			return fmt.Errorf("encode app_json: %w", err)
		}
		data := map[string]any{attrAppJSON: encoded}

		if exists {
			_, err = s.docs.Update(ctx, s.collection, userID, data)
		} else {
			_, err = s.docs.Create(ctx, s.collection, userID, data)
		}
		if err != nil {
			return fmt.Errorf("save system data: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.events.Publish(ctx, events.SysdataUpdated, userID, map[string]string{"subclass": subclass})
	return merged, nil
}

func (s *Store) load(ctx context.Context, userID string) (map[string]any, bool, error) {
	d, err := s.docs.Get(ctx, s.collection, userID)
	if err != nil {
		if errors.Is(err, platform.ErrNotFound) {
			s.logger.Debug("no system data, using empty bag", zap.String("user_id", userID))
			return map[string]any{}, false, nil
		}
		return nil, false, fmt.Errorf("get system data: %w", err)
	}
	return profile.DecodeBag(d.Data[attrAppJSON]), true, nil
}

func subclassOf(bag map[string]any, subclass string) map[string]any {
	if m, ok := bag[subclass].(map[string]any); ok {
		return m
	}
	return map[string]any{}
}
