// Package media replaces profile pictures and builds their view URLs.
package media

import (
	"context"
	"fmt"
	"io"
	"net/url"

	"go.uber.org/zap"

	"github.com/pbsnet/gateway/internal/events"
	"github.com/pbsnet/gateway/internal/platform"
	"github.com/pbsnet/gateway/internal/profile"
)

// uploadName is the filename every avatar is stored under.
const uploadName = "profile.png"

// Config locates stored pictures.
type Config struct {
	Bucket    string
	PublicURL string // platform base URL including /v1
	ProjectID string
}

// Service manages the single picture each profile points at.
type Service struct {
	storage  platform.Storage
	profiles *profile.Store
	cfg      Config
	events   events.Publisher
	logger   *zap.Logger
}

// NewService creates a media Service.
func NewService(storage platform.Storage, profiles *profile.Store, cfg Config, pub events.Publisher, logger *zap.Logger) *Service {
	return &Service{
		storage:  storage,
		profiles: profiles,
		cfg:      cfg,
		events:   pub,
		logger:   logger,
	}
}

// ReplaceProfilePicture stores data as the new picture of userID and returns
// its blob id. The previous blob is removed best-effort once the profile
// points at the new one.
func (s *Service) ReplaceProfilePicture(ctx context.Context, userID string, data []byte) (string, error) {
	p, err := s.profiles.Get(ctx, userID)
	if err != nil {
		return "", err
	}
	oldID := p.ProfilePicID

	fileID, err := s.storage.Upload(ctx, s.cfg.Bucket, uploadName, data)
	if err != nil {
		return "", fmt.Errorf("upload picture: %w", err)
	}

	if err := s.profiles.SetPicture(ctx, userID, fileID); err != nil {
		s.logger.Warn("orphaned profile picture: pointer update failed",
			zap.String("user_id", userID),
			zap.String("file_id", fileID),
			zap.Error(err),
		)
		return "", err
	}

	if oldID != "" && oldID != fileID {
		if err := s.storage.Delete(ctx, s.cfg.Bucket, oldID); err != nil {
			s.logger.Debug("old profile picture not deleted",
				zap.String("user_id", userID),
				zap.String("file_id", oldID),
				zap.Error(err),
			)
		}
	}

	s.events.Publish(ctx, events.PictureChanged, userID, map[string]string{"file_id": fileID})
	return fileID, nil
}

// ViewURL returns the retrieval URL of fileID, or "" when fileID is empty.
// Owner views add mode=admin so the platform serves private files.
func (s *Service) ViewURL(fileID string, owner bool) string {
	if fileID == "" {
		return ""
	}
	u := s.cfg.PublicURL + "/storage/buckets/" + url.PathEscape(s.cfg.Bucket) +
		"/files/" + url.PathEscape(fileID) + "/view?project=" + url.QueryEscape(s.cfg.ProjectID)
	if owner {
		u += "&mode=admin"
	}
	return u
}

// Open streams a stored picture from the configured bucket. Used when the
// gateway serves blobs itself.
func (s *Service) Open(ctx context.Context, bucket, fileID string) (io.ReadCloser, string, error) {
	if bucket != s.cfg.Bucket {
		return nil, "", platform.ErrNotFound
	}
	return s.storage.Open(ctx, bucket, fileID)
}
