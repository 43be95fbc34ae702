package caption

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"caption-api/internal/domain"
	"caption-api/internal/storage"
)

var (
	// ErrEmptyUpload is returned for a zero-length file.
	ErrEmptyUpload = errors.New("empty file")
	// ErrArchiveDisabled is returned by archive queries when no bucket is configured.
	ErrArchiveDisabled = errors.New("upload archive not configured")
)

type ArchiveOptions struct {
	Bucket    string
	KeyPrefix string
}

// Service forwards uploads to the inference backend on behalf of an
// authenticated user, archiving the raw file first when storage is set up.
type Service struct {
	client  Client
	store   storage.Service
	archive ArchiveOptions
	logger  logrus.FieldLogger
}

// NewService builds the gateway. store may be nil to disable archiving.
func NewService(client Client, store storage.Service, archive ArchiveOptions, logger logrus.FieldLogger) *Service {
	if store != nil && archive.Bucket == "" {
		store = nil
	}
	return &Service{
		client:  client,
		store:   store,
		archive: archive,
		logger:  logger,
	}
}

func (s *Service) CaptionImage(ctx context.Context, who domain.Identity, upload Upload) (*ImageResult, error) {
	if len(upload.Data) == 0 {
		return nil, ErrEmptyUpload
	}
	s.archiveUpload(ctx, who, upload)
	return s.client.CaptionImage(ctx, upload)
}

func (s *Service) CaptionPDF(ctx context.Context, who domain.Identity, upload Upload) (*PDFResult, error) {
	if len(upload.Data) == 0 {
		return nil, ErrEmptyUpload
	}
	s.archiveUpload(ctx, who, upload)
	return s.client.CaptionPDF(ctx, upload)
}

// ListUploads returns the archived uploads that belong to who.
func (s *Service) ListUploads(ctx context.Context, who domain.Identity) ([]storage.ObjectInfo, error) {
	if s.store == nil {
		return nil, ErrArchiveDisabled
	}
	return s.store.ListObjects(ctx, s.archive.Bucket, s.userPrefix(who))
}

// DeleteUploads removes every archived upload that belongs to who.
func (s *Service) DeleteUploads(ctx context.Context, who domain.Identity) (int, error) {
	if s.store == nil {
		return 0, ErrArchiveDisabled
	}
	return s.store.DeletePrefix(ctx, s.archive.Bucket, s.userPrefix(who))
}

func (s *Service) archiveUpload(ctx context.Context, who domain.Identity, upload Upload) {
	if s.store == nil {
		return
	}

	key := s.userPrefix(who) + uuid.NewString() + "-" + sanitizeFilename(upload.Filename)
	location, err := s.store.PutObject(ctx, s.archive.Bucket, key, bytes.NewReader(upload.Data), upload.ContentType)
	if err != nil {
		s.logger.WithError(err).WithField("user_id", who.UserID).Warn("archive upload failed")
		return
	}
	s.logger.WithFields(logrus.Fields{
		"user_id":  who.UserID,
		"location": location,
	}).Debug("upload archived")
}

func (s *Service) userPrefix(who domain.Identity) string {
	prefix := strings.Trim(s.archive.KeyPrefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return fmt.Sprintf("%s%s/", prefix, who.UserID)
}

func sanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "upload"
	}
	return name
}
