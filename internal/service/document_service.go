package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/civreg-api/internal/models"
	appErrors "github.com/noah-isme/civreg-api/pkg/errors"
	"github.com/noah-isme/civreg-api/pkg/storage"
)

type documentStore interface {
	Create(ctx context.Context, doc *models.Document) error
	GetByID(ctx context.Context, id string) (*models.Document, error)
	ListByChangeRequest(ctx context.Context, changeRequestID string) ([]models.Document, error)
	Delete(ctx context.Context, id string) error
}

type blobStore interface {
	SaveStream(key string, r io.Reader) (int64, error)
	Delete(key string) error
}

type documentRequestReader interface {
	GetByID(ctx context.Context, id string) (*models.ChangeRequest, error)
}

// DocumentConfig bounds uploads.
type DocumentConfig struct {
	MaxFileSizeBytes int64
	AllowedMIMEs     []string
}

// DocumentService handles supporting files attached to change requests.
// Downloads go through HMAC-signed, expiring tokens rather than raw keys.
type DocumentService struct {
	repo     documentStore
	requests documentRequestReader
	blobs    blobStore
	signer   *storage.SignedURLSigner
	audit    auditLogger
	logger   *zap.Logger
	config   DocumentConfig
}

// NewDocumentService constructs the service.
func NewDocumentService(repo documentStore, requests documentRequestReader, blobs blobStore, signer *storage.SignedURLSigner, audit auditLogger, logger *zap.Logger, config DocumentConfig) *DocumentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentService{
		repo:     repo,
		requests: requests,
		blobs:    blobs,
		signer:   signer,
		audit:    audit,
		logger:   logger,
		config:   config,
	}
}

// Upload stores a file against an active change request. Terminal requests
// no longer accept attachments.
func (s *DocumentService) Upload(ctx context.Context, changeRequestID, fileName, mimeType string, size int64, content io.Reader, actor *models.JWTClaims) (*models.Document, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if fileName == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "file name is required")
	}
	if s.config.MaxFileSizeBytes > 0 && size > s.config.MaxFileSizeBytes {
		return nil, appErrors.Clone(appErrors.ErrValidation,
			fmt.Sprintf("file exceeds the %d byte limit", s.config.MaxFileSizeBytes))
	}
	if !s.mimeAllowed(mimeType) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("mime type %q is not allowed", mimeType))
	}

	request, err := s.requests.GetByID(ctx, changeRequestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "change request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load change request")
	}
	if actor.Role == models.RoleCitizen && request.SubmittedBy != actor.UserID {
		return nil, appErrors.ErrForbidden
	}
	if request.Status.Terminal() {
		return nil, appErrors.Clone(appErrors.ErrConflict, "request is already resolved")
	}

	doc := &models.Document{
		ID:              uuid.NewString(),
		ChangeRequestID: request.ID,
		FileName:        filepath.Base(fileName),
		MIMEType:        mimeType,
		UploadedBy:      actor.UserID,
		CreatedAt:       time.Now().UTC(),
	}
	doc.StorageKey = fmt.Sprintf("%s/%s", request.ID, doc.ID)

	written, err := s.blobs.SaveStream(doc.StorageKey, content)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store document")
	}
	doc.SizeBytes = written

	if err := s.repo.Create(ctx, doc); err != nil {
		if cleanupErr := s.blobs.Delete(doc.StorageKey); cleanupErr != nil {
			s.logger.Warn("failed to remove orphaned document blob", zap.Error(cleanupErr))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record document")
	}

	if s.audit != nil {
		if err := s.audit.Create(ctx, &models.AuditLog{
			UserID:     &actor.UserID,
			Action:     models.AuditActionDocumentUpload,
			Resource:   "document",
			ResourceID: &doc.ID,
			IPAddress:  "system",
			UserAgent:  "document-service",
		}); err != nil {
			s.logger.Warn("failed to persist audit log", zap.Error(err))
		}
	}
	return doc, nil
}

// List returns the documents attached to a change request, honouring the
// citizen self-scope.
func (s *DocumentService) List(ctx context.Context, changeRequestID string, actor *models.JWTClaims) ([]models.Document, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	request, err := s.requests.GetByID(ctx, changeRequestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "change request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load change request")
	}
	if actor.Role == models.RoleCitizen && request.SubmittedBy != actor.UserID {
		return nil, appErrors.ErrForbidden
	}
	docs, err := s.repo.ListByChangeRequest(ctx, changeRequestID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list documents")
	}
	return docs, nil
}

// DownloadURL mints a signed token for fetching the document content.
func (s *DocumentService) DownloadURL(ctx context.Context, documentID string, actor *models.JWTClaims) (string, time.Time, error) {
	if actor == nil {
		return "", time.Time{}, appErrors.ErrUnauthorized
	}
	doc, err := s.repo.GetByID(ctx, documentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", time.Time{}, appErrors.Clone(appErrors.ErrNotFound, "document not found")
		}
		return "", time.Time{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load document")
	}
	if actor.Role == models.RoleCitizen {
		request, err := s.requests.GetByID(ctx, doc.ChangeRequestID)
		if err != nil {
			return "", time.Time{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load change request")
		}
		if request.SubmittedBy != actor.UserID {
			return "", time.Time{}, appErrors.ErrForbidden
		}
	}
	token, expiresAt, err := s.signer.Generate(doc.ID, doc.StorageKey)
	if err != nil {
		return "", time.Time{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download token")
	}
	return token, expiresAt, nil
}

// Resolve validates a signed token and returns the matching document record.
func (s *DocumentService) Resolve(ctx context.Context, token string) (*models.Document, error) {
	documentID, key, _, err := s.signer.Parse(token)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired download token")
	}
	doc, err := s.repo.GetByID(ctx, documentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "document not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load document")
	}
	if doc.StorageKey != key {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "token does not match document")
	}
	return doc, nil
}

func (s *DocumentService) mimeAllowed(mimeType string) bool {
	if len(s.config.AllowedMIMEs) == 0 {
		return true
	}
	for _, allowed := range s.config.AllowedMIMEs {
		if allowed == mimeType {
			return true
		}
	}
	return false
}
