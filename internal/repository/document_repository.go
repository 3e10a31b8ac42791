package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/civreg-api/internal/models"
)

// DocumentRepository manages metadata for files attached to change requests.
type DocumentRepository struct {
	db *sqlx.DB
}

// NewDocumentRepository creates a new instance of DocumentRepository.
func NewDocumentRepository(db *sqlx.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// Create stores a document record.
func (r *DocumentRepository) Create(ctx context.Context, doc *models.Document) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO documents (id, change_request_id, file_name, mime_type, size_bytes, storage_key, uploaded_by, created_at)
	VALUES (:id, :change_request_id, :file_name, :mime_type, :size_bytes, :storage_key, :uploaded_by, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, doc); err != nil {
		return fmt.Errorf("create document: %w", err)
	}
	return nil
}

// GetByID returns a document record by id.
func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*models.Document, error) {
	const query = `SELECT id, change_request_id, file_name, mime_type, size_bytes, storage_key, uploaded_by, created_at
	FROM documents WHERE id = $1`
	var doc models.Document
	if err := r.db.GetContext(ctx, &doc, query, id); err != nil {
		return nil, err
	}
	return &doc, nil
}

// ListByChangeRequest returns all documents attached to a change request.
func (r *DocumentRepository) ListByChangeRequest(ctx context.Context, changeRequestID string) ([]models.Document, error) {
	const query = `SELECT id, change_request_id, file_name, mime_type, size_bytes, storage_key, uploaded_by, created_at
	FROM documents WHERE change_request_id = $1 ORDER BY created_at`
	var docs []models.Document
	if err := r.db.SelectContext(ctx, &docs, query, changeRequestID); err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

// Delete removes a document record.
func (r *DocumentRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}
