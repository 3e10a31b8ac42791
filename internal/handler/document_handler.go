package handler

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/civreg-api/internal/models"
	appErrors "github.com/noah-isme/civreg-api/pkg/errors"
	"github.com/noah-isme/civreg-api/pkg/response"
	"github.com/noah-isme/civreg-api/pkg/storage"
)

type documentService interface {
	Upload(ctx context.Context, changeRequestID, fileName, mimeType string, size int64, content io.Reader, actor *models.JWTClaims) (*models.Document, error)
	List(ctx context.Context, changeRequestID string, actor *models.JWTClaims) ([]models.Document, error)
	DownloadURL(ctx context.Context, documentID string, actor *models.JWTClaims) (string, time.Time, error)
	Resolve(ctx context.Context, token string) (*models.Document, error)
}

// DocumentHandler exposes endpoints for change-request attachments.
type DocumentHandler struct {
	service documentService
	blobs   *storage.DocumentStore
}

// NewDocumentHandler constructs the handler.
func NewDocumentHandler(service documentService, blobs *storage.DocumentStore) *DocumentHandler {
	return &DocumentHandler{service: service, blobs: blobs}
}

// Upload godoc
// @Summary Attach a file to a change request
// @Tags Documents
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Change request ID"
// @Param file formData file true "Document file"
// @Success 201 {object} response.Envelope
// @Router /change-requests/{id}/documents [post]
func (h *DocumentHandler) Upload(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "file is required"))
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read upload"))
		return
	}
	defer file.Close() //nolint:errcheck

	doc, err := h.service.Upload(c.Request.Context(),
		c.Param("id"),
		fileHeader.Filename,
		fileHeader.Header.Get("Content-Type"),
		fileHeader.Size,
		file,
		claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, doc)
}

// List godoc
// @Summary List files attached to a change request
// @Tags Documents
// @Produce json
// @Param id path string true "Change request ID"
// @Success 200 {object} response.Envelope
// @Router /change-requests/{id}/documents [get]
func (h *DocumentHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	docs, err := h.service.List(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, docs, nil)
}

// DownloadURL godoc
// @Summary Mint a signed download token for a document
// @Tags Documents
// @Produce json
// @Param id path string true "Document ID"
// @Success 200 {object} response.Envelope
// @Router /documents/{id}/url [get]
func (h *DocumentHandler) DownloadURL(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	token, expiresAt, err := h.service.DownloadURL(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{
		"token":      token,
		"expires_at": expiresAt,
	}, nil)
}

// Download godoc
// @Summary Fetch document content using a signed token
// @Tags Documents
// @Produce octet-stream
// @Param token query string true "Signed token"
// @Success 200
// @Router /documents/download [get]
func (h *DocumentHandler) Download(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	doc, err := h.service.Resolve(c.Request.Context(), token)
	if err != nil {
		response.Error(c, err)
		return
	}
	file, err := h.blobs.Open(doc.StorageKey)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "document content not found"))
		return
	}
	defer file.Close() //nolint:errcheck

	c.Header("Content-Disposition", `attachment; filename="`+doc.FileName+`"`)
	c.DataFromReader(http.StatusOK, doc.SizeBytes, doc.MIMEType, file, nil)
}
