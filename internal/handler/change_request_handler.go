package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/civreg-api/internal/dto"
	"github.com/noah-isme/civreg-api/internal/models"
	appErrors "github.com/noah-isme/civreg-api/pkg/errors"
	"github.com/noah-isme/civreg-api/pkg/response"
)

type changeRequestService interface {
	Submit(ctx context.Context, req dto.SubmitChangeRequest, actor *models.JWTClaims) (*models.ChangeRequest, error)
	Claim(ctx context.Context, id string, reviewerID string) (*models.ChangeRequest, error)
	Decide(ctx context.Context, id string, req dto.DecideChangeRequest, reviewerID string) (*models.ChangeRequest, error)
	Cancel(ctx context.Context, id string, actor *models.JWTClaims) (*models.ChangeRequest, error)
	Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.ChangeRequest, error)
	List(ctx context.Context, query dto.ChangeRequestQuery, actor *models.JWTClaims, limit, offset int) ([]models.ChangeRequest, int, error)
}

// ChangeRequestHandler exposes REST endpoints for the change-request workflow.
type ChangeRequestHandler struct {
	service changeRequestService
}

// NewChangeRequestHandler constructs the handler.
func NewChangeRequestHandler(service changeRequestService) *ChangeRequestHandler {
	return &ChangeRequestHandler{service: service}
}

// Submit godoc
// @Summary Submit a change request for the caller's own record
// @Tags ChangeRequests
// @Accept json
// @Produce json
// @Param payload body dto.SubmitChangeRequest true "Requested edits"
// @Success 201 {object} response.Envelope
// @Router /change-requests [post]
func (h *ChangeRequestHandler) Submit(c *gin.Context) {
	var req dto.SubmitChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid change request payload"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	request, err := h.service.Submit(c.Request.Context(), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, request)
}

// Claim godoc
// @Summary Take a pending request into review
// @Tags ChangeRequests
// @Produce json
// @Param id path string true "Change request ID"
// @Success 200 {object} response.Envelope
// @Router /change-requests/{id}/claim [post]
func (h *ChangeRequestHandler) Claim(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	request, err := h.service.Claim(c.Request.Context(), c.Param("id"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// Decide godoc
// @Summary Approve or reject a request under review
// @Tags ChangeRequests
// @Accept json
// @Produce json
// @Param id path string true "Change request ID"
// @Param payload body dto.DecideChangeRequest true "Decision"
// @Success 200 {object} response.Envelope
// @Router /change-requests/{id}/decide [post]
func (h *ChangeRequestHandler) Decide(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.DecideChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid decision payload"))
		return
	}
	request, err := h.service.Decide(c.Request.Context(), c.Param("id"), req, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// Cancel godoc
// @Summary Withdraw the caller's own pending request
// @Tags ChangeRequests
// @Produce json
// @Param id path string true "Change request ID"
// @Success 200 {object} response.Envelope
// @Router /change-requests/{id}/cancel [post]
func (h *ChangeRequestHandler) Cancel(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	request, err := h.service.Cancel(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// Get godoc
// @Summary Get a change request
// @Tags ChangeRequests
// @Produce json
// @Param id path string true "Change request ID"
// @Success 200 {object} response.Envelope
// @Router /change-requests/{id} [get]
func (h *ChangeRequestHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	request, err := h.service.Get(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// List godoc
// @Summary List change requests
// @Tags ChangeRequests
// @Produce json
// @Param status query string false "Comma separated statuses"
// @Param personId query string false "Person ID"
// @Param limit query int false "Limit"
// @Param offset query int false "Offset"
// @Success 200 {object} response.Envelope
// @Router /change-requests [get]
func (h *ChangeRequestHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	query := dto.ChangeRequestQuery{PersonID: c.Query("personId")}
	if rawStatus := c.Query("status"); rawStatus != "" {
		parts := strings.Split(rawStatus, ",")
		statuses := make([]models.RequestStatus, 0, len(parts))
		for _, part := range parts {
			part = strings.ToUpper(strings.TrimSpace(part))
			if part == "" {
				continue
			}
			statuses = append(statuses, models.RequestStatus(part))
		}
		query.Status = statuses
	}
	limit := queryInt(c, "limit", 20)
	offset := queryInt(c, "offset", 0)

	requests, total, err := h.service.List(c.Request.Context(), query, claims, limit, offset)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, requests, nil, map[string]interface{}{"total": total})
}
