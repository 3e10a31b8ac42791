package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/civreg-api/internal/dto"
	"github.com/noah-isme/civreg-api/internal/models"
	appErrors "github.com/noah-isme/civreg-api/pkg/errors"
	"github.com/noah-isme/civreg-api/pkg/response"
)

type personService interface {
	Register(ctx context.Context, req dto.RegisterPersonRequest, actorID string) (*models.Person, error)
	Lookup(ctx context.Context, identifier string) (*models.Person, error)
	Search(ctx context.Context, query dto.SearchPersonsQuery) ([]models.Person, error)
	List(ctx context.Context, query dto.ListPersonsQuery) ([]models.Person, int, error)
	Statistics(ctx context.Context) (*models.RegistryStatistics, error)
	Deactivate(ctx context.Context, identifier, actorID string) error
}

// PersonHandler exposes REST endpoints for the person registry.
type PersonHandler struct {
	service personService
}

// NewPersonHandler constructs the handler.
func NewPersonHandler(service personService) *PersonHandler {
	return &PersonHandler{service: service}
}

// Register godoc
// @Summary Register a person and issue a PSN
// @Tags Persons
// @Accept json
// @Produce json
// @Param payload body dto.RegisterPersonRequest true "Person payload"
// @Success 201 {object} response.Envelope
// @Router /persons [post]
func (h *PersonHandler) Register(c *gin.Context) {
	var req dto.RegisterPersonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid person payload"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	person, err := h.service.Register(c.Request.Context(), req, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, person)
}

// Get godoc
// @Summary Look up a person by PSN
// @Tags Persons
// @Produce json
// @Param psn path string true "Public Service Number"
// @Success 200 {object} response.Envelope
// @Router /persons/{psn} [get]
func (h *PersonHandler) Get(c *gin.Context) {
	person, err := h.service.Lookup(c.Request.Context(), c.Param("psn"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, person, nil)
}

// Search godoc
// @Summary Search persons by demographic criteria
// @Tags Persons
// @Produce json
// @Param firstName query string false "First name fragment"
// @Param lastName query string false "Last name fragment"
// @Param dateOfBirth query string false "Birth date (YYYY-MM-DD)"
// @Param email query string false "Exact email"
// @Param phone query string false "Exact phone"
// @Success 200 {object} response.Envelope
// @Router /persons/search [get]
func (h *PersonHandler) Search(c *gin.Context) {
	query := dto.SearchPersonsQuery{
		FirstName:   c.Query("firstName"),
		LastName:    c.Query("lastName"),
		DateOfBirth: c.Query("dateOfBirth"),
		Email:       c.Query("email"),
		Phone:       c.Query("phone"),
	}
	persons, err := h.service.Search(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, persons, nil)
}

// List godoc
// @Summary List persons with filters and pagination
// @Tags Persons
// @Produce json
// @Param citizenshipStatus query string false "Citizenship status"
// @Param gender query string false "Gender"
// @Param city query string false "Primary address city"
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /persons [get]
func (h *PersonHandler) List(c *gin.Context) {
	query := dto.ListPersonsQuery{
		CitizenshipStatus: c.Query("citizenshipStatus"),
		Gender:            c.Query("gender"),
		City:              c.Query("city"),
		Page:              queryInt(c, "page", 1),
		PageSize:          queryInt(c, "pageSize", 10),
	}
	persons, total, err := h.service.List(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, persons, &models.Pagination{
		Page:       query.Page,
		PageSize:   query.PageSize,
		TotalCount: total,
	})
}

// Statistics godoc
// @Summary Aggregate registry statistics
// @Tags Persons
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /persons/statistics/summary [get]
func (h *PersonHandler) Statistics(c *gin.Context) {
	stats, err := h.service.Statistics(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil)
}

// Deactivate godoc
// @Summary Deactivate a person record
// @Tags Persons
// @Param psn path string true "Public Service Number"
// @Success 204
// @Router /persons/{psn} [delete]
func (h *PersonHandler) Deactivate(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if err := h.service.Deactivate(c.Request.Context(), c.Param("psn"), claims.UserID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
