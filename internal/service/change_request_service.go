package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/civreg-api/internal/dto"
	"github.com/noah-isme/civreg-api/internal/models"
	"github.com/noah-isme/civreg-api/internal/repository"
	appErrors "github.com/noah-isme/civreg-api/pkg/errors"
)

type changeRequestStore interface {
	Create(ctx context.Context, request *models.ChangeRequest) error
	GetByID(ctx context.Context, id string) (*models.ChangeRequest, error)
	FindActiveForPerson(ctx context.Context, personID string) (*models.ChangeRequest, error)
	List(ctx context.Context, filter models.ChangeRequestFilter) ([]models.ChangeRequest, int, error)
	Transition(ctx context.Context, params repository.TransitionParams) error
	ApproveTx(ctx context.Context, params repository.ApproveParams) error
}

type personReader interface {
	GetByID(ctx context.Context, id string) (*models.Person, error)
	GetByPSN(ctx context.Context, psn string) (*models.Person, error)
}

// ChangeRequestService runs the citizen data-change workflow: submission,
// review claiming, decision, and cancellation.
type ChangeRequestService struct {
	repo    changeRequestStore
	persons personReader
	audit   auditLogger
	cache   registryCache
	logger  *zap.Logger
	now     func() time.Time
}

// NewChangeRequestService constructs the service.
func NewChangeRequestService(repo changeRequestStore, persons personReader, audit auditLogger, logger *zap.Logger) *ChangeRequestService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChangeRequestService{
		repo:    repo,
		persons: persons,
		audit:   audit,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithCache attaches a cache invalidated when approvals mutate person data.
func (s *ChangeRequestService) WithCache(cache registryCache) *ChangeRequestService {
	s.cache = cache
	return s
}

// Submit files a change request on behalf of the citizen actor. The actor's
// account must be bound to a person record; a person may hold at most one
// PENDING or UNDER_REVIEW request at a time.
func (s *ChangeRequestService) Submit(ctx context.Context, req dto.SubmitChangeRequest, actor *models.JWTClaims) (*models.ChangeRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.PSN == "" {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "account is not bound to a person record")
	}
	if len(req.Edits) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "at least one field change is required")
	}
	if err := validateEditKeys(req.Edits); err != nil {
		return nil, err
	}

	person, err := s.persons.GetByPSN(ctx, actor.PSN)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "person record not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load person")
	}

	changes, err := json.Marshal(req.Edits)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "edits must be valid JSON")
	}
	snapshot, err := snapshotCurrentData(person, req.Edits)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to capture current data")
	}

	now := s.now()
	request := &models.ChangeRequest{
		RequestNumber:    newRequestNumber(now),
		PersonID:         person.ID,
		SubmittedBy:      actor.UserID,
		RequestType:      models.RequestTypeUpdatePersonalInfo,
		Status:           models.RequestStatusPending,
		RequestedChanges: changes,
		CurrentData:      snapshot,
		Description:      optionalString(req.Description),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if request.ID == "" {
		request.ID = uuid.NewString()
	}

	if err := s.repo.Create(ctx, request); err != nil {
		if errors.Is(err, repository.ErrActiveRequestExists) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "person already has an active change request")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create change request")
	}

	s.emitAudit(ctx, &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     models.AuditActionRequestSubmit,
		Resource:   "change_request",
		ResourceID: &request.ID,
		NewValues:  request.RequestedChanges,
		OldValues:  request.CurrentData,
	})
	return request, nil
}

// Claim moves a PENDING request to UNDER_REVIEW, recording the reviewer.
func (s *ChangeRequestService) Claim(ctx context.Context, id string, reviewerID string) (*models.ChangeRequest, error) {
	request, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if request.Status != models.RequestStatusPending {
		return nil, appErrors.Clone(appErrors.ErrConflict,
			fmt.Sprintf("request is %s, only PENDING requests can be claimed", request.Status))
	}

	if err := s.repo.Transition(ctx, repository.TransitionParams{
		ID:         id,
		From:       models.RequestStatusPending,
		To:         models.RequestStatusUnderReview,
		ReviewedBy: &reviewerID,
	}); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "request was claimed or resolved concurrently")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to claim request")
	}

	request.Status = models.RequestStatusUnderReview
	request.ReviewedBy = &reviewerID
	s.emitAudit(ctx, &models.AuditLog{
		UserID:     &reviewerID,
		Action:     models.AuditActionRequestClaim,
		Resource:   "change_request",
		ResourceID: &request.ID,
	})
	return request, nil
}

// Decide resolves an UNDER_REVIEW request. Approval applies the requested
// changes to the person and marks the request in a single transaction, so a
// request can never read APPROVED while the person still holds old values.
func (s *ChangeRequestService) Decide(ctx context.Context, id string, req dto.DecideChangeRequest, reviewerID string) (*models.ChangeRequest, error) {
	if req.Outcome != models.RequestStatusApproved && req.Outcome != models.RequestStatusRejected {
		return nil, appErrors.Clone(appErrors.ErrValidation, "outcome must be APPROVED or REJECTED")
	}

	request, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if request.Status != models.RequestStatusUnderReview {
		return nil, appErrors.Clone(appErrors.ErrConflict,
			fmt.Sprintf("request is %s, only UNDER_REVIEW requests can be decided", request.Status))
	}

	now := s.now()
	notes := optionalString(req.Notes)

	if req.Outcome == models.RequestStatusApproved {
		updates, err := buildPersonUpdates(request.RequestedChanges)
		if err != nil {
			return nil, err
		}
		if err := s.repo.ApproveTx(ctx, repository.ApproveParams{
			RequestID:     request.ID,
			ProcessedBy:   reviewerID,
			Notes:         notes,
			ProcessedAt:   now,
			PersonID:      request.PersonID,
			PersonUpdates: updates,
		}); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrConflict, "request was resolved concurrently")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to approve request")
		}
		s.invalidateReadModels(ctx)
	} else {
		if err := s.repo.Transition(ctx, repository.TransitionParams{
			ID:          request.ID,
			From:        models.RequestStatusUnderReview,
			To:          models.RequestStatusRejected,
			ProcessedBy: &reviewerID,
			Notes:       notes,
			ProcessedAt: &now,
		}); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrConflict, "request was resolved concurrently")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reject request")
		}
	}

	request.Status = req.Outcome
	request.ProcessedBy = &reviewerID
	request.ProcessingNotes = notes
	request.ProcessedAt = &now
	s.emitAudit(ctx, &models.AuditLog{
		UserID:     &reviewerID,
		Action:     models.AuditActionRequestDecide,
		Resource:   "change_request",
		ResourceID: &request.ID,
		NewValues:  request.RequestedChanges,
		OldValues:  request.CurrentData,
	})
	return request, nil
}

// Cancel withdraws the actor's own PENDING request. A request already taken
// into review cannot be withdrawn.
func (s *ChangeRequestService) Cancel(ctx context.Context, id string, actor *models.JWTClaims) (*models.ChangeRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	request, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if request.SubmittedBy != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the submitter can cancel a request")
	}
	if request.Status != models.RequestStatusPending {
		return nil, appErrors.Clone(appErrors.ErrConflict,
			fmt.Sprintf("request is %s, only PENDING requests can be cancelled", request.Status))
	}

	if err := s.repo.Transition(ctx, repository.TransitionParams{
		ID:   id,
		From: models.RequestStatusPending,
		To:   models.RequestStatusCancelled,
	}); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "request was claimed or resolved concurrently")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel request")
	}

	request.Status = models.RequestStatusCancelled
	s.emitAudit(ctx, &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     models.AuditActionRequestCancel,
		Resource:   "change_request",
		ResourceID: &request.ID,
	})
	return request, nil
}

// Get returns a request, restricting citizens to their own submissions.
func (s *ChangeRequestService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.ChangeRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	request, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role == models.RoleCitizen && request.SubmittedBy != actor.UserID {
		return nil, appErrors.ErrForbidden
	}
	return request, nil
}

// List returns requests matching the query, scoped by actor role.
func (s *ChangeRequestService) List(ctx context.Context, query dto.ChangeRequestQuery, actor *models.JWTClaims, limit, offset int) ([]models.ChangeRequest, int, error) {
	if actor == nil {
		return nil, 0, appErrors.ErrUnauthorized
	}
	filter := models.ChangeRequestFilter{
		Status:   query.Status,
		PersonID: query.PersonID,
		Limit:    limit,
		Offset:   offset,
	}
	switch actor.Role {
	case models.RoleAdmin, models.RoleAgencyOperator:
		// full access
	case models.RoleCitizen:
		filter.SubmittedBy = actor.UserID
	default:
		return nil, 0, appErrors.ErrForbidden
	}
	requests, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list change requests")
	}
	return requests, total, nil
}

func (s *ChangeRequestService) load(ctx context.Context, id string) (*models.ChangeRequest, error) {
	request, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "change request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load change request")
	}
	return request, nil
}

func (s *ChangeRequestService) emitAudit(ctx context.Context, log *models.AuditLog) {
	if s.audit == nil || log == nil {
		return
	}
	log.IPAddress = "system"
	log.UserAgent = "change-request-service"
	if err := s.audit.Create(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}

func (s *ChangeRequestService) invalidateReadModels(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, registryCachePrefix); err != nil {
		s.logger.Warn("cache invalidation failed", zap.Error(err))
	}
}

// validateEditKeys rejects any key outside the editable-field whitelist,
// naming every offender in a stable order.
func validateEditKeys(edits map[string]json.RawMessage) error {
	var invalid []string
	for key := range edits {
		if _, ok := models.EditableFields[key]; !ok {
			invalid = append(invalid, key)
		}
	}
	if len(invalid) > 0 {
		sort.Strings(invalid)
		return appErrors.Clone(appErrors.ErrValidation,
			fmt.Sprintf("fields cannot be changed: %s", strings.Join(invalid, ", ")))
	}
	return nil
}

// snapshotCurrentData captures the person's current values for exactly the
// submitted keys so reviewers can diff before and after.
func snapshotCurrentData(person *models.Person, edits map[string]json.RawMessage) ([]byte, error) {
	current := make(map[string]interface{}, len(edits))
	for key := range edits {
		switch key {
		case "firstName":
			current[key] = person.FirstName
		case "lastName":
			current[key] = person.LastName
		case "middleName":
			current[key] = person.MiddleName
		case "dateOfBirth":
			current[key] = person.DateOfBirth.Format(birthDateLayout)
		case "placeOfBirth":
			current[key] = person.PlaceOfBirth
		case "gender":
			current[key] = person.Gender
		case "citizenshipStatus":
			current[key] = person.CitizenshipStatus
		case "nationality":
			current[key] = person.Nationality
		case "photo":
			current[key] = person.Photo
		case "email":
			current[key] = person.Email
		case "phone":
			current[key] = person.Phone
		}
	}
	return json.Marshal(current)
}

func newRequestNumber(now time.Time) string {
	return fmt.Sprintf("CR-%d-%04d", now.UnixMilli(), rand.Intn(10000))
}

func optionalString(value string) *string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	v := strings.TrimSpace(value)
	return &v
}

