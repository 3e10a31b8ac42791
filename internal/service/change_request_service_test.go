package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/civreg-api/internal/dto"
	"github.com/noah-isme/civreg-api/internal/models"
	"github.com/noah-isme/civreg-api/internal/repository"
	appErrors "github.com/noah-isme/civreg-api/pkg/errors"
)

type stubChangeRequestStore struct {
	created       *models.ChangeRequest
	createErr     error
	byID          map[string]*models.ChangeRequest
	transitions   []repository.TransitionParams
	transitionErr error
	approved      *repository.ApproveParams
	approveErr    error
}

func (s *stubChangeRequestStore) Create(_ context.Context, request *models.ChangeRequest) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.created = request
	return nil
}

func (s *stubChangeRequestStore) GetByID(_ context.Context, id string) (*models.ChangeRequest, error) {
	if r, ok := s.byID[id]; ok {
		copied := *r
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (s *stubChangeRequestStore) FindActiveForPerson(_ context.Context, _ string) (*models.ChangeRequest, error) {
	return nil, sql.ErrNoRows
}

func (s *stubChangeRequestStore) List(_ context.Context, _ models.ChangeRequestFilter) ([]models.ChangeRequest, int, error) {
	return nil, 0, nil
}

func (s *stubChangeRequestStore) Transition(_ context.Context, params repository.TransitionParams) error {
	if s.transitionErr != nil {
		return s.transitionErr
	}
	s.transitions = append(s.transitions, params)
	return nil
}

func (s *stubChangeRequestStore) ApproveTx(_ context.Context, params repository.ApproveParams) error {
	if s.approveErr != nil {
		return s.approveErr
	}
	s.approved = &params
	return nil
}

type stubPersonReader struct {
	person *models.Person
}

func (s *stubPersonReader) GetByID(_ context.Context, _ string) (*models.Person, error) {
	if s.person == nil {
		return nil, sql.ErrNoRows
	}
	return s.person, nil
}

func (s *stubPersonReader) GetByPSN(_ context.Context, _ string) (*models.Person, error) {
	if s.person == nil {
		return nil, sql.ErrNoRows
	}
	return s.person, nil
}

func citizenClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "user-1", Role: models.RoleCitizen, PSN: "1101900011"}
}

func samplePerson() *models.Person {
	return &models.Person{
		ID:          "person-1",
		PSN:         "1101900011",
		FirstName:   "Iwan",
		LastName:    "Petrov",
		DateOfBirth: time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC),
		Gender:      models.GenderMale,
	}
}

func rawEdits(t *testing.T, pairs map[string]interface{}) map[string]json.RawMessage {
	t.Helper()
	edits := make(map[string]json.RawMessage, len(pairs))
	for key, value := range pairs {
		raw, err := json.Marshal(value)
		require.NoError(t, err)
		edits[key] = raw
	}
	return edits
}

func TestChangeRequestSubmit(t *testing.T) {
	store := &stubChangeRequestStore{}
	svc := NewChangeRequestService(store, &stubPersonReader{person: samplePerson()}, nil, nil)

	request, err := svc.Submit(context.Background(), dto.SubmitChangeRequest{
		Edits: rawEdits(t, map[string]interface{}{"firstName": "Ivan"}),
	}, citizenClaims())
	require.NoError(t, err)
	require.Equal(t, models.RequestStatusPending, request.Status)
	require.Equal(t, "person-1", request.PersonID)
	require.Equal(t, "user-1", request.SubmittedBy)
	require.Regexp(t, `^CR-\d+-\d{4}$`, request.RequestNumber)

	var snapshot map[string]interface{}
	require.NoError(t, json.Unmarshal(request.CurrentData, &snapshot))
	require.Equal(t, map[string]interface{}{"firstName": "Iwan"}, snapshot)
}

func TestChangeRequestSubmitRejectsUnknownFields(t *testing.T) {
	svc := NewChangeRequestService(&stubChangeRequestStore{}, &stubPersonReader{person: samplePerson()}, nil, nil)

	_, err := svc.Submit(context.Background(), dto.SubmitChangeRequest{
		Edits: rawEdits(t, map[string]interface{}{
			"psn":       "2222222222",
			"firstName": "Ivan",
			"active":    false,
		}),
	}, citizenClaims())
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	require.Contains(t, appErr.Message, "active, psn")
}

func TestChangeRequestSubmitActiveConflict(t *testing.T) {
	store := &stubChangeRequestStore{createErr: repository.ErrActiveRequestExists}
	svc := NewChangeRequestService(store, &stubPersonReader{person: samplePerson()}, nil, nil)

	_, err := svc.Submit(context.Background(), dto.SubmitChangeRequest{
		Edits: rawEdits(t, map[string]interface{}{"firstName": "Ivan"}),
	}, citizenClaims())
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
}

func TestChangeRequestSubmitRequiresBoundPerson(t *testing.T) {
	svc := NewChangeRequestService(&stubChangeRequestStore{}, &stubPersonReader{}, nil, nil)

	claims := citizenClaims()
	claims.PSN = ""
	_, err := svc.Submit(context.Background(), dto.SubmitChangeRequest{
		Edits: rawEdits(t, map[string]interface{}{"firstName": "Ivan"}),
	}, claims)
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)
}

func TestChangeRequestClaim(t *testing.T) {
	store := &stubChangeRequestStore{byID: map[string]*models.ChangeRequest{
		"req-1": {ID: "req-1", Status: models.RequestStatusPending},
	}}
	svc := NewChangeRequestService(store, &stubPersonReader{}, nil, nil)

	request, err := svc.Claim(context.Background(), "req-1", "operator-1")
	require.NoError(t, err)
	require.Equal(t, models.RequestStatusUnderReview, request.Status)
	require.Len(t, store.transitions, 1)
	require.Equal(t, models.RequestStatusPending, store.transitions[0].From)
	require.Equal(t, models.RequestStatusUnderReview, store.transitions[0].To)
}

func TestChangeRequestClaimNonPending(t *testing.T) {
	store := &stubChangeRequestStore{byID: map[string]*models.ChangeRequest{
		"req-1": {ID: "req-1", Status: models.RequestStatusApproved},
	}}
	svc := NewChangeRequestService(store, &stubPersonReader{}, nil, nil)

	_, err := svc.Claim(context.Background(), "req-1", "operator-1")
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
}

func TestChangeRequestClaimLostRace(t *testing.T) {
	store := &stubChangeRequestStore{
		byID: map[string]*models.ChangeRequest{
			"req-1": {ID: "req-1", Status: models.RequestStatusPending},
		},
		transitionErr: sql.ErrNoRows,
	}
	svc := NewChangeRequestService(store, &stubPersonReader{}, nil, nil)

	_, err := svc.Claim(context.Background(), "req-1", "operator-1")
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
}

func TestChangeRequestDecideApprove(t *testing.T) {
	changes, err := json.Marshal(map[string]interface{}{
		"firstName": "Ivan",
		"email":     "ivan@example.com",
	})
	require.NoError(t, err)
	store := &stubChangeRequestStore{byID: map[string]*models.ChangeRequest{
		"req-1": {
			ID:               "req-1",
			PersonID:         "person-1",
			Status:           models.RequestStatusUnderReview,
			RequestedChanges: changes,
		},
	}}
	svc := NewChangeRequestService(store, &stubPersonReader{}, nil, nil)

	request, err := svc.Decide(context.Background(), "req-1", dto.DecideChangeRequest{
		Outcome: models.RequestStatusApproved,
		Notes:   "verified against source documents",
	}, "operator-1")
	require.NoError(t, err)
	require.Equal(t, models.RequestStatusApproved, request.Status)
	require.NotNil(t, store.approved)
	require.Equal(t, "person-1", store.approved.PersonID)
	require.Equal(t, "Ivan", store.approved.PersonUpdates["first_name"])
	email, ok := store.approved.PersonUpdates["email"].(*string)
	require.True(t, ok)
	require.Equal(t, "ivan@example.com", *email)
}

func TestChangeRequestDecideReject(t *testing.T) {
	store := &stubChangeRequestStore{byID: map[string]*models.ChangeRequest{
		"req-1": {ID: "req-1", Status: models.RequestStatusUnderReview, RequestedChanges: []byte(`{"firstName":"Ivan"}`)},
	}}
	svc := NewChangeRequestService(store, &stubPersonReader{}, nil, nil)

	request, err := svc.Decide(context.Background(), "req-1", dto.DecideChangeRequest{
		Outcome: models.RequestStatusRejected,
	}, "operator-1")
	require.NoError(t, err)
	require.Equal(t, models.RequestStatusRejected, request.Status)
	require.Nil(t, store.approved)
	require.Len(t, store.transitions, 1)
	require.Equal(t, models.RequestStatusRejected, store.transitions[0].To)
}

func TestChangeRequestDecideRequiresUnderReview(t *testing.T) {
	store := &stubChangeRequestStore{byID: map[string]*models.ChangeRequest{
		"req-1": {ID: "req-1", Status: models.RequestStatusPending, RequestedChanges: []byte(`{"firstName":"Ivan"}`)},
	}}
	svc := NewChangeRequestService(store, &stubPersonReader{}, nil, nil)

	_, err := svc.Decide(context.Background(), "req-1", dto.DecideChangeRequest{
		Outcome: models.RequestStatusApproved,
	}, "operator-1")
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
}

func TestChangeRequestDecideInvalidOutcome(t *testing.T) {
	svc := NewChangeRequestService(&stubChangeRequestStore{}, &stubPersonReader{}, nil, nil)

	_, err := svc.Decide(context.Background(), "req-1", dto.DecideChangeRequest{
		Outcome: models.RequestStatusCancelled,
	}, "operator-1")
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestChangeRequestCancel(t *testing.T) {
	store := &stubChangeRequestStore{byID: map[string]*models.ChangeRequest{
		"req-1": {ID: "req-1", Status: models.RequestStatusPending, SubmittedBy: "user-1"},
	}}
	svc := NewChangeRequestService(store, &stubPersonReader{}, nil, nil)

	request, err := svc.Cancel(context.Background(), "req-1", citizenClaims())
	require.NoError(t, err)
	require.Equal(t, models.RequestStatusCancelled, request.Status)
}

func TestChangeRequestCancelUnderReviewForbidden(t *testing.T) {
	store := &stubChangeRequestStore{byID: map[string]*models.ChangeRequest{
		"req-1": {ID: "req-1", Status: models.RequestStatusUnderReview, SubmittedBy: "user-1"},
	}}
	svc := NewChangeRequestService(store, &stubPersonReader{}, nil, nil)

	_, err := svc.Cancel(context.Background(), "req-1", citizenClaims())
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
}

func TestChangeRequestCancelOnlySubmitter(t *testing.T) {
	store := &stubChangeRequestStore{byID: map[string]*models.ChangeRequest{
		"req-1": {ID: "req-1", Status: models.RequestStatusPending, SubmittedBy: "someone-else"},
	}}
	svc := NewChangeRequestService(store, &stubPersonReader{}, nil, nil)

	_, err := svc.Cancel(context.Background(), "req-1", citizenClaims())
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)
}

func TestChangeRequestGetScopesCitizens(t *testing.T) {
	store := &stubChangeRequestStore{byID: map[string]*models.ChangeRequest{
		"req-1": {ID: "req-1", SubmittedBy: "someone-else"},
	}}
	svc := NewChangeRequestService(store, &stubPersonReader{}, nil, nil)

	_, err := svc.Get(context.Background(), "req-1", citizenClaims())
	require.ErrorIs(t, err, appErrors.ErrForbidden)

	operator := &models.JWTClaims{UserID: "op-1", Role: models.RoleAgencyOperator}
	request, err := svc.Get(context.Background(), "req-1", operator)
	require.NoError(t, err)
	require.Equal(t, "req-1", request.ID)
}

func TestBuildPersonUpdatesNullClearsField(t *testing.T) {
	updates, err := buildPersonUpdates([]byte(`{"middleName":null,"firstName":"Ivan"}`))
	require.NoError(t, err)
	require.Equal(t, "Ivan", updates["first_name"])
	middle, ok := updates["middle_name"]
	require.True(t, ok)
	require.Nil(t, middle)
}

func TestBuildPersonUpdatesRejectsBadTypes(t *testing.T) {
	_, err := buildPersonUpdates([]byte(`{"firstName":42}`))
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, appErrors.ErrValidation.Code, appErr.Code)

	_, err = buildPersonUpdates([]byte(`{"dateOfBirth":"31-12-1990"}`))
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, appErrors.ErrValidation.Code, appErr.Code)

	_, err = buildPersonUpdates([]byte(`{"gender":"UNKNOWN"}`))
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}
