package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/civreg-api/internal/models"
)

func newChangeRequestRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func sampleChangeRequest() *models.ChangeRequest {
	return &models.ChangeRequest{
		ID:               "req-1",
		RequestNumber:    "CR-1700000000000-1234",
		PersonID:         "person-1",
		SubmittedBy:      "user-1",
		RequestType:      models.RequestTypeUpdatePersonalInfo,
		Status:           models.RequestStatusPending,
		RequestedChanges: []byte(`{"firstName":"Ivan"}`),
		CurrentData:      []byte(`{"firstName":"Iwan"}`),
		CreatedAt:        time.Now(),
		UpdatedAt:        time.Now(),
	}
}

func TestChangeRequestRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newChangeRequestRepoMock(t)
	defer cleanup()

	repo := NewChangeRequestRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO change_requests")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.Create(context.Background(), sampleChangeRequest()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChangeRequestRepositoryCreateActiveConflict(t *testing.T) {
	db, mock, cleanup := newChangeRequestRepoMock(t)
	defer cleanup()

	repo := NewChangeRequestRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO change_requests")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Create(context.Background(), sampleChangeRequest())
	require.ErrorIs(t, err, ErrActiveRequestExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChangeRequestRepositoryTransition(t *testing.T) {
	db, mock, cleanup := newChangeRequestRepoMock(t)
	defer cleanup()

	repo := NewChangeRequestRepository(db)
	reviewer := "operator-1"
	mock.ExpectExec(regexp.QuoteMeta("UPDATE change_requests SET")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	err := repo.Transition(context.Background(), TransitionParams{
		ID:         "req-1",
		From:       models.RequestStatusPending,
		To:         models.RequestStatusUnderReview,
		ReviewedBy: &reviewer,
	})
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE change_requests SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err = repo.Transition(context.Background(), TransitionParams{
		ID:   "req-1",
		From: models.RequestStatusPending,
		To:   models.RequestStatusCancelled,
	})
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChangeRequestRepositoryApproveTx(t *testing.T) {
	db, mock, cleanup := newChangeRequestRepoMock(t)
	defer cleanup()

	repo := NewChangeRequestRepository(db)
	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE persons SET")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE change_requests SET")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.ApproveTx(context.Background(), ApproveParams{
		RequestID:   "req-1",
		ProcessedBy: "operator-1",
		ProcessedAt: now,
		PersonID:    "person-1",
		PersonUpdates: map[string]interface{}{
			"first_name": "Ivan",
			"email":      "ivan@example.com",
		},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChangeRequestRepositoryApproveTxWrongState(t *testing.T) {
	db, mock, cleanup := newChangeRequestRepoMock(t)
	defer cleanup()

	repo := NewChangeRequestRepository(db)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE persons SET")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE change_requests SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.ApproveTx(context.Background(), ApproveParams{
		RequestID:     "req-1",
		ProcessedBy:   "operator-1",
		ProcessedAt:   time.Now(),
		PersonID:      "person-1",
		PersonUpdates: map[string]interface{}{"first_name": "Ivan"},
	})
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChangeRequestRepositoryListFilters(t *testing.T) {
	db, mock, cleanup := newChangeRequestRepoMock(t)
	defer cleanup()

	repo := NewChangeRequestRepository(db)
	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "request_number", "person_id", "submitted_by", "request_type", "status",
		"requested_changes", "current_data", "description", "reviewed_by", "processed_by",
		"processing_notes", "processed_at", "created_at", "updated_at",
	}).AddRow("req-1", "CR-1-1", "person-1", "user-1", "UPDATE_PERSONAL_INFO", "PENDING",
		`{}`, `{}`, nil, nil, nil, nil, nil, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, request_number")).
		WithArgs("PENDING", "person-1").
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(id) FROM change_requests")).
		WithArgs("PENDING", "person-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	list, total, err := repo.List(context.Background(), models.ChangeRequestFilter{
		Status:   []models.RequestStatus{models.RequestStatusPending},
		PersonID: "person-1",
	})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, list, 1)
	require.Equal(t, "req-1", list[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}
