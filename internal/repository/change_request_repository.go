package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/civreg-api/internal/models"
)

// ErrActiveRequestExists is returned when a person already has a request in
// PENDING or UNDER_REVIEW and a second submission is attempted.
var ErrActiveRequestExists = errors.New("person already has an active change request")

const changeRequestColumns = `id, request_number, person_id, submitted_by, request_type, status,
       requested_changes, current_data, description, reviewed_by, processed_by,
       processing_notes, processed_at, created_at, updated_at`

// TransitionParams drives a guarded status update.
type TransitionParams struct {
	ID          string
	From        models.RequestStatus
	To          models.RequestStatus
	ReviewedBy  *string
	ProcessedBy *string
	Notes       *string
	ProcessedAt *time.Time
}

// ApproveParams applies an approval atomically: the request moves to APPROVED
// and the person's columns are updated in the same transaction.
type ApproveParams struct {
	RequestID     string
	ProcessedBy   string
	Notes         *string
	ProcessedAt   time.Time
	PersonID      string
	PersonUpdates map[string]interface{}
}

// ChangeRequestRepository manages persistence for change requests.
type ChangeRequestRepository struct {
	db *sqlx.DB
}

// NewChangeRequestRepository constructs a ChangeRequestRepository.
func NewChangeRequestRepository(db *sqlx.DB) *ChangeRequestRepository {
	return &ChangeRequestRepository{db: db}
}

// Create inserts a request only if the person has no active request. The
// NOT EXISTS guard and the insert execute as one statement, so two concurrent
// submissions cannot both land.
func (r *ChangeRequestRepository) Create(ctx context.Context, request *models.ChangeRequest) error {
	const query = `INSERT INTO change_requests
	(id, request_number, person_id, submitted_by, request_type, status,
	 requested_changes, current_data, description, created_at, updated_at)
	SELECT :id, :request_number, :person_id, :submitted_by, :request_type, :status,
	 :requested_changes, :current_data, :description, :created_at, :updated_at
	WHERE NOT EXISTS (
	 SELECT 1 FROM change_requests
	 WHERE person_id = :person_id AND status IN ('PENDING', 'UNDER_REVIEW'))`

	result, err := r.db.NamedExecContext(ctx, query, request)
	if err != nil {
		return fmt.Errorf("create change request: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check create rows: %w", err)
	}
	if rows == 0 {
		return ErrActiveRequestExists
	}
	return nil
}

// GetByID fetches a request by id.
func (r *ChangeRequestRepository) GetByID(ctx context.Context, id string) (*models.ChangeRequest, error) {
	query := fmt.Sprintf(`SELECT %s FROM change_requests WHERE id = $1`, changeRequestColumns)
	var request models.ChangeRequest
	if err := r.db.GetContext(ctx, &request, query, id); err != nil {
		return nil, err
	}
	return &request, nil
}

// FindActiveForPerson returns the person's PENDING or UNDER_REVIEW request,
// or sql.ErrNoRows when none exists.
func (r *ChangeRequestRepository) FindActiveForPerson(ctx context.Context, personID string) (*models.ChangeRequest, error) {
	query := fmt.Sprintf(`SELECT %s FROM change_requests
	WHERE person_id = $1 AND status IN ('PENDING', 'UNDER_REVIEW')
	ORDER BY created_at DESC LIMIT 1`, changeRequestColumns)
	var request models.ChangeRequest
	if err := r.db.GetContext(ctx, &request, query, personID); err != nil {
		return nil, err
	}
	return &request, nil
}

// List returns requests matching the filter together with the total count.
func (r *ChangeRequestRepository) List(ctx context.Context, filter models.ChangeRequestFilter) ([]models.ChangeRequest, int, error) {
	conditions := []string{"1=1"}
	args := make([]interface{}, 0, 4)

	if len(filter.Status) > 0 {
		placeholders := make([]string, 0, len(filter.Status))
		for _, status := range filter.Status {
			args = append(args, status)
			placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ", ")))
	}
	if filter.PersonID != "" {
		args = append(args, filter.PersonID)
		conditions = append(conditions, fmt.Sprintf("person_id = $%d", len(args)))
	}
	if filter.SubmittedBy != "" {
		args = append(args, filter.SubmittedBy)
		conditions = append(conditions, fmt.Sprintf("submitted_by = $%d", len(args)))
	}

	where := strings.Join(conditions, " AND ")

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`SELECT %s FROM change_requests WHERE %s
	ORDER BY created_at DESC LIMIT %d OFFSET %d`, changeRequestColumns, where, limit, offset)

	var requests []models.ChangeRequest
	if err := r.db.SelectContext(ctx, &requests, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list change requests: %w", err)
	}

	countQuery := fmt.Sprintf(`SELECT COUNT(id) FROM change_requests WHERE %s`, where)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count change requests: %w", err)
	}
	return requests, total, nil
}

// Transition moves a request between states, guarded on the expected current
// status. Zero rows affected means the request was not in the expected state
// and sql.ErrNoRows is returned.
func (r *ChangeRequestRepository) Transition(ctx context.Context, params TransitionParams) error {
	const query = `UPDATE change_requests SET
	 status = $1,
	 reviewed_by = COALESCE($2, reviewed_by),
	 processed_by = COALESCE($3, processed_by),
	 processing_notes = COALESCE($4, processing_notes),
	 processed_at = COALESCE($5, processed_at),
	 updated_at = NOW()
	WHERE id = $6 AND status = $7`

	result, err := r.db.ExecContext(ctx, query,
		params.To, params.ReviewedBy, params.ProcessedBy, params.Notes, params.ProcessedAt,
		params.ID, params.From)
	if err != nil {
		return fmt.Errorf("transition change request: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check transition rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ApproveTx applies the approved changes to the person and marks the request
// APPROVED in a single transaction. Either both land or neither does.
func (r *ChangeRequestRepository) ApproveTx(ctx context.Context, params ApproveParams) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin approve: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if len(params.PersonUpdates) > 0 {
		sets := make([]string, 0, len(params.PersonUpdates)+1)
		args := make([]interface{}, 0, len(params.PersonUpdates)+1)
		// Deterministic column order keeps the statement stable.
		for _, column := range sortedKeys(params.PersonUpdates) {
			args = append(args, params.PersonUpdates[column])
			sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
		}
		sets = append(sets, "updated_at = NOW()")
		args = append(args, params.PersonID)
		query := fmt.Sprintf(`UPDATE persons SET %s WHERE id = $%d`,
			strings.Join(sets, ", "), len(args))
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("apply person updates: %w", err)
		}
	}

	const markApproved = `UPDATE change_requests SET
	 status = 'APPROVED', processed_by = $1, processing_notes = $2,
	 processed_at = $3, updated_at = NOW()
	WHERE id = $4 AND status = 'UNDER_REVIEW'`
	result, err := tx.ExecContext(ctx, markApproved,
		params.ProcessedBy, params.Notes, params.ProcessedAt, params.RequestID)
	if err != nil {
		return fmt.Errorf("mark request approved: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check approve rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit approve: %w", err)
	}
	return nil
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
