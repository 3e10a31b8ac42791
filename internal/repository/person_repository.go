package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/civreg-api/internal/models"
)

// ErrDuplicatePSN is returned when an insert loses the race for an
// identifier; the persons.psn UNIQUE constraint is the arbiter.
var ErrDuplicatePSN = errors.New("psn already issued")

const personColumns = `id, psn, first_name, last_name, middle_name, date_of_birth, place_of_birth,
       gender, citizenship_status, nationality, photo, email, phone,
       primary_address_id, secondary_address_id, active, metadata, created_at, updated_at`

// PersonRepository manages persistence for person records and their addresses.
type PersonRepository struct {
	db *sqlx.DB
}

// NewPersonRepository constructs a PersonRepository.
func NewPersonRepository(db *sqlx.DB) *PersonRepository {
	return &PersonRepository{db: db}
}

// Insert persists a person together with any attached addresses in a single
// transaction. A duplicate identifier maps to ErrDuplicatePSN so the caller
// can recompute the cohort serial and retry.
func (r *PersonRepository) Insert(ctx context.Context, person *models.Person) error {
	if person.ID == "" {
		person.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if person.CreatedAt.IsZero() {
		person.CreatedAt = now
	}
	person.UpdatedAt = now

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert person: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if person.PrimaryAddress != nil {
		id, err := insertAddress(ctx, tx, person.PrimaryAddress)
		if err != nil {
			return err
		}
		person.PrimaryAddressID = &id
	}
	if person.SecondaryAddress != nil {
		id, err := insertAddress(ctx, tx, person.SecondaryAddress)
		if err != nil {
			return err
		}
		person.SecondaryAddressID = &id
	}

	const query = `INSERT INTO persons
	(id, psn, first_name, last_name, middle_name, date_of_birth, place_of_birth,
	 gender, citizenship_status, nationality, photo, email, phone,
	 primary_address_id, secondary_address_id, active, metadata, created_at, updated_at)
	VALUES (:id, :psn, :first_name, :last_name, :middle_name, :date_of_birth, :place_of_birth,
	 :gender, :citizenship_status, :nationality, :photo, :email, :phone,
	 :primary_address_id, :secondary_address_id, :active, :metadata, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, query, person); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicatePSN
		}
		return fmt.Errorf("insert person: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert person: %w", err)
	}
	return nil
}

func insertAddress(ctx context.Context, tx *sqlx.Tx, address *models.Address) (string, error) {
	if address.ID == "" {
		address.ID = uuid.NewString()
	}
	const query = `INSERT INTO addresses
	(id, address_code, country, region, city, street, building, apartment, postal_code, full_address)
	VALUES (:id, :address_code, :country, :region, :city, :street, :building, :apartment, :postal_code, :full_address)`
	if _, err := tx.NamedExecContext(ctx, query, address); err != nil {
		return "", fmt.Errorf("insert address: %w", err)
	}
	return address.ID, nil
}

// ListPSNsByPrefixAndBirthDate returns the identifiers already issued to the
// cohort sharing the two-digit sex-day prefix and the exact birth date.
func (r *PersonRepository) ListPSNsByPrefixAndBirthDate(ctx context.Context, prefix string, birthDate time.Time) ([]string, error) {
	const query = `SELECT psn FROM persons WHERE psn LIKE $1 || '%' AND date_of_birth = $2`
	var psns []string
	if err := r.db.SelectContext(ctx, &psns, query, prefix, birthDate); err != nil {
		return nil, fmt.Errorf("list cohort psns: %w", err)
	}
	return psns, nil
}

// GetByPSN fetches a person and their addresses by identifier.
func (r *PersonRepository) GetByPSN(ctx context.Context, psn string) (*models.Person, error) {
	query := fmt.Sprintf(`SELECT %s FROM persons WHERE psn = $1`, personColumns)
	var person models.Person
	if err := r.db.GetContext(ctx, &person, query, psn); err != nil {
		return nil, err
	}
	if err := r.attachAddresses(ctx, &person); err != nil {
		return nil, err
	}
	return &person, nil
}

// GetByID fetches a person and their addresses by row id.
func (r *PersonRepository) GetByID(ctx context.Context, id string) (*models.Person, error) {
	query := fmt.Sprintf(`SELECT %s FROM persons WHERE id = $1`, personColumns)
	var person models.Person
	if err := r.db.GetContext(ctx, &person, query, id); err != nil {
		return nil, err
	}
	if err := r.attachAddresses(ctx, &person); err != nil {
		return nil, err
	}
	return &person, nil
}

func (r *PersonRepository) attachAddresses(ctx context.Context, person *models.Person) error {
	load := func(id *string) (*models.Address, error) {
		if id == nil || *id == "" {
			return nil, nil
		}
		var address models.Address
		err := r.db.GetContext(ctx, &address,
			`SELECT id, address_code, country, region, city, street, building, apartment, postal_code, full_address
			 FROM addresses WHERE id = $1`, *id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, nil
			}
			return nil, fmt.Errorf("load address: %w", err)
		}
		return &address, nil
	}

	primary, err := load(person.PrimaryAddressID)
	if err != nil {
		return err
	}
	person.PrimaryAddress = primary

	secondary, err := load(person.SecondaryAddressID)
	if err != nil {
		return err
	}
	person.SecondaryAddress = secondary
	return nil
}

// Search returns persons matching the provided criteria, capped at 100 rows.
func (r *PersonRepository) Search(ctx context.Context, criteria models.PersonSearch) ([]models.Person, error) {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf(`SELECT %s FROM persons`, personColumns))

	args := make([]interface{}, 0, 5)
	conditions := make([]string, 0, 5)
	if criteria.FirstName != "" {
		args = append(args, "%"+strings.ToLower(criteria.FirstName)+"%")
		conditions = append(conditions, fmt.Sprintf("LOWER(first_name) LIKE $%d", len(args)))
	}
	if criteria.LastName != "" {
		args = append(args, "%"+strings.ToLower(criteria.LastName)+"%")
		conditions = append(conditions, fmt.Sprintf("LOWER(last_name) LIKE $%d", len(args)))
	}
	if criteria.DateOfBirth != nil {
		args = append(args, *criteria.DateOfBirth)
		conditions = append(conditions, fmt.Sprintf("date_of_birth = $%d", len(args)))
	}
	if criteria.Email != "" {
		args = append(args, criteria.Email)
		conditions = append(conditions, fmt.Sprintf("email = $%d", len(args)))
	}
	if criteria.Phone != "" {
		args = append(args, criteria.Phone)
		conditions = append(conditions, fmt.Sprintf("phone = $%d", len(args)))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY last_name, first_name LIMIT 100")

	var persons []models.Person
	if err := r.db.SelectContext(ctx, &persons, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("search persons: %w", err)
	}
	return persons, nil
}

// List returns persons matching the filter together with the total count.
func (r *PersonRepository) List(ctx context.Context, filter models.PersonFilter) ([]models.Person, int, error) {
	base := "FROM persons p LEFT JOIN addresses a ON a.id = p.primary_address_id"
	args := make([]interface{}, 0, 3)
	conditions := []string{"1=1"}

	if filter.CitizenshipStatus != "" {
		args = append(args, filter.CitizenshipStatus)
		conditions = append(conditions, fmt.Sprintf("p.citizenship_status = $%d", len(args)))
	}
	if filter.Gender != "" {
		args = append(args, filter.Gender)
		conditions = append(conditions, fmt.Sprintf("p.gender = $%d", len(args)))
	}
	if filter.City != "" {
		args = append(args, filter.City)
		conditions = append(conditions, fmt.Sprintf("a.city = $%d", len(args)))
	}

	base = fmt.Sprintf("%s WHERE %s", base, strings.Join(conditions, " AND "))

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 10
	}
	offset := (page - 1) * size

	columns := prefixColumns("p")
	query := fmt.Sprintf(`SELECT %s %s ORDER BY p.created_at DESC LIMIT %d OFFSET %d`, columns, base, size, offset)

	var persons []models.Person
	if err := r.db.SelectContext(ctx, &persons, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list persons: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(p.id) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count persons: %w", err)
	}
	return persons, total, nil
}

// Statistics aggregates the registered population.
func (r *PersonRepository) Statistics(ctx context.Context) (*models.RegistryStatistics, error) {
	stats := &models.RegistryStatistics{
		ByCitizenshipStatus: make(map[string]int),
		ByCity:              make(map[string]int),
	}

	if err := r.db.GetContext(ctx, &stats.TotalPersons, `SELECT COUNT(id) FROM persons`); err != nil {
		return nil, fmt.Errorf("count persons: %w", err)
	}

	type bucket struct {
		Key   string `db:"key"`
		Count int    `db:"count"`
	}

	var genders []bucket
	if err := r.db.SelectContext(ctx, &genders,
		`SELECT gender AS key, COUNT(*) AS count FROM persons GROUP BY gender`); err != nil {
		return nil, fmt.Errorf("gender statistics: %w", err)
	}
	for _, b := range genders {
		switch models.Gender(b.Key) {
		case models.GenderMale:
			stats.ByGender.Male = b.Count
		case models.GenderFemale:
			stats.ByGender.Female = b.Count
		case models.GenderOther:
			stats.ByGender.Other = b.Count
		}
	}

	var statuses []bucket
	if err := r.db.SelectContext(ctx, &statuses,
		`SELECT citizenship_status AS key, COUNT(*) AS count FROM persons GROUP BY citizenship_status`); err != nil {
		return nil, fmt.Errorf("citizenship statistics: %w", err)
	}
	for _, b := range statuses {
		stats.ByCitizenshipStatus[b.Key] = b.Count
	}

	var cities []bucket
	if err := r.db.SelectContext(ctx, &cities,
		`SELECT a.city AS key, COUNT(*) AS count FROM persons p
		 JOIN addresses a ON a.id = p.primary_address_id
		 WHERE a.city IS NOT NULL GROUP BY a.city`); err != nil {
		return nil, fmt.Errorf("city statistics: %w", err)
	}
	for _, b := range cities {
		stats.ByCity[b.Key] = b.Count
	}

	return stats, nil
}

// Deactivate flips the active flag off. Persons are never deleted.
func (r *PersonRepository) Deactivate(ctx context.Context, psn string, ts time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE persons SET active = false, updated_at = $2 WHERE psn = $1`, psn, ts)
	if err != nil {
		return fmt.Errorf("deactivate person: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check deactivate rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func prefixColumns(alias string) string {
	parts := strings.Split(personColumns, ",")
	for i, part := range parts {
		parts[i] = alias + "." + strings.TrimSpace(part)
	}
	return strings.Join(parts, ", ")
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
