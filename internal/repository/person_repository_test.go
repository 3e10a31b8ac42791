package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/civreg-api/internal/models"
)

func newPersonRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestPersonRepositoryInsert(t *testing.T) {
	db, mock, cleanup := newPersonRepoMock(t)
	defer cleanup()

	repo := NewPersonRepository(db)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO persons")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	person := &models.Person{
		PSN:               "1101900011",
		FirstName:         "Ivan",
		LastName:          "Petrov",
		DateOfBirth:       time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC),
		Gender:            models.GenderMale,
		CitizenshipStatus: models.CitizenshipCitizen,
		Active:            true,
	}
	require.NoError(t, repo.Insert(context.Background(), person))
	require.NotEmpty(t, person.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPersonRepositoryInsertDuplicatePSN(t *testing.T) {
	db, mock, cleanup := newPersonRepoMock(t)
	defer cleanup()

	repo := NewPersonRepository(db)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO persons")).
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	person := &models.Person{
		PSN:         "1101900011",
		FirstName:   "Ivan",
		LastName:    "Petrov",
		DateOfBirth: time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC),
		Gender:      models.GenderMale,
	}
	err := repo.Insert(context.Background(), person)
	require.ErrorIs(t, err, ErrDuplicatePSN)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPersonRepositoryInsertWithAddress(t *testing.T) {
	db, mock, cleanup := newPersonRepoMock(t)
	defer cleanup()

	repo := NewPersonRepository(db)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO addresses")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO persons")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	city := "Springfield"
	person := &models.Person{
		PSN:            "1101900011",
		FirstName:      "Ivan",
		LastName:       "Petrov",
		DateOfBirth:    time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC),
		Gender:         models.GenderMale,
		PrimaryAddress: &models.Address{City: &city},
	}
	require.NoError(t, repo.Insert(context.Background(), person))
	require.NotNil(t, person.PrimaryAddressID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPersonRepositoryListPSNsByPrefixAndBirthDate(t *testing.T) {
	db, mock, cleanup := newPersonRepoMock(t)
	defer cleanup()

	repo := NewPersonRepository(db)
	birthDate := time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"psn"}).
		AddRow("1101900011").
		AddRow("1101900022")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT psn FROM persons WHERE psn LIKE")).
		WithArgs("11", birthDate).
		WillReturnRows(rows)

	psns, err := repo.ListPSNsByPrefixAndBirthDate(context.Background(), "11", birthDate)
	require.NoError(t, err)
	require.Equal(t, []string{"1101900011", "1101900022"}, psns)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPersonRepositoryGetByPSN(t *testing.T) {
	db, mock, cleanup := newPersonRepoMock(t)
	defer cleanup()

	repo := NewPersonRepository(db)
	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "psn", "first_name", "last_name", "middle_name", "date_of_birth", "place_of_birth",
		"gender", "citizenship_status", "nationality", "photo", "email", "phone",
		"primary_address_id", "secondary_address_id", "active", "metadata", "created_at", "updated_at",
	}).AddRow("person-1", "1101900011", "Ivan", "Petrov", nil, time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC), nil,
		"MALE", "CITIZEN", nil, nil, nil, nil, nil, nil, true, nil, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, psn, first_name")).
		WithArgs("1101900011").
		WillReturnRows(rows)

	person, err := repo.GetByPSN(context.Background(), "1101900011")
	require.NoError(t, err)
	require.Equal(t, "person-1", person.ID)
	require.Equal(t, models.GenderMale, person.Gender)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPersonRepositoryDeactivate(t *testing.T) {
	db, mock, cleanup := newPersonRepoMock(t)
	defer cleanup()

	repo := NewPersonRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE persons SET active = false")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Deactivate(context.Background(), "1101900011", time.Now()))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE persons SET active = false")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.Deactivate(context.Background(), "9999999999", time.Now())
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
