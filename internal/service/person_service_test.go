package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/civreg-api/internal/dto"
	"github.com/noah-isme/civreg-api/internal/models"
	"github.com/noah-isme/civreg-api/internal/repository"
	appErrors "github.com/noah-isme/civreg-api/pkg/errors"
	"github.com/noah-isme/civreg-api/pkg/psn"
)

type stubPersonStore struct {
	inserted      []*models.Person
	insertErrs    []error
	byPSN         map[string]*models.Person
	deactivateErr error
	stats         *models.RegistryStatistics
	statsCalls    int
}

func (s *stubPersonStore) Insert(_ context.Context, person *models.Person) error {
	if len(s.insertErrs) > 0 {
		err := s.insertErrs[0]
		s.insertErrs = s.insertErrs[1:]
		if err != nil {
			return err
		}
	}
	person.ID = "person-1"
	s.inserted = append(s.inserted, person)
	return nil
}

func (s *stubPersonStore) GetByPSN(_ context.Context, id string) (*models.Person, error) {
	if p, ok := s.byPSN[id]; ok {
		return p, nil
	}
	return nil, sql.ErrNoRows
}

func (s *stubPersonStore) GetByID(_ context.Context, _ string) (*models.Person, error) {
	return nil, sql.ErrNoRows
}

func (s *stubPersonStore) Search(_ context.Context, _ models.PersonSearch) ([]models.Person, error) {
	return nil, nil
}

func (s *stubPersonStore) List(_ context.Context, _ models.PersonFilter) ([]models.Person, int, error) {
	return nil, 0, nil
}

func (s *stubPersonStore) Statistics(_ context.Context) (*models.RegistryStatistics, error) {
	s.statsCalls++
	return s.stats, nil
}

func (s *stubPersonStore) Deactivate(_ context.Context, _ string, _ time.Time) error {
	return s.deactivateErr
}

type stubAllocator struct {
	serials []int
	err     error
	calls   int
}

func (s *stubAllocator) NextSerial(_ context.Context, _ time.Time, _ psn.Sex) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	serial := s.serials[s.calls%len(s.serials)]
	s.calls++
	return serial, nil
}

type stubAudit struct {
	logs []*models.AuditLog
}

func (s *stubAudit) Create(_ context.Context, log *models.AuditLog) error {
	s.logs = append(s.logs, log)
	return nil
}

type stubCache struct {
	values map[string][]byte
	sets   int
}

func (s *stubCache) Get(_ context.Context, key string, _ interface{}) error {
	if _, ok := s.values[key]; ok {
		return nil
	}
	return appErrors.ErrCacheMiss
}

func (s *stubCache) Set(_ context.Context, key string, _ interface{}, _ time.Duration) error {
	if s.values == nil {
		s.values = make(map[string][]byte)
	}
	s.values[key] = []byte("cached")
	s.sets++
	return nil
}

func (s *stubCache) DeleteByPattern(_ context.Context, _ string) error {
	s.values = nil
	return nil
}

func validRegisterRequest() dto.RegisterPersonRequest {
	return dto.RegisterPersonRequest{
		FirstName:   "Ivan",
		LastName:    "Petrov",
		DateOfBirth: "1990-01-01",
		Gender:      models.GenderMale,
	}
}

func TestPersonServiceRegister(t *testing.T) {
	store := &stubPersonStore{}
	audit := &stubAudit{}
	svc := NewPersonService(store, &stubAllocator{serials: []int{1}}, audit, nil, 3)

	person, err := svc.Register(context.Background(), validRegisterRequest(), "operator-1")
	require.NoError(t, err)
	require.Equal(t, "1101900011", person.PSN)
	require.True(t, person.Active)
	require.Equal(t, models.CitizenshipCitizen, person.CitizenshipStatus)
	require.Len(t, audit.logs, 1)
	require.Equal(t, models.AuditActionPersonRegister, audit.logs[0].Action)
}

func TestPersonServiceRegisterRetriesOnCollision(t *testing.T) {
	store := &stubPersonStore{insertErrs: []error{repository.ErrDuplicatePSN, nil}}
	allocator := &stubAllocator{serials: []int{1, 2}}
	svc := NewPersonService(store, allocator, nil, nil, 3)

	person, err := svc.Register(context.Background(), validRegisterRequest(), "operator-1")
	require.NoError(t, err)
	require.Equal(t, 2, allocator.calls)
	serial, err := psn.SerialOf(person.PSN)
	require.NoError(t, err)
	require.Equal(t, 2, serial)
}

func TestPersonServiceRegisterGivesUpAfterMaxAttempts(t *testing.T) {
	store := &stubPersonStore{insertErrs: []error{
		repository.ErrDuplicatePSN, repository.ErrDuplicatePSN, repository.ErrDuplicatePSN,
	}}
	svc := NewPersonService(store, &stubAllocator{serials: []int{1}}, nil, nil, 3)

	_, err := svc.Register(context.Background(), validRegisterRequest(), "operator-1")
	require.Error(t, err)
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
}

func TestPersonServiceRegisterRejectsUnencodableGender(t *testing.T) {
	svc := NewPersonService(&stubPersonStore{}, &stubAllocator{serials: []int{1}}, nil, nil, 3)

	req := validRegisterRequest()
	req.Gender = models.GenderOther
	_, err := svc.Register(context.Background(), req, "operator-1")
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestPersonServiceRegisterPropagatesCapacityExhausted(t *testing.T) {
	svc := NewPersonService(&stubPersonStore{}, &stubAllocator{err: appErrors.ErrCapacityExhausted}, nil, nil, 3)

	_, err := svc.Register(context.Background(), validRegisterRequest(), "operator-1")
	require.ErrorIs(t, err, appErrors.ErrCapacityExhausted)
}

func TestPersonServiceRegisterValidatesPayload(t *testing.T) {
	svc := NewPersonService(&stubPersonStore{}, &stubAllocator{serials: []int{1}}, nil, nil, 3)

	req := validRegisterRequest()
	req.DateOfBirth = "01/01/1990"
	_, err := svc.Register(context.Background(), req, "operator-1")
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestPersonServiceLookupRejectsMalformedIdentifier(t *testing.T) {
	store := &stubPersonStore{byPSN: map[string]*models.Person{}}
	svc := NewPersonService(store, &stubAllocator{serials: []int{1}}, nil, nil, 3)

	_, err := svc.Lookup(context.Background(), "1101900010")
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestPersonServiceLookup(t *testing.T) {
	person := &models.Person{ID: "person-1", PSN: "1101900011"}
	store := &stubPersonStore{byPSN: map[string]*models.Person{"1101900011": person}}
	svc := NewPersonService(store, &stubAllocator{serials: []int{1}}, nil, nil, 3)

	found, err := svc.Lookup(context.Background(), "1101900011")
	require.NoError(t, err)
	require.Equal(t, "person-1", found.ID)

	valid, err := psn.Encode(time.Date(1990, 1, 2, 0, 0, 0, 0, time.UTC), psn.SexMale, 1)
	require.NoError(t, err)
	_, err = svc.Lookup(context.Background(), valid)
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
}

func TestPersonServiceStatisticsUsesCache(t *testing.T) {
	store := &stubPersonStore{stats: &models.RegistryStatistics{TotalPersons: 7}}
	cache := &stubCache{}
	svc := NewPersonService(store, &stubAllocator{serials: []int{1}}, nil, nil, 3,
		WithRegistryCache(cache, time.Minute))

	stats, err := svc.Statistics(context.Background())
	require.NoError(t, err)
	require.Equal(t, 7, stats.TotalPersons)
	require.Equal(t, 1, store.statsCalls)
	require.Equal(t, 1, cache.sets)

	_, err = svc.Statistics(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, store.statsCalls)
}
