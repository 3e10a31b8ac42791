package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/civreg-api/internal/dto"
	"github.com/noah-isme/civreg-api/internal/models"
	"github.com/noah-isme/civreg-api/internal/repository"
	appErrors "github.com/noah-isme/civreg-api/pkg/errors"
	"github.com/noah-isme/civreg-api/pkg/psn"
)

const (
	statisticsCacheKey  = "registry:statistics"
	registryCachePrefix = "registry:*"

	birthDateLayout = "2006-01-02"
)

type personStore interface {
	Insert(ctx context.Context, person *models.Person) error
	GetByPSN(ctx context.Context, psn string) (*models.Person, error)
	GetByID(ctx context.Context, id string) (*models.Person, error)
	Search(ctx context.Context, criteria models.PersonSearch) ([]models.Person, error)
	List(ctx context.Context, filter models.PersonFilter) ([]models.Person, int, error)
	Statistics(ctx context.Context) (*models.RegistryStatistics, error)
	Deactivate(ctx context.Context, psn string, ts time.Time) error
}

type serialSource interface {
	NextSerial(ctx context.Context, birthDate time.Time, sex psn.Sex) (int, error)
}

type auditLogger interface {
	Create(ctx context.Context, log *models.AuditLog) error
}

type registryCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

type registrationMetrics interface {
	PersonRegistered()
	RegistrationRetried()
}

// PersonService orchestrates person registration, lookup, and read models.
type PersonService struct {
	repo        personStore
	allocator   serialSource
	audit       auditLogger
	cache       registryCache
	metrics     registrationMetrics
	logger      *zap.Logger
	validate    *validator.Validate
	maxAttempts int
	cacheTTL    time.Duration
}

// PersonServiceOption configures the service.
type PersonServiceOption func(*PersonService)

// WithRegistrationMetrics attaches issuance counters.
func WithRegistrationMetrics(metrics registrationMetrics) PersonServiceOption {
	return func(s *PersonService) { s.metrics = metrics }
}

// WithRegistryCache attaches a read-model cache.
func WithRegistryCache(cache registryCache, ttl time.Duration) PersonServiceOption {
	return func(s *PersonService) {
		s.cache = cache
		if ttl > 0 {
			s.cacheTTL = ttl
		}
	}
}

// NewPersonService constructs the service.
func NewPersonService(repo personStore, allocator serialSource, audit auditLogger, logger *zap.Logger, maxAttempts int, opts ...PersonServiceOption) *PersonService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	svc := &PersonService{
		repo:        repo,
		allocator:   allocator,
		audit:       audit,
		logger:      logger,
		validate:    validator.New(),
		maxAttempts: maxAttempts,
		cacheTTL:    5 * time.Minute,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Register creates a person record with a freshly issued identifier. When a
// concurrent registration wins the same serial, the insert fails on the psn
// uniqueness constraint and the allocate-encode-insert cycle repeats, up to
// maxAttempts times.
func (s *PersonService) Register(ctx context.Context, req dto.RegisterPersonRequest, actorID string) (*models.Person, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}

	birthDate, err := time.ParseInLocation(birthDateLayout, req.DateOfBirth, time.UTC)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "dateOfBirth must use the YYYY-MM-DD format")
	}

	sex, err := sexForGender(req.Gender)
	if err != nil {
		return nil, err
	}

	person := buildPerson(req, birthDate)

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		serial, err := s.allocator.NextSerial(ctx, birthDate, sex)
		if err != nil {
			return nil, err
		}

		identifier, err := psn.Encode(birthDate, sex, serial)
		if err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
		}
		person.PSN = identifier

		err = s.repo.Insert(ctx, person)
		if err == nil {
			if s.metrics != nil {
				s.metrics.PersonRegistered()
			}
			s.emitAudit(ctx, &models.AuditLog{
				UserID:     &actorID,
				Action:     models.AuditActionPersonRegister,
				Resource:   "person",
				ResourceID: &person.ID,
				NewValues:  marshalForAudit(person),
			})
			s.invalidateReadModels(ctx)
			return person, nil
		}
		if !errors.Is(err, repository.ErrDuplicatePSN) {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to register person")
		}
		if s.metrics != nil {
			s.metrics.RegistrationRetried()
		}
		s.logger.Warn("identifier collision, reallocating serial",
			zap.String("psn", identifier),
			zap.Int("attempt", attempt))
	}

	return nil, appErrors.Clone(appErrors.ErrConflict,
		fmt.Sprintf("could not issue a unique identifier after %d attempts", s.maxAttempts))
}

// Lookup returns the person identified by the given PSN. Structurally invalid
// input is rejected before touching storage.
func (s *PersonService) Lookup(ctx context.Context, identifier string) (*models.Person, error) {
	if !psn.Validate(identifier) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "identifier is not a valid PSN")
	}
	person, err := s.repo.GetByPSN(ctx, identifier)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "person not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load person")
	}
	return person, nil
}

// Search returns persons matching the supplied criteria.
func (s *PersonService) Search(ctx context.Context, query dto.SearchPersonsQuery) ([]models.Person, error) {
	criteria := models.PersonSearch{
		FirstName: query.FirstName,
		LastName:  query.LastName,
		Email:     query.Email,
		Phone:     query.Phone,
	}
	if query.DateOfBirth != "" {
		dob, err := time.ParseInLocation(birthDateLayout, query.DateOfBirth, time.UTC)
		if err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "dateOfBirth must use the YYYY-MM-DD format")
		}
		criteria.DateOfBirth = &dob
	}
	persons, err := s.repo.Search(ctx, criteria)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to search persons")
	}
	return persons, nil
}

// List returns a paginated slice of persons with the total count.
func (s *PersonService) List(ctx context.Context, query dto.ListPersonsQuery) ([]models.Person, int, error) {
	persons, total, err := s.repo.List(ctx, models.PersonFilter{
		CitizenshipStatus: models.CitizenshipStatus(query.CitizenshipStatus),
		Gender:            models.Gender(query.Gender),
		City:              query.City,
		Page:              query.Page,
		PageSize:          query.PageSize,
	})
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list persons")
	}
	return persons, total, nil
}

// Statistics aggregates population counters, served from cache when warm.
func (s *PersonService) Statistics(ctx context.Context) (*models.RegistryStatistics, error) {
	if s.cache != nil {
		var cached models.RegistryStatistics
		if err := s.cache.Get(ctx, statisticsCacheKey, &cached); err == nil {
			return &cached, nil
		} else if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("statistics cache read failed", zap.Error(err))
		}
	}

	stats, err := s.repo.Statistics(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute statistics")
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, statisticsCacheKey, stats, s.cacheTTL); err != nil {
			s.logger.Warn("statistics cache write failed", zap.Error(err))
		}
	}
	return stats, nil
}

// Deactivate marks a person inactive. Records are never deleted.
func (s *PersonService) Deactivate(ctx context.Context, identifier, actorID string) error {
	if !psn.Validate(identifier) {
		return appErrors.Clone(appErrors.ErrValidation, "identifier is not a valid PSN")
	}
	if err := s.repo.Deactivate(ctx, identifier, time.Now().UTC()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "person not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to deactivate person")
	}
	s.emitAudit(ctx, &models.AuditLog{
		UserID:     &actorID,
		Action:     models.AuditActionPersonDeactivate,
		Resource:   "person",
		ResourceID: &identifier,
	})
	s.invalidateReadModels(ctx)
	return nil
}

func (s *PersonService) emitAudit(ctx context.Context, log *models.AuditLog) {
	if s.audit == nil || log == nil {
		return
	}
	log.IPAddress = "system"
	log.UserAgent = "person-service"
	if err := s.audit.Create(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}

func (s *PersonService) invalidateReadModels(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, registryCachePrefix); err != nil {
		s.logger.Warn("cache invalidation failed", zap.Error(err))
	}
}

// sexForGender maps the registered gender onto the identifier's sex domain.
// The encoding only has digit ranges for two values, so persons registered
// with any other gender cannot currently be issued a PSN.
func sexForGender(gender models.Gender) (psn.Sex, error) {
	switch gender {
	case models.GenderMale:
		return psn.SexMale, nil
	case models.GenderFemale:
		return psn.SexFemale, nil
	default:
		return "", appErrors.Clone(appErrors.ErrValidation,
			fmt.Sprintf("gender %q cannot be encoded into an identifier", gender))
	}
}

func buildPerson(req dto.RegisterPersonRequest, birthDate time.Time) *models.Person {
	status := req.CitizenshipStatus
	if status == "" {
		status = models.CitizenshipCitizen
	}
	person := &models.Person{
		FirstName:         req.FirstName,
		LastName:          req.LastName,
		MiddleName:        req.MiddleName,
		DateOfBirth:       birthDate,
		PlaceOfBirth:      req.PlaceOfBirth,
		Gender:            req.Gender,
		CitizenshipStatus: status,
		Nationality:       req.Nationality,
		Photo:             req.Photo,
		Email:             req.Email,
		Phone:             req.Phone,
		Active:            true,
	}
	if len(req.Metadata) > 0 {
		person.Metadata = append([]byte(nil), req.Metadata...)
	}
	if req.PrimaryAddress != nil {
		person.PrimaryAddress = buildAddress(req.PrimaryAddress)
	}
	if req.SecondaryAddress != nil {
		person.SecondaryAddress = buildAddress(req.SecondaryAddress)
	}
	return person
}

func buildAddress(req *dto.AddressRequest) *models.Address {
	return &models.Address{
		AddressCode: req.AddressCode,
		Country:     req.Country,
		Region:      req.Region,
		City:        req.City,
		Street:      req.Street,
		Building:    req.Building,
		Apartment:   req.Apartment,
		PostalCode:  req.PostalCode,
		FullAddress: req.FullAddress,
	}
}

func marshalForAudit(v interface{}) []byte {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return payload
}
