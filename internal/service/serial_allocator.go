package service

import (
	"context"
	"fmt"
	"time"

	appErrors "github.com/noah-isme/civreg-api/pkg/errors"
	"github.com/noah-isme/civreg-api/pkg/psn"
)

// cohortSource exposes the identifiers already issued within a birth cohort.
type cohortSource interface {
	ListPSNsByPrefixAndBirthDate(ctx context.Context, prefix string, birthDate time.Time) ([]string, error)
}

// SerialAllocator hands out the next serial number within a (birth date, sex)
// cohort. Allocation is read-then-compute and intentionally not atomic; the
// persons.psn uniqueness constraint settles concurrent winners and losers
// retry with a fresh allocation.
type SerialAllocator struct {
	source cohortSource
}

// NewSerialAllocator constructs a SerialAllocator.
func NewSerialAllocator(source cohortSource) *SerialAllocator {
	return &SerialAllocator{source: source}
}

// NextSerial returns the lowest unissued serial for the cohort, scanning the
// stored identifiers for the highest embedded serial and adding one. An empty
// cohort yields MinSerial. A full cohort yields ErrCapacityExhausted.
func (a *SerialAllocator) NextSerial(ctx context.Context, birthDate time.Time, sex psn.Sex) (int, error) {
	prefix, err := psn.CohortPrefix(birthDate, sex)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}

	issued, err := a.source.ListPSNsByPrefixAndBirthDate(ctx, prefix, birthDate)
	if err != nil {
		return 0, fmt.Errorf("load cohort identifiers: %w", err)
	}

	highest := 0
	for _, id := range issued {
		serial, err := psn.SerialOf(id)
		if err != nil {
			// Stored identifiers are validated on write; skip anything odd.
			continue
		}
		if serial > highest {
			highest = serial
		}
	}

	next := highest + 1
	if next > psn.MaxSerial {
		return 0, appErrors.ErrCapacityExhausted
	}
	return next, nil
}
