package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/civreg-api/pkg/errors"
	"github.com/noah-isme/civreg-api/pkg/psn"
)

type stubCohortSource struct {
	psns   []string
	err    error
	prefix string
}

func (s *stubCohortSource) ListPSNsByPrefixAndBirthDate(_ context.Context, prefix string, _ time.Time) ([]string, error) {
	s.prefix = prefix
	return s.psns, s.err
}

func TestSerialAllocatorEmptyCohort(t *testing.T) {
	source := &stubCohortSource{}
	allocator := NewSerialAllocator(source)

	serial, err := allocator.NextSerial(context.Background(), time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC), psn.SexMale)
	require.NoError(t, err)
	require.Equal(t, 1, serial)
	require.Equal(t, "11", source.prefix)
}

func TestSerialAllocatorMaxPlusOne(t *testing.T) {
	birthDate := time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC)
	issued := make([]string, 0, 3)
	for _, serial := range []int{1, 7, 3} {
		id, err := psn.Encode(birthDate, psn.SexMale, serial)
		require.NoError(t, err)
		issued = append(issued, id)
	}
	allocator := NewSerialAllocator(&stubCohortSource{psns: issued})

	serial, err := allocator.NextSerial(context.Background(), birthDate, psn.SexMale)
	require.NoError(t, err)
	require.Equal(t, 8, serial)
}

func TestSerialAllocatorCapacityExhausted(t *testing.T) {
	birthDate := time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC)
	id, err := psn.Encode(birthDate, psn.SexFemale, psn.MaxSerial)
	require.NoError(t, err)
	allocator := NewSerialAllocator(&stubCohortSource{psns: []string{id}})

	_, err = allocator.NextSerial(context.Background(), birthDate, psn.SexFemale)
	require.ErrorIs(t, err, appErrors.ErrCapacityExhausted)
}

func TestSerialAllocatorFemalePrefix(t *testing.T) {
	source := &stubCohortSource{}
	allocator := NewSerialAllocator(source)

	_, err := allocator.NextSerial(context.Background(), time.Date(1985, 6, 15, 0, 0, 0, 0, time.UTC), psn.SexFemale)
	require.NoError(t, err)
	require.Equal(t, "65", source.prefix)
}

func TestSerialAllocatorSourceError(t *testing.T) {
	allocator := NewSerialAllocator(&stubCohortSource{err: errors.New("db down")})

	_, err := allocator.NextSerial(context.Background(), time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC), psn.SexMale)
	require.Error(t, err)
}

func TestSerialAllocatorSkipsUnparseableIdentifiers(t *testing.T) {
	birthDate := time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC)
	id, err := psn.Encode(birthDate, psn.SexMale, 5)
	require.NoError(t, err)
	allocator := NewSerialAllocator(&stubCohortSource{psns: []string{"corrupted", id}})

	serial, err := allocator.NextSerial(context.Background(), birthDate, psn.SexMale)
	require.NoError(t, err)
	require.Equal(t, 6, serial)
}
