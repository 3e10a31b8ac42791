package service

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/noah-isme/civreg-api/internal/models"
	appErrors "github.com/noah-isme/civreg-api/pkg/errors"
	"github.com/noah-isme/civreg-api/pkg/export"
)

type exportPersonSource interface {
	List(ctx context.Context, filter models.PersonFilter) ([]models.Person, int, error)
	Statistics(ctx context.Context) (*models.RegistryStatistics, error)
}

// ExportService renders registry data as downloadable files for staff.
type ExportService struct {
	persons exportPersonSource
	csv     *export.CSVExporter
	pdf     *export.PDFExporter
	logger  *zap.Logger
}

// NewExportService constructs the service.
func NewExportService(persons exportPersonSource, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{
		persons: persons,
		csv:     export.NewCSVExporter(),
		pdf:     export.NewPDFExporter(),
		logger:  logger,
	}
}

// PersonsCSV exports persons matching the filter as CSV.
func (s *ExportService) PersonsCSV(ctx context.Context, filter models.PersonFilter) ([]byte, error) {
	if filter.PageSize <= 0 {
		filter.PageSize = 100
	}
	persons, _, err := s.persons.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load persons for export")
	}

	headers := []string{"PSN", "First Name", "Last Name", "Date of Birth", "Gender", "Citizenship", "Active"}
	rows := make([]map[string]string, 0, len(persons))
	for _, p := range persons {
		rows = append(rows, map[string]string{
			"PSN":           p.PSN,
			"First Name":    p.FirstName,
			"Last Name":     p.LastName,
			"Date of Birth": p.DateOfBirth.Format(birthDateLayout),
			"Gender":        string(p.Gender),
			"Citizenship":   string(p.CitizenshipStatus),
			"Active":        strconv.FormatBool(p.Active),
		})
	}

	payload, err := s.csv.Render(export.Dataset{Headers: headers, Rows: rows})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
	}
	return payload, nil
}

// StatisticsPDF exports the aggregate population report as a PDF.
func (s *ExportService) StatisticsPDF(ctx context.Context) ([]byte, error) {
	stats, err := s.persons.Statistics(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load statistics for export")
	}

	headers := []string{"Metric", "Value"}
	rows := []map[string]string{
		{"Metric": "Total persons", "Value": strconv.Itoa(stats.TotalPersons)},
		{"Metric": "Male", "Value": strconv.Itoa(stats.ByGender.Male)},
		{"Metric": "Female", "Value": strconv.Itoa(stats.ByGender.Female)},
		{"Metric": "Other", "Value": strconv.Itoa(stats.ByGender.Other)},
	}
	for status, count := range stats.ByCitizenshipStatus {
		rows = append(rows, map[string]string{
			"Metric": fmt.Sprintf("Status: %s", status),
			"Value":  strconv.Itoa(count),
		})
	}
	for city, count := range stats.ByCity {
		rows = append(rows, map[string]string{
			"Metric": fmt.Sprintf("City: %s", city),
			"Value":  strconv.Itoa(count),
		})
	}

	payload, err := s.pdf.Render(export.Dataset{Headers: headers, Rows: rows}, "Registry Population Report")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf")
	}
	return payload, nil
}
