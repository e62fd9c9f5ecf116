package service

import (
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/classroom-checkin-api/internal/models"
	appErrors "github.com/noah-isme/classroom-checkin-api/pkg/errors"
	"github.com/noah-isme/classroom-checkin-api/pkg/export"
)

// Score sheet export formats.
const (
	ExportFormatCSV = "csv"
	ExportFormatPDF = "pdf"
)

type datasetRenderer interface {
	Render(data export.Dataset) ([]byte, error)
	ContentType() string
}

// ExportFile is a rendered download.
type ExportFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ExportService renders score sheets as CSV or PDF downloads.
type ExportService struct {
	renderers map[string]datasetRenderer
	logger    *zap.Logger
}

// NewExportService constructs an ExportService. Nil renderers fall back to the defaults.
func NewExportService(logger *zap.Logger, csv, pdf datasetRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{
		renderers: map[string]datasetRenderer{ExportFormatCSV: csv, ExportFormatPDF: pdf},
		logger:    logger,
	}
}

// RenderScoreSheet renders sheet in the requested format.
func (s *ExportService) RenderScoreSheet(sheet *models.ScoreSheet, format string) (*ExportFile, error) {
	if sheet == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "score sheet is required")
	}
	format = strings.ToLower(format)
	renderer, ok := s.renderers[format]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}
	data, err := renderer.Render(ScoreSheetDataset(sheet))
	if err != nil {
		s.logger.Error("score sheet export failed", zap.String("session_id", sheet.Session.ID), zap.String("format", format), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render score sheet")
	}
	return &ExportFile{
		Filename:    scoreSheetFilename(sheet, format),
		ContentType: renderer.ContentType(),
		Data:        data,
	}, nil
}

// ScoreSheetDataset lays out a score sheet as a numbered table.
func ScoreSheetDataset(sheet *models.ScoreSheet) export.Dataset {
	rows := make([][]string, 0, len(sheet.Scores))
	for i, score := range sheet.Scores {
		displayID := score.StdID
		if displayID == "" {
			displayID = score.StudentID
		}
		rows = append(rows, []string{strconv.Itoa(i + 1), displayID, score.Name, strconv.Itoa(score.Status)})
	}
	return export.Dataset{
		Title: fmt.Sprintf("Check-in %s", sheet.Session.Date.UTC().Format("2006-01-02 15:04")),
		Notes: []string{
			fmt.Sprintf("Classroom: %s", sheet.ClassroomID),
			fmt.Sprintf("Code: %s", sheet.Session.Code),
			fmt.Sprintf("Status: %s", sheet.Session.StatusLabel()),
		},
		Headers: []string{"No", "Student ID", "Name", "Status"},
		Rows:    rows,
	}
}

func scoreSheetFilename(sheet *models.ScoreSheet, format string) string {
	name := fmt.Sprintf("checkin_%s_%s_%s", sheet.ClassroomID, sheet.Session.ID, sheet.Session.Date.UTC().Format("20060102"))
	return sanitizeFilename(name) + "." + format
}

func sanitizeFilename(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
