package service

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/classroom-checkin-api/internal/models"
	appErrors "github.com/noah-isme/classroom-checkin-api/pkg/errors"
	"github.com/noah-isme/classroom-checkin-api/pkg/export"
)

type failingRenderer struct{}

func (failingRenderer) Render(export.Dataset) ([]byte, error) { return nil, errors.New("boom") }
func (failingRenderer) ContentType() string                   { return "text/csv" }

func sampleSheet() *models.ScoreSheet {
	return &models.ScoreSheet{
		ClassroomID: "c1",
		Session:     models.CheckinSession{ID: "s 1", Code: "CHECKIN-CODE", Date: time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC)},
		Scores: []models.ScoreRecord{
			{StudentID: "s1", StdID: "6401", Name: "Ann"},
			{StudentID: "s2", Name: "Bob"},
		},
	}
}

func TestExportServiceRenderCSV(t *testing.T) {
	file, err := NewExportService(nil, nil, nil).RenderScoreSheet(sampleSheet(), "CSV")
	require.NoError(t, err)
	assert.Equal(t, "checkin_c1_s_1_20240301.csv", file.Filename)
	assert.Equal(t, "text/csv; charset=utf-8", file.ContentType)
	assert.Equal(t, "No,Student ID,Name,Status\n1,6401,Ann,0\n2,s2,Bob,0\n", string(file.Data))
}

func TestExportServiceRenderPDF(t *testing.T) {
	file, err := NewExportService(nil, nil, nil).RenderScoreSheet(sampleSheet(), ExportFormatPDF)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", file.ContentType)
	assert.NotEmpty(t, file.Data)
}

func TestExportServiceErrors(t *testing.T) {
	svc := NewExportService(nil, failingRenderer{}, nil)

	_, err := svc.RenderScoreSheet(sampleSheet(), "xlsx")
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = svc.RenderScoreSheet(nil, ExportFormatCSV)
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = svc.RenderScoreSheet(sampleSheet(), ExportFormatCSV)
	assert.ErrorIs(t, err, appErrors.ErrInternal)
}

func TestScoreSheetDataset(t *testing.T) {
	data := ScoreSheetDataset(sampleSheet())
	assert.Equal(t, "Check-in 2024-03-01 08:30", data.Title)
	assert.Contains(t, data.Notes, "Status: in progress")
	assert.Equal(t, [][]string{{"1", "6401", "Ann", "0"}, {"2", "s2", "Bob", "0"}}, data.Rows)
}
