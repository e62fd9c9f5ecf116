package export

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDataset() Dataset {
	return Dataset{
		Title:   "Check-in 2024-03-01",
		Notes:   []string{"Code: CHECKIN-CODE"},
		Headers: []string{"No", "Student ID", "Name", "Status"},
		Rows: [][]string{
			{"1", "6401", "Ann, Lee", "0"},
			{"2", "s2", "Bob", "0"},
		},
	}
}

func TestCSVExporterRender(t *testing.T) {
	out, err := NewCSVExporter().Render(sampleDataset())
	require.NoError(t, err)
	assert.Equal(t, "No,Student ID,Name,Status\n1,6401,\"Ann, Lee\",0\n2,s2,Bob,0\n", string(out))
}

func TestCSVExporterRejectsRaggedRows(t *testing.T) {
	data := sampleDataset()
	data.Rows = append(data.Rows, []string{"3"})
	_, err := NewCSVExporter().Render(data)
	assert.Error(t, err)

	_, err = NewCSVExporter().Render(Dataset{})
	assert.Error(t, err)
}

func TestPDFExporterRender(t *testing.T) {
	out, err := NewPDFExporter().Render(sampleDataset())
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF-")))
	assert.Equal(t, "application/pdf", NewPDFExporter().ContentType())
}
