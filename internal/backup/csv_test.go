package backup

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gastos/internal/core"
)

func TestToCSVSanitizesValues(t *testing.T) {
	expenses := []core.Expense{{
		Name:        "Café; Pausa",
		Amount:      dec("12.50"),
		Description: "line one\nline two",
		Category:    "Bar",
		Timestamp:   time.Date(2024, 2, 9, 12, 0, 0, 0, time.UTC).UnixMilli(),
	}}

	out := ToCSV(expenses, time.UTC)
	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, CSVHeader, lines[0])

	cells := strings.Split(lines[1], ";")
	require.Len(t, cells, 6, "a value leaked a separator: %q", lines[1])
	assert.Equal(t, "09/02/2024", cells[0])
	assert.Equal(t, "Bar", cells[1])
	assert.Equal(t, "Café, Pausa", cells[2])
	assert.Equal(t, "line one line two", cells[3])
	assert.Equal(t, "12,5", cells[4])
	assert.Equal(t, "", cells[5])
}

func TestCSVRowsUseLocation(t *testing.T) {
	madrid, err := time.LoadLocation("Europe/Madrid")
	if err != nil {
		t.Skip("tzdata not available")
	}
	e := core.Expense{
		Name:      "Late",
		Amount:    dec("1"),
		Timestamp: time.Date(2024, 5, 31, 23, 30, 0, 0, time.UTC).UnixMilli(),
		Photo:     core.ArchivePhoto("20240601_Late.jpg"),
	}
	rows := CSVRows([]core.Expense{e}, madrid)
	require.Len(t, rows, 1)
	assert.Equal(t, "01/06/2024", rows[0][0])
	assert.Equal(t, "images/20240601_Late.jpg", rows[0][5])
}

func TestCSVColumns(t *testing.T) {
	assert.Equal(t, []string{"Fecha", "Categoria", "Nombre", "Descripcion", "Cantidad", "NombreArchivoImagen"}, CSVColumns())
	assert.Equal(t, CSVHeader+"\n", ToCSV(nil, time.UTC))
}
