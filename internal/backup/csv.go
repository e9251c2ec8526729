package backup

import (
	"bufio"
	"io"
	"strings"
	"time"

	"gastos/internal/core"
)

// CSVHeader is the header row of gastos.csv.
const CSVHeader = "Fecha;Categoria;Nombre;Descripcion;Cantidad;NombreArchivoImagen"

const (
	csvSeparator  = ";"
	csvSubstitute = ","
	csvDateFormat = "02/01/2006"
	csvLineEnding = "\n"
	numCSVFields  = 6
)

// Values are never quoted, so separators and line breaks inside a value are
// replaced instead. The substitution is lossy.
var csvSanitizer = strings.NewReplacer(
	csvSeparator, csvSubstitute,
	"\r\n", " ",
	"\n", " ",
	"\r", " ",
)

// CSVColumns returns the header cells.
func CSVColumns() []string {
	return strings.Split(CSVHeader, csvSeparator)
}

// CSVRows returns one sanitized row per expense: date, category, name,
// description, amount with a comma decimal separator, photo reference.
func CSVRows(expenses []core.Expense, loc *time.Location) [][]string {
	rows := make([][]string, 0, len(expenses))
	for _, e := range expenses {
		row := make([]string, numCSVFields)
		row[0] = e.Time(loc).Format(csvDateFormat)
		row[1] = sanitizeCell(e.Category)
		row[2] = sanitizeCell(e.Name)
		row[3] = sanitizeCell(e.Description)
		row[4] = core.FormatLocaleAmount(e.Amount)
		row[5] = sanitizeCell(e.Photo.String())
		rows = append(rows, row)
	}
	return rows
}

// WriteCSV writes the header and one line per expense.
func WriteCSV(w io.Writer, expenses []core.Expense, loc *time.Location) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(CSVHeader + csvLineEnding); err != nil {
		return ioErr("write csv", err)
	}
	for _, row := range CSVRows(expenses, loc) {
		if _, err := bw.WriteString(strings.Join(row, csvSeparator) + csvLineEnding); err != nil {
			return ioErr("write csv", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return ioErr("write csv", err)
	}
	return nil
}

// ToCSV is WriteCSV into a string.
func ToCSV(expenses []core.Expense, loc *time.Location) string {
	var b strings.Builder
	_ = WriteCSV(&b, expenses, loc)
	return b.String()
}

func sanitizeCell(s string) string {
	return csvSanitizer.Replace(s)
}
