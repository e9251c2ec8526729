// Package sheets defines the spreadsheet mirror port. The Google Sheets
// adapter lives in the google subpackage.
package sheets

import "context"

// RowWriter replaces the whole content of a tabular mirror.
type RowWriter interface {
	// ReplaceRows clears the target and writes header followed by rows.
	ReplaceRows(ctx context.Context, header []string, rows [][]string) error
}
