package port

import (
	"context"

	"github.com/garyjia/access-approval/pkg/tabular"
)

// TabularStore is the backing store: named tables of string cells, row 0
// of each table being its header. Row and column indices are 0-based grid
// positions.
type TabularStore interface {
	// ReadAll returns every row of a table. A table that does not exist
	// reads as an empty grid.
	ReadAll(ctx context.Context, table string) (tabular.Grid, error)

	// AppendRow adds a row after the last non-empty row, creating the table
	// if needed.
	AppendRow(ctx context.Context, table string, row []string) error

	// WriteCell overwrites a single cell.
	WriteCell(ctx context.Context, table string, rowIndex, colIndex int, value string) error

	// BatchRead reads several tables in one call, in the order given.
	BatchRead(ctx context.Context, tables []string) ([]tabular.Grid, error)
}
