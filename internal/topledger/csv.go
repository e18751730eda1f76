package topledger

import (
	"encoding/csv"
	"fmt"
	"io"
)

// WriteCSV writes a header row of column names followed by every result row
func WriteCSV(w io.Writer, r *QueryResult, columns ...string) error {
	if r == nil {
		return fmt.Errorf("%w: nil result", ErrBadResponse)
	}
	if len(columns) == 0 {
		columns = r.ColumnNames()
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	record := make([]string, len(columns))
	for _, row := range r.Rows {
		for i, c := range columns {
			record[i] = formatCell(row[c])
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}
