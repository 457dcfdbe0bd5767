package padron

import (
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"colegio.org/internal/apperr"
)

// ParseXLSX reads the first sheet of a workbook with the same header rules
// as ParseCSV. Blank rows are skipped.
func ParseXLSX(r io.Reader) ([]Row, error) {
	book, err := excelize.OpenReader(r)
	if err != nil {
		return nil, apperr.BadRequest("invalid xlsx: %v", err)
	}
	defer func() { _ = book.Close() }()

	sheets := book.GetSheetList()
	if len(sheets) == 0 {
		return nil, apperr.BadRequest("no rows found in file")
	}
	rows, err := book.Rows(sheets[0])
	if err != nil {
		return nil, apperr.BadRequest("invalid xlsx: %v", err)
	}
	defer func() { _ = rows.Close() }()

	return parseRecords(func() ([]string, error) {
		for rows.Next() {
			cols, err := rows.Columns()
			if err != nil {
				return nil, apperr.BadRequest("invalid xlsx: %v", err)
			}
			if blankRecord(cols) {
				continue
			}
			return cols, nil
		}
		if err := rows.Error(); err != nil {
			return nil, apperr.BadRequest("invalid xlsx: %v", err)
		}
		return nil, io.EOF
	})
}

// Parse picks the decoder from the uploaded file name.
func Parse(filename string, r io.Reader) ([]Row, error) {
	switch name := strings.ToLower(strings.TrimSpace(filename)); {
	case strings.HasSuffix(name, ".xlsx"):
		return ParseXLSX(r)
	case strings.HasSuffix(name, ".csv"):
		return ParseCSV(r)
	default:
		return nil, apperr.BadRequest("only .xlsx or .csv files are allowed")
	}
}

func blankRecord(cols []string) bool {
	for _, c := range cols {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
