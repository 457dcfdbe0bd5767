package padron

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"colegio.org/internal/apperr"
)

func workbook(t *testing.T, rows ...[]any) *bytes.Buffer {
	t.Helper()
	book := excelize.NewFile()
	defer func() { _ = book.Close() }()
	sheet := book.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, book.SetSheetRow(sheet, cell, &row))
	}
	buf, err := book.WriteToBuffer()
	require.NoError(t, err)
	return buf
}

func TestParseXLSXHeaderAliases(t *testing.T) {
	buf := workbook(t,
		[]any{"DNI", "Nombres", "Apellidos", "Correo", "Sede", "Capitulo", "Pagos al dia"},
		[]any{12345678, " Ana ", "Ruiz", "ana@example.org", "Lima", "Ingenieria Civil", true},
		[]any{},
		[]any{"", "Sin", "Dni", "", "Lima", "Civil", "si"},
		[]any{"87654321", "Luis", "Paz", "", "Lima", "Civil", "no"},
	)

	rows, err := ParseXLSX(buf)
	require.NoError(t, err)
	require.Len(t, rows, 2, "blank rows and rows without dni are dropped")

	first := rows[0]
	assert.Equal(t, "12345678", first.DNI)
	assert.Equal(t, "Ana", first.FirstName)
	assert.Equal(t, "Ingenieria Civil", first.ChapterName)
	require.NotNil(t, first.IsPaidUp)
	assert.True(t, *first.IsPaidUp)

	require.NotNil(t, rows[1].IsPaidUp)
	assert.False(t, *rows[1].IsPaidUp)
}

func TestParseXLSXRejectsBadInput(t *testing.T) {
	_, err := ParseXLSX(strings.NewReader("not a workbook"))
	assert.True(t, errors.Is(err, apperr.ErrBadRequest))

	_, err = ParseXLSX(workbook(t, []any{"Nombres", "Sede"}, []any{"Ana", "Lima"}))
	assert.Equal(t, "missing dni column", apperr.Message(err))

	_, err = ParseXLSX(workbook(t))
	assert.Equal(t, "no rows found in file", apperr.Message(err))
}

func TestParseByFilename(t *testing.T) {
	rows, err := Parse("Padron.XLSX", workbook(t, []any{"dni"}, []any{"11112222"}))
	require.NoError(t, err)
	require.Len(t, rows, 1)

	rows, err = Parse("padron.csv", strings.NewReader("dni\n11112222\n"))
	require.NoError(t, err)
	require.Len(t, rows, 1)

	_, err = Parse("padron.xls", strings.NewReader(""))
	assert.True(t, errors.Is(err, apperr.ErrBadRequest))
}
