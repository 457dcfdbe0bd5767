package padron

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"colegio.org/internal/apperr"
)

func TestParseCSVHeaderAliases(t *testing.T) {
	input := "\ufeffDNI,Nombres,Apellidos,Correo,Celular,Sede,Capitulo,Al Dia\n" +
		"12345678, Ana ,Ruiz,ana@example.org,999111222,Lima,Ingenieria Civil,si\n" +
		",Sin,Dni,,,Lima,Civil,1\n" +
		"87654321,Luis,Paz,,,Lima,Civil,maybe\n"

	rows, err := ParseCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, rows, 2, "rows without dni are dropped")

	first := rows[0]
	assert.Equal(t, "12345678", first.DNI)
	assert.Equal(t, "Ana", first.FirstName)
	assert.Equal(t, "ana@example.org", first.Email)
	assert.Equal(t, "999111222", first.Phone)
	assert.Equal(t, "Ingenieria Civil", first.ChapterName)
	require.NotNil(t, first.IsPaidUp)
	assert.True(t, *first.IsPaidUp)

	assert.Nil(t, rows[1].IsPaidUp, "unrecognized flag")
}

func TestParseCSVEnglishHeaders(t *testing.T) {
	input := "dni,first_name,last_name,email,phone,branch_name,chapter_name,is_paid_up\n" +
		"11112222,Rosa,Diaz,,,Cusco,Sistemas,false\n"
	rows, err := ParseCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Cusco", rows[0].BranchName)
	require.NotNil(t, rows[0].IsPaidUp)
	assert.False(t, *rows[0].IsPaidUp)
}

func TestParseCSVRejectsBadInput(t *testing.T) {
	_, err := ParseCSV(strings.NewReader(""))
	assert.True(t, errors.Is(err, apperr.ErrBadRequest))

	_, err = ParseCSV(strings.NewReader("nombre,sede\nAna,Lima\n"))
	assert.True(t, errors.Is(err, apperr.ErrBadRequest), "missing dni column")

	var b strings.Builder
	b.WriteString("dni,sede,capitulo,activo\n")
	for i := 0; i <= MaxRows; i++ {
		fmt.Fprintf(&b, "%08d,Lima,Civil,1\n", i)
	}
	_, err = ParseCSV(strings.NewReader(b.String()))
	require.Error(t, err)
	assert.Equal(t, fmt.Sprintf("file exceeds %d rows", MaxRows), apperr.Message(err))
}

func TestParseBool(t *testing.T) {
	for _, v := range []string{"true", "1", "SI", "yes", " Si "} {
		got := ParseBool(v)
		require.NotNil(t, got, v)
		assert.True(t, *got, v)
	}
	for _, v := range []string{"false", "0", "No"} {
		got := ParseBool(v)
		require.NotNil(t, got, v)
		assert.False(t, *got, v)
	}
	assert.Nil(t, ParseBool(""))
	assert.Nil(t, ParseBool("x"))
}
