package padron

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"colegio.org/internal/apperr"
)

// MaxRows bounds one import file.
const MaxRows = 5000

// Row is one registry line after header normalization. IsPaidUp is nil when
// the column is missing or holds an unrecognized value.
type Row struct {
	DNI         string
	FirstName   string
	LastName    string
	Email       string
	Phone       string
	BranchName  string
	ChapterName string
	IsPaidUp    *bool
}

type field int

const (
	fieldDNI field = iota
	fieldFirstName
	fieldLastName
	fieldEmail
	fieldPhone
	fieldBranch
	fieldChapter
	fieldPaidUp
)

var headerAliases = map[field][]string{
	fieldDNI:       {"dni"},
	fieldFirstName: {"firstname", "nombres", "name"},
	fieldLastName:  {"lastname", "apellidos", "surname"},
	fieldEmail:     {"email", "correo"},
	fieldPhone:     {"phone", "telefono", "celular"},
	fieldBranch:    {"branchname", "sede", "branch"},
	fieldChapter:   {"chaptername", "capitulo", "chapter"},
	fieldPaidUp:    {"ispaidup", "pagosaldia", "aldia", "activo", "habilitado"},
}

// ParseCSV reads a registry export. The first record is the header; column
// names are matched case-insensitively ignoring spaces and underscores.
// Rows without a DNI are dropped.
func ParseCSV(r io.Reader) ([]Row, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	return parseRecords(func() ([]string, error) {
		record, err := reader.Read()
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, apperr.BadRequest("invalid csv: %v", err)
		}
		return record, err
	})
}

// parseRecords drives header resolution and row mapping over next, which
// returns io.EOF once the source is exhausted.
func parseRecords(next func() ([]string, error)) ([]Row, error) {
	header, err := next()
	if errors.Is(err, io.EOF) {
		return nil, apperr.BadRequest("no rows found in file")
	}
	if err != nil {
		return nil, err
	}
	columns := resolveColumns(header)
	if _, ok := columns[fieldDNI]; !ok {
		return nil, apperr.BadRequest("missing dni column")
	}

	var rows []Row
	count := 0
	for {
		record, err := next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		count++
		if count > MaxRows {
			return nil, apperr.BadRequest("file exceeds %d rows", MaxRows)
		}
		row := mapRecord(record, columns)
		if row.DNI == "" {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func normalizeHeader(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	h = strings.ToLower(strings.TrimSpace(h))
	return strings.NewReplacer(" ", "", "_", "", "\t", "").Replace(h)
}

func resolveColumns(header []string) map[field]int {
	index := make(map[string]int, len(header))
	for i, h := range header {
		key := normalizeHeader(h)
		if _, seen := index[key]; !seen {
			index[key] = i
		}
	}
	columns := make(map[field]int, len(headerAliases))
	for f, aliases := range headerAliases {
		for _, alias := range aliases {
			if i, ok := index[alias]; ok {
				columns[f] = i
				break
			}
		}
	}
	return columns
}

func mapRecord(record []string, columns map[field]int) Row {
	get := func(f field) string {
		i, ok := columns[f]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}
	return Row{
		DNI:         get(fieldDNI),
		FirstName:   get(fieldFirstName),
		LastName:    get(fieldLastName),
		Email:       get(fieldEmail),
		Phone:       get(fieldPhone),
		BranchName:  get(fieldBranch),
		ChapterName: get(fieldChapter),
		IsPaidUp:    ParseBool(get(fieldPaidUp)),
	}
}

// ParseBool accepts true/1/si/yes and false/0/no. Anything else is nil.
func ParseBool(v string) *bool {
	var b bool
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "si", "sí", "yes":
		b = true
	case "false", "0", "no":
		b = false
	default:
		return nil
	}
	return &b
}

func (r Row) label(reason string) string {
	name := strings.TrimSpace(r.FirstName + " " + r.LastName)
	suffix := ""
	if reason != "" {
		suffix = fmt.Sprintf(" (%s)", reason)
	}
	if name != "" {
		return fmt.Sprintf("%s - %s%s", name, r.DNI, suffix)
	}
	return r.DNI + suffix
}
