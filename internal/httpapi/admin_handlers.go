package httpapi

import (
	"mime"
	"net/http"
	"strconv"
	"strings"

	"colegio.org/internal/apperr"
	"colegio.org/internal/audit"
	"colegio.org/internal/padron"
)

const xlsxMediaType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// handlePadronImport accepts a multipart form whose "file" part is an .xlsx
// or .csv registry, or the raw workbook or CSV as the request body.
func (a *API) handlePadronImport(w http.ResponseWriter, r *http.Request) {
	rows, err := importRows(r)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	res, err := a.svc.Padron.Import(r.Context(), principal(r), rows)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func importRows(r *http.Request) ([]padron.Row, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "multipart/form-data":
	case xlsxMediaType:
		return padron.ParseXLSX(r.Body)
	default:
		return padron.ParseCSV(r.Body)
	}
	if err := r.ParseMultipartForm(maxImportBytes); err != nil {
		return nil, apperr.BadRequest("invalid multipart body: %v", err)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, apperr.BadRequest("file part is required")
	}
	defer func() { _ = file.Close() }()
	return padron.Parse(header.Filename, file)
}

func (a *API) handleAuditList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := audit.Filter{
		Action: strings.TrimSpace(q.Get("action")),
		Entity: strings.TrimSpace(q.Get("entity")),
		UserID: strings.TrimSpace(q.Get("userId")),
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 200 {
			a.handleError(w, r, apperr.BadRequest("limit must be an integer between 1 and 200"))
			return
		}
		f.Limit = n
	}
	records, err := a.svc.Audit.List(r.Context(), f)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	if records == nil {
		records = []audit.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}
