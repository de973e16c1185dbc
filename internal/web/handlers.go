package web

import (
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/sheetcheck/internal/core"
)

// handleHealth reports liveness and the upload limiter state.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"templates": len(s.service.ListTemplates()),
		"uploads":   s.service.UploadLimiterStatus(),
	})
}

// handleListTemplates returns every configured template.
func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.ListTemplates())
}

// handleDownloadReference serves the reference workbook users fill in.
func (s *Server) handleDownloadReference(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	data, name, err := s.service.ReferenceFile(r.Context(), key)
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}

	w.Header().Set("Content-Type", mediaTypeForName(name))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// handleRecords returns the records held from the last accepted upload.
func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	records, err := s.service.Records(key)
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"templateKey": key,
		"count":       len(records),
		"records":     records,
	})
}

// handleHistory returns recent upload outcomes for a template.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	limit := parseIntParam(r, "limit", core.DefaultHistoryLimit)

	entries, err := s.service.History(r.Context(), key, limit)
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}

	writeJSON(w, http.StatusOK, entries)
}

// parseIntParam parses a positive integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 1 {
		return defaultVal
	}
	return i
}

// mediaTypeForName maps a spreadsheet file name to its media type.
// .csv maps to the legacy Excel type, which is how Excel-associated
// browsers declare it.
func mediaTypeForName(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".xls", ".csv":
		return core.MediaTypeXLS
	case ".xlsx":
		return core.MediaTypeXLSX
	}
	return "application/octet-stream"
}
