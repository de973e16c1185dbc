package web

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/sheetcheck/internal/core"
)

const (
	// multipartOverhead is allowed on top of the file size for form framing.
	multipartOverhead = 1 << 20

	// multipartMemory is kept in memory before parts spill to disk.
	multipartMemory = 32 << 20
)

// handleUpload runs one spreadsheet through the template's pipeline.
//
// Responses: 200 accepted, 422 rejected, 204 when no file was attached,
// 404 unknown template, 413 oversized body, 503 no upload slot.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	maxSize := s.cfg.Upload.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartOverhead)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			respondError(w, r, &core.FileTooLargeError{Size: r.ContentLength, Limit: maxSize}, http.StatusRequestEntityTooLarge)
			return
		}
		respondError(w, r, fmt.Errorf("parse upload form: %w", err), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, err := formFile(r, "file")
	if err != nil {
		respondError(w, r, err, http.StatusBadRequest)
		return
	}

	ctx := WithRequestMetadata(r.Context(), r)
	result, err := s.service.Upload(ctx, key, file)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusServiceUnavailable {
			w.Header().Set("Retry-After", "5")
		}
		respondError(w, r, err, status)
		return
	}

	switch result.Status {
	case core.StatusSkipped:
		w.WriteHeader(http.StatusNoContent)
	case core.StatusRejected:
		writeJSON(w, http.StatusUnprocessableEntity, result)
	default:
		writeJSON(w, http.StatusOK, result)
	}
}

// formFile reads the named part. A missing part yields a nil file, which
// the service treats as a cancelled selection.
func formFile(r *http.Request, field string) (*core.File, error) {
	part, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read upload form: %w", err)
	}
	defer part.Close()

	data, err := io.ReadAll(part)
	if err != nil {
		return nil, fmt.Errorf("read uploaded file: %w", err)
	}

	return &core.File{
		Name:      header.Filename,
		MediaType: partMediaType(header),
		Data:      data,
	}, nil
}

// partMediaType returns the declared media type of a part, falling back to
// the file extension when the client sent none or a generic one.
func partMediaType(header *multipart.FileHeader) string {
	ct := header.Header.Get("Content-Type")
	if ct == "" || ct == "application/octet-stream" {
		return mediaTypeForName(header.Filename)
	}
	return ct
}
