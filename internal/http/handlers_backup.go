package http

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gastos/internal/backup"
	"gastos/internal/log"
	"gastos/internal/services"
)

// backupStatus maps a backup task error to its HTTP status.
func backupStatus(err error) int {
	switch {
	case errors.Is(err, services.ErrBusy), errors.Is(err, backup.ErrInvalidState),
		errors.Is(err, backup.ErrStaleDecision):
		return http.StatusConflict
	case errors.Is(err, services.ErrNoPendingConflicts):
		return http.StatusNotFound
	case errors.Is(err, backup.ErrMalformed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, backup.ErrInvalidSelection):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// backupMessage keeps internal causes out of responses.
func backupMessage(err error) string {
	switch {
	case errors.Is(err, services.ErrNoPendingConflicts), errors.Is(err, backup.ErrInvalidState),
		errors.Is(err, backup.ErrInvalidSelection), errors.Is(err, backup.ErrStaleDecision):
		return err.Error()
	default:
		return services.UserMessage(err)
	}
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	photos, err := ParseBoolParam(r.URL.Query(), "photos")
	if err != nil {
		s.write(w, r, BadRequestError(err.Error()))
		return
	}

	res, err := s.backups.Export(ctx, photos)
	if err != nil {
		s.write(w, r, ErrorResponse(backupStatus(err), backupMessage(err)))
		return
	}

	f, err := os.Open(res.Path)
	if err != nil {
		s.requestLogger(r).ErrorContext(ctx, "Exported file vanished", log.NewFields().
			WithError(err).
			WithOperation(log.OpExport).
			ToSlice()...)
		s.write(w, r, InternalServerError(services.MsgGenericFailure))
		return
	}
	// The download is the only copy the server keeps.
	defer os.Remove(res.Path)
	defer f.Close()

	contentType := "application/json"
	if strings.EqualFold(filepath.Ext(res.Path), ".zip") {
		contentType = "application/zip"
	}

	s.requestLogger(r).InfoContext(ctx, "Backup exported",
		log.FieldFile, filepath.Base(res.Path),
		log.FieldIncludePhotos, photos,
		log.FieldExpenses, res.Expenses,
		log.FieldPhotos, res.Photos)

	s.write(w, r, NewResponse().
		Header("X-Backup-Expenses", strconv.Itoa(res.Expenses)).
		Header("X-Backup-Skipped-Photos", strconv.Itoa(res.SkippedPhotos)).
		Attachment(filepath.Base(res.Path), contentType, f))
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	replaceAll, err := ParseBoolParam(r.URL.Query(), "replace_all")
	if err != nil {
		s.write(w, r, BadRequestError(err.Error()))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	file, header, err := r.FormFile("file")
	if err != nil {
		s.write(w, r, BadRequestError("missing backup file"))
		return
	}
	defer file.Close()

	path, err := s.spoolUpload(file, header.Filename)
	if err != nil {
		s.requestLogger(r).ErrorContext(ctx, "Failed to store upload", log.NewFields().
			WithError(err).
			WithOperation(log.OpImport).
			ToSlice()...)
		s.write(w, r, ErrorResponse(http.StatusInternalServerError, services.MsgGenericFailure))
		return
	}
	defer os.Remove(path)

	outcome, err := s.backups.Import(ctx, path, replaceAll)
	if err != nil {
		s.write(w, r, NewResponse().Status(backupStatus(err)).JSON(importResponse{
			Success: false,
			Message: backupMessage(err),
		}))
		return
	}

	s.write(w, r, NewResponse().JSON(importResponse{
		Success:   outcome.Success,
		Inserted:  outcome.Inserted,
		Conflicts: outcome.Conflicts,
	}))
}

// spoolUpload copies the upload to a temp file. The packager picks the
// format from the extension, so only .zip survives; anything else is JSON.
func (s *Server) spoolUpload(src io.Reader, name string) (string, error) {
	ext := ".json"
	if strings.EqualFold(filepath.Ext(name), ".zip") {
		ext = ".zip"
	}
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	tmp, err := os.CreateTemp(s.uploadDir, "upload-*"+ext)
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close upload: %w", err)
	}
	return tmp.Name(), nil
}

func (s *Server) handleNextConflict(w http.ResponseWriter, r *http.Request) {
	session := s.backups.PendingSession()
	if session == nil {
		s.write(w, r, NewResponse().Status(http.StatusNoContent))
		return
	}
	idx, c, ok := session.Next()
	if !ok {
		s.write(w, r, NewResponse().Status(http.StatusNoContent))
		return
	}
	s.write(w, r, NewResponse().JSON(conflictResponse{
		Index:    idx,
		Pending:  session.Pending(),
		Total:    session.Len(),
		Existing: toExpenseJSON(c.Existing),
		Incoming: toExpenseJSON(c.Incoming),
	}))
}

func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		s.write(w, r, BadRequestError(err.Error()))
		return
	}
	d, err := backup.ParseDecision(req.Decision)
	if err != nil {
		s.write(w, r, BadRequestError(err.Error()))
		return
	}

	session := s.backups.PendingSession()
	if session == nil {
		s.write(w, r, NotFoundError(services.ErrNoPendingConflicts.Error()))
		return
	}
	if req.Index == nil {
		s.write(w, r, BadRequestError("index is required"))
		return
	}

	res, applied, err := s.backups.DecideAt(r.Context(), *req.Index, d, req.ApplyToRemaining)
	if err != nil {
		s.write(w, r, ErrorResponse(backupStatus(err), backupMessage(err)))
		return
	}
	s.write(w, r, NewResponse().JSON(toResolutionResponse(res, applied, session.Pending())))
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		s.write(w, r, BadRequestError(err.Error()))
		return
	}

	res, err := s.backups.ResolveConflicts(r.Context(), req.Discard, req.Replace, req.Duplicate)
	if err != nil {
		s.write(w, r, ErrorResponse(backupStatus(err), backupMessage(err)))
		return
	}
	s.write(w, r, NewResponse().JSON(toResolutionResponse(res, true, 0)))
}
