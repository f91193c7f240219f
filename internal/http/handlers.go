package http

import (
	"context"
	"errors"
	"mime/multipart"
	"net/http"

	"budgetviz/internal/core"
	applog "budgetviz/internal/log"
	"budgetviz/internal/sheets"
)

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.dash.Snapshot())
}

func (s *Server) handleUpdateFilters(w http.ResponseWriter, r *http.Request) {
	patch, err := parseFilterPatch(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := s.dash.UpdateFilters(r.Context(), patch); err != nil {
		if errors.Is(err, core.ErrInvalidTimePeriod) || errors.Is(err, core.ErrInvalidCurrency) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		applog.FromContext(r.Context()).ErrorContext(r.Context(), "Filter update failed", applog.FieldError, err)
		writeError(w, http.StatusInternalServerError, "filter update failed")
		return
	}
	writeJSON(w, http.StatusOK, s.dash.Snapshot())
}

type uploadResponse struct {
	Message    string   `json:"message"`
	Categories []string `json:"categories"`
	Years      []int    `json:"years"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	logger := applog.FromContext(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)

	req, err := parseUpload(r, s.opts.MaxUploadBytes)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || errors.Is(err, multipart.ErrMessageTooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	meta, err := s.dash.Upload(r.Context(), req)
	switch {
	case errors.Is(err, core.ErrStaleResponse):
		writeError(w, http.StatusConflict, "superseded by a newer upload")
		return
	case err != nil:
		logger.WarnContext(r.Context(), "Upload rejected",
			applog.FieldOperation, applog.OpUpload,
			applog.FieldFilename, req.Filename,
			applog.FieldError, err)
		msg := s.dash.Snapshot().Upload.Error
		if msg == "" {
			msg = err.Error()
		}
		writeError(w, http.StatusUnprocessableEntity, msg)
		return
	}

	up := s.dash.Snapshot().Upload
	writeJSON(w, http.StatusOK, uploadResponse{
		Message:    up.Message,
		Categories: meta.Categories,
		Years:      meta.Years,
	})
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	sel, err := parseSelection(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	detail, err := s.dash.Select(r.Context(), sel.Category, sel.TimePeriod)
	switch {
	case errors.Is(err, core.ErrStaleResponse):
		writeJSON(w, http.StatusConflict, errorBody{Error: "superseded by a newer selection", Detail: detail})
	case errors.Is(err, core.ErrDetailFetchFailed):
		writeJSON(w, http.StatusBadGateway, errorBody{Error: err.Error(), Detail: detail})
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, detail)
	}
}

func (s *Server) handleClearSelection(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.dash.ClearSelection())
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.dash.Refresh(); err != nil {
		if errors.Is(err, core.ErrNoDataset) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if s.opts.Exporter == nil {
		writeError(w, http.StatusServiceUnavailable, "export is not configured")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.ExportTimeout)
	defer cancel()
	ref, err := s.opts.Exporter.Export(ctx)
	switch {
	case errors.Is(err, sheets.ErrNothingToExport):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		applog.FromContext(r.Context()).ErrorContext(ctx, "Export failed", applog.FieldOperation, applog.OpExport, applog.FieldError, err)
		writeError(w, http.StatusBadGateway, "export failed")
	default:
		writeJSON(w, http.StatusOK, map[string]string{"range": ref})
	}
}
