package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/importcsv/importcsv-go/internal/importer"
	"github.com/importcsv/importcsv-go/internal/logging"
)

// handleHealth reports liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// handleListImporters returns the registered importer definitions.
func (s *Server) handleListImporters(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.service.Importers())
}

// handleGetImporter returns a single importer definition by key.
func (s *Server) handleGetImporter(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	for _, def := range s.service.Importers() {
		if def.Key == key {
			writeJSON(w, def)
			return
		}
	}
	writeError(w, r, http.StatusNotFound, fmt.Sprintf("unknown importer: %s", key))
}

// startImportRequest is the body of POST /api/imports: the importer to run
// against and the already-parsed file contents.
type startImportRequest struct {
	Importer string            `json:"importer"`
	File     importer.FileData `json:"file"`
}

// handleStartImport creates a new import session at the upload step.
func (s *Server) handleStartImport(w http.ResponseWriter, r *http.Request) {
	var req startImportRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.Importer == "" {
		writeError(w, r, http.StatusBadRequest, "importer key is required")
		return
	}

	session, err := s.service.StartSession(r.Context(), req.Importer, req.File)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, importer.ErrTooManySessions) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, r, status, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, session.State())
}

// handleGetImport returns the session state snapshot.
func (s *Server) handleGetImport(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, session.State())
}

// handleGetRows returns raw uploaded rows for preview, capped by ?limit=.
func (s *Server) handleGetRows(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, r, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	writeJSON(w, map[string]any{"rows": session.Rows(limit)})
}

// handleAdvance moves the session to the next step.
func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}

	step, err := session.Advance()
	if err != nil {
		writeError(w, r, stepErrorStatus(err), err.Error())
		return
	}

	logging.FromContext(r.Context()).Info("session advanced",
		"session_id", session.ID,
		"step", step.String(),
	)
	writeJSON(w, session.State())
}

// handleBack moves the session to the previous step.
func (s *Server) handleBack(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}

	if _, err := session.Back(); err != nil {
		writeError(w, r, stepErrorStatus(err), err.Error())
		return
	}
	writeJSON(w, session.State())
}

// handleCancel terminates the session.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := s.service.CancelSession(sessionID); err != nil {
		writeError(w, r, stepErrorStatus(err), err.Error())
		return
	}

	session, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, session.State())
}

type selectHeaderRequest struct {
	Index int `json:"index"`
}

// handleSelectHeaderRow marks a row as the header during row selection.
func (s *Server) handleSelectHeaderRow(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}

	var req selectHeaderRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	if err := session.SelectHeaderRow(req.Index); err != nil {
		writeError(w, r, stepErrorStatus(err), err.Error())
		return
	}
	writeJSON(w, session.State())
}

// handleGetMapping returns the current column mapping.
func (s *Server) handleGetMapping(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, map[string]any{"mapping": session.Mapping()})
}

type setMappingRequest struct {
	Mapping importer.ColumnMapping `json:"mapping"`
}

// handleSetMapping replaces the column mapping during the mapping step.
func (s *Server) handleSetMapping(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}

	var req setMappingRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	if err := session.SetMapping(req.Mapping); err != nil {
		writeError(w, r, stepErrorStatus(err), err.Error())
		return
	}
	writeJSON(w, map[string]any{"mapping": session.Mapping()})
}

type editCellRequest struct {
	RowIndex    int    `json:"rowIndex"`
	ColumnIndex int    `json:"columnIndex"`
	Value       string `json:"value"`
}

// handleEditCell replaces one cell value during validation, restarting the
// validation pass.
func (s *Server) handleEditCell(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}

	var req editCellRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	if err := session.EditCell(req.RowIndex, req.ColumnIndex, req.Value); err != nil {
		writeError(w, r, stepErrorStatus(err), err.Error())
		return
	}
	writeJSON(w, session.Progress())
}

// handleGetErrors returns the current validation error list.
func (s *Server) handleGetErrors(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, map[string]any{"errors": session.Errors()})
}

// handleProgress streams validation progress via Server-Sent Events.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming not supported")
		return
	}

	progressCh, cancel := session.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	for {
		select {
		case progress, open := <-progressCh:
			if !open {
				// Session finished; tell the client to stop reconnecting.
				fmt.Fprintf(w, "event: complete\ndata: {}\n\n")
				flusher.Flush()
				return
			}

			data, _ := json.Marshal(progress)
			fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", progress.Validated, data)
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

// handleGetResult returns the final dataset of a completed session.
func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}

	result, err := session.Result()
	if err != nil {
		writeError(w, r, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, result)
}

// handleStatus reports concurrency slot usage.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.service.Status())
}

// session resolves the sessionID URL parameter, writing the error response
// on failure.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*importer.Session, bool) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		writeError(w, r, http.StatusBadRequest, "missing session ID")
		return nil, false
	}

	session, err := s.service.GetSession(sessionID)
	if err != nil {
		writeError(w, r, http.StatusNotFound, err.Error())
		return nil, false
	}
	return session, true
}

// decodeBody reads a size-capped JSON body into v, writing the error
// response on failure.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxBodySize)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, r, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

// stepErrorStatus maps session errors to HTTP status codes. Bad indices are
// client input problems; guard refusals and wrong-step operations are
// conflicts with the session's current state.
func stepErrorStatus(err error) int {
	if errors.Is(err, importer.ErrRowRange) || errors.Is(err, importer.ErrColumnRange) {
		return http.StatusBadRequest
	}
	return http.StatusConflict
}
