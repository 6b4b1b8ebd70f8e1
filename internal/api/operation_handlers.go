package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/vrsandeep/mvidarr-go/internal/bulk"
	"github.com/vrsandeep/mvidarr-go/internal/models"
)

type createOperationRequest struct {
	Type        models.OperationType `json:"type"`
	Name        string               `json:"name"`
	Description string               `json:"description"`
	TargetIDs   []int64              `json:"target_ids"`
	Params      json.RawMessage      `json:"params"`
	IsUndoable  *bool                `json:"is_undoable"`
	IsPreview   bool                 `json:"is_preview"`
}

func (s *Server) handleCreateOperation(w http.ResponseWriter, r *http.Request) {
	var payload createOperationRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	// Operations are undoable unless the caller opts out.
	undoable := payload.IsUndoable == nil || *payload.IsUndoable

	id, err := s.app.Engine.Create(r.Context(), bulk.CreateRequest{
		UserID:      getUserID(r),
		Type:        payload.Type,
		Name:        payload.Name,
		Description: payload.Description,
		TargetIDs:   payload.TargetIDs,
		Params:      payload.Params,
		IsUndoable:  undoable,
		IsPreview:   payload.IsPreview,
	})
	if err != nil {
		RespondWithEngineError(w, err)
		return
	}

	view, err := s.app.Engine.GetStatus(r.Context(), id, 0)
	if err != nil {
		RespondWithEngineError(w, err)
		return
	}
	RespondWithJSON(w, http.StatusCreated, view)
}

func (s *Server) handleStartOperation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "operationID")
	if _, err := s.app.Engine.Lookup(r.Context(), id, getUserID(r)); err != nil {
		RespondWithEngineError(w, err)
		return
	}
	if err := s.app.Engine.Start(r.Context(), id); err != nil {
		RespondWithEngineError(w, err)
		return
	}
	RespondWithJSON(w, http.StatusAccepted, map[string]string{
		"operation_id": id,
		"message":      "Operation submitted.",
	})
}

func (s *Server) handleGetOperation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "operationID")
	errorLimit := 0
	if raw := r.URL.Query().Get("errors"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			RespondWithError(w, http.StatusBadRequest, "Invalid errors parameter")
			return
		}
		errorLimit = n
	}

	if _, err := s.app.Engine.Lookup(r.Context(), id, getUserID(r)); err != nil {
		RespondWithEngineError(w, err)
		return
	}
	view, err := s.app.Engine.GetStatus(r.Context(), id, errorLimit)
	if err != nil {
		RespondWithEngineError(w, err)
		return
	}
	RespondWithJSON(w, http.StatusOK, view)
}

func (s *Server) handleCancelOperation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "operationID")
	result, err := s.app.Engine.Cancel(r.Context(), id, getUserID(r))
	if err != nil {
		RespondWithEngineError(w, err)
		return
	}
	code := http.StatusOK
	if result == bulk.CancelNotFound {
		code = http.StatusNotFound
	}
	RespondWithJSON(w, code, map[string]string{
		"operation_id": id,
		"result":       string(result),
	})
}

func (s *Server) handleUndoOperation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "operationID")
	undoID, err := s.app.Engine.Undo(r.Context(), id, getUserID(r))
	if err != nil {
		RespondWithEngineError(w, err)
		return
	}
	RespondWithJSON(w, http.StatusAccepted, map[string]string{
		"operation_id":      id,
		"undo_operation_id": undoID,
	})
}

func (s *Server) handleListOperations(w http.ResponseWriter, r *http.Request) {
	status := models.OperationStatus(r.URL.Query().Get("status"))
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			RespondWithError(w, http.StatusBadRequest, "Invalid limit parameter")
			return
		}
		limit = n
	}

	ops, err := s.app.Engine.ListForUser(r.Context(), getUserID(r), status, limit)
	if err != nil {
		RespondWithEngineError(w, err)
		return
	}
	if ops == nil {
		ops = []*models.Operation{}
	}
	RespondWithJSON(w, http.StatusOK, ops)
}

func (s *Server) handleGetOperationAudit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "operationID")
	entries, err := s.app.Engine.Audit(r.Context(), id, getUserID(r))
	if err != nil {
		RespondWithEngineError(w, err)
		return
	}
	if entries == nil {
		entries = []models.AuditEntry{}
	}
	RespondWithJSON(w, http.StatusOK, entries)
}
