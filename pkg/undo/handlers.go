package undo

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/cardfolio/backoffice/pkg/httputil"
	"github.com/cardfolio/backoffice/pkg/ledger"
)

// Handlers provides the HTTP surface of the undo engine
type Handlers struct {
	engine *Engine
}

// NewHandlers creates undo HTTP handlers
func NewHandlers(engine *Engine) *Handlers {
	return &Handlers{engine: engine}
}

// RegisterRoutes registers the undo routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/ledger/undo", h.canUndo).Methods("GET")
	router.HandleFunc("/ledger/undo", h.undo).Methods("POST")
}

// canUndo handles GET /ledger/undo?logId=...
func (h *Handlers) canUndo(w http.ResponseWriter, r *http.Request) {
	logID := r.URL.Query().Get("logId")
	if logID == "" {
		httputil.WriteValidationError(w, "logId query parameter is required")
		return
	}
	if _, err := uuid.Parse(logID); err != nil {
		httputil.WriteValidationError(w, "logId is not a well-formed identifier")
		return
	}

	ok, err := h.engine.CanUndo(r.Context(), logID)
	if err != nil {
		ledger.WriteHTTPError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"canUndo": ok}) //nolint:errcheck
}

// undoRequest is the body of POST /ledger/undo
type undoRequest struct {
	LogID     string `json:"logId"`
	UserID    string `json:"user_id,omitempty"`
	UserEmail string `json:"user_email,omitempty"`
}

// undo handles POST /ledger/undo
func (h *Handlers) undo(w http.ResponseWriter, r *http.Request) {
	var req undoRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.LogID == "" {
		httputil.WriteValidationError(w, "logId is required")
		return
	}
	if _, err := uuid.Parse(req.LogID); err != nil {
		httputil.WriteValidationError(w, "logId is not a well-formed identifier")
		return
	}

	actor := ledger.Actor{UserID: req.UserID, UserEmail: req.UserEmail}
	result, err := h.engine.Undo(r.Context(), req.LogID, actor)
	if err != nil {
		ledger.WriteHTTPError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{ //nolint:errcheck
		"success":    result.Success,
		"message":    result.Message,
		"auditLogId": result.AuditLogID,
	})
}
