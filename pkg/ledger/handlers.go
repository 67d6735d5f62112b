package ledger

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/cardfolio/backoffice/pkg/httputil"
	"github.com/cardfolio/backoffice/pkg/observability"
)

// Handlers provides the HTTP surface of the ledger
type Handlers struct {
	store    Store
	recorder *Recorder
	metrics  *observability.Metrics
}

// NewHandlers creates ledger HTTP handlers. metrics may be nil.
func NewHandlers(store Store, recorder *Recorder, metrics *observability.Metrics) *Handlers {
	return &Handlers{store: store, recorder: recorder, metrics: metrics}
}

// RegisterRoutes registers the ledger routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/ledger/entries", h.createEntry).Methods("POST")
	router.HandleFunc("/ledger/entries", h.listEntries).Methods("GET")
}

// createEntryRequest is the body of POST /ledger/entries
type createEntryRequest struct {
	UserID      string     `json:"user_id,omitempty"`
	UserEmail   string     `json:"user_email,omitempty"`
	ActionType  ActionType `json:"action_type"`
	EntityType  EntityType `json:"entity_type"`
	EntityID    string     `json:"entity_id"`
	OldValues   Snapshot   `json:"old_values,omitempty"`
	NewValues   Snapshot   `json:"new_values,omitempty"`
	Description string     `json:"description,omitempty"`
}

// createEntry handles POST /ledger/entries. The append itself is
// best-effort: a storage failure is observed by the caller as a no-op,
// not an error, because the business mutation being described has already
// committed. Malformed requests still fail with 400.
func (h *Handlers) createEntry(w http.ResponseWriter, r *http.Request) {
	var req createEntryRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	entry := Entry{
		Actor:       Actor{UserID: req.UserID, UserEmail: req.UserEmail},
		ActionType:  req.ActionType,
		EntityType:  req.EntityType,
		EntityID:    req.EntityID,
		OldValues:   req.OldValues,
		NewValues:   req.NewValues,
		Description: req.Description,
		IPAddress:   httputil.ClientIP(r),
		UserAgent:   r.UserAgent(),
	}
	if err := validateEntry(entry); err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}

	record := h.recorder.Record(r.Context(), entry)
	if record == nil {
		// Dropped silently per the best-effort policy
		if h.metrics != nil {
			h.metrics.LedgerAppendFailures.Inc()
		}
		httputil.WriteSuccess(w, map[string]interface{}{"record": nil}) //nolint:errcheck
		return
	}

	if h.metrics != nil {
		h.metrics.LedgerAppendsTotal.WithLabelValues(string(record.ActionType), string(record.EntityType)).Inc()
	}
	httputil.WriteCreated(w, map[string]interface{}{"record": record}) //nolint:errcheck
}

// listEntries handles GET /ledger/entries. With both entityType and
// entityId it lists that entity's history; with neither it lists the
// global ledger with optional userId/actionType filters. Supplying only
// one of the pair is a caller mistake.
func (h *Handlers) listEntries(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	entityType := EntityType(query.Get("entityType"))
	entityID := query.Get("entityId")

	limit, err := httputil.ParseQueryInt(r, "limit", DefaultLimit)
	if err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}
	offset, err := httputil.ParseQueryInt(r, "offset", 0)
	if err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}

	if (entityType != "") != (entityID != "") {
		httputil.WriteValidationError(w, "entityType and entityId must be supplied together")
		return
	}

	if entityType != "" {
		if !entityType.Valid() {
			httputil.WriteValidationError(w, "unknown entityType "+string(entityType))
			return
		}
		records, err := h.store.ListForEntity(r.Context(), entityType, entityID, limit)
		if err != nil {
			WriteHTTPError(w, err)
			return
		}
		if h.metrics != nil {
			h.metrics.LedgerQueriesTotal.WithLabelValues("entity").Inc()
		}
		httputil.WriteSuccess(w, map[string]interface{}{ //nolint:errcheck
			"records": records,
			"count":   len(records),
		})
		return
	}

	page, err := h.store.List(r.Context(), Filter{
		UserID:     query.Get("userId"),
		ActionType: ActionType(query.Get("actionType")),
		EntityType: "",
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		WriteHTTPError(w, err)
		return
	}
	if h.metrics != nil {
		h.metrics.LedgerQueriesTotal.WithLabelValues("global").Inc()
	}
	httputil.WriteSuccess(w, map[string]interface{}{ //nolint:errcheck
		"records": page.Records,
		"count":   page.Total,
		"limit":   page.Limit,
		"offset":  page.Offset,
	})
}

// WriteHTTPError maps the ledger error taxonomy onto HTTP responses. The
// missing-table condition gets its own code and a remediation hint so an
// un-migrated environment is never mistaken for an empty ledger.
func WriteHTTPError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrLedgerUnavailable):
		httputil.WriteErrorCodeHint(w, http.StatusServiceUnavailable,
			"LEDGER_UNAVAILABLE", err.Error(),
			"apply the ledger schema migration (audit_log table) and retry")
	case IsValidation(err):
		httputil.WriteValidationError(w, err.Error())
	case IsNotFound(err):
		httputil.WriteNotFoundError(w, err.Error())
	case IsConflict(err):
		var conflict *ConflictError
		errors.As(err, &conflict)
		httputil.WriteErrorCode(w, http.StatusBadRequest, conflict.Code, conflict.Reason)
	default:
		httputil.WriteInternalError(w, err)
	}
}
