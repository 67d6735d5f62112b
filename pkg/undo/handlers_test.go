package undo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardfolio/backoffice/pkg/ledger"
)

func newTestRouter(store ledger.Store, registry *Registry) *mux.Router {
	handlers := NewHandlers(NewEngine(store, registry, quietLogger(), nil))
	router := mux.NewRouter()
	handlers.RegisterRoutes(router)
	return router
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHandlers_CanUndo(t *testing.T) {
	aliveRegistry := registryWith(&fakeStrategy{
		existsFn: func(ctx context.Context, entityID string) (bool, error) { return true, nil },
	})

	t.Run("missing logId", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/ledger/undo", nil)
		rec := httptest.NewRecorder()
		newTestRouter(&fakeStore{}, aliveRegistry).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, decodeBody(t, rec)["error"], "logId query parameter is required")
	})

	t.Run("malformed logId", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/ledger/undo?logId=not-a-uuid", nil)
		rec := httptest.NewRecorder()
		newTestRouter(&fakeStore{}, aliveRegistry).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, decodeBody(t, rec)["error"], "well-formed identifier")
	})

	t.Run("undoable record", func(t *testing.T) {
		record := undoableRecord()
		store := &fakeStore{
			getByIDFn: func(ctx context.Context, id string) (*ledger.Record, error) { return record, nil },
		}

		req := httptest.NewRequest("GET", "/ledger/undo?logId="+record.ID, nil)
		rec := httptest.NewRecorder()
		newTestRouter(store, aliveRegistry).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, true, decodeBody(t, rec)["canUndo"])
	})

	t.Run("blocked record", func(t *testing.T) {
		record := undoableRecord()
		record.Undone = true
		store := &fakeStore{
			getByIDFn: func(ctx context.Context, id string) (*ledger.Record, error) { return record, nil },
		}

		req := httptest.NewRequest("GET", "/ledger/undo?logId="+record.ID, nil)
		rec := httptest.NewRecorder()
		newTestRouter(store, aliveRegistry).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, false, decodeBody(t, rec)["canUndo"])
	})
}

func TestHandlers_Undo(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		record := undoableRecord()
		compensatingID := uuid.New().String()
		store := &fakeStore{
			getByIDFn:    func(ctx context.Context, id string) (*ledger.Record, error) { return record, nil },
			markUndoneFn: func(ctx context.Context, id string) error { return nil },
			appendFn: func(ctx context.Context, entry ledger.Entry) (*ledger.Record, error) {
				assert.Equal(t, "ops@example.com", entry.Actor.UserEmail)
				return &ledger.Record{ID: compensatingID}, nil
			},
		}
		registry := registryWith(&fakeStrategy{
			existsFn:  func(ctx context.Context, entityID string) (bool, error) { return true, nil },
			restoreFn: func(ctx context.Context, entityID string, fields ledger.Snapshot) error { return nil },
		})

		payload := fmt.Sprintf(`{"logId": %q, "user_id": "user-2", "user_email": "ops@example.com"}`, record.ID)
		req := httptest.NewRequest("POST", "/ledger/undo", bytes.NewBufferString(payload))
		rec := httptest.NewRecorder()
		newTestRouter(store, registry).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, true, body["success"])
		assert.Equal(t, "Successfully undone update_price on inventory_lot", body["message"])
		assert.Equal(t, compensatingID, body["auditLogId"])
	})

	t.Run("missing logId", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/ledger/undo", bytes.NewBufferString(`{}`))
		rec := httptest.NewRecorder()
		newTestRouter(&fakeStore{}, NewRegistry()).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, decodeBody(t, rec)["error"], "logId is required")
	})

	t.Run("already undone", func(t *testing.T) {
		record := undoableRecord()
		record.Undone = true
		store := &fakeStore{
			getByIDFn: func(ctx context.Context, id string) (*ledger.Record, error) { return record, nil },
		}
		registry := registryWith(&fakeStrategy{
			existsFn: func(ctx context.Context, entityID string) (bool, error) { return true, nil },
		})

		payload := fmt.Sprintf(`{"logId": %q}`, record.ID)
		req := httptest.NewRequest("POST", "/ledger/undo", bytes.NewBufferString(payload))
		rec := httptest.NewRecorder()
		newTestRouter(store, registry).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "CANNOT_UNDO", body["code"])
		assert.Contains(t, body["error"], "already undone")
	})

	t.Run("record not found", func(t *testing.T) {
		store := &fakeStore{
			getByIDFn: func(ctx context.Context, id string) (*ledger.Record, error) {
				return nil, &ledger.NotFoundError{Kind: "ledger record", ID: id}
			},
		}

		payload := fmt.Sprintf(`{"logId": %q}`, uuid.New().String())
		req := httptest.NewRequest("POST", "/ledger/undo", bytes.NewBufferString(payload))
		rec := httptest.NewRecorder()
		newTestRouter(store, NewRegistry()).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
