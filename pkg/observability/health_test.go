package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

// TestLiveness tests the liveness probe
func TestLiveness(t *testing.T) {
	checker := NewHealthChecker(nil, nil)

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	checker.Liveness(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Liveness status = %d, want 200", rec.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	if body["status"] != StatusHealthy {
		t.Errorf("status = %v, want %v", body["status"], StatusHealthy)
	}
}

// TestCheckDatabase tests database health evaluation
func TestCheckDatabase(t *testing.T) {
	t.Run("healthy database", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		if err != nil {
			t.Fatalf("sqlmock.New: %v", err)
		}
		defer db.Close()

		mock.ExpectPing()
		mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

		checker := NewHealthChecker(db, nil)
		status := checker.Check(context.Background())

		if status.Status != StatusHealthy {
			t.Errorf("Status = %v, want %v", status.Status, StatusHealthy)
		}
		if status.Dependencies["database"].Status != StatusHealthy {
			t.Errorf("database status = %v, want %v", status.Dependencies["database"].Status, StatusHealthy)
		}
	})

	t.Run("unreachable database", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		if err != nil {
			t.Fatalf("sqlmock.New: %v", err)
		}
		defer db.Close()

		mock.ExpectPing().WillReturnError(context.DeadlineExceeded)

		checker := NewHealthChecker(db, nil)
		status := checker.Check(context.Background())

		if status.Status != StatusUnhealthy {
			t.Errorf("Status = %v, want %v", status.Status, StatusUnhealthy)
		}
	})
}

// TestCheckRedis tests that cache loss only degrades
func TestCheckRedis(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectPing()
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer client.Close()
	srv.Close()

	checker := NewHealthChecker(db, client)
	status := checker.Check(context.Background())

	if status.Status != StatusDegraded {
		t.Errorf("Status = %v, want %v (cache loss is survivable)", status.Status, StatusDegraded)
	}
	if status.Dependencies["redis"].Status != StatusUnhealthy {
		t.Errorf("redis status = %v, want %v", status.Dependencies["redis"].Status, StatusUnhealthy)
	}
}

// TestReadiness tests the readiness probe response codes
func TestReadiness(t *testing.T) {
	t.Run("ready", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		if err != nil {
			t.Fatalf("sqlmock.New: %v", err)
		}
		defer db.Close()

		mock.ExpectPing()
		mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

		checker := NewHealthChecker(db, nil)
		req := httptest.NewRequest("GET", "/readyz", nil)
		rec := httptest.NewRecorder()
		checker.Readiness(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("Readiness status = %d, want 200", rec.Code)
		}
	})

	t.Run("not ready", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		if err != nil {
			t.Fatalf("sqlmock.New: %v", err)
		}
		defer db.Close()

		mock.ExpectPing().WillReturnError(context.DeadlineExceeded)

		checker := NewHealthChecker(db, nil)
		req := httptest.NewRequest("GET", "/readyz", nil)
		rec := httptest.NewRecorder()
		checker.Readiness(rec, req)

		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("Readiness status = %d, want 503", rec.Code)
		}
	})
}

// TestRegisterHealthRoutes tests route registration
func TestRegisterHealthRoutes(t *testing.T) {
	checker := NewHealthChecker(nil, nil)
	mux := http.NewServeMux()
	RegisterHealthRoutes(mux, checker)

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("GET /healthz = %d, want 200", rec.Code)
	}
}
