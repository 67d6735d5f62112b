package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// DBStore implements Store against PostgreSQL
type DBStore struct {
	db *sql.DB
}

// NewDBStore creates a postgres-backed ledger store
func NewDBStore(db *sql.DB) (*DBStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &DBStore{db: db}, nil
}

// EnsureSchema creates the ledger table and its indexes if they do not
// exist. Deployments that manage migrations externally can skip this; the
// store then reports ErrLedgerUnavailable until the migration runs.
func (s *DBStore) EnsureSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_log (
		id UUID PRIMARY KEY,
		user_id TEXT,
		user_email TEXT,
		action_type VARCHAR(50) NOT NULL,
		entity_type VARCHAR(50) NOT NULL,
		entity_id TEXT NOT NULL,
		old_values JSONB,
		new_values JSONB,
		description TEXT,
		ip_address VARCHAR(45),
		user_agent TEXT,
		undone BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_log_entity ON audit_log(entity_type, entity_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_log_user ON audit_log(user_id);
	CREATE INDEX IF NOT EXISTS idx_audit_log_action ON audit_log(action_type);
	CREATE INDEX IF NOT EXISTS idx_audit_log_created ON audit_log(created_at DESC);
	`

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to ensure audit_log table: %w", err)
	}
	return nil
}

// Append writes one ledger record
func (s *DBStore) Append(ctx context.Context, entry Entry) (*Record, error) {
	if err := validateEntry(entry); err != nil {
		return nil, err
	}

	record := &Record{
		ID:          uuid.New().String(),
		Actor:       entry.Actor,
		ActionType:  entry.ActionType,
		EntityType:  entry.EntityType,
		EntityID:    entry.EntityID,
		OldValues:   entry.OldValues,
		NewValues:   entry.NewValues,
		Description: entry.Description,
		IPAddress:   entry.IPAddress,
		UserAgent:   entry.UserAgent,
		CreatedAt:   time.Now().UTC(),
	}

	oldJSON, newJSON, err := marshalSnapshots(record.OldValues, record.NewValues)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO audit_log (
			id, user_id, user_email,
			action_type, entity_type, entity_id,
			old_values, new_values, description,
			ip_address, user_agent, undone, created_at
		) VALUES (
			$1, $2, $3,
			$4, $5, $6,
			$7, $8, $9,
			$10, $11, FALSE, $12
		)
	`

	_, err = s.db.ExecContext(ctx, query,
		record.ID, nullable(record.Actor.UserID), nullable(record.Actor.UserEmail),
		record.ActionType, record.EntityType, record.EntityID,
		oldJSON, newJSON, nullable(record.Description),
		nullable(record.IPAddress), nullable(record.UserAgent), record.CreatedAt,
	)
	if err != nil {
		return nil, mapStoreError("append", err)
	}

	return record, nil
}

// GetByID retrieves a single record
func (s *DBStore) GetByID(ctx context.Context, id string) (*Record, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, &ValidationError{Field: "logId", Reason: "not a valid UUID"}
	}

	row := s.db.QueryRowContext(ctx, selectColumns+" FROM audit_log WHERE id = $1", id)
	record, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &NotFoundError{Kind: "ledger record", ID: id}
		}
		return nil, mapStoreError("get", err)
	}
	return record, nil
}

// ListForEntity returns the records for one (entityType, entityID) pair,
// newest first
func (s *DBStore) ListForEntity(ctx context.Context, entityType EntityType, entityID string, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	rows, err := s.db.QueryContext(ctx,
		selectColumns+` FROM audit_log
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at DESC
		LIMIT $3`,
		entityType, entityID, limit,
	)
	if err != nil {
		return nil, mapStoreError("list_for_entity", err)
	}
	defer rows.Close()

	return collectRecords(rows, "list_for_entity")
}

// List returns one page of the global ledger and the total count matching
// the filter
func (s *DBStore) List(ctx context.Context, filter Filter) (*Page, error) {
	filter.Clamp()

	where := " WHERE 1=1"
	args := []interface{}{}
	argCount := 1

	if filter.UserID != "" {
		where += fmt.Sprintf(" AND user_id = $%d", argCount)
		args = append(args, filter.UserID)
		argCount++
	}
	if filter.ActionType != "" {
		where += fmt.Sprintf(" AND action_type = $%d", argCount)
		args = append(args, filter.ActionType)
		argCount++
	}
	if filter.EntityType != "" {
		where += fmt.Sprintf(" AND entity_type = $%d", argCount)
		args = append(args, filter.EntityType)
		argCount++
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_log"+where, args...).Scan(&total); err != nil {
		return nil, mapStoreError("list_count", err)
	}

	query := selectColumns + " FROM audit_log" + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argCount, argCount+1)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapStoreError("list", err)
	}
	defer rows.Close()

	records, err := collectRecords(rows, "list")
	if err != nil {
		return nil, err
	}

	return &Page{
		Records: records,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}

// MarkUndone flips the undone marker. The UPDATE is conditional on the
// marker being unset, so of any number of concurrent callers exactly one
// succeeds; the rest get ConflictError.
func (s *DBStore) MarkUndone(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE audit_log SET undone = TRUE WHERE id = $1 AND undone = FALSE", id)
	if err != nil {
		return mapStoreError("mark_undone", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return mapStoreError("mark_undone", err)
	}
	if affected == 0 {
		return &ConflictError{Code: "CANNOT_UNDO", Reason: "record already undone or does not exist"}
	}
	return nil
}

const selectColumns = `SELECT
	id, user_id, user_email,
	action_type, entity_type, entity_id,
	old_values, new_values, description,
	ip_address, user_agent, undone, created_at`

// scannable covers *sql.Row and *sql.Rows
type scannable interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scannable) (*Record, error) {
	var (
		record                         Record
		userID, userEmail, description sql.NullString
		ipAddress, userAgent           sql.NullString
		oldJSON, newJSON               []byte
	)

	err := row.Scan(
		&record.ID, &userID, &userEmail,
		&record.ActionType, &record.EntityType, &record.EntityID,
		&oldJSON, &newJSON, &description,
		&ipAddress, &userAgent, &record.Undone, &record.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	record.Actor.UserID = userID.String
	record.Actor.UserEmail = userEmail.String
	record.Description = description.String
	record.IPAddress = ipAddress.String
	record.UserAgent = userAgent.String

	if len(oldJSON) > 0 {
		if err := json.Unmarshal(oldJSON, &record.OldValues); err != nil {
			return nil, fmt.Errorf("failed to unmarshal old_values: %w", err)
		}
	}
	if len(newJSON) > 0 {
		if err := json.Unmarshal(newJSON, &record.NewValues); err != nil {
			return nil, fmt.Errorf("failed to unmarshal new_values: %w", err)
		}
	}

	return &record, nil
}

func collectRecords(rows *sql.Rows, op string) ([]*Record, error) {
	records := make([]*Record, 0)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, mapStoreError(op, err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, mapStoreError(op, err)
	}
	return records, nil
}

func validateEntry(entry Entry) error {
	if !entry.ActionType.Valid() {
		return &ValidationError{Field: "actionType", Reason: fmt.Sprintf("unknown action type %q", entry.ActionType)}
	}
	if !entry.EntityType.Valid() {
		return &ValidationError{Field: "entityType", Reason: fmt.Sprintf("unknown entity type %q", entry.EntityType)}
	}
	if entry.EntityID == "" {
		return &ValidationError{Field: "entityId", Reason: "must not be empty"}
	}
	// Creation events have no prior state to capture
	if entry.ActionType.IsCreation() && len(entry.OldValues) > 0 {
		return &ValidationError{Field: "oldValues", Reason: "creation events must not carry old values"}
	}
	return nil
}

func marshalSnapshots(oldValues, newValues Snapshot) ([]byte, []byte, error) {
	var oldJSON, newJSON []byte
	var err error

	if oldValues != nil {
		oldJSON, err = json.Marshal(oldValues)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal old_values: %w", err)
		}
	}
	if newValues != nil {
		newJSON, err = json.Marshal(newValues)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal new_values: %w", err)
		}
	}
	return oldJSON, newJSON, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// mapStoreError classifies a database error. Postgres 42P01
// (undefined_table) means the ledger's own table is missing, which is
// reported as the distinct "ledger unavailable" condition instead of a
// generic storage failure.
func mapStoreError(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "42P01" {
		return ErrLedgerUnavailable
	}
	return &StorageError{Op: op, Cause: err}
}
